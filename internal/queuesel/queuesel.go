// Package queuesel resolves a worker's configured queue patterns to a
// concrete, ordered, pause-filtered list of queue names (spec §4.8).
package queuesel

import (
	"context"
	"sort"
	"strings"

	"github.com/civic-os/pgqueue/internal/store"
)

// Resolve expands patterns in order into concrete queue names, preserving
// pattern order (earlier patterns are scanned first within one poll) and
// filtering out paused queues. "*" expands to every queue with at least
// one ReadyExecution plus every queue named in staticQueues (the
// configured recurring tasks and literal worker queue names, per spec
// §4.8 "all queues known to the system"), sorted for determinism;
// "prefix*" expands to every known queue sharing that prefix; a bare name
// passes through unchanged whether or not it currently has any
// ReadyExecution rows (a worker should still be able to claim from a
// queue the moment work appears in it).
func Resolve(ctx context.Context, q store.Querier, patterns []string, staticQueues []string) ([]string, error) {
	paused, err := store.PausedQueues(ctx, q)
	if err != nil {
		return nil, err
	}

	var known []string
	if needsKnownQueues(patterns) {
		known, err = store.DistinctReadyQueues(ctx, q)
		if err != nil {
			return nil, err
		}
		known = mergeNames(known, staticQueues)
		sort.Strings(known)
	}

	return expand(patterns, known, paused), nil
}

// mergeNames unions ready with static, deduplicated.
func mergeNames(ready, static []string) []string {
	seen := make(map[string]bool, len(ready)+len(static))
	out := make([]string, 0, len(ready)+len(static))
	for _, n := range ready {
		if !seen[n] {
			seen[n] = true
			out = append(out, n)
		}
	}
	for _, n := range static {
		if !seen[n] {
			seen[n] = true
			out = append(out, n)
		}
	}
	return out
}

// expand is Resolve's pure pattern-matching core, split out so it can be
// tested without a database.
func expand(patterns, known []string, paused map[string]bool) []string {
	seen := make(map[string]bool)
	var out []string
	add := func(name string) {
		if paused[name] || seen[name] {
			return
		}
		seen[name] = true
		out = append(out, name)
	}

	for _, p := range patterns {
		switch {
		case p == "*":
			for _, name := range known {
				add(name)
			}
		case strings.HasSuffix(p, "*"):
			prefix := strings.TrimSuffix(p, "*")
			for _, name := range known {
				if strings.HasPrefix(name, prefix) {
					add(name)
				}
			}
		default:
			add(p)
		}
	}
	return out
}

func needsKnownQueues(patterns []string) bool {
	for _, p := range patterns {
		if p == "*" || strings.HasSuffix(p, "*") {
			return true
		}
	}
	return false
}
