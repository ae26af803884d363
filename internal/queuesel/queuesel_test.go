package queuesel

import (
	"reflect"
	"testing"
)

func TestNeedsKnownQueues(t *testing.T) {
	cases := []struct {
		patterns []string
		want     bool
	}{
		{[]string{"billing"}, false},
		{[]string{"billing", "mailers"}, false},
		{[]string{"*"}, true},
		{[]string{"billing*"}, true},
		{[]string{"billing", "*"}, true},
		{nil, false},
	}
	for _, c := range cases {
		if got := needsKnownQueues(c.patterns); got != c.want {
			t.Errorf("needsKnownQueues(%v) = %v, want %v", c.patterns, got, c.want)
		}
	}
}

func TestMergeNames(t *testing.T) {
	got := mergeNames([]string{"billing", "mailers"}, []string{"mailers", "reports"})
	want := []string{"billing", "mailers", "reports"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("mergeNames = %v, want %v", got, want)
	}
}

func TestExpand(t *testing.T) {
	known := []string{"billing", "mailers", "reports"}

	cases := []struct {
		name     string
		patterns []string
		paused   map[string]bool
		want     []string
	}{
		{
			name:     "bare name passes through even if unknown",
			patterns: []string{"urgent"},
			want:     []string{"urgent"},
		},
		{
			name:     "star expands to every known queue sorted",
			patterns: []string{"*"},
			want:     []string{"billing", "mailers", "reports"},
		},
		{
			name:     "prefix expands to matching known queues",
			patterns: []string{"bil*"},
			want:     []string{"billing"},
		},
		{
			name:     "earlier pattern wins ordering, duplicates dropped",
			patterns: []string{"mailers", "*"},
			want:     []string{"mailers", "billing", "reports"},
		},
		{
			name:     "paused queues are filtered out",
			patterns: []string{"*"},
			paused:   map[string]bool{"mailers": true},
			want:     []string{"billing", "reports"},
		},
	}

	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			got := expand(c.patterns, known, c.paused)
			if !reflect.DeepEqual(got, c.want) {
				t.Errorf("expand(%v) = %v, want %v", c.patterns, got, c.want)
			}
		})
	}
}
