package pipeline_test

import (
	"reflect"
	"testing"

	"loom/internal/pipeline"
)

func TestNewValidatesGraph(t *testing.T) {
	cases := []struct {
		name string
		defs []pipeline.Definition
	}{
		{"empty", nil},
		{"blank name", []pipeline.Definition{{Name: " "}}},
		{"duplicate", []pipeline.Definition{{Name: "a"}, {Name: "a"}}},
		{"unknown upstream", []pipeline.Definition{{Name: "a", Upstream: []pipeline.Stage{"ghost"}}}},
		{"self dependency", []pipeline.Definition{{Name: "a", Upstream: []pipeline.Stage{"a"}}}},
		{"cycle", []pipeline.Definition{
			{Name: "a", Upstream: []pipeline.Stage{"b"}},
			{Name: "b", Upstream: []pipeline.Stage{"a"}},
		}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := pipeline.New(tc.defs...); err == nil {
				t.Fatal("expected validation error")
			}
		})
	}
}

func TestStagesAreDependencyOrdered(t *testing.T) {
	p, err := pipeline.New(
		pipeline.Definition{Name: "actions", Upstream: []pipeline.Stage{"summarize"}},
		pipeline.Definition{Name: "classify", Upstream: []pipeline.Stage{"summarize"}},
		pipeline.Definition{Name: "summarize"},
	)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	got := p.Stages()
	want := []pipeline.Stage{"summarize", "actions", "classify"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("Stages() = %v, want %v", got, want)
	}
}

func TestNextStageFavorsEarlierStages(t *testing.T) {
	p, err := pipeline.New(
		pipeline.Definition{Name: "summarize"},
		pipeline.Definition{Name: "classify", Upstream: []pipeline.Stage{"summarize"}},
	)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	stage, ok := p.NextStage(map[pipeline.Stage]int{"summarize": 2, "classify": 5})
	if !ok || stage != "summarize" {
		t.Fatalf("NextStage = %q, %v; want summarize", stage, ok)
	}

	stage, ok = p.NextStage(map[pipeline.Stage]int{"classify": 1})
	if !ok || stage != "classify" {
		t.Fatalf("NextStage = %q, %v; want classify", stage, ok)
	}

	if _, ok := p.NextStage(nil); ok {
		t.Fatal("expected no stage when nothing pending")
	}
}

func TestDownstreamIsTransitive(t *testing.T) {
	p, err := pipeline.New(
		pipeline.Definition{Name: "summarize"},
		pipeline.Definition{Name: "classify", Upstream: []pipeline.Stage{"summarize"}},
		pipeline.Definition{Name: "digest", Upstream: []pipeline.Stage{"classify"}},
	)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	got := p.Downstream("summarize")
	want := []pipeline.Stage{"classify", "digest"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("Downstream = %v, want %v", got, want)
	}
	if down := p.Downstream("digest"); len(down) != 0 {
		t.Fatalf("expected no downstream for terminal stage, got %v", down)
	}
}

func TestUpstreamCopies(t *testing.T) {
	p, err := pipeline.New(
		pipeline.Definition{Name: "summarize"},
		pipeline.Definition{Name: "classify", Upstream: []pipeline.Stage{"summarize"}},
	)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	up := p.Upstream("classify")
	if len(up) != 1 || up[0] != "summarize" {
		t.Fatalf("Upstream = %v", up)
	}
	up[0] = "mutated"
	if p.Upstream("classify")[0] != "summarize" {
		t.Fatal("Upstream must return a copy")
	}
}
