package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
)

// Stage names one step of the enrichment sequence.
type Stage string

// Request carries everything a processor needs for one enrichment attempt.
type Request struct {
	ItemID     int64
	PayloadRef string
	Payload    string
	Upstream   map[Stage]json.RawMessage
	// StrictHint asks the processor to tighten its output-format instructions
	// after a schema validation failure.
	StrictHint bool
	// UseFallback routes the attempt to the secondary provider.
	UseFallback bool
}

// Processor turns a request into a structured stage result. Implementations
// make exactly one outbound call per invocation; retry policy lives in the
// backoff controller.
type Processor interface {
	Process(ctx context.Context, req Request) (json.RawMessage, error)
}

// ProcessorFunc adapts a function to the Processor interface.
type ProcessorFunc func(ctx context.Context, req Request) (json.RawMessage, error)

func (f ProcessorFunc) Process(ctx context.Context, req Request) (json.RawMessage, error) {
	return f(ctx, req)
}

// Definition declares a stage, its upstream dependencies, and its processor.
type Definition struct {
	Name      Stage
	Upstream  []Stage
	Processor Processor
}

// Pipeline is the validated stage dependency graph. Stages() is always a
// topological order, so iterating it visits upstreams before dependents.
type Pipeline struct {
	defs  map[Stage]Definition
	order []Stage
}

// New validates the definitions and computes a stable dependency order.
func New(defs ...Definition) (*Pipeline, error) {
	if len(defs) == 0 {
		return nil, errors.New("pipeline: at least one stage required")
	}

	byName := make(map[Stage]Definition, len(defs))
	for _, def := range defs {
		name := Stage(strings.TrimSpace(string(def.Name)))
		if name == "" {
			return nil, errors.New("pipeline: stage name must not be empty")
		}
		if _, exists := byName[name]; exists {
			return nil, fmt.Errorf("pipeline: duplicate stage %q", name)
		}
		def.Name = name
		byName[name] = def
	}
	for _, def := range byName {
		for _, up := range def.Upstream {
			if up == def.Name {
				return nil, fmt.Errorf("pipeline: stage %q depends on itself", def.Name)
			}
			if _, ok := byName[up]; !ok {
				return nil, fmt.Errorf("pipeline: stage %q depends on unknown stage %q", def.Name, up)
			}
		}
	}

	order, err := topoSort(byName)
	if err != nil {
		return nil, err
	}
	return &Pipeline{defs: byName, order: order}, nil
}

// Stages returns all stage names in dependency order.
func (p *Pipeline) Stages() []Stage {
	cp := make([]Stage, len(p.order))
	copy(cp, p.order)
	return cp
}

// Contains reports whether the pipeline knows the named stage.
func (p *Pipeline) Contains(stage Stage) bool {
	_, ok := p.defs[stage]
	return ok
}

// Upstream returns the declared dependencies of a stage.
func (p *Pipeline) Upstream(stage Stage) []Stage {
	def, ok := p.defs[stage]
	if !ok {
		return nil
	}
	cp := make([]Stage, len(def.Upstream))
	copy(cp, def.Upstream)
	return cp
}

// Downstream returns every stage that transitively depends on the given one.
func (p *Pipeline) Downstream(stage Stage) []Stage {
	var out []Stage
	affected := map[Stage]bool{stage: true}
	for _, candidate := range p.order {
		if affected[candidate] {
			continue
		}
		for _, up := range p.defs[candidate].Upstream {
			if affected[up] {
				affected[candidate] = true
				out = append(out, candidate)
				break
			}
		}
	}
	return out
}

// Processor returns the processor registered for a stage.
func (p *Pipeline) Processor(stage Stage) (Processor, bool) {
	def, ok := p.defs[stage]
	if !ok || def.Processor == nil {
		return nil, false
	}
	return def.Processor, true
}

// NextStage picks the stage a fresh worker pool should target: the earliest
// stage in dependency order that still has pending work. Earlier stages are
// always favored since later ones cannot progress until they complete.
func (p *Pipeline) NextStage(pending map[Stage]int) (Stage, bool) {
	for _, stage := range p.order {
		if pending[stage] > 0 {
			return stage, true
		}
	}
	return "", false
}

// topoSort is Kahn's algorithm with lexicographic tie-breaking so the order
// is stable across runs.
func topoSort(defs map[Stage]Definition) ([]Stage, error) {
	indegree := make(map[Stage]int, len(defs))
	dependents := make(map[Stage][]Stage, len(defs))
	for name, def := range defs {
		if _, ok := indegree[name]; !ok {
			indegree[name] = 0
		}
		for _, up := range def.Upstream {
			indegree[name]++
			dependents[up] = append(dependents[up], name)
		}
	}

	var ready []Stage
	for name, degree := range indegree {
		if degree == 0 {
			ready = append(ready, name)
		}
	}

	order := make([]Stage, 0, len(defs))
	for len(ready) > 0 {
		sort.Slice(ready, func(i, j int) bool { return ready[i] < ready[j] })
		next := ready[0]
		ready = ready[1:]
		order = append(order, next)
		for _, dep := range dependents[next] {
			indegree[dep]--
			if indegree[dep] == 0 {
				ready = append(ready, dep)
			}
		}
	}
	if len(order) != len(defs) {
		return nil, errors.New("pipeline: dependency cycle detected")
	}
	return order, nil
}
