package model

import (
	"fmt"
	"time"
)

// Well-known pipeline names persisted by every store.
const (
	MainPipeline  = "pipeline"
	DebugPipeline = "debug"
)

// Identity names the code a worker runs for a stage. It is resolved by
// whatever launches workers; the service only carries it.
type Identity struct {
	Library string `json:"library,omitempty"`
	Class   string `json:"class"`
}

// Stage is a named unit of pipeline work.
type Stage struct {
	Name       string         `json:"name"`
	Group      string         `json:"group,omitempty"`
	Query      Query          `json:"query"`
	Identity   Identity       `json:"identity"`
	Properties map[string]any `json:"properties,omitempty"`
}

// GroupName returns the stage group, defaulting to the stage name.
func (s Stage) GroupName() string {
	if s.Group == "" {
		return s.Name
	}
	return s.Group
}

// StageGroup is a set of stages whose workers are scheduled together.
type StageGroup struct {
	Name   string   `json:"name"`
	Stages []string `json:"stages"`
}

// Pipeline is an ordered collection of stage definitions.
type Pipeline struct {
	Name      string    `json:"name"`
	Stages    []Stage   `json:"stages"`
	UpdatedAt time.Time `json:"updatedAt,omitzero"`
}

// Stage looks up a stage definition by name.
func (p *Pipeline) Stage(name string) (Stage, bool) {
	if p == nil {
		return Stage{}, false
	}
	for _, s := range p.Stages {
		if s.Name == name {
			return s, true
		}
	}
	return Stage{}, false
}

func (p *Pipeline) StageNames() []string {
	if p == nil {
		return nil
	}
	names := make([]string, 0, len(p.Stages))
	for _, s := range p.Stages {
		names = append(names, s.Name)
	}
	return names
}

// Groups returns stage groups in order of first appearance.
func (p *Pipeline) Groups() []StageGroup {
	if p == nil {
		return nil
	}
	var groups []StageGroup
	index := map[string]int{}
	for _, s := range p.Stages {
		g := s.GroupName()
		i, ok := index[g]
		if !ok {
			i = len(groups)
			index[g] = i
			groups = append(groups, StageGroup{Name: g})
		}
		groups[i].Stages = append(groups[i].Stages, s.Name)
	}
	return groups
}

// Validate rejects duplicate or invalid stage names and invalid queries.
func (p *Pipeline) Validate() error {
	if p == nil {
		return fmt.Errorf("%w: pipeline is nil", ErrMalformedInput)
	}
	if p.Name == "" {
		return fmt.Errorf("%w: pipeline name is required", ErrMalformedInput)
	}
	seen := make(map[string]struct{}, len(p.Stages))
	for i, s := range p.Stages {
		if !CheckStageName(s.Name) {
			return fmt.Errorf("stages[%d]: %w: %q", i, ErrInvalidStage, s.Name)
		}
		if s.Group != "" && !CheckStageName(s.Group) {
			return fmt.Errorf("stages[%d]: %w: invalid group %q", i, ErrMalformedInput, s.Group)
		}
		if _, dup := seen[s.Name]; dup {
			return fmt.Errorf("stages[%d]: %w: duplicate stage %q", i, ErrMalformedInput, s.Name)
		}
		seen[s.Name] = struct{}{}
		if err := s.Query.Validate(); err != nil {
			return fmt.Errorf("stages[%d]: %w", i, err)
		}
	}
	return nil
}
