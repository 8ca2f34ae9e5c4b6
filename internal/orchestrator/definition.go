package orchestrator

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/syntrixbase/stagehand/pkg/model"
)

// Definition is the file form of a pipeline.
//
// With Linear set, every stage additionally requires the previous stage to
// have touched the document; the first stage requires After when given.
type Definition struct {
	Name   string `yaml:"name" json:"name"`
	Linear bool   `yaml:"linear" json:"linear"`
	After  string `yaml:"after" json:"after"`
	// OneGroupPerStage defaults to true. When false, stages without an
	// explicit group share Group.
	OneGroupPerStage *bool             `yaml:"one_group_per_stage" json:"one_group_per_stage"`
	Group            string            `yaml:"group" json:"group"`
	Stages           []StageDefinition `yaml:"stages" json:"stages"`
}

// StageDefinition is the file form of one stage. Query uses the exchange
// form of model.Query.
type StageDefinition struct {
	Name       string         `yaml:"name" json:"name"`
	Group      string         `yaml:"group" json:"group"`
	Library    string         `yaml:"library" json:"library"`
	Class      string         `yaml:"class" json:"class"`
	Query      map[string]any `yaml:"query" json:"query"`
	Properties map[string]any `yaml:"properties" json:"properties"`
}

// Build turns the definition into a validated pipeline.
func (d *Definition) Build() (*model.Pipeline, error) {
	p := &model.Pipeline{Name: d.Name}
	if p.Name == "" {
		p.Name = model.MainPipeline
	}

	sharedGroup := ""
	if d.OneGroupPerStage != nil && !*d.OneGroupPerStage {
		sharedGroup = d.Group
		if sharedGroup == "" {
			sharedGroup = p.Name
		}
	}

	prev := d.After
	for i, sd := range d.Stages {
		q, err := stageQuery(sd.Query)
		if err != nil {
			return nil, fmt.Errorf("stages[%d]: %w", i, err)
		}
		if d.Linear && prev != "" {
			q = q.RequireTouchedByStage(prev)
		}
		prev = sd.Name

		group := sd.Group
		if group == "" {
			group = sharedGroup
		}
		p.Stages = append(p.Stages, model.Stage{
			Name:       sd.Name,
			Group:      group,
			Query:      q,
			Identity:   model.Identity{Library: sd.Library, Class: sd.Class},
			Properties: sd.Properties,
		})
	}

	if err := p.Validate(); err != nil {
		return nil, err
	}
	return p, nil
}

func stageQuery(raw map[string]any) (model.Query, error) {
	if len(raw) == 0 {
		return model.EmptyQuery(), nil
	}
	data, err := json.Marshal(raw)
	if err != nil {
		return model.Query{}, fmt.Errorf("%w: %v", model.ErrMalformedQuery, err)
	}
	return model.ParseQuery(data)
}

// LoadFile reads a pipeline definition from a YAML or JSON file.
func LoadFile(filename string) (*model.Pipeline, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read pipeline file: %w", err)
	}

	var def Definition
	switch filepath.Ext(filename) {
	case ".json":
		if err := json.Unmarshal(data, &def); err != nil {
			return nil, fmt.Errorf("failed to parse JSON pipeline: %w", err)
		}
	default:
		if err := yaml.Unmarshal(data, &def); err != nil {
			return nil, fmt.Errorf("failed to parse YAML pipeline: %w", err)
		}
	}

	p, err := def.Build()
	if err != nil {
		return nil, fmt.Errorf("invalid pipeline %s: %w", filename, err)
	}
	return p, nil
}
