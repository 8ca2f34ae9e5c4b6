package orchestrator

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/syntrixbase/stagehand/pkg/model"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadFile_Linear(t *testing.T) {
	path := writeFile(t, "pipeline.yml", `
linear: true
after: input
stages:
  - name: tika
    class: com.example.Tika
    library: tika.jar
    query:
      exists: {file: true}
  - name: language
    class: com.example.Language
    properties:
      fields: [title, body]
  - name: output
    class: com.example.Solr
`)
	p, err := LoadFile(path)
	require.NoError(t, err)
	assert.Equal(t, model.MainPipeline, p.Name)
	assert.Equal(t, []string{"tika", "language", "output"}, p.StageNames())

	tika, ok := p.Stage("tika")
	require.True(t, ok)
	assert.True(t, tika.Query.HasStagePredicate("input"))
	assert.Equal(t, model.Identity{Library: "tika.jar", Class: "com.example.Tika"}, tika.Identity)

	doc := model.NewDocument(model.ActionAdd)
	doc.Contents["file"] = "x"
	assert.False(t, tika.Query.Matches(doc))
	doc.Touch("input")
	assert.True(t, tika.Query.Matches(doc))

	language, _ := p.Stage("language")
	assert.True(t, language.Query.HasStagePredicate("tika"))
	assert.Equal(t, []any{"title", "body"}, language.Properties["fields"])

	// One group per stage by default.
	assert.Len(t, p.Groups(), 3)
}

func TestLoadFile_SharedGroup(t *testing.T) {
	path := writeFile(t, "pipeline.json", `{
		"name": "debug",
		"one_group_per_stage": false,
		"group": "batch",
		"stages": [{"name": "a"}, {"name": "b"}, {"name": "c", "group": "solo"}]
	}`)
	p, err := LoadFile(path)
	require.NoError(t, err)
	assert.Equal(t, model.DebugPipeline, p.Name)
	assert.Equal(t, []model.StageGroup{
		{Name: "batch", Stages: []string{"a", "b"}},
		{Name: "solo", Stages: []string{"c"}},
	}, p.Groups())

	// Not linear: no implied predicates.
	a, _ := p.Stage("a")
	assert.True(t, a.Query.IsEmpty())
}

func TestLoadFile_Errors(t *testing.T) {
	tests := []struct {
		name    string
		file    string
		content string
	}{
		{"bad yaml", "p.yml", "stages: [\n"},
		{"bad json", "p.json", "{"},
		{"duplicate stage", "p.yml", "stages: [{name: a}, {name: a}]"},
		{"invalid stage name", "p.yml", "stages: [{name: 'a b'}]"},
		{"unknown query field", "p.yml", "stages: [{name: a, query: {where: {}}}]"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadFile(writeFile(t, tt.file, tt.content))
			assert.Error(t, err)
		})
	}

	_, err := LoadFile(filepath.Join(t.TempDir(), "missing.yml"))
	assert.ErrorIs(t, err, os.ErrNotExist)
}
