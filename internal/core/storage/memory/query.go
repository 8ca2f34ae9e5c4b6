package memory

import (
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/google/cel-go/cel"
	"github.com/syntrixbase/stagehand/pkg/model"
)

// compiler translates queries into CEL programs over a "doc" variable and
// keeps the compiled programs keyed by canonical query form.
type compiler struct {
	env *cel.Env

	mu       sync.RWMutex
	programs map[string]cel.Program
}

func newCompiler() (*compiler, error) {
	env, err := cel.NewEnv(
		cel.Variable("doc", cel.MapType(cel.StringType, cel.DynType)),
	)
	if err != nil {
		return nil, fmt.Errorf("CEL environment: %w", err)
	}
	return &compiler{env: env, programs: make(map[string]cel.Program)}, nil
}

// Expression renders q as a CEL boolean expression. The empty query renders
// as "true".
func Expression(q model.Query) string {
	var parts []string
	if id, ok := q.ID(); ok {
		parts = append(parts, fmt.Sprintf("doc.id == %s", strconv.Quote(id)))
	}
	if a := q.Action(); a != "" {
		parts = append(parts, fmt.Sprintf("doc.action == %s", strconv.Quote(string(a))))
	}
	for _, p := range q.Touched() {
		parts = append(parts, membership(p, "doc.touched"))
	}
	for _, p := range q.Fields() {
		parts = append(parts, membership(p, "doc.contents"))
	}
	if len(parts) == 0 {
		return "true"
	}
	return strings.Join(parts, " && ")
}

func membership(p model.Predicate, container string) string {
	expr := fmt.Sprintf("%s in %s", strconv.Quote(p.Name), container)
	if p.Present {
		return expr
	}
	return "!(" + expr + ")"
}

func (c *compiler) program(q model.Query) (cel.Program, error) {
	if q.IsEmpty() {
		return nil, nil
	}
	key := q.Key()

	c.mu.RLock()
	prg, ok := c.programs[key]
	c.mu.RUnlock()
	if ok {
		return prg, nil
	}

	ast, issues := c.env.Compile(Expression(q))
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("%w: CEL compile error: %v", model.ErrConversion, issues.Err())
	}
	prg, err := c.env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("%w: CEL program creation error: %v", model.ErrConversion, err)
	}

	c.mu.Lock()
	c.programs[key] = prg
	c.mu.Unlock()
	return prg, nil
}

// evaluate runs prg against doc. A nil program matches everything.
func evaluate(prg cel.Program, doc *model.Document) (bool, error) {
	if prg == nil {
		return true, nil
	}
	out, _, err := prg.Eval(map[string]any{
		"doc": map[string]any{
			"id":       doc.ID,
			"action":   string(doc.Action),
			"touched":  doc.TouchedBy,
			"contents": doc.Contents,
		},
	})
	if err != nil {
		return false, err
	}
	result, ok := out.Value().(bool)
	if !ok {
		return false, fmt.Errorf("CEL result is not boolean: %T", out.Value())
	}
	return result, nil
}
