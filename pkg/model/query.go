package model

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"maps"
	"slices"
)

// Predicate is a membership test on a stage name or a content key.
// Present=true requires membership, false requires absence.
type Predicate struct {
	Name    string
	Present bool
}

// Query is an immutable conjunction of document predicates.
// Builder methods return a modified copy; a later requirement on the
// same stage or field replaces the earlier one.
type Query struct {
	id      *string
	action  Action
	touched map[string]bool
	exists  map[string]bool
}

// EmptyQuery matches every live document.
func EmptyQuery() Query {
	return Query{}
}

func (q Query) clone() Query {
	out := Query{action: q.action}
	if q.id != nil {
		id := *q.id
		out.id = &id
	}
	if q.touched != nil {
		out.touched = maps.Clone(q.touched)
	}
	if q.exists != nil {
		out.exists = maps.Clone(q.exists)
	}
	return out
}

func (q Query) RequireID(id string) Query {
	out := q.clone()
	out.id = &id
	return out
}

func (q Query) RequireAction(a Action) Query {
	out := q.clone()
	out.action = a
	return out
}

func (q Query) RequireTouchedByStage(stage string) Query {
	return q.withTouched(stage, true)
}

func (q Query) RequireNotTouchedByStage(stage string) Query {
	return q.withTouched(stage, false)
}

func (q Query) RequireContentFieldExists(key string) Query {
	return q.withExists(key, true)
}

func (q Query) RequireContentFieldNotExists(key string) Query {
	return q.withExists(key, false)
}

func (q Query) withTouched(stage string, present bool) Query {
	out := q.clone()
	if out.touched == nil {
		out.touched = map[string]bool{}
	}
	out.touched[stage] = present
	return out
}

func (q Query) withExists(key string, present bool) Query {
	out := q.clone()
	if out.exists == nil {
		out.exists = map[string]bool{}
	}
	out.exists[key] = present
	return out
}

// ID returns the required id, if any.
func (q Query) ID() (string, bool) {
	if q.id == nil {
		return "", false
	}
	return *q.id, true
}

// Action returns the required action or "" when unconstrained.
func (q Query) Action() Action {
	return q.action
}

// Touched returns the stage predicates ordered by stage name.
func (q Query) Touched() []Predicate {
	return sortedPredicates(q.touched)
}

// Fields returns the content-field predicates ordered by key.
func (q Query) Fields() []Predicate {
	return sortedPredicates(q.exists)
}

// HasStagePredicate reports whether the query constrains stage in either direction.
func (q Query) HasStagePredicate(stage string) bool {
	_, ok := q.touched[stage]
	return ok
}

func (q Query) IsEmpty() bool {
	return q.id == nil && q.action == "" && len(q.touched) == 0 && len(q.exists) == 0
}

func sortedPredicates(m map[string]bool) []Predicate {
	keys := slices.Sorted(maps.Keys(m))
	out := make([]Predicate, 0, len(keys))
	for _, k := range keys {
		out = append(out, Predicate{Name: k, Present: m[k]})
	}
	return out
}

// Matches evaluates the query against doc. Terminal documents never match.
func (q Query) Matches(doc *Document) bool {
	return q.match(doc, true)
}

// MayMatch is Matches with every stage predicate treated as satisfied.
// It over-approximates the set of queries a document could satisfy when
// its touched set is not fully known.
func (q Query) MayMatch(doc *Document) bool {
	return q.match(doc, false)
}

func (q Query) match(doc *Document, checkTouched bool) bool {
	if doc == nil || !doc.IsLive() {
		return false
	}
	if q.id != nil && doc.ID != *q.id {
		return false
	}
	if q.action != "" && doc.Action != q.action {
		return false
	}
	if checkTouched {
		for stage, present := range q.touched {
			if doc.IsTouchedBy(stage) != present {
				return false
			}
		}
	}
	for key, present := range q.exists {
		if doc.HasContent(key) != present {
			return false
		}
	}
	return true
}

// MatchesStatic evaluates everything except stage predicates and liveness.
// Stores use it to pre-filter candidates before an atomic claim.
func (q Query) MatchesStatic(doc *Document) bool {
	if q.id != nil && doc.ID != *q.id {
		return false
	}
	if q.action != "" && doc.Action != q.action {
		return false
	}
	for key, present := range q.exists {
		if doc.HasContent(key) != present {
			return false
		}
	}
	return true
}

// Validate checks the stage names, field keys and action.
func (q Query) Validate() error {
	if q.action != "" && !q.action.Valid() {
		return fmt.Errorf("%w: unknown action %q", ErrMalformedQuery, q.action)
	}
	if q.id != nil && *q.id == "" {
		return fmt.Errorf("%w: empty id", ErrMalformedQuery)
	}
	for stage := range q.touched {
		if !CheckStageName(stage) {
			return fmt.Errorf("%w: invalid stage name %q", ErrMalformedQuery, stage)
		}
	}
	for key := range q.exists {
		if !CheckFieldKey(key) {
			return fmt.Errorf("%w: invalid content key %q", ErrMalformedQuery, key)
		}
	}
	return nil
}

type queryWire struct {
	ID      *string         `json:"id,omitempty"`
	Action  Action          `json:"action,omitempty"`
	Touched map[string]bool `json:"touched,omitempty"`
	Exists  map[string]bool `json:"exists,omitempty"`
}

// MarshalJSON writes the canonical form. Map keys are emitted sorted, so
// equal queries always produce identical bytes.
func (q Query) MarshalJSON() ([]byte, error) {
	return json.Marshal(queryWire{ID: q.id, Action: q.action, Touched: q.touched, Exists: q.exists})
}

func (q *Query) UnmarshalJSON(data []byte) error {
	var w queryWire
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&w); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedQuery, err)
	}
	*q = Query{id: w.ID, action: w.Action}
	if len(w.Touched) > 0 {
		q.touched = w.Touched
	}
	if len(w.Exists) > 0 {
		q.exists = w.Exists
	}
	return nil
}

// Key returns the canonical form as a string, suitable as a map key.
func (q Query) Key() string {
	data, _ := q.MarshalJSON()
	return string(data)
}

func (q Query) String() string {
	return q.Key()
}

// ParseQuery decodes and validates the canonical exchange form.
// An empty payload is the empty query.
func ParseQuery(data []byte) (Query, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return EmptyQuery(), nil
	}
	var q Query
	if err := json.Unmarshal(data, &q); err != nil {
		if errors.Is(err, ErrMalformedInput) {
			return Query{}, err
		}
		return Query{}, fmt.Errorf("%w: %v", ErrMalformedQuery, err)
	}
	if err := q.Validate(); err != nil {
		return Query{}, err
	}
	return q, nil
}
