package model

import (
	"bytes"
	"encoding/json"
	"fmt"
	"regexp"
	"slices"
	"strings"
)

var (
	stageRegex = regexp.MustCompile(`^[a-zA-Z0-9_\-]{1,64}$`)
)

// CheckStageName reports whether name is usable as a stage name.
func CheckStageName(name string) bool {
	return stageRegex.MatchString(name)
}

// CheckFieldKey reports whether key is usable as a content or metadata key.
// Keys must be addressable by every backend, so dotted paths and operator
// prefixes are rejected.
func CheckFieldKey(key string) bool {
	return key != "" && !strings.Contains(key, ".") && !strings.HasPrefix(key, "$")
}

// Action is the lifecycle intent of a document, set upstream.
type Action string

const (
	ActionAdd    Action = "ADD"
	ActionUpdate Action = "UPDATE"
	ActionDelete Action = "DELETE"
)

func (a Action) Valid() bool {
	switch a {
	case ActionAdd, ActionUpdate, ActionDelete:
		return true
	}
	return false
}

// Status is the pipeline outcome of a document.
type Status string

const (
	StatusPending   Status = "PENDING"
	StatusProcessed Status = "PROCESSED"
	StatusDiscarded Status = "DISCARDED"
	StatusFailed    Status = "FAILED"
)

func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusProcessed, StatusDiscarded, StatusFailed:
		return true
	}
	return false
}

// IsTerminal reports whether s archives the document.
func (s Status) IsTerminal() bool {
	return s == StatusProcessed || s == StatusDiscarded || s == StatusFailed
}

// ParseStatus accepts the upper or lower case status name.
func ParseStatus(s string) (Status, error) {
	st := Status(strings.ToUpper(s))
	if !st.Valid() {
		return "", fmt.Errorf("%w: unknown status %q", ErrMalformedInput, s)
	}
	return st, nil
}

// Document is the unit of work flowing through the pipeline.
//
//	"id" is assigned by the store on insert and never changes.
//	"status" is empty or PENDING while the document is live.
//	"touched" only ever grows.
type Document struct {
	ID        string         `json:"id,omitempty"`
	Action    Action         `json:"action"`
	Status    Status         `json:"status,omitempty"`
	Contents  map[string]any `json:"contents"`
	Metadata  map[string]any `json:"metadata"`
	TouchedBy []string       `json:"touched"`
}

// NewDocument returns an empty live document with the given action.
func NewDocument(action Action) *Document {
	return &Document{
		Action:    action,
		Status:    StatusPending,
		Contents:  map[string]any{},
		Metadata:  map[string]any{},
		TouchedBy: []string{},
	}
}

// ParseDocument decodes the canonical exchange form.
func ParseDocument(data []byte) (*Document, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, fmt.Errorf("%w: empty payload", ErrMalformedDocument)
	}
	var doc Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedDocument, err)
	}
	if doc.Contents == nil {
		doc.Contents = map[string]any{}
	}
	if doc.Metadata == nil {
		doc.Metadata = map[string]any{}
	}
	if doc.TouchedBy == nil {
		doc.TouchedBy = []string{}
	}
	if err := doc.Validate(); err != nil {
		return nil, err
	}
	return &doc, nil
}

// Validate checks enum values, stage names and field keys.
func (d *Document) Validate() error {
	if d == nil {
		return fmt.Errorf("%w: document is nil", ErrMalformedDocument)
	}
	if !d.Action.Valid() {
		return fmt.Errorf("%w: unknown action %q", ErrMalformedDocument, d.Action)
	}
	if d.Status != "" && !d.Status.Valid() {
		return fmt.Errorf("%w: unknown status %q", ErrMalformedDocument, d.Status)
	}
	for _, s := range d.TouchedBy {
		if !CheckStageName(s) {
			return fmt.Errorf("%w: invalid stage name %q in touched", ErrMalformedDocument, s)
		}
	}
	for k := range d.Contents {
		if !CheckFieldKey(k) {
			return fmt.Errorf("%w: invalid content key %q", ErrMalformedDocument, k)
		}
	}
	for k := range d.Metadata {
		if !CheckFieldKey(k) {
			return fmt.Errorf("%w: invalid metadata key %q", ErrMalformedDocument, k)
		}
	}
	return nil
}

// JSON returns the canonical exchange form.
func (d *Document) JSON() ([]byte, error) {
	return json.Marshal(d)
}

// EffectiveStatus treats an unset status as PENDING.
func (d *Document) EffectiveStatus() Status {
	if d.Status == "" {
		return StatusPending
	}
	return d.Status
}

// IsLive reports whether the document still flows through the pipeline.
func (d *Document) IsLive() bool {
	return !d.EffectiveStatus().IsTerminal()
}

func (d *Document) IsTouchedBy(stage string) bool {
	return slices.Contains(d.TouchedBy, stage)
}

// Touch adds stage to the touched set and reports whether it was added.
func (d *Document) Touch(stage string) bool {
	if d.IsTouchedBy(stage) {
		return false
	}
	d.TouchedBy = append(d.TouchedBy, stage)
	return true
}

func (d *Document) HasContent(key string) bool {
	_, ok := d.Contents[key]
	return ok
}

// Clone returns a deep copy so that callers never share maps with a store.
func (d *Document) Clone() *Document {
	if d == nil {
		return nil
	}
	out := &Document{
		ID:        d.ID,
		Action:    d.Action,
		Status:    d.Status,
		Contents:  cloneMap(d.Contents),
		Metadata:  cloneMap(d.Metadata),
		TouchedBy: slices.Clone(d.TouchedBy),
	}
	if out.TouchedBy == nil {
		out.TouchedBy = []string{}
	}
	return out
}

// Equal compares id, action, status, contents and metadata.
// Numeric values are compared by their JSON encoding so that a document
// read back from a store equals the one written.
func (d *Document) Equal(other *Document) bool {
	if d == nil || other == nil {
		return d == other
	}
	if d.ID != other.ID || d.Action != other.Action || d.EffectiveStatus() != other.EffectiveStatus() {
		return false
	}
	return jsonEqual(d.Contents, other.Contents) && jsonEqual(d.Metadata, other.Metadata)
}

// TouchedByEqual compares the touched sets ignoring order.
func (d *Document) TouchedByEqual(other *Document) bool {
	if len(d.TouchedBy) != len(other.TouchedBy) {
		return false
	}
	for _, s := range d.TouchedBy {
		if !other.IsTouchedBy(s) {
			return false
		}
	}
	return true
}

func jsonEqual(a, b map[string]any) bool {
	if len(a) == 0 && len(b) == 0 {
		return true
	}
	ja, errA := json.Marshal(a)
	jb, errB := json.Marshal(b)
	if errA != nil || errB != nil {
		return false
	}
	return bytes.Equal(ja, jb)
}

func cloneMap(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch val := v.(type) {
	case map[string]any:
		return cloneMap(val)
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = cloneValue(item)
		}
		return out
	case []byte:
		return slices.Clone(val)
	default:
		return v
	}
}
