// Package schema holds the structured payloads exchanged with models and callers,
// and the schema objects that parse and validate raw model output.
package schema

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
	"github.com/invopop/jsonschema"

	"github.com/bububa/nutrition-agents/components"
)

// Parser is the non generic view of a schema object
type Parser interface {
	// Name returns schema name
	Name() string
	// Describe returns the JSON schema text given to models
	Describe() string
	// Check parses and validates raw model output, discarding the value
	Check(raw []byte) error
}

// Object is an explicit schema for T
type Object[T any] struct {
	name     string
	once     sync.Once
	describe string
	post     func(*T) error
}

var _ Parser = (*Object[FoodDescription])(nil)

// ObjectOption configures an Object
type ObjectOption[T any] func(*Object[T])

// WithPostProcess registers a hook applied to every successfully validated value
func WithPostProcess[T any](fn func(*T) error) ObjectOption[T] {
	return func(o *Object[T]) {
		o.post = fn
	}
}

// NewObject returns a schema object named name
func NewObject[T any](name string, opts ...ObjectOption[T]) *Object[T] {
	ret := &Object[T]{name: name}
	for _, opt := range opts {
		opt(ret)
	}
	return ret
}

// Name returns schema name
func (o *Object[T]) Name() string {
	return o.name
}

// Prototype returns a fresh zero value of T
func (o *Object[T]) Prototype() any {
	return new(T)
}

// Describe returns the JSON schema of T
func (o *Object[T]) Describe() string {
	o.once.Do(func() {
		r := jsonschema.Reflector{
			DoNotReference: true,
			ExpandedStruct: true,
		}
		s := r.Reflect(new(T))
		bs, err := json.Marshal(s)
		if err != nil {
			o.describe = "{}"
			return
		}
		o.describe = string(bs)
	})
	return o.describe
}

// Check implements Parser
func (o *Object[T]) Check(raw []byte) error {
	_, err := o.Parse(raw)
	return err
}

// Parse extracts, strictly decodes and validates T from raw model output. Unknown fields are rejected.
// Every failure is a *components.ValidationError.
func (o *Object[T]) Parse(raw []byte) (*T, error) {
	fail := func(field string, err error) (*T, error) {
		return nil, &components.ValidationError{
			Schema: o.name,
			Field:  field,
			Raw:    string(raw),
			Err:    err,
		}
	}
	payload, err := ExtractJSON(raw)
	if err != nil {
		return fail("", err)
	}
	ret := new(T)
	dec := json.NewDecoder(bytes.NewReader(payload))
	dec.DisallowUnknownFields()
	if err := dec.Decode(ret); err != nil {
		var typeErr *json.UnmarshalTypeError
		if errors.As(err, &typeErr) {
			return fail(typeErr.Field, err)
		}
		if field, ok := strings.CutPrefix(err.Error(), `json: unknown field "`); ok {
			return fail(strings.TrimSuffix(field, `"`), err)
		}
		return fail("", err)
	}
	if err := Validate(ret); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			return fail(verrs[0].Namespace(), err)
		}
		return fail("", err)
	}
	if o.post != nil {
		if err := o.post(ret); err != nil {
			return fail("", err)
		}
	}
	return ret, nil
}

// ExtractJSON strips code fences and surrounding prose around the first JSON object
func ExtractJSON(raw []byte) ([]byte, error) {
	s := bytes.TrimSpace(raw)
	if len(s) == 0 {
		return nil, errors.New("empty output")
	}
	if bytes.HasPrefix(s, []byte("```")) {
		s = bytes.TrimPrefix(s, []byte("```"))
		if idx := bytes.IndexByte(s, '\n'); idx >= 0 {
			s = s[idx+1:]
		}
		s = bytes.TrimSuffix(bytes.TrimSpace(s), []byte("```"))
	}
	start := bytes.IndexByte(s, '{')
	end := bytes.LastIndexByte(s, '}')
	if start < 0 || end < start {
		return nil, fmt.Errorf("no JSON object in output %q", truncate(string(s), 80))
	}
	return s[start : end+1], nil
}

// Stringify marshals v as compact JSON, returning strings untouched
func Stringify(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	bs, _ := json.Marshal(v)
	return string(bs)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return strings.TrimSpace(s[:n]) + "..."
}
