package sw

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// NumberOrString holds a field that may be written as a JSON number or as
// a string such as "3" or "PT1S".
type NumberOrString struct {
	raw string
}

// NewNumberOrString returns a NumberOrString holding s.
func NewNumberOrString(s string) NumberOrString {
	return NumberOrString{raw: s}
}

func (n *NumberOrString) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		n.raw = ""
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		return json.Unmarshal(data, &n.raw)
	}
	var number json.Number
	if err := json.Unmarshal(data, &number); err != nil {
		return fmt.Errorf("expected a number or a string: %w", err)
	}
	n.raw = number.String()
	return nil
}

func (n NumberOrString) MarshalJSON() ([]byte, error) {
	if _, err := strconv.ParseFloat(n.raw, 64); err == nil {
		return []byte(n.raw), nil
	}
	return json.Marshal(n.raw)
}

// IsSet reports whether a value was given.
func (n NumberOrString) IsSet() bool {
	return n.raw != ""
}

// String returns the value as written.
func (n NumberOrString) String() string {
	return n.raw
}

// Int parses the value as an integer. An unset value is zero.
func (n NumberOrString) Int() (int, error) {
	if n.raw == "" {
		return 0, nil
	}
	f, err := strconv.ParseFloat(strings.TrimSpace(n.raw), 64)
	if err != nil {
		return 0, fmt.Errorf("invalid integer %q", n.raw)
	}
	return int(f), nil
}

// Float parses the value as a number. An unset value is zero.
func (n NumberOrString) Float() (float64, error) {
	if n.raw == "" {
		return 0, nil
	}
	f, err := strconv.ParseFloat(strings.TrimSpace(n.raw), 64)
	if err != nil {
		return 0, fmt.Errorf("invalid number %q", n.raw)
	}
	return f, nil
}

func isJSONString(data []byte) bool {
	data = bytes.TrimSpace(data)
	return len(data) > 0 && data[0] == '"'
}

func (s *Start) UnmarshalJSON(data []byte) error {
	if isJSONString(data) {
		return json.Unmarshal(data, &s.StateName)
	}
	type plain Start
	return json.Unmarshal(data, (*plain)(s))
}

func (t *Transition) UnmarshalJSON(data []byte) error {
	if isJSONString(data) {
		return json.Unmarshal(data, &t.NextState)
	}
	type plain Transition
	return json.Unmarshal(data, (*plain)(t))
}

func (e *End) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	switch string(data) {
	case "true":
		*e = End{}
		return nil
	case "false", "null":
		*e = End{disabled: true}
		return nil
	}
	type plain End
	return json.Unmarshal(data, (*plain)(e))
}

func (f *FunctionRef) UnmarshalJSON(data []byte) error {
	if isJSONString(data) {
		return json.Unmarshal(data, &f.RefName)
	}
	type plain FunctionRef
	return json.Unmarshal(data, (*plain)(f))
}

func (s *SubFlowRef) UnmarshalJSON(data []byte) error {
	if isJSONString(data) {
		return json.Unmarshal(data, &s.WorkflowID)
	}
	type plain SubFlowRef
	return json.Unmarshal(data, (*plain)(s))
}

func (w *WorkflowExecTimeout) UnmarshalJSON(data []byte) error {
	if isJSONString(data) {
		return json.Unmarshal(data, &w.Duration)
	}
	type plain WorkflowExecTimeout
	return json.Unmarshal(data, (*plain)(w))
}

func (s *StateExecTimeout) UnmarshalJSON(data []byte) error {
	if isJSONString(data) {
		return json.Unmarshal(data, &s.Total)
	}
	type plain StateExecTimeout
	return json.Unmarshal(data, (*plain)(s))
}

func (d *DataInputSchema) UnmarshalJSON(data []byte) error {
	d.FailOnValidationErrors = true
	if isJSONString(data) {
		return json.Unmarshal(data, &d.ref)
	}
	var aux struct {
		Schema                 json.RawMessage `json:"schema"`
		FailOnValidationErrors *bool           `json:"failOnValidationErrors"`
	}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	if aux.FailOnValidationErrors != nil {
		d.FailOnValidationErrors = *aux.FailOnValidationErrors
	}
	if isJSONString(aux.Schema) {
		return json.Unmarshal(aux.Schema, &d.ref)
	}
	d.Schema = aux.Schema
	return nil
}

// Ref returns the schema file location, if the schema was not inline.
func (d *DataInputSchema) Ref() string {
	return d.ref
}

func (d *Definition) UnmarshalJSON(data []byte) error {
	type plain Definition
	var aux struct {
		*plain
		Functions json.RawMessage `json:"functions,omitempty"`
		Errors    json.RawMessage `json:"errors,omitempty"`
		Retries   json.RawMessage `json:"retries,omitempty"`
		Secrets   json.RawMessage `json:"secrets,omitempty"`
		Constants json.RawMessage `json:"constants,omitempty"`
	}
	aux.plain = (*plain)(d)
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	fields := []struct {
		name   string
		raw    json.RawMessage
		ref    *string
		target any
	}{
		{"functions", aux.Functions, &d.functionsRef, &d.Functions},
		{"errors", aux.Errors, &d.errorsRef, &d.Errors},
		{"retries", aux.Retries, &d.retriesRef, &d.Retries},
		{"secrets", aux.Secrets, &d.secretsRef, &d.Secrets},
		{"constants", aux.Constants, &d.constantsRef, &d.Constants},
	}
	for _, field := range fields {
		if len(field.raw) == 0 {
			continue
		}
		if isJSONString(field.raw) {
			if err := json.Unmarshal(field.raw, field.ref); err != nil {
				return fmt.Errorf("%s: %w", field.name, err)
			}
			continue
		}
		if err := json.Unmarshal(field.raw, field.target); err != nil {
			return fmt.Errorf("%s: %w", field.name, err)
		}
	}
	return nil
}
