package swflow

import (
	"sort"
)

// PathLocalState provides activities with access to workflow input variables
// and to the execution path's copy of state variables.
type PathLocalState struct {
	inputs    map[string]any
	variables map[string]any
}

func NewPathLocalState(inputs, variables map[string]any) *PathLocalState {
	return &PathLocalState{
		inputs:    copyMap(inputs),
		variables: copyMap(variables),
	}
}

func (s *PathLocalState) ListInputs() []string {
	return sortedKeys(s.inputs)
}

func (s *PathLocalState) GetInput(key string) (any, bool) {
	value, exists := s.inputs[key]
	return value, exists
}

func (s *PathLocalState) SetVariable(key string, value any) {
	if s.variables == nil {
		s.variables = map[string]any{}
	}
	s.variables[key] = value
}

func (s *PathLocalState) DeleteVariable(key string) {
	delete(s.variables, key)
}

func (s *PathLocalState) ListVariables() []string {
	return sortedKeys(s.variables)
}

func (s *PathLocalState) GetVariable(key string) (any, bool) {
	value, exists := s.variables[key]
	return value, exists
}

// Variables returns a shallow copy of the variables.
func (s *PathLocalState) Variables() map[string]any {
	return copyMap(s.variables)
}

// Inputs returns a shallow copy of the inputs.
func (s *PathLocalState) Inputs() map[string]any {
	return copyMap(s.inputs)
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for key := range m {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}
