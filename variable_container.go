package swflow

import "reflect"

// VariableContainer holds the variables of a path.
type VariableContainer interface {
	SetVariable(key string, value any)
	DeleteVariable(key string)

	// ListVariables returns the variable names in sorted order.
	ListVariables() []string

	GetVariable(key string) (value any, exists bool)
}

// Patch is a change to one variable. A Delete patch ignores Value.
type Patch struct {
	Variable string
	Value    any
	Delete   bool
}

// GeneratePatches returns the changes that turn original into modified,
// sorted by variable name.
func GeneratePatches(original, modified map[string]any) []Patch {
	var patches []Patch
	for _, key := range sortedKeys(modified) {
		value := modified[key]
		if previous, ok := original[key]; ok && reflect.DeepEqual(previous, value) {
			continue
		}
		patches = append(patches, Patch{Variable: key, Value: value})
	}
	for _, key := range sortedKeys(original) {
		if _, ok := modified[key]; !ok {
			patches = append(patches, Patch{Variable: key, Delete: true})
		}
	}
	return patches
}

// ApplyPatches applies patches to container in order.
func ApplyPatches(container VariableContainer, patches []Patch) {
	for _, patch := range patches {
		if patch.Delete {
			container.DeleteVariable(patch.Variable)
			continue
		}
		container.SetVariable(patch.Variable, patch.Value)
	}
}
