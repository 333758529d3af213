package swflow

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestWorkflowStepNames(t *testing.T) {
	wf, err := New(Options{
		Name: "test-workflow",
		Steps: []*Step{
			{Name: "step1"},
			{Name: "step2"},
		},
	})
	require.NoError(t, err)
	require.Equal(t, []string{"step1", "step2"}, wf.StepNames())

	steps := wf.Steps()
	require.Len(t, steps, 2)
	require.Equal(t, "step1", steps[0].Name)
	require.Equal(t, "step2", steps[1].Name)
}

func TestInvalidWorkflows(t *testing.T) {
	t.Run("empty workflow", func(t *testing.T) {
		_, err := New(Options{})
		require.Error(t, err)
		require.Contains(t, err.Error(), "workflow name required")
	})

	t.Run("no steps", func(t *testing.T) {
		_, err := New(Options{
			Name: "test-workflow",
		})
		require.Error(t, err)
		require.Contains(t, err.Error(), "steps required")
	})

	t.Run("empty step name", func(t *testing.T) {
		_, err := New(Options{
			Name:  "test-workflow",
			Steps: []*Step{{Name: ""}},
		})
		require.Error(t, err)
		require.Contains(t, err.Error(), "step name required")
	})
}

func TestWorkflowValidation(t *testing.T) {
	t.Run("duplicate step names", func(t *testing.T) {
		_, err := New(Options{
			Name:  "test-workflow",
			Steps: []*Step{{Name: "a"}, {Name: "a"}},
		})
		require.Error(t, err)
		require.Contains(t, err.Error(), `duplicate step name "a"`)
	})

	t.Run("edge to unknown step", func(t *testing.T) {
		_, err := New(Options{
			Name:  "test-workflow",
			Steps: []*Step{{Name: "a", Next: []*Edge{{Step: "missing"}}}},
		})
		require.Error(t, err)
		require.Contains(t, err.Error(), `edge to step "missing" not found`)
	})

	t.Run("catch handler to unknown step", func(t *testing.T) {
		_, err := New(Options{
			Name: "test-workflow",
			Steps: []*Step{{
				Name:  "a",
				Catch: []*CatchConfig{{ErrorEquals: []string{ErrorTypeAll}, Next: "missing"}},
			}},
		})
		require.Error(t, err)
		require.Contains(t, err.Error(), `catch handler step "missing" not found`)
	})

	t.Run("end edges and end catches need no target", func(t *testing.T) {
		_, err := New(Options{
			Name: "test-workflow",
			Steps: []*Step{{
				Name:  "a",
				Next:  []*Edge{{End: true}},
				Catch: []*CatchConfig{{ErrorEquals: []string{ErrorTypeAll}, End: true}},
			}},
		})
		require.NoError(t, err)
	})

	t.Run("unknown edge matching strategy", func(t *testing.T) {
		_, err := New(Options{
			Name:  "test-workflow",
			Steps: []*Step{{Name: "a", EdgeMatchingStrategy: "some"}},
		})
		require.Error(t, err)
		require.Contains(t, err.Error(), `unknown edge matching strategy "some"`)
	})

	t.Run("explicit start step", func(t *testing.T) {
		wf, err := New(Options{
			Name:  "test-workflow",
			Start: "b",
			Steps: []*Step{{Name: "a"}, {Name: "b"}},
		})
		require.NoError(t, err)
		require.Equal(t, "b", wf.Start().Name)

		_, err = New(Options{
			Name:  "test-workflow",
			Start: "c",
			Steps: []*Step{{Name: "a"}},
		})
		require.Error(t, err)
		require.Contains(t, err.Error(), `start step "c" not found`)
	})
}
