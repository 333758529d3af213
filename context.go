package swflow

import (
	"context"
	"io"
	"log/slog"

	"github.com/deepnoodle-ai/swflow/script"
)

// Context is passed to activities. It carries the path's variables and
// inputs alongside the usual context.Context.
type Context interface {
	context.Context
	VariableContainer

	// ListInputs returns the names of the workflow inputs.
	ListInputs() []string

	// GetInput returns the value of a workflow input.
	GetInput(key string) (any, bool)

	// GetLogger returns a logger tagged with the path and step.
	GetLogger() *slog.Logger

	// GetCompiler returns the script compiler used by the execution.
	GetCompiler() script.Compiler

	// GetPathID returns the ID of the executing path.
	GetPathID() string

	// GetStepName returns the name of the executing step.
	GetStepName() string
}

// ExecutionContextOptions configures NewContext.
type ExecutionContextOptions struct {
	PathLocalState *PathLocalState
	Logger         *slog.Logger
	Compiler       script.Compiler
	PathID         string
	StepName       string
}

type executionContext struct {
	context.Context
	*PathLocalState
	logger   *slog.Logger
	compiler script.Compiler
	pathID   string
	stepName string
}

// NewContext returns a Context for running an activity.
func NewContext(ctx context.Context, opts ExecutionContextOptions) Context {
	if opts.PathLocalState == nil {
		opts.PathLocalState = NewPathLocalState(nil, nil)
	}
	if opts.Logger == nil {
		opts.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &executionContext{
		Context:        ctx,
		PathLocalState: opts.PathLocalState,
		logger:         opts.Logger,
		compiler:       opts.Compiler,
		pathID:         opts.PathID,
		stepName:       opts.StepName,
	}
}

func (c *executionContext) GetLogger() *slog.Logger {
	return c.logger
}

func (c *executionContext) GetCompiler() script.Compiler {
	return c.compiler
}

func (c *executionContext) GetPathID() string {
	return c.pathID
}

func (c *executionContext) GetStepName() string {
	return c.stepName
}
