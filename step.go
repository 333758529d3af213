package swflow

import (
	"time"
)

// EdgeMatchingStrategy controls how the outgoing edges of a step are
// followed.
type EdgeMatchingStrategy string

const (
	// EdgeMatchingAll follows every edge whose condition holds, starting a
	// new path for each one beyond the first.
	EdgeMatchingAll EdgeMatchingStrategy = "all"

	// EdgeMatchingFirst follows only the first edge whose condition holds.
	EdgeMatchingFirst EdgeMatchingStrategy = "first"
)

// Edge is used to configure a next step in a workflow. An edge with End set
// finishes the path instead of moving to another step.
type Edge struct {
	Step      string `json:"step,omitempty"`
	Condition string `json:"condition,omitempty"`
	End       bool   `json:"end,omitempty"`
}

// Step represents a single step in a workflow.
type Step struct {
	Name                 string               `json:"name"`
	Description          string               `json:"description,omitempty"`
	Store                string               `json:"store,omitempty"`
	Activity             string               `json:"activity,omitempty"`
	Parameters           map[string]any       `json:"parameters,omitempty"`
	Next                 []*Edge              `json:"next,omitempty"`
	EdgeMatchingStrategy EdgeMatchingStrategy `json:"edge_matching_strategy,omitempty"`
	End                  bool                 `json:"end,omitempty"`
	Retry                []*RetryConfig       `json:"retry,omitempty"`
	Catch                []*CatchConfig       `json:"catch,omitempty"`
	Timeout              time.Duration        `json:"timeout,omitempty"`
}

// GetEdgeMatchingStrategy returns the configured strategy, defaulting to
// EdgeMatchingAll.
func (s *Step) GetEdgeMatchingStrategy() EdgeMatchingStrategy {
	if s.EdgeMatchingStrategy == "" {
		return EdgeMatchingAll
	}
	return s.EdgeMatchingStrategy
}

// JitterStrategy defines the jitter strategy for retry delays
type JitterStrategy string

const (
	JitterNone JitterStrategy = "NONE"
	JitterFull JitterStrategy = "FULL"
)

// RetryConfig configures retry behavior for a step. An empty ErrorEquals
// matches every non-fatal error.
type RetryConfig struct {
	ErrorEquals    []string       `json:"error_equals,omitempty"`
	MaxRetries     int            `json:"max_retries,omitempty"`
	BaseDelay      time.Duration  `json:"base_delay,omitempty"`
	MaxDelay       time.Duration  `json:"max_delay,omitempty"`
	BackoffRate    float64        `json:"backoff_rate,omitempty"`
	JitterStrategy JitterStrategy `json:"jitter_strategy,omitempty"`
	Timeout        time.Duration  `json:"timeout,omitempty"`
}

// CatchConfig configures fallback behavior when errors occur. The error is
// stored as an ErrorOutput in the Store variable, then the path moves to
// Next or finishes when End is set.
type CatchConfig struct {
	ErrorEquals []string `json:"error_equals"`
	Next        string   `json:"next,omitempty"`
	End         bool     `json:"end,omitempty"`
	Store       string   `json:"store,omitempty"`
}
