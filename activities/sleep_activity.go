package activities

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/deepnoodle-ai/swflow"
	"github.com/deepnoodle-ai/swflow/retry"
	"github.com/sosodev/duration"
)

// SleepParams defines the parameters for the sleep activity
type SleepParams struct {
	Duration string `mapstructure:"duration"`
}

// SleepActivity waits for a duration or until the context is canceled
type SleepActivity struct{}

func NewSleepActivity() swflow.Activity {
	return swflow.NewTypedActivity(&SleepActivity{})
}

func (a *SleepActivity) Name() string {
	return "sleep"
}

func (a *SleepActivity) Execute(ctx swflow.Context, params SleepParams) (any, error) {
	if params.Duration == "" {
		return nil, swflow.NewWorkflowError(swflow.ErrorTypeFatal, "sleep activity requires 'duration' parameter")
	}
	d, err := ParseDuration(params.Duration)
	if err != nil {
		return nil, swflow.NewWorkflowError(swflow.ErrorTypeFatal, err.Error())
	}
	if d <= 0 {
		return nil, swflow.NewWorkflowError(swflow.ErrorTypeFatal, "duration must be positive")
	}
	if err := retry.Sleep(ctx, d); err != nil {
		return nil, err
	}
	return nil, nil
}

// ParseDuration accepts ISO 8601 durations such as PT1M30S and Go durations
// such as 90s.
func ParseDuration(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, errors.New("empty duration")
	}
	if strings.HasPrefix(strings.ToUpper(s), "P") {
		d, err := duration.Parse(strings.ToUpper(s))
		if err != nil {
			return 0, fmt.Errorf("invalid ISO 8601 duration %q: %w", s, err)
		}
		return d.ToTimeDuration(), nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("invalid duration %q: %w", s, err)
	}
	return d, nil
}
