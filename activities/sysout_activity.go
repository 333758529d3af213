package activities

import (
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/deepnoodle-ai/swflow"
)

// SysoutParams defines the parameters for the sysout activity. Parameters
// other than level and message are logged as attributes.
type SysoutParams struct {
	Level     string         `mapstructure:"level"`
	Message   any            `mapstructure:"message"`
	Arguments map[string]any `mapstructure:",remain"`
}

// SysoutActivity writes a message to its logger, or to the execution log
// when it has none.
type SysoutActivity struct {
	logger *slog.Logger
}

func NewSysoutActivity(logger *slog.Logger) swflow.Activity {
	return swflow.NewTypedActivity(&SysoutActivity{logger: logger})
}

func (a *SysoutActivity) Name() string {
	return "sysout"
}

func (a *SysoutActivity) Execute(ctx swflow.Context, params SysoutParams) (any, error) {
	level, err := ParseSysoutLevel(params.Level)
	if err != nil {
		return nil, swflow.NewWorkflowError(swflow.ErrorTypeFatal, err.Error())
	}
	message := "sysout"
	if params.Message != nil {
		message = fmt.Sprint(params.Message)
	}
	keys := make([]string, 0, len(params.Arguments))
	for key := range params.Arguments {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	attrs := make([]any, 0, len(keys))
	for _, key := range keys {
		attrs = append(attrs, slog.Any(key, params.Arguments[key]))
	}
	logger := a.logger
	if logger == nil {
		logger = ctx.GetLogger()
	} else {
		attrs = append(attrs, slog.String("step", ctx.GetStepName()))
	}
	logger.Log(ctx, level, message, attrs...)
	return nil, nil
}

// ParseSysoutLevel maps INFO, DEBUG, WARN and ERROR to slog levels. An
// empty level means INFO.
func ParseSysoutLevel(level string) (slog.Level, error) {
	switch strings.ToUpper(strings.TrimSpace(level)) {
	case "", "INFO":
		return slog.LevelInfo, nil
	case "DEBUG":
		return slog.LevelDebug, nil
	case "WARN":
		return slog.LevelWarn, nil
	case "ERROR":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("unknown sysout level %q", level)
	}
}
