package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/deepnoodle-ai/swflow"
	"github.com/deepnoodle-ai/swflow/internal/config"
	"github.com/deepnoodle-ai/swflow/sqlstore"
	"github.com/deepnoodle-ai/swflow/sw"
	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

func main() {
	os.Exit(newRunner(os.Stdout, os.Stderr).run(context.Background(), os.Args[1:]))
}

// application is the part of *sw.Application the driver uses.
type application interface {
	Process(ctx context.Context, def *sw.Definition) (*sw.Program, error)
	Execute(ctx context.Context, def *sw.Definition, input map[string]any) (*sw.Result, error)
	Resume(ctx context.Context, def *sw.Definition, priorExecutionID string) (*sw.Result, error)
	Close() error
}

type runner struct {
	stdout io.Writer
	stderr io.Writer
	newApp func(opts sw.ApplicationOptions) application

	configFile    string
	executionsDir string
	storeDSN      string
	logsDir       string
	timeout       time.Duration
	verbose       bool
	logFormat     string
	resume        string
}

func newRunner(stdout, stderr io.Writer) *runner {
	return &runner{
		stdout: stdout,
		stderr: stderr,
		newApp: func(opts sw.ApplicationOptions) application {
			return sw.NewApplication(opts)
		},
	}
}

func (r *runner) command() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "swflow <definition>",
		Short: "Validate and run a Serverless Workflow definition",
		Long: `swflow loads a Serverless Workflow 0.8 definition in JSON or YAML,
validates and compiles it, runs it once with an empty input document and
prints the registered functions and states.`,
		Args:          cobra.ExactArgs(1),
		SilenceErrors: true,
		SilenceUsage:  true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return r.runWorkflow(cmd, args[0])
		},
	}
	cmd.SetOut(r.stdout)
	cmd.SetErr(r.stderr)

	flags := cmd.Flags()
	flags.StringVarP(&r.configFile, "config", "c", "", "YAML configuration file")
	flags.StringVarP(&r.executionsDir, "executions", "e", "", "directory for file checkpoints")
	flags.StringVar(&r.storeDSN, "store", "", "checkpoint store DSN (sqlite://path or postgres://...)")
	flags.StringVarP(&r.logsDir, "logs", "l", "", "directory for activity logs")
	flags.DurationVarP(&r.timeout, "timeout", "t", 0, "overall run timeout, e.g. 30s")
	flags.BoolVarP(&r.verbose, "verbose", "v", false, "log debug output and print step progress to stderr")
	flags.StringVar(&r.logFormat, "log-format", "", "log format: text or json")
	flags.StringVar(&r.resume, "resume", "", "resume a checkpointed execution by ID instead of starting a new one")
	return cmd
}

// run executes the command and returns the process exit code.
func (r *runner) run(ctx context.Context, args []string) int {
	cmd := r.command()
	cmd.SetArgs(args)
	if err := cmd.ExecuteContext(ctx); err != nil {
		red := color.New(color.FgRed)
		if !swflow.IsTerminal(r.stderr) {
			red.DisableColor()
		}
		red.Fprintf(r.stderr, "[ERROR] Workflow is not valid: %v\n", err)
		return 1
	}
	return 0
}

// overrides returns the configuration keys set by flags on the command
// line.
func (r *runner) overrides(cmd *cobra.Command) map[string]any {
	values := map[string]any{}
	flags := cmd.Flags()
	if flags.Changed("executions") {
		values["executions_dir"] = r.executionsDir
	}
	if flags.Changed("store") {
		values["store.dsn"] = r.storeDSN
	}
	if flags.Changed("logs") {
		values["activity_logs_dir"] = r.logsDir
	}
	if flags.Changed("timeout") {
		values["timeout"] = r.timeout.String()
	}
	if flags.Changed("log-format") {
		values["log.format"] = r.logFormat
	}
	if r.verbose {
		values["log.level"] = "debug"
	}
	return values
}

func (r *runner) runWorkflow(cmd *cobra.Command, path string) (err error) {
	ctx := cmd.Context()
	fmt.Fprintf(r.stdout, "Initialize the workflow: %s\n", path)

	cfg, err := config.Load(r.configFile, r.overrides(cmd))
	if err != nil {
		return err
	}
	level, err := swflow.ParseLogLevel(cfg.Log.Level)
	if err != nil {
		return err
	}
	// Logs, sysout output and step progress are written from several
	// goroutines.
	stderr := &lockedWriter{w: r.stderr}
	logger := newLogger(stderr, cfg.Log.Format, level)

	if r.resume != "" && cfg.Store.DSN == "" && cfg.ExecutionsDir == "" {
		return errors.New("--resume requires --store or --executions")
	}

	opts := sw.ApplicationOptions{
		Logger:       logger,
		SysoutLogger: newLogger(stderr, cfg.Log.Format, min(level, slog.LevelInfo)),
		HTTPTimeout:  cfg.HTTP.Timeout,
		BaseDir:      cfg.BaseDir,
	}
	if r.verbose {
		opts.Formatter = swflow.NewConsoleFormatter(stderr)
	}
	if opts.Checkpointer, err = newCheckpointer(ctx, cfg); err != nil {
		return err
	}
	if cfg.ActivityLogsDir != "" {
		if opts.ActivityLogger, err = swflow.NewFileActivityLogger(cfg.ActivityLogsDir); err != nil {
			if closer, ok := opts.Checkpointer.(io.Closer); ok {
				closer.Close()
			}
			return err
		}
	}

	app := r.newApp(opts)
	defer func() {
		if closeErr := app.Close(); closeErr != nil && err == nil {
			err = fmt.Errorf("failed to close application: %w", closeErr)
		}
	}()

	if cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cfg.Timeout)
		defer cancel()
	}

	def, err := sw.LoadFile(path)
	if err != nil {
		return err
	}
	if _, err := app.Process(ctx, def); err != nil {
		return err
	}
	var result *sw.Result
	if r.resume != "" {
		result, err = app.Resume(ctx, def, r.resume)
	} else {
		result, err = app.Execute(ctx, def, map[string]any{})
	}
	if err != nil {
		return err
	}

	fmt.Fprintf(r.stdout, "Execution information: %s\n", result)
	fmt.Fprintln(r.stdout, "Registered functions:")
	fmt.Fprintln(r.stdout, formatNames(def.FunctionNames()))
	fmt.Fprintln(r.stdout, "Registered states:")
	fmt.Fprintln(r.stdout, formatNames(def.StateNames()))
	fmt.Fprintln(r.stdout, "Workflow is correct and compiled successfully")
	return nil
}

func newLogger(w io.Writer, format string, level slog.Level) *slog.Logger {
	if format == "json" {
		return swflow.NewJSONLogger(w, level)
	}
	return swflow.NewLogger(w, level)
}

// lockedWriter serializes writes to w.
type lockedWriter struct {
	mutex sync.Mutex
	w     io.Writer
}

func (l *lockedWriter) Write(p []byte) (int, error) {
	l.mutex.Lock()
	defer l.mutex.Unlock()
	return l.w.Write(p)
}

// Fd returns the descriptor of the underlying file so terminal detection
// sees through the lock. Other writers report an invalid descriptor.
func (l *lockedWriter) Fd() uintptr {
	if f, ok := l.w.(*os.File); ok {
		return f.Fd()
	}
	return ^uintptr(0)
}

// newCheckpointer prefers the SQL store, then file checkpoints, and keeps
// nothing when neither is configured.
func newCheckpointer(ctx context.Context, cfg *config.Config) (swflow.Checkpointer, error) {
	switch {
	case cfg.Store.DSN != "":
		store, err := sqlstore.Open(ctx, cfg.Store.DSN)
		if err != nil {
			return nil, err
		}
		return store, nil
	case cfg.ExecutionsDir != "":
		checkpointer, err := swflow.NewFileCheckpointer(cfg.ExecutionsDir)
		if err != nil {
			return nil, err
		}
		return checkpointer, nil
	default:
		return swflow.NewNullCheckpointer(), nil
	}
}

// formatNames renders names as [a, b].
func formatNames(names []string) string {
	return "[" + strings.Join(names, ", ") + "]"
}
