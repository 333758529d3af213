package swflow

import (
	"encoding/json"
	"fmt"
	"io"
	"sync"

	"github.com/fatih/color"
)

// WorkflowFormatter interface for pretty output
type WorkflowFormatter interface {
	PrintStepStart(stepName string, activityName string)
	PrintStepOutput(stepName string, content any)
	PrintStepError(stepName string, err error)
}

// ConsoleFormatter prints step progress lines to a writer, colored when the
// writer is a terminal.
type ConsoleFormatter struct {
	w      io.Writer
	mutex  sync.Mutex
	start  *color.Color
	output *color.Color
	fail   *color.Color
}

// NewConsoleFormatter returns a formatter writing to w.
func NewConsoleFormatter(w io.Writer) *ConsoleFormatter {
	f := &ConsoleFormatter{
		w:      w,
		start:  color.New(color.FgCyan),
		output: color.New(color.FgGreen),
		fail:   color.New(color.FgRed),
	}
	if !IsTerminal(w) {
		f.start.DisableColor()
		f.output.DisableColor()
		f.fail.DisableColor()
	}
	return f
}

func (f *ConsoleFormatter) PrintStepStart(stepName string, activityName string) {
	f.mutex.Lock()
	defer f.mutex.Unlock()
	f.start.Fprintf(f.w, "▶ %s (%s)\n", stepName, activityName)
}

func (f *ConsoleFormatter) PrintStepOutput(stepName string, content any) {
	f.mutex.Lock()
	defer f.mutex.Unlock()
	if content == nil {
		f.output.Fprintf(f.w, "✓ %s\n", stepName)
		return
	}
	data, err := json.Marshal(content)
	if err != nil {
		data = []byte(fmt.Sprintf("%v", content))
	}
	f.output.Fprintf(f.w, "✓ %s: %s\n", stepName, data)
}

func (f *ConsoleFormatter) PrintStepError(stepName string, err error) {
	f.mutex.Lock()
	defer f.mutex.Unlock()
	f.fail.Fprintf(f.w, "✗ %s: %v\n", stepName, err)
}
