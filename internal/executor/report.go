package executor

import (
	"fmt"
	"io"
	"strings"

	"github.com/fatih/color"

	"github.com/whacked/patflow/internal/task"
)

// Reporter shows task progress to a person watching the run.
type Reporter interface {
	TaskStarted(t *task.Task)
	TaskSkipped(t *task.Task, reason string)
	TaskFinished(t *task.Task, err error)
}

type nopReporter struct{}

func (nopReporter) TaskStarted(*task.Task) {}

func (nopReporter) TaskSkipped(*task.Task, string) {}

func (nopReporter) TaskFinished(*task.Task, error) {}

// ConsoleReporter prints coloured one-line summaries of each task.
type ConsoleReporter struct {
	W io.Writer
}

// TaskStarted implements Reporter.
func (r ConsoleReporter) TaskStarted(t *task.Task) {
	fmt.Fprintf(r.W, "%s [%s]\n  %s --> %s\n",
		color.YellowString("start  "),
		color.HiWhiteString("%s", t.ID),
		color.YellowString("%s", strings.Join(t.Inputs, "\n  ")),
		outputsOf(t))
}

// TaskSkipped implements Reporter.
func (r ConsoleReporter) TaskSkipped(t *task.Task, reason string) {
	fmt.Fprintf(r.W, "%s [%s] %s\n",
		color.MagentaString("skip   "),
		color.HiWhiteString("%s", t.ID),
		reason)
}

// TaskFinished implements Reporter.
func (r ConsoleReporter) TaskFinished(t *task.Task, err error) {
	if err != nil {
		fmt.Fprintf(r.W, "%s [%s] %v\n",
			color.RedString("failed "),
			color.HiWhiteString("%s", t.ID),
			err)
		return
	}
	fmt.Fprintf(r.W, "%s [%s]\n",
		color.GreenString("done   "),
		color.HiWhiteString("%s", t.ID))
}

func outputsOf(t *task.Task) string {
	if len(t.Outputs) == 0 {
		return color.CyanString("%s", "<STDOUT>")
	}
	return color.BlueString("%s", strings.Join(t.Outputs, " "))
}

// StatusColor renders a status the way the console reporter does.
func StatusColor(s task.Status) string {
	switch s {
	case task.Done:
		return color.GreenString("%-11s", s)
	case task.Failed:
		return color.RedString("%-11s", s)
	case task.InProgress:
		return color.YellowString("%-11s", s)
	case task.Pending:
		return color.CyanString("%-11s", s)
	default:
		return color.MagentaString("%-11s", s)
	}
}
