package main

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/fatih/color"
	"github.com/pingcap/errors"
	"github.com/spf13/pflag"

	"github.com/whacked/patflow/internal/config"
	"github.com/whacked/patflow/internal/executor"
	"github.com/whacked/patflow/internal/graph"
	"github.com/whacked/patflow/internal/scenario"
	"github.com/whacked/patflow/internal/task"
)

func scenarioPathFrom(args []string) (string, error) {
	if len(args) > 0 {
		return args[0], nil
	}
	return scenario.Discover(".")
}

// configPathFor returns explicit when given, otherwise the config file that
// sits next to the scenario.
func configPathFor(scenarioPath, explicit string) string {
	if explicit != "" {
		return explicit
	}
	return filepath.Join(filepath.Dir(scenarioPath), config.FileName)
}

// loadConfig layers the config file, the environment and the flags that
// were set explicitly, in that order.
func loadConfig(path string, flags *pflag.FlagSet) (*config.Config, error) {
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	if err := cfg.ApplyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	if err := applyFlags(cfg, flags); err != nil {
		return nil, err
	}
	return cfg, cfg.Adjust()
}

func applyFlags(cfg *config.Config, flags *pflag.FlagSet) error {
	var err error
	str := func(name string, dst *string) {
		if err == nil && flags.Changed(name) {
			*dst, err = flags.GetString(name)
		}
	}
	boolean := func(name string, dst *bool) {
		if err == nil && flags.Changed(name) {
			*dst, err = flags.GetBool(name)
		}
	}
	str("workdir", &cfg.Workdir)
	str("cache-dir", &cfg.CacheDir)
	str("log-level", &cfg.Log.Level)
	str("log-format", &cfg.Log.Format)
	boolean("fail-fast", &cfg.FailFast)
	boolean("dry-run", &cfg.DryRun)
	if err == nil && flags.Changed("workers") {
		cfg.Workers, err = flags.GetInt("workers")
	}
	return errors.Trace(err)
}

// resolveWorkdir picks the directory patterns are resolved against. An
// explicit --workdir wins; otherwise the scenario's own workdir, taken
// relative to the scenario file; otherwise the configured one.
func resolveWorkdir(scenarioPath, scenarioWorkdir, configured string, flagSet bool) string {
	if flagSet || scenarioWorkdir == "" {
		return configured
	}
	if filepath.IsAbs(scenarioWorkdir) {
		return scenarioWorkdir
	}
	return filepath.Join(filepath.Dir(scenarioPath), scenarioWorkdir)
}

func printVitalsForTask(w io.Writer, g *graph.Graph, h graph.Handle) {
	t := g.Task(h)
	fmt.Fprintf(w,
		"%s [%s] (%d)\n  %s --> %s\n",
		color.MagentaString("%3d", t.Rank),
		color.HiWhiteString("%s", t.ID),
		len(g.Prerequisites(h)),
		color.YellowString("%s", strings.Join(t.Inputs, "\n  ")),
		outputsOf(t),
	)
}

func outputsOf(t *task.Task) string {
	if len(t.Outputs) == 0 {
		return color.CyanString("%s", "<STDOUT>")
	}
	return color.BlueString("%s", strings.Join(t.Outputs, " "))
}

func printJournal(w io.Writer, j *executor.Journal) {
	if j.RunID() == "" {
		fmt.Fprintln(w, color.YellowString("no run recorded in %s", j.Path()))
		return
	}
	fmt.Fprintf(w, "run %s\n", color.HiWhiteString("%s", j.RunID()))
	for _, id := range j.IDs() {
		s, _ := j.Status(id)
		fmt.Fprintf(w, "%s %s\n", executor.StatusColor(s), id)
	}
}

func printSummary(w io.Writer, sum *executor.Summary) {
	fmt.Fprintf(w, "%s %s  %s %s  %s %s  (run %s)\n",
		color.GreenString("done"), color.HiWhiteString("%d", sum.Counts[task.Done]),
		color.RedString("failed"), color.HiWhiteString("%d", sum.Counts[task.Failed]),
		color.MagentaString("waiting"), color.HiWhiteString("%d", sum.Counts[task.Waiting]),
		sum.RunID)
	for _, id := range sum.Failed {
		fmt.Fprintf(w, "  %s %s\n", color.RedString("x"), id)
	}
}
