package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/fatih/color"
	"github.com/pingcap/errors"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/whacked/patflow/internal/config"
	"github.com/whacked/patflow/internal/discovery"
	"github.com/whacked/patflow/internal/executor"
	"github.com/whacked/patflow/internal/graph"
	"github.com/whacked/patflow/internal/logutil"
	"github.com/whacked/patflow/internal/scenario"
)

func newRootCommand() *cobra.Command {
	programName := color.HiBlueString("patflow")

	rootCmd := &cobra.Command{
		Use: "patflow [flags] [scenario]",
		Long: strings.Join(
			[]string{
				fmt.Sprintf("- %s %s %s", programName, color.CyanString("[flags]"), color.CyanString("[scenario]")),
				"\n",
				fmt.Sprintf("\n[scenario] is the flow description to run; defaults to the first of %v in the current directory", scenario.FileCandidates),
			},
			"",
		),
		Short:         "pattern driven flow runner",
		Args:          cobra.MaximumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          runRoot,
	}

	flags := rootCmd.Flags()
	flags.Bool("targets", false, "list all tasks in execution order")
	flags.Bool("validate", false, "validate the scenario file and print it reformatted")
	flags.Bool("status", false, "print the task statuses recorded by the last run")
	flags.String("reset", "", "mark a task and everything downstream of it for re-execution")
	flags.Bool("show-config", false, "print the effective configuration")
	flags.String("completions", "", "get shell completion code for the given shell type (bash or zsh)")
	flags.String("config", "", fmt.Sprintf("configuration file (default: %s next to the scenario)", config.FileName))
	flags.String("workdir", "", "base directory for relative patterns and commands")
	flags.String("cache-dir", "", "directory holding the run journal")
	flags.Int("workers", 0, "number of tasks run at once")
	flags.Bool("fail-fast", false, "stop the run at the first failed task")
	flags.Bool("dry-run", false, "show what would run without running it")
	flags.String("log-level", "", "log level (debug, info, warn, error)")
	flags.String("log-format", "", "log format (text or json)")
	return rootCmd
}

func runRoot(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()

	if shell, _ := cmd.Flags().GetString("completions"); shell != "" {
		return writeCompletions(cmd.Root(), shell, out)
	}

	scenarioPath, err := scenarioPathFrom(args)
	if err != nil {
		return err
	}

	if validate, _ := cmd.Flags().GetBool("validate"); validate {
		src, err := os.ReadFile(scenarioPath)
		if err != nil {
			return errors.Trace(err)
		}
		if _, err := scenario.Parse(src); err != nil {
			return errors.Annotatef(err, "scenario %s", scenarioPath)
		}
		formatted, err := scenario.Format(src)
		if err != nil {
			return err
		}
		fmt.Fprintln(out, formatted)
		return nil
	}

	configPath, _ := cmd.Flags().GetString("config")
	cfg, err := loadConfig(configPathFor(scenarioPath, configPath), cmd.Flags())
	if err != nil {
		return err
	}
	if show, _ := cmd.Flags().GetBool("show-config"); show {
		rendered, err := cfg.Toml()
		if err != nil {
			return err
		}
		fmt.Fprint(out, rendered)
		return nil
	}

	lg, err := logutil.InitLogger(&cfg.Log)
	if err != nil {
		return err
	}
	defer func() { _ = lg.Sync() }()

	if status, _ := cmd.Flags().GetBool("status"); status {
		j, err := executor.OpenJournal(cfg.CacheDir)
		if err != nil {
			return err
		}
		printJournal(out, j)
		return nil
	}

	sc, err := scenario.Load(scenarioPath)
	if err != nil {
		return err
	}
	g, err := sc.Build(graph.WithLogger(lg))
	if err != nil {
		return err
	}

	if targets, _ := cmd.Flags().GetBool("targets"); targets {
		hs, err := g.TopologicalSort()
		if err != nil {
			return err
		}
		for _, h := range hs {
			printVitalsForTask(out, g, h)
		}
		return nil
	}

	j, err := executor.OpenJournal(cfg.CacheDir)
	if err != nil {
		return err
	}

	if id, _ := cmd.Flags().GetString("reset"); id != "" {
		changed, err := executor.Reset(g, j, j.RunID(), id)
		if err != nil {
			return err
		}
		if err := j.Flush(); err != nil {
			return err
		}
		for _, c := range changed {
			s, _ := j.Status(c)
			fmt.Fprintf(out, "%s %s\n", executor.StatusColor(s), c)
		}
		return nil
	}

	workdir := resolveWorkdir(scenarioPath, sc.Workdir, cfg.Workdir, cmd.Flags().Changed("workdir"))
	lg.Info("scenario loaded",
		zap.String("scenario", scenarioPath),
		zap.String("workdir", workdir),
		zap.Int("tasks", g.Len()))

	router := &discovery.Router{
		Local: discovery.LocalLister{Root: workdir},
		S3: func() (discovery.Lister, error) {
			return discovery.NewS3Lister(cfg.S3Region)
		},
	}
	e := executor.New(g,
		executor.Options{
			Workdir:  workdir,
			Workers:  cfg.Workers,
			FailFast: cfg.FailFast,
			DryRun:   cfg.DryRun,
		},
		executor.WithLogger(lg),
		executor.WithLister(router),
		executor.WithJournal(j),
		executor.WithReporter(executor.ConsoleReporter{W: cmd.ErrOrStderr()}),
		executor.WithOutput(out, cmd.ErrOrStderr()),
	)

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	sum, err := e.Run(ctx)
	if sum != nil {
		printSummary(cmd.ErrOrStderr(), sum)
	}
	if err != nil {
		lg.Error("run failed", logutil.ShortError(err))
	}
	return err
}

func writeCompletions(root *cobra.Command, shell string, w io.Writer) error {
	switch shell {
	case "bash":
		return root.GenBashCompletionV2(w, true)
	case "zsh":
		return root.GenZshCompletion(w)
	default:
		return errors.Errorf("unsupported shell type: %s", shell)
	}
}

func main() {
	if err := newRootCommand().ExecuteContext(context.Background()); err != nil {
		fmt.Fprintf(os.Stderr, "%s %v\n", color.RedString("Error:"), err)
		os.Exit(1)
	}
}
