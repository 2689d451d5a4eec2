package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/chainguard-dev/clog"
	"github.com/joho/godotenv"
	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/ogulcanaydogan/runtrack/internal/hash"
	"github.com/ogulcanaydogan/runtrack/internal/jobs"
	"github.com/ogulcanaydogan/runtrack/internal/report"
	"github.com/ogulcanaydogan/runtrack/internal/tracking"
	"github.com/ogulcanaydogan/runtrack/internal/verify"
)

type cliError struct {
	code int
	err  error
}

func (e cliError) Error() string { return e.err.Error() }

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	root := newRootCommand()
	if err := root.ExecuteContext(ctx); err != nil {
		var ce cliError
		if errors.As(err, &ce) {
			fmt.Fprintln(os.Stderr, ce.err)
			os.Exit(ce.code)
		}
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

const projectFile = "runtrack.yaml"

func newRootCommand() *cobra.Command {
	var logLevel string
	root := &cobra.Command{
		Use:           "runtrack",
		Short:         "Local experiment run tracking",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if err := loadDotEnv(); err != nil {
				return err
			}
			var level slog.Level
			if err := level.UnmarshalText([]byte(logLevel)); err != nil {
				return fmt.Errorf("invalid --log-level %q", logLevel)
			}
			h := slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: level})
			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}
			cmd.SetContext(clog.WithLogger(ctx, clog.New(h)))
			return nil
		},
	}
	root.PersistentFlags().StringVar(&logLevel, "log-level", "info", "log level (debug|info|warn|error)")
	root.AddCommand(newInitCommand())
	root.AddCommand(newJobCommand())
	root.AddCommand(newDemoCommand())
	root.AddCommand(newRunsCommand())
	root.AddCommand(newVerifyCommand())
	root.AddCommand(newReportCommand())
	root.AddCommand(newArtifactCommand())
	root.AddCommand(newAgentCommand())
	root.AddCommand(newQueueCommand())
	return root
}

// loadDotEnv reads .env from the working directory when one exists.
func loadDotEnv() error {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("load .env: %w", err)
	}
	return nil
}

func loadSettings(cmd *cobra.Command) (tracking.Settings, error) {
	return tracking.LoadSettings(cmd.Context(), projectFile)
}

func newInitCommand() *cobra.Command {
	var project string
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Initialize runtrack.yaml and the local tracking directory",
		RunE: func(cmd *cobra.Command, _ []string) error {
			s, err := loadSettings(cmd)
			if err != nil {
				return err
			}
			if project != "" {
				s.Project = project
			}
			if err := os.MkdirAll(filepath.Join(s.Dir, "runs"), 0o755); err != nil {
				return err
			}
			if !hash.FileExists(projectFile) {
				if err := tracking.WriteProjectFile(projectFile, s); err != nil {
					return err
				}
			}
			fmt.Fprintf(cmd.OutOrStdout(), "initialized %s and %s\n", projectFile, s.Dir)
			return nil
		},
	}
	cmd.Flags().StringVar(&project, "project", "", "default project name")
	return cmd
}

func newJobCommand() *cobra.Command {
	jobCmd := &cobra.Command{Use: "job", Short: "Built-in job programs"}
	jobCmd.AddCommand(&cobra.Command{
		Use:   "container",
		Short: "Record an image-sourced run with a fixed config and loss curve",
		RunE: func(cmd *cobra.Command, _ []string) error {
			run, err := jobs.ContainerCreation(cmd.Context(), projectFile)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), run.Dir())
			return nil
		},
	})
	return jobCmd
}

func newRunsCommand() *cobra.Command {
	runsCmd := &cobra.Command{Use: "runs", Short: "Inspect recorded runs"}
	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List recorded runs",
		RunE: func(cmd *cobra.Command, _ []string) error {
			s, err := loadSettings(cmd)
			if err != nil {
				return err
			}
			runs, err := tracking.ListRuns(s.Dir)
			if err != nil {
				return err
			}
			table := tablewriter.NewWriter(cmd.OutOrStdout())
			table.Header("ID", "Project", "State", "Started", "Runtime", "Job")
			for _, r := range runs {
				job := "-"
				if r.Job != nil {
					job = r.Job.Image
				}
				runtime := "-"
				if r.FinishedAt != "" {
					runtime = fmt.Sprintf("%.1fs", r.RuntimeSecs)
				}
				table.Append([]string{r.RunID, r.Project, r.State, r.StartedAt, runtime, job})
			}
			table.Render()
			return nil
		},
	}
	var outPath string
	showCmd := &cobra.Command{
		Use:   "show <run-id>",
		Short: "Render a markdown summary of one run",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := loadSettings(cmd)
			if err != nil {
				return err
			}
			runDir := filepath.Join(s.Dir, "runs", args[0])
			if outPath != "" {
				if err := report.WriteRunSummary(outPath, runDir); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), outPath)
				return nil
			}
			md, err := report.BuildRunSummary(runDir)
			if err != nil {
				return err
			}
			fmt.Fprint(cmd.OutOrStdout(), md)
			return nil
		},
	}
	showCmd.Flags().StringVar(&outPath, "out", "", "write the summary to a file")
	runsCmd.AddCommand(listCmd, showCmd)
	return runsCmd
}

func newVerifyCommand() *cobra.Command {
	var source, format, outPath, schemaDir string
	cmd := &cobra.Command{
		Use:   "verify",
		Short: "Verify run records, artifact digests and history",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if source == "" {
				s, err := loadSettings(cmd)
				if err != nil {
					return err
				}
				source = s.Dir
			}
			r := verify.Run(verify.Options{Source: source, SchemaDir: schemaDir})

			switch format {
			case "json":
				if outPath == "" {
					outPath = "verify.json"
				}
				if err := report.WriteJSON(outPath, r); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), outPath)
			case "md":
				if outPath == "" {
					outPath = "verify.md"
				}
				if err := report.WriteMarkdown(outPath, r); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), outPath)
			default:
				return fmt.Errorf("unsupported format %s", format)
			}

			if !r.Passed {
				return cliError{code: r.ExitCode, err: fmt.Errorf("verification failed: %s", strings.Join(r.Violations, "; "))}
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&source, "runs", "", "tracking directory or run directory (default: settings dir)")
	cmd.Flags().StringVar(&format, "format", "json", "output format (json|md)")
	cmd.Flags().StringVar(&outPath, "out", "", "output report path")
	cmd.Flags().StringVar(&schemaDir, "schema-dir", "", "schema directory (default: embedded schemas)")
	return cmd
}

func newReportCommand() *cobra.Command {
	var inPath, outPath string
	cmd := &cobra.Command{
		Use:   "report",
		Short: "Generate markdown report from verify JSON",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if inPath == "" || outPath == "" {
				return fmt.Errorf("--in and --out are required")
			}
			raw, err := os.ReadFile(inPath)
			if err != nil {
				return err
			}
			var r verify.Report
			if err := json.Unmarshal(raw, &r); err != nil {
				return err
			}
			if err := report.WriteMarkdown(outPath, r); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), outPath)
			return nil
		},
	}
	cmd.Flags().StringVar(&inPath, "in", "", "verify report json input")
	cmd.Flags().StringVar(&outPath, "out", "", "markdown output")
	return cmd
}
