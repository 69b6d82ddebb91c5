// Package main provides the reportgen binary entry point.
// Reportgen drafts inspection reports with a supervisor, a researcher and a
// writer agent, pausing for a human to approve the report plan.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"runtime"
	"strings"
	"sync"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	// Register LLM providers via init()
	_ "github.com/c360studio/reportgen/llm/providers"

	"github.com/c360studio/reportgen/broadcast"
	"github.com/c360studio/reportgen/config"
	"github.com/c360studio/reportgen/hitl"
	"github.com/c360studio/reportgen/storage"
	"github.com/c360studio/reportgen/workflow"
)

const (
	Version   = "0.1.0"
	BuildTime = "dev"
	appName   = "reportgen"
)

func main() {
	defer func() {
		if r := recover(); r != nil {
			buf := make([]byte, 4096)
			n := runtime.Stack(buf, false)
			_, _ = fmt.Fprintf(os.Stderr, "PANIC: %v\nStack trace:\n%s\n", r, string(buf[:n]))
			os.Exit(2)
		}
	}()

	// A missing .env is fine; secrets may come from the environment.
	_ = godotenv.Load()

	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// globalFlags are shared by every subcommand.
type globalFlags struct {
	configPath string
	logLevel   string
}

func rootCmd() *cobra.Command {
	flags := &globalFlags{}

	cmd := &cobra.Command{
		Use:   appName,
		Short: "Multi-agent inspection report generator",
		Long: `Reportgen drafts inspection reports with a team of agents.

A supervisor routes between a researcher, which gathers evidence from the
knowledge base, the web and project photos, and a writer, which plans and
writes the report. A run can pause for a human to approve the plan and be
resumed from any process.`,
		SilenceUsage: true,
	}

	cmd.PersistentFlags().StringVarP(&flags.configPath, "config", "c", "", "Config file path (YAML)")
	cmd.PersistentFlags().StringVar(&flags.logLevel, "log-level", "", "Log level (debug, info, warn, error)")

	cmd.AddCommand(
		serveCmd(flags),
		runCmd(flags),
		resumeCmd(flags),
		statusCmd(flags),
		projectCmd(flags),
		&cobra.Command{
			Use:   "version",
			Short: "Print version information",
			Run: func(cmd *cobra.Command, args []string) {
				fmt.Fprintf(cmd.OutOrStdout(), "%s version %s (build: %s)\n", appName, Version, BuildTime)
			},
		},
	)

	return cmd
}

// parseLevel maps a level name to a slog level. Unknown names are info.
func parseLevel(name string) slog.Level {
	switch strings.ToLower(name) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// setup loads the layered config and configures logging. The --log-level
// flag overrides the configured level.
func setup(flags *globalFlags) (*config.Config, *slog.Logger, *slog.LevelVar, error) {
	level := new(slog.LevelVar)
	if flags.logLevel != "" {
		level.Set(parseLevel(flags.logLevel))
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	cfg, err := config.NewLoader(logger).Load(flags.configPath)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("load config: %w", err)
	}
	if flags.logLevel != "" {
		cfg.Log.Level = strings.ToLower(flags.logLevel)
	} else {
		level.Set(parseLevel(cfg.Log.Level))
	}
	return cfg, logger, level, nil
}

// startApp builds and starts the application for one command.
func startApp(ctx context.Context, flags *globalFlags, opts ...AppOption) (*App, error) {
	cfg, logger, level, err := setup(flags)
	if err != nil {
		return nil, err
	}
	app, err := NewApp(cfg, logger, append([]AppOption{WithLevelVar(level)}, opts...)...)
	if err != nil {
		return nil, err
	}
	if err := app.Start(ctx); err != nil {
		app.Shutdown()
		return nil, err
	}
	return app, nil
}

func signalContext(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
}

func serveCmd(flags *globalFlags) *cobra.Command {
	var addr string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the report API",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signalContext(cmd)
			defer cancel()

			app, err := startApp(ctx, flags)
			if err != nil {
				return err
			}
			defer app.Shutdown()

			if addr != "" {
				app.cfg.HTTP.Addr = addr
			}
			slog.Info("Reportgen ready", "version", Version, "addr", app.cfg.HTTP.Addr)

			watchPath := flags.configPath
			if watchPath == "" {
				watchPath = config.NewLoader(app.logger).ProjectConfigPath()
			}
			return app.Serve(ctx, watchPath)
		},
	}

	cmd.Flags().StringVar(&addr, "addr", "", "HTTP listen address (overrides http.addr)")
	return cmd
}

func runCmd(flags *globalFlags) *cobra.Command {
	var (
		req    hitl.StartRequest
		images []string
		echo   bool
	)

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Generate a report, streaming progress to stdout",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signalContext(cmd)
			defer cancel()

			var opts []AppOption
			if echo {
				opts = append(opts, WithPublisher(echoPublisher(cmd.ErrOrStderr())))
			}
			app, err := startApp(ctx, flags, opts...)
			if err != nil {
				return err
			}
			defer app.Shutdown()

			req.Options.SelectedImageIDs = images
			req.Stream = cmd.OutOrStdout()
			handle, err := app.StartRun(ctx, req)
			fmt.Fprintln(cmd.OutOrStdout())
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), handle)
		},
	}

	cmd.Flags().StringVar(&req.ProjectID, "project", "", "Project ID")
	cmd.Flags().StringVar(&req.UserID, "user", "", "User ID")
	cmd.Flags().StringVar(&req.ReportType, "type", "observation", "Report type")
	cmd.Flags().StringVar(&req.Options.Provider, "model", "", "Pin every agent to this model endpoint")
	cmd.Flags().StringVar(&req.Options.Instructions, "instructions", "", "Extra instructions for the run")
	cmd.Flags().StringSliceVar(&images, "images", nil, "Limit photo tools to these image IDs")
	cmd.Flags().BoolVar(&echo, "echo", false, "Print broadcast events to stderr")
	_ = cmd.MarkFlagRequired("project")
	return cmd
}

func resumeCmd(flags *globalFlags) *cobra.Command {
	var (
		reject   bool
		feedback string
		planPath string
	)

	cmd := &cobra.Command{
		Use:   "resume <report-id>",
		Short: "Approve or reject a paused report plan and continue the run",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			req := hitl.ResumeRequest{
				RunID:          args[0],
				ApprovalStatus: workflow.ApprovalApproved,
				UserFeedback:   feedback,
				Stream:         cmd.OutOrStdout(),
			}
			if reject {
				req.ApprovalStatus = workflow.ApprovalRejected
			}
			if planPath != "" {
				plan, err := readPlan(planPath)
				if err != nil {
					return err
				}
				req.ModifiedPlan = plan
			}

			ctx, cancel := signalContext(cmd)
			defer cancel()

			app, err := startApp(ctx, flags)
			if err != nil {
				return err
			}
			defer app.Shutdown()

			ack, err := app.ResumeRun(ctx, req)
			fmt.Fprintln(cmd.OutOrStdout())
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), ack)
		},
	}

	cmd.Flags().BoolVar(&reject, "reject", false, "Reject the plan instead of approving it")
	cmd.Flags().StringVar(&feedback, "feedback", "", "Reviewer feedback for the writer")
	cmd.Flags().StringVar(&planPath, "plan", "", "JSON file with an edited plan to approve")
	return cmd
}

func statusCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "status <report-id>",
		Short: "Show the plan review state of a report",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signalContext(cmd)
			defer cancel()

			app, err := startApp(ctx, flags)
			if err != nil {
				return err
			}
			defer app.Shutdown()

			rec, err := app.Status(ctx, args[0])
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), rec)
		},
	}
}

func projectCmd(flags *globalFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "project",
		Short: "Manage project data",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "import <file.json>",
		Short: "Import a project with its specs and photos",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			project, err := readProject(args[0])
			if err != nil {
				return err
			}

			ctx, cancel := signalContext(cmd)
			defer cancel()

			app, err := startApp(ctx, flags)
			if err != nil {
				return err
			}
			defer app.Shutdown()

			if err := app.ImportProject(ctx, project); err != nil {
				return fmt.Errorf("import project: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "✓ Imported project %s (%d specs, %d images)\n",
				project.ID, len(project.Specs), len(project.Images))
			return nil
		},
	})
	return cmd
}

func readProject(path string) (*storage.Project, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read project file: %w", err)
	}
	var p storage.Project
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("parse project file: %w", err)
	}
	if p.ID == "" {
		return nil, errors.New("project file has no id")
	}
	return &p, nil
}

func readPlan(path string) (*workflow.ReportPlan, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read plan file: %w", err)
	}
	var plan workflow.ReportPlan
	if err := json.Unmarshal(data, &plan); err != nil {
		return nil, fmt.Errorf("parse plan file: %w", err)
	}
	return &plan, nil
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// echoPublisher writes each broadcast event to w as one JSON line.
func echoPublisher(w io.Writer) broadcast.Publisher {
	var mu sync.Mutex
	enc := json.NewEncoder(w)
	return broadcast.NewRecorder(func(r broadcast.Recorded) {
		mu.Lock()
		defer mu.Unlock()
		_ = enc.Encode(r.Event)
	})
}

// wrapNATSError provides helpful guidance when NATS connection fails.
func wrapNATSError(err error, url string) error {
	errStr := err.Error()

	if strings.Contains(errStr, "connection refused") ||
		strings.Contains(errStr, "no servers available") ||
		strings.Contains(errStr, "timeout") {
		return fmt.Errorf(`NATS connection failed: %w

NATS is not running at %s.

To start NATS:
  docker compose up -d nats

Or unset nats.url to use the embedded server.`, err, url)
	}

	return fmt.Errorf("NATS connection failed: %w", err)
}
