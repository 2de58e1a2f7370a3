package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	agentports "oape/internal/agent/ports"
	"oape/internal/config"
	"oape/internal/logging"
	"oape/internal/prompts"
	"oape/internal/server/app"
	"oape/internal/server/bootstrap"
)

var (
	green  = color.New(color.FgGreen).SprintFunc()
	yellow = color.New(color.FgYellow).SprintFunc()
	red    = color.New(color.FgRed).SprintFunc()
	cyan   = color.New(color.FgCyan).SprintFunc()
	gray   = color.New(color.FgHiBlack).SprintFunc()
	bold   = color.New(color.Bold).SprintFunc()
)

func newRootCmd() *cobra.Command {
	var configPath string

	root := &cobra.Command{
		Use:   "oape",
		Short: "Agent job orchestrator for repository commands",
		Long: "oape runs natural-language repository commands through a tool-using agent.\n" +
			"Jobs execute a command from the catalog against a working directory,\n" +
			"driven by a completion service with sandboxed shell and file tools.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&configPath, "config", "", "path to oape.yaml")

	root.AddCommand(newServeCmd(&configPath))
	root.AddCommand(newRunCmd(&configPath))
	root.AddCommand(newCommandsCmd(&configPath))
	return root
}

func loadConfig(configPath string) (*config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	logging.SetGlobalLevel(logging.ParseLevel(cfg.Logging.Level))
	return cfg, nil
}

func newServeCmd(configPath *string) *cobra.Command {
	var port int

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(*configPath)
			if err != nil {
				return err
			}
			if port > 0 {
				cfg.Server.Port = port
			}

			container, err := bootstrap.Build(cfg)
			if err != nil {
				return err
			}
			srv := bootstrap.NewHTTPServer(container)

			errCh := make(chan error, 1)
			go func() {
				fmt.Printf("%s http://%s\n", bold("Listening on"), srv.Addr)
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					errCh <- err
				}
			}()

			quit := make(chan os.Signal, 1)
			signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
			select {
			case err := <-errCh:
				return err
			case <-quit:
			}

			ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
			defer cancel()
			if err := srv.Shutdown(ctx); err != nil {
				fmt.Fprintf(os.Stderr, "%s %v\n", red("shutdown:"), err)
			}
			container.Cleanup(ctx)
			return nil
		},
	}
	cmd.Flags().IntVar(&port, "port", 0, "listen port (overrides config)")
	return cmd
}

func newRunCmd(configPath *string) *cobra.Command {
	var workingDir string
	var quiet bool

	cmd := &cobra.Command{
		Use:   "run <command> <prompt>...",
		Short: "Run a command in-process and stream its progress",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(*configPath)
			if err != nil {
				return err
			}

			container, err := bootstrap.Build(cfg)
			if err != nil {
				return err
			}
			defer func() {
				ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
				defer cancel()
				container.Cleanup(ctx)
			}()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			return runJob(ctx, container.Orchestrator, app.SubmitRequest{
				Command:    args[0],
				Prompt:     strings.Join(args[1:], " "),
				WorkingDir: workingDir,
			}, cmd.OutOrStdout(), quiet)
		},
	}
	cmd.Flags().StringVarP(&workingDir, "dir", "d", "", "working directory (default: current directory)")
	cmd.Flags().BoolVarP(&quiet, "quiet", "q", false, "print only the final output")
	return cmd
}

// runJob submits the job, streams its events to out and returns an error when
// the job ends failed. Ctrl-C cancels the job and waits for the terminal event.
func runJob(ctx context.Context, orch *app.Orchestrator, req app.SubmitRequest, out io.Writer, quiet bool) error {
	job, err := orch.Submit(context.Background(), req)
	if err != nil {
		return err
	}
	if !quiet {
		fmt.Fprintf(out, "%s %s\n\n", gray("job:"), job.ID)
	}

	replay, events, cancel, err := orch.Subscribe(context.Background(), job.ID)
	if err != nil {
		return err
	}
	defer cancel()

	cancelRequested := false
	handle := func(event agentports.JobEvent) (terminal bool) {
		if !quiet {
			printEvent(out, event)
		}
		return event.Terminal()
	}

	for _, event := range replay {
		if handle(event) {
			return finishJob(orch, job.ID, out, quiet)
		}
	}
	for {
		select {
		case event, open := <-events:
			if !open {
				return finishJob(orch, job.ID, out, quiet)
			}
			if handle(event) {
				return finishJob(orch, job.ID, out, quiet)
			}
		case <-ctx.Done():
			if cancelRequested {
				return ctx.Err()
			}
			cancelRequested = true
			fmt.Fprintf(out, "\n%s\n", yellow("cancelling..."))
			if err := orch.Cancel(context.Background(), job.ID); err != nil {
				return err
			}
			// keep draining events until the terminal status arrives
			ctx = context.Background()
		}
	}
}

func printEvent(out io.Writer, event agentports.JobEvent) {
	switch event.Type {
	case agentports.EventStatus:
		fmt.Fprintf(out, "%s %s\n", gray("status:"), event.Status)
		if event.Error != "" {
			fmt.Fprintf(out, "%s %s\n", red("error:"), event.Error)
		}

	case agentports.EventTurn:
		if event.Turn == nil {
			return
		}
		switch event.Turn.Kind {
		case agentports.TurnAssistantText:
			fmt.Fprintf(out, "%s\n", event.Turn.Text)
		case agentports.TurnToolRequest:
			args, _ := json.Marshal(event.Turn.Arguments)
			fmt.Fprintf(out, "%s %s %s\n", cyan("tool:"), bold(event.Turn.Name), gray(truncate(string(args), 120)))
		case agentports.TurnToolResult:
			if event.Turn.IsError {
				fmt.Fprintf(out, "%s %s\n", red("  !"), truncate(event.Turn.Output, 200))
			} else {
				fmt.Fprintf(out, "%s %s\n", gray("  >"), gray(truncate(event.Turn.Output, 200)))
			}
		}
	}
}

func finishJob(orch *app.Orchestrator, jobID string, out io.Writer, quiet bool) error {
	job, err := orch.GetJob(context.Background(), jobID)
	if err != nil {
		return err
	}

	switch {
	case job.Status == "completed" && quiet:
		fmt.Fprintln(out, job.Result)
	case job.Status == "completed":
		fmt.Fprintf(out, "\n%s (%d iterations, %d tokens)\n",
			green("completed"), job.Iterations, job.Usage.TotalTokens)
	default:
		fmt.Fprintf(out, "\n%s %s\n", red("failed:"), job.Error)
		return fmt.Errorf("job %s failed", job.ID)
	}
	return nil
}

func newCommandsCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "commands",
		Short: "List the available commands",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(*configPath)
			if err != nil {
				return err
			}
			loader, err := prompts.NewLoader(cfg.Prompts.CatalogDir)
			if err != nil {
				return err
			}
			for _, command := range loader.Commands() {
				fmt.Fprintf(cmd.OutOrStdout(), "%-24s %s\n", bold(command.Name), command.Description)
			}
			return nil
		},
	}
}

func truncate(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	return s[:limit] + "..."
}
