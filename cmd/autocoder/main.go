// Command autocoder monitors and controls autonomous coding agents.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/drewfead/autocoder/internal/api"
	"github.com/drewfead/autocoder/internal/config"
	"github.com/drewfead/autocoder/internal/logging"
)

// Version is set at build time
var Version = "dev"

var (
	cfg        *config.Config
	configPath string
	serverURL  string
	jsonOutput bool
)

func main() {
	os.Exit(run())
}

func run() (exitCode int) {
	// Top-level panic recovery
	defer func() {
		if r := recover(); r != nil {
			logging.CapturePanic(r, "component", "main")
			fmt.Fprintf(os.Stderr, "FATAL: unrecovered panic: %v\n", r)
			exitCode = 2
		}
	}()
	defer logging.Flush(2 * time.Second)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		return 1
	}
	return 0
}

// setup loads config and initializes logging before any command runs.
func setup(cmd *cobra.Command, args []string) error {
	var err error
	if configPath != "" {
		cfg, err = config.LoadFile(configPath)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if serverURL != "" {
		cfg.Server.URL = serverURL
		if err := cfg.Validate(); err != nil {
			return err
		}
	}

	if err := logging.Init(logging.Options{
		Level:     logging.ParseLevel(cfg.Logging.Level),
		SentryDSN: cfg.Logging.SentryDSN,
		Env:       getEnv(),
		Version:   Version,
		File:      cfg.Logging.File,
	}); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: failed to initialize logging: %v\n", err)
	}
	return nil
}

func getEnv() string {
	if env := os.Getenv("AUTOCODER_ENV"); env != "" {
		return env
	}
	return "development"
}

var rootCmd = &cobra.Command{
	Use:   "autocoder",
	Short: "Monitor and control autonomous coding agents",
	Long: `autocoder watches an agent working through a project's feature list.

It merges the backend's feature snapshot with the live event stream into one
view and drives the agent lifecycle (start, pause, resume, stop).

Run without a subcommand to open the dashboard.`,
	SilenceUsage:      true,
	PersistentPreRunE: setup,
	RunE:              runDashboard,
}

var projectsCmd = &cobra.Command{
	Use:   "projects",
	Short: "Manage projects",
}

var projectsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List projects with progress",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runProjectsList(cmd.Context())
	},
}

var projectsCreateCmd = &cobra.Command{
	Use:   "create <name>",
	Short: "Create a project",
	Long: `Create a new project on the backend.

Names may contain letters, digits, '-' and '_'.

Examples:
  autocoder projects create todo-app
  autocoder projects create todo-app --path ~/src/todo --spec claude`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		path, _ := cmd.Flags().GetString("path")
		spec, _ := cmd.Flags().GetString("spec")
		return runProjectsCreate(cmd.Context(), args[0], path, spec)
	},
}

var featuresCmd = &cobra.Command{
	Use:   "features",
	Short: "Manage a project's features",
}

var featuresListCmd = &cobra.Command{
	Use:   "list <project>",
	Short: "List features by status",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runFeaturesList(cmd.Context(), args[0])
	},
}

var featuresAddCmd = &cobra.Command{
	Use:   "add <project> <name>",
	Short: "Add a feature to a project",
	Long: `Add a feature to a project's backlog.

Examples:
  autocoder features add todo-app "Export to CSV" -c export -d "Download all todos" -s "Click export" -s "File downloads"`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		category, _ := cmd.Flags().GetString("category")
		description, _ := cmd.Flags().GetString("description")
		steps, _ := cmd.Flags().GetStringArray("step")
		var priority *int
		if cmd.Flags().Changed("priority") {
			p, _ := cmd.Flags().GetInt("priority")
			priority = &p
		}
		return runFeaturesAdd(cmd.Context(), args[0], api.CreateFeatureRequest{
			Category:    category,
			Name:        args[1],
			Description: description,
			Steps:       steps,
			Priority:    priority,
		})
	},
}

var statusCmd = &cobra.Command{
	Use:   "status <project>",
	Short: "Show the reconciled status of a project",
	Long: `Show agent status, connection and progress for a project.

The snapshot and the live stream are merged exactly as the dashboard does.
Use --wait to stay connected until the first live status arrives.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		wait, _ := cmd.Flags().GetDuration("wait")
		return runStatus(cmd.Context(), args[0], wait)
	},
}

var agentCmd = &cobra.Command{
	Use:   "agent",
	Short: "Control a project's agent",
}

var historyCmd = &cobra.Command{
	Use:   "history [project]",
	Short: "Show journaled agent commands",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		project := ""
		if len(args) == 1 {
			project = args[0]
		}
		limit, _ := cmd.Flags().GetInt("limit")
		return runHistory(cmd.Context(), project, limit)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Config file (default $AUTOCODER_CONFIG or ~/.config/autocoder/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&serverURL, "server", "", "Backend URL (overrides config)")
	rootCmd.Flags().StringP("project", "p", "", "Project to open")

	projectsListCmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")
	projectsCreateCmd.Flags().String("path", "", "Project directory on the backend host")
	projectsCreateCmd.Flags().String("spec", "manual", "Spec method (manual or claude)")
	projectsCmd.AddCommand(projectsListCmd, projectsCreateCmd)

	featuresListCmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")
	featuresAddCmd.Flags().StringP("category", "c", "", "Feature category")
	featuresAddCmd.Flags().StringP("description", "d", "", "Feature description")
	featuresAddCmd.Flags().StringArrayP("step", "s", nil, "Verification step (repeatable)")
	featuresAddCmd.Flags().Int("priority", 0, "Priority (lower runs first)")
	featuresCmd.AddCommand(featuresListCmd, featuresAddCmd)

	statusCmd.Flags().Duration("wait", 3*time.Second, "How long to wait for a live status")
	statusCmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")

	for _, c := range agentCommands() {
		agentCmd.AddCommand(c)
	}

	historyCmd.Flags().IntP("limit", "n", 20, "Maximum number of commands")
	historyCmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")

	rootCmd.AddCommand(projectsCmd, featuresCmd, statusCmd, agentCmd, historyCmd)
}
