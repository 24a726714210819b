package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"github.com/drewfead/autocoder/internal/api"
	"github.com/drewfead/autocoder/internal/cli"
	"github.com/drewfead/autocoder/internal/control"
	"github.com/drewfead/autocoder/internal/live"
	"github.com/drewfead/autocoder/internal/logging"
	"github.com/drewfead/autocoder/internal/session"
	"github.com/drewfead/autocoder/internal/store"
	"github.com/drewfead/autocoder/internal/tui/dashboard"
)

// settleTimeout bounds how long CLI commands wait for the live stream to
// report the agent's status before acting on it.
const settleTimeout = 5 * time.Second

func newClient() (*api.Client, error) {
	opts := []api.Option{api.WithTimeout(cfg.Server.RequestTimeout)}
	if cfg.Server.AuthSecret != "" {
		signer, err := api.NewSigner(cfg.Server.AuthSecret, cfg.Server.ClientID, cfg.Server.TokenTTL)
		if err != nil {
			return nil, fmt.Errorf("configure auth: %w", err)
		}
		opts = append(opts, api.WithSigner(signer))
	}
	return api.New(cfg.Server.URL, opts...), nil
}

// openStore opens the local cache. A nil store means caching is off or
// unavailable; callers carry on without it.
func openStore() *store.Store {
	if !cfg.Cache.Enabled {
		return nil
	}
	st, err := store.New(cfg.Cache.Database)
	if err != nil {
		logging.Warn("cache unavailable", "path", cfg.Cache.Database, "error", err)
		return nil
	}
	return st
}

func newSession(client *api.Client, st *store.Store) *session.Session {
	opts := session.Options{
		Source:          client,
		Transport:       client,
		Subscriber:      live.NewChannel(client, cfg.Live),
		RefreshInterval: cfg.Snapshot.RefreshInterval,
		ConfirmTimeout:  cfg.Control.ConfirmTimeout,
		CommandTimeout:  cfg.Control.CommandTimeout,
	}
	if st != nil {
		opts.Cache = st
		opts.Journal = st
	}
	return session.New(opts)
}

// startSession runs a session until the returned stop func is called.
func startSession(ctx context.Context, client *api.Client, st *store.Store) (*session.Session, func()) {
	sess := newSession(client, st)
	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		defer close(done)
		if err := sess.Run(ctx); err != nil {
			logging.Error("session stopped", "error", err)
		}
	}()
	return sess, func() {
		cancel()
		<-done
	}
}

// waitFor blocks until ok reports true for the session state or timeout
// elapses. It returns the last state seen.
func waitFor(ctx context.Context, sess *session.Session, timeout time.Duration, ok func(session.State) bool) (session.State, bool) {
	updates, stop := sess.Watch()
	defer stop()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	last := sess.State()
	for {
		if ok(last) {
			return last, true
		}
		select {
		case s := <-updates:
			last = s
		case <-timer.C:
			return last, false
		case <-ctx.Done():
			return last, false
		}
	}
}

// settled reports whether the session has data to act on: the first fetch
// finished and the live stream delivered a status.
func settled(s session.State) bool {
	return !s.Snapshot.Loading && s.View.Loaded() && s.View.StatusSeen
}

func runDashboard(cmd *cobra.Command, args []string) error {
	project, _ := cmd.Flags().GetString("project")
	if project != "" {
		if err := api.ValidateProjectName(project); err != nil {
			return err
		}
	}

	client, err := newClient()
	if err != nil {
		return err
	}
	st := openStore()
	if st != nil {
		defer st.Close()
	}

	sess, stop := startSession(cmd.Context(), client, st)
	defer stop()

	model := dashboard.New(sess, client).WithInitialProject(project)
	defer model.Close()

	p := tea.NewProgram(model, tea.WithAltScreen(), tea.WithContext(cmd.Context()))
	if _, err := p.Run(); err != nil && !errors.Is(err, tea.ErrProgramKilled) {
		return err
	}
	return nil
}

func runProjectsList(ctx context.Context) error {
	client, err := newClient()
	if err != nil {
		return err
	}

	projects, err := client.ListProjects(ctx)
	if err != nil {
		return listCachedProjects(ctx, err)
	}

	if jsonOutput {
		return printJSON(projects)
	}
	if len(projects) == 0 {
		fmt.Println("No projects. Create one with: autocoder projects create <name>")
		return nil
	}
	for _, p := range projects {
		line := cli.Bolden(fmt.Sprintf("%-24s", p.Name))
		if p.Stats.Total > 0 {
			line += fmt.Sprintf(" %s %d/%d", cli.Bar(api.NewProgress(p.Stats.Passing, p.Stats.Total), 20), p.Stats.Passing, p.Stats.Total)
		}
		if !p.HasSpec {
			line += cli.YellowText("  no spec")
		}
		fmt.Println(line)
	}
	return nil
}

// listCachedProjects shows the projects in the local cache when the
// backend cannot be reached.
func listCachedProjects(ctx context.Context, cause error) error {
	st := openStore()
	if st == nil {
		return fmt.Errorf("list projects: %w", cause)
	}
	defer st.Close()

	cached, err := st.ListSnapshots(ctx)
	if err != nil || len(cached) == 0 {
		return fmt.Errorf("list projects: %w", cause)
	}

	fmt.Fprintln(os.Stderr, cli.YellowText(fmt.Sprintf("backend unreachable (%v), showing cached projects", cause)))
	if jsonOutput {
		return printJSON(cached)
	}
	for _, c := range cached {
		fmt.Printf("%s %s %d/%d  %s\n", cli.Bolden(fmt.Sprintf("%-24s", c.Project)),
			cli.Bar(c.Progress, 20), c.Progress.Passing, c.Progress.Total,
			cli.GrayText("cached "+formatAge(time.Since(c.FetchedAt))+" ago"))
	}
	return nil
}

func runProjectsCreate(ctx context.Context, name, path, spec string) error {
	if err := api.ValidateProjectName(name); err != nil {
		return err
	}
	if spec != "manual" && spec != "claude" {
		return fmt.Errorf("unknown spec method %q (want manual or claude)", spec)
	}

	client, err := newClient()
	if err != nil {
		return err
	}
	p, err := client.CreateProject(ctx, api.CreateProjectRequest{Name: name, Path: path, SpecMethod: spec})
	if err != nil {
		return fmt.Errorf("create project: %w", err)
	}
	fmt.Printf("%s Created project %s at %s\n", cli.GreenText(cli.CheckMark), cli.Bolden(p.Name), p.Path)
	return nil
}

func runFeaturesList(ctx context.Context, project string) error {
	if err := api.ValidateProjectName(project); err != nil {
		return err
	}
	client, err := newClient()
	if err != nil {
		return err
	}

	list, err := refreshSnapshot(ctx, client, project)
	if err != nil {
		return err
	}
	if jsonOutput {
		return printJSON(list)
	}

	printFeatures("Pending", cli.YellowText, list.Pending)
	printFeatures("In Progress", cli.BlueText, list.InProgress)
	printFeatures("Done", cli.GreenText, list.Done)
	fmt.Println()
	printProgress(api.ProgressFromFeatures(list))
	return nil
}

func runFeaturesAdd(ctx context.Context, project string, req api.CreateFeatureRequest) error {
	if err := api.ValidateProjectName(project); err != nil {
		return err
	}
	if strings.TrimSpace(req.Name) == "" {
		return errors.New("feature name is required")
	}
	if req.Steps == nil {
		req.Steps = []string{}
	}

	client, err := newClient()
	if err != nil {
		return err
	}
	f, err := client.CreateFeature(ctx, project, req)
	if err != nil {
		return fmt.Errorf("create feature: %w", err)
	}
	fmt.Printf("%s Added feature #%d %s\n", cli.GreenText(cli.CheckMark), f.ID, cli.Bolden(f.Name))

	list, err := refreshSnapshot(ctx, client, project)
	if err != nil {
		logging.Warn("refresh after create failed", "project", project, "error", err)
		return nil
	}
	printProgress(api.ProgressFromFeatures(list))
	return nil
}

// refreshSnapshot fetches the feature list and updates the local cache.
func refreshSnapshot(ctx context.Context, client *api.Client, project string) (*api.FeatureList, error) {
	list, err := client.ListFeatures(ctx, project)
	if err != nil {
		return nil, fmt.Errorf("list features: %w", err)
	}
	if st := openStore(); st != nil {
		defer st.Close()
		if err := st.SaveSnapshot(ctx, project, list, time.Now()); err != nil {
			logging.Warn("cache write failed", "project", project, "error", err)
		}
	}
	return list, nil
}

type statusReport struct {
	Project      string          `json:"project"`
	AgentStatus  api.AgentStatus `json:"agent_status"`
	ServerStatus api.AgentStatus `json:"server_status,omitempty"`
	Connected    bool            `json:"connected"`
	Live         bool            `json:"live_status"`
	Progress     api.Progress    `json:"progress"`
	Stale        bool            `json:"stale"`
	FetchedAt    time.Time       `json:"fetched_at"`
	Error        string          `json:"error,omitempty"`
}

func runStatus(ctx context.Context, project string, wait time.Duration) error {
	if err := api.ValidateProjectName(project); err != nil {
		return err
	}
	client, err := newClient()
	if err != nil {
		return err
	}
	st := openStore()
	if st != nil {
		defer st.Close()
	}

	sess, stop := startSession(ctx, client, st)
	defer stop()
	if err := sess.Select(ctx, project); err != nil {
		return err
	}
	s, _ := waitFor(ctx, sess, wait, settled)

	if !s.View.Loaded() && s.Snapshot.Err != nil {
		return fmt.Errorf("status %s: %w", project, s.Snapshot.Err)
	}

	report := statusReport{
		Project:     project,
		AgentStatus: s.View.AgentStatus,
		Connected:   s.View.Connected,
		Live:        s.View.StatusSeen,
		Progress:    s.View.Progress,
		Stale:       s.Snapshot.Stale,
		FetchedAt:   s.Snapshot.FetchedAt,
	}
	if s.Snapshot.Err != nil {
		report.Error = s.Snapshot.Err.Error()
	}
	// The REST status is informational; the reconciled status only trusts
	// the live stream.
	if resp, err := client.AgentStatus(ctx, project); err == nil {
		report.ServerStatus = resp.Status
	}

	if jsonOutput {
		return printJSON(report)
	}

	fmt.Println(cli.Bolden(project))
	fmt.Printf("  Agent:      %s", cli.AgentStatus(report.AgentStatus))
	if !report.Live {
		fmt.Print(cli.GrayText(" (no live status)"))
		if report.ServerStatus != "" {
			fmt.Print(cli.GrayText(", server reports "+string(report.ServerStatus)))
		}
	}
	fmt.Println()
	if report.Connected {
		fmt.Printf("  Stream:     %s\n", cli.GreenText(cli.Bullet+" connected"))
	} else {
		fmt.Printf("  Stream:     %s\n", cli.RedText(cli.Circle+" "+s.Connection.State.String()))
	}
	fmt.Print("  ")
	printProgress(report.Progress)
	if report.Stale {
		fmt.Printf("  %s\n", cli.YellowText("cached data from "+formatAge(time.Since(report.FetchedAt))+" ago"))
	}
	if report.Error != "" {
		fmt.Printf("  %s\n", cli.RedText("refresh failed: "+report.Error))
	}
	return nil
}

func agentCommands() []*cobra.Command {
	descriptions := map[api.Command]string{
		api.CommandStart:  "Start the agent",
		api.CommandStop:   "Stop the agent",
		api.CommandPause:  "Pause the agent",
		api.CommandResume: "Resume a paused agent",
	}

	var cmds []*cobra.Command
	for _, c := range []api.Command{api.CommandStart, api.CommandStop, api.CommandPause, api.CommandResume} {
		command := c
		cmds = append(cmds, &cobra.Command{
			Use:   string(command) + " <project>",
			Short: descriptions[command],
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				return runAgentCommand(cmd.Context(), args[0], command)
			},
		})
	}
	return cmds
}

// runAgentCommand issues cmd through a session so it is validated against
// the live status and confirmed the same way the dashboard does it.
func runAgentCommand(ctx context.Context, project string, cmd api.Command) error {
	client, err := newClient()
	if err != nil {
		return err
	}
	st := openStore()
	if st != nil {
		defer st.Close()
	}

	sess, stop := startSession(ctx, client, st)
	defer stop()
	if err := sess.Select(ctx, project); err != nil {
		return err
	}
	if _, ok := waitFor(ctx, sess, settleTimeout, settled); !ok {
		fmt.Fprintln(os.Stderr, cli.YellowText("no live status yet, assuming stopped"))
	}

	if err := sess.Issue(ctx, cmd); err != nil {
		return err
	}
	fmt.Printf("%s %s sent, waiting for confirmation...\n", cli.CyanText(cli.ArrowRight), cmd)

	// Bounded by the session's confirm timeout.
	s, _ := waitFor(ctx, sess, cfg.Control.ConfirmTimeout+time.Second, func(s session.State) bool {
		return !s.Command.Busy()
	})

	switch {
	case s.Command.Err != nil:
		return s.Command.Err
	case s.Command.Warning != nil:
		fmt.Println(cli.YellowText(s.Command.Warning.Error()))
	case s.Command.Last != nil && s.Command.Last.Kind == control.OutcomeConfirmed:
		fmt.Printf("%s agent is %s\n", cli.GreenText(cli.CheckMark), cli.AgentStatus(s.Command.Last.To))
	default:
		fmt.Println(cli.YellowText("still waiting for confirmation"))
	}
	return nil
}

type historyEntry struct {
	ID         string     `json:"id"`
	Project    string     `json:"project"`
	Command    string     `json:"command"`
	From       string     `json:"from"`
	To         string     `json:"to,omitempty"`
	Outcome    string     `json:"outcome"`
	Error      string     `json:"error,omitempty"`
	IssuedAt   time.Time  `json:"issued_at"`
	ResolvedAt *time.Time `json:"resolved_at,omitempty"`
}

func runHistory(ctx context.Context, project string, limit int) error {
	if project != "" {
		if err := api.ValidateProjectName(project); err != nil {
			return err
		}
	}
	st := openStore()
	if st == nil {
		return errors.New("command history needs the local cache (cache.enabled)")
	}
	defer st.Close()

	records, err := st.ListCommands(ctx, project, limit)
	if err != nil {
		return fmt.Errorf("list commands: %w", err)
	}

	if jsonOutput {
		entries := make([]historyEntry, 0, len(records))
		for _, r := range records {
			entries = append(entries, historyEntry{
				ID: r.ID, Project: r.Project, Command: r.Command,
				From: r.StatusBefore, To: r.StatusAfter,
				Outcome: r.Outcome, Error: r.Error,
				IssuedAt: r.IssuedAt, ResolvedAt: r.ResolvedAt,
			})
		}
		return printJSON(entries)
	}

	if len(records) == 0 {
		fmt.Println("No commands recorded")
		return nil
	}
	for _, r := range records {
		transition := r.StatusBefore
		if r.StatusAfter != "" {
			transition += " " + cli.ArrowRight + " " + r.StatusAfter
		}
		line := fmt.Sprintf("%s  %-16s %-7s %-22s %s",
			cli.GrayText(r.IssuedAt.Local().Format("2006-01-02 15:04:05")),
			truncate(r.Project, 16), r.Command, transition, cli.Outcome(r.Outcome))
		if r.Error != "" {
			line += "  " + cli.RedText(truncate(r.Error, 60))
		}
		fmt.Println(line)
	}
	return nil
}
