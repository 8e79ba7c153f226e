package main

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"github.com/nostrportal/portal/internal/config"
	"github.com/nostrportal/portal/internal/conversation"
	"github.com/nostrportal/portal/internal/identity"
	"github.com/nostrportal/portal/internal/relay"
	"github.com/nostrportal/portal/internal/router"
)

var tuiCmd = &cobra.Command{
	Use:   "tui",
	Short: "Run the Portal server with a live terminal dashboard",
	RunE:  runTUI,
}

func runTUI(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	logger := log.New(&discardWriter{}, "", 0)

	keypair, err := identity.KeypairFromHex(cfg.Nostr.PrivateKey)
	if err != nil {
		return fmt.Errorf("loading server keypair: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pool := relay.New(ctx, keypair, logger)
	for _, url := range cfg.Nostr.Relays {
		pool.Add(url)
	}
	defer pool.Close()

	rtr := router.New(pool, keypair, logger)
	go rtr.Run(ctx)

	runtime := conversation.New(pool, rtr, keypair, logger)

	sp := spinner.New()
	sp.Spinner = spinner.Dot
	sp.Style = backoffStyle

	m := dashboardModel{
		pool:    pool,
		router:  rtr,
		runtime: runtime,
		pubkey:  keypair.PubKey().String(),
		spinner: sp,
	}

	program := tea.NewProgram(m)
	_, err = program.Run()
	return err
}

// discardWriter silences the ambient log.Printf output so it doesn't
// interleave with the dashboard's rendering.
type discardWriter struct{}

func (*discardWriter) Write(p []byte) (int, error) { return len(p), nil }

type tickMsg time.Time

type dashboardModel struct {
	pool    *relay.Pool
	router  *router.Router
	runtime *conversation.Runtime
	pubkey  string
	spinner spinner.Model
}

func (m dashboardModel) Init() tea.Cmd {
	return tea.Batch(tick(), m.spinner.Tick)
}

func tick() tea.Cmd {
	return tea.Tick(time.Second, func(t time.Time) tea.Msg { return tickMsg(t) })
}

func (m dashboardModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c", "esc":
			return m, tea.Quit
		}
	case tickMsg:
		return m, tick()
	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}
	return m, nil
}

var (
	titleStyle    = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("63"))
	connectedStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
	backoffStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("214"))
	downStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
	faintStyle    = lipgloss.NewStyle().Faint(true)
)

func (m dashboardModel) View() string {
	var b strings.Builder

	fmt.Fprintf(&b, "%s  %s\n\n", titleStyle.Render("portal"), faintStyle.Render(m.pubkey))

	fmt.Fprintln(&b, titleStyle.Render("relays"))
	for _, snap := range m.pool.Snapshot() {
		style := downStyle
		prefix := "  "
		switch snap.State {
		case relay.StateConnected:
			style = connectedStyle
		case relay.StateConnecting, relay.StateBackoff:
			style = backoffStyle
			prefix = m.spinner.View() + " "
		}
		line := fmt.Sprintf("%s%-8s %s", prefix, snap.State, snap.URL)
		if snap.Error != "" {
			line += faintStyle.Render(fmt.Sprintf("  (%s)", snap.Error))
		}
		fmt.Fprintln(&b, style.Render(line))
	}

	stats := m.router.Stats()
	fmt.Fprintf(&b, "\n%s\n", titleStyle.Render("router"))
	fmt.Fprintf(&b, "  routed=%d dropped=%d duplicate=%d\n", stats.Routed, stats.Dropped, stats.Duplicate)

	fmt.Fprintf(&b, "\n%s\n", titleStyle.Render("conversations"))
	fmt.Fprintf(&b, "  active=%d\n", m.runtime.Count())

	fmt.Fprintf(&b, "\n%s\n", faintStyle.Render("q to quit"))

	return b.String()
}
