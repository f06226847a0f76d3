package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"meridian/internal/live"
	"meridian/pkg/meridian"
)

// Styles.
var (
	headerStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("15")).Background(lipgloss.Color("4"))
	footerStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("15")).Background(lipgloss.Color("8"))
	longStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
	shortStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
	dimStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("245"))
	symbolStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12"))
	errStyle    = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("9"))
)

// eventMsg carries one event from the mirrored model into the UI.
type eventMsg meridian.StatusEvent

// syncErrMsg reports the end of the status stream.
type syncErrMsg struct{ err error }

type watchModel struct {
	addr     string
	events   <-chan meridian.StatusEvent
	syncErr  <-chan error
	cancel   context.CancelFunc
	state    meridian.StatusEvent
	viewport viewport.Model
	ready    bool
	width    int
	lost     error
}

func waitEvent(ch <-chan meridian.StatusEvent) tea.Cmd {
	return func() tea.Msg {
		ev, ok := <-ch
		if !ok {
			return nil
		}
		return eventMsg(ev)
	}
}

func waitSyncErr(ch <-chan error) tea.Cmd {
	return func() tea.Msg { return syncErrMsg{err: <-ch} }
}

func (m watchModel) Init() tea.Cmd {
	return tea.Batch(waitEvent(m.events), waitSyncErr(m.syncErr))
}

func (m watchModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmd tea.Cmd
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			m.cancel()
			return m, tea.Quit
		}
	case tea.WindowSizeMsg:
		m.width = msg.Width
		height := max(msg.Height-2, 1)
		if !m.ready {
			m.viewport = viewport.New(msg.Width, height)
			m.ready = true
		} else {
			m.viewport.Width = msg.Width
			m.viewport.Height = height
		}
		m.viewport.SetContent(m.renderContent())
	case eventMsg:
		m.state = meridian.StatusEvent(msg)
		if m.ready {
			m.viewport.SetContent(m.renderContent())
		}
		return m, waitEvent(m.events)
	case syncErrMsg:
		m.lost = msg.err
		if m.lost == nil {
			m.lost = fmt.Errorf("stream closed")
		}
		if m.ready {
			m.viewport.SetContent(m.renderContent())
		}
		return m, nil
	}
	m.viewport, cmd = m.viewport.Update(msg)
	return m, cmd
}

func (m watchModel) View() string {
	if !m.ready {
		return "Connecting..."
	}
	header := fmt.Sprintf(" meridian  %s    %s ", m.addr, m.state.Status)
	footer := fmt.Sprintf(" q quit  pgup/dn scroll    updated %s ", m.state.At.Local().Format(time.TimeOnly))
	return headerStyle.Render(padOrTrunc(header, m.width)) + "\n" +
		m.viewport.View() + "\n" +
		footerStyle.Render(padOrTrunc(footer, m.width))
}

func (m watchModel) renderContent() string {
	var b strings.Builder
	if m.lost != nil {
		b.WriteString(errStyle.Render("status stream lost: "+m.lost.Error()) + "\n\n")
	}

	if c := m.state.LastCycle; c != nil {
		fmt.Fprintf(&b, "%s  equity %.2f  orders %d  rejected %d\n",
			dimStyle.Render("cycle "+c.Started.Local().Format(time.TimeOnly)),
			c.Equity, c.Orders, c.Rejected)
		fmt.Fprintf(&b, "  %s %s\n", longStyle.Render(fmt.Sprintf("long  %4d x", c.QtyPerLong)), strings.Join(c.Long, " "))
		fmt.Fprintf(&b, "  %s %s\n", shortStyle.Render(fmt.Sprintf("short %4d x", c.QtyPerShort)), strings.Join(c.Short, " "))
		for _, e := range c.SizingErrors {
			b.WriteString("  " + errStyle.Render(e) + "\n")
		}
		b.WriteString("\n")
	}

	positions := append([]meridian.Position(nil), m.state.Positions...)
	sort.Slice(positions, func(i, j int) bool { return positions[i].MarketValue > positions[j].MarketValue })
	b.WriteString(dimStyle.Render(fmt.Sprintf("%-8s %-6s %8s %14s", "SYMBOL", "SIDE", "QTY", "VALUE")) + "\n")
	for _, p := range positions {
		side := longStyle.Render(fmt.Sprintf("%-6s", p.Side))
		if p.Side == "short" {
			side = shortStyle.Render(fmt.Sprintf("%-6s", p.Side))
		}
		fmt.Fprintf(&b, "%s %s %8d %14.2f\n", symbolStyle.Render(fmt.Sprintf("%-8s", p.Symbol)), side, p.Qty, p.MarketValue)
	}
	if len(positions) == 0 {
		b.WriteString(dimStyle.Render("no positions") + "\n")
	}
	return b.String()
}

func padOrTrunc(s string, w int) string {
	if w <= 0 {
		return s
	}
	if len(s) > w {
		return s[:w]
	}
	return s + strings.Repeat(" ", w-len(s))
}

// watch mirrors the trader's status model over gRPC and renders it until
// the user quits.
func watch(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("watch", flag.ExitOnError)
	addr := fs.String("addr", envOr("MERIDIAN_GRPC", "localhost:9090"), "trader gRPC address")
	fs.Parse(args)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	model := live.NewStatusModel()
	subID, events := model.Subscribe(64)
	defer model.Unsubscribe(subID)

	// The TUI owns the terminal, so client logs are discarded.
	client := live.NewClient(*addr, model, slog.New(slog.NewTextHandler(io.Discard, nil)))
	syncErr := make(chan error, 1)
	go func() { syncErr <- client.Sync(ctx) }()

	p := tea.NewProgram(watchModel{
		addr:    *addr,
		events:  events,
		syncErr: syncErr,
		cancel:  cancel,
	}, tea.WithAltScreen(), tea.WithContext(ctx))
	_, err := p.Run()
	if ctx.Err() != nil {
		return nil
	}
	return err
}
