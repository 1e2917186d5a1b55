// Package ui renders a live drift table for a running peer.
package ui

import (
	"clocksync/swarm/peer"
	"fmt"
	"math"
	"slices"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
)

// StatusMsg carries one refresh from the peer to the model.
type StatusMsg struct {
	Status  peer.Status
	Reports []peer.DriftReport
	At      time.Time
}

type sortMode int

const (
	sortByName sortMode = iota
	sortByDrift
)

func (s sortMode) String() string {
	if s == sortByDrift {
		return "drift"
	}
	return "name"
}

// Model represents the TUI state
type Model struct {
	status  peer.Status
	reports []peer.DriftReport
	updated time.Time

	sort sortMode

	width  int
	height int
}

func NewModel() Model {
	return Model{}
}

func (m Model) Init() tea.Cmd {
	return nil
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		return m.handleKey(msg)
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
	case StatusMsg:
		m.applyStatus(msg)
	}

	return m, nil
}

func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "q", "ctrl+c":
		return m, tea.Quit
	case "s":
		m.sort = (m.sort + 1) % 2
		m.sortReports()
	}
	return m, nil
}

func (m *Model) applyStatus(msg StatusMsg) {
	m.status = msg.Status
	m.reports = slices.Clone(msg.Reports)
	m.updated = msg.At
	m.sortReports()
}

func (m *Model) sortReports() {
	switch m.sort {
	case sortByDrift:
		slices.SortStableFunc(m.reports, func(a, b peer.DriftReport) int {
			da, db := math.Abs(a.Drift), math.Abs(b.Drift)
			switch {
			case da > db:
				return -1
			case da < db:
				return 1
			}
			return strings.Compare(a.Name, b.Name)
		})
	default:
		slices.SortStableFunc(m.reports, func(a, b peer.DriftReport) int {
			return strings.Compare(a.Name, b.Name)
		})
	}
}

func (m Model) View() string {
	var b strings.Builder

	b.WriteString(m.renderHeader())
	b.WriteString(m.renderTable())
	b.WriteString(fmt.Sprintf("\n s:sort (%s)  q:quit\n", m.sort))

	return b.String()
}

func (m Model) renderHeader() string {
	name := m.status.Name
	if name == "" {
		name = "(unnamed)"
	}

	sync := "waiting for coordinator"
	if m.status.Synced {
		sync = fmt.Sprintf("offset %+.1fms, round trip %.1fms",
			m.status.Offset.Milliseconds(), m.status.Latency.Milliseconds())
	}

	heard := "never"
	if !m.status.LastHeard.IsZero() && !m.updated.IsZero() {
		heard = fmt.Sprintf("%.1fs ago", m.updated.Sub(m.status.LastHeard).Seconds())
	}

	return fmt.Sprintf(" clocksync peer %s\n Sync:        %s\n Coordinator: last heard %s\n\n", name, sync, heard)
}

func (m Model) renderTable() string {
	if len(m.reports) == 0 {
		return " No other peers\n"
	}

	var b strings.Builder
	b.WriteString(fmt.Sprintf(" %-24s %12s %10s %8s\n", "PEER", "DRIFT", "LAG", "RATE"))
	for _, r := range m.reports {
		b.WriteString(fmt.Sprintf(" %-24s %10.0fms %8.0fms %8.2f\n",
			truncate(r.Name, 24),
			math.Round(r.Drift*1000),
			math.Round(r.Latency.Milliseconds()),
			r.Rate))
	}
	return b.String()
}

func truncate(s string, length int) string {
	r := []rune(s)
	if len(r) <= length {
		return s
	}
	return string(r[:length-3]) + "..."
}
