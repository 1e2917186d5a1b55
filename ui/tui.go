package ui

import (
	"clocksync/swarm/peer"
	"time"

	tea "github.com/charmbracelet/bubbletea"
)

// NewProgram wraps the model in a full-screen bubbletea program.
func NewProgram() *tea.Program {
	return tea.NewProgram(NewModel(), tea.WithAltScreen())
}

// Feed returns a drift listener that forwards every report, together with
// the peer's status, to the program.
func Feed(p *tea.Program, src *peer.Peer) peer.DriftListener {
	return func(reports []peer.DriftReport) {
		p.Send(StatusMsg{
			Status:  src.Status(),
			Reports: reports,
			At:      time.Now(),
		})
	}
}
