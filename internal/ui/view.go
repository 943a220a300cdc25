package ui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/rovshanmuradov/solana-sweeper/internal/consolidator"
)

// View renders the screen.
func (m *Model) View() string {
	var b strings.Builder

	b.WriteString(m.header())
	b.WriteString("\n")

	emptyStyle, dustStyle := m.styles.ActivePanel, m.styles.Panel
	if m.focus == paneDust {
		emptyStyle, dustStyle = m.styles.Panel, m.styles.ActivePanel
	}
	emptyPanel := emptyStyle.Render(lipgloss.JoinVertical(lipgloss.Left,
		m.styles.PanelTitle.Render(fmt.Sprintf("Empty accounts (%d) · %s SOL",
			len(m.snap.Empty), consolidator.FormatSOL(m.snap.Reclaimable()))),
		m.empty.View(),
	))
	dustPanel := dustStyle.Render(lipgloss.JoinVertical(lipgloss.Left,
		m.styles.PanelTitle.Render(fmt.Sprintf("Dust (%d) · %d selected", len(m.snap.Dust), len(m.selected))),
		m.dust.View(),
	))
	b.WriteString(lipgloss.JoinHorizontal(lipgloss.Top, emptyPanel, dustPanel))
	b.WriteString("\n")

	switch {
	case m.approval != nil:
		b.WriteString(m.styles.Dialog.Render("Sign transaction: " + m.approval.summary + "?  [y/n]"))
		b.WriteString("\n")
	case m.confirm != nil:
		b.WriteString(m.styles.Dialog.Render(m.confirm.prompt + "  [y/n]"))
		b.WriteString("\n")
	}

	if m.status != "" {
		b.WriteString(m.styles.Success.Render(m.status))
		b.WriteString("\n")
	}
	if m.lastErr != nil {
		b.WriteString(m.styles.Error.Render("Error: " + m.lastErr.Error()))
		b.WriteString("\n")
	}

	if m.logs.Visible() {
		b.WriteString(m.logs.View())
		b.WriteString("\n")
	}
	b.WriteString(m.help.View(m.keys))
	return b.String()
}

func (m *Model) header() string {
	title := m.styles.Title.Render("solana-sweeper")
	owner := m.styles.Muted.Render(m.snap.Owner.String())

	state := m.snap.State.String()
	if m.busy != "" {
		state = m.spinner.View() + " " + m.busy
	}
	line := fmt.Sprintf("%s %s  %s", title, owner, m.styles.Warning.Render(state))
	if m.snap.SkippedTarget > 0 {
		line += m.styles.Muted.Render(fmt.Sprintf("  (%d wrapped SOL account(s) left untouched)", m.snap.SkippedTarget))
	}
	return line
}
