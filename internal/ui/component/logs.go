package component

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/viewport"
	"github.com/charmbracelet/lipgloss"

	"github.com/rovshanmuradov/solana-sweeper/internal/logger"
	"github.com/rovshanmuradov/solana-sweeper/internal/ui/style"
)

// LogViewer renders the tail of a LogBuffer in a small viewport.
type LogViewer struct {
	buffer    *logger.LogBuffer
	viewport  viewport.Model
	visible   bool
	showDebug bool

	container lipgloss.Style
	title     lipgloss.Style
	timestamp lipgloss.Style
	levels    map[string]lipgloss.Style
}

// NewLogViewer creates a viewer over buf. buf may be nil.
func NewLogViewer(buf *logger.LogBuffer) *LogViewer {
	palette := style.DefaultPalette()

	return &LogViewer{
		buffer:  buf,
		visible: true,
		container: lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(palette.Info).
			Padding(0, 1),
		title:     lipgloss.NewStyle().Foreground(palette.Info).Bold(true),
		timestamp: lipgloss.NewStyle().Foreground(palette.TextMuted),
		levels: map[string]lipgloss.Style{
			"error": lipgloss.NewStyle().Foreground(palette.Error).Bold(true),
			"warn":  lipgloss.NewStyle().Foreground(palette.Warning),
			"info":  lipgloss.NewStyle().Foreground(palette.Text),
			"debug": lipgloss.NewStyle().Foreground(palette.TextMuted),
		},
		viewport: viewport.New(50, 4),
	}
}

// SetSize sets the outer dimensions.
func (v *LogViewer) SetSize(width, height int) {
	v.container = v.container.Width(width - 2)
	v.viewport.Width = width - 4
	v.viewport.Height = max(height-3, 2)
}

// Toggle shows or hides the viewer.
func (v *LogViewer) Toggle() {
	v.visible = !v.visible
}

// Visible reports whether the viewer is shown.
func (v *LogViewer) Visible() bool {
	return v.visible
}

// View renders the latest entries.
func (v *LogViewer) View() string {
	if !v.visible {
		return ""
	}
	v.refresh()
	return v.container.Render(lipgloss.JoinVertical(lipgloss.Left,
		v.title.Render("Logs [l]"),
		v.viewport.View(),
	))
}

func (v *LogViewer) refresh() {
	if v.buffer == nil {
		v.viewport.SetContent("No log buffer available")
		return
	}

	var lines []string
	for _, entry := range v.buffer.GetRecentLogs(50) {
		level := strings.ToLower(entry.Level)
		if level == "warning" {
			level = "warn"
		}
		if level == "debug" && !v.showDebug {
			continue
		}
		st, ok := v.levels[level]
		if !ok {
			st = v.levels["info"]
		}
		lines = append(lines, fmt.Sprintf("%s %s",
			v.timestamp.Render(entry.Timestamp.Format("15:04:05")),
			st.Render(entry.Message)))
	}
	v.viewport.SetContent(strings.Join(lines, "\n"))
	v.viewport.GotoBottom()
}
