package tui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"
)

const (
	headerHeight = 1
	footerHeight = 2
)

// Color tokens, the handful this single-pane UI actually needs.
var (
	colorMuted   = lipgloss.AdaptiveColor{Light: "#696969", Dark: "#999999"}
	colorBorder  = lipgloss.AdaptiveColor{Light: "#D9DCCF", Dark: "#696969"}
	colorWarn    = lipgloss.AdaptiveColor{Light: "#FECA57", Dark: "#FECA57"}
	colorConfirm = lipgloss.AdaptiveColor{Light: "#54A0FF", Dark: "#54A0FF"}
	colorInfo    = lipgloss.AdaptiveColor{Light: "#D9DCCF", Dark: "#CCCCCC"}

	headerStyle = lipgloss.NewStyle().Bold(true).Foreground(colorInfo)
	footerStyle = lipgloss.NewStyle().Foreground(colorMuted)
	paneStyle   = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).BorderForeground(colorBorder)

	infoLineStyle    = lipgloss.NewStyle().Foreground(colorInfo)
	warnLineStyle    = lipgloss.NewStyle().Foreground(colorWarn)
	confirmLineStyle = lipgloss.NewStyle().Foreground(colorConfirm).Bold(true)

	debugPaneStyle = lipgloss.NewStyle().
			Foreground(colorMuted).
			Border(lipgloss.NormalBorder(), true, false, false, false).
			BorderForeground(colorBorder)
)

// debugPaneLines is how many trailing log lines the debug pane shows.
const debugPaneLines = 6

// View implements tea.Model.
func (m Model) View() string {
	if !m.ready {
		return "starting up...\n"
	}

	header := headerStyle.Render("codewalk workstation")
	body := paneStyle.Width(m.width - 2).Height(m.contentHeight()).Render(m.viewport.View())
	footer := footerStyle.Render(m.renderFooter())

	if m.showDebug {
		return lipgloss.JoinVertical(lipgloss.Left, header, body, m.renderDebugPane(), footer)
	}
	return lipgloss.JoinVertical(lipgloss.Left, header, body, footer)
}

func (m Model) renderFooter() string {
	if m.pending != nil {
		return fmt.Sprintf("awaiting confirmation for %s, say \"yes\" or \"no\"", m.pending.executor)
	}
	return "q / ctrl+c to quit · tab for logs"
}

func (m Model) renderDebugPane() string {
	lines := m.debugLines
	if len(lines) > debugPaneLines {
		lines = lines[len(lines)-debugPaneLines:]
	}
	return debugPaneStyle.Width(m.width - 1).Height(debugPaneLines).Render(strings.Join(lines, "\n"))
}

func (m Model) renderLines() string {
	rows := make([]string, 0, len(m.lines))
	for _, l := range m.lines {
		rows = append(rows, styleForLevel(l.level).Render(l.text))
	}
	return strings.Join(rows, "\n")
}

func styleForLevel(level string) lipgloss.Style {
	switch level {
	case "warn":
		return warnLineStyle
	case "confirm":
		return confirmLineStyle
	default:
		return infoLineStyle
	}
}
