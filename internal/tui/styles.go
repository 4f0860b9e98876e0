// SPDX-License-Identifier: MIT
package tui

import "github.com/charmbracelet/lipgloss"

var (
	titleStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FFFDF5")).
			Background(lipgloss.Color("#25A065")).
			Padding(0, 1).
			Bold(true)

	infoStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FFFDF5"))

	highlightStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#25A065")).
			Bold(true)

	faintStyle = lipgloss.NewStyle().Faint(true)

	labelStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#A0A0A0")).
			Width(12)

	spectrumColors = []lipgloss.Color{
		lipgloss.Color("#0B3D2E"),
		lipgloss.Color("#125C42"),
		lipgloss.Color("#1A7F5A"),
		lipgloss.Color("#25A065"),
		lipgloss.Color("#5CC48A"),
		lipgloss.Color("#9BE3B0"),
		lipgloss.Color("#D4F7DC"),
		lipgloss.Color("#FFFDF5"),
	}
)
