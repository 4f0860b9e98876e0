// SPDX-License-Identifier: MIT

// Package tui holds the terminal front ends: a live engine status screen and
// an input device picker.
package tui

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"specstream/internal/spectrogram"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/progress"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

// DefaultRefresh is how often the status screen polls the engine.
const DefaultRefresh = 200 * time.Millisecond

// Monitor is the engine surface the status screen uses.
type Monitor interface {
	Stats() spectrogram.Stats
	Read(req spectrogram.Request) spectrogram.Result
	TimeForColumn(column int) float64
}

var (
	keyQuit     = key.NewBinding(key.WithKeys("q", "ctrl+c"))
	keyLeft     = key.NewBinding(key.WithKeys("left", "h"))
	keyRight    = key.NewBinding(key.WithKeys("right", "l"))
	keyPageBack = key.NewBinding(key.WithKeys("pgup", "b"))
	keyPageFwd  = key.NewBinding(key.WithKeys("pgdown", " "))
	keyFollow   = key.NewBinding(key.WithKeys("f"))
)

type tickMsg time.Time

// StatusModel shows the fill state and the spectrum of the column under the
// cursor. Panning reads at the cursor, which moves the engine's window.
type StatusModel struct {
	monitor  Monitor
	refresh  time.Duration
	progress progress.Model

	stats  spectrogram.Stats
	cursor int
	follow bool
	column []float32
	width  int
}

// NewStatusModel creates a status screen that follows the computed frontier.
func NewStatusModel(m Monitor, refresh time.Duration) *StatusModel {
	if refresh <= 0 {
		refresh = DefaultRefresh
	}
	return &StatusModel{
		monitor: m,
		refresh: refresh,
		progress: progress.New(
			progress.WithGradient("#125C42", "#9BE3B0"),
			progress.WithWidth(40),
			progress.WithoutPercentage(),
		),
		follow: true,
	}
}

func (m *StatusModel) tick() tea.Cmd {
	return tea.Tick(m.refresh, func(t time.Time) tea.Msg { return tickMsg(t) })
}

func (m *StatusModel) Init() tea.Cmd {
	return m.tick()
}

func (m *StatusModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.progress.Width = max(min(msg.Width-20, 60), 10)
		return m, nil

	case tickMsg:
		m.poll()
		return m, m.tick()

	case tea.KeyMsg:
		page := max(m.stats.Capacity/2, 1)
		switch {
		case key.Matches(msg, keyQuit):
			return m, tea.Quit
		case key.Matches(msg, keyLeft):
			m.pan(-1)
		case key.Matches(msg, keyRight):
			m.pan(1)
		case key.Matches(msg, keyPageBack):
			m.pan(-page)
		case key.Matches(msg, keyPageFwd):
			m.pan(page)
		case key.Matches(msg, keyFollow):
			m.follow = !m.follow
			m.poll()
		}
	}
	return m, nil
}

// poll refreshes stats and re-reads the cursor column.
func (m *StatusModel) poll() {
	m.stats = m.monitor.Stats()
	if m.follow && !m.stats.Computed.Empty() {
		m.cursor = m.stats.Computed.Last - 1
	}
	m.read()
}

func (m *StatusModel) pan(delta int) {
	m.follow = false
	m.cursor = max(m.cursor+delta, 0)
	if w := m.stats.ColumnWidth; w > 0 {
		m.cursor = min(m.cursor, w-1)
	}
	m.read()
	m.stats = m.monitor.Stats()
}

func (m *StatusModel) read() {
	res := m.monitor.Read(spectrogram.Columns(m.cursor, m.cursor+1))
	m.column = res.Column(m.cursor)
}

// Cursor returns the column under the cursor.
func (m *StatusModel) Cursor() int { return m.cursor }

func (m *StatusModel) View() string {
	s := m.stats
	var b strings.Builder

	b.WriteString(titleStyle.Render("specstream"))
	b.WriteString("  ")
	b.WriteString(highlightStyle.Render(s.State.String()))
	b.WriteString("\n\n")

	row := func(label, value string) {
		b.WriteString(labelStyle.Render(label))
		b.WriteString(infoStyle.Render(value))
		b.WriteString("\n")
	}

	width := "unknown"
	if s.ColumnWidth >= 0 {
		width = fmt.Sprintf("%d columns", s.ColumnWidth)
	}
	source := fmt.Sprintf("%d samples (%.2fs)", s.SamplesReceived, s.SampleSeconds)
	if s.SourceDone {
		source += ", done"
	}

	row("Source", source)
	row("Stream", width)
	row("Window", fmt.Sprintf("[%d, %d) of %d x %d", s.Window.First, s.Window.Last, s.Capacity, s.Height))
	row("Computed", fmt.Sprintf("[%d, %d)", s.Computed.First, s.Computed.Last))

	fill := 0.0
	if n := s.Window.Len(); n > 0 {
		fill = float64(s.Computed.Len()) / float64(n)
	}
	b.WriteString(labelStyle.Render("Fill"))
	b.WriteString(m.progress.ViewAs(fill))
	b.WriteString(fmt.Sprintf("  %3.0f%%\n", fill*100))

	row("Chunks", fmt.Sprintf("%d computed, %d discarded, %d shifts", s.Chunks, s.Discarded, s.Shifts))
	if s.RangeTimeouts > 0 || s.TransformFailures > 0 {
		row("Errors", fmt.Sprintf("%d range timeouts, %d transform failures", s.RangeTimeouts, s.TransformFailures))
	}
	b.WriteString("\n")

	mode := "manual"
	if m.follow {
		mode = "follow"
	}
	row("Cursor", fmt.Sprintf("column %d at %.3fs (%s)", m.cursor, m.monitor.TimeForColumn(m.cursor), mode))

	spectrumWidth := 64
	if m.width > 8 {
		spectrumWidth = min(m.width-4, 120)
	}
	if m.column == nil {
		b.WriteString(faintStyle.Render("not computed yet"))
	} else {
		b.WriteString(renderSpectrum(m.column, spectrumWidth))
	}
	b.WriteString("\n\n")

	b.WriteString(faintStyle.Render("←/→: Pan • PgUp/PgDn: Page • f: Follow • q: Quit"))

	return lipgloss.NewStyle().Padding(1, 2).Render(b.String())
}

// renderSpectrum draws one column as a row of blocks on a log scale,
// folding bins into width cells by their maximum.
func renderSpectrum(mags []float32, width int) string {
	if len(mags) == 0 || width <= 0 {
		return ""
	}
	blocks := []rune{'▁', '▂', '▃', '▄', '▅', '▆', '▇', '█'}

	cells := min(width, len(mags))
	levels := make([]float64, cells)
	peak := 0.0
	for i := range levels {
		lo, hi := i*len(mags)/cells, (i+1)*len(mags)/cells
		v := 0.0
		for _, m := range mags[lo:hi] {
			v = math.Max(v, float64(m))
		}
		levels[i] = math.Log1p(v)
		peak = math.Max(peak, levels[i])
	}
	if peak == 0 {
		peak = 1
	}

	var b strings.Builder
	for _, lv := range levels {
		n := lv / peak
		idx := min(int(n*float64(len(blocks)-1)), len(blocks)-1)
		color := spectrumColors[min(int(n*float64(len(spectrumColors)-1)), len(spectrumColors)-1)]
		b.WriteString(lipgloss.NewStyle().Foreground(color).Render(string(blocks[idx])))
	}
	return b.String()
}

// RunStatus shows the status screen until the user quits or ctx ends.
func RunStatus(ctx context.Context, m Monitor) error {
	p := tea.NewProgram(NewStatusModel(m, DefaultRefresh), tea.WithAltScreen(), tea.WithContext(ctx))
	_, err := p.Run()
	if errors.Is(err, tea.ErrProgramKilled) && ctx.Err() != nil {
		return nil
	}
	return err
}
