// SPDX-License-Identifier: MIT
package tui

import (
	"errors"
	"fmt"
	"math"
	"strings"

	"specstream/internal/audio"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
)

// ErrNoSelection is returned when the picker is closed without choosing.
var ErrNoSelection = errors.New("no device selected")

// Selection is the device and rate chosen in the picker.
type Selection struct {
	DeviceID   int
	SampleRate float64
}

// ScreenType defines which screen is currently active
type ScreenType int

const (
	ListScreen ScreenType = iota
	RateScreen
)

var sampleRates = []float64{8000, 16000, 22050, 44100, 48000, 88200, 96000}

var (
	keyUp    = key.NewBinding(key.WithKeys("up", "k"))
	keyDown  = key.NewBinding(key.WithKeys("down", "j"))
	keyEnter = key.NewBinding(key.WithKeys("enter"))
	keyBack  = key.NewBinding(key.WithKeys("esc"))
)

// DevicePickerModel lets the user choose an input device and sample rate.
type DevicePickerModel struct {
	devices       []audio.Device
	selectedIndex int
	rateIndex     int
	viewport      viewport.Model
	ready         bool
	activeScreen  ScreenType

	selection *Selection
}

// NewDevicePickerModel keeps only devices with input channels.
func NewDevicePickerModel(devices []audio.Device) DevicePickerModel {
	inputs := make([]audio.Device, 0, len(devices))
	for _, d := range devices {
		if d.MaxInputChannels > 0 {
			inputs = append(inputs, d)
		}
	}
	return DevicePickerModel{devices: inputs, activeScreen: ListScreen}
}

func (m DevicePickerModel) Init() tea.Cmd { return nil }

func (m DevicePickerModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmd tea.Cmd

	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		if !m.ready {
			m.viewport = viewport.New(msg.Width, msg.Height-4)
			m.ready = true
		} else {
			m.viewport.Width = msg.Width
			m.viewport.Height = msg.Height - 4
		}
		m.viewport.SetContent(m.render())

	case tea.KeyMsg:
		if key.Matches(msg, key.NewBinding(key.WithKeys("q", "ctrl+c"))) {
			return m, tea.Quit
		}

		switch m.activeScreen {
		case ListScreen:
			switch {
			case key.Matches(msg, keyUp):
				m.selectedIndex = max(m.selectedIndex-1, 0)
			case key.Matches(msg, keyDown):
				m.selectedIndex = max(min(m.selectedIndex+1, len(m.devices)-1), 0)
			case key.Matches(msg, keyEnter):
				if len(m.devices) > 0 {
					m.activeScreen = RateScreen
					m.rateIndex = closestRate(m.devices[m.selectedIndex].DefaultSampleRate)
				}
			}
		case RateScreen:
			switch {
			case key.Matches(msg, keyBack):
				m.activeScreen = ListScreen
			case key.Matches(msg, keyUp):
				m.rateIndex = max(m.rateIndex-1, 0)
			case key.Matches(msg, keyDown):
				m.rateIndex = min(m.rateIndex+1, len(sampleRates)-1)
			case key.Matches(msg, keyEnter):
				m.selection = &Selection{
					DeviceID:   m.devices[m.selectedIndex].ID,
					SampleRate: sampleRates[m.rateIndex],
				}
				return m, tea.Quit
			}
		}
		m.viewport.SetContent(m.render())
	}

	m.viewport, cmd = m.viewport.Update(msg)
	return m, cmd
}

func closestRate(rate float64) int {
	best := 0
	for i, r := range sampleRates {
		if math.Abs(r-rate) < math.Abs(sampleRates[best]-rate) {
			best = i
		}
	}
	return best
}

// Selection returns the confirmed choice, if any.
func (m DevicePickerModel) Selection() (Selection, bool) {
	if m.selection == nil {
		return Selection{}, false
	}
	return *m.selection, true
}

func (m DevicePickerModel) View() string {
	if !m.ready {
		return "Initializing..."
	}

	var title, help string
	if m.activeScreen == ListScreen {
		title = titleStyle.Render("Input Devices")
		help = infoStyle.Render("↑/↓: Navigate • Enter: Choose • q: Quit")
	} else {
		title = titleStyle.Render("Sample Rate")
		help = infoStyle.Render("↑/↓: Change Value • Enter: Start • Esc: Back • q: Quit")
	}
	return fmt.Sprintf("%s\n\n%s\n\n%s", title, m.viewport.View(), help)
}

func (m DevicePickerModel) render() string {
	if len(m.devices) == 0 {
		return "No input devices found."
	}

	var sb strings.Builder
	if m.activeScreen == ListScreen {
		for i, d := range m.devices {
			line := fmt.Sprintf("[%d] %s\n    %d input channel(s), %.0f Hz default\n", d.ID, d.Name, d.MaxInputChannels, d.DefaultSampleRate)
			if i == m.selectedIndex {
				line = highlightStyle.Render(line)
			}
			sb.WriteString(line)
			sb.WriteString("\n")
		}
		return sb.String()
	}

	fmt.Fprintf(&sb, "Device: %s\n\n", m.devices[m.selectedIndex].Name)
	for i, rate := range sampleRates {
		marker := " "
		if i == m.rateIndex {
			marker = "▶"
		}
		line := fmt.Sprintf("  %s %.0f Hz\n", marker, rate)
		if i == m.rateIndex {
			line = highlightStyle.Render(line)
		}
		sb.WriteString(line)
	}
	return sb.String()
}

// PickDevice runs the picker full screen and returns the choice.
func PickDevice(devices []audio.Device) (Selection, error) {
	final, err := tea.NewProgram(NewDevicePickerModel(devices), tea.WithAltScreen()).Run()
	if err != nil {
		return Selection{}, err
	}
	sel, ok := final.(DevicePickerModel).Selection()
	if !ok {
		return Selection{}, ErrNoSelection
	}
	return sel, nil
}
