package main

import (
	"fmt"

	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

var (
	inspectTitleStyle = lipgloss.NewStyle().
				Bold(true).
				Foreground(lipgloss.Color("#FAFAFA")).
				Background(lipgloss.Color("#7D56F4")).
				Padding(0, 1)

	inspectHelpStyle = lipgloss.NewStyle().
				Foreground(lipgloss.Color("#666666"))
)

// inspectModel scrolls a pre-rendered payload report in a viewport.
type inspectModel struct {
	title   string
	content string
	vp      viewport.Model
	ready   bool
}

func newInspectModel(title, content string) *inspectModel {
	return &inspectModel{title: title, content: content}
}

func (m *inspectModel) Init() tea.Cmd {
	return nil
}

func (m *inspectModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "q", "esc":
			return m, tea.Quit
		}

	case tea.WindowSizeMsg:
		chrome := lipgloss.Height(m.headerView()) + lipgloss.Height(m.footerView())
		if !m.ready {
			m.vp = viewport.New(msg.Width, msg.Height-chrome)
			m.vp.SetContent(m.content)
			m.ready = true
		} else {
			m.vp.Width = msg.Width
			m.vp.Height = msg.Height - chrome
		}
	}

	var cmd tea.Cmd
	m.vp, cmd = m.vp.Update(msg)
	return m, cmd
}

func (m *inspectModel) View() string {
	if !m.ready {
		return "loading..."
	}
	return m.headerView() + "\n" + m.vp.View() + "\n" + m.footerView()
}

func (m *inspectModel) headerView() string {
	return inspectTitleStyle.Render("lantern inspect: " + m.title)
}

func (m *inspectModel) footerView() string {
	return inspectHelpStyle.Render(fmt.Sprintf("%3.0f%% · ↑/↓ scroll · q quit", m.vp.ScrollPercent()*100))
}
