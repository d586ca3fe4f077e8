// Package dialogtui renders a dialog template as a terminal form.
package dialogtui

import (
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/rendis/mcp-secrets/pkg/schema"
)

var (
	colorAccent = lipgloss.Color("212")
	colorSubtle = lipgloss.Color("241")
	colorError  = lipgloss.Color("203")

	titleStyle   = lipgloss.NewStyle().Bold(true).Foreground(colorAccent)
	descStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("252"))
	labelStyle   = lipgloss.NewStyle().Bold(true)
	focusedStyle = lipgloss.NewStyle().Foreground(colorAccent)
	helpStyle    = lipgloss.NewStyle().Foreground(colorSubtle).Italic(true)
	errorStyle   = lipgloss.NewStyle().Foreground(colorError)
	buttonStyle  = lipgloss.NewStyle().Padding(0, 2).Border(lipgloss.RoundedBorder()).BorderForeground(colorSubtle)
	buttonActive = buttonStyle.BorderForeground(colorAccent).Foreground(colorAccent)
	frameStyle   = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).BorderForeground(colorSubtle).Padding(1, 2)
)

// Model is the form state. The last focus position is the Continue button.
type Model struct {
	tpl    schema.DialogTemplate
	inputs []textinput.Model
	focus  int
	err    string

	submitted bool
	cancelled bool
}

// New builds a form for tpl. Defaults pre-fill the inputs.
func New(tpl schema.DialogTemplate) Model {
	m := Model{tpl: tpl, inputs: make([]textinput.Model, len(tpl.Fields))}
	for i, f := range tpl.Fields {
		ti := textinput.New()
		ti.Prompt = "> "
		ti.Placeholder = f.Placeholder
		ti.CharLimit = 4096
		ti.Width = 48
		ti.Cursor.Style = focusedStyle
		if f.Kind == schema.FieldPassword {
			ti.EchoMode = textinput.EchoPassword
			ti.EchoCharacter = '•'
		}
		if f.Default != "" {
			ti.SetValue(f.Default)
		}
		m.inputs[i] = ti
	}
	if len(m.inputs) > 0 {
		m.inputs[0].Focus()
	}
	return m
}

// Init starts the cursor blinking.
func (m Model) Init() tea.Cmd {
	return textinput.Blink
}

// Update handles navigation, submit and cancel keys.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	if key, ok := msg.(tea.KeyMsg); ok {
		switch key.String() {
		case "ctrl+c", "esc":
			m.cancelled = true
			return m, tea.Quit
		case "tab", "down":
			return m, m.setFocus(m.focus + 1)
		case "shift+tab", "up":
			return m, m.setFocus(m.focus - 1)
		case "enter", "ctrl+s":
			if key.String() == "enter" && m.focus < len(m.inputs)-1 {
				return m, m.setFocus(m.focus + 1)
			}
			return m.submit()
		}
	}

	if m.focus < len(m.inputs) {
		var cmd tea.Cmd
		m.inputs[m.focus], cmd = m.inputs[m.focus].Update(msg)
		return m, cmd
	}
	return m, nil
}

// setFocus moves focus to i, wrapping around the inputs and the button.
func (m *Model) setFocus(i int) tea.Cmd {
	n := len(m.inputs) + 1
	m.focus = ((i % n) + n) % n
	var cmd tea.Cmd
	for j := range m.inputs {
		if j == m.focus {
			cmd = m.inputs[j].Focus()
		} else {
			m.inputs[j].Blur()
		}
	}
	return cmd
}

func (m Model) submit() (tea.Model, tea.Cmd) {
	for i, f := range m.tpl.Fields {
		if f.Required && strings.TrimSpace(m.inputs[i].Value()) == "" {
			m.err = fmt.Sprintf("%s is required", f.Label)
			return m, m.setFocus(i)
		}
	}
	m.err = ""
	m.submitted = true
	return m, tea.Quit
}

// Submitted reports whether the form was completed.
func (m Model) Submitted() bool { return m.submitted }

// Cancelled reports whether the user dismissed the form.
func (m Model) Cancelled() bool { return m.cancelled }

// Values returns every field's value keyed by name. Empty values are kept;
// they mean "leave unchanged".
func (m Model) Values() map[string]string {
	out := make(map[string]string, len(m.inputs))
	for i, f := range m.tpl.Fields {
		out[f.Name] = m.inputs[i].Value()
	}
	return out
}

// View renders the form.
func (m Model) View() string {
	if m.submitted || m.cancelled {
		return ""
	}
	var b strings.Builder
	b.WriteString(titleStyle.Render(m.tpl.Title))
	b.WriteString("\n\n")
	if m.tpl.Description != "" {
		b.WriteString(descStyle.Render(m.tpl.Description))
		b.WriteString("\n\n")
	}
	for i, f := range m.tpl.Fields {
		label := f.Label
		if f.Required {
			label += " *"
		}
		b.WriteString(labelStyle.Render(label))
		b.WriteString("\n")
		b.WriteString(m.inputs[i].View())
		b.WriteString("\n")
		if f.HelpText != "" {
			b.WriteString(helpStyle.Render(f.HelpText))
			b.WriteString("\n")
		}
		b.WriteString("\n")
	}

	button := buttonStyle.Render("Continue")
	if m.focus == len(m.inputs) {
		button = buttonActive.Render("Continue")
	}
	b.WriteString(button)
	b.WriteString("\n")
	if m.err != "" {
		b.WriteString(errorStyle.Render(m.err))
		b.WriteString("\n")
	}
	b.WriteString(helpStyle.Render("tab/↓ next • shift+tab/↑ previous • enter continue • esc cancel"))

	return frameStyle.Render(b.String())
}

// Run shows the form on the given terminal streams and returns the final
// model.
func Run(tpl schema.DialogTemplate, in io.Reader, out io.Writer) (Model, error) {
	p := tea.NewProgram(New(tpl), tea.WithInput(in), tea.WithOutput(out))
	final, err := p.Run()
	if err != nil {
		return Model{}, err
	}
	return final.(Model), nil
}
