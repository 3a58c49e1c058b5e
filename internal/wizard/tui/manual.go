package tui

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
)

// manualTokenPattern matches a miio device token: exactly 32 hex characters.
var manualTokenPattern = regexp.MustCompile(`^[0-9a-fA-F]{32}$`)

// Field indexes in the manual entry form.
const (
	manualFieldHost = iota
	manualFieldToken
	manualFieldName
	manualFieldModel
	manualFieldCount
)

// manualKeyMap defines key bindings for the manual entry form
type manualKeyMap struct {
	Next    key.Binding
	Prev    key.Binding
	Confirm key.Binding
	Cancel  key.Binding
}

// ShortHelp returns keybindings to be shown in the mini help view
func (k manualKeyMap) ShortHelp() []key.Binding {
	return []key.Binding{k.Next, k.Prev, k.Confirm, k.Cancel}
}

// FullHelp returns keybindings for the expanded help view
func (k manualKeyMap) FullHelp() [][]key.Binding {
	return [][]key.Binding{
		{k.Next, k.Prev, k.Confirm, k.Cancel},
	}
}

// ManualModel is the manual device entry form: host, token, an optional
// friendly name and an optional model string. The model is detected
// during verification; the field covers devices that refuse miIO.info.
type ManualModel struct {
	Inputs  []textinput.Model
	Focused int

	Submitted bool
	Cancelled bool
	Err       error

	Width  int
	Height int

	Help help.Model
	Keys manualKeyMap
}

// NewManualModel creates the manual entry form, pre-filled from a prior
// candidate when the user comes back to edit.
func NewManualModel(prior candidate) ManualModel {
	inputs := make([]textinput.Model, manualFieldCount)

	host := textinput.New()
	host.Placeholder = "192.168.1.42"
	host.CharLimit = 64
	host.Width = 40
	host.SetValue(prior.Host)
	host.Focus()
	inputs[manualFieldHost] = host

	token := textinput.New()
	token.Placeholder = "32 hexadecimal characters"
	token.CharLimit = 32
	token.Width = 40
	token.SetValue(prior.Token)
	inputs[manualFieldToken] = token

	name := textinput.New()
	name.Placeholder = "Living room purifier (optional)"
	name.CharLimit = 64
	name.Width = 40
	name.SetValue(prior.Name)
	inputs[manualFieldName] = name

	model := textinput.New()
	model.Placeholder = "zhimi.airpurifier.mb3 (optional)"
	model.CharLimit = 64
	model.Width = 40
	model.SetValue(prior.Model)
	inputs[manualFieldModel] = model

	keys := manualKeyMap{
		Next: key.NewBinding(
			key.WithKeys("tab", "down"),
			key.WithHelp("tab", "next field"),
		),
		Prev: key.NewBinding(
			key.WithKeys("shift+tab", "up"),
			key.WithHelp("shift+tab", "previous field"),
		),
		Confirm: key.NewBinding(
			key.WithKeys("enter"),
			key.WithHelp("enter", "connect"),
		),
		Cancel: key.NewBinding(
			key.WithKeys("esc"),
			key.WithHelp("esc", "back"),
		),
	}

	return ManualModel{
		Inputs: inputs,
		Help:   help.New(),
		Keys:   keys,
	}
}

// Init initializes the manual entry model
func (m ManualModel) Init() tea.Cmd {
	return textinput.Blink
}

// Update handles messages and updates the model
func (m ManualModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	if keyMsg, ok := msg.(tea.KeyMsg); ok {
		switch keyMsg.String() {
		case "esc":
			m.Cancelled = true
			return m, nil

		case "tab", "down":
			m.setFocus((m.Focused + 1) % manualFieldCount)
			return m, nil

		case "shift+tab", "up":
			m.setFocus((m.Focused + manualFieldCount - 1) % manualFieldCount)
			return m, nil

		case "enter":
			if m.Focused < manualFieldCount-1 {
				m.setFocus(m.Focused + 1)
				return m, nil
			}
			if err := m.validate(); err != nil {
				m.Err = err
				return m, nil
			}
			m.Err = nil
			m.Submitted = true
			return m, nil
		}
	}

	var cmd tea.Cmd
	m.Inputs[m.Focused], cmd = m.Inputs[m.Focused].Update(msg)
	return m, cmd
}

// setFocus moves keyboard focus between form fields.
func (m *ManualModel) setFocus(field int) {
	m.Inputs[m.Focused].Blur()
	m.Focused = field
	m.Inputs[m.Focused].Focus()
}

// validate checks the form before handing off to verification.
func (m ManualModel) validate() error {
	if strings.TrimSpace(m.Inputs[manualFieldHost].Value()) == "" {
		return fmt.Errorf("host must not be empty")
	}
	token := strings.TrimSpace(m.Inputs[manualFieldToken].Value())
	if !manualTokenPattern.MatchString(token) {
		return fmt.Errorf("token must be exactly 32 hexadecimal characters")
	}
	return nil
}

// Candidate returns the device details the user entered.
func (m ManualModel) Candidate() candidate {
	return candidate{
		Host:  strings.TrimSpace(m.Inputs[manualFieldHost].Value()),
		Token: strings.TrimSpace(m.Inputs[manualFieldToken].Value()),
		Name:  strings.TrimSpace(m.Inputs[manualFieldName].Value()),
		Model: strings.TrimSpace(m.Inputs[manualFieldModel].Value()),
	}
}

// View renders the manual entry form
func (m ManualModel) View() string {
	var b strings.Builder

	b.WriteString(RenderTitle("Manual Device Entry"))
	b.WriteString("\n")
	b.WriteString(RenderSubtitle("The token can be extracted from the Mi Home app or the cloud account."))
	b.WriteString("\n\n")

	labels := []string{"IP Address", "Token     ", "Name      ", "Model     "}
	for i, input := range m.Inputs {
		label := labels[i]
		if i == m.Focused {
			b.WriteString("  " + FocusedInputStyle.Render(label))
		} else {
			b.WriteString("  " + BlurredInputStyle.Render(label))
		}
		b.WriteString("  ")
		b.WriteString(input.View())
		b.WriteString("\n\n")
	}

	if m.Err != nil {
		b.WriteString(RenderError(m.Err.Error()))
		b.WriteString("\n")
	}

	helpText := m.Help.View(m.Keys)
	return RenderApplicationContainer(b.String(), helpText, m.Width, m.Height)
}
