package tui

import (
	"strings"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	tea "github.com/charmbracelet/bubbletea"
)

// menuChoice identifies the entry the user picked on the main menu.
type menuChoice int

const (
	menuChoiceNone menuChoice = iota
	menuChoiceCloud
	menuChoiceManual
	menuChoiceDiscovery
	menuChoiceQuit
)

// menuEntry is one selectable line on the main menu.
type menuEntry struct {
	title       string
	description string
	choice      menuChoice
}

// menuKeyMap defines key bindings for the main menu
type menuKeyMap struct {
	Up    key.Binding
	Down  key.Binding
	Enter key.Binding
	Quit  key.Binding
}

// ShortHelp returns keybindings to be shown in the mini help view
func (k menuKeyMap) ShortHelp() []key.Binding {
	return []key.Binding{k.Up, k.Down, k.Enter, k.Quit}
}

// FullHelp returns keybindings for the expanded help view
func (k menuKeyMap) FullHelp() [][]key.Binding {
	return [][]key.Binding{
		{k.Up, k.Down, k.Enter, k.Quit},
	}
}

// MenuModel is the main menu screen: how does the user want to locate
// the device being added.
type MenuModel struct {
	Entries []menuEntry
	Cursor  int
	Choice  menuChoice

	Width  int
	Height int

	Help help.Model
	Keys menuKeyMap
}

// NewMenuModel creates the main menu model.
func NewMenuModel() MenuModel {
	entries := []menuEntry{
		{
			title:       "Xiaomi cloud account",
			description: "Log in and pick a device; host and token are fetched for you",
			choice:      menuChoiceCloud,
		},
		{
			title:       "Manual entry",
			description: "Type the device IP address and 32-character token",
			choice:      menuChoiceManual,
		},
		{
			title:       "Network discovery",
			description: "Scan the local network for miio devices (token still required)",
			choice:      menuChoiceDiscovery,
		},
		{
			title:       "Quit",
			description: "Leave the wizard without changes",
			choice:      menuChoiceQuit,
		},
	}

	keys := menuKeyMap{
		Up: key.NewBinding(
			key.WithKeys("up", "k"),
			key.WithHelp("↑/k", "move up"),
		),
		Down: key.NewBinding(
			key.WithKeys("down", "j"),
			key.WithHelp("↓/j", "move down"),
		),
		Enter: key.NewBinding(
			key.WithKeys("enter", " "),
			key.WithHelp("enter", "select"),
		),
		Quit: key.NewBinding(
			key.WithKeys("q", "esc"),
			key.WithHelp("q", "quit"),
		),
	}

	return MenuModel{
		Entries: entries,
		Help:    help.New(),
		Keys:    keys,
	}
}

// Init initializes the menu model
func (m MenuModel) Init() tea.Cmd {
	return nil
}

// Update handles messages and updates the model
func (m MenuModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	if keyMsg, ok := msg.(tea.KeyMsg); ok {
		switch keyMsg.String() {
		case "up", "k":
			if m.Cursor > 0 {
				m.Cursor--
			}

		case "down", "j":
			if m.Cursor < len(m.Entries)-1 {
				m.Cursor++
			}

		case "enter", " ":
			m.Choice = m.Entries[m.Cursor].choice

		case "q", "esc":
			m.Choice = menuChoiceQuit
		}
	}

	return m, nil
}

// View renders the menu screen
func (m MenuModel) View() string {
	var b strings.Builder

	b.WriteString(RenderTitle("Add a Device"))
	b.WriteString("\n")
	b.WriteString(RenderSubtitle("How should the wizard find the device?"))
	b.WriteString("\n\n")

	for i, entry := range m.Entries {
		b.WriteString(RenderMenuItem(entry.title, i == m.Cursor))
		b.WriteString("\n")
		b.WriteString(SubtitleStyle.Render("      " + entry.description))
		b.WriteString("\n\n")
	}

	helpText := m.Help.View(m.Keys)
	return RenderApplicationContainer(b.String(), helpText, m.Width, m.Height)
}
