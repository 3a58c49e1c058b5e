package tui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/muurk/miiobridge/internal/config"
)

// Screen represents the current active screen in the application
type Screen string

const (
	ScreenMenu         Screen = "menu"
	ScreenCloudLogin   Screen = "cloud_login"
	ScreenCloudDevices Screen = "cloud_devices"
	ScreenManual       Screen = "manual"
	ScreenDiscovery    Screen = "discovery"
	ScreenVerify       Screen = "verify"
	ScreenSuccess      Screen = "success"
	ScreenFailure      Screen = "failure"
)

// Messages for screen transitions
type screenTransitionMsg struct {
	screen Screen
}

type goBackMsg struct{}

// candidate is the device being added, accumulated across screens until
// the verify step connects to it and the registry persists it.
type candidate struct {
	DeviceID string // known after cloud selection or verification
	Host     string
	Token    string
	Model    string // may be empty until the device reports it
	Name     string
}

// successKeyMap defines key bindings for the success screen
type successKeyMap struct {
	Another key.Binding
	Quit    key.Binding
}

// ShortHelp returns keybindings to be shown in the mini help view
func (k successKeyMap) ShortHelp() []key.Binding {
	return []key.Binding{k.Another, k.Quit}
}

// FullHelp returns keybindings for the expanded help view
func (k successKeyMap) FullHelp() [][]key.Binding {
	return [][]key.Binding{
		{k.Another, k.Quit},
	}
}

// failureKeyMap defines key bindings for the failure screen
type failureKeyMap struct {
	Retry key.Binding
	Edit  key.Binding
	Menu  key.Binding
	Quit  key.Binding
}

// ShortHelp returns keybindings to be shown in the mini help view
func (k failureKeyMap) ShortHelp() []key.Binding {
	return []key.Binding{k.Retry, k.Edit, k.Menu, k.Quit}
}

// FullHelp returns keybindings for the expanded help view
func (k failureKeyMap) FullHelp() [][]key.Binding {
	return [][]key.Binding{
		{k.Retry, k.Edit, k.Menu, k.Quit},
	}
}

// AppModel is the top-level coordinator model that manages screen transitions
type AppModel struct {
	// Current screen state
	CurrentScreen  Screen
	PreviousScreen Screen

	// Screen models
	MenuModel      MenuModel
	CloudModel     CloudModel
	ManualModel    ManualModel
	DiscoveryModel DiscoveryModel
	VerifyModel    VerifyModel

	// Shared application state
	Registry  *config.Registry
	Candidate candidate
	LastError error

	// UI state
	Width  int
	Height int

	// Help
	Help        help.Model
	SuccessKeys successKeyMap
	FailureKeys failureKeyMap
}

// NewAppModel creates a new application model starting at the main menu.
func NewAppModel(registry *config.Registry) AppModel {
	h := help.New()

	successKeys := successKeyMap{
		Another: key.NewBinding(
			key.WithKeys("a"),
			key.WithHelp("a", "add another"),
		),
		Quit: key.NewBinding(
			key.WithKeys("q", "enter"),
			key.WithHelp("q/enter", "quit"),
		),
	}

	failureKeys := failureKeyMap{
		Retry: key.NewBinding(
			key.WithKeys("r"),
			key.WithHelp("r", "retry"),
		),
		Edit: key.NewBinding(
			key.WithKeys("e"),
			key.WithHelp("e", "edit"),
		),
		Menu: key.NewBinding(
			key.WithKeys("m"),
			key.WithHelp("m", "main menu"),
		),
		Quit: key.NewBinding(
			key.WithKeys("q"),
			key.WithHelp("q", "quit"),
		),
	}

	return AppModel{
		CurrentScreen: ScreenMenu,
		MenuModel:     NewMenuModel(),
		Registry:      registry,
		Help:          h,
		SuccessKeys:   successKeys,
		FailureKeys:   failureKeys,
	}
}

// Init initializes the application
func (m AppModel) Init() tea.Cmd {
	return m.MenuModel.Init()
}

// Update handles all messages and routes them to the appropriate screen
func (m AppModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.Width = msg.Width
		m.Height = msg.Height
		// Propagate to all screens
		m.MenuModel.Width, m.MenuModel.Height = msg.Width, msg.Height
		m.CloudModel.Width, m.CloudModel.Height = msg.Width, msg.Height
		m.ManualModel.Width, m.ManualModel.Height = msg.Width, msg.Height
		m.DiscoveryModel.Width, m.DiscoveryModel.Height = msg.Width, msg.Height
		m.VerifyModel.Width, m.VerifyModel.Height = msg.Width, msg.Height
		return m, nil

	case tea.KeyMsg:
		// Global quit handler
		if msg.String() == "ctrl+c" {
			return m, tea.Quit
		}

	case screenTransitionMsg:
		return m.transitionTo(msg.screen)

	case goBackMsg:
		return m.goBack()
	}

	return m.updateCurrentScreen(msg)
}

// updateCurrentScreen routes updates to the currently active screen
func (m AppModel) updateCurrentScreen(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmd tea.Cmd

	switch m.CurrentScreen {
	case ScreenMenu:
		updated, c := m.MenuModel.Update(msg)
		m.MenuModel = updated.(MenuModel)
		cmd = c

		switch m.MenuModel.Choice {
		case menuChoiceCloud:
			m.MenuModel.Choice = menuChoiceNone
			return m.transitionTo(ScreenCloudLogin)
		case menuChoiceManual:
			m.MenuModel.Choice = menuChoiceNone
			return m.transitionTo(ScreenManual)
		case menuChoiceDiscovery:
			m.MenuModel.Choice = menuChoiceNone
			return m.transitionTo(ScreenDiscovery)
		case menuChoiceQuit:
			return m, tea.Quit
		}

	case ScreenCloudLogin, ScreenCloudDevices:
		updated, c := m.CloudModel.Update(msg)
		m.CloudModel = updated.(CloudModel)
		cmd = c

		if m.CloudModel.Cancelled {
			return m.transitionTo(ScreenMenu)
		}
		if sel := m.CloudModel.SelectedDevice(); sel != nil {
			m.Candidate = candidate{
				DeviceID: sel.DID,
				Host:     sel.LocalIP,
				Token:    sel.Token,
				Model:    sel.Model,
				Name:     sel.Name,
			}
			return m.transitionTo(ScreenVerify)
		}

	case ScreenManual:
		updated, c := m.ManualModel.Update(msg)
		m.ManualModel = updated.(ManualModel)
		cmd = c

		if m.ManualModel.Cancelled {
			return m.transitionTo(ScreenMenu)
		}
		if m.ManualModel.Submitted {
			m.Candidate = m.ManualModel.Candidate()
			return m.transitionTo(ScreenVerify)
		}

	case ScreenDiscovery:
		updated, c := m.DiscoveryModel.Update(msg)
		m.DiscoveryModel = updated.(DiscoveryModel)
		cmd = c

		if m.DiscoveryModel.Cancelled {
			return m.transitionTo(ScreenMenu)
		}
		if m.DiscoveryModel.Submitted {
			m.Candidate = m.DiscoveryModel.Candidate()
			return m.transitionTo(ScreenVerify)
		}

	case ScreenVerify:
		updated, c := m.VerifyModel.Update(msg)
		m.VerifyModel = updated.(VerifyModel)
		cmd = c

		switch m.VerifyModel.Outcome {
		case verifyOutcomeSaved:
			m.Candidate = m.VerifyModel.Candidate
			return m.transitionTo(ScreenSuccess)
		case verifyOutcomeFailed:
			m.LastError = m.VerifyModel.Err
			return m.transitionTo(ScreenFailure)
		}

	case ScreenSuccess:
		return m.handleSuccessScreen(msg)

	case ScreenFailure:
		return m.handleFailureScreen(msg)
	}

	return m, cmd
}

// handleSuccessScreen handles user input on the success screen
func (m AppModel) handleSuccessScreen(msg tea.Msg) (tea.Model, tea.Cmd) {
	if keyMsg, ok := msg.(tea.KeyMsg); ok {
		switch keyMsg.String() {
		case "a":
			m.Candidate = candidate{}
			return m.transitionTo(ScreenMenu)

		case "q", "enter", "esc":
			return m, tea.Quit
		}
	}

	return m, nil
}

// handleFailureScreen handles user input on the failure screen
func (m AppModel) handleFailureScreen(msg tea.Msg) (tea.Model, tea.Cmd) {
	if keyMsg, ok := msg.(tea.KeyMsg); ok {
		switch keyMsg.String() {
		case "r":
			// Retry the connection test with the same candidate
			return m.transitionTo(ScreenVerify)

		case "e":
			// Edit the connection details
			return m.transitionTo(ScreenManual)

		case "m", "esc":
			return m.transitionTo(ScreenMenu)

		case "q":
			return m, tea.Quit
		}
	}

	return m, nil
}

// transitionTo transitions to a new screen
func (m AppModel) transitionTo(screen Screen) (tea.Model, tea.Cmd) {
	m.PreviousScreen = m.CurrentScreen
	m.CurrentScreen = screen

	var cmd tea.Cmd

	switch screen {
	case ScreenMenu:
		m.MenuModel = NewMenuModel()
		cmd = m.MenuModel.Init()

	case ScreenCloudLogin:
		m.CloudModel = NewCloudModel(m.Registry)
		cmd = m.CloudModel.Init()

	case ScreenManual:
		m.ManualModel = NewManualModel(m.Candidate)
		cmd = m.ManualModel.Init()

	case ScreenDiscovery:
		m.DiscoveryModel = NewDiscoveryModel()
		cmd = m.DiscoveryModel.Init()

	case ScreenVerify:
		m.VerifyModel = NewVerifyModel(m.Registry, m.Candidate)
		cmd = m.VerifyModel.Init()
	}

	// Carry terminal dimensions into the fresh screen model
	m.MenuModel.Width, m.MenuModel.Height = m.Width, m.Height
	m.CloudModel.Width, m.CloudModel.Height = m.Width, m.Height
	m.ManualModel.Width, m.ManualModel.Height = m.Width, m.Height
	m.DiscoveryModel.Width, m.DiscoveryModel.Height = m.Width, m.Height
	m.VerifyModel.Width, m.VerifyModel.Height = m.Width, m.Height

	return m, cmd
}

// goBack returns to the previous screen
func (m AppModel) goBack() (tea.Model, tea.Cmd) {
	switch m.CurrentScreen {
	case ScreenMenu:
		return m, tea.Quit
	default:
		return m.transitionTo(ScreenMenu)
	}
}

// View renders the current screen
// Each screen handles its own container using RenderApplicationContainer()
func (m AppModel) View() string {
	switch m.CurrentScreen {
	case ScreenMenu:
		return m.MenuModel.View()
	case ScreenCloudLogin, ScreenCloudDevices:
		return m.CloudModel.View()
	case ScreenManual:
		return m.ManualModel.View()
	case ScreenDiscovery:
		return m.DiscoveryModel.View()
	case ScreenVerify:
		return m.VerifyModel.View()
	case ScreenSuccess:
		return m.renderSuccessScreen()
	case ScreenFailure:
		return m.renderFailureScreen()
	default:
		return "Unknown screen"
	}
}

// renderSuccessScreen renders the success result screen
func (m AppModel) renderSuccessScreen() string {
	content := m.buildSuccessContent()
	helpText := m.Help.View(m.SuccessKeys)
	return RenderApplicationContainer(content, helpText, m.Width, m.Height)
}

// buildSuccessContent builds the success screen content
func (m AppModel) buildSuccessContent() string {
	var b strings.Builder

	b.WriteString(RenderTitle("✓ Device Added Successfully!"))
	b.WriteString("\n\n")

	b.WriteString(SuccessBoxStyle.Render("Saved device:"))
	b.WriteString("\n\n")

	details := fmt.Sprintf("  Name:      %s\n", m.Candidate.Name)
	details += fmt.Sprintf("  Device ID: %s\n", m.Candidate.DeviceID)
	details += fmt.Sprintf("  Model:     %s\n", m.Candidate.Model)
	details += fmt.Sprintf("  Host:      %s", m.Candidate.Host)
	b.WriteString(details)
	b.WriteString("\n\n")

	b.WriteString("The device is now part of the configuration. Start the daemon\n")
	b.WriteString("with 'miiobridged serve' to begin publishing it.\n\n")

	b.WriteString(MenuItemStyle.Render("  a       - Add another device"))
	b.WriteString("\n")
	b.WriteString(MenuItemStyle.Render("  q/enter - Exit wizard"))
	b.WriteString("\n")

	return b.String()
}

// renderFailureScreen renders the failure result screen
func (m AppModel) renderFailureScreen() string {
	content := m.buildFailureContent()
	helpText := m.Help.View(m.FailureKeys)
	return RenderApplicationContainer(content, helpText, m.Width, m.Height)
}

// buildFailureContent builds the failure screen content
func (m AppModel) buildFailureContent() string {
	var b strings.Builder

	b.WriteString(RenderTitle("✗ Could Not Add Device"))
	b.WriteString("\n\n")

	if m.LastError != nil {
		errorBox := ErrorBoxStyle.Render(fmt.Sprintf("Error: %v", m.LastError))
		b.WriteString(errorBox)
		b.WriteString("\n\n")
	}

	// Troubleshooting hints
	b.WriteString("Troubleshooting:\n")
	b.WriteString("  • Check the device is powered on and reachable on the network\n")
	b.WriteString("  • A checksum failure means the token is wrong; re-extract it\n")
	b.WriteString("    from the cloud account or the Mi Home app\n")
	b.WriteString("  • Some devices only answer on the same L2 segment (no VLAN hop)\n\n")

	b.WriteString("What would you like to do?\n\n")

	b.WriteString(MenuItemStyle.Render("  r - Retry the connection test"))
	b.WriteString("\n")
	b.WriteString(MenuItemStyle.Render("  e - Edit host and token"))
	b.WriteString("\n")
	b.WriteString(MenuItemStyle.Render("  m - Back to main menu"))
	b.WriteString("\n")
	b.WriteString(MenuItemStyle.Render("  q - Exit wizard"))
	b.WriteString("\n")

	return b.String()
}
