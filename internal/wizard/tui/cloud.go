package tui

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/list"
	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/muurk/miiobridge/internal/cloud"
	"github.com/muurk/miiobridge/internal/config"
)

// cloudTimeout bounds one cloud API exchange from the wizard.
const cloudTimeout = 30 * time.Second

// cloudPhase tracks where in the cloud flow the user is.
type cloudPhase int

const (
	cloudPhaseLogin cloudPhase = iota
	cloudPhaseAuthenticating
	cloudPhaseList
)

// Field indexes in the login form.
const (
	cloudFieldUsername = iota
	cloudFieldPassword
	cloudFieldRegion
	cloudFieldCount
)

// Messages for async cloud operations
type cloudDevicesMsg struct {
	devices []cloud.DeviceInfo
	err     error
}

// cloudKeyMap defines key bindings for the login form
type cloudKeyMap struct {
	Next    key.Binding
	Confirm key.Binding
	Cancel  key.Binding
}

// ShortHelp returns keybindings to be shown in the mini help view
func (k cloudKeyMap) ShortHelp() []key.Binding {
	return []key.Binding{k.Next, k.Confirm, k.Cancel}
}

// FullHelp returns keybindings for the expanded help view
func (k cloudKeyMap) FullHelp() [][]key.Binding {
	return [][]key.Binding{
		{k.Next, k.Confirm, k.Cancel},
	}
}

// cloudDeviceItem wraps a cloud device for use with bubbles/list
type cloudDeviceItem struct {
	device cloud.DeviceInfo
}

// FilterValue implements list.Item
func (d cloudDeviceItem) FilterValue() string {
	return d.device.Name + " " + d.device.Model + " " + d.device.DID
}

// Title returns the device name for list display
func (d cloudDeviceItem) Title() string {
	if d.device.Name != "" {
		return d.device.Name
	}
	return d.device.Model
}

// Description returns device details for list display
func (d cloudDeviceItem) Description() string {
	online := "offline"
	if d.device.IsOnline {
		online = "online"
	}
	return fmt.Sprintf("%s • %s • %s", d.device.Model, d.device.LocalIP, online)
}

// CloudModel drives the Xiaomi cloud flow: account login, then device
// selection. The account password is used for the session only and is
// never persisted; the username and region are remembered in the
// registry preferences so later logins only prompt for the password.
type CloudModel struct {
	Phase cloudPhase

	// Login form
	Inputs  []textinput.Model
	Focused int

	// Device selection
	DeviceList list.Model
	selected   *cloud.DeviceInfo

	Cancelled bool
	Err       error

	registry *config.Registry

	Width  int
	Height int

	Spinner spinner.Model
	Help    help.Model
	Keys    cloudKeyMap
}

// NewCloudModel creates the cloud login screen, pre-filling username and
// region from stored preferences.
func NewCloudModel(registry *config.Registry) CloudModel {
	inputs := make([]textinput.Model, cloudFieldCount)

	username := textinput.New()
	username.Placeholder = "account email or ID"
	username.CharLimit = 64
	username.Width = 40
	username.Focus()
	inputs[cloudFieldUsername] = username

	password := textinput.New()
	password.Placeholder = "password (never stored)"
	password.CharLimit = 64
	password.Width = 40
	password.EchoMode = textinput.EchoPassword
	password.EchoCharacter = '•'
	inputs[cloudFieldPassword] = password

	region := textinput.New()
	region.Placeholder = "cn, de, i2, ru, sg or us"
	region.CharLimit = 2
	region.Width = 40
	region.SetValue(cloud.DefaultRegion)
	inputs[cloudFieldRegion] = region

	if registry != nil && registry.Preferences != nil && registry.Preferences.Cloud != nil {
		if registry.Preferences.Cloud.Username != "" {
			inputs[cloudFieldUsername].SetValue(registry.Preferences.Cloud.Username)
		}
		if registry.Preferences.Cloud.Region != "" {
			inputs[cloudFieldRegion].SetValue(registry.Preferences.Cloud.Region)
		}
	}

	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = SpinnerStyle

	delegate := list.NewDefaultDelegate()
	deviceList := list.New([]list.Item{}, delegate, 0, 0)
	deviceList.Title = "Cloud Devices"
	deviceList.SetShowStatusBar(false)
	deviceList.SetFilteringEnabled(true)
	deviceList.Styles.Title = TitleStyle

	keys := cloudKeyMap{
		Next: key.NewBinding(
			key.WithKeys("tab"),
			key.WithHelp("tab", "next field"),
		),
		Confirm: key.NewBinding(
			key.WithKeys("enter"),
			key.WithHelp("enter", "log in"),
		),
		Cancel: key.NewBinding(
			key.WithKeys("esc"),
			key.WithHelp("esc", "back"),
		),
	}

	return CloudModel{
		Phase:      cloudPhaseLogin,
		Inputs:     inputs,
		DeviceList: deviceList,
		registry:   registry,
		Spinner:    s,
		Help:       help.New(),
		Keys:       keys,
	}
}

// Init initializes the cloud model
func (m CloudModel) Init() tea.Cmd {
	return textinput.Blink
}

// Update handles messages and updates the model
func (m CloudModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch m.Phase {
		case cloudPhaseLogin:
			return m.updateLoginForm(msg)
		case cloudPhaseList:
			return m.updateDeviceList(msg)
		default:
			if msg.String() == "esc" {
				m.Cancelled = true
			}
			return m, nil
		}

	case tea.WindowSizeMsg:
		m.Width = msg.Width
		m.Height = msg.Height
		m.DeviceList.SetWidth(msg.Width - 4)
		m.DeviceList.SetHeight(msg.Height - 10)

	case cloudDevicesMsg:
		if msg.err != nil {
			m.Phase = cloudPhaseLogin
			m.Err = msg.err
			return m, nil
		}
		// A single result needs no selection step
		if len(msg.devices) == 1 {
			device := msg.devices[0]
			m.selected = &device
			return m, nil
		}
		items := make([]list.Item, len(msg.devices))
		for i, dev := range msg.devices {
			items[i] = cloudDeviceItem{device: dev}
		}
		m.DeviceList.SetItems(items)
		m.Phase = cloudPhaseList
		return m, nil

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.Spinner, cmd = m.Spinner.Update(msg)
		return m, cmd
	}

	var cmd tea.Cmd
	if m.Phase == cloudPhaseLogin {
		m.Inputs[m.Focused], cmd = m.Inputs[m.Focused].Update(msg)
	}
	return m, cmd
}

// updateLoginForm handles keyboard input on the login form
func (m CloudModel) updateLoginForm(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "esc":
		m.Cancelled = true
		return m, nil

	case "tab", "down":
		m.setFocus((m.Focused + 1) % cloudFieldCount)
		return m, nil

	case "shift+tab", "up":
		m.setFocus((m.Focused + cloudFieldCount - 1) % cloudFieldCount)
		return m, nil

	case "enter":
		if m.Focused < cloudFieldCount-1 {
			m.setFocus(m.Focused + 1)
			return m, nil
		}

		username := strings.TrimSpace(m.Inputs[cloudFieldUsername].Value())
		password := m.Inputs[cloudFieldPassword].Value()
		region := strings.TrimSpace(m.Inputs[cloudFieldRegion].Value())

		if username == "" || password == "" {
			m.Err = fmt.Errorf("username and password are required")
			return m, nil
		}
		if !cloud.IsValidRegion(region) {
			m.Err = fmt.Errorf("unknown region %q", region)
			return m, nil
		}

		m.Err = nil
		m.Phase = cloudPhaseAuthenticating
		m.rememberAccount(username, region)
		return m, tea.Batch(
			fetchCloudDevices(username, password, region, m.registry),
			m.Spinner.Tick,
		)
	}

	var cmd tea.Cmd
	m.Inputs[m.Focused], cmd = m.Inputs[m.Focused].Update(msg)
	return m, cmd
}

// updateDeviceList handles keyboard input on the device selection list
func (m CloudModel) updateDeviceList(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	// Leave filtering keystrokes to the list while a filter is open
	if m.DeviceList.FilterState() == list.Filtering {
		var cmd tea.Cmd
		m.DeviceList, cmd = m.DeviceList.Update(msg)
		return m, cmd
	}

	switch msg.String() {
	case "esc", "q":
		m.Cancelled = true
		return m, nil

	case "enter", " ":
		if item, ok := m.DeviceList.SelectedItem().(cloudDeviceItem); ok {
			device := item.device
			m.selected = &device
		}
		return m, nil
	}

	var cmd tea.Cmd
	m.DeviceList, cmd = m.DeviceList.Update(msg)
	return m, cmd
}

// setFocus moves keyboard focus between form fields.
func (m *CloudModel) setFocus(field int) {
	m.Inputs[m.Focused].Blur()
	m.Focused = field
	m.Inputs[m.Focused].Focus()
}

// rememberAccount stores username and region in preferences. The
// password is deliberately not part of the preferences type.
func (m CloudModel) rememberAccount(username, region string) {
	if m.registry == nil {
		return
	}
	if m.registry.Preferences == nil {
		m.registry.Preferences = &config.Preferences{}
	}
	m.registry.Preferences.Cloud = &config.CloudPrefs{
		Username: username,
		Region:   region,
	}
}

// SelectedDevice returns the chosen cloud device, nil while undecided.
func (m CloudModel) SelectedDevice() *cloud.DeviceInfo {
	return m.selected
}

// View renders the cloud screen
func (m CloudModel) View() string {
	var content, helpText string

	switch m.Phase {
	case cloudPhaseLogin:
		content = m.renderLoginForm()
		helpText = m.Help.View(m.Keys)

	case cloudPhaseAuthenticating:
		content = fmt.Sprintf("\n  %s Logging in and fetching the device list...\n", m.Spinner.View())
		helpText = "esc: cancel"

	case cloudPhaseList:
		content = m.DeviceList.View()
		helpText = "enter: select • /: filter • esc: back"
	}

	return RenderApplicationContainer(content, helpText, m.Width, m.Height)
}

// renderLoginForm renders the account credentials form
func (m CloudModel) renderLoginForm() string {
	var b strings.Builder

	b.WriteString(RenderTitle("Xiaomi Cloud Login"))
	b.WriteString("\n")
	b.WriteString(RenderSubtitle("The password is used for this session only and never written to disk."))
	b.WriteString("\n\n")

	labels := []string{"Username", "Password", "Region  "}
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

	return b.String()
}

// fetchCloudDevices logs in and lists controllable devices, filtering
// out devices that are already configured and children that ride on a
// gateway rather than answering UDP themselves.
func fetchCloudDevices(username, password, region string, registry *config.Registry) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), cloudTimeout)
		defer cancel()

		client, err := cloud.Login(username, password, region)
		if err != nil {
			return cloudDevicesMsg{err: fmt.Errorf("cloud login failed: %w", err)}
		}

		devices, err := client.ControllableDevices(ctx)
		if err != nil {
			return cloudDevicesMsg{err: fmt.Errorf("listing devices failed: %w", err)}
		}

		// A failed session cache only means the next login asks again.
		_ = client.SaveSession()

		filtered := make([]cloud.DeviceInfo, 0, len(devices))
		for _, dev := range devices {
			if registry != nil && registry.GetEntry(dev.DID) != nil {
				continue
			}
			filtered = append(filtered, dev)
		}

		if len(filtered) == 0 {
			return cloudDevicesMsg{err: fmt.Errorf("no unconfigured controllable devices in this account")}
		}
		return cloudDevicesMsg{devices: filtered}
	}
}
