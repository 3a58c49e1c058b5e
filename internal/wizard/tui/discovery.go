package tui

import (
	"context"
	"fmt"
	"io"
	"regexp"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/list"
	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/muurk/miiobridge/internal/discovery"
)

// discoveryTokenPattern matches a miio device token: exactly 32 hex characters.
var discoveryTokenPattern = regexp.MustCompile(`^[0-9a-fA-F]{32}$`)

// Messages for async operations
type scanStartMsg struct{}
type scanCompleteMsg struct {
	devices []*discovery.Device
	err     error
}

// discoveryKeyMap defines key bindings for the discovery screen
type discoveryKeyMap struct {
	Up     key.Binding
	Down   key.Binding
	Enter  key.Binding
	Rescan key.Binding
	Back   key.Binding
}

// ShortHelp returns keybindings to be shown in the mini help view
func (k discoveryKeyMap) ShortHelp() []key.Binding {
	return []key.Binding{k.Up, k.Down, k.Enter, k.Rescan, k.Back}
}

// FullHelp returns keybindings for the expanded help view
func (k discoveryKeyMap) FullHelp() [][]key.Binding {
	return [][]key.Binding{
		{k.Up, k.Down, k.Enter},
		{k.Rescan, k.Back},
	}
}

// tokenModeKeyMap defines key bindings for token entry mode
type tokenModeKeyMap struct {
	Confirm key.Binding
	Cancel  key.Binding
}

// ShortHelp returns keybindings to be shown in the mini help view
func (t tokenModeKeyMap) ShortHelp() []key.Binding {
	return []key.Binding{t.Confirm, t.Cancel}
}

// FullHelp returns keybindings for the expanded help view
func (t tokenModeKeyMap) FullHelp() [][]key.Binding {
	return [][]key.Binding{
		{t.Confirm, t.Cancel},
	}
}

// scanningKeyMap defines key bindings for scanning mode
type scanningKeyMap struct {
	Back key.Binding
}

// ShortHelp returns keybindings to be shown in the mini help view
func (s scanningKeyMap) ShortHelp() []key.Binding {
	return []key.Binding{s.Back}
}

// FullHelp returns keybindings for the expanded help view
func (s scanningKeyMap) FullHelp() [][]key.Binding {
	return [][]key.Binding{
		{s.Back},
	}
}

// emptyScreenKeyMap defines key bindings for empty results screen
type emptyScreenKeyMap struct {
	Rescan key.Binding
	Back   key.Binding
}

// ShortHelp returns keybindings to be shown in the mini help view
func (e emptyScreenKeyMap) ShortHelp() []key.Binding {
	return []key.Binding{e.Rescan, e.Back}
}

// FullHelp returns keybindings for the expanded help view
func (e emptyScreenKeyMap) FullHelp() [][]key.Binding {
	return [][]key.Binding{
		{e.Rescan, e.Back},
	}
}

// deviceItem wraps a Device for use with bubbles/list
type deviceItem struct {
	device *discovery.Device
}

// FilterValue implements list.Item: filter by ID, model or IP.
func (d deviceItem) FilterValue() string {
	return d.device.DeviceID + " " + d.device.Model + " " + d.device.IP
}

// Title returns the device name for list display
func (d deviceItem) Title() string {
	if d.device.Model != "" {
		return d.device.Model
	}
	return "miio device " + d.device.DeviceID
}

// Description returns device details for list display
func (d deviceItem) Description() string {
	return fmt.Sprintf("%s • ID %s • via %s", d.device.IP, d.device.DeviceID, d.device.Source)
}

// deviceDelegate is a custom list delegate for rendering device cards
type deviceDelegate struct {
	width int
}

func (d deviceDelegate) Height() int { return 8 } // Card height including borders

func (d deviceDelegate) Spacing() int { return 1 } // Spacing between cards

func (d deviceDelegate) Update(msg tea.Msg, m *list.Model) tea.Cmd { return nil }

func (d deviceDelegate) Render(w io.Writer, m list.Model, index int, item list.Item) {
	deviceItem, ok := item.(deviceItem)
	if !ok {
		return
	}

	device := deviceItem.device
	selected := index == m.Index()

	deviceName := device.Model
	if deviceName == "" {
		deviceName = "unknown model"
	}

	var content strings.Builder

	// Add selection indicator to device name
	if selected {
		content.WriteString(SelectedMenuItemStyle.Render("→ " + deviceName))
	} else {
		content.WriteString("  " + deviceName)
	}
	content.WriteString("\n\n")

	// Device details
	content.WriteString(fmt.Sprintf("  Device ID: %s\n", device.DeviceID))
	content.WriteString(fmt.Sprintf("  IP:        %s\n", device.IP))
	content.WriteString(fmt.Sprintf("  Found via: %s\n", device.Source))

	statusStyle := lipgloss.NewStyle().Foreground(SecondaryColor).Bold(true)
	content.WriteString(fmt.Sprintf("  Status:    %s", statusStyle.Render("Answering")))

	cardStyle := lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(BorderColor).
		Padding(1, 2).
		MarginLeft(2)

	// Calculate card width (leave room for margins and borders)
	cardWidth := d.width - 6
	if cardWidth < MinTerminalWidth-6 {
		cardWidth = MinTerminalWidth - 6
	}
	if cardWidth > MaxContentWidth-6 {
		cardWidth = MaxContentWidth - 6
	}

	cardStyle = cardStyle.Width(cardWidth)

	if selected {
		cardStyle = cardStyle.BorderForeground(HighlightColor)
	}

	fmt.Fprint(w, cardStyle.Render(content.String()))
}

// DiscoveryModel represents the device discovery screen state. mDNS and
// hello broadcast run together; selecting a device then prompts for its
// token, which discovery cannot reveal.
type DiscoveryModel struct {
	// Discovery state
	Scanning   bool
	DeviceList list.Model
	Err        error

	// Token entry state for the selected device
	TokenMode  bool
	TokenInput textinput.Model
	chosen     *discovery.Device
	TokenErr   error

	// Final outcome
	Submitted bool
	Cancelled bool

	// UI state
	Width         int
	Height        int
	Spinner       spinner.Model
	ProgressBar   progress.Model
	ScanStartTime time.Time
	Help          help.Model
	Keys          discoveryKeyMap
	TokenKeys     tokenModeKeyMap
	ScanningKeys  scanningKeyMap
	EmptyKeys     emptyScreenKeyMap
}

// NewDiscoveryModel creates a new discovery screen model
func NewDiscoveryModel() DiscoveryModel {
	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = SpinnerStyle

	tokenInput := textinput.New()
	tokenInput.Placeholder = "32 hexadecimal characters"
	tokenInput.CharLimit = 32
	tokenInput.Width = 40

	progressBar := progress.New(progress.WithDefaultGradient())
	progressBar.Width = 40

	delegate := deviceDelegate{width: MinTerminalWidth}
	deviceList := list.New([]list.Item{}, delegate, 0, 0)
	deviceList.Title = "Discovered Devices"
	deviceList.SetShowStatusBar(false)
	deviceList.SetFilteringEnabled(true)
	deviceList.Styles.Title = TitleStyle

	h := help.New()

	keys := discoveryKeyMap{
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
		Rescan: key.NewBinding(
			key.WithKeys("r"),
			key.WithHelp("r", "rescan"),
		),
		Back: key.NewBinding(
			key.WithKeys("esc", "q"),
			key.WithHelp("esc", "back"),
		),
	}

	tokenKeys := tokenModeKeyMap{
		Confirm: key.NewBinding(
			key.WithKeys("enter"),
			key.WithHelp("enter", "connect"),
		),
		Cancel: key.NewBinding(
			key.WithKeys("esc"),
			key.WithHelp("esc", "cancel"),
		),
	}

	scanningKeys := scanningKeyMap{
		Back: key.NewBinding(
			key.WithKeys("esc", "q"),
			key.WithHelp("esc", "back"),
		),
	}

	emptyKeys := emptyScreenKeyMap{
		Rescan: key.NewBinding(
			key.WithKeys("r"),
			key.WithHelp("r", "rescan"),
		),
		Back: key.NewBinding(
			key.WithKeys("esc", "q"),
			key.WithHelp("esc", "back"),
		),
	}

	return DiscoveryModel{
		DeviceList:   deviceList,
		TokenInput:   tokenInput,
		Spinner:      s,
		ProgressBar:  progressBar,
		Help:         h,
		Keys:         keys,
		TokenKeys:    tokenKeys,
		ScanningKeys: scanningKeys,
		EmptyKeys:    emptyKeys,
	}
}

// Init initializes the discovery model
func (m DiscoveryModel) Init() tea.Cmd {
	// Start scanning immediately - send start message then begin scan
	return tea.Batch(
		func() tea.Msg { return scanStartMsg{} },
		scanDevices,
		m.Spinner.Tick,
	)
}

// Update handles messages and updates the model
func (m DiscoveryModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmd tea.Cmd

	switch msg := msg.(type) {
	case tea.KeyMsg:
		if m.TokenMode {
			return m.updateTokenMode(msg)
		}
		return m.updateNormalMode(msg)

	case tea.WindowSizeMsg:
		m.Width = msg.Width
		m.Height = msg.Height
		m.DeviceList.SetWidth(msg.Width - 4)
		m.DeviceList.SetHeight(msg.Height - 10) // Leave room for header/footer

	case scanStartMsg:
		m.Scanning = true
		m.ScanStartTime = time.Now()

	case scanCompleteMsg:
		m.Scanning = false
		m.Err = msg.err
		items := make([]list.Item, len(msg.devices))
		for i, dev := range msg.devices {
			items[i] = deviceItem{device: dev}
		}
		m.DeviceList.SetItems(items)

	case spinner.TickMsg:
		m.Spinner, cmd = m.Spinner.Update(msg)
		return m, cmd
	}

	if !m.TokenMode && !m.Scanning {
		m.DeviceList, cmd = m.DeviceList.Update(msg)
	}

	return m, cmd
}

// updateNormalMode handles keyboard input in device list mode
func (m DiscoveryModel) updateNormalMode(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
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
		if item, ok := m.DeviceList.SelectedItem().(deviceItem); ok {
			m.chosen = item.device
			m.TokenMode = true
			m.TokenInput.SetValue("")
			m.TokenInput.Focus()
		}
		return m, nil

	case "r":
		m.DeviceList.SetItems([]list.Item{})
		m.Err = nil
		return m, tea.Batch(
			func() tea.Msg { return scanStartMsg{} },
			scanDevices,
			m.Spinner.Tick,
		)
	}

	// Let the list handle up/down navigation
	var cmd tea.Cmd
	m.DeviceList, cmd = m.DeviceList.Update(msg)
	return m, cmd
}

// updateTokenMode handles keyboard input while entering the token
func (m DiscoveryModel) updateTokenMode(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	var cmd tea.Cmd

	switch msg.String() {
	case "esc":
		m.TokenMode = false
		m.TokenErr = nil
		m.TokenInput.SetValue("")
		m.TokenInput.Blur()
		return m, nil

	case "enter":
		token := strings.TrimSpace(m.TokenInput.Value())
		if !discoveryTokenPattern.MatchString(token) {
			m.TokenErr = fmt.Errorf("token must be exactly 32 hexadecimal characters")
			return m, nil
		}
		m.TokenErr = nil
		m.Submitted = true
		return m, nil
	}

	m.TokenInput, cmd = m.TokenInput.Update(msg)
	return m, cmd
}

// Candidate returns the selected device with the entered token.
func (m DiscoveryModel) Candidate() candidate {
	c := candidate{Token: strings.TrimSpace(m.TokenInput.Value())}
	if m.chosen != nil {
		c.DeviceID = m.chosen.DeviceID
		c.Host = m.chosen.IP
		c.Model = m.chosen.Model
	}
	return c
}

// View renders the discovery screen
func (m DiscoveryModel) View() string {
	width := m.Width
	if width == 0 {
		width = MinTerminalWidth
	}

	var content string
	if m.TokenMode {
		content = m.renderTokenEntry()
	} else if m.Scanning {
		content = m.renderScanning(width)
	} else {
		content = m.renderDeviceResults()
	}

	// Determine context-sensitive help text using bubbles/help
	var helpText string
	if m.TokenMode {
		helpText = m.Help.View(m.TokenKeys)
	} else if m.Scanning {
		helpText = m.Help.View(m.ScanningKeys)
	} else if len(m.DeviceList.Items()) > 0 {
		helpText = m.Help.View(m.Keys)
	} else {
		helpText = m.Help.View(m.EmptyKeys)
	}

	return RenderApplicationContainer(content, helpText, m.Width, m.Height)
}

// renderScanning renders a centered scanning progress display
func (m DiscoveryModel) renderScanning(width int) string {
	elapsed := time.Since(m.ScanStartTime)
	elapsedSec := int(elapsed.Seconds())

	// The combined mDNS browse and hello broadcast run for ~10 seconds
	progressPercent := elapsedSec * 100 / 10
	if progressPercent > 100 {
		progressPercent = 100
	}
	progressFloat := float64(progressPercent) / 100.0

	title := fmt.Sprintf("%s SEARCHING FOR DEVICES", m.Spinner.View())
	subtitle := "Browsing mDNS and broadcasting hello packets..."

	progressBar := m.ProgressBar.ViewAs(progressFloat)
	elapsedText := fmt.Sprintf("Elapsed: %ds", elapsedSec)

	content := lipgloss.JoinVertical(lipgloss.Center,
		"", // Top spacing
		TitleStyle.Render(title),
		"",
		SubtitleStyle.Render(subtitle),
		"",
		progressBar,
		"",
		SubtitleStyle.Render(elapsedText),
		"", // Bottom spacing
	)

	return lipgloss.Place(width, 0, lipgloss.Center, lipgloss.Top, content)
}

// renderDeviceResults renders the device list or "no devices found" message
func (m DiscoveryModel) renderDeviceResults() string {
	var b strings.Builder

	b.WriteString("\n")

	if m.Err != nil {
		b.WriteString(RenderError(fmt.Sprintf("Scan failed: %v", m.Err)))
		b.WriteString("\n\n")

		b.WriteString("  Troubleshooting:\n")
		b.WriteString("    • Ensure the device is powered on and on the same network\n")
		b.WriteString("    • Multicast may be filtered; try the cloud or manual flow\n")

	} else if len(m.DeviceList.Items()) == 0 {
		b.WriteString("  ")
		warningStyle := lipgloss.NewStyle().Foreground(WarningColor).Bold(true)
		b.WriteString(warningStyle.Render("⚠ No miio devices found on your network"))
		b.WriteString("\n\n")

		b.WriteString("  Troubleshooting:\n")
		b.WriteString("    • Ensure the device is powered on and provisioned in Mi Home\n")
		b.WriteString("    • Some devices stop answering hello packets once provisioned;\n")
		b.WriteString("      use the cloud or manual flow instead\n")
		b.WriteString("    • Multicast does not cross most VLAN boundaries\n")
		b.WriteString("\n")

	} else {
		b.WriteString(m.DeviceList.View())
	}

	return b.String()
}

// renderTokenEntry renders the token prompt for the selected device
func (m DiscoveryModel) renderTokenEntry() string {
	var b strings.Builder

	if m.chosen != nil {
		b.WriteString(RenderTitle("Enter Token"))
		b.WriteString("\n")
		b.WriteString(RenderSubtitle(m.chosen.String()))
		b.WriteString("\n\n")
	}

	b.WriteString("  Token: ")
	b.WriteString(m.TokenInput.View())
	b.WriteString("\n\n")

	if m.TokenErr != nil {
		b.WriteString(RenderError(m.TokenErr.Error()))
		b.WriteString("\n")
	}

	return b.String()
}

// scanDevices is a command that performs device discovery over both
// mDNS and hello broadcast, merged and deduplicated by device ID.
func scanDevices() tea.Msg {
	ctx, cancel := context.WithTimeout(context.Background(), discovery.DefaultScanTimeout+5*time.Second)
	defer cancel()

	scanner := discovery.NewScanner()
	devices, err := scanner.ScanForDevicesWithContext(ctx)

	prober := discovery.NewProber()
	probed, probeErr := prober.Probe(ctx)
	if err != nil && probeErr != nil {
		return scanCompleteMsg{err: err}
	}

	seen := make(map[string]bool, len(devices))
	for _, dev := range devices {
		seen[dev.DeviceID] = true
	}
	for _, dev := range probed {
		if !seen[dev.DeviceID] {
			devices = append(devices, dev)
			seen[dev.DeviceID] = true
		}
	}

	return scanCompleteMsg{devices: devices}
}
