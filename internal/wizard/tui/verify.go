package tui

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/muurk/miiobridge/internal/config"
	"github.com/muurk/miiobridge/internal/miio"
)

// verifyTimeout bounds the whole connection test.
const verifyTimeout = 15 * time.Second

// verifyOutcome is the final state of the verification screen.
type verifyOutcome int

const (
	verifyOutcomePending verifyOutcome = iota
	verifyOutcomeSaved
	verifyOutcomeFailed
)

// verifyResultMsg carries the connection test result.
type verifyResultMsg struct {
	deviceID string
	info     *miio.Info
	err      error
}

// VerifyModel connects to the candidate device, confirms the token
// works, detects the model when it is not known yet and persists the
// entry in the registry.
type VerifyModel struct {
	Registry  *config.Registry
	Candidate candidate

	Outcome verifyOutcome
	Err     error

	Width  int
	Height int

	Spinner spinner.Model
}

// NewVerifyModel creates the verification screen for one candidate.
func NewVerifyModel(registry *config.Registry, c candidate) VerifyModel {
	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = SpinnerStyle

	return VerifyModel{
		Registry:  registry,
		Candidate: c,
		Spinner:   s,
	}
}

// Init starts the connection test
func (m VerifyModel) Init() tea.Cmd {
	return tea.Batch(
		verifyDevice(m.Candidate),
		m.Spinner.Tick,
	)
}

// Update handles messages and updates the model
func (m VerifyModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case verifyResultMsg:
		if msg.err != nil {
			m.Outcome = verifyOutcomeFailed
			m.Err = msg.err
			return m, nil
		}

		// Cloud selection already knows the ID; otherwise the handshake
		// revealed it.
		if m.Candidate.DeviceID == "" {
			m.Candidate.DeviceID = msg.deviceID
		}
		if msg.info != nil && msg.info.Model != "" {
			m.Candidate.Model = msg.info.Model
		}
		if m.Candidate.Name == "" {
			m.Candidate.Name = fmt.Sprintf("%s (%s)", m.Candidate.Model, m.Candidate.DeviceID)
		}

		if err := m.save(); err != nil {
			m.Outcome = verifyOutcomeFailed
			m.Err = err
			return m, nil
		}
		m.Outcome = verifyOutcomeSaved
		return m, nil

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.Spinner, cmd = m.Spinner.Update(msg)
		return m, cmd
	}

	return m, nil
}

// save persists the verified candidate in the registry.
func (m VerifyModel) save() error {
	entry := &config.Entry{
		Name:  m.Candidate.Name,
		Host:  m.Candidate.Host,
		Token: m.Candidate.Token,
		Model: m.Candidate.Model,
	}
	if err := m.Registry.SetEntry(m.Candidate.DeviceID, entry); err != nil {
		return err
	}
	if err := m.Registry.Save(); err != nil {
		return fmt.Errorf("saving configuration: %w", err)
	}
	return nil
}

// View renders the verification progress
func (m VerifyModel) View() string {
	var b strings.Builder

	b.WriteString(RenderTitle("Testing Connection"))
	b.WriteString("\n\n")
	b.WriteString(fmt.Sprintf("  %s Connecting to %s...\n\n", m.Spinner.View(), m.Candidate.Host))
	b.WriteString(SubtitleStyle.Render("  Performing handshake and reading device information"))
	b.WriteString("\n")

	return RenderApplicationContainer(b.String(), "please wait...", m.Width, m.Height)
}

// verifyDevice runs the actual connection test: handshake, then a
// miIO.info call to confirm the token and detect the model.
func verifyDevice(c candidate) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), verifyTimeout)
		defer cancel()

		client, err := miio.NewClient(c.Host, c.Token)
		if err != nil {
			return verifyResultMsg{err: err}
		}
		defer client.Close()

		if err := client.Handshake(ctx); err != nil {
			return verifyResultMsg{err: fmt.Errorf("handshake with %s failed: %w", c.Host, err)}
		}
		deviceID := strconv.FormatUint(uint64(client.DeviceID()), 10)

		info, err := miio.NewDevice(client, nil).Info(ctx)
		if err != nil {
			if miio.IsChecksum(err) {
				return verifyResultMsg{err: fmt.Errorf("the device rejected the token; check it was copied correctly: %w", err)}
			}
			// Some devices answer the handshake but not miIO.info. With a
			// model already known (cloud or mDNS) that is good enough.
			if c.Model != "" {
				return verifyResultMsg{deviceID: deviceID}
			}
			return verifyResultMsg{err: fmt.Errorf("reading device info failed: %w", err)}
		}

		return verifyResultMsg{deviceID: deviceID, info: info}
	}
}
