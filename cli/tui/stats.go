package tui

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/key"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/KendoTarakate/skin/session"
	"github.com/KendoTarakate/skin/types"
)

type tickMsg time.Time

type dataMsg struct {
	data any
	err  error
}

// StatsModel is a Bubble Tea model for the stats and skins views.
type StatsModel struct {
	view  string
	data  any
	err   error
	fetch Fetch
	every time.Duration

	width    int
	height   int
	quitting bool
}

// NewStatsModel creates a static model over data.
func NewStatsModel(view string, data any) StatsModel {
	return StatsModel{view: view, data: data}
}

// Init implements tea.Model.
func (m StatsModel) Init() tea.Cmd {
	return m.tick()
}

func (m StatsModel) tick() tea.Cmd {
	if m.fetch == nil || m.every <= 0 {
		return nil
	}
	return tea.Tick(m.every, func(t time.Time) tea.Msg { return tickMsg(t) })
}

func (m StatsModel) reload() tea.Cmd {
	if m.fetch == nil {
		return nil
	}
	fetch := m.fetch
	return func() tea.Msg {
		data, err := fetch()
		return dataMsg{data: data, err: err}
	}
}

// Update implements tea.Model.
func (m StatsModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height

	case tickMsg:
		return m, tea.Batch(m.reload(), m.tick())

	case dataMsg:
		m.err = msg.err
		if msg.err == nil {
			m.data = msg.data
		}

	case tea.KeyMsg:
		switch {
		case key.Matches(msg, keys.Quit):
			m.quitting = true
			return m, tea.Quit
		case key.Matches(msg, keys.Refresh):
			return m, m.reload()
		}
	}
	return m, nil
}

// View implements tea.Model.
func (m StatsModel) View() string {
	if m.quitting {
		return ""
	}

	var content string
	switch m.view {
	case ViewStats:
		content = m.renderStats()
	case ViewSkins:
		content = m.renderSkins()
	default:
		content = fmt.Sprintf("Unknown view: %s", m.view)
	}
	if m.err != nil {
		content += "\n" + ErrorStyle.Render("refresh failed: "+m.err.Error())
	}

	help := "Press q to quit"
	if m.fetch != nil {
		help = "Press r to refresh, q to quit"
	}
	return content + "\n" + HelpStyle.Render(help)
}

func (m StatsModel) renderStats() string {
	var s *session.StatsResponse
	switch d := m.data.(type) {
	case *session.StatsResponse:
		s = d
	case session.StatsResponse:
		s = &d
	}
	if s == nil {
		return "Invalid data type for stats"
	}
	mt := s.Metrics

	var b strings.Builder
	b.WriteString(TitleStyle.Render(fmt.Sprintf("skinsync %s (protocol %d)", s.Version, s.Protocol)))
	b.WriteString("\n")

	b.WriteString(lipgloss.JoinHorizontal(lipgloss.Top,
		statBox("Participants", int64(len(s.Participants)), highlightColor),
		statBox("Records", int64(s.Records), primaryColor),
		statBox("In flight", int64(s.Transfers.InFlight), warningColor),
	))
	b.WriteString("\n")

	b.WriteString(lipgloss.JoinHorizontal(lipgloss.Top,
		statBox("Completed", mt.TransfersCompleted, successColor),
		statBox("Incomplete", mt.TransfersIncomplete, warningColor),
		statBox("Evicted", mt.TransfersEvicted, mutedColor),
		statBox("Decode errors", mt.DecodeErrors, errorColor),
	))
	b.WriteString("\n")

	b.WriteString(lipgloss.JoinHorizontal(lipgloss.Top,
		statBox("Sent", mt.FanoutSent, successColor),
		statBox("Failed", mt.FanoutFailed, rateColor(mt.FanoutFailed, mt.FanoutSent)),
		statBox("Replays", mt.Replays, highlightColor),
		statBox("Resets", mt.Resets, mutedColor),
	))
	b.WriteString("\n\n")

	b.WriteString(field("Storage", mt.StorageBackend))
	b.WriteString(field("Bytes in", fmt.Sprintf("%d", mt.BytesAssembled)))
	b.WriteString(field("Connections", fmt.Sprintf("%d opened, %d closed", mt.ConnectionsOpened, mt.ConnectionsClosed)))

	if len(s.Participants) > 0 {
		b.WriteString("\n")
		b.WriteString(TitleStyle.Render("Participants"))
		b.WriteString("\n")
		for _, p := range s.Participants {
			b.WriteString(field(p.Name, p.ID))
		}
	}
	return b.String()
}

func (m StatsModel) renderSkins() string {
	records, ok := m.data.([]types.RecordMeta)
	if !ok {
		return "Invalid data type for skins"
	}

	var b strings.Builder
	b.WriteString(TitleStyle.Render(fmt.Sprintf("Stored skins (%d)", len(records))))
	b.WriteString("\n")
	if len(records) == 0 {
		b.WriteString(ValueStyle.Render("(none)"))
		return b.String()
	}

	for _, r := range records {
		model := "classic"
		if r.Slim {
			model = "slim"
		}
		name := r.Name
		if name == "" {
			name = r.Owner
		}
		stored := time.UnixMilli(r.Timestamp).Format("2006-01-02 15:04:05")
		b.WriteString(field(name, fmt.Sprintf("%s  %d bytes  %s", model, r.Bytes, stored)))
	}
	return b.String()
}

func field(label, value string) string {
	return LabelStyle.Render(label) + " " + ValueStyle.Render(value) + "\n"
}

func statBox(label string, value int64, color lipgloss.Color) string {
	v := StatValueStyle.Foreground(color).Render(fmt.Sprintf("%d", value))
	l := StatLabelStyle.Render(label)
	return StatBoxStyle.BorderForeground(color).Render(lipgloss.JoinVertical(lipgloss.Center, v, l))
}

// RenderStatic renders a view once without starting a program.
func RenderStatic(view string, data any) string {
	m := NewStatsModel(view, data)
	m.width = 80
	m.height = 24
	return lipgloss.NewStyle().Padding(1, 2).Render(m.View())
}
