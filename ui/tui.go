package ui

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/dustin/go-humanize"

	"github.com/franksops/assetdock/engine"
)

// UIState is the aggregated state the dashboard renders.
type UIState struct {
	TotalAssets     int
	CompletedAssets int
	SkippedAssets   int
	FailedAssets    int
	CompletedBytes  int64
	ActiveStreams   []ActiveStream
	Failures        []string
	ThroughputBPms  float64 // bytes per millisecond
	Done            bool
}

// ActiveStream is one asset currently transferring.
type ActiveStream struct {
	JobID    string
	Manifest string
	Label    string
	Written  int64
	Total    int64 // -1 when unknown
	BytesSec float64

	seq     int
	started time.Time
}

// Progress returns the completed fraction, or 0 when the size is unknown.
func (s ActiveStream) Progress() float64 {
	if s.Total <= 0 {
		return 0
	}
	return float64(s.Written) / float64(s.Total)
}

// TUIModel implements tea.Model.
type TUIModel struct {
	state     UIState
	spinner   spinner.Model
	progress  progress.Model
	streamBar progress.Model
	viewport  viewport.Model

	width  int
	height int

	titleStyle   lipgloss.Style
	infoStyle    lipgloss.Style
	streamStyle  lipgloss.Style
	helpStyle    lipgloss.Style
	errorStyle   lipgloss.Style
	successStyle lipgloss.Style
}

// TUIUpdateMsg carries a fresh snapshot from the observer.
type TUIUpdateMsg struct {
	State UIState
}

func NewTUIModel(initial UIState) TUIModel {
	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = lipgloss.NewStyle().Foreground(lipgloss.Color("205"))

	return TUIModel{
		state:        initial,
		spinner:      s,
		progress:     progress.New(progress.WithDefaultGradient()),
		streamBar:    progress.New(progress.WithDefaultGradient(), progress.WithWidth(24)),
		titleStyle:   lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("205")).Padding(0, 1),
		infoStyle:    lipgloss.NewStyle().Foreground(lipgloss.Color("241")),
		streamStyle:  lipgloss.NewStyle().Foreground(lipgloss.Color("78")),
		helpStyle:    lipgloss.NewStyle().Foreground(lipgloss.Color("241")).MarginTop(1),
		errorStyle:   lipgloss.NewStyle().Foreground(lipgloss.Color("196")),
		successStyle: lipgloss.NewStyle().Foreground(lipgloss.Color("42")).Bold(true),
	}
}

// State returns the last snapshot the model received.
func (m TUIModel) State() UIState {
	return m.state
}

func (m TUIModel) Init() tea.Cmd {
	return m.spinner.Tick
}

func (m TUIModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd

	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			return m, tea.Quit
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.progress.Width = msg.Width - 14

		headerHeight := 5
		footerHeight := 2
		m.viewport = viewport.New(msg.Width, msg.Height-headerHeight-footerHeight)

	case TUIUpdateMsg:
		m.state = msg.State
		if m.state.Done {
			return m, tea.Quit
		}

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		cmds = append(cmds, cmd)

	case progress.FrameMsg:
		progressModel, cmd := m.progress.Update(msg)
		m.progress = progressModel.(progress.Model)
		cmds = append(cmds, cmd)
	}

	return m, tea.Batch(cmds...)
}

func (m TUIModel) View() string {
	if m.width == 0 {
		return "Initializing..."
	}

	var sb strings.Builder
	st := m.state

	sb.WriteString(fmt.Sprintf("%s assetdock %s\n", m.spinner.View(), m.titleStyle.Render("Provisioning Assets")))

	finished := st.CompletedAssets + st.FailedAssets
	var percent float64
	if st.TotalAssets > 0 {
		percent = float64(finished) / float64(st.TotalAssets)
	}

	info := fmt.Sprintf("Assets: %d/%d | Skipped: %d | Failed: %d | %s written | %s",
		finished, st.TotalAssets, st.SkippedAssets, st.FailedAssets,
		humanize.IBytes(uint64(st.CompletedBytes)),
		formatSpeed(st.ThroughputBPms*1000))
	sb.WriteString(m.infoStyle.Render(info) + "\n")
	sb.WriteString(m.progress.ViewAs(percent) + "\n\n")

	sb.WriteString("Active Transfers:\n")
	var streams strings.Builder
	if len(st.ActiveStreams) == 0 {
		streams.WriteString(m.infoStyle.Render("No active transfers..."))
	}
	for _, s := range st.ActiveStreams {
		size := humanize.IBytes(uint64(s.Written))
		if s.Total > 0 {
			size += " / " + humanize.IBytes(uint64(s.Total))
		}
		streams.WriteString(fmt.Sprintf("%-32s %s | %-22s | %-12s | %s\n",
			s.Label, m.streamBar.ViewAs(s.Progress()), size, m.streamStyle.Render(formatSpeed(s.BytesSec)),
			formatETA(s.Progress(), s.BytesSec/1000, s.Total, s.Written)))
	}
	for _, f := range st.Failures {
		streams.WriteString(m.errorStyle.Render("✗ "+f) + "\n")
	}

	m.viewport.SetContent(streams.String())
	sb.WriteString(m.viewport.View())

	help := m.helpStyle.Render("q/ctrl+c: cancel")
	if st.Done {
		help = m.successStyle.Render("Provisioning finished.")
	}
	sb.WriteString("\n" + help)

	return sb.String()
}

func formatSpeed(bytesPerSec float64) string {
	if bytesPerSec <= 0 {
		return "-"
	}
	return humanize.IBytes(uint64(bytesPerSec)) + "/s"
}

func formatETA(progress float64, bytesPerMs float64, totalBytes, completedBytes int64) string {
	if progress == 0 || bytesPerMs <= 0 || totalBytes <= 0 {
		return "Calculating..."
	}

	remainingBytes := totalBytes - completedBytes
	if remainingBytes <= 0 {
		return "0s"
	}

	remainingMs := float64(remainingBytes) / bytesPerMs
	d := time.Duration(remainingMs) * time.Millisecond

	if d.Hours() > 24 {
		return "> 1d"
	}

	return d.Round(time.Second).String()
}

// TUIObserver folds asset events into a UIState and pushes snapshots through
// send, typically tea.Program.Send. Progress snapshots are throttled.
type TUIObserver struct {
	send     func(tea.Msg)
	interval time.Duration
	now      func() time.Time

	mu       sync.Mutex
	state    UIState
	active   map[string]*ActiveStream
	started  time.Time
	lastSent time.Time
	seq      int
}

var _ engine.Observer = (*TUIObserver)(nil)

// NewTUIObserver creates an observer expecting total assets.
func NewTUIObserver(send func(tea.Msg), total int) *TUIObserver {
	return &TUIObserver{
		send:     send,
		interval: 100 * time.Millisecond,
		now:      time.Now,
		state:    UIState{TotalAssets: total},
		active:   make(map[string]*ActiveStream),
		started:  time.Now(),
	}
}

func (t *TUIObserver) AssetStarted(job engine.TransferJob) {
	t.mu.Lock()
	t.seq++
	t.active[job.ID] = &ActiveStream{
		seq:      t.seq,
		JobID:    job.ID,
		Manifest: job.Manifest,
		Label:    Label(job.Descriptor.URL, job.Descriptor.FilenameOverride),
		Total:    -1,
		started:  t.now(),
	}
	msg := t.snapshot()
	t.mu.Unlock()
	t.send(msg)
}

func (t *TUIObserver) AssetProgress(job engine.TransferJob, written, total int64) {
	t.mu.Lock()
	s, ok := t.active[job.ID]
	if !ok {
		t.mu.Unlock()
		return
	}
	s.Written = written
	s.Total = total
	now := t.now()
	if elapsed := now.Sub(s.started).Seconds(); elapsed > 0 {
		s.BytesSec = float64(written) / elapsed
	}
	if now.Sub(t.lastSent) < t.interval {
		t.mu.Unlock()
		return
	}
	msg := t.snapshot()
	t.mu.Unlock()
	t.send(msg)
}

func (t *TUIObserver) AssetFinished(job engine.TransferJob, o engine.Outcome) {
	t.mu.Lock()
	delete(t.active, job.ID)
	switch {
	case !o.Succeeded:
		t.state.FailedAssets++
		t.state.Failures = append(t.state.Failures, fmt.Sprintf("%s: %v", Label(job.Descriptor.URL, job.Descriptor.FilenameOverride), o.Err))
	case o.Skipped:
		t.state.CompletedAssets++
		t.state.SkippedAssets++
	default:
		t.state.CompletedAssets++
		t.state.CompletedBytes += o.Bytes
	}
	msg := t.snapshot()
	t.mu.Unlock()
	t.send(msg)
}

// Finish marks the run done, which makes the model quit.
func (t *TUIObserver) Finish() {
	t.mu.Lock()
	t.state.Done = true
	msg := t.snapshot()
	t.mu.Unlock()
	t.send(msg)
}

// snapshot copies the state. Callers hold mu.
func (t *TUIObserver) snapshot() TUIUpdateMsg {
	now := t.now()
	t.lastSent = now

	st := t.state
	st.Failures = append([]string(nil), t.state.Failures...)
	st.ActiveStreams = make([]ActiveStream, 0, len(t.active))
	var inFlight int64
	for _, s := range t.active {
		st.ActiveStreams = append(st.ActiveStreams, *s)
		inFlight += s.Written
	}
	sort.Slice(st.ActiveStreams, func(i, j int) bool {
		return st.ActiveStreams[i].seq < st.ActiveStreams[j].seq
	})
	if ms := now.Sub(t.started).Milliseconds(); ms > 0 {
		st.ThroughputBPms = float64(st.CompletedBytes+inFlight) / float64(ms)
	}
	return TUIUpdateMsg{State: st}
}
