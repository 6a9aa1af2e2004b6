package sink

import (
	"context"
	"fmt"
	"math"
	"os"
	"strconv"
	"strings"
	"sync/atomic"

	"github.com/charmbracelet/bubbles/table"
	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/reflow/wordwrap"

	"firespread-sim/internal/fire"
	"firespread-sim/internal/session"
)

// teaProgram abstracts bubbletea.Program for testing.
type teaProgram interface {
	Send(tea.Msg)
}

// Controller is the subset of the orchestrator the dashboard drives.
type Controller interface {
	Start(ctx context.Context) error
	Pause(ctx context.Context) error
	Stop(ctx context.Context) error
	Reset() error
	Reconnect() error
	AddIgnitionPoint(lat, lng float64) (fire.IgnitionPoint, error)
	RemoveIgnitionPoint(id string) bool
}

// logMsg carries a log line for the viewport.
type logMsg struct{ line string }

// viewMsg carries the latest session view.
type viewMsg struct{ view session.View }

// adminMsg reports admin UI status.
type adminMsg struct{ active bool }

// actionMsg reports the outcome of a controller call.
type actionMsg struct {
	name string
	err  error
}

const (
	maxLogLines = 1000
	gridCols    = 41
	gridRows    = 21
)

var (
	burningStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
	hotStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("11"))
	burnedStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
	pointStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("14")).Bold(true)
	helpStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
)

// TUIWriter renders session frames using a bubbletea TUI.
type TUIWriter struct {
	program    teaProgram
	done       chan struct{}
	sendSignal atomic.Bool
}

// NewTUIWriter starts a bubbletea program bound to ctrl and returns a
// TUIWriter. Quitting the TUI interrupts the process.
func NewTUIWriter(ctx context.Context, ctrl Controller) *TUIWriter {
	w := &TUIWriter{done: make(chan struct{})}
	w.sendSignal.Store(true)
	p := tea.NewProgram(newTUIModel(ctx, ctrl), tea.WithAltScreen())
	w.program = p
	go func() {
		_, _ = p.Run()
		close(w.done)
		if w.sendSignal.Load() {
			if proc, err := os.FindProcess(os.Getpid()); err == nil {
				_ = proc.Signal(os.Interrupt)
			}
		}
	}()
	return w
}

// WriteFrame implements FrameWriter.
func (w *TUIWriter) WriteFrame(fr fire.Frame) error {
	w.program.Send(logMsg{line: FrameLine(fr)})
	return nil
}

// WriteStatus implements StatusWriter.
func (w *TUIWriter) WriteStatus(ev fire.StatusEvent) error {
	w.program.Send(logMsg{line: StatusLine(ev)})
	return nil
}

// SetAdminStatus updates the admin UI indicator.
func (w *TUIWriter) SetAdminStatus(active bool) {
	w.program.Send(adminMsg{active: active})
}

// Follow forwards views to the TUI until ctx is done or views is closed.
func (w *TUIWriter) Follow(ctx context.Context, views <-chan session.View) {
	for {
		select {
		case <-ctx.Done():
			return
		case v, ok := <-views:
			if !ok {
				return
			}
			w.program.Send(viewMsg{view: v})
		}
	}
}

// Close shuts down the TUI program and waits for cleanup.
func (w *TUIWriter) Close() error {
	w.sendSignal.Store(false)
	if w.program != nil {
		w.program.Send(tea.Quit())
	}
	if w.done != nil {
		<-w.done
	}
	return nil
}

type tuiModel struct {
	ctx         context.Context
	ctrl        Controller
	table       table.Model
	vp          viewport.Model
	logs        []string
	view        session.View
	admin       bool
	wrap        bool
	autoscroll  bool
	help        bool
	pointInput  textinput.Model
	pointDialog bool
	width       int
	height      int
}

func newTUIModel(ctx context.Context, ctrl Controller) tuiModel {
	cols := []table.Column{
		{Title: "Parameter", Width: 16},
		{Title: "Value", Width: 12},
		{Title: "Session", Width: 10},
		{Title: "Value", Width: 14},
	}
	t := table.New(table.WithColumns(cols), table.WithHeight(6))
	m := tuiModel{
		ctx:        ctx,
		ctrl:       ctrl,
		table:      t,
		vp:         viewport.New(0, 0),
		autoscroll: true,
	}
	m.refreshTable()
	return m
}

func (m tuiModel) Init() tea.Cmd { return nil }

func (m tuiModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.table.SetWidth(msg.Width)
		m.vp.Width = msg.Width
		m.updateViewportHeight()
		m.refreshViewport()
	case tea.KeyMsg:
		if m.pointDialog {
			return m.updatePointDialog(msg)
		}
		if m.help {
			switch msg.String() {
			case "?", "h", "esc":
				m.help = false
			}
			return m, nil
		}
		switch msg.String() {
		case "q", "ctrl+c":
			return m, tea.Quit
		case "enter":
			return m, m.action("start", func() error { return m.ctrl.Start(m.ctx) })
		case "p":
			return m, m.action("pause", func() error { return m.ctrl.Pause(m.ctx) })
		case "x":
			return m, m.action("stop", func() error { return m.ctrl.Stop(m.ctx) })
		case "r":
			return m, m.action("reset", func() error { return m.ctrl.Reset() })
		case "c":
			return m, m.action("reconnect", func() error { return m.ctrl.Reconnect() })
		case "a":
			m.pointInput = textinput.New()
			m.pointInput.Placeholder = "lat,lng"
			m.pointInput.SetValue("0,0")
			m.pointInput.CursorEnd()
			m.pointInput.Focus()
			m.pointDialog = true
			m.updateViewportHeight()
			return m, nil
		case "d":
			pts := m.view.State.IgnitionPoints
			if len(pts) == 0 || m.ctrl == nil {
				return m, nil
			}
			id := pts[len(pts)-1].ID
			return m, m.action("remove point", func() error {
				if !m.ctrl.RemoveIgnitionPoint(id) {
					return fmt.Errorf("point %s not found", id)
				}
				return nil
			})
		case "w":
			m.wrap = !m.wrap
			m.refreshViewport()
			return m, nil
		case "s":
			m.autoscroll = !m.autoscroll
			if m.autoscroll {
				m.vp.GotoBottom()
			}
			return m, nil
		case "h", "?":
			m.help = true
			return m, nil
		}
		if !m.autoscroll {
			switch msg.String() {
			case "j", "down":
				m.vp.LineDown(1)
			case "k", "up":
				m.vp.LineUp(1)
			case "pgdown":
				m.vp.LineDown(10)
			case "pgup":
				m.vp.LineUp(10)
			}
		}
		return m, nil
	case logMsg:
		m.appendLog(msg.line)
	case actionMsg:
		if msg.err != nil {
			m.appendLog(fmt.Sprintf("%s%s failed: %v%s", colorRed, msg.name, msg.err, colorReset))
		} else {
			m.appendLog(fmt.Sprintf("%s%s ok%s", colorGreen, msg.name, colorReset))
		}
	case viewMsg:
		m.view = msg.view
		m.refreshTable()
	case adminMsg:
		m.admin = msg.active
		m.refreshTable()
	}
	return m, nil
}

func (m tuiModel) updatePointDialog(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.Type {
	case tea.KeyEnter:
		m.pointDialog = false
		m.updateViewportHeight()
		lat, lng, err := parsePointInput(m.pointInput.Value())
		if err != nil {
			m.appendLog(fmt.Sprintf("%sadd point failed: %v%s", colorRed, err, colorReset))
			return m, nil
		}
		return m, m.action("add point", func() error {
			_, err := m.ctrl.AddIgnitionPoint(lat, lng)
			return err
		})
	case tea.KeyEsc:
		m.pointDialog = false
		m.updateViewportHeight()
		return m, nil
	}
	var cmd tea.Cmd
	m.pointInput, cmd = m.pointInput.Update(msg)
	return m, cmd
}

func (m tuiModel) action(name string, fn func() error) tea.Cmd {
	if m.ctrl == nil {
		return nil
	}
	return func() tea.Msg {
		return actionMsg{name: name, err: fn()}
	}
}

func parsePointInput(s string) (float64, float64, error) {
	parts := strings.Split(s, ",")
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("expected lat,lng, got %q", s)
	}
	lat, err := strconv.ParseFloat(strings.TrimSpace(parts[0]), 64)
	if err != nil {
		return 0, 0, fmt.Errorf("lat: %w", err)
	}
	lng, err := strconv.ParseFloat(strings.TrimSpace(parts[1]), 64)
	if err != nil {
		return 0, 0, fmt.Errorf("lng: %w", err)
	}
	return lat, lng, nil
}

func (m *tuiModel) appendLog(line string) {
	m.logs = append(m.logs, line)
	if len(m.logs) > maxLogLines {
		m.logs = m.logs[len(m.logs)-maxLogLines:]
	}
	m.refreshViewport()
}

func (m *tuiModel) refreshTable() {
	v := m.view
	p := v.Parameters
	sid := v.SessionID
	if sid == "" {
		sid = "-"
	}
	admin := "off"
	if m.admin {
		admin = "on"
	}
	m.table.SetRows([]table.Row{
		{"Vegetation", string(p.VegetationType), "Status", string(v.Status)},
		{"Wind speed", fmt.Sprintf("%.1f", p.WindSpeed), "Phase", v.Phase.String()},
		{"Wind dir (deg)", fmt.Sprintf("%.0f", p.WindDirection), "Mode", string(v.Mode)},
		{"Humidity (%)", fmt.Sprintf("%.0f", p.Humidity), "Session", sid},
		{"Slope (deg)", fmt.Sprintf("%.0f", p.Slope), "Time", strconv.Itoa(v.State.CurrentTime)},
		{"Points", strconv.Itoa(len(v.State.IgnitionPoints)), "Admin", admin},
	})
}

func (m *tuiModel) updateViewportHeight() {
	used := lipgloss.Height(m.table.View()) + gridRows + 2 + 4
	if m.pointDialog {
		used++
	}
	h := m.height - used
	if h < 0 {
		h = 0
	}
	m.vp.Height = h
	if m.autoscroll {
		m.vp.GotoBottom()
	}
}

func (m *tuiModel) refreshViewport() {
	lines := make([]string, 0, len(m.logs))
	for _, l := range m.logs {
		if m.wrap && m.vp.Width > 0 {
			lines = append(lines, wordwrap.String(l, m.vp.Width))
		} else {
			lines = append(lines, l)
		}
	}
	m.vp.SetContent(strings.Join(lines, "\n"))
	if m.autoscroll {
		m.vp.GotoBottom()
	}
}

func (m tuiModel) View() string {
	if m.help {
		return renderHelp()
	}
	divider := strings.Repeat("─", max(m.width, gridCols))
	sections := []string{
		m.table.View(),
		divider,
		renderGrid(m.view.State),
		divider,
		m.vp.View(),
		divider,
	}
	if m.pointDialog {
		sections = append(sections, "Add ignition point: "+m.pointInput.View())
	}
	sections = append(sections, helpStyle.Render("enter start · p pause · x stop · r reset · c reconnect · a add · d remove · ? help · q quit"))
	return strings.Join(sections, "\n")
}

// renderGrid draws the normalized canvas with ignition points and fire cells.
// North (positive lat) is up.
func renderGrid(st fire.SessionState) string {
	type mark struct {
		intensity float64
		state     fire.CellState
	}
	cells := make(map[[2]int]mark)
	for _, c := range st.FireCells {
		col, row, ok := gridPos(c.X, c.Y)
		if !ok {
			continue
		}
		k := [2]int{col, row}
		if prev, seen := cells[k]; seen && prev.intensity >= c.Intensity {
			continue
		}
		cells[k] = mark{intensity: c.Intensity, state: c.State}
	}
	points := make(map[[2]int]bool)
	for _, p := range st.IgnitionPoints {
		if col, row, ok := gridPos(p.Lng, p.Lat); ok {
			points[[2]int{col, row}] = true
		}
	}

	var b strings.Builder
	for row := 0; row < gridRows; row++ {
		for col := 0; col < gridCols; col++ {
			k := [2]int{col, row}
			if mk, ok := cells[k]; ok {
				switch {
				case mk.state == fire.CellBurned:
					b.WriteString(burnedStyle.Render("."))
				case mk.intensity >= 60:
					b.WriteString(hotStyle.Render("#"))
				default:
					b.WriteString(burningStyle.Render("*"))
				}
				continue
			}
			if points[k] {
				b.WriteString(pointStyle.Render("+"))
				continue
			}
			b.WriteString(" ")
		}
		if row < gridRows-1 {
			b.WriteString("\n")
		}
	}
	return b.String()
}

func gridPos(x, y float64) (int, int, bool) {
	if x < -1 || x > 1 || y < -1 || y > 1 || math.IsNaN(x) || math.IsNaN(y) {
		return 0, 0, false
	}
	col := int(math.Round((x + 1) / 2 * float64(gridCols-1)))
	row := int(math.Round((1 - y) / 2 * float64(gridRows-1)))
	return col, row, true
}

func renderHelp() string {
	lines := []string{
		"Keys",
		"  enter   start or resume the session",
		"  p       pause",
		"  x       stop (keeps the last frame)",
		"  r       reset (keeps ignition points)",
		"  c       reconnect the push subscription",
		"  a       add an ignition point (lat,lng in [-1,1])",
		"  d       remove the most recent ignition point",
		"  w       toggle log wrapping",
		"  s       toggle autoscroll (j/k scroll when off)",
		"  ? h esc close help",
		"  q       quit",
	}
	return strings.Join(lines, "\n")
}
