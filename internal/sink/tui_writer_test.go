package sink

import (
	"context"
	"strings"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"firespread-sim/internal/fire"
	"firespread-sim/internal/session"
)

type fakeProgram struct{ msgs []tea.Msg }

func (f *fakeProgram) Send(msg tea.Msg) { f.msgs = append(f.msgs, msg) }

type fakeController struct {
	calls  []string
	points []fire.IgnitionPoint
}

func (f *fakeController) Start(context.Context) error {
	f.calls = append(f.calls, "start")
	return nil
}

func (f *fakeController) Pause(context.Context) error {
	f.calls = append(f.calls, "pause")
	return nil
}

func (f *fakeController) Stop(context.Context) error {
	f.calls = append(f.calls, "stop")
	return nil
}

func (f *fakeController) Reset() error {
	f.calls = append(f.calls, "reset")
	return nil
}

func (f *fakeController) Reconnect() error {
	f.calls = append(f.calls, "reconnect")
	return session.ErrNoRemoteSession
}

func (f *fakeController) AddIgnitionPoint(lat, lng float64) (fire.IgnitionPoint, error) {
	p := fire.IgnitionPoint{ID: "p", Lat: lat, Lng: lng}
	f.points = append(f.points, p)
	return p, nil
}

func (f *fakeController) RemoveIgnitionPoint(id string) bool {
	f.calls = append(f.calls, "remove:"+id)
	return true
}

func key(s string) tea.KeyMsg {
	if s == "enter" {
		return tea.KeyMsg{Type: tea.KeyEnter}
	}
	return tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(s)}
}

func TestTUIWriterMessages(t *testing.T) {
	p := &fakeProgram{}
	w := &TUIWriter{program: p}
	if err := w.WriteFrame(sampleFrame(1, time.Unix(0, 0).UTC())); err != nil {
		t.Fatalf("WriteFrame: %v", err)
	}
	if _, ok := p.msgs[0].(logMsg); !ok {
		t.Fatalf("expected logMsg, got %T", p.msgs[0])
	}
	if err := w.WriteStatus(fire.StatusEvent{Status: "connected"}); err != nil {
		t.Fatalf("WriteStatus: %v", err)
	}
	if lm, ok := p.msgs[1].(logMsg); !ok || !strings.Contains(lm.line, "connected") {
		t.Fatalf("expected status logMsg, got %#v", p.msgs[1])
	}
	w.SetAdminStatus(true)
	if _, ok := p.msgs[2].(adminMsg); !ok {
		t.Fatalf("expected adminMsg, got %T", p.msgs[2])
	}

	views := make(chan session.View, 1)
	views <- session.View{SessionID: "sim-9"}
	close(views)
	w.Follow(context.Background(), views)
	if vm, ok := p.msgs[3].(viewMsg); !ok || vm.view.SessionID != "sim-9" {
		t.Fatalf("expected viewMsg, got %#v", p.msgs[3])
	}
}

func runCmd(t *testing.T, m tuiModel, cmd tea.Cmd) tuiModel {
	t.Helper()
	if cmd == nil {
		t.Fatal("expected a command")
	}
	mi, _ := m.Update(cmd())
	return mi.(tuiModel)
}

func TestTUIKeysDriveController(t *testing.T) {
	ctrl := &fakeController{}
	m := newTUIModel(context.Background(), ctrl)

	for _, k := range []string{"enter", "p", "x", "r"} {
		mi, cmd := m.Update(key(k))
		m = runCmd(t, mi.(tuiModel), cmd)
	}
	want := []string{"start", "pause", "stop", "reset"}
	if strings.Join(ctrl.calls, ",") != strings.Join(want, ",") {
		t.Fatalf("calls = %v, want %v", ctrl.calls, want)
	}
	if !strings.Contains(m.logs[len(m.logs)-1], "reset ok") {
		t.Fatalf("expected success log, got %q", m.logs[len(m.logs)-1])
	}

	mi, cmd := m.Update(key("c"))
	m = runCmd(t, mi.(tuiModel), cmd)
	if !strings.Contains(m.logs[len(m.logs)-1], "reconnect failed") {
		t.Fatalf("expected failure log, got %q", m.logs[len(m.logs)-1])
	}
}

func TestTUIAddAndRemovePoint(t *testing.T) {
	ctrl := &fakeController{}
	m := newTUIModel(context.Background(), ctrl)

	mi, _ := m.Update(key("a"))
	m = mi.(tuiModel)
	if !m.pointDialog {
		t.Fatal("dialog not opened")
	}
	m.pointInput.SetValue("0.5, -0.25")
	mi, cmd := m.Update(key("enter"))
	m = runCmd(t, mi.(tuiModel), cmd)
	if m.pointDialog {
		t.Fatal("dialog not closed")
	}
	if len(ctrl.points) != 1 || ctrl.points[0].Lat != 0.5 || ctrl.points[0].Lng != -0.25 {
		t.Fatalf("unexpected points %+v", ctrl.points)
	}

	mi, _ = m.Update(viewMsg{view: session.View{State: fire.SessionState{
		IgnitionPoints: []fire.IgnitionPoint{{ID: "first"}, {ID: "last"}},
	}}})
	m = mi.(tuiModel)
	mi, cmd = m.Update(key("d"))
	runCmd(t, mi.(tuiModel), cmd)
	if ctrl.calls[len(ctrl.calls)-1] != "remove:last" {
		t.Fatalf("expected most recent point removed, calls %v", ctrl.calls)
	}
}

func TestTUIPointDialogRejectsGarbage(t *testing.T) {
	ctrl := &fakeController{}
	m := newTUIModel(context.Background(), ctrl)
	mi, _ := m.Update(key("a"))
	m = mi.(tuiModel)
	m.pointInput.SetValue("north")
	mi, cmd := m.Update(key("enter"))
	m = mi.(tuiModel)
	if cmd != nil || len(ctrl.points) != 0 {
		t.Fatal("garbage input should not reach the controller")
	}
	if !strings.Contains(m.logs[len(m.logs)-1], "add point failed") {
		t.Fatalf("expected failure log, got %v", m.logs)
	}
}

func TestScrollToggle(t *testing.T) {
	m := newTUIModel(context.Background(), nil)
	m.vp.Height = 1
	m.vp.Width = 20
	mi, _ := m.Update(logMsg{line: "l1"})
	m = mi.(tuiModel)
	mi, _ = m.Update(logMsg{line: "l2"})
	m = mi.(tuiModel)
	if m.vp.YOffset != 1 {
		t.Fatalf("expected YOffset 1, got %d", m.vp.YOffset)
	}
	mi, _ = m.Update(key("s"))
	m = mi.(tuiModel)
	if m.autoscroll {
		t.Fatalf("autoscroll should be off")
	}
	mi, _ = m.Update(logMsg{line: "l3"})
	m = mi.(tuiModel)
	if m.vp.YOffset != 1 {
		t.Fatalf("expected YOffset unchanged, got %d", m.vp.YOffset)
	}
	mi, _ = m.Update(tea.KeyMsg{Type: tea.KeyUp})
	m = mi.(tuiModel)
	if m.vp.YOffset != 0 {
		t.Fatalf("expected YOffset 0 after scrolling up, got %d", m.vp.YOffset)
	}
}

func TestRenderGridMarksCellsAndPoints(t *testing.T) {
	grid := renderGrid(fire.SessionState{
		IgnitionPoints: []fire.IgnitionPoint{{Lat: 1, Lng: -1}},
		FireCells: []fire.FireCell{
			{X: 0, Y: 0, Intensity: 90, State: fire.CellBurning},
			{X: 1, Y: -1, Intensity: 0, State: fire.CellBurned},
			{X: 5, Y: 5, Intensity: 90, State: fire.CellBurning},
		},
	})
	lines := strings.Split(grid, "\n")
	if len(lines) != gridRows {
		t.Fatalf("expected %d rows, got %d", gridRows, len(lines))
	}
	if !strings.Contains(lines[0], "+") {
		t.Fatalf("ignition point missing from top row: %q", lines[0])
	}
	if !strings.Contains(lines[gridRows/2], "#") {
		t.Fatalf("hot cell missing from middle row: %q", lines[gridRows/2])
	}
	if !strings.Contains(lines[gridRows-1], ".") {
		t.Fatalf("burned cell missing from bottom row: %q", lines[gridRows-1])
	}
}
