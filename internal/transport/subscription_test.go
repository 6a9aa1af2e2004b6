package transport

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"firespread-sim/internal/fire"
)

var upgrader = websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}

// wsServer upgrades requests for /ws/simulations/{id} and hands the
// connection to serve.
func wsServer(t *testing.T, serve func(*websocket.Conn, *http.Request)) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		serve(conn, r)
	}))
	t.Cleanup(srv.Close)
	return srv
}

type recorder struct {
	messages chan fire.Update
	errs     chan error
	closes   chan int
}

func newRecorder() *recorder {
	return &recorder{
		messages: make(chan fire.Update, 16),
		errs:     make(chan error, 4),
		closes:   make(chan int, 4),
	}
}

func (r *recorder) handler() Handler {
	return Handler{
		OnMessage: func(u fire.Update) { r.messages <- u },
		OnError:   func(err error) { r.errs <- err },
		OnClose:   func(code int, _ string) { r.closes <- code },
	}
}

func TestSubscriptionURL(t *testing.T) {
	cases := map[string]string{
		"http://localhost:8000":     "ws://localhost:8000/ws/simulations/abc",
		"https://fire.example/api/": "wss://fire.example/api/ws/simulations/abc",
	}
	for base, want := range cases {
		got, err := New(Options{BaseURL: base}).SubscriptionURL("abc")
		if err != nil {
			t.Fatalf("SubscriptionURL(%q): %v", base, err)
		}
		if got != want {
			t.Errorf("SubscriptionURL(%q) = %q want %q", base, got, want)
		}
	}
}

func TestSubscriptionDeliversUpdatesAndDropsMalformed(t *testing.T) {
	paths := make(chan string, 1)
	srv := wsServer(t, func(conn *websocket.Conn, r *http.Request) {
		paths <- r.URL.Path + " " + r.Header.Get("Authorization")
		_ = conn.WriteMessage(websocket.TextMessage, []byte(`{broken`))
		_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"simulationId":"abc","status":"bogus"}`))
		_ = conn.WriteJSON(fire.Update{SimulationID: "abc", Status: fire.RemoteRunning, CurrentTime: 3,
			FireCells: []fire.FireCell{{X: 1, Y: 2, Intensity: 0.5, State: fire.CellBurning}}})
		_, _, _ = conn.ReadMessage()
	})

	c := New(Options{BaseURL: srv.URL, APIKey: "k"})
	rec := newRecorder()
	c.OpenSubscription("abc", rec.handler())
	defer c.CloseSubscription()

	select {
	case u := <-rec.messages:
		if u.CurrentTime != 3 || len(u.FireCells) != 1 || u.Status != fire.RemoteRunning {
			t.Fatalf("unexpected update %+v", u)
		}
	case err := <-rec.errs:
		t.Fatalf("unexpected error %v", err)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for update")
	}
	if got := <-paths; got != "/ws/simulations/abc Bearer k" {
		t.Fatalf("unexpected request %q", got)
	}
	if id, ok := c.Subscribed(); !ok || id != "abc" {
		t.Fatalf("expected subscription for abc, got %q %v", id, ok)
	}
}

func TestSubscriptionReportsAbnormalClose(t *testing.T) {
	srv := wsServer(t, func(conn *websocket.Conn, _ *http.Request) {
		msg := websocket.FormatCloseMessage(websocket.CloseInternalServerErr, "engine crashed")
		_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
	})

	c := New(Options{BaseURL: srv.URL})
	rec := newRecorder()
	c.OpenSubscription("abc", rec.handler())
	defer c.CloseSubscription()

	select {
	case code := <-rec.closes:
		if code != websocket.CloseInternalServerErr {
			t.Fatalf("expected code 1011, got %d", code)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for close")
	}
}

func TestSubscriptionDialFailureReportsError(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	base := srv.URL
	srv.Close()

	c := New(Options{BaseURL: base, Timeout: time.Second})
	rec := newRecorder()
	c.OpenSubscription("abc", rec.handler())
	defer c.CloseSubscription()

	select {
	case err := <-rec.errs:
		if !errors.Is(err, ErrTransport) {
			t.Fatalf("expected ErrTransport, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for error")
	}
}

func TestCloseSubscriptionSilencesCallbacks(t *testing.T) {
	connected := make(chan struct{})
	srv := wsServer(t, func(conn *websocket.Conn, _ *http.Request) {
		close(connected)
		_, _, _ = conn.ReadMessage()
	})

	c := New(Options{BaseURL: srv.URL})
	rec := newRecorder()
	c.OpenSubscription("abc", rec.handler())
	<-connected
	c.CloseSubscription()

	if _, ok := c.Subscribed(); ok {
		t.Fatal("expected no subscription after close")
	}
	select {
	case code := <-rec.closes:
		t.Fatalf("unexpected close callback %d", code)
	case err := <-rec.errs:
		t.Fatalf("unexpected error callback %v", err)
	case <-time.After(200 * time.Millisecond):
	}
}
