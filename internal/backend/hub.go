package backend

import (
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const writeWait = 2 * time.Second

type hubClient struct {
	simID string
	conn  *websocket.Conn
}

type hubMessage struct {
	simID string
	data  []byte
}

// hub fans simulation updates out to WebSocket subscribers. All connection
// writes happen on the run goroutine.
type hub struct {
	upgrader websocket.Upgrader
	log      *slog.Logger

	clients   map[string]map[*websocket.Conn]bool
	register  chan hubClient
	remove    chan hubClient
	broadcast chan hubMessage
	closeSim  chan string
	done      chan struct{}
	stopped   chan struct{}
	closeOnce sync.Once
}

func newHub(log *slog.Logger) *hub {
	h := &hub{
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		log:       log,
		clients:   make(map[string]map[*websocket.Conn]bool),
		register:  make(chan hubClient),
		remove:    make(chan hubClient),
		broadcast: make(chan hubMessage, 64),
		closeSim:  make(chan string),
		done:      make(chan struct{}),
		stopped:   make(chan struct{}),
	}
	go h.run()
	return h
}

func (h *hub) run() {
	defer close(h.stopped)
	for {
		select {
		case c := <-h.register:
			if h.clients[c.simID] == nil {
				h.clients[c.simID] = make(map[*websocket.Conn]bool)
			}
			h.clients[c.simID][c.conn] = true
		case c := <-h.remove:
			h.drop(c.simID, c.conn)
		case msg := <-h.broadcast:
			for conn := range h.clients[msg.simID] {
				_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
				if err := conn.WriteMessage(websocket.TextMessage, msg.data); err != nil {
					h.log.Warn("failed to push update", "simulation_id", msg.simID, "err", err)
					h.drop(msg.simID, conn)
				}
			}
		case simID := <-h.closeSim:
			for conn := range h.clients[simID] {
				h.closeConn(conn, websocket.CloseNormalClosure, "simulation deleted")
			}
			delete(h.clients, simID)
		case <-h.done:
			for simID, conns := range h.clients {
				for conn := range conns {
					h.closeConn(conn, websocket.CloseGoingAway, "server shutting down")
				}
				delete(h.clients, simID)
			}
			return
		}
	}
}

func (h *hub) drop(simID string, conn *websocket.Conn) {
	conns := h.clients[simID]
	if _, ok := conns[conn]; !ok {
		return
	}
	delete(conns, conn)
	if len(conns) == 0 {
		delete(h.clients, simID)
	}
	_ = conn.Close()
}

func (h *hub) closeConn(conn *websocket.Conn, code int, reason string) {
	msg := websocket.FormatCloseMessage(code, reason)
	_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait))
	_ = conn.Close()
}

// serve upgrades the request and registers the connection. initial is sent
// before any broadcast.
func (h *hub) serve(w http.ResponseWriter, r *http.Request, simID string, initial []byte) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Error("websocket upgrade failed", "err", err)
		return
	}
	if initial != nil {
		_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := conn.WriteMessage(websocket.TextMessage, initial); err != nil {
			_ = conn.Close()
			return
		}
	}
	c := hubClient{simID: simID, conn: conn}
	select {
	case h.register <- c:
	case <-h.done:
		_ = conn.Close()
		return
	}

	go func() {
		defer func() {
			select {
			case h.remove <- c:
			case <-h.done:
			}
		}()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
					h.log.Warn("websocket error", "simulation_id", simID, "err", err)
				}
				return
			}
		}
	}()
}

func (h *hub) publish(simID string, data []byte) {
	select {
	case h.broadcast <- hubMessage{simID: simID, data: data}:
	case <-h.done:
	}
}

func (h *hub) closeSimulation(simID string) {
	select {
	case h.closeSim <- simID:
	case <-h.done:
	}
}

func (h *hub) close() {
	h.closeOnce.Do(func() { close(h.done) })
	<-h.stopped
}
