// Package live serves the WebSocket endpoint through which clients
// watch seat changes of the events they joined.
package live

import (
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/labstack/gommon/log"

	"github.com/iliyamo/event-seat-reservation/internal/notify"
)

const (
	writeTimeout   = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = pongWait * 9 / 10
	maxMessageSize = 4 << 10
	sendBuffer     = 64
)

// Client message types.
const (
	TypeJoin     = "join"
	TypeLeave    = "leave"
	TypePresence = "presence"
	TypeError    = "error"
)

var (
	errClosed = errors.New("observer closed")
	errSlow   = errors.New("observer send buffer full")
)

// ClientMessage is a frame sent by the browser.
type ClientMessage struct {
	Type     string `json:"type"`
	EventID  string `json:"event_id"`
	SeatID   string `json:"seat_id,omitempty"`
	Entering bool   `json:"entering,omitempty"`
}

type errorMessage struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// EventLookup tells whether an event exists.
type EventLookup interface {
	HasEvent(eventID string) bool
}

// Server upgrades requests and registers the connections as observers
// on the hub.
type Server struct {
	hub      *notify.Hub
	events   EventLookup
	log      *log.Logger
	upgrader websocket.Upgrader
}

func NewServer(hub *notify.Hub, events EventLookup, lg *log.Logger) *Server {
	if lg == nil {
		lg = log.New("live")
	}
	return &Server{
		hub:    hub,
		events: events,
		log:    lg,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
	}
}

// Handle is the echo handler for GET /v1/live.
func (s *Server) Handle(c echo.Context) error {
	wc, err := s.upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		s.log.Warnf("upgrade failed: %v", err)
		return nil
	}
	o := &observer{
		id:     uuid.NewString(),
		wc:     wc,
		send:   make(chan []byte, sendBuffer),
		closed: make(chan struct{}),
		rooms:  make(map[string]bool),
	}
	s.log.Debugf("observer %s connected from %s", o.id, c.RealIP())
	go o.writeLoop()
	s.readLoop(o)
	s.hub.UnsubscribeAll(o)
	o.close()
	s.log.Debugf("observer %s disconnected", o.id)
	return nil
}

func (s *Server) readLoop(o *observer) {
	o.wc.SetReadLimit(maxMessageSize)
	_ = o.wc.SetReadDeadline(time.Now().Add(pongWait))
	o.wc.SetPongHandler(func(string) error {
		return o.wc.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		op, data, err := o.wc.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.log.Warnf("observer %s read: %v", o.id, err)
			}
			return
		}
		if op != websocket.TextMessage {
			o.fail("text frames only")
			continue
		}
		var m ClientMessage
		if err := json.Unmarshal(data, &m); err != nil {
			o.fail("malformed message")
			continue
		}
		s.dispatch(o, m)
	}
}

func (s *Server) dispatch(o *observer, m ClientMessage) {
	switch m.Type {
	case TypeJoin:
		if !s.events.HasEvent(m.EventID) {
			o.fail("event not found")
			return
		}
		s.hub.Subscribe(m.EventID, o)
		o.rooms[m.EventID] = true
	case TypeLeave:
		s.hub.Unsubscribe(m.EventID, o)
		delete(o.rooms, m.EventID)
	case TypePresence:
		if !o.rooms[m.EventID] {
			o.fail("join the event first")
			return
		}
		if m.SeatID == "" {
			o.fail("seat_id required")
			return
		}
		s.hub.PublishPresence(m.EventID, m.SeatID, o.id, m.Entering)
	default:
		o.fail("unknown message type")
	}
}

// observer is one WebSocket connection.  Deliver never blocks: a client
// that cannot keep up loses messages and is expected to re-fetch the
// seat map.
type observer struct {
	id     string
	wc     *websocket.Conn
	send   chan []byte
	closed chan struct{}
	once   sync.Once
	rooms  map[string]bool // owned by the read loop
}

func (o *observer) ID() string { return o.id }

func (o *observer) Deliver(m notify.Message) error {
	b, err := json.Marshal(m)
	if err != nil {
		return err
	}
	return o.enqueue(b)
}

func (o *observer) enqueue(b []byte) error {
	select {
	case <-o.closed:
		return errClosed
	default:
	}
	select {
	case o.send <- b:
		return nil
	default:
		return errSlow
	}
}

func (o *observer) fail(msg string) {
	b, _ := json.Marshal(errorMessage{Type: TypeError, Message: msg})
	_ = o.enqueue(b)
}

func (o *observer) close() { o.once.Do(func() { close(o.closed) }) }

func (o *observer) writeLoop() {
	t := time.NewTicker(pingPeriod)
	defer func() {
		t.Stop()
		_ = o.wc.Close()
	}()
	for {
		select {
		case b := <-o.send:
			_ = o.wc.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := o.wc.WriteMessage(websocket.TextMessage, b); err != nil {
				o.close()
				return
			}
		case <-t.C:
			_ = o.wc.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := o.wc.WriteMessage(websocket.PingMessage, nil); err != nil {
				o.close()
				return
			}
		case <-o.closed:
			_ = o.wc.SetWriteDeadline(time.Now().Add(writeTimeout))
			_ = o.wc.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		}
	}
}
