// Package progress implements C13: the per-client long-lived push gateway.
// Sessions attach over WebSocket, join a per-user set and (optionally) a
// per-assessment room, and receive a filtered slice of the event bus plus
// periodic heartbeats. Grounded on itsneelabh/gomind's
// ui/transports/websocket/websocket.go writePump/readPump pattern.
package progress

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/infraforge/fleet/core"
	"github.com/infraforge/fleet/events"
	"github.com/infraforge/fleet/store"
)

// subscribedTypes is the fixed set of event kinds §4.6 says a session may
// receive; NOTIFICATION/ALERT are account-wide, the rest are workflow/room
// scoped via Event.Metadata["workflow_id"].
var subscribedTypes = []core.EventType{
	core.EventWorkflowProgress,
	core.EventAgentStatus,
	core.EventStepCompleted,
	core.EventNotification,
	core.EventAlert,
	core.EventMetricsUpdate,
}

const (
	writeWait      = 10 * time.Second
	sendBufferSize = 256
)

// outboundMessage is the wire envelope pushed down every session's socket.
type outboundMessage struct {
	Type      string                 `json:"type"`
	Data      map[string]interface{} `json:"data,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
}

// inboundMessage is what a client may send back up the socket.
type inboundMessage struct {
	Type         string                 `json:"type"`
	AssessmentID string                 `json:"assessment_id,omitempty"`
	Cursor       map[string]interface{} `json:"cursor,omitempty"`
	Form         map[string]interface{} `json:"form,omitempty"`
}

// Gateway upgrades HTTP connections to WebSocket sessions, fans event bus
// traffic out to the sessions subscribed to each room, and runs the
// heartbeat sweep described in §4.6.
type Gateway struct {
	bus   *events.Bus
	store store.Store
	clock core.Clock
	logger core.Logger

	heartbeatInterval time.Duration
	heartbeatTimeout  time.Duration

	upgrader websocket.Upgrader

	mu          sync.RWMutex
	sessions    map[string]*session
	byUser      map[string]map[string]struct{}
	byRoom      map[string]map[string]struct{}
}

// NewGateway wires a Gateway over an already-started event Bus.
func NewGateway(bus *events.Bus, st store.Store, clock core.Clock, logger core.Logger, cfg core.EngineConfig) *Gateway {
	if clock == nil {
		clock = core.SystemClock{}
	}
	if logger == nil {
		logger = core.NoOpLogger{}
	}
	hi := cfg.HeartbeatInterval
	if hi <= 0 {
		hi = 30 * time.Second
	}
	ht := cfg.HeartbeatTimeout
	if ht <= 0 {
		ht = 60 * time.Second
	}
	g := &Gateway{
		bus:               bus,
		store:             st,
		clock:             clock,
		logger:            core.ComponentLogger(logger, "framework/progress"),
		heartbeatInterval: hi,
		heartbeatTimeout:  ht,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		sessions: make(map[string]*session),
		byUser:   make(map[string]map[string]struct{}),
		byRoom:   make(map[string]map[string]struct{}),
	}
	for _, t := range subscribedTypes {
		typ := t
		bus.Subscribe(typ, g.onEvent)
	}
	return g
}

// session is one connected client: a principal id, an optional assessment
// room, and the buffered outbound channel its writePump drains.
type session struct {
	id           string
	principalID  string
	assessmentID string
	conn         *websocket.Conn
	send         chan outboundMessage
	lastPong     time.Time
	mu           sync.Mutex
	closed       bool
}

// ServeHTTP upgrades the request to a WebSocket session. principalID must
// already be a verified identity (auth happens upstream, per the domain's
// assumption that every request carries one). assessmentID is optional; a
// blank value means the session is user-scoped only, with no room.
func (g *Gateway) ServeHTTP(w http.ResponseWriter, r *http.Request, principalID, assessmentID string) {
	conn, err := g.upgrader.Upgrade(w, r, nil)
	if err != nil {
		http.Error(w, fmt.Sprintf("websocket upgrade failed: %v", err), http.StatusBadRequest)
		return
	}

	sess := &session{
		id:           fmt.Sprintf("%s-%d", principalID, g.clock.Now().UnixNano()),
		principalID:  principalID,
		assessmentID: assessmentID,
		conn:         conn,
		send:         make(chan outboundMessage, sendBufferSize),
		lastPong:     g.clock.Now(),
	}

	g.register(sess)

	go g.writePump(sess)
	go g.readPump(sess)

	g.sendSnapshot(sess)
}

func (g *Gateway) register(sess *session) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.sessions[sess.id] = sess
	if g.byUser[sess.principalID] == nil {
		g.byUser[sess.principalID] = make(map[string]struct{})
	}
	g.byUser[sess.principalID][sess.id] = struct{}{}
	if sess.assessmentID != "" {
		if g.byRoom[sess.assessmentID] == nil {
			g.byRoom[sess.assessmentID] = make(map[string]struct{})
		}
		g.byRoom[sess.assessmentID][sess.id] = struct{}{}
	}
}

func (g *Gateway) unregister(sess *session) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.sessions, sess.id)
	if set, ok := g.byUser[sess.principalID]; ok {
		delete(set, sess.id)
		if len(set) == 0 {
			delete(g.byUser, sess.principalID)
		}
	}
	if sess.assessmentID != "" {
		if set, ok := g.byRoom[sess.assessmentID]; ok {
			delete(set, sess.id)
			if len(set) == 0 {
				delete(g.byRoom, sess.assessmentID)
			}
		}
	}
}

// sendSnapshot pushes the initial assessment progress and room roster on
// connect, per §4.6.
func (g *Gateway) sendSnapshot(sess *session) {
	roster := g.roomRoster(sess.assessmentID)
	data := map[string]interface{}{
		"session_id": sess.id,
		"roster":     roster,
	}
	if sess.assessmentID != "" && g.store != nil {
		if a, err := g.store.GetAssessment(context.Background(), sess.assessmentID); err == nil {
			data["progress"] = a.Progress
			data["completion_percentage"] = a.CompletionPercentage
			data["status"] = a.Status
		}
	}
	g.deliver(sess, outboundMessage{Type: "snapshot", Data: data, Timestamp: g.clock.Now()})
}

func (g *Gateway) roomRoster(assessmentID string) []string {
	if assessmentID == "" {
		return nil
	}
	g.mu.RLock()
	defer g.mu.RUnlock()
	ids := make([]string, 0, len(g.byRoom[assessmentID]))
	for id := range g.byRoom[assessmentID] {
		ids = append(ids, id)
	}
	return ids
}

// onEvent is the events.Bus callback fanning a matching event out to every
// session subscribed to its room (or to every connected session for
// account-wide kinds like NOTIFICATION/ALERT).
func (g *Gateway) onEvent(event core.Event) {
	msg := outboundMessage{Type: string(event.Type), Data: event.Data, Timestamp: event.Timestamp}

	room := event.WorkflowIDFromMetadata()
	if room == "" {
		room = event.RoomIDFromMetadata()
	}

	g.mu.RLock()
	var targets []*session
	if room != "" {
		for id := range g.byRoom[room] {
			if s, ok := g.sessions[id]; ok {
				targets = append(targets, s)
			}
		}
	} else {
		for _, s := range g.sessions {
			targets = append(targets, s)
		}
	}
	g.mu.RUnlock()

	for _, s := range targets {
		g.deliver(s, msg)
	}
}

// deliver is a non-blocking send: a full buffer means a slow session, and
// per §4.6/§5 the gateway drops rather than blocks the publisher.
func (g *Gateway) deliver(sess *session, msg outboundMessage) {
	select {
	case sess.send <- msg:
	default:
		g.logger.Warn("progress session buffer full, dropping message", map[string]interface{}{"session_id": sess.id, "type": msg.Type})
	}
}

func (g *Gateway) writePump(sess *session) {
	ticker := time.NewTicker(g.heartbeatInterval)
	defer func() {
		ticker.Stop()
		sess.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-sess.send:
			sess.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				sess.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := sess.conn.WriteJSON(msg); err != nil {
				return
			}
		case <-ticker.C:
			sess.mu.Lock()
			idle := g.clock.Now().Sub(sess.lastPong)
			sess.mu.Unlock()
			if idle > g.heartbeatTimeout {
				g.logger.Info("progress session heartbeat timeout, closing", map[string]interface{}{"session_id": sess.id})
				return
			}
			sess.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := sess.conn.WriteJSON(outboundMessage{Type: string(core.EventHeartbeat), Timestamp: g.clock.Now()}); err != nil {
				return
			}
		}
	}
}

func (g *Gateway) readPump(sess *session) {
	defer func() {
		g.unregister(sess)
		sess.close()
	}()

	sess.conn.SetPongHandler(func(string) error {
		sess.mu.Lock()
		sess.lastPong = g.clock.Now()
		sess.mu.Unlock()
		return nil
	})

	for {
		var msg inboundMessage
		if err := sess.conn.ReadJSON(&msg); err != nil {
			return
		}

		sess.mu.Lock()
		sess.lastPong = g.clock.Now()
		sess.mu.Unlock()

		switch msg.Type {
		case "heartbeat":
			// lastPong already refreshed above.
		case "cursor_update":
			g.rebroadcastExcluding(sess, outboundMessage{Type: string(core.EventCursorUpdate), Data: map[string]interface{}{"session_id": sess.id, "cursor": msg.Cursor}, Timestamp: g.clock.Now()})
		case "form_update":
			g.rebroadcastExcluding(sess, outboundMessage{Type: string(core.EventFormUpdate), Data: map[string]interface{}{"session_id": sess.id, "form": msg.Form}, Timestamp: g.clock.Now()})
		default:
			g.deliver(sess, outboundMessage{Type: string(core.EventError), Data: map[string]interface{}{"message": fmt.Sprintf("unknown message type: %s", msg.Type)}, Timestamp: g.clock.Now()})
		}
	}
}

// rebroadcastExcluding forwards a client-originated update to the rest of
// the sender's assessment room, per §4.6's collaborative-editing contract.
func (g *Gateway) rebroadcastExcluding(sender *session, msg outboundMessage) {
	if sender.assessmentID == "" {
		return
	}
	g.mu.RLock()
	var targets []*session
	for id := range g.byRoom[sender.assessmentID] {
		if id == sender.id {
			continue
		}
		if s, ok := g.sessions[id]; ok {
			targets = append(targets, s)
		}
	}
	g.mu.RUnlock()
	for _, s := range targets {
		g.deliver(s, msg)
	}
}

// Handler returns an http.Handler suitable for mounting at a route such as
// "/progress"; it expects an upstream authentication layer to have already
// verified the caller and attached principal_id (and, optionally,
// assessment_id) as query parameters.
func (g *Gateway) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		principalID := r.URL.Query().Get("principal_id")
		if principalID == "" {
			http.Error(w, "principal_id required", http.StatusUnauthorized)
			return
		}
		g.ServeHTTP(w, r, principalID, r.URL.Query().Get("assessment_id"))
	})
}

// SessionCount reports how many sessions are currently connected, for
// health/metrics reporting.
func (g *Gateway) SessionCount() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.sessions)
}

func (s *session) close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.closed = true
		close(s.send)
	}
}
