package transport

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/fleetwatch/sentinel/internal/broadcaster"
	"github.com/fleetwatch/sentinel/internal/middleware"
	"github.com/fleetwatch/sentinel/internal/types"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// wsCommand is a client->server message over the WebSocket connection
// (spec.md §6: restart_service, subscribe_events, clear_subscription).
type wsCommand struct {
	CommandType string   `json:"commandType"`
	ServiceID   string   `json:"serviceId"`
	Token       string   `json:"token"`
	Filter      *wsFilter `json:"filter"`
}

type wsFilter struct {
	EventKinds []string `json:"eventKinds"`
	ServiceIDs []string `json:"serviceIds"`
}

func (f *wsFilter) toBroadcasterFilter() *broadcaster.Filter {
	if f == nil {
		return nil
	}
	bf := &broadcaster.Filter{}
	if len(f.EventKinds) > 0 {
		bf.EventKinds = make(map[types.EventKind]bool, len(f.EventKinds))
		for _, name := range f.EventKinds {
			bf.EventKinds[parseEventKind(name)] = true
		}
	}
	if len(f.ServiceIDs) > 0 {
		bf.ServiceIDs = make(map[string]bool, len(f.ServiceIDs))
		for _, id := range f.ServiceIDs {
			bf.ServiceIDs[id] = true
		}
	}
	return bf
}

func parseEventKind(name string) types.EventKind {
	for _, k := range []types.EventKind{
		types.EventStatusChanged, types.EventProbeCompleted, types.EventHighLatency,
		types.EventServiceDown, types.EventServiceUp, types.EventActionStarted,
		types.EventActionCompleted, types.EventStatsSample,
	} {
		if k.String() == name {
			return k
		}
	}
	return types.EventStatusChanged
}

type wsOutbound struct {
	Type  string `json:"type"`
	Event *types.Event `json:"event,omitempty"`
	Snapshot []serviceStatusJSON `json:"snapshot,omitempty"`
	Error string `json:"error,omitempty"`
}

// handleWebSocket upgrades the connection, sends an initial fleet
// snapshot, then streams events matching the client's current
// subscription (replaced wholesale by each subscribe_events command)
// until the client disconnects.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	s.eng.Metrics.IncWebSocketConnections()
	defer s.eng.Metrics.DecWebSocketConnections()

	sub := s.eng.Broadcaster.Subscribe(nil)
	defer sub.Close()

	writeMu := make(chan struct{}, 1)
	writeMu <- struct{}{}
	writeJSONFrame := func(v any) error {
		<-writeMu
		defer func() { writeMu <- struct{}{} }()
		conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
		return conn.WriteJSON(v)
	}

	snaps := s.eng.Registry.List()
	snapshot := make([]serviceStatusJSON, 0, len(snaps))
	for _, snap := range snaps {
		snapshot = append(snapshot, toServiceStatusJSON(snap))
	}
	if err := writeJSONFrame(wsOutbound{Type: "snapshot", Snapshot: snapshot}); err != nil {
		return
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			var cmd wsCommand
			if err := conn.ReadJSON(&cmd); err != nil {
				return
			}
			s.handleWSCommand(r, conn, sub, writeJSONFrame, cmd)
		}
	}()

	for {
		select {
		case <-done:
			return
		case ev, ok := <-sub.Events():
			if !ok {
				return
			}
			if err := writeJSONFrame(wsOutbound{Type: "event", Event: &ev}); err != nil {
				return
			}
		}
	}
}

func (s *Server) handleWSCommand(r *http.Request, conn *websocket.Conn, sub *broadcaster.Subscription, send func(any) error, cmd wsCommand) {
	switch cmd.CommandType {
	case "subscribe_events":
		sub.SetFilter(cmd.Filter.toBroadcasterFilter())
	case "clear_subscription":
		sub.SetFilter(nil)
	case "restart_service":
		principal, ok := s.authorizeToken(cmd.Token, "restart")
		if !ok {
			_ = send(wsOutbound{Type: "error", Error: "unauthorized"})
			return
		}
		rid := "ws-" + time.Now().Format("20060102T150405.000000000")
		restartCmd := types.Command{
			Kind: types.CommandRestartService, RequestID: rid, Principal: principal,
			Restart: &types.RestartSpec{ServiceID: cmd.ServiceID},
		}
		status, err := s.eng.Dispatcher.RestartService(r.Context(), restartCmd)
		if err != nil {
			_ = send(wsOutbound{Type: "error", Error: err.Error()})
			return
		}
		_ = send(wsOutbound{Type: "restart_result", Error: ""})
		_ = status
	default:
		_ = send(wsOutbound{Type: "error", Error: "unknown commandType " + cmd.CommandType})
	}
}

// authorizeToken authorizes a WebSocket command using the same
// precedence as HTTP requests, but the bearer token arrives as a field
// of the command payload rather than an Authorization header.
func (s *Server) authorizeToken(token, label string) (types.Principal, bool) {
	req, _ := http.NewRequest(http.MethodPost, "/ws", nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	if s.authCfg.APIKey != "" && token == s.authCfg.APIKey {
		req.Header.Set("X-Api-Key", token)
	}
	return middleware.Authorize(s.authCfg, req, s.eng.Metrics, label)
}
