// Package transport implements the client-facing bidirectional JSON
// transport (spec.md §4.8, §6): a WebSocket carrying framed
// command/success/error/notification messages, backed by the Subscription
// Registry.
package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/nostrportal/portal/internal/subscription"
)

// Frame kinds on the wire (spec.md §4.8).
const (
	FrameCommand      = "command"
	FrameSuccess      = "success"
	FrameError        = "error"
	FrameNotification = "notification"
)

// Frame is the single envelope shape used in both directions: a command
// frame from client to server, success/error/notification frames back.
type Frame struct {
	Type   string          `json:"type"`
	ID     string          `json:"id"`
	Cmd    string          `json:"cmd,omitempty"`
	Params json.RawMessage `json:"params,omitempty"`
	Data   interface{}     `json:"data,omitempty"`
	Message string         `json:"message,omitempty"`
}

// Handler processes one parsed command and returns either a one-shot
// result (for synchronous commands) or a subscription id whose
// notifications should be streamed back (for commands that spawn a
// conversation).
type Handler func(ctx context.Context, clientID string, cmd string, params json.RawMessage) (result interface{}, subscriptionID string, err error)

// Server accepts WebSocket connections and frames commands/responses
// to/from a Handler and the Subscription Registry.
type Server struct {
	registry *subscription.Registry
	handle   Handler
	logger   *log.Logger
}

// NewServer constructs a transport Server.
func NewServer(registry *subscription.Registry, handle Handler, logger *log.Logger) *Server {
	if logger == nil {
		logger = log.Default()
	}
	return &Server{registry: registry, handle: handle, logger: logger}
}

// ServeHTTP upgrades the connection and runs the per-client frame loop
// until the client disconnects or the server shuts down.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		s.logger.Printf("[transport] upgrade failed: %v", err)
		return
	}
	defer conn.CloseNow()

	clientID := fmt.Sprintf("%p-%d", r, time.Now().UnixNano())
	ctx := r.Context()

	var wg sync.WaitGroup
	done := make(chan struct{})

	wg.Add(1)
	go func() {
		defer wg.Done()
		s.readLoop(ctx, conn, clientID, done)
	}()

	<-done
	s.registry.Disconnect(clientID)
	conn.Close(websocket.StatusNormalClosure, "")
	wg.Wait()
}

func (s *Server) readLoop(ctx context.Context, conn *websocket.Conn, clientID string, done chan struct{}) {
	defer close(done)
	for {
		var frame Frame
		if err := wsjson.Read(ctx, conn, &frame); err != nil {
			return
		}
		if frame.Type != FrameCommand {
			s.writeError(ctx, conn, frame.ID, fmt.Errorf("expected a command frame, got %q", frame.Type))
			continue
		}

		if frame.Cmd != "auth" {
			if err := s.registry.RequireAuthenticated(clientID); err != nil {
				s.writeError(ctx, conn, frame.ID, err)
				continue
			}
		}

		result, subID, err := s.handle(ctx, clientID, frame.Cmd, frame.Params)
		if err != nil {
			s.writeError(ctx, conn, frame.ID, err)
			continue
		}

		if subID == "" {
			s.writeSuccess(ctx, conn, frame.ID, result)
			continue
		}

		s.writeSuccess(ctx, conn, frame.ID, mergeSubscriptionID(result, subID))
		go s.pumpNotifications(ctx, conn, subID)
	}
}

// mergeSubscriptionID folds subscription_id into result's JSON object so a
// command like key_handshake can return both a synchronous value (the
// portal:// URL) and the subscription id notifications will stream on. If
// result is nil or doesn't marshal to a JSON object, subscription_id is
// returned alone.
func mergeSubscriptionID(result interface{}, subID string) interface{} {
	if result == nil {
		return map[string]string{"subscription_id": subID}
	}
	raw, err := json.Marshal(result)
	if err != nil {
		return map[string]string{"subscription_id": subID}
	}
	merged := map[string]interface{}{}
	if err := json.Unmarshal(raw, &merged); err != nil {
		return map[string]string{"subscription_id": subID}
	}
	merged["subscription_id"] = subID
	return merged
}

func (s *Server) pumpNotifications(ctx context.Context, conn *websocket.Conn, subID string) {
	outbound, ok := s.registry.Outbound(subID)
	if !ok {
		return
	}
	for {
		select {
		case <-ctx.Done():
			return
		case n, ok := <-outbound:
			if !ok {
				return
			}
			frame := Frame{Type: FrameNotification, ID: subID}
			switch {
			case n.Dropped > 0:
				frame.Data = map[string]int{"dropped": n.Dropped}
			case n.Err != nil:
				frame.Type = FrameError
				frame.Message = n.Err.Error()
			default:
				frame.Data = n.Data
			}
			if err := wsjson.Write(ctx, conn, frame); err != nil {
				return
			}
			if n.Done {
				return
			}
		}
	}
}

func (s *Server) writeSuccess(ctx context.Context, conn *websocket.Conn, id string, data interface{}) {
	_ = wsjson.Write(ctx, conn, Frame{Type: FrameSuccess, ID: id, Data: data})
}

func (s *Server) writeError(ctx context.Context, conn *websocket.Conn, id string, err error) {
	_ = wsjson.Write(ctx, conn, Frame{Type: FrameError, ID: id, Message: err.Error()})
}
