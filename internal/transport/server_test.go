package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/nostrportal/portal/internal/conversation"
	"github.com/nostrportal/portal/internal/subscription"
)

func startTestServer(t *testing.T, handle Handler) (string, *subscription.Registry) {
	t.Helper()
	rt := conversation.New(nil, nil, nil, nil)
	registry := subscription.New(rt, "secret-token", nil)
	srv := NewServer(registry, handle, nil)

	hs := httptest.NewServer(srv)
	t.Cleanup(hs.Close)
	return "ws" + hs.URL[len("http"):], registry
}

func dial(t *testing.T, url string) *websocket.Conn {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	conn, _, err := websocket.Dial(ctx, url, nil)
	if err != nil {
		t.Fatalf("dialing %s: %v", url, err)
	}
	t.Cleanup(func() { conn.Close(websocket.StatusNormalClosure, "") })
	return conn
}

func TestServerRejectsCommandsBeforeAuth(t *testing.T) {
	url, _ := startTestServer(t, func(ctx context.Context, clientID, cmd string, params json.RawMessage) (interface{}, string, error) {
		return "should not run", "", nil
	})
	conn := dial(t, url)
	ctx := context.Background()

	if err := wsjson.Write(ctx, conn, Frame{Type: FrameCommand, ID: "1", Cmd: "whoami"}); err != nil {
		t.Fatalf("write: %v", err)
	}
	var resp Frame
	if err := wsjson.Read(ctx, conn, &resp); err != nil {
		t.Fatalf("read: %v", err)
	}
	if resp.Type != FrameError {
		t.Fatalf("frame type = %q, want error", resp.Type)
	}
}

func TestServerAuthThenCommandSucceeds(t *testing.T) {
	var registry *subscription.Registry
	url, reg := startTestServer(t, func(ctx context.Context, clientID, cmd string, params json.RawMessage) (interface{}, string, error) {
		switch cmd {
		case "auth":
			var p struct{ Token string }
			if err := json.Unmarshal(params, &p); err != nil {
				return nil, "", err
			}
			if err := registry.Authenticate(clientID, p.Token); err != nil {
				return nil, "", err
			}
			return "authenticated", "", nil
		case "echo":
			var p struct{ Message string }
			json.Unmarshal(params, &p)
			return p.Message, "", nil
		}
		return nil, "", fmt.Errorf("unknown command %q", cmd)
	})
	registry = reg
	conn := dial(t, url)
	ctx := context.Background()

	authParams, _ := json.Marshal(map[string]string{"token": "secret-token"})
	if err := wsjson.Write(ctx, conn, Frame{Type: FrameCommand, ID: "1", Cmd: "auth", Params: authParams}); err != nil {
		t.Fatalf("write auth: %v", err)
	}
	var authResp Frame
	if err := wsjson.Read(ctx, conn, &authResp); err != nil {
		t.Fatalf("read auth response: %v", err)
	}
	if authResp.Type != FrameSuccess {
		t.Fatalf("auth frame type = %q, want success (message=%q)", authResp.Type, authResp.Message)
	}

	echoParams, _ := json.Marshal(map[string]string{"message": "hello"})
	if err := wsjson.Write(ctx, conn, Frame{Type: FrameCommand, ID: "2", Cmd: "echo", Params: echoParams}); err != nil {
		t.Fatalf("write echo: %v", err)
	}
	var echoResp Frame
	if err := wsjson.Read(ctx, conn, &echoResp); err != nil {
		t.Fatalf("read echo response: %v", err)
	}
	if echoResp.Type != FrameSuccess || echoResp.Data != "hello" {
		t.Fatalf("echo response = %+v", echoResp)
	}
}

func TestServerRejectsNonCommandFrame(t *testing.T) {
	url, _ := startTestServer(t, func(ctx context.Context, clientID, cmd string, params json.RawMessage) (interface{}, string, error) {
		return nil, "", nil
	})
	conn := dial(t, url)
	ctx := context.Background()

	if err := wsjson.Write(ctx, conn, Frame{Type: FrameNotification, ID: "1"}); err != nil {
		t.Fatalf("write: %v", err)
	}
	var resp Frame
	if err := wsjson.Read(ctx, conn, &resp); err != nil {
		t.Fatalf("read: %v", err)
	}
	if resp.Type != FrameError {
		t.Fatalf("frame type = %q, want error", resp.Type)
	}
}
