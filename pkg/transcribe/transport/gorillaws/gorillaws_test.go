package gorillaws_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/voiceflow-pro/voiceflow/pkg/transcribe/transport"
	"github.com/voiceflow-pro/voiceflow/pkg/transcribe/transport/gorillaws"
)

var upgrader = websocket.Upgrader{}

// newServer starts an echo server that precedes each echo with a binary
// frame and closes with 1008 on "close-me". Close codes received from the
// client are sent on the returned channel.
func newServer(t *testing.T) (string, <-chan int) {
	t.Helper()
	closes := make(chan int, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer secret" {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer ws.Close()
		for {
			_, msg, err := ws.ReadMessage()
			if err != nil {
				var ce *websocket.CloseError
				if errors.As(err, &ce) {
					closes <- ce.Code
				} else {
					closes <- -1
				}
				return
			}
			if string(msg) == "close-me" {
				frame := websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "bye")
				_ = ws.WriteControl(websocket.CloseMessage, frame, time.Now().Add(time.Second))
				return
			}
			_ = ws.WriteMessage(websocket.BinaryMessage, []byte{0x01})
			_ = ws.WriteMessage(websocket.TextMessage, msg)
		}
	}))
	t.Cleanup(srv.Close)
	return "ws" + strings.TrimPrefix(srv.URL, "http"), closes
}

func dial(t *testing.T, url string) transport.Conn {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	h := http.Header{}
	h.Set("Authorization", "Bearer secret")
	conn, err := gorillaws.New(gorillaws.WithWriteWait(time.Second)).Dial(ctx, url, h)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	return conn
}

func TestDial_RoundTrip(t *testing.T) {
	t.Parallel()

	url, _ := newServer(t)
	conn := dial(t, url)
	defer conn.Close(transport.StatusNormalClosure, "")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := conn.Write(ctx, []byte("hello")); err != nil {
		t.Fatalf("Write: %v", err)
	}
	msg, err := conn.Read(ctx)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if string(msg) != "hello" {
		t.Errorf("Read = %q, want hello", msg)
	}
}

func TestDial_Unauthorized(t *testing.T) {
	t.Parallel()

	url, _ := newServer(t)
	_, err := gorillaws.New().Dial(context.Background(), url, nil)
	if err == nil {
		t.Fatal("expected handshake error")
	}
	if !strings.Contains(err.Error(), "401") {
		t.Errorf("error %q does not mention the HTTP status", err)
	}
}

func TestRead_PeerClose(t *testing.T) {
	t.Parallel()

	url, _ := newServer(t)
	conn := dial(t, url)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := conn.Write(ctx, []byte("close-me")); err != nil {
		t.Fatalf("Write: %v", err)
	}
	_, err := conn.Read(ctx)
	var ce *transport.CloseError
	if !errors.As(err, &ce) {
		t.Fatalf("Read error = %v, want *transport.CloseError", err)
	}
	if ce.Code != transport.StatusPolicyViolation || ce.Reason != "bye" {
		t.Errorf("close = %d %q, want 1008 \"bye\"", ce.Code, ce.Reason)
	}
}

func TestRead_ContextCancel(t *testing.T) {
	t.Parallel()

	url, _ := newServer(t)
	conn := dial(t, url)
	defer conn.Close(transport.StatusNormalClosure, "")

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if _, err := conn.Read(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Read error = %v, want deadline exceeded", err)
	}
}

func TestClose_SendsCode(t *testing.T) {
	t.Parallel()

	url, closes := newServer(t)
	conn := dial(t, url)

	readErr := make(chan error, 1)
	go func() {
		_, err := conn.Read(context.Background())
		readErr <- err
	}()

	if err := conn.Close(transport.StatusNormalClosure, "client disconnect"); err != nil {
		t.Fatalf("Close: %v", err)
	}
	select {
	case code := <-closes:
		if code != websocket.CloseNormalClosure {
			t.Errorf("server saw %d, want 1000", code)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("server never saw the close")
	}
	select {
	case err := <-readErr:
		if code, _ := transport.CloseStatus(err); code != transport.StatusNormalClosure {
			t.Errorf("pending Read ended with %v (code %d), want 1000", err, code)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("pending Read did not return after Close")
	}
	if err := conn.Close(transport.StatusNormalClosure, ""); err != nil {
		t.Errorf("second Close: %v", err)
	}
}
