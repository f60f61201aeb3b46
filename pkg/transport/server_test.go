package transport

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/Watson-Will/babel/pkg/broker"
	"github.com/Watson-Will/babel/pkg/gateway"
	"github.com/Watson-Will/babel/pkg/kernel"
	"github.com/Watson-Will/babel/pkg/protocol"
)

type testHub struct {
	server *httptest.Server
}

func startTestHub(t *testing.T, awaitTimeout time.Duration) *testHub {
	t.Helper()

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	logger := zap.NewNop()

	g := gateway.CreateGateway(gateway.GatewayParams{
		AwaitTimeout: awaitTimeout,
		Logger:       logger,
	})
	kernelPool := kernel.CreatePool(g, logger)
	sessionBroker := broker.CreateBroker(broker.BrokerParams{
		Kernel: kernelPool,
		Logger: logger,
	})
	go sessionBroker.Start(ctx)

	s, err := CreateServer(sessionBroker, g, kernelPool, ServerParams{
		AllowAllOrigins: true,
		Logger:          logger,
	})
	if err != nil {
		t.Fatalf("CreateServer failed: %v", err)
	}

	server := httptest.NewServer(s.Router(ctx))
	t.Cleanup(server.Close)

	return &testHub{server: server}
}

func (h *testHub) wsURL(path string) string {
	return "ws" + strings.TrimPrefix(h.server.URL, "http") + path
}

func (h *testHub) dial(t *testing.T, path string) *websocket.Conn {
	t.Helper()

	conn, _, err := websocket.DefaultDialer.Dial(h.wsURL(path), nil)
	if err != nil {
		t.Fatalf("failed to dial %s: %v", path, err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readText(t *testing.T, conn *websocket.Conn) string {
	t.Helper()

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	msgType, payload, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read failed: %v", err)
	}
	if msgType != websocket.TextMessage {
		t.Fatalf("expected a text message, got type %d", msgType)
	}
	return string(payload)
}

func TestHandshakeEndpoint(t *testing.T) {
	hub := startTestHub(t, time.Second)

	resp, err := http.Get(hub.server.URL + "/test")
	if err != nil {
		t.Fatalf("GET /test failed: %v", err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	if string(body) != "i am server" {
		t.Errorf("handshake body = %q, want the discovery marker", body)
	}
}

func TestGetVideoRange(t *testing.T) {
	hub := startTestHub(t, time.Second)

	content := make([]byte, 1000)
	for i := range content {
		content[i] = byte(i % 127)
	}
	path := filepath.Join(t.TempDir(), "clip.mp4")
	if err := os.WriteFile(path, content, 0o644); err != nil {
		t.Fatalf("failed to write media file: %v", err)
	}

	req, _ := http.NewRequest(http.MethodGet, hub.server.URL+"/get-video?path="+path, nil)
	req.Header.Set("Range", "bytes=0-99")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("GET /get-video failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusPartialContent {
		t.Fatalf("status = %d, want 206", resp.StatusCode)
	}
	if got := resp.Header.Get("Content-Range"); got != "bytes 0-99/1000" {
		t.Errorf("Content-Range = %q, want %q", got, "bytes 0-99/1000")
	}
	if got := resp.Header.Get("Content-Type"); got != "video/mp4" {
		t.Errorf("Content-Type = %q, want video/mp4", got)
	}

	body := make([]byte, 100)
	if _, err := io.ReadFull(resp.Body, body); err != nil {
		t.Fatalf("reading body failed: %v", err)
	}
	for i := 0; i < 100; i++ {
		if body[i] != content[i] {
			t.Fatalf("body byte %d = %d, want %d", i, body[i], content[i])
		}
	}
}

func TestGetVideoInvalidRange(t *testing.T) {
	hub := startTestHub(t, time.Second)

	path := filepath.Join(t.TempDir(), "clip.mp4")
	if err := os.WriteFile(path, make([]byte, 1000), 0o644); err != nil {
		t.Fatalf("failed to write media file: %v", err)
	}

	for _, header := range []string{"bytes=990-1200", "bytes=500-100"} {
		req, _ := http.NewRequest(http.MethodGet, hub.server.URL+"/get-video?path="+path, nil)
		req.Header.Set("Range", header)

		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			t.Fatalf("GET /get-video failed: %v", err)
		}
		resp.Body.Close()

		if resp.StatusCode != http.StatusBadRequest {
			t.Errorf("range %q: status = %d, want 400", header, resp.StatusCode)
		}
	}
}

func TestGetVideoMissingFile(t *testing.T) {
	hub := startTestHub(t, time.Second)

	resp, err := http.Get(hub.server.URL + "/get-video?path=" + filepath.Join(t.TempDir(), "nope.mp4"))
	if err != nil {
		t.Fatalf("GET /get-video failed: %v", err)
	}
	resp.Body.Close()

	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("status = %d, want 404", resp.StatusCode)
	}
}

func TestGetPathListCorrelatesThroughKernel(t *testing.T) {
	hub := startTestHub(t, 5*time.Second)

	kernelConn := hub.dial(t, "/connect")

	// Fake kernel loop: answer every request with a listing tagged by the
	// same correlation token.
	go func() {
		for {
			_, payload, err := kernelConn.ReadMessage()
			if err != nil {
				return
			}
			request, err := protocol.DecodeEnvelope(string(payload))
			if err != nil {
				continue
			}
			reply := &protocol.Envelope{
				Uuid:    request.Uuid,
				Code:    request.Code + 1,
				Content: "storage/emulated/0",
			}
			raw, _ := reply.Encode()
			kernelConn.WriteMessage(websocket.TextMessage, []byte(raw))
		}
	}()

	resp, err := http.Get(hub.server.URL + "/get_path_list?path=base")
	if err != nil {
		t.Fatalf("GET /get_path_list failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	body, _ := io.ReadAll(resp.Body)
	if string(body) != "storage/emulated/0" {
		t.Errorf("body = %q, want the kernel's resolved content", body)
	}
}

func TestGetPathListWithoutKernelFails(t *testing.T) {
	hub := startTestHub(t, 200*time.Millisecond)

	resp, err := http.Get(hub.server.URL + "/get_path_list?path=base")
	if err != nil {
		t.Fatalf("GET /get_path_list failed: %v", err)
	}
	resp.Body.Close()

	if resp.StatusCode != http.StatusInternalServerError {
		t.Errorf("status = %d, want 500 with no kernel connected", resp.StatusCode)
	}
}

func TestGetPathListMissingParam(t *testing.T) {
	hub := startTestHub(t, time.Second)

	resp, err := http.Get(hub.server.URL + "/get_path_list")
	if err != nil {
		t.Fatalf("GET /get_path_list failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	body, _ := io.ReadAll(resp.Body)
	if string(body) != "err 1" {
		t.Errorf("body = %q, want the reference placeholder", body)
	}
}

func TestFrontEndRelayLoop(t *testing.T) {
	hub := startTestHub(t, time.Second)

	first := hub.dial(t, "/ws")

	// Own join notice.
	if notice := readText(t, first); !strings.Contains(notice, "joined") {
		t.Errorf("expected a join notice, got %q", notice)
	}

	second := hub.dial(t, "/ws")
	readText(t, second)                                                    // own join notice
	if notice := readText(t, first); !strings.Contains(notice, "joined") { // second's join
		t.Errorf("expected the second join notice, got %q", notice)
	}

	envelope := &protocol.Envelope{Uuid: "t-1", Code: protocol.TransferData, Content: "hi all"}
	raw, err := envelope.Encode()
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}
	if err := first.WriteMessage(websocket.TextMessage, []byte(raw)); err != nil {
		t.Fatalf("write failed: %v", err)
	}

	if got := readText(t, first); got != raw {
		t.Errorf("first session got %q, want the relayed envelope", got)
	}
	if got := readText(t, second); got != raw {
		t.Errorf("second session got %q, want the relayed envelope", got)
	}
}

func TestFrontEndRequestTransferFile(t *testing.T) {
	hub := startTestHub(t, time.Second)

	conn := hub.dial(t, "/ws")
	readText(t, conn) // join notice

	envelope := &protocol.Envelope{Uuid: "t-2", Code: protocol.RequestTransferFile, Content: "music/track.mp4"}
	raw, err := envelope.Encode()
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}
	if err := conn.WriteMessage(websocket.TextMessage, []byte(raw)); err != nil {
		t.Fatalf("write failed: %v", err)
	}

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	msgType, payload, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read failed: %v", err)
	}
	if msgType != websocket.BinaryMessage {
		t.Fatalf("expected a binary frame, got type %d", msgType)
	}

	frame, err := protocol.UnmarshalBinaryFrame(payload)
	if err != nil {
		t.Fatalf("UnmarshalBinaryFrame failed: %v", err)
	}
	if frame.Seq != 0 || string(frame.Payload) != "music/track.mp4" {
		t.Errorf("unexpected frame %+v", frame)
	}
}
