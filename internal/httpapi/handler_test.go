package httpapi

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"pkt.systems/coedit/api"
	"pkt.systems/coedit/internal/editor"
	"pkt.systems/coedit/internal/hub"
	"pkt.systems/coedit/internal/locks"
	"pkt.systems/coedit/internal/registry"
	"pkt.systems/coedit/internal/sandbox"
	"pkt.systems/coedit/internal/workspace"
)

func newTestHandler(t *testing.T) (*Handler, *editor.Service, *workspace.Store) {
	t.Helper()
	ws, err := workspace.New(workspace.Config{Root: t.TempDir()})
	if err != nil {
		t.Fatalf("workspace: %v", err)
	}
	broadcast := hub.New(nil)
	svc := editor.New(editor.Config{
		Workspace: ws,
		Locks:     locks.NewTable(ws.Reserved()),
		Registry:  registry.New(),
		Hub:       broadcast,
		Sandbox:   sandbox.New(sandbox.Config{Python: "sh"}),
	})
	return New(Config{Service: svc, Hub: broadcast}), svc, ws
}

func doRequest(t *testing.T, h http.Handler, method, target, role string, body io.Reader) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, body)
	if role != "" {
		req.Header.Set(HeaderRole, role)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestFilesEndpointFiltersByRole(t *testing.T) {
	h, _, ws := newTestHandler(t)
	for _, p := range []string{"admin/secret.txt", "public.txt"} {
		if err := ws.Write(p, "x"); err != nil {
			t.Fatalf("write %s: %v", p, err)
		}
	}

	rec := doRequest(t, h, http.MethodGet, "/api/files", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var listing []string
	if err := json.Unmarshal(rec.Body.Bytes(), &listing); err != nil {
		t.Fatalf("decode: %v", err)
	}
	for _, p := range listing {
		if strings.HasPrefix(p, "admin/") {
			t.Fatalf("admin path leaked to default role: %v", listing)
		}
	}

	rec = doRequest(t, h, http.MethodGet, "/api/files", api.RoleAdmin, nil)
	if !strings.Contains(rec.Body.String(), "admin/secret.txt") {
		t.Fatalf("admin listing missing reserved file: %s", rec.Body.String())
	}
}

func TestContentEndpointRoleAndSecurity(t *testing.T) {
	h, _, ws := newTestHandler(t)
	if err := ws.Write("admin/conf.txt", "secret"); err != nil {
		t.Fatalf("write: %v", err)
	}

	rec := doRequest(t, h, http.MethodGet, "/api/editor/content?path=admin%2Fconf.txt", "", nil)
	if rec.Code != http.StatusForbidden || rec.Body.String() != editor.AccessDeniedBody {
		t.Fatalf("status=%d body=%q", rec.Code, rec.Body.String())
	}

	rec = doRequest(t, h, http.MethodGet, "/api/editor/content?path=admin%2Fconf.txt", api.RoleAdmin, nil)
	if rec.Code != http.StatusOK || rec.Body.String() != "secret" {
		t.Fatalf("status=%d body=%q", rec.Code, rec.Body.String())
	}

	rec = doRequest(t, h, http.MethodGet, "/api/editor/content?path=..%2Fescape.txt", "", nil)
	if rec.Code != http.StatusOK || rec.Body.String() != editor.SecurityViolationMarker {
		t.Fatalf("status=%d body=%q", rec.Code, rec.Body.String())
	}
}

func TestStatsEndpoint(t *testing.T) {
	h, svc, _ := newTestHandler(t)
	svc.Edit(api.EditRequest{FileName: "n.txt", Content: "x", User: "alice", Role: api.RoleUser})

	rec := doRequest(t, h, http.MethodGet, "/api/stats", "", nil)
	var stats map[string]int64
	if err := json.Unmarshal(rec.Body.Bytes(), &stats); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if stats["alice"] != 1 {
		t.Fatalf("stats = %v", stats)
	}
}

func TestRunEndpoint(t *testing.T) {
	h, _, _ := newTestHandler(t)

	body := strings.NewReader(`{"language":"python","files":[{"name":"m.py","content":"echo hi\n"}]}`)
	rec := doRequest(t, h, http.MethodPost, "/api/run", "", body)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d body=%s", rec.Code, rec.Body.String())
	}
	var resp api.RunResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !strings.Contains(resp.Run.Output, "hi") {
		t.Fatalf("output = %q", resp.Run.Output)
	}

	rec = doRequest(t, h, http.MethodPost, "/api/run", "", strings.NewReader(`{"language":"python"}`))
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("empty file list status = %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "Local Execution Error") {
		t.Fatalf("diagnostic missing: %s", rec.Body.String())
	}
}

func TestHealthzEndpoint(t *testing.T) {
	h, _, _ := newTestHandler(t)
	rec := doRequest(t, h, http.MethodGet, "/healthz", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `"status":"ok"`) {
		t.Fatalf("body = %s", rec.Body.String())
	}
}

func TestWebSocketEditRoundTrip(t *testing.T) {
	h, _, ws := newTestHandler(t)
	srv := httptest.NewServer(h)
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	payload, _ := json.Marshal(api.EditRequest{FileName: "notes.txt", Content: "hello", User: "alice", Role: api.RoleUser})
	frame, _ := json.Marshal(api.Envelope{Action: api.ActionEdit, Payload: payload})
	if err := conn.WriteMessage(websocket.TextMessage, frame); err != nil {
		t.Fatalf("write: %v", err)
	}

	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, raw, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var env api.Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		t.Fatalf("decode envelope: %v", err)
	}
	if env.Topic != api.TopicUpdates {
		t.Fatalf("topic = %q", env.Topic)
	}
	var resp api.EditResponse
	if err := json.Unmarshal(env.Payload, &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Type != api.EditUpdate || resp.User != "alice" || resp.FileName != "notes.txt" {
		t.Fatalf("unexpected response: %+v", resp)
	}

	if content, _ := ws.Read("notes.txt"); content != "hello" {
		t.Fatalf("workspace content = %q", content)
	}
}

func TestWebSocketChatStamped(t *testing.T) {
	h, _, _ := newTestHandler(t)
	srv := httptest.NewServer(h)
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	payload, _ := json.Marshal(api.ChatMessage{Sender: "alice", Content: "hi", Timestamp: "00:00"})
	frame, _ := json.Marshal(api.Envelope{Action: api.ActionChatSend, Payload: payload})
	if err := conn.WriteMessage(websocket.TextMessage, frame); err != nil {
		t.Fatalf("write: %v", err)
	}

	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, raw, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var env api.Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		t.Fatalf("decode: %v", err)
	}
	var msg api.ChatMessage
	if err := json.Unmarshal(env.Payload, &msg); err != nil {
		t.Fatalf("decode chat: %v", err)
	}
	if msg.Timestamp == "00:00" || msg.Timestamp == "" {
		t.Fatalf("client timestamp not replaced: %q", msg.Timestamp)
	}
	if msg.ID == "" {
		t.Fatal("message ID not assigned")
	}
}
