package http

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"

	"live-transcript-service/internal/app"
	"live-transcript-service/internal/config"
	"live-transcript-service/internal/live"
	"live-transcript-service/internal/observability/metrics"
)

func testConfig() *config.Config {
	return &config.Config{
		Service:    config.ServiceConfig{Principal: "svc-test"},
		Ingest:     config.IngestConfig{Workers: 2, QueueSize: 16},
		Transcript: config.TranscriptConfig{DedupeFinals: true},
		Webhook:    config.WebhookConfig{MaxBodyBytes: 1 << 20},
		Log:        config.LogConfig{Level: "info", Format: "json"},
		Metrics:    config.MetricsConfig{Enabled: false},
	}
}

func newTestServer(t *testing.T, ready func() bool) (*app.Application, *httptest.Server) {
	t.Helper()
	application := app.New(testConfig(), metrics.NewMetrics(prometheus.NewRegistry()))
	if err := application.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	srv := httptest.NewServer(NewRouter(application, ready))
	t.Cleanup(func() {
		srv.Close()
		_ = application.Shutdown(context.Background())
	})
	return application, srv
}

func do(t *testing.T, method, url, body string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(method, url, strings.NewReader(body))
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, url, err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decode(t *testing.T, resp *http.Response, v any) {
	t.Helper()
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		t.Fatalf("decode: %v", err)
	}
}

func webhook(event, sessionID, participant, text string) string {
	var words []string
	for i, w := range strings.Fields(text) {
		words = append(words, `{"text":"`+w+`","start_timestamp":{"relative":`+strconv.Itoa(80+i)+`.2},"end_timestamp":{"relative":`+strconv.Itoa(80+i)+`.9}}`)
	}
	return `{"event":"` + event + `","data":{"bot":{"id":"` + sessionID + `"},"data":{"words":[` +
		strings.Join(words, ",") + `],"participant":{"id":"` + participant + `","name":"Alice"}}}}`
}

type liveBody struct {
	SessionID string `json:"session_id"`
	Status    string `json:"status"`
	Message   string `json:"message"`
	Finals    []struct {
		Text    string `json:"text"`
		Speaker string `json:"speaker"`
	} `json:"finals"`
	Partials []struct {
		Text string `json:"text"`
	} `json:"partials"`
}

// waitForFinals polls the live transcript until n finals are visible.
func waitForFinals(t *testing.T, srv *httptest.Server, sessionID string, n int) liveBody {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	var body liveBody
	for time.Now().Before(deadline) {
		resp := do(t, http.MethodGet, srv.URL+"/sessions/"+sessionID+"/transcript?include_partials=true", "")
		body = liveBody{}
		decode(t, resp, &body)
		if len(body.Finals) == n {
			return body
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("expected %d finals for %s, got %+v", n, sessionID, body)
	return body
}

func TestRouter_Health(t *testing.T) {
	var ready atomic.Bool
	_, srv := newTestServer(t, ready.Load)

	if resp := do(t, http.MethodGet, srv.URL+"/v1/liveness", ""); resp.StatusCode != http.StatusOK {
		t.Errorf("expected liveness 200, got %d", resp.StatusCode)
	}
	if resp := do(t, http.MethodGet, srv.URL+"/v1/readiness", ""); resp.StatusCode != http.StatusServiceUnavailable {
		t.Errorf("expected readiness 503 before ready, got %d", resp.StatusCode)
	}
	ready.Store(true)
	if resp := do(t, http.MethodGet, srv.URL+"/v1/readiness", ""); resp.StatusCode != http.StatusOK {
		t.Errorf("expected readiness 200, got %d", resp.StatusCode)
	}
}

func TestRouter_RequestID(t *testing.T) {
	_, srv := newTestServer(t, nil)

	resp := do(t, http.MethodGet, srv.URL+"/v1/liveness", "")
	if resp.Header.Get(RequestIDHeader) == "" {
		t.Error("expected a generated request id")
	}

	req, _ := http.NewRequest(http.MethodGet, srv.URL+"/v1/liveness", nil)
	req.Header.Set(RequestIDHeader, "abc-123")
	resp2, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	defer resp2.Body.Close()
	if got := resp2.Header.Get(RequestIDHeader); got != "abc-123" {
		t.Errorf("expected echoed request id, got %q", got)
	}
}

func TestRouter_WebhookPartialThenFinal(t *testing.T) {
	_, srv := newTestServer(t, nil)

	resp := do(t, http.MethodPost, srv.URL+"/webhooks/transcript", webhook("transcript.partial_data", "bot-1", "p1", "hello wor"))
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("expected 202, got %d", resp.StatusCode)
	}
	resp = do(t, http.MethodPost, srv.URL+"/webhooks/transcript", webhook("transcript.data", "bot-1", "p1", "hello world"))
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("expected 202, got %d", resp.StatusCode)
	}

	body := waitForFinals(t, srv, "bot-1", 1)
	if body.Finals[0].Text != "hello world" || body.Finals[0].Speaker != "Alice" {
		t.Errorf("unexpected final: %+v", body.Finals[0])
	}
	if len(body.Partials) != 0 {
		t.Errorf("expected no partials after final, got %+v", body.Partials)
	}

	var stream struct {
		Lines []string `json:"lines"`
	}
	decode(t, do(t, http.MethodGet, srv.URL+"/sessions/bot-1/stream", ""), &stream)
	if len(stream.Lines) != 1 || stream.Lines[0] != "[01:20] Alice: hello world" {
		t.Errorf("unexpected stream: %v", stream.Lines)
	}

	var srt struct {
		Format  string `json:"format"`
		Content string `json:"content"`
	}
	decode(t, do(t, http.MethodGet, srv.URL+"/sessions/bot-1/export?format=srt", ""), &srt)
	if !strings.HasPrefix(srt.Content, "1\n00:01:20,200 --> 00:01:21,900\nAlice: hello world") {
		t.Errorf("unexpected srt: %q", srt.Content)
	}

	resp = do(t, http.MethodGet, srv.URL+"/sessions/bot-1/summary-input", "")
	if ct := resp.Header.Get("Content-Type"); !strings.HasPrefix(ct, "text/plain") {
		t.Errorf("expected text/plain, got %s", ct)
	}
	text, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	if string(text) != "Alice: hello world" {
		t.Errorf("unexpected summary input: %q", text)
	}
}

func TestRouter_WebhookIgnoredAndInvalid(t *testing.T) {
	_, srv := newTestServer(t, nil)

	resp := do(t, http.MethodPost, srv.URL+"/webhooks/transcript", `{"event":"bot.joined","data":{"bot":{"id":"bot-1"}}}`)
	if resp.StatusCode != http.StatusOK {
		t.Errorf("expected 200 for unsupported event, got %d", resp.StatusCode)
	}
	// Unknown kinds are ignored even when their payload has another shape.
	for _, body := range []string{
		`{"event":"participant_events.join","data":{"bot":{"id":"bot-1"},"data":[{"x":1}]}}`,
		`{"event":"bot.status_change","data":{"bot":{"id":"bot-1"},"data":{"words":"n/a"}}}`,
	} {
		resp = do(t, http.MethodPost, srv.URL+"/webhooks/transcript", body)
		var ack struct {
			Status string `json:"status"`
		}
		decode(t, resp, &ack)
		if resp.StatusCode != http.StatusOK || ack.Status != "ignored" {
			t.Errorf("expected 200 ignored for %s, got %d %q", body, resp.StatusCode, ack.Status)
		}
	}
	resp = do(t, http.MethodPost, srv.URL+"/webhooks/transcript", `not json`)
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("expected 400 for malformed body, got %d", resp.StatusCode)
	}
}

func TestRouter_SessionLifecycle(t *testing.T) {
	application, srv := newTestServer(t, nil)

	resp := do(t, http.MethodPost, srv.URL+"/sessions", `{"session_id":"bot-7"}`)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("expected 201, got %d", resp.StatusCode)
	}
	resp = do(t, http.MethodPost, srv.URL+"/sessions", `{"session_id":"bot-7"}`)
	if resp.StatusCode != http.StatusConflict {
		t.Errorf("expected 409 on duplicate, got %d", resp.StatusCode)
	}
	var errBody struct {
		Error struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	decode(t, resp, &errBody)
	if errBody.Error.Code != "ALREADY_EXISTS" {
		t.Errorf("expected ALREADY_EXISTS, got %s", errBody.Error.Code)
	}

	resp = do(t, http.MethodPost, srv.URL+"/sessions", `{}`)
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("expected 400 for missing session id, got %d", resp.StatusCode)
	}

	var list struct {
		Sessions []string `json:"sessions"`
	}
	decode(t, do(t, http.MethodGet, srv.URL+"/sessions", ""), &list)
	if len(list.Sessions) != 1 || list.Sessions[0] != "bot-7" {
		t.Errorf("unexpected sessions: %v", list.Sessions)
	}

	if resp := do(t, http.MethodDelete, srv.URL+"/sessions/bot-7", ""); resp.StatusCode != http.StatusNoContent {
		t.Errorf("expected 204, got %d", resp.StatusCode)
	}
	if resp := do(t, http.MethodDelete, srv.URL+"/sessions/never-existed", ""); resp.StatusCode != http.StatusNoContent {
		t.Errorf("expected 204 for unknown session, got %d", resp.StatusCode)
	}
	if application.Registry.Len() != 0 {
		t.Errorf("expected empty registry, got %d", application.Registry.Len())
	}
}

func TestRouter_UnknownSessionReads(t *testing.T) {
	_, srv := newTestServer(t, nil)

	var body liveBody
	resp := do(t, http.MethodGet, srv.URL+"/sessions/ghost/transcript", "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	decode(t, resp, &body)
	if body.Status != "not_found" || body.Message == "" || len(body.Finals) != 0 {
		t.Errorf("unexpected body: %+v", body)
	}

	var exp struct {
		Status  string `json:"status"`
		Content string `json:"content"`
	}
	decode(t, do(t, http.MethodGet, srv.URL+"/sessions/ghost/export?format=srt", ""), &exp)
	if exp.Status != "not_found" || exp.Content != "" {
		t.Errorf("unexpected export: %+v", exp)
	}
}

func TestRouter_ExportUnknownFormat(t *testing.T) {
	_, srv := newTestServer(t, nil)

	resp := do(t, http.MethodGet, srv.URL+"/sessions/bot-1/export?format=pdf", "")
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", resp.StatusCode)
	}
}

func TestRouter_WebsocketFeed(t *testing.T) {
	application, srv := newTestServer(t, nil)

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/sessions/bot-ws/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	deadline := time.Now().Add(2 * time.Second)
	for application.Hub.SubscriberCount("bot-ws") == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}

	resp := do(t, http.MethodPost, srv.URL+"/webhooks/transcript", webhook("transcript.data", "bot-ws", "p1", "live words"))
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("expected 202, got %d", resp.StatusCode)
	}

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var u live.Update
	if err := conn.ReadJSON(&u); err != nil {
		t.Fatalf("read: %v", err)
	}
	if u.Type != live.TypeFinalAppended || u.Segment == nil || u.Segment.Text != "live words" || u.Sequence != 1 {
		t.Errorf("unexpected update: %+v", u)
	}

	do(t, http.MethodDelete, srv.URL+"/sessions/bot-ws", "")
	if err := conn.ReadJSON(&u); err != nil {
		t.Fatalf("read: %v", err)
	}
	if u.Type != live.TypeSessionClosed {
		t.Errorf("expected session_closed, got %s", u.Type)
	}
}

func TestRouter_LateWebhookAfterDestroy(t *testing.T) {
	application, srv := newTestServer(t, nil)

	do(t, http.MethodPost, srv.URL+"/sessions", `{"session_id":"bot-late"}`)
	do(t, http.MethodPost, srv.URL+"/webhooks/transcript", webhook("transcript.data", "bot-late", "p1", "first"))
	waitForFinals(t, srv, "bot-late", 1)
	do(t, http.MethodDelete, srv.URL+"/sessions/bot-late", "")

	resp := do(t, http.MethodPost, srv.URL+"/webhooks/transcript", webhook("transcript.data", "bot-late", "p1", "flushed"))
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("expected 202, got %d", resp.StatusCode)
	}
	// Shutdown drains the queues, so the late event has been processed.
	if err := application.Shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown: %v", err)
	}

	if _, ok := application.Registry.Get("bot-late"); ok {
		t.Error("destroyed session came back after a late webhook")
	}
}

func TestRouter_WebhookBeforeCreate(t *testing.T) {
	_, srv := newTestServer(t, nil)

	do(t, http.MethodPost, srv.URL+"/webhooks/transcript", webhook("transcript.data", "bot-early", "p1", "early words"))
	waitForFinals(t, srv, "bot-early", 1)

	resp := do(t, http.MethodPost, srv.URL+"/sessions", `{"session_id":"bot-early"}`)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("expected 201 when adopting an early session, got %d", resp.StatusCode)
	}
	waitForFinals(t, srv, "bot-early", 1)

	resp = do(t, http.MethodPost, srv.URL+"/sessions", `{"session_id":"bot-early"}`)
	if resp.StatusCode != http.StatusConflict {
		t.Errorf("expected 409 on second create, got %d", resp.StatusCode)
	}
}
