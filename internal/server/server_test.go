package server

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/gorilla/websocket"

	"github.com/opd-ai/go-emby-bridge/internal/bridge"
	"github.com/opd-ai/go-emby-bridge/internal/canonical"
	"github.com/opd-ai/go-emby-bridge/internal/emby"
	"github.com/opd-ai/go-emby-bridge/internal/storage"
	"github.com/opd-ai/go-emby-bridge/pkg/config"
)

type fakeSource struct {
	sessions     []emby.RawSession
	users        []emby.RawUser
	libraries    []emby.RawLibrary
	public       *emby.PublicServerInfo
	err          error
	terminateErr error
	terminated   []string
}

func (f *fakeSource) GetSessions(context.Context) ([]emby.RawSession, error) {
	return f.sessions, f.err
}

func (f *fakeSource) GetUsers(context.Context) ([]emby.RawUser, error) {
	return f.users, f.err
}

func (f *fakeSource) GetLibraries(context.Context) ([]emby.RawLibrary, error) {
	return f.libraries, f.err
}

func (f *fakeSource) GetServerInfo(context.Context) (*emby.ServerInfo, error) {
	return &emby.ServerInfo{}, f.err
}

func (f *fakeSource) GetPublicServerInfo(context.Context) (*emby.PublicServerInfo, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.public, nil
}

func (f *fakeSource) Ping(context.Context) error {
	return f.err
}

func (f *fakeSource) TerminateSession(_ context.Context, id, message string) error {
	if f.terminateErr != nil {
		return f.terminateErr
	}
	f.terminated = append(f.terminated, id+":"+message)
	return nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelError, // Suppress logs during tests
	}))
}

func testConfig() *config.ServerConfig {
	return &config.ServerConfig{
		Enabled:           true,
		Port:              8181,
		Host:              "localhost",
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		EnableCompression: true,
		AllowedOrigins:    []string{"*"},
	}
}

// createTestServer returns a server over source backed by a temporary store.
func createTestServer(t *testing.T, source *fakeSource) (*Server, *storage.Manager) {
	t.Helper()
	logger := testLogger()

	store, err := storage.NewManager(&config.StorageConfig{Directory: t.TempDir()}, logger)
	if err != nil {
		t.Fatalf("Failed to create storage manager: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	return New(testConfig(), bridge.New(source, logger), store, logger), store
}

func doRequest(t *testing.T, s *Server, method, path string, body string) (*httptest.ResponseRecorder, APIResponse) {
	t.Helper()

	var reader *bytes.Reader
	if body != "" {
		reader = bytes.NewReader([]byte(body))
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)

	var response APIResponse
	if strings.HasPrefix(w.Header().Get("Content-Type"), "application/json") {
		if err := json.Unmarshal(w.Body.Bytes(), &response); err != nil {
			t.Fatalf("Failed to decode response: %v", err)
		}
	}
	return w, response
}

func playingSession(id string) emby.RawSession {
	return emby.RawSession{
		ID:             id,
		UserName:       "alice",
		PlayState:      &emby.RawPlayState{PlayMethod: "Transcode"},
		NowPlayingItem: &emby.RawItem{ID: "item-" + id, Name: "Movie", Type: "Movie"},
	}
}

func TestNew(t *testing.T) {
	s, _ := createTestServer(t, &fakeSource{})

	if s.httpServer.Addr != "localhost:8181" {
		t.Errorf("Expected server address localhost:8181, got %s", s.httpServer.Addr)
	}
	if s.Hub() == nil {
		t.Error("Expected a WebSocket hub")
	}
}

func TestHealthEndpoint(t *testing.T) {
	s, _ := createTestServer(t, &fakeSource{})

	w, response := doRequest(t, s, http.MethodGet, "/health", "")

	if w.Code != http.StatusOK {
		t.Errorf("Expected status 200, got %d", w.Code)
	}
	if !response.Success || response.Message != "Server is healthy" {
		t.Errorf("Unexpected health response %+v", response)
	}
}

func TestStatusEndpoint(t *testing.T) {
	s, _ := createTestServer(t, &fakeSource{})

	w, response := doRequest(t, s, http.MethodGet, "/api/status", "")
	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", w.Code)
	}

	statusData, ok := response.Data.(map[string]interface{})
	if !ok {
		t.Fatal("Expected response data to be a map")
	}
	for _, field := range []string{"status", "version", "uptime", "websocket_clients", "storage"} {
		if _, exists := statusData[field]; !exists {
			t.Errorf("Expected status field '%s' to be present", field)
		}
	}
}

func TestActivityEndpoint(t *testing.T) {
	source := &fakeSource{sessions: []emby.RawSession{playingSession("s1"), {ID: "idle"}}}
	s, _ := createTestServer(t, source)

	w, response := doRequest(t, s, http.MethodGet, "/api/activity", "")
	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", w.Code)
	}

	data := response.Data.(map[string]interface{})
	if data["stream_count"] != "1" {
		t.Errorf("Expected stream_count \"1\", got %v", data["stream_count"])
	}
	if data["stream_count_transcode"] != float64(1) {
		t.Errorf("Expected one transcode, got %v", data["stream_count_transcode"])
	}
}

func TestActivityEndpointDegrades(t *testing.T) {
	source := &fakeSource{err: &emby.Failure{Kind: emby.FailureConnection, Err: errors.New("refused")}}
	s, _ := createTestServer(t, source)

	w, response := doRequest(t, s, http.MethodGet, "/api/activity", "")
	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200 on upstream failure, got %d", w.Code)
	}

	data := response.Data.(map[string]interface{})
	if data["stream_count"] != "0" {
		t.Errorf("Expected empty activity, got %v", data)
	}
	if sessions, ok := data["sessions"].([]interface{}); !ok || len(sessions) != 0 {
		t.Errorf("Expected empty sessions list, got %v", data["sessions"])
	}
}

func TestLatestActivityEndpoint(t *testing.T) {
	s, store := createTestServer(t, &fakeSource{})

	w, _ := doRequest(t, s, http.MethodGet, "/api/activity/latest", "")
	if w.Code != http.StatusNotFound {
		t.Errorf("Expected 404 before any poll, got %d", w.Code)
	}

	observed := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	if err := store.SaveActivity(canonical.EmptyActivity(), observed); err != nil {
		t.Fatalf("Failed to save activity: %v", err)
	}

	w, response := doRequest(t, s, http.MethodGet, "/api/activity/latest", "")
	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", w.Code)
	}
	data := response.Data.(map[string]interface{})
	if data["observed_at"] != "2024-03-01T12:00:00Z" {
		t.Errorf("Unexpected observed_at %v", data["observed_at"])
	}
}

func TestUsersEndpoint(t *testing.T) {
	source := &fakeSource{users: []emby.RawUser{{ID: "u1", Name: "alice"}}}
	s, store := createTestServer(t, source)

	w, response := doRequest(t, s, http.MethodGet, "/api/users", "")
	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", w.Code)
	}
	if users := response.Data.([]interface{}); len(users) != 1 {
		t.Fatalf("Expected 1 user, got %d", len(users))
	}

	stored, _ := store.ListUsers()
	if len(stored) != 1 || stored[0].UserID != "u1" {
		t.Errorf("Expected live users to be persisted, got %+v", stored)
	}

	source.err = &emby.Failure{Kind: emby.FailureTimeout}
	w, response = doRequest(t, s, http.MethodGet, "/api/users", "")
	if w.Code != http.StatusOK {
		t.Fatalf("Expected cached users with status 200, got %d", w.Code)
	}
	if response.Message != cachedMessage {
		t.Errorf("Expected cached message, got %q", response.Message)
	}
}

func TestLibrariesEndpointWithoutCache(t *testing.T) {
	source := &fakeSource{err: &emby.Failure{Kind: emby.FailureTimeout}}
	s, _ := createTestServer(t, source)

	w, response := doRequest(t, s, http.MethodGet, "/api/libraries", "")
	if w.Code != http.StatusGatewayTimeout {
		t.Errorf("Expected 504, got %d", w.Code)
	}
	if response.Success {
		t.Error("Expected success to be false")
	}
}

func TestServerIdentityEndpoint(t *testing.T) {
	source := &fakeSource{public: &emby.PublicServerInfo{ID: "m1", Version: "4.8.0.0", ServerName: "Home"}}
	s, _ := createTestServer(t, source)

	w, response := doRequest(t, s, http.MethodGet, "/api/server", "")
	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", w.Code)
	}

	data := response.Data.(map[string]interface{})
	want := map[string]interface{}{
		"machine_identifier": "m1",
		"version":            "4.8.0.0",
		"server_name":        "Home",
		"product_name":       "Emby Server",
	}
	for k, v := range want {
		if data[k] != v {
			t.Errorf("Expected %s=%v, got %v", k, v, data[k])
		}
	}

	source.err = errors.New("down")
	w, response = doRequest(t, s, http.MethodGet, "/api/server", "")
	if w.Code != http.StatusOK || response.Message != cachedMessage {
		t.Errorf("Expected cached identity, got %d %+v", w.Code, response)
	}
}

func TestTerminateEndpoint(t *testing.T) {
	source := &fakeSource{}
	s, _ := createTestServer(t, source)

	w, response := doRequest(t, s, http.MethodPost, "/api/sessions/s1/terminate", `{"message":"Bye"}`)
	if w.Code != http.StatusOK || !response.Success {
		t.Fatalf("Expected success, got %d %+v", w.Code, response)
	}
	if len(source.terminated) != 1 || source.terminated[0] != "s1:Bye" {
		t.Errorf("Unexpected terminate calls %v", source.terminated)
	}

	w, _ = doRequest(t, s, http.MethodPost, "/api/sessions/s2/terminate", "")
	if w.Code != http.StatusOK {
		t.Errorf("Expected empty body to be accepted, got %d", w.Code)
	}

	w, _ = doRequest(t, s, http.MethodPost, "/api/sessions/s3/terminate", "{not json")
	if w.Code != http.StatusBadRequest {
		t.Errorf("Expected 400 for invalid body, got %d", w.Code)
	}

	source.terminateErr = &emby.Failure{Kind: emby.FailureHTTPStatus, StatusCode: http.StatusNotFound}
	w, _ = doRequest(t, s, http.MethodPost, "/api/sessions/gone/terminate", "")
	if w.Code != http.StatusNotFound {
		t.Errorf("Expected 404 for unknown session, got %d", w.Code)
	}
}

func TestUpstreamStatus(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"plain error", errors.New("x"), http.StatusBadGateway},
		{"timeout", &emby.Failure{Kind: emby.FailureTimeout}, http.StatusGatewayTimeout},
		{"circuit open", &emby.Failure{Kind: emby.FailureCircuitOpen}, http.StatusServiceUnavailable},
		{"not found", &emby.Failure{Kind: emby.FailureHTTPStatus, StatusCode: 404}, http.StatusNotFound},
		{"unauthorized", &emby.Failure{Kind: emby.FailureHTTPStatus, StatusCode: 401}, http.StatusBadGateway},
		{"wrapped", errors.Join(errors.New("ctx"), &emby.Failure{Kind: emby.FailureTimeout}), http.StatusGatewayTimeout},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := upstreamStatus(tt.err); got != tt.want {
				t.Errorf("upstreamStatus() = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestCORSMiddleware(t *testing.T) {
	s, _ := createTestServer(t, &fakeSource{})

	req := httptest.NewRequest(http.MethodOptions, "/api/activity", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	req.Header.Set("Access-Control-Request-Method", "GET")
	w := httptest.NewRecorder()

	s.Handler().ServeHTTP(w, req)

	if w.Header().Get("Access-Control-Allow-Origin") == "" {
		t.Error("Expected Access-Control-Allow-Origin header")
	}
	if w.Header().Get("Access-Control-Allow-Methods") == "" {
		t.Error("Expected Access-Control-Allow-Methods header")
	}
}

func TestMetricsEndpoint(t *testing.T) {
	s, _ := createTestServer(t, &fakeSource{})
	doRequest(t, s, http.MethodGet, "/health", "")

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), "api_request_duration_seconds") {
		t.Error("Expected API request histogram in metrics output")
	}
}

func TestOriginChecker(t *testing.T) {
	check := originChecker([]string{"http://dash.local"})

	req := httptest.NewRequest(http.MethodGet, "/ws/activity", nil)
	req.Header.Set("Origin", "http://dash.local")
	if !check(req) {
		t.Error("Expected allowed origin to pass")
	}

	req.Header.Set("Origin", "http://evil.example")
	if check(req) {
		t.Error("Expected unknown origin to be rejected")
	}

	if !originChecker([]string{"*"})(req) {
		t.Error("Expected wildcard to accept any origin")
	}
}

func dialActivity(t *testing.T, s *Server) *websocket.Conn {
	t.Helper()
	ts := httptest.NewServer(s.Handler())
	t.Cleanup(ts.Close)

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws/activity"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("Failed to dial WebSocket: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readActivity(t *testing.T, conn *websocket.Conn) ActivityMessage {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("Failed to read WebSocket message: %v", err)
	}

	var msg ActivityMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		t.Fatalf("Failed to decode activity message: %v", err)
	}
	return msg
}

func TestWebSocketReceivesPublishedActivity(t *testing.T) {
	s, _ := createTestServer(t, &fakeSource{})
	conn := dialActivity(t, s)

	deadline := time.Now().Add(2 * time.Second)
	for s.Hub().ClientCount() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("Client was never registered")
		}
		time.Sleep(5 * time.Millisecond)
	}

	activity := canonical.NewActivity([]canonical.Session{{SessionID: "s1", TranscodeDecision: canonical.DecisionCopy}})
	s.Hub().PublishActivity(activity, time.Now())

	msg := readActivity(t, conn)
	if msg.Type != "activity" {
		t.Errorf("Expected type activity, got %s", msg.Type)
	}
	if msg.Activity.StreamCount != "1" || msg.Activity.StreamCountDirectStream != 1 {
		t.Errorf("Unexpected activity %+v", msg.Activity)
	}
}

func TestWebSocketSendsStoredSnapshotOnConnect(t *testing.T) {
	s, store := createTestServer(t, &fakeSource{})
	observed := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	if err := store.SaveActivity(canonical.EmptyActivity(), observed); err != nil {
		t.Fatalf("Failed to save activity: %v", err)
	}

	msg := readActivity(t, dialActivity(t, s))

	if !msg.Timestamp.Equal(observed) {
		t.Errorf("Expected stored snapshot time, got %v", msg.Timestamp)
	}
	if msg.Activity.StreamCount != "0" {
		t.Errorf("Expected empty activity, got %+v", msg.Activity)
	}
}

func TestHubCloseAll(t *testing.T) {
	s, _ := createTestServer(t, &fakeSource{})
	conn := dialActivity(t, s)

	deadline := time.Now().Add(2 * time.Second)
	for s.Hub().ClientCount() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("Client was never registered")
		}
		time.Sleep(5 * time.Millisecond)
	}

	s.Hub().CloseAll()

	if n := s.Hub().ClientCount(); n != 0 {
		t.Errorf("Expected no clients after CloseAll, got %d", n)
	}

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	if _, _, err := conn.ReadMessage(); err == nil {
		t.Error("Expected connection to be closed")
	}

	// Publishing after every client left must not panic.
	s.Hub().PublishActivity(canonical.EmptyActivity(), time.Now())
}

func TestServerStartStop(t *testing.T) {
	cfg := testConfig()
	cfg.Port = 0
	logger := testLogger()

	store, err := storage.NewManager(&config.StorageConfig{Directory: t.TempDir()}, logger)
	if err != nil {
		t.Fatalf("Failed to create storage manager: %v", err)
	}
	defer store.Close()

	s := New(cfg, bridge.New(&fakeSource{}, logger), store, logger)

	if err := s.Stop(); err != nil {
		t.Errorf("Stop() returned error: %v", err)
	}
}

func TestDashboardMounted(t *testing.T) {
	s, _ := createTestServer(t, &fakeSource{})

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), "/static/dashboard.js") {
		t.Error("Expected dashboard page")
	}
}
