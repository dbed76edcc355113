package web

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/funnyzak/mocktap/internal/config"
	"github.com/funnyzak/mocktap/internal/logger"
	"github.com/funnyzak/mocktap/internal/server"
	"github.com/funnyzak/mocktap/internal/storage"
	"github.com/funnyzak/mocktap/pkg/exchange"
)

type staticStatus []server.Status

func (s staticStatus) Status() []server.Status { return s }

func newTestService(t *testing.T, store storage.Store) (*Service, *httptest.Server) {
	t.Helper()
	cfg := &config.WebConfig{Enable: true, Path: "/api", MaxEvents: 10}
	svc := NewService(cfg, logger.Nop(), store, staticStatus{{ProjectID: "demo", ServerID: "main", Name: "Main", Addr: "127.0.0.1:3000"}})
	srv := httptest.NewServer(svc.Handler())
	t.Cleanup(func() {
		srv.Close()
		svc.Close()
	})
	return svc, srv
}

func getJSON(t *testing.T, url string, out interface{}) int {
	t.Helper()
	resp, err := http.Get(url)
	if err != nil {
		t.Fatalf("GET %s: %v", url, err)
	}
	defer resp.Body.Close()
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			t.Fatalf("decode %s: %v", url, err)
		}
	}
	return resp.StatusCode
}

type listResponse struct {
	Data []struct {
		ID       string            `json:"id"`
		Metadata exchange.Metadata `json:"metadata"`
	} `json:"data"`
	Total int `json:"total"`
}

func TestEventsFromMemory(t *testing.T) {
	svc, srv := newTestService(t, nil)
	svc.Record(fakeEvent("E1", "GET", "/a", "main", exchange.KindLocal))
	svc.Record(fakeEvent("E2", "POST", "/b", "main", exchange.KindProxy))

	var list listResponse
	if code := getJSON(t, srv.URL+"/api/events", &list); code != http.StatusOK {
		t.Fatalf("unexpected status %d", code)
	}
	if list.Total != 2 || list.Data[0].ID != "E2" {
		t.Fatalf("unexpected list: %+v", list)
	}

	list = listResponse{}
	getJSON(t, srv.URL+"/api/events?kind=proxy", &list)
	if list.Total != 1 || list.Data[0].Metadata.Kind != exchange.KindProxy {
		t.Fatalf("kind filter failed: %+v", list)
	}

	var one map[string]interface{}
	if code := getJSON(t, srv.URL+"/api/events/E1", &one); code != http.StatusOK || one["id"] != "E1" {
		t.Fatalf("get event failed: %d %+v", code, one)
	}
	if code := getJSON(t, srv.URL+"/api/events/nope", nil); code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", code)
	}
}

func TestEventsFromStorage(t *testing.T) {
	store, err := storage.New(&config.StorageConfig{
		Enable:     true,
		Path:       filepath.Join(t.TempDir(), "events.db"),
		MaxRecords: 100,
	}, logger.Nop())
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	stored, err := store.Record(fakeEvent("S1", "GET", "/stored", "main", exchange.KindLocal).Event)
	if err != nil {
		t.Fatalf("record failed: %v", err)
	}

	_, srv := newTestService(t, store)

	var list listResponse
	getJSON(t, srv.URL+"/api/events?search=stored", &list)
	if list.Total != 1 || list.Data[0].ID != stored.ID {
		t.Fatalf("unexpected list: %+v", list)
	}
	if code := getJSON(t, srv.URL+"/api/events/"+stored.ID, nil); code != http.StatusOK {
		t.Fatalf("expected stored event, got %d", code)
	}
	if code := getJSON(t, srv.URL+"/api/events/missing", nil); code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", code)
	}
}

func TestExportEndpoint(t *testing.T) {
	svc, srv := newTestService(t, nil)
	svc.Record(fakeEvent("E1", "GET", "/a", "main", exchange.KindLocal))

	resp, err := http.Get(srv.URL + "/api/events/export?format=csv")
	if err != nil {
		t.Fatalf("export failed: %v", err)
	}
	defer resp.Body.Close()
	if ct := resp.Header.Get("Content-Type"); ct != "text/csv" {
		t.Fatalf("unexpected content type %q", ct)
	}
	if !strings.Contains(resp.Header.Get("Content-Disposition"), ".csv") {
		t.Fatalf("missing attachment filename")
	}

	if code := getJSON(t, srv.URL+"/api/events/export?format=xml", nil); code != http.StatusBadRequest {
		t.Fatalf("expected 400 for unknown format, got %d", code)
	}
}

func TestServersEndpoint(t *testing.T) {
	_, srv := newTestService(t, nil)

	var resp struct {
		Data []server.Status `json:"data"`
	}
	getJSON(t, srv.URL+"/api/servers", &resp)
	if len(resp.Data) != 1 || resp.Data[0].Name != "Main" {
		t.Fatalf("unexpected servers: %+v", resp.Data)
	}
}

func TestDisabledServiceRegistersNothing(t *testing.T) {
	svc := NewService(&config.WebConfig{Enable: false, Path: "/api"}, logger.Nop(), nil, nil)
	srv := httptest.NewServer(svc.Handler())
	defer srv.Close()

	svc.Record(fakeEvent("E1", "GET", "/a", "main", exchange.KindLocal))
	if code := getJSON(t, srv.URL+"/api/events", nil); code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", code)
	}
}

func TestWebsocketReceivesEvents(t *testing.T) {
	svc, srv := newTestService(t, nil)

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/ws"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}
	defer conn.Close()

	deadline := time.Now().Add(2 * time.Second)
	for svc.hub.Clients() == 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}

	svc.Record(fakeEvent("E1", "GET", "/live", "main", exchange.KindLocal))

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var msg struct {
		Type string `json:"type"`
		Data struct {
			ID string `json:"id"`
		} `json:"data"`
	}
	if err := conn.ReadJSON(&msg); err != nil {
		t.Fatalf("read failed: %v", err)
	}
	if msg.Type != "event" || msg.Data.ID != "E1" {
		t.Fatalf("unexpected message: %+v", msg)
	}
}
