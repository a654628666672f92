package mcp

import (
	"context"
	"errors"
	"log/slog"
	"testing"

	"github.com/PranavPipariya/Godel/internal/tools"
)

func newTestManager(t *testing.T, servers []ServerConfig, transports map[string]*mockTransport) (*Manager, *tools.Registry) {
	t.Helper()
	reg := tools.NewRegistry(nil)
	m := NewManager(servers, reg, nil)
	m.newTransport = func(cfg ServerConfig, _ *slog.Logger) (Transport, error) {
		mt, ok := transports[cfg.Name]
		if !ok {
			return nil, errors.New("connection refused")
		}
		return mt, nil
	}
	return m, reg
}

func TestManager_Start(t *testing.T) {
	good := initialized(newMockTransport())
	good.addResponse("tools/list", toolsListResult{Tools: []ToolDefinition{
		{Name: "search"}, {Name: "fetch"}, {Name: "admin"},
	}})
	broken := newMockTransport()
	broken.addError("initialize", CodeInternalError, "boom")

	m, reg := newTestManager(t, []ServerConfig{
		{Name: "web", Exclude: []string{"admin"}},
		{Name: "broken"},
		{Name: "offline"},
	}, map[string]*mockTransport{"web": good, "broken": broken})

	if err := m.Start(context.Background()); err != nil {
		t.Fatalf("Start() error: %v", err)
	}

	statuses := m.Servers()
	if len(statuses) != 3 || statuses[0].Name != "broken" {
		t.Fatalf("Servers() = %+v", statuses)
	}
	want := map[string]Status{"web": StatusConnected, "broken": StatusFailed, "offline": StatusFailed}
	for _, st := range statuses {
		if st.Status != want[st.Name] {
			t.Errorf("%s status = %s, want %s", st.Name, st.Status, want[st.Name])
		}
		if st.Status == StatusFailed && st.Error == "" {
			t.Errorf("%s failed without error", st.Name)
		}
	}
	if !broken.closed {
		t.Error("failed server transport not closed")
	}

	web, _ := m.ServerStatus("web")
	if len(web.Tools) != 2 {
		t.Errorf("web tools = %v", web.Tools)
	}
	if reg.Get("mcp_web_search") == nil || reg.Get("mcp_web_admin") != nil {
		t.Errorf("registry names = %v", reg.Names())
	}
}

func TestManager_Shutdown(t *testing.T) {
	mt := initialized(newMockTransport())
	mt.addResponse("tools/list", toolsListResult{Tools: []ToolDefinition{{Name: "search"}}})

	m, reg := newTestManager(t, []ServerConfig{{Name: "web"}}, map[string]*mockTransport{"web": mt})
	if err := m.Start(context.Background()); err != nil {
		t.Fatalf("Start() error: %v", err)
	}

	for range 2 {
		if err := m.Shutdown(); err != nil {
			t.Fatalf("Shutdown() error: %v", err)
		}
	}
	if !mt.closed {
		t.Error("transport not closed")
	}
	if reg.Len() != 0 {
		t.Errorf("registry still holds %v", reg.Names())
	}
	if st, _ := m.ServerStatus("web"); st.Status != StatusDisconnected {
		t.Errorf("status after shutdown = %s", st.Status)
	}
	if err := m.Start(context.Background()); err == nil {
		t.Error("Start after Shutdown should fail")
	}
}

func TestManager_PingMarksFailed(t *testing.T) {
	mt := initialized(newMockTransport())
	mt.addResponse("tools/list", toolsListResult{})
	mt.addError("ping", CodeInternalError, "gone")

	m, _ := newTestManager(t, []ServerConfig{{Name: "web"}}, map[string]*mockTransport{"web": mt})
	m.Start(context.Background())
	m.Ping(context.Background())

	if st, _ := m.ServerStatus("web"); st.Status != StatusFailed {
		t.Errorf("status = %s, want failed", st.Status)
	}
}

func TestDefaultTransport(t *testing.T) {
	tests := []struct {
		cfg     ServerConfig
		wantErr bool
	}{
		{ServerConfig{Name: "a", Command: "server"}, false},
		{ServerConfig{Name: "b", Transport: "http", URL: "http://localhost:9000/mcp"}, false},
		{ServerConfig{Name: "c"}, true},
		{ServerConfig{Name: "d", Transport: "http"}, true},
		{ServerConfig{Name: "e", Transport: "carrier-pigeon"}, true},
	}
	for _, tt := range tests {
		_, err := defaultTransport(tt.cfg, slog.Default())
		if (err != nil) != tt.wantErr {
			t.Errorf("defaultTransport(%s) error = %v, wantErr %v", tt.cfg.Name, err, tt.wantErr)
		}
	}
}
