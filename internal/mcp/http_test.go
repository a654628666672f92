package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestHTTPTransport_JSONAndSession(t *testing.T) {
	var gotSession, gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req Request
		json.NewDecoder(r.Body).Decode(&req)
		gotSession = r.Header.Get(sessionHeader)
		gotAuth = r.Header.Get("Authorization")
		if req.Method == "notifications/initialized" {
			w.WriteHeader(http.StatusAccepted)
			return
		}
		w.Header().Set(sessionHeader, "sess-1")
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w, `{"jsonrpc":"2.0","id":%d,"result":{"ok":true}}`, req.ID)
	}))
	defer srv.Close()

	tr := NewHTTPTransport(HTTPConfig{URL: srv.URL, Headers: map[string]string{"Authorization": "Bearer x"}})
	defer tr.Close()

	resp, err := tr.Send(context.Background(), NewRequest(7, "initialize", nil))
	if err != nil {
		t.Fatalf("Send() error: %v", err)
	}
	if resp.ID != 7 || string(resp.Result) != `{"ok":true}` {
		t.Errorf("response = %+v", resp)
	}
	if gotAuth != "Bearer x" {
		t.Errorf("Authorization = %q", gotAuth)
	}

	if err := tr.Notify(context.Background(), NewNotification("notifications/initialized", nil)); err != nil {
		t.Fatalf("Notify() error: %v", err)
	}
	if gotSession != "sess-1" {
		t.Errorf("session header not echoed, got %q", gotSession)
	}
}

func TestHTTPTransport_EventStream(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, "event: message\n")
		fmt.Fprint(w, `data: {"jsonrpc":"2.0","method":"notifications/progress"}`+"\n\n")
		fmt.Fprint(w, `data: {"jsonrpc":"2.0","id":3,"result":{"content":[]}}`+"\n\n")
	}))
	defer srv.Close()

	tr := NewHTTPTransport(HTTPConfig{URL: srv.URL})
	resp, err := tr.Send(context.Background(), NewRequest(3, "tools/call", nil))
	if err != nil {
		t.Fatalf("Send() error: %v", err)
	}
	if resp.ID != 3 {
		t.Errorf("ID = %d, want 3", resp.ID)
	}
}

func TestHTTPTransport_ErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusForbidden)
	}))
	defer srv.Close()

	tr := NewHTTPTransport(HTTPConfig{URL: srv.URL})
	if _, err := tr.Send(context.Background(), NewRequest(1, "ping", nil)); err == nil {
		t.Fatal("expected error for 403")
	}
	if err := tr.Notify(context.Background(), NewNotification("x", nil)); err == nil {
		t.Fatal("expected notify error for 403")
	}
}
