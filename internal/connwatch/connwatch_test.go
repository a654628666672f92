package connwatch

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func fastBackoff() BackoffConfig {
	return BackoffConfig{
		InitialDelay: time.Millisecond,
		MaxDelay:     4 * time.Millisecond,
		Multiplier:   2.0,
		MaxRetries:   4,
		PollInterval: 5 * time.Millisecond,
		ProbeTimeout: 100 * time.Millisecond,
	}
}

func ready(w *Watcher) bool { return w.Status().Ready }

// eventually polls cond for up to two seconds.
func eventually(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(2 * time.Millisecond)
	}
}

func TestBackoffDefaults(t *testing.T) {
	got := BackoffConfig{MaxRetries: 2}.withDefaults()
	def := DefaultBackoffConfig()
	if got.MaxRetries != 2 {
		t.Errorf("MaxRetries = %d, want explicit 2 kept", got.MaxRetries)
	}
	if got.InitialDelay != def.InitialDelay || got.PollInterval != def.PollInterval || got.ProbeTimeout != def.ProbeTimeout {
		t.Errorf("withDefaults() = %+v", got)
	}
}

func TestWatcherTransitions(t *testing.T) {
	tests := []struct {
		name string
		// up reports the probe outcome for attempt n (1-based).
		up        func(n int32) bool
		wantReady bool
		wantUp    int32
		wantDown  int32
	}{
		{"immediate success", func(int32) bool { return true }, true, 1, 0},
		{"backoff then success", func(n int32) bool { return n > 2 }, true, 1, 0},
		{"never reachable", func(int32) bool { return false }, false, 0, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var attempts, ups, downs atomic.Int32
			m := NewManager(quietLogger())
			w := m.Watch(t.Context(), WatcherConfig{
				Name: "model",
				Probe: func(context.Context) error {
					if tt.up(attempts.Add(1)) {
						return nil
					}
					return errors.New("connection refused")
				},
				Backoff: fastBackoff(),
				OnReady: func() { ups.Add(1) },
				OnDown:  func(error) { downs.Add(1) },
			})
			defer m.Stop()

			// Past the startup phase and into polling.
			eventually(t, "polling", func() bool { return attempts.Load() > 6 })

			if ready := w.Status().Ready; ready != tt.wantReady {
				t.Errorf("Status().Ready = %v, want %v", ready, tt.wantReady)
			}
			eventually(t, "callbacks", func() bool { return ups.Load() == tt.wantUp })
			if downs.Load() != tt.wantDown {
				t.Errorf("OnDown called %d times, want %d", downs.Load(), tt.wantDown)
			}
			st := w.Status()
			if st.Name != "model" || st.Ready != tt.wantReady || st.LastCheck.IsZero() {
				t.Errorf("Status() = %+v", st)
			}
			if !tt.wantReady && st.LastError == "" {
				t.Error("LastError empty for unreachable service")
			}
		})
	}
}

func TestWatcherGoesDownAndRecovers(t *testing.T) {
	var healthy atomic.Bool
	healthy.Store(true)
	var ups, downs atomic.Int32

	m := NewManager(quietLogger())
	w := m.Watch(t.Context(), WatcherConfig{
		Name: "mcp:search",
		Probe: func(context.Context) error {
			if healthy.Load() {
				return nil
			}
			return errors.New("timeout")
		},
		Backoff: fastBackoff(),
		OnReady: func() { ups.Add(1) },
		OnDown:  func(error) { downs.Add(1) },
	})
	defer m.Stop()

	eventually(t, "ready", func() bool { return ready(w) })
	healthy.Store(false)
	eventually(t, "down", func() bool { return !ready(w) })
	eventually(t, "OnDown", func() bool { return downs.Load() == 1 })
	healthy.Store(true)
	eventually(t, "recovered", func() bool { return ready(w) })
	eventually(t, "second OnReady", func() bool { return ups.Load() == 2 })
}

func TestWatcherStopsWithContext(t *testing.T) {
	ctx, cancel := context.WithCancel(t.Context())
	m := NewManager(quietLogger())
	w := m.Watch(ctx, WatcherConfig{
		Name:    "model",
		Probe:   func(context.Context) error { return errors.New("down") },
		Backoff: BackoffConfig{InitialDelay: time.Hour, MaxRetries: 3},
	})
	cancel()

	done := make(chan struct{})
	go func() { w.Stop(); close(done) }()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("watcher did not exit after cancellation")
	}
}

func TestWatcherProbeTimeout(t *testing.T) {
	m := NewManager(quietLogger())
	w := m.Watch(t.Context(), WatcherConfig{
		Name: "slow",
		Probe: func(ctx context.Context) error {
			<-ctx.Done()
			return ctx.Err()
		},
		Backoff: BackoffConfig{
			InitialDelay: time.Millisecond,
			MaxRetries:   1,
			PollInterval: time.Hour,
			ProbeTimeout: 10 * time.Millisecond,
		},
	})
	defer m.Stop()

	eventually(t, "probe result", func() bool { return w.Status().LastError != "" })
	if ready(w) {
		t.Error("timed-out probe reported ready")
	}
}

func TestManagerStatusSorted(t *testing.T) {
	m := NewManager(quietLogger())
	for _, name := range []string{"model", "mcp:b", "mcp:a"} {
		m.Watch(t.Context(), WatcherConfig{
			Name:    name,
			Probe:   func(context.Context) error { return nil },
			Backoff: fastBackoff(),
		})
	}
	defer m.Stop()

	eventually(t, "all ready", func() bool {
		for _, s := range m.Status() {
			if !s.Ready {
				return false
			}
		}
		return true
	})
	st := m.Status()
	if len(st) != 3 || st[0].Name != "mcp:a" || st[1].Name != "mcp:b" || st[2].Name != "model" {
		t.Errorf("Status() = %+v", st)
	}
}

func TestWatchPanicsOnBadConfig(t *testing.T) {
	tests := []struct {
		name string
		cfg  WatcherConfig
	}{
		{"no name", WatcherConfig{Probe: func(context.Context) error { return nil }}},
		{"no probe", WatcherConfig{Name: "x"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			defer func() {
				if recover() == nil {
					t.Error("Watch() did not panic")
				}
			}()
			NewManager(quietLogger()).Watch(t.Context(), tt.cfg)
		})
	}
}

func TestHTTPProbe(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		wantErr bool
	}{
		{"ok", http.StatusOK, false},
		{"unauthorized still reachable", http.StatusUnauthorized, false},
		{"not found still reachable", http.StatusNotFound, false},
		{"server error", http.StatusBadGateway, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
			}))
			defer srv.Close()

			err := HTTPProbe(srv.Client(), srv.URL)(t.Context())
			if (err != nil) != tt.wantErr {
				t.Errorf("probe error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}

	t.Run("connection refused", func(t *testing.T) {
		srv := httptest.NewServer(http.NotFoundHandler())
		url := srv.URL
		srv.Close()
		if err := HTTPProbe(http.DefaultClient, url)(t.Context()); err == nil {
			t.Error("probe of closed server succeeded")
		}
	})
}
