package mqtt

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/eclipse/paho.golang/paho"

	"github.com/PranavPipariya/Godel/internal/agent"
	"github.com/PranavPipariya/Godel/internal/config"
	"github.com/PranavPipariya/Godel/internal/tools"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// recorder captures publishes in place of a broker connection.
type recorder struct {
	mu   sync.Mutex
	msgs []*paho.Publish
	err  error
	got  chan struct{}
}

func newRecorder() *recorder { return &recorder{got: make(chan struct{}, 64)} }

func (r *recorder) publish(_ context.Context, p *paho.Publish) (*paho.PublishResponse, error) {
	r.mu.Lock()
	r.msgs = append(r.msgs, p)
	r.mu.Unlock()
	r.got <- struct{}{}
	return &paho.PublishResponse{}, r.err
}

func (r *recorder) wait(t *testing.T, n int) []*paho.Publish {
	t.Helper()
	for range n {
		select {
		case <-r.got:
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out waiting for %d publishes", n)
		}
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]*paho.Publish(nil), r.msgs...)
}

func TestPublisher_TopicPaths(t *testing.T) {
	tests := []struct {
		name   string
		prefix string
		avail  string
		events string
	}{
		{"default prefix", "", "godel/availability", "godel/sess-1/events"},
		{"custom prefix", "lab/agents", "lab/agents/availability", "lab/agents/sess-1/events"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := New(config.MQTTConfig{TopicPrefix: tt.prefix}, "godel-x", quietLogger())
			if got := p.availabilityTopic(); got != tt.avail {
				t.Errorf("availabilityTopic() = %q, want %q", got, tt.avail)
			}
			if got := p.eventsTopic("sess-1"); got != tt.events {
				t.Errorf("eventsTopic() = %q, want %q", got, tt.events)
			}
		})
	}
}

func TestPublisher_ClientIDOverride(t *testing.T) {
	p := New(config.MQTTConfig{ClientID: "bench-7"}, "godel-abc", nil)
	if p.clientID != "bench-7" {
		t.Errorf("clientID = %q, want bench-7", p.clientID)
	}
}

func TestPublisher_ForwardsEvents(t *testing.T) {
	rec := newRecorder()
	p := New(config.MQTTConfig{TopicPrefix: "godel"}, "godel-x", quietLogger())
	p.publish = rec.publish

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go p.run(ctx)

	code := 0
	p.Observe("sess-1", agent.Event{Kind: agent.EventToolCallStart, CallID: "call_1", ToolName: "shell", Arguments: map[string]any{"command": "ls"}})
	p.Observe("sess-1", agent.Event{Kind: agent.EventToolCallComplete, CallID: "call_1", ToolName: "shell", Result: &tools.Result{Success: true, Output: "a", ExitCode: &code}})
	p.Observe("sess-1", agent.Event{Kind: agent.EventAgentError, Error: "maximum turns exceeded", Err: errors.New("hidden")})

	msgs := rec.wait(t, 3)
	wantKinds := []string{"tool_call_start", "tool_call_complete", "agent_error"}
	for i, m := range msgs {
		if m.Topic != "godel/sess-1/events" {
			t.Errorf("msg %d topic = %q", i, m.Topic)
		}
		if m.QoS != 0 || m.Retain {
			t.Errorf("msg %d QoS=%d retain=%v, want QoS 0 not retained", i, m.QoS, m.Retain)
		}
		var body map[string]any
		if err := json.Unmarshal(m.Payload, &body); err != nil {
			t.Fatalf("msg %d payload: %v", i, err)
		}
		if body["type"] != wantKinds[i] || body["session_id"] != "sess-1" {
			t.Errorf("msg %d body = %v", i, body)
		}
	}
	if strings.Contains(string(msgs[2].Payload), "hidden") {
		t.Error("underlying error leaked into the payload")
	}
	if !strings.Contains(string(msgs[1].Payload), `"exit_code":0`) {
		t.Errorf("tool result missing from payload: %s", msgs[1].Payload)
	}
}

func TestPublisher_PublishErrorsAreSwallowed(t *testing.T) {
	rec := newRecorder()
	rec.err = errors.New("connection down")
	p := New(config.MQTTConfig{}, "godel-x", quietLogger())
	p.publish = rec.publish

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go p.run(ctx)

	p.Observe("s", agent.Event{Kind: agent.EventTextDelta, Text: "a"})
	p.Observe("s", agent.Event{Kind: agent.EventTextDelta, Text: "b"})
	if got := rec.wait(t, 2); len(got) != 2 {
		t.Errorf("published %d events, want 2", len(got))
	}
}

func TestPublisher_ObserveNeverBlocks(t *testing.T) {
	p := New(config.MQTTConfig{}, "godel-x", quietLogger())

	done := make(chan struct{})
	go func() {
		defer close(done)
		for range queueSize + 10 {
			p.Observe("s", agent.Event{Kind: agent.EventTextDelta, Text: "x"})
		}
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Observe blocked with nothing draining the queue")
	}
	if p.Dropped() != 10 {
		t.Errorf("Dropped() = %d, want 10", p.Dropped())
	}
}

func TestPublisher_Availability(t *testing.T) {
	rec := newRecorder()
	p := New(config.MQTTConfig{TopicPrefix: "godel"}, "godel-x", quietLogger())

	p.publishAvailability(context.Background(), rec.publish, "online")

	msgs := rec.wait(t, 1)
	m := msgs[0]
	if m.Topic != "godel/availability" || string(m.Payload) != "online" || !m.Retain {
		t.Errorf("availability publish = %s %q retain=%v", m.Topic, m.Payload, m.Retain)
	}
}

func TestStopWithoutStart(t *testing.T) {
	p := New(config.MQTTConfig{}, "godel-x", quietLogger())
	if err := p.Stop(context.Background()); err != nil {
		t.Errorf("Stop() error = %v", err)
	}
}

func TestStartBadBrokerURL(t *testing.T) {
	p := New(config.MQTTConfig{Broker: "://bad"}, "godel-x", quietLogger())
	if err := p.Start(context.Background()); err == nil {
		t.Error("Start() accepted an unparseable broker URL")
	}
}

func TestLoadOrCreateInstanceID(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "data")

	first, err := LoadOrCreateInstanceID(dir)
	if err != nil {
		t.Fatalf("LoadOrCreateInstanceID() error = %v", err)
	}
	if parts := strings.Split(first, "-"); len(parts) != 5 {
		t.Errorf("id %q does not look like a UUID", first)
	}

	data, err := os.ReadFile(filepath.Join(dir, "instance_id"))
	if err != nil {
		t.Fatalf("ReadFile() error = %v", err)
	}
	if got := strings.TrimSpace(string(data)); got != first {
		t.Errorf("file content = %q, want %q", got, first)
	}

	second, err := LoadOrCreateInstanceID(dir)
	if err != nil {
		t.Fatalf("second call error = %v", err)
	}
	if second != first {
		t.Errorf("second = %q, want %q (should be stable)", second, first)
	}
}

func TestClientID(t *testing.T) {
	got := ClientID("01890a5d-ac96-774b-bcce-b302099a8057")
	if got != "godel-01890a5dac96774bbcceb302099a8057" {
		t.Errorf("ClientID() = %q", got)
	}
}
