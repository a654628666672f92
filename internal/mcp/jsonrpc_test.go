package mcp

import (
	"encoding/json"
	"errors"
	"testing"
)

func TestDecodeResult(t *testing.T) {
	resp := &Response{Result: json.RawMessage(`{"tools":[{"name":"a"},{"name":"b"}]}`)}
	got, err := decodeResult[toolsListResult](resp)
	if err != nil {
		t.Fatalf("decodeResult() error: %v", err)
	}
	if len(got.Tools) != 2 || got.Tools[1].Name != "b" {
		t.Errorf("decoded = %+v", got)
	}

	if _, err := decodeResult[toolsListResult](&Response{Result: json.RawMessage(`[1,2]`)}); err == nil {
		t.Error("expected error decoding array into struct")
	}

	empty, err := decodeResult[toolsListResult](&Response{})
	if err != nil || len(empty.Tools) != 0 {
		t.Errorf("empty result = %+v, %v", empty, err)
	}
}

func TestResponseError(t *testing.T) {
	raw := `{"jsonrpc":"2.0","id":2,"error":{"code":-32601,"message":"Method not found"}}`
	var resp Response
	if err := json.Unmarshal([]byte(raw), &resp); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}

	var err error = resp.Error
	var rpcErr *RPCError
	if !errors.As(err, &rpcErr) || rpcErr.Code != CodeMethodNotFound {
		t.Fatalf("Error = %v, want method-not-found", resp.Error)
	}
	if err.Error() != "jsonrpc error -32601: Method not found" {
		t.Errorf("Error() = %q", err.Error())
	}
}

func TestNotificationOmitsID(t *testing.T) {
	data, err := json.Marshal(NewNotification("notifications/initialized", nil))
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var m map[string]any
	json.Unmarshal(data, &m)
	if _, ok := m["id"]; ok {
		t.Errorf("notification has id: %s", data)
	}
}
