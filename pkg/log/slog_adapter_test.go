package log

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"testing"
	"time"
)

func logJSON(t *testing.T, event Event) map[string]any {
	t.Helper()
	var buf bytes.Buffer
	handler := slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug})
	NewSlogAdapter(slog.New(handler)).Log(event)

	if buf.Len() == 0 {
		t.Fatal("no output produced")
	}
	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("failed to parse log output: %v", err)
	}
	return entry
}

func TestSlogAdapterLogsFrameEvent(t *testing.T) {
	entry := logJSON(t, Event{
		Timestamp:    time.Now(),
		ConnectionID: "conn-123",
		Direction:    DirectionIn,
		Layer:        LayerTransport,
		Frame:        &FrameEvent{Size: 256},
	})

	if entry["conn_id"] != "conn-123" {
		t.Errorf("conn_id: got %v", entry["conn_id"])
	}
	if entry["direction"] != "IN" {
		t.Errorf("direction: got %v", entry["direction"])
	}
	if entry["layer"] != "TRANSPORT" {
		t.Errorf("layer: got %v", entry["layer"])
	}
	if entry["frame_size"] != float64(256) {
		t.Errorf("frame_size: got %v", entry["frame_size"])
	}
	if entry["level"] != "DEBUG" {
		t.Errorf("level: got %v", entry["level"])
	}
}

func TestSlogAdapterLogsMessageEvent(t *testing.T) {
	entry := logJSON(t, Event{
		Direction:       DirectionOut,
		Layer:           LayerWire,
		PeerSystemID:    255,
		PeerComponentID: 190,
		Message:         &MessageEvent{Name: "BATTERY_STATUS", MessageID: 147, Sequence: 9},
	})

	if entry["message"] != "BATTERY_STATUS" {
		t.Errorf("message: got %v", entry["message"])
	}
	if entry["msg_id"] != float64(147) {
		t.Errorf("msg_id: got %v", entry["msg_id"])
	}
	if entry["seq"] != float64(9) {
		t.Errorf("seq: got %v", entry["seq"])
	}
	if entry["peer_sysid"] != float64(255) {
		t.Errorf("peer_sysid: got %v", entry["peer_sysid"])
	}
}

func TestSlogAdapterLogsStateChange(t *testing.T) {
	entry := logJSON(t, Event{
		Layer:    LayerLifecycle,
		Category: CategoryState,
		StateChange: &StateChangeEvent{
			Entity:   StateEntityConnection,
			OldState: "SYNCING_PARAMETERS",
			NewState: "CONNECTED",
			Reason:   "sync requested",
		},
	})

	if entry["new_state"] != "CONNECTED" {
		t.Errorf("new_state: got %v", entry["new_state"])
	}
	if entry["reason"] != "sync requested" {
		t.Errorf("reason: got %v", entry["reason"])
	}
	if _, ok := entry["peer_sysid"]; ok {
		t.Error("peer_sysid should be omitted when unknown")
	}
}

func TestSlogAdapterLogsControlAndError(t *testing.T) {
	entry := logJSON(t, Event{ControlMsg: &ControlMsgEvent{Type: ControlMsgPing, Sequence: 3}})
	if entry["ctrl_type"] != "PING" {
		t.Errorf("ctrl_type: got %v", entry["ctrl_type"])
	}

	entry = logJSON(t, Event{Error: &ErrorEventData{Layer: LayerWire, Message: "bad frame", Context: "decode"}})
	if entry["error_msg"] != "bad frame" {
		t.Errorf("error_msg: got %v", entry["error_msg"])
	}
	if entry["error_layer"] != "WIRE" {
		t.Errorf("error_layer: got %v", entry["error_layer"])
	}
}
