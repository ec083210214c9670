package codec

import (
	"encoding/json"
	"testing"

	"pokerhall/internal/broadcast"
)

func TestDecodeClient(t *testing.T) {
	env, err := DecodeClient([]byte(`{"cmd":"action","table_id":"table_1","action":"raise","amount":50}`))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if env.Cmd != CmdAction || env.TableID != "table_1" || env.Action != "raise" || env.Amount != 50 {
		t.Fatalf("unexpected envelope %+v", env)
	}

	bad := []string{
		`not json`,
		`{"cmd":"launch","table_id":"table_1"}`,
		`{"cmd":"subscribe"}`,
	}
	for _, raw := range bad {
		if _, err := DecodeClient([]byte(raw)); err == nil {
			t.Fatalf("expected decode error for %s", raw)
		}
	}
}

func TestEncodeEventRoundTrip(t *testing.T) {
	data := EncodeEvent(broadcast.Event{
		Type:    broadcast.EventChatMessage,
		TableID: "table_9",
		UserID:  7,
		Text:    "nice hand",
	})

	var env ServerEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if env.Type != MsgEvent || env.TableID != "table_9" {
		t.Fatalf("unexpected envelope %+v", env)
	}
	if env.TsMs == 0 {
		t.Fatal("timestamp missing")
	}
	if env.Event == nil || env.Event.Text != "nice hand" {
		t.Fatalf("event payload lost: %+v", env.Event)
	}
}

func TestEncodeError(t *testing.T) {
	var env ServerEnvelope
	if err := json.Unmarshal(EncodeError("table_2", "not_seated", "take a seat first"), &env); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if env.Type != MsgError || env.Code != "not_seated" || env.Message != "take a seat first" {
		t.Fatalf("unexpected envelope %+v", env)
	}
}
