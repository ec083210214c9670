// Package codec defines the JSON wire envelopes spoken over the realtime
// gateway.
package codec

import (
	"encoding/json"
	"fmt"
	"time"

	"pokerhall/internal/broadcast"
	"pokerhall/internal/table"
)

// Client command types.
const (
	CmdSubscribe   = "subscribe"
	CmdUnsubscribe = "unsubscribe"
	CmdAction      = "action"
	CmdChat        = "chat"
)

// Server message types.
const (
	MsgEvent    = "event"
	MsgSnapshot = "snapshot"
	MsgError    = "error"
	MsgAck      = "ack"
)

// ClientEnvelope is one inbound command.
type ClientEnvelope struct {
	Cmd     string `json:"cmd"`
	TableID string `json:"table_id"`
	Action  string `json:"action,omitempty"`
	Amount  int64  `json:"amount,omitempty"`
	Text    string `json:"text,omitempty"`
}

func DecodeClient(data []byte) (ClientEnvelope, error) {
	var env ClientEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return ClientEnvelope{}, fmt.Errorf("malformed envelope: %w", err)
	}
	switch env.Cmd {
	case CmdSubscribe, CmdUnsubscribe, CmdAction, CmdChat:
	default:
		return ClientEnvelope{}, fmt.Errorf("unknown command %q", env.Cmd)
	}
	if env.TableID == "" {
		return ClientEnvelope{}, fmt.Errorf("missing table_id for %q", env.Cmd)
	}
	return env, nil
}

// ServerEnvelope is one outbound message. Exactly one of Event, Snapshot and
// Error is set, keyed by Type.
type ServerEnvelope struct {
	Type     string           `json:"type"`
	TableID  string           `json:"table_id,omitempty"`
	TsMs     int64            `json:"ts_ms"`
	Event    *broadcast.Event `json:"event,omitempty"`
	Snapshot *table.Snapshot  `json:"snapshot,omitempty"`
	Code     string           `json:"code,omitempty"`
	Message  string           `json:"message,omitempty"`
}

func stamp(env ServerEnvelope) []byte {
	if env.TsMs == 0 {
		env.TsMs = time.Now().UnixMilli()
	}
	data, err := json.Marshal(env)
	if err != nil {
		// Envelopes contain only marshalable fields.
		panic(err)
	}
	return data
}

func EncodeEvent(event broadcast.Event) []byte {
	return stamp(ServerEnvelope{Type: MsgEvent, TableID: event.TableID, Event: &event})
}

func EncodeSnapshot(snap table.Snapshot) []byte {
	return stamp(ServerEnvelope{Type: MsgSnapshot, TableID: snap.ID, Snapshot: &snap})
}

func EncodeError(tableID, code, message string) []byte {
	return stamp(ServerEnvelope{Type: MsgError, TableID: tableID, Code: code, Message: message})
}

func EncodeAck(tableID, cmd string) []byte {
	return stamp(ServerEnvelope{Type: MsgAck, TableID: tableID, Message: cmd})
}
