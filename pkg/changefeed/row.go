package changefeed

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"unicode/utf8"
)

// ErrDecode marks a row whose key or value can not be decoded. It is fatal:
// skipping the row would let a later checkpoint move past it.
var ErrDecode = errors.New("changefeed: decode row")

// Row is one row of the changefeed result set: ChangeRow, CheckpointRow or
// UnknownRow.
type Row interface {
	isRow()
}

// ChangeRow is a row-level mutation.
type ChangeRow struct {
	Table string
	Key   []byte
	// Value is nil for key-only envelopes.
	Value []byte
}

// CheckpointRow is a resolved watermark.
type CheckpointRow struct {
	Value []byte
}

// UnknownRow is any other shape. It ends the current subscription attempt.
type UnknownRow struct{}

func (ChangeRow) isRow()     {}
func (CheckpointRow) isRow() {}
func (UnknownRow) isRow()    {}

// Classify maps the raw (table, key, value) columns to a Row. NULL columns
// are nil.
func Classify(table *string, key, value []byte, envelope Envelope) Row {
	switch {
	case table != nil && key != nil && value != nil:
		return ChangeRow{Table: *table, Key: key, Value: value}
	case table != nil && key != nil && envelope == EnvelopeKeyOnly:
		return ChangeRow{Table: *table, Key: key}
	case table == nil && key == nil && value != nil:
		return CheckpointRow{Value: value}
	default:
		return UnknownRow{}
	}
}

// Message is the JSON document forwarded to the broker.
type Message struct {
	Key   string          `json:"key"`
	Value json.RawMessage `json:"value"`
}

// Decode validates the change and returns the broker payload together with
// the change's `updated` timestamp, empty when the value carries none.
func (r ChangeRow) Decode() (payload []byte, updated string, err error) {
	if !utf8.Valid(r.Key) {
		return nil, "", fmt.Errorf("%w: invalid key encoding", ErrDecode)
	}

	msg := Message{Key: string(r.Key), Value: json.RawMessage("null")}
	if r.Value != nil {
		if !json.Valid(r.Value) {
			return nil, "", fmt.Errorf("%w: invalid value encoding", ErrDecode)
		}
		msg.Value = r.Value
		updated = updatedField(r.Value)
	}

	payload, err = json.Marshal(msg)
	if err != nil {
		return nil, "", fmt.Errorf("%w: %v", ErrDecode, err)
	}
	return payload, updated, nil
}

// updatedField returns value.updated when value is an object and updated a
// string.
func updatedField(value []byte) string {
	if v := bytes.TrimSpace(value); len(v) == 0 || v[0] != '{' {
		return ""
	}

	var doc map[string]json.RawMessage
	if err := json.Unmarshal(value, &doc); err != nil {
		return ""
	}

	var updated string
	if err := json.Unmarshal(doc["updated"], &updated); err != nil {
		return ""
	}
	return updated
}

// Resolved returns the checkpoint's watermark.
func (r CheckpointRow) Resolved() (string, error) {
	var res struct {
		Resolved string `json:"resolved"`
	}
	if err := json.Unmarshal(r.Value, &res); err != nil {
		return "", fmt.Errorf("%w: resolved: %v", ErrDecode, err)
	}
	if res.Resolved == "" {
		return "", fmt.Errorf("%w: resolved timestamp missing", ErrDecode)
	}
	return res.Resolved, nil
}
