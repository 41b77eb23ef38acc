package changefeed

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClassify(t *testing.T) {
	table := "orders"

	tests := []struct {
		name     string
		table    *string
		key      []byte
		value    []byte
		envelope Envelope
		want     Row
	}{
		{"change", &table, []byte("[1]"), []byte(`{}`), EnvelopeRow, ChangeRow{Table: "orders", Key: []byte("[1]"), Value: []byte(`{}`)}},
		{"checkpoint", nil, nil, []byte(`{"resolved":"1"}`), EnvelopeRow, CheckpointRow{Value: []byte(`{"resolved":"1"}`)}},
		{"key only change", &table, []byte("[1]"), nil, EnvelopeKeyOnly, ChangeRow{Table: "orders", Key: []byte("[1]")}},
		{"missing value with row envelope", &table, []byte("[1]"), nil, EnvelopeRow, UnknownRow{}},
		{"all null", nil, nil, nil, EnvelopeRow, UnknownRow{}},
		{"table without key", &table, nil, []byte(`{}`), EnvelopeRow, UnknownRow{}},
		{"key without table", nil, []byte("[1]"), []byte(`{}`), EnvelopeRow, UnknownRow{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Classify(tt.table, tt.key, tt.value, tt.envelope))
		})
	}
}

func TestChangeRowDecode(t *testing.T) {
	t.Run("row with updated", func(t *testing.T) {
		payload, updated, err := ChangeRow{
			Table: "orders",
			Key:   []byte("1"),
			Value: []byte(`{"updated":"100.0","amount":5}`),
		}.Decode()
		require.NoError(t, err)
		assert.Equal(t, "100.0", updated)
		assert.JSONEq(t, `{"key":"1","value":{"updated":"100.0","amount":5}}`, string(payload))
	})

	t.Run("without updated", func(t *testing.T) {
		payload, updated, err := ChangeRow{Key: []byte("[1]"), Value: []byte(`{"after":{"id":1}}`)}.Decode()
		require.NoError(t, err)
		assert.Empty(t, updated)
		assert.JSONEq(t, `{"key":"[1]","value":{"after":{"id":1}}}`, string(payload))
	})

	t.Run("non string updated", func(t *testing.T) {
		_, updated, err := ChangeRow{Key: []byte("1"), Value: []byte(`{"updated":100}`)}.Decode()
		require.NoError(t, err)
		assert.Empty(t, updated)
	})

	t.Run("non object value", func(t *testing.T) {
		payload, updated, err := ChangeRow{Key: []byte("1"), Value: []byte(`[1,2]`)}.Decode()
		require.NoError(t, err)
		assert.Empty(t, updated)
		assert.JSONEq(t, `{"key":"1","value":[1,2]}`, string(payload))
	})

	t.Run("key only", func(t *testing.T) {
		payload, _, err := ChangeRow{Key: []byte("[1]")}.Decode()
		require.NoError(t, err)
		assert.JSONEq(t, `{"key":"[1]","value":null}`, string(payload))
	})

	t.Run("invalid value", func(t *testing.T) {
		_, _, err := ChangeRow{Key: []byte("1"), Value: []byte(`{"updated":`)}.Decode()
		assert.ErrorIs(t, err, ErrDecode)
	})

	t.Run("invalid key", func(t *testing.T) {
		_, _, err := ChangeRow{Key: []byte{0xff, 0xfe}, Value: []byte(`{}`)}.Decode()
		assert.ErrorIs(t, err, ErrDecode)
	})
}

func TestCheckpointRowResolved(t *testing.T) {
	resolved, err := CheckpointRow{Value: []byte(`{"resolved":"101.0"}`)}.Resolved()
	require.NoError(t, err)
	assert.Equal(t, "101.0", resolved)

	_, err = CheckpointRow{Value: []byte(`{}`)}.Resolved()
	assert.ErrorIs(t, err, ErrDecode)

	_, err = CheckpointRow{Value: []byte(`not json`)}.Resolved()
	assert.ErrorIs(t, err, ErrDecode)
}
