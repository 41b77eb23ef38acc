package changefeed

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestQueryString(t *testing.T) {
	tests := []struct {
		name string
		opts Options
		want string
	}{
		{
			name: "row envelope without cursor",
			opts: Options{Table: "orders"},
			want: `EXPERIMENTAL CHANGEFEED FOR "orders" WITH updated, resolved='10s';`,
		},
		{
			name: "key only",
			opts: Options{Table: "orders", Envelope: EnvelopeKeyOnly},
			want: `EXPERIMENTAL CHANGEFEED FOR "orders" WITH updated, resolved='10s', envelope=key_only;`,
		},
		{
			name: "cursor",
			opts: Options{Table: "orders", Cursor: "1573847262.0000000000"},
			want: `EXPERIMENTAL CHANGEFEED FOR "orders" WITH updated, resolved='10s', cursor='1573847262.0000000000';`,
		},
		{
			name: "key only with cursor",
			opts: Options{Table: "orders", Envelope: EnvelopeKeyOnly, Cursor: "101.0"},
			want: `EXPERIMENTAL CHANGEFEED FOR "orders" WITH updated, resolved='10s', envelope=key_only, cursor='101.0';`,
		},
		{
			name: "custom statement and cadence",
			opts: Options{Table: "shop.orders", Statement: "SUBSCRIBE CHANGES FOR", Resolved: 30 * time.Second},
			want: `SUBSCRIBE CHANGES FOR "shop"."orders" WITH updated, resolved='30s';`,
		},
		{
			name: "unquoted names fold to lower case",
			opts: Options{Table: "Shop.Orders"},
			want: `EXPERIMENTAL CHANGEFEED FOR "shop"."orders" WITH updated, resolved='10s';`,
		},
		{
			name: "quoted name keeps its case",
			opts: Options{Table: `"Orders"`},
			want: `EXPERIMENTAL CHANGEFEED FOR "Orders" WITH updated, resolved='10s';`,
		},
		{
			name: "cursor quoting",
			opts: Options{Table: "orders", Cursor: "1'; DROP TABLE orders; --"},
			want: `EXPERIMENTAL CHANGEFEED FOR "orders" WITH updated, resolved='10s', cursor='1''; DROP TABLE orders; --';`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := tt.opts.QueryString()
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)

			// deterministic
			again, err := tt.opts.QueryString()
			require.NoError(t, err)
			assert.Equal(t, got, again)
		})
	}
}

func TestQueryStringEmptyTable(t *testing.T) {
	_, err := Options{Cursor: "1"}.QueryString()
	assert.ErrorIs(t, err, ErrEmptyTable)
}

func TestParseEnvelope(t *testing.T) {
	for in, want := range map[string]Envelope{
		"":         EnvelopeRow,
		"row":      EnvelopeRow,
		"ROW":      EnvelopeRow,
		"key_only": EnvelopeKeyOnly,
		"key-only": EnvelopeKeyOnly,
	} {
		got, err := ParseEnvelope(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}

	_, err := ParseEnvelope("diff")
	assert.ErrorIs(t, err, ErrUnknownEnvelope)
}
