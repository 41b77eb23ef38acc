package changefeed

import (
	"errors"
	"fmt"
	"strings"
	"time"

	pg "github.com/edgeflare/cfbridge/pkg/pgx"
)

// Envelope selects what a change row carries as value.
type Envelope string

const (
	// EnvelopeRow emits the full row.
	EnvelopeRow Envelope = "row"
	// EnvelopeKeyOnly emits the primary key only.
	EnvelopeKeyOnly Envelope = "key_only"
)

const (
	// DefaultStatement opens a sinkless changefeed on CockroachDB.
	DefaultStatement = "EXPERIMENTAL CHANGEFEED FOR"
	// DefaultResolved is the checkpoint cadence requested from the database.
	DefaultResolved = 10 * time.Second
)

var (
	ErrEmptyTable      = errors.New("changefeed: can not capture change feed without table name")
	ErrUnknownEnvelope = errors.New("changefeed: unknown envelope")
)

// ParseEnvelope parses a config value. Empty means EnvelopeRow.
func ParseEnvelope(s string) (Envelope, error) {
	switch Envelope(strings.ToLower(strings.TrimSpace(s))) {
	case "", EnvelopeRow:
		return EnvelopeRow, nil
	case EnvelopeKeyOnly, "keyonly", "key-only":
		return EnvelopeKeyOnly, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownEnvelope, s)
	}
}

// Options describe one changefeed subscription.
type Options struct {
	// Table is required. Dotted names are quoted per part.
	Table    string
	Envelope Envelope
	// Cursor resumes the feed after the given timestamp. Empty starts from
	// the beginning of the stream.
	Cursor string
	// Statement is the leading keyword phrase, DefaultStatement if empty.
	Statement string
	// Resolved is the checkpoint cadence, DefaultResolved if zero.
	Resolved time.Duration
}

// QueryString builds the subscription statement.
func (o Options) QueryString() (string, error) {
	if o.Table == "" {
		return "", ErrEmptyTable
	}

	statement := o.Statement
	if statement == "" {
		statement = DefaultStatement
	}
	resolved := o.Resolved
	if resolved <= 0 {
		resolved = DefaultResolved
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%s %s WITH updated, resolved='%s'", statement, pg.Identifier(o.Table), resolved)

	if o.Envelope == EnvelopeKeyOnly {
		b.WriteString(", envelope=key_only")
	}

	if o.Cursor != "" {
		fmt.Fprintf(&b, ", cursor='%s'", strings.ReplaceAll(o.Cursor, "'", "''"))
	}

	b.WriteString(";")
	return b.String(), nil
}
