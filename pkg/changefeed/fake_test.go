package changefeed

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"github.com/edgeflare/cfbridge/internal/testutil"
	"github.com/edgeflare/cfbridge/pkg/bus"
	"github.com/stretchr/testify/require"
)

type rawRow struct {
	table      *string
	key, value []byte
}

func change(table, key, value string) rawRow {
	return rawRow{table: &table, key: []byte(key), value: []byte(value)}
}

func keyOnly(table, key string) rawRow {
	return rawRow{table: &table, key: []byte(key)}
}

func checkpoint(resolved string) rawRow {
	return rawRow{value: []byte(`{"resolved":"` + resolved + `"}`)}
}

// fakeRows replays rows, then reports err (nil means end of result set).
type fakeRows struct {
	rows   []rawRow
	err    error
	cur    int
	closed bool
}

func (r *fakeRows) Next() bool {
	if r.cur >= len(r.rows) {
		return false
	}
	r.cur++
	return true
}

func (r *fakeRows) Scan(dest ...any) error {
	row := r.rows[r.cur-1]
	*dest[0].(**string) = row.table
	*dest[1].(*[]byte) = row.key
	*dest[2].(*[]byte) = row.value
	return nil
}

func (r *fakeRows) Err() error { return r.err }
func (r *fakeRows) Close()     { r.closed = true }

// attempt is one scripted subscription attempt.
type attempt struct {
	rows    []rawRow
	err     error // returned by Rows.Err
	openErr error // returned by Stream
}

// fakeSource plays attempts in order. Once the script is exhausted Stream
// blocks until ctx is done.
type fakeSource struct {
	mu       sync.Mutex
	attempts []attempt
	queries  []string
	drained  chan struct{}
}

func newFakeSource(attempts ...attempt) *fakeSource {
	return &fakeSource{attempts: attempts, drained: make(chan struct{})}
}

func (s *fakeSource) Stream(ctx context.Context, query string) (Rows, error) {
	s.mu.Lock()
	s.queries = append(s.queries, query)
	if len(s.attempts) == 0 {
		select {
		case <-s.drained:
		default:
			close(s.drained)
		}
		s.mu.Unlock()
		<-ctx.Done()
		return nil, ctx.Err()
	}
	a := s.attempts[0]
	s.attempts = s.attempts[1:]
	s.mu.Unlock()

	if a.openErr != nil {
		return nil, a.openErr
	}
	return &fakeRows{rows: a.rows, err: a.err}, nil
}

func (s *fakeSource) Queries() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.queries...)
}

// recorder is a Sender that keeps every event.
type recorder struct {
	mu     sync.Mutex
	events []bus.Event
	err    error
}

func (r *recorder) Send(e bus.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	r.events = append(r.events, e)
	return nil
}

func (r *recorder) Events() []bus.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]bus.Event(nil), r.events...)
}

type getterFunc func(ctx context.Context, table string) (string, bool, error)

func (f getterFunc) Get(ctx context.Context, table string) (string, bool, error) {
	return f(ctx, table)
}

func noCursor() CursorGetter {
	return getterFunc(func(context.Context, string) (string, bool, error) { return "", false, nil })
}

var errBoom = errors.New("boom")

// fixtureRows loads internal/testutil/changefeed.json.
func fixtureRows(t *testing.T) (string, []rawRow) {
	var fixture struct {
		Table string `json:"table"`
		Rows  []struct {
			Table *string         `json:"table"`
			Key   *string         `json:"key"`
			Value json.RawMessage `json:"value"`
		} `json:"rows"`
	}
	require.NoError(t, testutil.LoadJSON("changefeed.json", &fixture))

	rows := make([]rawRow, 0, len(fixture.Rows))
	for _, r := range fixture.Rows {
		row := rawRow{table: r.Table}
		if r.Key != nil {
			row.key = []byte(*r.Key)
		}
		if r.Value != nil {
			row.value = []byte(r.Value)
		}
		rows = append(rows, row)
	}
	return fixture.Table, rows
}
