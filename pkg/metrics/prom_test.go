package metrics

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func freeAddr(t *testing.T) string {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer l.Close()
	return l.Addr().String()
}

func TestStartPrometheusServer(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	var wg sync.WaitGroup

	addr := freeAddr(t)
	StartPrometheusServer(ctx, &wg, &PromServerOpts{Addr: addr, Logger: zaptest.NewLogger(t)})

	ChangesForwarded.WithLabelValues("prom_test").Inc()

	var body string
	require.Eventually(t, func() bool {
		resp, err := http.Get(fmt.Sprintf("http://%s/metrics", addr))
		if err != nil {
			return false
		}
		defer resp.Body.Close()
		b, err := io.ReadAll(resp.Body)
		if err != nil {
			return false
		}
		body = string(b)
		return resp.StatusCode == http.StatusOK
	}, 5*time.Second, 50*time.Millisecond)

	assert.Contains(t, body, `cfbridge_changes_forwarded_total{table="prom_test"} 1`)

	cancel()
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(10 * time.Second):
		t.Fatal("metrics server did not stop")
	}
}

func TestCounters(t *testing.T) {
	before := testutil.ToFloat64(CursorsSaved.WithLabelValues("counters_test"))
	CursorsSaved.WithLabelValues("counters_test").Inc()
	assert.Equal(t, before+1, testutil.ToFloat64(CursorsSaved.WithLabelValues("counters_test")))
}
