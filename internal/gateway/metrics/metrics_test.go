package metrics

import (
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/aussiebroadwan/b24gate/pkg/b24"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestRecordAuth(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.RecordAuth("bearer", "ok")
	c.RecordAuth("bearer", "ok")
	c.RecordAuth("install", "rejected")

	require.Equal(t, 2.0, testutil.ToFloat64(c.authOutcomes.WithLabelValues("bearer", "ok")))
	require.Equal(t, 1.0, testutil.ToFloat64(c.authOutcomes.WithLabelValues("install", "rejected")))
}

func TestObserveUpstreamOutcome(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.ObserveUpstream("batch", 20*time.Millisecond, nil)
	c.ObserveUpstream("batch", time.Second, b24.NewAPIError(http.StatusUnauthorized, b24.CodeInvalidToken, ""))
	c.ObserveUpstream("profile", time.Second, errors.New("dial tcp: refused"))

	require.Equal(t, 3, testutil.CollectAndCount(c.upstreamLatency))
}

func TestRenewalAndKeeperCounters(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.RecordRenewal("applied")
	c.RecordRenewal("failed")
	c.RecordKeeperRefresh("ok")

	require.Equal(t, 1.0, testutil.ToFloat64(c.renewals.WithLabelValues("failed")))
	require.Equal(t, 1.0, testutil.ToFloat64(c.keeperRefreshes.WithLabelValues("ok")))
}

func TestNilCollector(t *testing.T) {
	t.Parallel()

	var c *Collector
	require.NotPanics(t, func() {
		c.RecordAuth("bearer", "ok")
		c.ObserveUpstream("batch", time.Second, nil)
		c.RecordRenewal("applied")
		c.RecordKeeperRefresh("failed")
	})
}

func TestHandler(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	c := NewCollector(reg)
	c.RecordAuth("install", "ok")

	rec := httptest.NewRecorder()
	Handler(reg).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	require.Contains(t, string(body), `b24gate_auth_total{mode="install",result="ok"} 1`)
}
