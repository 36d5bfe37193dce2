package metrics

import (
	"io"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/SmitUplenchwar2687/bottlegate/internal/admission"
	"github.com/SmitUplenchwar2687/bottlegate/internal/denylist"
	"github.com/SmitUplenchwar2687/bottlegate/internal/identity"
)

func newCollector() *Collector {
	return New(Options{DisableCollectProcess: true, DisableCollectGo: true})
}

func TestCollector_CountsDecisions(t *testing.T) {
	c := newCollector()

	c.Observe(admission.Event{Verdict: admission.Verdict{Decision: admission.Accept}, Latency: time.Millisecond})
	c.Observe(admission.Event{Verdict: admission.Verdict{Decision: admission.Accept, Degraded: true}})
	c.Observe(admission.Event{Verdict: admission.Verdict{
		Decision: admission.Reject,
		Reason:   admission.ReasonRateLimited,
		Limiter:  "ip_burst",
	}})

	assert.Equal(t, 2.0, testutil.ToFloat64(c.decisions.WithLabelValues("accept", "", "")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.decisions.WithLabelValues("reject", "rate_limited", "ip_burst")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.degraded))
}

func TestCollector_CountsEscalations(t *testing.T) {
	c := newCollector()

	c.Observe(admission.Event{
		Verdict: admission.Verdict{Decision: admission.Reject, Reason: admission.ReasonRateLimited, Limiter: "ip_burst"},
		Escalation: &denylist.Entry{
			Identity: identity.SourceAddress("192.0.2.1"),
			Reason:   denylist.ReasonBurstExceeded,
			Level:    1,
		},
	})

	assert.Equal(t, 1.0, testutil.ToFloat64(c.escalations.WithLabelValues("source_address", "burst_exceeded")))
}

func TestCollector_Handler(t *testing.T) {
	c := newCollector()
	c.Observe(admission.Event{Verdict: admission.Verdict{Decision: admission.Accept}})

	rec := httptest.NewRecorder()
	c.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "bottlegate_admission_decisions_total")
	assert.Contains(t, string(body), "bottlegate_admission_duration_seconds_bucket")
}
