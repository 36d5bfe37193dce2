package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"testing"
	"time"

	"github.com/hashicorp/go-hclog"

	"github.com/SmitUplenchwar2687/bottlegate/internal/admission"
	"github.com/SmitUplenchwar2687/bottlegate/internal/clock"
	"github.com/SmitUplenchwar2687/bottlegate/internal/config"
	"github.com/SmitUplenchwar2687/bottlegate/internal/identity"
	"github.com/SmitUplenchwar2687/bottlegate/internal/quota"
)

var epoch = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

func newTestStack(t *testing.T, vc *clock.VirtualClock, burst uint64) *stack {
	t.Helper()
	cfg := config.Default()
	cfg.Limiters = []quota.Definition{
		{Name: "ip_burst", Scope: identity.KindSourceAddress, Window: time.Minute, Threshold: burst},
	}
	st, err := buildStack(context.Background(), cfg, vc, hclog.NewNullLogger())
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { st.Close() })
	return st
}

func TestRunSimulation_BurstThenRecovery(t *testing.T) {
	vc := clock.NewVirtualClock(epoch)
	st := newTestStack(t, vc, 5)

	result, err := runSimulation(context.Background(), st.pipeline, vc, scenario{
		addresses:   []string{"203.0.113.10"},
		requests:    10,
		batches:     2,
		fastForward: 16 * time.Minute,
	})
	if err != nil {
		t.Fatal(err)
	}

	if len(result.Batches) != 2 {
		t.Fatalf("expected 2 batches, got %d", len(result.Batches))
	}
	if result.FastForward != "16m0s" {
		t.Errorf("fast_forward = %q, want %q", result.FastForward, "16m0s")
	}
	if result.Batches[1].Time != epoch.Add(16*time.Minute).Format(time.RFC3339) {
		t.Errorf("second batch time = %s", result.Batches[1].Time)
	}

	// Per batch: 5 accepted, 3 over the burst (the third escalates), 2 blocked.
	s := result.Summary["203.0.113.10"]
	if s.Total != 20 || s.Accepted != 10 || s.Rejected != 10 {
		t.Errorf("summary = %+v, want 20 total, 10 accepted, 10 rejected", s)
	}
	if s.ByReason[admission.ReasonRateLimited] != 6 || s.ByReason[admission.ReasonDenylistActive] != 4 {
		t.Errorf("by reason = %v, want 6 rate_limited and 4 denylist_active", s.ByReason)
	}
}

func TestRunSimulation_NoFastForwardStaysBlocked(t *testing.T) {
	vc := clock.NewVirtualClock(epoch)
	st := newTestStack(t, vc, 5)

	result, err := runSimulation(context.Background(), st.pipeline, vc, scenario{
		addresses: []string{"203.0.113.10"},
		requests:  10,
		batches:   2,
	})
	if err != nil {
		t.Fatal(err)
	}
	for _, dr := range result.Batches[1].Decisions {
		if dr.Verdict.Reason != admission.ReasonDenylistActive {
			t.Fatalf("second batch verdict = %s, want denylist_active", dr.Verdict)
		}
	}
	if result.FastForward != "" {
		t.Errorf("fast_forward = %q, want empty", result.FastForward)
	}
}

func TestRunSimulation_Honeypot(t *testing.T) {
	vc := clock.NewVirtualClock(epoch)
	st := newTestStack(t, vc, 5)

	result, err := runSimulation(context.Background(), st.pipeline, vc, scenario{
		addresses: []string{"203.0.113.10", "203.0.113.11"},
		requests:  3,
		batches:   1,
		honeypot:  true,
	})
	if err != nil {
		t.Fatal(err)
	}

	for _, addr := range []string{"203.0.113.10", "203.0.113.11"} {
		s := result.Summary[addr]
		if s.ByReason[admission.ReasonHoneypotTriggered] != 1 || s.ByReason[admission.ReasonDenylistActive] != 2 {
			t.Errorf("%s: by reason = %v, want 1 honeypot_triggered and 2 denylist_active", addr, s.ByReason)
		}
	}
}

func TestRunSimulation_MultipleAddressesAreSeparate(t *testing.T) {
	vc := clock.NewVirtualClock(epoch)
	st := newTestStack(t, vc, 2)

	result, err := runSimulation(context.Background(), st.pipeline, vc, scenario{
		addresses: []string{"203.0.113.10", "203.0.113.11"},
		requests:  2,
		batches:   1,
	})
	if err != nil {
		t.Fatal(err)
	}
	for addr, s := range result.Summary {
		if s.Accepted != 2 {
			t.Errorf("%s: accepted = %d, want 2", addr, s.Accepted)
		}
	}
}

func TestRunSimulation_Invalid(t *testing.T) {
	vc := clock.NewVirtualClock(epoch)
	st := newTestStack(t, vc, 2)

	if _, err := runSimulation(context.Background(), st.pipeline, vc, scenario{requests: 1, batches: 1}); err == nil {
		t.Error("expected error without addresses")
	}
	if _, err := runSimulation(context.Background(), st.pipeline, vc, scenario{addresses: []string{"203.0.113.1"}, batches: 1}); err == nil {
		t.Error("expected error for zero requests")
	}
}

func TestPrintSimulation(t *testing.T) {
	vc := clock.NewVirtualClock(epoch)
	st := newTestStack(t, vc, 2)
	result, err := runSimulation(context.Background(), st.pipeline, vc, scenario{
		addresses:   []string{"203.0.113.10"},
		requests:    3,
		batches:     2,
		fastForward: time.Minute,
	})
	if err != nil {
		t.Fatal(err)
	}

	var buf bytes.Buffer
	printSimulation(&buf, &result)
	out := buf.String()
	for _, want := range []string{"Bottlegate Admission Simulation", "Summary", "203.0.113.10: 6 total"} {
		if !bytes.Contains([]byte(out), []byte(want)) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
}

func TestSimulateCmd_JSON(t *testing.T) {
	var out bytes.Buffer
	cmd := NewRootCmd()
	cmd.SetOut(&out)
	cmd.SetErr(io.Discard)
	cmd.SetArgs([]string{"simulate", "--requests", "3", "--batches", "1", "--json"})
	if err := cmd.Execute(); err != nil {
		t.Fatalf("simulate failed: %v", err)
	}

	var result SimulationResult
	if err := json.Unmarshal(out.Bytes(), &result); err != nil {
		t.Fatalf("invalid JSON output: %v\n%s", err, out.String())
	}
	if s := result.Summary["203.0.113.10"]; s.Accepted != 3 {
		t.Errorf("accepted = %d, want 3 under the default burst limit", s.Accepted)
	}
	if len(result.Limiters) != 5 {
		t.Errorf("limiters = %d, want the 5 defaults", len(result.Limiters))
	}
}
