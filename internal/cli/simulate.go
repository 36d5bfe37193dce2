package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/SmitUplenchwar2687/bottlegate/internal/admission"
	"github.com/SmitUplenchwar2687/bottlegate/internal/clock"
	"github.com/SmitUplenchwar2687/bottlegate/internal/counter"
)

func newSimulateCmd(g *globalOptions) *cobra.Command {
	var (
		sc         scenario
		outputJSON bool
	)

	cmd := &cobra.Command{
		Use:   "simulate",
		Short: "Run admission scenarios with time travel",
		Long: `Runs submissions through the configured limiters and denylist policy
on a virtual clock, so hours of quota and block behavior can be checked
in seconds.

Each batch sends --requests submissions per address. Between batches
the clock is fast-forwarded, showing windows resetting and blocks
expiring or escalating. CAPTCHA checks are skipped and counters are
always kept in memory.`,
		Example: `  bottlegate simulate --requests 10
  bottlegate simulate --addresses 203.0.113.5,203.0.113.6 --wallet 0xabc --batches 3 --fast-forward 16m
  bottlegate simulate --config bottlegate.yaml --honeypot --json`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := g.load(cmd)
			if err != nil {
				return err
			}
			cfg.Storage.Backend = counter.BackendMemory
			cfg.Captcha.Required = false
			cfg.Captcha.Secret = ""
			if err := cfg.Validate(); err != nil {
				return err
			}

			vc := clock.NewVirtualClock(time.Now().UTC().Truncate(time.Minute))
			st, err := buildStack(cmd.Context(), cfg, vc, logger)
			if err != nil {
				return err
			}
			defer st.Close()

			result, err := runSimulation(cmd.Context(), st.pipeline, vc, sc)
			if err != nil {
				return err
			}
			for _, l := range cfg.Limiters {
				result.Limiters = append(result.Limiters, fmt.Sprintf("%s: %d per %s (%s)", l.Name, l.Threshold, l.Window, l.Scope))
			}

			if outputJSON {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(result)
			}
			printSimulation(cmd.OutOrStdout(), &result)
			return nil
		},
	}

	cmd.Flags().StringSliceVar(&sc.addresses, "addresses", []string{"203.0.113.10"}, "client addresses to submit from")
	cmd.Flags().StringVar(&sc.wallet, "wallet", "", "wallet id declared on every submission")
	cmd.Flags().IntVar(&sc.requests, "requests", 10, "submissions per address per batch")
	cmd.Flags().IntVar(&sc.batches, "batches", 2, "number of batches")
	cmd.Flags().DurationVar(&sc.fastForward, "fast-forward", 16*time.Minute, "time to fast-forward between batches")
	cmd.Flags().BoolVar(&sc.honeypot, "honeypot", false, "fill the honeypot field on the first submission")
	cmd.Flags().BoolVar(&outputJSON, "json", false, "output results as JSON")

	return cmd
}

type scenario struct {
	addresses   []string
	wallet      string
	requests    int
	batches     int
	fastForward time.Duration
	honeypot    bool
}

// SimulationResult captures the full output of a simulation.
type SimulationResult struct {
	Limiters    []string           `json:"limiters"`
	FastForward string             `json:"fast_forward,omitempty"`
	Batches     []BatchResult      `json:"batches"`
	Summary     map[string]Summary `json:"summary"`
}

// BatchResult captures verdicts for one batch of submissions.
type BatchResult struct {
	Label     string           `json:"label"`
	Time      string           `json:"time"`
	Decisions []DecisionRecord `json:"decisions"`
}

// DecisionRecord is one submission and its verdict.
type DecisionRecord struct {
	Address string            `json:"address"`
	Verdict admission.Verdict `json:"verdict"`
}

// Summary aggregates verdicts per address.
type Summary struct {
	Total    int                      `json:"total"`
	Accepted int                      `json:"accepted"`
	Rejected int                      `json:"rejected"`
	ByReason map[admission.Reason]int `json:"by_reason,omitempty"`
}

func runSimulation(ctx context.Context, p *admission.Pipeline, vc *clock.VirtualClock, sc scenario) (SimulationResult, error) {
	if len(sc.addresses) == 0 {
		return SimulationResult{}, fmt.Errorf("at least one address is required")
	}
	if sc.requests <= 0 || sc.batches <= 0 {
		return SimulationResult{}, fmt.Errorf("requests and batches must be positive")
	}

	result := SimulationResult{Summary: make(map[string]Summary)}
	if sc.batches > 1 && sc.fastForward > 0 {
		result.FastForward = sc.fastForward.String()
	}

	for b := 0; b < sc.batches; b++ {
		label := "Initial submissions"
		if b > 0 {
			vc.Advance(sc.fastForward)
			label = fmt.Sprintf("After fast-forward %s (batch %d)", sc.fastForward, b+1)
		}
		batch := BatchResult{Label: label, Time: vc.Now().Format(time.RFC3339)}

		for i := 0; i < sc.requests; i++ {
			for _, addr := range sc.addresses {
				fields := map[string]string{"name": "simulated", "weight_kg": "1"}
				if sc.honeypot && b == 0 && i == 0 {
					fields["hp"] = "filled"
				}
				v := p.Submit(ctx, admission.Submission{
					RemoteAddr: addr + ":40000",
					Wallet:     sc.wallet,
					Fields:     fields,
				})
				batch.Decisions = append(batch.Decisions, DecisionRecord{Address: addr, Verdict: v})

				s := result.Summary[addr]
				s.Total++
				if v.Accepted() {
					s.Accepted++
				} else {
					s.Rejected++
					if s.ByReason == nil {
						s.ByReason = make(map[admission.Reason]int)
					}
					s.ByReason[v.Reason]++
				}
				result.Summary[addr] = s
			}
		}
		result.Batches = append(result.Batches, batch)
	}
	return result, nil
}

func printSimulation(w io.Writer, r *SimulationResult) {
	fmt.Fprintln(w, "=== Bottlegate Admission Simulation ===")
	for _, l := range r.Limiters {
		fmt.Fprintf(w, "  limiter %s\n", l)
	}
	fmt.Fprintln(w)

	for _, batch := range r.Batches {
		fmt.Fprintf(w, "--- %s (at %s) ---\n", batch.Label, batch.Time)
		for i, dr := range batch.Decisions {
			fmt.Fprintf(w, "  #%03d %-15s %s\n", i+1, dr.Address, dr.Verdict)
		}
		fmt.Fprintln(w)
	}

	fmt.Fprintln(w, "--- Summary ---")
	addrs := make([]string, 0, len(r.Summary))
	for addr := range r.Summary {
		addrs = append(addrs, addr)
	}
	sort.Strings(addrs)
	for _, addr := range addrs {
		s := r.Summary[addr]
		fmt.Fprintf(w, "  %s: %d total, %d accepted, %d rejected\n", addr, s.Total, s.Accepted, s.Rejected)
		for reason, n := range s.ByReason {
			fmt.Fprintf(w, "    %s: %d\n", reason, n)
		}
	}

	if r.FastForward != "" {
		fmt.Fprintf(w, "\nTime travel: fast-forwarded %s between batches\n", r.FastForward)
	}

	recovered := false
	if len(r.Batches) > 1 {
		for _, dr := range r.Batches[len(r.Batches)-1].Decisions {
			if dr.Verdict.Accepted() {
				recovered = true
				break
			}
		}
	}
	rejected := false
	for _, s := range r.Summary {
		if s.Rejected > 0 {
			rejected = true
		}
	}
	if rejected && recovered {
		fmt.Fprintln(w)
		fmt.Fprintln(w, strings.Repeat("=", 50))
		fmt.Fprintln(w, "Submissions were rejected, then admitted again")
		fmt.Fprintln(w, "after fast-forwarding the clock.")
		fmt.Fprintln(w, strings.Repeat("=", 50))
	}
}
