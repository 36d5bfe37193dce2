package cli

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/SmitUplenchwar2687/bottlegate/internal/clock"
	"github.com/SmitUplenchwar2687/bottlegate/internal/counter"
	"github.com/SmitUplenchwar2687/bottlegate/internal/quota"
	"github.com/SmitUplenchwar2687/bottlegate/internal/replay"
)

func newReplayCmd(g *globalOptions) *cobra.Command {
	var (
		file       string
		speed      float64
		addresses  []string
		wallets    []string
		limits     []string
		outputJSON bool
	)

	cmd := &cobra.Command{
		Use:   "replay",
		Short: "Replay recorded submissions through the admission pipeline",
		Long: `Replays previously recorded submissions through a fresh pipeline with
speed control.

Records are replayed in timestamp order. The virtual clock advances
to match the time gaps between records, so quotas and denylist blocks
behave exactly as they would in production. Use --limit to try other
thresholds against the same traffic.

Speed: 0 = instant, 1 = real-time, 10 = 10x, 100 = 100x`,
		Example: `  bottlegate replay --file submissions.json
  bottlegate replay --file submissions.json --limit ip_burst=10 --limit wallet_daily=30
  bottlegate replay --file submissions.json --addresses 203.0.113. --json`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if file == "" {
				return fmt.Errorf("--file is required")
			}

			cfg, logger, err := g.load(cmd)
			if err != nil {
				return err
			}
			if err := applyLimitOverrides(cfg.Limiters, limits); err != nil {
				return err
			}
			cfg.Storage.Backend = counter.BackendMemory
			cfg.Captcha.Required = false
			cfg.Captcha.Secret = ""
			if err := cfg.Validate(); err != nil {
				return err
			}

			vc := clock.NewVirtualClock(time.Unix(0, 0).UTC())
			st, err := buildStack(cmd.Context(), cfg, vc, logger)
			if err != nil {
				return err
			}
			defer st.Close()

			r := replay.New(st.pipeline, vc, replay.Options{
				Speed:           speed,
				Filter:          replay.Filter{Addresses: addresses, Wallets: wallets},
				ForwardedHeader: cfg.Identity.ForwardedHeader,
			})
			if err := r.LoadFile(file); err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if !outputJSON {
				fmt.Fprintf(out, "Replaying %s at %.0fx speed...\n\n", file, speed)
			}

			var results []replay.Result
			summary, err := r.Run(cmd.Context(), func(res replay.Result) {
				if outputJSON {
					results = append(results, res)
					return
				}
				fmt.Fprintf(out, "  %s %-22s %s\n",
					res.Time.Format("15:04:05"),
					res.Record.RemoteAddr,
					res.Verdict)
			})
			if err != nil {
				return err
			}

			if outputJSON {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(map[string]interface{}{
					"results": results,
					"summary": summary,
				})
			}

			fmt.Fprintln(out)
			fmt.Fprintln(out, "--- Replay Summary ---")
			fmt.Fprintf(out, "  Total records:  %d\n", summary.TotalRecords)
			fmt.Fprintf(out, "  Filtered:       %d\n", summary.Filtered)
			fmt.Fprintf(out, "  Replayed:       %d\n", summary.Replayed)
			fmt.Fprintf(out, "  Accepted:       %d\n", summary.Accepted)
			fmt.Fprintf(out, "  Rejected:       %d\n", summary.Rejected)
			fmt.Fprintf(out, "  Virtual time:   %s\n", summary.Duration)
			fmt.Fprintf(out, "  Wall time:      %s\n", summary.WallDuration.Round(time.Millisecond))

			if len(summary.ByReason) > 0 {
				fmt.Fprintln(out)
				fmt.Fprintln(out, "  By reason:")
				for reason, n := range summary.ByReason {
					fmt.Fprintf(out, "    %s: %d\n", reason, n)
				}
			}

			if len(summary.PerAddress) > 1 {
				fmt.Fprintln(out)
				fmt.Fprintln(out, "  Per address:")
				addrs := make([]string, 0, len(summary.PerAddress))
				for a := range summary.PerAddress {
					addrs = append(addrs, a)
				}
				sort.Strings(addrs)
				for _, a := range addrs {
					ks := summary.PerAddress[a]
					fmt.Fprintf(out, "    %s: %d accepted, %d rejected\n", a, ks.Accepted, ks.Rejected)
				}
			}

			if summary.Rejected > 0 && summary.Accepted > 0 {
				fmt.Fprintln(out)
				fmt.Fprintln(out, strings.Repeat("=", 50))
				rate := float64(summary.Rejected) / float64(summary.Replayed) * 100
				fmt.Fprintf(out, "Reject rate: %.1f%% (%d/%d submissions rejected)\n", rate, summary.Rejected, summary.Replayed)
				fmt.Fprintln(out, strings.Repeat("=", 50))
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&file, "file", "", "path to recorded submissions (JSON array or NDJSON, required)")
	cmd.Flags().Float64Var(&speed, "speed", 0, "replay speed (0=instant, 1=real-time, 10=10x)")
	cmd.Flags().StringSliceVar(&addresses, "addresses", nil, "filter by client address or address prefix")
	cmd.Flags().StringSliceVar(&wallets, "wallets", nil, "filter by wallet id")
	cmd.Flags().StringArrayVar(&limits, "limit", nil, "override a limiter threshold as name=threshold (repeatable)")
	cmd.Flags().BoolVar(&outputJSON, "json", false, "output results as JSON")

	return cmd
}

// applyLimitOverrides sets thresholds from name=threshold pairs.
func applyLimitOverrides(defs []quota.Definition, overrides []string) error {
	for _, o := range overrides {
		name, value, ok := strings.Cut(o, "=")
		if !ok || name == "" {
			return fmt.Errorf("invalid --limit %q: want name=threshold", o)
		}
		n, err := strconv.ParseUint(value, 10, 64)
		if err != nil || n == 0 {
			return fmt.Errorf("invalid --limit %q: threshold must be a positive integer", o)
		}
		found := false
		for i := range defs {
			if defs[i].Name == name {
				defs[i].Threshold = n
				found = true
			}
		}
		if !found {
			return fmt.Errorf("invalid --limit %q: no limiter named %q", o, name)
		}
	}
	return nil
}
