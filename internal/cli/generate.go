package cli

import (
	"fmt"
	"math/rand"
	"time"

	"github.com/spf13/cobra"

	"github.com/SmitUplenchwar2687/bottlegate/internal/config"
	"github.com/SmitUplenchwar2687/bottlegate/internal/recorder"
)

func newGenerateCmd() *cobra.Command {
	var (
		output    string
		count     int
		addresses int
		wallets   int
		duration  time.Duration
		pattern   string
		spamRate  float64
	)

	cmd := &cobra.Command{
		Use:   "generate",
		Short: "Generate sample submission files",
		Long: `Generates sample data for replay and threshold tuning.

Use "generate submissions" to create a sample submissions JSON file.`,
	}

	submissionsCmd := &cobra.Command{
		Use:   "submissions",
		Short: "Generate a sample submissions JSON file",
		Long: `Creates a submission file with configurable parameters.

Patterns:
  steady    Evenly distributed submissions
  burst     Concentrated bursts with quiet periods
  ramp      Gradually increasing submission rate`,
		Example: `  bottlegate generate submissions --output submissions.json --count 100 --addresses 5
  bottlegate generate submissions --output burst.json --count 200 --pattern burst --duration 10m --spam-rate 0.1`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if addresses <= 0 {
				return fmt.Errorf("--addresses must be positive")
			}
			if spamRate < 0 || spamRate > 1 {
				return fmt.Errorf("--spam-rate must be within [0, 1]")
			}
			g := generator{
				rng:      rand.New(rand.NewSource(time.Now().UnixNano())),
				start:    time.Now().UTC().Truncate(time.Second),
				spamRate: spamRate,
			}
			for i := 0; i < addresses; i++ {
				g.addresses = append(g.addresses, fmt.Sprintf("198.51.100.%d", i+1))
			}
			for i := 0; i < wallets; i++ {
				g.wallets = append(g.wallets, fmt.Sprintf("0x%040x", i+1))
			}

			rec := recorder.New(recorder.Options{})
			for _, r := range g.generate(count, duration, pattern) {
				rec.Record(r)
			}
			if err := rec.ExportFile(output); err != nil {
				return fmt.Errorf("writing records: %w", err)
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Generated %d submissions to %s\n", rec.Len(), output)
			fmt.Fprintf(out, "  Addresses: %d\n", addresses)
			fmt.Fprintf(out, "  Wallets:   %d\n", wallets)
			fmt.Fprintf(out, "  Duration:  %s\n", duration)
			fmt.Fprintf(out, "  Pattern:   %s\n", pattern)
			return nil
		},
	}

	submissionsCmd.Flags().StringVar(&output, "output", "submissions.json", "output file path")
	submissionsCmd.Flags().IntVar(&count, "count", 100, "number of submissions to generate")
	submissionsCmd.Flags().IntVar(&addresses, "addresses", 3, "number of distinct client addresses")
	submissionsCmd.Flags().IntVar(&wallets, "wallets", 3, "number of distinct wallets (0 = none)")
	submissionsCmd.Flags().DurationVar(&duration, "duration", 5*time.Minute, "time span for generated submissions")
	submissionsCmd.Flags().StringVar(&pattern, "pattern", "steady", "submission pattern (steady, burst, ramp)")
	submissionsCmd.Flags().Float64Var(&spamRate, "spam-rate", 0, "fraction of submissions that fill the honeypot")

	cmd.AddCommand(submissionsCmd)
	return cmd
}

func newInitCmd() *cobra.Command {
	var output string

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write an example config file",
		Long: `Writes an example config with the default limiters and denylist policy.
A .yaml or .yml extension produces YAML, anything else JSON.`,
		Example: `  bottlegate init
  bottlegate init --output bottlegate.json`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := config.WriteExample(output); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Generated example config at %s\n", output)
			return nil
		},
	}

	cmd.Flags().StringVar(&output, "output", "bottlegate.yaml", "output file path")
	return cmd
}

type generator struct {
	rng       *rand.Rand
	start     time.Time
	addresses []string
	wallets   []string
	spamRate  float64
}

func (g *generator) generate(count int, dur time.Duration, pattern string) []recorder.SubmissionRecord {
	if count <= 0 {
		return nil
	}
	if dur <= 0 {
		dur = time.Minute
	}
	switch pattern {
	case "burst":
		return g.burst(count, dur)
	case "ramp":
		return g.ramp(count, dur)
	default: // "steady"
		return g.steady(count, dur)
	}
}

func (g *generator) record(t time.Time) recorder.SubmissionRecord {
	r := recorder.SubmissionRecord{
		Timestamp:  t,
		RemoteAddr: fmt.Sprintf("%s:%d", g.addresses[g.rng.Intn(len(g.addresses))], 40000+g.rng.Intn(20000)),
		Fields: map[string]string{
			"name":      fmt.Sprintf("collector-%d", g.rng.Intn(1000)),
			"weight_kg": fmt.Sprintf("%.1f", 0.5+g.rng.Float64()*20),
		},
	}
	if len(g.wallets) > 0 {
		r.Wallet = g.wallets[g.rng.Intn(len(g.wallets))]
		r.Fields["wallet"] = r.Wallet
	}
	if g.spamRate > 0 && g.rng.Float64() < g.spamRate {
		r.Fields["hp"] = "http://spam.example"
	}
	return r
}

func (g *generator) steady(count int, dur time.Duration) []recorder.SubmissionRecord {
	interval := dur / time.Duration(count)
	records := make([]recorder.SubmissionRecord, count)
	for i := range records {
		records[i] = g.record(g.start.Add(time.Duration(i) * interval))
	}
	return records
}

func (g *generator) burst(count int, dur time.Duration) []recorder.SubmissionRecord {
	records := make([]recorder.SubmissionRecord, 0, count)
	numBursts := 4
	burstSize := count / numBursts
	burstGap := dur / time.Duration(numBursts)

	for b := 0; b < numBursts; b++ {
		burstStart := g.start.Add(time.Duration(b) * burstGap)
		for i := 0; i < burstSize; i++ {
			offset := time.Duration(g.rng.Intn(1000)) * time.Millisecond
			records = append(records, g.record(burstStart.Add(offset)))
		}
	}

	for len(records) < count {
		records = append(records, g.record(g.start.Add(time.Duration(g.rng.Int63n(int64(dur))))))
	}
	return records
}

// ramp concentrates submissions towards the end of the span.
func (g *generator) ramp(count int, dur time.Duration) []recorder.SubmissionRecord {
	records := make([]recorder.SubmissionRecord, 0, count)
	for i := 0; i < count; i++ {
		frac := float64(i) / float64(count)
		records = append(records, g.record(g.start.Add(time.Duration(frac*frac*float64(dur)))))
	}
	return records
}
