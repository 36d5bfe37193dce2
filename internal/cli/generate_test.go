package cli

import (
	"io"
	"math/rand"
	"path/filepath"
	"testing"
	"time"

	"github.com/SmitUplenchwar2687/bottlegate/internal/recorder"
)

func newTestGenerator(spamRate float64) *generator {
	return &generator{
		rng:       rand.New(rand.NewSource(1)),
		start:     epoch,
		addresses: []string{"198.51.100.1", "198.51.100.2"},
		wallets:   []string{"0xa"},
		spamRate:  spamRate,
	}
}

func TestGenerator_Patterns(t *testing.T) {
	for _, pattern := range []string{"steady", "burst", "ramp"} {
		t.Run(pattern, func(t *testing.T) {
			records := newTestGenerator(0).generate(40, 10*time.Minute, pattern)
			if len(records) != 40 {
				t.Fatalf("got %d records, want 40", len(records))
			}
			for _, r := range records {
				if r.Timestamp.Before(epoch) || !r.Timestamp.Before(epoch.Add(10*time.Minute)) {
					t.Errorf("timestamp %s outside the span", r.Timestamp)
				}
				if r.Wallet != "0xa" || r.Fields["wallet"] != "0xa" {
					t.Errorf("wallet = %q, want 0xa", r.Wallet)
				}
				if _, ok := r.Fields["hp"]; ok {
					t.Error("spam rate 0 should never fill the honeypot")
				}
			}
		})
	}
}

func TestGenerator_SpamRate(t *testing.T) {
	records := newTestGenerator(1).generate(10, time.Minute, "steady")
	for _, r := range records {
		if r.Fields["hp"] == "" {
			t.Fatal("spam rate 1 should fill every honeypot")
		}
	}
}

func TestGenerateCmd_WritesReplayableFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "submissions.json")
	cmd := NewRootCmd()
	cmd.SetOut(io.Discard)
	cmd.SetArgs([]string{"generate", "submissions", "--output", path, "--count", "12", "--addresses", "2"})
	if err := cmd.Execute(); err != nil {
		t.Fatal(err)
	}

	records, err := recorder.LoadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if len(records) != 12 {
		t.Errorf("loaded %d records, want 12", len(records))
	}
}
