package replay

import (
	"net"
	"strings"
	"time"

	"github.com/SmitUplenchwar2687/bottlegate/internal/recorder"
)

// Filter defines criteria for selecting submission records during replay.
type Filter struct {
	Addresses []string  // Only include these source hosts or host prefixes (empty = all)
	Wallets   []string  // Only include these wallets (empty = all)
	After     time.Time // Only include records after this time (zero = no limit)
	Before    time.Time // Only include records before this time (zero = no limit)
}

// Match returns true if the record passes the filter.
func (f *Filter) Match(r recorder.SubmissionRecord) bool {
	if len(f.Addresses) > 0 && !matchAddress(f.Addresses, host(r.RemoteAddr)) {
		return false
	}
	if len(f.Wallets) > 0 && !contains(f.Wallets, r.Wallet) {
		return false
	}
	if !f.After.IsZero() && !r.Timestamp.After(f.After) {
		return false
	}
	if !f.Before.IsZero() && !r.Timestamp.Before(f.Before) {
		return false
	}
	return true
}

func contains(ss []string, s string) bool {
	for _, v := range ss {
		if v == s {
			return true
		}
	}
	return false
}

func matchAddress(patterns []string, addr string) bool {
	for _, p := range patterns {
		if p == addr || strings.HasPrefix(addr, p) {
			return true
		}
	}
	return false
}

func host(remoteAddr string) string {
	if h, _, err := net.SplitHostPort(remoteAddr); err == nil {
		return h
	}
	return remoteAddr
}
