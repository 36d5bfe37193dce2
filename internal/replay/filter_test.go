package replay

import (
	"testing"
	"time"

	"github.com/SmitUplenchwar2687/bottlegate/internal/recorder"
)

func TestFilter_Empty_MatchesAll(t *testing.T) {
	f := Filter{}
	r := recorder.SubmissionRecord{Timestamp: epoch, RemoteAddr: "192.0.2.1:1", Wallet: "w"}
	if !f.Match(r) {
		t.Error("empty filter should match all records")
	}
}

func TestFilter_Addresses(t *testing.T) {
	f := Filter{Addresses: []string{"192.0.2.1", "2001:db8:"}}

	if !f.Match(recorder.SubmissionRecord{RemoteAddr: "192.0.2.1:5000"}) {
		t.Error("should match 192.0.2.1")
	}
	if !f.Match(recorder.SubmissionRecord{RemoteAddr: "[2001:db8::1]:443"}) {
		t.Error("should match the IPv6 prefix")
	}
	if f.Match(recorder.SubmissionRecord{RemoteAddr: "198.51.100.1:1"}) {
		t.Error("should not match 198.51.100.1")
	}
}

func TestFilter_Wallets(t *testing.T) {
	f := Filter{Wallets: []string{"0xA"}}

	if !f.Match(recorder.SubmissionRecord{Wallet: "0xA"}) {
		t.Error("should match 0xA")
	}
	if f.Match(recorder.SubmissionRecord{Wallet: "0xa"}) {
		t.Error("wallet match must be exact")
	}
	if f.Match(recorder.SubmissionRecord{}) {
		t.Error("should not match a record without a wallet")
	}
}

func TestFilter_After(t *testing.T) {
	f := Filter{After: epoch.Add(5 * time.Minute)}

	if f.Match(recorder.SubmissionRecord{Timestamp: epoch}) {
		t.Error("should not match record before After")
	}
	if f.Match(recorder.SubmissionRecord{Timestamp: epoch.Add(5 * time.Minute)}) {
		t.Error("should not match record at exact After boundary")
	}
	if !f.Match(recorder.SubmissionRecord{Timestamp: epoch.Add(6 * time.Minute)}) {
		t.Error("should match record after After")
	}
}

func TestFilter_Before(t *testing.T) {
	f := Filter{Before: epoch.Add(5 * time.Minute)}

	if !f.Match(recorder.SubmissionRecord{Timestamp: epoch}) {
		t.Error("should match record before Before")
	}
	if f.Match(recorder.SubmissionRecord{Timestamp: epoch.Add(5 * time.Minute)}) {
		t.Error("should not match record at exact Before boundary")
	}
}

func TestFilter_Combined(t *testing.T) {
	f := Filter{
		Addresses: []string{"192.0.2.1"},
		Wallets:   []string{"0xA"},
		After:     epoch,
		Before:    epoch.Add(10 * time.Minute),
	}

	good := recorder.SubmissionRecord{Timestamp: epoch.Add(time.Minute), RemoteAddr: "192.0.2.1:1", Wallet: "0xA"}
	if !f.Match(good) {
		t.Error("should match all criteria")
	}

	bad := good
	bad.Wallet = "0xB"
	if f.Match(bad) {
		t.Error("should not match a different wallet")
	}
}
