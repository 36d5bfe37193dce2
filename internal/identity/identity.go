// Package identity derives the admission-relevant identities of a public
// submission: the address it came from and the wallet it credits.
package identity

import (
	"fmt"
	"sort"
	"strings"
)

// Kind tags an Identity.
type Kind string

const (
	KindSourceAddress Kind = "source_address"
	KindWallet        Kind = "wallet"
)

// Identity is an immutable rate-limiting key. Two identities are equal only
// when both kind and value match exactly (case-sensitive).
type Identity struct {
	kind  Kind
	value string
}

// SourceAddress returns the identity of a client network address.
func SourceAddress(addr string) Identity {
	return Identity{kind: KindSourceAddress, value: addr}
}

// Wallet returns the identity of a declared wallet id. The value is used
// verbatim; normalization is the caller's concern.
func Wallet(id string) Identity {
	return Identity{kind: KindWallet, value: id}
}

// Parse rebuilds an Identity from its kind name and value, as produced by
// Kind() and Value(). It is used by admin lookups and replayed logs.
func Parse(kind, value string) (Identity, error) {
	if value == "" {
		return Identity{}, fmt.Errorf("identity value is required")
	}
	switch Kind(kind) {
	case KindSourceAddress:
		return SourceAddress(value), nil
	case KindWallet:
		return Wallet(value), nil
	default:
		return Identity{}, fmt.Errorf("unknown identity kind %q", kind)
	}
}

func (id Identity) Kind() Kind     { return id.kind }
func (id Identity) Value() string  { return id.value }
func (id Identity) IsZero() bool   { return id.kind == "" }
func (id Identity) String() string { return string(id.kind) + ":" + id.value }

// Key is the storage key fragment for the identity. It keeps the kind so an
// address and a wallet with the same text never share counters.
func (id Identity) Key() string {
	switch id.kind {
	case KindSourceAddress:
		return "ip:" + id.value
	case KindWallet:
		return "wallet:" + id.value
	default:
		return "unknown:" + id.value
	}
}

// MarshalText encodes the identity as "kind:value" for logs and events.
func (id Identity) MarshalText() ([]byte, error) {
	return []byte(id.String()), nil
}

// UnmarshalText decodes the "kind:value" form written by MarshalText.
func (id *Identity) UnmarshalText(text []byte) error {
	kind, value, ok := strings.Cut(string(text), ":")
	if !ok {
		return fmt.Errorf("malformed identity %q", text)
	}
	parsed, err := Parse(kind, value)
	if err != nil {
		return err
	}
	*id = parsed
	return nil
}

func rank(k Kind) int {
	if k == KindSourceAddress {
		return 0
	}
	return 1
}

// Sort orders identities source address first, then wallets, stably.
// Address floods are then rejected before any wallet bookkeeping runs.
func Sort(ids []Identity) {
	sort.SliceStable(ids, func(i, j int) bool {
		return rank(ids[i].kind) < rank(ids[j].kind)
	})
}

// Find returns the first identity of kind k.
func Find(ids []Identity, k Kind) (Identity, bool) {
	for _, id := range ids {
		if id.kind == k {
			return id, true
		}
	}
	return Identity{}, false
}
