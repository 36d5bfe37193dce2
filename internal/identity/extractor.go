package identity

import (
	"fmt"
	"net"
	"net/http"
	"strings"

	"github.com/seancfoley/ipaddress-go/ipaddr"
)

const defaultForwardedHeader = "X-Forwarded-For"

// Request is the raw material identities are extracted from.
type Request struct {
	RemoteAddr string      // peer address, "host:port" or bare host
	Wallet     string      // declared wallet field, may be empty
	Header     http.Header // optional auxiliary headers
}

// ExtractorConfig configures address resolution.
type ExtractorConfig struct {
	// TrustedProxies lists addresses or CIDR blocks whose forwarding header
	// is believed. Empty means the peer address is always the client.
	TrustedProxies []string `json:"trusted_proxies" yaml:"trusted_proxies"`
	// ForwardedHeader names the header carrying the client chain.
	ForwardedHeader string `json:"forwarded_header" yaml:"forwarded_header"`
	// IPv6PrefixLength groups IPv6 clients into one identity per prefix
	// (e.g. 64). Zero keeps full addresses.
	IPv6PrefixLength int `json:"ipv6_prefix_length" yaml:"ipv6_prefix_length"`
}

// Extractor derives the identities of a submission.
type Extractor struct {
	header     string
	v6Prefix   int
	trustedV4  *ipaddr.IPv4AddressTrie
	trustedV6  *ipaddr.IPv6AddressTrie
	hasTrusted bool
}

// NewExtractor builds an Extractor. Invalid trusted proxy entries are an error.
func NewExtractor(cfg ExtractorConfig) (*Extractor, error) {
	if cfg.IPv6PrefixLength < 0 || cfg.IPv6PrefixLength > 128 {
		return nil, fmt.Errorf("ipv6_prefix_length must be within 0..128, got %d", cfg.IPv6PrefixLength)
	}

	e := &Extractor{
		header:    cfg.ForwardedHeader,
		v6Prefix:  cfg.IPv6PrefixLength,
		trustedV4: &ipaddr.IPv4AddressTrie{},
		trustedV6: &ipaddr.IPv6AddressTrie{},
	}
	if e.header == "" {
		e.header = defaultForwardedHeader
	}

	for _, entry := range cfg.TrustedProxies {
		addr, err := ipaddr.NewIPAddressString(strings.TrimSpace(entry)).ToAddress()
		if err != nil || addr == nil {
			return nil, fmt.Errorf("invalid trusted proxy %q: %v", entry, err)
		}
		if addr.IsIPv4() {
			e.trustedV4.Add(addr.ToIPv4())
		} else if addr.IsIPv6() {
			e.trustedV6.Add(addr.ToIPv6())
		} else {
			return nil, fmt.Errorf("invalid trusted proxy %q", entry)
		}
		e.hasTrusted = true
	}

	return e, nil
}

// Extract returns the identities to check for r: always the source
// address, plus the wallet when the field is non-empty. The result is
// deterministic and ordered address first.
func (e *Extractor) Extract(r Request) []Identity {
	ids := []Identity{SourceAddress(e.clientAddress(r))}
	if r.Wallet != "" {
		ids = append(ids, Wallet(r.Wallet))
	}
	return ids
}

// ClientIP returns the resolved client address without IPv6 prefix
// grouping, or "" when the peer address is not an IP.
func (e *Extractor) ClientIP(r Request) string {
	addr, _ := e.resolve(r)
	if addr == nil {
		return ""
	}
	return addr.ToCanonicalString()
}

func (e *Extractor) clientAddress(r Request) string {
	addr, raw := e.resolve(r)
	if addr == nil {
		if raw == "" {
			return "unknown"
		}
		return raw
	}
	return e.canonical(addr)
}

// resolve finds the client address. The forwarding header is only
// consulted when the peer is a trusted proxy; the chain is walked from the
// right and the first untrusted hop is the client.
func (e *Extractor) resolve(r Request) (*ipaddr.IPAddress, string) {
	peer := hostOnly(r.RemoteAddr)
	peerAddr := parse(peer)
	if peerAddr == nil {
		return nil, peer
	}

	if e.hasTrusted && r.Header != nil && e.trusted(peerAddr) {
		hops := strings.Split(strings.Join(r.Header.Values(e.header), ","), ",")
		for i := len(hops) - 1; i >= 0; i-- {
			hop := parse(hostOnly(strings.TrimSpace(hops[i])))
			if hop == nil {
				break
			}
			if !e.trusted(hop) {
				return hop, ""
			}
			peerAddr = hop
		}
	}

	return peerAddr, ""
}

func (e *Extractor) trusted(addr *ipaddr.IPAddress) bool {
	if addr.IsIPv4() {
		return e.trustedV4.ElementContains(addr.ToIPv4())
	}
	if addr.IsIPv6() {
		return e.trustedV6.ElementContains(addr.ToIPv6())
	}
	return false
}

func (e *Extractor) canonical(addr *ipaddr.IPAddress) string {
	if addr.IsIPv6() && e.v6Prefix > 0 {
		return addr.ToPrefixBlockLen(e.v6Prefix).ToCanonicalString()
	}
	return addr.ToCanonicalString()
}

func parse(s string) *ipaddr.IPAddress {
	if s == "" {
		return nil
	}
	addr, err := ipaddr.NewIPAddressString(s).ToAddress()
	if err != nil || addr == nil || !(addr.IsIPv4() || addr.IsIPv6()) {
		return nil
	}
	return addr
}

func hostOnly(s string) string {
	if host, _, err := net.SplitHostPort(s); err == nil {
		return host
	}
	return strings.Trim(s, "[]")
}
