package identity

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newExtractor(t *testing.T, cfg ExtractorConfig) *Extractor {
	t.Helper()
	e, err := NewExtractor(cfg)
	require.NoError(t, err)
	return e
}

func TestExtract_AddressOnlyWithoutWallet(t *testing.T) {
	e := newExtractor(t, ExtractorConfig{})

	ids := e.Extract(Request{RemoteAddr: "203.0.113.7:51234"})
	require.Len(t, ids, 1)
	assert.Equal(t, SourceAddress("203.0.113.7"), ids[0])
}

func TestExtract_WalletAddsIdentity(t *testing.T) {
	e := newExtractor(t, ExtractorConfig{})

	ids := e.Extract(Request{RemoteAddr: "203.0.113.7:51234", Wallet: "W1"})
	require.Len(t, ids, 2)
	assert.Equal(t, KindSourceAddress, ids[0].Kind())
	assert.Equal(t, Wallet("W1"), ids[1])
}

func TestExtract_WalletNotNormalized(t *testing.T) {
	e := newExtractor(t, ExtractorConfig{})

	a := e.Extract(Request{RemoteAddr: "203.0.113.7:1", Wallet: "Wallet"})
	b := e.Extract(Request{RemoteAddr: "203.0.113.7:1", Wallet: "wallet"})
	assert.NotEqual(t, a[1], b[1], "wallet identities are case-sensitive")
}

func TestExtract_Deterministic(t *testing.T) {
	e := newExtractor(t, ExtractorConfig{TrustedProxies: []string{"10.0.0.0/8"}})
	req := Request{
		RemoteAddr: "10.0.0.5:443",
		Wallet:     "W9",
		Header:     http.Header{"X-Forwarded-For": []string{"198.51.100.4"}},
	}

	first := e.Extract(req)
	for i := 0; i < 10; i++ {
		assert.Equal(t, first, e.Extract(req))
	}
}

func TestExtract_ForwardedHeaderIgnoredFromUntrustedPeer(t *testing.T) {
	e := newExtractor(t, ExtractorConfig{TrustedProxies: []string{"10.0.0.0/8"}})

	ids := e.Extract(Request{
		RemoteAddr: "203.0.113.7:1000",
		Header:     http.Header{"X-Forwarded-For": []string{"198.51.100.4"}},
	})
	assert.Equal(t, SourceAddress("203.0.113.7"), ids[0])
}

func TestExtract_ForwardedHeaderIgnoredWithoutTrustedProxies(t *testing.T) {
	e := newExtractor(t, ExtractorConfig{})

	ids := e.Extract(Request{
		RemoteAddr: "10.0.0.5:1000",
		Header:     http.Header{"X-Forwarded-For": []string{"198.51.100.4"}},
	})
	assert.Equal(t, SourceAddress("10.0.0.5"), ids[0])
}

func TestExtract_WalksChainFromRight(t *testing.T) {
	e := newExtractor(t, ExtractorConfig{TrustedProxies: []string{"10.0.0.0/8", "192.168.1.1"}})

	ids := e.Extract(Request{
		RemoteAddr: "10.0.0.5:1000",
		Header:     http.Header{"X-Forwarded-For": []string{"1.1.1.1, 198.51.100.4, 192.168.1.1"}},
	})
	// 1.1.1.1 is client-supplied and must not be believed.
	assert.Equal(t, SourceAddress("198.51.100.4"), ids[0])
}

func TestExtract_CustomHeader(t *testing.T) {
	e := newExtractor(t, ExtractorConfig{
		TrustedProxies:  []string{"127.0.0.1"},
		ForwardedHeader: "X-Real-IP",
	})

	ids := e.Extract(Request{
		RemoteAddr: "127.0.0.1:1000",
		Header:     http.Header{"X-Real-Ip": []string{"198.51.100.9"}},
	})
	assert.Equal(t, SourceAddress("198.51.100.9"), ids[0])
}

func TestExtract_IPv6PrefixGrouping(t *testing.T) {
	e := newExtractor(t, ExtractorConfig{IPv6PrefixLength: 64})

	a := e.Extract(Request{RemoteAddr: "[2001:db8:1:2::10]:443"})[0]
	b := e.Extract(Request{RemoteAddr: "[2001:db8:1:2:ffff::1]:443"})[0]
	c := e.Extract(Request{RemoteAddr: "[2001:db8:1:3::10]:443"})[0]

	assert.Equal(t, a, b, "same /64 must share an identity")
	assert.NotEqual(t, a, c, "different /64 must not share an identity")
}

func TestExtract_IPv6CanonicalForm(t *testing.T) {
	e := newExtractor(t, ExtractorConfig{})

	a := e.Extract(Request{RemoteAddr: "[2001:DB8:0:0::1]:443"})[0]
	b := e.Extract(Request{RemoteAddr: "[2001:db8::1]:80"})[0]
	assert.Equal(t, a, b)
}

func TestExtract_UnparseablePeerKeptVerbatim(t *testing.T) {
	e := newExtractor(t, ExtractorConfig{})

	assert.Equal(t, SourceAddress("pipe"), e.Extract(Request{RemoteAddr: "pipe"})[0])
	assert.Equal(t, SourceAddress("unknown"), e.Extract(Request{})[0])
}

func TestClientIP_IgnoresPrefixGrouping(t *testing.T) {
	e := newExtractor(t, ExtractorConfig{IPv6PrefixLength: 64})

	r := Request{RemoteAddr: "[2001:db8:1:2::10]:443"}
	assert.Equal(t, "2001:db8:1:2::10", e.ClientIP(r))
	assert.NotEqual(t, e.ClientIP(r), e.Extract(r)[0].Value())
	assert.Equal(t, "", e.ClientIP(Request{RemoteAddr: "pipe"}))
}

func TestNewExtractor_RejectsBadConfig(t *testing.T) {
	_, err := NewExtractor(ExtractorConfig{TrustedProxies: []string{"not-an-ip"}})
	assert.Error(t, err)

	_, err = NewExtractor(ExtractorConfig{IPv6PrefixLength: 129})
	assert.Error(t, err)
}
