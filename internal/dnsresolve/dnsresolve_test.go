package dnsresolve

import (
	"testing"

	"github.com/miekg/dns"
	"github.com/stretchr/testify/require"
)

func TestMxTargetForPrefersKnownTarget(t *testing.T) {
	targets := map[string]string{"10 mail.example.com.": "mail.example.com."}
	require.Equal(t, "mail.example.com.", mxTargetFor("10 mail.example.com.", targets))
}

func TestMxTargetForFallsBackToTrimmedFormatted(t *testing.T) {
	require.Equal(t, "mail.example.com", mxTargetFor("mail.example.com.", nil))
}

func TestNewResolverConfiguresLimiter(t *testing.T) {
	r := NewResolver("127.0.0.1:53", 10, 5)
	require.NotNil(t, r.limiter)
	require.Equal(t, "127.0.0.1:53", r.server)
}

func TestQueryTypeToStringRoundTrip(t *testing.T) {
	// Sanity check that the dns package's type table has the entries
	// Resolve relies on to label records (MX/A/AAAA/TXT).
	require.Equal(t, "MX", dns.TypeToString[dns.TypeMX])
	require.Equal(t, "A", dns.TypeToString[dns.TypeA])
	require.Equal(t, "AAAA", dns.TypeToString[dns.TypeAAAA])
	require.Equal(t, "TXT", dns.TypeToString[dns.TypeTXT])
}
