// Package dnsresolve implements the recursive MX/A/AAAA/TXT/_dmarc.TXT
// resolution tree a NickServ REGISTER event triggers against the
// registered email's domain.
package dnsresolve

import (
	"context"
	"fmt"
	"strings"

	"github.com/miekg/dns"
	"golang.org/x/net/idna"
	"golang.org/x/time/rate"
)

// Record is one node of the resolution tree. ParentIndex is -1 for a root
// query (the domain's own MX/A/AAAA/TXT/_dmarc.TXT lookups); otherwise it
// is the index, into the same Resolve call's returned slice, of the MX
// record that produced this A/AAAA child.
type Record struct {
	ParentIndex int
	Type        string
	Value       string
}

// Resolver performs the recursive lookup, rate-limited so a burst of
// REGISTER snotes cannot fan out unbounded concurrent DNS traffic.
type Resolver struct {
	client  *dns.Client
	server  string
	limiter *rate.Limiter
}

// NewResolver builds a Resolver querying server (host:port) directly,
// allowing up to qps queries per second with the given burst.
func NewResolver(server string, qps float64, burst int) *Resolver {
	return &Resolver{
		client:  &dns.Client{},
		server:  server,
		limiter: rate.NewLimiter(rate.Limit(qps), burst),
	}
}

type pending struct {
	parentIndex int
	recordType  uint16
	name        string
}

// Resolve walks a fixed tree: MX, A, AAAA, TXT, and _dmarc.TXT rooted at
// emailDomain, then requeues A/AAAA lookups for every MX target
// discovered. A DNS failure on any one query is skipped, not fatal.
func (r *Resolver) Resolve(ctx context.Context, emailDomain string) ([]Record, error) {
	ascii, err := idna.ToASCII(emailDomain)
	if err != nil {
		return nil, fmt.Errorf("dnsresolve: punycode %q: %w", emailDomain, err)
	}

	queue := []pending{
		{-1, dns.TypeMX, ascii},
		{-1, dns.TypeA, ascii},
		{-1, dns.TypeAAAA, ascii},
		{-1, dns.TypeTXT, ascii},
		{-1, dns.TypeTXT, "_dmarc." + ascii},
	}

	var resolved []Record
	for len(queue) > 0 {
		q := queue[0]
		queue = queue[1:]

		values, mxTargets, err := r.query(ctx, q.name, q.recordType)
		if err != nil {
			continue
		}

		for _, v := range values {
			idx := len(resolved)
			resolved = append(resolved, Record{ParentIndex: q.parentIndex, Type: dns.TypeToString[q.recordType], Value: v})
			if q.recordType == dns.TypeMX {
				mxHost := mxTargetFor(v, mxTargets)
				queue = append(queue,
					pending{idx, dns.TypeA, mxHost},
					pending{idx, dns.TypeAAAA, mxHost},
				)
			}
		}
	}
	return resolved, nil
}

// mxTargetFor recovers the bare hostname behind an already-formatted MX
// value ("10 mail.example.com."); the dns library's MX.Mx field is what we
// actually want to re-query, carried separately since formatted values may
// include the preference number for readability in the stored record.
func mxTargetFor(formatted string, targets map[string]string) string {
	if host, ok := targets[formatted]; ok {
		return host
	}
	return strings.TrimSuffix(formatted, ".")
}

// query issues a single rate-limited DNS question and extracts the
// record's display value. For MX answers it also returns a map from the
// formatted value back to the bare target host, since Resolve needs to
// requeue A/AAAA lookups against the host, not the "pref host" string
// stored for operators to read.
func (r *Resolver) query(ctx context.Context, name string, qtype uint16) (values []string, mxTargets map[string]string, err error) {
	if err := r.limiter.Wait(ctx); err != nil {
		return nil, nil, err
	}

	msg := new(dns.Msg)
	msg.SetQuestion(dns.Fqdn(name), qtype)
	msg.RecursionDesired = true

	in, _, err := r.client.ExchangeContext(ctx, msg, r.server)
	if err != nil {
		return nil, nil, fmt.Errorf("dnsresolve: query %s %s: %w", name, dns.TypeToString[qtype], err)
	}

	mxTargets = map[string]string{}
	for _, ans := range in.Answer {
		switch rr := ans.(type) {
		case *dns.MX:
			formatted := fmt.Sprintf("%d %s", rr.Preference, rr.Mx)
			values = append(values, formatted)
			mxTargets[formatted] = rr.Mx
		case *dns.A:
			values = append(values, rr.A.String())
		case *dns.AAAA:
			values = append(values, rr.AAAA.String())
		case *dns.TXT:
			values = append(values, strings.Join(rr.Txt, ""))
		}
	}
	return values, mxTargets, nil
}
