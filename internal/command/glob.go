package command

import (
	"net"
	"strconv"

	"git.sr.ht/~kline/solaudit/internal/search"
)

// likePattern runs the full search pipeline on an operator-typed query:
// lex the glob syntax first (so `?`/`*` are marked as Symbol parts before
// any casefolding touches them), normalise per field kind, then translate
// to a Postgres LIKE pattern. GlobToSQL must run after Normalise.
func likePattern(query string, kind search.FieldKind) string {
	cs := search.LexGlobPattern(query)
	cs = search.Normalise(cs, kind)
	cs = search.GlobToSQL(cs)
	return search.ToLikePattern(cs)
}

// ipQueryKind disambiguates an ip-type kcheck query: a CIDR (an exact
// address is turned into a /32 or /128 and probed as one) or a glob.
// classifyIPQuery returns ipExact only alongside a parse error.
type ipQueryKind int

const (
	ipExact ipQueryKind = iota
	ipCIDR
	ipGlob
)

// classifyIPQuery disambiguates an `ip`-type query into address / CIDR /
// glob, returning the canonical CIDR string for the first two cases.
func classifyIPQuery(query string) (kind ipQueryKind, cidr string, err error) {
	if search.LooksLikeGlob(query) {
		return ipGlob, "", nil
	}
	if _, ipnet, err := net.ParseCIDR(query); err == nil {
		return ipCIDR, ipnet.String(), nil
	}
	if ip := net.ParseIP(query); ip != nil {
		bits := 32
		if ip.To4() == nil {
			bits = 128
		}
		return ipCIDR, ip.String() + "/" + strconv.Itoa(bits), nil
	}
	return ipExact, "", parseErrorf("not a valid ip address, CIDR, or glob: %q", query)
}

// dedupeInt64 preserves first-seen order while dropping duplicate ids,
// used after unioning multiple table probes.
func dedupeInt64(ids ...[]int64) []int64 {
	seen := map[int64]bool{}
	var out []int64
	for _, group := range ids {
		for _, id := range group {
			if seen[id] {
				continue
			}
			seen[id] = true
			out = append(out, id)
		}
	}
	return out
}
