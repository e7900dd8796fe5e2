// Package snote reconstructs client and k-line state from Solanum server
// notices, via an ordered, regexp-dispatched table of handlers plus the
// in-memory nick-to-cliconn and nick-to-pending-kline-mask indexes the
// correlation logic depends on.
package snote

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strconv"
	"time"

	"git.sr.ht/~kline/solaudit/internal/store"
)

// embeddedTag extracts `%tag` tokens from a free-form reason string.
var embeddedTag = regexp.MustCompile(`%(\S+)`)

// Compatibility with Solanum's notice wording is bit-exact. Some of these
// patterns are lax about `[`/`]` inside nicknames or hostnames; that
// matches what the ircd actually emits today, so they stay untightened.
var (
	reCliconn = regexp.MustCompile(
		`^\*\*\* Notice -- Client connecting: (?P<nick>\S+) \((?P<user>[^@]+)@(?P<host>\S+)\) \[(?P<ip>\S+)\] \S+ <(?P<account>\S+)> \[(?P<real>.*)\]$`)

	reCliexit = regexp.MustCompile(
		`^\*\*\* Notice -- Client exiting: (?P<nick>\S+) \((?P<user>[^@]+)@(?P<host>\S+)\) \[(?P<reason>.*)\] \[(?P<ip>\S+)\]$`)

	reNickchg = regexp.MustCompile(
		`^\*\*\* Notice -- Nick change: From (?P<old>\S+) to (?P<new>\S+) \[\S+\]$`)

	reKlineadd = regexp.MustCompile(
		`^\*\*\* Notice -- (?P<source>[^{]+)\{(?P<oper>[^}]+)\} added (?:temporary|global) (?P<duration>\d+) min\. K-Line for \[(?P<mask>\S+)\] \[(?P<reason>.*)\]$`)

	reKlinedel = regexp.MustCompile(
		`^\*\*\* Notice -- (?P<source>[^{]+)\{(?P<oper>[^}]+)\} has removed the (?:temporary|global) K-Line for: \[(?P<mask>\S+)\]$`)

	reKlineexit = regexp.MustCompile(
		`^\*\*\* Notice -- Disconnecting K-Lined user (?P<nick>\S+)\[[^\]]+\] \((?P<mask>\S+)\)$`)

	reKlinerej = regexp.MustCompile(
		`^\*\*\* Notice -- Rejecting K-Lined user (?P<nick>\S+)\[(?P<user>[^\]@]+)@(?P<host>[^\]]+)\] \[(?P<ip>\S+)\] \((?P<mask>\S+)\)$`)

	reNetsplit = regexp.MustCompile(
		`^\*\*\* Notice -- Netsplit (?P<server1>\S+) <-> (?P<server2>\S+) \((?P<reason>.*)\)$`)

	reNetjoin = regexp.MustCompile(
		`^\*\*\* Notice -- Netjoin (?P<server1>\S+) <-> (?P<server2>\S+) \((?P<duration>.*)\)$`)
)

// cliconnEntry is what the nick→cliconn index remembers per connected
// user — enough to fill in a later cliexit/kline-kill row without a
// round trip to the store.
type cliconnEntry struct {
	id       int64
	username string
	hostname string
	server   string
}

// LinksRefresher and UsersRefresher are the netjoin resync hooks; in
// production these are irc.Conn.Links and irc.Conn.MaskTrace, kept as
// plain function types here so this package stays free of an irc import.
type LinksRefresher func(ctx context.Context) ([]string, error)
type UsersRefresher func(ctx context.Context, mask string) ([]string, error)

// Parser holds the in-memory indexes and dispatches incoming snote text to
// the first matching handler. Handle must only ever be called from the
// single IRC reader goroutine; none of the index mutations here are
// synchronised.
type Parser struct {
	store      *store.Store
	log        *slog.Logger
	rejectCap  int
	onKlineNew func(ctx context.Context, klineID int64)

	refreshLinks LinksRefresher
	refreshUsers UsersRefresher

	cliconns         map[string]cliconnEntry
	klineWaitingExit map[string]string
	links            map[string][]string
	userServer       map[string]string
}

// New builds a Parser. onKlineNew is called after every successful
// klineadd insert, so the log/nag surface can react; it may be nil.
func New(st *store.Store, log *slog.Logger, rejectCap int, onKlineNew func(context.Context, int64), refreshLinks LinksRefresher, refreshUsers UsersRefresher) *Parser {
	if log == nil {
		log = slog.Default()
	}
	return &Parser{
		store:            st,
		log:              log,
		rejectCap:        rejectCap,
		onKlineNew:       onKlineNew,
		refreshLinks:     refreshLinks,
		refreshUsers:     refreshUsers,
		cliconns:         map[string]cliconnEntry{},
		klineWaitingExit: map[string]string{},
		links:            map[string][]string{},
		userServer:       map[string]string{},
	}
}

// namedGroups turns a regexp match into a name->value map.
func namedGroups(re *regexp.Regexp, m []string) map[string]string {
	out := make(map[string]string, len(m))
	for i, name := range re.SubexpNames() {
		if i == 0 || name == "" {
			continue
		}
		out[name] = m[i]
	}
	return out
}

// Handle dispatches one snote's message text (the text after the "*"
// target) to the first matching handler, in a fixed order: cliconn,
// cliexit, nickchg, klineadd, klinedel, klineexit, klinerej, netsplit,
// netjoin. An unrecognised snote is silently ignored.
func (p *Parser) Handle(ctx context.Context, server, text string, ts time.Time) error {
	type entry struct {
		re *regexp.Regexp
		fn func(context.Context, string, map[string]string, time.Time) error
	}
	table := []entry{
		{reCliconn, p.handleCliconn},
		{reCliexit, p.handleCliexit},
		{reNickchg, p.handleNickchg},
		{reKlineadd, p.handleKlineadd},
		{reKlinedel, p.handleKlinedel},
		{reKlineexit, p.handleKlineexit},
		{reKlinerej, p.handleKlinerej},
		{reNetsplit, p.handleNetsplit},
		{reNetjoin, p.handleNetjoin},
	}
	for _, e := range table {
		m := e.re.FindStringSubmatch(text)
		if m == nil {
			continue
		}
		groups := namedGroups(e.re, m)
		if err := e.fn(ctx, server, groups, ts); err != nil {
			p.log.Warn("snote: handler failed", "server", server, "err", err)
			return err
		}
		p.log.Debug("snote: dispatched", "server", server)
		return nil
	}
	return nil
}

func absent(s, sentinel string) string {
	if s == sentinel {
		return ""
	}
	return s
}

func (p *Parser) handleCliconn(ctx context.Context, server string, g map[string]string, ts time.Time) error {
	ip := absent(g["ip"], "0")
	account := absent(g["account"], "*")

	id, err := p.store.InsertCliconn(ctx, g["nick"], g["user"], g["real"], g["host"], account, ip, server, ts)
	if err != nil {
		return fmt.Errorf("snote: cliconn: %w", err)
	}
	p.cliconns[g["nick"]] = cliconnEntry{id: id, username: g["user"], hostname: g["host"], server: server}
	p.userServer[g["nick"]] = server
	return nil
}

func (p *Parser) handleCliexit(ctx context.Context, server string, g map[string]string, ts time.Time) error {
	ip := absent(g["ip"], "0")

	var cliconnID int64
	if entry, ok := p.cliconns[g["nick"]]; ok {
		cliconnID = entry.id
		delete(p.cliconns, g["nick"])
	}
	delete(p.userServer, g["nick"])

	if _, err := p.store.InsertCliexit(ctx, cliconnID, g["nick"], g["user"], g["host"], ip, g["reason"], ts); err != nil {
		return fmt.Errorf("snote: cliexit: %w", err)
	}

	mask, waiting := p.klineWaitingExit[g["nick"]]
	if !waiting {
		return nil
	}
	delete(p.klineWaitingExit, g["nick"])

	klineID, ok, err := p.store.FindActive(ctx, mask)
	if err != nil {
		return fmt.Errorf("snote: cliexit find_active: %w", err)
	}
	if !ok {
		return nil
	}
	if _, err := p.store.InsertKLineKill(ctx, klineID, g["nick"], g["user"], g["host"], ip, ts); err != nil {
		return fmt.Errorf("snote: cliexit kline_kill: %w", err)
	}
	return nil
}

func (p *Parser) handleNickchg(ctx context.Context, server string, g map[string]string, ts time.Time) error {
	entry, ok := p.cliconns[g["old"]]
	if !ok {
		return nil
	}
	delete(p.cliconns, g["old"])
	p.cliconns[g["new"]] = entry
	delete(p.userServer, g["old"])
	p.userServer[g["new"]] = entry.server

	return p.store.InsertNickChange(ctx, entry.id, g["new"], ts)
}

func (p *Parser) handleKlineexit(ctx context.Context, server string, g map[string]string, ts time.Time) error {
	// The IP is only available from the cliexit snote that follows, so we
	// just remember the mask here and emit the kill from handleCliexit.
	p.klineWaitingExit[g["nick"]] = g["mask"]
	return nil
}

func (p *Parser) handleKlinerej(ctx context.Context, server string, g map[string]string, ts time.Time) error {
	ip := absent(g["ip"], "0")

	klineID, ok, err := p.store.FindActive(ctx, g["mask"])
	if err != nil {
		return fmt.Errorf("snote: klinerej find_active: %w", err)
	}
	if !ok {
		return nil
	}
	if _, err := p.store.InsertKLineReject(ctx, klineID, g["nick"], g["user"], g["host"], ip, ts, p.rejectCap); err != nil {
		return fmt.Errorf("snote: klinerej: %w", err)
	}
	return nil
}

func (p *Parser) handleKlineadd(ctx context.Context, server string, g map[string]string, ts time.Time) error {
	durationMin, err := strconv.Atoi(g["duration"])
	if err != nil {
		return fmt.Errorf("snote: klineadd duration: %w", err)
	}

	oldID, hadOld, err := p.store.FindActive(ctx, g["mask"])
	if err != nil {
		return fmt.Errorf("snote: klineadd find_active: %w", err)
	}

	klineID, err := p.store.InsertKLine(ctx, g["mask"], g["source"], g["oper"], durationMin*60, g["reason"], ts)
	if err != nil {
		return fmt.Errorf("snote: klineadd: %w", err)
	}

	if p.onKlineNew != nil {
		p.onKlineNew(ctx, klineID)
	}

	for _, tm := range embeddedTag.FindAllStringSubmatch(g["reason"], -1) {
		if err := p.store.InsertKLineTag(ctx, klineID, tm[1], g["source"], g["oper"], ts); err != nil {
			return fmt.Errorf("snote: klineadd tag: %w", err)
		}
	}

	if hadOld {
		if err := p.store.ReassignKills(ctx, oldID, klineID); err != nil {
			return fmt.Errorf("snote: klineadd reassign: %w", err)
		}
	}
	return nil
}

func (p *Parser) handleKlinedel(ctx context.Context, server string, g map[string]string, ts time.Time) error {
	klineID, ok, err := p.store.FindActive(ctx, g["mask"])
	if err != nil {
		return fmt.Errorf("snote: klinedel find_active: %w", err)
	}
	if !ok {
		return nil
	}
	return p.store.InsertKLineRemove(ctx, klineID, g["source"], g["oper"], ts)
}

func (p *Parser) handleNetsplit(ctx context.Context, server string, g map[string]string, ts time.Time) error {
	far := g["server2"]
	unreachable := p.reachableThrough(far)
	for srv := range unreachable {
		delete(p.links, srv)
	}
	for nick, srv := range p.userServer {
		if srv == far || unreachable[srv] {
			delete(p.userServer, nick)
			delete(p.cliconns, nick)
		}
	}
	return nil
}

// reachableThrough returns root plus every server reachable from it in
// the links graph. handleNetjoin fills the graph with server names only
// and no edges, so in practice the set is just root: a netsplit evicts
// the users on the split server itself, not those on servers behind it.
func (p *Parser) reachableThrough(root string) map[string]bool {
	seen := map[string]bool{root: true}
	queue := []string{root}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		for _, child := range p.links[cur] {
			if !seen[child] {
				seen[child] = true
				queue = append(queue, child)
			}
		}
	}
	return seen
}

func (p *Parser) handleNetjoin(ctx context.Context, server string, g map[string]string, ts time.Time) error {
	if p.refreshLinks != nil {
		servers, err := p.refreshLinks(ctx)
		if err != nil {
			return fmt.Errorf("snote: netjoin links refresh: %w", err)
		}
		links := map[string][]string{}
		for _, s := range servers {
			links[s] = nil
		}
		p.links = links
	}
	if p.refreshUsers != nil {
		nicks, err := p.refreshUsers(ctx, "*")
		if err != nil {
			return fmt.Errorf("snote: netjoin users refresh: %w", err)
		}
		// The trace is authoritative: anything we remember that the server
		// no longer reports is gone, split-exit snotes or not.
		present := make(map[string]bool, len(nicks))
		for _, n := range nicks {
			present[n] = true
		}
		for nick := range p.cliconns {
			if !present[nick] {
				delete(p.cliconns, nick)
				delete(p.userServer, nick)
			}
		}
	}
	return nil
}
