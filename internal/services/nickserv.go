package services

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"git.sr.ht/~kline/solaudit/internal/dnsresolve"
	"git.sr.ht/~kline/solaudit/internal/store"
)

// EmailResolver is the subset of *dnsresolve.Resolver the NickServ parser
// needs, narrowed to an interface so tests can stub it without a live
// DNS server.
type EmailResolver interface {
	Resolve(ctx context.Context, emailDomain string) ([]dnsresolve.Record, error)
}

// NickServ tracks NickServ REGISTER/DROP/SET:ACCOUNTNAME/VERIFY:REGISTER
// notifications. It keeps an in-memory account -> registration id map,
// since DROP and SET:ACCOUNTNAME notices only ever carry the account
// name, not the registration row id.
type NickServ struct {
	store    *store.Store
	log      *slog.Logger
	resolver EmailResolver

	mu              sync.Mutex
	registrationIDs map[string]int64
}

// NewNickServ builds a NickServ parser. resolver may be nil, in which case
// REGISTER skips email-domain resolution entirely (useful in tests and
// when DNS egress is deliberately disabled).
func NewNickServ(st *store.Store, log *slog.Logger, resolver EmailResolver) *NickServ {
	if log == nil {
		log = slog.Default()
	}
	return &NickServ{
		store:           st,
		log:             log,
		resolver:        resolver,
		registrationIDs: map[string]int64{},
	}
}

// Handle parses one NickServ notification line and applies its effect.
// Lines that don't match the fixed grammar, or whose command isn't one of
// the four this bot tracks, are silently ignored.
func (n *NickServ) Handle(ctx context.Context, text string, ts time.Time) error {
	cmd, ok := Parse(text)
	if !ok {
		return nil
	}

	switch cmd.Name {
	case "REGISTER":
		return n.handleRegister(ctx, cmd, ts)
	case "DROP":
		return n.handleDrop(cmd)
	case "SET:ACCOUNTNAME":
		return n.handleSetAccountName(cmd)
	case "VERIFY:REGISTER":
		return n.handleVerifyRegister(ctx, cmd, ts)
	default:
		return nil
	}
}

func (n *NickServ) handleRegister(ctx context.Context, cmd Command, ts time.Time) error {
	account, email, ok := splitPrefix(cmd.Args, " to ")
	if !ok {
		n.log.Warn("nickserv: REGISTER args did not match 'account to email'", "args", cmd.Args)
		return nil
	}

	id, err := n.store.InsertRegistration(ctx, cmd.Nickname, account, email, ts)
	if err != nil {
		return fmt.Errorf("services: insert registration: %w", err)
	}

	n.mu.Lock()
	n.registrationIDs[account] = id
	n.mu.Unlock()

	if n.resolver == nil {
		return nil
	}

	domain := emailDomain(email)
	if domain == "" {
		return nil
	}

	// Resolution runs detached from the snote/service handling goroutine:
	// DNS round trips can take seconds, and nothing downstream blocks on
	// the result.
	go n.resolveEmail(context.WithoutCancel(ctx), id, domain)
	return nil
}

func (n *NickServ) resolveEmail(ctx context.Context, registrationID int64, domain string) {
	records, err := n.resolver.Resolve(ctx, domain)
	if err != nil {
		n.log.Warn("nickserv: email resolution failed", "domain", domain, "error", err)
		return
	}

	// The resolver's ParentIndex is an index into its own returned slice;
	// translate it into the email_resolve table's row-id parent linkage,
	// one insert at a time since RETURNING id is needed to resolve
	// children.
	rowIDs := make([]int64, len(records))
	for i, rec := range records {
		var parentRowID int64
		if rec.ParentIndex >= 0 {
			parentRowID = rowIDs[rec.ParentIndex]
		}
		rowID, err := n.store.InsertEmailResolve(ctx, registrationID, parentRowID, rec.Type, rec.Value)
		if err != nil {
			n.log.Warn("nickserv: insert email_resolve", "error", err)
			return
		}
		rowIDs[i] = rowID
	}
}

func (n *NickServ) handleDrop(cmd Command) error {
	account := cmd.Account
	if account == "" {
		account = strings.TrimSpace(cmd.Args)
	}
	n.mu.Lock()
	delete(n.registrationIDs, account)
	n.mu.Unlock()
	return nil
}

// handleSetAccountName rekeys the registration map: the parenthetical
// account on the notice is the old name, the argument body the new one.
func (n *NickServ) handleSetAccountName(cmd Command) error {
	oldName := cmd.Account
	newName := strings.TrimSpace(cmd.Args)
	if oldName == "" || newName == "" {
		return nil
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	if id, found := n.registrationIDs[oldName]; found {
		delete(n.registrationIDs, oldName)
		n.registrationIDs[newName] = id
	}
	return nil
}

func (n *NickServ) handleVerifyRegister(ctx context.Context, cmd Command, ts time.Time) error {
	account, _, ok := splitPrefix(cmd.Args, " ")
	if !ok {
		account = strings.TrimSpace(cmd.Args)
	}
	if account == "" {
		return nil
	}
	if err := n.store.VerifyRegistration(ctx, account, ts); err != nil {
		return fmt.Errorf("services: verify registration: %w", err)
	}
	return nil
}

func emailDomain(email string) string {
	_, domain, ok := splitPrefix(email, "@")
	if !ok {
		return ""
	}
	return domain
}
