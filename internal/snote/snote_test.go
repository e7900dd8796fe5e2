package snote

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"git.sr.ht/~kline/solaudit/internal/store"
)

// newTestStoreForSnote mirrors internal/store's own test helper (same
// PGHOST/PGPORT/PGUSER/PGPASSWORD/PGSSLMODE environment variables), kept
// as a private duplicate since the store package's helper is unexported.
func newTestStoreForSnote(t *testing.T) *store.Store {
	t.Helper()

	host := envOr("PGHOST", "localhost")
	port := envOr("PGPORT", "5432")
	user := envOr("PGUSER", "postgres")
	password := os.Getenv("PGPASSWORD")
	sslmode := envOr("PGSSLMODE", "disable")
	dbname := envOr("SOLAUDIT_TEST_DB", "solaudit_test")

	dsn := fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		host, port, user, password, dbname, sslmode)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	st, err := store.Open(ctx, dsn)
	if err != nil {
		t.Skipf("snote: no test database available: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	require.NoError(t, st.Migrate(ctx))
	return st
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func TestEmbeddedTagExtractsAllTags(t *testing.T) {
	matches := embeddedTag.FindAllStringSubmatch("spamming %spam %abuse links", -1)
	require.Len(t, matches, 2)
	require.Equal(t, "spam", matches[0][1])
	require.Equal(t, "abuse", matches[1][1])
}

func TestCliconnPatternMatchesSolanumFormat(t *testing.T) {
	line := `*** Notice -- Client connecting: alice (a@h.example) [1.2.3.4] {licence} <*> [Alice A]`
	m := reCliconn.FindStringSubmatch(line)
	require.NotNil(t, m)
	g := namedGroups(reCliconn, m)
	require.Equal(t, "alice", g["nick"])
	require.Equal(t, "a", g["user"])
	require.Equal(t, "h.example", g["host"])
	require.Equal(t, "1.2.3.4", g["ip"])
	require.Equal(t, "*", g["account"])
	require.Equal(t, "Alice A", g["real"])
}

func TestKlineaddPatternAcceptsTemporaryAndGlobal(t *testing.T) {
	for _, scope := range []string{"temporary", "global"} {
		line := "*** Notice -- jess!meow@libera/staff/cat/jess{jess} added " + scope + " 5 min. K-Line for [*@1.2.3.4] [spam %spam]"
		m := reKlineadd.FindStringSubmatch(line)
		require.NotNil(t, m, scope)
		g := namedGroups(reKlineadd, m)
		require.Equal(t, "*@1.2.3.4", g["mask"])
		require.Equal(t, "5", g["duration"])
		require.Equal(t, "jess", g["oper"])
	}
}

// newTestParser wires a Parser against a real test database, exercising
// the full klineadd -> klinerej -> klinedel -> FindActive round trip.
func newTestParser(t *testing.T) (*Parser, *storeHandle) {
	t.Helper()
	st := newTestStoreForSnote(t)
	p := New(st, nil, 10, nil, nil, nil)
	return p, &storeHandle{st}
}

type storeHandle struct{ st *store.Store }

func TestScenarioKlineaddRejectDelete(t *testing.T) {
	p, h := newTestParser(t)
	ctx := context.Background()
	ts := time.Now().UTC()

	require.NoError(t, p.Handle(ctx, "irc.example", `*** Notice -- jess!meow@libera/staff/cat/jess{jess} added temporary 5 min. K-Line for [*@203.0.113.9] [spam %spam]`, ts))

	klineID, ok, err := h.st.FindActive(ctx, "*@203.0.113.9")
	require.NoError(t, err)
	require.True(t, ok)

	require.NoError(t, p.Handle(ctx, "irc.example", `*** Notice -- Rejecting K-Lined user bob[b@203.0.113.9] [203.0.113.9] (*@203.0.113.9)`, ts.Add(time.Second)))

	n, err := h.st.RejectCount(ctx, klineID, "203.0.113.9")
	require.NoError(t, err)
	require.Equal(t, 1, n)

	require.NoError(t, p.Handle(ctx, "irc.example", `*** Notice -- jess!meow@libera/staff/cat/jess{jess} has removed the temporary K-Line for: [*@203.0.113.9]`, ts.Add(2*time.Second)))

	_, ok, err = h.st.FindActive(ctx, "*@203.0.113.9")
	require.NoError(t, err)
	require.False(t, ok, "removed klines must no longer be active")
}

func TestScenarioCliconnNickchgKlineKill(t *testing.T) {
	p, h := newTestParser(t)
	ctx := context.Background()
	ts := time.Now().UTC()

	require.NoError(t, p.Handle(ctx, "irc.example", `*** Notice -- jess!meow@libera/staff/cat/jess{jess} added temporary 5 min. K-Line for [*@198.51.100.7] [abuse]`, ts))

	require.NoError(t, p.Handle(ctx, "irc.example", `*** Notice -- Client connecting: alice (a@h.example) [198.51.100.7] {licence} <*> [Alice A]`, ts))

	require.NoError(t, p.Handle(ctx, "irc.example", `*** Notice -- Nick change: From alice to alyce [a@h.example]`, ts.Add(time.Second)))

	require.NoError(t, p.Handle(ctx, "irc.example", `*** Notice -- Disconnecting K-Lined user alyce[a@h.example] (*@198.51.100.7)`, ts.Add(2*time.Second)))

	require.NoError(t, p.Handle(ctx, "irc.example", `*** Notice -- Client exiting: alyce (a@h.example) [Quit: *.net *.split] [198.51.100.7]`, ts.Add(3*time.Second)))

	_, hasPending := p.klineWaitingExit["alyce"]
	require.False(t, hasPending, "the pending kline-exit entry must be consumed by the matching cliexit")

	klineID, ok, err := h.st.FindActive(ctx, "*@198.51.100.7")
	require.NoError(t, err)
	require.True(t, ok)
	affected, err := h.st.GetAffected(ctx, klineID)
	require.NoError(t, err)
	require.NotEmpty(t, affected)
	require.Equal(t, "alyce", affected[0].Nickname)
}
