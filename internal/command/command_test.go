package command

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"git.sr.ht/~kline/solaudit/internal/store"
)

// newTestStore mirrors internal/store's own integration-test helper: a
// throwaway Postgres database configured via the same PG* environment
// variables, skipped when none is reachable.
func newTestStore(t *testing.T) *store.Store {
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
		t.Skipf("command: no test database available: %v", err)
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

func TestDispatchSilentWithoutOperTag(t *testing.T) {
	d := New(newTestStore(t), nil)
	lines := d.Dispatch(context.Background(), "jess", false, "help")
	require.Nil(t, lines)
}

func TestDispatchSilentOnUnknownCommand(t *testing.T) {
	d := New(newTestStore(t), nil)
	lines := d.Dispatch(context.Background(), "jess", true, "frobnicate everything")
	require.Nil(t, lines)
}

func TestDispatchHelpListsCommands(t *testing.T) {
	d := New(newTestStore(t), nil)
	lines := d.Dispatch(context.Background(), "jess", true, "help")
	require.Len(t, lines, 1)
	require.Contains(t, lines[0], "kcheck")
}

func TestDispatchKcheckEndToEnd(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	ts := time.Now().UTC()

	klineID, err := st.InsertKLine(ctx, "*@1.2.3.4", "jess!m@host", "jess", 300, "spam %spam", ts)
	require.NoError(t, err)
	_, err = st.InsertKLineReject(ctx, klineID, "bob", "b", "host", "1.2.3.4", ts, 3)
	require.NoError(t, err)
	require.NoError(t, st.InsertKLineRemove(ctx, klineID, "jess!m@host", "jess", ts.Add(time.Minute)))

	d := New(st, nil)
	lines := d.Dispatch(ctx, "jess", true, fmt.Sprintf("kcheck id %d", klineID))
	require.NotEmpty(t, lines)
	require.Contains(t, lines[0], "*@1.2.3.4")

	joined := ""
	for _, l := range lines {
		joined += l + "\n"
	}
	require.Contains(t, joined, "spam")
	require.Contains(t, joined, "affected: bob!b@host")
	require.Contains(t, joined, "removed by jess")
}

func TestDispatchKtagAndUnktag(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	klineID, err := st.InsertKLine(ctx, "*@5.5.5.5", "jess!m@host", "jess", 300, "spam", time.Now().UTC())
	require.NoError(t, err)

	d := New(st, nil)
	lines := d.Dispatch(ctx, "jess", true, fmt.Sprintf("ktag %d abuse", klineID))
	require.Len(t, lines, 1)
	require.Contains(t, lines[0], "tagged")

	lines = d.Dispatch(ctx, "jess", true, fmt.Sprintf("unktag %d abuse", klineID))
	require.Len(t, lines, 1)
	require.Contains(t, lines[0], "untagged")
}

func TestDispatchKtagUnknownKlineIsNotFound(t *testing.T) {
	d := New(newTestStore(t), nil)
	lines := d.Dispatch(context.Background(), "jess", true, "ktag 999999 abuse")
	require.Len(t, lines, 1)
	require.Contains(t, lines[0], "not found")
}

func TestDispatchPrefRoundTrip(t *testing.T) {
	d := New(newTestStore(t), nil)
	ctx := context.Background()

	lines := d.Dispatch(ctx, "jess", true, "pref statsp")
	require.Len(t, lines, 1)
	require.Contains(t, lines[0], "default")

	lines = d.Dispatch(ctx, "jess", true, "pref statsp false")
	require.Len(t, lines, 1)
	require.Contains(t, lines[0], "false")

	lines = d.Dispatch(ctx, "jess", true, "pref statsp")
	require.Len(t, lines, 1)
	require.NotContains(t, lines[0], "default")
}

func TestDispatchPrefUnknownKey(t *testing.T) {
	d := New(newTestStore(t), nil)
	lines := d.Dispatch(context.Background(), "jess", true, "pref bogus")
	require.Len(t, lines, 1)
	require.Contains(t, lines[0], "not found")
}

func TestDispatchFreezeAndUnfreeze(t *testing.T) {
	d := New(newTestStore(t), nil)
	ctx := context.Background()

	lines := d.Dispatch(ctx, "jess", true, "freeze baduser abuse %spam")
	require.Len(t, lines, 1)
	require.Contains(t, lines[0], "froze")

	lines = d.Dispatch(ctx, "jess", true, "freeze baduser abuse %spam")
	require.Contains(t, lines[0], "already frozen")

	lines = d.Dispatch(ctx, "jess", true, "unfreeze baduser")
	require.Contains(t, lines[0], "unfroze")

	lines = d.Dispatch(ctx, "jess", true, "unfreeze baduser")
	require.Contains(t, lines[0], "not found")
}

func TestDispatchEvalTabulates(t *testing.T) {
	d := New(newTestStore(t), nil)
	lines := d.Dispatch(context.Background(), "jess", true, "eval \"select 1 as one, 2 as two\"")
	require.Len(t, lines, 2)
	require.Contains(t, lines[0], "one")
}

func TestDispatchEvalSurfacesStoreError(t *testing.T) {
	d := New(newTestStore(t), nil)
	lines := d.Dispatch(context.Background(), "jess", true, "eval \"not valid sql\"")
	require.Len(t, lines, 1)
	require.Contains(t, lines[0], "store error")
}
