package store

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// newTestStore connects to a throwaway Postgres database configured via
// the usual PGHOST/PGPORT/PGUSER/PGPASSWORD/PGSSLMODE environment
// variables, skipping when none is reachable, rather than mocking
// database/sql.
func newTestStore(t *testing.T) *Store {
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

	st, err := Open(ctx, dsn)
	if err != nil {
		t.Skipf("store: no test database available: %v", err)
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

func TestInsertKLineAndFindActive(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	ts := time.Now().UTC()

	id, err := st.InsertKLine(ctx, "*@1.2.3.4", "jess!m@host", "jess", 300, "spam %spam", ts)
	require.NoError(t, err)
	require.NotZero(t, id)

	found, ok, err := st.FindActive(ctx, "*@1.2.3.4")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, id, found)
}

func TestKLineRemoveIsUniquePerKline(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	ts := time.Now().UTC()

	id, err := st.InsertKLine(ctx, "*@5.6.7.8", "jess!m@host", "jess", 60, "test", ts)
	require.NoError(t, err)

	require.NoError(t, st.InsertKLineRemove(ctx, id, "jess!m@host", "jess", ts))
	require.NoError(t, st.InsertKLineRemove(ctx, id, "jess!m@host", "jess", ts.Add(time.Minute)))

	_, ok, err := st.FindActive(ctx, "*@5.6.7.8")
	require.NoError(t, err)
	require.False(t, ok, "a kline with any KLineRemove row must not be active")
}

func TestKLineRejectCapPerHost(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	ts := time.Now().UTC()

	id, err := st.InsertKLine(ctx, "*@9.9.9.9", "jess!m@host", "jess", 60, "test", ts)
	require.NoError(t, err)

	const cap = 3
	for i := 0; i < cap+2; i++ {
		nick := fmt.Sprintf("nick%d", i)
		_, err := st.InsertKLineReject(ctx, id, nick, "u", "same.host.example", "9.9.9.9", ts, cap)
		require.NoError(t, err)
	}

	n, err := st.RejectCount(ctx, id, "same.host.example")
	require.NoError(t, err)
	require.Equal(t, cap, n, "reject count must never exceed the configured cap")
}

func TestKLineRejectDedup(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	ts := time.Now().UTC()

	id, err := st.InsertKLine(ctx, "*@1.1.1.1", "jess!m@host", "jess", 60, "test", ts)
	require.NoError(t, err)

	inserted, err := st.InsertKLineReject(ctx, id, "bob", "b", "host.example", "1.1.1.1", ts, 10)
	require.NoError(t, err)
	require.True(t, inserted)

	inserted, err = st.InsertKLineReject(ctx, id, "bob", "b", "host.example", "1.1.1.1", ts, 10)
	require.NoError(t, err)
	require.False(t, inserted, "a repeat reject for the same (kline,nick,user,host,ip) must not insert twice")

	n, err := st.RejectCount(ctx, id, "host.example")
	require.NoError(t, err)
	require.Equal(t, 1, n)
}

func TestKLineSupersessionReassignsKills(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	ts := time.Now().UTC()

	oldID, err := st.InsertKLine(ctx, "*@host.example", "jess!m@host", "jess", 60, "first", ts)
	require.NoError(t, err)

	killID, err := st.InsertKLineKill(ctx, oldID, "alyce", "a", "host.example", "1.2.3.4", ts)
	require.NoError(t, err)
	require.NotZero(t, killID)

	newID, err := st.InsertKLine(ctx, "*@host.example", "jess!m@host", "jess", 120, "second", ts.Add(time.Minute))
	require.NoError(t, err)

	require.NoError(t, st.ReassignKills(ctx, oldID, newID))

	active, ok, err := st.FindActive(ctx, "*@host.example")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, newID, active)

	affected, err := st.GetAffected(ctx, newID)
	require.NoError(t, err)
	require.Len(t, affected, 1)
	require.Equal(t, "alyce", affected[0].Nickname)
}

func TestListActiveExcludesRemovedAndExpired(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	ts := time.Now().UTC()

	removed, err := st.InsertKLine(ctx, "*@removed.example", "s", "o", 60, "r", ts)
	require.NoError(t, err)
	require.NoError(t, st.InsertKLineRemove(ctx, removed, "s", "o", ts))

	expired, err := st.InsertKLine(ctx, "*@expired.example", "s", "o", -60, "r", ts.Add(-2*time.Hour))
	require.NoError(t, err)
	_ = expired

	active, err := st.InsertKLine(ctx, "*@active.example", "s", "o", 3600, "r", ts)
	require.NoError(t, err)

	masks, err := st.ListActive(ctx)
	require.NoError(t, err)
	require.Contains(t, masks, "*@active.example")
	require.NotContains(t, masks, "*@removed.example")
	require.NotContains(t, masks, "*@expired.example")
	require.Equal(t, active, masks["*@active.example"])
}

func TestPreferenceDefaultsToUnset(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	_, ok, err := st.GetPreference(ctx, "jess", "statsp")
	require.NoError(t, err)
	require.False(t, ok, "an oper who never ran pref has no stored row; the default lives in the command layer")

	require.NoError(t, st.SetPreference(ctx, "jess", "statsp", false))
	value, ok, err := st.GetPreference(ctx, "jess", "statsp")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "false", value)
}
