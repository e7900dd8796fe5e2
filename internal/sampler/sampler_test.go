package sampler

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"git.sr.ht/~kline/solaudit/internal/store"
	"git.sr.ht/~kline/solaudit/irc"
)

// newTestStore mirrors internal/store's and internal/command's own
// integration-test helper: a throwaway Postgres database configured via
// the same PG* environment variables, skipped when none is reachable.
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
		t.Skipf("sampler: no test database available: %v", err)
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

type stubSession struct {
	opers      []irc.OperLine
	statsPErr  error
	whois      map[string]string
	whoisErr   error
	held       map[string]struct{}
	privOK     bool
	statsKGErr error
}

func (s *stubSession) StatsP(ctx context.Context) ([]irc.OperLine, error) {
	return s.opers, s.statsPErr
}

func (s *stubSession) Whois(ctx context.Context, nick string) (string, bool, error) {
	if s.whoisErr != nil {
		return "", false, s.whoisErr
	}
	account, ok := s.whois[nick]
	return account, ok, nil
}

func (s *stubSession) StatsKG(ctx context.Context) (map[string]struct{}, bool, error) {
	return s.held, s.privOK, s.statsKGErr
}

func (s *stubSession) SessionRLock()   {}
func (s *stubSession) SessionRUnlock() {}

func TestDelayToNextMinuteAtBoundary(t *testing.T) {
	t0 := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	require.Equal(t, time.Minute, delayToNextMinute(t0))
}

func TestDelayToNextMinuteMidMinute(t *testing.T) {
	t0 := time.Date(2026, 1, 1, 12, 0, 30, 0, time.UTC)
	require.Equal(t, 30*time.Second, delayToNextMinute(t0))
}

func TestDelayToNextMinuteWithFraction(t *testing.T) {
	t0 := time.Date(2026, 1, 1, 12, 0, 59, 500_000_000, time.UTC)
	require.Equal(t, 500*time.Millisecond, delayToNextMinute(t0))
}

func TestReconcileRemovesMasksTheServerNoLongerHolds(t *testing.T) {
	sess := &stubSession{
		held:   map[string]struct{}{"*@1.2.3.4": {}},
		privOK: true,
	}
	st := &fakeReconcileStore{
		active:  map[string]int64{"*@1.2.3.4": 1, "*@5.6.7.8": 2},
		removed: map[int64]bool{},
	}
	r := NewReconciliator(sess, st, nil)
	require.NoError(t, r.Reconcile(context.Background()))

	require.False(t, st.removed[1])
	require.True(t, st.removed[2])
}

func TestReconcileSkipsOnPermissionDenied(t *testing.T) {
	sess := &stubSession{privOK: false}
	st := &fakeReconcileStore{
		active:  map[string]int64{"*@1.2.3.4": 1},
		removed: map[int64]bool{},
	}
	r := NewReconciliator(sess, st, nil)
	require.NoError(t, r.Reconcile(context.Background()))
	require.Empty(t, st.removed)
}

type fakeReconcileStore struct {
	active  map[string]int64
	removed map[int64]bool
}

func (f *fakeReconcileStore) ListActive(ctx context.Context) (map[string]int64, error) {
	return f.active, nil
}

func (f *fakeReconcileStore) InsertKLineRemove(ctx context.Context, klineID int64, source, oper string, ts time.Time) error {
	f.removed[klineID] = true
	return nil
}

func TestTickSamplesOnDutyOpersRespectingPreference(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, st.SetPreference(ctx, "silentjess", "statsp", false))

	sess := &stubSession{
		opers: []irc.OperLine{
			{Nick: "jess", User: "j", Host: "host", Oper: "jess_oper"},
			{Nick: "silentjess", User: "s", Host: "host", Oper: "silentjess_oper"},
		},
		whois: map[string]string{
			"jess":       "jess",
			"silentjess": "silentjess",
		},
	}

	s := New(sess, st, nil)
	ts := time.Now().UTC().Truncate(time.Minute)
	require.NoError(t, s.Tick(ctx, ts))

	totals, err := st.StatsPTotals(ctx, ts)
	require.NoError(t, err)
	require.Contains(t, totals, "jess")
	require.NotContains(t, totals, "silentjess")
}
