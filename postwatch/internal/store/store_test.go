package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	_ "modernc.org/sqlite"

	"github.com/hazyhaar/postwatch/dbopen"
	"github.com/hazyhaar/postwatch/postwatch/internal/post"
)

func openTestDB(t *testing.T) *sql.DB {
	t.Helper()
	db := dbopen.OpenMemory(t)
	if err := ApplySchema(db); err != nil {
		t.Fatalf("apply schema: %v", err)
	}
	return db
}

func TestApplySchema(t *testing.T) {
	// WHAT: Schema creates all tables and the display_handle migration column.
	// WHY: Schema is the foundation; ApplySchema must also be re-runnable.
	db := openTestDB(t)
	for _, table := range []string{"accounts", "settings", "subscribers", "poll_log"} {
		var name string
		err := db.QueryRow(`SELECT name FROM sqlite_master WHERE type='table' AND name=?`, table).Scan(&name)
		if err != nil {
			t.Errorf("table %s not found: %v", table, err)
		}
	}
	if err := ApplySchema(db); err != nil {
		t.Fatalf("second ApplySchema: %v", err)
	}
	var n int
	db.QueryRow(`SELECT COUNT(*) FROM pragma_table_info('accounts') WHERE name = 'display_handle'`).Scan(&n)
	if n != 1 {
		t.Fatalf("display_handle column: got %d, want 1", n)
	}
}

func TestInsertAndGetAccount(t *testing.T) {
	// WHAT: Insert an account and read it back with every field intact.
	// WHY: Basic CRUD must round-trip optional fields (nil sources, content).
	s := NewStore(openTestDB(t))
	ctx := context.Background()

	a := &Account{
		Handle:        "@NASA",
		LastPostID:    "1800000000000000001",
		TotalChecks:   1,
		SuccessRate:   100,
		LastCheckedAt: 1700000000000,
		LastContent:   post.Content{Text: "launch", URL: "https://twitter.com/nasa/status/1", MediaURLs: []string{"https://img/1.jpg"}},
	}
	if err := s.InsertAccount(ctx, a); err != nil {
		t.Fatalf("insert: %v", err)
	}

	got, err := s.GetAccount(ctx, "Nasa")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got == nil {
		t.Fatal("account not found")
	}
	if got.Handle != "nasa" {
		t.Fatalf("handle: got %q, want nasa", got.Handle)
	}
	if got.LastPostID != a.LastPostID {
		t.Fatalf("last_post_id: got %q", got.LastPostID)
	}
	if got.PreferredSources != nil {
		t.Fatalf("preferred sources: got %v, want nil", got.PreferredSources)
	}
	if got.Priority != 1.0 {
		t.Fatalf("priority: got %v, want 1.0", got.Priority)
	}
	if got.LastContent.Text != "launch" || len(got.LastContent.MediaURLs) != 1 {
		t.Fatalf("content: got %+v", got.LastContent)
	}
	if got.LastCheckedAt != 1700000000000 {
		t.Fatalf("last_checked_at: got %d", got.LastCheckedAt)
	}
}

func TestInsertAccount_Duplicate(t *testing.T) {
	s := NewStore(openTestDB(t))
	ctx := context.Background()

	if err := s.InsertAccount(ctx, &Account{Handle: "alice"}); err != nil {
		t.Fatal(err)
	}
	err := s.InsertAccount(ctx, &Account{Handle: "ALICE"})
	if !errors.Is(err, ErrAccountExists) {
		t.Fatalf("duplicate insert: got %v, want ErrAccountExists", err)
	}
}

func TestGetAccount_Missing(t *testing.T) {
	s := NewStore(openTestDB(t))
	got, err := s.GetAccount(context.Background(), "ghost")
	if err != nil || got != nil {
		t.Fatalf("missing account: got %v, %v", got, err)
	}
}

func TestPreferredSources_NilVsEmpty(t *testing.T) {
	// WHAT: nil and empty preferred-source lists survive storage distinctly.
	// WHY: nil means "global order", empty means "polling disabled".
	s := NewStore(openTestDB(t))
	ctx := context.Background()

	s.InsertAccount(ctx, &Account{Handle: "a"})
	if err := s.SetPreferredSources(ctx, "a", []string{}); err != nil {
		t.Fatal(err)
	}
	got, _ := s.GetAccount(ctx, "a")
	if got.PreferredSources == nil || len(got.PreferredSources) != 0 || !got.PollingDisabled() {
		t.Fatalf("empty sources: got %#v", got.PreferredSources)
	}

	s.SetPreferredSources(ctx, "a", []string{"mirror", "api"})
	got, _ = s.GetAccount(ctx, "a")
	if len(got.PreferredSources) != 2 || got.PreferredSources[0] != "mirror" {
		t.Fatalf("sources: got %v", got.PreferredSources)
	}

	s.SetPreferredSources(ctx, "a", nil)
	got, _ = s.GetAccount(ctx, "a")
	if got.PreferredSources != nil || got.PollingDisabled() {
		t.Fatalf("nil sources: got %#v", got.PreferredSources)
	}

	if err := s.SetPreferredSources(ctx, "ghost", nil); !errors.Is(err, ErrNotFound) {
		t.Fatalf("missing account: got %v, want ErrNotFound", err)
	}
}

func TestResetAccount(t *testing.T) {
	// WHAT: Reset clears health and content but keeps id and source override.
	// WHY: The kept id is a provisional baseline; the override is user intent.
	s := NewStore(openTestDB(t))
	ctx := context.Background()

	s.InsertAccount(ctx, &Account{
		Handle:              "bob",
		LastPostID:          "1800000000000000100",
		PreferredSources:    []string{"api"},
		ConsecutiveFailures: 5,
		TotalChecks:         10,
		TotalFailures:       6,
		SuccessRate:         40,
		Priority:            0.3,
		LastCheckedAt:       1700000000000,
		LastContent:         post.Content{Text: "old"},
	})
	if err := s.ResetAccount(ctx, "BOB"); err != nil {
		t.Fatalf("reset: %v", err)
	}
	got, _ := s.GetAccount(ctx, "bob")
	if !got.FirstObservation {
		t.Fatal("first_observation not restored")
	}
	if got.LastPostID != "1800000000000000100" {
		t.Fatalf("last_post_id: got %q", got.LastPostID)
	}
	if len(got.PreferredSources) != 1 || got.PreferredSources[0] != "api" {
		t.Fatalf("preferred sources lost: %v", got.PreferredSources)
	}
	if got.ConsecutiveFailures != 0 || got.TotalChecks != 0 || got.TotalFailures != 0 {
		t.Fatalf("counters not cleared: %+v", got)
	}
	if got.Priority != 1.0 || got.SuccessRate != 100 {
		t.Fatalf("priority/rate: got %v/%v", got.Priority, got.SuccessRate)
	}
	if !got.LastContent.IsZero() || got.LastCheckedAt != 0 {
		t.Fatalf("content/last check not cleared: %+v", got)
	}

	if err := s.ResetAccount(ctx, "ghost"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("reset missing: got %v, want ErrNotFound", err)
	}
}

func TestSavePoll_WritesRecordAndLog(t *testing.T) {
	s := NewStore(openTestDB(t))
	ctx := context.Background()

	a := &Account{Handle: "carol", LastPostID: "1800000000000000001"}
	s.InsertAccount(ctx, a)

	a.LastPostID = "1800000000000000002"
	a.TotalChecks = 2
	entry := &PollLogEntry{
		ID: "p1", Handle: "carol", Outcome: "new_post", Source: "mirror",
		PostID: a.LastPostID, Consulted: []string{"api", "mirror"}, PolledAt: 1000,
	}
	if err := s.SavePoll(ctx, a, entry); err != nil {
		t.Fatalf("save poll: %v", err)
	}

	got, _ := s.GetAccount(ctx, "carol")
	if got.LastPostID != "1800000000000000002" || got.TotalChecks != 2 {
		t.Fatalf("account not updated: %+v", got)
	}
	polls, err := s.RecentPolls(ctx, "carol", 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(polls) != 1 || polls[0].Outcome != "new_post" || len(polls[0].Consulted) != 2 {
		t.Fatalf("poll log: got %+v", polls)
	}
}

func TestSavePoll_AtomicOnLogFailure(t *testing.T) {
	// WHAT: A failing log insert rolls back the account write.
	// WHY: A poll's update either completes or is abandoned wholesale.
	s := NewStore(openTestDB(t))
	ctx := context.Background()

	a := &Account{Handle: "dave", LastPostID: "1800000000000000001"}
	s.InsertAccount(ctx, a)
	s.SavePoll(ctx, a, &PollLogEntry{ID: "dup", Handle: "dave", Outcome: "no_change", PolledAt: 1})

	a.LastPostID = "1800000000000000009"
	err := s.SavePoll(ctx, a, &PollLogEntry{ID: "dup", Handle: "dave", Outcome: "new_post", PolledAt: 2})
	if err == nil {
		t.Fatal("expected duplicate log id to fail")
	}
	got, _ := s.GetAccount(ctx, "dave")
	if got.LastPostID != "1800000000000000001" {
		t.Fatalf("partial write: last_post_id = %q", got.LastPostID)
	}
}

func TestDeleteAccount_CascadesLog(t *testing.T) {
	s := NewStore(openTestDB(t))
	ctx := context.Background()

	a := &Account{Handle: "erin"}
	s.InsertAccount(ctx, a)
	s.SavePoll(ctx, a, &PollLogEntry{ID: "p1", Handle: "erin", Outcome: "failure", PolledAt: 1})

	if err := s.DeleteAccount(ctx, "erin"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if got, _ := s.GetAccount(ctx, "erin"); got != nil {
		t.Fatal("account still present")
	}
	polls, _ := s.RecentPolls(ctx, "erin", 10)
	if len(polls) != 0 {
		t.Fatalf("poll log not cascaded: %d rows", len(polls))
	}
	if err := s.DeleteAccount(ctx, "erin"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("second delete: got %v, want ErrNotFound", err)
	}
}

func TestPrunePollLog(t *testing.T) {
	s := NewStore(openTestDB(t))
	ctx := context.Background()

	a := &Account{Handle: "frank"}
	s.InsertAccount(ctx, a)
	for i, at := range []int64{100, 200, 300} {
		s.SavePoll(ctx, a, &PollLogEntry{ID: fmt.Sprintf("p%d", i), Handle: "frank", Outcome: "no_change", PolledAt: at})
	}
	n, err := s.PrunePollLog(ctx, 250)
	if err != nil {
		t.Fatal(err)
	}
	if n != 2 {
		t.Fatalf("pruned: got %d, want 2", n)
	}
}

func TestSettings_RoundTrip(t *testing.T) {
	s := NewStore(openTestDB(t))
	ctx := context.Background()

	got, err := s.LoadSettings(ctx)
	if err != nil || got != nil {
		t.Fatalf("empty settings: got %v, %v", got, err)
	}

	want := &Settings{CheckIntervalSec: 600, SourceOrder: []string{"api", "mirror"}, Concurrency: 3, MinJitter: 0.8, MaxJitter: 1.2}
	if err := s.SaveSettings(ctx, want); err != nil {
		t.Fatal(err)
	}
	want.Concurrency = 5
	if err := s.SaveSettings(ctx, want); err != nil {
		t.Fatal(err)
	}
	got, err = s.LoadSettings(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if got.Concurrency != 5 || len(got.SourceOrder) != 2 || got.MaxJitter != 1.2 {
		t.Fatalf("settings: got %+v", got)
	}
}

func TestSubscribers(t *testing.T) {
	s := NewStore(openTestDB(t))
	ctx := context.Background()

	s.AddSubscriber(ctx, "telegram", "42")
	s.AddSubscriber(ctx, "telegram", "42")
	s.AddSubscriber(ctx, "hook", "")

	subs, err := s.ListSubscribers(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(subs) != 2 {
		t.Fatalf("subscribers: got %d, want 2", len(subs))
	}
	if err := s.RemoveSubscriber(ctx, "telegram", "42"); err != nil {
		t.Fatal(err)
	}
	if err := s.RemoveSubscriber(ctx, "telegram", "42"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("second remove: got %v, want ErrNotFound", err)
	}
}

func TestConcurrentSaves_IsolatedByHandle(t *testing.T) {
	// WHAT: Concurrent writers on two handles never clobber each other.
	// WHY: Polls in one batch run concurrently against disjoint keys.
	db := openTestDB(t)
	s := NewStore(db)
	ctx := context.Background()

	s.InsertAccount(ctx, &Account{Handle: "x"})
	s.InsertAccount(ctx, &Account{Handle: "y"})

	var wg sync.WaitGroup
	for _, h := range []string{"x", "y"} {
		wg.Add(1)
		go func(h string) {
			defer wg.Done()
			for i := 1; i <= 20; i++ {
				a, err := s.GetAccount(ctx, h)
				if err != nil || a == nil {
					t.Errorf("get %s: %v", h, err)
					return
				}
				a.TotalChecks = i
				a.LastSource = h
				if err := s.SaveAccount(ctx, a); err != nil {
					t.Errorf("save %s: %v", h, err)
					return
				}
			}
		}(h)
	}
	wg.Wait()

	for _, h := range []string{"x", "y"} {
		a, _ := s.GetAccount(ctx, h)
		if a.TotalChecks != 20 || a.LastSource != h {
			t.Fatalf("%s: got checks=%d source=%q", h, a.TotalChecks, a.LastSource)
		}
	}
}

func TestStoreClock_StampsEveryWrite(t *testing.T) {
	// WHAT: Insert, save, reset, source override and subscriber writes all
	// stamp times from Store.Now.
	// WHY: The service runs on an injected clock; a wall-clock stamp on
	// some paths makes updated_at jump backwards in tests and replays.
	s := NewStore(openTestDB(t))
	ctx := context.Background()
	now := time.UnixMilli(1_600_000_000_000)
	s.Now = func() time.Time { return now }

	if err := s.InsertAccount(ctx, &Account{Handle: "bob", LastPostID: "1800000000000000100"}); err != nil {
		t.Fatal(err)
	}
	got, _ := s.GetAccount(ctx, "bob")
	if got.CreatedAt != now.UnixMilli() || got.UpdatedAt != now.UnixMilli() {
		t.Fatalf("insert: created=%d updated=%d", got.CreatedAt, got.UpdatedAt)
	}

	now = now.Add(time.Minute)
	if err := s.SaveAccount(ctx, got); err != nil {
		t.Fatal(err)
	}
	got, _ = s.GetAccount(ctx, "bob")
	if got.UpdatedAt != now.UnixMilli() || got.CreatedAt != now.Add(-time.Minute).UnixMilli() {
		t.Fatalf("save: created=%d updated=%d", got.CreatedAt, got.UpdatedAt)
	}

	now = now.Add(time.Minute)
	if err := s.ResetAccount(ctx, "bob"); err != nil {
		t.Fatal(err)
	}
	got, _ = s.GetAccount(ctx, "bob")
	if got.UpdatedAt != now.UnixMilli() {
		t.Fatalf("reset: updated=%d, want %d", got.UpdatedAt, now.UnixMilli())
	}

	now = now.Add(time.Minute)
	if err := s.SetPreferredSources(ctx, "bob", []string{"mirror"}); err != nil {
		t.Fatal(err)
	}
	got, _ = s.GetAccount(ctx, "bob")
	if got.UpdatedAt != now.UnixMilli() {
		t.Fatalf("sources: updated=%d, want %d", got.UpdatedAt, now.UnixMilli())
	}

	if err := s.AddSubscriber(ctx, "tg", "42"); err != nil {
		t.Fatal(err)
	}
	subs, _ := s.ListSubscribers(ctx)
	if len(subs) != 1 || subs[0].CreatedAt != now.UnixMilli() {
		t.Fatalf("subscriber: %+v", subs)
	}
}
