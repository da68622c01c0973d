package store

import (
	"context"
	"testing"
	"time"
)

var importNow = time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

func TestParseLegacyAccounts_ListShape(t *testing.T) {
	// WHAT: The list shape migrates to first-observation records.
	// WHY: That shape never carried fingerprints; nothing in it is trusted.
	data := []byte(`[{"username": "NASA", "added_at": "2024-05-01T10:00:00.123456", "last_tweet_id": "1800000000000000001"}, {"username": ""}]`)
	got, err := ParseLegacyAccounts(data, importNow)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 {
		t.Fatalf("accounts: got %d, want 1", len(got))
	}
	a := got[0]
	if a.Handle != "nasa" || a.DisplayHandle != "NASA" {
		t.Fatalf("handle: got %q/%q", a.Handle, a.DisplayHandle)
	}
	if !a.FirstObservation || a.LastPostID != "" {
		t.Fatalf("fingerprint: got first=%v id=%q", a.FirstObservation, a.LastPostID)
	}
	want := time.Date(2024, 5, 1, 10, 0, 0, 123456000, time.UTC).UnixMilli()
	if a.CreatedAt != want {
		t.Fatalf("created_at: got %d, want %d", a.CreatedAt, want)
	}
}

func TestParseLegacyAccounts_MapShape(t *testing.T) {
	data := []byte(`{
		"elonmusk": {"username": "elonmusk", "last_tweet_id": 1800000000000000123, "check_count": 10,
			"fail_count": 2, "success_rate": 80.0, "priority": 3.5, "first_check": false,
			"check_method": "nitter", "last_tweet_text": "hi", "last_tweet_url": "https://twitter.com/elonmusk/status/1800000000000000123"},
		"bare": {},
		"broken": {"username": "broken", "last_tweet_id": "n/a", "first_check": false}
	}`)
	got, err := ParseLegacyAccounts(data, importNow)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 3 {
		t.Fatalf("accounts: got %d, want 3", len(got))
	}
	byHandle := map[string]*Account{}
	for _, a := range got {
		byHandle[a.Handle] = a
	}

	e := byHandle["elonmusk"]
	if e.LastPostID != "1800000000000000123" || e.FirstObservation {
		t.Fatalf("elonmusk fingerprint: %+v", e)
	}
	if e.TotalChecks != 10 || e.TotalFailures != 2 || e.SuccessRate != 80 {
		t.Fatalf("elonmusk health: checks=%d fails=%d rate=%v", e.TotalChecks, e.TotalFailures, e.SuccessRate)
	}
	if e.Priority != 1.0 {
		t.Fatalf("priority not clamped: %v", e.Priority)
	}
	if e.LastContent.Text != "hi" || e.LastSource != "nitter" {
		t.Fatalf("content: %+v", e.LastContent)
	}

	b := byHandle["bare"]
	if b == nil || !b.FirstObservation || b.Priority != 1.0 || b.SuccessRate != 100 {
		t.Fatalf("bare defaults: %+v", b)
	}
	if b.CreatedAt != importNow.UnixMilli() {
		t.Fatalf("bare created_at: got %d", b.CreatedAt)
	}

	br := byHandle["broken"]
	if br.LastPostID != "" || !br.FirstObservation {
		t.Fatalf("non-numeric id must reset to first observation: %+v", br)
	}
}

func TestParseLegacySubscribers(t *testing.T) {
	got, err := ParseLegacySubscribers([]byte(`[12345, "-100987", null]`))
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 || got[0] != "12345" || got[1] != "-100987" {
		t.Fatalf("subscribers: got %v", got)
	}
	if _, err := ParseLegacySubscribers([]byte(`["abc"]`)); err == nil {
		t.Fatal("expected error for non-numeric chat id")
	}
}

func TestImportAccounts_SkipsExisting(t *testing.T) {
	s := NewStore(openTestDB(t))
	ctx := context.Background()
	s.InsertAccount(ctx, &Account{Handle: "nasa", LastPostID: "1800000000000000999"})

	accounts, _ := ParseLegacyAccounts([]byte(`{"nasa": {"last_tweet_id": "1"}, "esa": {}}`), importNow)
	imported, skipped, err := s.ImportAccounts(ctx, accounts, false)
	if err != nil {
		t.Fatal(err)
	}
	if imported != 1 || skipped != 1 {
		t.Fatalf("import: got imported=%d skipped=%d", imported, skipped)
	}
	got, _ := s.GetAccount(ctx, "nasa")
	if got.LastPostID != "1800000000000000999" {
		t.Fatalf("existing account overwritten: %q", got.LastPostID)
	}
}
