package post

import "testing"

func TestCompare(t *testing.T) {
	tests := []struct {
		a, b   string
		cmp    int
		wantOK bool
	}{
		{"120", "100", 1, true},
		{"95", "100", -1, true},
		{"100", "100", 0, true},
		{"0100", "100", 0, true},
		{"1800000000000000001", "999999999999999999", 1, true},
		{"99999999999999999999999", "99999999999999999999998", 1, true},
		{"abc", "100", 0, false},
		{"", "100", 0, false},
		{"12a4", "1234", 0, false},
	}
	for _, tt := range tests {
		cmp, ok := Compare(tt.a, tt.b)
		if cmp != tt.cmp || ok != tt.wantOK {
			t.Errorf("Compare(%q, %q): got (%d, %v), want (%d, %v)", tt.a, tt.b, cmp, ok, tt.cmp, tt.wantOK)
		}
	}
}

func TestNewer(t *testing.T) {
	// WHAT: Newer is strict and tolerates an empty reference.
	// WHY: Equal ids are confirmations, never new posts.
	if Newer("100", "100") {
		t.Fatal("equal ids reported newer")
	}
	if !Newer("101", "100") {
		t.Fatal("101 not newer than 100")
	}
	if !Newer("100", "") {
		t.Fatal("numeric id not newer than empty reference")
	}
	if Newer("x100", "") {
		t.Fatal("non-numeric id reported newer")
	}
}

func TestPlausible(t *testing.T) {
	if Plausible("12345", 0) {
		t.Fatal("5-char id accepted with default minimum")
	}
	if !Plausible("1234567890123456789", 0) {
		t.Fatal("19-char id rejected")
	}
	if !Plausible("120", 3) {
		t.Fatal("custom minimum ignored")
	}
}

func TestContent_Merge(t *testing.T) {
	a := Content{Text: "hello"}
	b := Content{Text: "other", URL: "https://x/1", HasMedia: true}
	got := a.Merge(b)
	if got.Text != "hello" || got.URL != "https://x/1" || !got.HasMedia {
		t.Fatalf("Merge: got %+v", got)
	}
	if !(Content{}).IsZero() || got.IsZero() {
		t.Fatal("IsZero mismatch")
	}
}
