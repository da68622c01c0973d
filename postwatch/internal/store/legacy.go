// CLAUDE:SUMMARY One-step migration of the historical JSON accounts/subscribers files into fixed-shape records.
package store

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/hazyhaar/postwatch/postwatch/internal/post"
)

// legacyRecord is the loosely-typed per-account object of the JSON files.
// Every field is optional.
type legacyRecord struct {
	Username    string     `json:"username"`
	AddedAt     string     `json:"added_at"`
	LastCheck   *string    `json:"last_check"`
	LastTweetID flexString `json:"last_tweet_id"`
	CheckCount  *int       `json:"check_count"`
	SuccessRate *float64   `json:"success_rate"`
	FailCount   *int       `json:"fail_count"`
	CheckMethod *string    `json:"check_method"`
	Priority    *float64   `json:"priority"`
	FirstCheck  *bool      `json:"first_check"`
	LastText    string     `json:"last_tweet_text"`
	LastURL     string     `json:"last_tweet_url"`
}

// flexString accepts a JSON string, number or null.
type flexString string

func (f *flexString) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	switch {
	case bytes.Equal(b, []byte("null")):
		*f = ""
	case len(b) > 0 && b[0] == '"':
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*f = flexString(s)
	default:
		var n json.Number
		if err := json.Unmarshal(b, &n); err != nil {
			return err
		}
		*f = flexString(n.String())
	}
	return nil
}

var legacyTimeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999",
	"2006-01-02T15:04:05",
}

func parseLegacyTime(s string) int64 {
	for _, layout := range legacyTimeLayouts {
		if t, err := time.ParseInLocation(layout, s, time.UTC); err == nil {
			return t.UnixMilli()
		}
	}
	return 0
}

// ParseLegacyAccounts decodes an accounts file in either historical shape:
// a list of {"username": ...} objects or a map of handle to record. Missing
// fields get their defaults, out-of-range values are clamped, and an
// unusable stored id puts the account back into first observation.
func ParseLegacyAccounts(data []byte, now time.Time) ([]*Account, error) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return nil, nil
	}

	records := map[string]legacyRecord{}
	var order []string
	listShape := data[0] == '['

	if listShape {
		var list []legacyRecord
		if err := json.Unmarshal(data, &list); err != nil {
			return nil, fmt.Errorf("store: parse legacy accounts: %w", err)
		}
		for _, r := range list {
			if r.Username == "" {
				continue
			}
			k := Key(r.Username)
			if _, dup := records[k]; !dup {
				order = append(order, k)
			}
			// The list shape predates fingerprints: nothing in it is trusted.
			records[k] = legacyRecord{Username: r.Username, AddedAt: r.AddedAt, LastCheck: r.LastCheck}
		}
	} else {
		if err := json.Unmarshal(data, &records); err != nil {
			return nil, fmt.Errorf("store: parse legacy accounts: %w", err)
		}
		for k := range records {
			order = append(order, k)
		}
	}

	out := make([]*Account, 0, len(records))
	seen := map[string]bool{}
	for _, k := range sortedKeys(order) {
		r := records[k]
		a := migrateLegacy(k, r, now)
		if a == nil || seen[a.Handle] {
			continue
		}
		seen[a.Handle] = true
		out = append(out, a)
	}
	return out, nil
}

func migrateLegacy(key string, r legacyRecord, now time.Time) *Account {
	display := r.Username
	if display == "" {
		display = key
	}
	handle := Key(display)
	if handle == "" {
		return nil
	}

	a := &Account{
		Handle:           handle,
		DisplayHandle:    strings.TrimPrefix(strings.TrimSpace(display), "@"),
		FirstObservation: true,
		SuccessRate:      100,
		Priority:         1.0,
		CreatedAt:        now.UnixMilli(),
	}
	if t := parseLegacyTime(r.AddedAt); t > 0 {
		a.CreatedAt = t
	}
	if r.LastCheck != nil {
		a.LastCheckedAt = parseLegacyTime(*r.LastCheck)
	}
	if r.FirstCheck != nil {
		a.FirstObservation = *r.FirstCheck
	}

	id := strings.TrimSpace(string(r.LastTweetID))
	if post.IsNumeric(id) {
		a.LastPostID = id
	} else {
		a.FirstObservation = true
	}
	if a.LastPostID == "" {
		a.FirstObservation = true
	}

	if r.CheckCount != nil && *r.CheckCount > 0 {
		a.TotalChecks = *r.CheckCount
	}
	if r.FailCount != nil && *r.FailCount > 0 {
		a.ConsecutiveFailures = *r.FailCount
	}
	if a.TotalChecks > 0 {
		if r.SuccessRate != nil {
			rate := math.Max(0, math.Min(100, *r.SuccessRate))
			a.TotalFailures = int(math.Round(float64(a.TotalChecks) * (100 - rate) / 100))
		} else {
			a.TotalFailures = min(a.ConsecutiveFailures, a.TotalChecks)
		}
		a.SuccessRate = 100 * float64(a.TotalChecks-a.TotalFailures) / float64(a.TotalChecks)
	}
	if r.Priority != nil {
		a.Priority = math.Max(0.1, math.Min(1.0, *r.Priority))
	}
	if r.CheckMethod != nil {
		a.LastSource = *r.CheckMethod
	}
	if r.LastText != "" || r.LastURL != "" {
		a.LastContent = post.Content{Text: r.LastText, URL: r.LastURL, Source: a.LastSource}
	}
	return a
}

func sortedKeys(keys []string) []string {
	out := append([]string(nil), keys...)
	sort.Strings(out)
	return out
}

// ParseLegacySubscribers decodes a subscribers file: a JSON list of chat ids
// as numbers or strings.
func ParseLegacySubscribers(data []byte) ([]string, error) {
	var raw []flexString
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("store: parse legacy subscribers: %w", err)
	}
	out := make([]string, 0, len(raw))
	for _, r := range raw {
		s := strings.TrimSpace(string(r))
		if s == "" {
			continue
		}
		if _, err := strconv.ParseInt(s, 10, 64); err != nil {
			return nil, fmt.Errorf("store: legacy subscriber %q: not a chat id", s)
		}
		out = append(out, s)
	}
	return out, nil
}

// ImportAccounts inserts migrated accounts. Existing handles are skipped
// unless overwrite is set.
func (s *Store) ImportAccounts(ctx context.Context, accounts []*Account, overwrite bool) (imported, skipped int, err error) {
	for _, a := range accounts {
		if overwrite {
			err = s.SaveAccount(ctx, a)
		} else {
			err = s.InsertAccount(ctx, a)
		}
		if errors.Is(err, ErrAccountExists) {
			skipped++
			continue
		}
		if err != nil {
			return imported, skipped, err
		}
		imported++
	}
	return imported, skipped, nil
}
