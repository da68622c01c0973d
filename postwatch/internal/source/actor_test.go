package source

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

func TestActorFetchLatest(t *testing.T) {
	// WHAT: The actor run is posted with the handle and the newest organic item is returned.
	// WHY: Dataset items mix replies and reposts and vary in field names.
	var hits atomic.Int32
	var input actorInput
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		if r.URL.Path != "/acts/quacker~twitter-scraper/run-sync-get-dataset-items" {
			http.NotFound(w, r)
			return
		}
		if r.Header.Get("Authorization") != "Bearer apify" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		body, _ := io.ReadAll(r.Body)
		json.Unmarshal(body, &input)
		fmt.Fprint(w, `[
			{"id":"1900000000000000000","text":"repost","isRetweet":true},
			{"id_str":"1750000000000000001","full_text":"hello","url":"https://twitter.com/nasa/status/1750000000000000001"},
			{"tweetId":1750000000000000003,"text":"numeric id","created_at":"2024-01-02T00:00:00Z"}
		]`)
	}))
	defer srv.Close()

	a := NewActor(ActorConfig{BaseURL: srv.URL, Token: "apify", Now: func() time.Time { return fixedNow }})
	res, err := a.FetchLatest(context.Background(), "nasa", "")
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if res == nil || res.PostID != "1750000000000000003" {
		t.Fatalf("post: got %+v", res)
	}
	if res.Content.URL != "https://twitter.com/nasa/status/1750000000000000003" {
		t.Fatalf("url: got %q", res.Content.URL)
	}
	if len(input.Usernames) != 1 || input.Usernames[0] != "nasa" || input.MaxTweets != 1 {
		t.Fatalf("input: got %+v", input)
	}

	a.FetchLatest(context.Background(), "nasa", "")
	if hits.Load() != 1 {
		t.Fatalf("cached fetch hit the network: %d requests", hits.Load())
	}
}

func TestActorWithoutToken(t *testing.T) {
	// WHAT: No token means the adapter answers nil without I/O.
	// WHY: The actor is a paid service and optional.
	a := NewActor(ActorConfig{BaseURL: "http://127.0.0.1:1"})
	res, err := a.FetchLatest(context.Background(), "nasa", "")
	if res != nil || err != nil {
		t.Fatalf("got %v, %v; want nil, nil", res, err)
	}
}

func TestActorStatusError(t *testing.T) {
	// WHAT: A non-2xx run answer is a StatusError.
	// WHY: Quota exhaustion must surface as a fault, not an empty answer.
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusPaymentRequired)
	}))
	defer srv.Close()
	a := NewActor(ActorConfig{BaseURL: srv.URL, Token: "apify"})
	_, err := a.FetchLatest(context.Background(), "nasa", "")
	se, ok := err.(*StatusError)
	if !ok || se.Status != http.StatusPaymentRequired {
		t.Fatalf("got %v, want StatusError 402", err)
	}
}
