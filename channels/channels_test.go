package channels

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
)

func allowAll(string) error { return nil }

type captured struct {
	mu     sync.Mutex
	path   string
	body   []byte
	header http.Header
}

func captureServer(t *testing.T, status int, reply string) (*httptest.Server, *captured) {
	t.Helper()
	c := &captured{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		c.mu.Lock()
		c.path, c.body, c.header = r.URL.Path, body, r.Header.Clone()
		c.mu.Unlock()
		w.WriteHeader(status)
		io.WriteString(w, reply)
	}))
	t.Cleanup(srv.Close)
	return srv, c
}

func (c *captured) snapshot() (string, []byte, http.Header) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.path, c.body, c.header
}

func TestTelegramSend(t *testing.T) {
	// WHAT: Send calls sendMessage with the chat id and text.
	// WHY: Telegram is the primary notification target.
	srv, got := captureServer(t, http.StatusOK, `{"ok":true,"result":{}}`)
	ch, err := TelegramFactory()("tg", json.RawMessage(`{"bot_token":"123:ABC","api_base":"`+srv.URL+`"}`))
	if err != nil {
		t.Fatalf("factory: %v", err)
	}
	if err := ch.Send(context.Background(), Message{RecipientID: "42", Text: "🐦 @nasa:\n\nhello"}); err != nil {
		t.Fatalf("send: %v", err)
	}
	path, body, _ := got.snapshot()
	if path != "/bot123:ABC/sendMessage" {
		t.Fatalf("path: got %q", path)
	}
	var req telegramSend
	json.Unmarshal(body, &req)
	if req.ChatID != "42" || !strings.Contains(req.Text, "hello") {
		t.Fatalf("request: got %+v", req)
	}
	if st := ch.Status(); st.Sent != 1 {
		t.Fatalf("sent: got %d", st.Sent)
	}
}

func TestTelegramAPIError(t *testing.T) {
	// WHAT: An ok=false reply is a send failure carrying the description.
	// WHY: A blocked bot must be visible in logs, not silently counted as sent.
	srv, _ := captureServer(t, http.StatusForbidden, `{"ok":false,"description":"Forbidden: bot was blocked by the user"}`)
	ch, _ := TelegramFactory()("tg", json.RawMessage(`{"bot_token":"123:ABC","api_base":"`+srv.URL+`"}`))
	err := ch.Send(context.Background(), Message{RecipientID: "42", Text: "x"})
	var sf *ErrSendFailed
	if !errors.As(err, &sf) || !strings.Contains(err.Error(), "blocked") {
		t.Fatalf("got %v, want ErrSendFailed mentioning blocked", err)
	}
	if strings.Contains(err.Error(), "123:ABC") {
		t.Fatal("error leaks the bot token")
	}
	if ch.Status().Failed != 1 {
		t.Fatal("failure not counted")
	}
}

func TestTelegramFactoryRequiresToken(t *testing.T) {
	// WHAT: A config without bot_token is rejected.
	// WHY: Misconfiguration must fail at startup.
	if _, err := TelegramFactory()("tg", json.RawMessage(`{}`)); err == nil {
		t.Fatal("expected error")
	}
}

func TestDiscordSend(t *testing.T) {
	// WHAT: Discord receives the text as webhook content, truncated to the platform limit.
	// WHY: Discord rejects content over 2000 characters.
	srv, got := captureServer(t, http.StatusNoContent, "")
	ch, err := DiscordFactory(WithURLValidator(allowAll))("dc", json.RawMessage(`{"webhook_url":"`+srv.URL+`/hook","username":"postwatch"}`))
	if err != nil {
		t.Fatalf("factory: %v", err)
	}
	long := strings.Repeat("a", 2500)
	if err := ch.Send(context.Background(), Message{Text: long}); err != nil {
		t.Fatalf("send: %v", err)
	}
	_, body, _ := got.snapshot()
	var p discordPayload
	json.Unmarshal(body, &p)
	if len([]rune(p.Content)) != discordMaxContent || p.Username != "postwatch" {
		t.Fatalf("payload: %d runes, username %q", len([]rune(p.Content)), p.Username)
	}
}

func TestDiscordRejectsPrivateURL(t *testing.T) {
	// WHAT: The default validator refuses loopback webhook URLs.
	// WHY: Recipient URLs come from users; SSRF must be blocked.
	if _, err := DiscordFactory()("dc", json.RawMessage(`{"webhook_url":"http://127.0.0.1/hook"}`)); err == nil {
		t.Fatal("expected SSRF rejection")
	}
}

func TestWebhookSigned(t *testing.T) {
	// WHAT: The webhook body is signed and the signature verifies.
	// WHY: Receivers must be able to authenticate notifications.
	srv, got := captureServer(t, http.StatusAccepted, "")
	ch, err := WebhookFactory(WithURLValidator(allowAll))("wh", json.RawMessage(`{"secret":"s3cret"}`))
	if err != nil {
		t.Fatalf("factory: %v", err)
	}
	if err := ch.Send(context.Background(), Message{RecipientID: srv.URL + "/in", Text: "new post"}); err != nil {
		t.Fatalf("send: %v", err)
	}
	_, body, header := got.snapshot()
	sig := header.Get(SignatureHeader)
	if !VerifySignature("s3cret", body, sig) {
		t.Fatalf("signature %q does not verify", sig)
	}
	if VerifySignature("other", body, sig) {
		t.Fatal("signature verified under the wrong secret")
	}
	var m Message
	json.Unmarshal(body, &m)
	if m.ChannelName != "wh" || m.Text != "new post" {
		t.Fatalf("body: got %+v", m)
	}
}

func TestWebhookNoTarget(t *testing.T) {
	// WHAT: Without config URL or URL recipient, Send fails.
	// WHY: Dropping silently would hide a misconfigured subscriber.
	ch, _ := WebhookFactory(WithURLValidator(allowAll))("wh", json.RawMessage(`{}`))
	if err := ch.Send(context.Background(), Message{RecipientID: "42"}); err == nil {
		t.Fatal("expected error")
	}
}

func TestClosedChannel(t *testing.T) {
	// WHAT: Send after Close fails with ErrClosed.
	// WHY: Shutdown must not deliver half-sent notifications.
	ch, _ := TelegramFactory()("tg", json.RawMessage(`{"bot_token":"t"}`))
	ch.Close()
	if err := ch.Send(context.Background(), Message{RecipientID: "1"}); !errors.Is(err, ErrClosed) {
		t.Fatalf("got %v, want ErrClosed", err)
	}
}

func TestDispatcher(t *testing.T) {
	// WHAT: The dispatcher opens channels by platform and routes by name.
	// WHY: Subscribers reference channels by name only.
	srv, got := captureServer(t, http.StatusOK, `{"ok":true}`)
	d := NewDispatcher()
	d.RegisterPlatform("telegram", TelegramFactory())

	if err := d.Open("tg", "signal", nil); err == nil {
		t.Fatal("expected ErrNoPlatformFactory")
	}
	if err := d.Open("tg", "telegram", json.RawMessage(`{"bot_token":"1:A","api_base":"`+srv.URL+`"}`)); err != nil {
		t.Fatalf("open: %v", err)
	}
	if !d.Has("tg") || len(d.Names()) != 1 {
		t.Fatalf("names: got %v", d.Names())
	}
	if err := d.Send(context.Background(), Message{ChannelName: "tg", RecipientID: "7", Text: "hi"}); err != nil {
		t.Fatalf("send: %v", err)
	}
	if path, _, _ := got.snapshot(); path == "" {
		t.Fatal("telegram not called")
	}
	var nf *ErrChannelNotFound
	if err := d.Send(context.Background(), Message{ChannelName: "nope"}); !errors.As(err, &nf) {
		t.Fatalf("got %v, want ErrChannelNotFound", err)
	}
	if st, ok := d.Status("tg"); !ok || st.Sent != 1 {
		t.Fatalf("status: got %+v", st)
	}
	d.Close()
	if d.Has("tg") {
		t.Fatal("channel still open after Close")
	}
}
