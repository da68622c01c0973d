// CLAUDE:SUMMARY Fire-and-forget new-post notifications: bounded queue, single delivery worker, drain on close, one message per subscriber.
package postwatch

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	"github.com/hazyhaar/postwatch/channels"
	"github.com/hazyhaar/postwatch/idgen"
	"github.com/hazyhaar/postwatch/postwatch/internal/post"
	"github.com/hazyhaar/postwatch/postwatch/internal/store"
)

// Notifier receives confirmed new posts. Notify must not block; it reports
// whether the post was accepted for delivery.
type Notifier interface {
	Notify(handle string, content post.Content) bool
}

// Sender delivers one message. *channels.Dispatcher satisfies it.
type Sender interface {
	Send(ctx context.Context, msg channels.Message) error
}

const sendTimeout = 30 * time.Second

type notification struct {
	handle  string
	content post.Content
	at      time.Time
}

// broadcaster is the default Notifier: it fans each post out to every
// subscriber through a Sender, from a single worker goroutine.
type broadcaster struct {
	queue       chan notification
	sender      Sender
	subscribers func(ctx context.Context) ([]*store.Subscriber, error)
	pause       time.Duration
	logger      *slog.Logger

	dropped atomic.Int64
	sent    atomic.Int64
}

func newBroadcaster(sender Sender, subs func(ctx context.Context) ([]*store.Subscriber, error), size int, pause time.Duration, logger *slog.Logger) *broadcaster {
	return &broadcaster{
		queue:       make(chan notification, size),
		sender:      sender,
		subscribers: subs,
		pause:       pause,
		logger:      logger,
	}
}

// Notify enqueues the post, dropping it with a warning when the queue is
// full. Without a Sender nothing is enqueued.
func (b *broadcaster) Notify(handle string, content post.Content) bool {
	if b.sender == nil {
		b.logger.Debug("postwatch: no sender, notification skipped", "handle", handle)
		return false
	}
	select {
	case b.queue <- notification{handle: handle, content: content, at: time.Now()}:
		return true
	default:
		b.dropped.Add(1)
		b.logger.Warn("postwatch: notification queue full, dropped", "handle", handle, "url", content.URL)
		return false
	}
}

// run delivers until ctx is done. A delivery in progress is finished
// rather than cut short; Close drains the rest.
func (b *broadcaster) run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case n := <-b.queue:
			b.deliver(context.WithoutCancel(ctx), n)
		}
	}
}

// drain delivers every queued notification, giving up when ctx is done.
func (b *broadcaster) drain(ctx context.Context) {
	for {
		select {
		case n := <-b.queue:
			if ctx.Err() != nil {
				b.dropped.Add(1 + int64(len(b.queue)))
				b.logger.Warn("postwatch: notification drain timed out", "dropped", 1+len(b.queue))
				return
			}
			b.deliver(ctx, n)
		default:
			return
		}
	}
}

func (b *broadcaster) deliver(ctx context.Context, n notification) {
	if b.sender == nil {
		return
	}
	subs, err := b.subscribers(ctx)
	if err != nil {
		b.logger.Error("postwatch: list subscribers", "error", err)
		return
	}
	text := formatNotification(n.handle, n.content)
	for i, sub := range subs {
		if i > 0 && !pause(ctx, b.pause) {
			return
		}
		msg := channels.Message{
			ID:          idgen.New(),
			ChannelName: sub.Channel,
			RecipientID: sub.RecipientID,
			Text:        text,
			Attachments: attachments(n.content),
			Metadata:    map[string]string{"handle": n.handle, "url": n.content.URL},
			Timestamp:   n.at,
		}
		sctx, cancel := context.WithTimeout(ctx, sendTimeout)
		err := b.sender.Send(sctx, msg)
		cancel()
		if err != nil {
			b.logger.Warn("postwatch: notify", "handle", n.handle, "channel", sub.Channel, "error", err)
			continue
		}
		b.sent.Add(1)
	}
}

func formatNotification(handle string, c post.Content) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "🐦 @%s:", handle)
	if c.Text != "" {
		sb.WriteString("\n\n")
		sb.WriteString(c.Text)
	}
	if c.URL != "" {
		sb.WriteString("\n\n")
		sb.WriteString(c.URL)
	}
	return sb.String()
}

func attachments(c post.Content) []channels.Attachment {
	if len(c.MediaURLs) == 0 {
		return nil
	}
	out := make([]channels.Attachment, 0, len(c.MediaURLs))
	for _, u := range c.MediaURLs {
		out = append(out, channels.Attachment{Type: "image", URL: u})
	}
	return out
}

func pause(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
