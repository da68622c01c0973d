package channels

import (
	"context"
	"encoding/json"
	"log/slog"
	"sort"
	"sync"
)

type channelEntry struct {
	channel  Channel
	platform string
}

// Dispatcher holds the open channels and routes outbound messages by
// channel name.
type Dispatcher struct {
	mu        sync.RWMutex
	channels  map[string]*channelEntry
	factories map[string]ChannelFactory
	logger    *slog.Logger
}

// DispatcherOption configures a Dispatcher.
type DispatcherOption func(*Dispatcher)

// WithLogger sets a custom logger for the dispatcher.
func WithLogger(l *slog.Logger) DispatcherOption {
	return func(d *Dispatcher) { d.logger = l }
}

// NewDispatcher creates an empty Dispatcher.
func NewDispatcher(opts ...DispatcherOption) *Dispatcher {
	d := &Dispatcher{
		channels:  make(map[string]*channelEntry),
		factories: make(map[string]ChannelFactory),
		logger:    slog.Default(),
	}
	for _, o := range opts {
		o(d)
	}
	return d
}

// RegisterPlatform registers a ChannelFactory for a platform name.
func (d *Dispatcher) RegisterPlatform(platform string, f ChannelFactory) {
	d.mu.Lock()
	d.factories[platform] = f
	d.mu.Unlock()
}

// Open creates the named channel, replacing (and closing) any channel
// already open under that name.
func (d *Dispatcher) Open(name, platform string, config json.RawMessage) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	factory, ok := d.factories[platform]
	if !ok {
		return &ErrNoPlatformFactory{Channel: name, Platform: platform}
	}
	if len(config) == 0 {
		config = json.RawMessage(`{}`)
	}
	ch, err := factory(name, config)
	if err != nil {
		return err
	}
	if old, ok := d.channels[name]; ok {
		d.closeEntry(name, old)
	}
	d.channels[name] = &channelEntry{channel: ch, platform: platform}
	d.logger.Info("channels: channel opened", "channel", name, "platform", platform)
	return nil
}

// Send sends an outbound message through msg.ChannelName.
func (d *Dispatcher) Send(ctx context.Context, msg Message) error {
	d.mu.RLock()
	entry, ok := d.channels[msg.ChannelName]
	d.mu.RUnlock()
	if !ok {
		return &ErrChannelNotFound{Channel: msg.ChannelName}
	}
	if msg.Platform == "" {
		msg.Platform = entry.platform
	}
	return entry.channel.Send(ctx, msg)
}

// Has reports whether name is open.
func (d *Dispatcher) Has(name string) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	_, ok := d.channels[name]
	return ok
}

// Names returns the open channel names, sorted.
func (d *Dispatcher) Names() []string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	names := make([]string, 0, len(d.channels))
	for n := range d.channels {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Status returns the ChannelStatus for a named channel.
func (d *Dispatcher) Status(name string) (ChannelStatus, bool) {
	d.mu.RLock()
	entry, ok := d.channels[name]
	d.mu.RUnlock()
	if !ok {
		return ChannelStatus{}, false
	}
	return entry.channel.Status(), true
}

func (d *Dispatcher) closeEntry(name string, entry *channelEntry) {
	if err := entry.channel.Close(); err != nil {
		d.logger.Error("channels: close failed", "channel", name, "platform", entry.platform, "error", err)
		return
	}
	d.logger.Info("channels: channel closed", "channel", name, "platform", entry.platform)
}

// Close closes every open channel.
func (d *Dispatcher) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	for name, entry := range d.channels {
		d.closeEntry(name, entry)
	}
	d.channels = make(map[string]*channelEntry)
	return nil
}
