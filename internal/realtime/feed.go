// Package realtime subscribes to the remote change feed and fans
// insert/update/delete notifications out to registered handlers.
//
// One logical channel is maintained per owner identifier and shared across
// consumers. The feed runs independently of the active session and its
// mic-state guard.
package realtime

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/url"
	"sync"
	"time"

	"github.com/coder/websocket"
)

// Action is the kind of change reported by the feed.
type Action string

const (
	ActionInsert Action = "insert"
	ActionUpdate Action = "update"
	ActionDelete Action = "delete"
)

// Event is one change notification for a remote record.
type Event struct {
	Namespace string `json:"namespace"`
	Action    Action `json:"action"`
	RecordID  string `json:"record_id"`
	OwnerID   string `json:"owner_id"`
}

// Handler receives change events for one owner.
type Handler func(Event)

const (
	initialBackoff = time.Second
	maxBackoff     = 30 * time.Second
)

// Feed manages the websocket subscriptions, one shared connection per
// owner identifier.
type Feed struct {
	baseURL string

	mu       sync.Mutex
	channels map[string]*ownerChannel
}

type ownerChannel struct {
	owner  string
	cancel context.CancelFunc
	done   chan struct{}

	mu       sync.Mutex
	handlers map[string]Handler
}

// New creates a feed client for the given websocket base URL.
func New(baseURL string) *Feed {
	return &Feed{
		baseURL:  baseURL,
		channels: map[string]*ownerChannel{},
	}
}

// Subscribe registers a handler under a caller-chosen key for the owner's
// channel. Registering the same key again replaces the previous handler,
// so repeated registration from a re-initialized consumer is harmless.
// The first subscriber for an owner opens the connection; the returned
// function unregisters the handler and closes the connection when it was
// the last one.
func (f *Feed) Subscribe(ownerID, key string, fn Handler) func() {
	f.mu.Lock()
	ch, ok := f.channels[ownerID]
	if !ok {
		ctx, cancel := context.WithCancel(context.Background())
		ch = &ownerChannel{
			owner:    ownerID,
			cancel:   cancel,
			done:     make(chan struct{}),
			handlers: map[string]Handler{},
		}
		f.channels[ownerID] = ch
		go f.run(ctx, ch)
	}

	// Registered while still holding f.mu: a concurrent final unsubscribe
	// must not retire the channel between the lookup and the registration.
	ch.mu.Lock()
	ch.handlers[key] = fn
	ch.mu.Unlock()
	f.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			f.unsubscribe(ownerID, key)
		})
	}
}

func (f *Feed) unsubscribe(ownerID, key string) {
	f.mu.Lock()
	ch, ok := f.channels[ownerID]
	if !ok {
		f.mu.Unlock()
		return
	}

	ch.mu.Lock()
	delete(ch.handlers, key)
	empty := len(ch.handlers) == 0
	ch.mu.Unlock()

	if empty {
		delete(f.channels, ownerID)
		f.mu.Unlock()
		ch.cancel()
		<-ch.done
		return
	}
	f.mu.Unlock()
}

// Close tears down every owner channel.
func (f *Feed) Close() {
	f.mu.Lock()
	channels := make([]*ownerChannel, 0, len(f.channels))
	for owner, ch := range f.channels {
		channels = append(channels, ch)
		delete(f.channels, owner)
	}
	f.mu.Unlock()

	for _, ch := range channels {
		ch.cancel()
		<-ch.done
	}
}

// run maintains the websocket connection for one owner, reconnecting with
// exponential backoff until the channel is cancelled.
func (f *Feed) run(ctx context.Context, ch *ownerChannel) {
	defer close(ch.done)

	backoff := initialBackoff
	for {
		if ctx.Err() != nil {
			return
		}

		conn, _, err := websocket.Dial(ctx, f.feedURL(ch.owner), nil)
		if err != nil {
			slog.Debug("Change feed dial failed",
				"owner_id", ch.owner,
				"backoff", backoff,
				"error", err)
			select {
			case <-ctx.Done():
				return
			case <-time.After(backoff):
			}
			backoff = min(backoff*2, maxBackoff)
			continue
		}

		slog.Info("Change feed connected", "owner_id", ch.owner)
		backoff = initialBackoff

		f.readLoop(ctx, ch, conn)

		if err := conn.Close(websocket.StatusNormalClosure, "resubscribing"); err != nil {
			slog.Debug("Failed to close feed connection", "error", err)
		}
	}
}

func (f *Feed) readLoop(ctx context.Context, ch *ownerChannel, conn *websocket.Conn) {
	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			if ctx.Err() == nil {
				slog.Debug("Change feed read failed, reconnecting",
					"owner_id", ch.owner,
					"error", err)
			}
			return
		}

		var event Event
		if err := json.Unmarshal(data, &event); err != nil {
			slog.Warn("Dropping malformed change event", "error", err)
			continue
		}
		if event.OwnerID == "" {
			event.OwnerID = ch.owner
		}

		ch.mu.Lock()
		handlers := make([]Handler, 0, len(ch.handlers))
		for _, fn := range ch.handlers {
			handlers = append(handlers, fn)
		}
		ch.mu.Unlock()

		for _, fn := range handlers {
			fn(event)
		}
	}
}

func (f *Feed) feedURL(ownerID string) string {
	return f.baseURL + "?user_id=" + url.QueryEscape(ownerID)
}
