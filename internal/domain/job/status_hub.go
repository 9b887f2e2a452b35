// Package job holds process-local job coordination: fan-out of status updates to observers.
package job

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/target/meeting-processor/internal/core"
	"github.com/target/meeting-processor/internal/domain/model"
)

// ErrSubscriberRequired indicates a hub cannot be constructed without a subscriber.
var ErrSubscriberRequired = errors.New("status subscriber is required")

const subscriberBuffer = 16

// StatusHubOptions configure the status hub.
type StatusHubOptions struct {
	Subscriber core.StatusSubscriber
	Topic      string
	Backoff    time.Duration
	Logger     *slog.Logger
}

// StatusHub listens on the status topic and fans updates out to per-job observers.
// The topic listener runs only while at least one observer is subscribed.
type StatusHub struct {
	subscriber core.StatusSubscriber
	topic      string
	backoff    time.Duration
	logger     *slog.Logger

	mu       sync.Mutex
	subs     map[string]map[chan model.StatusUpdate]struct{}
	count    int
	listener *topicListener
}

// topicListener tracks one run of the topic listener. ready is closed while
// the listener holds a confirmed subscription and replaced when it drops.
type topicListener struct {
	cancel context.CancelFunc
	ready  chan struct{}
	live   bool
	done   chan struct{}
}

// NewStatusHub constructs a StatusHub.
func NewStatusHub(opts StatusHubOptions) (*StatusHub, error) {
	if opts.Subscriber == nil {
		return nil, ErrSubscriberRequired
	}
	topic := opts.Topic
	if topic == "" {
		topic = "meeting_updates"
	}
	backoff := opts.Backoff
	if backoff <= 0 {
		backoff = 250 * time.Millisecond
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &StatusHub{
		subscriber: opts.Subscriber,
		topic:      topic,
		backoff:    backoff,
		logger:     logger.With("component", "status_hub"),
		subs:       make(map[string]map[chan model.StatusUpdate]struct{}),
	}, nil
}

// Subscribe registers an observer for jobID and waits until the topic
// subscription is live, so any update published after it returns is delivered.
// The returned function removes the observer and closes its channel.
// When ctx ends first the observer is removed and the context error returned.
func (h *StatusHub) Subscribe(ctx context.Context, jobID string) (func(), <-chan model.StatusUpdate, error) {
	h.mu.Lock()
	if h.listener == nil {
		listenCtx, cancel := context.WithCancel(context.Background())
		l := &topicListener{cancel: cancel, ready: make(chan struct{}), done: make(chan struct{})}
		h.listener = l
		go h.listenLoop(listenCtx, l)
	}
	ready, done := h.listener.ready, h.listener.done

	ch := make(chan model.StatusUpdate, subscriberBuffer)
	if h.subs[jobID] == nil {
		h.subs[jobID] = make(map[chan model.StatusUpdate]struct{})
	}
	h.subs[jobID][ch] = struct{}{}
	h.count++
	h.mu.Unlock()

	unsub := func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		observers := h.subs[jobID]
		if observers == nil {
			return
		}
		if _, ok := observers[ch]; !ok {
			return
		}
		delete(observers, ch)
		drainAndClose(ch)
		h.count--
		if len(observers) == 0 {
			delete(h.subs, jobID)
		}
		if h.count == 0 {
			h.stopListener()
		}
	}

	select {
	case <-ready:
		return unsub, ch, nil
	case <-done:
		// Stopped by StopAll; the observer channel is already closed.
		return unsub, ch, nil
	case <-ctx.Done():
		unsub()
		return nil, nil, fmt.Errorf("wait for status subscription: %w", ctx.Err())
	}
}

// StopAll stops the listener and closes every observer channel.
func (h *StatusHub) StopAll() {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.stopListener()
	for jobID, observers := range h.subs {
		for ch := range observers {
			drainAndClose(ch)
		}
		delete(h.subs, jobID)
	}
	h.count = 0
}

func (h *StatusHub) stopListener() {
	if h.listener == nil {
		return
	}
	h.listener.cancel()
	close(h.listener.done)
	h.listener = nil
}

// setLive records whether l holds a confirmed subscription.
func (h *StatusHub) setLive(l *topicListener, live bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if l.live == live {
		return
	}
	l.live = live
	if live {
		close(l.ready)
		return
	}
	l.ready = make(chan struct{})
}

func (h *StatusHub) listenLoop(ctx context.Context, l *topicListener) {
	for ctx.Err() == nil {
		sub, err := h.subscriber.Subscribe(ctx, h.topic)
		if err != nil {
			if ctx.Err() == nil {
				h.logger.WarnContext(ctx, "status subscription failed", "topic", h.topic, "error", err)
			}
			if !h.sleep(ctx) {
				return
			}
			continue
		}

		h.setLive(l, true)
		err = h.receive(ctx, sub)
		h.setLive(l, false)
		_ = sub.Close()
		if ctx.Err() != nil {
			return
		}
		h.logger.WarnContext(ctx, "status subscription interrupted", "topic", h.topic, "error", err)
		if !h.sleep(ctx) {
			return
		}
	}
}

func (h *StatusHub) receive(ctx context.Context, sub core.StatusSubscription) error {
	for {
		payload, err := sub.Receive(ctx)
		if err != nil {
			return err
		}
		var update model.StatusUpdate
		if err := json.Unmarshal(payload, &update); err != nil {
			h.logger.DebugContext(ctx, "ignoring malformed status update", "error", err)
			continue
		}
		if update.JobID == "" {
			update.JobID = update.Status.ID
		}
		h.dispatch(update)
	}
}

func (h *StatusHub) sleep(ctx context.Context) bool {
	timer := time.NewTimer(h.backoff)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

// dispatch delivers update to every observer of its job. A full observer loses
// its oldest pending update so the newest state always gets through.
func (h *StatusHub) dispatch(update model.StatusUpdate) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for ch := range h.subs[update.JobID] {
		select {
		case ch <- update:
			continue
		default:
		}
		select {
		case <-ch:
		default:
		}
		select {
		case ch <- update:
		default:
		}
	}
}

// drainAndClose removes any buffered updates before closing the channel so
// receivers observe a closed channel immediately.
func drainAndClose(ch chan model.StatusUpdate) {
	for {
		select {
		case <-ch:
		default:
			close(ch)
			return
		}
	}
}
