// Package notify delivers operator notifications with an at-least-once
// guarantee: messages that cannot be delivered are queued in the store,
// survive restarts, and are flushed in order once the channel recovers.
package notify

import (
	"fmt"
	"time"

	"github.com/raymondclowe/ttslo-sub000/internal/logger"
	"github.com/raymondclowe/ttslo-sub000/internal/metrics"
	"github.com/raymondclowe/ttslo-sub000/internal/models"
	"github.com/raymondclowe/ttslo-sub000/internal/storage"
)

// Sink delivers one message to one recipient. Implementations retry
// transient failures internally; a returned error means the message did
// not go out and must be queued.
type Sink interface {
	Send(recipient, text string) error
}

// Notifier fans a message out to every recipient and owns the offline
// queue. Not safe for concurrent use.
type Notifier struct {
	sink       Sink
	store      *storage.Store
	recipients []string

	queue            []models.QueueItem
	unreachableSince time.Time
	now              func() time.Time
}

// NewNotifier restores any queued messages from the store. A nil sink or
// empty recipient list turns the notifier into a log-only sink.
func NewNotifier(sink Sink, store *storage.Store, recipients []string) (*Notifier, error) {
	queue, since, err := store.LoadQueue()
	if err != nil {
		return nil, fmt.Errorf("restore notification queue: %w", err)
	}
	if len(queue) > 0 {
		logger.Info("Restored %d queued notification(s) from a previous run", len(queue))
	}
	return &Notifier{
		sink:             sink,
		store:            store,
		recipients:       recipients,
		queue:            queue,
		unreachableSince: since,
		now:              time.Now,
	}, nil
}

// Pending reports how many messages are waiting for delivery.
func (n *Notifier) Pending() int { return len(n.queue) }

// Broadcast sends text to every recipient. Queued backlog is flushed
// first so messages always arrive in the order they were produced; while
// the channel is down new messages go straight to the queue. The channel
// is marked unreachable only when no recipient at all could be reached,
// so one bad recipient never blocks the others.
func (n *Notifier) Broadcast(text string) {
	if n.sink == nil || len(n.recipients) == 0 {
		logger.Info("Notification (delivery disabled): %s", text)
		return
	}

	n.flush()

	now := n.now()
	delivered := 0
	failed := 0
	for _, recipient := range n.recipients {
		item := models.QueueItem{Recipient: recipient, Message: text, Timestamp: now}
		if !n.unreachableSince.IsZero() {
			item.Reason = "channel unreachable"
			n.queue = append(n.queue, item)
			metrics.NotificationsQueued.Inc()
			continue
		}
		if err := n.sink.Send(recipient, text); err != nil {
			logger.Warn("Notification to %s failed, queueing: %v", recipient, err)
			item.Reason = err.Error()
			n.queue = append(n.queue, item)
			metrics.NotificationsQueued.Inc()
			failed++
			continue
		}
		metrics.NotificationsSent.Inc()
		delivered++
	}
	if delivered == 0 && failed > 0 && n.unreachableSince.IsZero() {
		n.unreachableSince = now
	}
	n.persist()
}

// BroadcastDetached sends text on a background goroutine and waits at
// most wait for it to finish, so a shutdown path is never blocked on
// network I/O. Best effort: on timeout the send keeps running until the
// process exits.
func (n *Notifier) BroadcastDetached(text string, wait time.Duration) {
	done := make(chan struct{})
	go func() {
		n.Broadcast(text)
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(wait):
		logger.Warn("Exit notification still in flight after %v, not waiting", wait)
	}
}

// Flush retries the queued backlog without producing a new message.
// Useful on shutdown and from the periodic loop.
func (n *Notifier) Flush() {
	if n.sink == nil {
		return
	}
	n.flush()
	n.persist()
}

// flush announces recovery and drains the queue oldest first. Every item
// is attempted; only the still-failing ones are re-queued, in order, so
// a single bad recipient cannot jam delivery for everyone else.
func (n *Notifier) flush() {
	if n.unreachableSince.IsZero() && len(n.queue) == 0 {
		return
	}

	if !n.unreachableSince.IsZero() {
		notice := fmt.Sprintf(
			"🔔 Notification delivery restored. The channel was unreachable since %s; %d queued message(s) follow.",
			n.unreachableSince.UTC().Format(time.RFC3339), len(n.queue))
		delivered := false
		for _, recipient := range n.recipients {
			if err := n.sink.Send(recipient, notice); err != nil {
				logger.Debug("Recovery notice to %s failed, channel still down: %v", recipient, err)
				continue
			}
			delivered = true
		}
		if !delivered {
			return
		}
		logger.Info("Notification channel recovered, draining %d queued message(s)", len(n.queue))
		n.unreachableSince = time.Time{}
	}

	var still []models.QueueItem
	for _, item := range n.queue {
		if err := n.sink.Send(item.Recipient, item.Message); err != nil {
			logger.Warn("Queued notification to %s still failing: %v", item.Recipient, err)
			still = append(still, item)
			continue
		}
		metrics.NotificationsSent.Inc()
	}
	n.queue = still
}

func (n *Notifier) persist() {
	if err := n.store.SaveQueue(n.queue, n.unreachableSince); err != nil {
		logger.Error("Persisting notification queue failed: %v", err)
	}
}
