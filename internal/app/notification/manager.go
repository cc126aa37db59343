// Package notification provides the notification manager for broadcasting events.
package notification

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	zlog "github.com/rs/zerolog/log"
)

// Type represents a notification type.
type Type string

const (
	TypeNowPlaying   Type = "now_playing"
	TypeProgress     Type = "progress"
	TypeTrackEnded   Type = "track_ended"
	TypeTrackSkipped Type = "track_skipped"
	TypeTrackFailed  Type = "track_failed"
	TypeQueueEmpty   Type = "queue_empty"
	TypeStateChanged Type = "state_changed"
	TypeDisconnected Type = "disconnected"
	TypeInitialState Type = "initial_state"
)

// TrackInfo is the track part of a notification.
type TrackInfo struct {
	Title         string `json:"title"`
	SourceURL     string `json:"source_url"`
	Duration      string `json:"duration"`
	DurationSec   int    `json:"duration_sec"`
	RequesterID   string `json:"requester_id,omitempty"`
	RequesterName string `json:"requester_name,omitempty"`
}

// Notification is a playback event addressed to one guild.
type Notification struct {
	SequenceNo uint64     `json:"sequence_no"`
	Type       Type       `json:"type"`
	GuildID    string     `json:"guild_id"`
	State      string     `json:"state"`
	Track      *TrackInfo `json:"track,omitempty"`
	ElapsedSec int        `json:"elapsed_sec"`
	Line       string     `json:"line,omitempty"`
	Error      string     `json:"error,omitempty"`
	Timestamp  time.Time  `json:"timestamp"`
}

// Stream represents a notification stream for a subscriber.
type Stream interface {
	Send(*Notification) error
}

// subscription represents a subscriber's subscription.
type subscription struct {
	id      string
	guildID string // empty receives every guild
	stream  Stream
}

func (s *subscription) wants(guildID string) bool {
	return s.guildID == "" || s.guildID == guildID
}

// DefaultSendTimeout bounds a single subscriber send during Broadcast.
const DefaultSendTimeout = 500 * time.Millisecond

// Manager manages notification subscriptions and broadcasting.
type Manager struct {
	mu            sync.RWMutex
	subscriptions map[string]*subscription
	sequenceNo    uint64
	sequenceNoMu  sync.Mutex
	sendTimeout   time.Duration
}

// NewManager creates a new notification manager.
func NewManager() *Manager {
	return &Manager{
		subscriptions: make(map[string]*subscription),
		sendTimeout:   DefaultSendTimeout,
	}
}

// Subscribe adds a new subscription and returns the subscription ID.
// An empty guildID subscribes to every guild.
func (m *Manager) Subscribe(stream Stream, guildID string) string {
	m.mu.Lock()
	defer m.mu.Unlock()

	id := uuid.New().String()
	m.subscriptions[id] = &subscription{
		id:      id,
		guildID: guildID,
		stream:  stream,
	}
	zlog.Debug().Msgf("notification: subscribed: id=%s guild=%q", id, guildID)
	return id
}

// NextSequenceNo returns the next sequence number and increments the counter.
func (m *Manager) NextSequenceNo() uint64 {
	m.sequenceNoMu.Lock()
	defer m.sequenceNoMu.Unlock()
	m.sequenceNo++
	return m.sequenceNo
}

// Unsubscribe removes a subscription.
func (m *Manager) Unsubscribe(subscriptionID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.subscriptions, subscriptionID)
}

// Broadcast sends a notification to every subscriber of its guild.
// Each stream send is done in a goroutine with a timeout to prevent blocking.
func (m *Manager) Broadcast(notification *Notification) error {
	notification.SequenceNo = m.NextSequenceNo()
	if notification.Timestamp.IsZero() {
		notification.Timestamp = time.Now()
	}

	m.mu.RLock()
	// Copy subscriptions to avoid holding lock during sends
	subs := make([]*subscription, 0, len(m.subscriptions))
	for _, sub := range m.subscriptions {
		if sub.wants(notification.GuildID) {
			subs = append(subs, sub)
		}
	}
	m.mu.RUnlock()

	var wg sync.WaitGroup
	for _, sub := range subs {
		wg.Add(1)
		go func(s *subscription) {
			defer wg.Done()
			ctx, cancel := context.WithTimeout(context.Background(), m.sendTimeout)
			defer cancel()

			done := make(chan error, 1)
			go func() {
				done <- s.stream.Send(notification)
			}()

			select {
			case err := <-done:
				if err != nil {
					zlog.Debug().Msgf("notification: send failed: id=%s err=%v", s.id, err)
				}
			case <-ctx.Done():
				zlog.Debug().Msgf("notification: send timed out: id=%s seq=%d", s.id, notification.SequenceNo)
			}
		}(sub)
	}

	wg.Wait()
	return nil
}

// Send sends a notification to a specific subscriber.
func (m *Manager) Send(subscriptionID string, notification *Notification) error {
	m.mu.RLock()
	sub, ok := m.subscriptions[subscriptionID]
	m.mu.RUnlock()
	if !ok {
		return nil
	}

	return sub.stream.Send(notification)
}

// SubscriberCount returns the number of active subscribers.
func (m *Manager) SubscriberCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.subscriptions)
}

// Close closes the manager and removes all subscriptions.
func (m *Manager) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.subscriptions = make(map[string]*subscription)
}
