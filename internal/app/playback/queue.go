package playback

import (
	"time"

	"github.com/szmak/djszmak-bot/internal/domain/track"
)

// Queue is the FIFO holding area for pending tracks.
// It is not safe for concurrent use; the owning Controller serializes access.
type Queue struct {
	items []track.QueuedTrack
}

// NewQueue creates an empty queue.
func NewQueue() *Queue {
	return &Queue{items: make([]track.QueuedTrack, 0)}
}

// Enqueue appends a track to the tail.
func (q *Queue) Enqueue(qt track.QueuedTrack) {
	q.items = append(q.items, qt)
}

// Dequeue removes and returns the head. The second result is false if the queue is empty.
func (q *Queue) Dequeue() (track.QueuedTrack, bool) {
	if len(q.items) == 0 {
		return track.QueuedTrack{}, false
	}
	head := q.items[0]
	q.items[0] = track.QueuedTrack{}
	q.items = q.items[1:]
	return head, true
}

// Snapshot returns a copy of the queued tracks in play order.
func (q *Queue) Snapshot() []track.QueuedTrack {
	result := make([]track.QueuedTrack, len(q.items))
	copy(result, q.items)
	return result
}

// Clear removes all tracks and returns how many were removed.
func (q *Queue) Clear() int {
	n := len(q.items)
	q.items = make([]track.QueuedTrack, 0)
	return n
}

// Len returns the number of queued tracks.
func (q *Queue) Len() int {
	return len(q.items)
}

// TotalDuration returns the summed duration of tracks whose duration is known.
func (q *Queue) TotalDuration() time.Duration {
	var total time.Duration
	for _, qt := range q.items {
		if qt.Track.DurationKnown {
			total += qt.Track.Duration
		}
	}
	return total
}
