package notification

import (
	"sync"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingStream struct {
	mu       sync.Mutex
	received []*Notification
	err      error
	block    chan struct{}
}

func (s *recordingStream) Send(n *Notification) error {
	if s.block != nil {
		<-s.block
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.received = append(s.received, n)
	return s.err
}

func (s *recordingStream) types() []Type {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Type, 0, len(s.received))
	for _, n := range s.received {
		out = append(out, n.Type)
	}
	return out
}

func TestManager_BroadcastFiltersByGuild(t *testing.T) {
	m := NewManager()
	all := &recordingStream{}
	guildA := &recordingStream{}
	guildB := &recordingStream{}
	m.Subscribe(all, "")
	m.Subscribe(guildA, "a")
	m.Subscribe(guildB, "b")
	require.Equal(t, 3, m.SubscriberCount())

	require.NoError(t, m.Broadcast(&Notification{Type: TypeNowPlaying, GuildID: "a"}))
	require.NoError(t, m.Broadcast(&Notification{Type: TypeQueueEmpty, GuildID: "b"}))

	assert.Equal(t, []Type{TypeNowPlaying, TypeQueueEmpty}, all.types())
	assert.Equal(t, []Type{TypeNowPlaying}, guildA.types())
	assert.Equal(t, []Type{TypeQueueEmpty}, guildB.types())
}

func TestManager_BroadcastAssignsSequence(t *testing.T) {
	m := NewManager()
	stream := &recordingStream{}
	m.Subscribe(stream, "")

	first := &Notification{Type: TypeProgress, GuildID: "g"}
	second := &Notification{Type: TypeProgress, GuildID: "g"}
	require.NoError(t, m.Broadcast(first))
	require.NoError(t, m.Broadcast(second))

	assert.Equal(t, uint64(1), first.SequenceNo)
	assert.Equal(t, uint64(2), second.SequenceNo)
	assert.False(t, first.Timestamp.IsZero())
}

func TestManager_BroadcastSurvivesSlowAndFailingStreams(t *testing.T) {
	m := NewManager()
	m.sendTimeout = 20 * time.Millisecond

	slow := &recordingStream{block: make(chan struct{})}
	defer close(slow.block)
	failing := &recordingStream{err: errors.New("closed")}
	healthy := &recordingStream{}
	m.Subscribe(slow, "")
	m.Subscribe(failing, "")
	m.Subscribe(healthy, "")

	start := time.Now()
	require.NoError(t, m.Broadcast(&Notification{Type: TypeStateChanged, GuildID: "g"}))
	assert.Less(t, time.Since(start), time.Second)
	assert.Equal(t, []Type{TypeStateChanged}, healthy.types())
	assert.Equal(t, []Type{TypeStateChanged}, failing.types())
}

func TestManager_UnsubscribeAndSend(t *testing.T) {
	m := NewManager()
	stream := &recordingStream{}
	id := m.Subscribe(stream, "g")

	require.NoError(t, m.Send(id, &Notification{Type: TypeNowPlaying}))
	m.Unsubscribe(id)
	require.NoError(t, m.Send(id, &Notification{Type: TypeProgress}))
	require.NoError(t, m.Broadcast(&Notification{Type: TypeProgress, GuildID: "g"}))

	assert.Equal(t, []Type{TypeNowPlaying}, stream.types())
	assert.Equal(t, 0, m.SubscriberCount())

	m.Subscribe(stream, "")
	m.Close()
	assert.Equal(t, 0, m.SubscriberCount())
}
