package playback

import (
	"context"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	zlog "github.com/rs/zerolog/log"

	"github.com/szmak/djszmak-bot/internal/domain/failure"
	"github.com/szmak/djszmak-bot/internal/domain/track"
)

// Errors
var (
	ErrClosed         = errors.New("controller is closed")
	ErrNoTracks       = errors.New("no tracks to play")
	ErrInvalidVolume  = errors.New("volume must be between 0 and 100")
	ErrNothingPlaying = errors.New("nothing is playing")
	ErrAlreadyPaused  = errors.New("already paused")
	ErrNotPaused      = errors.New("not paused")
	ErrNotConnected   = errors.New("not connected")
	ErrNoVoiceChannel = errors.New("no voice channel to join")
	ErrInterrupted    = errors.New("interrupted before the voice connection was ready")
)

// Config holds controller configuration.
type Config struct {
	TickInterval   time.Duration // Progress ticker cadence
	BarWidth       int           // Progress bar cells
	EventBuffer    int           // Capacity of the event channel
	ConnectTimeout time.Duration // Upper bound for joining a voice channel
	Volume         int           // Initial volume in percent (100 if zero)
	Clock          ClockFunc     // Ticker time source (SystemClock if nil)
}

// PlayOutcome describes how a play request was applied.
type PlayOutcome int

const (
	PlayQueued  PlayOutcome = iota // Tracks were appended behind the current track
	PlayStarted                    // The first requested track started playing
)

// PlayRequest asks the controller to play tracks in a voice channel.
type PlayRequest struct {
	ChannelID string              // Voice channel to join if not connected
	Tracks    []track.QueuedTrack // Tracks in play order
}

// PlayResult is the result of a play request.
type PlayResult struct {
	Outcome  PlayOutcome
	Position int                // 1-based queue position of the first track (PlayQueued)
	Current  *track.QueuedTrack // Track playing after the request, if any
}

// Status is a point-in-time view of a controller.
type Status struct {
	GuildID       string
	State         State
	Current       *track.QueuedTrack
	Elapsed       int
	Line          string
	QueueLength   int
	QueueDuration time.Duration
	Connected     bool
	ChannelID     string
	Volume        int
	Generation    uint64
}

type playReply struct {
	result PlayResult
	err    error
}

type streamEnd struct {
	generation uint64
	err        error
}

type joinResult struct {
	generation uint64
	conn       Connection
	err        error
}

// Controller is the playback state machine of one guild.
// All state below the plumbing fields is owned by the run loop; public methods
// post closures to the loop and wait for them.
type Controller struct {
	guildID   string
	config    Config
	source    AudioSource
	connector Connector

	// Loop-owned state
	queue        *Queue
	state        State
	current      *track.QueuedTrack
	elapsed      int
	conn         Connection
	channelID    string
	player       Player
	ticker       *Ticker
	tickerID     uint64
	generation   uint64
	volume       int
	pending      []track.QueuedTrack
	pendingReply chan<- playReply
	joinCancel   context.CancelFunc

	// Loop plumbing
	commands chan func()
	ticks    chan Tick
	ends     chan streamEnd
	joins    chan joinResult

	// Events
	eventCh   chan Event
	closeOnce sync.Once

	// Context
	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

// NewController creates a controller for a guild and starts its loop.
func NewController(guildID string, config Config, source AudioSource, connector Connector) *Controller {
	if config.TickInterval <= 0 {
		config.TickInterval = time.Second
	}
	if config.BarWidth <= 0 {
		config.BarWidth = DefaultBarWidth
	}
	if config.EventBuffer <= 0 {
		config.EventBuffer = 64
	}
	if config.ConnectTimeout <= 0 {
		config.ConnectTimeout = 15 * time.Second
	}
	if config.Volume <= 0 || config.Volume > 100 {
		config.Volume = 100
	}

	ctx, cancel := context.WithCancel(context.Background())
	c := &Controller{
		guildID:   guildID,
		config:    config,
		source:    source,
		connector: connector,
		queue:     NewQueue(),
		state:     StateIdle,
		volume:    config.Volume,
		commands:  make(chan func()),
		ticks:     make(chan Tick),
		ends:      make(chan streamEnd),
		joins:     make(chan joinResult),
		eventCh:   make(chan Event, config.EventBuffer),
		ctx:       ctx,
		cancel:    cancel,
		done:      make(chan struct{}),
	}
	go c.run()
	return c
}

// GuildID returns the guild this controller plays for.
func (c *Controller) GuildID() string {
	return c.guildID
}

// Events returns the event channel. It is closed by Close.
func (c *Controller) Events() <-chan Event {
	return c.eventCh
}

// Play enqueues tracks and starts playback if nothing is playing.
// When no voice connection exists, the controller joins req.ChannelID first and
// the call returns once the join has completed or failed.
func (c *Controller) Play(ctx context.Context, req PlayRequest) (PlayResult, error) {
	if len(req.Tracks) == 0 {
		return PlayResult{}, ErrNoTracks
	}

	reply := make(chan playReply, 1)
	if err := c.exec(func() { c.play(req, reply) }); err != nil {
		return PlayResult{}, err
	}

	select {
	case r := <-reply:
		return r.result, r.err
	case <-ctx.Done():
		return PlayResult{}, ctx.Err()
	case <-c.done:
		select {
		case r := <-reply:
			return r.result, r.err
		default:
			return PlayResult{}, ErrClosed
		}
	}
}

// Pause pauses the current track.
func (c *Controller) Pause() error {
	var err error
	if e := c.exec(func() { err = c.pause() }); e != nil {
		return e
	}
	return err
}

// Resume resumes the paused track.
func (c *Controller) Resume() error {
	var err error
	if e := c.exec(func() { err = c.resume() }); e != nil {
		return e
	}
	return err
}

// Skip stops the current track and plays the next one.
// It returns the track now playing, or nil if the queue was empty.
func (c *Controller) Skip() (*track.QueuedTrack, error) {
	var next *track.QueuedTrack
	var err error
	if e := c.exec(func() { next, err = c.skip() }); e != nil {
		return nil, e
	}
	return next, err
}

// Stop stops playback and clears the queue, keeping the voice connection.
// It returns the number of queued tracks removed.
func (c *Controller) Stop() (int, error) {
	var removed int
	if e := c.exec(func() { removed = c.stop() }); e != nil {
		return 0, e
	}
	return removed, nil
}

// Leave stops playback, clears the queue, and destroys the voice connection.
// It is safe to call in any state; ErrNotConnected reports that there was nothing to leave.
func (c *Controller) Leave() error {
	var err error
	if e := c.exec(func() { err = c.leave() }); e != nil {
		return e
	}
	return err
}

// SetVolume sets the playback volume in percent. It applies to the current
// track immediately and to every later track.
func (c *Controller) SetVolume(percent int) error {
	if percent < 0 || percent > 100 {
		return ErrInvalidVolume
	}
	return c.exec(func() {
		c.volume = percent
		if c.player != nil {
			c.player.SetVolume(percent)
		}
	})
}

// Queue returns a copy of the queued tracks.
func (c *Controller) Queue() ([]track.QueuedTrack, error) {
	var result []track.QueuedTrack
	if e := c.exec(func() { result = c.queue.Snapshot() }); e != nil {
		return nil, e
	}
	return result, nil
}

// Status returns the current controller status.
func (c *Controller) Status() (Status, error) {
	var s Status
	if e := c.exec(func() { s = c.status() }); e != nil {
		return Status{}, e
	}
	return s, nil
}

// Close stops the loop, releases the voice connection, and closes the event channel.
func (c *Controller) Close() {
	c.cancel()
	<-c.done
	c.closeOnce.Do(func() {
		close(c.eventCh)
	})
}

// exec runs fn on the loop and waits for it to finish.
func (c *Controller) exec(fn func()) error {
	finished := make(chan struct{})
	select {
	case c.commands <- func() { fn(); close(finished) }:
	case <-c.ctx.Done():
		return ErrClosed
	}

	select {
	case <-finished:
		return nil
	case <-c.done:
		select {
		case <-finished:
			return nil
		default:
			return ErrClosed
		}
	}
}

// run is the single dispatcher applying commands, ticks, stream ends, and join results.
func (c *Controller) run() {
	defer close(c.done)

	for {
		select {
		case <-c.ctx.Done():
			c.shutdown()
			return
		case fn := <-c.commands:
			fn()
		case t := <-c.ticks:
			c.onTick(t)
		case e := <-c.ends:
			c.onStreamEnd(e)
		case r := <-c.joins:
			c.onJoined(r)
		}
	}
}

func (c *Controller) play(req PlayRequest, reply chan<- playReply) {
	switch c.state {
	case StatePlaying, StatePaused:
		position := c.queue.Len() + 1
		c.enqueueAll(req.Tracks)
		reply <- playReply{result: PlayResult{Outcome: PlayQueued, Position: position, Current: c.current}}

	case StateConnecting:
		position := len(c.pending) + c.queue.Len() + 1
		c.enqueueAll(req.Tracks)
		reply <- playReply{result: PlayResult{Outcome: PlayQueued, Position: position}}

	default:
		if c.conn == nil {
			if req.ChannelID == "" {
				reply <- playReply{err: failure.MarkConnection(ErrNoVoiceChannel)}
				return
			}
			c.startJoin(req, reply)
			return
		}

		wasEmpty := c.queue.Len() == 0
		position := c.queue.Len() + 1
		c.enqueueAll(req.Tracks)
		current, err := c.advance()
		reply <- c.startReply(wasEmpty, position, current, err)
	}
}

// startReply builds the reply for a play request that triggered an advance.
func (c *Controller) startReply(wasEmpty bool, position int, current *track.QueuedTrack, err error) playReply {
	if current == nil {
		if err == nil {
			err = failure.MarkState(ErrNothingPlaying)
		}
		return playReply{err: err}
	}
	if wasEmpty {
		return playReply{result: PlayResult{Outcome: PlayStarted, Current: current}}
	}
	return playReply{result: PlayResult{Outcome: PlayQueued, Position: position - 1, Current: current}}
}

func (c *Controller) enqueueAll(tracks []track.QueuedTrack) {
	for _, qt := range tracks {
		c.queue.Enqueue(qt)
	}
}

func (c *Controller) startJoin(req PlayRequest, reply chan<- playReply) {
	c.generation++
	gen := c.generation
	guildID := c.guildID
	channelID := req.ChannelID

	ctx, cancel := context.WithTimeout(c.ctx, c.config.ConnectTimeout)
	c.joinCancel = cancel
	c.pending = append([]track.QueuedTrack(nil), req.Tracks...)
	c.pendingReply = reply
	c.channelID = channelID
	c.state = StateConnecting
	c.sendEvent(Event{Type: EventStateChanged})

	zlog.Debug().Msgf("playback: joining voice channel: guild=%s channel=%s generation=%d", guildID, channelID, gen)

	go func() {
		conn, err := c.connector.Connect(ctx, guildID, channelID)
		select {
		case c.joins <- joinResult{generation: gen, conn: conn, err: err}:
		case <-c.ctx.Done():
			if conn != nil {
				_ = conn.Disconnect()
			}
		}
	}()
}

func (c *Controller) onJoined(r joinResult) {
	if c.state != StateConnecting || r.generation != c.generation {
		zlog.Debug().Msgf("playback: dropping stale join result: guild=%s generation=%d current=%d", c.guildID, r.generation, c.generation)
		if r.conn != nil {
			if err := r.conn.Disconnect(); err != nil {
				zlog.Warn().Msgf("playback: failed to disconnect stale connection: guild=%s err=%v", c.guildID, err)
			}
		}
		return
	}

	if c.joinCancel != nil {
		c.joinCancel()
		c.joinCancel = nil
	}
	reply := c.pendingReply
	pending := c.pending
	c.pendingReply = nil
	c.pending = nil

	if r.err != nil {
		zlog.Warn().Msgf("playback: voice join failed: guild=%s channel=%s err=%v", c.guildID, c.channelID, r.err)
		c.state = StateIdle
		c.channelID = ""
		c.sendEvent(Event{Type: EventStateChanged})
		reply <- playReply{err: failure.Connection(r.err, "failed to join voice channel")}
		return
	}

	zlog.Info().Msgf("playback: joined voice channel: guild=%s channel=%s", c.guildID, c.channelID)
	c.conn = r.conn

	// Tracks queued while connecting play after the ones that triggered the join.
	queued := c.queue.Snapshot()
	c.queue.Clear()
	c.enqueueAll(pending)
	c.enqueueAll(queued)

	current, err := c.advance()
	reply <- c.startReply(true, 1, current, err)
}

// abortJoin cancels a pending voice join and fails the play request waiting on it.
func (c *Controller) abortJoin(cause error) {
	c.generation++
	if c.joinCancel != nil {
		c.joinCancel()
		c.joinCancel = nil
	}
	if c.pendingReply != nil {
		c.pendingReply <- playReply{err: cause}
		c.pendingReply = nil
	}
	c.pending = nil
	c.channelID = ""
}

// advance dequeues until a track opens or the queue is exhausted.
// It returns the track now playing, or nil with the last open error.
func (c *Controller) advance() (*track.QueuedTrack, error) {
	var lastErr error
	for {
		qt, ok := c.queue.Dequeue()
		if !ok {
			c.current = nil
			c.player = nil
			c.elapsed = 0
			c.state = StateIdle
			c.sendEvent(Event{Type: EventQueueEmpty})
			return nil, lastErr
		}

		c.generation++
		if err := c.start(qt); err != nil {
			lastErr = err
			zlog.Warn().Msgf("playback: failed to open track, advancing: guild=%s track=%s err=%v", c.guildID, qt.Track.Title, err)
			failed := qt
			c.sendEvent(Event{Type: EventTrackFailed, Track: &failed, Err: err})
			continue
		}
		return c.current, nil
	}
}

// start opens qt and begins playing it under the current generation.
func (c *Controller) start(qt track.QueuedTrack) error {
	stream, err := c.source.Open(c.ctx, qt.Track.SourceURL)
	if err != nil {
		if !errors.Is(err, failure.ErrStream) {
			err = failure.Stream(err, "failed to open audio stream")
		}
		return err
	}

	gen := c.generation
	player := c.conn.Play(stream)
	player.SetVolume(c.volume)

	c.current = &qt
	c.player = player
	c.elapsed = 0
	c.state = StatePlaying
	c.startTicker()
	go c.watch(gen, player)

	zlog.Debug().Msgf("playback: track started: guild=%s track=%s duration=%s generation=%d",
		c.guildID, qt.Track.Title, qt.Track.FormatDuration(), gen)

	c.sendEvent(Event{
		Type:  EventTrackStarted,
		Track: c.current,
		Line:  RenderProgress(0, qt.Track.DurationSeconds(), c.config.BarWidth),
	})
	return nil
}

// watch forwards the end of a player's stream to the loop, tagged with its generation.
func (c *Controller) watch(gen uint64, p Player) {
	select {
	case err := <-p.Done():
		select {
		case c.ends <- streamEnd{generation: gen, err: err}:
		case <-c.ctx.Done():
		}
	case <-c.ctx.Done():
	}
}

func (c *Controller) onStreamEnd(e streamEnd) {
	if e.generation != c.generation || !c.state.HasTrack() {
		zlog.Debug().Msgf("playback: ignoring stale stream end: guild=%s generation=%d current=%d", c.guildID, e.generation, c.generation)
		return
	}

	c.stopTicker()
	ended := c.current
	c.current = nil
	c.player = nil

	if e.err != nil {
		zlog.Warn().Msgf("playback: stream failed: guild=%s track=%s err=%v", c.guildID, ended.Track.Title, e.err)
		c.sendEvent(Event{Type: EventTrackFailed, Track: ended, Err: e.err})
	} else {
		c.sendEvent(Event{Type: EventTrackEnded, Track: ended})
	}

	_, _ = c.advance()
}

func (c *Controller) onTick(t Tick) {
	if t.TickerID != c.tickerID || c.state != StatePlaying {
		return
	}
	c.elapsed = t.Elapsed
	c.sendEvent(Event{
		Type:    EventProgress,
		Track:   c.current,
		Elapsed: t.Elapsed,
		Line:    t.Line,
	})
}

func (c *Controller) pause() error {
	switch c.state {
	case StatePlaying:
	case StatePaused:
		return failure.MarkState(ErrAlreadyPaused)
	default:
		return failure.MarkState(ErrNothingPlaying)
	}

	c.stopTicker()
	c.player.Pause()
	c.state = StatePaused
	c.sendEvent(Event{Type: EventStateChanged, Track: c.current, Elapsed: c.elapsed})
	return nil
}

func (c *Controller) resume() error {
	if c.state != StatePaused {
		return failure.MarkState(ErrNotPaused)
	}

	c.player.Resume()
	c.state = StatePlaying
	c.startTicker()
	c.sendEvent(Event{Type: EventStateChanged, Track: c.current, Elapsed: c.elapsed})
	return nil
}

func (c *Controller) skip() (*track.QueuedTrack, error) {
	if !c.state.HasTrack() {
		return nil, failure.MarkState(ErrNothingPlaying)
	}

	skipped := c.current
	c.stopCurrent()
	c.sendEvent(Event{Type: EventTrackSkipped, Track: skipped})

	next, _ := c.advance()
	return next, nil
}

func (c *Controller) stop() int {
	removed := c.queue.Clear()

	switch c.state {
	case StateConnecting:
		c.abortJoin(failure.MarkConnection(ErrInterrupted))
		c.state = StateIdle
	case StatePlaying, StatePaused:
		c.stopCurrent()
		c.state = StateIdle
	}

	c.sendEvent(Event{Type: EventStateChanged})
	return removed
}

func (c *Controller) leave() error {
	connected := c.conn != nil || c.state == StateConnecting

	c.queue.Clear()
	if c.state == StateConnecting {
		c.abortJoin(failure.MarkConnection(ErrInterrupted))
	}
	if c.state.HasTrack() {
		c.stopCurrent()
	}
	c.stopTicker()

	if c.conn != nil {
		if err := c.conn.Disconnect(); err != nil {
			zlog.Warn().Msgf("playback: disconnect failed: guild=%s err=%v", c.guildID, err)
		}
		c.conn = nil
	}
	c.channelID = ""
	c.state = StateTerminated

	if !connected {
		return failure.MarkState(ErrNotConnected)
	}
	zlog.Info().Msgf("playback: left voice channel: guild=%s", c.guildID)
	c.sendEvent(Event{Type: EventDisconnected})
	return nil
}

// stopCurrent cancels the ticker and the current stream. The generation is
// bumped first so an end signal racing with the stop is ignored.
func (c *Controller) stopCurrent() {
	c.stopTicker()
	c.generation++
	if c.player != nil {
		c.player.Stop()
		c.player = nil
	}
	c.current = nil
	c.elapsed = 0
}

func (c *Controller) startTicker() {
	c.stopTicker()
	c.tickerID++
	c.ticker = StartTicker(TickerConfig{
		ID:       c.tickerID,
		Start:    c.elapsed,
		Duration: c.current.Track.DurationSeconds(),
		Interval: c.config.TickInterval,
		BarWidth: c.config.BarWidth,
		Clock:    c.config.Clock,
	}, c.ticks)
}

func (c *Controller) stopTicker() {
	c.ticker.Stop()
	c.ticker = nil
}

func (c *Controller) status() Status {
	s := Status{
		GuildID:       c.guildID,
		State:         c.state,
		Current:       c.current,
		QueueLength:   c.queue.Len(),
		QueueDuration: c.queue.TotalDuration(),
		Connected:     c.conn != nil,
		ChannelID:     c.channelID,
		Volume:        c.volume,
		Generation:    c.generation,
	}
	if c.state.HasTrack() && c.current != nil {
		s.Elapsed = c.elapsed
		s.Line = RenderProgress(c.elapsed, c.current.Track.DurationSeconds(), c.config.BarWidth)
	}
	return s
}

// shutdown releases everything the loop owns. Called from the loop on cancellation.
func (c *Controller) shutdown() {
	if c.state == StateConnecting {
		c.abortJoin(ErrClosed)
	}
	c.stopCurrent()
	c.queue.Clear()
	if c.conn != nil {
		if err := c.conn.Disconnect(); err != nil {
			zlog.Warn().Msgf("playback: disconnect on shutdown failed: guild=%s err=%v", c.guildID, err)
		}
		c.conn = nil
	}
	c.state = StateTerminated
}

// sendEvent sends an event without blocking.
func (c *Controller) sendEvent(e Event) {
	e.GuildID = c.guildID
	e.State = c.state
	e.Generation = c.generation

	select {
	case c.eventCh <- e:
		// Successfully sent
	default:
		zlog.Debug().Msgf("playback: event channel full, dropping event: guild=%s type=%s", c.guildID, e.Type)
	}
}
