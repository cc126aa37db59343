// Package discord binds the playback sessions to Discord: slash commands,
// voice connections and the live progress message.
package discord

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/cockroachdb/errors"
	zlog "github.com/rs/zerolog/log"

	"github.com/szmak/djszmak-bot/internal/app/notification"
	"github.com/szmak/djszmak-bot/internal/app/playback"
	"github.com/szmak/djszmak-bot/internal/app/session"
	"github.com/szmak/djszmak-bot/internal/domain/track"
	"github.com/szmak/djszmak-bot/internal/infra/config"
)

// playTimeout bounds resolution plus the voice join of one play command.
const playTimeout = 90 * time.Second

// Sessions is the command surface of the session manager.
type Sessions interface {
	Play(ctx context.Context, req session.PlayRequest) (*session.PlayResponse, error)
	Pause(guildID string) error
	Resume(guildID string) error
	Skip(guildID string) (*track.QueuedTrack, error)
	Stop(guildID string) (int, error)
	Leave(guildID string) error
	SetVolume(guildID string, percent int) error
	Queue(guildID string) ([]track.QueuedTrack, error)
	Status(guildID string) (playback.Status, error)
	Message(code string, args ...any) string
}

// commandInput is a parsed slash command.
type commandInput struct {
	Name           string
	GuildID        string
	TextChannelID  string
	VoiceChannelID string
	User           track.Requester
	URL            string
	Volume         int
}

type reply struct {
	content   string
	ephemeral bool
}

// Bot routes slash commands to the session manager.
type Bot struct {
	session  *discordgo.Session
	sessions Sessions
	notifier *notification.Manager
	progress *ProgressUpdater
	config   config.DiscordConfig

	subscriptionID string
	ctx            context.Context
	cancel         context.CancelFunc
}

// NewSession creates a gateway session with the intents the bot needs and
// routes the library's logs through zerolog.
func NewSession(token string) (*discordgo.Session, error) {
	s, err := discordgo.New("Bot " + token)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create discord session")
	}
	s.Identify.Intents = discordgo.IntentsGuilds | discordgo.IntentsGuildVoiceStates
	s.LogLevel = discordgo.LogWarning
	discordgo.Logger = logBridge
	return s, nil
}

// NewBot creates a bot. notifier may be nil when progress messages are disabled.
func NewBot(s *discordgo.Session, sessions Sessions, notifier *notification.Manager, cfg config.DiscordConfig) *Bot {
	ctx, cancel := context.WithCancel(context.Background())
	b := &Bot{
		session:  s,
		sessions: sessions,
		notifier: notifier,
		config:   cfg,
		ctx:      ctx,
		cancel:   cancel,
	}
	if notifier != nil && !cfg.DisableProgress {
		b.progress = NewProgressUpdater(s, sessions.Message)
	}
	return b
}

// Open connects to the gateway and registers the slash commands.
func (b *Bot) Open() error {
	b.session.AddHandler(b.onReady)
	b.session.AddHandler(b.onInteraction)

	if err := b.session.Open(); err != nil {
		return errors.Wrap(err, "failed to open discord gateway")
	}
	if err := b.registerCommands(); err != nil {
		_ = b.session.Close()
		return err
	}

	if b.progress != nil {
		b.subscriptionID = b.notifier.Subscribe(b.progress, "")
		go b.progress.Run(b.ctx)
	}
	return nil
}

// Close disconnects from the gateway.
func (b *Bot) Close() error {
	if b.subscriptionID != "" {
		b.notifier.Unsubscribe(b.subscriptionID)
	}
	b.cancel()
	if err := b.session.Close(); err != nil {
		return errors.Wrap(err, "failed to close discord gateway")
	}
	return nil
}

func (b *Bot) registerCommands() error {
	guildIDs := b.config.GuildIDs
	if len(guildIDs) == 0 {
		guildIDs = []string{""}
	}
	for _, guildID := range guildIDs {
		if _, err := b.session.ApplicationCommandBulkOverwrite(b.config.ApplicationID, guildID, commands); err != nil {
			return errors.Wrapf(err, "failed to register slash commands for guild %q", guildID)
		}
		zlog.Info().Msgf("discord: slash commands registered: guild=%q count=%d", guildID, len(commands))
	}
	return nil
}

func (b *Bot) onReady(s *discordgo.Session, r *discordgo.Ready) {
	zlog.Info().Msgf("discord: ready: user=%s guilds=%d", r.User.Username, len(r.Guilds))
}

func (b *Bot) onInteraction(s *discordgo.Session, i *discordgo.InteractionCreate) {
	if i.Type != discordgo.InteractionApplicationCommand {
		return
	}
	in := parseCommand(i)
	zlog.Debug().Msgf("discord: command: name=%s guild=%s user=%s", in.Name, in.GuildID, in.User.Name)

	if in.GuildID == "" {
		b.respond(i, reply{content: b.sessions.Message("default_error"), ephemeral: true})
		return
	}

	if in.Name != "play" {
		b.respond(i, b.handle(b.ctx, in))
		return
	}

	if vs, err := s.State.VoiceState(in.GuildID, in.User.ID); err == nil && vs != nil {
		in.VoiceChannelID = vs.ChannelID
	}
	if in.VoiceChannelID == "" {
		b.respond(i, reply{content: b.sessions.Message("no_voice_channel")})
		return
	}

	// Resolution and voice join outlive the interaction's initial reply window.
	if err := s.InteractionRespond(i.Interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseDeferredChannelMessageWithSource,
	}); err != nil {
		zlog.Warn().Msgf("discord: failed to defer reply: guild=%s err=%v", in.GuildID, err)
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(b.ctx, playTimeout)
		defer cancel()
		r := b.handle(ctx, in)
		if _, err := s.InteractionResponseEdit(i.Interaction, &discordgo.WebhookEdit{Content: &r.content}); err != nil {
			zlog.Warn().Msgf("discord: failed to edit reply: guild=%s err=%v", in.GuildID, err)
		}
	}()
}

func (b *Bot) respond(i *discordgo.InteractionCreate, r reply) {
	data := &discordgo.InteractionResponseData{Content: r.content}
	if r.ephemeral {
		data.Flags = discordgo.MessageFlagsEphemeral
	}
	if err := b.session.InteractionRespond(i.Interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseChannelMessageWithSource,
		Data: data,
	}); err != nil {
		zlog.Warn().Msgf("discord: failed to reply: guild=%s err=%v", i.GuildID, err)
	}
}

func parseCommand(i *discordgo.InteractionCreate) commandInput {
	data := i.ApplicationCommandData()
	in := commandInput{
		Name:          data.Name,
		GuildID:       i.GuildID,
		TextChannelID: i.ChannelID,
	}

	user := i.User
	if i.Member != nil && i.Member.User != nil {
		user = i.Member.User
	}
	if user != nil {
		in.User = track.Requester{ID: user.ID, Name: user.Username}
	}

	for _, opt := range data.Options {
		switch opt.Name {
		case "url":
			in.URL = strings.TrimSpace(opt.StringValue())
		case "volume":
			in.Volume = int(opt.IntValue())
		}
	}
	return in
}

// handle runs one command and builds its reply.
func (b *Bot) handle(ctx context.Context, in commandInput) reply {
	msg := b.sessions.Message
	fail := func(err error) reply {
		return reply{content: msg(session.Code(err)), ephemeral: true}
	}

	switch in.Name {
	case "play":
		if b.progress != nil {
			b.progress.Bind(in.GuildID, in.TextChannelID)
		}
		resp, err := b.sessions.Play(ctx, session.PlayRequest{
			GuildID:   in.GuildID,
			ChannelID: in.VoiceChannelID,
			Input:     in.URL,
			Requester: in.User,
		})
		if err != nil {
			return reply{content: msg(session.Code(err))}
		}
		if resp.Code == "added_playlist" {
			return reply{content: msg("added_playlist", len(resp.Tracks))}
		}
		content := msg("added_to_queue", resp.Tracks[0].Title)
		if b.progress == nil && resp.Code == "now_playing" && resp.Current != nil {
			content += "\n" + msg("now_playing", resp.Current.Track.Title)
		}
		return reply{content: content}

	case "queue":
		items, err := b.sessions.Queue(in.GuildID)
		if err != nil {
			return fail(err)
		}
		return reply{content: b.renderQueue(items)}

	case "pause":
		if err := b.sessions.Pause(in.GuildID); err != nil {
			return fail(err)
		}
		return reply{content: msg("paused"), ephemeral: true}

	case "resume":
		if err := b.sessions.Resume(in.GuildID); err != nil {
			return fail(err)
		}
		return reply{content: msg("resumed"), ephemeral: true}

	case "stop":
		if _, err := b.sessions.Stop(in.GuildID); err != nil {
			return fail(err)
		}
		return reply{content: msg("stopped"), ephemeral: true}

	case "skip":
		next, err := b.sessions.Skip(in.GuildID)
		if err != nil {
			return fail(err)
		}
		if next == nil {
			return reply{content: msg("skipped_queue_empty"), ephemeral: true}
		}
		return reply{content: msg("skipped"), ephemeral: true}

	case "leave":
		if err := b.sessions.Leave(in.GuildID); err != nil {
			return reply{content: msg(session.Code(err))}
		}
		return reply{content: msg("left")}

	case "volume":
		if err := b.sessions.SetVolume(in.GuildID, in.Volume); err != nil {
			return fail(err)
		}
		return reply{content: msg("volume_set", in.Volume), ephemeral: true}

	case "progress":
		st, err := b.sessions.Status(in.GuildID)
		if err != nil {
			return fail(err)
		}
		if !st.State.HasTrack() || st.Current == nil {
			return reply{content: msg("nothing_playing"), ephemeral: true}
		}
		return reply{content: msg("now_playing", st.Current.Track.Title) + "\n" + st.Line}

	default:
		return reply{content: msg("default_error"), ephemeral: true}
	}
}

// renderQueue lists queued titles with their durations and requesters.
func (b *Bot) renderQueue(items []track.QueuedTrack) string {
	if len(items) == 0 {
		return b.sessions.Message("queue_empty")
	}

	var sb strings.Builder
	sb.WriteString(b.sessions.Message("queue_header"))
	var total time.Duration
	for i, qt := range items {
		fmt.Fprintf(&sb, "\n%d. %s [%s]", i+1, qt.Track.Title, qt.Track.FormatDuration())
		if qt.Requester.Name != "" {
			fmt.Fprintf(&sb, " (%s)", qt.Requester.Name)
		}
		if qt.Track.DurationKnown {
			total += qt.Track.Duration
		}
	}
	if total > 0 {
		fmt.Fprintf(&sb, "\nTotal: %s", track.FormatSeconds(int(total/time.Second)))
	}
	return sb.String()
}

// logBridge routes discordgo's log output through zerolog.
func logBridge(msgL, caller int, format string, a ...interface{}) {
	msg := "discordgo: " + fmt.Sprintf(format, a...)
	switch msgL {
	case discordgo.LogError:
		zlog.Error().Msg(msg)
	case discordgo.LogWarning:
		zlog.Warn().Msg(msg)
	case discordgo.LogInformational:
		zlog.Info().Msg(msg)
	default:
		zlog.Debug().Msg(msg)
	}
}
