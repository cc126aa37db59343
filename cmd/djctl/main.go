// Package main provides the control CLI entry point.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/alecthomas/kingpin/v2"
	"github.com/joho/godotenv"

	apiconnect "github.com/szmak/djszmak-bot/internal/api/connect"
	"github.com/szmak/djszmak-bot/internal/app/notification"
	"github.com/szmak/djszmak-bot/internal/domain/track"
)

var (
	app    = kingpin.New("djctl", "djszmak bot control client")
	server = app.Flag("server", "Control server address").Default("http://localhost:8080").String()
	token  = app.Flag("token", "Admin token (or set ADMIN_TOKEN env)").Envar("ADMIN_TOKEN").String()
	guild  = app.Flag("guild", "Guild ID (or set DISCORD_GUILD_ID env)").Short('g').Envar("DISCORD_GUILD_ID").String()

	// list command
	listCmd = app.Command("list", "List guilds with a playback session")

	// status command
	statusCmd = app.Command("status", "Get a guild's playback status")

	// queue command
	queueCmd = app.Command("queue", "Show the queued tracks")

	// play command
	playCmd       = app.Command("play", "Play a YouTube or Spotify URL")
	playURL       = playCmd.Arg("url", "Track or playlist URL").Required().String()
	playChannel   = playCmd.Flag("channel", "Voice channel ID to join").String()
	playRequester = playCmd.Flag("as", "Requester name").String()

	// pause command
	pauseCmd = app.Command("pause", "Pause the current track")

	// resume command
	resumeCmd = app.Command("resume", "Resume the paused track")

	// skip command
	skipCmd = app.Command("skip", "Skip the current track")

	// stop command
	stopCmd = app.Command("stop", "Stop playback and clear the queue")

	// leave command
	leaveCmd = app.Command("leave", "Leave the voice channel")

	// volume command
	volumeCmd   = app.Command("volume", "Set the playback volume")
	volumeLevel = volumeCmd.Arg("level", "Volume (0-100)").Required().Int()

	// watch command
	watchCmd = app.Command("watch", "Stream playback notifications (all guilds unless --guild is set)")
)

func main() {
	// Load .env file if it exists (errors are ignored)
	_ = godotenv.Load()

	command := kingpin.MustParse(app.Parse(os.Args[1:]))

	if *token == "" {
		fmt.Println("Error: admin token is required (use --token or ADMIN_TOKEN env)")
		os.Exit(1)
	}

	client := apiconnect.NewControlClient(http.DefaultClient, *server, *token)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	switch command {
	case listCmd.FullCommand():
		list(ctx, client)
	case watchCmd.FullCommand():
		watch(ctx, client, *guild)
	default:
		if *guild == "" {
			fmt.Println("Error: guild ID is required (use --guild or DISCORD_GUILD_ID env)")
			os.Exit(1)
		}
		runGuildCommand(ctx, client, command, *guild)
	}
}

func runGuildCommand(ctx context.Context, client *apiconnect.ControlClient, command, guildID string) {
	switch command {
	case statusCmd.FullCommand():
		status(ctx, client, guildID)
	case queueCmd.FullCommand():
		queue(ctx, client, guildID)
	case playCmd.FullCommand():
		play(ctx, client, guildID)
	case pauseCmd.FullCommand():
		printResult(client.Pause(ctx, guildID))
	case resumeCmd.FullCommand():
		printResult(client.Resume(ctx, guildID))
	case skipCmd.FullCommand():
		printResult(client.Skip(ctx, guildID))
	case stopCmd.FullCommand():
		printResult(client.Stop(ctx, guildID))
	case leaveCmd.FullCommand():
		printResult(client.Leave(ctx, guildID))
	case volumeCmd.FullCommand():
		printResult(client.SetVolume(ctx, guildID, *volumeLevel))
	}
}

func exitOnError(err error) {
	if err != nil {
		fmt.Printf("Error: %v\n", err)
		os.Exit(1)
	}
}

func printResult(resp *apiconnect.CommandResponse, err error) {
	exitOnError(err)
	if !resp.Success {
		fmt.Printf("Failed: %s\n", resp.Message)
		os.Exit(1)
	}
	fmt.Println(resp.Message)
	if resp.Next != nil {
		fmt.Printf("Up next: %s [%s]\n", resp.Next.Title, resp.Next.Duration)
	}
	if resp.Removed > 0 {
		fmt.Printf("Removed %d queued tracks\n", resp.Removed)
	}
}

func play(ctx context.Context, client *apiconnect.ControlClient, guildID string) {
	resp, err := client.Play(ctx, &apiconnect.PlayRequest{
		GuildID:       guildID,
		ChannelID:     *playChannel,
		URL:           *playURL,
		RequesterName: *playRequester,
	})
	exitOnError(err)

	if !resp.Success {
		fmt.Printf("Failed: %s\n", resp.Message)
		os.Exit(1)
	}
	fmt.Println(resp.Message)
	for i, t := range resp.Tracks {
		fmt.Printf("  %d. %s [%s]\n", resp.Position+i, t.Title, t.Duration)
	}
}

func status(ctx context.Context, client *apiconnect.ControlClient, guildID string) {
	s, err := client.GetStatus(ctx, guildID)
	exitOnError(err)
	printStatus(*s)
}

func printStatus(s apiconnect.GuildStatus) {
	fmt.Printf("\n=== GUILD %s ===\n", s.GuildID)
	fmt.Printf("State: %s\n", s.State)
	fmt.Printf("Connected: %v", s.Connected)
	if s.ChannelID != "" {
		fmt.Printf(" (channel %s)", s.ChannelID)
	}
	fmt.Println()
	fmt.Printf("Volume: %d%%\n", s.Volume)
	fmt.Printf("Queue: %d tracks (%s)\n", s.QueueLength, track.FormatSeconds(s.QueueDurationSec))

	if s.Current != nil {
		fmt.Printf("\nCurrently Playing:\n")
		fmt.Printf("  Title: %s\n", s.Current.Title)
		fmt.Printf("  URL: %s\n", s.Current.SourceURL)
		if s.Current.RequesterName != "" {
			fmt.Printf("  Requested by: %s\n", s.Current.RequesterName)
		}
		fmt.Printf("  %s\n", s.Line)
	} else {
		fmt.Println("\nNo track currently playing")
	}
	fmt.Println()
}

func list(ctx context.Context, client *apiconnect.ControlClient) {
	resp, err := client.ListGuilds(ctx)
	exitOnError(err)

	if len(resp.Guilds) == 0 {
		fmt.Println("No active guilds")
		return
	}
	for _, g := range resp.Guilds {
		printStatus(g)
	}
}

func queue(ctx context.Context, client *apiconnect.ControlClient, guildID string) {
	resp, err := client.GetQueue(ctx, guildID)
	exitOnError(err)

	if len(resp.Tracks) == 0 {
		fmt.Println("The queue is empty")
		return
	}
	for i, t := range resp.Tracks {
		fmt.Printf("%d. %s [%s]", i+1, t.Title, t.Duration)
		if t.RequesterName != "" {
			fmt.Printf(" (%s)", t.RequesterName)
		}
		fmt.Println()
	}
	fmt.Printf("Total: %s\n", track.FormatSeconds(resp.TotalSec))
}

func watch(ctx context.Context, client *apiconnect.ControlClient, guildID string) {
	err := client.SubscribeNotifications(ctx, guildID, func(n *notification.Notification) bool {
		printNotification(n)
		return true
	})
	if err != nil && ctx.Err() == nil {
		exitOnError(err)
	}
}

func printNotification(n *notification.Notification) {
	ts := n.Timestamp.Format("15:04:05")
	title := ""
	if n.Track != nil {
		title = n.Track.Title
	}

	switch n.Type {
	case notification.TypeProgress, notification.TypeInitialState:
		fmt.Printf("[%s] #%d %s %s %s %s\n", ts, n.SequenceNo, n.GuildID, n.State, title, n.Line)
	case notification.TypeTrackFailed:
		fmt.Printf("[%s] #%d %s track failed: %s (%s)\n", ts, n.SequenceNo, n.GuildID, title, n.Error)
	default:
		fmt.Printf("[%s] #%d %s %s %s\n", ts, n.SequenceNo, n.GuildID, n.Type, title)
	}
}
