// Package main provides the bot entry point.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/exec"
	"os/signal"
	"sort"
	"strings"
	"syscall"
	"time"

	"connectrpc.com/connect"
	"github.com/alecthomas/kingpin/v2"
	"github.com/cockroachdb/errors"
	"github.com/joho/godotenv"
	zlog "github.com/rs/zerolog/log"
	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"

	apiconnect "github.com/szmak/djszmak-bot/internal/api/connect"
	"github.com/szmak/djszmak-bot/internal/app/filter"
	"github.com/szmak/djszmak-bot/internal/app/resolver"
	"github.com/szmak/djszmak-bot/internal/app/session"
	"github.com/szmak/djszmak-bot/internal/infra/config"
	"github.com/szmak/djszmak-bot/internal/infra/discord"
	"github.com/szmak/djszmak-bot/internal/infra/extractor"
	"github.com/szmak/djszmak-bot/internal/infra/logger"
	"github.com/szmak/djszmak-bot/internal/infra/spotify"
	"github.com/szmak/djszmak-bot/internal/infra/ytdlp"
)

var (
	app        = kingpin.New("djbot", "djszmak Discord music bot")
	configPath = app.Flag("config", "Path to config file").Default("config/djbot.yaml").String()
	verbose    = app.Flag("verbose", "Enable verbose (DEBUG) logging").Short('v').Bool()
	logfile    = app.Flag("logfile", "Path to log file (overrides log.output)").String()

	// list-filters command
	listFiltersCmd = app.Command("list-filters", "List available filters and exit")
)

func init() {
	app.Command("start", "Start the bot (default)").Default()
}

func main() {
	// Load .env file if it exists (errors are ignored)
	_ = godotenv.Load()

	command := kingpin.MustParse(app.Parse(os.Args[1:]))

	if command == listFiltersCmd.FullCommand() {
		printFilters()
		return
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config from %s: %v\n", *configPath, err)
		os.Exit(1)
	}

	loggerConfig := logger.Config{
		Output: cfg.Log.Output,
		Level:  cfg.Log.Level,
		File:   cfg.Log.File,
	}
	// Command-line flags win over the config file
	if *verbose {
		loggerConfig.Level = "debug"
	}
	if *logfile != "" {
		loggerConfig.Output = "file"
		loggerConfig.File = *logfile
	}
	closer, err := logger.Init(loggerConfig)
	if err != nil {
		panic(fmt.Sprintf("Failed to initialize logger: %v", err))
	}
	defer closer.Close()

	zlog.Info().Msgf("Loaded config from %s", *configPath)

	if err := run(cfg); err != nil {
		zlog.Error().Msgf("Bot error: %v", err)
		closer.Close()
		os.Exit(1)
	}
}

// run executes the main bot logic. Using a separate function ensures
// defer statements are executed even when returning with an error.
func run(cfg *config.Config) error {
	ctx := context.Background()

	var catalog resolver.Catalog
	if cfg.HasCatalog() {
		spotifyClient, err := spotify.New(ctx, spotify.Config{
			ClientID:     cfg.Spotify.ClientID,
			ClientSecret: cfg.Spotify.ClientSecret,
			Market:       cfg.Spotify.Market,
			MaxRetries:   cfg.Spotify.MaxRetries,
			RetryDelay:   time.Duration(cfg.Spotify.RetryDelayMs) * time.Millisecond,
		})
		if err != nil {
			return errors.Wrap(err, "failed to create Spotify client")
		}
		catalog = spotifyClient
	} else {
		zlog.Info().Msg("Spotify credentials not configured, Spotify URLs will be rejected")
	}

	video := ytdlp.New(ytdlp.Config{
		Binary:        cfg.Extractor.YtDlpPath,
		Timeout:       time.Duration(cfg.YtDlp.TimeoutSec) * time.Second,
		PlaylistLimit: cfg.YtDlp.PlaylistLimit,
	})
	source := extractor.New(extractor.Config{
		YtDlpPath:  cfg.Extractor.YtDlpPath,
		FFmpegPath: cfg.Extractor.FFmpegPath,
		Format:     cfg.Extractor.Format,
	})

	dg, err := discord.NewSession(cfg.Discord.Token)
	if err != nil {
		return err
	}

	sessionMgr, err := session.NewManager(cfg, resolver.New(catalog, video), source, discord.NewConnector(dg, cfg.Discord.Bitrate))
	if err != nil {
		return errors.Wrap(err, "failed to create session manager")
	}

	bot := discord.NewBot(dg, sessionMgr, sessionMgr.GetNotificationManager(), cfg.Discord)
	if err := bot.Open(); err != nil {
		sessionMgr.Close()
		return err
	}
	zlog.Info().Msgf("Bot connected: application=%s guilds=%d", cfg.Discord.ApplicationID, len(cfg.Discord.GuildIDs))

	var server *http.Server
	serverErrCh := make(chan error, 1)
	if cfg.Server.Enabled {
		server = newControlServer(cfg, sessionMgr)
		go func() {
			zlog.Info().Msgf("Starting control server: addr=%s", server.Addr)
			if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				serverErrCh <- err
			}
		}()
	}

	// Execute startup hook if configured
	executeHooks(cfg.Server.Hooks.OnStarted, "on_started")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	var runErr error
	select {
	case <-sigCh:
		zlog.Info().Msg("Received shutdown signal...")
	case err := <-serverErrCh:
		runErr = errors.Wrap(err, "control server error")
	}

	// Leave every voice channel while the gateway is still open
	sessionMgr.Close()

	if server != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			zlog.Error().Msgf("Failed to shutdown control server: %v", err)
		}
	}

	if err := bot.Close(); err != nil {
		zlog.Error().Msgf("Failed to close bot: %v", err)
	}

	zlog.Info().Msg("Bot stopped")

	// Execute shutdown hook if configured
	executeHooks(cfg.Server.Hooks.OnStopped, "on_stopped")

	return runErr
}

// newControlServer creates the control API server with h2c (HTTP/2 cleartext)
// support so streaming subscriptions work without TLS.
func newControlServer(cfg *config.Config, sessionMgr *session.Manager) *http.Server {
	path, handler := apiconnect.NewControlServiceHandler(
		apiconnect.NewControlService(sessionMgr),
		connect.WithInterceptors(apiconnect.NewAdminAuthInterceptor(cfg)),
	)

	mux := http.NewServeMux()
	mux.Handle(path, handler)

	return &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           h2c.NewHandler(mux, &http2.Server{}),
		ReadHeaderTimeout: 10 * time.Second,
	}
}

// printFilters prints available filters.
func printFilters() {
	registered := filter.GetRegistered()
	names := make([]string, 0, len(registered))
	for name := range registered {
		names = append(names, name)
	}
	sort.Strings(names)

	fmt.Println("Available Filters:")
	for _, name := range names {
		f := registered[name]()
		codes := strings.Join(f.ReturnCodes(), ", ")
		fmt.Printf("  %-30s - %s [codes: %s]\n", f.Name(), f.Description(), codes)
	}
}

// executeHooks runs a list of shell commands.
func executeHooks(hooks []string, stage string) {
	if len(hooks) == 0 {
		return
	}

	zlog.Info().Msgf("Executing %s hooks (%d commands)", stage, len(hooks))

	for _, hook := range hooks {
		zlog.Info().Msgf("Executing hook: %s", hook)
		// Use sh -c to allow shell features like redirection or pipes
		cmd := exec.Command("sh", "-c", hook)
		cmd.Stdout = os.Stdout
		cmd.Stderr = os.Stderr

		if err := cmd.Run(); err != nil {
			zlog.Error().Err(err).Msgf("Failed to execute hook: %s", hook)
		}
	}
}
