package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"net"
	"os"
	"os/exec"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/you/rumble-actor/internal/actions"
	"github.com/you/rumble-actor/internal/actor"
	"github.com/you/rumble-actor/internal/archive"
	"github.com/you/rumble-actor/internal/clip"
	"github.com/you/rumble-actor/internal/commands"
	"github.com/you/rumble-actor/internal/config"
	"github.com/you/rumble-actor/internal/core"
	"github.com/you/rumble-actor/internal/httpapi"
	"github.com/you/rumble-actor/internal/rumble"
	"github.com/you/rumble-actor/internal/thanker"
	"github.com/you/rumble-actor/internal/version"
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds)
	_ = godotenv.Load()
	setupSlog()

	var (
		versionFlag bool
		httpAddr    string
		streamID    string
		dvrMode     bool
	)
	flag.BoolVar(&versionFlag, "version", false, "Print build version and exit")
	flag.StringVar(&httpAddr, "http-addr", "", "HTTP status/metrics address (e.g., :8765)")
	flag.StringVar(&streamID, "stream-id", "", "Stream ID to attach to (default: latest live stream)")
	flag.BoolVar(&dvrMode, "dvr", false, "Download clip footage on demand instead of buffering")
	flag.Parse()

	if versionFlag {
		fmt.Printf(
			"actor version: %s (commit %s, built %s)\n",
			version.Version,
			version.Commit,
			version.BuildTime,
		)
		os.Exit(0)
	}

	cfg := config.Load()
	if httpAddr != "" {
		cfg.HTTPAddr = httpAddr
	}
	if streamID != "" {
		cfg.Chat.StreamID = streamID
	}
	log.Printf("%s", cfg.RedactedJSON())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		log.Printf("actor: received %s, shutting down", sig)
		cancel()
	}()

	// Resolve the stream, then authenticate.
	api := rumble.NewAPI(cfg.Chat.APIURL)
	chatID := cfg.Chat.StreamID
	if chatID == "" {
		ls, err := api.LatestLivestream(ctx)
		if err != nil {
			fatal("resolve livestream", err)
		}
		chatID = ls.ChatID
		log.Printf("actor: attached to livestream %q (chat %s)", ls.Title, chatID)
	}

	session, err := rumble.Login(ctx, cfg.Chat.Username, cfg.Chat.Password)
	if err != nil {
		fatal("login", err)
	}

	chat := rumble.NewChat(session, chatID)
	go func() {
		if err := chat.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			log.Printf("actor: chat stream exited: %v", err)
			cancel()
		}
	}()

	readyCtx, cancelReady := context.WithTimeout(ctx, 30*time.Second)
	err = chat.WaitReady(readyCtx)
	cancelReady()
	if err != nil {
		fatal("chat init", err)
	}
	if err := chat.VerifyStaff(); err != nil {
		fatal("verify staff", err)
	}

	a := actor.New(cfg.Chat.Username, cfg, chat, chat)

	// Moderation and link blocking run first so nothing downstream reacts
	// to a message that is about to vanish.
	if len(cfg.Moderation.Blocklist) > 0 {
		mod := actions.NewModerator(blocklistClassifier{terms: cfg.Moderation.Blocklist})
		mod.MuteLevel = cfg.Moderation.MuteLevel
		a.Pipeline().Register(mod)
	}
	a.Pipeline().Register(actions.NewURLBlocker(net.DefaultResolver))

	// Paid-message speech.
	var speaker *execSpeaker
	if cfg.TTS.Command != "" {
		speaker = &execSpeaker{command: cfg.TTS.Command}
		a.Pipeline().Register(actions.NewRantTTS(speaker, cfg.TTS.RantMinCents))
	}

	// Activity blips.
	if cfg.Blip.Command != "" {
		a.Pipeline().Register(actions.NewChatBlipper(execBlipPlayer{command: cfg.Blip.Command},
			cfg.Blip.Regen, cfg.Blip.ReduceFraction, cfg.Blip.StayDead))
	}

	// Timed announcements.
	if len(cfg.Announce.Messages) > 0 {
		tm := actions.NewTimedMessages(
			cfg.Announce.Messages, cfg.Announce.Delay, cfg.Announce.InBetween, a)
		a.Pipeline().Register(tm)
		go func() {
			if err := tm.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				log.Printf("actor: announcer exited: %v", err)
			}
		}()
	}

	// Archive last, recording only events the earlier actions let stand.
	var store *archive.Store
	if cfg.Archive.Path != "" {
		store, err = archive.Open(cfg.Archive.Path)
		if err != nil {
			fatal("open archive", err)
		}
		defer func() {
			if err := store.Close(); err != nil {
				log.Printf("actor: closing archive: %v", err)
			}
		}()
		buffered := archive.NewBufferedWriter(store, archive.BufferedOptions{
			BatchSize:     16,
			FlushInterval: 2 * time.Second,
		})
		defer func() {
			if err := buffered.Close(); err != nil {
				log.Printf("actor: flush archive: %v", err)
			}
		}()
		a.Pipeline().Register(actions.NewArchiver(buffered))
	}

	// Clip engine.
	var cache *clip.Cache
	if cfg.Clip.PlaylistURL != "" {
		cache = clip.NewCache(clip.NewHLSSource(cfg.Clip.PlaylistURL), clip.Options{
			Dir:           filepath.Join(cfg.Clip.SaveDir, ".cache"),
			Mode:          clipMode(dvrMode),
			MaxDuration:   cfg.Clip.MaxDuration,
			Qualities:     cfg.Clip.Qualities,
			SpeedFactor:   cfg.Clip.SpeedFactor,
			BenchmarkIter: cfg.Clip.BenchmarkIter,
		})
		if err := cache.Prime(ctx); err != nil {
			log.Printf("actor: clip engine disabled: %v", err)
			cache = nil
		} else {
			go func() {
				if err := cache.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
					log.Printf("actor: segment cache exited: %v", err)
				}
			}()
		}
	}

	// Commands.
	reg := a.Commands()
	must(reg.Register(commands.Help(reg)))
	must(reg.Register(commands.Lurk()))
	must(reg.Register(commands.Killswitch()))
	must(reg.Register(commands.NewRaffle().Command()))
	if speaker != nil {
		must(reg.Register(commands.TTS(speaker, cfg.TTS.PriceCents)))
	}
	if cache != nil {
		assembler := clip.NewAssembler(cache, clip.FFmpegConcatenator{}, nil, cfg.Clip.SaveDir)
		must(reg.Register(commands.Clip(assembler,
			cfg.Clip.DefaultDuration, cfg.Clip.MaxDuration, cfg.Clip.DefaultDuration)))
	}

	// Replay buffer pickup.
	if cfg.Clip.ReplayDir != "" {
		watcher := clip.NewReplayWatcher(cfg.Clip.ReplayDir, func(path string) {
			log.Printf("actor: replay buffer clip ready: %s", path)
			if err := a.SendMessage("Replay clip saved."); err != nil {
				log.Printf("actor: replay announce: %v", err)
			}
		})
		go func() {
			if err := watcher.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				log.Printf("actor: replay watcher exited: %v", err)
			}
		}()
	}

	// Thank followers and subscribers.
	th := thanker.New(api, a)
	go func() {
		if err := th.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			log.Printf("actor: thanker exited: %v", err)
		}
	}()

	a.OnRaid = func(ev *core.ChatEvent) {
		log.Printf("actor: raid notification from %s", ev.User.Username)
		if err := a.SendMessage("Welcome raiders!"); err != nil {
			log.Printf("actor: raid welcome: %v", err)
		}
	}

	// Operational HTTP endpoints.
	if cfg.HTTPAddr != "" {
		build := httpapi.BuildInfo{Version: version.Version, Revision: version.Commit}
		if version.BuildTime != "" && version.BuildTime != "unknown" {
			if t, err := time.Parse(time.RFC3339, version.BuildTime); err == nil {
				build.BuiltAt = t
			}
		}
		var apiStore httpapi.Store
		if store != nil {
			apiStore = store
		}
		srv := httpapi.New(apiStore, actorStatus{a}, httpapi.Options{Addr: cfg.HTTPAddr, Build: build})
		go func() {
			if err := srv.Start(); err != nil {
				log.Fatalf("actor: http api: %v", err)
			}
		}()
		defer func() {
			shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 5*time.Second)
			if err := srv.Shutdown(shutdownCtx); err != nil {
				log.Printf("actor: http api shutdown: %v", err)
			}
			cancelShutdown()
		}()
	}

	if cfg.Chat.InitMessage != "" {
		if err := a.SendMessage(cfg.Chat.InitMessage); err != nil {
			log.Printf("actor: init message: %v", err)
		}
	}

	if err := a.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		log.Printf("actor: run loop exited: %v", err)
	}
	log.Printf("actor: shutdown complete")
}

func setupSlog() {
	level := slog.LevelInfo
	switch strings.ToLower(os.Getenv("LOG_LEVEL")) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}
	var handler slog.Handler
	if strings.ToLower(os.Getenv("LOG_FORMAT")) == "json" {
		handler = slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level})
	} else {
		handler = slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})
	}
	slog.SetDefault(slog.New(handler))
}

func clipMode(dvr bool) clip.Mode {
	if dvr {
		return clip.ModeDVR
	}
	return clip.ModeBuffer
}

func fatal(step string, err error) {
	switch {
	case errors.Is(err, core.ErrConfiguration):
		log.Fatalf("actor: %s: configuration: %v", step, err)
	case errors.Is(err, core.ErrAuthentication):
		log.Fatalf("actor: %s: authentication: %v", step, err)
	case errors.Is(err, core.ErrPrivilege):
		log.Fatalf("actor: %s: the account must be channel staff: %v", step, err)
	default:
		log.Fatalf("actor: %s: %v", step, err)
	}
}

func must(err error) {
	if err != nil {
		log.Fatalf("actor: register command: %v", err)
	}
}

type actorStatus struct{ a *actor.Actor }

func (s actorStatus) OutboxDepth() int    { return s.a.Outbox().Depth() }
func (s actorStatus) LastSend() time.Time { return s.a.Outbox().LastSend() }
func (s actorStatus) Commands() []string  { return s.a.Commands().Names() }

// blocklistClassifier rejects any line containing a configured phrase.
type blocklistClassifier struct{ terms []string }

func (c blocklistClassifier) Acceptable(text string) (bool, error) {
	lower := strings.ToLower(text)
	for _, term := range c.terms {
		if strings.Contains(lower, strings.ToLower(term)) {
			return false, nil
		}
	}
	return true, nil
}

// execSpeaker voices text through an external command such as espeak.
type execSpeaker struct{ command string }

func (s *execSpeaker) Say(text string) error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	return exec.CommandContext(ctx, s.command, text).Run()
}

// execBlipPlayer invokes the sound player with the volume as its argument.
type execBlipPlayer struct{ command string }

func (p execBlipPlayer) Blip(volume float64) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := exec.CommandContext(ctx, p.command, strconv.FormatFloat(volume, 'f', 2, 64)).Run(); err != nil {
		log.Printf("actor: blip player: %v", err)
	}
}
