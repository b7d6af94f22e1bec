package config

import (
	"encoding/json"
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	Chat       ChatConfig
	Message    MessageConfig
	Archive    ArchiveConfig
	Clip       ClipConfig
	Announce   AnnounceConfig
	Moderation ModerationConfig
	TTS        TTSConfig
	Blip       BlipConfig
	HTTPAddr   string
}

type ChatConfig struct {
	Username       string
	Password       string
	StreamID       string // explicit stream; empty means latest-live lookup
	APIURL         string // metadata API endpoint with key
	IgnoreUsers    []string
	InvalidRespond bool
	MaxInboxAge    time.Duration
	InitMessage    string
}

type MessageConfig struct {
	BotPrefix     string
	CommandPrefix string
	MaxLen        int
	MaxMultiLen   int
	SendCooldown  time.Duration
	OutboxSize    int
}

type ArchiveConfig struct {
	Path string // empty disables the archive
}

type ClipConfig struct {
	PlaylistURL     string // HLS master playlist; empty disables the clip engine
	SaveDir         string
	DefaultDuration time.Duration
	MaxDuration     time.Duration
	// Qualities in ascending preference order; the best usable one wins.
	Qualities     []string
	SpeedFactor   float64
	BenchmarkIter int
	ReplayDir     string // OBS replay buffer output dir; empty disables the watcher
}

type AnnounceConfig struct {
	Messages  []string
	Delay     time.Duration
	InBetween int
}

type ModerationConfig struct {
	Blocklist []string // phrases that get a message deleted; empty disables the moderator
	MuteLevel string   // mute severity applied alongside deletion; empty means delete only
}

type TTSConfig struct {
	Command      string // speech synthesis command; empty disables the tts features
	RantMinCents int
	PriceCents   int
}

type BlipConfig struct {
	Command        string // sound player command; empty disables the blipper
	Regen          time.Duration
	ReduceFraction float64
	StayDead       time.Duration
}

const (
	defaultMaxLen       = 200
	defaultMaxMultiLen  = 1000
	defaultSendCooldown = 3 * time.Second
	defaultOutboxSize   = 64
	defaultMaxInboxAge  = 30 * time.Second
	defaultBotPrefix    = "\U0001F916: "
	defaultCmdPrefix    = "!"
)

func Load() Config {
	cfg := Config{}

	cfg.Chat.Username = strings.TrimSpace(os.Getenv("ACTOR_USERNAME"))
	cfg.Chat.Password = os.Getenv("ACTOR_PASSWORD")
	cfg.Chat.StreamID = strings.TrimSpace(os.Getenv("ACTOR_STREAM_ID"))
	cfg.Chat.APIURL = strings.TrimSpace(os.Getenv("ACTOR_API_URL"))
	cfg.Chat.IgnoreUsers = splitList(os.Getenv("ACTOR_IGNORE_USERS"))
	cfg.Chat.InvalidRespond = readBool("ACTOR_INVALID_COMMAND_RESPOND", false)
	cfg.Chat.MaxInboxAge = readDuration("ACTOR_MAX_INBOX_AGE", defaultMaxInboxAge)
	cfg.Chat.InitMessage = os.Getenv("ACTOR_INIT_MESSAGE")
	if cfg.Chat.InitMessage == "" {
		cfg.Chat.InitMessage = "Hello, Rumble!"
	}

	cfg.Message.BotPrefix = defaultBotPrefix
	if v, ok := os.LookupEnv("ACTOR_BOT_PREFIX"); ok {
		cfg.Message.BotPrefix = v
	}
	cfg.Message.CommandPrefix = defaultCmdPrefix
	if v := strings.TrimSpace(os.Getenv("ACTOR_COMMAND_PREFIX")); v != "" {
		cfg.Message.CommandPrefix = v
	}
	cfg.Message.MaxLen = readInt("ACTOR_MESSAGE_MAX_LEN", defaultMaxLen)
	cfg.Message.MaxMultiLen = readInt("ACTOR_MESSAGE_MAX_MULTI_LEN", defaultMaxMultiLen)
	cfg.Message.SendCooldown = readDuration("ACTOR_SEND_COOLDOWN", defaultSendCooldown)
	cfg.Message.OutboxSize = readInt("ACTOR_OUTBOX_SIZE", defaultOutboxSize)

	cfg.Archive.Path = strings.TrimSpace(os.Getenv("ACTOR_ARCHIVE_SQLITE_PATH"))

	cfg.Clip.PlaylistURL = strings.TrimSpace(os.Getenv("ACTOR_CLIP_PLAYLIST_URL"))
	cfg.Clip.SaveDir = strings.TrimSpace(os.Getenv("ACTOR_CLIP_SAVE_DIR"))
	if cfg.Clip.SaveDir == "" {
		cfg.Clip.SaveDir = "clips"
	}
	cfg.Clip.DefaultDuration = readDuration("ACTOR_CLIP_DEFAULT_DURATION", 60*time.Second)
	cfg.Clip.MaxDuration = readDuration("ACTOR_CLIP_MAX_DURATION", 120*time.Second)
	cfg.Clip.Qualities = splitList(os.Getenv("ACTOR_CLIP_QUALITIES"))
	if len(cfg.Clip.Qualities) == 0 {
		cfg.Clip.Qualities = []string{"360p", "720p", "1080p"}
	}
	cfg.Clip.SpeedFactor = readFloat("ACTOR_CLIP_SPEED_FACTOR", 2)
	if cfg.Clip.SpeedFactor < 1 {
		cfg.Clip.SpeedFactor = 1
	}
	cfg.Clip.BenchmarkIter = readInt("ACTOR_CLIP_BENCHMARK_ITER", 5)
	cfg.Clip.ReplayDir = strings.TrimSpace(os.Getenv("ACTOR_CLIP_REPLAY_DIR"))

	cfg.Announce.Messages = splitLines(os.Getenv("ACTOR_ANNOUNCE_MESSAGES"))
	cfg.Announce.Delay = readDuration("ACTOR_ANNOUNCE_DELAY", 10*time.Minute)
	cfg.Announce.InBetween = readInt("ACTOR_ANNOUNCE_IN_BETWEEN", 5)

	cfg.Moderation.Blocklist = splitLines(os.Getenv("ACTOR_MODERATION_BLOCKLIST"))
	cfg.Moderation.MuteLevel = strings.TrimSpace(os.Getenv("ACTOR_MODERATION_MUTE_LEVEL"))

	cfg.TTS.Command = strings.TrimSpace(os.Getenv("ACTOR_TTS_COMMAND"))
	cfg.TTS.RantMinCents = readInt("ACTOR_TTS_RANT_MIN_CENTS", 500)
	cfg.TTS.PriceCents = readInt("ACTOR_TTS_PRICE_CENTS", 100)

	cfg.Blip.Command = strings.TrimSpace(os.Getenv("ACTOR_BLIP_COMMAND"))
	cfg.Blip.Regen = readDuration("ACTOR_BLIP_REGEN", 10*time.Second)
	cfg.Blip.ReduceFraction = readFloat("ACTOR_BLIP_REDUCE_FRACTION", 0.2)
	if cfg.Blip.ReduceFraction > 1 {
		cfg.Blip.ReduceFraction = 1
	}
	cfg.Blip.StayDead = readDuration("ACTOR_BLIP_STAY_DEAD", 5*time.Second)

	cfg.HTTPAddr = strings.TrimSpace(os.Getenv("ACTOR_HTTP_ADDR"))

	return cfg
}

// splitList splits on commas/semicolons/whitespace and drops empties.
func splitList(raw string) []string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	parts := strings.FieldsFunc(raw, func(r rune) bool {
		switch r {
		case ',', ';', ' ', '\t', '\n':
			return true
		}
		return false
	})
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		out = append(out, p)
	}
	return out
}

// splitLines splits on "|" so announcement texts may contain spaces.
func splitLines(raw string) []string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, "|")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		out = append(out, p)
	}
	return out
}

func readInt(name string, def int) int {
	raw := strings.TrimSpace(os.Getenv(name))
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return def
	}
	return n
}

func readFloat(name string, def float64) float64 {
	raw := strings.TrimSpace(os.Getenv(name))
	if raw == "" {
		return def
	}
	f, err := strconv.ParseFloat(raw, 64)
	if err != nil || f <= 0 {
		return def
	}
	return f
}

func readBool(name string, def bool) bool {
	raw := strings.TrimSpace(os.Getenv(name))
	if raw == "" {
		return def
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return def
	}
	return v
}

func readDuration(name string, def time.Duration) time.Duration {
	raw := strings.TrimSpace(os.Getenv(name))
	if raw == "" {
		return def
	}
	d, err := time.ParseDuration(raw)
	if err != nil || d <= 0 {
		return def
	}
	return d
}

func (c Config) Redacted() map[string]any {
	return map[string]any{
		"chat": map[string]any{
			"username":        c.Chat.Username,
			"password":        redactString(c.Chat.Password),
			"stream_id":       c.Chat.StreamID,
			"api_url":         redactString(c.Chat.APIURL),
			"ignore_users":    append([]string(nil), c.Chat.IgnoreUsers...),
			"invalid_respond": c.Chat.InvalidRespond,
			"max_inbox_age":   c.Chat.MaxInboxAge.String(),
		},
		"message": map[string]any{
			"max_len":       c.Message.MaxLen,
			"max_multi_len": c.Message.MaxMultiLen,
			"send_cooldown": c.Message.SendCooldown.String(),
			"outbox_size":   c.Message.OutboxSize,
		},
		"archive": map[string]any{"sqlite_path": c.Archive.Path},
		"clip": map[string]any{
			"playlist_url":   redactString(c.Clip.PlaylistURL),
			"save_dir":       c.Clip.SaveDir,
			"default":        c.Clip.DefaultDuration.String(),
			"max":            c.Clip.MaxDuration.String(),
			"qualities":      append([]string(nil), c.Clip.Qualities...),
			"speed_factor":   c.Clip.SpeedFactor,
			"benchmark_iter": c.Clip.BenchmarkIter,
			"replay_dir":     c.Clip.ReplayDir,
		},
		"announce": map[string]any{
			"messages":   len(c.Announce.Messages),
			"delay":      c.Announce.Delay.String(),
			"in_between": c.Announce.InBetween,
		},
		"moderation": map[string]any{
			"blocklist_terms": len(c.Moderation.Blocklist),
			"mute_level":      c.Moderation.MuteLevel,
		},
		"tts": map[string]any{
			"command":        c.TTS.Command,
			"rant_min_cents": c.TTS.RantMinCents,
			"price_cents":    c.TTS.PriceCents,
		},
		"blip": map[string]any{
			"command":         c.Blip.Command,
			"regen":           c.Blip.Regen.String(),
			"reduce_fraction": c.Blip.ReduceFraction,
			"stay_dead":       c.Blip.StayDead.String(),
		},
		"http_addr": c.HTTPAddr,
	}
}

func (c Config) RedactedJSON() []byte {
	data, _ := json.Marshal(c.Redacted())
	return data
}

func redactString(value string) string {
	if strings.TrimSpace(value) == "" {
		return ""
	}
	return "***REDACTED*** (len=" + strconv.Itoa(len(value)) + ")"
}
