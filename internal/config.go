package internal

import (
	"fmt"
	"time"
)

type Config struct {
	Host           string `env:"HOST,default=0.0.0.0"`
	Port           int    `env:"PORT,default=8080"`
	BadgerFilepath string `env:"BADGER_FILEPATH,required=true"`
	BlugeFilepath  string `env:"BLUGE_FILEPATH,required=true"`
	LogLevel       string `env:"LOG_LEVEL,default=info"`
	AllowedOrigins string `env:"ALLOWED_ORIGINS,default=*"`

	BufferSize           int `env:"BUFFER_SIZE,default=1024"`
	ConnectionBufferSize int `env:"CONNECTION_BUFFER_SIZE,default=256"`

	PresenceGrace     time.Duration `env:"PRESENCE_GRACE,default=5s"`
	DedupWindow       time.Duration `env:"DEDUP_WINDOW,default=2m"`
	HeartbeatInterval time.Duration `env:"HEARTBEAT_INTERVAL,default=60s"`
	MetricInterval    time.Duration `env:"METRIC_INTERVAL,default=30s"`
	RestartInterval   time.Duration `env:"RESTART_INTERVAL,default=200ms"`

	StoreRetries     int    `env:"STORE_RETRIES,default=3"`
	HistoryPageLimit int    `env:"HISTORY_PAGE_LIMIT,default=50"`
	MaxContentLength int    `env:"MAX_CONTENT_LENGTH,default=2000"`
	CharReplacement  string `env:"CHARACTER_REPLACEMENT,default=*"`
}

// CharacterRune validates that the replacement setting is one character.
func CharacterRune(str string) (rune, error) {
	r := []rune(str)
	if len(r) != 1 {
		return 0, fmt.Errorf(
			"CHARACTER_REPLACEMENT must be a single character, got %q",
			str,
		)
	}
	return r[0], nil
}
