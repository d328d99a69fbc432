package chat

import "time"

// Config holds tunables of the chat service, parsed from environment variables
type Config struct {
	StoreTimeout     time.Duration `env:"STORE_TIMEOUT" envDefault:"5s"`
	NotifyTimeout    time.Duration `env:"NOTIFY_TIMEOUT" envDefault:"2s"`
	PageSize         int           `env:"HISTORY_PAGE_SIZE" envDefault:"50"`
	MaxPageSize      int           `env:"HISTORY_MAX_PAGE_SIZE" envDefault:"100"`
	PreviewSize      int           `env:"ROOM_PREVIEW_SIZE" envDefault:"20"`
	MaxContentLength int           `env:"MAX_CONTENT_LENGTH" envDefault:"4000"`
}

// DefaultConfig returns the same values the env defaults produce
func DefaultConfig() Config {
	return Config{
		StoreTimeout:     5 * time.Second,
		NotifyTimeout:    2 * time.Second,
		PageSize:         50,
		MaxPageSize:      100,
		PreviewSize:      20,
		MaxContentLength: 4000,
	}
}
