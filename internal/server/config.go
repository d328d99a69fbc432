package server

import (
	"net/http"
	"strconv"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

type Option interface {
	apply(*config)
}

type optionFunc func(c *config)

func (f optionFunc) apply(c *config) { f(c) }

// config defines fields used for configuring Server instance
type config struct {
	httpServer *http.Server
	// handlers holds REST fallback endpoints, liveHandler hijacks its connection and skips REST middlewares
	handlers      map[string]http.Handler
	liveHandler   http.Handler
	afterShutdown []func()
	live          liveConfig
}

// liveConfig tunes websocket connections
type liveConfig struct {
	sendBuffer     int
	maxMessageSize int64
	eventsPerSec   rate.Limit
	burst          int
	writeWait      time.Duration
	pongWait       time.Duration
	pingPeriod     time.Duration
}

func defaultLiveConfig() liveConfig {
	return liveConfig{
		sendBuffer:     256,
		maxMessageSize: 64 << 10,
		eventsPerSec:   20,
		burst:          40,
		writeWait:      10 * time.Second,
		pongWait:       60 * time.Second,
		pingPeriod:     54 * time.Second,
	}
}

// EnvConfig defines fields used for parsing from environment variables
type EnvConfig struct {
	Host            string        `env:"HOST" envDefault:"0.0.0.0"`
	Port            uint16        `env:"PORT" envDefault:"9000"`
	ReadTimeout     time.Duration `env:"READ_TIMEOUT" envDefault:"5s"`
	WriteTimeout    time.Duration `env:"WRITE_TIMEOUT" envDefault:"10s"`
	RequestTimeout  time.Duration `env:"REQUEST_TIMEOUT" envDefault:"8s"`
	SendBuffer      int           `env:"WS_SEND_BUFFER" envDefault:"256"`
	MaxMessageSize  int64         `env:"WS_MAX_MESSAGE_SIZE" envDefault:"65536"`
	EventsPerSecond float64       `env:"WS_EVENTS_PER_SECOND" envDefault:"20"`
}

// WithEnvConfig enables processing exported EnvConfig struct to acts as a source of config parameters for http.Server
func WithEnvConfig(cfg EnvConfig) Option {
	return optionFunc(func(c *config) {
		c.httpServer.Addr = cfg.Host + ":" + strconv.FormatUint(uint64(cfg.Port), 10)
		c.httpServer.ReadTimeout = cfg.ReadTimeout
		c.httpServer.WriteTimeout = cfg.WriteTimeout
		if cfg.SendBuffer > 0 {
			c.live.sendBuffer = cfg.SendBuffer
		}
		if cfg.MaxMessageSize > 0 {
			c.live.maxMessageSize = cfg.MaxMessageSize
		}
		if cfg.EventsPerSecond > 0 {
			c.live.eventsPerSec = rate.Limit(cfg.EventsPerSecond)
			c.live.burst = int(cfg.EventsPerSecond*2) + 1
		}
	})
}

// ReadTimeout sets read timeout for http.Server
func ReadTimeout(d time.Duration) Option {
	return optionFunc(func(c *config) {
		c.httpServer.ReadTimeout = d
	})
}

// SendBuffer sets how many outbound events a live connection may queue before it is dropped as a slow consumer
func SendBuffer(n int) Option {
	return optionFunc(func(c *config) {
		c.live.sendBuffer = n
	})
}

// EventRate limits inbound events of a single live connection
func EventRate(perSecond float64, burst int) Option {
	return optionFunc(func(c *config) {
		c.live.eventsPerSec = rate.Limit(perSecond)
		c.live.burst = burst
	})
}

// Keepalive sets the ping period of live connections, a peer silent for longer than pongWait is disconnected
func Keepalive(pingPeriod, pongWait time.Duration) Option {
	return optionFunc(func(c *config) {
		c.live.pingPeriod = pingPeriod
		c.live.pongWait = pongWait
	})
}

// RegisterAfterShutdown registers a function to call after http.Server shutdown
// f will not be called in separated goroutine
func RegisterAfterShutdown(f func()) Option {
	return optionFunc(func(c *config) {
		c.afterShutdown = append(c.afterShutdown, f)
	})
}

// registerHandlers iterates over a handlers map and registers each handler for newly initialized http.ServeMux
// that http.ServeMux is used as a http.Handler for http.Server in config struct
func registerHandlers() Option {
	return optionFunc(func(c *config) {
		mux := http.NewServeMux()
		for pattern, h := range c.handlers {
			mux.Handle(pattern, h)
		}
		if c.liveHandler != nil {
			mux.Handle("/ws", c.liveHandler)
		}
		c.httpServer.Handler = mux
	})
}

// applyEnforcePostJson wraps each handler in handlers map with enforcePostJson middleware
func applyEnforcePostJson() Option {
	return optionFunc(func(c *config) {
		for pattern, h := range c.handlers {
			c.handlers[pattern] = enforcePostJson(h)
		}
	})
}

// applyAuth wraps each handler in handlers map with bearer authentication
func applyAuth(a TokenParser) Option {
	return optionFunc(func(c *config) {
		for pattern, h := range c.handlers {
			c.handlers[pattern] = authenticate(h, a)
		}
	})
}

// applyLog wraps each http.Handler in handlers map and the live handler with log middleware
func applyLog(logger *zap.Logger) Option {
	return optionFunc(func(c *config) {
		for pattern, h := range c.handlers {
			c.handlers[pattern] = log(h, logger)
		}
		if c.liveHandler != nil {
			c.liveHandler = log(c.liveHandler, logger)
		}
	})
}

// TimeoutHandler wraps each handler in handlers map in http.TimeoutHandler with provided duration and message.
// Live connections are long lived and are not wrapped.
func TimeoutHandler(d time.Duration, msg string) Option {
	return optionFunc(func(c *config) {
		for pattern, h := range c.handlers {
			c.handlers[pattern] = http.TimeoutHandler(h, d, msg)
		}
	})
}
