// Package chat coordinates the message store, the presence registry and the
// user directory into the operations exposed to transports: room resolution,
// sending, history, read state, unread counts and typing signals.
package chat

import (
	"context"
	"time"

	"marketplace-chat/internal/storage"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"
)

type Option interface {
	apply(*Service)
}

type optionFunc func(s *Service)

func (f optionFunc) apply(s *Service) { f(s) }

// WithDirectory sets the user directory used for display projections
func WithDirectory(d Directory) Option {
	return optionFunc(func(s *Service) {
		s.directory = d
	})
}

// WithNotifier sets the collaborator receiving events for offline recipients
func WithNotifier(n Notifier) Option {
	return optionFunc(func(s *Service) {
		s.notifier = n
	})
}

// WithConfig overrides DefaultConfig
func WithConfig(cfg Config) Option {
	return optionFunc(func(s *Service) {
		s.cfg = cfg
	})
}

// Service is the chat core, it keeps no state of its own
type Service struct {
	logger    *zap.SugaredLogger
	store     Store
	presence  Presence
	directory Directory
	notifier  Notifier
	validate  *validator.Validate
	cfg       Config
}

// NewService returns a Service backed by store and presence.
// Without WithDirectory users are projected as bare ids, without WithNotifier offline events are dropped.
func NewService(logger *zap.SugaredLogger, store Store, presence Presence, opts ...Option) *Service {
	s := &Service{
		logger:    logger,
		store:     store,
		presence:  presence,
		directory: bareDirectory{},
		notifier:  nopNotifier{},
		validate:  validator.New(),
		cfg:       DefaultConfig(),
	}

	for _, opt := range opts {
		opt.apply(s)
	}

	return s
}

// storeCtx bounds a single store round trip
func (s *Service) storeCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.cfg.StoreTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, s.cfg.StoreTimeout)
}

// authorize loads the room and checks that user participates in it
func (s *Service) authorize(ctx context.Context, user, room int64) (storage.Room, error) {
	if room < 1 {
		return storage.Room{}, invalid("room id must be greater than zero")
	}

	sctx, cancel := s.storeCtx(ctx)
	defer cancel()

	r, err := s.store.RoomByID(sctx, room)
	if err != nil {
		return storage.Room{}, storeErr(err, "load room")
	}
	if !r.HasParticipant(user) {
		return storage.Room{}, ErrForbidden
	}
	return r, nil
}

// profiles resolves display projections in ids order, unknown users degrade to bare ids
func (s *Service) profiles(ctx context.Context, ids ...int64) []storage.User {
	found := s.directory.Profiles(ctx, ids)

	users := make([]storage.User, 0, len(ids))
	for _, id := range ids {
		if u, ok := found[id]; ok {
			users = append(users, u)
			continue
		}
		users = append(users, storage.User{ID: id})
	}
	return users
}

type bareDirectory struct{}

func (bareDirectory) Profiles(context.Context, []int64) map[int64]storage.User { return nil }

type nopNotifier struct{}

func (nopNotifier) NewMessage(context.Context, NewMessageEvent) error { return nil }

// detached keeps values of ctx (request id for logs) but not its deadline or cancellation
func detached(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), d)
}
