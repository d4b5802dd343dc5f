// Package prefs owns the user's automation configuration: remote fetch with
// a local cache fallback, validated updates, and rebroadcast on every change
// so readers never poll.
package prefs

import (
	"context"
	"log"

	"github.com/google/uuid"

	"voteagent/internal/bus"
	"voteagent/internal/domain"
)

// RemoteBackend is the remote configuration service. Fetch returns (nil,
// nil) when the user has no stored configuration.
type RemoteBackend interface {
	Fetch(ctx context.Context, userKey string) (*domain.AutomationConfig, error)
	Save(ctx context.Context, userKey string, cfg domain.AutomationConfig) error
}

// LocalCache is the synchronous local store, normally sqlite.
type LocalCache interface {
	LoadConfig(ctx context.Context, userKey string) (*domain.AutomationConfig, error)
	SaveConfig(ctx context.Context, userKey string, cfg domain.AutomationConfig) error
}

type Store struct {
	userKey string
	remote  RemoteBackend // nil when config sync is not configured
	local   LocalCache
	bus     *bus.Bus
}

func NewStore(userKey string, remote RemoteBackend, local LocalCache, b *bus.Bus) *Store {
	return &Store{userKey: userKey, remote: remote, local: local, bus: b}
}

// Load resolves the configuration in order: remote, local cache, safe
// default. Load never fails; a remote result refreshes the local cache.
func (s *Store) Load(ctx context.Context) domain.AutomationConfig {
	if s.remote != nil {
		cfg, err := s.remote.Fetch(ctx, s.userKey)
		if err != nil {
			log.Printf("prefs remote fetch failed user=%s, falling back to cache: %v", s.userKey, err)
		} else if cfg != nil {
			if err := s.local.SaveConfig(ctx, s.userKey, *cfg); err != nil {
				log.Printf("prefs cache refresh failed user=%s: %v", s.userKey, err)
			}
			return *cfg
		}
	}

	cached, err := s.local.LoadConfig(ctx, s.userKey)
	if err != nil {
		log.Printf("prefs cache load failed user=%s: %v", s.userKey, err)
	}
	if cached != nil {
		return *cached
	}
	return domain.DefaultAutomationConfig()
}

// Update validates the new configuration, persists it locally right away,
// pushes it to the remote backend in the background, and rebroadcasts the
// full config. A remote failure degrades to a warning; the local update is
// never rolled back.
func (s *Store) Update(ctx context.Context, cfg domain.AutomationConfig) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	for i := range cfg.Preferences {
		if cfg.Preferences[i].ID == "" {
			cfg.Preferences[i].ID = uuid.NewString()
		}
	}

	if err := s.local.SaveConfig(ctx, s.userKey, cfg); err != nil {
		// Best-effort: the in-memory config still wins for this session.
		log.Printf("prefs local save failed user=%s: %v", s.userKey, err)
	}

	if s.remote != nil {
		go func(cfg domain.AutomationConfig) {
			if err := s.remote.Save(context.Background(), s.userKey, cfg); err != nil {
				log.Printf("prefs remote sync degraded user=%s: %v", s.userKey, err)
			}
		}(cfg)
	}

	s.bus.Emit(bus.EventConfigUpdated, cfg)
	return nil
}
