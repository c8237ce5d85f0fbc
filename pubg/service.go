package pubg

import (
	"context"
	"errors"
	"fmt"

	"github.com/mailgun/holster/v4/setter"
	"golang.org/x/sync/errgroup"

	"github.com/hawkbot/hawkcache/cache"
	"github.com/hawkbot/hawkcache/governor"
	"github.com/hawkbot/hawkcache/observe"
	"github.com/hawkbot/hawkcache/resilience"
)

// API is the upstream surface the Service governs. *Client implements it.
type API interface {
	PlayerByName(ctx context.Context, shard Shard, name string) (Player, error)
	Seasons(ctx context.Context, shard Shard) ([]Season, error)
	SeasonStats(ctx context.Context, shard Shard, playerID, seasonID string) (SeasonStats, error)
	Match(ctx context.Context, shard Shard, matchID string) (Match, error)
}

// ServiceConfig configures a Service.
type ServiceConfig struct {
	// BatchConcurrency bounds the lookups a batch runs at once.
	// Default: 3
	BatchConcurrency int

	// RecentMatches is how many of a player's matches PlayerReport loads.
	// Default: 5
	RecentMatches int

	// Logger receives invalidation and skipped-match events.
	// Default: no-op.
	Logger observe.Logger
}

// Service exposes typed, governed PUBG lookups to bot features.
type Service struct {
	api    API
	gov    *governor.Governor
	keyer  cache.Keyer
	batch  *resilience.Bulkhead
	config ServiceConfig
	log    observe.Logger
}

// NewService creates a Service that fetches from api through gov.
func NewService(api API, gov *governor.Governor, config ServiceConfig) *Service {
	setter.SetDefault(&config.BatchConcurrency, 3)
	setter.SetDefault(&config.RecentMatches, 5)
	if config.Logger == nil {
		config.Logger = observe.NopLogger()
	}

	batch := resilience.NewBulkhead(resilience.BulkheadConfig{
		MaxConcurrent: config.BatchConcurrency,
		WaitForSlot:   true,
	})

	return &Service{
		api:    api,
		gov:    gov,
		keyer:  cache.NewDefaultKeyer(),
		batch:  batch,
		config: config,
		log:    config.Logger.With(observe.F("component", "pubg")),
	}
}

// PlayerByName returns the player named name on shard, cached under
// "player:<shard>:<name>".
func (s *Service) PlayerByName(ctx context.Context, shard Shard, name string) (Player, error) {
	key, err := s.key(cache.CategoryPlayer, shard, name)
	if err != nil {
		return Player{}, err
	}
	return governor.FetchAs(ctx, s.gov, key, cache.CategoryPlayer, func(ctx context.Context) (Player, error) {
		return s.api.PlayerByName(ctx, shard, name)
	})
}

// CurrentSeason returns the shard's current season, or its latest one
// when none is flagged current.
func (s *Service) CurrentSeason(ctx context.Context, shard Shard) (Season, error) {
	key, err := s.key(cache.CategorySeason, shard, "current")
	if err != nil {
		return Season{}, err
	}
	return governor.FetchAs(ctx, s.gov, key, cache.CategorySeason, func(ctx context.Context) (Season, error) {
		seasons, err := s.api.Seasons(ctx, shard)
		if err != nil {
			return Season{}, err
		}
		return currentSeason(shard, seasons)
	})
}

func currentSeason(shard Shard, seasons []Season) (Season, error) {
	if len(seasons) == 0 {
		return Season{}, resilience.Permanent(fmt.Errorf("%w: shard %s", ErrNoSeason, shard))
	}
	for _, season := range seasons {
		if season.IsCurrent {
			return season, nil
		}
	}
	return seasons[len(seasons)-1], nil
}

// SeasonStats returns a player's statistics for a season.
func (s *Service) SeasonStats(ctx context.Context, shard Shard, playerID, seasonID string) (SeasonStats, error) {
	key, err := s.key(cache.CategoryStats, shard, playerID, seasonID)
	if err != nil {
		return SeasonStats{}, err
	}
	return governor.FetchAs(ctx, s.gov, key, cache.CategoryStats, func(ctx context.Context) (SeasonStats, error) {
		return s.api.SeasonStats(ctx, shard, playerID, seasonID)
	})
}

// Match returns a match summary. Finished matches do not change, so they
// keep the longest TTL.
func (s *Service) Match(ctx context.Context, shard Shard, matchID string) (Match, error) {
	key, err := s.key(cache.CategoryMatches, shard, matchID)
	if err != nil {
		return Match{}, err
	}
	return governor.FetchAs(ctx, s.gov, key, cache.CategoryMatches, func(ctx context.Context) (Match, error) {
		return s.api.Match(ctx, shard, matchID)
	})
}

// PlayerResult is one entry of a batch lookup.
type PlayerResult struct {
	Name   string
	Player Player
	Err    error
}

// Players looks up several players on one shard, at most BatchConcurrency
// at a time. A failed lookup is reported in its own result and does not
// fail the batch. The returned error is set only for an invalid shard or a
// cancelled ctx.
func (s *Service) Players(ctx context.Context, shard Shard, names []string) ([]PlayerResult, error) {
	if err := shard.Validate(); err != nil {
		return nil, err
	}

	results := make([]PlayerResult, len(names))
	var g errgroup.Group
	for i, name := range names {
		g.Go(func() error {
			results[i].Name = name
			results[i].Err = s.batch.Execute(ctx, func(ctx context.Context) error {
				p, err := s.PlayerByName(ctx, shard, name)
				results[i].Player = p
				return err
			})
			return nil
		})
	}
	_ = g.Wait()

	return results, ctx.Err()
}

// PlayerReport loads a player's profile, current season stats and recent
// matches. Matches that fail to load are left out of the report.
func (s *Service) PlayerReport(ctx context.Context, shard Shard, name string) (PlayerReport, error) {
	player, err := s.PlayerByName(ctx, shard, name)
	if err != nil {
		return PlayerReport{}, err
	}
	season, err := s.CurrentSeason(ctx, shard)
	if err != nil {
		return PlayerReport{}, err
	}
	stats, err := s.SeasonStats(ctx, shard, player.ID, season.ID)
	if err != nil {
		return PlayerReport{}, err
	}

	ids := player.MatchIDs
	if len(ids) > s.config.RecentMatches {
		ids = ids[:s.config.RecentMatches]
	}
	matches := make([]*Match, len(ids))

	g, gctx := errgroup.WithContext(ctx)
	for i, id := range ids {
		g.Go(func() error {
			return s.batch.Execute(gctx, func(ctx context.Context) error {
				m, err := s.Match(ctx, shard, id)
				if err != nil {
					if ctx.Err() != nil {
						return ctx.Err()
					}
					s.log.Debug(ctx, "skipping match",
						observe.F("match_id", id),
						observe.F("error", err),
					)
					return nil
				}
				matches[i] = &m
				return nil
			})
		})
	}
	if err := g.Wait(); err != nil {
		return PlayerReport{}, err
	}

	report := PlayerReport{Player: player, Season: season, Stats: stats}
	for _, m := range matches {
		if m != nil {
			report.RecentMatches = append(report.RecentMatches, *m)
		}
	}
	return report, nil
}

// Reregister drops the cached profile of a player's previous account name
// and every entry derived from it ("player:<shard>:<name>:..."). Other
// players whose names merely start with oldName are kept. It returns the
// number of cache entries removed.
func (s *Service) Reregister(ctx context.Context, shard Shard, oldName string) (int, error) {
	key, err := s.key(cache.CategoryPlayer, shard, oldName)
	if err != nil {
		return 0, err
	}

	_, cached := s.gov.Cache().Peek(key)
	if err := s.gov.Invalidate(ctx, key); err != nil {
		return 0, err
	}
	n, err := s.gov.InvalidatePrefix(ctx, key+cache.KeySeparator)
	if err != nil {
		return 0, err
	}
	if cached {
		n++
	}
	s.log.Info(ctx, "player re-registered",
		observe.F("shard", string(shard)),
		observe.F("old_name", oldName),
		observe.F("invalidated", n),
	)
	return n, nil
}

func (s *Service) key(category cache.Category, shard Shard, parts ...string) (string, error) {
	if err := shard.Validate(); err != nil {
		return "", err
	}
	key, err := s.keyer.Key(category, append([]string{string(shard)}, parts...)...)
	if err != nil {
		if errors.Is(err, cache.ErrInvalidKeyPart) && category == cache.CategoryPlayer {
			err = fmt.Errorf("%w: %w", ErrInvalidPlayer, err)
		}
		return "", resilience.Permanent(err)
	}
	return key, nil
}

var _ API = (*Client)(nil)
