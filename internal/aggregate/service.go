// Package aggregate orchestrates danmaku lookups across heterogeneous
// platform sources: fan-out search with partial-failure tolerance, candidate
// merging, filename matching and comment retrieval.
package aggregate

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"danmuhub/danmuservice/internal/cache"
	"danmuhub/danmuservice/internal/danmaku"
	"danmuhub/danmuservice/internal/domain"
	"danmuhub/danmuservice/internal/match"
)

var (
	ErrInvalidQuery   = errors.New("aggregate: empty query")
	ErrNoSources      = errors.New("aggregate: no sources configured")
	ErrUnknownAnime   = errors.New("aggregate: unknown anime id")
	ErrUnknownEpisode = errors.New("aggregate: unknown episode id")
)

const (
	defaultSourceConcurrency = 6
	defaultTimeout           = 15 * time.Second
)

// Source is one upstream platform adapter. Adapters are expected to be
// cheap to construct and safe for concurrent use.
type Source interface {
	Name() string
	Info() domain.SourceInfo
	// Search returns candidate works for the keyword.
	Search(ctx context.Context, keyword string) ([]domain.Candidate, error)
	// GetEpisodes returns the playable episodes of a candidate. Candidates
	// that already embed episodes may be answered locally.
	GetEpisodes(ctx context.Context, candidate domain.Candidate) ([]domain.CandidateEpisode, error)
	// GetEpisodeDanmu fetches raw comments for one episode.
	GetEpisodeDanmu(ctx context.Context, episode domain.CandidateEpisode) ([]domain.RawComment, error)
}

// TitleResolver maps foreign titles to the Chinese titles the platform
// catalogs index by. Implementations are best-effort and must return the
// input when resolution is unavailable.
type TitleResolver interface {
	ResolveChineseTitle(ctx context.Context, title string, season int) string
	// ResolveJapaneseTitle returns the original title for animation or
	// Japanese-language works, empty when not applicable.
	ResolveJapaneseTitle(ctx context.Context, title string) string
}

// Service is the query orchestrator. All exported methods are safe for
// concurrent use.
type Service struct {
	logger  *slog.Logger
	sources []Source
	byName  map[string]Source
	sems    map[string]*semaphore.Weighted

	cache      *cache.Cache
	searchTTL  time.Duration
	commentTTL time.Duration
	timeout    time.Duration

	matcher       match.Matcher
	memory        *match.SelectionMemory
	episodeFilter *danmaku.EpisodeFilter
	danmakuOpts   danmaku.Options
	resolver      TitleResolver

	healthMu sync.Mutex
	health   map[string]*sourceHealth

	registry *idRegistry
}

// Options configures the Service. Sources is the only required field; the
// slice order defines source priority.
type Options struct {
	Logger  *slog.Logger
	Sources []Source
	// Concurrency caps in-flight requests per source name. Sources absent
	// from the map use a shared default.
	Concurrency map[string]int

	Cache      *cache.Cache
	SearchTTL  time.Duration
	CommentTTL time.Duration
	Timeout    time.Duration

	Matcher       match.Matcher
	Memory        *match.SelectionMemory
	EpisodeFilter *danmaku.EpisodeFilter
	Danmaku       danmaku.Options
	// Resolver is optional; nil disables canonical-title resolution.
	Resolver TitleResolver
}

func New(opts Options) (*Service, error) {
	if len(opts.Sources) == 0 {
		return nil, ErrNoSources
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	byName := make(map[string]Source, len(opts.Sources))
	sems := make(map[string]*semaphore.Weighted, len(opts.Sources))
	for _, src := range opts.Sources {
		name := strings.ToLower(strings.TrimSpace(src.Name()))
		if name == "" {
			continue
		}
		byName[name] = src
		limit := opts.Concurrency[name]
		if limit <= 0 {
			limit = defaultSourceConcurrency
		}
		sems[name] = semaphore.NewWeighted(int64(limit))
	}
	if len(byName) == 0 {
		return nil, ErrNoSources
	}

	return &Service{
		logger:        logger,
		sources:       opts.Sources,
		byName:        byName,
		sems:          sems,
		cache:         opts.Cache,
		searchTTL:     opts.SearchTTL,
		commentTTL:    opts.CommentTTL,
		timeout:       timeout,
		matcher:       opts.Matcher,
		memory:        opts.Memory,
		episodeFilter: opts.EpisodeFilter,
		danmakuOpts:   opts.Danmaku,
		resolver:      opts.Resolver,
		health:        make(map[string]*sourceHealth),
		registry:      newIDRegistry(),
	}, nil
}

// Sources lists the registered adapters in priority order.
func (s *Service) Sources() []domain.SourceInfo {
	infos := make([]domain.SourceInfo, 0, len(s.sources))
	for _, src := range s.sources {
		infos = append(infos, src.Info())
	}
	return infos
}

func (s *Service) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if _, ok := ctx.Deadline(); ok || s.timeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, s.timeout)
}
