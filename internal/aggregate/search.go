package aggregate

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"danmuhub/danmuservice/internal/domain"
	"danmuhub/danmuservice/internal/match"
)

// SearchAnime fans the keyword out to every source in priority order and
// merges the candidates. Individual source failures are recorded as statuses
// and never abort the request; when every source fails the result is empty.
func (s *Service) SearchAnime(ctx context.Context, keyword string) ([]domain.Anime, []domain.SourceStatus, error) {
	keyword = strings.TrimSpace(keyword)
	if keyword == "" {
		return nil, nil, ErrInvalidQuery
	}

	cacheKey := "search:" + match.Normalize(keyword)
	if s.searchTTL > 0 && s.cache != nil {
		if data, ok := s.cache.Get(ctx, cacheKey); ok {
			var cached []domain.Anime
			if json.Unmarshal(data, &cached) == nil {
				// Hits served from Redis after a restart must repopulate the
				// id registry or bangumi lookups would dangle.
				s.registry.restore(cached)
				return cached, nil, nil
			}
		}
	}

	animes, statuses := s.fanOutSearch(ctx, keyword)

	// Anime platforms often index by the Japanese original title; widen the
	// search once before giving up.
	if len(animes) == 0 && s.resolver != nil {
		if original := s.resolver.ResolveJapaneseTitle(ctx, keyword); original != "" && original != keyword {
			s.logger.Info("retrying search with original title",
				slog.String("keyword", keyword),
				slog.String("original", original),
			)
			animes, statuses = s.fanOutSearch(ctx, original)
		}
	}

	if s.searchTTL > 0 && s.cache != nil && len(animes) > 0 {
		if data, err := json.Marshal(animes); err == nil {
			s.cache.Set(ctx, cacheKey, data, s.searchTTL)
		}
	}
	return animes, statuses, nil
}

func (s *Service) fanOutSearch(ctx context.Context, keyword string) ([]domain.Anime, []domain.SourceStatus) {
	runCtx, cancel := s.withTimeout(ctx)
	defer cancel()

	statuses := make([]domain.SourceStatus, len(s.sources))
	candidatesBySource := make([][]domain.Candidate, len(s.sources))

	var wg sync.WaitGroup
	for i, src := range s.sources {
		wg.Add(1)
		go func(index int, current Source) {
			defer wg.Done()

			name := strings.ToLower(strings.TrimSpace(current.Name()))
			sem := s.sems[name]
			if sem != nil {
				if err := sem.Acquire(runCtx, 1); err != nil {
					statuses[index] = domain.SourceStatus{Name: name, OK: false, Error: "context cancelled"}
					return
				}
				defer sem.Release(1)
			}

			now := time.Now()
			if blocked, until, lastErr := s.isSourceBlocked(name, now); blocked {
				statuses[index] = domain.SourceStatus{
					Name:  name,
					OK:    false,
					Error: fmt.Sprintf("source temporarily unhealthy until %s: %s", until.UTC().Format(time.RFC3339), lastErr),
				}
				return
			}

			startedAt := time.Now()
			var items []domain.Candidate
			searchErr := RetryWithBackoff(runCtx, DefaultRetryConfig(), func() error {
				var err error
				items, err = current.Search(runCtx, keyword)
				return err
			})
			elapsed := time.Since(startedAt)
			s.recordSourceResult(name, searchErr, elapsed, time.Now())

			status := domain.SourceStatus{Name: name, OK: searchErr == nil, Count: len(items)}
			if searchErr != nil {
				status.Error = searchErr.Error()
				s.logger.Warn("source search failed",
					slog.String("source", name),
					slog.String("keyword", keyword),
					slog.Int64("elapsedMs", elapsed.Milliseconds()),
					slog.String("error", searchErr.Error()),
				)
			}
			statuses[index] = status
			candidatesBySource[index] = items
		}(i, src)
	}
	wg.Wait()

	// Merge in source priority order so earlier sources own the canonical
	// title and metadata.
	animes := make([]domain.Anime, 0)
	seen := make(map[int64]int)
	for i, src := range s.sources {
		name := strings.ToLower(strings.TrimSpace(src.Name()))
		for _, c := range candidatesBySource[i] {
			if strings.TrimSpace(c.Title) == "" {
				continue
			}
			if c.Source == "" {
				c.Source = name
			}
			rec := s.registry.upsertAnime(name, c)
			if pos, ok := seen[rec.anime.AnimeID]; ok {
				animes[pos] = rec.anime
				continue
			}
			seen[rec.anime.AnimeID] = len(animes)
			animes = append(animes, rec.anime)
		}
	}
	return animes, statuses
}

// SearchEpisodes searches animes and resolves their episode lists, optionally
// filtering episodes by a title substring.
func (s *Service) SearchEpisodes(ctx context.Context, animeTitle, episodeTitle string) ([]domain.Bangumi, error) {
	animes, _, err := s.SearchAnime(ctx, animeTitle)
	if err != nil {
		return nil, err
	}

	runCtx, cancel := s.withTimeout(ctx)
	defer cancel()

	out := make([]domain.Bangumi, 0, len(animes))
	for _, anime := range animes {
		bangumi, err := s.GetBangumi(runCtx, anime.AnimeID)
		if err != nil {
			s.logger.Warn("episode resolve failed",
				slog.Int64("animeId", anime.AnimeID),
				slog.String("error", err.Error()),
			)
			continue
		}
		if episodeTitle != "" {
			filtered := bangumi.Episodes[:0:0]
			for _, ep := range bangumi.Episodes {
				if strings.Contains(ep.EpisodeTitle, episodeTitle) {
					filtered = append(filtered, ep)
				}
			}
			bangumi.Episodes = filtered
		}
		if len(bangumi.Episodes) > 0 {
			out = append(out, bangumi)
		}
	}
	return out, nil
}
