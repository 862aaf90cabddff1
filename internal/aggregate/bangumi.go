package aggregate

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"danmuhub/danmuservice/internal/domain"
)

// GetBangumi resolves the episode list of a previously returned anime. The
// first healthy link wins; promotional episode titles are filtered when the
// episode filter is enabled.
func (s *Service) GetBangumi(ctx context.Context, animeID int64) (domain.Bangumi, error) {
	rec, ok := s.registry.lookupAnime(animeID)
	if !ok {
		return domain.Bangumi{}, fmt.Errorf("%w: %d", ErrUnknownAnime, animeID)
	}

	runCtx, cancel := s.withTimeout(ctx)
	defer cancel()

	bangumi := domain.Bangumi{
		AnimeID:         rec.anime.AnimeID,
		BangumiID:       rec.anime.BangumiID,
		AnimeTitle:      rec.anime.AnimeTitle,
		ImageURL:        rec.anime.ImageURL,
		Type:            rec.anime.Type,
		TypeDescription: rec.anime.TypeDescription,
		IsFavorited:     rec.anime.IsFavorited,
		Rating:          rec.anime.Rating,
	}

	var lastErr error
	for _, link := range rec.links {
		src, ok := s.byName[link.sourceName]
		if !ok {
			continue
		}

		var episodes []domain.CandidateEpisode
		err := RetryWithBackoff(runCtx, DefaultRetryConfig(), func() error {
			var err error
			episodes, err = src.GetEpisodes(runCtx, link.candidate)
			return err
		})
		s.recordSourceResult(link.sourceName, err, 0, time.Now())
		if err != nil {
			lastErr = err
			s.logger.Warn("episode list fetch failed",
				slog.String("source", link.sourceName),
				slog.Int64("animeId", animeID),
				slog.String("error", err.Error()),
			)
			continue
		}

		number := 0
		for _, ep := range episodes {
			if s.episodeFilter.Drop(ep.Title) {
				continue
			}
			number++
			id := s.registry.mintEpisode(animeID, link.sourceName, ep)
			bangumi.Episodes = append(bangumi.Episodes, domain.Episode{
				EpisodeID:     id,
				EpisodeTitle:  ep.Title,
				EpisodeNumber: strconv.Itoa(number),
			})
		}
		return bangumi, nil
	}

	if lastErr != nil {
		return domain.Bangumi{}, fmt.Errorf("episode list unavailable: %w", lastErr)
	}
	return bangumi, nil
}
