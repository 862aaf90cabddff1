package aggregate

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"danmuhub/danmuservice/internal/danmaku"
	"danmuhub/danmuservice/internal/domain"
)

// GetComment fetches and normalizes the danmaku of one episode. Results are
// cached for the configured comment TTL; concurrent requests for the same
// episode share one upstream fetch.
func (s *Service) GetComment(ctx context.Context, episodeID int64) ([]domain.Comment, error) {
	rec, ok := s.registry.lookupEpisode(episodeID)
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrUnknownEpisode, episodeID)
	}
	src, ok := s.byName[rec.sourceName]
	if !ok {
		return nil, fmt.Errorf("%w: source %s gone", ErrUnknownEpisode, rec.sourceName)
	}

	cacheKey := "comment:" + strconv.FormatInt(episodeID, 10)
	data, err := s.cache.GetOrCompute(ctx, cacheKey, s.commentTTL, func(ctx context.Context) ([]byte, error) {
		runCtx, cancel := s.withTimeout(ctx)
		defer cancel()

		startedAt := time.Now()
		var raw []domain.RawComment
		fetchErr := RetryWithBackoff(runCtx, DefaultRetryConfig(), func() error {
			var err error
			raw, err = src.GetEpisodeDanmu(runCtx, rec.episode)
			return err
		})
		s.recordSourceResult(rec.sourceName, fetchErr, time.Since(startedAt), time.Now())
		if fetchErr != nil {
			// Danmaku fetch soft-fails: the player gets an empty track
			// rather than an error page.
			s.logger.Warn("danmaku fetch failed",
				slog.String("source", rec.sourceName),
				slog.Int64("episodeId", episodeID),
				slog.String("error", fetchErr.Error()),
			)
			raw = nil
		}

		comments := danmaku.Normalize(raw, s.danmakuOpts)
		return json.Marshal(comments)
	})
	if err != nil {
		return nil, err
	}

	var comments []domain.Comment
	if err := json.Unmarshal(data, &comments); err != nil {
		return nil, err
	}
	return comments, nil
}
