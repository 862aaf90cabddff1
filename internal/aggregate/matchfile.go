package aggregate

import (
	"context"
	"log/slog"
	"strconv"

	"danmuhub/danmuservice/internal/domain"
	"danmuhub/danmuservice/internal/match"
	"danmuhub/danmuservice/internal/titleparse"
)

// MatchFile resolves a video file name to a concrete episode: parse, search,
// fuzzy-match, then bias toward the user's last selection for the same title.
// In strict mode an unconfident match yields no results instead of a guess.
func (s *Service) MatchFile(ctx context.Context, fileName string) (domain.MatchResponse, error) {
	info := titleparse.Parse(fileName)
	if info.Title == "" {
		return domain.MatchResponse{Success: true, IsMatched: false}, nil
	}

	// Release names are often English or romaji while the platforms index by
	// Chinese titles; resolve before searching.
	title := info.Title
	if s.resolver != nil {
		title = s.resolver.ResolveChineseTitle(ctx, info.Title, info.Season)
	}

	animes, _, err := s.SearchAnime(ctx, title)
	if err != nil {
		return domain.MatchResponse{}, err
	}
	if len(animes) == 0 {
		return domain.MatchResponse{Success: true, IsMatched: false}, nil
	}

	candidates := make([]match.Candidate, len(animes))
	for i, anime := range animes {
		candidates[i] = match.Candidate{
			AnimeID:      anime.AnimeID,
			Title:        anime.AnimeTitle,
			EpisodeCount: anime.EpisodeCount,
			Priority:     i,
		}
	}

	best, confident := s.matcher.Best(title, info.Episode, candidates)

	// A remembered selection present in the candidate set overrides the
	// fuzzy pick.
	if id, ok := s.memory.Recall(info.Title); ok {
		for i, c := range candidates {
			if c.AnimeID == id {
				best, confident = i, true
				break
			}
		}
	}

	if best < 0 || (s.matcher.Strict && !confident) {
		return domain.MatchResponse{Success: true, IsMatched: false}, nil
	}

	chosen := animes[best]
	bangumi, err := s.GetBangumi(ctx, chosen.AnimeID)
	if err != nil {
		s.logger.Warn("match episode resolve failed",
			slog.Int64("animeId", chosen.AnimeID),
			slog.String("error", err.Error()),
		)
		return domain.MatchResponse{Success: true, IsMatched: false}, nil
	}

	episode, ok := pickEpisode(bangumi.Episodes, info.Episode)
	if !ok {
		return domain.MatchResponse{Success: true, IsMatched: false}, nil
	}

	s.memory.Remember(info.Title, chosen.AnimeID)

	return domain.MatchResponse{
		Success:   true,
		IsMatched: confident,
		Matches: []domain.MatchResult{{
			EpisodeID:       episode.EpisodeID,
			AnimeID:         chosen.AnimeID,
			AnimeTitle:      chosen.AnimeTitle,
			EpisodeTitle:    episode.EpisodeTitle,
			Type:            chosen.Type,
			TypeDescription: chosen.TypeDescription,
			Shift:           1,
			ImageURL:        chosen.ImageURL,
		}},
	}, nil
}

// pickEpisode selects by ordinal number when the file name carried one,
// falling back to the first episode.
func pickEpisode(episodes []domain.Episode, number int) (domain.Episode, bool) {
	if len(episodes) == 0 {
		return domain.Episode{}, false
	}
	if number <= 0 {
		return episodes[0], true
	}
	for _, ep := range episodes {
		if ep.EpisodeNumber == strconv.Itoa(number) {
			return ep, true
		}
	}
	if number <= len(episodes) {
		return episodes[number-1], true
	}
	return domain.Episode{}, false
}
