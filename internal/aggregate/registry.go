package aggregate

import (
	"strconv"
	"sync"

	"danmuhub/danmuservice/internal/domain"
	"danmuhub/danmuservice/internal/match"
)

// idRegistry mints process-local synthetic anime and episode ids and maps
// them back to the concrete source entries they came from. Ids are stable for
// the lifetime of the process, so repeated searches for the same title hand
// out the same animeId.
type idRegistry struct {
	mu         sync.Mutex
	nextAnime  int64
	animeByKey map[string]int64
	animes     map[int64]*animeRecord
	episodes   map[int64]*episodeRecord
}

type animeRecord struct {
	anime domain.Anime
	// links holds the per-source candidates backing this merged anime, in
	// source priority order.
	links []linkRecord
	// episodeSeq hands out per-anime episode ids: animeID*10000 + n.
	episodeSeq int64
}

type linkRecord struct {
	sourceName string
	candidate  domain.Candidate
}

type episodeRecord struct {
	animeID    int64
	sourceName string
	episode    domain.CandidateEpisode
}

const animeIDBase = 10000

func newIDRegistry() *idRegistry {
	return &idRegistry{
		nextAnime:  1,
		animeByKey: make(map[string]int64),
		animes:     make(map[int64]*animeRecord),
		episodes:   make(map[int64]*episodeRecord),
	}
}

// mergeKey groups candidates that describe the same work.
func mergeKey(title string) string {
	return match.Normalize(title)
}

// upsertAnime registers a candidate under its merge key. Candidates with the
// same normalized title and a compatible episode count collapse into one
// anime; the extra source becomes a link.
func (r *idRegistry) upsertAnime(sourceName string, c domain.Candidate) *animeRecord {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := mergeKey(c.Title)
	if id, ok := r.animeByKey[key]; ok {
		rec := r.animes[id]
		if episodeCountCompatible(rec.anime.EpisodeCount, c.EpisodeCount) {
			rec.links = append(rec.links, linkRecord{sourceName: sourceName, candidate: c})
			rec.anime.Links = append(rec.anime.Links, domain.SourceLink{
				ID:    int64(len(rec.anime.Links)) + 1,
				Name:  sourceName,
				URL:   c.Endpoint,
				Title: c.Title,
			})
			if rec.anime.EpisodeCount == 0 {
				rec.anime.EpisodeCount = c.EpisodeCount
			}
			if rec.anime.ImageURL == "" {
				rec.anime.ImageURL = c.ImageURL
			}
			if rec.anime.StartDate == "" {
				rec.anime.StartDate = c.StartDate
			}
			return rec
		}
		// Same title but incompatible episode counts: distinct works. Fall
		// through to a count-qualified key.
		key = mergeKey(c.Title) + "#" + strconv.Itoa(c.EpisodeCount)
		if id, ok := r.animeByKey[key]; ok {
			rec := r.animes[id]
			rec.links = append(rec.links, linkRecord{sourceName: sourceName, candidate: c})
			return rec
		}
	}

	id := r.nextAnime + animeIDBase
	r.nextAnime++
	rec := &animeRecord{
		anime: domain.Anime{
			AnimeID:         id,
			BangumiID:       c.MediaID,
			AnimeTitle:      c.Title,
			Type:            c.Type,
			TypeDescription: c.TypeDescription,
			ImageURL:        c.ImageURL,
			StartDate:       c.StartDate,
			EpisodeCount:    c.EpisodeCount,
			IsFavorited:     true,
			Source:          sourceName,
			Links: []domain.SourceLink{{
				ID:    1,
				Name:  sourceName,
				URL:   c.Endpoint,
				Title: c.Title,
			}},
		},
		links: []linkRecord{{sourceName: sourceName, candidate: c}},
	}
	r.animeByKey[key] = id
	r.animes[id] = rec
	return rec
}

func episodeCountCompatible(a, b int) bool {
	return a == 0 || b == 0 || a == b
}

// restore re-registers animes served from the persistent cache tier so their
// synthetic ids resolve again after a process restart. Existing records win.
func (r *idRegistry) restore(animes []domain.Anime) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, anime := range animes {
		if _, exists := r.animes[anime.AnimeID]; exists {
			continue
		}
		rec := &animeRecord{anime: anime}
		for _, link := range anime.Links {
			rec.links = append(rec.links, linkRecord{
				sourceName: link.Name,
				candidate: domain.Candidate{
					Source:       link.Name,
					Endpoint:     link.URL,
					MediaID:      anime.BangumiID,
					Title:        link.Title,
					EpisodeCount: anime.EpisodeCount,
				},
			})
		}
		r.animes[anime.AnimeID] = rec
		r.animeByKey[mergeKey(anime.AnimeTitle)] = anime.AnimeID
		if seq := anime.AnimeID - animeIDBase; seq >= r.nextAnime {
			r.nextAnime = seq + 1
		}
	}
}

func (r *idRegistry) lookupAnime(id int64) (*animeRecord, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.animes[id]
	return rec, ok
}

// mintEpisode registers one episode of an anime and returns its synthetic id.
// Re-minting the same source episode for the same anime reuses the id.
func (r *idRegistry) mintEpisode(animeID int64, sourceName string, ep domain.CandidateEpisode) int64 {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.animes[animeID]
	if !ok {
		return 0
	}
	for id, existing := range r.episodes {
		if existing.animeID == animeID && existing.sourceName == sourceName && existing.episode.ID == ep.ID {
			return id
		}
	}
	rec.episodeSeq++
	id := animeID*animeIDBase + rec.episodeSeq
	r.episodes[id] = &episodeRecord{animeID: animeID, sourceName: sourceName, episode: ep}
	return id
}

func (r *idRegistry) lookupEpisode(id int64) (*episodeRecord, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.episodes[id]
	return rec, ok
}
