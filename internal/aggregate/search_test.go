package aggregate

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"testing"
	"time"

	"danmuhub/danmuservice/internal/cache"
	"danmuhub/danmuservice/internal/domain"
	"danmuhub/danmuservice/internal/match"
)

type fakeSource struct {
	name       string
	candidates []domain.Candidate
	searchErr  error
	episodes   []domain.CandidateEpisode
	episodeErr error
	danmu      []domain.RawComment
	danmuErr   error
	delay      time.Duration
}

func (f *fakeSource) Name() string { return f.name }

func (f *fakeSource) Info() domain.SourceInfo {
	return domain.SourceInfo{Name: f.name, Label: f.name, Kind: "fake", Enabled: true}
}

func (f *fakeSource) Search(ctx context.Context, keyword string) ([]domain.Candidate, error) {
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if f.searchErr != nil {
		return nil, f.searchErr
	}
	return f.candidates, nil
}

func (f *fakeSource) GetEpisodes(ctx context.Context, candidate domain.Candidate) ([]domain.CandidateEpisode, error) {
	if f.episodeErr != nil {
		return nil, f.episodeErr
	}
	return f.episodes, nil
}

func (f *fakeSource) GetEpisodeDanmu(ctx context.Context, episode domain.CandidateEpisode) ([]domain.RawComment, error) {
	if f.danmuErr != nil {
		return nil, f.danmuErr
	}
	return f.danmu, nil
}

func newTestService(t *testing.T, sources ...Source) *Service {
	t.Helper()
	svc, err := New(Options{
		Logger:     slog.New(slog.DiscardHandler),
		Sources:    sources,
		Cache:      cache.New(cache.Options{}),
		SearchTTL:  0,
		CommentTTL: 0,
		Timeout:    5 * time.Second,
		Matcher:    match.Matcher{Threshold: 0.8, Strict: true},
		Memory:     match.NewSelectionMemory(10),
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return svc
}

func candidate(title string, episodes int) domain.Candidate {
	return domain.Candidate{
		MediaID:      "m-" + title,
		Title:        title,
		EpisodeCount: episodes,
	}
}

func TestSearchAnimePartialFailure(t *testing.T) {
	boom := errors.New("upstream exploded")
	sources := []Source{
		&fakeSource{name: "s1", candidates: []domain.Candidate{candidate("生万物", 24)}},
		&fakeSource{name: "s2", searchErr: boom},
		&fakeSource{name: "s3", searchErr: boom},
		&fakeSource{name: "s4", searchErr: boom},
		&fakeSource{name: "s5", candidates: []domain.Candidate{candidate("生万物前传", 12)}},
	}
	svc := newTestService(t, sources...)

	animes, statuses, err := svc.SearchAnime(context.Background(), "生万物")
	if err != nil {
		t.Fatalf("SearchAnime: %v", err)
	}
	if len(animes) != 2 {
		t.Fatalf("got %d animes, want 2 from the surviving sources", len(animes))
	}

	okCount, failCount := 0, 0
	for _, st := range statuses {
		if st.OK {
			okCount++
		} else {
			failCount++
			if st.Error == "" {
				t.Errorf("failed source %s has empty error", st.Name)
			}
		}
	}
	if okCount != 2 || failCount != 3 {
		t.Fatalf("statuses ok=%d fail=%d, want 2/3", okCount, failCount)
	}
}

func TestSearchAnimeAllFail(t *testing.T) {
	boom := errors.New("down")
	svc := newTestService(t,
		&fakeSource{name: "s1", searchErr: boom},
		&fakeSource{name: "s2", searchErr: boom},
	)
	animes, _, err := svc.SearchAnime(context.Background(), "什么都查不到")
	if err != nil {
		t.Fatalf("all-fail search returned error: %v", err)
	}
	if len(animes) != 0 {
		t.Fatalf("got %d animes from failing sources", len(animes))
	}
}

func TestSearchAnimeMergesDuplicates(t *testing.T) {
	svc := newTestService(t,
		&fakeSource{name: "s1", candidates: []domain.Candidate{candidate("生万物", 24)}},
		&fakeSource{name: "s2", candidates: []domain.Candidate{candidate("生万物", 24)}},
	)
	animes, _, err := svc.SearchAnime(context.Background(), "生万物")
	if err != nil {
		t.Fatalf("SearchAnime: %v", err)
	}
	if len(animes) != 1 {
		t.Fatalf("got %d animes, want 1 merged", len(animes))
	}
	if len(animes[0].Links) != 2 {
		t.Fatalf("merged anime has %d links, want 2", len(animes[0].Links))
	}
	if animes[0].Source != "s1" {
		t.Fatalf("merged anime owned by %s, want the higher-priority source", animes[0].Source)
	}
}

func TestSearchAnimeIncompatibleEpisodeCounts(t *testing.T) {
	svc := newTestService(t,
		&fakeSource{name: "s1", candidates: []domain.Candidate{candidate("生万物", 24)}},
		&fakeSource{name: "s2", candidates: []domain.Candidate{candidate("生万物", 12)}},
	)
	animes, _, err := svc.SearchAnime(context.Background(), "生万物")
	if err != nil {
		t.Fatalf("SearchAnime: %v", err)
	}
	if len(animes) != 2 {
		t.Fatalf("got %d animes, want 2 distinct works", len(animes))
	}
}

func TestSearchAnimeStableIDs(t *testing.T) {
	svc := newTestService(t,
		&fakeSource{name: "s1", candidates: []domain.Candidate{candidate("生万物", 24)}},
	)
	first, _, _ := svc.SearchAnime(context.Background(), "生万物")
	second, _, _ := svc.SearchAnime(context.Background(), "生万物")
	if first[0].AnimeID != second[0].AnimeID {
		t.Fatalf("animeId changed between searches: %d vs %d", first[0].AnimeID, second[0].AnimeID)
	}
}

func TestSearchAnimeEmptyQuery(t *testing.T) {
	svc := newTestService(t, &fakeSource{name: "s1"})
	if _, _, err := svc.SearchAnime(context.Background(), "   "); !errors.Is(err, ErrInvalidQuery) {
		t.Fatalf("err = %v, want ErrInvalidQuery", err)
	}
}

func TestSourceBlockedAfterConsecutiveFailures(t *testing.T) {
	boom := errors.New("broken")
	src := &fakeSource{name: "s1", searchErr: boom}
	svc := newTestService(t, src)

	for i := 0; i < sourceFailureThreshold; i++ {
		svc.SearchAnime(context.Background(), fmt.Sprintf("query-%d", i))
	}
	blocked, _, _ := svc.isSourceBlocked("s1", time.Now())
	if !blocked {
		t.Fatalf("source not blocked after %d consecutive failures", sourceFailureThreshold)
	}

	// While blocked the source is skipped, not called.
	src.searchErr = nil
	src.candidates = []domain.Candidate{candidate("标题", 1)}
	animes, statuses, _ := svc.SearchAnime(context.Background(), "标题")
	if len(animes) != 0 {
		t.Fatalf("blocked source produced results")
	}
	if statuses[0].OK {
		t.Fatalf("blocked source reported OK")
	}
}
