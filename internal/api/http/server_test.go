package apihttp

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"danmuhub/danmuservice/internal/aggregate"
	"danmuhub/danmuservice/internal/domain"
	"danmuhub/danmuservice/internal/ratelimit"
)

type fakeService struct {
	animes   []domain.Anime
	bangumi  domain.Bangumi
	comments []domain.Comment
	match    domain.MatchResponse
}

func (f *fakeService) SearchAnime(_ context.Context, keyword string) ([]domain.Anime, []domain.SourceStatus, error) {
	if strings.TrimSpace(keyword) == "" {
		return nil, nil, aggregate.ErrInvalidQuery
	}
	return f.animes, []domain.SourceStatus{{Name: "vod", OK: true, Count: len(f.animes)}}, nil
}

func (f *fakeService) SearchEpisodes(context.Context, string, string) ([]domain.Bangumi, error) {
	return []domain.Bangumi{f.bangumi}, nil
}

func (f *fakeService) GetBangumi(_ context.Context, animeID int64) (domain.Bangumi, error) {
	if animeID != f.bangumi.AnimeID {
		return domain.Bangumi{}, aggregate.ErrUnknownAnime
	}
	return f.bangumi, nil
}

func (f *fakeService) GetComment(_ context.Context, episodeID int64) ([]domain.Comment, error) {
	if episodeID == 0 {
		return nil, aggregate.ErrUnknownEpisode
	}
	return f.comments, nil
}

func (f *fakeService) MatchFile(context.Context, string) (domain.MatchResponse, error) {
	return f.match, nil
}

func (f *fakeService) Sources() []domain.SourceInfo {
	return []domain.SourceInfo{{Name: "vod", Enabled: true}}
}

func (f *fakeService) SourceDiagnostics() []domain.SourceDiagnostics { return nil }

func newTestServer(t *testing.T, options ...ServerOption) (*httptest.Server, *fakeService) {
	t.Helper()
	service := &fakeService{
		animes: []domain.Anime{{AnimeID: 10001, AnimeTitle: "生万物", Source: "vod"}},
		bangumi: domain.Bangumi{
			AnimeID:    10001,
			AnimeTitle: "生万物",
			Episodes:   []domain.Episode{{EpisodeID: 100010001, EpisodeTitle: "第1集", EpisodeNumber: "1"}},
		},
		comments: []domain.Comment{
			{CID: 1, P: "1.50,1,16777215,[abc]", M: "第一条"},
			{CID: 2, P: "3.00,5,255,[def]", M: "第二条"},
		},
		match: domain.MatchResponse{
			IsMatched: true,
			Matches:   []domain.MatchResult{{EpisodeID: 100010001, AnimeID: 10001, AnimeTitle: "生万物", Shift: 1}},
		},
	}
	options = append([]ServerOption{WithLogger(slog.New(slog.DiscardHandler))}, options...)
	server := NewServer(service, "87654321", options...)
	srv := httptest.NewServer(server.Handler())
	t.Cleanup(srv.Close)
	return srv, service
}

func TestInvalidToken(t *testing.T) {
	srv, _ := newTestServer(t)
	resp, err := http.Get(srv.URL + "/wrongtoken/api/v2/search/anime?keyword=test")
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("status = %d, want 403", resp.StatusCode)
	}
}

func TestSearchAnime(t *testing.T) {
	srv, _ := newTestServer(t)
	resp, err := http.Get(srv.URL + "/87654321/api/v2/search/anime?keyword=生万物")
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	var payload domain.SearchResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !payload.Success || len(payload.Animes) != 1 || payload.Animes[0].AnimeID != 10001 {
		t.Fatalf("payload = %+v", payload)
	}
}

func TestSearchAnimeMissingKeyword(t *testing.T) {
	srv, _ := newTestServer(t)
	resp, err := http.Get(srv.URL + "/87654321/api/v2/search/anime")
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", resp.StatusCode)
	}
}

func TestMatch(t *testing.T) {
	srv, _ := newTestServer(t)
	body := strings.NewReader(`{"fileName":"生万物.S01E01.mkv"}`)
	resp, err := http.Post(srv.URL+"/87654321/api/v2/match", "application/json", body)
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	var payload domain.MatchResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !payload.Success || !payload.IsMatched || len(payload.Matches) != 1 {
		t.Fatalf("payload = %+v", payload)
	}
}

func TestMatchEmptyFileName(t *testing.T) {
	srv, _ := newTestServer(t)
	resp, err := http.Post(srv.URL+"/87654321/api/v2/match", "application/json", strings.NewReader(`{}`))
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", resp.StatusCode)
	}
}

func TestBangumiNotFound(t *testing.T) {
	srv, _ := newTestServer(t)
	resp, err := http.Get(srv.URL + "/87654321/api/v2/bangumi/99999")
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", resp.StatusCode)
	}
}

func TestCommentJSON(t *testing.T) {
	srv, _ := newTestServer(t)
	resp, err := http.Get(srv.URL + "/87654321/api/v2/comment/100010001")
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	var payload domain.CommentResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if payload.Count != 2 || len(payload.Comments) != 2 {
		t.Fatalf("payload = %+v", payload)
	}
	if payload.Comments[0].P != "1.50,1,16777215,[abc]" {
		t.Fatalf("comment p = %q", payload.Comments[0].P)
	}
}

func TestCommentXML(t *testing.T) {
	srv, _ := newTestServer(t, WithOutputFormat(domain.OutputXML))
	resp, err := http.Get(srv.URL + "/87654321/api/v2/comment/100010001")
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	defer resp.Body.Close()
	if got := resp.Header.Get("Content-Type"); !strings.HasPrefix(got, "application/xml") {
		t.Fatalf("content type = %q", got)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	if !strings.Contains(string(body), `<d p="1.50,1,16777215,[abc]">第一条</d>`) {
		t.Fatalf("body = %s", body)
	}
}

func TestCommentFormatOverride(t *testing.T) {
	srv, _ := newTestServer(t)
	resp, err := http.Get(srv.URL + "/87654321/api/v2/comment/100010001?format=xml")
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	defer resp.Body.Close()
	if got := resp.Header.Get("Content-Type"); !strings.HasPrefix(got, "application/xml") {
		t.Fatalf("content type = %q", got)
	}
}

func TestPerTokenRateLimit(t *testing.T) {
	srv, _ := newTestServer(t, WithRateLimiter(ratelimit.New(2, time.Minute)))
	url := srv.URL + "/87654321/api/v2/search/anime?keyword=test"
	for i := 0; i < 2; i++ {
		resp, err := http.Get(url)
		if err != nil {
			t.Fatalf("request %d: %v", i, err)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("request %d status = %d", i, resp.StatusCode)
		}
	}
	resp, err := http.Get(url)
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusTooManyRequests {
		t.Fatalf("status = %d, want 429", resp.StatusCode)
	}
	if resp.Header.Get("Retry-After") == "" {
		t.Fatalf("Retry-After header missing")
	}
}

func TestWelcomeAndHealth(t *testing.T) {
	srv, _ := newTestServer(t)
	for _, path := range []string{"/", "/health"} {
		resp, err := http.Get(srv.URL + path)
		if err != nil {
			t.Fatalf("GET %s: %v", path, err)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("GET %s status = %d", path, resp.StatusCode)
		}
	}
}
