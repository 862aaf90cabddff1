package bilibili

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"danmuhub/danmuservice/internal/domain"
)

func testClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewClient(Config{BaseURL: srv.URL})
}

func TestSearch(t *testing.T) {
	c := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != searchPath {
			http.NotFound(w, r)
			return
		}
		if r.URL.Query().Get("search_type") != "media_bangumi" {
			http.Error(w, "bad search type", http.StatusBadRequest)
			return
		}
		w.Write([]byte(`{"code":0,"data":{"result":[
			{"media_id":1,"season_id":101,"title":"<em class=\"keyword\">生万物</em>","cover":"https://img/1.jpg","pubtime":1735689600,"ep_size":24,"season_type_name":"国创"},
			{"media_id":2,"season_id":0,"title":"无效条目"}
		]}}`))
	})

	candidates, err := c.Search(context.Background(), "生万物")
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(candidates) != 1 {
		t.Fatalf("got %d candidates, want entry without season dropped", len(candidates))
	}
	got := candidates[0]
	if got.Title != "生万物" {
		t.Fatalf("em tags not stripped: %q", got.Title)
	}
	if got.MediaID != "101" || got.EpisodeCount != 24 || got.StartDate != "2025-01-01" {
		t.Fatalf("candidate = %+v", got)
	}
}

func TestGetEpisodes(t *testing.T) {
	c := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("season_id") != "101" {
			http.Error(w, "wrong season", http.StatusBadRequest)
			return
		}
		w.Write([]byte(`{"code":0,"result":{"episodes":[
			{"id":11,"cid":5001,"title":"1","long_title":"第一集标题","share_url":"https://b23.tv/ep11"},
			{"id":12,"cid":0,"title":"2"}
		]}}`))
	})

	episodes, err := c.GetEpisodes(context.Background(), domain.Candidate{MediaID: "101"})
	if err != nil {
		t.Fatalf("GetEpisodes: %v", err)
	}
	if len(episodes) != 1 {
		t.Fatalf("got %d episodes, want cid-less entry dropped", len(episodes))
	}
	if episodes[0].ID != "5001" || episodes[0].Title != "第一集标题" {
		t.Fatalf("episode = %+v", episodes[0])
	}
}

func TestGetEpisodeDanmu(t *testing.T) {
	c := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("oid") != "5001" {
			http.Error(w, "wrong oid", http.StatusBadRequest)
			return
		}
		w.Write([]byte(`<?xml version="1.0" encoding="UTF-8"?><i>
			<d p="12.5,1,25,16777215,1700000000,0,abc123,1">滚动弹幕</d>
			<d p="30.2,5,25,255,1700000001,0,def456,2">顶部弹幕</d>
			<d p="bad">坏数据</d>
		</i>`))
	})

	comments, err := c.GetEpisodeDanmu(context.Background(), domain.CandidateEpisode{ID: "5001"})
	if err != nil {
		t.Fatalf("GetEpisodeDanmu: %v", err)
	}
	if len(comments) != 2 {
		t.Fatalf("got %d comments, want malformed entry dropped", len(comments))
	}
	if comments[0].TimeOffset != 12.5 || comments[0].Mode != domain.ModeScroll || comments[0].UserID != "abc123" {
		t.Fatalf("comment 0 = %+v", comments[0])
	}
	if comments[1].Mode != domain.ModeTop || comments[1].Color != 255 {
		t.Fatalf("comment 1 = %+v", comments[1])
	}
}
