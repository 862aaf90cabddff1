package tencent

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"danmuhub/danmuservice/internal/domain"
)

func TestSearch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "want POST", http.StatusMethodNotAllowed)
			return
		}
		w.Write([]byte(`{"data":{"normalList":{"itemList":[
			{"doc":{"id":"mzc00200abc"},"videoInfo":{"title":"<em>生万物</em>","year":2025,"typeName":"电视剧","imgUrl":"https://img/1.jpg"}},
			{"doc":{"id":""},"videoInfo":{"title":"无ID条目"}}
		]}}}`))
	}))
	defer srv.Close()

	c := NewClient(Config{APIBase: srv.URL})
	candidates, err := c.Search(context.Background(), "生万物")
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(candidates) != 1 {
		t.Fatalf("got %d candidates, want id-less entry dropped", len(candidates))
	}
	got := candidates[0]
	if got.Title != "生万物" || got.MediaID != "mzc00200abc" || got.Year != 2025 {
		t.Fatalf("candidate = %+v", got)
	}
}

func TestGetEpisodeDanmu(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case strings.HasPrefix(r.URL.Path, "/barrage/base/"):
			w.Write([]byte(`{"segment_index":{"0":{"segment_name":"t/v1/0/30000"}}}`))
		case strings.HasPrefix(r.URL.Path, "/barrage/segment/"):
			w.Write([]byte(`{"barrage_list":[
				{"time_offset":"15500","content":"滚动","content_style":""},
				{"time_offset":"20000","content":"顶部","content_style":"{\"color\":\"ff0000\",\"position\":2}"}
			]}`))
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	c := NewClient(Config{BarrageBase: srv.URL})
	comments, err := c.GetEpisodeDanmu(context.Background(), domain.CandidateEpisode{ID: "vid123"})
	if err != nil {
		t.Fatalf("GetEpisodeDanmu: %v", err)
	}
	if len(comments) != 2 {
		t.Fatalf("got %d comments", len(comments))
	}
	if comments[0].TimeOffset != 15.5 || comments[0].Mode != domain.ModeScroll {
		t.Fatalf("comment 0 = %+v", comments[0])
	}
	if comments[1].Mode != domain.ModeTop || comments[1].Color != 0xff0000 {
		t.Fatalf("comment 1 = %+v", comments[1])
	}
}
