package other

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"danmuhub/danmuservice/internal/domain"
)

func TestFetchByURL(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("ac") != "dm" {
			http.Error(w, "bad request", http.StatusBadRequest)
			return
		}
		if r.URL.Query().Get("url") != "https://play/1" {
			http.Error(w, "wrong url", http.StatusBadRequest)
			return
		}
		w.Write([]byte(`{"danmu":3,"danmuku":[
			[1.5,"right","#ffffff","","第一条"],
			["12.25","top","#ff0000","","顶部弹幕"],
			[3,"bottom","","", ""]
		]}`))
	}))
	defer srv.Close()

	c := NewClient(Config{Server: srv.URL})
	comments, err := c.FetchByURL(context.Background(), "https://play/1")
	if err != nil {
		t.Fatalf("FetchByURL: %v", err)
	}
	if len(comments) != 2 {
		t.Fatalf("got %d comments, want 2 (empty text dropped)", len(comments))
	}
	if comments[0].TimeOffset != 1.5 || comments[0].Mode != domain.ModeScroll || comments[0].Color != 0xffffff {
		t.Fatalf("comment 0 = %+v", comments[0])
	}
	if comments[1].TimeOffset != 12.25 || comments[1].Mode != domain.ModeTop || comments[1].Color != 0xff0000 {
		t.Fatalf("comment 1 = %+v", comments[1])
	}
}

func TestFetchByURLServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "down", http.StatusBadGateway)
	}))
	defer srv.Close()

	c := NewClient(Config{Server: srv.URL})
	if _, err := c.FetchByURL(context.Background(), "https://play/1"); err == nil {
		t.Fatalf("want error on HTTP 502")
	}
}

func TestFetchByURLDisabled(t *testing.T) {
	c := NewClient(Config{})
	comments, err := c.FetchByURL(context.Background(), "https://play/1")
	if err != nil || comments != nil {
		t.Fatalf("disabled relay = (%v, %v), want (nil, nil)", comments, err)
	}
}
