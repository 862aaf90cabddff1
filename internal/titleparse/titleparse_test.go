package titleparse

import "testing"

func TestParseSeasonEpisode(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		title   string
		season  int
		episode int
	}{
		{"plain keyword", "生万物 S02E08", "生万物", 2, 8},
		{"release name with alias and year", "爱情公寓.ipartment.2009.S02E08.H.265.25fps.mkv", "爱情公寓", 2, 8},
		{"release name with codec tail", "无忧渡.S02E08.2160p.WEB-DL.H265.DDP.5.1", "无忧渡", 2, 8},
		{"mixed script title", "亲爱的X S02E08", "亲爱的X", 2, 8},
		{"punctuation kept in title", "宇宙Marry Me? S02E08", "宇宙Marry Me?", 2, 8},
		{"lowercase marker", "生万物 s02e08", "生万物", 2, 8},
		{"cross notation", "生万物 2x08", "生万物", 2, 8},
		{"episode only", "生万物 E08", "生万物", 1, 8},
		{"ep prefix", "生万物 EP12", "生万物", 1, 12},
		{"cjk episode marker", "生万物 第8集", "生万物", 1, 8},
		{"bare digit pair", "生万物 0208", "生万物", 2, 8},
		{"underscore separators", "无忧渡_S01E03_1080p", "无忧渡", 1, 3},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Parse(tt.input)
			if got.Title != tt.title || got.Season != tt.season || got.Episode != tt.episode {
				t.Fatalf("Parse(%q) = %+v, want {%s %d %d}", tt.input, got, tt.title, tt.season, tt.episode)
			}
		})
	}
}

func TestParseNoMarker(t *testing.T) {
	tests := []struct {
		name  string
		input string
		title string
	}{
		{"bare title", "生万物", "生万物"},
		{"title with year", "生万物 2025", "生万物"},
		{"empty", "", ""},
		{"whitespace", "   ", ""},
		{"ascii movie release", "Inception.2010.1080p.BluRay.x264", "Inception"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Parse(tt.input)
			if got.Season != 0 || got.Episode != 0 {
				t.Fatalf("Parse(%q) found marker %d/%d, want none", tt.input, got.Season, got.Episode)
			}
			if got.Title != tt.title {
				t.Fatalf("Parse(%q).Title = %q, want %q", tt.input, got.Title, tt.title)
			}
		})
	}
}

func TestParseDateNotEpisode(t *testing.T) {
	got := Parse("新闻联播.2023.01.05")
	if got.Season != 0 || got.Episode != 0 {
		t.Fatalf("date-like input parsed as season %d episode %d", got.Season, got.Episode)
	}
}
