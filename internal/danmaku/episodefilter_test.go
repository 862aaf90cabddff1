package danmaku

import "testing"

func TestEpisodeFilterDefaults(t *testing.T) {
	f := NewEpisodeFilter(true, "", nil)
	tests := []struct {
		title string
		drop  bool
	}{
		{"第1集", false},
		{"第2集 大结局", false},
		{"先导预告", true},
		{"第3集 拍摄花絮", true},
		{"独家专访主演", true},
		{"NG镜头合集", true},
	}
	for _, tt := range tests {
		if got := f.Drop(tt.title); got != tt.drop {
			t.Errorf("Drop(%q) = %v, want %v", tt.title, got, tt.drop)
		}
	}
}

func TestEpisodeFilterCustomOverride(t *testing.T) {
	f := NewEpisodeFilter(true, "测试词", nil)
	if !f.Drop("包含测试词的标题") {
		t.Fatalf("custom term not matched")
	}
	if f.Drop("先导预告") {
		t.Fatalf("default vocabulary still active after override")
	}
}

func TestEpisodeFilterDisabled(t *testing.T) {
	f := NewEpisodeFilter(false, "", nil)
	if f.Drop("先导预告") {
		t.Fatalf("disabled filter dropped a title")
	}
}

func TestEpisodeFilterBadPatternFallsBack(t *testing.T) {
	f := NewEpisodeFilter(true, "(未闭合", nil)
	if !f.Drop("先导预告") {
		t.Fatalf("fallback to default vocabulary did not happen")
	}
}
