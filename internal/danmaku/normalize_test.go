package danmaku

import (
	"strconv"
	"strings"
	"testing"

	"danmuhub/danmuservice/internal/domain"
)

func TestNormalizeSortsAndFormats(t *testing.T) {
	raw := []domain.RawComment{
		{TimeOffset: 12.5, Mode: domain.ModeScroll, Color: 255, Text: "后面", UserID: "u1"},
		{TimeOffset: 1.2, Mode: domain.ModeScroll, Color: 0, Text: "前面", UserID: "u2"},
	}
	got := Normalize(raw, Options{})
	if len(got) != 2 {
		t.Fatalf("len = %d, want 2", len(got))
	}
	if got[0].M != "前面" || got[1].M != "后面" {
		t.Fatalf("not sorted by time: %v", got)
	}
	if !strings.HasPrefix(got[0].P, "1.20,1,16777215,") {
		t.Fatalf("p attribute = %q, want default color for zero color", got[0].P)
	}
	if !strings.HasPrefix(got[1].P, "12.50,1,255,") {
		t.Fatalf("p attribute = %q, want original color kept", got[1].P)
	}
	if got[0].CID == got[1].CID {
		t.Fatalf("cids not unique")
	}
}

func TestNormalizeModeRewrite(t *testing.T) {
	raw := []domain.RawComment{
		{TimeOffset: 1, Mode: domain.ModeTop, Text: "顶部"},
		{TimeOffset: 2, Mode: domain.ModeBottom, Text: "底部"},
		{TimeOffset: 3, Mode: 99, Text: "未知"},
	}
	got := Normalize(raw, Options{TopBottomToScroll: true})
	for _, c := range got {
		parts := strings.Split(c.P, ",")
		if parts[1] != "1" {
			t.Fatalf("comment %q mode = %s, want scroll", c.M, parts[1])
		}
	}
	// Without the rewrite, top and bottom stay put.
	got = Normalize(raw[:2], Options{})
	if !strings.Contains(got[0].P, ",5,") || !strings.Contains(got[1].P, ",4,") {
		t.Fatalf("modes rewritten without opt-in: %v", got)
	}
}

func TestNormalizeForceWhite(t *testing.T) {
	raw := []domain.RawComment{{TimeOffset: 1, Mode: domain.ModeScroll, Color: 255, Text: "蓝色"}}
	got := Normalize(raw, Options{ColorMode: domain.ColorModeWhite})
	if !strings.Contains(got[0].P, ",16777215,") {
		t.Fatalf("p = %q, want forced white", got[0].P)
	}
}

func TestNormalizeSimplified(t *testing.T) {
	raw := []domain.RawComment{{TimeOffset: 1, Mode: domain.ModeScroll, Text: "繁體測試"}}
	got := Normalize(raw, Options{Simplified: true})
	if got[0].M != "繁体测试" {
		t.Fatalf("M = %q, want simplified text", got[0].M)
	}
	// Idempotent on already-simplified text.
	again := Normalize([]domain.RawComment{{TimeOffset: 1, Mode: domain.ModeScroll, Text: got[0].M}}, Options{Simplified: true})
	if again[0].M != got[0].M {
		t.Fatalf("second pass changed text: %q -> %q", got[0].M, again[0].M)
	}
}

func TestNormalizeTransformsIdempotent(t *testing.T) {
	// Input already simplified, scrolling and white: every per-comment
	// transform must be a no-op the second time around.
	raw := []domain.RawComment{
		{TimeOffset: 1, Mode: domain.ModeScroll, Color: domain.DefaultCommentColor, Text: "简体弹幕", UserID: "u1"},
		{TimeOffset: 2, Mode: domain.ModeScroll, Color: domain.DefaultCommentColor, Text: "另一条", UserID: "u2"},
	}
	opts := Options{Simplified: true, TopBottomToScroll: true, ColorMode: domain.ColorModeWhite}
	got := Normalize(raw, opts)
	for i, c := range got {
		if c.M != raw[i].Text {
			t.Fatalf("text changed on converted input: %q -> %q", raw[i].Text, c.M)
		}
		if !strings.Contains(c.P, ",1,16777215,") {
			t.Fatalf("p = %q, want scroll mode and white unchanged", c.P)
		}
	}
}

func TestNormalizeBlockedWords(t *testing.T) {
	raw := []domain.RawComment{
		{TimeOffset: 1, Mode: domain.ModeScroll, Text: "正常弹幕"},
		{TimeOffset: 2, Mode: domain.ModeScroll, Text: "含广告链接"},
	}
	got := Normalize(raw, Options{BlockedWords: []string{"广告"}})
	if len(got) != 1 || got[0].M != "正常弹幕" {
		t.Fatalf("blocked word not dropped: %v", got)
	}
}

func TestNormalizeDedup(t *testing.T) {
	raw := []domain.RawComment{
		{TimeOffset: 10, Mode: domain.ModeScroll, Text: "哈哈哈"},
		{TimeOffset: 30, Mode: domain.ModeScroll, Text: "哈哈哈"},
		{TimeOffset: 70, Mode: domain.ModeScroll, Text: "哈哈哈"},
	}
	got := Normalize(raw, Options{GroupMinutes: 1})
	if len(got) != 2 {
		t.Fatalf("len = %d, want 2 (one per minute bucket)", len(got))
	}
	// Dedup disabled keeps everything.
	got = Normalize(raw, Options{})
	if len(got) != 3 {
		t.Fatalf("len = %d with dedup disabled, want 3", len(got))
	}
	// Dedup never grows the output.
	if len(Normalize(raw, Options{GroupMinutes: 30})) > 3 {
		t.Fatalf("dedup grew output")
	}
}

func TestNormalizeVolumeCap(t *testing.T) {
	raw := make([]domain.RawComment, 2500)
	for i := range raw {
		raw[i] = domain.RawComment{TimeOffset: float64(i), Mode: domain.ModeScroll, Text: "x", UserID: "u"}
	}
	got := Normalize(raw, Options{LimitThousands: 1})
	if len(got) != 1000 {
		t.Fatalf("len = %d, want 1000", len(got))
	}
	// Order preserved and timeline span covered.
	prev := -1.0
	for _, c := range got {
		offset := parseTime(t, c.P)
		if offset < prev {
			t.Fatalf("output not sorted: %v after %v", offset, prev)
		}
		prev = offset
	}
	if first := parseTime(t, got[0].P); first != 0 {
		t.Fatalf("first sample at %v, want 0", first)
	}
	if last := parseTime(t, got[len(got)-1].P); last != 2499 {
		t.Fatalf("last sample at %v, want input max 2499", last)
	}
	// Under the cap nothing is removed.
	if got := Normalize(raw[:500], Options{LimitThousands: 1}); len(got) != 500 {
		t.Fatalf("cap removed comments under the limit")
	}
}

func TestNormalizeVolumeCapSpansOddSizes(t *testing.T) {
	// Sizes that do not divide evenly by the cap must still keep both ends.
	for _, n := range []int{1001, 1999, 3333} {
		raw := make([]domain.RawComment, n)
		for i := range raw {
			raw[i] = domain.RawComment{TimeOffset: float64(i), Mode: domain.ModeScroll, Text: "x", UserID: "u"}
		}
		got := Normalize(raw, Options{LimitThousands: 1})
		if len(got) != 1000 {
			t.Fatalf("n=%d: len = %d, want 1000", n, len(got))
		}
		if first := parseTime(t, got[0].P); first != 0 {
			t.Fatalf("n=%d: first sample at %v, want 0", n, first)
		}
		if last := parseTime(t, got[len(got)-1].P); last != float64(n-1) {
			t.Fatalf("n=%d: last sample at %v, want input max %d", n, last, n-1)
		}
	}
}

func parseTime(t *testing.T, p string) float64 {
	t.Helper()
	idx := strings.IndexByte(p, ',')
	if idx < 0 {
		t.Fatalf("bad p attribute %q", p)
	}
	v, err := strconv.ParseFloat(p[:idx], 64)
	if err != nil {
		t.Fatalf("bad p attribute %q: %v", p, err)
	}
	return v
}
