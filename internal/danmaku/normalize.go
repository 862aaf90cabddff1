// Package danmaku turns heterogeneous source comment records into the
// client-facing wire form: script conversion, mode and color rewrites,
// blocked-word filtering, time-bucket dedup and volume capping.
package danmaku

import (
	"fmt"
	"hash/fnv"
	"sort"
	"strings"

	"github.com/siongui/gojianfan"

	"danmuhub/danmuservice/internal/domain"
)

// Options controls the normalization pipeline. The zero value applies no
// transforms beyond sorting and wire formatting.
type Options struct {
	// Simplified converts traditional Chinese text to simplified.
	Simplified bool
	// TopBottomToScroll rewrites top and bottom comments to scrolling.
	TopBottomToScroll bool
	// ColorMode white forces every comment to decimal white.
	ColorMode domain.ColorMode
	// BlockedWords drops comments containing any of these substrings.
	BlockedWords []string
	// GroupMinutes deduplicates identical texts within time buckets of this
	// many minutes. 0 disables dedup. Values above 30 are clamped to 30.
	GroupMinutes int
	// LimitThousands caps output volume at N*1000 comments by even-interval
	// sampling. 0 disables the cap.
	LimitThousands int
}

// Normalize applies the configured pipeline and returns wire-ready comments
// sorted by time ascending. Input order is not assumed.
func Normalize(raw []domain.RawComment, opts Options) []domain.Comment {
	comments := make([]domain.RawComment, 0, len(raw))
	for _, c := range raw {
		c.Text = strings.TrimSpace(c.Text)
		if c.Text == "" {
			continue
		}
		if blocked(c.Text, opts.BlockedWords) {
			continue
		}
		if opts.Simplified {
			c.Text = gojianfan.T2S(c.Text)
		}
		if opts.TopBottomToScroll && (c.Mode == domain.ModeTop || c.Mode == domain.ModeBottom) {
			c.Mode = domain.ModeScroll
		}
		if c.Mode != domain.ModeScroll && c.Mode != domain.ModeTop && c.Mode != domain.ModeBottom {
			c.Mode = domain.ModeScroll
		}
		if opts.ColorMode == domain.ColorModeWhite || c.Color <= 0 {
			c.Color = domain.DefaultCommentColor
		}
		comments = append(comments, c)
	}

	sort.SliceStable(comments, func(i, j int) bool {
		return comments[i].TimeOffset < comments[j].TimeOffset
	})

	comments = dedupeByBucket(comments, opts.GroupMinutes)
	comments = capVolume(comments, opts.LimitThousands)

	out := make([]domain.Comment, len(comments))
	for i, c := range comments {
		out[i] = domain.Comment{
			CID: int64(i) + 1,
			P:   fmt.Sprintf("%.2f,%d,%d,[%s]", c.TimeOffset, c.Mode, c.Color, userHash(c.UserID)),
			M:   c.Text,
		}
	}
	return out
}

func blocked(text string, words []string) bool {
	for _, w := range words {
		if w != "" && strings.Contains(text, w) {
			return true
		}
	}
	return false
}

// dedupeByBucket keeps the first occurrence of each text within every
// minutes-wide time bucket. Input must be sorted by time.
func dedupeByBucket(comments []domain.RawComment, minutes int) []domain.RawComment {
	if minutes <= 0 || len(comments) == 0 {
		return comments
	}
	if minutes > 30 {
		minutes = 30
	}
	bucketSeconds := float64(minutes * 60)
	seen := make(map[string]struct{}, len(comments))
	out := comments[:0]
	for _, c := range comments {
		bucket := int(c.TimeOffset / bucketSeconds)
		key := fmt.Sprintf("%d:%s", bucket, c.Text)
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, c)
	}
	return out
}

// capVolume samples at even intervals so the kept comments still cover the
// whole timeline. Input must be sorted by time.
func capVolume(comments []domain.RawComment, thousands int) []domain.RawComment {
	if thousands <= 0 {
		return comments
	}
	limit := thousands * 1000
	if len(comments) <= limit {
		return comments
	}
	out := make([]domain.RawComment, 0, limit)
	if limit == 1 {
		return append(out, comments[0])
	}
	// Interpolate across the full index range so the first and last comments
	// are always kept and the sample spans the input's min/max timestamps.
	step := float64(len(comments)-1) / float64(limit-1)
	for i := 0; i < limit; i++ {
		out = append(out, comments[int(float64(i)*step+0.5)])
	}
	return out
}

func userHash(uid string) string {
	h := fnv.New32a()
	h.Write([]byte(uid))
	return fmt.Sprintf("%x", h.Sum32())
}
