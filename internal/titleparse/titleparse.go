// Package titleparse extracts a work title and season/episode numbers from
// video file names and free-form search keywords.
package titleparse

import (
	"regexp"
	"strconv"
	"strings"
	"unicode"
)

// Info is the parsed form of a file name or keyword. Season and Episode are 0
// when the input carries no season/episode marker.
type Info struct {
	Title   string
	Season  int
	Episode int
}

var (
	seasonEpisodeRegex = regexp.MustCompile(`(?i)S(\d{1,2})\s*E(\d{1,3})`)
	crossRegex         = regexp.MustCompile(`\b(\d{1,2})x(\d{2,3})\b`)
	episodeOnlyRegex   = regexp.MustCompile(`(?i)\bEP?(\d{1,3})\b`)
	cjkEpisodeRegex    = regexp.MustCompile(`第(\d{1,4})[集话話期]`)
	trailingPairRegex  = regexp.MustCompile(`[\s._](\d{1,2})(\d{2})$`)

	videoExtensions = map[string]struct{}{
		".mkv": {}, ".mp4": {}, ".avi": {}, ".ts": {}, ".flv": {},
		".mov": {}, ".wmv": {}, ".webm": {}, ".m4v": {}, ".rmvb": {},
	}

	// Tokens that are release noise rather than title words. Matched against
	// whole dot/underscore-separated tokens, case-insensitively.
	noiseTokenRegex = regexp.MustCompile(`(?i)^(\d{3,4}[pi]|4k|uhd|web-?dl|web-?rip|webrip|bluray|blu-ray|bdrip|brrip|remux|hdtv|dvdrip|x26[45]|h|h26[45]|hevc|avc|av1|aac|ac3|eac3|ddp?|dts(-hd)?(ma)?|truehd|atmos|flac|hdr(10)?(\+)?|dv|dovi|sdr|\d+fps|\d+bit|\d+\.\d|chs|cht|gb|big5|multi|dual)$`)

	yearTokenRegex = regexp.MustCompile(`^(19|20)\d{2}$`)
	dateLikeRegex  = regexp.MustCompile(`\b(19|20)\d{2}[.\-/](0?[1-9]|1[0-2])[.\-/](0?[1-9]|[12]\d|3[01])\b`)
)

// Parse never fails: input without any recognizable marker yields the raw
// text as the title with season and episode left at zero.
func Parse(raw string) Info {
	text := strings.TrimSpace(raw)
	if text == "" {
		return Info{Title: raw}
	}
	text = stripExtension(text)

	if loc := seasonEpisodeRegex.FindStringSubmatchIndex(text); loc != nil {
		season, _ := strconv.Atoi(text[loc[2]:loc[3]])
		episode, _ := strconv.Atoi(text[loc[4]:loc[5]])
		return Info{Title: cleanTitle(text[:loc[0]]), Season: season, Episode: episode}
	}

	if loc := crossRegex.FindStringSubmatchIndex(text); loc != nil && !looksLikeDate(text) {
		season, _ := strconv.Atoi(text[loc[2]:loc[3]])
		episode, _ := strconv.Atoi(text[loc[4]:loc[5]])
		return Info{Title: cleanTitle(text[:loc[0]]), Season: season, Episode: episode}
	}

	if loc := cjkEpisodeRegex.FindStringSubmatchIndex(text); loc != nil {
		episode, _ := strconv.Atoi(text[loc[2]:loc[3]])
		return Info{Title: cleanTitle(text[:loc[0]]), Season: 1, Episode: episode}
	}

	if loc := episodeOnlyRegex.FindStringSubmatchIndex(text); loc != nil && loc[0] > 0 {
		episode, _ := strconv.Atoi(text[loc[2]:loc[3]])
		return Info{Title: cleanTitle(text[:loc[0]]), Season: 1, Episode: episode}
	}

	// Bare "<season><episode>" tail such as "0208". Years and date-like runs
	// must not be mistaken for it.
	if loc := trailingPairRegex.FindStringSubmatchIndex(text); loc != nil && !looksLikeDate(text) {
		combined := text[loc[2]:loc[5]]
		if !yearTokenRegex.MatchString(combined) {
			season, _ := strconv.Atoi(text[loc[2]:loc[3]])
			episode, _ := strconv.Atoi(text[loc[4]:loc[5]])
			return Info{Title: cleanTitle(text[:loc[0]]), Season: season, Episode: episode}
		}
	}

	return Info{Title: cleanTitle(text)}
}

func stripExtension(text string) string {
	idx := strings.LastIndexByte(text, '.')
	if idx <= 0 {
		return text
	}
	if _, ok := videoExtensions[strings.ToLower(text[idx:])]; ok {
		return text[:idx]
	}
	return text
}

func looksLikeDate(text string) bool {
	return dateLikeRegex.MatchString(text)
}

// cleanTitle trims separators and release noise from the text left of the
// season/episode marker. Dot-separated release names keep only the leading
// run that still contains CJK script; an ASCII alias and year between a
// Chinese title and the marker ("爱情公寓.ipartment.2009") are dropped.
// Space-separated titles are kept verbatim apart from trailing noise.
func cleanTitle(text string) string {
	title := strings.Trim(text, " ._-[](){}")
	if title == "" {
		return title
	}

	if strings.ContainsRune(title, '.') && !strings.ContainsRune(title, ' ') {
		tokens := strings.FieldsFunc(title, func(r rune) bool { return r == '.' || r == '_' })
		kept := dropReleaseTokens(tokens)
		if len(kept) == 0 {
			return title
		}
		return strings.Join(kept, " ")
	}

	fields := strings.Fields(title)
	for len(fields) > 0 {
		last := fields[len(fields)-1]
		if noiseTokenRegex.MatchString(last) || yearTokenRegex.MatchString(strings.Trim(last, "()[]")) {
			fields = fields[:len(fields)-1]
			continue
		}
		break
	}
	return strings.Join(fields, " ")
}

func dropReleaseTokens(tokens []string) []string {
	lastCJK := -1
	for i, token := range tokens {
		if containsCJK(token) {
			lastCJK = i
		}
	}
	if lastCJK >= 0 {
		return tokens[:lastCJK+1]
	}

	kept := make([]string, 0, len(tokens))
	for _, token := range tokens {
		if noiseTokenRegex.MatchString(token) || yearTokenRegex.MatchString(token) {
			continue
		}
		kept = append(kept, token)
	}
	return kept
}

func containsCJK(s string) bool {
	for _, r := range s {
		if unicode.Is(unicode.Han, r) || unicode.Is(unicode.Hiragana, r) ||
			unicode.Is(unicode.Katakana, r) || unicode.Is(unicode.Hangul, r) {
			return true
		}
	}
	return false
}
