package domain

import "strings"

// SourceKind identifies one upstream danmaku or metadata platform.
type SourceKind string

const (
	SourceVOD      SourceKind = "vod"
	SourceOther    SourceKind = "other"
	SourceTencent  SourceKind = "tencent"
	SourceBilibili SourceKind = "bilibili"
)

// Candidate is a single source's view of a matching work. It is request-scoped:
// produced by one source adapter and owned by the orchestrator until the
// response is built.
type Candidate struct {
	Source          string             `json:"source"`
	Endpoint        string             `json:"endpoint,omitempty"`
	MediaID         string             `json:"mediaId"`
	Title           string             `json:"title"`
	Type            string             `json:"type,omitempty"`
	TypeDescription string             `json:"typeDescription,omitempty"`
	ImageURL        string             `json:"imageUrl,omitempty"`
	StartDate       string             `json:"startDate,omitempty"`
	Year            int                `json:"year,omitempty"`
	EpisodeCount    int                `json:"episodeCount,omitempty"`
	Episodes        []CandidateEpisode `json:"episodes,omitempty"`
}

// CandidateEpisode is one playable episode as reported by a source.
type CandidateEpisode struct {
	ID    string `json:"id"`
	Title string `json:"title"`
	URL   string `json:"url,omitempty"`
}

// Anime is a merged, deduplicated candidate in the dandanplay response shape.
// AnimeID is a process-local synthetic identifier minted by the orchestrator.
type Anime struct {
	AnimeID         int64        `json:"animeId"`
	BangumiID       string       `json:"bangumiId"`
	AnimeTitle      string       `json:"animeTitle"`
	Type            string       `json:"type"`
	TypeDescription string       `json:"typeDescription"`
	ImageURL        string       `json:"imageUrl"`
	StartDate       string       `json:"startDate"`
	EpisodeCount    int          `json:"episodeCount"`
	Rating          float64      `json:"rating"`
	IsFavorited     bool         `json:"isFavorited"`
	Source          string       `json:"source"`
	Links           []SourceLink `json:"links"`
}

// SourceLink ties a merged Anime back to one concrete source entry.
type SourceLink struct {
	ID    int64  `json:"id"`
	Name  string `json:"name"`
	URL   string `json:"url"`
	Title string `json:"title"`
}

// Episode is one entry of a bangumi episode list.
type Episode struct {
	EpisodeID     int64  `json:"episodeId"`
	EpisodeTitle  string `json:"episodeTitle"`
	EpisodeNumber string `json:"episodeNumber,omitempty"`
}

// Bangumi is the episode-list payload for one anime.
type Bangumi struct {
	AnimeID         int64     `json:"animeId"`
	BangumiID       string    `json:"bangumiId"`
	AnimeTitle      string    `json:"animeTitle"`
	ImageURL        string    `json:"imageUrl"`
	Type            string    `json:"type"`
	TypeDescription string    `json:"typeDescription"`
	IsOnAir         bool      `json:"isOnAir"`
	AirDay          int       `json:"airDay"`
	IsFavorited     bool      `json:"isFavorited"`
	Rating          float64   `json:"rating"`
	Episodes        []Episode `json:"episodes"`
}

// MatchResult is one automatic filename-match outcome.
type MatchResult struct {
	EpisodeID       int64  `json:"episodeId"`
	AnimeID         int64  `json:"animeId"`
	AnimeTitle      string `json:"animeTitle"`
	EpisodeTitle    string `json:"episodeTitle"`
	Type            string `json:"type"`
	TypeDescription string `json:"typeDescription"`
	Shift           int    `json:"shift"`
	ImageURL        string `json:"imageUrl,omitempty"`
}

// Comment modes on the wire (dandanplay "p" attribute field two).
const (
	ModeScroll = 1
	ModeBottom = 4
	ModeTop    = 5
)

// DefaultCommentColor is decimal RGB white.
const DefaultCommentColor = 16777215

// RawComment is a source-specific danmaku record before normalization.
// Absent fields keep their zero value and take defaults during normalization.
type RawComment struct {
	TimeOffset float64 `json:"timepoint"`
	Mode       int     `json:"ct"`
	Color      int     `json:"color"`
	FontSize   int     `json:"size"`
	Text       string  `json:"content"`
	UserID     string  `json:"uid"`
}

// Comment is the normalized client-facing danmaku record.
// P packs "time,mode,color,userHash" per the dandanplay comment protocol.
type Comment struct {
	CID int64  `json:"cid"`
	P   string `json:"p"`
	M   string `json:"m"`
}

// SourceStatus reports one source's outcome within a fan-out request.
type SourceStatus struct {
	Name  string `json:"name"`
	OK    bool   `json:"ok"`
	Count int    `json:"count"`
	Error string `json:"error,omitempty"`
}

// SourceInfo describes a registered source adapter.
type SourceInfo struct {
	Name    string `json:"name"`
	Label   string `json:"label"`
	Kind    string `json:"kind"`
	Enabled bool   `json:"enabled"`
}

// SourceDiagnostics is the health snapshot of one source adapter.
type SourceDiagnostics struct {
	Name                string `json:"name"`
	Label               string `json:"label"`
	Kind                string `json:"kind"`
	Enabled             bool   `json:"enabled"`
	ConsecutiveFailures int    `json:"consecutiveFailures"`
	BlockedUntilUnix    int64  `json:"blockedUntilUnix,omitempty"`
	LastError           string `json:"lastError,omitempty"`
	LastLatencyMS       int64  `json:"lastLatencyMs,omitempty"`
	TotalRequests       int64  `json:"totalRequests,omitempty"`
	TotalFailures       int64  `json:"totalFailures,omitempty"`
}

// SearchResponse is the payload of /api/v2/search/anime.
type SearchResponse struct {
	ErrorCode    int            `json:"errorCode"`
	Success      bool           `json:"success"`
	ErrorMessage string         `json:"errorMessage"`
	Animes       []Anime        `json:"animes"`
	Sources      []SourceStatus `json:"sources,omitempty"`
}

// BangumiResponse is the payload of /api/v2/bangumi/{animeId}.
type BangumiResponse struct {
	ErrorCode    int     `json:"errorCode"`
	Success      bool    `json:"success"`
	ErrorMessage string  `json:"errorMessage"`
	Bangumi      Bangumi `json:"bangumi"`
}

// CommentResponse is the payload of /api/v2/comment/{episodeId}.
type CommentResponse struct {
	Count    int       `json:"count"`
	Comments []Comment `json:"comments"`
}

// MatchResponse is the payload of /api/v2/match.
type MatchResponse struct {
	ErrorCode    int           `json:"errorCode"`
	Success      bool          `json:"success"`
	ErrorMessage string        `json:"errorMessage"`
	IsMatched    bool          `json:"isMatched"`
	Matches      []MatchResult `json:"matches"`
}

// VODReturnMode selects the racing policy across equivalent VOD endpoints.
type VODReturnMode string

const (
	VODReturnFastest VODReturnMode = "fastest"
	VODReturnAll     VODReturnMode = "all"
)

func NormalizeVODReturnMode(raw string) VODReturnMode {
	switch VODReturnMode(strings.ToLower(strings.TrimSpace(raw))) {
	case VODReturnAll:
		return VODReturnAll
	default:
		return VODReturnFastest
	}
}

// ColorMode selects the comment color transform.
type ColorMode string

const (
	ColorModeDefault ColorMode = "default"
	ColorModeWhite   ColorMode = "white"
)

func NormalizeColorMode(raw string) ColorMode {
	switch ColorMode(strings.ToLower(strings.TrimSpace(raw))) {
	case ColorModeWhite:
		return ColorModeWhite
	default:
		return ColorModeDefault
	}
}

// OutputFormat selects the comment payload encoding.
type OutputFormat string

const (
	OutputJSON OutputFormat = "json"
	OutputXML  OutputFormat = "xml"
)

func NormalizeOutputFormat(raw string) OutputFormat {
	switch OutputFormat(strings.ToLower(strings.TrimSpace(raw))) {
	case OutputXML:
		return OutputXML
	default:
		return OutputJSON
	}
}
