// Package other adapts third-party danmu relay servers speaking the
// "?url=...&ac=dm" protocol. The relay has no catalog; it only resolves
// comments for play URLs obtained elsewhere.
package other

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"danmuhub/danmuservice/internal/domain"
)

const (
	defaultTimeout = 15 * time.Second
	userAgent      = "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/91.0.4472.124 Safari/537.36"
)

type Client struct {
	server string
	http   *http.Client
}

type Config struct {
	// Server is the relay base URL, e.g. https://api.danmu.icu.
	Server string
	HTTP   *http.Client
}

func NewClient(cfg Config) *Client {
	httpClient := cfg.HTTP
	if httpClient == nil {
		httpClient = &http.Client{Timeout: defaultTimeout}
	}
	return &Client{
		server: strings.TrimRight(strings.TrimSpace(cfg.Server), "/"),
		http:   httpClient,
	}
}

func (c *Client) Name() string { return string(domain.SourceOther) }

func (c *Client) Info() domain.SourceInfo {
	return domain.SourceInfo{
		Name:    c.Name(),
		Label:   "Danmu relay",
		Kind:    "relay",
		Enabled: c.server != "",
	}
}

// Search is a no-op: the relay cannot enumerate works.
func (c *Client) Search(ctx context.Context, keyword string) ([]domain.Candidate, error) {
	return nil, nil
}

func (c *Client) GetEpisodes(ctx context.Context, candidate domain.Candidate) ([]domain.CandidateEpisode, error) {
	return candidate.Episodes, nil
}

func (c *Client) GetEpisodeDanmu(ctx context.Context, episode domain.CandidateEpisode) ([]domain.RawComment, error) {
	return c.FetchByURL(ctx, episode.URL)
}

// relayResponse is the danmu.icu wire format: danmuku entries are
// [time, mode, color, _, text, ...] tuples with loose typing.
type relayResponse struct {
	Danmuku [][]any `json:"danmuku"`
	Danmu   int     `json:"danmu"`
}

// FetchByURL asks the relay for the comments of a play URL.
func (c *Client) FetchByURL(ctx context.Context, playURL string) ([]domain.RawComment, error) {
	if c.server == "" || playURL == "" {
		return nil, nil
	}

	reqURL := fmt.Sprintf("%s/?url=%s&ac=dm", c.server, url.QueryEscape(playURL))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", userAgent)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("relay HTTP %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 16<<20))
	if err != nil {
		return nil, err
	}

	var payload relayResponse
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, fmt.Errorf("relay payload: %w", err)
	}

	comments := make([]domain.RawComment, 0, len(payload.Danmuku))
	for _, tuple := range payload.Danmuku {
		if c, ok := parseTuple(tuple); ok {
			comments = append(comments, c)
		}
	}
	return comments, nil
}

func parseTuple(tuple []any) (domain.RawComment, bool) {
	if len(tuple) < 5 {
		return domain.RawComment{}, false
	}
	offset, ok := asFloat(tuple[0])
	if !ok {
		return domain.RawComment{}, false
	}
	text, _ := tuple[4].(string)
	text = strings.TrimSpace(text)
	if text == "" {
		return domain.RawComment{}, false
	}

	mode := domain.ModeScroll
	if position, ok := tuple[1].(string); ok {
		switch strings.ToLower(position) {
		case "top":
			mode = domain.ModeTop
		case "bottom":
			mode = domain.ModeBottom
		}
	}

	color := domain.DefaultCommentColor
	if hex, ok := tuple[2].(string); ok {
		if parsed, ok := parseHexColor(hex); ok {
			color = parsed
		}
	}

	return domain.RawComment{
		TimeOffset: offset,
		Mode:       mode,
		Color:      color,
		Text:       text,
	}, true
}

func asFloat(v any) (float64, bool) {
	switch value := v.(type) {
	case float64:
		return value, true
	case string:
		parsed, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
		return parsed, err == nil
	default:
		return 0, false
	}
}

func parseHexColor(raw string) (int, bool) {
	raw = strings.TrimPrefix(strings.TrimSpace(raw), "#")
	if raw == "" {
		return 0, false
	}
	value, err := strconv.ParseInt(raw, 16, 32)
	if err != nil {
		return 0, false
	}
	return int(value), true
}
