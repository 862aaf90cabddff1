// Package tmdb resolves canonical titles through The Movie Database, used to
// turn foreign release names into the Chinese titles the platform catalogs
// index by.
package tmdb

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
	"unicode"

	"github.com/redis/go-redis/v9"
)

const (
	defaultBaseURL = "https://api.themoviedb.org/3"
	redisCacheKey  = "danmu:tmdb:"

	// animationGenreID gates the Japanese-title lookup: content tagged with
	// TMDB genre 16 (animation) or originally in Japanese qualifies.
	animationGenreID = 16
	japaneseLanguage = "ja"
)

type Client struct {
	apiKey   string
	baseURL  string
	http     *http.Client
	redis    *redis.Client
	cacheTTL time.Duration
}

type Config struct {
	APIKey   string
	BaseURL  string
	Client   *http.Client
	Redis    *redis.Client
	CacheTTL time.Duration
}

func NewClient(cfg Config) *Client {
	baseURL := strings.TrimSpace(cfg.BaseURL)
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	httpClient := cfg.Client
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	cacheTTL := cfg.CacheTTL
	if cacheTTL <= 0 {
		cacheTTL = 7 * 24 * time.Hour
	}
	return &Client{
		apiKey:   strings.TrimSpace(cfg.APIKey),
		baseURL:  strings.TrimRight(baseURL, "/"),
		http:     httpClient,
		redis:    cfg.Redis,
		cacheTTL: cacheTTL,
	}
}

func (c *Client) Enabled() bool {
	return c != nil && c.apiKey != ""
}

type searchResult struct {
	ID               int    `json:"id"`
	Title            string `json:"title,omitempty"`
	Name             string `json:"name,omitempty"`
	OriginalTitle    string `json:"original_title,omitempty"`
	OriginalName     string `json:"original_name,omitempty"`
	OriginalLanguage string `json:"original_language,omitempty"`
	GenreIDs         []int  `json:"genre_ids,omitempty"`
}

func (r searchResult) displayTitle() string {
	if r.Name != "" {
		return r.Name
	}
	return r.Title
}

func (r searchResult) originalTitle() string {
	if r.OriginalName != "" {
		return r.OriginalName
	}
	return r.OriginalTitle
}

type searchResponse struct {
	Results []searchResult `json:"results"`
}

// ResolveChineseTitle maps a foreign title to its Chinese catalog title.
// Titles already containing Chinese pass through; any lookup failure returns
// the input unchanged, the caller never degrades.
func (c *Client) ResolveChineseTitle(ctx context.Context, title string, season int) string {
	if !c.Enabled() || containsChinese(title) {
		return title
	}

	mediaType := "movie"
	if season > 0 {
		mediaType = "tv"
	}

	results, err := c.search(ctx, mediaType, title, "zh-CN")
	if err != nil || len(results) == 0 {
		return title
	}

	// Prefer the first result whose display title is actually Chinese.
	selected := results[0]
	for _, r := range results {
		if containsChinese(r.displayTitle()) {
			selected = r
			break
		}
	}
	if resolved := selected.displayTitle(); resolved != "" {
		return resolved
	}
	return title
}

// ResolveJapaneseTitle returns the Japanese original title for animation or
// Japanese-language content, empty otherwise. Used to widen searches for
// anime whose platforms index by the original title.
func (c *Client) ResolveJapaneseTitle(ctx context.Context, title string) string {
	if !c.Enabled() {
		return ""
	}

	results, err := c.search(ctx, "multi", title, "zh-CN")
	if err != nil {
		return ""
	}
	for _, r := range results {
		if !isAnimationOrJapanese(r) {
			continue
		}
		if original := r.originalTitle(); original != "" {
			return original
		}
	}
	return ""
}

func isAnimationOrJapanese(r searchResult) bool {
	for _, id := range r.GenreIDs {
		if id == animationGenreID {
			return true
		}
	}
	return r.OriginalLanguage == japaneseLanguage
}

func (c *Client) search(ctx context.Context, mediaType, query, lang string) ([]searchResult, error) {
	cacheKey := fmt.Sprintf("%s:%s:%s", mediaType, strings.ToLower(strings.TrimSpace(query)), lang)

	if c.redis != nil {
		data, err := c.redis.Get(ctx, redisCacheKey+cacheKey).Bytes()
		if err == nil {
			var results []searchResult
			if json.Unmarshal(data, &results) == nil {
				return results, nil
			}
		}
	}

	params := url.Values{
		"api_key":  {c.apiKey},
		"query":    {strings.TrimSpace(query)},
		"language": {lang},
	}

	reqURL := c.baseURL + "/search/" + mediaType + "?" + params.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, err
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, fmt.Errorf("tmdb HTTP %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 512*1024))
	if err != nil {
		return nil, err
	}

	var response searchResponse
	if err := json.Unmarshal(body, &response); err != nil {
		return nil, err
	}

	if c.redis != nil {
		if data, err := json.Marshal(response.Results); err == nil {
			_ = c.redis.Set(ctx, redisCacheKey+cacheKey, data, c.cacheTTL).Err()
		}
	}

	return response.Results, nil
}

func containsChinese(s string) bool {
	for _, r := range s {
		if unicode.Is(unicode.Han, r) {
			return true
		}
	}
	return false
}
