// Package vod adapts MacCMS-style VOD catalog sites. Several equivalent
// endpoints can be configured; searches race across them in fastest or
// merge-all mode.
package vod

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"danmuhub/danmuservice/internal/domain"
)

var ErrNoEndpoints = errors.New("vod: no endpoints configured")

const defaultEndpointTimeout = 10 * time.Second

// Endpoint is one named VOD catalog server.
type Endpoint struct {
	Name string
	URL  string
}

// ParseEndpoints parses the "name@url,name@url" server list format. Entries
// without a name take the host as their name; malformed entries are skipped.
func ParseEndpoints(raw string) []Endpoint {
	var endpoints []Endpoint
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		name, addr, found := strings.Cut(part, "@")
		if !found {
			addr = name
			name = ""
		}
		addr = strings.TrimRight(strings.TrimSpace(addr), "/")
		parsed, err := url.Parse(addr)
		if err != nil || parsed.Host == "" {
			continue
		}
		name = strings.TrimSpace(name)
		if name == "" {
			name = parsed.Host
		}
		endpoints = append(endpoints, Endpoint{Name: name, URL: addr})
	}
	return endpoints
}

// DanmuFetcher retrieves raw comments for a play URL. The vod adapter has no
// danmaku of its own; it delegates to the relay.
type DanmuFetcher interface {
	FetchByURL(ctx context.Context, playURL string) ([]domain.RawComment, error)
}

type Client struct {
	endpoints []Endpoint
	mode      domain.VODReturnMode
	http      *http.Client
	timeout   time.Duration
	relay     DanmuFetcher
	logger    *slog.Logger
}

type Config struct {
	Endpoints []Endpoint
	Mode      domain.VODReturnMode
	HTTP      *http.Client
	// Timeout bounds each endpoint request individually.
	Timeout time.Duration
	Relay   DanmuFetcher
	Logger  *slog.Logger
}

func NewClient(cfg Config) (*Client, error) {
	if len(cfg.Endpoints) == 0 {
		return nil, ErrNoEndpoints
	}
	httpClient := cfg.HTTP
	if httpClient == nil {
		httpClient = &http.Client{Timeout: defaultEndpointTimeout}
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultEndpointTimeout
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		endpoints: cfg.Endpoints,
		mode:      cfg.Mode,
		http:      httpClient,
		timeout:   timeout,
		relay:     cfg.Relay,
		logger:    logger,
	}, nil
}

func (c *Client) Name() string { return string(domain.SourceVOD) }

func (c *Client) Info() domain.SourceInfo {
	return domain.SourceInfo{
		Name:    c.Name(),
		Label:   "VOD catalogs",
		Kind:    "vod",
		Enabled: true,
	}
}

type endpointResult struct {
	endpoint   Endpoint
	candidates []domain.Candidate
	err        error
}

// Search queries the configured endpoints. In fastest mode the first
// successful non-empty response wins and the rest are cancelled; in all mode
// every success is merged and candidates stay tagged by endpoint.
func (c *Client) Search(ctx context.Context, keyword string) ([]domain.Candidate, error) {
	raceCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	results := make(chan endpointResult, len(c.endpoints))
	var wg sync.WaitGroup
	for _, ep := range c.endpoints {
		wg.Add(1)
		go func(ep Endpoint) {
			defer wg.Done()
			epCtx, epCancel := context.WithTimeout(raceCtx, c.timeout)
			defer epCancel()
			candidates, err := c.searchEndpoint(epCtx, ep, keyword)
			select {
			case results <- endpointResult{endpoint: ep, candidates: candidates, err: err}:
			case <-raceCtx.Done():
			}
		}(ep)
	}
	go func() {
		wg.Wait()
		close(results)
	}()

	if c.mode == domain.VODReturnAll {
		return c.collectAll(results)
	}
	return c.collectFastest(raceCtx, cancel, results)
}

func (c *Client) collectFastest(ctx context.Context, cancel context.CancelFunc, results <-chan endpointResult) ([]domain.Candidate, error) {
	var lastErr error
	sawSuccess := false
	for {
		select {
		case res, ok := <-results:
			if !ok {
				// Every endpoint reported. An empty success is a valid
				// answer; only fail when all endpoints errored.
				if sawSuccess {
					return nil, nil
				}
				if lastErr == nil {
					lastErr = errors.New("vod: no endpoint answered")
				}
				return nil, lastErr
			}
			if res.err != nil {
				c.logger.Warn("vod endpoint failed",
					slog.String("endpoint", res.endpoint.Name),
					slog.String("error", res.err.Error()),
				)
				lastErr = res.err
				continue
			}
			if len(res.candidates) == 0 {
				sawSuccess = true
				continue
			}
			// First usable answer wins; stop the stragglers.
			cancel()
			return res.candidates, nil
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

func (c *Client) collectAll(results <-chan endpointResult) ([]domain.Candidate, error) {
	var merged []domain.Candidate
	var lastErr error
	for res := range results {
		if res.err != nil {
			c.logger.Warn("vod endpoint failed",
				slog.String("endpoint", res.endpoint.Name),
				slog.String("error", res.err.Error()),
			)
			lastErr = res.err
			continue
		}
		merged = append(merged, res.candidates...)
	}
	if len(merged) == 0 && lastErr != nil {
		return nil, lastErr
	}
	return merged, nil
}

type vodListResponse struct {
	List []vodItem `json:"list"`
}

type vodItem struct {
	ID       json.Number `json:"vod_id"`
	Name     string      `json:"vod_name"`
	TypeName string      `json:"type_name"`
	Pic      string      `json:"vod_pic"`
	Year     json.Number `json:"vod_year"`
	PlayURL  string      `json:"vod_play_url"`
}

func (c *Client) searchEndpoint(ctx context.Context, ep Endpoint, keyword string) ([]domain.Candidate, error) {
	reqURL := fmt.Sprintf("%s/api.php/provide/vod/?ac=detail&wd=%s", ep.URL, url.QueryEscape(keyword))
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
		return nil, fmt.Errorf("vod %s HTTP %d", ep.Name, resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return nil, err
	}

	var payload vodListResponse
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, fmt.Errorf("vod %s: %w", ep.Name, err)
	}

	candidates := make([]domain.Candidate, 0, len(payload.List))
	for _, item := range payload.List {
		if strings.TrimSpace(item.Name) == "" {
			continue
		}
		episodes := parsePlayURL(item.PlayURL)
		year, _ := item.Year.Int64()
		candidates = append(candidates, domain.Candidate{
			Source:          c.Name(),
			Endpoint:        ep.Name,
			MediaID:         item.ID.String(),
			Title:           strings.TrimSpace(item.Name),
			TypeDescription: item.TypeName,
			ImageURL:        item.Pic,
			Year:            int(year),
			EpisodeCount:    len(episodes),
			Episodes:        episodes,
		})
	}
	return candidates, nil
}

// parsePlayURL splits the MacCMS play list format: play sources separated by
// "$$$", episodes by "#", each episode "title$url". Only the first playable
// source is used.
func parsePlayURL(raw string) []domain.CandidateEpisode {
	if raw == "" {
		return nil
	}
	firstSource := raw
	if idx := strings.Index(raw, "$$$"); idx >= 0 {
		firstSource = raw[:idx]
	}
	var episodes []domain.CandidateEpisode
	for _, part := range strings.Split(firstSource, "#") {
		title, addr, found := strings.Cut(part, "$")
		if !found {
			continue
		}
		title = strings.TrimSpace(title)
		addr = strings.TrimSpace(addr)
		if addr == "" {
			continue
		}
		if title == "" {
			title = addr
		}
		episodes = append(episodes, domain.CandidateEpisode{
			ID:    addr,
			Title: title,
			URL:   addr,
		})
	}
	return episodes
}

// GetEpisodes answers from the episodes embedded in the search response;
// VOD catalogs return the full play list up front.
func (c *Client) GetEpisodes(ctx context.Context, candidate domain.Candidate) ([]domain.CandidateEpisode, error) {
	return candidate.Episodes, nil
}

// GetEpisodeDanmu delegates to the danmu relay for the episode's play URL.
func (c *Client) GetEpisodeDanmu(ctx context.Context, episode domain.CandidateEpisode) ([]domain.RawComment, error) {
	if c.relay == nil {
		return nil, nil
	}
	return c.relay.FetchByURL(ctx, episode.URL)
}
