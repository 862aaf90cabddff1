// Package bilibili is a thin client for bilibili bangumi search, season
// episode lists and the classic XML danmaku endpoint.
package bilibili

import (
	"context"
	"encoding/json"
	"encoding/xml"
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
	defaultBaseURL = "https://api.bilibili.com"

	searchPath  = "/x/web-interface/search/type"
	seasonPath  = "/pgc/view/web/season"
	danmakuPath = "/x/v1/dm/list.so"

	defaultTimeout = 10 * time.Second
	userAgent      = "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/91.0.4472.124 Safari/537.36"
)

type Client struct {
	baseURL string
	http    *http.Client
	cookie  string
}

type Config struct {
	// BaseURL overrides the API host, mainly for tests.
	BaseURL string
	HTTP    *http.Client
	// Cookie is an optional session cookie; some search endpoints reject
	// anonymous requests.
	Cookie string
}

func NewClient(cfg Config) *Client {
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	httpClient := cfg.HTTP
	if httpClient == nil {
		httpClient = &http.Client{Timeout: defaultTimeout}
	}
	return &Client{baseURL: baseURL, http: httpClient, cookie: strings.TrimSpace(cfg.Cookie)}
}

func (c *Client) Name() string { return string(domain.SourceBilibili) }

func (c *Client) Info() domain.SourceInfo {
	return domain.SourceInfo{Name: c.Name(), Label: "bilibili", Kind: "platform", Enabled: true}
}

type searchResponse struct {
	Code int `json:"code"`
	Data struct {
		Result []searchMedia `json:"result"`
	} `json:"data"`
}

type searchMedia struct {
	MediaID  int64  `json:"media_id"`
	SeasonID int64  `json:"season_id"`
	Title    string `json:"title"`
	Cover    string `json:"cover"`
	Pubtime  int64  `json:"pubtime"`
	EpSize   int    `json:"ep_size"`
	TypeName string `json:"season_type_name"`
}

func (c *Client) Search(ctx context.Context, keyword string) ([]domain.Candidate, error) {
	params := url.Values{
		"search_type": {"media_bangumi"},
		"keyword":     {keyword},
	}
	var payload searchResponse
	if err := c.getJSON(ctx, c.baseURL+searchPath+"?"+params.Encode(), &payload); err != nil {
		return nil, err
	}
	if payload.Code != 0 {
		return nil, fmt.Errorf("bilibili search code %d", payload.Code)
	}

	candidates := make([]domain.Candidate, 0, len(payload.Data.Result))
	for _, media := range payload.Data.Result {
		title := stripEmTags(media.Title)
		if title == "" || media.SeasonID == 0 {
			continue
		}
		var startDate string
		if media.Pubtime > 0 {
			startDate = time.Unix(media.Pubtime, 0).UTC().Format("2006-01-02")
		}
		candidates = append(candidates, domain.Candidate{
			Source:          c.Name(),
			MediaID:         strconv.FormatInt(media.SeasonID, 10),
			Title:           title,
			TypeDescription: media.TypeName,
			ImageURL:        media.Cover,
			StartDate:       startDate,
			EpisodeCount:    media.EpSize,
		})
	}
	return candidates, nil
}

type seasonResponse struct {
	Code   int `json:"code"`
	Result struct {
		Episodes []seasonEpisode `json:"episodes"`
	} `json:"result"`
}

type seasonEpisode struct {
	ID        int64  `json:"id"`
	CID       int64  `json:"cid"`
	Title     string `json:"title"`
	LongTitle string `json:"long_title"`
	ShareURL  string `json:"share_url"`
}

func (c *Client) GetEpisodes(ctx context.Context, candidate domain.Candidate) ([]domain.CandidateEpisode, error) {
	var payload seasonResponse
	if err := c.getJSON(ctx, c.baseURL+seasonPath+"?season_id="+url.QueryEscape(candidate.MediaID), &payload); err != nil {
		return nil, err
	}
	if payload.Code != 0 {
		return nil, fmt.Errorf("bilibili season code %d", payload.Code)
	}

	episodes := make([]domain.CandidateEpisode, 0, len(payload.Result.Episodes))
	for _, ep := range payload.Result.Episodes {
		if ep.CID == 0 {
			continue
		}
		title := strings.TrimSpace(ep.LongTitle)
		if title == "" {
			title = strings.TrimSpace(ep.Title)
		}
		episodes = append(episodes, domain.CandidateEpisode{
			// The cid addresses the danmaku pool.
			ID:    strconv.FormatInt(ep.CID, 10),
			Title: title,
			URL:   ep.ShareURL,
		})
	}
	return episodes, nil
}

// danmakuXML is the classic list.so format: one <d> element per comment with
// "time,mode,fontsize,color,timestamp,pool,uidhash,rowid" packed into p.
type danmakuXML struct {
	Items []danmakuItem `xml:"d"`
}

type danmakuItem struct {
	P    string `xml:"p,attr"`
	Text string `xml:",chardata"`
}

func (c *Client) GetEpisodeDanmu(ctx context.Context, episode domain.CandidateEpisode) ([]domain.RawComment, error) {
	body, err := c.getRaw(ctx, c.baseURL+danmakuPath+"?oid="+url.QueryEscape(episode.ID))
	if err != nil {
		return nil, err
	}

	var payload danmakuXML
	if err := xml.Unmarshal(body, &payload); err != nil {
		return nil, fmt.Errorf("bilibili danmaku: %w", err)
	}

	comments := make([]domain.RawComment, 0, len(payload.Items))
	for _, item := range payload.Items {
		fields := strings.Split(item.P, ",")
		if len(fields) < 4 {
			continue
		}
		offset, err := strconv.ParseFloat(fields[0], 64)
		if err != nil {
			continue
		}
		mode, _ := strconv.Atoi(fields[1])
		// Modes 1-3 are scroll variants; 4 bottom and 5 top pass through.
		if mode != domain.ModeBottom && mode != domain.ModeTop {
			mode = domain.ModeScroll
		}
		color, _ := strconv.Atoi(fields[3])
		uid := ""
		if len(fields) >= 7 {
			uid = fields[6]
		}
		comments = append(comments, domain.RawComment{
			TimeOffset: offset,
			Mode:       mode,
			Color:      color,
			Text:       item.Text,
			UserID:     uid,
		})
	}
	return comments, nil
}

func (c *Client) getJSON(ctx context.Context, reqURL string, out any) error {
	body, err := c.getRaw(ctx, reqURL)
	if err != nil {
		return err
	}
	return json.Unmarshal(body, out)
}

func (c *Client) getRaw(ctx context.Context, reqURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Referer", "https://www.bilibili.com/")
	if c.cookie != "" {
		req.Header.Set("Cookie", c.cookie)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("bilibili HTTP %d", resp.StatusCode)
	}
	return io.ReadAll(io.LimitReader(resp.Body, 16<<20))
}

func stripEmTags(s string) string {
	replacer := strings.NewReplacer(`<em class="keyword">`, "", "</em>", "")
	return strings.TrimSpace(replacer.Replace(s))
}
