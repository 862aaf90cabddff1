// Package tencent is a thin client for Tencent Video search, episode lists
// and the segmented barrage endpoint.
package tencent

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"danmuhub/danmuservice/internal/domain"
)

const (
	defaultAPIBase     = "https://pbaccess.video.qq.com"
	defaultBarrageBase = "https://dm.video.qq.com"

	searchPath  = "/trpc.videosearch.mobile_search.MultiTerminalSearch/MbSearch?vplatform=2"
	episodePath = "/trpc.universal_backend_service.page_server_rpc.PageServer/GetPageData?video_appid=3000010&vplatform=2"
	barragePath = "/barrage/base/%s"
	segmentPath = "/barrage/segment/%s/%s"

	defaultTimeout = 10 * time.Second
	userAgent      = "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/91.0.4472.124 Safari/537.36"
)

type Client struct {
	apiBase     string
	barrageBase string
	http        *http.Client
}

type Config struct {
	// APIBase and BarrageBase override the upstream hosts, mainly for tests.
	APIBase     string
	BarrageBase string
	HTTP        *http.Client
}

func NewClient(cfg Config) *Client {
	apiBase := strings.TrimRight(strings.TrimSpace(cfg.APIBase), "/")
	if apiBase == "" {
		apiBase = defaultAPIBase
	}
	barrageBase := strings.TrimRight(strings.TrimSpace(cfg.BarrageBase), "/")
	if barrageBase == "" {
		barrageBase = defaultBarrageBase
	}
	httpClient := cfg.HTTP
	if httpClient == nil {
		httpClient = &http.Client{Timeout: defaultTimeout}
	}
	return &Client{apiBase: apiBase, barrageBase: barrageBase, http: httpClient}
}

func (c *Client) Name() string { return string(domain.SourceTencent) }

func (c *Client) Info() domain.SourceInfo {
	return domain.SourceInfo{Name: c.Name(), Label: "Tencent Video", Kind: "platform", Enabled: true}
}

type searchRequest struct {
	Version  string `json:"version"`
	Query    string `json:"query"`
	PageNum  int    `json:"pagenum"`
	PageSize int    `json:"pagesize"`
}

type searchResponse struct {
	Data struct {
		NormalList struct {
			ItemList []searchItem `json:"itemList"`
		} `json:"normalList"`
	} `json:"data"`
}

type searchItem struct {
	Doc struct {
		ID string `json:"id"`
	} `json:"doc"`
	VideoInfo struct {
		Title    string `json:"title"`
		Year     int    `json:"year"`
		TypeName string `json:"typeName"`
		ImgURL   string `json:"imgUrl"`
	} `json:"videoInfo"`
}

func (c *Client) Search(ctx context.Context, keyword string) ([]domain.Candidate, error) {
	var payload searchResponse
	err := c.postJSON(ctx, c.apiBase+searchPath, searchRequest{
		Version:  "",
		Query:    keyword,
		PageNum:  0,
		PageSize: 20,
	}, &payload)
	if err != nil {
		return nil, err
	}

	items := payload.Data.NormalList.ItemList
	candidates := make([]domain.Candidate, 0, len(items))
	for _, item := range items {
		title := stripMarkup(item.VideoInfo.Title)
		if title == "" || item.Doc.ID == "" {
			continue
		}
		candidates = append(candidates, domain.Candidate{
			Source:          c.Name(),
			MediaID:         item.Doc.ID,
			Title:           title,
			TypeDescription: item.VideoInfo.TypeName,
			ImageURL:        item.VideoInfo.ImgURL,
			Year:            item.VideoInfo.Year,
		})
	}
	return candidates, nil
}

type episodeRequest struct {
	PageParams struct {
		CID      string `json:"cid"`
		PageType string `json:"page_type"`
		PageID   string `json:"page_id"`
	} `json:"page_params"`
}

type episodeResponse struct {
	Data struct {
		ModuleListDatas []struct {
			ModuleDatas []struct {
				ItemDataLists struct {
					ItemDatas []struct {
						ItemParams struct {
							VID   string `json:"vid"`
							Title string `json:"play_title"`
						} `json:"item_params"`
					} `json:"item_datas"`
				} `json:"item_data_lists"`
			} `json:"module_datas"`
		} `json:"module_list_datas"`
	} `json:"data"`
}

func (c *Client) GetEpisodes(ctx context.Context, candidate domain.Candidate) ([]domain.CandidateEpisode, error) {
	var req episodeRequest
	req.PageParams.CID = candidate.MediaID
	req.PageParams.PageType = "detail_operation"
	req.PageParams.PageID = "vsite_episode_list"

	var payload episodeResponse
	if err := c.postJSON(ctx, c.apiBase+episodePath, req, &payload); err != nil {
		return nil, err
	}

	var episodes []domain.CandidateEpisode
	for _, moduleList := range payload.Data.ModuleListDatas {
		for _, module := range moduleList.ModuleDatas {
			for _, item := range module.ItemDataLists.ItemDatas {
				vid := strings.TrimSpace(item.ItemParams.VID)
				if vid == "" {
					continue
				}
				episodes = append(episodes, domain.CandidateEpisode{
					ID:    vid,
					Title: strings.TrimSpace(item.ItemParams.Title),
					URL:   "https://v.qq.com/x/cover/" + candidate.MediaID + "/" + vid + ".html",
				})
			}
		}
	}
	return episodes, nil
}

type barrageIndex struct {
	SegmentIndex map[string]struct {
		SegmentName string `json:"segment_name"`
	} `json:"segment_index"`
}

type barrageSegment struct {
	BarrageList []struct {
		TimeOffset   json.Number `json:"time_offset"`
		Content      string      `json:"content"`
		ContentStyle string      `json:"content_style"`
	} `json:"barrage_list"`
}

type contentStyle struct {
	Color    string `json:"color"`
	Position int    `json:"position"`
}

func (c *Client) GetEpisodeDanmu(ctx context.Context, episode domain.CandidateEpisode) ([]domain.RawComment, error) {
	var index barrageIndex
	if err := c.getJSON(ctx, fmt.Sprintf(c.barrageBase+barragePath, episode.ID), &index); err != nil {
		return nil, err
	}

	var comments []domain.RawComment
	for _, segment := range index.SegmentIndex {
		if segment.SegmentName == "" {
			continue
		}
		var payload barrageSegment
		if err := c.getJSON(ctx, fmt.Sprintf(c.barrageBase+segmentPath, episode.ID, segment.SegmentName), &payload); err != nil {
			// A missing segment loses a slice of the timeline, not the
			// whole episode.
			continue
		}
		for _, item := range payload.BarrageList {
			ms, err := item.TimeOffset.Int64()
			if err != nil {
				continue
			}
			comment := domain.RawComment{
				TimeOffset: float64(ms) / 1000,
				Mode:       domain.ModeScroll,
				Text:       item.Content,
			}
			if item.ContentStyle != "" {
				var style contentStyle
				if json.Unmarshal([]byte(item.ContentStyle), &style) == nil {
					if parsed, err := strconv.ParseInt(strings.TrimPrefix(style.Color, "#"), 16, 32); err == nil {
						comment.Color = int(parsed)
					}
					switch style.Position {
					case 2:
						comment.Mode = domain.ModeTop
					case 3:
						comment.Mode = domain.ModeBottom
					}
				}
			}
			comments = append(comments, comment)
		}
	}
	return comments, nil
}

func (c *Client) postJSON(ctx context.Context, reqURL string, in, out any) error {
	data, err := json.Marshal(in)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, reqURL, bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Referer", "https://v.qq.com/")
	return c.do(req, out)
}

func (c *Client) getJSON(ctx context.Context, reqURL string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return err
	}
	req.Header.Set("User-Agent", userAgent)
	return c.do(req, out)
}

func (c *Client) do(req *http.Request, out any) error {
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("tencent HTTP %d", resp.StatusCode)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, 16<<20))
	if err != nil {
		return err
	}
	return json.Unmarshal(body, out)
}

func stripMarkup(s string) string {
	replacer := strings.NewReplacer("<em>", "", "</em>", "", `<em class="hl">`, "")
	return strings.TrimSpace(replacer.Replace(s))
}
