// Package apihttp exposes the dandanplay-compatible lookup API. All danmaku
// routes live under an access-token prefix so the service can sit on the
// public internet without an auth proxy in front.
package apihttp

import (
	"context"
	"encoding/json"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"danmuhub/danmuservice/internal/aggregate"
	"danmuhub/danmuservice/internal/domain"
	"danmuhub/danmuservice/internal/metrics"
	"danmuhub/danmuservice/internal/ratelimit"
)

type DanmuService interface {
	SearchAnime(ctx context.Context, keyword string) ([]domain.Anime, []domain.SourceStatus, error)
	SearchEpisodes(ctx context.Context, animeTitle, episodeTitle string) ([]domain.Bangumi, error)
	GetBangumi(ctx context.Context, animeID int64) (domain.Bangumi, error)
	GetComment(ctx context.Context, episodeID int64) ([]domain.Comment, error)
	MatchFile(ctx context.Context, fileName string) (domain.MatchResponse, error)
	Sources() []domain.SourceInfo
	SourceDiagnostics() []domain.SourceDiagnostics
}

type Server struct {
	service DanmuService
	token   string
	limiter *ratelimit.Limiter
	format  domain.OutputFormat
	logger  *slog.Logger
}

const maxKeywordLength = 200

type ServerOption func(*Server)

func WithLogger(logger *slog.Logger) ServerOption {
	return func(s *Server) {
		s.logger = logger
	}
}

// WithRateLimiter installs the per-token fixed-window limiter. Nil disables
// the window; the global token bucket in the middleware chain still applies.
func WithRateLimiter(limiter *ratelimit.Limiter) ServerOption {
	return func(s *Server) {
		s.limiter = limiter
	}
}

func WithOutputFormat(format domain.OutputFormat) ServerOption {
	return func(s *Server) {
		s.format = format
	}
}

func NewServer(service DanmuService, token string, options ...ServerOption) *Server {
	server := &Server{
		service: service,
		token:   strings.TrimSpace(token),
		format:  domain.OutputJSON,
		logger:  slog.Default(),
	}
	for _, option := range options {
		if option != nil {
			option(server)
		}
	}
	if server.logger == nil {
		server.logger = slog.Default()
	}
	return server
}

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /{$}", s.handleWelcome)
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.Handle("GET /metrics", promhttp.Handler())
	mux.HandleFunc("GET /{token}/api/v2/search/anime", s.withToken(s.handleSearchAnime))
	mux.HandleFunc("GET /{token}/api/v2/search/episodes", s.withToken(s.handleSearchEpisodes))
	mux.HandleFunc("POST /{token}/api/v2/match", s.withToken(s.handleMatch))
	mux.HandleFunc("GET /{token}/api/v2/bangumi/{animeId}", s.withToken(s.handleBangumi))
	mux.HandleFunc("GET /{token}/api/v2/comment/{episodeId}", s.withToken(s.handleComment))
	mux.HandleFunc("GET /{token}/api/v2/sources", s.withToken(s.handleSources))
	traced := otelhttp.NewHandler(loggingMiddleware(s.logger, mux), "danmu-api",
		otelhttp.WithFilter(func(r *http.Request) bool {
			p := r.URL.Path
			return p != "/metrics" && p != "/health"
		}),
	)
	return recoveryMiddleware(s.logger, rateLimitMiddleware(50, 100, metricsMiddleware(traced)))
}

// withToken guards a danmaku route: the path token must match the configured
// one, and each token gets its own fixed request window.
func (s *Server) withToken(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		token := r.PathValue("token")
		if token == "" || token != s.token {
			writeError(w, http.StatusForbidden, "invalid_token", "invalid access token")
			return
		}
		if s.limiter != nil && !s.limiter.Allow(token) {
			retryAfter := s.limiter.RetryAfter(token)
			w.Header().Set("Retry-After", strconv.Itoa(int(retryAfter.Seconds())+1))
			metrics.RateLimitedTotal.Inc()
			writeError(w, http.StatusTooManyRequests, "rate_limited", "too many requests")
			return
		}
		next(w, r)
	}
}

func (s *Server) handleWelcome(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"name":    "danmu-service",
		"status":  "ok",
		"message": "dandanplay-compatible danmaku API; endpoints live under /{token}/api/v2",
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":    "ok",
		"timestamp": time.Now().UTC(),
	})
}

func (s *Server) handleSearchAnime(w http.ResponseWriter, r *http.Request) {
	keyword := strings.TrimSpace(r.URL.Query().Get("keyword"))
	if keyword == "" {
		writeJSON(w, http.StatusBadRequest, domain.SearchResponse{
			ErrorCode:    http.StatusBadRequest,
			ErrorMessage: "keyword is required",
			Animes:       []domain.Anime{},
		})
		return
	}
	if len(keyword) > maxKeywordLength {
		writeJSON(w, http.StatusBadRequest, domain.SearchResponse{
			ErrorCode:    http.StatusBadRequest,
			ErrorMessage: "keyword too long",
			Animes:       []domain.Anime{},
		})
		return
	}

	animes, statuses, err := s.service.SearchAnime(r.Context(), keyword)
	if err != nil {
		s.logger.Warn("anime search failed",
			slog.String("keyword", truncate(keyword, 80)),
			slog.String("error", err.Error()),
		)
		status := http.StatusInternalServerError
		if errors.Is(err, aggregate.ErrInvalidQuery) {
			status = http.StatusBadRequest
		}
		writeJSON(w, status, domain.SearchResponse{
			ErrorCode:    status,
			ErrorMessage: err.Error(),
			Animes:       []domain.Anime{},
		})
		return
	}

	failed := 0
	for _, st := range statuses {
		if !st.OK {
			failed++
		}
	}
	s.logger.Info("anime search completed",
		slog.String("keyword", truncate(keyword, 80)),
		slog.Int("animes", len(animes)),
		slog.Int("failedSources", failed),
	)
	if animes == nil {
		animes = []domain.Anime{}
	}
	writeJSON(w, http.StatusOK, domain.SearchResponse{
		Success: true,
		Animes:  animes,
		Sources: statuses,
	})
}

type episodeSearchResponse struct {
	ErrorCode    int              `json:"errorCode"`
	Success      bool             `json:"success"`
	ErrorMessage string           `json:"errorMessage"`
	HasMore      bool             `json:"hasMore"`
	Animes       []domain.Bangumi `json:"animes"`
}

func (s *Server) handleSearchEpisodes(w http.ResponseWriter, r *http.Request) {
	animeTitle := strings.TrimSpace(r.URL.Query().Get("anime"))
	episodeTitle := strings.TrimSpace(r.URL.Query().Get("episode"))
	if animeTitle == "" {
		writeJSON(w, http.StatusBadRequest, episodeSearchResponse{
			ErrorCode:    http.StatusBadRequest,
			ErrorMessage: "anime is required",
			Animes:       []domain.Bangumi{},
		})
		return
	}

	animes, err := s.service.SearchEpisodes(r.Context(), animeTitle, episodeTitle)
	if err != nil {
		s.logger.Warn("episode search failed",
			slog.String("anime", truncate(animeTitle, 80)),
			slog.String("error", err.Error()),
		)
		writeJSON(w, http.StatusInternalServerError, episodeSearchResponse{
			ErrorCode:    http.StatusInternalServerError,
			ErrorMessage: "episode search failed",
			Animes:       []domain.Bangumi{},
		})
		return
	}
	if animes == nil {
		animes = []domain.Bangumi{}
	}
	writeJSON(w, http.StatusOK, episodeSearchResponse{Success: true, Animes: animes})
}

type matchRequest struct {
	FileName string `json:"fileName"`
	FileHash string `json:"fileHash,omitempty"`
	FileSize int64  `json:"fileSize,omitempty"`
}

func (s *Server) handleMatch(w http.ResponseWriter, r *http.Request) {
	var req matchRequest
	if err := decodeJSONBody(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, domain.MatchResponse{
			ErrorCode:    http.StatusBadRequest,
			ErrorMessage: err.Error(),
			Matches:      []domain.MatchResult{},
		})
		return
	}
	fileName := strings.TrimSpace(req.FileName)
	if fileName == "" {
		writeJSON(w, http.StatusBadRequest, domain.MatchResponse{
			ErrorCode:    http.StatusBadRequest,
			ErrorMessage: "fileName is required",
			Matches:      []domain.MatchResult{},
		})
		return
	}

	response, err := s.service.MatchFile(r.Context(), fileName)
	if err != nil {
		s.logger.Warn("file match failed",
			slog.String("fileName", truncate(fileName, 120)),
			slog.String("error", err.Error()),
		)
		writeJSON(w, http.StatusInternalServerError, domain.MatchResponse{
			ErrorCode:    http.StatusInternalServerError,
			ErrorMessage: "match failed",
			Matches:      []domain.MatchResult{},
		})
		return
	}
	response.Success = true
	if response.Matches == nil {
		response.Matches = []domain.MatchResult{}
	}
	s.logger.Info("file match completed",
		slog.String("fileName", truncate(fileName, 120)),
		slog.Bool("isMatched", response.IsMatched),
		slog.Int("matches", len(response.Matches)),
	)
	writeJSON(w, http.StatusOK, response)
}

func (s *Server) handleBangumi(w http.ResponseWriter, r *http.Request) {
	animeID, err := strconv.ParseInt(r.PathValue("animeId"), 10, 64)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, domain.BangumiResponse{
			ErrorCode:    http.StatusBadRequest,
			ErrorMessage: "invalid anime id",
		})
		return
	}

	bangumi, err := s.service.GetBangumi(r.Context(), animeID)
	if err != nil {
		if errors.Is(err, aggregate.ErrUnknownAnime) {
			writeJSON(w, http.StatusNotFound, domain.BangumiResponse{
				ErrorCode:    http.StatusNotFound,
				ErrorMessage: "anime not found",
			})
			return
		}
		s.logger.Warn("bangumi lookup failed",
			slog.Int64("animeId", animeID),
			slog.String("error", err.Error()),
		)
		writeJSON(w, http.StatusInternalServerError, domain.BangumiResponse{
			ErrorCode:    http.StatusInternalServerError,
			ErrorMessage: "bangumi lookup failed",
		})
		return
	}
	writeJSON(w, http.StatusOK, domain.BangumiResponse{Success: true, Bangumi: bangumi})
}

func (s *Server) handleComment(w http.ResponseWriter, r *http.Request) {
	episodeID, err := strconv.ParseInt(r.PathValue("episodeId"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "invalid episode id")
		return
	}

	comments, err := s.service.GetComment(r.Context(), episodeID)
	if err != nil {
		if errors.Is(err, aggregate.ErrUnknownEpisode) {
			writeError(w, http.StatusNotFound, "not_found", "episode not found")
			return
		}
		s.logger.Warn("comment fetch failed",
			slog.Int64("episodeId", episodeID),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "internal_error", "comment fetch failed")
		return
	}
	if comments == nil {
		comments = []domain.Comment{}
	}
	metrics.CommentsServedTotal.Add(float64(len(comments)))

	format := s.format
	if raw := r.URL.Query().Get("format"); raw != "" {
		format = domain.NormalizeOutputFormat(raw)
	}
	if format == domain.OutputXML {
		writeCommentXML(w, comments)
		return
	}
	writeJSON(w, http.StatusOK, domain.CommentResponse{Count: len(comments), Comments: comments})
}

func (s *Server) handleSources(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"sources":     s.service.Sources(),
		"diagnostics": s.service.SourceDiagnostics(),
	})
}

type xmlDanmaku struct {
	P    string `xml:"p,attr"`
	Text string `xml:",chardata"`
}

type xmlCommentDoc struct {
	XMLName  xml.Name     `xml:"i"`
	Count    int          `xml:"count"`
	Comments []xmlDanmaku `xml:"d"`
}

func writeCommentXML(w http.ResponseWriter, comments []domain.Comment) {
	doc := xmlCommentDoc{Count: len(comments), Comments: make([]xmlDanmaku, 0, len(comments))}
	for _, c := range comments {
		doc.Comments = append(doc.Comments, xmlDanmaku{P: c.P, Text: c.M})
	}
	w.Header().Set("Content-Type", "application/xml; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(xml.Header))
	_ = xml.NewEncoder(w).Encode(doc)
}

func decodeJSONBody(r *http.Request, dest any) error {
	if r.Body == nil {
		return fmt.Errorf("request body is required")
	}
	defer r.Body.Close()
	decoder := json.NewDecoder(io.LimitReader(r.Body, 1<<20))
	if err := decoder.Decode(dest); err != nil {
		return fmt.Errorf("invalid JSON body")
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, map[string]any{
		"error":   code,
		"message": message,
	})
}
