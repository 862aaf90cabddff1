package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"danmuhub/danmuservice/internal/aggregate"
	apihttp "danmuhub/danmuservice/internal/api/http"
	"danmuhub/danmuservice/internal/app"
	"danmuhub/danmuservice/internal/cache"
	"danmuhub/danmuservice/internal/danmaku"
	"danmuhub/danmuservice/internal/domain"
	"danmuhub/danmuservice/internal/match"
	"danmuhub/danmuservice/internal/metadata/tmdb"
	"danmuhub/danmuservice/internal/metrics"
	"danmuhub/danmuservice/internal/ratelimit"
	"danmuhub/danmuservice/internal/sources/bilibili"
	"danmuhub/danmuservice/internal/sources/other"
	"danmuhub/danmuservice/internal/sources/tencent"
	"danmuhub/danmuservice/internal/sources/vod"
	"danmuhub/danmuservice/internal/telemetry"
)

// matchThreshold is the minimum fuzzy-title similarity treated as confident.
const matchThreshold = 0.8

func main() {
	cfg := app.LoadConfig()
	logger := newLogger(cfg.LogLevel, cfg.LogFormat)
	slog.SetDefault(logger)
	metrics.Register(prometheus.DefaultRegisterer)

	shutdownTracer, err := telemetry.Init(context.Background(), "danmu-service")
	if err != nil {
		logger.Warn("otel init failed", slog.String("error", err.Error()))
	}
	defer func() {
		if shutdownTracer != nil {
			_ = shutdownTracer(context.Background())
		}
	}()

	logger.Info("configuration loaded",
		slog.String("service", "danmu-service"),
		slog.String("httpAddr", cfg.HTTPAddr),
		slog.String("logLevel", cfg.LogLevel),
		slog.String("logFormat", cfg.LogFormat),
		slog.Duration("requestTimeout", cfg.RequestTimeout),
		slog.Any("sourceOrder", cfg.SourceOrder),
		slog.String("vodReturnMode", string(cfg.VODReturnMode)),
		slog.Bool("hasVODServers", strings.TrimSpace(cfg.VODServers) != ""),
		slog.String("otherServer", cfg.OtherServer),
		slog.Bool("hasRedis", strings.TrimSpace(cfg.RedisURL) != ""),
		slog.Bool("hasTMDBKey", strings.TrimSpace(cfg.TMDBAPIKey) != ""),
		slog.String("outputFormat", string(cfg.OutputFormat)),
	)

	redisClient := connectRedis(cfg, logger)
	queryCache := buildCache(redisClient)

	sources := buildSources(cfg, logger)
	if len(sources) == 0 {
		logger.Error("no danmaku sources configured")
		os.Exit(1)
	}

	memoryCapacity := 0
	if cfg.RememberLastSelect {
		memoryCapacity = cfg.MaxLastSelectMap
	}

	service, err := aggregate.New(aggregate.Options{
		Logger:      logger,
		Sources:     sources,
		Concurrency: platformConcurrency(cfg),
		Cache:       queryCache,
		SearchTTL:   cfg.SearchCacheTTL,
		CommentTTL:  cfg.CommentCacheTTL,
		Timeout:     cfg.RequestTimeout,
		Matcher:     match.Matcher{Threshold: matchThreshold, Strict: cfg.StrictMatch},
		Memory:      match.NewSelectionMemory(memoryCapacity),
		EpisodeFilter: danmaku.NewEpisodeFilter(
			cfg.EpisodeFilterEnabled, cfg.EpisodeTitleFilter, logger),
		Danmaku: danmaku.Options{
			Simplified:        cfg.Simplified,
			TopBottomToScroll: cfg.TopBottomToScroll,
			ColorMode:         cfg.ColorMode,
			BlockedWords:      cfg.BlockedWords,
			GroupMinutes:      cfg.GroupMinutes,
			LimitThousands:    cfg.DanmuLimit,
		},
		Resolver: buildResolver(cfg, redisClient, logger),
	})
	if err != nil {
		logger.Error("service init failed", slog.String("error", err.Error()))
		os.Exit(1)
	}

	handler := apihttp.NewServer(service, cfg.Token,
		apihttp.WithLogger(logger),
		apihttp.WithRateLimiter(ratelimit.New(cfg.RateLimitMaxRequests, cfg.RateLimitWindow)),
		apihttp.WithOutputFormat(cfg.OutputFormat),
	).Handler()

	server := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	rootCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.ListenAndServe()
	}()

	logger.Info("danmu service started",
		slog.String("addr", cfg.HTTPAddr),
		slog.Int("sources", len(sources)),
	)

	select {
	case <-rootCtx.Done():
		logger.Info("shutdown signal received")
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", slog.String("error", err.Error()))
			os.Exit(1)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn("shutdown error", slog.String("error", err.Error()))
	}
	logger.Info("danmu service stopped")
}

func newLogger(levelRaw, formatRaw string) *slog.Logger {
	level := parseLogLevel(levelRaw)
	options := &slog.HandlerOptions{Level: level}
	format := strings.ToLower(strings.TrimSpace(formatRaw))
	if format == "json" {
		return slog.New(slog.NewJSONHandler(os.Stdout, options))
	}
	return slog.New(slog.NewTextHandler(os.Stdout, options))
}

func parseLogLevel(raw string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func connectRedis(cfg app.Config, logger *slog.Logger) *redis.Client {
	redisURL := strings.TrimSpace(cfg.RedisURL)
	if redisURL == "" {
		return nil
	}
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		logger.Warn("invalid redis url, running memory-only", slog.String("error", err.Error()))
		return nil
	}
	client := redis.NewClient(opts)
	pingCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		logger.Warn("redis not reachable, running memory-only", slog.String("error", err.Error()))
		return nil
	}
	logger.Info("redis connected", slog.String("addr", opts.Addr))
	return client
}

func buildCache(redisClient *redis.Client) *cache.Cache {
	opts := cache.Options{}
	if redisClient != nil {
		opts.Redis = cache.NewRedisBackend(redisClient)
	}
	return cache.New(opts)
}

// buildSources instantiates the configured adapters in SOURCE_ORDER, with
// PLATFORM_ORDER refining the relative order of the platform scrapers.
func buildSources(cfg app.Config, logger *slog.Logger) []aggregate.Source {
	httpClient := func() *http.Client {
		return &http.Client{
			Timeout:   cfg.RequestTimeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		}
	}

	relay := other.NewClient(other.Config{Server: cfg.OtherServer, HTTP: httpClient()})

	var sources []aggregate.Source
	for _, name := range applyPlatformOrder(cfg.SourceOrder, cfg.PlatformOrder) {
		switch name {
		case string(domain.SourceVOD):
			endpoints := vod.ParseEndpoints(cfg.VODServers)
			if len(endpoints) == 0 {
				logger.Info("vod source skipped: no VOD_SERVERS configured")
				continue
			}
			client, err := vod.NewClient(vod.Config{
				Endpoints: endpoints,
				Mode:      cfg.VODReturnMode,
				HTTP:      httpClient(),
				Timeout:   cfg.VODRequestTimeout,
				Relay:     relay,
				Logger:    logger,
			})
			if err != nil {
				logger.Warn("vod source skipped", slog.String("error", err.Error()))
				continue
			}
			sources = append(sources, client)
		case string(domain.SourceOther):
			if strings.TrimSpace(cfg.OtherServer) == "" {
				logger.Info("other source skipped: no OTHER_SERVER configured")
				continue
			}
			sources = append(sources, relay)
		case string(domain.SourceTencent):
			sources = append(sources, tencent.NewClient(tencent.Config{HTTP: httpClient()}))
		case string(domain.SourceBilibili):
			sources = append(sources, bilibili.NewClient(bilibili.Config{
				HTTP:   httpClient(),
				Cookie: cfg.BilibiliCookie,
			}))
		default:
			logger.Warn("unknown source in SOURCE_ORDER", slog.String("source", name))
		}
	}
	return sources
}

// applyPlatformOrder reorders the platform scrapers inside the source order.
// The first platform entry is replaced by the PLATFORM_ORDER sequence and
// later platform entries are dropped.
func applyPlatformOrder(sourceOrder, platformOrder []string) []string {
	if len(platformOrder) == 0 {
		return sourceOrder
	}
	platforms := map[string]bool{
		string(domain.SourceTencent):  true,
		string(domain.SourceBilibili): true,
	}
	out := make([]string, 0, len(sourceOrder)+len(platformOrder))
	inserted := false
	for _, name := range sourceOrder {
		if !platforms[name] {
			out = append(out, name)
			continue
		}
		if inserted {
			continue
		}
		for _, p := range platformOrder {
			if platforms[p] {
				out = append(out, p)
			}
		}
		inserted = true
	}
	return out
}

func platformConcurrency(cfg app.Config) map[string]int {
	return map[string]int{
		string(domain.SourceTencent):  cfg.PlatformConcurrency,
		string(domain.SourceBilibili): cfg.PlatformConcurrency,
	}
}

func buildResolver(cfg app.Config, redisClient *redis.Client, logger *slog.Logger) aggregate.TitleResolver {
	apiKey := strings.TrimSpace(cfg.TMDBAPIKey)
	if apiKey == "" {
		logger.Info("tmdb api key not configured, title resolution disabled")
		return nil
	}
	client := tmdb.NewClient(tmdb.Config{
		APIKey:   apiKey,
		BaseURL:  cfg.TMDBBaseURL,
		Client:   &http.Client{Timeout: 10 * time.Second},
		Redis:    redisClient,
		CacheTTL: cfg.TMDBCacheTTL,
	})
	logger.Info("tmdb title resolver initialized")
	return client
}
