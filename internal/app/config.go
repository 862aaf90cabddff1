package app

import (
	"os"
	"strconv"
	"strings"
	"time"

	"danmuhub/danmuservice/internal/domain"
)

type Config struct {
	HTTPAddr       string
	RequestTimeout time.Duration
	LogLevel       string
	LogFormat      string

	Token string

	SourceOrder   []string
	PlatformOrder []string

	VODServers        string
	VODReturnMode     domain.VODReturnMode
	VODRequestTimeout time.Duration
	OtherServer       string
	BilibiliCookie    string

	PlatformConcurrency int

	BlockedWords      []string
	GroupMinutes      int
	DanmuLimit        int
	Simplified        bool
	ColorMode         domain.ColorMode
	TopBottomToScroll bool
	OutputFormat      domain.OutputFormat

	EpisodeFilterEnabled bool
	EpisodeTitleFilter   string

	StrictMatch        bool
	RememberLastSelect bool
	MaxLastSelectMap   int

	SearchCacheTTL  time.Duration
	CommentCacheTTL time.Duration

	RateLimitMaxRequests int
	RateLimitWindow      time.Duration

	RedisURL     string
	TMDBAPIKey   string
	TMDBBaseURL  string
	TMDBCacheTTL time.Duration
}

func LoadConfig() Config {
	return Config{
		HTTPAddr:       getEnv("HTTP_ADDR", ":9321"),
		RequestTimeout: time.Duration(getEnvInt("REQUEST_TIMEOUT", 15)) * time.Second,
		LogLevel:       strings.ToLower(getEnv("LOG_LEVEL", "info")),
		LogFormat:      strings.ToLower(getEnv("LOG_FORMAT", "text")),

		Token: getEnv("TOKEN", "87654321"),

		SourceOrder:   splitCSV(getEnv("SOURCE_ORDER", "vod,other,tencent,bilibili")),
		PlatformOrder: splitCSV(getEnv("PLATFORM_ORDER", "")),

		VODServers:        getEnv("VOD_SERVERS", ""),
		VODReturnMode:     domain.NormalizeVODReturnMode(getEnv("VOD_RETURN_MODE", "fastest")),
		VODRequestTimeout: time.Duration(getEnvInt("VOD_REQUEST_TIMEOUT", 10000)) * time.Millisecond,
		OtherServer:       getEnv("OTHER_SERVER", "https://api.danmu.icu"),
		BilibiliCookie:    strings.TrimSpace(os.Getenv("BILIBILI_COOKIE")),

		PlatformConcurrency: min(getEnvInt("YOUKU_CONCURRENCY", 8), 16),

		BlockedWords:      splitCSV(os.Getenv("BLOCKED_WORDS")),
		GroupMinutes:      min(getEnvNonNegativeInt("GROUP_MINUTE", 1), 30),
		DanmuLimit:        getEnvNonNegativeInt("DANMU_LIMIT", 0),
		Simplified:        getEnvBool("DANMU_SIMPLIFIED", true),
		ColorMode:         loadColorMode(),
		TopBottomToScroll: getEnvBool("CONVERT_TOP_BOTTOM_TO_SCROLL", false),
		OutputFormat:      domain.NormalizeOutputFormat(getEnv("DANMU_OUTPUT_FORMAT", "json")),

		EpisodeFilterEnabled: getEnvBool("ENABLE_EPISODE_FILTER", false),
		EpisodeTitleFilter:   strings.TrimSpace(os.Getenv("EPISODE_TITLE_FILTER")),

		StrictMatch:        getEnvBool("STRICT_TITLE_MATCH", false),
		RememberLastSelect: getEnvBool("REMEMBER_LAST_SELECT", true),
		MaxLastSelectMap:   getEnvInt("MAX_LAST_SELECT_MAP", 100),

		SearchCacheTTL:  time.Duration(getEnvNonNegativeInt("SEARCH_CACHE_MINUTES", 1)) * time.Minute,
		CommentCacheTTL: time.Duration(getEnvNonNegativeInt("COMMENT_CACHE_MINUTES", 1)) * time.Minute,

		RateLimitMaxRequests: getEnvNonNegativeInt("RATE_LIMIT_MAX_REQUESTS", 3),
		RateLimitWindow:      time.Duration(getEnvInt("RATE_LIMIT_WINDOW_SECONDS", 60)) * time.Second,

		RedisURL:     getEnv("REDIS_URL", ""),
		TMDBAPIKey:   strings.TrimSpace(os.Getenv("TMDB_API_KEY")),
		TMDBBaseURL:  getEnv("TMDB_BASE_URL", "https://api.themoviedb.org/3"),
		TMDBCacheTTL: time.Duration(getEnvInt("TMDB_CACHE_TTL_DAYS", 7)) * 24 * time.Hour,
	}
}

// loadColorMode reads CONVERT_COLOR, honoring the older boolean
// CONVERT_COLOR_TO_WHITE when the new variable is unset.
func loadColorMode() domain.ColorMode {
	if raw := strings.TrimSpace(os.Getenv("CONVERT_COLOR")); raw != "" {
		return domain.NormalizeColorMode(raw)
	}
	if getEnvBool("CONVERT_COLOR_TO_WHITE", false) {
		return domain.ColorModeWhite
	}
	return domain.ColorModeDefault
}

func splitCSV(raw string) []string {
	parts := strings.Split(raw, ",")
	values := make([]string, 0, len(parts))
	for _, part := range parts {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			values = append(values, trimmed)
		}
	}
	return values
}

func getEnv(key, fallback string) string {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	return value
}

func getEnvInt(key string, fallback int) int {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(raw)
	if err != nil || parsed <= 0 {
		return fallback
	}
	return parsed
}

// getEnvNonNegativeInt is for knobs where zero is meaningful (disabled).
func getEnvNonNegativeInt(key string, fallback int) int {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(raw)
	if err != nil || parsed < 0 {
		return fallback
	}
	return parsed
}

func getEnvBool(key string, fallback bool) bool {
	raw := strings.ToLower(strings.TrimSpace(os.Getenv(key)))
	if raw == "" {
		return fallback
	}
	switch raw {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return fallback
	}
}
