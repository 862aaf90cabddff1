package danmaku

import (
	"log/slog"
	"regexp"
)

// defaultEpisodeFilterTerms matches promotional and behind-the-scenes episode
// titles that should be hidden from episode lists.
const defaultEpisodeFilterTerms = `(特别|惊喜|纳凉)?企划|合伙人手记|超前(营业|vlog)?|速览|vlog|reaction|纯享|加更(版|篇)?|抢先(看|版|集|篇)?|抢鲜|预告|花絮(独家)?|` +
	`特辑|彩蛋|专访|幕后(故事|花絮|独家)?|直播(陪看|回顾)?|未播(片段)?|衍生|番外|会员(专享|加长|尊享|专属|版)?|片花|精华|看点|速看|解读|影评|解说|吐槽|盘点|拍摄花絮|制作花絮|幕后花絮|未播花絮|独家花絮|` +
	`花絮特辑|先导预告|终极预告|正式预告|官方预告|彩蛋片段|删减片段|未播片段|番外彩蛋|精彩片段|精彩看点|精彩回顾|精彩集锦|看点解析|看点预告|` +
	`NG镜头|NG花絮|番外篇|番外特辑|制作特辑|拍摄特辑|幕后特辑|导演特辑|演员特辑|片尾曲|插曲|高光回顾|背景音乐|OST|音乐MV|歌曲MV|前季回顾|` +
	`剧情回顾|往期回顾|内容总结|剧情盘点|精选合集|剪辑合集|混剪视频|独家专访|演员访谈|导演访谈|主创访谈|媒体采访|发布会采访|采访|陪看(记)?|` +
	`试看版|短剧|精编|Plus|独家版|特别版|短片|发布会|解忧局|走心局|火锅局|巅峰时刻|坞里都知道|福持目标坞民|观察室|上班那点事儿|` +
	`周top|赛段|直拍|REACTION|VLOG|全纪录|开播|先导|总宣|展演|集锦|旅行日记|精彩分享|剧情揭秘`

// EpisodeFilter decides whether an episode title is promotional filler.
type EpisodeFilter struct {
	enabled bool
	pattern *regexp.Regexp
}

// NewEpisodeFilter compiles the filter once. A non-empty customTerms fully
// replaces the default vocabulary; if it fails to compile, the default is
// used and a warning is logged.
func NewEpisodeFilter(enabled bool, customTerms string, logger *slog.Logger) *EpisodeFilter {
	terms := customTerms
	if terms == "" {
		terms = defaultEpisodeFilterTerms
	}
	pattern, err := regexp.Compile("(?:" + terms + ")")
	if err != nil {
		if logger != nil {
			logger.Warn("invalid episode title filter, using default", "error", err)
		}
		pattern = regexp.MustCompile("(?:" + defaultEpisodeFilterTerms + ")")
	}
	return &EpisodeFilter{enabled: enabled, pattern: pattern}
}

// Drop reports whether the episode title should be filtered out.
func (f *EpisodeFilter) Drop(title string) bool {
	if f == nil || !f.enabled {
		return false
	}
	return f.pattern.MatchString(title)
}
