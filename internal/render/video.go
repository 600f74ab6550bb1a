package render

import (
	"net/url"
	"regexp"
	"strings"
)

// Video 识别出的视频：平台 + 视频 ID
type Video struct {
	Provider string // youtube / vimeo
	ID       string
}

// EmbedURL 播放器地址
func (v Video) EmbedURL() string {
	switch v.Provider {
	case "youtube":
		return "https://www.youtube.com/embed/" + v.ID
	case "vimeo":
		return "https://player.vimeo.com/video/" + v.ID
	}
	return ""
}

var (
	youtubeID   = regexp.MustCompile(`^[A-Za-z0-9_-]{3,64}$`)
	vimeoID     = regexp.MustCompile(`^[0-9]{1,20}$`)
	youtubePath = regexp.MustCompile(`^/(?:embed|shorts|live|v)/([^/?#]+)`)
	vimeoPath   = regexp.MustCompile(`^/(?:video/|channels/[^/]+/|groups/[^/]+/videos/|album/[0-9]+/video/)?([0-9]+)(?:/|$)`)
)

// ParseVideo 识别 YouTube / Vimeo 的短链、标准链接与播放器域名
func ParseVideo(raw string) (Video, bool) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
		return Video{}, false
	}
	host := strings.TrimPrefix(strings.ToLower(u.Hostname()), "www.")

	switch host {
	case "youtu.be":
		id := strings.Trim(u.Path, "/")
		if youtubeID.MatchString(id) {
			return Video{Provider: "youtube", ID: id}, true
		}
	case "youtube.com", "m.youtube.com", "music.youtube.com", "youtube-nocookie.com":
		if u.Path == "/watch" {
			if id := u.Query().Get("v"); youtubeID.MatchString(id) {
				return Video{Provider: "youtube", ID: id}, true
			}
			return Video{}, false
		}
		if m := youtubePath.FindStringSubmatch(u.Path); m != nil && youtubeID.MatchString(m[1]) {
			return Video{Provider: "youtube", ID: m[1]}, true
		}
	case "vimeo.com", "player.vimeo.com":
		if m := vimeoPath.FindStringSubmatch(u.Path); m != nil && vimeoID.MatchString(m[1]) {
			return Video{Provider: "vimeo", ID: m[1]}, true
		}
	}
	return Video{}, false
}
