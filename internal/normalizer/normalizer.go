package normalizer

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"

	"github.com/reelrally/reelrally-backend/pkg/enums"
	pkgerrors "github.com/reelrally/reelrally-backend/pkg/errors"
)

// NormalizedURL is the stable identity of a submitted video link.
type NormalizedURL struct {
	Platform     enums.Platform
	ExternalID   string
	CanonicalURL string
}

var (
	tiktokVideoRe    = regexp.MustCompile(`^/@([\w.\-]+)/video/(\d+)/?$`)
	tiktokProfileRe  = regexp.MustCompile(`^/@([\w.\-]+)/?$`)
	instagramReelRe  = regexp.MustCompile(`^/(?:reel|reels)/([\w\-]+)/?$`)
	instagramPostRe  = regexp.MustCompile(`^/p/[\w\-]+/?$`)
	instagramProfRe  = regexp.MustCompile(`^/([\w.]+)/?$`)
	youtubeShortsRe  = regexp.MustCompile(`^/shorts/([\w\-]+)/?$`)
	youtubeProfileRe = regexp.MustCompile(`^/(@[\w.\-]+)/?$`)
)

// Normalize parses a free-form video URL into its platform identity. It is a
// pure function and must run before any scrape batch is assembled.
func Normalize(raw string) (NormalizedURL, error) {
	parsed, err := parseURL(raw)
	if err != nil {
		return NormalizedURL{}, err
	}

	host := hostOf(parsed)
	switch {
	case host == "tiktok.com" || strings.HasSuffix(host, ".tiktok.com"):
		return normalizeTikTok(parsed)
	case host == "instagram.com" || strings.HasSuffix(host, ".instagram.com"):
		return normalizeInstagram(parsed)
	case host == "youtube.com" || strings.HasSuffix(host, ".youtube.com"), host == "youtu.be":
		return normalizeYouTube(parsed, host)
	default:
		return NormalizedURL{}, pkgerrors.New(pkgerrors.CodeValidation,
			fmt.Sprintf("unsupported platform for url %q", raw))
	}
}

// ValidateBatch normalizes every URL and rejects batches that mix platforms,
// since a scrape job targets exactly one provider dataset.
func ValidateBatch(rawURLs []string) ([]NormalizedURL, error) {
	if len(rawURLs) == 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "at least one url is required")
	}

	out := make([]NormalizedURL, 0, len(rawURLs))
	var platform enums.Platform
	for _, raw := range rawURLs {
		normalized, err := Normalize(raw)
		if err != nil {
			return nil, err
		}
		if platform == "" {
			platform = normalized.Platform
		} else if normalized.Platform != platform {
			return nil, pkgerrors.New(pkgerrors.CodeValidation,
				"batch mixes platforms; submit one platform per batch")
		}
		out = append(out, normalized)
	}
	return out, nil
}

// NormalizedProfile identifies a creator profile for account verification.
type NormalizedProfile struct {
	Platform   enums.Platform
	Handle     string
	ProfileURL string
}

// NormalizeProfile parses a profile URL into a platform handle.
func NormalizeProfile(raw string) (NormalizedProfile, error) {
	parsed, err := parseURL(raw)
	if err != nil {
		return NormalizedProfile{}, err
	}

	host := hostOf(parsed)
	path := parsed.EscapedPath()
	switch {
	case host == "tiktok.com" || strings.HasSuffix(host, ".tiktok.com"):
		if m := tiktokProfileRe.FindStringSubmatch(path); m != nil {
			handle := m[1]
			return NormalizedProfile{
				Platform:   enums.PlatformTikTok,
				Handle:     handle,
				ProfileURL: "https://www.tiktok.com/@" + handle,
			}, nil
		}
	case host == "instagram.com" || strings.HasSuffix(host, ".instagram.com"):
		if m := instagramProfRe.FindStringSubmatch(path); m != nil {
			handle := m[1]
			return NormalizedProfile{
				Platform:   enums.PlatformInstagram,
				Handle:     handle,
				ProfileURL: "https://www.instagram.com/" + handle + "/",
			}, nil
		}
	case host == "youtube.com" || strings.HasSuffix(host, ".youtube.com"):
		if m := youtubeProfileRe.FindStringSubmatch(path); m != nil {
			handle := strings.TrimPrefix(m[1], "@")
			return NormalizedProfile{
				Platform:   enums.PlatformYouTube,
				Handle:     handle,
				ProfileURL: "https://www.youtube.com/@" + handle,
			}, nil
		}
	}

	return NormalizedProfile{}, pkgerrors.New(pkgerrors.CodeValidation,
		fmt.Sprintf("unrecognized profile url %q", raw))
}

func normalizeTikTok(parsed *url.URL) (NormalizedURL, error) {
	m := tiktokVideoRe.FindStringSubmatch(parsed.EscapedPath())
	if m == nil {
		return NormalizedURL{}, pkgerrors.New(pkgerrors.CodeValidation,
			"tiktok url must point at a video, e.g. tiktok.com/@user/video/123")
	}
	handle, videoID := m[1], m[2]
	return NormalizedURL{
		Platform:     enums.PlatformTikTok,
		ExternalID:   videoID,
		CanonicalURL: fmt.Sprintf("https://www.tiktok.com/@%s/video/%s", handle, videoID),
	}, nil
}

func normalizeInstagram(parsed *url.URL) (NormalizedURL, error) {
	path := parsed.EscapedPath()
	if instagramPostRe.MatchString(path) {
		return NormalizedURL{}, pkgerrors.New(pkgerrors.CodeValidation,
			"instagram posts are not supported; submit a reel url")
	}
	m := instagramReelRe.FindStringSubmatch(path)
	if m == nil {
		return NormalizedURL{}, pkgerrors.New(pkgerrors.CodeValidation,
			"instagram url must point at a reel, e.g. instagram.com/reel/<code>")
	}
	code := m[1]
	return NormalizedURL{
		Platform:     enums.PlatformInstagram,
		ExternalID:   code,
		CanonicalURL: fmt.Sprintf("https://www.instagram.com/reel/%s/", code),
	}, nil
}

func normalizeYouTube(parsed *url.URL, host string) (NormalizedURL, error) {
	path := parsed.EscapedPath()
	// Long-form watch links and youtu.be shares are platform-valid but not
	// short-form content.
	if host == "youtu.be" || strings.HasPrefix(path, "/watch") {
		return NormalizedURL{}, pkgerrors.New(pkgerrors.CodeValidation,
			"only youtube shorts are supported; submit a /shorts/ url")
	}
	m := youtubeShortsRe.FindStringSubmatch(path)
	if m == nil {
		return NormalizedURL{}, pkgerrors.New(pkgerrors.CodeValidation,
			"youtube url must point at a short, e.g. youtube.com/shorts/<id>")
	}
	videoID := m[1]
	return NormalizedURL{
		Platform:     enums.PlatformYouTube,
		ExternalID:   videoID,
		CanonicalURL: "https://www.youtube.com/shorts/" + videoID,
	}, nil
}

func parseURL(raw string) (*url.URL, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "url is required")
	}
	if !strings.Contains(trimmed, "://") {
		trimmed = "https://" + trimmed
	}
	parsed, err := url.Parse(trimmed)
	if err != nil || parsed.Host == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation,
			fmt.Sprintf("malformed url %q", raw))
	}
	return parsed, nil
}

func hostOf(parsed *url.URL) string {
	return strings.ToLower(strings.TrimPrefix(parsed.Hostname(), "www."))
}
