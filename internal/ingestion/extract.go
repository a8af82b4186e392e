package ingestion

import (
	"encoding/json"
	"strconv"
	"strings"
	"time"

	"github.com/reelrally/reelrally-backend/pkg/enums"
	pkgerrors "github.com/reelrally/reelrally-backend/pkg/errors"
)

// ScrapedCreator is the normalized creator slice of a scraped record.
type ScrapedCreator struct {
	ExternalID    string
	Handle        string
	DisplayName   string
	AvatarURL     string
	Bio           string
	FollowerCount int64
}

// ScrapedVideo is a scraped record normalized into the canonical shape the
// reconciler upserts.
type ScrapedVideo struct {
	ExternalID    string
	URL           string
	Caption       string
	Hashtags      []string
	CoverURL      string
	SoundTitle    string
	SoundCoverURL string

	ViewCount    int64
	LikeCount    int64
	CommentCount int64
	ShareCount   int64

	PostedAt *time.Time
	Creator  ScrapedCreator
}

// fieldPath is one candidate location of a value inside a heterogeneous
// provider record.
type fieldPath []string

// fieldPaths lists candidate locations per logical field in priority order.
// Platforms expose the same facts under different, sometimes nested, names;
// each field is resolved by trying its paths until one yields a value.
type fieldPaths struct {
	videoID    []fieldPath
	url        []fieldPath
	caption    []fieldPath
	hashtags   []fieldPath
	cover      []fieldPath
	soundTitle []fieldPath
	soundCover []fieldPath
	postedAt   []fieldPath

	views    []fieldPath
	likes    []fieldPath
	comments []fieldPath
	shares   []fieldPath

	creatorID   []fieldPath
	handle      []fieldPath
	displayName []fieldPath
	avatar      []fieldPath
	bio         []fieldPath
	followers   []fieldPath
}

var pathsByPlatform = map[enums.Platform]fieldPaths{
	enums.PlatformTikTok: {
		videoID:    paths("post_id", "id", "video_id"),
		url:        paths("url", "webVideoUrl", "post_url"),
		caption:    paths("description", "desc", "title"),
		hashtags:   paths("hashtags", "challenges"),
		cover:      paths("preview_image", "cover", "video_cover", "thumbnail"),
		soundTitle: []fieldPath{{"music", "title"}, {"music_title"}, {"sound", "title"}},
		soundCover: []fieldPath{{"music", "cover"}, {"music_cover"}, {"sound", "cover_url"}},
		postedAt:   paths("create_time", "posted_at", "createTimeISO"),
		views:      paths("play_count", "playcount", "video_play_count"),
		likes:      paths("digg_count", "likes", "like_count"),
		comments:   paths("comment_count", "comments"),
		shares:     paths("share_count", "shares"),
		creatorID:  []fieldPath{{"profile_id"}, {"author", "id"}, {"author_id"}, {"account_id"}},
		handle:     []fieldPath{{"profile_username"}, {"author", "unique_id"}, {"account_id"}, {"username"}},
		displayName: []fieldPath{
			{"profile_name"}, {"author", "nickname"}, {"nickname"},
		},
		avatar:    []fieldPath{{"profile_avatar"}, {"author", "avatar"}, {"avatar_url"}},
		bio:       []fieldPath{{"profile_biography"}, {"author", "signature"}, {"biography"}, {"signature"}},
		followers: []fieldPath{{"profile_followers"}, {"author", "followers"}, {"followers"}},
	},
	enums.PlatformInstagram: {
		videoID:    paths("post_id", "pk", "id", "shortcode"),
		url:        paths("url", "post_url", "permalink"),
		caption:    paths("description", "caption", "edge_media_to_caption"),
		hashtags:   paths("hashtags", "tags"),
		cover:      paths("thumbnail", "display_url", "preview_image"),
		soundTitle: []fieldPath{{"audio", "title"}, {"music_info", "title"}},
		soundCover: []fieldPath{{"audio", "cover"}, {"music_info", "cover_url"}},
		postedAt:   paths("date_posted", "taken_at", "timestamp"),
		views:      paths("video_view_count", "views", "play_count"),
		likes:      paths("likes", "like_count", "edge_liked_by"),
		comments:   paths("num_comments", "comment_count", "comments"),
		shares:     paths("shares", "share_count"),
		creatorID:  []fieldPath{{"owner_id"}, {"user_id"}, {"user_posted_id"}, {"owner", "id"}},
		handle:     []fieldPath{{"user_posted"}, {"username"}, {"owner", "username"}},
		displayName: []fieldPath{
			{"full_name"}, {"profile_name"}, {"owner", "full_name"},
		},
		avatar:    []fieldPath{{"profile_image_link"}, {"avatar_url"}, {"owner", "profile_pic_url"}},
		bio:       []fieldPath{{"biography"}, {"bio"}, {"owner", "biography"}},
		followers: []fieldPath{{"followers"}, {"follower_count"}, {"owner", "edge_followed_by"}},
	},
	enums.PlatformYouTube: {
		videoID:    paths("video_id", "id", "videoId"),
		url:        paths("url", "video_url"),
		caption:    paths("description", "title"),
		hashtags:   paths("hashtags", "tags"),
		cover:      paths("preview_image", "thumbnail", "thumbnail_url"),
		soundTitle: []fieldPath{{"music", "title"}},
		soundCover: []fieldPath{{"music", "cover"}},
		postedAt:   paths("date_posted", "publish_date", "published_at"),
		views:      paths("views", "view_count", "viewCount"),
		likes:      paths("likes", "like_count"),
		comments:   paths("num_comments", "comment_count"),
		shares:     paths("shares", "share_count"),
		creatorID:  []fieldPath{{"channel_id"}, {"youtuber_id"}, {"channel", "id"}},
		handle:     []fieldPath{{"youtuber"}, {"handle"}, {"channel", "handle"}, {"channel_name"}},
		displayName: []fieldPath{
			{"channel_name"}, {"youtuber"}, {"channel", "title"},
		},
		avatar:    []fieldPath{{"avatar"}, {"channel_avatar"}, {"channel", "avatar"}},
		bio:       []fieldPath{{"channel_description"}, {"about"}, {"channel", "description"}},
		followers: []fieldPath{{"subscribers"}, {"subscriber_count"}, {"channel", "subscribers"}},
	},
}

func paths(names ...string) []fieldPath {
	out := make([]fieldPath, 0, len(names))
	for _, name := range names {
		out = append(out, fieldPath{name})
	}
	return out
}

// ExtractVideo normalizes one raw provider record. A record with no
// resolvable external id is malformed and skipped by the caller.
func ExtractVideo(platform enums.Platform, raw json.RawMessage) (ScrapedVideo, error) {
	var record map[string]any
	if err := json.Unmarshal(raw, &record); err != nil {
		return ScrapedVideo{}, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "undecodable record")
	}

	fp, ok := pathsByPlatform[platform]
	if !ok {
		return ScrapedVideo{}, pkgerrors.New(pkgerrors.CodeValidation, "no extractors for platform")
	}

	externalID := firstString(record, fp.videoID)
	if externalID == "" {
		return ScrapedVideo{}, pkgerrors.New(pkgerrors.CodeValidation, "record carries no video id")
	}

	video := ScrapedVideo{
		ExternalID:    externalID,
		URL:           firstString(record, fp.url),
		Caption:       firstString(record, fp.caption),
		Hashtags:      firstStringList(record, fp.hashtags),
		CoverURL:      firstString(record, fp.cover),
		SoundTitle:    firstString(record, fp.soundTitle),
		SoundCoverURL: firstString(record, fp.soundCover),
		ViewCount:     firstNumber(record, fp.views),
		LikeCount:     firstNumber(record, fp.likes),
		CommentCount:  firstNumber(record, fp.comments),
		ShareCount:    firstNumber(record, fp.shares),
		PostedAt:      firstTime(record, fp.postedAt),
		Creator: ScrapedCreator{
			ExternalID:    firstString(record, fp.creatorID),
			Handle:        firstString(record, fp.handle),
			DisplayName:   firstString(record, fp.displayName),
			AvatarURL:     firstString(record, fp.avatar),
			Bio:           firstString(record, fp.bio),
			FollowerCount: firstNumber(record, fp.followers),
		},
	}
	return video, nil
}

func resolve(record map[string]any, path fieldPath) (any, bool) {
	current := any(record)
	for _, key := range path {
		node, ok := current.(map[string]any)
		if !ok {
			return nil, false
		}
		current, ok = node[key]
		if !ok {
			return nil, false
		}
	}
	return current, true
}

func firstString(record map[string]any, candidates []fieldPath) string {
	for _, path := range candidates {
		value, ok := resolve(record, path)
		if !ok {
			continue
		}
		switch v := value.(type) {
		case string:
			if trimmed := strings.TrimSpace(v); trimmed != "" {
				return trimmed
			}
		case float64:
			return strconv.FormatFloat(v, 'f', -1, 64)
		case json.Number:
			return v.String()
		}
	}
	return ""
}

func firstNumber(record map[string]any, candidates []fieldPath) int64 {
	for _, path := range candidates {
		value, ok := resolve(record, path)
		if !ok {
			continue
		}
		switch v := value.(type) {
		case float64:
			return int64(v)
		case json.Number:
			if n, err := v.Int64(); err == nil {
				return n
			}
		case string:
			if n, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64); err == nil {
				return n
			}
		case map[string]any:
			// Instagram wraps counts as {"count": N}.
			if count, ok := v["count"].(float64); ok {
				return int64(count)
			}
		}
	}
	return 0
}

// firstStringList accepts plain string arrays and arrays of objects carrying
// a name/title/tag field.
func firstStringList(record map[string]any, candidates []fieldPath) []string {
	for _, path := range candidates {
		value, ok := resolve(record, path)
		if !ok {
			continue
		}
		items, ok := value.([]any)
		if !ok || len(items) == 0 {
			continue
		}
		var out []string
		for _, item := range items {
			switch v := item.(type) {
			case string:
				if v != "" {
					out = append(out, v)
				}
			case map[string]any:
				for _, key := range []string{"name", "title", "tag", "hashtag"} {
					if s, ok := v[key].(string); ok && s != "" {
						out = append(out, s)
						break
					}
				}
			}
		}
		if len(out) > 0 {
			return out
		}
	}
	return nil
}

func firstTime(record map[string]any, candidates []fieldPath) *time.Time {
	for _, path := range candidates {
		value, ok := resolve(record, path)
		if !ok {
			continue
		}
		switch v := value.(type) {
		case string:
			for _, layout := range []string{time.RFC3339, "2006-01-02T15:04:05", "2006-01-02"} {
				if ts, err := time.Parse(layout, v); err == nil {
					return &ts
				}
			}
		case float64:
			if v > 0 {
				ts := time.Unix(int64(v), 0).UTC()
				return &ts
			}
		}
	}
	return nil
}
