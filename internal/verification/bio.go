package verification

import (
	"encoding/json"
	"strings"

	"github.com/reelrally/reelrally-backend/pkg/enums"
)

// bioPaths are the candidate biography locations in a scraped profile
// record, tried in priority order. Profile datasets are not consistent about
// where the bio lives, even within one platform.
var bioPaths = map[enums.Platform][][]string{
	enums.PlatformTikTok: {
		{"biography"}, {"signature"}, {"bio"}, {"about"}, {"profile", "biography"},
	},
	enums.PlatformInstagram: {
		{"biography"}, {"bio"}, {"about"}, {"profile", "biography"},
	},
	enums.PlatformYouTube: {
		{"description"}, {"about"}, {"channel_description"}, {"channel", "description"},
	},
}

// ExtractBio probes the platform's candidate biography paths in order and
// returns the first non-empty string found.
func ExtractBio(platform enums.Platform, raw json.RawMessage) string {
	var record map[string]any
	if err := json.Unmarshal(raw, &record); err != nil {
		return ""
	}
	for _, path := range bioPaths[platform] {
		current := any(record)
		found := true
		for _, key := range path {
			node, ok := current.(map[string]any)
			if !ok {
				found = false
				break
			}
			current, ok = node[key]
			if !ok {
				found = false
				break
			}
		}
		if !found {
			continue
		}
		if value, ok := current.(string); ok {
			if trimmed := strings.TrimSpace(value); trimmed != "" {
				return trimmed
			}
		}
	}
	return ""
}

// ContainsCode reports whether the bio carries the verification code,
// case-insensitively.
func ContainsCode(bio, code string) bool {
	if strings.TrimSpace(code) == "" {
		return false
	}
	return strings.Contains(strings.ToLower(bio), strings.ToLower(code))
}
