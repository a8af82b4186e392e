package enums

import "fmt"

// Platform identifies the short-form video platform a URL belongs to.
type Platform string

const (
	PlatformTikTok    Platform = "tiktok"
	PlatformInstagram Platform = "instagram"
	PlatformYouTube   Platform = "youtube"
	PlatformUnknown   Platform = "unknown"
)

var validPlatforms = []Platform{
	PlatformTikTok,
	PlatformInstagram,
	PlatformYouTube,
}

// IsValid reports whether the value is a supported platform.
func (p Platform) IsValid() bool {
	for _, candidate := range validPlatforms {
		if candidate == p {
			return true
		}
	}
	return false
}

// ParsePlatform converts the raw string to Platform.
func ParsePlatform(value string) (Platform, error) {
	for _, candidate := range validPlatforms {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid platform %q", value)
}
