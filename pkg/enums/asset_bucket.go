package enums

import "fmt"

// AssetBucket is the logical bucket an asset is stored under. Buckets map to
// key prefixes inside the single physical storage bucket.
type AssetBucket string

const (
	AssetBucketVideoCover    AssetBucket = "video_cover"
	AssetBucketCreatorAvatar AssetBucket = "creator_avatar"
	AssetBucketSoundCover    AssetBucket = "sound_cover"
	AssetBucketRawUpload     AssetBucket = "raw_upload"
)

var validAssetBuckets = []AssetBucket{
	AssetBucketVideoCover,
	AssetBucketCreatorAvatar,
	AssetBucketSoundCover,
	AssetBucketRawUpload,
}

// IsValid reports whether the value matches a known asset bucket.
func (a AssetBucket) IsValid() bool {
	for _, candidate := range validAssetBuckets {
		if candidate == a {
			return true
		}
	}
	return false
}

// Prefix returns the object key prefix for the bucket.
func (a AssetBucket) Prefix() string {
	return string(a)
}

// ParseAssetBucket converts the raw string to AssetBucket.
func ParseAssetBucket(value string) (AssetBucket, error) {
	for _, candidate := range validAssetBuckets {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid asset bucket %q", value)
}
