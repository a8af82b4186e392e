package assets

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"path"
	"strings"
	"time"

	"github.com/reelrally/reelrally-backend/pkg/config"
	"github.com/reelrally/reelrally-backend/pkg/enums"
	pkgerrors "github.com/reelrally/reelrally-backend/pkg/errors"
	"github.com/reelrally/reelrally-backend/pkg/logger"
	"github.com/reelrally/reelrally-backend/pkg/storage/gcs"
)

// ObjectStore is the storage surface the adapter needs. *gcs.Client
// implements it.
type ObjectStore interface {
	Upload(ctx context.Context, object, contentType string, body io.Reader) (string, error)
	Stat(ctx context.Context, object string) (*gcs.ObjectInfo, error)
	Delete(ctx context.Context, object string) error
	PublicURL(object string) string
}

// Store deduplicates fetched images by content hash and houses raw uploads.
// Fetch/store failures are surfaced as errors; callers treat them as
// non-fatal and leave the corresponding field unset.
type Store struct {
	objects    ObjectStore
	httpClient *http.Client
	cfg        config.AssetsConfig
	logg       *logger.Logger
}

func NewStore(objects ObjectStore, cfg config.AssetsConfig, logg *logger.Logger) (*Store, error) {
	if objects == nil {
		return nil, fmt.Errorf("object store required")
	}
	timeout := cfg.FetchTimeout
	if timeout <= 0 {
		timeout = 20 * time.Second
	}
	return &Store{
		objects:    objects,
		httpClient: &http.Client{Timeout: timeout},
		cfg:        cfg,
		logg:       logg,
	}, nil
}

// IsInternalURL reports whether the URL already points at our storage, in
// which case re-fetching it would be a wasteful round trip through our own
// bucket.
func (s *Store) IsInternalURL(rawURL string) bool {
	base := s.objects.PublicURL("")
	return base != "" && strings.HasPrefix(rawURL, base)
}

// StoreRemoteImage fetches a remote image, hashes its content, and returns a
// stable deduplicated storage URL. An image already stored under the same
// hash and bucket is reused without uploading a second copy.
func (s *Store) StoreRemoteImage(ctx context.Context, bucket enums.AssetBucket, remoteURL string) (string, error) {
	if strings.TrimSpace(remoteURL) == "" {
		return "", nil
	}
	if !bucket.IsValid() {
		return "", pkgerrors.New(pkgerrors.CodeValidation, "invalid asset bucket")
	}
	if s.IsInternalURL(remoteURL) {
		return remoteURL, nil
	}

	data, contentType, err := s.fetch(ctx, remoteURL)
	if err != nil {
		return "", err
	}

	sum := sha256.Sum256(data)
	object := fmt.Sprintf("%s/%s%s", bucket.Prefix(), hex.EncodeToString(sum[:]), extensionFor(contentType, remoteURL))

	if existing, statErr := s.objects.Stat(ctx, object); statErr == nil && existing != nil {
		return s.objects.PublicURL(object), nil
	} else if statErr != nil && !errors.Is(statErr, gcs.ErrObjectNotFound) {
		return "", pkgerrors.Wrap(pkgerrors.CodeDependency, statErr, "checking stored asset")
	}

	stored, err := s.objects.Upload(ctx, object, contentType, bytes.NewReader(data))
	if err != nil {
		return "", pkgerrors.Wrap(pkgerrors.CodeDependency, err, "uploading asset")
	}
	return stored, nil
}

// StoreRawUpload stores a user-uploaded video under a path derived from the
// submission identity. The caller owns rollback: if any downstream insert
// fails it must Delete the returned object.
func (s *Store) StoreRawUpload(ctx context.Context, platform enums.Platform, externalID, filename string, body io.Reader) (object string, publicURL string, err error) {
	if externalID == "" {
		return "", "", pkgerrors.New(pkgerrors.CodeValidation, "external id required for raw upload")
	}

	limit := int64(s.cfg.MaxUploadMB) * 1024 * 1024
	if limit <= 0 {
		limit = 200 * 1024 * 1024
	}

	ext := strings.ToLower(path.Ext(filename))
	if ext == "" {
		ext = ".mp4"
	}
	object = fmt.Sprintf("%s/%s/%s/%d%s",
		enums.AssetBucketRawUpload.Prefix(), platform, externalID, time.Now().UnixNano(), ext)

	contentType := mime.TypeByExtension(ext)
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	publicURL, err = s.objects.Upload(ctx, object, contentType, io.LimitReader(body, limit))
	if err != nil {
		return "", "", pkgerrors.Wrap(pkgerrors.CodeDependency, err, "storing raw upload")
	}
	return object, publicURL, nil
}

// Delete removes a stored object; used for raw-upload rollback.
func (s *Store) Delete(ctx context.Context, object string) error {
	return s.objects.Delete(ctx, object)
}

func (s *Store) fetch(ctx context.Context, rawURL string) ([]byte, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, "", pkgerrors.Wrap(pkgerrors.CodeValidation, err, "building asset fetch request")
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, "", pkgerrors.Wrap(pkgerrors.CodeDependency, err, "fetching asset")
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, "", pkgerrors.New(pkgerrors.CodeDependency,
			fmt.Sprintf("asset fetch returned %s", resp.Status))
	}

	maxBytes := s.cfg.MaxFetchBytes
	if maxBytes <= 0 {
		maxBytes = 10 * 1024 * 1024
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxBytes+1))
	if err != nil {
		return nil, "", pkgerrors.Wrap(pkgerrors.CodeDependency, err, "reading asset body")
	}
	if int64(len(data)) > maxBytes {
		return nil, "", pkgerrors.New(pkgerrors.CodeValidation, "asset exceeds size limit")
	}

	contentType := resp.Header.Get("Content-Type")
	if i := strings.Index(contentType, ";"); i >= 0 {
		contentType = contentType[:i]
	}
	return data, strings.TrimSpace(contentType), nil
}

func extensionFor(contentType, rawURL string) string {
	switch contentType {
	case "image/jpeg":
		return ".jpg"
	case "image/png":
		return ".png"
	case "image/webp":
		return ".webp"
	case "image/gif":
		return ".gif"
	}
	if ext := path.Ext(strings.SplitN(rawURL, "?", 2)[0]); ext != "" && len(ext) <= 5 {
		return strings.ToLower(ext)
	}
	return ".img"
}
