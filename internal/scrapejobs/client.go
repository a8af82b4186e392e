package scrapejobs

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"golang.org/x/time/rate"

	"github.com/reelrally/reelrally-backend/pkg/config"
	"github.com/reelrally/reelrally-backend/pkg/db/models"
	"github.com/reelrally/reelrally-backend/pkg/enums"
	pkgerrors "github.com/reelrally/reelrally-backend/pkg/errors"
	"github.com/reelrally/reelrally-backend/pkg/logger"
	"github.com/reelrally/reelrally-backend/pkg/metrics"
	"github.com/reelrally/reelrally-backend/pkg/retry"
)

// placeholderPrefix marks locally generated handles written before the
// provider assigns its own.
const placeholderPrefix = "snap-"

// handleKeys are the response field names the provider has been observed to
// return the job handle under.
var handleKeys = []string{"snapshot_id", "snapshotId", "id"}

// Client submits scrape jobs to the external provider and retrieves results.
// All provider credentials arrive through configuration; nothing is read from
// the environment at call sites.
type Client struct {
	cfg        config.ProviderConfig
	httpClient *http.Client
	limiter    *rate.Limiter
	repo       *Repository
	mets       *metrics.PipelineMetrics
	logg       *logger.Logger
}

func NewClient(cfg config.ProviderConfig, repo *Repository, mets *metrics.PipelineMetrics, logg *logger.Logger) (*Client, error) {
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, fmt.Errorf("provider token required")
	}
	if repo == nil {
		return nil, fmt.Errorf("job metadata repository required")
	}

	perSecond := cfg.RatePerSecond
	if perSecond <= 0 {
		perSecond = 5
	}
	burst := cfg.RateBurst
	if burst <= 0 {
		burst = 10
	}

	return &Client{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.RequestTimeout},
		limiter:    rate.NewLimiter(rate.Limit(perSecond), burst),
		repo:       repo,
		mets:       mets,
		logg:       logg,
	}, nil
}

// NewPlaceholderHandle generates the local handle used until the provider
// responds with its own.
func NewPlaceholderHandle() string {
	return placeholderPrefix + uuid.NewString()
}

// IsPlaceholderHandle reports whether a handle was locally generated.
func IsPlaceholderHandle(handle string) bool {
	return strings.HasPrefix(handle, placeholderPrefix)
}

// TriggerVideos submits a single-platform URL batch. The JobMetadata row is
// written with a placeholder handle before the network call so the webhook
// lookup path exists even if the provider's callback beats its synchronous
// response. Once the provider answers, the row is re-keyed to the assigned
// handle.
func (c *Client) TriggerVideos(ctx context.Context, platform enums.Platform, urls []string) (*models.JobMetadata, error) {
	dataset := c.cfg.DatasetFor(string(platform))
	if dataset == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation,
			fmt.Sprintf("no dataset configured for platform %q", platform))
	}
	return c.trigger(ctx, platform, dataset, urls)
}

// TriggerProfile submits a single profile URL for bio scraping, used by
// account verification.
func (c *Client) TriggerProfile(ctx context.Context, platform enums.Platform, profileURL string) (*models.JobMetadata, error) {
	dataset := c.profileDataset(platform)
	if dataset == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation,
			fmt.Sprintf("no profile dataset configured for platform %q", platform))
	}
	return c.trigger(ctx, platform, dataset, []string{profileURL})
}

func (c *Client) profileDataset(platform enums.Platform) string {
	switch platform {
	case enums.PlatformTikTok:
		return c.cfg.TikTokProfiles
	}
	// Other platforms reuse the post dataset, which also carries profile
	// fields for the account that posted.
	return c.cfg.DatasetFor(string(platform))
}

func (c *Client) trigger(ctx context.Context, platform enums.Platform, dataset string, urls []string) (*models.JobMetadata, error) {
	if len(urls) == 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "at least one url is required")
	}

	placeholder := NewPlaceholderHandle()
	meta := &models.JobMetadata{
		ID:         uuid.New(),
		SnapshotID: placeholder,
		Platform:   platform,
		DatasetID:  dataset,
		URLs:       pq.StringArray(urls),
		Status:     enums.SnapshotStatusQueued,
	}
	if err := c.repo.Insert(ctx, meta); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "recording job metadata")
	}

	assigned, err := c.postTrigger(ctx, dataset, urls)
	if err != nil {
		// Keep the placeholder row: the provider may still call back, and
		// the webhook's URL fallback can find it.
		if c.logg != nil {
			logCtx := c.logg.WithSnapshotID(ctx, placeholder)
			c.logg.Error(logCtx, "scrape trigger failed", err)
		}
		return meta, err
	}

	if assigned != "" && assigned != placeholder {
		if err := c.repo.Rekey(ctx, placeholder, assigned); err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "rekeying job metadata")
		}
		meta.SnapshotID = assigned
	}

	if c.logg != nil {
		logCtx := c.logg.WithFields(ctx, map[string]any{
			"snapshot_id": meta.SnapshotID,
			"platform":    platform,
			"urls":        len(urls),
		})
		c.logg.Info(logCtx, "scrape job triggered")
	}
	return meta, nil
}

func (c *Client) postTrigger(ctx context.Context, dataset string, urls []string) (string, error) {
	body := make([]map[string]string, 0, len(urls))
	for _, u := range urls {
		body = append(body, map[string]string{"url": u})
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return "", pkgerrors.Wrap(pkgerrors.CodeInternal, err, "encoding trigger payload")
	}

	query := url.Values{}
	query.Set("dataset_id", dataset)
	query.Set("format", "json")
	query.Set("uncompressed_webhook", "true")
	if c.cfg.NotifyURL != "" {
		query.Set("notify", c.cfg.NotifyURL)
		query.Set("endpoint", c.cfg.NotifyURL)
	}

	endpoint := fmt.Sprintf("%s/trigger?%s", strings.TrimRight(c.cfg.BaseURL, "/"), query.Encode())

	var handle string
	err = c.doWithRetry(ctx, func(ctx context.Context) error {
		raw, reqErr := c.request(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
		if reqErr != nil {
			return reqErr
		}
		var resp map[string]any
		if decodeErr := json.Unmarshal(raw, &resp); decodeErr != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, decodeErr, "decoding trigger response")
		}
		handle = probeHandle(resp)
		return nil
	})
	if err != nil {
		return "", err
	}
	if handle == "" {
		return "", pkgerrors.New(pkgerrors.CodeDependency, "trigger response carried no job handle")
	}
	return handle, nil
}

// FetchStatus asks the provider for the job's lifecycle state.
func (c *Client) FetchStatus(ctx context.Context, handle string) (enums.SnapshotStatus, error) {
	endpoint := fmt.Sprintf("%s/snapshot/%s", strings.TrimRight(c.cfg.BaseURL, "/"), url.PathEscape(handle))

	var status enums.SnapshotStatus
	err := c.doWithRetry(ctx, func(ctx context.Context) error {
		raw, reqErr := c.request(ctx, http.MethodGet, endpoint, nil)
		if reqErr != nil {
			return reqErr
		}
		var resp struct {
			Status string `json:"status"`
			State  string `json:"state"`
		}
		if decodeErr := json.Unmarshal(raw, &resp); decodeErr != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, decodeErr, "decoding status response")
		}
		value := resp.Status
		if value == "" {
			value = resp.State
		}
		status = enums.ParseSnapshotStatus(value)
		return nil
	})
	if err != nil {
		return enums.SnapshotStatusUnknown, err
	}
	return status, nil
}

// FetchData pulls the job's result records.
func (c *Client) FetchData(ctx context.Context, handle string) ([]json.RawMessage, error) {
	endpoint := fmt.Sprintf("%s/snapshot/%s/data", strings.TrimRight(c.cfg.BaseURL, "/"), url.PathEscape(handle))

	var records []json.RawMessage
	err := c.doWithRetry(ctx, func(ctx context.Context) error {
		raw, reqErr := c.request(ctx, http.MethodGet, endpoint, nil)
		if reqErr != nil {
			return reqErr
		}
		parsed, parseErr := recordsFromPayload(raw)
		if parseErr != nil {
			return parseErr
		}
		records = parsed
		return nil
	})
	if err != nil {
		return nil, err
	}
	return records, nil
}

// AwaitReady polls job status with fast initial retries settling to the
// steady interval. Returns nil when the job is ready, and also nil on poll
// timeout: the provider's readiness signal is occasionally wrong or absent,
// so callers proceed to a direct data fetch anyway. A provider-reported
// failure is terminal.
func (c *Client) AwaitReady(ctx context.Context, handle string) error {
	err := retry.FrontLoaded(ctx,
		c.cfg.PollFastAttempts, c.cfg.PollFastInterval, c.cfg.PollInterval, c.cfg.PollMaxWait,
		func(ctx context.Context) (retry.PollResult, error) {
			status, statusErr := c.FetchStatus(ctx, handle)
			if statusErr != nil {
				// Transient status failures keep polling; the wall clock
				// bounds the loop.
				return retry.PollContinue, nil
			}
			switch status {
			case enums.SnapshotStatusReady:
				_ = c.repo.UpdateStatus(ctx, handle, enums.SnapshotStatusReady)
				return retry.PollDone, nil
			case enums.SnapshotStatusFailed:
				_ = c.repo.UpdateStatus(ctx, handle, enums.SnapshotStatusFailed)
				return retry.PollAbort, pkgerrors.New(pkgerrors.CodeDependency, "provider reported job failure")
			default:
				return retry.PollContinue, nil
			}
		})
	if err == retry.ErrPollTimeout {
		if c.logg != nil {
			logCtx := c.logg.WithSnapshotID(ctx, handle)
			c.logg.Warn(logCtx, "job readiness poll timed out; attempting direct fetch")
		}
		return nil
	}
	return err
}

func (c *Client) doWithRetry(ctx context.Context, op func(ctx context.Context) error) error {
	attempts := 0
	return retry.Do(ctx,
		retry.Policy{
			MaxAttempts: c.cfg.MaxRetries,
			BaseDelay:   c.cfg.RetryBaseDelay,
		},
		pkgerrors.IsRetryable,
		func(ctx context.Context) error {
			attempts++
			if attempts > 1 && c.mets != nil {
				c.mets.IncProviderRetry()
			}
			return op(ctx)
		})
}

// request performs one bearer-authenticated provider call and classifies the
// status code: 429 and 5xx are retryable, other non-2xx are terminal.
func (c *Client) request(ctx context.Context, method, endpoint string, body io.Reader) ([]byte, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, body)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "building provider request")
	}
	req.Header.Set("Authorization", "Bearer "+c.cfg.Token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "calling provider")
	}
	defer func() { _ = resp.Body.Close() }()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 64<<20))
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "reading provider response")
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg := fmt.Sprintf("provider returned %s", resp.Status)
		if retry.RetryableStatus(resp.StatusCode) {
			return nil, pkgerrors.New(pkgerrors.CodeDependency, msg)
		}
		return nil, pkgerrors.New(pkgerrors.CodeValidation, msg)
	}
	return raw, nil
}

// probeHandle tries the known handle field names in priority order.
func probeHandle(resp map[string]any) string {
	for _, key := range handleKeys {
		if value, ok := resp[key].(string); ok && value != "" {
			return value
		}
	}
	return ""
}
