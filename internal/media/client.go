package media

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/go-resty/resty/v2"
	"github.com/google/uuid"

	"github.com/imanojprajapati/visitrack-v3-sub002/internal/logging"
)

const (
	operationUpload = "upload"
	operationDelete = "delete"

	destroyResultOK       = "ok"
	destroyResultNotFound = "not found"
)

type Config struct {
	CloudName      string
	APIKey         string
	APISecret      string
	BaseURL        string
	AllowedFormats []string
	Transformation string
	MaxUploadBytes int64
	Timeout        time.Duration
	RetryAttempts  int
}

type UploadRequest struct {
	Payload        Payload
	Folder         string
	AllowedFormats []string
}

type DeleteResult struct {
	// Deleted is false when the store no longer had the asset.
	Deleted bool
}

type ClientOption func(*Client)

func WithLogger(logger logging.Logger) ClientOption {
	return func(c *Client) {
		c.logger = logger
	}
}

func WithMetrics(metrics *Metrics) ClientOption {
	return func(c *Client) {
		c.metrics = metrics
	}
}

// WithBackOff replaces the retry schedule; tests use it to avoid sleeping.
func WithBackOff(newBackOff func() backoff.BackOff) ClientOption {
	return func(c *Client) {
		c.newBackOff = newBackOff
	}
}

func WithClock(now func() time.Time) ClientOption {
	return func(c *Client) {
		c.now = now
	}
}

// Client talks to a Cloudinary-compatible media store. It is immutable after
// construction and safe for concurrent use.
type Client struct {
	cfg        Config
	rest       *resty.Client
	logger     logging.Logger
	metrics    *Metrics
	newBackOff func() backoff.BackOff
	now        func() time.Time
}

func NewClient(cfg Config, opts ...ClientOption) (*Client, error) {
	if cfg.CloudName == "" || cfg.APIKey == "" || cfg.APISecret == "" {
		return nil, errors.New("media: cloud name, api key and api secret are required")
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.cloudinary.com"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.MaxUploadBytes <= 0 {
		cfg.MaxUploadBytes = 10 << 20
	}
	if cfg.RetryAttempts <= 0 {
		cfg.RetryAttempts = 1
	}
	if cfg.Transformation == "" {
		cfg.Transformation = "q_auto,f_auto"
	}

	c := &Client{
		cfg: cfg,
		rest: resty.New().
			SetBaseURL(strings.TrimRight(cfg.BaseURL, "/")).
			SetHeader("Accept", "application/json"),
		logger: logging.Nop(),
		now:    time.Now,
	}
	c.newBackOff = func() backoff.BackOff {
		b := backoff.NewExponentialBackOff()
		b.InitialInterval = 300 * time.Millisecond
		b.MaxInterval = 3 * time.Second
		b.MaxElapsedTime = 0
		return b
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

type uploadResponse struct {
	SecureURL    string `json:"secure_url"`
	PublicID     string `json:"public_id"`
	ResourceType string `json:"resource_type"`
	Format       string `json:"format"`
	Bytes        int64  `json:"bytes"`
}

type destroyResponse struct {
	Result string `json:"result"`
}

type errorResponse struct {
	Error struct {
		Message string `json:"message"`
	} `json:"error"`
}

// Upload validates and sizes the payload locally, then sends it to the store.
// Validation failures never reach the network. Every attempt of one call
// carries the same public id with overwrite set, so a retry after a lost
// response replaces the asset instead of adding a second one.
func (c *Client) Upload(ctx context.Context, req UploadRequest) (Reference, error) {
	if err := req.Payload.validate(); err != nil {
		return Reference{}, err
	}
	if size := req.Payload.Size(); size > c.cfg.MaxUploadBytes {
		return Reference{}, fmt.Errorf("%w: %d bytes exceeds %d", ErrPayloadTooLarge, size, c.cfg.MaxUploadBytes)
	}
	if err := ValidateFolder(req.Folder); err != nil {
		return Reference{}, err
	}
	formats := req.AllowedFormats
	if len(formats) == 0 {
		formats = c.cfg.AllowedFormats
	}

	started := time.Now()
	name := uuid.NewString()
	params := map[string]string{
		"folder":          req.Folder,
		"public_id":       name,
		"overwrite":       "true",
		"allowed_formats": strings.Join(formats, ","),
		"transformation":  c.cfg.Transformation,
	}

	var result uploadResponse
	err := c.retry(ctx, operationUpload, func(ctx context.Context) error {
		signed := c.signed(params)
		r := c.rest.R().
			SetContext(ctx).
			SetResult(&uploadResponse{}).
			SetError(&errorResponse{})
		if len(req.Payload.Data) > 0 {
			r.SetMultipartFormData(signed).
				SetFileReader("file", req.Payload.Filename, bytes.NewReader(req.Payload.Data))
		} else {
			signed["file"] = req.Payload.DataURI
			r.SetMultipartFormData(signed)
		}

		resp, err := r.Post(c.path("auto", "upload"))
		if err := c.checkResponse(operationUpload, resp, err); err != nil {
			return err
		}
		result = *resp.Result().(*uploadResponse)
		return nil
	})
	if err != nil {
		if mayHaveLanded(err) {
			c.cleanupOrphan(ctx, req.Payload.resourceType(), req.Folder+"/"+name)
		}
		c.metrics.observe(operationUpload, outcomeOf(err), started)
		return Reference{}, err
	}

	ref, err := c.reference(ctx, req.Folder, result)
	c.metrics.observe(operationUpload, outcomeOf(err), started)
	return ref, err
}

// Delete removes an image asset.
func (c *Client) Delete(ctx context.Context, publicID string) (DeleteResult, error) {
	return c.DeleteResource(ctx, ResourceImage, publicID)
}

// DeleteResource removes an asset of the given resource type (image when
// empty). Deleting an asset the store no longer has is a success with
// Deleted=false.
func (c *Client) DeleteResource(ctx context.Context, resourceType, publicID string) (DeleteResult, error) {
	publicID = strings.TrimSpace(publicID)
	if publicID == "" {
		return DeleteResult{}, ErrEmptyPublicID
	}
	resourceType = strings.TrimSpace(resourceType)
	if resourceType == "" {
		resourceType = ResourceImage
	}
	if !validResourceType(resourceType) {
		return DeleteResult{}, ErrInvalidResourceType
	}

	started := time.Now()
	var result DeleteResult
	err := c.retry(ctx, operationDelete, func(ctx context.Context) error {
		resp, err := c.rest.R().
			SetContext(ctx).
			SetResult(&destroyResponse{}).
			SetError(&errorResponse{}).
			SetFormData(c.signed(map[string]string{
				"public_id":  publicID,
				"invalidate": "true",
			})).
			Post(c.path(resourceType, "destroy"))
		if resp != nil && resp.StatusCode() == http.StatusNotFound {
			result = DeleteResult{Deleted: false}
			return nil
		}
		if err := c.checkResponse(operationDelete, resp, err); err != nil {
			return err
		}
		switch outcome := resp.Result().(*destroyResponse).Result; outcome {
		case destroyResultOK:
			result = DeleteResult{Deleted: true}
		case destroyResultNotFound:
			result = DeleteResult{Deleted: false}
		default:
			return backoff.Permanent(&UpstreamError{
				Operation:  operationDelete,
				StatusCode: resp.StatusCode(),
				Message:    fmt.Sprintf("unexpected destroy result %q", outcome),
			})
		}
		return nil
	})
	c.metrics.observe(operationDelete, outcomeOf(err), started)
	if err != nil {
		return DeleteResult{}, err
	}
	if !result.Deleted {
		c.logger.With(logging.Fields{
			"publicId":     publicID,
			"resourceType": resourceType,
		}).Info(ctx, "media asset already absent")
	}
	return result, nil
}

// retry runs fn under one deadline covering every attempt and the waits
// between them.
func (c *Client) retry(ctx context.Context, operation string, fn func(ctx context.Context) error) error {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	b := backoff.WithContext(backoff.WithMaxRetries(c.newBackOff(), uint64(c.cfg.RetryAttempts-1)), ctx)
	attempt := 0
	return backoff.RetryNotify(func() error {
		attempt++
		return fn(ctx)
	}, b, func(err error, wait time.Duration) {
		c.logger.WithError(err).With(logging.Fields{
			"operation": operation,
			"attempt":   attempt,
			"retryIn":   wait.String(),
		}).Warn(ctx, "media store call failed, retrying")
	})
}

// checkResponse turns transport errors and non-2xx responses into
// UpstreamErrors, marking the ones not worth retrying as permanent.
func (c *Client) checkResponse(operation string, resp *resty.Response, err error) error {
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return backoff.Permanent(&UpstreamError{Operation: operation, Message: "request cancelled", Err: err})
		}
		return &UpstreamError{Operation: operation, Message: "storage service unreachable", Err: err}
	}
	if !resp.IsError() {
		return nil
	}

	message := http.StatusText(resp.StatusCode())
	if body, ok := resp.Error().(*errorResponse); ok && body.Error.Message != "" {
		message = body.Error.Message
	}
	upstream := &UpstreamError{Operation: operation, StatusCode: resp.StatusCode(), Message: message}
	c.logger.With(logging.Fields{
		"operation": operation,
		"status":    resp.StatusCode(),
		"body":      truncate(resp.String(), 512),
	}).Warn(resp.Request.Context(), "media store rejected request")
	if upstream.Temporary() {
		return upstream
	}
	return backoff.Permanent(upstream)
}

// reference normalizes the store response so PublicID always equals what
// ExtractPublicID yields for SecureURL.
func (c *Client) reference(ctx context.Context, folder string, resp uploadResponse) (Reference, error) {
	resourceType := resp.ResourceType
	if resourceType == "" {
		resourceType = ResourceTypeOf(resp.SecureURL)
	}
	if resp.SecureURL == "" {
		c.cleanupOrphan(ctx, resourceType, resp.PublicID)
		return Reference{}, &UpstreamError{Operation: operationUpload, Message: "store response missing secure_url"}
	}
	derived, ok := ExtractPublicID(resp.SecureURL)
	if !ok {
		c.cleanupOrphan(ctx, resourceType, resp.PublicID)
		return Reference{}, &UpstreamError{Operation: operationUpload, Message: "store returned an unrecognized asset url"}
	}
	if resp.PublicID != "" && resp.PublicID != derived {
		c.logger.With(logging.Fields{
			"reported": resp.PublicID,
			"derived":  derived,
		}).Warn(ctx, "media store public id differs from url, using url")
	}
	return Reference{
		SecureURL:    resp.SecureURL,
		PublicID:     derived,
		ResourceType: resourceType,
		Folder:       folder,
		Format:       resp.Format,
		Bytes:        resp.Bytes,
	}, nil
}

// cleanupOrphan removes an asset we cannot hand back to the caller. It runs
// even when ctx is already cancelled; DeleteResource bounds it with its own
// deadline.
func (c *Client) cleanupOrphan(ctx context.Context, resourceType, publicID string) {
	if publicID == "" {
		return
	}
	if _, err := c.DeleteResource(context.WithoutCancel(ctx), resourceType, publicID); err != nil {
		c.logger.WithError(err).WithField("publicId", publicID).Error(ctx, "failed to clean up orphaned media asset")
	}
}

// mayHaveLanded reports whether a failed upload could still have been stored:
// the request went out but no response came back.
func mayHaveLanded(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var upstream *UpstreamError
	return errors.As(err, &upstream) && upstream.StatusCode == 0
}

func (c *Client) signed(params map[string]string) map[string]string {
	out := make(map[string]string, len(params)+3)
	for key, value := range params {
		out[key] = value
	}
	out["timestamp"] = strconv.FormatInt(c.now().Unix(), 10)
	out["signature"] = sign(out, c.cfg.APISecret)
	out["api_key"] = c.cfg.APIKey
	return out
}

func (c *Client) path(resourceType, action string) string {
	return fmt.Sprintf("/v1_1/%s/%s/%s", c.cfg.CloudName, resourceType, action)
}

func outcomeOf(err error) string {
	var upstream *UpstreamError
	switch {
	case err == nil:
		return "success"
	case errors.As(err, &upstream):
		return "upstream_error"
	default:
		return "error"
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
