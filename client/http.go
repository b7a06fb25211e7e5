package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/keyfold/keyfold-go/api"
	"github.com/keyfold/keyfold-go/internal/version"
)

// Environment variables DefaultConfig reads.
const (
	EnvAddress   = "KEYFOLD_ADDR"
	EnvToken     = "KEYFOLD_TOKEN"
	EnvRateLimit = "KEYFOLD_RATE_LIMIT"
	EnvTimeout   = "KEYFOLD_CLIENT_TIMEOUT"
)

const (
	jobPollInterval  = 500 * time.Millisecond
	defaultTimeout   = 30 * time.Second
	maxErrorBodySize = 1 << 20
)

var ErrInvalidStoreConfig = errors.New("store address is empty")

// Config configures a connection to an object store.
type Config struct {
	// Address is the base URL of the object store, such as
	// "https://store.example.com".
	Address string

	// Token authenticates every request as a bearer credential.
	Token string

	// HTTPClient overrides the underlying HTTP client. Nil gets a client
	// with a 30 second timeout.
	HTTPClient *http.Client

	// Limiter throttles outgoing requests. Nil means unthrottled; note
	// that an empty limiter blocks every request.
	Limiter *rate.Limiter

	// UserAgent overrides the User-Agent header sent with each request.
	UserAgent string
}

// DefaultConfig reads the connection settings from the environment. Malformed
// numeric values fail rather than being silently ignored.
func DefaultConfig() (Config, error) {
	config := Config{
		Address: os.Getenv(EnvAddress),
		Token:   os.Getenv(EnvToken),
	}

	if v := os.Getenv(EnvTimeout); v != "" {
		timeout, err := parseTimeout(v)
		if err != nil {
			return Config{}, fmt.Errorf("failed to parse %s: %w", EnvTimeout, err)
		}
		config.HTTPClient = &http.Client{Timeout: timeout}
	}

	if v := os.Getenv(EnvRateLimit); v != "" {
		limit, burst, err := parseRateLimit(v)
		if err != nil {
			return Config{}, fmt.Errorf("failed to parse %s: %w", EnvRateLimit, err)
		}
		config.Limiter = rate.NewLimiter(rate.Limit(limit), burst)
	}

	return config, nil
}

// parseTimeout accepts a Go duration string or a bare number of seconds.
func parseTimeout(v string) (time.Duration, error) {
	if seconds, err := strconv.Atoi(v); err == nil {
		return time.Duration(seconds) * time.Second, nil
	}
	return time.ParseDuration(v)
}

// parseRateLimit accepts "limit:burst", or a bare requests-per-second limit
// whose burst defaults to the limit itself, floored at one.
func parseRateLimit(v string) (limit float64, burst int, err error) {
	if _, err := fmt.Sscanf(v, "%f:%d", &limit, &burst); err == nil {
		return limit, burst, nil
	}

	limit, err = strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, 0, fmt.Errorf("%q is not a rate limit", v)
	}
	burst = int(limit)
	if burst < 1 {
		burst = 1
	}
	return limit, burst, nil
}

// HTTPClient is the REST implementation of Client.
type HTTPClient struct {
	base      *url.URL
	token     string
	userAgent string
	http      *http.Client
	limiter   *rate.Limiter
}

var _ Client = (*HTTPClient)(nil)

func NewHTTPClient(config Config) (*HTTPClient, error) {
	if config.Address == "" {
		return nil, ErrInvalidStoreConfig
	}

	base, err := url.Parse(config.Address)
	if err != nil {
		return nil, fmt.Errorf("failed to parse store address: %w", err)
	}

	httpClient := config.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: defaultTimeout}
	}

	userAgent := config.UserAgent
	if userAgent == "" {
		userAgent = "keyfold-go/" + version.Version()
	}

	return &HTTPClient{
		base:      base,
		token:     config.Token,
		userAgent: userAgent,
		http:      httpClient,
		limiter:   config.Limiter,
	}, nil
}

func (c *HTTPClient) GetServers(ctx context.Context) ([]*api.Server, error) {
	var servers []*api.Server
	if err := c.do(ctx, http.MethodGet, nil, &servers, "servers"); err != nil {
		return nil, err
	}
	return servers, nil
}

func (c *HTTPClient) GetAccount(ctx context.Context) (*api.Account, error) {
	account := &api.Account{}
	if err := c.do(ctx, http.MethodGet, nil, account, "account"); err != nil {
		return nil, err
	}
	return account, nil
}

func (c *HTTPClient) GetKey(ctx context.Context, id string) (*api.Key, error) {
	key := &api.Key{}
	if err := c.do(ctx, http.MethodGet, nil, key, "keys", url.PathEscape(id)); err != nil {
		return nil, err
	}
	return key, nil
}

func (c *HTTPClient) CreateKey(ctx context.Context, req *api.CreateKeyRequest) (*api.Key, error) {
	key := &api.Key{}
	if err := c.do(ctx, http.MethodPost, req, key, "keys"); err != nil {
		return nil, err
	}
	return key, nil
}

func (c *HTTPClient) UpdateKey(ctx context.Context, id string, req *api.UpdateKeyRequest) (*api.Key, error) {
	key := &api.Key{}
	if err := c.do(ctx, http.MethodPatch, req, key, "keys", url.PathEscape(id)); err != nil {
		return nil, err
	}
	return key, nil
}

func (c *HTTPClient) DeleteKey(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, nil, nil, "keys", url.PathEscape(id))
}

func (c *HTTPClient) GetObject(ctx context.Context, id string) (*api.Object, error) {
	object := &api.Object{}
	if err := c.do(ctx, http.MethodGet, nil, object, "objects", url.PathEscape(id)); err != nil {
		return nil, err
	}
	return object, nil
}

func (c *HTTPClient) CreateObject(ctx context.Context, req *api.CreateObjectRequest) (*api.Object, error) {
	object := &api.Object{}
	if err := c.do(ctx, http.MethodPost, req, object, "objects"); err != nil {
		return nil, err
	}
	return object, nil
}

func (c *HTTPClient) UpdateObject(ctx context.Context, id string, req *api.UpdateObjectRequest) (*api.Object, error) {
	object := &api.Object{}
	if err := c.do(ctx, http.MethodPatch, req, object, "objects", url.PathEscape(id)); err != nil {
		return nil, err
	}
	return object, nil
}

func (c *HTTPClient) DeleteObject(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, nil, nil, "objects", url.PathEscape(id))
}

func (c *HTTPClient) ListChildObjects(ctx context.Context, parentID string) ([]*api.Object, error) {
	var objects []*api.Object
	if err := c.do(ctx, http.MethodGet, nil, &objects, "objects", url.PathEscape(parentID), "children"); err != nil {
		return nil, err
	}
	return objects, nil
}

func (c *HTTPClient) SubmitJob(ctx context.Context, req *api.SubmitJobRequest) (*api.Job, error) {
	job := &api.Job{}
	if err := c.do(ctx, http.MethodPost, req, job, "jobs"); err != nil {
		return nil, err
	}
	return job, nil
}

func (c *HTTPClient) GetJob(ctx context.Context, jobType, relatedObjectID string) (*api.Job, error) {
	job := &api.Job{}
	if err := c.do(ctx, http.MethodGet, nil, job, "jobs", url.PathEscape(jobType), url.PathEscape(relatedObjectID)); err != nil {
		return nil, err
	}
	return job, nil
}

func (c *HTTPClient) CancelJob(ctx context.Context, jobType, relatedObjectID string) (*api.Job, error) {
	job := &api.Job{}
	if err := c.do(ctx, http.MethodDelete, nil, job, "jobs", url.PathEscape(jobType), url.PathEscape(relatedObjectID)); err != nil {
		return nil, err
	}
	return job, nil
}

func (c *HTTPClient) WaitForJob(ctx context.Context, jobType, relatedObjectID string) (*api.Job, error) {
	ticker := time.NewTicker(jobPollInterval)
	defer ticker.Stop()

	job, err := c.GetJob(ctx, jobType, relatedObjectID)
	if err != nil {
		return nil, err
	}

	for !job.Status.Terminal() {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
			job, err = c.GetJob(ctx, jobType, relatedObjectID)
			if err != nil {
				return nil, err
			}
		}
	}

	return job, nil
}

// do performs one request. Path segments must be escaped by the caller; body
// and out are JSON-encoded and -decoded when non-nil.
func (c *HTTPClient) do(ctx context.Context, method string, body, out any, segments ...string) error {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return err
		}
	}

	var reqBody io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to encode request body: %w", err)
		}
		reqBody = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.base.JoinPath(segments...).String(), reqBody)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}

	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", c.userAgent)
	req.Header.Set("X-Request-Id", uuid.NewString())
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		return c.decodeError(resp)
	}

	if out == nil || resp.StatusCode == http.StatusNoContent {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response body: %w", err)
	}

	return nil
}

func (c *HTTPClient) decodeError(resp *http.Response) error {
	apiErr := &api.Error{Status: resp.StatusCode}

	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodySize))
	if err := json.Unmarshal(body, apiErr); err != nil || apiErr.Name == "" {
		apiErr.Name = errorNameForStatus(resp.StatusCode)
		apiErr.Message = strings.TrimSpace(string(body))
	}
	if apiErr.Message == "" {
		apiErr.Message = http.StatusText(resp.StatusCode)
	}

	return translateErr(apiErr)
}
