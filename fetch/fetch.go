// Package fetch downloads remote sources for file actions.
//
// Supported schemes are http, https and s3 (s3://bucket/key, resolved through
// the AWS default credential chain).
package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/pithecene-io/stagehand/iox"
)

// DefaultTimeout bounds a single fetch.
const DefaultTimeout = 60 * time.Second

// DefaultMaxBytes caps the size of a fetched source (64 MiB).
const DefaultMaxBytes = 64 << 20

var (
	// ErrUnsupportedScheme is returned for sources that are not http(s) or s3.
	ErrUnsupportedScheme = errors.New("fetch: unsupported source scheme")
	// ErrTooLarge is returned when a source exceeds MaxBytes.
	ErrTooLarge = errors.New("fetch: source too large")
)

// StatusError is returned for non-2xx HTTP responses.
type StatusError struct {
	URL  string
	Code int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("fetch %s: unexpected status %d", e.URL, e.Code)
}

// Fetcher downloads the content at a source URL.
type Fetcher interface {
	Fetch(ctx context.Context, source string) ([]byte, error)
}

// S3API is the subset of the S3 client used for s3:// sources.
type S3API interface {
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

// Config configures a Client.
type Config struct {
	// Timeout bounds each fetch (default 60s).
	Timeout time.Duration
	// MaxBytes caps the fetched size (default 64 MiB).
	MaxBytes int64
	// S3Region overrides the AWS region for s3:// sources.
	S3Region string
	// S3Endpoint is a custom endpoint for S3-compatible providers.
	S3Endpoint string
	// S3PathStyle forces path-style addressing.
	S3PathStyle bool
	// HTTPClient overrides the HTTP client.
	HTTPClient *http.Client
}

// Client fetches http(s) and s3 sources. The S3 client is created on first
// use so that configurations without s3 sources never load AWS config.
type Client struct {
	config Config
	http   *http.Client

	s3Once sync.Once
	s3     S3API
	s3Err  error
}

// New creates a Client.
func New(cfg Config) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.MaxBytes <= 0 {
		cfg.MaxBytes = DefaultMaxBytes
	}
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{}
	}
	return &Client{config: cfg, http: client}
}

// NewWithS3 creates a Client that uses api for s3:// sources.
func NewWithS3(cfg Config, api S3API) *Client {
	c := New(cfg)
	c.s3Once.Do(func() { c.s3 = api })
	return c
}

// Fetch downloads source.
func (c *Client) Fetch(ctx context.Context, source string) ([]byte, error) {
	u, err := url.Parse(source)
	if err != nil {
		return nil, fmt.Errorf("fetch: invalid source %q: %w", source, err)
	}

	ctx, cancel := context.WithTimeout(ctx, c.config.Timeout)
	defer cancel()

	switch strings.ToLower(u.Scheme) {
	case "http", "https":
		return c.fetchHTTP(ctx, source)
	case "s3":
		return c.fetchS3(ctx, u)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedScheme, u.Scheme)
	}
}

func (c *Client) fetchHTTP(ctx context.Context, source string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, source, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", source, err)
	}
	defer iox.DiscardClose(resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil, &StatusError{URL: source, Code: resp.StatusCode}
	}
	return c.readLimited(resp.Body, source)
}

func (c *Client) fetchS3(ctx context.Context, u *url.URL) ([]byte, error) {
	bucket := u.Host
	key := strings.TrimPrefix(u.Path, "/")
	if bucket == "" || key == "" {
		return nil, fmt.Errorf("fetch: s3 source needs bucket and key: %s", u)
	}

	api, err := c.s3Client(ctx)
	if err != nil {
		return nil, err
	}
	out, err := api.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", u, err)
	}
	defer iox.DiscardClose(out.Body)
	return c.readLimited(out.Body, u.String())
}

func (c *Client) s3Client(ctx context.Context) (S3API, error) {
	c.s3Once.Do(func() {
		var opts []func(*config.LoadOptions) error
		if c.config.S3Region != "" {
			opts = append(opts, config.WithRegion(c.config.S3Region))
		}
		awsConfig, err := config.LoadDefaultConfig(ctx, opts...)
		if err != nil {
			c.s3Err = fmt.Errorf("failed to load AWS config: %w", err)
			return
		}
		var s3Opts []func(*s3.Options)
		if c.config.S3Endpoint != "" {
			endpoint := c.config.S3Endpoint
			s3Opts = append(s3Opts, func(o *s3.Options) {
				o.BaseEndpoint = &endpoint
			})
		}
		if c.config.S3PathStyle {
			s3Opts = append(s3Opts, func(o *s3.Options) {
				o.UsePathStyle = true
			})
		}
		c.s3 = s3.NewFromConfig(awsConfig, s3Opts...)
	})
	return c.s3, c.s3Err
}

func (c *Client) readLimited(r io.Reader, source string) ([]byte, error) {
	data, err := io.ReadAll(io.LimitReader(r, c.config.MaxBytes+1))
	if err != nil {
		return nil, fmt.Errorf("fetch %s: read body: %w", source, err)
	}
	if int64(len(data)) > c.config.MaxBytes {
		return nil, fmt.Errorf("%w: %s exceeds %d bytes", ErrTooLarge, source, c.config.MaxBytes)
	}
	return data, nil
}

var _ Fetcher = (*Client)(nil)
