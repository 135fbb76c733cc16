package twilio

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"patient-intake/internal/domain"
)

const (
	defaultFetchTimeout = 10 * time.Second
	defaultMaxBytes     = 16 << 20
)

// FetchErrorKind classifies why a media download failed.
type FetchErrorKind string

const (
	KindTimeout               FetchErrorKind = "timeout"
	KindTransport             FetchErrorKind = "transport"
	KindUnexpectedContentType FetchErrorKind = "unexpected_content_type"
	KindTooLarge              FetchErrorKind = "too_large"
	KindUnknown               FetchErrorKind = "unknown"
)

// FetchError is returned by MediaClient.Fetch for every failure.
type FetchError struct {
	Kind        FetchErrorKind
	StatusCode  int
	ContentType string
	Err         error
}

func (e *FetchError) Error() string {
	switch {
	case e.StatusCode != 0:
		return fmt.Sprintf("twilio: fetch media: %s: unexpected status %d", e.Kind, e.StatusCode)
	case e.Kind == KindUnexpectedContentType:
		return fmt.Sprintf("twilio: fetch media: %s %q", e.Kind, e.ContentType)
	case e.Err != nil:
		return fmt.Sprintf("twilio: fetch media: %s: %v", e.Kind, e.Err)
	default:
		return fmt.Sprintf("twilio: fetch media: %s", e.Kind)
	}
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

// Credentials authenticate media downloads. Twilio accepts either an API key
// SID/secret pair or the account SID/auth token.
type Credentials struct {
	APIKey    string
	APISecret string
}

// Media is a downloaded attachment.
type Media struct {
	Body        []byte
	ContentType string
}

// MediaClient downloads message attachments from the provider.
type MediaClient struct {
	creds      Credentials
	httpClient *http.Client
	timeout    time.Duration
	maxBytes   int64
}

type Option func(*MediaClient)

func WithHTTPClient(httpClient *http.Client) Option {
	return func(c *MediaClient) {
		c.httpClient = httpClient
	}
}

// WithTimeout bounds every download, including redirects and body read. It
// applies to a copy of the client given by WithHTTPClient, in either order.
func WithTimeout(d time.Duration) Option {
	return func(c *MediaClient) {
		if d > 0 {
			c.timeout = d
		}
	}
}

func WithMaxBytes(n int64) Option {
	return func(c *MediaClient) {
		if n > 0 {
			c.maxBytes = n
		}
	}
}

func NewMediaClient(creds Credentials, opts ...Option) (*MediaClient, error) {
	if strings.TrimSpace(creds.APIKey) == "" || strings.TrimSpace(creds.APISecret) == "" {
		return nil, errors.New("twilio: api key and secret must not be empty")
	}
	c := &MediaClient{
		creds:    creds,
		maxBytes: defaultMaxBytes,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.httpClient == nil {
		c.httpClient = &http.Client{Timeout: defaultFetchTimeout}
	}
	if c.timeout > 0 {
		hc := *c.httpClient
		hc.Timeout = c.timeout
		c.httpClient = &hc
	}
	return c, nil
}

// resolvedHTTPClient returns the configured HTTP client, or a default with a
// 10s timeout if none was set.
func (c *MediaClient) resolvedHTTPClient() *http.Client {
	if c.httpClient != nil {
		return c.httpClient
	}
	return &http.Client{Timeout: defaultFetchTimeout}
}

// Fetch downloads mediaRef with Basic auth. Only responses declaring an image
// content type are accepted.
func (c *MediaClient) Fetch(ctx context.Context, mediaRef string) (Media, error) {
	u, err := url.Parse(strings.TrimSpace(mediaRef))
	if err != nil || (u.Scheme != "https" && u.Scheme != "http") || u.Host == "" {
		return Media{}, &FetchError{Kind: KindTransport, Err: fmt.Errorf("invalid media url %q", mediaRef)}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return Media{}, &FetchError{Kind: KindUnknown, Err: err}
	}
	// net/http drops this header when following a redirect to another host,
	// which is how the provider hands out its CDN URL.
	req.SetBasicAuth(c.creds.APIKey, c.creds.APISecret)

	res, err := c.resolvedHTTPClient().Do(req)
	if err != nil {
		return Media{}, classifyTransportError(err)
	}
	defer func() { _ = res.Body.Close() }()

	if res.StatusCode < 200 || res.StatusCode >= 300 {
		_, _ = io.Copy(io.Discard, io.LimitReader(res.Body, 4096))
		return Media{}, &FetchError{Kind: KindTransport, StatusCode: res.StatusCode}
	}

	contentType := res.Header.Get("Content-Type")
	if !domain.IsImageContentType(contentType) {
		return Media{}, &FetchError{Kind: KindUnexpectedContentType, ContentType: contentType}
	}

	body, err := io.ReadAll(io.LimitReader(res.Body, c.maxBytes+1))
	if err != nil {
		return Media{}, classifyTransportError(err)
	}
	if int64(len(body)) > c.maxBytes {
		return Media{}, &FetchError{Kind: KindTooLarge, ContentType: contentType, Err: fmt.Errorf("body exceeds %d bytes", c.maxBytes)}
	}
	return Media{Body: body, ContentType: contentType}, nil
}

func classifyTransportError(err error) *FetchError {
	if errors.Is(err, context.DeadlineExceeded) {
		return &FetchError{Kind: KindTimeout, Err: err}
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return &FetchError{Kind: KindTimeout, Err: err}
	}
	if errors.Is(err, context.Canceled) {
		return &FetchError{Kind: KindUnknown, Err: err}
	}
	return &FetchError{Kind: KindTransport, Err: err}
}
