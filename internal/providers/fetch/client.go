package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"relight/internal/infra"
)

var (
	// ErrHostNotAllowed is returned when the URL host, or a redirect target,
	// is outside the allowlist.
	ErrHostNotAllowed = errors.New("fetch: host not allowed")
	// ErrPrivateAddress is returned when a download would connect to a
	// loopback, private, link-local or unspecified address.
	ErrPrivateAddress = errors.New("fetch: private address not allowed")
)

const maxRedirects = 10

// Options configures the image download client.
type Options struct {
	HTTPClient     *http.Client
	RequestTimeout time.Duration
	// AllowedHosts restricts downloads to these hostnames. Empty allows any host.
	AllowedHosts []string
	// BlockPrivateNetworks refuses connections to non-public IPs, checked on
	// the resolved address of every dial. Only applies when HTTPClient is nil.
	BlockPrivateNetworks bool
	// MaxBytes caps the downloaded body. Zero means unlimited.
	MaxBytes  int64
	UserAgent string
	Logger    *infra.Logger
}

// Client downloads images referenced by URL in a job.
type Client struct {
	httpClient *http.Client
	allowed    map[string]struct{}
	maxBytes   int64
	userAgent  string
	logger     *infra.Logger
}

// NewClient constructs a download client with defaults applied.
func NewClient(opts Options) *Client {
	var httpClient *http.Client
	if opts.HTTPClient != nil {
		copied := *opts.HTTPClient
		httpClient = &copied
	} else {
		timeout := opts.RequestTimeout
		if timeout <= 0 {
			timeout = 30 * time.Second
		}
		httpClient = &http.Client{Timeout: timeout}
		if opts.BlockPrivateNetworks {
			httpClient.Transport = publicOnlyTransport()
		}
	}
	var allowed map[string]struct{}
	for _, host := range opts.AllowedHosts {
		host = strings.ToLower(strings.TrimSpace(host))
		if host == "" {
			continue
		}
		if allowed == nil {
			allowed = make(map[string]struct{})
		}
		allowed[host] = struct{}{}
	}
	userAgent := strings.TrimSpace(opts.UserAgent)
	if userAgent == "" {
		userAgent = "relight-worker/1.0"
	}
	var logger *infra.Logger
	if opts.Logger != nil {
		logger = opts.Logger
	} else {
		discard := zerolog.New(io.Discard)
		l := infra.Logger(discard)
		logger = &l
	}
	c := &Client{
		httpClient: httpClient,
		allowed:    allowed,
		maxBytes:   opts.MaxBytes,
		userAgent:  userAgent,
		logger:     logger,
	}
	httpClient.CheckRedirect = c.checkRedirect(httpClient.CheckRedirect)
	return c
}

// checkRedirect applies the allowlist to every hop, then defers to next.
func (c *Client) checkRedirect(next func(*http.Request, []*http.Request) error) func(*http.Request, []*http.Request) error {
	return func(req *http.Request, via []*http.Request) error {
		if !c.hostAllowed(req.URL.Hostname()) {
			return fmt.Errorf("%w: redirect to %s", ErrHostNotAllowed, req.URL.Hostname())
		}
		if next != nil {
			return next(req, via)
		}
		if len(via) >= maxRedirects {
			return fmt.Errorf("fetch: stopped after %d redirects", maxRedirects)
		}
		return nil
	}
}

func publicOnlyTransport() *http.Transport {
	dialer := &net.Dialer{
		Timeout:   30 * time.Second,
		KeepAlive: 30 * time.Second,
		Control:   refusePrivate,
	}
	transport := http.DefaultTransport.(*http.Transport).Clone()
	// A proxy would be the dialed address, hiding the real target.
	transport.Proxy = nil
	transport.DialContext = dialer.DialContext
	return transport
}

func refusePrivate(network, address string, _ syscall.RawConn) error {
	host, _, err := net.SplitHostPort(address)
	if err != nil {
		return err
	}
	ip := net.ParseIP(host)
	if ip == nil || !isPublicIP(ip) {
		return fmt.Errorf("%w: %s", ErrPrivateAddress, host)
	}
	return nil
}

func isPublicIP(ip net.IP) bool {
	return !ip.IsLoopback() &&
		!ip.IsPrivate() &&
		!ip.IsLinkLocalUnicast() &&
		!ip.IsLinkLocalMulticast() &&
		!ip.IsInterfaceLocalMulticast() &&
		!ip.IsUnspecified()
}

// Fetch issues a single GET for imageURL and returns the body. Non-2xx
// responses are errors carrying the status and a trimmed body.
func (c *Client) Fetch(ctx context.Context, imageURL string) ([]byte, error) {
	parsed, err := url.Parse(imageURL)
	if err != nil || parsed.Host == "" {
		return nil, fmt.Errorf("fetch: invalid image url: %s", imageURL)
	}
	if !c.hostAllowed(parsed.Hostname()) {
		return nil, fmt.Errorf("%w: %s", ErrHostNotAllowed, parsed.Hostname())
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, parsed.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("fetch: build request: %w", err)
	}
	req.Header.Set("User-Agent", c.userAgent)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch: download image: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("fetch: download status %d: %s", resp.StatusCode, strings.TrimSpace(string(snippet)))
	}

	var body io.Reader = resp.Body
	if c.maxBytes > 0 {
		body = io.LimitReader(resp.Body, c.maxBytes+1)
	}
	data, err := io.ReadAll(body)
	if err != nil {
		return nil, fmt.Errorf("fetch: read image: %w", err)
	}
	if c.maxBytes > 0 && int64(len(data)) > c.maxBytes {
		return nil, fmt.Errorf("fetch: image exceeds %d bytes", c.maxBytes)
	}
	c.logger.Debug().
		Str("host", parsed.Hostname()).
		Int("bytes", len(data)).
		Str("content_type", resp.Header.Get("Content-Type")).
		Msg("fetch: downloaded image")
	return data, nil
}

func (c *Client) hostAllowed(host string) bool {
	if len(c.allowed) == 0 {
		return true
	}
	_, ok := c.allowed[strings.ToLower(host)]
	return ok
}
