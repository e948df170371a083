package archive

import (
	"log/slog"
	"net/http"
	"strings"
	"time"
)

// DefaultBaseURL is the public Binance data archive.
const DefaultBaseURL = "https://data.binance.vision"

// Client downloads partition files from the archive.
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     *slog.Logger

	maxRetries   int
	retryBackoff time.Duration
	verifySums   bool
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// NewClient creates an archive client. An empty baseURL selects the public
// archive.
func NewClient(baseURL string, opts ...ClientOption) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	c := &Client{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: 60 * time.Second,
		},
		logger:       slog.Default(),
		maxRetries:   3,
		retryBackoff: time.Second,
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

// WithTimeout sets the HTTP client timeout.
func WithTimeout(d time.Duration) ClientOption {
	return func(c *Client) {
		c.httpClient.Timeout = d
	}
}

// WithRetries sets the retry configuration.
func WithRetries(max int, backoff time.Duration) ClientOption {
	return func(c *Client) {
		c.maxRetries = max
		c.retryBackoff = backoff
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) ClientOption {
	return func(c *Client) {
		c.logger = logger
	}
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) {
		c.httpClient = hc
	}
}

// WithChecksumVerification makes Download fetch the published .CHECKSUM
// sibling and verify the file against it.
func WithChecksumVerification() ClientOption {
	return func(c *Client) {
		c.verifySums = true
	}
}
