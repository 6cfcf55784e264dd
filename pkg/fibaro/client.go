// Package fibaro is a client for the local REST and UDP API of a Fibaro
// Home Center hub: authenticated commands, the refreshStates change stream
// and the discovery beacon.
package fibaro

import (
	"encoding/base64"
	"fmt"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"
	"time"

	"github.com/hashicorp/go-cleanhttp"

	"github.com/moroshma/hc2stream/pkg/logger"
)

const (
	apiPath               = "/api"
	defaultRequestTimeout = 30 * time.Second
)

// ClientConfig is the immutable connection configuration of a Client
type ClientConfig struct {
	// Host is "ip", "ip:port" or a full base URL such as "http://hc2.local"
	Host     string
	Username string
	Password string
	// Timeout bounds every request; zero means 30s
	Timeout time.Duration
}

// Client talks to one hub. It is safe for concurrent use; credentials are
// never mutated in place, see WithCredentials.
type Client struct {
	cfg        ClientConfig
	rootURL    *url.URL
	authHeader string
	httpClient *http.Client
	logger     *logger.Logger
}

// Option configures a Client
type Option func(*Client)

// WithLogger sets the logger used by the client and everything built on it
func WithLogger(l *logger.Logger) Option {
	return func(c *Client) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithHTTPClient replaces the pooled default HTTP client. A cookie jar is
// attached to a copy when the given client has none.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc == nil {
			return
		}
		cp := *hc
		if cp.Jar == nil {
			cp.Jar = c.httpClient.Jar
		}
		c.httpClient = &cp
	}
}

// NewClient validates cfg and builds a client for it
func NewClient(cfg ClientConfig, opts ...Option) (*Client, error) {
	root, err := parseRoot(cfg.Host)
	if err != nil {
		return nil, err
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultRequestTimeout
	}

	hc, err := newHTTPClient()
	if err != nil {
		return nil, err
	}

	c := &Client{
		cfg:        cfg,
		rootURL:    root,
		authHeader: basicAuth(cfg.Username, cfg.Password),
		httpClient: hc,
		logger:     logger.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}

	return c, nil
}

// WithCredentials returns a new client for the same hub using other
// credentials. The receiver is left untouched; the new client starts with an
// empty cookie jar so sessions of the old user are not reused.
func (c *Client) WithCredentials(username, password string) (*Client, error) {
	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create cookie jar: %w", err)
	}

	hc := *c.httpClient
	hc.Jar = jar

	cfg := c.cfg
	cfg.Username = username
	cfg.Password = password

	return &Client{
		cfg:        cfg,
		rootURL:    c.rootURL,
		authHeader: basicAuth(username, password),
		httpClient: &hc,
		logger:     c.logger,
	}, nil
}

// Config returns a copy of the client configuration
func (c *Client) Config() ClientConfig {
	return c.cfg
}

// Logger returns the client logger
func (c *Client) Logger() *logger.Logger {
	return c.logger
}

func newHTTPClient() (*http.Client, error) {
	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create cookie jar: %w", err)
	}
	hc := cleanhttp.DefaultPooledClient()
	hc.Jar = jar
	return hc, nil
}

func parseRoot(host string) (*url.URL, error) {
	host = strings.TrimSpace(host)
	if host == "" {
		return nil, fmt.Errorf("hub host cannot be empty")
	}
	if !strings.Contains(host, "://") {
		host = "http://" + host
	}

	u, err := url.Parse(host)
	if err != nil {
		return nil, fmt.Errorf("invalid hub host %q: %w", host, err)
	}
	if u.Host == "" {
		return nil, fmt.Errorf("invalid hub host %q", host)
	}

	u.Path = strings.TrimRight(u.Path, "/") + apiPath
	u.RawQuery = ""
	u.Fragment = ""
	return u, nil
}

func basicAuth(username, password string) string {
	return "Basic " + base64.StdEncoding.EncodeToString([]byte(username+":"+password))
}
