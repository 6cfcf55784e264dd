package fibaro

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"syscall"
)

// maxBodySize caps how much of a response body is read
const maxBodySize = 16 << 20

// Transport performs one authenticated GET against the hub API.
// *Client implements it; the event poller depends only on this.
type Transport interface {
	Get(ctx context.Context, action string, params url.Values) ([]byte, error)
}

var _ Transport = (*Client)(nil)

// Get issues GET <root>/<action>?<params> and returns the raw body of a
// successful (200 or 202) response. Every failure is an *Error.
func (c *Client) Get(ctx context.Context, action string, params url.Values) ([]byte, error) {
	op := "GET " + action

	u := *c.rootURL
	u.Path = u.Path + "/" + strings.TrimLeft(action, "/")
	if len(params) > 0 {
		u.RawQuery = params.Encode()
	}

	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, newError(KindNetwork, op, "failed to build request", err)
	}
	req.Header.Set("Authorization", c.authHeader)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if errors.Is(err, syscall.ECONNREFUSED) {
			return nil, newError(KindUnreachable, op, "hub not running", err)
		}
		return nil, newError(KindNetwork, op, "request failed", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		return nil, newError(KindNetwork, op, "failed to read response body", err)
	}

	switch {
	case resp.StatusCode == http.StatusUnauthorized:
		return nil, &Error{Kind: KindAuth, Op: op, StatusCode: resp.StatusCode, Message: "bad username or password"}
	case resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusAccepted:
		return nil, &Error{
			Kind:       KindHTTPStatus,
			Op:         op,
			StatusCode: resp.StatusCode,
			Message:    fmt.Sprintf("hub API returned status code %d", resp.StatusCode),
		}
	}

	if msg, ok := bodyError(body); ok {
		return nil, &Error{Kind: KindProtocol, Op: op, StatusCode: resp.StatusCode, Message: msg}
	}

	return body, nil
}

// bodyError reports the message of a JSON object body carrying an "error" member
func bodyError(body []byte) (string, bool) {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return "", false
	}

	var probe struct {
		Error json.RawMessage `json:"error"`
	}
	if err := json.Unmarshal(trimmed, &probe); err != nil {
		return "", false
	}
	if len(probe.Error) == 0 || bytes.Equal(probe.Error, []byte("null")) {
		return "", false
	}

	var msg string
	if err := json.Unmarshal(probe.Error, &msg); err == nil {
		return msg, true
	}
	return string(probe.Error), true
}
