package platform

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"go.uber.org/zap"
)

// HTTPClient speaks to the media gateway sidecar that owns the native
// chat-platform protocol. The gateway exposes sessions and ranged media
// access over plain HTTP; this client maps its responses onto the sentinel
// errors the relay core understands.
type HTTPClient struct {
	baseURL string
	http    *http.Client
	logger  *zap.Logger
}

// NewHTTPClient builds a gateway client. baseURL has no trailing slash.
func NewHTTPClient(baseURL string, logger *zap.Logger) *HTTPClient {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &HTTPClient{
		baseURL: baseURL,
		http:    &http.Client{Timeout: 5 * time.Minute},
		logger:  logger,
	}
}

// Authenticate opens a gateway session from the stored credential string.
func (c *HTTPClient) Authenticate(ctx context.Context, userID int64, credential string) (Conn, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		fmt.Sprintf("%s/v1/sessions/%d", c.baseURL, userID), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+credential)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTransient, err)
	}
	defer resp.Body.Close() //nolint:errcheck

	switch {
	case resp.StatusCode == http.StatusOK || resp.StatusCode == http.StatusCreated:
		token := resp.Header.Get("X-Session-Token")
		if token == "" {
			return nil, fmt.Errorf("%w: gateway returned no session token", ErrTransient)
		}
		return &httpConn{client: c, userID: userID, token: token}, nil
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return nil, fmt.Errorf("%w: gateway rejected credential for user %d", ErrUnauthorized, userID)
	case resp.StatusCode >= 500:
		return nil, fmt.Errorf("%w: gateway returned %d", ErrTransient, resp.StatusCode)
	default:
		return nil, fmt.Errorf("gateway session for user %d failed with status %d", userID, resp.StatusCode)
	}
}

type httpConn struct {
	client *HTTPClient
	userID int64
	token  string
}

func (n *httpConn) do(req *http.Request) (*http.Response, error) {
	req.Header.Set("X-Session-Token", n.token)
	resp, err := n.client.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTransient, err)
	}
	return resp, nil
}

func (n *httpConn) Authorized(ctx context.Context) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		fmt.Sprintf("%s/v1/sessions/%d", n.client.baseURL, n.userID), nil)
	if err != nil {
		return false
	}
	resp, err := n.do(req)
	if err != nil {
		// Network trouble is not a revocation; keep the handle.
		return true
	}
	defer resp.Body.Close() //nolint:errcheck
	return resp.StatusCode == http.StatusOK
}

func (n *httpConn) ProbeSize(ctx context.Context, sourceRef string) (int64, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, n.mediaURL(sourceRef), nil)
	if err != nil {
		return 0, err
	}
	resp, err := n.do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close() //nolint:errcheck

	if err := n.checkStatus(resp.StatusCode); err != nil {
		return 0, err
	}
	if resp.ContentLength < 0 {
		return 0, ErrSizeUnknown
	}
	return resp.ContentLength, nil
}

func (n *httpConn) ReadChunk(ctx context.Context, sourceRef string, offset, length int64, connections int) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, n.mediaURL(sourceRef), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Range", fmt.Sprintf("bytes=%d-%d", offset, offset+length-1))
	req.Header.Set("X-Parallel-Connections", strconv.Itoa(connections))

	resp, err := n.do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode == http.StatusRequestedRangeNotSatisfiable {
		return nil, io.EOF
	}
	if err := n.checkStatus(resp.StatusCode); err != nil {
		return nil, err
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTransient, err)
	}
	if len(data) == 0 {
		return nil, io.EOF
	}
	return data, nil
}

func (n *httpConn) WriteChunks(ctx context.Context, destRef string, r io.Reader, connections int) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.mediaURL(destRef), r)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/octet-stream")
	req.Header.Set("X-Parallel-Connections", strconv.Itoa(connections))

	resp, err := n.do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close() //nolint:errcheck
	return n.checkStatus(resp.StatusCode)
}

func (n *httpConn) Close() error {
	req, err := http.NewRequest(http.MethodDelete,
		fmt.Sprintf("%s/v1/sessions/%d", n.client.baseURL, n.userID), nil)
	if err != nil {
		return err
	}
	resp, err := n.do(req)
	if err != nil {
		return err
	}
	resp.Body.Close() //nolint:errcheck
	return nil
}

func (n *httpConn) mediaURL(ref string) string {
	return fmt.Sprintf("%s/v1/media/%s", n.client.baseURL, url.PathEscape(ref))
}

func (n *httpConn) checkStatus(status int) error {
	switch {
	case status >= 200 && status < 300:
		return nil
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return fmt.Errorf("%w: gateway revoked session for user %d", ErrUnauthorized, n.userID)
	case status == http.StatusTooManyRequests || status >= 500:
		return fmt.Errorf("%w: gateway returned %d", ErrTransient, status)
	default:
		return fmt.Errorf("gateway returned unexpected status %d", status)
	}
}
