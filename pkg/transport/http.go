package transport

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"net/url"

	"github.com/google/uuid"
	cleanhttp "github.com/hashicorp/go-cleanhttp"
	"github.com/pkg/errors"

	"github.com/VerteraIO/schedclient/pkg/api"
)

// HTTP posts JSON requests to a scheduler's /api endpoint.
type HTTP struct {
	uri    string
	url    *url.URL
	opts   Options
	client *http.Client
}

var _ Transport = &HTTP{}

func NewHTTP(uri string, opts Options) (*HTTP, error) {
	u, err := url.Parse(uri)
	if err != nil {
		return nil, errors.Wrapf(err, "parsing %s", uri)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, errors.Errorf("unsupported scheme in %s", uri)
	}
	client := opts.HTTPClient
	if client == nil {
		client = cleanhttp.DefaultPooledClient()
		if opts.TLSConfig != nil {
			client.Transport.(*http.Transport).TLSClientConfig = opts.TLSConfig.Clone()
		}
	}
	if opts.Timeout > 0 {
		c := *client
		c.Timeout = opts.Timeout
		client = &c
	}
	return &HTTP{uri: uri, url: u, opts: opts, client: client}, nil
}

func (t *HTTP) hostPort() string {
	if t.url.Port() != "" {
		return t.url.Host
	}
	if t.url.Scheme == "https" {
		return net.JoinHostPort(t.url.Hostname(), "443")
	}
	return net.JoinHostPort(t.url.Hostname(), "80")
}

// Open dials the scheduler, completing a TLS handshake for https, to make
// sure it is reachable before any RPC is attempted.
func (t *HTTP) Open(ctx context.Context) error {
	var (
		conn   net.Conn
		err    error
		dialer = &net.Dialer{}
	)
	if t.url.Scheme == "https" {
		cfg := &tls.Config{MinVersion: tls.VersionTLS12}
		if t.opts.TLSConfig != nil {
			cfg = t.opts.TLSConfig.Clone()
		}
		if cfg.ServerName == "" {
			cfg.ServerName = t.url.Hostname()
		}
		conn, err = (&tls.Dialer{NetDialer: dialer, Config: cfg}).DialContext(ctx, "tcp", t.hostPort())
	} else {
		conn, err = dialer.DialContext(ctx, "tcp", t.hostPort())
	}
	if err != nil {
		return &Error{Op: "open", URI: t.uri, Err: err}
	}
	return conn.Close()
}

func (t *HTTP) Call(ctx context.Context, method string, args []interface{}, resp *api.Response) error {
	if args == nil {
		args = []interface{}{}
	}
	body, err := json.Marshal(Request{Method: method, Args: args})
	if err != nil {
		return errors.Wrapf(err, "encoding %s arguments", method)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.uri, bytes.NewReader(body))
	if err != nil {
		return errors.Wrapf(err, "constructing request %s", t.uri)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Request-Id", uuid.NewString())
	if t.opts.UserAgent != "" {
		req.Header.Set("User-Agent", t.opts.UserAgent)
	}
	authz, err := authorization(ctx, t.opts.Auth, t.uri)
	if err != nil {
		return err
	}
	if authz != "" {
		req.Header.Set("Authorization", authz)
	}

	res, err := t.client.Do(req)
	if err != nil {
		return &Error{Op: "call " + method, URI: t.uri, Err: err}
	}
	defer res.Body.Close()

	switch res.StatusCode {
	case http.StatusOK:
		if err := json.NewDecoder(res.Body).Decode(resp); err != nil {
			return &Error{Op: "decode " + method, URI: t.uri, Err: err}
		}
		return nil
	case http.StatusUnauthorized, http.StatusForbidden:
		return &AuthError{URI: t.uri, Status: res.Status}
	default:
		msg, _ := io.ReadAll(io.LimitReader(res.Body, 4096))
		return &Error{Op: "call " + method, URI: t.uri, Err: errors.Errorf("%s: %s", res.Status, bytes.TrimSpace(msg))}
	}
}

func (t *HTTP) Close() error {
	t.client.CloseIdleConnections()
	return nil
}
