package provider

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	"golang.org/x/net/http2"
)

type requestIDKey struct{}

// WithRequestID attaches a request id that outgoing calls send as X-Request-ID.
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey{}, id)
}

// RequestIDFrom returns the request id attached to ctx, if any.
func RequestIDFrom(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

// requestIDTransport stamps X-Request-ID from the request context.
type requestIDTransport struct {
	base http.RoundTripper
}

func (t *requestIDTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	id := RequestIDFrom(req.Context())
	if id == "" || req.Header.Get("X-Request-ID") != "" {
		return t.base.RoundTrip(req)
	}
	req = req.Clone(req.Context())
	req.Header.Set("X-Request-ID", id)
	return t.base.RoundTrip(req)
}

// NewHTTPClient returns the client shared by every transport. TLS endpoints
// negotiate HTTP/2. Per-call deadlines come from the context, so the client
// itself has no timeout; streaming responses may outlive any fixed value.
func NewHTTPClient() (*http.Client, error) {
	base := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}
	if err := http2.ConfigureTransport(base); err != nil {
		return nil, fmt.Errorf("failed to configure http2: %w", err)
	}
	return &http.Client{Transport: &requestIDTransport{base: base}}, nil
}
