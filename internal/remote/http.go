package remote

import (
	"bytes"
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/msvignesh01/eduflow/internal/errors"
)

const backendName = "remote-store"

// HTTPStore is a Store over the document service's REST API, with changes
// streamed over a websocket.
//
//	PATCH  /v1/collections/{c}/documents/{id}   merge or create
//	DELETE /v1/collections/{c}/documents/{id}
//	GET    /v1/collections/{c}/documents?owner=  query by owner
//	GET    /v1/collections/{c}/changes?owner=    websocket change feed
type HTTPStore struct {
	base   *url.URL
	token  string
	hc     *http.Client
	dialer *websocket.Dialer
	log    zerolog.Logger
}

// NewHTTPStore returns a store rooted at baseURL. token, when set, is sent
// as a bearer token on every request.
func NewHTTPStore(baseURL, token string, hc *http.Client, log zerolog.Logger) (*HTTPStore, error) {
	if baseURL == "" {
		return nil, errors.NewNotConfigured("remote_url")
	}
	u, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return nil, errors.NewInvalidRequest("invalid remote_url: " + err.Error())
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, errors.NewInvalidRequest("remote_url must be http or https")
	}
	if hc == nil {
		hc = http.DefaultClient
	}
	return &HTTPStore{
		base:   u,
		token:  token,
		hc:     hc,
		dialer: websocket.DefaultDialer,
		log:    log,
	}, nil
}

func (s *HTTPStore) docURL(collection, id string) string {
	return s.base.JoinPath("v1", "collections", collection, "documents", id).String()
}

func (s *HTTPStore) Put(ctx context.Context, collection, id string, data Document) error {
	body, err := json.Marshal(struct {
		Data Document `json:"data"`
	}{data})
	if err != nil {
		return errors.NewInvalidRequest("document is not JSON-encodable: " + err.Error())
	}
	return s.do(ctx, http.MethodPatch, s.docURL(collection, id), body, nil)
}

func (s *HTTPStore) Delete(ctx context.Context, collection, id string) error {
	err := s.do(ctx, http.MethodDelete, s.docURL(collection, id), nil, nil)
	if errors.Is(err, errors.ErrNotFound) {
		return nil
	}
	return err
}

func (s *HTTPStore) Query(ctx context.Context, collection, owner string) ([]Record, error) {
	u := s.base.JoinPath("v1", "collections", collection, "documents")
	u.RawQuery = url.Values{"owner": {owner}}.Encode()

	var out struct {
		Documents []Record `json:"documents"`
	}
	if err := s.do(ctx, http.MethodGet, u.String(), nil, &out); err != nil {
		return nil, err
	}
	return out.Documents, nil
}

func (s *HTTPStore) do(ctx context.Context, method, u string, body []byte, out any) error {
	var rd io.Reader
	if body != nil {
		rd = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, u, rd)
	if err != nil {
		return errors.NewInternal(err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if s.token != "" {
		req.Header.Set("Authorization", "Bearer "+s.token)
	}

	resp, err := s.hc.Do(req)
	if err != nil {
		return errors.NewTransport(backendName, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return errors.NewNotFound(u)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		detail := fmt.Sprintf("%s %s: %d %s", method, req.URL.Path, resp.StatusCode, strings.TrimSpace(string(msg)))
		if permanent(resp.StatusCode) {
			return errors.NewInvalidRequest("remote rejected " + detail)
		}
		return errors.NewTransport(backendName, stderrors.New(detail))
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return errors.NewTransport(backendName, fmt.Errorf("decode response: %w", err))
	}
	return nil
}

func (s *HTTPStore) changesURL(collection, owner string) string {
	u := s.base.JoinPath("v1", "collections", collection, "changes")
	if u.Scheme == "https" {
		u.Scheme = "wss"
	} else {
		u.Scheme = "ws"
	}
	u.RawQuery = url.Values{"owner": {owner}}.Encode()
	return u.String()
}

func (s *HTTPStore) Subscribe(ctx context.Context, collection, owner string, onChange func(Change), onErr func(error)) (func(), error) {
	if onChange == nil {
		return nil, errors.NewInvalidRequest("onChange is required")
	}
	header := http.Header{}
	if s.token != "" {
		header.Set("Authorization", "Bearer "+s.token)
	}

	conn, resp, err := s.dialer.DialContext(ctx, s.changesURL(collection, owner), header)
	if err != nil {
		if resp != nil {
			err = fmt.Errorf("%w (status %d)", err, resp.StatusCode)
		}
		return nil, errors.NewTransport(backendName, err)
	}

	var (
		stopped atomic.Bool
		once    sync.Once
	)
	closeConn := func() {
		once.Do(func() {
			stopped.Store(true)
			conn.Close()
		})
	}
	stop := context.AfterFunc(ctx, closeConn)

	go func() {
		defer closeConn()
		for {
			var ch Change
			if err := conn.ReadJSON(&ch); err != nil {
				if stopped.Load() {
					return
				}
				s.log.Warn().Str("collection", collection).Err(err).Msg("change feed ended")
				if onErr != nil {
					onErr(errors.NewTransport(backendName, err))
				}
				return
			}
			if ch.Collection == "" {
				ch.Collection = collection
			}
			onChange(ch)
		}
	}()

	return func() {
		stop()
		closeConn()
	}, nil
}

// permanent reports whether a status rejects the request itself, so
// resending it unchanged cannot succeed. Timeouts and throttling are retried.
func permanent(status int) bool {
	if status == http.StatusRequestTimeout || status == http.StatusTooManyRequests {
		return false
	}
	return status >= 400 && status < 500
}
