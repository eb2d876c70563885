package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cast"
	"golang.org/x/net/proxy"
)

const (
	// httpErrorStatusCode 大于等于该状态码且响应体不是 envelope 时视为传输错误
	httpErrorStatusCode = 400

	headerRequestID = "X-Request-Id"
)

// Request 单次后端调用
type Request struct {
	URL    string
	Method string
	Params map[string]any // query string
	Data   any            // JSON body
}

func (r Request) method() string {
	if r.Method == "" {
		return http.MethodGet
	}
	return strings.ToUpper(r.Method)
}

// Requester 发起请求并返回统一响应，不做重试
type Requester interface {
	Do(ctx context.Context, req Request) (*Envelope, error)
}

// RequesterFunc 函数适配 Requester
type RequesterFunc func(ctx context.Context, req Request) (*Envelope, error)

func (f RequesterFunc) Do(ctx context.Context, req Request) (*Envelope, error) {
	return f(ctx, req)
}

// Observer 请求结果观察者（指标）
type Observer interface {
	ObserveRequest(method, path, outcome string, elapsed time.Duration)
}

const (
	OutcomeOK             = "ok"
	OutcomeAppError       = "app_error"
	OutcomeTransportError = "transport_error"
)

type Client struct {
	logger     *zerolog.Logger
	debug      bool
	baseURL    string
	userAgent  string
	httpClient *http.Client
	observer   Observer

	mu          sync.RWMutex
	tokenSource func() string
}

type ClientOpt func(*Client)

func NewClient(baseURL string, opts ...ClientOpt) *Client {
	cli := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: 30 * time.Second},
		logger:     &log.Logger,
	}

	for _, opt := range opts {
		opt(cli)
	}

	return cli
}

func WithTimeout(timeout time.Duration) ClientOpt {
	return func(c *Client) {
		if timeout > 0 {
			c.httpClient.Timeout = timeout
		}
	}
}

func WithUserAgent(ua string) ClientOpt {
	return func(c *Client) {
		c.userAgent = ua
	}
}

func WithDebug() ClientOpt {
	return func(c *Client) {
		c.debug = true
	}
}

func WithObserver(o Observer) ClientOpt {
	return func(c *Client) {
		c.observer = o
	}
}

func WithHTTPClient(hc *http.Client) ClientOpt {
	return func(c *Client) {
		if hc != nil {
			c.httpClient = hc
		}
	}
}

// WithSOCKS5Proxy 通过 SOCKS5 代理访问后端
func WithSOCKS5Proxy(addr string) ClientOpt {
	return func(c *Client) {
		dialer, err := proxy.SOCKS5("tcp", addr, nil, &net.Dialer{Timeout: 10 * time.Second})
		if err != nil {
			c.logger.Error().Err(err).Str("proxy", addr).Msg("create socks5 dialer failed, using direct connection")
			return
		}

		tr := http.DefaultTransport.(*http.Transport).Clone()
		tr.Proxy = nil
		if cd, ok := dialer.(proxy.ContextDialer); ok {
			tr.DialContext = cd.DialContext
		} else {
			tr.DialContext = func(ctx context.Context, network, addr string) (net.Conn, error) {
				return dialer.Dial(network, addr)
			}
		}
		c.httpClient.Transport = tr
		c.logger.Info().Str("proxy", addr).Msg("api client socks5 proxy enabled")
	}
}

// SetTokenSource 设置鉴权 token 来源，返回空串时不带 Authorization
func (c *Client) SetTokenSource(fn func() string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.tokenSource = fn
}

func (c *Client) token() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.tokenSource == nil {
		return ""
	}
	return c.tokenSource()
}

// Do 发送请求。响应体是 envelope 时无论 HTTP 状态都返回 envelope，由调用方判断 code
func (c *Client) Do(ctx context.Context, r Request) (*Envelope, error) {
	start := time.Now()
	method := r.method()

	env, err := c.do(ctx, method, r)

	if c.observer != nil {
		outcome := OutcomeOK
		switch {
		case err != nil:
			outcome = OutcomeTransportError
		case !env.OK():
			outcome = OutcomeAppError
		}
		c.observer.ObserveRequest(method, r.URL, outcome, time.Since(start))
	}

	return env, err
}

func (c *Client) do(ctx context.Context, method string, r Request) (*Envelope, error) {
	op := method + " " + r.URL

	fullURL := c.baseURL + r.URL
	if len(r.Params) > 0 {
		fullURL += "?" + encodeParams(r.Params)
	}

	var body io.Reader
	var payload []byte
	if r.Data != nil {
		var err error
		payload, err = json.Marshal(r.Data)
		if err != nil {
			return nil, &TransportError{Op: op, Err: fmt.Errorf("marshal payload: %w", err)}
		}
		body = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, fullURL, body)
	if err != nil {
		return nil, &TransportError{Op: op, Err: fmt.Errorf("create request: %w", err)}
	}

	requestID := uuid.NewString()
	req.Header.Set("Accept", "application/json")
	req.Header.Set(headerRequestID, requestID)
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.userAgent != "" {
		req.Header.Set("User-Agent", c.userAgent)
	}
	if token := c.token(); token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	if c.debug {
		// 请求体可能包含密钥，只记录长度
		c.logger.Debug().
			Str("request_id", requestID).
			Str("method", method).
			Str("url", fullURL).
			Int("body_len", len(payload)).
			Msg("api request")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &TransportError{Op: op, Err: err}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &TransportError{Op: op, Status: resp.StatusCode, Err: fmt.Errorf("read response body: %w", err)}
	}

	if c.debug {
		c.logger.Debug().
			Str("request_id", requestID).
			Int("status", resp.StatusCode).
			Int("body_len", len(respBody)).
			Msg("api response")
	}

	env, err := ParseEnvelope(respBody)
	if err != nil {
		if resp.StatusCode >= httpErrorStatusCode {
			return nil, &TransportError{Op: op, Status: resp.StatusCode, Err: fmt.Errorf("%s", truncate(respBody, 200))}
		}
		return nil, &TransportError{Op: op, Status: resp.StatusCode, Err: err}
	}

	return env, nil
}

// Call 发送请求，code != 1 时转换为 AppError
func Call(ctx context.Context, r Requester, req Request, fallback string) (*Envelope, error) {
	env, err := r.Do(ctx, req)
	if err != nil {
		return nil, err
	}
	if !env.OK() {
		return env, NewAppError(req.method()+" "+req.URL, env, fallback)
	}
	return env, nil
}

func encodeParams(params map[string]any) string {
	values := url.Values{}
	for k, v := range params {
		if v == nil {
			continue
		}
		values.Set(k, cast.ToString(v))
	}
	return values.Encode()
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
