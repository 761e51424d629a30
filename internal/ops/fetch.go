package ops

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/hashicorp/go-retryablehttp"
	"go.uber.org/zap"

	"github.com/GriffinCanCode/webkernel/internal/infrastructure/resilience"
	"github.com/GriffinCanCode/webkernel/internal/process"
	"github.com/GriffinCanCode/webkernel/internal/resource"
	"github.com/GriffinCanCode/webkernel/internal/syserr"
)

// FetchConfig tunes the outbound HTTP client.
type FetchConfig struct {
	Timeout   time.Duration
	Retries   int
	UserAgent string
}

// NewHTTPClient returns a resty client whose transport retries transient
// failures.
func NewHTTPClient(cfg FetchConfig) *resty.Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.Retries < 0 {
		cfg.Retries = 0
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = "webkernel/1.0"
	}

	retry := retryablehttp.NewClient()
	retry.RetryMax = cfg.Retries
	retry.RetryWaitMin = 200 * time.Millisecond
	retry.RetryWaitMax = 5 * time.Second
	retry.Logger = nil
	retry.ErrorHandler = retryablehttp.PassthroughErrorHandler

	return resty.NewWithClient(retry.StandardClient()).
		SetTimeout(cfg.Timeout).
		SetHeader("User-Agent", cfg.UserAgent).
		SetRedirectPolicy(resty.FlexibleRedirectPolicy(20))
}

// FetchRequestOptions is op_fetch_request's argument. A bare string is the
// URL of a GET.
type FetchRequestOptions struct {
	Method  string            `json:"method" mapstructure:"method"`
	URL     string            `json:"url" mapstructure:"url"`
	Headers map[string]string `json:"headers" mapstructure:"headers"`
	Body    []byte            `json:"body" mapstructure:"body"`
	// TimeoutMs bounds the whole exchange including the body read.
	TimeoutMs int `json:"timeoutMs" mapstructure:"timeoutMs"`
}

// FetchRequest is a pending outbound request. Writes append to its body
// until it is sent.
type FetchRequest struct {
	mu      sync.Mutex
	method  string
	url     string
	header  http.Header
	body    bytes.Buffer
	timeout time.Duration
	closed  bool
}

func (r *FetchRequest) Kind() resource.Kind { return resource.KindFetchRequest }

func (r *FetchRequest) Write(p []byte) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return 0, syserr.New(syserr.BadResource, "write", r.url)
	}
	return r.body.Write(p)
}

func (r *FetchRequest) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = true
	return nil
}

// FetchInfo describes a response.
type FetchInfo struct {
	Rid        int               `json:"rid" mapstructure:"rid"`
	Status     int               `json:"status" mapstructure:"status"`
	StatusText string            `json:"statusText" mapstructure:"statusText"`
	Headers    map[string]string `json:"headers" mapstructure:"headers"`
	URL        string            `json:"url" mapstructure:"url"`
	Redirected bool              `json:"redirected" mapstructure:"redirected"`
}

// FetchResponse streams a response body.
type FetchResponse struct {
	info   FetchInfo
	body   io.ReadCloser
	cancel context.CancelFunc
	once   sync.Once
}

func (r *FetchResponse) Kind() resource.Kind { return resource.KindFetchResponse }

func (r *FetchResponse) Read(p []byte) (int, error) { return r.body.Read(p) }

func (r *FetchResponse) Info() FetchInfo { return r.info }

func (r *FetchResponse) Close() error {
	var err error
	r.once.Do(func() {
		err = r.body.Close()
		r.cancel()
	})
	return err
}

func (h *host) fetchRequest(p *process.Process, a, _ any) (any, error) {
	opts := FetchRequestOptions{}
	if s, ok := a.(string); ok {
		opts.URL = s
	} else if err := decodeOptions("fetch_request", a, &opts); err != nil {
		return nil, err
	}

	u, err := url.Parse(opts.URL)
	if err != nil || u.Host == "" {
		return nil, invalid("fetch_request", "bad url %q", opts.URL)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, syserr.Errorf(syserr.NotSupported, "fetch_request", "scheme %q", u.Scheme)
	}

	method := strings.ToUpper(opts.Method)
	if method == "" {
		method = http.MethodGet
	}
	req := &FetchRequest{
		method:  method,
		url:     u.String(),
		header:  http.Header{},
		timeout: time.Duration(opts.TimeoutMs) * time.Millisecond,
	}
	for k, v := range opts.Headers {
		req.header.Set(k, v)
	}
	req.body.Write(opts.Body)
	return p.Table().Add(req), nil
}

// fetchSend consumes a request rid and returns the response resource.
func (h *host) fetchSend(ctx context.Context, p *process.Process, a, _ any) (any, error) {
	rid, err := toRid("fetch_send", a)
	if err != nil {
		return nil, err
	}
	r, err := p.Table().Lookup(rid)
	if err != nil {
		return nil, err
	}
	req, ok := resource.Unwrap(r).(*FetchRequest)
	if !ok {
		return nil, syserr.Errorf(syserr.BadResource, "fetch_send", "resource %d is a %s", rid, r.Kind())
	}
	p.Table().TryClose(rid)

	req.mu.Lock()
	method, target, header, timeout := req.method, req.url, req.header, req.timeout
	body := append([]byte(nil), req.body.Bytes()...)
	req.mu.Unlock()

	ctx, cancel := withTimeout(ctx, timeout)
	resp, err := resilience.Do(h.opts.Breaker, func() (*resty.Response, error) {
		r := h.opts.HTTP.R().
			SetContext(ctx).
			SetDoNotParseResponse(true).
			SetHeaderMultiValues(header)
		if len(body) > 0 {
			r.SetBody(body)
		}
		return r.Execute(method, target)
	})
	if err != nil {
		cancel()
		p.Metrics().RecordFetch(method, "error")
		h.logger.Debug("fetch failed", zap.String("method", method), zap.String("url", target), zap.Error(err))
		return nil, fetchError(target, err)
	}
	p.Metrics().RecordFetch(method, strconv.Itoa(resp.StatusCode()))

	raw := resp.RawResponse
	info := FetchInfo{
		Status:     raw.StatusCode,
		StatusText: http.StatusText(raw.StatusCode),
		Headers:    flattenHeader(raw.Header),
		URL:        raw.Request.URL.String(),
	}
	info.Redirected = info.URL != target

	res := &FetchResponse{body: resp.RawBody(), cancel: cancel}
	info.Rid = p.Table().Add(res)
	res.info = info
	return info, nil
}

func (h *host) fetchMeta(p *process.Process, a, _ any) (any, error) {
	rid, err := toRid("fetch_meta", a)
	if err != nil {
		return nil, err
	}
	r, err := p.Table().Lookup(rid)
	if err != nil {
		return nil, err
	}
	res, ok := resource.Unwrap(r).(*FetchResponse)
	if !ok {
		return nil, syserr.Errorf(syserr.BadResource, "fetch_meta", "resource %d is a %s", rid, r.Kind())
	}
	return res.Info(), nil
}

func flattenHeader(h http.Header) map[string]string {
	out := make(map[string]string, len(h))
	for k, v := range h {
		out[strings.ToLower(k)] = strings.Join(v, ", ")
	}
	return out
}

func fetchError(target string, err error) error {
	switch {
	case errors.Is(err, resilience.ErrOpen), errors.Is(err, resilience.ErrTooManyRequests):
		return syserr.Wrap(syserr.Busy, "fetch_send", target, err)
	case errors.Is(err, context.DeadlineExceeded):
		return syserr.Wrap(syserr.TimedOut, "fetch_send", target, err)
	case errors.Is(err, context.Canceled):
		return err
	}
	return syserr.Wrap(syserr.ConnectionRefused, "fetch_send", target, err)
}
