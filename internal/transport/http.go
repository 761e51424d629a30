package transport

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"go.uber.org/zap"

	"github.com/GriffinCanCode/webkernel/internal/infrastructure/logging"
	"github.com/GriffinCanCode/webkernel/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/webkernel/internal/infrastructure/resilience"
	"github.com/GriffinCanCode/webkernel/internal/shared/id"
)

// RPCPath is where a kernel serves its Mux over HTTP; the object name
// follows it.
const RPCPath = "/rpc/"

const maxBody = 32 << 20

// HTTPOptions configures an HTTPClient.
type HTTPOptions struct {
	Timeout time.Duration
	Retries int
	Logger  *logging.Logger
	Metrics *monitoring.Metrics
}

// HTTPClient calls an object exposed by a remote kernel's HTTP server.
// Transport failures count against a circuit breaker; call failures do not.
type HTTPClient struct {
	url     string
	object  string
	client  *retryablehttp.Client
	breaker *resilience.Breaker
	logger  *logging.Logger
	metrics *monitoring.Metrics
}

// NewHTTPClient targets object at baseURL, e.g. "http://host:8080".
func NewHTTPClient(baseURL, object string, opts HTTPOptions) (*HTTPClient, error) {
	u, err := url.Parse(baseURL)
	if err != nil || u.Host == "" {
		return nil, fmt.Errorf("transport: bad base url %q", baseURL)
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}

	client := retryablehttp.NewClient()
	client.RetryMax = opts.Retries
	client.RetryWaitMin = 100 * time.Millisecond
	client.RetryWaitMax = 2 * time.Second
	client.HTTPClient.Timeout = opts.Timeout
	client.Logger = nil

	logger := logging.OrNop(opts.Logger).Named("transport")
	return &HTTPClient{
		url:     strings.TrimRight(u.String(), "/") + RPCPath + url.PathEscape(object),
		object:  object,
		client:  client,
		breaker: resilience.Transport("transport-http-"+object, logger),
		logger:  logger,
		metrics: opts.Metrics,
	}, nil
}

func (c *HTTPClient) Call(ctx context.Context, method string, args ...any) (any, error) {
	start := time.Now()
	reqID := id.NewRequestID().String()
	body, err := encodeRequest(Request{ID: reqID, Method: method, Args: args})
	if err != nil {
		return nil, err
	}

	resp, err := resilience.Do(c.breaker, func() (Response, error) {
		return c.post(ctx, body)
	})
	if err != nil {
		c.metrics.RecordTransportCall("http", method, "error", time.Since(start))
		c.logger.Debug("call failed", zap.String("object", c.object), zap.String("method", method), zap.String("request_id", reqID), zap.Error(err))
		return nil, err
	}
	if resp.Error != nil {
		c.metrics.RecordTransportCall("http", method, resp.Error.ClassName, time.Since(start))
		return nil, remoteError(c.object, method, resp.Error)
	}
	c.metrics.RecordTransportCall("http", method, "ok", time.Since(start))
	return resp.Result, nil
}

func (c *HTTPClient) post(ctx context.Context, body []byte) (Response, error) {
	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return Response{}, err
	}
	req.Header.Set("Content-Type", "application/json")

	res, err := c.client.Do(req)
	if err != nil {
		return Response{}, err
	}
	defer res.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(res.Body, maxBody))
	if err != nil {
		return Response{}, err
	}
	if res.StatusCode != http.StatusOK {
		return Response{}, fmt.Errorf("transport: %s: %s", res.Status, bytes.TrimSpace(raw))
	}
	return decodeResponse(raw)
}

func (c *HTTPClient) Close() error {
	c.client.HTTPClient.CloseIdleConnections()
	return nil
}

// HTTPHandler serves m under RPCPath with net/http.
func HTTPHandler(m *Mux) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		object := strings.TrimPrefix(r.URL.Path, RPCPath)
		if object == "" || object == r.URL.Path {
			http.NotFound(w, r)
			return
		}
		body, err := io.ReadAll(io.LimitReader(r.Body, maxBody))
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write(m.ServeWire(r.Context(), object, body))
	})
}
