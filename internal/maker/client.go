package maker

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sony/gobreaker/v2"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const (
	MethodGetAllPricingERC20      = "getAllPricingERC20"
	MethodGetSignerSideOrderERC20 = "getSignerSideOrderERC20"
	MethodGetSenderSideOrderERC20 = "getSenderSideOrderERC20"

	maxResponseBytes = 4 << 20
)

// Config tunes the maker client.
type Config struct {
	Timeout           time.Duration
	RequestsPerSecond float64
	Burst             int
	// BreakerFailures consecutive failures open a server's breaker for BreakerTimeout.
	BreakerFailures uint32
	BreakerTimeout  time.Duration
}

// DefaultConfig returns the client defaults.
func DefaultConfig() Config {
	return Config{
		Timeout:           2 * time.Second,
		RequestsPerSecond: 50,
		Burst:             20,
		BreakerFailures:   5,
		BreakerTimeout:    30 * time.Second,
	}
}

type rpcRequest struct {
	JSONRPC string      `json:"jsonrpc"`
	ID      string      `json:"id"`
	Method  string      `json:"method"`
	Params  interface{} `json:"params"`
}

// RPCError is a JSON-RPC error object returned by a maker.
type RPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *RPCError) Error() string {
	return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message)
}

// Client talks JSON-RPC over HTTP to maker servers.
type Client struct {
	httpClient *http.Client
	limiter    *rate.Limiter
	cfg        Config
	logger     *zap.Logger

	mu       sync.Mutex
	breakers map[string]*gobreaker.CircuitBreaker[[]byte]
}

// NewClient builds a Client. A nil httpClient uses a client with cfg.Timeout.
func NewClient(httpClient *http.Client, cfg Config, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.Timeout}
	}
	limit := rate.Inf
	if cfg.RequestsPerSecond > 0 {
		limit = rate.Limit(cfg.RequestsPerSecond)
	}
	burst := cfg.Burst
	if burst < 1 {
		burst = 1
	}
	return &Client{
		httpClient: httpClient,
		limiter:    rate.NewLimiter(limit, burst),
		cfg:        cfg,
		logger:     logger,
		breakers:   make(map[string]*gobreaker.CircuitBreaker[[]byte]),
	}
}

// AllPricingERC20 requests every pricing entry a maker offers and returns the
// raw response body.
func (c *Client) AllPricingERC20(ctx context.Context, url string) ([]byte, error) {
	return c.call(ctx, url, MethodGetAllPricingERC20, map[string]interface{}{})
}

func (c *Client) call(ctx context.Context, url, method string, params interface{}) ([]byte, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limit: %w", err)
	}
	body, err := c.breaker(url).Execute(func() ([]byte, error) {
		return c.post(ctx, url, method, params)
	})
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", method, url, err)
	}
	return body, nil
}

func (c *Client) post(ctx context.Context, url, method string, params interface{}) ([]byte, error) {
	id, err := uuid.NewRandom()
	if err != nil {
		return nil, fmt.Errorf("request id: %w", err)
	}
	payload, err := json.Marshal(rpcRequest{
		JSONRPC: "2.0",
		ID:      id.String(),
		Method:  method,
		Params:  params,
	})
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	return body, nil
}

func (c *Client) breaker(url string) *gobreaker.CircuitBreaker[[]byte] {
	c.mu.Lock()
	defer c.mu.Unlock()
	if cb, ok := c.breakers[url]; ok {
		return cb
	}

	failures := c.cfg.BreakerFailures
	cb := gobreaker.NewCircuitBreaker[[]byte](gobreaker.Settings{
		Name:        url,
		MaxRequests: 1,
		Timeout:     c.cfg.BreakerTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return failures > 0 && counts.ConsecutiveFailures >= failures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			c.logger.Info("maker breaker state change",
				zap.String("url", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()),
			)
		},
	})
	c.breakers[url] = cb
	return cb
}
