package fiscal

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"paygate-be/internal/config"
	"paygate-be/internal/logger"

	"github.com/sony/gobreaker/v2"
	"go.uber.org/zap"
)

// Client submits receipts to the fiscal service.
type Client interface {
	Print(ctx context.Context, req *ReceiptRequest) (*ReceiptResponse, error)
}

type client struct {
	baseURL    string
	timeout    time.Duration
	httpClient *http.Client
	breaker    *gobreaker.CircuitBreaker[*ReceiptResponse]
}

func NewClient(cfg config.FiscalConfig) (Client, error) {
	tlsCfg, err := LoadTLSConfig(cfg)
	if err != nil {
		return nil, err
	}

	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.TLSClientConfig = tlsCfg

	return newClient(cfg.BaseURL, cfg.Timeout, &http.Client{Transport: transport}), nil
}

func newClient(baseURL string, timeout time.Duration, httpClient *http.Client) *client {
	if timeout <= 0 {
		timeout = 20 * time.Second
	}
	httpClient.Timeout = timeout

	return &client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		timeout:    timeout,
		httpClient: httpClient,
		breaker: gobreaker.NewCircuitBreaker[*ReceiptResponse](gobreaker.Settings{
			Name:        "fiscal-service",
			MaxRequests: 1,
			Interval:    60 * time.Second,
			Timeout:     30 * time.Second,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= 3
			},
			// a business rejection means the service is reachable
			IsSuccessful: func(err error) bool {
				return err == nil || errors.Is(err, ErrServiceRejected)
			},
		}),
	}
}

func (c *client) Print(ctx context.Context, req *ReceiptRequest) (*ReceiptResponse, error) {
	log := logger.FromCtx(ctx).With(
		zap.String("layer", "client"),
		zap.String("method", "Print"),
		zap.Int64("seq", req.Seq),
	)

	body, err := json.Marshal(req)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	resp, err := c.breaker.Execute(func() (*ReceiptResponse, error) {
		httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/print", bytes.NewReader(body))
		if err != nil {
			return nil, err
		}
		httpReq.Header.Set("Content-Type", "application/json")

		httpResp, err := c.httpClient.Do(httpReq)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrServiceUnavailable, err)
		}
		defer httpResp.Body.Close()

		raw, err := io.ReadAll(httpResp.Body)
		if err != nil {
			return nil, fmt.Errorf("%w: read response: %v", ErrServiceUnavailable, err)
		}

		var res ReceiptResponse
		if err := json.Unmarshal(raw, &res); err != nil {
			return nil, fmt.Errorf("%w: status %d, undecodable body", ErrServiceUnavailable, httpResp.StatusCode)
		}
		res.Raw = raw

		if res.Code != 0 {
			return &res, fmt.Errorf("%w: code %d %s %s", ErrServiceRejected, res.Code, res.Error, res.ErrorMessage)
		}
		if res.Result == nil {
			return &res, fmt.Errorf("%w: empty result", ErrServiceRejected)
		}
		return &res, nil
	})
	if err != nil {
		if !errors.Is(err, ErrServiceRejected) && !errors.Is(err, ErrServiceUnavailable) {
			err = fmt.Errorf("%w: %v", ErrServiceUnavailable, err)
		}
		log.Error("fiscal print failed", zap.Error(err))
		return resp, err
	}

	log.Info("fiscal receipt printed",
		zap.Int64("rseq", resp.Result.Rseq),
	)
	return resp, nil
}
