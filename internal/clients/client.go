// Package clients holds typed HTTP clients for the lending API.
package clients

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

	"github.com/sony/gobreaker"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"

	"lendinghub/internal/apperr"
	"lendinghub/internal/platform/httpx"
)

const defaultTimeout = 10 * time.Second

// ServerError is returned for 5xx responses.
type ServerError struct {
	StatusCode int
	Message    string
}

func (e *ServerError) Error() string {
	return fmt.Sprintf("server error %d: %s", e.StatusCode, e.Message)
}

// baseClient sends JSON requests and maps error responses back onto
// apperr kinds, so callers can use errors.Is as they would in process.
// Requests go through a circuit breaker that only counts transport
// failures and 5xx responses; a 4xx is the server working correctly.
type baseClient struct {
	baseURL    string
	httpClient *http.Client
	breaker    *gobreaker.CircuitBreaker
}

func newBaseClient(name, baseURL string, httpClient *http.Client) baseClient {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: defaultTimeout}
	}
	return baseClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: httpClient,
		breaker: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:    name,
			Timeout: 30 * time.Second,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= 5
			},
			IsSuccessful: func(err error) bool {
				var domain *apperr.Error
				return err == nil || errors.As(err, &domain)
			},
		}),
	}
}

// BreakerState reports the circuit breaker state, e.g. "closed" or "open".
func (c baseClient) BreakerState() string {
	return c.breaker.State().String()
}

func (c baseClient) do(ctx context.Context, method, path string, body, out any) error {
	_, err := c.breaker.Execute(func() (interface{}, error) {
		return nil, c.send(ctx, method, path, body, out)
	})
	return err
}

func (c baseClient) send(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	otel.GetTextMapPropagator().Inject(ctx, propagation.HeaderCarrier(req.Header))

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		return decodeError(resp)
	}
	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

var errorKinds = map[string]error{
	"not_found":            apperr.ErrNotFound,
	"validation":           apperr.ErrValidation,
	"business_rule":        apperr.ErrBusinessRule,
	"invalid_state":        apperr.ErrInvalidState,
	"conflict":             apperr.ErrConflict,
	"concurrency_conflict": apperr.ErrConcurrencyConflict,
}

func decodeError(resp *http.Response) error {
	var payload httpx.ErrorResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil || payload.Error == "" {
		payload.Error = http.StatusText(resp.StatusCode)
	}
	if resp.StatusCode >= http.StatusInternalServerError {
		return &ServerError{StatusCode: resp.StatusCode, Message: payload.Error}
	}

	kind, ok := errorKinds[payload.Code]
	if !ok {
		return fmt.Errorf("unexpected status code %d: %s", resp.StatusCode, payload.Error)
	}
	return &apperr.Error{Kind: kind, Message: payload.Error}
}
