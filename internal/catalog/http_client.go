package catalog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"marketplace-be/internal/apperror"
	"marketplace-be/internal/logger"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

const maxResponseBytes = 4 << 20

type HTTPClient struct {
	baseURL    string
	httpClient *http.Client
	tracer     trace.Tracer
}

// NewHTTPClient builds a catalog client whose every call is bounded by timeout.
func NewHTTPClient(baseURL string, timeout time.Duration) *HTTPClient {
	return &HTTPClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
		tracer:     otel.Tracer("catalog-client"),
	}
}

func (c *HTTPClient) ProductExistsWithSize(ctx context.Context, productID, sizeID int64) (bool, error) {
	ctx, span := c.tracer.Start(ctx, "ProductExistsWithSize", trace.WithAttributes(
		attribute.Int64("product_id", productID),
		attribute.Int64("size_id", sizeID),
	))
	defer span.End()

	log := logger.FromCtx(ctx).With(
		zap.String("layer", "catalog"),
		zap.Int64("product_id", productID),
		zap.Int64("size_id", sizeID),
	)

	endpoint := fmt.Sprintf("%s/api/v1/products/%d/sizes/%d/exists", c.baseURL, productID, sizeID)
	resp, err := c.get(ctx, endpoint)
	if err != nil {
		log.Error("catalog request failed", zap.Error(err))
		return false, transportError(err)
	}
	defer drain(resp)

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return true, nil
	case resp.StatusCode == http.StatusNotFound || resp.StatusCode == http.StatusBadRequest:
		return false, nil
	case resp.StatusCode >= 500:
		log.Warn("catalog unavailable", zap.Int("status", resp.StatusCode))
		return false, apperror.Unavailable("catalog service is unavailable", fmt.Errorf("catalog status %d", resp.StatusCode))
	default:
		log.Error("unexpected catalog status", zap.Int("status", resp.StatusCode))
		return false, apperror.Internal("unexpected catalog response", fmt.Errorf("catalog status %d", resp.StatusCode))
	}
}

func (c *HTTPClient) FetchProductsByIDs(ctx context.Context, ids []int64) (map[int64]Product, error) {
	result := make(map[int64]Product, len(ids))
	if len(ids) == 0 {
		return result, nil
	}

	ctx, span := c.tracer.Start(ctx, "FetchProductsByIDs", trace.WithAttributes(
		attribute.Int("id_count", len(ids)),
	))
	defer span.End()

	log := logger.FromCtx(ctx).With(
		zap.String("layer", "catalog"),
		zap.Int64s("product_ids", ids),
	)

	parts := make([]string, 0, len(ids))
	for _, id := range ids {
		parts = append(parts, strconv.FormatInt(id, 10))
	}
	endpoint := c.baseURL + "/api/v1/products/batch?" + url.Values{"ids": {strings.Join(parts, ",")}}.Encode()

	resp, err := c.get(ctx, endpoint)
	if err != nil {
		log.Error("catalog batch request failed", zap.Error(err))
		return nil, transportError(err)
	}
	defer drain(resp)

	if resp.StatusCode >= 500 {
		log.Warn("catalog unavailable", zap.Int("status", resp.StatusCode))
		return nil, apperror.Unavailable("catalog service is unavailable", fmt.Errorf("catalog status %d", resp.StatusCode))
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		log.Error("unexpected catalog status", zap.Int("status", resp.StatusCode))
		return nil, apperror.Internal("unexpected catalog response", fmt.Errorf("catalog status %d", resp.StatusCode))
	}

	var products []Product
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxResponseBytes)).Decode(&products); err != nil {
		log.Error("failed to decode catalog products", zap.Error(err))
		return nil, apperror.Internal("malformed catalog response", err)
	}

	for _, p := range products {
		result[p.ID] = p
	}

	log.Debug("catalog products fetched", zap.Int("found", len(result)))
	return result, nil
}

func (c *HTTPClient) get(ctx context.Context, endpoint string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	if reqID := logger.RequestIDFrom(ctx); reqID != "" {
		req.Header.Set(logger.RequestIDHeader, reqID)
	}
	return c.httpClient.Do(req)
}

// transportError classifies a failed round trip: timeouts are a degraded
// dependency, anything else is unexpected.
func transportError(err error) error {
	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
		return apperror.Unavailable("catalog service timed out", err)
	}
	return apperror.Internal("catalog request failed", err)
}

func drain(resp *http.Response) {
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxResponseBytes))
	_ = resp.Body.Close()
}
