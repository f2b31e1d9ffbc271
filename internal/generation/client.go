// Package generation calls the remote image-generation backend.
//
// The backend address is resolved on every call so that a registry update
// takes effect immediately. There is no caching and no retry: a failed call
// surfaces as ErrGenerationFailed and the caller decides what to do.
package generation

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"

	"github.com/tbourn/go-order-bot/internal/domain"
)

const (
	// DefaultTimeout bounds a single generation call.
	DefaultTimeout = 120 * time.Second

	// DefaultMaxBytes caps the accepted image size.
	DefaultMaxBytes = 20 << 20
)

var (
	genReqs = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "generation_requests_total",
			Help: "Generation backend calls by mode and result.",
		},
		[]string{"mode", "result"},
	)

	genLat = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "generation_duration_seconds",
			Help:    "Duration of generation backend calls in seconds.",
			Buckets: []float64{0.5, 1, 2, 5, 10, 20, 30, 60, 120},
		},
		[]string{"mode"},
	)
)

func init() {
	prometheus.MustRegister(genReqs, genLat)
}

// Resolver yields the current backend address.
type Resolver interface {
	Get(ctx context.Context) (string, bool)
}

// Client is safe for concurrent use.
type Client struct {
	Endpoints Resolver
	Catalog   *domain.Catalog
	HTTP      *http.Client
	MaxBytes  int64
}

// New returns a Client whose HTTP calls are bounded by timeout (DefaultTimeout
// when zero).
func New(endpoints Resolver, catalog *domain.Catalog, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Client{
		Endpoints: endpoints,
		Catalog:   catalog,
		HTTP:      &http.Client{Timeout: timeout},
		MaxBytes:  DefaultMaxBytes,
	}
}

type generateRequest struct {
	Description string `json:"description"`
	ProductType string `json:"product_type"`
	Mode        string `json:"mode"`
}

// Generate asks the backend to render description as productID in the given
// mode and returns the image bytes.
func (c *Client) Generate(ctx context.Context, description, productID string, mode domain.Mode) ([]byte, error) {
	tr := otel.Tracer("generation/Client")
	ctx, span := tr.Start(ctx, "Generate",
		trace.WithAttributes(
			attribute.String("product.id", productID),
			attribute.String("generation.mode", string(mode)),
		),
	)
	defer span.End()

	if _, ok := c.Catalog.Product(productID); !ok || !mode.Valid() {
		return nil, ErrUnknownProduct
	}

	addr, ok := c.Endpoints.Get(ctx)
	if !ok {
		genReqs.WithLabelValues(string(mode), "unavailable").Inc()
		span.SetStatus(codes.Error, "no backend registered")
		return nil, ErrBackendUnavailable
	}

	start := time.Now()
	img, err := c.call(ctx, addr, generateRequest{
		Description: description,
		ProductType: productID,
		Mode:        string(mode),
	})
	genLat.WithLabelValues(string(mode)).Observe(time.Since(start).Seconds())
	if err != nil {
		genReqs.WithLabelValues(string(mode), "error").Inc()
		span.RecordError(err)
		span.SetStatus(codes.Error, "generation failed")
		log.Warn().Err(err).Str("product", productID).Str("mode", string(mode)).Msg("generation call failed")
		return nil, fmt.Errorf("%w: %v", ErrGenerationFailed, err)
	}
	genReqs.WithLabelValues(string(mode), "ok").Inc()
	span.SetAttributes(attribute.Int("image.bytes", len(img)))
	return img, nil
}

func (c *Client) call(ctx context.Context, addr string, body generateRequest) ([]byte, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, addr, bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "image/*")
	otel.GetTextMapPropagator().Inject(ctx, propagation.HeaderCarrier(req.Header))

	httpClient := c.HTTP
	if httpClient == nil {
		httpClient = &http.Client{Timeout: DefaultTimeout}
	}
	resp, err := httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4<<10))
		return nil, fmt.Errorf("backend status %d", resp.StatusCode)
	}

	limit := c.MaxBytes
	if limit <= 0 {
		limit = DefaultMaxBytes
	}
	img, err := io.ReadAll(io.LimitReader(resp.Body, limit+1))
	if err != nil {
		return nil, err
	}
	if len(img) == 0 {
		return nil, fmt.Errorf("empty payload")
	}
	if int64(len(img)) > limit {
		return nil, fmt.Errorf("payload exceeds %d bytes", limit)
	}
	if mt := mimetype.Detect(img); !strings.HasPrefix(mt.String(), "image/") {
		return nil, fmt.Errorf("payload is %s, not an image", mt.String())
	}
	return img, nil
}
