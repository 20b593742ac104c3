// Package catalog looks up display metadata for subject entities.
package catalog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/dgraph-io/ristretto/v2"
	"go.uber.org/zap"

	"github.com/capitalize-ai/listing-chat/pkg/logger"
)

// ErrNotFound is returned when the catalog has no such entity.
var ErrNotFound = errors.New("catalog: not found")

// Description is the display metadata of a subject entity.
type Description struct {
	Title     string `json:"title"`
	Thumbnail string `json:"thumbnail"`
}

// Lookup describes subject entities.
type Lookup interface {
	Describe(ctx context.Context, subjectEntityID string) (Description, error)
}

type productResponse struct {
	OK      bool `json:"ok"`
	Product struct {
		Title  string   `json:"title"`
		Images []string `json:"images"`
	} `json:"product"`
}

// HTTPLookup reads products from the listing service and caches them.
type HTTPLookup struct {
	baseURL string
	client  *http.Client
	cache   *ristretto.Cache[string, Description]
	ttl     time.Duration
	logger  *logger.Logger
}

// NewHTTPLookup creates a lookup against baseURL.
func NewHTTPLookup(baseURL string, timeout, ttl time.Duration, log *logger.Logger) (*HTTPLookup, error) {
	cache, err := ristretto.NewCache(&ristretto.Config[string, Description]{
		NumCounters:        100_000,
		MaxCost:            10_000,
		BufferItems:        64,
		IgnoreInternalCost: true,
	})
	if err != nil {
		return nil, fmt.Errorf("create catalog cache: %w", err)
	}
	return &HTTPLookup{
		baseURL: baseURL,
		client:  &http.Client{Timeout: timeout},
		cache:   cache,
		ttl:     ttl,
		logger:  log,
	}, nil
}

// Describe implements Lookup.
func (l *HTTPLookup) Describe(ctx context.Context, subjectEntityID string) (Description, error) {
	if d, ok := l.cache.Get(subjectEntityID); ok {
		return d, nil
	}

	endpoint := l.baseURL + "/api/products/" + url.PathEscape(subjectEntityID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return Description{}, fmt.Errorf("build catalog request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := l.client.Do(req)
	if err != nil {
		return Description{}, fmt.Errorf("catalog request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return Description{}, ErrNotFound
	}
	if resp.StatusCode != http.StatusOK {
		return Description{}, fmt.Errorf("catalog returned %d", resp.StatusCode)
	}

	var body productResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return Description{}, fmt.Errorf("decode catalog response: %w", err)
	}
	if !body.OK {
		return Description{}, ErrNotFound
	}

	d := Description{Title: body.Product.Title}
	if len(body.Product.Images) > 0 {
		d.Thumbnail = body.Product.Images[0]
	}

	l.cache.SetWithTTL(subjectEntityID, d, 1, l.ttl)
	l.logger.Debug("catalog entry cached", zap.String("subject_entity_id", subjectEntityID))
	return d, nil
}

// Close releases the cache.
func (l *HTTPLookup) Close() {
	l.cache.Close()
}

// None is a Lookup that knows nothing. It is used when no catalog is configured.
type None struct{}

func (None) Describe(context.Context, string) (Description, error) {
	return Description{}, ErrNotFound
}
