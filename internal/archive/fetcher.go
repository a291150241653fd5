package archive

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/sony/gobreaker"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"momentum-go/internal/metrics"
)

// HTTPStore serves objects from a local cache, fetching misses once from {base}/{feed}/{date}/{name}.
type HTTPStore struct {
	log     zerolog.Logger
	baseURL string
	client  *http.Client
	cache   *LocalStore
	breaker *gobreaker.CircuitBreaker
	limiter *rate.Limiter
}

// HTTPOption configures an HTTPStore.
type HTTPOption func(*HTTPStore)

// WithHTTPClient overrides the HTTP client.
func WithHTTPClient(c *http.Client) HTTPOption {
	return func(s *HTTPStore) {
		if c != nil {
			s.client = c
		}
	}
}

// WithRateLimit caps outbound requests per second.
func WithRateLimit(perSec float64, burst int) HTTPOption {
	return func(s *HTTPStore) {
		if perSec > 0 {
			if burst <= 0 {
				burst = 1
			}
			s.limiter = rate.NewLimiter(rate.Limit(perSec), burst)
		}
	}
}

// NewHTTPStore builds a caching fetcher. Missing objects (404) do not trip the breaker.
func NewHTTPStore(log zerolog.Logger, baseURL string, cache *LocalStore, opts ...HTTPOption) *HTTPStore {
	s := &HTTPStore{
		log:     log,
		baseURL: strings.TrimSuffix(baseURL, "/"),
		client:  &http.Client{Timeout: 60 * time.Second},
		cache:   cache,
		limiter: rate.NewLimiter(rate.Limit(5), 1),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "archive",
		MaxRequests: 1,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool { return counts.ConsecutiveFailures >= 3 },
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, ErrNotFound) || errors.Is(err, context.Canceled)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn().Str("breaker", name).Str("from", from.String()).Str("to", to.String()).Msg("archive breaker state change")
		},
	})
	return s
}

// Manifest returns the cached manifest, fetching it first if needed.
func (s *HTTPStore) Manifest(ctx context.Context, feed, date string) (*Manifest, error) {
	if err := s.ensure(ctx, feed, date, "manifest.json"); err != nil {
		return nil, err
	}
	return s.cache.Manifest(ctx, feed, date)
}

// Open returns the cached file, fetching it first if needed.
func (s *HTTPStore) Open(ctx context.Context, feed, date, name string) (io.ReadCloser, error) {
	if err := s.ensure(ctx, feed, date, name); err != nil {
		return nil, err
	}
	return s.cache.Open(ctx, feed, date, name)
}

func (s *HTTPStore) ensure(ctx context.Context, feed, date, name string) error {
	if s.cache.Has(feed, date, name) {
		metrics.ArchiveFetches.WithLabelValues("cached").Inc()
		return nil
	}
	_, err := s.breaker.Execute(func() (interface{}, error) {
		return nil, s.fetch(ctx, feed, date, name)
	})
	switch {
	case err == nil:
		metrics.ArchiveFetches.WithLabelValues("fetched").Inc()
	case errors.Is(err, ErrNotFound):
		metrics.ArchiveFetches.WithLabelValues("missing").Inc()
	default:
		metrics.ArchiveFetches.WithLabelValues("error").Inc()
	}
	return err
}

func (s *HTTPStore) fetch(ctx context.Context, feed, date, name string) error {
	if err := s.limiter.Wait(ctx); err != nil {
		return err
	}
	url := fmt.Sprintf("%s/%s/%s/%s", s.baseURL, feed, date, name)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	req.Header.Set("User-Agent", "momentum-go/1.0 (archive)")
	resp, err := s.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	switch {
	case resp.StatusCode == http.StatusNotFound:
		return fmt.Errorf("%w: %s", ErrNotFound, url)
	case resp.StatusCode != http.StatusOK:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 256))
		return fmt.Errorf("fetch %s: status %d: %s", url, resp.StatusCode, bytes.TrimSpace(body))
	}
	if err := s.cache.Put(feed, date, name, resp.Body); err != nil {
		return fmt.Errorf("cache %s: %w", url, err)
	}
	s.log.Debug().Str("url", url).Msg("archive object cached")
	return nil
}

// PrefetchResult summarizes a Prefetch call.
type PrefetchResult struct {
	Dates   int
	Files   int
	Missing []string
}

// Prefetch warms the cache for every file listed by the manifests of the given dates. Dates with
// no manifest are reported as missing rather than failing the run.
func Prefetch(ctx context.Context, store Store, feed string, dates []string, concurrency int) (PrefetchResult, error) {
	if concurrency <= 0 {
		concurrency = 4
	}
	var res PrefetchResult
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(concurrency)
	for _, date := range dates {
		m, err := store.Manifest(ctx, feed, date)
		if errors.Is(err, ErrNotFound) {
			res.Missing = append(res.Missing, date)
			continue
		}
		if err != nil {
			_ = g.Wait()
			return res, err
		}
		res.Dates++
		for _, f := range m.Ordered() {
			date, name := date, f.Name
			res.Files++
			g.Go(func() error {
				rc, err := store.Open(gctx, feed, date, name)
				if err != nil {
					return err
				}
				return rc.Close()
			})
		}
	}
	return res, g.Wait()
}
