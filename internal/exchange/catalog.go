package exchange

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"momentum-go/internal/signal"
	"momentum-go/internal/transport"
)

// Market is the metadata the engine needs from the security master.
type Market struct {
	Ticker    string     `json:"ticker"`
	Status    string     `json:"status,omitempty"`
	CloseTime *time.Time `json:"close_time,omitempty"`
}

type marketsResponse struct {
	Markets []Market `json:"markets"`
}

// Catalog maps instruments to scheduled close times. It is seeded before a run starts and
// afterwards written only by the decision loop as lifecycle records arrive.
type Catalog struct {
	closes map[string]int64
}

// NewCatalog returns an empty catalog.
func NewCatalog() *Catalog {
	return &Catalog{closes: make(map[string]int64)}
}

// Set records the close time for instrument. Non-positive values are ignored.
func (c *Catalog) Set(instrument string, closeTs int64) {
	if instrument == "" || closeTs <= 0 {
		return
	}
	c.closes[instrument] = closeTs
}

// CloseTime returns the close time for instrument, or 0 when unknown.
func (c *Catalog) CloseTime(instrument string) int64 {
	return c.closes[instrument]
}

// Len reports how many instruments have a known close time.
func (c *Catalog) Len() int {
	return len(c.closes)
}

// Merge applies a batch of markets and returns how many close times changed.
func (c *Catalog) Merge(markets []Market) int {
	changed := 0
	for _, m := range markets {
		ticker := strings.TrimSpace(m.Ticker)
		if ticker == "" || m.CloseTime == nil || m.CloseTime.IsZero() {
			continue
		}
		ts := m.CloseTime.Unix()
		if c.closes[ticker] != ts {
			c.closes[ticker] = ts
			changed++
		}
	}
	return changed
}

// LoadFile seeds the catalog from a JSON file holding either a market array or {"markets": [...]}.
func (c *Catalog) LoadFile(path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, fmt.Errorf("read markets file: %w", err)
	}
	markets, err := decodeMarkets(data)
	if err != nil {
		return 0, fmt.Errorf("decode markets file: %w", err)
	}
	return c.Merge(markets), nil
}

func decodeMarkets(data []byte) ([]Market, error) {
	trimmed := strings.TrimSpace(string(data))
	if strings.HasPrefix(trimmed, "[") {
		var markets []Market
		err := json.Unmarshal(data, &markets)
		return markets, err
	}
	var resp marketsResponse
	err := json.Unmarshal(data, &resp)
	return resp.Markets, err
}

// SecmasterPoller watches the security master's /markets endpoint and publishes a lifecycle
// record whenever a market's close time is new or changed. It is a transport.Subscriber, so
// the records travel through the same ordered channel as market data.
type SecmasterPoller struct {
	log      zerolog.Logger
	client   *http.Client
	baseURL  string
	apiKey   string
	interval time.Duration
	now      func() time.Time
	known    map[string]int64
}

// NewSecmasterPoller returns nil when baseURL is empty so callers can skip the poller.
func NewSecmasterPoller(log zerolog.Logger, baseURL, apiKey string, interval time.Duration) *SecmasterPoller {
	if strings.TrimSpace(baseURL) == "" {
		return nil
	}
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	return &SecmasterPoller{
		log:      log,
		client:   &http.Client{Timeout: 10 * time.Second},
		baseURL:  strings.TrimSuffix(baseURL, "/"),
		apiKey:   apiKey,
		interval: interval,
		now:      time.Now,
		known:    make(map[string]int64),
	}
}

// Subscribe refreshes immediately and then on every interval, sending each change as a
// canonical lifecycle payload. Refresh failures are logged and retried on the next tick.
func (p *SecmasterPoller) Subscribe(ctx context.Context, out chan<- transport.Delivery) error {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()
	for {
		recs, err := p.Refresh(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			p.log.Warn().Err(err).Msg("secmaster refresh failed")
		}
		for _, rec := range recs {
			payload, err := json.Marshal(rec)
			if err != nil {
				return err
			}
			select {
			case out <- transport.NewDelivery("secmaster", payload, nil):
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// Close is a no-op.
func (p *SecmasterPoller) Close() error { return nil }

// Refresh performs a single fetch and returns lifecycle records for close times not seen before.
func (p *SecmasterPoller) Refresh(ctx context.Context) ([]signal.Record, error) {
	if p == nil {
		return nil, nil
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.baseURL+"/markets?status=open", nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", "momentum-go/1.0 (catalog)")
	if p.apiKey != "" {
		req.Header.Set("X-API-Key", p.apiKey)
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	var payload marketsResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, err
	}
	ts := p.now().Unix()
	var recs []signal.Record
	for _, m := range payload.Markets {
		ticker := strings.TrimSpace(m.Ticker)
		if ticker == "" || m.CloseTime == nil || m.CloseTime.IsZero() {
			continue
		}
		closeTs := m.CloseTime.Unix()
		if p.known[ticker] == closeTs {
			continue
		}
		p.known[ticker] = closeTs
		recs = append(recs, signal.Record{Kind: signal.KindLifecycle, Instrument: ticker, Ts: ts, CloseTs: closeTs})
	}
	if len(recs) > 0 {
		p.log.Info().Int("changed", len(recs)).Int("known", len(p.known)).Msg("market close times changed")
	}
	return recs, nil
}
