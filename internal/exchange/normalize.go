// Package exchange turns venue wire messages into normalized records and tracks market metadata.
package exchange

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"

	"momentum-go/internal/signal"
)

// ErrMalformed marks payloads that cannot become a record. The source counts and skips them.
var ErrMalformed = errors.New("malformed record")

const (
	// FeedKalshi is the Kalshi websocket format.
	FeedKalshi = "kalshi"
	// FeedPolymarket is the Polymarket CLOB websocket format.
	FeedPolymarket = "polymarket"
	// FeedCanonical is the flat normalized record format.
	FeedCanonical = "canonical"
)

type envelope struct {
	Type       string          `json:"type"`
	Msg        json.RawMessage `json:"msg"`
	EventType  string          `json:"event_type"`
	Instrument string          `json:"instrument"`
}

type kalshiTicker struct {
	MarketTicker string   `json:"market_ticker"`
	YesBid       *int64   `json:"yes_bid"`
	YesAsk       *int64   `json:"yes_ask"`
	LastPrice    *int64   `json:"last_price"`
	Price        *int64   `json:"price"`
	Volume       *int64   `json:"volume"`
	DollarVolume *float64 `json:"dollar_volume"`
	Ts           int64    `json:"ts"`
}

type kalshiTrade struct {
	MarketTicker string `json:"market_ticker"`
	TradeID      string `json:"trade_id"`
	YesPrice     *int64 `json:"yes_price"`
	Price        *int64 `json:"price"`
	Count        int64  `json:"count"`
	TakerSide    string `json:"taker_side"`
	Side         string `json:"side"`
	Ts           int64  `json:"ts"`
}

type kalshiLifecycle struct {
	MarketTicker string `json:"market_ticker"`
	EventType    string `json:"event_type"`
	CloseTs      int64  `json:"close_ts"`
}

type polymarketMessage struct {
	EventType string `json:"event_type"`
	AssetID   string `json:"asset_id"`
	Market    string `json:"market"`
	Price     string `json:"price"`
	Side      string `json:"side"`
	Size      string `json:"size"`
	BestBid   string `json:"best_bid"`
	BestAsk   string `json:"best_ask"`
	Timestamp string `json:"timestamp"`
}

// Normalize detects the payload format and converts it into a record.
func Normalize(payload []byte) (signal.Record, error) {
	var env envelope
	if err := json.Unmarshal(payload, &env); err != nil {
		return signal.Record{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	switch {
	case env.EventType != "":
		return normalizePolymarket(payload, env.EventType)
	case len(env.Msg) > 0:
		return normalizeKalshi(env.Type, env.Msg)
	case env.Instrument != "":
		return normalizeCanonical(payload, env.Type)
	}
	return signal.Record{}, fmt.Errorf("%w: unrecognized payload", ErrMalformed)
}

func normalizeKalshi(kind string, msg json.RawMessage) (signal.Record, error) {
	switch kind {
	case "ticker", "ticker_v2":
		var t kalshiTicker
		if err := json.Unmarshal(msg, &t); err != nil {
			return signal.Record{}, fmt.Errorf("%w: kalshi ticker: %v", ErrMalformed, err)
		}
		rec := signal.Record{
			Kind:        signal.KindTick,
			Instrument:  t.MarketTicker,
			Ts:          seconds(t.Ts),
			Bid:         deref(t.YesBid),
			Ask:         deref(t.YesAsk),
			Last:        first(t.LastPrice, t.Price),
			CumVolume:   deref(t.Volume),
			CumNotional: derefFloat(t.DollarVolume),
		}
		return rec, validate(rec)
	case "trade":
		var t kalshiTrade
		if err := json.Unmarshal(msg, &t); err != nil {
			return signal.Record{}, fmt.Errorf("%w: kalshi trade: %v", ErrMalformed, err)
		}
		side := t.TakerSide
		if side == "" {
			side = t.Side
		}
		rec := signal.Record{
			Kind:       signal.KindTrade,
			Instrument: t.MarketTicker,
			Ts:         seconds(t.Ts),
			Price:      first(t.YesPrice, t.Price),
			Count:      t.Count,
			Side:       sideFromOutcome(side),
			TradeID:    t.TradeID,
		}
		return rec, validate(rec)
	case "market_lifecycle_v2", "market_lifecycle":
		var l kalshiLifecycle
		if err := json.Unmarshal(msg, &l); err != nil {
			return signal.Record{}, fmt.Errorf("%w: kalshi lifecycle: %v", ErrMalformed, err)
		}
		rec := signal.Record{Kind: signal.KindLifecycle, Instrument: l.MarketTicker, CloseTs: seconds(l.CloseTs)}
		return rec, validate(rec)
	}
	return signal.Record{}, fmt.Errorf("%w: kalshi type %q", ErrMalformed, kind)
}

func normalizePolymarket(payload []byte, eventType string) (signal.Record, error) {
	var m polymarketMessage
	if err := json.Unmarshal(payload, &m); err != nil {
		return signal.Record{}, fmt.Errorf("%w: polymarket: %v", ErrMalformed, err)
	}
	ts, err := millisString(m.Timestamp)
	if err != nil {
		return signal.Record{}, err
	}
	switch eventType {
	case "last_trade_price":
		price, err := centsString(m.Price)
		if err != nil {
			return signal.Record{}, err
		}
		size, _ := strconv.ParseFloat(strings.TrimSpace(m.Size), 64)
		rec := signal.Record{
			Kind:       signal.KindTrade,
			Instrument: m.AssetID,
			Ts:         ts,
			Price:      price,
			Count:      int64(math.Round(size)),
			Side:       sideFromAction(m.Side),
		}
		return rec, validate(rec)
	case "best_bid_ask":
		bid, err := centsString(m.BestBid)
		if err != nil {
			return signal.Record{}, err
		}
		ask, err := centsString(m.BestAsk)
		if err != nil {
			return signal.Record{}, err
		}
		rec := signal.Record{Kind: signal.KindTick, Instrument: m.AssetID, Ts: ts, Bid: bid, Ask: ask}
		return rec, validate(rec)
	}
	return signal.Record{}, fmt.Errorf("%w: polymarket event %q", ErrMalformed, eventType)
}

// normalizeCanonical accepts the record's own encoding, with "type" as an alias for "kind".
func normalizeCanonical(payload []byte, typ string) (signal.Record, error) {
	var rec signal.Record
	if err := json.Unmarshal(payload, &rec); err != nil {
		return signal.Record{}, fmt.Errorf("%w: canonical: %v", ErrMalformed, err)
	}
	if rec.Kind == "" {
		rec.Kind = signal.Kind(typ)
	}
	rec.Ts = seconds(rec.Ts)
	rec.CloseTs = seconds(rec.CloseTs)
	return rec, validate(rec)
}

func validate(rec signal.Record) error {
	if strings.TrimSpace(rec.Instrument) == "" {
		return fmt.Errorf("%w: missing instrument", ErrMalformed)
	}
	switch rec.Kind {
	case signal.KindTick:
		if rec.Last <= 0 && rec.Bid <= 0 && rec.Ask <= 0 && rec.CumVolume <= 0 {
			return fmt.Errorf("%w: empty tick for %s", ErrMalformed, rec.Instrument)
		}
	case signal.KindTrade:
		if rec.Price <= 0 || rec.Count <= 0 {
			return fmt.Errorf("%w: trade without price or size for %s", ErrMalformed, rec.Instrument)
		}
		if !rec.Side.Valid() {
			return fmt.Errorf("%w: trade side %q for %s", ErrMalformed, rec.Side, rec.Instrument)
		}
	case signal.KindLifecycle:
		if rec.CloseTs <= 0 {
			return fmt.Errorf("%w: lifecycle without close time for %s", ErrMalformed, rec.Instrument)
		}
	default:
		return fmt.Errorf("%w: kind %q", ErrMalformed, rec.Kind)
	}
	return nil
}

// seconds accepts unix seconds or milliseconds.
func seconds(ts int64) int64 {
	if ts > 1e12 {
		return ts / 1000
	}
	return ts
}

func millisString(s string) (int64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("%w: missing timestamp", ErrMalformed)
	}
	v, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: timestamp %q", ErrMalformed, s)
	}
	return seconds(v), nil
}

// centsString converts a probability string such as "0.47" to 47 cents.
func centsString(s string) (int64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil || v < 0 || v > 1 {
		return 0, fmt.Errorf("%w: price %q", ErrMalformed, s)
	}
	return int64(math.Round(v * 100)), nil
}

func sideFromOutcome(s string) signal.Side {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "yes":
		return signal.Long
	case "no":
		return signal.Short
	}
	return signal.Side(strings.ToLower(s))
}

func sideFromAction(s string) signal.Side {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "BUY":
		return signal.Long
	case "SELL":
		return signal.Short
	}
	return signal.Side(strings.ToLower(s))
}

func deref(v *int64) int64 {
	if v == nil {
		return 0
	}
	return *v
}

func derefFloat(v *float64) float64 {
	if v == nil {
		return 0
	}
	return *v
}

func first(vals ...*int64) int64 {
	for _, v := range vals {
		if v != nil && *v > 0 {
			return *v
		}
	}
	return 0
}
