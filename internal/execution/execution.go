// Package execution simulates order fills and the fee schedule applied to them.
package execution

import (
	"errors"
	"fmt"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"momentum-go/internal/metrics"
	"momentum-go/internal/signal"
)

// Liquidity marks whether a fill added or removed liquidity.
type Liquidity string

const (
	// Maker rests on the book.
	Maker Liquidity = "maker"
	// Taker crosses the spread; every paper fill is a taker fill.
	Taker Liquidity = "taker"
)

// Leg identifies which side of a round trip a fill belongs to.
type Leg string

const (
	// Entry opens a position.
	Entry Leg = "entry"
	// Exit closes a position.
	Exit Leg = "exit"
)

// FeeModel selects how per-contract fees are computed.
type FeeModel string

const (
	// FeeFlat charges a fixed number of cents per contract.
	FeeFlat FeeModel = "flat"
	// FeeKalshi charges ceil(rate * C * P * (1-P)) dollars, rounded up to the cent.
	FeeKalshi FeeModel = "kalshi"
)

var hundred = decimal.NewFromInt(100)

// FeeSchedule prices a fill leg in cents.
type FeeSchedule struct {
	Model      FeeModel
	MakerCents decimal.Decimal
	TakerCents decimal.Decimal
	MakerRate  decimal.Decimal
	TakerRate  decimal.Decimal
}

// FlatFees is a convenience constructor for the per-contract schedule.
func FlatFees(makerCents, takerCents float64) FeeSchedule {
	return FeeSchedule{
		Model:      FeeFlat,
		MakerCents: decimal.NewFromFloat(makerCents),
		TakerCents: decimal.NewFromFloat(takerCents),
	}
}

// Fee returns the fee in cents for one leg of `contracts` at `price` cents.
func (f FeeSchedule) Fee(liq Liquidity, price, contracts int64) decimal.Decimal {
	if contracts <= 0 {
		return decimal.Zero
	}
	c := decimal.NewFromInt(contracts)
	switch f.Model {
	case FeeKalshi:
		rate := f.TakerRate
		if liq == Maker {
			rate = f.MakerRate
		}
		// price is in cents, so P*(1-P) in dollars is price*(100-price)/10000; fee in cents is that times 100.
		p := decimal.NewFromInt(price)
		q := decimal.NewFromInt(100 - price)
		return rate.Mul(c).Mul(p).Mul(q).Div(hundred).Ceil()
	default:
		per := f.TakerCents
		if liq == Maker {
			per = f.MakerCents
		}
		return per.Mul(c)
	}
}

// Order is a paper fill request.
type Order struct {
	PositionID string
	Model      string
	Instrument string
	Side       signal.Side
	Leg        Leg
	Price      int64
	Contracts  int64
	Ts         int64
}

// Fill is the executed result of an Order.
type Fill struct {
	Order
	Liquidity Liquidity
	Fee       decimal.Decimal
}

// ErrInvalidOrder is returned for orders that cannot be filled.
var ErrInvalidOrder = errors.New("invalid order")

// Executor fills paper orders immediately at the requested price.
type Executor struct {
	log  zerolog.Logger
	fees FeeSchedule
}

// NewExecutor wraps a logger and fee schedule.
func NewExecutor(log zerolog.Logger, fees FeeSchedule) *Executor {
	return &Executor{log: log, fees: fees}
}

// Fees exposes the schedule used for fills.
func (e *Executor) Fees() FeeSchedule { return e.fees }

// Submit fills the order as a taker and returns the fill with its fee.
func (e *Executor) Submit(order Order) (Fill, error) {
	if order.Instrument == "" {
		return Fill{}, fmt.Errorf("%w: missing instrument", ErrInvalidOrder)
	}
	if order.Price <= 0 || order.Price >= 100 {
		return Fill{}, fmt.Errorf("%w: price %d outside (0,100)", ErrInvalidOrder, order.Price)
	}
	if order.Contracts <= 0 {
		return Fill{}, fmt.Errorf("%w: contracts must be positive", ErrInvalidOrder)
	}
	if !order.Side.Valid() {
		return Fill{}, fmt.Errorf("%w: unknown side %q", ErrInvalidOrder, order.Side)
	}
	fill := Fill{Order: order, Liquidity: Taker, Fee: e.fees.Fee(Taker, order.Price, order.Contracts)}
	metrics.FillsTotal.WithLabelValues(order.Model, string(order.Leg)).Inc()
	e.log.Debug().
		Str("position", order.PositionID).
		Str("model", order.Model).
		Str("instrument", order.Instrument).
		Str("side", string(order.Side)).
		Str("leg", string(order.Leg)).
		Int64("px", order.Price).
		Int64("qty", order.Contracts).
		Str("fee", fill.Fee.String()).
		Int64("ts", order.Ts).
		Msg("paper fill")
	return fill, nil
}
