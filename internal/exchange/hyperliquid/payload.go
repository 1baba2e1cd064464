package hyperliquid

import (
	"strconv"
	"time"

	"github.com/shopspring/decimal"

	"main/internal/exchange"
	"main/internal/model/enum"
)

// Wire shapes for the info/exchange endpoints. Decoded once with sonic and
// converted to the normalized exchange types; field names never leak upward.

type infoRequest struct {
	Type     string     `json:"type"`
	Coin     string     `json:"coin,omitempty"`
	User     string     `json:"user,omitempty"`
	Req      *candleReq `json:"req,omitempty"`
	NSigFigs int        `json:"nSigFigs,omitempty"`
}

type candleReq struct {
	Coin      string `json:"coin"`
	Interval  string `json:"interval"`
	StartTime int64  `json:"startTime"`
}

type wireLevel struct {
	Px decimal.Decimal `json:"px"`
	Sz decimal.Decimal `json:"sz"`
	N  int             `json:"n"`
}

type wireBook struct {
	Coin   string        `json:"coin"`
	Time   int64         `json:"time"`
	Levels [][]wireLevel `json:"levels"` // [0] bids, [1] asks
}

func (b wireBook) normalize() exchange.OrderBook {
	book := exchange.OrderBook{
		Symbol: b.Coin,
		Time:   time.UnixMilli(b.Time),
	}
	if len(b.Levels) > 0 {
		book.Bids = normalizeLevels(b.Levels[0])
	}
	if len(b.Levels) > 1 {
		book.Asks = normalizeLevels(b.Levels[1])
	}
	return book
}

func normalizeLevels(rows []wireLevel) []exchange.BookLevel {
	out := make([]exchange.BookLevel, 0, len(rows))
	for _, row := range rows {
		out = append(out, exchange.BookLevel{Price: row.Px, Size: row.Sz})
	}
	return out
}

type wireCandle struct {
	OpenMs  int64           `json:"t"`
	CloseMs int64           `json:"T"`
	Coin    string          `json:"s"`
	Itv     string          `json:"i"`
	Open    decimal.Decimal `json:"o"`
	Close   decimal.Decimal `json:"c"`
	High    decimal.Decimal `json:"h"`
	Low     decimal.Decimal `json:"l"`
	Volume  decimal.Decimal `json:"v"`
}

func (c wireCandle) normalize() exchange.Candle {
	return exchange.Candle{
		Symbol:    c.Coin,
		Interval:  c.Itv,
		Open:      c.Open,
		High:      c.High,
		Low:       c.Low,
		Close:     c.Close,
		Volume:    c.Volume,
		OpenTime:  time.UnixMilli(c.OpenMs),
		CloseTime: time.UnixMilli(c.CloseMs),
	}
}

type wireMeta struct {
	Universe []wireAsset `json:"universe"`
}

type wireAsset struct {
	Name        string `json:"name"`
	SzDecimals  int32  `json:"szDecimals"`
	MaxLeverage int    `json:"maxLeverage"`
}

func (a wireAsset) normalize() exchange.AssetMeta {
	meta := exchange.AssetMeta{
		Symbol:       a.Name,
		MaxLeverage:  a.MaxLeverage,
		SizeDecimals: a.SzDecimals,
	}
	// The venue pins maintenance margin at half the initial margin.
	if a.MaxLeverage > 0 {
		meta.MaintenanceMarginRate = decimal.NewFromInt(1).
			Div(decimal.NewFromInt(int64(2 * a.MaxLeverage)))
	}
	return meta
}

type wireUserState struct {
	AssetPositions []struct {
		Position wirePosition `json:"position"`
	} `json:"assetPositions"`
	MarginSummary struct {
		AccountValue    decimal.Decimal `json:"accountValue"`
		TotalMarginUsed decimal.Decimal `json:"totalMarginUsed"`
	} `json:"marginSummary"`
}

type wirePosition struct {
	Coin          string          `json:"coin"`
	Szi           decimal.Decimal `json:"szi"` // signed size, negative = short
	EntryPx       decimal.Decimal `json:"entryPx"`
	MarkPx        decimal.Decimal `json:"markPx"`
	UnrealizedPnl decimal.Decimal `json:"unrealizedPnl"`
	MarginUsed    decimal.Decimal `json:"marginUsed"`
	Leverage      struct {
		Value decimal.Decimal `json:"value"`
	} `json:"leverage"`
}

func (s wireUserState) normalize() exchange.UserState {
	out := exchange.UserState{
		AccountValue:    s.MarginSummary.AccountValue,
		TotalMarginUsed: s.MarginSummary.TotalMarginUsed,
	}
	for _, ap := range s.AssetPositions {
		p := ap.Position
		if p.Szi.IsZero() {
			continue
		}
		side := enum.PositionSideLong
		size := p.Szi
		if p.Szi.IsNegative() {
			side = enum.PositionSideShort
			size = p.Szi.Neg()
		}
		out.Positions = append(out.Positions, exchange.PositionSnapshot{
			Symbol:        p.Coin,
			Side:          side,
			Size:          size,
			EntryPrice:    p.EntryPx,
			MarkPrice:     p.MarkPx,
			Leverage:      p.Leverage.Value,
			UnrealizedPnl: p.UnrealizedPnl,
			MarginUsed:    p.MarginUsed,
		})
	}
	return out
}

type wireOpenOrder struct {
	Coin      string          `json:"coin"`
	Side      string          `json:"side"` // "B" bid, "A" ask
	LimitPx   decimal.Decimal `json:"limitPx"`
	Sz        decimal.Decimal `json:"sz"` // remaining
	OrigSz    decimal.Decimal `json:"origSz"`
	Oid       int64           `json:"oid"`
	Timestamp int64           `json:"timestamp"`
}

func (o wireOpenOrder) normalize() exchange.OpenOrder {
	return exchange.OpenOrder{
		ExchangeOrderID: strconv.FormatInt(o.Oid, 10),
		Symbol:          o.Coin,
		Side:            wireSide(o.Side),
		Price:           o.LimitPx,
		Size:            o.OrigSz,
		FilledSize:      o.OrigSz.Sub(o.Sz),
		Time:            time.UnixMilli(o.Timestamp),
	}
}

type wireFill struct {
	Coin     string          `json:"coin"`
	Px       decimal.Decimal `json:"px"`
	Sz       decimal.Decimal `json:"sz"`
	Side     string          `json:"side"`
	TimeMs   int64           `json:"time"`
	Oid      int64           `json:"oid"`
	Tid      int64           `json:"tid"`
	Fee      decimal.Decimal `json:"fee"`
	FeeToken string          `json:"feeToken"`
	Crossed  bool            `json:"crossed"` // taker when true
}

func (f wireFill) normalize() exchange.UserFill {
	return exchange.UserFill{
		ExchangeOrderID: strconv.FormatInt(f.Oid, 10),
		TradeID:         strconv.FormatInt(f.Tid, 10),
		Symbol:          f.Coin,
		Side:            wireSide(f.Side),
		Price:           f.Px,
		Size:            f.Sz,
		Fee:             f.Fee,
		FeeAsset:        f.FeeToken,
		IsMaker:         !f.Crossed,
		Time:            time.UnixMilli(f.TimeMs),
	}
}

type wireTrade struct {
	Coin   string          `json:"coin"`
	Side   string          `json:"side"`
	Px     decimal.Decimal `json:"px"`
	Sz     decimal.Decimal `json:"sz"`
	TimeMs int64           `json:"time"`
	Tid    int64           `json:"tid"`
}

func (t wireTrade) normalize() exchange.Trade {
	return exchange.Trade{
		TradeID: strconv.FormatInt(t.Tid, 10),
		Symbol:  t.Coin,
		Side:    wireSide(t.Side),
		Price:   t.Px,
		Size:    t.Sz,
		Time:    time.UnixMilli(t.TimeMs),
	}
}

func decimalFromWire(s string) (decimal.Decimal, error) {
	return decimal.NewFromString(s)
}

func formatOid(oid int64) string {
	return strconv.FormatInt(oid, 10)
}

func wireSide(s string) enum.OrderSide {
	if s == "B" {
		return enum.OrderSideBuy
	}
	return enum.OrderSideSell
}

func sideWire(s enum.OrderSide) string {
	if s == enum.OrderSideBuy {
		return "B"
	}
	return "A"
}

type orderAction struct {
	Type   string      `json:"type"`
	Orders []wireOrder `json:"orders,omitempty"`
	Coin   string      `json:"coin,omitempty"`
	Oid    int64       `json:"oid,omitempty"`
}

type wireOrder struct {
	Coin       string          `json:"coin"`
	IsBuy      bool            `json:"is_buy"`
	LimitPx    decimal.Decimal `json:"limit_px"`
	Sz         decimal.Decimal `json:"sz"`
	ReduceOnly bool            `json:"reduce_only"`
	OrderType  wireOrderType   `json:"order_type"`
	Cloid      string          `json:"cloid,omitempty"`
}

type wireOrderType struct {
	Limit *wireLimitType `json:"limit,omitempty"`
}

type wireLimitType struct {
	Tif string `json:"tif"` // Gtc, Ioc, Alo
}

func wireTif(t enum.TimeInForce, postOnly bool) string {
	if postOnly {
		return "Alo"
	}
	switch t {
	case enum.TimeInForceIOC:
		return "Ioc"
	case enum.TimeInForceALO:
		return "Alo"
	default:
		return "Gtc"
	}
}

type exchangeResponse struct {
	Status   string `json:"status"`
	Response struct {
		Type string `json:"type"`
		Data struct {
			Statuses []wireOrderStatus `json:"statuses"`
		} `json:"data"`
	} `json:"response"`
}

type wireOrderStatus struct {
	Resting *struct {
		Oid int64 `json:"oid"`
	} `json:"resting,omitempty"`
	Filled *struct {
		Oid     int64           `json:"oid"`
		TotalSz decimal.Decimal `json:"totalSz"`
		AvgPx   decimal.Decimal `json:"avgPx"`
	} `json:"filled,omitempty"`
	Error string `json:"error,omitempty"`
}
