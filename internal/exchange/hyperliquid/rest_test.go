package hyperliquid

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/bytedance/sonic"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"main/internal/exchange"
	"main/internal/model/enum"
	"main/pkg/exception"
)

func newTestTransport(t *testing.T, handler http.HandlerFunc) *Transport {
	t.Helper()

	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	return NewTransport(t.Context(), Config{BaseURL: srv.URL}, srv.Client())
}

func decodeInfoRequest(t *testing.T, r *http.Request) infoRequest {
	t.Helper()

	raw, err := io.ReadAll(r.Body)
	require.NoError(t, err)

	var req infoRequest
	require.NoError(t, sonic.ConfigFastest.Unmarshal(raw, &req))
	return req
}

func TestAllMids(t *testing.T) {
	tr := newTestTransport(t, func(w http.ResponseWriter, r *http.Request) {
		req := decodeInfoRequest(t, r)
		assert.Equal(t, "allMids", req.Type)

		_, _ = w.Write([]byte(`{"BTC":"64000.5","ETH":"3200.25"}`))
	})

	mids, err := tr.AllMids(t.Context())
	require.NoError(t, err)
	require.Len(t, mids, 2)
	assert.True(t, mids["BTC"].Equal(decimal.RequireFromString("64000.5")))
	assert.True(t, mids["ETH"].Equal(decimal.RequireFromString("3200.25")))
}

func TestOrderBookNormalizesLevels(t *testing.T) {
	tr := newTestTransport(t, func(w http.ResponseWriter, r *http.Request) {
		req := decodeInfoRequest(t, r)
		assert.Equal(t, "l2Book", req.Type)
		assert.Equal(t, "BTC", req.Coin)

		_, _ = w.Write([]byte(`{
			"coin":"BTC","time":1700000000000,
			"levels":[
				[{"px":"63999.0","sz":"1.5","n":3},{"px":"63998.5","sz":"0.2","n":1}],
				[{"px":"64001.0","sz":"2.0","n":2}]
			]
		}`))
	})

	book, err := tr.OrderBook(t.Context(), "BTC")
	require.NoError(t, err)
	assert.Equal(t, "BTC", book.Symbol)
	require.Len(t, book.Bids, 2)
	require.Len(t, book.Asks, 1)
	assert.True(t, book.Bids[0].Price.Equal(decimal.RequireFromString("63999.0")))
	assert.True(t, book.Asks[0].Size.Equal(decimal.RequireFromString("2.0")))
}

func TestUserStateSplitsSides(t *testing.T) {
	tr := newTestTransport(t, func(w http.ResponseWriter, r *http.Request) {
		req := decodeInfoRequest(t, r)
		assert.Equal(t, "clearinghouseState", req.Type)
		assert.Equal(t, "0xabc", req.User)

		_, _ = w.Write([]byte(`{
			"assetPositions":[
				{"position":{"coin":"BTC","szi":"0.5","entryPx":"60000","markPx":"64000","unrealizedPnl":"2000","marginUsed":"3000","leverage":{"value":"10"}}},
				{"position":{"coin":"ETH","szi":"-2","entryPx":"3300","markPx":"3200","unrealizedPnl":"200","marginUsed":"660","leverage":{"value":"10"}}},
				{"position":{"coin":"SOL","szi":"0","entryPx":"0","markPx":"0","unrealizedPnl":"0","marginUsed":"0","leverage":{"value":"1"}}}
			],
			"marginSummary":{"accountValue":"10000","totalMarginUsed":"3660"}
		}`))
	})

	state, err := tr.UserState(t.Context(), "0xabc")
	require.NoError(t, err)
	require.Len(t, state.Positions, 2, "flat positions must be dropped")

	assert.Equal(t, enum.PositionSideLong, state.Positions[0].Side)
	assert.True(t, state.Positions[0].Size.Equal(decimal.RequireFromString("0.5")))
	assert.Equal(t, enum.PositionSideShort, state.Positions[1].Side)
	assert.True(t, state.Positions[1].Size.Equal(decimal.NewFromInt(2)), "short size must be positive")
	assert.True(t, state.AccountValue.Equal(decimal.NewFromInt(10000)))
}

func TestUserFillsMakerFlag(t *testing.T) {
	tr := newTestTransport(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`[
			{"coin":"BTC","px":"64000","sz":"0.1","side":"B","time":1700000000000,"oid":77,"tid":901,"fee":"0.32","feeToken":"USDC","crossed":true},
			{"coin":"BTC","px":"64010","sz":"0.2","side":"A","time":1700000001000,"oid":78,"tid":902,"fee":"0.12","feeToken":"USDC","crossed":false}
		]`))
	})

	fills, err := tr.UserFills(t.Context(), "0xabc")
	require.NoError(t, err)
	require.Len(t, fills, 2)

	assert.Equal(t, "77", fills[0].ExchangeOrderID)
	assert.Equal(t, "901", fills[0].TradeID)
	assert.Equal(t, enum.OrderSideBuy, fills[0].Side)
	assert.False(t, fills[0].IsMaker)
	assert.True(t, fills[1].IsMaker)
}

func TestMetaMaintenanceMargin(t *testing.T) {
	tr := newTestTransport(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"universe":[{"name":"BTC","szDecimals":5,"maxLeverage":50}]}`))
	})

	metas, err := tr.Meta(t.Context())
	require.NoError(t, err)
	require.Len(t, metas, 1)
	assert.Equal(t, 50, metas[0].MaxLeverage)
	assert.True(t, metas[0].MaintenanceMarginRate.Equal(decimal.RequireFromString("0.01")))
}

func TestPlaceOrderResting(t *testing.T) {
	tr := newTestTransport(t, func(w http.ResponseWriter, r *http.Request) {
		raw, err := io.ReadAll(r.Body)
		require.NoError(t, err)

		var action orderAction
		require.NoError(t, sonic.ConfigFastest.Unmarshal(raw, &action))
		require.Len(t, action.Orders, 1)
		assert.True(t, action.Orders[0].IsBuy)
		assert.Equal(t, "Gtc", action.Orders[0].OrderType.Limit.Tif)

		_, _ = w.Write([]byte(`{"status":"ok","response":{"type":"order","data":{"statuses":[{"resting":{"oid":4242}}]}}}`))
	})

	ack, err := tr.PlaceOrder(t.Context(), exchange.OrderRequest{
		Symbol:      "BTC",
		Side:        enum.OrderSideBuy,
		Type:        enum.OrderTypeLimit,
		Price:       decimal.NewFromInt(64000),
		Size:        decimal.RequireFromString("0.1"),
		TimeInForce: enum.TimeInForceGTC,
	})
	require.NoError(t, err)
	assert.Equal(t, "4242", ack.ExchangeOrderID)
	assert.True(t, ack.Resting)
	assert.True(t, ack.FilledSize.IsZero())
}

func TestPlaceOrderImmediateFill(t *testing.T) {
	tr := newTestTransport(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"status":"ok","response":{"type":"order","data":{"statuses":[{"filled":{"oid":4243,"totalSz":"0.1","avgPx":"64005.5"}}]}}}`))
	})

	ack, err := tr.PlaceOrder(t.Context(), exchange.OrderRequest{
		Symbol: "BTC",
		Side:   enum.OrderSideBuy,
		Type:   enum.OrderTypeMarket,
		Price:  decimal.NewFromInt(64100),
		Size:   decimal.RequireFromString("0.1"),
	})
	require.NoError(t, err)
	assert.Equal(t, "4243", ack.ExchangeOrderID)
	assert.False(t, ack.Resting)
	assert.True(t, ack.AvgPrice.Equal(decimal.RequireFromString("64005.5")))
}

func TestPlaceOrderVenueRejection(t *testing.T) {
	tr := newTestTransport(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"status":"ok","response":{"type":"order","data":{"statuses":[{"error":"Insufficient margin"}]}}}`))
	})

	_, err := tr.PlaceOrder(t.Context(), exchange.OrderRequest{Symbol: "BTC", Side: enum.OrderSideBuy})
	require.ErrorIs(t, err, exception.ErrInResponseError)
}

func TestNon2xxReturnsStatusError(t *testing.T) {
	tr := newTestTransport(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "rate limited", http.StatusTooManyRequests)
	})

	_, err := tr.AllMids(t.Context())
	require.Error(t, err)
	assert.Equal(t, http.StatusTooManyRequests, exception.StatusCode(err))
}

func TestCancelOrderRejectsNonNumericID(t *testing.T) {
	tr := newTestTransport(t, func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("transport must not hit the wire for an invalid id")
	})

	err := tr.CancelOrder(t.Context(), "0xabc", "BTC", "not-a-number")
	require.Error(t, err)
	assert.True(t, exception.IsValidation(err))
}
