package hyperliquid

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/bytedance/sonic"
	"github.com/yanun0323/errors"

	"main/internal/exchange"
	"main/internal/model/enum"
	"main/pkg/exception"
)

const (
	_defaultBaseURL = "https://api.hyperliquid.xyz"
	_defaultWsURL   = "wss://api.hyperliquid.xyz/ws"

	_infoPath     = "/info"
	_exchangePath = "/exchange"

	_requestTimeout = 15 * time.Second
)

// Config carries the venue endpoints and credentials.
type Config struct {
	BaseURL string
	WsURL   string
	APIKey  string
}

func (c Config) withDefaults() Config {
	if c.BaseURL == "" {
		c.BaseURL = _defaultBaseURL
	}
	if c.WsURL == "" {
		c.WsURL = _defaultWsURL
	}
	return c
}

// Transport implements exchange.Transport against the venue's REST and
// websocket endpoints. Every call is a single attempt; the resilient
// exchange.Client wraps it.
type Transport struct {
	cfg    Config
	client *http.Client

	stream *stream
}

var _ exchange.Transport = (*Transport)(nil)

func NewTransport(ctx context.Context, cfg Config, client *http.Client) *Transport {
	cfg = cfg.withDefaults()
	if client == nil {
		client = &http.Client{}
	}

	return &Transport{
		cfg:    cfg,
		client: client,
		stream: newStream(ctx, cfg.WsURL),
	}
}

// Close tears down the push stream. REST needs no teardown.
func (t *Transport) Close() {
	t.stream.close()
}

func (t *Transport) post(ctx context.Context, path string, body, out any) error {
	payload, err := sonic.ConfigFastest.Marshal(body)
	if err != nil {
		return errors.Wrap(err, "marshal request")
	}

	ctx, cancel := context.WithTimeout(ctx, _requestTimeout)
	defer cancel()
	r, err := http.NewRequestWithContext(ctx, http.MethodPost, t.cfg.BaseURL+path, bytes.NewReader(payload))
	if err != nil {
		return errors.Wrap(err, "new request")
	}
	r.Header.Set("Content-Type", "application/json")
	if t.cfg.APIKey != "" {
		r.Header.Set("X-Api-Key", t.cfg.APIKey)
	}

	resp, err := t.client.Do(r)
	if err != nil {
		return errors.Wrap(err, "do request").With("path", path)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return &exception.StatusError{Code: resp.StatusCode, Body: string(raw)}
	}

	if out == nil {
		return nil
	}

	if err := sonic.ConfigFastest.NewDecoder(resp.Body).Decode(out); err != nil {
		return errors.Wrap(err, "decode response").With("path", path)
	}

	return nil
}

func (t *Transport) AllMids(ctx context.Context) (exchange.Mids, error) {
	var raw map[string]string
	if err := t.post(ctx, _infoPath, infoRequest{Type: "allMids"}, &raw); err != nil {
		return nil, err
	}

	return parseMids(raw)
}

func (t *Transport) OrderBook(ctx context.Context, symbol string) (exchange.OrderBook, error) {
	var raw wireBook
	if err := t.post(ctx, _infoPath, infoRequest{Type: "l2Book", Coin: symbol}, &raw); err != nil {
		return exchange.OrderBook{}, err
	}

	return raw.normalize(), nil
}

func (t *Transport) Candles(ctx context.Context, symbol, interval string, limit int) ([]exchange.Candle, error) {
	dur, err := intervalDuration(interval)
	if err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = 1
	}

	req := infoRequest{
		Type: "candleSnapshot",
		Req: &candleReq{
			Coin:      symbol,
			Interval:  interval,
			StartTime: time.Now().Add(-time.Duration(limit) * dur).UnixMilli(),
		},
	}

	var raw []wireCandle
	if err := t.post(ctx, _infoPath, req, &raw); err != nil {
		return nil, err
	}

	out := make([]exchange.Candle, 0, len(raw))
	for _, c := range raw {
		out = append(out, c.normalize())
	}
	return out, nil
}

func (t *Transport) Meta(ctx context.Context) ([]exchange.AssetMeta, error) {
	var raw wireMeta
	if err := t.post(ctx, _infoPath, infoRequest{Type: "meta"}, &raw); err != nil {
		return nil, err
	}

	out := make([]exchange.AssetMeta, 0, len(raw.Universe))
	for _, a := range raw.Universe {
		out = append(out, a.normalize())
	}
	return out, nil
}

func (t *Transport) UserState(ctx context.Context, userID string) (exchange.UserState, error) {
	var raw wireUserState
	if err := t.post(ctx, _infoPath, infoRequest{Type: "clearinghouseState", User: userID}, &raw); err != nil {
		return exchange.UserState{}, err
	}

	return raw.normalize(), nil
}

func (t *Transport) OpenOrders(ctx context.Context, userID string) ([]exchange.OpenOrder, error) {
	var raw []wireOpenOrder
	if err := t.post(ctx, _infoPath, infoRequest{Type: "openOrders", User: userID}, &raw); err != nil {
		return nil, err
	}

	out := make([]exchange.OpenOrder, 0, len(raw))
	for _, o := range raw {
		out = append(out, o.normalize())
	}
	return out, nil
}

func (t *Transport) UserFills(ctx context.Context, userID string) ([]exchange.UserFill, error) {
	var raw []wireFill
	if err := t.post(ctx, _infoPath, infoRequest{Type: "userFills", User: userID}, &raw); err != nil {
		return nil, err
	}

	out := make([]exchange.UserFill, 0, len(raw))
	for _, f := range raw {
		out = append(out, f.normalize())
	}
	return out, nil
}

func (t *Transport) PlaceOrder(ctx context.Context, req exchange.OrderRequest) (exchange.OrderAck, error) {
	order := wireOrder{
		Coin:       req.Symbol,
		IsBuy:      req.Side == enum.OrderSideBuy,
		LimitPx:    req.Price,
		Sz:         req.Size,
		ReduceOnly: req.ReduceOnly,
		Cloid:      req.ClientOrderID,
	}

	// Market orders go out as aggressive IOC limits; the caller already
	// filled Price from the book before reaching the transport.
	tif := wireTif(req.TimeInForce, req.PostOnly)
	if req.Type == enum.OrderTypeMarket {
		tif = "Ioc"
	}
	order.OrderType = wireOrderType{Limit: &wireLimitType{Tif: tif}}

	action := orderAction{Type: "order", Orders: []wireOrder{order}}

	var resp exchangeResponse
	if err := t.post(ctx, _exchangePath, action, &resp); err != nil {
		return exchange.OrderAck{}, err
	}

	return parseOrderAck(resp)
}

func (t *Transport) CancelOrder(ctx context.Context, userID, symbol, exchangeOrderID string) error {
	oid, err := strconv.ParseInt(exchangeOrderID, 10, 64)
	if err != nil {
		return exception.Validationf("exchangeOrderId", "not a numeric order id: %q", exchangeOrderID)
	}

	action := orderAction{Type: "cancel", Coin: symbol, Oid: oid}

	var resp exchangeResponse
	if err := t.post(ctx, _exchangePath, action, &resp); err != nil {
		return err
	}

	if resp.Status != "ok" {
		return errors.Wrap(exception.ErrInResponseError, "cancel order").
			With("status", resp.Status).
			With("oid", oid)
	}

	for _, st := range resp.Response.Data.Statuses {
		if st.Error != "" {
			return errors.Wrap(exception.ErrInResponseError, "cancel order").With("reason", st.Error)
		}
	}

	return nil
}

func (t *Transport) Subscribe(ctx context.Context, feed exchange.Feed, sink exchange.EventSink) (exchange.Unsubscribe, error) {
	return t.stream.subscribe(ctx, feed, sink)
}

func parseMids(raw map[string]string) (exchange.Mids, error) {
	mids := make(exchange.Mids, len(raw))
	for symbol, px := range raw {
		d, err := decimalFromWire(px)
		if err != nil {
			return nil, errors.Wrap(err, "parse mid").With("symbol", symbol)
		}
		mids[symbol] = d
	}
	return mids, nil
}

func parseOrderAck(resp exchangeResponse) (exchange.OrderAck, error) {
	if resp.Status != "ok" {
		return exchange.OrderAck{}, errors.Wrap(exception.ErrInResponseError, "place order").
			With("status", resp.Status)
	}

	statuses := resp.Response.Data.Statuses
	if len(statuses) == 0 {
		return exchange.OrderAck{}, errors.Wrap(exception.ErrInResponseError, "place order: empty statuses")
	}

	st := statuses[0]
	switch {
	case st.Error != "":
		return exchange.OrderAck{}, errors.Wrap(exception.ErrInResponseError, "place order").With("reason", st.Error)
	case st.Resting != nil:
		return exchange.OrderAck{
			ExchangeOrderID: strconv.FormatInt(st.Resting.Oid, 10),
			Resting:         true,
		}, nil
	case st.Filled != nil:
		return exchange.OrderAck{
			ExchangeOrderID: strconv.FormatInt(st.Filled.Oid, 10),
			FilledSize:      st.Filled.TotalSz,
			AvgPrice:        st.Filled.AvgPx,
		}, nil
	default:
		return exchange.OrderAck{}, errors.Wrap(exception.ErrInResponseError, "place order: empty status entry")
	}
}

func intervalDuration(interval string) (time.Duration, error) {
	switch interval {
	case "1m":
		return time.Minute, nil
	case "5m":
		return 5 * time.Minute, nil
	case "15m":
		return 15 * time.Minute, nil
	case "1h":
		return time.Hour, nil
	case "4h":
		return 4 * time.Hour, nil
	case "1d":
		return 24 * time.Hour, nil
	default:
		return 0, exception.Validationf("interval", "unsupported interval %q", interval)
	}
}
