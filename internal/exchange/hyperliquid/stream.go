package hyperliquid

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/bytedance/sonic"
	"github.com/shopspring/decimal"
	"github.com/yanun0323/errors"
	"github.com/yanun0323/logs"
	"github.com/yanun0323/pkg/sys"
	"github.com/yanun0323/pkg/ws"

	"main/internal/exchange"
	"main/internal/model/enum"
	"main/internal/obs"
	"main/pkg/exception"
)

type wsRequest struct {
	Method       string           `json:"method"`
	Subscription wireSubscription `json:"subscription"`
}

type wireSubscription struct {
	Type     string `json:"type"`
	Coin     string `json:"coin,omitempty"`
	Interval string `json:"interval,omitempty"`
	User     string `json:"user,omitempty"`
}

type wsFrame struct {
	Channel string          `json:"channel"`
	Data    json.RawMessage `json:"data"`
}

type wireUserEvent struct {
	Fills        []wireFill        `json:"fills"`
	OrderUpdates []wireOrderUpdate `json:"orderUpdates"`
}

type wireOrderUpdate struct {
	Oid      int64           `json:"oid"`
	Coin     string          `json:"coin"`
	Status   string          `json:"status"`
	FilledSz decimal.Decimal `json:"filledSz"`
	TimeMs   int64           `json:"statusTimestamp"`
}

// stream owns the single websocket shared by every push subscription.
// The socket is created lazily on the first subscribe and recreated on the
// next subscribe after a drop; reconnection policy lives with the caller.
type stream struct {
	ctx context.Context
	url string
	seq *obs.SeqGenerator

	mu     sync.Mutex
	wss    *ws.WebSocket
	alive  bool
	closed bool
}

func newStream(ctx context.Context, url string) *stream {
	return &stream{
		ctx: ctx,
		url: url,
		seq: obs.NewSeqGenerator(0),
	}
}

func (s *stream) close() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.closed = true
	if s.wss != nil {
		s.wss.Close()
		s.wss = nil
		s.alive = false
	}
}

// socket returns the live socket, dialing a fresh one if the previous died.
func (s *stream) socket(ctx context.Context) (*ws.WebSocket, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, exception.ErrClosed
	}

	if s.alive {
		return s.wss, nil
	}

	wss := ws.New(s.ctx, s.url)
	if err := wss.Start(ctx); err != nil {
		return nil, errors.Wrap(err, "start wss")
	}

	s.wss = wss
	s.alive = true
	return wss, nil
}

// markDead flags the socket as gone so the next subscribe redials. Only the
// socket that actually died may clear the flag; a newer one stays live.
func (s *stream) markDead(wss *ws.WebSocket) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.wss == wss {
		s.alive = false
	}
}

func feedSubscription(feed exchange.Feed) (wireSubscription, error) {
	switch feed.Kind {
	case enum.FeedOrderBook:
		return wireSubscription{Type: "l2Book", Coin: feed.Symbol}, nil
	case enum.FeedTrades:
		return wireSubscription{Type: "trades", Coin: feed.Symbol}, nil
	case enum.FeedCandles:
		return wireSubscription{Type: "candle", Coin: feed.Symbol, Interval: feed.Interval}, nil
	case enum.FeedAllMids:
		return wireSubscription{Type: "allMids"}, nil
	case enum.FeedUserEvents:
		return wireSubscription{Type: "userEvents", User: feed.UserID}, nil
	default:
		return wireSubscription{}, errors.Wrap(exception.ErrUnknownFeedKind, string(feed.Kind))
	}
}

func (s *stream) subscribe(ctx context.Context, feed exchange.Feed, sink exchange.EventSink) (exchange.Unsubscribe, error) {
	sub, err := feedSubscription(feed)
	if err != nil {
		return nil, err
	}

	wss, err := s.socket(ctx)
	if err != nil {
		return nil, err
	}

	appendIntoRegister := true
	if err := wss.SendAndWait(ctx, ws.Sidecar{
		Sender: func(ctx context.Context, ws *ws.WebSocket) error {
			payload := wsRequest{Method: "subscribe", Subscription: sub}
			if err := ws.WriteJSON(payload); err != nil {
				return errors.Wrap(err, "write subscribe payload").With("payload", payload)
			}

			return nil
		},
		Waiter: func(ctx context.Context, m ws.Message) (bool, error) {
			frame, ok := ws.ReadMessage[wsFrame](m)
			if !ok || frame.Channel != "subscriptionResponse" {
				return false, nil
			}

			return true, nil
		},
	}, appendIntoRegister); err != nil {
		return nil, errors.Wrap(err, "send and wait")
	}

	ch, cancel := wss.Subscribe()

	go func() {
		defer cancel()
		for {
			select {
			case <-sys.Shutdown():
				return
			case <-ctx.Done():
				return
			case m, ok := <-ch:
				if !ok {
					s.markDead(wss)
					sink.OnDown(exception.ErrConnectionClose)
					return
				}

				frame, ok := ws.ReadMessage[wsFrame](m)
				if !ok {
					continue
				}

				ev, ok := s.normalizeFrame(feed, frame)
				if !ok {
					continue
				}

				sink.OnEvent(ev)
			}
		}
	}()

	unsubscribe := func() {
		payload := wsRequest{Method: "unsubscribe", Subscription: sub}
		if err := wss.WriteJSON(payload); err != nil {
			logs.Warnf("write unsubscribe payload, err: %+v", err)
		}
		cancel()
	}

	return unsubscribe, nil
}

// normalizeFrame filters the shared message stream down to this feed and
// converts the wire payload. Returns false for frames owned by other feeds.
func (s *stream) normalizeFrame(feed exchange.Feed, frame wsFrame) (exchange.Event, bool) {
	ev := exchange.Event{
		Kind:     feed.Kind,
		Symbol:   feed.Symbol,
		Interval: feed.Interval,
		UserID:   feed.UserID,
		Time:     time.Now(),
	}

	switch feed.Kind {
	case enum.FeedOrderBook:
		if frame.Channel != "l2Book" {
			return ev, false
		}

		var raw wireBook
		if err := sonic.ConfigFastest.Unmarshal(frame.Data, &raw); err != nil || raw.Coin != feed.Symbol {
			return ev, false
		}

		book := raw.normalize()
		ev.Book = &book
	case enum.FeedTrades:
		if frame.Channel != "trades" {
			return ev, false
		}

		var raw []wireTrade
		if err := sonic.ConfigFastest.Unmarshal(frame.Data, &raw); err != nil {
			return ev, false
		}

		trades := make([]exchange.Trade, 0, len(raw))
		for _, t := range raw {
			if t.Coin != feed.Symbol {
				continue
			}
			trades = append(trades, t.normalize())
		}
		if len(trades) == 0 {
			return ev, false
		}

		ev.Trades = trades
	case enum.FeedCandles:
		if frame.Channel != "candle" {
			return ev, false
		}

		var raw wireCandle
		if err := sonic.ConfigFastest.Unmarshal(frame.Data, &raw); err != nil || raw.Coin != feed.Symbol || raw.Itv != feed.Interval {
			return ev, false
		}

		candle := raw.normalize()
		ev.Candle = &candle
	case enum.FeedAllMids:
		if frame.Channel != "allMids" {
			return ev, false
		}

		var raw struct {
			Mids map[string]string `json:"mids"`
		}
		if err := sonic.ConfigFastest.Unmarshal(frame.Data, &raw); err != nil {
			return ev, false
		}

		mids, err := parseMids(raw.Mids)
		if err != nil {
			return ev, false
		}

		ev.Mids = mids
	case enum.FeedUserEvents:
		if frame.Channel != "userEvents" {
			return ev, false
		}

		var raw wireUserEvent
		if err := sonic.ConfigFastest.Unmarshal(frame.Data, &raw); err != nil {
			return ev, false
		}

		user := exchange.UserEvent{UserID: feed.UserID, Time: ev.Time}
		for _, f := range raw.Fills {
			user.Fills = append(user.Fills, f.normalize())
		}
		for _, u := range raw.OrderUpdates {
			user.OrderUpdates = append(user.OrderUpdates, exchange.OrderStatusUpdate{
				ExchangeOrderID: formatOid(u.Oid),
				Symbol:          u.Coin,
				Status:          u.Status,
				FilledSize:      u.FilledSz,
				Time:            time.UnixMilli(u.TimeMs),
			})
		}
		if len(user.Fills) == 0 && len(user.OrderUpdates) == 0 {
			return ev, false
		}

		ev.User = &user
	default:
		return ev, false
	}

	ev.Seq = s.seq.Next()
	return ev, true
}
