package dydx

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"ladder_go/internal/domain"
	"ladder_go/internal/event"
	"ladder_go/internal/infra"

	"github.com/gorilla/websocket"
)

// AccountQuerier is the keep-alive call made on every server heartbeat.
type AccountQuerier interface {
	QueryAccount(ctx context.Context) error
}

// Feed is the authenticated v3_accounts websocket subscription.
// Every message becomes one event on the sequencer inbox, numbered from a
// shared counter; delivery blocks rather than drops.
type Feed struct {
	url       string
	signer    *Signer
	heartbeat AccountQuerier
	inbox     chan<- event.Event
	seq       *uint64
	metrics   *infra.Metrics
	logger    *slog.Logger

	pingInterval time.Duration
	readTimeout  time.Duration

	conn      *websocket.Conn
	mu        sync.RWMutex
	writeMu   sync.Mutex
	connected bool
	cancel    context.CancelFunc
	wg        sync.WaitGroup

	closed    atomic.Bool
	closeOnce sync.Once
}

// NewFeed factory
func NewFeed(cfg *infra.Config, signer *Signer, heartbeat AccountQuerier, inbox chan<- event.Event, seq *uint64) *Feed {
	return &Feed{
		url:          cfg.DYDX.WSURL,
		signer:       signer,
		heartbeat:    heartbeat,
		inbox:        inbox,
		seq:          seq,
		metrics:      infra.GlobalMetrics,
		logger:       slog.Default().With("module", "dydx_feed"),
		pingInterval: time.Duration(cfg.Feed.PingIntervalSec) * time.Second,
		readTimeout:  time.Duration(cfg.Feed.ReadTimeoutSec) * time.Second,
	}
}

// Connect starts the connection loop in the background. The loop keeps
// reconnecting until ctx is canceled or Close is called.
func (w *Feed) Connect(ctx context.Context) error {
	if w.closed.Load() {
		return errors.New("feed closed")
	}
	ctx, cancel := context.WithCancel(ctx)

	w.mu.Lock()
	w.cancel = cancel
	w.mu.Unlock()

	w.wg.Add(1)
	go w.connectionLoop(ctx)
	return nil
}

func (w *Feed) connectionLoop(ctx context.Context) {
	defer w.wg.Done()
	retryCount := 0
	resubscribed := false
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		if err := w.connect(ctx); err != nil {
			w.logger.Warn("Feed connection failed", slog.Any("error", err), slog.Int("retry", retryCount))
			delay := infra.CalculateBackoff(retryCount)
			retryCount++
			select {
			case <-ctx.Done():
				return
			case <-time.After(delay):
			}
			continue
		}

		retryCount = 0
		if resubscribed {
			// Updates sent while we were away are gone; have the engine query its orders.
			if !w.push(ctx, event.NewReconcileEvent(event.NextSeq(w.seq), "feed resubscribed")) {
				w.closeConnection()
				return
			}
		}
		resubscribed = true

		connCtx, connCancel := context.WithCancel(ctx)
		w.wg.Add(1)
		go w.pingLoop(connCtx)
		w.readLoop(ctx)
		connCancel()
		w.closeConnection()

		if ctx.Err() == nil {
			w.metrics.RecordReconnect()
			w.logger.Warn("Feed disconnected, reconnecting")
		}
	}
}

func (w *Feed) connect(ctx context.Context) error {
	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, _, err := dialer.DialContext(ctx, w.url, nil)
	if err != nil {
		return err
	}

	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(w.readTimeout))
	})
	conn.SetPingHandler(func(appData string) error {
		conn.SetReadDeadline(time.Now().Add(w.readTimeout))
		// Runs on the read goroutine, which connectionLoop already counts in wg.
		w.wg.Add(1)
		go w.onHeartbeat(ctx)
		err := conn.WriteControl(websocket.PongMessage, []byte(appData), time.Now().Add(writeWait))
		if errors.Is(err, websocket.ErrCloseSent) {
			return nil
		}
		return err
	})

	w.mu.Lock()
	if w.closed.Load() {
		w.mu.Unlock()
		conn.Close()
		return errors.New("feed closed")
	}
	w.conn = conn
	w.connected = true
	w.mu.Unlock()
	w.metrics.IncrementConnections()

	if err := w.subscribe(); err != nil {
		w.closeConnection()
		return err
	}

	w.logger.Info("Feed connected", slog.String("url", w.url))
	return nil
}

// subscribe signs GET /ws/accounts with a fresh timestamp on every connect.
func (w *Feed) subscribe() error {
	ts := w.signer.Timestamp()
	req := subscribeRequest{
		Type:          "subscribe",
		Channel:       accountsChannel,
		AccountNumber: "0",
		APIKey:        w.signer.apiKey,
		Passphrase:    w.signer.passphrase,
		Timestamp:     ts,
		Signature:     w.signer.Sign(ts, "GET", wsAuthPath, ""),
	}
	b, err := json.Marshal(req)
	if err != nil {
		w.logger.Error("Failed to marshal subscribe request", slog.Any("error", err))
		return err
	}
	return w.threadSafeWrite(websocket.TextMessage, b)
}

// onHeartbeat runs outside the read loop so a slow REST call never delays
// order events.
func (w *Feed) onHeartbeat(ctx context.Context) {
	defer w.wg.Done()
	w.metrics.RecordHeartbeat()

	ctx, cancel := context.WithTimeout(ctx, writeWait)
	defer cancel()
	if err := w.heartbeat.QueryAccount(ctx); err != nil {
		w.logger.Warn("Heartbeat account query failed",
			slog.Bool("retriable", domain.IsRetriable(err)), slog.Any("error", err))
		return
	}
	w.logger.Debug("Heartbeat")
}

func (w *Feed) pingLoop(ctx context.Context) {
	defer w.wg.Done()
	if w.pingInterval <= 0 {
		return
	}
	ticker := time.NewTicker(w.pingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.mu.RLock()
			conn := w.conn
			w.mu.RUnlock()
			if conn == nil {
				return
			}
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				w.logger.Debug("Ping failed", slog.Any("error", err))
				return
			}
		}
	}
}

func (w *Feed) threadSafeWrite(msgType int, data []byte) error {
	w.writeMu.Lock()
	defer w.writeMu.Unlock()
	w.mu.RLock()
	defer w.mu.RUnlock()
	if w.conn == nil {
		return errors.New("no conn")
	}
	w.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return w.conn.WriteMessage(msgType, data)
}

func (w *Feed) readLoop(ctx context.Context) {
	w.mu.RLock()
	conn := w.conn
	w.mu.RUnlock()
	if conn == nil {
		return
	}

	for {
		conn.SetReadDeadline(time.Now().Add(w.readTimeout))
		_, msg, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() == nil && !w.closed.Load() {
				w.logger.Warn("Feed read failed", slog.Any("error", err))
			}
			return
		}

		ev := event.Decode(event.NextSeq(w.seq), msg)
		if !w.push(ctx, ev) {
			return
		}
	}
}

// push blocks until the sequencer accepts the event or the feed stops.
func (w *Feed) push(ctx context.Context, ev event.Event) bool {
	select {
	case w.inbox <- ev:
		return true
	case <-ctx.Done():
		return false
	}
}

func (w *Feed) closeConnection() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.conn != nil {
		w.conn.Close()
		w.conn = nil
		w.metrics.DecrementConnections()
	}
	w.connected = false
}

// IsConnected reports whether a subscribed connection is up.
func (w *Feed) IsConnected() bool {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.connected
}

// Close stops the feed for good. It is idempotent, does not wait for the
// background goroutines, and may be called from the event consumer.
func (w *Feed) Close() {
	w.closeOnce.Do(func() {
		w.closed.Store(true)
		w.mu.RLock()
		cancel := w.cancel
		w.mu.RUnlock()
		if cancel != nil {
			cancel()
		}
		w.closeConnection()
		w.logger.Info("Feed closed")
	})
}

// Disconnect closes the feed and waits for its goroutines to exit.
func (w *Feed) Disconnect() {
	w.Close()
	w.wg.Wait()
}
