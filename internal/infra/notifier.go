package infra

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"sync"
	"time"
)

const (
	telegramAPI          = "https://api.telegram.org"
	notifierQueueSize    = 64
	notifierSendTimeout  = 10 * time.Second
	notifierFlushTimeout = 15 * time.Second
)

// TelegramNotifier sends alerts to one chat. Notify never blocks: messages
// go to a bounded queue drained by a single sender goroutine, and are
// dropped when the queue is full.
type TelegramNotifier struct {
	baseURL    string
	token      string
	chatID     string
	prefix     string
	httpClient *http.Client
	logger     *slog.Logger

	queue      chan string
	wg         sync.WaitGroup
	mu         sync.RWMutex
	closed     bool
	enabled    bool
	cancelSend context.CancelFunc
	flushWait  time.Duration
}

// NewTelegramNotifier builds a notifier from config. It is a no-op when the
// bot token or chat id is missing.
func NewTelegramNotifier(cfg *Config) *TelegramNotifier {
	n := &TelegramNotifier{
		baseURL:    telegramAPI,
		token:      cfg.Telegram.BotToken,
		chatID:     cfg.Telegram.ChatID,
		prefix:     cfg.App.Name,
		httpClient: &http.Client{Timeout: notifierSendTimeout},
		logger:     slog.Default().With("module", "telegram"),
		queue:      make(chan string, notifierQueueSize),
		flushWait:  notifierFlushTimeout,
	}
	n.enabled = n.token != "" && n.chatID != ""
	return n
}

// Enabled reports whether messages will actually be sent.
func (n *TelegramNotifier) Enabled() bool {
	return n.enabled
}

// Start runs the sender until Close is called. Canceling ctx does not stop
// it: alerts raised during shutdown are still delivered by Close.
func (n *TelegramNotifier) Start(ctx context.Context) {
	if !n.enabled {
		n.logger.Info("Telegram disabled (no token or chat id)")
		return
	}
	sendCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	n.mu.Lock()
	n.cancelSend = cancel
	n.mu.Unlock()

	n.wg.Add(1)
	go n.run(sendCtx)
}

func (n *TelegramNotifier) run(ctx context.Context) {
	defer n.wg.Done()
	for msg := range n.queue {
		if ctx.Err() != nil {
			continue
		}
		if err := n.send(ctx, msg); err != nil {
			n.logger.Warn("Telegram send failed", slog.Any("error", err))
		}
	}
}

// Notify queues msg for delivery.
func (n *TelegramNotifier) Notify(msg string) {
	if !n.enabled {
		return
	}
	if n.prefix != "" {
		msg = n.prefix + ": " + msg
	}
	n.mu.RLock()
	defer n.mu.RUnlock()
	if n.closed {
		return
	}
	select {
	case n.queue <- msg:
	default:
		n.logger.Warn("Telegram queue full, dropping message", slog.String("msg", msg))
	}
}

// Close stops accepting messages, flushes what is queued and waits for
// the sender to exit. Messages still queued after the flush timeout are
// dropped.
func (n *TelegramNotifier) Close() {
	n.mu.Lock()
	if !n.closed {
		n.closed = true
		close(n.queue)
	}
	cancel := n.cancelSend
	n.mu.Unlock()

	done := make(chan struct{})
	go func() {
		n.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(n.flushWait):
		n.logger.Warn("Telegram flush timed out, dropping queued messages", slog.Int("queued", len(n.queue)))
		if cancel != nil {
			cancel()
		}
		<-done
	}
	if cancel != nil {
		cancel()
	}
}

func (n *TelegramNotifier) send(ctx context.Context, text string) error {
	q := url.Values{}
	q.Set("chat_id", n.chatID)
	q.Set("text", text)
	endpoint := fmt.Sprintf("%s/bot%s/sendMessage?%s", n.baseURL, n.token, q.Encode())

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return err
	}
	resp, err := n.httpClient.Do(req)
	if err != nil {
		// The error text contains the URL, which contains the token.
		return fmt.Errorf("sendMessage: request failed")
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("sendMessage: status %d", resp.StatusCode)
	}
	return nil
}
