package app

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"ladder_go/internal/domain"
	"ladder_go/internal/event"
	"ladder_go/internal/execution"
	"ladder_go/internal/infra"
	"ladder_go/internal/infra/dydx"
	"ladder_go/internal/infra/storage"
)

// Feed is the order subscription started once the engine is ready.
type Feed interface {
	domain.ExchangeWorker
	domain.FeedCloser
}

// Bootstrap orchestrates the application startup sequence
type Bootstrap struct {
	ConfigPath string

	Config   *infra.Config
	Journal  *storage.Storage
	States   *storage.FileStore
	Gateway  domain.Gateway
	Notifier *infra.TelegramNotifier

	// LadderChanged is set when the configured ladder differs from the one
	// recorded by the previous run.
	LadderChanged bool

	signer      *dydx.Signer
	client      *dydx.Client
	paper       *execution.PaperExecution
	releaseLock func()
}

// NewBootstrap creates a new Bootstrap instance
func NewBootstrap(configPath string) *Bootstrap {
	return &Bootstrap{ConfigPath: configPath}
}

// Initialize performs core system initialization (config, logger, storage,
// gateway, notifier).
func (b *Bootstrap) Initialize() error {
	slog.Info("🚀 Bootstrapping ladder...")

	// 1. Load Config
	cfg, err := infra.LoadConfig(b.ConfigPath)
	if err != nil {
		return err // Let main handle the error
	}
	b.Config = cfg

	// 2. Setup Logger
	logger := infra.NewLogger(cfg)
	slog.SetDefault(logger)

	// 3. Data directory + single instance lock
	if err := infra.EnsureDir(cfg.App.DataDir); err != nil {
		return fmt.Errorf("failed to create data dir: %w", err)
	}
	release, err := infra.CreateLockFile(cfg.App.DataDir)
	if err != nil {
		return err
	}
	b.releaseLock = release

	// 4. Journal (DB)
	journal, err := storage.NewStorage(cfg.JournalPath())
	if err != nil {
		b.Close()
		return err
	}
	b.Journal = journal
	slog.Info("✅ Journal initialized", slog.String("path", cfg.JournalPath()))

	changed, err := CheckLadder(journal, cfg.Ladder, cfg.DYDX.Market)
	if err != nil {
		slog.Warn("Ladder fingerprint check failed", slog.Any("error", err))
	}
	b.LadderChanged = changed

	// 5. State store
	b.States = storage.NewFileStore(cfg.StatePath())

	// 6. Gateway
	switch cfg.Gateway.Mode {
	case infra.GatewayModePaper:
		b.paper = execution.NewPaperExecution(cfg.DYDX.Market)
		b.Gateway = b.paper
		slog.Warn("⚠️ Paper gateway: no order leaves this process")
	default:
		b.signer = dydx.NewSigner(cfg.DYDX.APIKey, cfg.DYDX.APISecret, cfg.DYDX.APIPassphrase)
		orderSigner := dydx.NewSidecarSigner(cfg.DYDX.SignerURL, time.Duration(cfg.Gateway.TimeoutSec)*time.Second)
		b.client = dydx.NewClient(cfg, b.signer, orderSigner)
		b.Gateway = b.client
		slog.Info("✅ dYdX gateway ready", slog.String("host", cfg.DYDX.Host), slog.String("market", cfg.DYDX.Market))
	}

	// 7. Notifier
	b.Notifier = infra.NewTelegramNotifier(cfg)

	return nil
}

// NewFeed wires the order feed to the sequencer inbox. In paper mode the
// paper gateway publishes its own simulated updates and nil is returned.
func (b *Bootstrap) NewFeed(inbox chan<- event.Event, seq *uint64) Feed {
	if b.paper != nil {
		b.paper.Attach(inbox, seq)
		return nil
	}
	return dydx.NewFeed(b.Config, b.signer, b.client, inbox, seq)
}

// Close releases everything Initialize acquired.
func (b *Bootstrap) Close() {
	if b.Notifier != nil {
		b.Notifier.Close()
	}
	if b.Journal != nil {
		if err := b.Journal.Close(); err != nil {
			slog.Warn("Journal close failed", slog.Any("error", err))
		}
	}
	if b.releaseLock != nil {
		b.releaseLock()
		b.releaseLock = nil
	}
}

// CheckLadder compares the ladder fingerprint with the one stored by the
// previous run and records the current one. A changed ladder is reported,
// not rejected: the saved step ids may still be valid.
func CheckLadder(journal *storage.Storage, ladder domain.Ladder, market string) (bool, error) {
	current := ladder.Fingerprint()

	previous, err := journal.GetConfig(storage.KeyLadderFingerprint)
	if err != nil && !errors.Is(err, domain.ErrConfigNotFound) {
		return false, err
	}
	changed := err == nil && previous != current
	if changed {
		slog.Warn("⚠️ Ladder changed since the last run",
			slog.String("previous", previous), slog.String("current", current))
	}

	if err := journal.SaveConfig(storage.KeyLadderFingerprint, current); err != nil {
		return changed, err
	}
	if err := journal.SaveConfig(storage.KeyMarket, market); err != nil {
		return changed, err
	}
	return changed, nil
}
