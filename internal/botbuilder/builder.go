// Package botbuilder wires config into a ready-to-run game manager.
package botbuilder

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/park285/gtp-ogs-bot/internal/archive"
	"github.com/park285/gtp-ogs-bot/internal/config"
	"github.com/park285/gtp-ogs-bot/internal/gamemgr"
	"github.com/park285/gtp-ogs-bot/internal/gtp"
	"github.com/park285/gtp-ogs-bot/internal/ogs"
	"github.com/park285/gtp-ogs-bot/internal/store"
)

type Deps struct {
	Manager   *gamemgr.Manager
	Engine    *gtp.Bridge
	Transport *ogs.Transport
	Store     *store.RedisStore
	Archive   archive.Repository

	closers []func() error
}

func New(ctx context.Context, cfg *config.AppConfig, logger *zap.Logger) (*Deps, error) {
	if cfg == nil {
		return nil, fmt.Errorf("nil config")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	path, args, err := EngineCommand(cfg)
	if err != nil {
		return nil, err
	}
	engine := gtp.New(path, args,
		gtp.WithLogger(logger.Named("engine")),
		gtp.WithQuitTimeout(cfg.EngineQuitTimeout),
	)

	client := ogs.NewClient(cfg.OGSBaseURL,
		ogs.WithAPIKey(cfg.OGSAPIKey),
		ogs.WithTimeout(10*time.Second),
	)
	socket := ogs.NewSocket(cfg.OGSWSURL, ogs.WithSocketLogger(logger.Named("socket")))
	transport := ogs.NewTransport(client, socket, ogs.Credentials{
		APIKey:   cfg.OGSAPIKey,
		Username: cfg.OGSUsername,
		Password: cfg.OGSPassword,
	}, logger.Named("ogs"))

	d := &Deps{Engine: engine, Transport: transport}
	opts := []gamemgr.Option{
		gamemgr.WithLogger(logger.Named("manager")),
		gamemgr.WithIdleInterval(cfg.IdleInterval),
		gamemgr.WithMoveTimeout(cfg.MoveTimeout),
		gamemgr.WithRetryPolicy(gamemgr.RetryPolicy{Attempts: cfg.MoveRetryAttempts, Backoff: cfg.MoveRetryBackoff}),
		gamemgr.WithChallenge(cfg.Challenge),
	}

	// Checkpoints (Redis optional)
	if cfg.RedisURL != "" {
		st, err := store.NewRedisStore(cfg.RedisURL, logger.Named("store"))
		if err != nil {
			return nil, fmt.Errorf("init session store: %w", err)
		}
		d.Store = st
		d.closers = append(d.closers, st.Close)
		opts = append(opts, gamemgr.WithStore(st))
	} else {
		logger.Info("session_store_disabled", zap.String("reason", "REDIS_URL not set"))
	}

	// Archive: PostgreSQL when configured, memory otherwise
	if cfg.DatabaseURL != "" {
		pctx, cancel := context.WithTimeout(ctx, 5*time.Second)
		repo, err := archive.Open(pctx, cfg.DatabaseURL)
		cancel()
		if err != nil {
			_ = d.Close()
			return nil, fmt.Errorf("init archive: %w", err)
		}
		d.Archive = repo
		d.closers = append(d.closers, repo.Close)
	} else {
		d.Archive = archive.NewMemoryRepository()
	}
	opts = append(opts, gamemgr.WithArchive(d.Archive))

	d.Manager = gamemgr.NewManager(transport, engine, opts...)
	return d, nil
}

// Close releases the store and archive connections. The engine and
// transport are owned by the manager's Run.
func (d *Deps) Close() error {
	var errs []error
	for i := len(d.closers) - 1; i >= 0; i-- {
		if err := d.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	d.closers = nil
	return errors.Join(errs...)
}

// EngineCommand resolves the engine executable and arguments for BOT_TYPE.
func EngineCommand(cfg *config.AppConfig) (string, []string, error) {
	switch strings.ToLower(cfg.BotType) {
	case config.BotTypeKataGo:
		if cfg.KataGoPath == "" {
			return "", nil, fmt.Errorf("KATAGO_PATH is required for katago engine")
		}
		args := gtp.KataGoArgs(gtp.KataGoOptions{
			ConfigPath:     cfg.KataGoConfig,
			ModelPath:      cfg.KataGoModel,
			HumanModelPath: cfg.KataGoHumanModel,
			Rank:           cfg.BotRank,
		})
		return cfg.KataGoPath, append(args, cfg.EngineArgs...), nil
	case config.BotTypeRandom:
		path := cfg.EnginePath
		if path == "" {
			path = "randomgtp"
		}
		return path, cfg.EngineArgs, nil
	case config.BotTypeGTP, "":
		if cfg.EnginePath == "" {
			return "", nil, fmt.Errorf("ENGINE_PATH is required for gtp engine")
		}
		return cfg.EnginePath, cfg.EngineArgs, nil
	default:
		return "", nil, fmt.Errorf("unknown bot type %q", cfg.BotType)
	}
}
