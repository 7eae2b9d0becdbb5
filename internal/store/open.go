package store

import (
	"context"
	"fmt"

	"github.com/nhle/outreach/internal/model"
)

// Open builds the ledger backend selected in cfg.
func Open(ctx context.Context, cfg *model.AppConfig) (Ledger, error) {
	switch cfg.Ledger.Backend {
	case "", "csv":
		paths := make(map[model.LedgerKind]string, len(model.LedgerKinds))
		for _, kind := range model.LedgerKinds {
			paths[kind] = cfg.Files.LedgerPath(kind)
		}
		return NewCSVLedger(paths)
	case "sqlite":
		return NewSQLiteLedger(cfg.Ledger.SQLitePath)
	case "redis":
		rdb := NewRedisClient(cfg.Ledger)
		l, err := NewRedisLedger(ctx, rdb, cfg.Ledger.RedisPrefix)
		if err != nil {
			rdb.Close()
			return nil, err
		}
		return l, nil
	default:
		return nil, &model.ConfigError{Field: "ledger.backend", Message: fmt.Sprintf("unknown backend %q", cfg.Ledger.Backend)}
	}
}
