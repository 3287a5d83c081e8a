package ledger

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/redis/go-redis/v9"

	"newswave/internal/config"
	"newswave/internal/nw"
)

// NewLedgerFromConfig creates a Ledger implementation based on the ledger config type.
func NewLedgerFromConfig(ctx context.Context, cfg config.LedgerConfig, clock nw.Clock, logger nw.Logger) (nw.Ledger, error) {
	switch cfg.Type {
	case "memory":
		return NewMemoryLedger(clock), nil
	case "sqlite":
		if cfg.DataDir == "" {
			return nil, fmt.Errorf("data_dir required for sqlite ledger")
		}
		if err := os.MkdirAll(cfg.DataDir, 0700); err != nil {
			return nil, fmt.Errorf("creating ledger data dir: %w", err)
		}
		l, err := NewSQLiteLedger(filepath.Join(cfg.DataDir, "ledger.db"), clock, logger)
		if err != nil {
			return nil, err
		}
		l.SetPollInterval(cfg.PollInterval.Duration)
		return l, nil
	case "redis":
		if cfg.RedisAddr == "" {
			return nil, fmt.Errorf("redis_addr required for redis ledger")
		}
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		if err := client.Ping(ctx).Err(); err != nil {
			client.Close()
			return nil, fmt.Errorf("connecting to redis at %s: %w", cfg.RedisAddr, err)
		}
		return NewRedisLedger(client, cfg.RedisPrefix, logger), nil
	case "ethereum":
		if cfg.EthRPCURL == "" || cfg.EthContract == "" {
			return nil, fmt.Errorf("eth_rpc_url and eth_contract required for ethereum ledger")
		}
		l, err := DialEthereumLedger(ctx, cfg.EthRPCURL, cfg.EthContract, logger)
		if err != nil {
			return nil, err
		}
		l.SetPollInterval(cfg.PollInterval.Duration)
		return l, nil
	default:
		return nil, fmt.Errorf("unknown ledger type: %s", cfg.Type)
	}
}
