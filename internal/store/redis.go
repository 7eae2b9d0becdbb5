package store

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/nhle/outreach/internal/model"
)

// appendScript records an entry only if its address is new to the
// ledger, keeping the hash and the ordering list in step.
var appendScript = redis.NewScript(`
if redis.call('HSETNX', KEYS[1], ARGV[1], ARGV[2]) == 1 then
	redis.call('RPUSH', KEYS[2], ARGV[1])
	return 1
end
return 0
`)

// RedisLedger implements Ledger on Redis. Each ledger kind is a hash of
// address to JSON entry plus a list preserving write order.
type RedisLedger struct {
	rdb    redis.UniversalClient
	prefix string
}

// NewRedisClient builds a client from the ledger configuration.
func NewRedisClient(cfg model.LedgerConfig) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
}

// NewRedisLedger wraps rdb and verifies the server is reachable.
func NewRedisLedger(ctx context.Context, rdb redis.UniversalClient, prefix string) (*RedisLedger, error) {
	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("connecting to redis: %w", err)
	}
	if prefix == "" {
		prefix = "outreach"
	}
	return &RedisLedger{rdb: rdb, prefix: prefix}, nil
}

func (l *RedisLedger) indexKey(kind model.LedgerKind) string {
	return fmt.Sprintf("%s:ledger:%s:index", l.prefix, kind)
}

func (l *RedisLedger) orderKey(kind model.LedgerKind) string {
	return fmt.Sprintf("%s:ledger:%s:order", l.prefix, kind)
}

// Addresses implements Ledger.
func (l *RedisLedger) Addresses(ctx context.Context, kind model.LedgerKind) (model.AddressSet, error) {
	keys, err := l.rdb.HKeys(ctx, l.indexKey(kind)).Result()
	if err != nil {
		return nil, fmt.Errorf("reading %s addresses: %w", kind, err)
	}
	return model.NewAddressSet(keys...), nil
}

// Records implements Ledger.
func (l *RedisLedger) Records(ctx context.Context, kind model.LedgerKind) ([]model.Record, error) {
	order, err := l.rdb.LRange(ctx, l.orderKey(kind), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("reading %s order: %w", kind, err)
	}
	if len(order) == 0 {
		return nil, nil
	}

	vals, err := l.rdb.HMGet(ctx, l.indexKey(kind), order...).Result()
	if err != nil {
		return nil, fmt.Errorf("reading %s entries: %w", kind, err)
	}

	out := make([]model.Record, 0, len(vals))
	for i, v := range vals {
		s, ok := v.(string)
		if !ok {
			continue
		}
		e, err := decodeEntry(kind, order[i], s)
		if err != nil {
			return nil, err
		}
		out = append(out, e.record())
	}
	return out, nil
}

// Contains implements Ledger.
func (l *RedisLedger) Contains(ctx context.Context, kind model.LedgerKind, addr string) (bool, error) {
	ok, err := l.rdb.HExists(ctx, l.indexKey(kind), model.NormalizeEmail(addr)).Result()
	if err != nil {
		return false, fmt.Errorf("checking %s ledger: %w", kind, err)
	}
	return ok, nil
}

// Append implements Ledger.
func (l *RedisLedger) Append(ctx context.Context, rec model.Record) (bool, error) {
	e, err := toEntry(rec)
	if err != nil {
		return false, err
	}
	payload, err := json.Marshal(e)
	if err != nil {
		return false, fmt.Errorf("encoding %s entry: %w", e.Kind, err)
	}

	keys := []string{l.indexKey(e.Kind), l.orderKey(e.Kind)}
	n, err := appendScript.Run(ctx, l.rdb, keys, e.Email, string(payload)).Int()
	if err != nil {
		return false, fmt.Errorf("%w: redis append %s: %w", ErrLedgerWrite, e.Kind, err)
	}
	return n == 1, nil
}

// Close closes the Redis client.
func (l *RedisLedger) Close() error {
	return l.rdb.Close()
}

func decodeEntry(kind model.LedgerKind, addr, payload string) (entry, error) {
	var e entry
	if err := json.Unmarshal([]byte(payload), &e); err != nil {
		return entry{}, fmt.Errorf("decoding %s entry for %s: %w", kind, addr, err)
	}
	e.Kind = kind
	if e.Email == "" {
		e.Email = addr
	}
	return e, nil
}
