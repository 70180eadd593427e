package redis

import (
	"bufio"
	"context"
	"fmt"
	"log/slog"
	"strings"

	goredis "github.com/redis/go-redis/v9"
	"golang.org/x/mod/semver"

	"github.com/xraph/strand"
)

// Option configures the Store.
type Option func(*Store)

// WithLogger sets a custom logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Store) { s.logger = l }
}

// Store invokes the atomic scripts over a Redis client.
type Store struct {
	client goredis.Cmdable
	logger *slog.Logger
}

// New creates a new Redis-backed store. The caller owns the Redis client
// lifecycle.
func New(client goredis.Cmdable, opts ...Option) *Store {
	s := &Store{client: client, logger: slog.Default()}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Client returns the underlying Redis client.
func (s *Store) Client() goredis.Cmdable { return s.client }

// Logger returns the store's logger.
func (s *Store) Logger() *slog.Logger { return s.logger }

// Ping verifies the Redis connection is alive.
func (s *Store) Ping(ctx context.Context) error {
	if s.client == nil {
		return strand.ErrNoClient
	}
	return s.client.Ping(ctx).Err()
}

// Load registers every script with the server so later EVALSHA calls,
// including ones queued inside MULTI, find them.
func (s *Store) Load(ctx context.Context) error {
	for _, c := range Commands() {
		if err := c.Script.Load(ctx, s.client).Err(); err != nil {
			return fmt.Errorf("strand/redis: load %s: %w", c.Name, err)
		}
	}
	return nil
}

// ServerVersion returns the redis_version reported by INFO.
func (s *Store) ServerVersion(ctx context.Context) (string, error) {
	info, err := s.client.Info(ctx, "server").Result()
	if err != nil {
		return "", fmt.Errorf("strand/redis: info: %w", err)
	}
	sc := bufio.NewScanner(strings.NewReader(info))
	for sc.Scan() {
		if v, ok := strings.CutPrefix(strings.TrimSpace(sc.Text()), "redis_version:"); ok {
			return v, nil
		}
	}
	return "", fmt.Errorf("strand/redis: info: redis_version missing")
}

// CheckVersion fails with strand.ErrUnsupportedVersion when the server is
// older than strand.MinRedisVersion.
func (s *Store) CheckVersion(ctx context.Context) error {
	v, err := s.ServerVersion(ctx)
	if err != nil {
		return err
	}
	if !VersionAtLeast(v, strand.MinRedisVersion) {
		return fmt.Errorf("%w: %s < %s", strand.ErrUnsupportedVersion, v, strand.MinRedisVersion)
	}
	return nil
}

// VersionAtLeast compares two dotted server versions.
func VersionAtLeast(have, want string) bool {
	h, w := canonical(have), canonical(want)
	if !semver.IsValid(h) {
		return false
	}
	return semver.Compare(h, w) >= 0
}

// canonical turns "7.2.4" or "7.2.4-rc1" into a semver string.
func canonical(v string) string {
	v = strings.TrimSpace(v)
	if !strings.HasPrefix(v, "v") {
		v = "v" + v
	}
	return semver.Canonical(v)
}
