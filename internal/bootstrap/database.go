package bootstrap

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/url"
	"strconv"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib" // pgx database/sql driver
	"github.com/redis/go-redis/v9"

	"github.com/kirbydesk/simplify-engine/config"
	"github.com/kirbydesk/simplify-engine/internal/data"
)

const connectTimeout = 5 * time.Second

// DatabaseConfig carries everything the connection helpers need.
type DatabaseConfig struct {
	DBConfig    config.DBConfig
	RedisConfig config.RedisConfig
	Logger      *slog.Logger
}

// ConnectDB opens the PostgreSQL pool and verifies it with a ping.
func ConnectDB(cfg DatabaseConfig) (*sql.DB, error) {
	db, err := sql.Open("pgx", postgresDSN(cfg.DBConfig))
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(4)
	db.SetConnMaxLifetime(5 * time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), connectTimeout)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		if closeErr := db.Close(); closeErr != nil {
			err = errors.Join(err, closeErr)
		}
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if cfg.Logger != nil {
		cfg.Logger.Info("database connected",
			"host", cfg.DBConfig.Host,
			"port", cfg.DBConfig.Port,
			"database", cfg.DBConfig.Name,
		)
	}
	return db, nil
}

// postgresDSN builds the connection string through url.URL so credentials
// with reserved characters survive intact.
func postgresDSN(c config.DBConfig) string {
	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(c.User, c.Password),
		Host:     net.JoinHostPort(c.Host, strconv.Itoa(c.Port)),
		Path:     "/" + c.Name,
		RawQuery: url.Values{"sslmode": []string{c.SSLMode}}.Encode(),
	}
	return u.String()
}

// ConnectRedis builds the Redis client configured in cfg and pings it.
//
//nolint:ireturn // redis.UniversalClient covers direct, sentinel and cluster modes.
func ConnectRedis(cfg DatabaseConfig) (redis.UniversalClient, error) {
	client, addr, err := buildRedisClient(cfg.RedisConfig)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(context.Background(), connectTimeout)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		if closeErr := client.Close(); closeErr != nil {
			err = errors.Join(err, closeErr)
		}
		return nil, fmt.Errorf("ping redis: %w", err)
	}

	if cfg.Logger != nil {
		cfg.Logger.Info("redis connected", "addr", redactRedisAddr(addr))
	}
	return client, nil
}

//nolint:ireturn // see ConnectRedis.
func buildRedisClient(cfg config.RedisConfig) (redis.UniversalClient, string, error) {
	switch {
	case cfg.UseCluster:
		addrs := trimAddrs(cfg.ClusterNodes)
		if len(addrs) == 0 {
			return nil, "", errors.New("redis cluster mode needs at least one node address")
		}
		return redis.NewClusterClient(&redis.ClusterOptions{
			Addrs:    addrs,
			Password: cfg.Password,
		}), "cluster:" + strings.Join(addrs, ","), nil

	case cfg.UseSentinel:
		if len(cfg.SentinelNodes) == 0 {
			return nil, "", errors.New("redis sentinel mode needs at least one sentinel address")
		}
		return redis.NewFailoverClient(&redis.FailoverOptions{
			MasterName:       cfg.SentinelMasterName,
			SentinelAddrs:    cfg.SentinelNodes,
			Password:         cfg.Password,
			SentinelPassword: cfg.SentinelPassword,
		}), "sentinel:" + cfg.SentinelMasterName, nil

	default:
		uri := strings.TrimSpace(cfg.URI)
		if uri == "" {
			return nil, "", errors.New("redis configuration needs a URI")
		}
		if strings.HasPrefix(uri, "redis://") || strings.HasPrefix(uri, "rediss://") {
			opt, err := redis.ParseURL(uri)
			if err != nil {
				return nil, "", fmt.Errorf("parse redis url: %w", err)
			}
			return redis.NewClient(opt), opt.Addr, nil
		}
		return redis.NewClient(&redis.Options{Addr: uri, Password: cfg.Password}), uri, nil
	}
}

func trimAddrs(raw []string) []string {
	out := make([]string, 0, len(raw))
	for _, a := range raw {
		if t := strings.TrimSpace(a); t != "" {
			out = append(out, t)
		}
	}
	return out
}

// redactRedisAddr strips userinfo so credentials never end up in logs.
func redactRedisAddr(addr string) string {
	if u, err := url.Parse(addr); err == nil && u.User != nil {
		u.User = url.User("*")
		return u.Redacted()
	}
	if i := strings.LastIndex(addr, "@"); i > -1 {
		return addr[i+1:]
	}
	return addr
}

// RunMigrations applies pending schema migrations.
func RunMigrations(ctx context.Context, db *sql.DB, logger *slog.Logger) error {
	if err := data.RunMigrations(ctx, db); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}
	if logger != nil {
		logger.InfoContext(ctx, "database migrations completed")
	}
	return nil
}
