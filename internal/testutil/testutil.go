// Package testutil provides the optional-infrastructure test tier: helpers
// that connect to a local Postgres and Redis when available and skip the
// test otherwise. Set TEST_REQUIRE_DB / TEST_REQUIRE_REDIS (or
// TEST_REQUIRE_INFRA) in CI to turn the skips into failures.
package testutil

import (
	"context"
	"database/sql"
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib" // pgx database/sql driver
	"github.com/redis/go-redis/v9"

	"github.com/kirbydesk/simplify-engine/internal/migrate"
)

// TestingTB covers *testing.T and *testing.B.
type TestingTB interface {
	Helper()
	Skip(args ...interface{})
	Skipf(format string, args ...interface{})
	Fatal(args ...interface{})
	Fatalf(format string, args ...interface{})
	Logf(format string, args ...interface{})
}

// TestDBConfig locates the test database. Defaults target the local
// docker-compose test profile on port 55432; CI overrides via env.
type TestDBConfig struct {
	Host     string
	Port     string
	User     string
	Password string
	DBName   string
}

// DefaultTestDBConfig reads the TEST_DB_* environment with local defaults.
func DefaultTestDBConfig() TestDBConfig {
	return TestDBConfig{
		Host:     envOr("TEST_DB_HOST", "localhost"),
		Port:     envOr("TEST_DB_PORT", "55432"),
		User:     envOr("TEST_DB_USER", "simplify"),
		Password: envOr("TEST_DB_PASSWORD", "simplify"),
		DBName:   envOr("TEST_DB_NAME", "simplify"),
	}
}

func (c TestDBConfig) dsn() string {
	return fmt.Sprintf("postgres://%s:%s@%s/%s?sslmode=disable",
		c.User, c.Password, net.JoinHostPort(c.Host, c.Port), c.DBName)
}

// SkipIfNoTestDB skips (or fails, when required) unless the test database
// answers a ping.
func SkipIfNoTestDB(t TestingTB) {
	t.Helper()

	db, err := sql.Open("pgx", DefaultTestDBConfig().dsn())
	if err != nil {
		skipOrFailDB(t, err)
		return
	}
	defer closeQuietly(t, "test db probe", db)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		skipOrFailDB(t, err)
	}
}

func skipOrFailDB(t TestingTB, err error) {
	if requireDB() {
		t.Fatal("test database not available:", err)
	}
	t.Skip("test database not available:", err)
}

// SetupTestDB connects to the test database, applies the production
// migrations and clears all tables.
func SetupTestDB(t TestingTB) *sql.DB {
	t.Helper()
	SkipIfNoTestDB(t)

	db, err := sql.Open("pgx", DefaultTestDBConfig().dsn())
	if err != nil {
		t.Fatal("open test database:", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		t.Fatal("connect test database:", err)
	}
	if err := migrate.Run(ctx, db); err != nil {
		t.Fatal("migrate test database:", err)
	}

	CleanupTestDB(t, db)
	return db
}

// CleanupTestDB empties every application table. The schema has no foreign
// keys between the ledgers, so plain deletes in any order suffice.
func CleanupTestDB(t TestingTB, db *sql.DB) {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	tables := []string{
		"translation_jobs",
		"translation_cache",
		"budget_usage",
		"budget_settings",
		"variant_configs",
		"page_contents",
		"job_reports",
		"translation_stats",
	}
	for _, table := range tables {
		if _, err := db.ExecContext(ctx, "DELETE FROM "+table); err != nil {
			t.Fatalf("clean table %s: %v", table, err)
		}
	}
}

// TeardownTestDB clears and closes the database handle.
func TeardownTestDB(t TestingTB, db *sql.DB) {
	t.Helper()
	if db == nil {
		return
	}
	CleanupTestDB(t, db)
	if err := db.Close(); err != nil {
		t.Fatal("close test database:", err)
	}
}

// WithTestDB runs fn against a migrated, cleaned test database.
func WithTestDB(t TestingTB, fn func(*sql.DB)) {
	t.Helper()
	db := SetupTestDB(t)
	defer TeardownTestDB(t, db)
	fn(db)
}

// SetupTestRedis connects to a local test Redis, flushes the chosen DB and
// returns the client. Skips (or fails, when required) if none answers.
func SetupTestRedis(t TestingTB) *redis.Client {
	t.Helper()

	addr, ok := findTestRedis(t)
	if !ok {
		if requireRedis() {
			t.Fatal("test redis not available")
		}
		t.Skip("test redis not available")
	}

	client := redis.NewClient(&redis.Options{Addr: addr, DB: testRedisDB(t)})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		closeQuietly(t, "redis client", client)
		if requireRedis() {
			t.Fatalf("test redis not available at %s: %v", addr, err)
		}
		t.Skipf("test redis not available at %s: %v", addr, err)
	}
	client.FlushDB(ctx)

	if tc, ok := any(t).(interface{ Cleanup(func()) }); ok {
		tc.Cleanup(func() { closeQuietly(t, "redis client", client) })
	}
	return client
}

// findTestRedis probes REDIS_ADDR first, then the usual CI and local
// docker-compose addresses.
func findTestRedis(t TestingTB) (string, bool) {
	t.Helper()

	candidates := []string{"redis:6379", "localhost:6379", "localhost:56379"}
	if addr := os.Getenv("REDIS_ADDR"); addr != "" {
		candidates = []string{addr}
	}

	for _, addr := range candidates {
		client := redis.NewClient(&redis.Options{Addr: addr})
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		err := client.Ping(ctx).Err()
		cancel()
		closeQuietly(t, "redis probe", client)
		if err == nil {
			return addr, true
		}
		t.Logf("redis not reachable at %s: %v", addr, err)
	}
	return "", false
}

// testRedisDB selects the Redis DB index for tests, default 1 so a flush
// never touches DB 0.
func testRedisDB(t TestingTB) int {
	v := os.Getenv("TEST_REDIS_DB")
	if v == "" {
		return 1
	}
	i, err := strconv.Atoi(v)
	if err != nil || i < 0 {
		t.Logf("ignoring invalid TEST_REDIS_DB=%q", v)
		return 1
	}
	return i
}

func closeQuietly(t TestingTB, name string, closer interface{ Close() error }) {
	if err := closer.Close(); err != nil {
		t.Logf("close %s: %v", name, err)
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envBool(key string) bool {
	switch strings.ToLower(os.Getenv(key)) {
	case "1", "true", "yes", "y":
		return true
	}
	return false
}

func requireDB() bool    { return envBool("TEST_REQUIRE_DB") || envBool("TEST_REQUIRE_INFRA") }
func requireRedis() bool { return envBool("TEST_REQUIRE_REDIS") || envBool("TEST_REQUIRE_INFRA") }
