package integration

import (
	"context"
	"fmt"
	"io"
	"log"
	"path/filepath"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/EllisVaughan/bastion/internal/database"
	"github.com/EllisVaughan/bastion/internal/models"
	"github.com/EllisVaughan/bastion/internal/repositories"
	"github.com/EllisVaughan/bastion/internal/risk"
	"github.com/EllisVaughan/bastion/pkg/auth"
)

// TestDB is a throwaway PostgreSQL instance with the schema applied. One per
// test binary; tests share it and truncate between runs.
type TestDB struct {
	Container  testcontainers.Container
	ConnString string
	Pool       *pgxpool.Pool
	DB         *database.DB
}

// SetupTestDatabase starts a postgres container and migrates it.
func SetupTestDatabase(ctx context.Context) (*TestDB, error) {
	container, err := postgres.RunContainer(ctx,
		testcontainers.WithImage("postgres:16-alpine"),
		postgres.WithDatabase("bastion"),
		postgres.WithUsername("postgres"),
		postgres.WithPassword("postgres"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("start postgres container: %w", err)
	}

	// From here on any failure must take the container down with it.
	fail := func(step string, err error) (*TestDB, error) {
		_ = container.Terminate(ctx)
		return nil, fmt.Errorf("%s: %w", step, err)
	}

	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		return fail("container connection string", err)
	}

	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return fail("create pool", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return fail("ping database", err)
	}

	if err := migrateUp(ctx, pool); err != nil {
		pool.Close()
		return fail("run migrations", err)
	}

	return &TestDB{
		Container:  container,
		ConnString: dsn,
		Pool:       pool,
		DB:         &database.DB{Pool: pool},
	}, nil
}

// migrateUp applies every goose migration to the container database. Goose
// wants a database/sql handle, so the pool config is adapted through stdlib.
func migrateUp(ctx context.Context, pool *pgxpool.Pool) error {
	dir, err := filepath.Abs("../../migrations")
	if err != nil {
		return fmt.Errorf("resolve migrations dir: %w", err)
	}

	goose.SetLogger(log.New(io.Discard, "", 0))

	sqlDB := stdlib.OpenDB(*pool.Config().ConnConfig)
	defer sqlDB.Close()

	return goose.UpContext(ctx, sqlDB, dir)
}

// Teardown closes the pool and terminates the container.
func (db *TestDB) Teardown(ctx context.Context) error {
	if db.Pool != nil {
		db.Pool.Close()
	}
	if db.Container == nil {
		return nil
	}
	return db.Container.Terminate(ctx)
}

// CleanupTables truncates everything so the next test starts clean.
// login_attempts is keyed by email rather than user id, so deleting users
// does not cascade into it; both get the truncate.
func (db *TestDB) CleanupTables(ctx context.Context) error {
	for _, table := range []string{"login_attempts", "users"} {
		if _, err := db.Pool.Exec(ctx, fmt.Sprintf("TRUNCATE TABLE %s CASCADE", table)); err != nil {
			return fmt.Errorf("truncate %s: %w", table, err)
		}
	}
	return nil
}

// SeedUser inserts a user with an empty trust profile
func SeedUser(ctx context.Context, db *database.DB, email, password string, verified bool) (*models.User, error) {
	hashedPassword, err := auth.HashPassword(password)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}

	return repositories.NewUserRepository(db).Create(ctx, &models.User{
		Email:         email,
		PasswordHash:  hashedPassword,
		EmailVerified: verified,
	})
}

// SeedTrustedUser inserts a verified user whose trust profile fully trusts the
// given context, so a login from that exact context scores zero
func SeedTrustedUser(ctx context.Context, db *database.DB, email, password string, lc risk.LoginContext) (*models.User, error) {
	hashedPassword, err := auth.HashPassword(password)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}

	return repositories.NewUserRepository(db).Create(ctx, &models.User{
		Email:         email,
		PasswordHash:  hashedPassword,
		EmailVerified: true,
		Trust: risk.TrustProfile{
			TrustedIPs:     []string{lc.IP},
			TrustedDevices: []string{lc.Device},
			KnownLocations: []risk.Coordinates{lc.Location},
			Baseline: risk.Baseline{
				TypingSpeed:       lc.TypingSpeed,
				TypicalLoginHours: []int{lc.LoginHour},
			},
		},
	})
}
