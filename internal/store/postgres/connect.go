package postgres

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"
)

type Config struct {
	DSN string `yaml:"dsn"`
}

func (c Config) Validate() error {
	if strings.TrimSpace(c.DSN) == "" {
		return fmt.Errorf("postgres.dsn is required")
	}
	return nil
}

type pingFunc func(ctx context.Context, dsn string) error

func CheckConnectivity(ctx context.Context, dsn string) error {
	return checkConnectivity(ctx, dsn, defaultPing)
}

func checkConnectivity(ctx context.Context, dsn string, ping pingFunc) error {
	if dsn == "" {
		return fmt.Errorf("postgres dsn is empty")
	}
	return ping(ctx, dsn)
}

func defaultPing(ctx context.Context, dsn string) error {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return err
	}
	defer pool.Close()
	return pool.Ping(ctx)
}
