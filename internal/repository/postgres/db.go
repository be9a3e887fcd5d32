package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib" // Драйвер Postgres
)

// PoolSettings параметры пула соединений
type PoolSettings struct {
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// DB общее подключение для всех репозиториев
type DB struct {
	db *sql.DB
}

// Open открывает пул и проверяет доступность базы
func Open(ctx context.Context, dsn string, ps PoolSettings) (*DB, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres: open: %w", err)
	}
	if ps.MaxOpenConns <= 0 {
		ps.MaxOpenConns = 25
	}
	if ps.MaxIdleConns <= 0 {
		ps.MaxIdleConns = ps.MaxOpenConns
	}
	if ps.ConnMaxLifetime <= 0 {
		ps.ConnMaxLifetime = 5 * time.Minute
	}
	db.SetMaxOpenConns(ps.MaxOpenConns)
	db.SetMaxIdleConns(ps.MaxIdleConns)
	db.SetConnMaxLifetime(ps.ConnMaxLifetime)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("postgres: ping: %w", err)
	}
	return &DB{db: db}, nil
}

// Ping для RUN_DIAGNOSTICS
func (d *DB) Ping(ctx context.Context) error {
	return d.db.PingContext(ctx)
}

func (d *DB) Close() error {
	return d.db.Close()
}

// valuesClause "($1, $2), ($3, $4)" для пакетной вставки rows строк по cols колонок
func valuesClause(rows, cols int) string {
	var b strings.Builder
	for i := 0; i < rows; i++ {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteByte('(')
		for j := 0; j < cols; j++ {
			if j > 0 {
				b.WriteString(", ")
			}
			fmt.Fprintf(&b, "$%d", i*cols+j+1)
		}
		b.WriteByte(')')
	}
	return b.String()
}
