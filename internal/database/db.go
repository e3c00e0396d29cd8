package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/go-sql-driver/mysql"
)

// Open connects to MySQL and verifies the connection.
func Open(user, pass, host, port, name string) (*sql.DB, error) {
	auth := user
	if pass != "" {
		auth = fmt.Sprintf("%s:%s", user, pass)
	}
	// parseTime=true -> DATETIME -> time.Time | loc=UTC keeps times consistent
	dsn := fmt.Sprintf("%s@tcp(%s:%s)/%s?charset=utf8mb4&parseTime=true&loc=UTC",
		auth, host, port, name)

	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, err
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(25)
	db.SetConnMaxLifetime(30 * time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		return nil, err
	}
	return db, nil
}

var schema = []string{
	`CREATE TABLE IF NOT EXISTS events (
        id                 VARCHAR(64)     NOT NULL PRIMARY KEY,
        title              VARCHAR(255)    NOT NULL,
        venue              VARCHAR(255)    NOT NULL,
        starts_at          DATETIME        NOT NULL,
        max_seats_per_hold INT             NOT NULL,
        hold_duration_ms   BIGINT          NOT NULL,
        seats              JSON            NOT NULL,
        version            BIGINT UNSIGNED NOT NULL DEFAULT 0,
        created_at         DATETIME        NOT NULL
    ) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,
	`CREATE TABLE IF NOT EXISTS bookings (
        id                 CHAR(36)     NOT NULL PRIMARY KEY,
        event_id           VARCHAR(64)  NOT NULL,
        user_id            VARCHAR(128) NOT NULL,
        seat_ids           JSON         NOT NULL,
        total_amount_cents INT UNSIGNED NOT NULL,
        metadata           JSON         NOT NULL,
        created_at         DATETIME     NOT NULL,
        KEY idx_bookings_user (user_id, created_at),
        CONSTRAINT fk_bookings_event FOREIGN KEY (event_id) REFERENCES events (id)
    ) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,
}

// EnsureSchema creates the tables used by the event repository when they
// do not exist yet.
func EnsureSchema(ctx context.Context, db *sql.DB) error {
	for _, stmt := range schema {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("ensure schema: %w", err)
		}
	}
	return nil
}
