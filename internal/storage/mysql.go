package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/go-sql-driver/mysql"

	"github.com/pfrederiksen/city-events/internal/event"
)

const createTableSQL = `CREATE TABLE IF NOT EXISTS city_events (
	target       VARCHAR(64)   NOT NULL,
	position     INT           NOT NULL,
	event_id     VARCHAR(32)   NOT NULL,
	event_name   VARCHAR(512)  NOT NULL,
	event_date   VARCHAR(10)   NOT NULL,
	event_time   VARCHAR(5)    NOT NULL,
	venue        VARCHAR(255)  NOT NULL,
	city         VARCHAR(64)   NOT NULL,
	category     VARCHAR(64)   NOT NULL,
	url          VARCHAR(1024) NOT NULL,
	platform     VARCHAR(32)   NOT NULL,
	status       VARCHAR(16)   NOT NULL,
	last_updated VARCHAR(19)   NOT NULL,
	PRIMARY KEY (target, event_id)
)`

const selectRowsSQL = `SELECT event_id, event_name, event_date, event_time, venue, city,
	category, url, platform, status, last_updated
	FROM city_events WHERE target = ? ORDER BY position`

const insertRowSQL = `INSERT INTO city_events (target, position, event_id, event_name,
	event_date, event_time, venue, city, category, url, platform, status, last_updated)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

// MySQLStore keeps datasets in the city_events table, keyed by target name
type MySQLStore struct {
	db *sql.DB
}

// NewMySQLStore connects to MySQL/MariaDB and creates the table if needed.
// Connection failures are reported as ErrUnavailable.
func NewMySQLStore(ctx context.Context, dsn string) (*MySQLStore, error) {
	cfg, err := mysql.ParseDSN(dsn)
	if err != nil {
		return nil, fmt.Errorf("parsing mysql dsn: %w", err)
	}

	connector, err := mysql.NewConnector(cfg)
	if err != nil {
		return nil, fmt.Errorf("creating mysql connector: %w", err)
	}
	db := sql.OpenDB(connector)

	// Configure connection pool settings
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("%w: pinging mysql: %v", ErrUnavailable, err)
	}
	if _, err := db.ExecContext(ctx, createTableSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating table: %w", err)
	}

	return &MySQLStore{db: db}, nil
}

func (s *MySQLStore) Name() string { return "mysql" }

// Close closes the connection pool
func (s *MySQLStore) Close() error {
	return s.db.Close()
}

func (s *MySQLStore) Load(ctx context.Context, target Target) (*event.Dataset, error) {
	rs, err := s.db.QueryContext(ctx, selectRowsSQL, target.Name())
	if err != nil {
		return nil, fmt.Errorf("%w: querying dataset: %v", ErrUnavailable, err)
	}
	defer rs.Close()

	rows := make([]Row, 0)
	for rs.Next() {
		var r Row
		if err := rs.Scan(&r.EventID, &r.EventName, &r.EventDate, &r.EventTime, &r.Venue, &r.City,
			&r.Category, &r.URL, &r.Platform, &r.Status, &r.LastUpdated); err != nil {
			return nil, fmt.Errorf("scanning row: %w", err)
		}
		rows = append(rows, r)
	}
	if err := rs.Err(); err != nil {
		return nil, fmt.Errorf("reading rows: %w", err)
	}

	return DatasetFromRows(rows), nil
}

// Save replaces all rows of target inside one transaction
func (s *MySQLStore) Save(ctx context.Context, target Target, dataset *event.Dataset) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%w: beginning transaction: %v", ErrUnavailable, err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, "DELETE FROM city_events WHERE target = ?", target.Name()); err != nil {
		return fmt.Errorf("clearing dataset: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, insertRowSQL)
	if err != nil {
		return fmt.Errorf("preparing insert: %w", err)
	}
	defer stmt.Close()

	for i, r := range Rows(dataset) {
		if _, err := stmt.ExecContext(ctx, target.Name(), i, r.EventID, r.EventName, r.EventDate, r.EventTime,
			r.Venue, r.City, r.Category, r.URL, r.Platform, r.Status, r.LastUpdated); err != nil {
			return fmt.Errorf("inserting %s: %w", r.EventID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing dataset: %w", err)
	}
	return nil
}
