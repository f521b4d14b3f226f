// Package traffic keeps the append-only history of per-client traffic
// deltas in duckdb and answers the aggregation queries built on it.
// Rows are deltas, never raw counters, so sums over any window are
// meaningful.
package traffic

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/marcboeker/go-duckdb"
)

type DB struct {
	*sql.DB
}

// New opens the history database at path, creating the schema when
// missing. An empty path opens an in-memory database.
func New(path string) (*DB, error) {
	db, err := sql.Open("duckdb", path)
	if err != nil {
		return nil, err
	}

	_, err = db.Exec(`CREATE SEQUENCE IF NOT EXISTS seq_traffic_id;`)
	if err != nil {
		return nil, err
	}

	_, err = db.Exec(`CREATE TABLE IF NOT EXISTS traffic_history (
		id INTEGER PRIMARY KEY,
		client_id INTEGER NOT NULL,
		bytes_received LONG NOT NULL,
		bytes_sent LONG NOT NULL,
		recorded_at TIMESTAMP NOT NULL
	)`)
	if err != nil {
		return nil, err
	}

	return &DB{db}, nil
}

func (db *DB) Close() error {
	return db.DB.Close()
}

// Insert appends one delta row. Zero-delta samples are dropped; they
// carry no information and would dominate the table on quiet networks.
func (db *DB) Insert(ctx context.Context, clientID uint, bytesReceived, bytesSent int64, recordedAt time.Time) error {
	if bytesReceived == 0 && bytesSent == 0 {
		return nil
	}
	_, err := db.ExecContext(ctx, `
	INSERT INTO traffic_history (id, client_id, bytes_received, bytes_sent, recorded_at)
	VALUES (nextval('seq_traffic_id'), ?, ?, ?, ?)`,
		int64(clientID), bytesReceived, bytesSent, recordedAt,
	)
	return err
}

// PurgeClient drops all history rows for a deleted client.
func (db *DB) PurgeClient(ctx context.Context, clientID uint) error {
	_, err := db.ExecContext(ctx, `DELETE FROM traffic_history WHERE client_id = ?`, int64(clientID))
	return err
}

// ClientTotal is the lifetime sum for one client.
type ClientTotal struct {
	ClientID      uint  `json:"client_id"`
	BytesReceived int64 `json:"bytes_received"`
	BytesSent     int64 `json:"bytes_sent"`
}

// TotalsByClient returns lifetime sums grouped by client, heaviest
// first. Clients with no recorded rows do not appear.
func (db *DB) TotalsByClient(ctx context.Context) ([]ClientTotal, error) {
	rows, err := db.QueryContext(ctx, `
	SELECT client_id, SUM(bytes_received) AS rx, SUM(bytes_sent) AS tx FROM traffic_history
	GROUP BY client_id
	ORDER BY (SUM(bytes_received) + SUM(bytes_sent)) DESC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var totals []ClientTotal
	for rows.Next() {
		var (
			id     int64
			rx, tx int64
		)
		if err := rows.Scan(&id, &rx, &tx); err != nil {
			return nil, err
		}
		totals = append(totals, ClientTotal{ClientID: uint(id), BytesReceived: rx, BytesSent: tx})
	}
	return totals, rows.Err()
}

// Total returns the lifetime sums for one client.
func (db *DB) Total(ctx context.Context, clientID uint) (bytesReceived, bytesSent int64, err error) {
	row := db.QueryRowContext(ctx, `
	SELECT COALESCE(SUM(bytes_received), 0), COALESCE(SUM(bytes_sent), 0) FROM traffic_history
	WHERE client_id = ?`, int64(clientID))
	if err := row.Scan(&bytesReceived, &bytesSent); err != nil {
		return 0, 0, err
	}
	return bytesReceived, bytesSent, nil
}

// Bucket selects the granularity of a Series query.
type Bucket string

const (
	BucketHour Bucket = "hour"
	BucketDay  Bucket = "day"
)

// SeriesPoint is one aggregated slot of a time series.
type SeriesPoint struct {
	Start         time.Time `json:"start"`
	BytesReceived int64     `json:"bytes_received"`
	BytesSent     int64     `json:"bytes_sent"`
}

// Series returns delta sums bucketed by hour or day since the given
// time, oldest first. A clientID of zero aggregates over all clients.
func (db *DB) Series(ctx context.Context, clientID uint, since time.Time, bucket Bucket) ([]SeriesPoint, error) {
	switch bucket {
	case BucketHour, BucketDay:
	default:
		return nil, fmt.Errorf("traffic: unknown bucket %q", bucket)
	}

	query := `
	SELECT date_trunc('` + string(bucket) + `', recorded_at) AS slot,
		SUM(bytes_received), SUM(bytes_sent) FROM traffic_history
	WHERE recorded_at >= ?`
	args := []any{since}
	if clientID != 0 {
		query += ` AND client_id = ?`
		args = append(args, int64(clientID))
	}
	query += `
	GROUP BY slot
	ORDER BY slot`

	stmt, err := db.Prepare(query)
	if err != nil {
		return nil, err
	}
	defer stmt.Close()

	rows, err := stmt.QueryContext(ctx, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var points []SeriesPoint
	for rows.Next() {
		var p SeriesPoint
		if err := rows.Scan(&p.Start, &p.BytesReceived, &p.BytesSent); err != nil {
			return nil, err
		}
		points = append(points, p)
	}
	return points, rows.Err()
}

// HourTotal is the combined volume seen during one hour of the day.
type HourTotal struct {
	Hour       int   `json:"hour"` // 0..23
	TotalBytes int64 `json:"total_bytes"`
}

// HourlyProfile returns usage summed by hour of day. A clientID of
// zero aggregates over all clients.
func (db *DB) HourlyProfile(ctx context.Context, clientID uint) ([]HourTotal, error) {
	query := `
	SELECT EXTRACT(hour FROM recorded_at) AS h,
		SUM(bytes_received + bytes_sent) FROM traffic_history`
	var args []any
	if clientID != 0 {
		query += `
	WHERE client_id = ?`
		args = append(args, int64(clientID))
	}
	query += `
	GROUP BY h
	ORDER BY h`

	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var totals []HourTotal
	for rows.Next() {
		var (
			hour  int64
			total int64
		)
		if err := rows.Scan(&hour, &total); err != nil {
			return nil, err
		}
		totals = append(totals, HourTotal{Hour: int(hour), TotalBytes: total})
	}
	return totals, rows.Err()
}

// WeekdayTotal is the combined volume seen on one day of the week.
type WeekdayTotal struct {
	Weekday    int   `json:"weekday"` // 0 = Sunday
	TotalBytes int64 `json:"total_bytes"`
}

// WeekdayProfile returns usage summed by day of week. A clientID of
// zero aggregates over all clients.
func (db *DB) WeekdayProfile(ctx context.Context, clientID uint) ([]WeekdayTotal, error) {
	query := `
	SELECT EXTRACT(dow FROM recorded_at) AS d,
		SUM(bytes_received + bytes_sent) FROM traffic_history`
	var args []any
	if clientID != 0 {
		query += `
	WHERE client_id = ?`
		args = append(args, int64(clientID))
	}
	query += `
	GROUP BY d
	ORDER BY d`

	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var totals []WeekdayTotal
	for rows.Next() {
		var (
			day   int64
			total int64
		)
		if err := rows.Scan(&day, &total); err != nil {
			return nil, err
		}
		totals = append(totals, WeekdayTotal{Weekday: int(day), TotalBytes: total})
	}
	return totals, rows.Err()
}
