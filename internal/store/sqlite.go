package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"

	"github.com/lox/climateapi/internal/dateutil"
	"github.com/lox/climateapi/internal/metrics"
	"github.com/lox/climateapi/internal/models"

	_ "modernc.org/sqlite"
)

// ErrNoData is returned when the measurement table holds no rows.
var ErrNoData = errors.New("no measurements")

type Store struct {
	db     *sql.DB
	logger *zap.Logger
}

type Options struct {
	Path         string
	MaxOpenConns int
	// MaxIdleConns of zero keeps the database/sql default.
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	// OpenRetries is the number of extra attempts made to reach the database
	// before Open gives up.
	OpenRetries uint64
	Logger      *zap.Logger
}

func New(db *sql.DB, logger *zap.Logger) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{db: db, logger: logger}
}

// DSN builds a read-only SQLite URI for path. The service never writes, so
// the database is opened with mode=ro and is never created if missing.
func DSN(path string) string {
	return "file:" + path + "?mode=ro&_pragma=busy_timeout(5000)"
}

// Open connects to the database at opts.Path and checks that it carries the
// measurement and station tables.
func Open(ctx context.Context, opts Options) (*Store, error) {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	db, err := sql.Open("sqlite", DSN(opts.Path))
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if opts.MaxOpenConns > 0 {
		db.SetMaxOpenConns(opts.MaxOpenConns)
	}
	if opts.MaxIdleConns > 0 {
		db.SetMaxIdleConns(opts.MaxIdleConns)
	}
	if opts.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(opts.ConnMaxLifetime)
	}

	b := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), opts.OpenRetries), ctx)
	ping := func() error { return db.PingContext(ctx) }
	notify := func(err error, next time.Duration) {
		logger.Warn("database not reachable, retrying",
			zap.String("path", opts.Path), zap.Duration("next", next), zap.Error(err))
	}
	if err := backoff.RetryNotify(ping, b, notify); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database %s: %w", opts.Path, err)
	}

	s := New(db, logger)
	if err := s.VerifySchema(ctx); err != nil {
		db.Close()
		return nil, err
	}
	logger.Info("database opened", zap.String("path", opts.Path))
	return s, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// withConn acquires a dedicated connection for the duration of fn and always
// returns it to the pool, whatever fn does.
func (s *Store) withConn(ctx context.Context, fn func(conn *sql.Conn) error) error {
	conn, err := s.db.Conn(ctx)
	if err != nil {
		return fmt.Errorf("acquire connection: %w", err)
	}
	defer conn.Close()
	return fn(conn)
}

func observe(query string, start time.Time, err error) {
	metrics.DBQueryDuration.WithLabelValues(query).Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.DBQueryErrors.WithLabelValues(query).Inc()
	}
}

func (s *Store) Ping(ctx context.Context) error {
	return s.withConn(ctx, func(conn *sql.Conn) error {
		return conn.PingContext(ctx)
	})
}

// Precipitation returns every (date, prcp) pair ordered by date.
func (s *Store) Precipitation(ctx context.Context) ([]models.DatePrecipitation, error) {
	var out []models.DatePrecipitation
	err := s.withConn(ctx, func(conn *sql.Conn) (err error) {
		defer func(start time.Time) { observe("precipitation", start, err) }(time.Now())

		rows, err := conn.QueryContext(ctx, `SELECT date, prcp FROM measurement ORDER BY date, station`)
		if err != nil {
			return err
		}
		defer rows.Close()

		out = []models.DatePrecipitation{}
		for rows.Next() {
			var p models.DatePrecipitation
			if err := rows.Scan(&p.Date, &p.Prcp); err != nil {
				return err
			}
			out = append(out, p)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, fmt.Errorf("query precipitation: %w", err)
	}
	return out, nil
}

func (s *Store) Stations(ctx context.Context) ([]models.Station, error) {
	var out []models.Station
	err := s.withConn(ctx, func(conn *sql.Conn) (err error) {
		defer func(start time.Time) { observe("stations", start, err) }(time.Now())

		rows, err := conn.QueryContext(ctx, `SELECT station, name FROM station`)
		if err != nil {
			return err
		}
		defer rows.Close()

		out = []models.Station{}
		for rows.Next() {
			var st models.Station
			if err := rows.Scan(&st.Station, &st.Name); err != nil {
				return err
			}
			out = append(out, st)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, fmt.Errorf("query stations: %w", err)
	}
	return out, nil
}

// LatestDate returns the most recent measurement date, or ErrNoData.
func (s *Store) LatestDate(ctx context.Context) (string, error) {
	var latest string
	err := s.withConn(ctx, func(conn *sql.Conn) error {
		var err error
		latest, err = latestDate(ctx, conn)
		return err
	})
	return latest, err
}

func latestDate(ctx context.Context, conn *sql.Conn) (latest string, err error) {
	defer func(start time.Time) {
		if errors.Is(err, ErrNoData) {
			observe("latest_date", start, nil)
			return
		}
		observe("latest_date", start, err)
	}(time.Now())

	var date sql.NullString
	if err := conn.QueryRowContext(ctx, `SELECT MAX(date) FROM measurement`).Scan(&date); err != nil {
		return "", fmt.Errorf("query latest date: %w", err)
	}
	if !date.Valid {
		return "", ErrNoData
	}
	return date.String, nil
}

func temperaturesSince(ctx context.Context, conn *sql.Conn, since string) (out []models.DateTemperature, err error) {
	defer func(start time.Time) { observe("temperatures_since", start, err) }(time.Now())

	rows, err := conn.QueryContext(ctx, `
		SELECT date, tobs
		FROM measurement
		WHERE date >= ? AND tobs IS NOT NULL
		ORDER BY date, station
	`, since)
	if err != nil {
		return nil, fmt.Errorf("query temperatures since %s: %w", since, err)
	}
	defer rows.Close()

	out = []models.DateTemperature{}
	for rows.Next() {
		var t models.DateTemperature
		if err := rows.Scan(&t.Date, &t.Tobs); err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// LastYearTemperatures returns the (date, tobs) pairs from the year leading up
// to the latest date in the dataset, ordered by date. The latest date is read
// first and the cutoff derived from it, both on the same connection.
func (s *Store) LastYearTemperatures(ctx context.Context) ([]models.DateTemperature, error) {
	var out []models.DateTemperature
	err := s.withConn(ctx, func(conn *sql.Conn) error {
		latest, err := latestDate(ctx, conn)
		if errors.Is(err, ErrNoData) {
			out = []models.DateTemperature{}
			return nil
		}
		if err != nil {
			return err
		}

		cutoff, err := dateutil.YearBefore(latest)
		if err != nil {
			return fmt.Errorf("stored latest date: %w", err)
		}
		s.logger.Debug("last year cutoff", zap.String("latest", latest), zap.String("cutoff", cutoff))

		out, err = temperaturesSince(ctx, conn, cutoff)
		return err
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// DailyTempsSince returns min/avg/max temperature for every date on or after
// start, one entry per date.
func (s *Store) DailyTempsSince(ctx context.Context, start string) ([]models.DailyTemps, error) {
	var out []models.DailyTemps
	err := s.withConn(ctx, func(conn *sql.Conn) (err error) {
		defer func(t time.Time) { observe("daily_temps", t, err) }(time.Now())

		rows, err := conn.QueryContext(ctx, `
			SELECT date, MIN(tobs), AVG(tobs), MAX(tobs)
			FROM measurement
			WHERE date >= ? AND tobs IS NOT NULL
			GROUP BY date
			ORDER BY date
		`, start)
		if err != nil {
			return err
		}
		defer rows.Close()

		out = []models.DailyTemps{}
		for rows.Next() {
			var d models.DailyTemps
			if err := rows.Scan(&d.Date, &d.TMin, &d.TAvg, &d.TMax); err != nil {
				return err
			}
			out = append(out, d)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, fmt.Errorf("query daily temps since %s: %w", start, err)
	}
	return out, nil
}

// RangeTemps returns the min/avg/max temperature across start..end inclusive.
// It returns nil when no reading falls inside the range.
func (s *Store) RangeTemps(ctx context.Context, start, end string) (*models.RangeTemps, error) {
	var out *models.RangeTemps
	err := s.withConn(ctx, func(conn *sql.Conn) (err error) {
		defer func(t time.Time) { observe("range_temps", t, err) }(time.Now())

		var (
			count            int64
			tmin, tavg, tmax sql.NullFloat64
		)
		err = conn.QueryRowContext(ctx, `
			SELECT COUNT(tobs), MIN(tobs), AVG(tobs), MAX(tobs)
			FROM measurement
			WHERE date >= ? AND date <= ?
		`, start, end).Scan(&count, &tmin, &tavg, &tmax)
		if err != nil {
			return err
		}
		if count == 0 {
			return nil
		}
		out = &models.RangeTemps{
			StartDate: start,
			EndDate:   end,
			TMin:      tmin.Float64,
			TAvg:      tavg.Float64,
			TMax:      tmax.Float64,
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("query range temps %s..%s: %w", start, end, err)
	}
	return out, nil
}
