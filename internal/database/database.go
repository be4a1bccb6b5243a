package database

import (
	"context"
	"database/sql"
	"fmt"
	"net/url"
	"regexp"
	"strconv"
	"time"

	"go.uber.org/zap"

	"statepop/internal/types"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "github.com/sijms/go-ora/v2"
	_ "modernc.org/sqlite"
)

// Driver names a supported database backend.
type Driver string

const (
	DriverOracle   Driver = "oracle"
	DriverSQLite   Driver = "sqlite"
	DriverPostgres Driver = "postgres"
)

// DefaultTable is the mirror table name used when Config.Table is empty.
const DefaultTable = "STATE_POPULATION"

const pingTimeout = 10 * time.Second

var identRe = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// Config holds database connection configuration
type Config struct {
	Driver         Driver
	Host           string
	Port           string
	Service        string // Oracle service name or Postgres database
	Username       string
	Password       string
	WalletLocation string
	Path           string // SQLite file, ":memory:" allowed
	URL            string // Postgres connection URL, overrides the host fields
	Table          string
}

// oracleDSN builds a properly encoded connection string for Oracle Autonomous Database
func oracleDSN(username, password, host, port, service string, walletLocation string) string {
	if walletLocation != "" {
		// Use wallet-based mTLS connection
		return fmt.Sprintf(
			"oracle://%s:%s@%s:%s/%s?ssl=true&wallet_location=%s",
			url.PathEscape(username), url.PathEscape(password), host, port, service, url.PathEscape(walletLocation))
	}

	return (&url.URL{
		Scheme:   "oracle",
		User:     url.UserPassword(username, password),
		Host:     host + ":" + port,
		Path:     "/" + service,
		RawQuery: "ssl=true", // ADB requires TCPS on 1522
	}).String()
}

func postgresDSN(cfg Config) string {
	if cfg.URL != "" {
		return cfg.URL
	}
	port := cfg.Port
	if port == "" {
		port = "5432"
	}
	u := &url.URL{
		Scheme: "postgres",
		Host:   cfg.Host + ":" + port,
		Path:   "/" + cfg.Service,
	}
	if cfg.Username != "" {
		u.User = url.UserPassword(cfg.Username, cfg.Password)
	}
	return u.String()
}

// driverAndDSN maps cfg to a database/sql driver name and data source.
func driverAndDSN(cfg Config) (string, string, error) {
	switch cfg.Driver {
	case DriverOracle:
		port := cfg.Port
		if port == "" {
			port = "1521"
		}
		return "oracle", oracleDSN(cfg.Username, cfg.Password, cfg.Host, port, cfg.Service, cfg.WalletLocation), nil
	case DriverSQLite:
		if cfg.Path == "" {
			return "", "", fmt.Errorf("sqlite: path is required")
		}
		return "sqlite", cfg.Path, nil
	case DriverPostgres:
		return "pgx", postgresDSN(cfg), nil
	default:
		return "", "", fmt.Errorf("unknown database driver %q", cfg.Driver)
	}
}

// Database mirrors population records into a single table.
type Database struct {
	db     *sql.DB
	driver Driver
	table  string
	logger *zap.Logger
}

// Open connects to the database described by cfg and verifies the
// connection with a ping.
func Open(ctx context.Context, cfg Config, logger *zap.Logger) (*Database, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	table := cfg.Table
	if table == "" {
		table = DefaultTable
	}
	if !identRe.MatchString(table) {
		return nil, fmt.Errorf("invalid table name %q", table)
	}
	name, dsn, err := driverAndDSN(cfg)
	if err != nil {
		return nil, err
	}

	logger.Debug("Connecting to database", zap.String("driver", string(cfg.Driver)), zap.String("table", table))
	db, err := sql.Open(name, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database connection: %w", err)
	}
	if cfg.Driver == DriverSQLite {
		// an in-memory database lives only as long as its one connection
		db.SetMaxOpenConns(1)
	}

	pingCtx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &Database{db: db, driver: cfg.Driver, table: table, logger: logger}, nil
}

// Close closes the database connection
func (d *Database) Close() error {
	return d.db.Close()
}

// Driver reports the backend in use.
func (d *Database) Driver() Driver { return d.driver }

func (d *Database) placeholder(n int) string {
	switch d.driver {
	case DriverOracle:
		return ":" + strconv.Itoa(n)
	case DriverPostgres:
		return "$" + strconv.Itoa(n)
	default:
		return "?"
	}
}

func (d *Database) createTableSQL() string {
	text, num, big := "VARCHAR(128)", "INTEGER", "BIGINT"
	if d.driver == DriverOracle {
		text, num, big = "VARCHAR2(128)", "NUMBER(10)", "NUMBER(19)"
	}
	return fmt.Sprintf(`CREATE TABLE %s (
		SEQ_NO %s NOT NULL,
		STATE_ID %s,
		STATE_NAME %s NOT NULL,
		YEAR_ID %s,
		YEAR_LABEL %s NOT NULL,
		POPULATION %s NOT NULL,
		SLUG %s
	)`, d.table, num, text, text, num, text, big, text)
}

// ensureTable creates the mirror table when a probe query fails.
func (d *Database) ensureTable(ctx context.Context) error {
	rows, err := d.db.QueryContext(ctx, fmt.Sprintf("SELECT SEQ_NO FROM %s WHERE 1 = 0", d.table))
	if err == nil {
		return rows.Close()
	}
	d.logger.Info("Creating mirror table", zap.String("table", d.table))
	if _, err := d.db.ExecContext(ctx, d.createTableSQL()); err != nil {
		return fmt.Errorf("failed to create table %s: %w", d.table, err)
	}
	return nil
}

// ReplaceRecords overwrites the mirror with records in a single transaction.
func (d *Database) ReplaceRecords(ctx context.Context, records []types.Record) error {
	if err := d.ensureTable(ctx); err != nil {
		return err
	}

	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, "DELETE FROM "+d.table); err != nil {
		return fmt.Errorf("failed to clear %s: %w", d.table, err)
	}

	insert := fmt.Sprintf(
		"INSERT INTO %s (SEQ_NO, STATE_ID, STATE_NAME, YEAR_ID, YEAR_LABEL, POPULATION, SLUG) VALUES (%s, %s, %s, %s, %s, %s, %s)",
		d.table, d.placeholder(1), d.placeholder(2), d.placeholder(3), d.placeholder(4), d.placeholder(5), d.placeholder(6), d.placeholder(7))
	stmt, err := tx.PrepareContext(ctx, insert)
	if err != nil {
		return fmt.Errorf("failed to prepare insert: %w", err)
	}
	defer stmt.Close()

	for i, r := range records {
		yearID := sql.NullInt64{Int64: int64(r.YearID), Valid: r.YearID != 0}
		if _, err := stmt.ExecContext(ctx, i, r.StateID, r.State, yearID, r.Year, r.Population, r.StateSlug); err != nil {
			return fmt.Errorf("failed to insert record %d: %w", i, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit: %w", err)
	}
	d.logger.Debug("Mirrored records", zap.String("table", d.table), zap.Int("records", len(records)))
	return nil
}

// QueryState returns the mirrored records for state in their original order.
func (d *Database) QueryState(ctx context.Context, state string) ([]types.Record, error) {
	query := fmt.Sprintf(`
		SELECT STATE_ID, STATE_NAME, YEAR_ID, YEAR_LABEL, POPULATION, SLUG
		FROM %s
		WHERE STATE_NAME = %s
		ORDER BY SEQ_NO`, d.table, d.placeholder(1))

	rows, err := d.db.QueryContext(ctx, query, state)
	if err != nil {
		return nil, fmt.Errorf("failed to query state records: %w", err)
	}
	defer rows.Close()

	records := []types.Record{}
	for rows.Next() {
		var (
			r             types.Record
			stateID, slug sql.NullString
			yearID        sql.NullInt64
		)
		if err := rows.Scan(&stateID, &r.State, &yearID, &r.Year, &r.Population, &slug); err != nil {
			return nil, fmt.Errorf("failed to scan record: %w", err)
		}
		r.StateID = stateID.String
		r.StateSlug = slug.String
		r.YearID = int(yearID.Int64)
		records = append(records, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read state records: %w", err)
	}
	return records, nil
}
