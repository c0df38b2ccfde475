package database

import (
	"database/sql"
	"fmt"
	"log"
	"time"

	_ "github.com/lib/pq"
	"github.com/spf13/viper"
)

var db *sql.DB

// DBConfig holds database configuration
type DBConfig struct {
	Host            string
	Port            string
	User            string
	Password        string
	Name            string
	SSLMode         string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// GetConfig returns database configuration with defaults
func GetConfig() *DBConfig {
	viper.SetDefault("database.host", "localhost")
	viper.SetDefault("database.port", "5432")
	viper.SetDefault("database.user", "postgres")
	viper.SetDefault("database.password", "password")
	viper.SetDefault("database.name", "corebank")
	viper.SetDefault("database.ssl_mode", "disable")
	viper.SetDefault("database.max_open_conns", 25)
	viper.SetDefault("database.max_idle_conns", 5)
	viper.SetDefault("database.conn_max_lifetime", time.Minute*5)

	return &DBConfig{
		Host:            viper.GetString("database.host"),
		Port:            viper.GetString("database.port"),
		User:            viper.GetString("database.user"),
		Password:        viper.GetString("database.password"),
		Name:            viper.GetString("database.name"),
		SSLMode:         viper.GetString("database.ssl_mode"),
		MaxOpenConns:    viper.GetInt("database.max_open_conns"),
		MaxIdleConns:    viper.GetInt("database.max_idle_conns"),
		ConnMaxLifetime: viper.GetDuration("database.conn_max_lifetime"),
	}
}

// InitDB initializes the database connection
func InitDB() (*sql.DB, error) {
	config := GetConfig()

	connStr := fmt.Sprintf(
		"host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		config.Host, config.Port, config.User, config.Password, config.Name, config.SSLMode,
	)

	var err error
	db, err = sql.Open("postgres", connStr)
	if err != nil {
		return nil, fmt.Errorf("error opening database: %w", err)
	}

	if err = db.Ping(); err != nil {
		return nil, fmt.Errorf("error connecting to database: %w", err)
	}

	db.SetMaxOpenConns(config.MaxOpenConns)
	db.SetMaxIdleConns(config.MaxIdleConns)
	db.SetConnMaxLifetime(config.ConnMaxLifetime)

	log.Println("Database connection established")
	return db, nil
}

// schema is applied idempotently at startup. Monetary columns are NUMERIC,
// never floating point; reference columns carry unique indexes so the
// collision-retry loops in the services have something to hit.
var schema = []string{
	`CREATE TABLE IF NOT EXISTS accounts (
		id                  TEXT PRIMARY KEY,
		balance             NUMERIC(18,2) NOT NULL DEFAULT 0,
		bitcoin_balance     NUMERIC(18,8) NOT NULL DEFAULT 0,
		daily_transfer_total NUMERIC(18,2) NOT NULL DEFAULT 0,
		daily_transfer_date DATE NOT NULL DEFAULT CURRENT_DATE,
		version             BIGINT NOT NULL DEFAULT 0,
		updated_at          TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE TABLE IF NOT EXISTS transactions (
		id              BIGSERIAL PRIMARY KEY,
		reference       TEXT NOT NULL,
		account_id      TEXT NOT NULL REFERENCES accounts(id),
		type            TEXT NOT NULL,
		status          TEXT NOT NULL,
		amount          NUMERIC(18,8) NOT NULL,
		currency        TEXT NOT NULL,
		balance_before  NUMERIC(18,8) NOT NULL,
		balance_after   NUMERIC(18,8) NOT NULL,
		description     TEXT NOT NULL DEFAULT '',
		transfer_id     BIGINT,
		reversal_of     BIGINT REFERENCES transactions(id),
		created_at      TIMESTAMPTZ NOT NULL DEFAULT now(),
		completed_at    TIMESTAMPTZ
	)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS idx_transactions_reference ON transactions (reference)`,
	`CREATE INDEX IF NOT EXISTS idx_transactions_account ON transactions (account_id, created_at DESC)`,
	`CREATE TABLE IF NOT EXISTS transfers (
		id                      BIGSERIAL PRIMARY KEY,
		reference               TEXT NOT NULL,
		sender_id               TEXT NOT NULL REFERENCES accounts(id),
		recipient_id            TEXT REFERENCES accounts(id),
		beneficiary_id          BIGINT,
		type                    TEXT NOT NULL,
		status                  TEXT NOT NULL,
		amount                  NUMERIC(18,2) NOT NULL,
		fee                     NUMERIC(18,2) NOT NULL DEFAULT 0,
		currency                TEXT NOT NULL,
		description             TEXT NOT NULL DEFAULT '',
		requires_admin_approval BOOLEAN NOT NULL DEFAULT TRUE,
		admin_approved          BOOLEAN NOT NULL DEFAULT FALSE,
		approved_by             TEXT,
		approved_at             TIMESTAMPTZ,
		rejection_reason        TEXT NOT NULL DEFAULT '',
		scheduled_at            TIMESTAMPTZ NOT NULL,
		completed_at            TIMESTAMPTZ,
		created_at              TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS idx_transfers_reference ON transfers (reference)`,
	`CREATE INDEX IF NOT EXISTS idx_transfers_due ON transfers (status, scheduled_at)`,
	`CREATE TABLE IF NOT EXISTS beneficiaries (
		id              BIGSERIAL PRIMARY KEY,
		account_id      TEXT NOT NULL REFERENCES accounts(id),
		name            TEXT NOT NULL,
		account_number  TEXT NOT NULL,
		routing_number  TEXT NOT NULL DEFAULT '',
		bank_name       TEXT NOT NULL DEFAULT '',
		swift_code      TEXT NOT NULL DEFAULT '',
		iban            TEXT NOT NULL DEFAULT '',
		type            TEXT NOT NULL,
		created_at      TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE TABLE IF NOT EXISTS check_deposits (
		id               BIGSERIAL PRIMARY KEY,
		reference        TEXT NOT NULL,
		account_id       TEXT NOT NULL REFERENCES accounts(id),
		amount           NUMERIC(18,2) NOT NULL,
		front_image      TEXT NOT NULL,
		back_image       TEXT NOT NULL,
		ocr_amount       NUMERIC(18,2),
		ocr_confidence   NUMERIC(5,4),
		status           TEXT NOT NULL,
		hold_until       TIMESTAMPTZ,
		approved_by      TEXT,
		rejection_reason TEXT NOT NULL DEFAULT '',
		transaction_id   BIGINT REFERENCES transactions(id),
		created_at       TIMESTAMPTZ NOT NULL DEFAULT now(),
		completed_at     TIMESTAMPTZ
	)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS idx_check_deposits_reference ON check_deposits (reference)`,
	`CREATE TABLE IF NOT EXISTS bitcoin_sends (
		id                    BIGSERIAL PRIMARY KEY,
		reference             TEXT NOT NULL,
		account_id            TEXT NOT NULL REFERENCES accounts(id),
		balance_source        TEXT NOT NULL,
		amount_btc            NUMERIC(18,8) NOT NULL,
		amount_usd            NUMERIC(18,2) NOT NULL,
		bitcoin_price_at_time NUMERIC(18,2) NOT NULL,
		network_fee_btc       NUMERIC(18,8) NOT NULL,
		recipient_address     TEXT NOT NULL,
		status                TEXT NOT NULL,
		created_at            TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS idx_bitcoin_sends_reference ON bitcoin_sends (reference)`,
	`CREATE TABLE IF NOT EXISTS investments (
		id                     BIGSERIAL PRIMARY KEY,
		account_id             TEXT NOT NULL REFERENCES accounts(id),
		type                   TEXT NOT NULL,
		symbol                 TEXT NOT NULL,
		quantity               NUMERIC(24,8) NOT NULL,
		price_per_unit         NUMERIC(18,2) NOT NULL,
		amount_invested        NUMERIC(18,2) NOT NULL,
		current_price_per_unit NUMERIC(18,2) NOT NULL,
		funding_source         TEXT NOT NULL,
		status                 TEXT NOT NULL,
		created_at             TIMESTAMPTZ NOT NULL DEFAULT now(),
		sold_at                TIMESTAMPTZ
	)`,
}

// Migrate applies the schema and seeds the system fee-revenue account.
// Every statement is idempotent so repeated startups are safe; the fee
// account must exist before the first fee-bearing transfer locks it.
func Migrate(conn *sql.DB) error {
	for _, stmt := range schema {
		if _, err := conn.Exec(stmt); err != nil {
			return fmt.Errorf("applying schema: %w", err)
		}
	}

	viper.SetDefault("transfer.fee_account", "SYS-FEE-REVENUE")
	if _, err := conn.Exec(
		`INSERT INTO accounts (id) VALUES ($1) ON CONFLICT (id) DO NOTHING`,
		viper.GetString("transfer.fee_account"),
	); err != nil {
		return fmt.Errorf("seeding fee account: %w", err)
	}

	log.Println("Database schema up to date")
	return nil
}

// GetDB returns the database connection
func GetDB() *sql.DB {
	return db
}

// CloseDB closes the database connection
func CloseDB() error {
	if db != nil {
		return db.Close()
	}
	return nil
}

// InitDatabase initializes the database and schema with error handling
func InitDatabase() *sql.DB {
	db, err := InitDB()
	if err != nil {
		log.Fatalf("Failed to initialize database: %v", err)
	}
	if err := Migrate(db); err != nil {
		log.Fatalf("Failed to migrate database: %v", err)
	}
	return db
}
