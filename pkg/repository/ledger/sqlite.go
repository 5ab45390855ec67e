package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/dailymind-app/dailymind-api/pkg/domain"
	"github.com/golang-migrate/migrate/v4"
	migratesqlite "github.com/golang-migrate/migrate/v4/database/sqlite3"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
)

type Config struct {
	DatabasePath   string
	MigrationsPath string
}

// SQLiteLedger persists accounts in a SQLite file. Every Update runs inside
// an immediate transaction and the pool is capped at a single connection, so
// read-modify-write cycles for an identity never interleave.
type SQLiteLedger struct {
	db *sql.DB
}

func NewSQLiteLedger(cfg Config) (*SQLiteLedger, error) {
	dsn := fmt.Sprintf("file:%s?_busy_timeout=5000&_txlock=immediate", cfg.DatabasePath)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if err := runMigrations(db, cfg.MigrationsPath); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return &SQLiteLedger{db: db}, nil
}

func runMigrations(db *sql.DB, path string) error {
	driver, err := migratesqlite.WithInstance(db, &migratesqlite.Config{})
	if err != nil {
		return err
	}
	m, err := migrate.NewWithDatabaseInstance("file://"+path, "sqlite3", driver)
	if err != nil {
		return err
	}
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return err
	}
	return nil
}

const accountColumns = "id, identity, tier, license_key, usage_count, usage_period, expires_at, created_at, last_active"

func (l *SQLiteLedger) Get(ctx context.Context, identity string) (*domain.Account, error) {
	row := l.db.QueryRowContext(ctx,
		"SELECT "+accountColumns+" FROM accounts WHERE identity = ?", identity)
	return scanAccount(row)
}

func (l *SQLiteLedger) GetOrCreate(ctx context.Context, identity string) (*domain.Account, error) {
	tx, err := l.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	account, err := getOrCreateTx(ctx, tx, identity)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return account, nil
}

func (l *SQLiteLedger) Save(ctx context.Context, account *domain.Account) error {
	res, err := l.db.ExecContext(ctx, `
		UPDATE accounts
		SET tier = ?, license_key = ?, usage_count = ?, usage_period = ?, expires_at = ?, last_active = ?
		WHERE identity = ?`,
		account.Tier, account.LicenseKey, account.UsageCount, account.UsagePeriod,
		nullableTime(account.ExpiresAt), account.LastActive, account.Identity)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

func (l *SQLiteLedger) Update(ctx context.Context, identity string, mutate func(*domain.Account) error) (*domain.Account, error) {
	tx, err := l.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	account, err := getOrCreateTx(ctx, tx, identity)
	if err != nil {
		return nil, err
	}
	if err := mutate(account); err != nil {
		return nil, err
	}
	if err := saveTx(ctx, tx, account); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return account, nil
}

func (l *SQLiteLedger) Upgrade(ctx context.Context, identity string, licenseKey string, durationDays int) (*domain.Account, error) {
	expiresAt := time.Now().AddDate(0, 0, durationDays)
	return l.Update(ctx, identity, func(account *domain.Account) error {
		account.Tier = domain.TierPremium
		account.LicenseKey = licenseKey
		account.ExpiresAt = &expiresAt
		account.UsageCount = 0
		return nil
	})
}

func (l *SQLiteLedger) Stats(ctx context.Context) (Stats, error) {
	var stats Stats
	row := l.db.QueryRowContext(ctx, `
		SELECT COUNT(*),
		       COALESCE(SUM(CASE WHEN tier = 'premium' THEN 1 ELSE 0 END), 0),
		       COALESCE(SUM(CASE WHEN tier = 'free' THEN 1 ELSE 0 END), 0),
		       COALESCE(SUM(usage_count), 0),
		       COALESCE(SUM(CASE WHEN usage_period = ? THEN 1 ELSE 0 END), 0)
		FROM accounts`, domain.PeriodKey(time.Now()))
	if err := row.Scan(&stats.TotalAccounts, &stats.PremiumAccounts, &stats.FreeAccounts,
		&stats.TotalMessages, &stats.ActiveToday); err != nil {
		return Stats{}, err
	}

	rows, err := l.db.QueryContext(ctx,
		"SELECT "+accountColumns+" FROM accounts ORDER BY created_at DESC, identity LIMIT ?",
		recentAccountsLimit)
	if err != nil {
		return Stats{}, err
	}
	defer rows.Close()
	for rows.Next() {
		account, err := scanAccount(rows)
		if err != nil {
			return Stats{}, err
		}
		stats.RecentAccounts = append(stats.RecentAccounts, *account)
	}
	if err := rows.Err(); err != nil {
		return Stats{}, err
	}
	return stats, nil
}

func (l *SQLiteLedger) Close() error {
	return l.db.Close()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAccount(row rowScanner) (*domain.Account, error) {
	var account domain.Account
	var expiresAt sql.NullTime
	err := row.Scan(&account.ID, &account.Identity, &account.Tier, &account.LicenseKey,
		&account.UsageCount, &account.UsagePeriod, &expiresAt, &account.CreatedAt, &account.LastActive)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if expiresAt.Valid {
		account.ExpiresAt = &expiresAt.Time
	}
	return &account, nil
}

func getOrCreateTx(ctx context.Context, tx *sql.Tx, identity string) (*domain.Account, error) {
	row := tx.QueryRowContext(ctx,
		"SELECT "+accountColumns+" FROM accounts WHERE identity = ?", identity)
	account, err := scanAccount(row)
	if err == nil {
		return account, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return nil, err
	}

	id, err := uuid.NewRandom()
	if err != nil {
		return nil, err
	}
	now := time.Now()
	account = &domain.Account{
		ID:         id.String(),
		Identity:   identity,
		Tier:       domain.TierFree,
		CreatedAt:  now,
		LastActive: now,
	}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO accounts (`+accountColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		account.ID, account.Identity, account.Tier, account.LicenseKey,
		account.UsageCount, account.UsagePeriod, nullableTime(account.ExpiresAt),
		account.CreatedAt, account.LastActive)
	if err != nil {
		return nil, err
	}
	return account, nil
}

func saveTx(ctx context.Context, tx *sql.Tx, account *domain.Account) error {
	_, err := tx.ExecContext(ctx, `
		UPDATE accounts
		SET tier = ?, license_key = ?, usage_count = ?, usage_period = ?, expires_at = ?, last_active = ?
		WHERE identity = ?`,
		account.Tier, account.LicenseKey, account.UsageCount, account.UsagePeriod,
		nullableTime(account.ExpiresAt), account.LastActive, account.Identity)
	return err
}

func nullableTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return *t
}
