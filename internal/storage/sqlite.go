// internal/storage/sqlite.go
package storage

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"
	_ "modernc.org/sqlite"

	"mcp-calorie-log/internal/models"
)

type SQLiteStorage struct {
	db   *sql.DB
	path string
	log  *zap.Logger
}

var _ Store = (*SQLiteStorage)(nil)

func NewSQLiteStorage(dbPath string, log *zap.Logger) (*SQLiteStorage, error) {
	log = log.Named("sqlite-store")
	if dir := filepath.Dir(dbPath); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	storage, err := openSQLite(dbPath, log)
	if err == nil {
		return storage, nil
	}

	// Not a usable database: keep the file for inspection and start fresh.
	aside := fmt.Sprintf("%s.corrupt-%d", dbPath, time.Now().Unix())
	if rerr := os.Rename(dbPath, aside); rerr != nil {
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	log.Error("database is corrupt, starting empty",
		zap.String("path", dbPath), zap.String("moved_to", aside), zap.Error(err))
	return openSQLite(dbPath, log)
}

func openSQLite(dbPath string, log *zap.Logger) (*SQLiteStorage, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// A single connection keeps the save transaction and readers serialized.
	db.SetMaxOpenConns(1)

	storage := &SQLiteStorage{db: db, path: dbPath, log: log}
	if err := storage.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return storage, nil
}

func (s *SQLiteStorage) Close() error {
	return s.db.Close()
}

func (s *SQLiteStorage) initSchema() error {
	schema := `
    CREATE TABLE IF NOT EXISTS days (
        user_id TEXT NOT NULL,
        day TEXT NOT NULL,
        total_calories INTEGER NOT NULL,
        PRIMARY KEY (user_id, day)
    );

    CREATE TABLE IF NOT EXISTS foods (
        id INTEGER PRIMARY KEY AUTOINCREMENT,
        user_id TEXT NOT NULL,
        day TEXT NOT NULL,
        position INTEGER NOT NULL,
        entry_id TEXT NOT NULL,
        name TEXT NOT NULL,
        calories INTEGER NOT NULL,
        timestamp TEXT NOT NULL,
        FOREIGN KEY (user_id, day) REFERENCES days(user_id, day) ON DELETE CASCADE
    );

    CREATE INDEX IF NOT EXISTS idx_foods_user_day ON foods(user_id, day, position);
    `

	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}

	return nil
}

// Save replaces the stored ledger inside a single transaction.
func (s *SQLiteStorage) Save(ctx context.Context, ledger models.Ledger) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to start transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM foods`); err != nil {
		return fmt.Errorf("failed to clear foods: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM days`); err != nil {
		return fmt.Errorf("failed to clear days: %w", err)
	}

	dayQuery := `
        INSERT INTO days (user_id, day, total_calories)
        VALUES (?, ?, ?)
    `
	foodQuery := `
        INSERT INTO foods (user_id, day, position, entry_id, name, calories, timestamp)
        VALUES (?, ?, ?, ?, ?, ?, ?)
    `
	for user, days := range ledger {
		for day, rec := range days {
			if _, err := tx.ExecContext(ctx, dayQuery, user, string(day), rec.TotalCalories); err != nil {
				return fmt.Errorf("failed to insert day: %w", err)
			}
			for i, food := range rec.Foods {
				_, err := tx.ExecContext(ctx, foodQuery,
					user, string(day), i+1, food.ID, food.Name, food.Calories,
					food.Timestamp.Format(time.RFC3339Nano))
				if err != nil {
					return fmt.Errorf("failed to insert food: %w", err)
				}
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit ledger: %w", err)
	}
	s.log.Debug("ledger saved", zap.String("path", s.path), zap.Int("users", len(ledger)))
	return nil
}

// Load rebuilds the ledger. Rows that cannot be decoded make the whole
// ledger unusable; that is logged and an empty ledger is returned.
func (s *SQLiteStorage) Load(ctx context.Context) (models.Ledger, error) {
	ledger, err := s.load(ctx)
	if err != nil {
		s.log.Error("stored ledger is unreadable, starting empty", zap.Error(err))
		return models.Ledger{}, nil
	}
	return ledger, nil
}

func (s *SQLiteStorage) load(ctx context.Context) (models.Ledger, error) {
	ledger := models.Ledger{}

	rows, err := s.db.QueryContext(ctx, `SELECT user_id, day FROM days`)
	if err != nil {
		return nil, fmt.Errorf("failed to query days: %w", err)
	}
	for rows.Next() {
		var user, dayStr string
		if err := rows.Scan(&user, &dayStr); err != nil {
			rows.Close()
			return nil, fmt.Errorf("failed to scan day: %w", err)
		}
		day, err := models.ParseDay(dayStr)
		if err != nil {
			rows.Close()
			return nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
		}
		ledger.Put(user, day, models.DailyRecord{Foods: []models.FoodEntry{}})
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read days: %w", err)
	}

	foodQuery := `
        SELECT user_id, day, entry_id, name, calories, timestamp
        FROM foods
        ORDER BY user_id, day, position
    `
	rows, err = s.db.QueryContext(ctx, foodQuery)
	if err != nil {
		return nil, fmt.Errorf("failed to query foods: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var user, dayStr, timestampStr string
		food := models.FoodEntry{}
		if err := rows.Scan(&user, &dayStr, &food.ID, &food.Name, &food.Calories, &timestampStr); err != nil {
			return nil, fmt.Errorf("failed to scan food: %w", err)
		}
		if food.Timestamp, err = time.Parse(time.RFC3339Nano, timestampStr); err != nil {
			return nil, fmt.Errorf("%w: failed to parse timestamp: %v", ErrCorrupt, err)
		}

		day := models.Day(dayStr)
		rec, ok := ledger.Record(user, day)
		if !ok {
			return nil, fmt.Errorf("%w: food for unknown day %s/%s", ErrCorrupt, user, dayStr)
		}
		rec.Foods = append(rec.Foods, food)
		rec.TotalCalories = rec.Sum()
		ledger.Put(user, day, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read foods: %w", err)
	}

	s.log.Debug("ledger loaded", zap.String("path", s.path), zap.Int("users", len(ledger)))
	return ledger, nil
}
