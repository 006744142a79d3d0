package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"mcp-calorie-log/internal/models"
)

// JSONStore keeps the ledger in a single JSON document that is replaced
// atomically on every save.
type JSONStore struct {
	path string
	log  *zap.Logger
	now  func() time.Time
}

var _ Store = (*JSONStore)(nil)

func NewJSONStore(path string, log *zap.Logger) *JSONStore {
	return &JSONStore{
		path: path,
		log:  log.Named("json-store"),
		now:  time.Now,
	}
}

// Load reads the ledger. A missing file is an empty ledger. A corrupt file
// is moved aside and also yields an empty ledger so startup can continue.
func (s *JSONStore) Load(ctx context.Context) (models.Ledger, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			s.log.Info("no ledger file yet, starting empty", zap.String("path", s.path))
			return models.Ledger{}, nil
		}
		return nil, fmt.Errorf("failed to read ledger: %w", err)
	}

	ledger, repaired, err := decodeLedger(data)
	if err != nil {
		aside := fmt.Sprintf("%s.corrupt-%d", s.path, s.now().Unix())
		if rerr := os.Rename(s.path, aside); rerr != nil {
			s.log.Warn("could not move corrupt ledger aside", zap.Error(rerr))
			aside = ""
		}
		s.log.Error("ledger file is corrupt, starting empty",
			zap.String("path", s.path), zap.String("moved_to", aside), zap.Error(err))
		return models.Ledger{}, nil
	}
	for _, r := range repaired {
		s.log.Warn("repaired ledger entry", zap.String("path", s.path), zap.String("detail", r))
	}

	s.log.Debug("ledger loaded", zap.String("path", s.path), zap.Int("users", len(ledger)))
	return ledger, nil
}

// decodeLedger decodes a ledger document and brings it back to a state the
// Book can operate on. Null user maps are dropped, null records become
// empty ones, entries without positive calories are removed and totals
// are recomputed. The returned notes describe each repair.
func decodeLedger(data []byte) (models.Ledger, []string, error) {
	var ledger models.Ledger
	if err := json.Unmarshal(data, &ledger); err != nil {
		return nil, nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	if ledger == nil {
		ledger = models.Ledger{}
	}

	var repaired []string
	for user, days := range ledger {
		if days == nil {
			delete(ledger, user)
			repaired = append(repaired, fmt.Sprintf("user %s: null day map dropped", user))
			continue
		}
		for day, rec := range days {
			if _, err := models.ParseDay(string(day)); err != nil {
				return nil, nil, fmt.Errorf("%w: user %s: %v", ErrCorrupt, user, err)
			}
			foods := make([]models.FoodEntry, 0, len(rec.Foods))
			for _, f := range rec.Foods {
				if f.Calories <= 0 {
					repaired = append(repaired, fmt.Sprintf("user %s day %s: entry %q with %d calories dropped", user, day, f.Name, f.Calories))
					continue
				}
				foods = append(foods, f)
			}
			rec.Foods = foods
			// The file is hand-editable; trust the entries over the stored total.
			rec.TotalCalories = rec.Sum()
			days[day] = rec
		}
		if len(days) == 0 {
			delete(ledger, user)
		}
	}
	return ledger, repaired, nil
}

// Save writes the full ledger to a temp file in the same directory, syncs
// it, then renames it over the target.
func (s *JSONStore) Save(ctx context.Context, ledger models.Ledger) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if ledger == nil {
		ledger = models.Ledger{}
	}

	data, err := json.MarshalIndent(ledger, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal ledger: %w", err)
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create ledger directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(s.path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpPath := tmp.Name()
	cleanup := func() { os.Remove(tmpPath) }

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		cleanup()
		return fmt.Errorf("failed to write temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		cleanup()
		return fmt.Errorf("failed to sync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		cleanup()
		return fmt.Errorf("failed to close temp file: %w", err)
	}
	if err := os.Rename(tmpPath, s.path); err != nil {
		cleanup()
		return fmt.Errorf("failed to rename temp file: %w", err)
	}

	s.log.Debug("ledger saved", zap.String("path", s.path), zap.Int("bytes", len(data)))
	return nil
}

func (s *JSONStore) Close() error { return nil }
