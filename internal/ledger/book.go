// Package ledger implements the per-user daily calorie operations. Every
// mutation keeps TotalCalories equal to the sum of the entries and is
// written through to the store before it returns.
package ledger

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"mcp-calorie-log/internal/models"
	"mcp-calorie-log/internal/storage"
)

// DefaultFoodName is used when an entry is logged without a name.
const DefaultFoodName = "Unknown food"

// Option configures a Book.
type Option func(*Book)

// WithClock sets the time source for timestamps and "today".
func WithClock(now func() time.Time) Option {
	return func(b *Book) {
		b.now = now
	}
}

// WithIDGenerator sets how durable entry ids are minted.
func WithIDGenerator(gen func() string) Option {
	return func(b *Book) {
		b.newID = gen
	}
}

// Book owns the in-memory ledger. All mutations are serialized behind one
// mutex so the read-modify-write of a record and its persistence happen
// as a unit.
type Book struct {
	mu     sync.Mutex
	ledger models.Ledger
	store  storage.Store
	log    *zap.Logger
	now    func() time.Time
	newID  func() string
}

// EditResult reports what an edit changed.
type EditResult struct {
	Old      models.FoodEntry `json:"old_entry"`
	New      models.FoodEntry `json:"new_entry"`
	NewTotal int              `json:"new_total"`
	Delta    int              `json:"delta"`
}

// Change reports the entry an Add or Remove committed, its display
// position at commit time and the resulting day total.
type Change struct {
	Entry    models.FoodEntry `json:"entry"`
	Position int              `json:"position"`
	Total    int              `json:"total_calories"`
}

// New loads the ledger from store once and returns a Book over it.
func New(ctx context.Context, store storage.Store, log *zap.Logger, opts ...Option) (*Book, error) {
	b := &Book{
		store: store,
		log:   log.Named("ledger"),
		now:   time.Now,
		newID: uuid.NewString,
	}
	for _, opt := range opts {
		opt(b)
	}

	l, err := store.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load ledger: %w", err)
	}
	for user, days := range l {
		for day, rec := range days {
			for i := range rec.Foods {
				if rec.Foods[i].ID == "" {
					rec.Foods[i].ID = b.newID()
				}
			}
			days[day] = rec
		}
		b.log.Debug("loaded user", zap.String("user", user), zap.Int("days", len(days)))
	}
	b.ledger = l
	return b, nil
}

// Today returns the current calendar day per the Book's clock.
func (b *Book) Today() models.Day {
	return models.DayOf(b.now())
}

// Read returns a copy of the record, or an empty record if none exists.
func (b *Book) Read(user string, day models.Day) models.DailyRecord {
	b.mu.Lock()
	defer b.mu.Unlock()

	rec, ok := b.ledger.Record(user, day)
	if !ok {
		return models.DailyRecord{Foods: []models.FoodEntry{}}
	}
	return rec.Clone()
}

// Add appends an entry and reports it with the new total.
func (b *Book) Add(ctx context.Context, user string, day models.Day, calories int, name string) (Change, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	rec, _ := b.ledger.Record(user, day)
	if calories <= 0 {
		return Change{}, b.opError("add", ErrInvalidAmount, rec)
	}

	entry := models.FoodEntry{
		ID:        b.newID(),
		Name:      foodName(name),
		Calories:  calories,
		Timestamp: b.now(),
	}
	next := rec.Clone()
	next.Foods = append(next.Foods, entry)
	next.TotalCalories = next.Sum()

	if err := b.commit(ctx, user, day, &next); err != nil {
		return Change{}, err
	}
	b.log.Info("food added", zap.String("user", user), zap.String("day", string(day)),
		zap.Int("calories", calories), zap.Int("total", next.TotalCalories))
	return Change{Entry: entry, Position: len(next.Foods), Total: next.TotalCalories}, nil
}

// Remove deletes the entry at the 1-based display position, resolved
// against the current order.
func (b *Book) Remove(ctx context.Context, user string, day models.Day, position int) (Change, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	rec, _ := b.ledger.Record(user, day)
	if position < 1 || position > len(rec.Foods) {
		return Change{}, b.opError("remove", ErrOutOfRange, rec)
	}

	next := rec.Clone()
	removed := next.Foods[position-1]
	next.Foods = append(next.Foods[:position-1], next.Foods[position:]...)
	next.TotalCalories = next.Sum()

	if err := b.commit(ctx, user, day, &next); err != nil {
		return Change{}, err
	}
	b.log.Info("food removed", zap.String("user", user), zap.String("day", string(day)),
		zap.String("entry", removed.ID), zap.Int("total", next.TotalCalories))
	return Change{Entry: removed, Position: position, Total: next.TotalCalories}, nil
}

// Edit replaces the calories, and the name when given, of the entry at
// position. The entry's timestamp becomes the edit time.
func (b *Book) Edit(ctx context.Context, user string, day models.Day, position, calories int, name *string) (EditResult, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	rec, _ := b.ledger.Record(user, day)
	if calories <= 0 {
		return EditResult{}, b.opError("edit", ErrInvalidAmount, rec)
	}
	if position < 1 || position > len(rec.Foods) {
		return EditResult{}, b.opError("edit", ErrOutOfRange, rec)
	}

	next := rec.Clone()
	old := next.Foods[position-1]
	updated := old
	updated.Calories = calories
	if name != nil && strings.TrimSpace(*name) != "" {
		updated.Name = strings.TrimSpace(*name)
	}
	updated.Timestamp = b.now()
	next.Foods[position-1] = updated
	next.TotalCalories = next.Sum()

	if err := b.commit(ctx, user, day, &next); err != nil {
		return EditResult{}, err
	}

	res := EditResult{
		Old:      old,
		New:      updated,
		NewTotal: next.TotalCalories,
		Delta:    calories - old.Calories,
	}
	b.log.Info("food edited", zap.String("user", user), zap.String("day", string(day)),
		zap.String("entry", old.ID), zap.Int("delta", res.Delta), zap.Int("total", res.NewTotal))
	return res, nil
}

// Reset deletes the whole record and returns what was cleared. A record
// with nothing logged is reported as ErrNothingToReset and is not written.
func (b *Book) Reset(ctx context.Context, user string, day models.Day) (models.DailyRecord, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	rec, ok := b.ledger.Record(user, day)
	if !ok || rec.TotalCalories == 0 {
		return models.DailyRecord{}, b.opError("reset", ErrNothingToReset, rec)
	}

	if err := b.commit(ctx, user, day, nil); err != nil {
		return models.DailyRecord{}, err
	}
	b.log.Info("day reset", zap.String("user", user), zap.String("day", string(day)),
		zap.Int("cleared", rec.TotalCalories))
	return rec.Clone(), nil
}

// commit installs next (nil drops the record) and saves. If the save
// fails the previous state is restored. Caller holds b.mu.
func (b *Book) commit(ctx context.Context, user string, day models.Day, next *models.DailyRecord) error {
	prev, existed := b.ledger.Record(user, day)

	if next == nil {
		b.ledger.Drop(user, day)
	} else {
		b.ledger.Put(user, day, *next)
	}

	if err := b.store.Save(ctx, b.ledger); err != nil {
		if existed {
			b.ledger.Put(user, day, prev)
		} else {
			b.ledger.Drop(user, day)
		}
		b.log.Error("failed to persist ledger, change rolled back",
			zap.String("user", user), zap.String("day", string(day)), zap.Error(err))
		return fmt.Errorf("failed to save ledger: %w", err)
	}
	return nil
}

func (b *Book) opError(op string, err error, rec models.DailyRecord) *OpError {
	return &OpError{Op: op, Err: err, Count: len(rec.Foods), Total: rec.TotalCalories}
}

func foodName(name string) string {
	name = strings.TrimSpace(name)
	if name == "" {
		return DefaultFoodName
	}
	return name
}
