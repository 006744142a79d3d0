package storage

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"mcp-calorie-log/internal/models"
)

func sampleLedger() models.Ledger {
	at := time.Date(2024, 3, 9, 12, 30, 0, 0, time.UTC)
	l := models.Ledger{}
	l.Put("123456789", "2024-03-09", models.DailyRecord{
		TotalCalories: 750,
		Foods: []models.FoodEntry{
			{ID: "a", Name: "Oatmeal", Calories: 300, Timestamp: at},
			{ID: "b", Name: "Sandwich", Calories: 450, Timestamp: at.Add(4 * time.Hour)},
		},
	})
	l.Put("123456789", "2024-03-10", models.DailyRecord{TotalCalories: 0, Foods: []models.FoodEntry{}})
	l.Put("42", "2024-03-09", models.DailyRecord{
		TotalCalories: 95,
		Foods:         []models.FoodEntry{{ID: "c", Name: "Apple", Calories: 95, Timestamp: at}},
	})
	return l
}

func stores(t *testing.T) map[string]Store {
	t.Helper()
	dir := t.TempDir()
	sq, err := NewSQLiteStorage(filepath.Join(dir, "ledger.db"), zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { sq.Close() })

	return map[string]Store{
		DriverJSON:   NewJSONStore(filepath.Join(dir, "ledger.json"), zap.NewNop()),
		DriverSQLite: sq,
	}
}

func TestStoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	for name, store := range stores(t) {
		t.Run(name, func(t *testing.T) {
			want := sampleLedger()
			require.NoError(t, store.Save(ctx, want))

			got, err := store.Load(ctx)
			require.NoError(t, err)
			if diff := cmp.Diff(want, got); diff != "" {
				t.Fatalf("ledger mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestStoreSaveReplacesContent(t *testing.T) {
	ctx := context.Background()
	for name, store := range stores(t) {
		t.Run(name, func(t *testing.T) {
			require.NoError(t, store.Save(ctx, sampleLedger()))

			smaller := models.Ledger{}
			smaller.Put("42", "2024-03-11", models.DailyRecord{
				TotalCalories: 10,
				Foods:         []models.FoodEntry{{ID: "z", Name: "Gum", Calories: 10, Timestamp: time.Date(2024, 3, 11, 8, 0, 0, 0, time.UTC)}},
			})
			require.NoError(t, store.Save(ctx, smaller))

			got, err := store.Load(ctx)
			require.NoError(t, err)
			if diff := cmp.Diff(smaller, got); diff != "" {
				t.Fatalf("ledger mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestJSONStoreMissingFile(t *testing.T) {
	store := NewJSONStore(filepath.Join(t.TempDir(), "nope", "ledger.json"), zap.NewNop())
	got, err := store.Load(context.Background())
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestJSONStoreCorruptFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "ledger.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"123": {"2024-03-09": {"total_calories": 1`), 0o644))

	store := NewJSONStore(path, zap.NewNop())
	store.now = func() time.Time { return time.Unix(1700000000, 0) }

	got, err := store.Load(context.Background())
	require.NoError(t, err)
	assert.Empty(t, got)

	_, err = os.Stat(path + ".corrupt-1700000000")
	assert.NoError(t, err, "corrupt file should be kept aside")
}

func TestJSONStoreRejectsBadDayKeys(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ledger.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"1": {"yesterday": {"total_calories": 0, "foods": []}}}`), 0o644))

	got, err := NewJSONStore(path, zap.NewNop()).Load(context.Background())
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestJSONStoreRepairsTotals(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ledger.json")
	doc := `{"7": {"2024-01-02": {"total_calories": 999, "foods": [
		{"name": "Egg", "calories": 70, "timestamp": "2024-01-02T08:00:00Z"},
		{"name": "Toast", "calories": 110, "timestamp": "2024-01-02T08:05:00Z"}]}}}`
	require.NoError(t, os.WriteFile(path, []byte(doc), 0o644))

	got, err := NewJSONStore(path, zap.NewNop()).Load(context.Background())
	require.NoError(t, err)
	rec, ok := got.Record("7", "2024-01-02")
	require.True(t, ok)
	assert.Equal(t, 180, rec.TotalCalories)
	assert.Equal(t, "Toast", rec.Foods[1].Name)
}

func TestJSONStoreFormat(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "ledger.json")
	store := NewJSONStore(path, zap.NewNop())
	require.NoError(t, store.Save(context.Background(), sampleLedger()))

	data, err := os.ReadFile(path)
	require.NoError(t, err)

	var doc map[string]map[string]struct {
		TotalCalories int `json:"total_calories"`
		Foods         []struct {
			Name      string `json:"name"`
			Calories  int    `json:"calories"`
			Timestamp string `json:"timestamp"`
		} `json:"foods"`
	}
	require.NoError(t, json.Unmarshal(data, &doc))
	day := doc["123456789"]["2024-03-09"]
	assert.Equal(t, 750, day.TotalCalories)
	require.Len(t, day.Foods, 2)
	assert.Equal(t, "Oatmeal", day.Foods[0].Name)
	assert.Equal(t, "2024-03-09T12:30:00Z", day.Foods[0].Timestamp)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	for _, e := range entries {
		assert.False(t, strings.Contains(e.Name(), ".tmp-"), "temp file left behind: %s", e.Name())
	}
}

func TestSQLiteStoreCorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ledger.db")
	require.NoError(t, os.WriteFile(path, []byte("definitely not sqlite, just some text padding it out to look like a header......"), 0o644))

	store, err := NewSQLiteStorage(path, zap.NewNop())
	require.NoError(t, err)
	defer store.Close()

	got, err := store.Load(context.Background())
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestOpenUnknownDriver(t *testing.T) {
	_, err := Open("postgres", "x", zap.NewNop())
	assert.Error(t, err)
}

func TestJSONStoreRepairsDecodableShapes(t *testing.T) {
	tests := []struct {
		name      string
		doc       string
		wantUsers int
		user      string
		day       models.Day
		wantTotal int
		wantFoods int
	}{
		{
			name:      "null day map",
			doc:       `{"123": null, "7": {"2024-01-02": {"total_calories": 5, "foods": [{"name": "Gum", "calories": 5}]}}}`,
			wantUsers: 1,
			user:      "7", day: "2024-01-02", wantTotal: 5, wantFoods: 1,
		},
		{
			name:      "null foods",
			doc:       `{"7": {"2024-01-02": {"total_calories": 40, "foods": null}}}`,
			wantUsers: 1,
			user:      "7", day: "2024-01-02", wantTotal: 0, wantFoods: 0,
		},
		{
			name:      "null record",
			doc:       `{"7": {"2024-01-02": null}}`,
			wantUsers: 1,
			user:      "7", day: "2024-01-02", wantTotal: 0, wantFoods: 0,
		},
		{
			name: "non-positive calories",
			doc: `{"7": {"2024-01-02": {"total_calories": 100, "foods": [
				{"name": "Apple", "calories": 95},
				{"name": "Typo", "calories": -50},
				{"name": "Nothing", "calories": 0},
				null]}}}`,
			wantUsers: 1,
			user:      "7", day: "2024-01-02", wantTotal: 95, wantFoods: 1,
		},
		{
			name:      "iso timestamp without offset",
			doc:       `{"7": {"2024-05-01": {"total_calories": 300, "foods": [{"name": "Rice", "calories": 300, "timestamp": "2024-05-01T12:30:00.123456"}]}}}`,
			wantUsers: 1,
			user:      "7", day: "2024-05-01", wantTotal: 300, wantFoods: 1,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "ledger.json")
			require.NoError(t, os.WriteFile(path, []byte(tt.doc), 0o644))

			got, err := NewJSONStore(path, zap.NewNop()).Load(context.Background())
			require.NoError(t, err)
			assert.Len(t, got, tt.wantUsers)
			for user, days := range got {
				assert.NotNil(t, days, "user %s has a nil day map", user)
			}

			rec, ok := got.Record(tt.user, tt.day)
			require.True(t, ok)
			assert.Equal(t, tt.wantTotal, rec.TotalCalories)
			assert.Len(t, rec.Foods, tt.wantFoods)
			assert.NotNil(t, rec.Foods)

			_, err = os.Stat(path)
			assert.NoError(t, err, "a repairable file must not be moved aside")
		})
	}
}

func TestJSONStoreLegacyTimestamp(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ledger.json")
	doc := `{"7": {"2024-05-01": {"total_calories": 300, "foods": [
		{"name": "Rice", "calories": 300, "timestamp": "2024-05-01T12:30:00.123456"}]}}}`
	require.NoError(t, os.WriteFile(path, []byte(doc), 0o644))

	store := NewJSONStore(path, zap.NewNop())
	got, err := store.Load(context.Background())
	require.NoError(t, err)
	rec, ok := got.Record("7", "2024-05-01")
	require.True(t, ok)
	require.Len(t, rec.Foods, 1)

	want := time.Date(2024, 5, 1, 12, 30, 0, 123456000, time.Local)
	assert.True(t, want.Equal(rec.Foods[0].Timestamp), "got %s", rec.Foods[0].Timestamp)

	// Saving writes an offset; loading that again keeps the instant.
	require.NoError(t, store.Save(context.Background(), got))
	again, err := store.Load(context.Background())
	require.NoError(t, err)
	rec, _ = again.Record("7", "2024-05-01")
	assert.True(t, want.Equal(rec.Foods[0].Timestamp))
}

func TestJSONStoreBadTimestampIsCorrupt(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ledger.json")
	doc := `{"7": {"2024-05-01": {"total_calories": 1, "foods": [{"name": "X", "calories": 1, "timestamp": "lunchtime"}]}}}`
	require.NoError(t, os.WriteFile(path, []byte(doc), 0o644))

	got, err := NewJSONStore(path, zap.NewNop()).Load(context.Background())
	require.NoError(t, err)
	assert.Empty(t, got)
}
