package models

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPutIntoNilDayMap(t *testing.T) {
	l := Ledger{"123": nil}
	l.Put("123", "2024-05-01", DailyRecord{TotalCalories: 10, Foods: []FoodEntry{{Name: "Gum", Calories: 10}}})

	rec, ok := l.Record("123", "2024-05-01")
	require.True(t, ok)
	assert.Equal(t, 10, rec.TotalCalories)
}

func TestDropRemovesEmptyUser(t *testing.T) {
	l := Ledger{}
	l.Put("1", "2024-05-01", DailyRecord{Foods: []FoodEntry{}})
	l.Drop("1", "2024-05-01")
	assert.Empty(t, l)
}

func TestParseTimestamp(t *testing.T) {
	tests := []struct {
		in   string
		want time.Time
	}{
		{"2024-05-01T12:30:00Z", time.Date(2024, 5, 1, 12, 30, 0, 0, time.UTC)},
		{"2024-05-01T12:30:00.5+02:00", time.Date(2024, 5, 1, 10, 30, 0, 500000000, time.UTC)},
		{"2024-05-01T12:30:00.123456", time.Date(2024, 5, 1, 12, 30, 0, 123456000, time.Local)},
		{"2024-05-01T12:30:00", time.Date(2024, 5, 1, 12, 30, 0, 0, time.Local)},
		{"2024-05-01 12:30:00", time.Date(2024, 5, 1, 12, 30, 0, 0, time.Local)},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseTimestamp(tt.in)
			require.NoError(t, err)
			assert.True(t, tt.want.Equal(got), "got %s want %s", got, tt.want)
		})
	}

	_, err := ParseTimestamp("noon")
	assert.Error(t, err)
}

func TestFoodEntryDecode(t *testing.T) {
	var e FoodEntry
	require.NoError(t, json.Unmarshal([]byte(`{"id": "a", "name": "Rice", "calories": 300, "timestamp": "2024-05-01T12:30:00.123456"}`), &e))
	assert.Equal(t, "a", e.ID)
	assert.Equal(t, "Rice", e.Name)
	assert.Equal(t, 300, e.Calories)
	assert.Equal(t, 2024, e.Timestamp.Year())

	var bare FoodEntry
	require.NoError(t, json.Unmarshal([]byte(`{"name": "Tea", "calories": 5}`), &bare))
	assert.True(t, bare.Timestamp.IsZero())

	var bad FoodEntry
	assert.Error(t, json.Unmarshal([]byte(`{"name": "X", "calories": 1, "timestamp": "lunchtime"}`), &bad))
}
