// internal/models/food.go
package models

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// DayLayout is the calendar date format used for ledger keys.
const DayLayout = "2006-01-02"

// Day is a calendar date in DayLayout form.
type Day string

// DayOf returns the calendar day of t in t's location.
func DayOf(t time.Time) Day {
	return Day(t.Format(DayLayout))
}

// ParseDay validates s as a calendar date.
func ParseDay(s string) (Day, error) {
	if _, err := time.Parse(DayLayout, s); err != nil {
		return "", fmt.Errorf("invalid date %q (want YYYY-MM-DD): %w", s, err)
	}
	return Day(s), nil
}

type FoodEntry struct {
	ID        string    `json:"id,omitempty"`
	Name      string    `json:"name"`
	Calories  int       `json:"calories"`
	Timestamp time.Time `json:"timestamp"`
}

// Layouts accepted for stored timestamps. Files written by older bots
// carry ISO-8601 local times without an offset.
var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999",
}

// ParseTimestamp parses an ISO-8601 timestamp. Values without an offset
// are read in local time.
func ParseTimestamp(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	for _, layout := range timestampLayouts {
		if t, err := time.ParseInLocation(layout, s, time.Local); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("invalid timestamp %q", s)
}

// UnmarshalJSON accepts timestamps with or without an offset. A null or
// empty timestamp leaves the zero time.
func (e *FoodEntry) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		return nil
	}
	type plain FoodEntry
	var raw struct {
		plain
		Timestamp *string `json:"timestamp"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*e = FoodEntry(raw.plain)
	e.Timestamp = time.Time{}
	if raw.Timestamp != nil && strings.TrimSpace(*raw.Timestamp) != "" {
		t, err := ParseTimestamp(*raw.Timestamp)
		if err != nil {
			return err
		}
		e.Timestamp = t
	}
	return nil
}

// DailyRecord is one user's foods for one day. TotalCalories always equals
// the sum of Foods[i].Calories between operations.
type DailyRecord struct {
	TotalCalories int         `json:"total_calories"`
	Foods         []FoodEntry `json:"foods"`
}

// Sum recomputes the total from the entries.
func (r DailyRecord) Sum() int {
	total := 0
	for _, f := range r.Foods {
		total += f.Calories
	}
	return total
}

func (r DailyRecord) Clone() DailyRecord {
	foods := make([]FoodEntry, len(r.Foods))
	copy(foods, r.Foods)
	return DailyRecord{TotalCalories: r.TotalCalories, Foods: foods}
}

// Ledger maps user id -> day -> record. User ids are strings even when the
// chat platform uses numeric ids.
type Ledger map[string]map[Day]DailyRecord

// Clone returns a deep copy.
func (l Ledger) Clone() Ledger {
	out := make(Ledger, len(l))
	for user, days := range l {
		cp := make(map[Day]DailyRecord, len(days))
		for day, rec := range days {
			cp[day] = rec.Clone()
		}
		out[user] = cp
	}
	return out
}

// Record returns the record for (user, day) and whether it exists.
func (l Ledger) Record(user string, day Day) (DailyRecord, bool) {
	days, ok := l[user]
	if !ok {
		return DailyRecord{}, false
	}
	rec, ok := days[day]
	return rec, ok
}

// Put stores rec, creating the user's day map on first write.
func (l Ledger) Put(user string, day Day, rec DailyRecord) {
	days := l[user]
	if days == nil {
		days = make(map[Day]DailyRecord)
		l[user] = days
	}
	days[day] = rec
}

// Drop deletes the record for (user, day) and the user's map when empty.
func (l Ledger) Drop(user string, day Day) {
	days, ok := l[user]
	if !ok {
		return
	}
	delete(days, day)
	if len(days) == 0 {
		delete(l, user)
	}
}
