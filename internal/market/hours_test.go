package market

import (
	"testing"
	"time"
)

// 2025-03-02 is a Sunday.
func riyadh(day, hour, min int) time.Time {
	return time.Date(2025, 3, day, hour, min, 0, 0, marketLocation())
}

func TestSessionOpenState(t *testing.T) {
	cases := []struct {
		name string
		at   time.Time
		open bool
	}{
		{"sunday midday", riyadh(2, 12, 0), true},
		{"sunday at open", riyadh(2, 10, 0), true},
		{"sunday before open", riyadh(2, 9, 59), false},
		{"monday midday", riyadh(3, 12, 0), true},
		{"thursday at close", riyadh(6, 15, 0), true},
		{"thursday after close", riyadh(6, 15, 1), false},
		{"friday midday", riyadh(7, 12, 0), false},
		{"saturday midday", riyadh(8, 12, 0), false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := Session(tc.at).Open; got != tc.open {
				t.Fatalf("open = %v, want %v", got, tc.open)
			}
		})
	}
}

func TestSessionNextOpen(t *testing.T) {
	cases := []struct {
		name string
		at   time.Time
		want time.Time
	}{
		{"before same-day open", riyadh(3, 8, 0), riyadh(3, 10, 0)},
		{"after thursday close", riyadh(6, 16, 0), riyadh(9, 10, 0)},
		{"friday", riyadh(7, 12, 0), riyadh(9, 10, 0)},
		{"saturday", riyadh(8, 12, 0), riyadh(9, 10, 0)},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := Session(tc.at).NextOpen; !got.Equal(tc.want) {
				t.Fatalf("next open = %v, want %v", got, tc.want)
			}
		})
	}
}

func TestSessionNextCloseWhileOpen(t *testing.T) {
	st := Session(riyadh(2, 12, 0))
	if !st.Open {
		t.Fatal("expected open session")
	}
	if !st.NextClose.Equal(riyadh(2, 15, 0)) {
		t.Fatalf("next close = %v, want 15:00", st.NextClose)
	}
}

func TestSessionConvertsFromOtherZones(t *testing.T) {
	// 07:30 UTC on a Sunday is 10:30 in Riyadh.
	utc := time.Date(2025, 3, 2, 7, 30, 0, 0, time.UTC)
	st := Session(utc)
	if !st.Open {
		t.Fatal("expected open session for 10:30 Riyadh time")
	}
	if st.Day != "Sunday" {
		t.Fatalf("day = %s, want Sunday", st.Day)
	}
}
