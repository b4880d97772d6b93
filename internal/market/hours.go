package market

import "time"

// Saudi Exchange session: Sunday through Thursday, 10:00 to 15:00 Riyadh time.
const (
	marketTimeZone   = "Asia/Riyadh"
	sessionOpenHour  = 10
	sessionCloseHour = 15
)

type SessionStatus struct {
	Open      bool      `json:"open"`
	Day       string    `json:"day"`
	LocalTime time.Time `json:"local_time"`
	NextOpen  time.Time `json:"next_open"`
	NextClose time.Time `json:"next_close,omitempty"`
}

func marketLocation() *time.Location {
	loc, err := time.LoadLocation(marketTimeZone)
	if err != nil {
		// Riyadh has no DST, a fixed offset is equivalent.
		return time.FixedZone("AST", 3*60*60)
	}
	return loc
}

func isTradingDay(t time.Time) bool {
	wd := t.Weekday()
	return wd != time.Friday && wd != time.Saturday
}

func sessionOpenAt(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), sessionOpenHour, 0, 0, 0, t.Location())
}

func sessionCloseAt(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), sessionCloseHour, 0, 0, 0, t.Location())
}

// Session reports whether the exchange is trading at the given instant, plus
// the next open and, while trading, the close of the current session.
func Session(now time.Time) SessionStatus {
	local := now.In(marketLocation())
	open := isTradingDay(local) && !local.Before(sessionOpenAt(local)) && !local.After(sessionCloseAt(local))

	st := SessionStatus{
		Open:      open,
		Day:       local.Weekday().String(),
		LocalTime: local,
	}
	if open {
		st.NextClose = sessionCloseAt(local)
	}
	st.NextOpen = nextSessionOpen(local)
	return st
}

func nextSessionOpen(local time.Time) time.Time {
	if isTradingDay(local) && local.Before(sessionOpenAt(local)) {
		return sessionOpenAt(local)
	}
	for d := 1; d <= 7; d++ {
		cand := local.AddDate(0, 0, d)
		if isTradingDay(cand) {
			return sessionOpenAt(cand)
		}
	}
	return sessionOpenAt(local)
}
