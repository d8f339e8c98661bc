package markethours

import (
	"context"
	"fmt"
	"time"

	"kiteticker/pkg/kiteticker"
)

// IST is the Indian Standard Time location (UTC+5:30).
var IST = time.FixedZone("IST", 5*3600+30*60)

// Session is a trading window in minutes after midnight IST.
type Session struct {
	Open  int
	Close int
}

var (
	equitySession    = Session{Open: 9*60 + 15, Close: 15*60 + 30}
	currencySession  = Session{Open: 9 * 60, Close: 17 * 60}
	commoditySession = Session{Open: 9 * 60, Close: 23*60 + 30}
)

// SessionFor returns the regular session of ex. Index values follow the
// equity session.
func SessionFor(ex kiteticker.Exchange) Session {
	switch ex {
	case kiteticker.CDS, kiteticker.BCD:
		return currencySession
	case kiteticker.MCX, kiteticker.MCXSX:
		return commoditySession
	}
	return equitySession
}

// IsOpen returns true if t falls within the session of ex on a trading day.
func IsOpen(ex kiteticker.Exchange, t time.Time) bool {
	ist := t.In(IST)
	if !IsTradingDay(ist) {
		return false
	}
	s := SessionFor(ex)
	hm := ist.Hour()*60 + ist.Minute()
	return hm >= s.Open && hm < s.Close
}

// IsWeekday returns true if t is Mon–Fri.
func IsWeekday(t time.Time) bool {
	wd := t.In(IST).Weekday()
	return wd >= time.Monday && wd <= time.Friday
}

// IsTradingDay returns true if t is a weekday and not a holiday.
func IsTradingDay(t time.Time) bool {
	ist := t.In(IST)
	return IsWeekday(ist) && !IsHoliday(ist)
}

// NextOpen returns the next session open of ex.
// If t is before today's open on a trading day, returns today's open.
func NextOpen(ex kiteticker.Exchange, t time.Time) time.Time {
	ist := t.In(IST)
	s := SessionFor(ex)

	todayOpen := at(ist, s.Open)
	if ist.Before(todayOpen) && IsTradingDay(ist) {
		return todayOpen
	}

	d := ist.AddDate(0, 0, 1)
	for i := 0; i < 10; i++ { // max 10 days ahead (holidays + weekends)
		if IsTradingDay(d) {
			return at(d, s.Open)
		}
		d = d.AddDate(0, 0, 1)
	}
	return at(ist.AddDate(0, 0, 1), s.Open)
}

// TodayClose returns today's session close of ex.
func TodayClose(ex kiteticker.Exchange, t time.Time) time.Time {
	return at(t.In(IST), SessionFor(ex).Close)
}

// TimeUntilClose returns the duration until today's close.
// Returns 0 if the session is already over.
func TimeUntilClose(ex kiteticker.Exchange, t time.Time) time.Duration {
	d := TodayClose(ex, t).Sub(t)
	if d < 0 {
		return 0
	}
	return d
}

// StatusString returns a human-readable session status.
func StatusString(ex kiteticker.Exchange, t time.Time) string {
	if IsOpen(ex, t) {
		return fmt.Sprintf("%s open, closes in %s", ex, fmtDur(TimeUntilClose(ex, t)))
	}
	closed := "closed"
	if name, ok := Holiday(t); ok {
		closed = "closed for " + name
	}
	next := NextOpen(ex, t)
	ist := next.In(IST)
	return fmt.Sprintf("%s %s, opens %s %s (%s)",
		ex, closed, ist.Weekday().String()[:3], ist.Format("15:04"), fmtDur(next.Sub(t)))
}

// Poll calls report with the open state of every exchange now and then
// every interval, until ctx is cancelled.
func Poll(ctx context.Context, exchanges []kiteticker.Exchange, interval time.Duration, report func(ex kiteticker.Exchange, open bool)) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		now := time.Now()
		for _, ex := range exchanges {
			report(ex, IsOpen(ex, now))
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func at(day time.Time, minutes int) time.Time {
	return time.Date(day.Year(), day.Month(), day.Day(), minutes/60, minutes%60, 0, 0, IST)
}

func fmtDur(d time.Duration) string {
	h := int(d.Hours())
	m := int(d.Minutes()) % 60
	if h > 0 {
		return fmt.Sprintf("%dh%dm", h, m)
	}
	return fmt.Sprintf("%dm", m)
}
