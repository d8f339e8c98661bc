package markethours

import "time"

type holiday struct {
	month time.Month
	day   int
	name  string
}

// Trading holidays by year. The exchanges publish one calendar for the
// equity, derivative and currency segments; commodity segments follow it
// for the morning session, which is all the daemon tracks.
var holidays = map[int][]holiday{
	2026: {
		{time.January, 26, "Republic Day"},
		{time.February, 17, "Mahashivratri"},
		{time.March, 14, "Holi"},
		{time.March, 31, "Id-ul-Fitr"},
		{time.April, 2, "Ram Navami"},
		{time.April, 6, "Mahavir Jayanti"},
		{time.April, 10, "Good Friday"},
		{time.April, 14, "Dr. Ambedkar Jayanti"},
		{time.May, 1, "Maharashtra Day"},
		{time.June, 7, "Bakri Id"},
		{time.July, 6, "Muharram"},
		{time.August, 15, "Independence Day"},
		{time.August, 16, "Janmashtami"},
		{time.September, 5, "Milad-un-Nabi"},
		{time.October, 2, "Mahatma Gandhi Jayanti"},
		{time.October, 20, "Dussehra"},
		{time.October, 21, "Dussehra"},
		{time.November, 5, "Diwali Laxmi Pujan"},
		{time.November, 6, "Diwali Balipratipada"},
		{time.November, 7, "Bhai Dooj"},
		{time.November, 19, "Guru Nanak Jayanti"},
		{time.December, 25, "Christmas"},
	},
}

// holidayNames is keyed by yyyy-mm-dd in IST.
var holidayNames = func() map[string]string {
	m := make(map[string]string)
	for year, hs := range holidays {
		for _, h := range hs {
			m[dateKey(year, h.month, h.day)] = h.name
		}
	}
	return m
}()

// Holiday returns the name of the trading holiday on t's IST date.
func Holiday(t time.Time) (string, bool) {
	ist := t.In(IST)
	name, ok := holidayNames[dateKey(ist.Year(), ist.Month(), ist.Day())]
	return name, ok
}

// IsHoliday reports whether t's IST date is a trading holiday.
func IsHoliday(t time.Time) bool {
	_, ok := Holiday(t)
	return ok
}

func dateKey(year int, month time.Month, day int) string {
	return time.Date(year, month, day, 0, 0, 0, 0, IST).Format("2006-01-02")
}
