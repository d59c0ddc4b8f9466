// Package time implements the tick counter and wall-clock cache (C11):
// a 64-bit count of timer IRQs, and the real-time clock read on demand and
// cached, adjustable by a timezone offset.
package time

import "comus/kernel/driver/cmos"

var mdayOffset = [12]int{0, 31, 59, 90, 120, 151, 181, 212, 243, 273, 304, 334}
var monthDays = [12]int{31, 28, 31, 30, 31, 30, 31, 31, 30, 31, 30, 31}

// WallClock is a decoded point in civil time, mirroring the fields the CMOS
// RTC exposes directly.
type WallClock struct {
	Sec, Min, Hour uint8
	WeekDay        uint8 // 0 == Sunday
	MonthDay       uint8
	Month          uint8 // 0-based
	Year           int   // full year, e.g. 2026
	YearDay        int   // 0-based day of year
	Leap           bool
}

// Timezone is a whole-hour UTC offset.
type Timezone int8

// TZUTC is the zero offset.
const TZUTC Timezone = 0

var (
	ticks  uint64
	utc    WallClock
	tz     = TZUTC
	reader = cmos.Default
)

// Ticks returns the current tick counter.
func Ticks() uint64 {
	return ticks
}

// Tick is invoked once per timer IRQ (C8's vector 32 handler) and returns
// the updated tick count.
func Tick() uint64 {
	ticks++
	return ticks
}

// SetTimezone installs the offset applied by Now.
func SetTimezone(z Timezone) {
	tz = z
}

// Refresh re-reads the CMOS RTC into the cached UTC wall clock. Called
// periodically (or on demand before gettime) rather than on every tick,
// since the RTC is comparatively slow to read.
func Refresh() {
	utc = readCMOS(reader)
}

// Now returns the cached wall clock, adjusted by the installed timezone.
func Now() WallClock {
	return applyTimezone(utc, tz)
}

// Unix returns w's Unix epoch timestamp (seconds since 1970-01-01T00:00:00Z),
// treating w as UTC regardless of any timezone already applied to it. Uses
// Howard Hinnant's days_from_civil algorithm for the proleptic Gregorian
// day count.
func (w WallClock) Unix() int64 {
	y := int64(w.Year)
	m := int64(w.Month) + 1
	d := int64(w.MonthDay)

	if m <= 2 {
		y--
	}

	era := y
	if y < 0 {
		era -= 399
	}
	era /= 400

	yoe := y - era*400
	var doy int64
	if m > 2 {
		doy = (153*(m-3) + 2) / 5
	} else {
		doy = (153*(m+9) + 2) / 5
	}
	doy += d - 1
	doe := yoe*365 + yoe/4 - yoe/100 + doy
	days := era*146097 + doe - 719468

	return days*86400 + int64(w.Hour)*3600 + int64(w.Min)*60 + int64(w.Sec)
}

func readCMOS(r cmos.Reader) WallClock {
	var w WallClock
	w.Sec = r.Read(cmos.RegSecond)
	w.Min = r.Read(cmos.RegMinute)
	w.Hour = r.Read(cmos.RegHour)
	w.WeekDay = r.Read(cmos.RegWeekday) - 1
	w.MonthDay = r.Read(cmos.RegMonthDay)
	w.Month = r.Read(cmos.RegMonth) - 1
	w.Year = 2000 + int(r.Read(cmos.RegYear))

	w.Leap = w.Year%4 == 0 && w.Year%100 != 0
	w.YearDay = mdayOffset[w.Month] + int(w.MonthDay) - 1
	if w.Leap && w.Month > 1 {
		w.YearDay++
	}

	return w
}

// applyTimezone rolls w.Hour by z hours, carrying day/month/year rollovers
// the same way the teacher's clock driver's update_localtime does.
func applyTimezone(w WallClock, z Timezone) WallClock {
	if z == TZUTC {
		return w
	}

	h := int(w.Hour) + int(z)
	dayChange := 0
	switch {
	case h < 0:
		dayChange = -1
	case h >= 24:
		dayChange = 1
	}
	w.Hour = uint8((h + 24) % 24)
	if dayChange == 0 {
		return w
	}

	w.WeekDay = uint8((int(w.WeekDay) + dayChange + 7) % 7)
	w.YearDay += dayChange

	mday := int(w.MonthDay) + dayChange
	maxDay := monthDays[w.Month]
	if w.Leap && w.Month == 1 {
		maxDay++
	}
	monthChange := 0
	switch {
	case mday < 1:
		monthChange = -1
		mday = maxDay
	case mday > maxDay:
		monthChange = 1
		mday = 1
	}
	w.MonthDay = uint8(mday)
	if monthChange == 0 {
		return w
	}

	month := int(w.Month) + monthChange
	if month < 0 {
		month += 12
		w.Year--
	} else if month >= 12 {
		month -= 12
		w.Year++
	}
	w.Month = uint8(month)
	w.Leap = w.Year%4 == 0 && w.Year%100 != 0

	return w
}
