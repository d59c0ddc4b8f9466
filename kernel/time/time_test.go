package time

import (
	"testing"

	"comus/kernel/driver/cmos"
)

type fakeReader map[cmos.Register]uint8

func (f fakeReader) Read(reg cmos.Register) uint8 { return f[reg] }

func TestTickIncrementsMonotonically(t *testing.T) {
	origTicks := ticks
	defer func() { ticks = origTicks }()
	ticks = 0

	for i := uint64(1); i <= 3; i++ {
		if got := Tick(); got != i {
			t.Fatalf("expected tick %d; got %d", i, got)
		}
	}
	if Ticks() != 3 {
		t.Fatalf("expected Ticks()==3; got %d", Ticks())
	}
}

func TestRefreshDecodesCMOSFields(t *testing.T) {
	origReader, origUTC := reader, utc
	defer func() { reader, utc = origReader, origUTC }()

	reader = fakeReader{
		cmos.RegSecond:   30,
		cmos.RegMinute:   15,
		cmos.RegHour:     9,
		cmos.RegWeekday:  3, // Tuesday (1-based in the fake, like the real RTC)
		cmos.RegMonthDay: 15,
		cmos.RegMonth:    7, // July (1-based)
		cmos.RegYear:     26,
	}

	Refresh()
	now := Now()

	if now.Sec != 30 || now.Min != 15 || now.Hour != 9 {
		t.Fatalf("unexpected time of day: %+v", now)
	}
	if now.Year != 2026 {
		t.Fatalf("expected year 2026; got %d", now.Year)
	}
	if now.Month != 6 {
		t.Fatalf("expected 0-based month 6 (July); got %d", now.Month)
	}
	if now.WeekDay != 2 {
		t.Fatalf("expected 0-based weekday 2; got %d", now.WeekDay)
	}
}

func TestTimezoneRollsHourAcrossMidnight(t *testing.T) {
	origTZ := tz
	defer func() { tz = origTZ }()

	w := WallClock{Hour: 23, MonthDay: 31, Month: 11, Year: 2026, WeekDay: 4, YearDay: 364}

	adjusted := applyTimezone(w, Timezone(2))

	if adjusted.Hour != 1 {
		t.Fatalf("expected hour to roll to 1; got %d", adjusted.Hour)
	}
	if adjusted.MonthDay != 1 || adjusted.Month != 0 || adjusted.Year != 2027 {
		t.Fatalf("expected date to roll into the next year; got %+v", adjusted)
	}
}

func TestTimezoneUTCIsNoop(t *testing.T) {
	w := WallClock{Hour: 12, MonthDay: 1, Month: 0, Year: 2026}
	if got := applyTimezone(w, TZUTC); got != w {
		t.Fatalf("expected UTC to be a no-op; got %+v", got)
	}
}
