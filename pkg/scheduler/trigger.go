package scheduler

import (
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/rothirschtec/Simple-Backup-Environment/pkg/errdefs"
	"github.com/rothirschtec/Simple-Backup-Environment/pkg/types"
)

var (
	everyHours   = regexp.MustCompile(`^(\d+)[hH]$`)
	everyMinutes = regexp.MustCompile(`^(\d+)[mM]$`)
	clockTime    = regexp.MustCompile(`^(\d{2}):(\d{2})$`)

	dayOfMonth = regexp.MustCompile(`^\d{1,2}$`)
	weekday    = regexp.MustCompile(`^[A-Za-z]+$`)
	monthDay   = regexp.MustCompile(`^([A-Za-z]+)-(\d{1,2})$`)
)

// IntervalRule decides whether a job is due at a given minute
type IntervalRule func(now time.Time) bool

// DateRule restricts a due interval to matching days
type DateRule func(now time.Time) bool

// ParseInterval parses "<N>h", "<N>m" or "HH:MM"
func ParseInterval(s string) (IntervalRule, error) {
	s = strings.TrimSpace(s)

	if m := everyHours.FindStringSubmatch(s); m != nil {
		n, _ := strconv.Atoi(m[1])
		if n == 0 {
			return nil, errdefs.Configurationf("interval %q: hours must be positive", s)
		}
		return func(now time.Time) bool {
			return now.Hour()%n == 0 && now.Minute() == 0
		}, nil
	}

	if m := everyMinutes.FindStringSubmatch(s); m != nil {
		n, _ := strconv.Atoi(m[1])
		if n == 0 {
			return nil, errdefs.Configurationf("interval %q: minutes must be positive", s)
		}
		return func(now time.Time) bool {
			return now.Minute()%n == 0
		}, nil
	}

	if m := clockTime.FindStringSubmatch(s); m != nil {
		hour, _ := strconv.Atoi(m[1])
		minute, _ := strconv.Atoi(m[2])
		if hour > 23 || minute > 59 {
			return nil, errdefs.Configurationf("interval %q: invalid time of day", s)
		}
		return func(now time.Time) bool {
			return now.Hour() == hour && now.Minute() == minute
		}, nil
	}

	return nil, errdefs.Configurationf("unknown interval format: %q", s)
}

// ParseDate parses "*", a day of month, a weekday name ("Mon" or "Monday")
// or a month and day ("Jan-1" or "January-1"). Names are case-sensitive.
func ParseDate(s string) (DateRule, error) {
	s = strings.TrimSpace(s)

	switch {
	case s == "*":
		return func(time.Time) bool { return true }, nil

	case dayOfMonth.MatchString(s):
		day, _ := strconv.Atoi(s)
		if day < 1 || day > 31 {
			return nil, errdefs.Configurationf("date %q: day of month out of range", s)
		}
		return func(now time.Time) bool { return now.Day() == day }, nil

	case weekday.MatchString(s):
		wd, ok := parseWeekday(s)
		if !ok {
			return nil, errdefs.Configurationf("date %q: unknown weekday", s)
		}
		return func(now time.Time) bool { return now.Weekday() == wd }, nil
	}

	if m := monthDay.FindStringSubmatch(s); m != nil {
		month, ok := parseMonth(m[1])
		if !ok {
			return nil, errdefs.Configurationf("date %q: unknown month", s)
		}
		day, _ := strconv.Atoi(m[2])
		if day < 1 || day > 31 {
			return nil, errdefs.Configurationf("date %q: day of month out of range", s)
		}
		return func(now time.Time) bool { return now.Month() == month && now.Day() == day }, nil
	}

	return nil, errdefs.Configurationf("unknown date pattern format: %q", s)
}

func parseWeekday(s string) (time.Weekday, bool) {
	for d := time.Sunday; d <= time.Saturday; d++ {
		long := d.String()
		if s == long || s == long[:3] {
			return d, true
		}
	}
	return 0, false
}

func parseMonth(s string) (time.Month, bool) {
	for m := time.January; m <= time.December; m++ {
		long := m.String()
		if s == long || s == long[:3] {
			return m, true
		}
	}
	return 0, false
}

// Due reports whether job is due at now. The date rule is only evaluated
// when the interval rule matches.
func Due(job types.JobDefinition, now time.Time) (bool, error) {
	interval, err := ParseInterval(job.Interval)
	if err != nil {
		return false, err
	}
	if !interval(now) {
		return false, nil
	}
	date, err := ParseDate(job.Date)
	if err != nil {
		return false, err
	}
	return date(now), nil
}
