package cache

import (
	"time"

	"github.com/robfig/cron/v3"
)

// DefaultExpireSchedule expires entries at the next minute boundary.
const DefaultExpireSchedule = "0 * * * * *"

// FallbackExpiry is used when a schedule yields no future instant.
const FallbackExpiry = time.Minute

// NoExpiry marks a value that should never expire.
var NoExpiry = time.Date(9999, time.December, 31, 23, 59, 59, 0, time.UTC)

var scheduleParser = cron.NewParser(
	cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
)

// Schedule computes the default expiry for writes that do not supply one.
type Schedule struct {
	spec  string
	sched cron.Schedule
}

// ParseSchedule parses a cron expression with an optional leading seconds
// field, or a descriptor such as "@hourly" or "@every 5m". An empty spec
// selects DefaultExpireSchedule.
func ParseSchedule(spec string) (*Schedule, error) {
	if spec == "" {
		spec = DefaultExpireSchedule
	}
	sched, err := scheduleParser.Parse(spec)
	if err != nil {
		return nil, invalidArgument("invalid expire schedule %q: %v", spec, err)
	}
	return &Schedule{spec: spec, sched: sched}, nil
}

// MustParseSchedule is like ParseSchedule but panics on error.
func MustParseSchedule(spec string) *Schedule {
	s, err := ParseSchedule(spec)
	if err != nil {
		panic(err)
	}
	return s
}

func (s *Schedule) String() string {
	return s.spec
}

// Next returns the first instant after now allowed by the schedule, or
// now plus FallbackExpiry when there is none.
func (s *Schedule) Next(now time.Time) time.Time {
	next := s.sched.Next(now)
	if next.IsZero() || !next.After(now) {
		return now.Add(FallbackExpiry)
	}
	return next
}
