// Package schedule computes optimal send times for smart sending:
// business days only, a role-dependent hour of day, and a small jitter so
// a batch does not land at the exact same second.
package schedule

import (
	"math/rand"
	"strings"
	"time"

	"github.com/leadflow/outreach/internal/model"
)

const (
	jitterMinutes = 15
	executiveHour = 8
	technicalHour = 13
	defaultHour   = 10
)

// SendTimeHeuristic picks the local hour of day to deliver at, given what
// is known about the lead.
type SendTimeHeuristic interface {
	Hour(lead *model.Lead) int
}

// TitleHeuristic is the default heuristic: executives early morning,
// technical roles after lunch, everyone else mid-morning.
type TitleHeuristic struct{}

func (TitleHeuristic) Hour(lead *model.Lead) int {
	title := strings.ToLower(lead.JobTitle)
	switch {
	case containsAny(title, "ceo", "founder", "president", "vp"):
		return executiveHour
	case containsAny(title, "developer", "engineer"):
		return technicalHour
	default:
		return defaultHour
	}
}

func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}

// Scheduler computes send times. The clock and jitter source are
// injectable so tests are deterministic.
type Scheduler struct {
	heuristic SendTimeHeuristic
	now       func() time.Time
	jitter    func(n int) int
}

func New(h SendTimeHeuristic) *Scheduler {
	if h == nil {
		h = TitleHeuristic{}
	}
	return &Scheduler{
		heuristic: h,
		now:       time.Now,
		jitter:    rand.Intn,
	}
}

// OptimalSendTime returns the next good moment to email the lead, no
// earlier than earliest. Weekends roll forward to Monday; a computed
// time already in the past rolls forward one day.
func (s *Scheduler) OptimalSendTime(earliest time.Time, lead *model.Lead) time.Time {
	loc := time.UTC
	if lead.Timezone.Valid {
		if l, err := time.LoadLocation(lead.Timezone.String); err == nil {
			loc = l
		}
	}

	t := earliest.In(loc)
	t = nextBusinessDay(t)
	t = time.Date(t.Year(), t.Month(), t.Day(), s.heuristic.Hour(lead),
		s.jitter(jitterMinutes), 0, 0, loc)
	if t.Before(earliest) {
		t = nextBusinessDay(t.AddDate(0, 0, 1))
	}
	return t
}

func nextBusinessDay(t time.Time) time.Time {
	switch t.Weekday() {
	case time.Saturday:
		return t.AddDate(0, 0, 2)
	case time.Sunday:
		return t.AddDate(0, 0, 1)
	default:
		return t
	}
}

// DelayUntil converts a target send time into a queue delay, clamped to a
// one minute floor so an overdue target still gets a small breather
// instead of an immediate storm.
func (s *Scheduler) DelayUntil(target time.Time) time.Duration {
	d := target.Sub(s.now())
	if d < time.Minute {
		return time.Minute
	}
	return d
}
