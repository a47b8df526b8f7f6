package memory

import (
	"autosave/internal/repository"
	"time"
)

var (
	_ repository.RuleRepository    = (*RuleRepository)(nil)
	_ repository.RoundUpRepository = (*RoundUpRepository)(nil)
	_ repository.GoalRepository    = (*GoalRepository)(nil)
	_ repository.AccountRepository = (*AccountRepository)(nil)
)

// Clock stands in for the server-side timestamp a document store assigns.
type Clock func() time.Time

func defaultClock(c Clock) Clock {
	if c == nil {
		return time.Now
	}
	return c
}
