package model

import "time"

// Streak counts consecutive days on which the task requirement was met
type Streak struct {
	Current  int     `json:"current"`
	Longest  int     `json:"longest"`
	LastDate *string `json:"lastDate"`
}

// Advance records a qualifying day. It is a no-op when today was already
// recorded and returns whether the streak changed.
func (s *Streak) Advance(today time.Time) bool {
	day := today.Format(DateLayout)
	if s.LastDate != nil && *s.LastDate == day {
		return false
	}

	yesterday := today.AddDate(0, 0, -1).Format(DateLayout)
	if s.LastDate != nil && *s.LastDate == yesterday {
		s.Current++
	} else {
		s.Current = 1
	}
	if s.Current > s.Longest {
		s.Longest = s.Current
	}
	s.LastDate = &day
	return true
}
