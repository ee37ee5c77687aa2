package engine

import "errors"

// Terminal, user-facing outcomes of engine operations. None of these are
// retried; callers map them onto API responses with errors.Is.
var (
	ErrUnknownActivity  = errors.New("unknown activity")
	ErrDailyCapReached  = errors.New("daily cap reached")
	ErrWeeklyCapReached = errors.New("weekly cap reached")
	ErrNotFound         = errors.New("not found")
)
