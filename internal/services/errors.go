// Package services implements the business rules layered over the repo
// package: rate-limit ledgers, the blacklist state machine, dedup
// registries, and the persistent work queues. This file centralizes the
// service-level error values so callers can check them consistently.
package services

import "errors"

var (
	// ErrAlreadyRecorded indicates a dedup record already existed. Callers
	// treat the underlying action as already satisfied, not as a failure.
	ErrAlreadyRecorded = errors.New("already recorded")

	// ErrQueueEmpty is returned by non-blocking queue reads when nothing is
	// resident or nothing is ready yet.
	ErrQueueEmpty = errors.New("queue empty")

	// ErrBanStillActive is returned by BlacklistService.Remove when the
	// target is a temporary ban with time remaining; active temporary bans
	// are not lifted early.
	ErrBanStillActive = errors.New("temporary ban still active")

	// ErrNotBlacklisted indicates a remove request for a name that has no
	// ban row (or whose temporary ban already expired).
	ErrNotBlacklisted = errors.New("not blacklisted")
)
