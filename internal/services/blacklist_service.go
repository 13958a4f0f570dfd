// Package services – blacklist state machine.
//
// Per (name, kind): Unbanned → TemporarilyBanned → expired → Unbanned, with
// a permanent request at any point flipping Start to the permanent sentinel.
// Expiry is lazy: any read that finds a temporary ban past its duration
// deletes the row before answering. The source's pending-permanent flag
// (set by repeated temporary requests, cancelled by Remove) was dropped in
// favor of one policy: a permanent request upgrades in place and Remove
// deletes permanent or expired rows outright.
package services

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/text/cases"
	"gorm.io/gorm"

	"github.com/lv10wizard/ig-highlights-bot-sub000/internal/domain"
	"github.com/lv10wizard/ig-highlights-bot-sub000/internal/reddit"
	"github.com/lv10wizard/ig-highlights-bot-sub000/internal/repo"
)

// Permanent is the sentinel TimeLeft returns for a permanent ban.
const Permanent = time.Duration(-1)

// nameFolder canonicalizes blacklist names; reddit identities are
// case-insensitive.
var nameFolder = cases.Fold()

// BlacklistService tracks banned subreddits and users.
type BlacklistService struct {
	// DB is the GORM handle used for persistence.
	DB *gorm.DB
	// TempBanDuration is how long a temporary ban lasts.
	TempBanDuration time.Duration
	// Now is the clock; tests inject a virtual one.
	Now func() time.Time

	log zerolog.Logger
}

// NewBlacklistService constructs the service with the given temporary-ban
// duration.
func NewBlacklistService(db *gorm.DB, tempBan time.Duration, log zerolog.Logger) *BlacklistService {
	return &BlacklistService{
		DB:              db,
		TempBanDuration: tempBan,
		Now:             time.Now,
		log:             log.With().Str("component", "blacklist").Logger(),
	}
}

// Add bans (name, kind). Temporary bans start now; permanent bans store the
// sentinel. Requests against an existing row follow the state machine:
// temporary-on-temporary is a no-op, permanent-on-temporary upgrades in
// place, anything-on-permanent is a no-op.
func (s *BlacklistService) Add(ctx context.Context, name string, kind domain.ThingKind, temporary bool) error {
	name = nameFolder.String(name)

	cur, err := s.lookup(ctx, name, kind)
	if err != nil && !errors.Is(err, repo.ErrNotFound) {
		return err
	}

	if cur == nil {
		start := domain.PermanentStart
		if temporary {
			start = repo.UnixSeconds(s.Now())
		}
		err := repo.InsertBlacklistEntry(ctx, s.DB, name, kind, start)
		if errors.Is(err, repo.ErrDuplicate) {
			// Lost a race with another process; the ban exists either way.
			s.log.Debug().Str("name", name).Msg("blacklist insert raced, already banned")
			return nil
		}
		if err == nil {
			s.log.Info().Str("name", name).Str("kind", string(kind)).
				Bool("temporary", temporary).Msg("blacklisted")
		}
		return err
	}

	if cur.Permanent() || temporary {
		// Already covered by an equal or stronger ban.
		return nil
	}

	// Upgrade: temporary → permanent.
	cur.Start = domain.PermanentStart
	if err := repo.UpdateBlacklistStart(ctx, s.DB, cur); err != nil {
		return err
	}
	s.log.Info().Str("name", name).Str("kind", string(kind)).Msg("blacklist upgraded to permanent")
	return nil
}

// Remove lifts a ban. Permanent and expired rows are deleted outright;
// an active temporary ban is not lifted early (ErrBanStillActive, with the
// row untouched). A missing row returns ErrNotBlacklisted.
func (s *BlacklistService) Remove(ctx context.Context, name string, kind domain.ThingKind) error {
	name = nameFolder.String(name)

	cur, err := s.lookup(ctx, name, kind)
	if errors.Is(err, repo.ErrNotFound) {
		return ErrNotBlacklisted
	}
	if err != nil {
		return err
	}
	if cur == nil {
		return ErrNotBlacklisted
	}

	if !cur.Permanent() && s.remaining(cur) > 0 {
		return ErrBanStillActive
	}

	if err := repo.DeleteBlacklistEntry(ctx, s.DB, name, kind); err != nil {
		return err
	}
	s.log.Info().Str("name", name).Str("kind", string(kind)).Msg("blacklist entry removed")
	return nil
}

// TimeLeft reports the remaining ban time for (name, kind): 0 when unbanned,
// a positive duration for an active temporary ban, or the Permanent
// sentinel. Expired rows are physically removed before answering.
func (s *BlacklistService) TimeLeft(ctx context.Context, name string, kind domain.ThingKind) (time.Duration, error) {
	name = nameFolder.String(name)

	cur, err := s.lookup(ctx, name, kind)
	if errors.Is(err, repo.ErrNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	if cur == nil {
		return 0, nil
	}
	if cur.Permanent() {
		return Permanent, nil
	}
	return s.remaining(cur), nil
}

// IsBlacklisted checks the thing's subreddit first, then its author, and
// returns the matched prefixed name ("r/x" or "u/y").
func (s *BlacklistService) IsBlacklisted(ctx context.Context, thing *reddit.Thing) (string, bool, error) {
	if thing.Subreddit != "" {
		left, err := s.TimeLeft(ctx, thing.Subreddit, domain.KindSubreddit)
		if err != nil {
			return "", false, err
		}
		if left != 0 {
			return domain.KindSubreddit.Prefix() + thing.Subreddit, true, nil
		}
	}
	if thing.Author != "" {
		left, err := s.TimeLeft(ctx, thing.Author, domain.KindUser)
		if err != nil {
			return "", false, err
		}
		if left != 0 {
			return domain.KindUser.Prefix() + thing.Author, true, nil
		}
	}
	return "", false, nil
}

// List returns all resident entries (for the CLI), after lazily expiring
// stale temporary rows.
func (s *BlacklistService) List(ctx context.Context) ([]domain.BlacklistEntry, error) {
	recs, err := repo.ListBlacklistEntries(ctx, s.DB)
	if err != nil {
		return nil, err
	}
	out := recs[:0]
	for _, rec := range recs {
		if !rec.Permanent() && s.remaining(&rec) <= 0 {
			if err := repo.DeleteBlacklistEntry(ctx, s.DB, rec.Name, rec.Kind); err != nil {
				s.log.Warn().Err(err).Str("name", rec.Name).Msg("failed to expire blacklist entry")
			}
			continue
		}
		out = append(out, rec)
	}
	return out, nil
}

// lookup fetches the row and applies expire-on-read: a temporary ban past
// its duration is deleted and reported as absent (nil, nil).
func (s *BlacklistService) lookup(ctx context.Context, name string, kind domain.ThingKind) (*domain.BlacklistEntry, error) {
	cur, err := repo.GetBlacklistEntry(ctx, s.DB, name, kind)
	if err != nil {
		return nil, err
	}
	if !cur.Permanent() && s.remaining(cur) <= 0 {
		if err := repo.DeleteBlacklistEntry(ctx, s.DB, name, kind); err != nil {
			return nil, err
		}
		s.log.Debug().Str("name", name).Str("kind", string(kind)).Msg("temporary ban expired")
		return nil, nil
	}
	return cur, nil
}

// remaining computes the time left on a temporary ban.
func (s *BlacklistService) remaining(rec *domain.BlacklistEntry) time.Duration {
	elapsed := repo.UnixSeconds(s.Now()) - rec.Start
	return s.TempBanDuration - time.Duration(elapsed*float64(time.Second))
}
