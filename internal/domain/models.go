// Package domain defines the persistence models for the bot's bookkeeping
// stores: rate-limit hits, blacklist entries, dedup records, reply history,
// and the persistent work queues. These types are mapped with GORM and form
// the schema contract other tooling (the dump CLI) depends on.
package domain

import "time"

// PermanentStart is the sentinel stored in BlacklistEntry.Start (and
// reported by TimeLeft) for a permanent ban. Kept negative so any real unix
// timestamp compares greater.
const PermanentStart = -1.0

// ThingKind distinguishes blacklistable identities.
type ThingKind string

// Blacklist entry kinds.
const (
	KindSubreddit ThingKind = "subreddit"
	KindUser      ThingKind = "user"
)

// Prefix returns the human-displayable prefix for the kind ("r/" or "u/").
func (k ThingKind) Prefix() string {
	if k == KindSubreddit {
		return "r/"
	}
	return "u/"
}

// Hit is one accounted request against an external rate-limited resource.
// A hit counts against its pool's quota until now - Timestamp >= the pool's
// max age, after which it is prunable. Hits are never updated, only pruned.
//
// Fields:
//   - ID: surrogate UUID primary key.
//   - Pool: quota pool name (e.g. "reddit", "imgur_user").
//   - URL / Method: the request this hit accounts for (debugging aid).
//   - Timestamp: unix seconds (fractional) at which the hit was recorded.
type Hit struct {
	ID        string  `json:"id"        gorm:"type:char(36);primaryKey"`
	Pool      string  `json:"pool"      gorm:"type:varchar(32);not null;index:idx_hits_pool_ts,priority:1"`
	URL       string  `json:"url"       gorm:"type:text"`
	Method    string  `json:"method"    gorm:"type:varchar(8)"`
	Timestamp float64 `json:"timestamp" gorm:"not null;index:idx_hits_pool_ts,priority:2"`
}

// TableName returns the database table name for Hit.
func (Hit) TableName() string { return "hits" }

// BlacklistEntry is a permanently or temporarily banned subreddit or user.
// Start holds unix seconds for a temporary ban, or PermanentStart for a
// permanent one. Uniqueness on (name, kind) is the invariant that makes
// concurrent ban requests collapse into one row.
type BlacklistEntry struct {
	ID    uint      `json:"id"    gorm:"primaryKey;autoIncrement"`
	Name  string    `json:"name"  gorm:"type:varchar(64);not null;uniqueIndex:ux_blacklist_name_kind"`
	Kind  ThingKind `json:"kind"  gorm:"type:varchar(16);not null;uniqueIndex:ux_blacklist_name_kind;check:kind IN ('subreddit','user')"`
	Start float64   `json:"start" gorm:"not null"`
}

// TableName returns the database table name for BlacklistEntry.
func (BlacklistEntry) TableName() string { return "blacklist" }

// Permanent reports whether the entry is permanently banned.
func (b BlacklistEntry) Permanent() bool { return b.Start < 0 }

// SeenThing records that a stream item (message, mention, comment) was
// observed, making stream processing idempotent across restarts. Fullname is
// the unique dedup key; Submission/Author form the optional secondary key
// used for mentions.
type SeenThing struct {
	ID         string    `json:"id"         gorm:"type:char(36);primaryKey"`
	Fullname   string    `json:"fullname"   gorm:"type:varchar(32);not null;uniqueIndex:ux_seen_fullname"`
	Submission string    `json:"submission" gorm:"type:varchar(32);index"`
	Author     string    `json:"author"     gorm:"type:varchar(64)"`
	SeenAt     time.Time `json:"seen_at"`
}

// TableName returns the database table name for SeenThing.
func (SeenThing) TableName() string { return "seen_things" }

// ReplyRecord is the at-most-once guarantee for posted replies: the same
// Instagram user may be credited in different submissions but never twice in
// the same one. The unique index is enforced at the storage layer because
// two independent worker processes may race to reply to the same submission.
type ReplyRecord struct {
	ID           string    `json:"id"            gorm:"type:char(36);primaryKey"`
	SubmissionID string    `json:"submission_id" gorm:"type:varchar(32);not null;uniqueIndex:ux_reply_submission_user"`
	IGUser       string    `json:"ig_user"       gorm:"type:varchar(64);not null;uniqueIndex:ux_reply_submission_user"`
	CommentID    string    `json:"comment_id"    gorm:"type:varchar(32)"`
	RepliedAt    time.Time `json:"replied_at"`
}

// TableName returns the database table name for ReplyRecord.
func (ReplyRecord) TableName() string { return "reply_history" }

// QueueEntry is one resident item of a persistent work queue. Key is unique
// per queue while the entry is resident: a duplicate Put refreshes Payload
// and EnqueuedAt rather than inserting a second row. Payload is an opaque
// msgpack blob owned by the producing worker. ReadyAt is zero for plain FIFO
// queues; the rate-limit retry queue sets it to the unix time at which the
// entry becomes retriable.
type QueueEntry struct {
	ID         uint    `json:"id"          gorm:"primaryKey;autoIncrement"`
	Queue      string  `json:"queue"       gorm:"type:varchar(32);not null;uniqueIndex:ux_queue_key,priority:1;index:idx_queue_age,priority:1"`
	Key        string  `json:"key"         gorm:"type:varchar(128);not null;uniqueIndex:ux_queue_key,priority:2"`
	EnqueuedAt float64 `json:"enqueued_at" gorm:"not null;index:idx_queue_age,priority:2"`
	ReadyAt    float64 `json:"ready_at"    gorm:"not null;default:0"`
	Payload    []byte  `json:"payload"     gorm:"type:blob"`
}

// TableName returns the database table name for QueueEntry.
func (QueueEntry) TableName() string { return "queue_entries" }
