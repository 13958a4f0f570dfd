// Package services – queue payload types.
//
// Payloads are msgpack-encoded (opaque to the queue itself). Each producing
// worker owns its payload shape; they live here so producers and consumers
// in different processes share one definition.
package services

import "github.com/lv10wizard/ig-highlights-bot-sub000/internal/reddit"

// ReplyJob is a reply-queue payload: a thing that needs a reply about the
// detected Instagram users, plus the mention that triggered it (if any).
type ReplyJob struct {
	Thing     reddit.Thing `msgpack:"thing"`
	MentionID string       `msgpack:"mention_id,omitempty"`
	IGUsers   []string     `msgpack:"ig_users"`
}

// RetryJob is a ratelimit-retry-queue payload: a fully formatted reply that
// hit a Reddit 429 and is replayed once the shared cooldown expires. IGUser
// identifies the reply for dedup recording on successful replay.
type RetryJob struct {
	Thing   reddit.Thing `msgpack:"thing"`
	IGUser  string       `msgpack:"ig_user"`
	Body    string       `msgpack:"body"`
	ResetAt float64      `msgpack:"reset_at"`
}

// SubmitJob is a submission-queue payload: a link post awaiting submission.
type SubmitJob struct {
	Subreddit string `msgpack:"subreddit"`
	Title     string `msgpack:"title"`
	URL       string `msgpack:"url"`
}

// FetchJob is an ig_fetch-queue payload: an Instagram user whose media
// fetch was deferred by the source and needs retrying, plus the thing the
// eventual reply is addressed to.
type FetchJob struct {
	IGUser string       `msgpack:"ig_user"`
	Thing  reddit.Thing `msgpack:"thing"`
}
