// Package reddit defines the contract the bot consumes from its Reddit
// client. The real client (OAuth, stream pagination, retrying transport)
// lives outside this repository; everything here is the surface the workers
// program against, which also keeps them trivially mockable in tests.
package reddit

import (
	"context"
	"fmt"
	"time"
)

// StreamKind selects which listing a watcher pulls from.
type StreamKind string

// Stream kinds consumed by the watcher workers. Inbox-like streams deliver
// newest-first; listing streams deliver oldest-first.
const (
	StreamSubmissions   StreamKind = "submissions"
	StreamMentions      StreamKind = "mentions"
	StreamMessages      StreamKind = "messages"
	StreamControversial StreamKind = "controversial"
)

// Thing is a Reddit entity (comment, submission, or message) as seen by the
// bot. Fullname is the globally unique dedup key (e.g. "t1_abc123").
type Thing struct {
	Fullname     string
	Kind         string // "t1" comment, "t3" submission, "t4" message
	SubmissionID string
	Subreddit    string
	Author       string
	Body         string
	Permalink    string
}

// RateLimitedError is raised on 429-equivalent responses. RetryAfter is the
// server-suggested cooldown; callers set the shared flag from it.
type RateLimitedError struct {
	RetryAfter time.Duration
}

// Error implements the error interface.
func (e *RateLimitedError) Error() string {
	return fmt.Sprintf("reddit ratelimited, retry after %s", e.RetryAfter)
}

// Client is the Reddit collaborator interface.
//
// StreamNext blocks until the next Thing is available, the stream is
// momentarily drained (nil, nil), or ctx is done. Transient network failures
// are retried internally with capped exponential backoff; a
// *RateLimitedError surfaces 429s to the caller instead of being retried.
type Client interface {
	StreamNext(ctx context.Context, kind StreamKind) (*Thing, error)
	DoReply(ctx context.Context, thing *Thing, body string) (bool, error)
	DoSubmit(ctx context.Context, subreddit, title, url string) (string, error)
	IsBannedFrom(ctx context.Context, subreddit string) (bool, error)
}
