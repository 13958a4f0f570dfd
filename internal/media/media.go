// Package media defines the contract for the Instagram/Imgur/Gfycat media
// adapters. The scraping and upload clients live outside this repository;
// the bot only needs "give me this user's top media, or tell me why not."
package media

import (
	"context"
	"errors"
)

// Sentinel results for FetchTopMedia. ErrDeferred means ratelimited or
// server error: requeue the user and try again later. The other two are
// terminal for the request.
var (
	ErrPrivateAccount = errors.New("media: private account")
	ErrNonexistent    = errors.New("media: nonexistent or bad user")
	ErrDeferred       = errors.New("media: deferred, retry later")
)

// Item is one piece of media belonging to an Instagram user.
type Item struct {
	URL       string
	Thumbnail string
	Caption   string
	Likes     int
}

// MediaList is a user's top media, ready for reply formatting.
type MediaList struct {
	User  string
	Items []Item
}

// Client is the media-source collaborator interface.
type Client interface {
	FetchTopMedia(ctx context.Context, user string) (*MediaList, error)
}
