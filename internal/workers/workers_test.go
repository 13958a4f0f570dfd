package workers

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	sqlite "github.com/glebarez/sqlite"
	"github.com/rs/zerolog"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/lv10wizard/ig-highlights-bot-sub000/internal/backoff"
	"github.com/lv10wizard/ig-highlights-bot-sub000/internal/domain"
	"github.com/lv10wizard/ig-highlights-bot-sub000/internal/media"
	"github.com/lv10wizard/ig-highlights-bot-sub000/internal/reddit"
	"github.com/lv10wizard/ig-highlights-bot-sub000/internal/repo"
	"github.com/lv10wizard/ig-highlights-bot-sub000/internal/services"
	"github.com/lv10wizard/ig-highlights-bot-sub000/internal/sharedflag"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:workers_%s?mode=memory&cache=shared", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := repo.AutoMigrate(db); err != nil {
		t.Fatalf("automigrate: %v", err)
	}
	return db
}

func nop() zerolog.Logger { return zerolog.Nop() }

// fakeReddit scripts the reddit collaborator.
type fakeReddit struct {
	mu       sync.Mutex
	things   []*reddit.Thing
	replyOK  bool
	replyErr error
	replies  []string
	submitID string
	submits  []string
	banned   bool
}

func (f *fakeReddit) StreamNext(ctx context.Context, kind reddit.StreamKind) (*reddit.Thing, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.things) == 0 {
		return nil, nil
	}
	thing := f.things[0]
	f.things = f.things[1:]
	return thing, nil
}

func (f *fakeReddit) DoReply(ctx context.Context, thing *reddit.Thing, body string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.replyErr != nil {
		return false, f.replyErr
	}
	f.replies = append(f.replies, body)
	return f.replyOK, nil
}

func (f *fakeReddit) DoSubmit(ctx context.Context, subreddit, title, url string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.submits = append(f.submits, subreddit)
	return f.submitID, nil
}

func (f *fakeReddit) IsBannedFrom(ctx context.Context, subreddit string) (bool, error) {
	return f.banned, nil
}

func (f *fakeReddit) replyCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.replies)
}

func (f *fakeReddit) submitCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.submits)
}

// fakeMedia scripts the media collaborator.
type fakeMedia struct {
	err  error
	list *media.MediaList
}

func (f *fakeMedia) FetchTopMedia(ctx context.Context, user string) (*media.MediaList, error) {
	if f.err != nil {
		return nil, f.err
	}
	if f.list != nil {
		return f.list, nil
	}
	return &media.MediaList{User: user, Items: []media.Item{{URL: "https://example.com/1"}}}, nil
}

// idleRunner blocks until cancelled.
type idleRunner struct{ name string }

func (r idleRunner) Name() string { return r.name }
func (r idleRunner) Run(ctx context.Context) {
	<-ctx.Done()
}

func testThing(id string) *reddit.Thing {
	return &reddit.Thing{
		Fullname:     "t1_" + id,
		Kind:         "t1",
		SubmissionID: "t3_sub1",
		Subreddit:    "pics",
		Author:       "someone",
		Body:         "check out @gracefineart",
	}
}

func TestWorker_Lifecycle(t *testing.T) {
	w := NewWorker(idleRunner{name: "idle"}, "", nop())
	if got := w.State(); got != Stopped {
		t.Fatalf("initial state = %v", got)
	}

	if err := w.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if got := w.State(); got != Running {
		t.Fatalf("state after start = %v", got)
	}
	if err := w.Start(context.Background()); err != ErrAlreadyStarted {
		t.Fatalf("second Start err = %v, want ErrAlreadyStarted", err)
	}

	w.Stop(true)
	if got := w.State(); got != Stopped {
		t.Fatalf("state after stop = %v", got)
	}

	// Restart after a clean stop works.
	if err := w.Start(context.Background()); err != nil {
		t.Fatalf("restart: %v", err)
	}
	w.Stop(true)
}

func TestWorker_RoleLockExcludesSecondInstance(t *testing.T) {
	dir := t.TempDir()
	a := NewWorker(idleRunner{name: "role"}, dir, nop())
	b := NewWorker(idleRunner{name: "role"}, dir, nop())

	if err := a.Start(context.Background()); err != nil {
		t.Fatalf("first Start: %v", err)
	}
	defer a.Stop(true)

	if err := b.Start(context.Background()); err != ErrRoleLocked {
		t.Fatalf("second Start err = %v, want ErrRoleLocked", err)
	}

	a.Stop(true)
	if err := b.Start(context.Background()); err != nil {
		t.Fatalf("Start after release: %v", err)
	}
	b.Stop(true)
}

func TestWorker_JoinWithoutStart(t *testing.T) {
	w := NewWorker(idleRunner{name: "never"}, "", nop())
	w.Join() // must not block
	w.Stop(true)
}

func newWatcher(t *testing.T, db *gorm.DB, client *fakeReddit) (*StreamWatcher, *services.WorkQueue) {
	t.Helper()
	queue := services.NewWorkQueue(db, services.QueueReply, "", nop())
	return &StreamWatcher{
		Client:       client,
		Kind:         reddit.StreamSubmissions,
		Dedup:        services.NewDedupService(db, nop()),
		Blacklist:    services.NewBlacklistService(db, time.Hour, nop()),
		ReplyQueue:   queue,
		Ledger:       services.NewLedger(db, services.PoolReddit, nop()),
		Flag:         sharedflag.New(t.TempDir()+"/flag.json", "test", nop()),
		Extract:      func(*reddit.Thing) []string { return []string{"gracefineart"} },
		PollInterval: time.Millisecond,
		Backoff:      backoff.New(),
		Log:          nop(),
	}, queue
}

func TestStreamWatcher_EnqueuesOnceAndDedups(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	w, queue := newWatcher(t, db, &fakeReddit{})

	thing := testThing("abc")
	w.handle(ctx, thing)

	n, err := queue.Len(ctx)
	if err != nil {
		t.Fatalf("Len: %v", err)
	}
	if n != 1 {
		t.Fatalf("queue len = %d, want 1", n)
	}

	// A second sighting of the same fullname is already seen.
	w.handle(ctx, thing)
	if n, _ = queue.Len(ctx); n != 1 {
		t.Fatalf("queue len after resight = %d, want 1", n)
	}

	entry, err := queue.PeekOldest(ctx)
	if err != nil {
		t.Fatalf("PeekOldest: %v", err)
	}
	var job services.ReplyJob
	if err := entry.Decode(&job); err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if len(job.IGUsers) != 1 || job.IGUsers[0] != "gracefineart" {
		t.Fatalf("IGUsers = %v", job.IGUsers)
	}
	if job.Thing.Fullname != thing.Fullname {
		t.Fatalf("Thing.Fullname = %q", job.Thing.Fullname)
	}
}

func TestStreamWatcher_SkipsBlacklistedAuthor(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	w, queue := newWatcher(t, db, &fakeReddit{})

	if err := w.Blacklist.Add(ctx, "someone", domain.KindUser, false); err != nil {
		t.Fatalf("blacklist add: %v", err)
	}

	w.handle(ctx, testThing("xyz"))
	if n, _ := queue.Len(ctx); n != 0 {
		t.Fatalf("queue len = %d, want 0", n)
	}
}

func TestStreamWatcher_NoUsersNoJob(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	w, queue := newWatcher(t, db, &fakeReddit{})
	w.Extract = func(*reddit.Thing) []string { return nil }

	w.handle(ctx, testThing("nousers"))
	if n, _ := queue.Len(ctx); n != 0 {
		t.Fatalf("queue len = %d, want 0", n)
	}
}

func newReplier(t *testing.T, db *gorm.DB, client *fakeReddit, mediaClient media.Client) *Replier {
	t.Helper()
	return &Replier{
		Client:       client,
		Media:        mediaClient,
		DB:           db,
		Dedup:        services.NewDedupService(db, nop()),
		Blacklist:    services.NewBlacklistService(db, time.Hour, nop()),
		ReplyQueue:   services.NewWorkQueue(db, services.QueueReply, "", nop()),
		FetchQueue:   services.NewWorkQueue(db, services.QueueIGFetch, "", nop()),
		RetryQueue:   services.NewWorkQueue(db, services.QueueRetry, "", nop()),
		RedditLedger: services.NewLedger(db, services.PoolReddit, nop()),
		MediaLedgers: services.NewLedgerSet(services.NewLedger(db, services.PoolInstagram, nop())),
		Flag:         sharedflag.New(t.TempDir()+"/flag.json", "test", nop()),
		Format:       DefaultFormat,
		Log:          nop(),
	}
}

func popEntry(t *testing.T, q *services.WorkQueue) *services.Entry {
	t.Helper()
	entry, err := q.Get(context.Background(), false, 0)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	return entry
}

func TestReplier_PostsAndRecordsReply(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	client := &fakeReddit{replyOK: true}
	r := newReplier(t, db, client, &fakeMedia{})

	thing := testThing("rep1")
	job := services.ReplyJob{Thing: *thing, IGUsers: []string{"gracefineart"}}
	if err := r.ReplyQueue.Put(ctx, thing.Fullname, job); err != nil {
		t.Fatalf("Put: %v", err)
	}

	r.process(ctx, popEntry(t, r.ReplyQueue))

	if client.replyCount() != 1 {
		t.Fatalf("replies posted = %d, want 1", client.replyCount())
	}
	replied, err := r.Dedup.HasReplied(ctx, thing.SubmissionID, "gracefineart")
	if err != nil {
		t.Fatalf("HasReplied: %v", err)
	}
	if !replied {
		t.Fatal("reply not recorded")
	}
	if n, _ := r.ReplyQueue.Len(ctx); n != 0 {
		t.Fatalf("reply queue len = %d, want 0", n)
	}
}

func TestReplier_SkipsAlreadyRepliedUser(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	client := &fakeReddit{replyOK: true}
	r := newReplier(t, db, client, &fakeMedia{})

	thing := testThing("rep2")
	err := repo.WithTx(ctx, db, func(tx *gorm.DB) error {
		return r.Dedup.RecordReply(ctx, tx, thing.SubmissionID, "gracefineart", "t1_old")
	})
	if err != nil {
		t.Fatalf("seed reply record: %v", err)
	}

	job := services.ReplyJob{Thing: *thing, IGUsers: []string{"gracefineart"}}
	if err := r.ReplyQueue.Put(ctx, thing.Fullname, job); err != nil {
		t.Fatalf("Put: %v", err)
	}
	r.process(ctx, popEntry(t, r.ReplyQueue))

	if client.replyCount() != 0 {
		t.Fatalf("replies posted = %d, want 0", client.replyCount())
	}
}

func TestReplier_ThreadCapStopsReplies(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	client := &fakeReddit{replyOK: true}
	r := newReplier(t, db, client, &fakeMedia{})
	r.MaxRepliesPerThread = 1

	thing := testThing("rep3")
	err := repo.WithTx(ctx, db, func(tx *gorm.DB) error {
		return r.Dedup.RecordReply(ctx, tx, thing.SubmissionID, "othergram", "t1_prev")
	})
	if err != nil {
		t.Fatalf("seed reply record: %v", err)
	}

	job := services.ReplyJob{Thing: *thing, IGUsers: []string{"gracefineart"}}
	if err := r.ReplyQueue.Put(ctx, thing.Fullname, job); err != nil {
		t.Fatalf("Put: %v", err)
	}
	r.process(ctx, popEntry(t, r.ReplyQueue))

	if client.replyCount() != 0 {
		t.Fatalf("replies posted = %d, want 0 (thread cap)", client.replyCount())
	}
}

func TestReplier_RateLimitedReplyParksOnRetryQueue(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	client := &fakeReddit{replyErr: &reddit.RateLimitedError{RetryAfter: time.Hour}}
	r := newReplier(t, db, client, &fakeMedia{})

	thing := testThing("rep4")
	job := services.ReplyJob{Thing: *thing, IGUsers: []string{"gracefineart"}}
	if err := r.ReplyQueue.Put(ctx, thing.Fullname, job); err != nil {
		t.Fatalf("Put: %v", err)
	}
	r.process(ctx, popEntry(t, r.ReplyQueue))

	if set, _ := r.Flag.IsSet(); !set {
		t.Fatal("shared flag not raised on 429")
	}
	n, err := r.RetryQueue.Len(ctx)
	if err != nil {
		t.Fatalf("retry Len: %v", err)
	}
	if n != 1 {
		t.Fatalf("retry queue len = %d, want 1", n)
	}

	entry, err := r.RetryQueue.PeekOldest(ctx)
	if err != nil {
		t.Fatalf("PeekOldest: %v", err)
	}
	var parked services.RetryJob
	if err := entry.Decode(&parked); err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if parked.IGUser != "gracefineart" || parked.Body == "" {
		t.Fatalf("parked job = %+v", parked)
	}
}

func TestReplier_DeferredMediaParksOnFetchQueue(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	client := &fakeReddit{replyOK: true}
	r := newReplier(t, db, client, &fakeMedia{err: media.ErrDeferred})

	thing := testThing("rep5")
	job := services.ReplyJob{Thing: *thing, IGUsers: []string{"gracefineart"}}
	if err := r.ReplyQueue.Put(ctx, thing.Fullname, job); err != nil {
		t.Fatalf("Put: %v", err)
	}
	r.process(ctx, popEntry(t, r.ReplyQueue))

	if client.replyCount() != 0 {
		t.Fatalf("replies posted = %d, want 0", client.replyCount())
	}
	if n, _ := r.FetchQueue.Len(ctx); n != 1 {
		t.Fatalf("fetch queue len = %d, want 1", n)
	}
}

func TestRateLimitHandler_ReplaysParkedReply(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	client := &fakeReddit{replyOK: true}

	retryQ := services.NewWorkQueue(db, services.QueueRetry, "", nop())
	h := &RateLimitHandler{
		Client:       client,
		DB:           db,
		Dedup:        services.NewDedupService(db, nop()),
		RetryQueue:   retryQ,
		RedditLedger: services.NewLedger(db, services.PoolReddit, nop()),
		Flag:         sharedflag.New(t.TempDir()+"/flag.json", "ratelimit_handler", nop()),
		Log:          nop(),
	}

	thing := testThing("rl1")
	parked := services.RetryJob{
		Thing:   *thing,
		IGUser:  "gracefineart",
		Body:    "replay body",
		ResetAt: repo.UnixSeconds(time.Now().Add(-time.Second)),
	}
	if err := retryQ.PutReadyAt(ctx, "rl1:gracefineart", parked, parked.ResetAt); err != nil {
		t.Fatalf("PutReadyAt: %v", err)
	}

	h.replay(ctx, popEntry(t, retryQ))

	if client.replyCount() != 1 {
		t.Fatalf("replays posted = %d, want 1", client.replyCount())
	}
	replied, err := h.Dedup.HasReplied(ctx, thing.SubmissionID, "gracefineart")
	if err != nil {
		t.Fatalf("HasReplied: %v", err)
	}
	if !replied {
		t.Fatal("replayed reply not recorded")
	}
	if n, _ := retryQ.Len(ctx); n != 0 {
		t.Fatalf("retry queue len = %d, want 0", n)
	}
}

// A crash between a posted replay and its queue ack leaves the retry entry
// resident; the next pass must drop it instead of posting again.
func TestRateLimitHandler_ReplaySkipsRecordedReply(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	client := &fakeReddit{replyOK: true}

	retryQ := services.NewWorkQueue(db, services.QueueRetry, "", nop())
	h := &RateLimitHandler{
		Client:       client,
		DB:           db,
		Dedup:        services.NewDedupService(db, nop()),
		RetryQueue:   retryQ,
		RedditLedger: services.NewLedger(db, services.PoolReddit, nop()),
		Flag:         sharedflag.New(t.TempDir()+"/flag.json", "ratelimit_handler", nop()),
		Log:          nop(),
	}

	thing := testThing("rl2")
	err := repo.WithTx(ctx, db, func(tx *gorm.DB) error {
		return h.Dedup.RecordReply(ctx, tx, thing.SubmissionID, "gracefineart", thing.Fullname)
	})
	if err != nil {
		t.Fatalf("seed reply record: %v", err)
	}

	parked := services.RetryJob{
		Thing:   *thing,
		IGUser:  "gracefineart",
		Body:    "stale body",
		ResetAt: repo.UnixSeconds(time.Now().Add(-time.Second)),
	}
	if err := retryQ.PutReadyAt(ctx, "rl2:gracefineart", parked, parked.ResetAt); err != nil {
		t.Fatalf("PutReadyAt: %v", err)
	}

	h.replay(ctx, popEntry(t, retryQ))

	if client.replyCount() != 0 {
		t.Fatalf("replays posted = %d, want 0 (already recorded)", client.replyCount())
	}
	if n, _ := retryQ.Len(ctx); n != 0 {
		t.Fatalf("retry queue len = %d, want 0", n)
	}
}

func TestRateLimitHandler_SleepsOutRecoveredCooldown(t *testing.T) {
	db := newTestDB(t)
	flag := sharedflag.New(t.TempDir()+"/flag.json", "other", nop())
	if err := flag.Set(time.Now().Add(20 * time.Millisecond)); err != nil {
		t.Fatalf("Set: %v", err)
	}

	h := &RateLimitHandler{
		Client:       &fakeReddit{},
		DB:           db,
		Dedup:        services.NewDedupService(db, nop()),
		RetryQueue:   services.NewWorkQueue(db, services.QueueRetry, "", nop()),
		RedditLedger: services.NewLedger(db, services.PoolReddit, nop()),
		Flag:         flag,
		Log:          nop(),
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		h.Run(ctx)
	}()

	// Flag must be cleared shortly after its reset time passes.
	deadline := time.After(3 * time.Second)
	for {
		if set, _ := flag.IsSet(); !set {
			break
		}
		select {
		case <-deadline:
			t.Fatal("flag never cleared")
		case <-time.After(10 * time.Millisecond):
		}
	}
	cancel()
	<-done
}

func TestSubmitter_PostsAndDeletes(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	client := &fakeReddit{submitID: "t3_new"}

	queue := services.NewWorkQueue(db, services.QueueSubmissions, "", nop())
	s := &Submitter{
		Client:       client,
		Queue:        queue,
		RedditLedger: services.NewLedger(db, services.PoolReddit, nop()),
		Flag:         sharedflag.New(t.TempDir()+"/flag.json", "test", nop()),
		Backoff:      backoff.New(),
		Log:          nop(),
	}

	job := services.SubmitJob{Subreddit: "pics", Title: "hello", URL: "https://example.com"}
	if err := queue.Put(ctx, "sub:pics:hello", job); err != nil {
		t.Fatalf("Put: %v", err)
	}

	if !s.submit(ctx, popEntry(t, queue)) {
		t.Fatal("submit reported retry, want success")
	}
	if n, _ := queue.Len(ctx); n != 0 {
		t.Fatalf("queue len = %d, want 0", n)
	}
}

func TestSubmitter_DropsSubmissionWhenBanned(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	client := &fakeReddit{submitID: "t3_new", banned: true}

	queue := services.NewWorkQueue(db, services.QueueSubmissions, "", nop())
	s := &Submitter{
		Client:       client,
		Queue:        queue,
		RedditLedger: services.NewLedger(db, services.PoolReddit, nop()),
		Flag:         sharedflag.New(t.TempDir()+"/flag.json", "test", nop()),
		Backoff:      backoff.New(),
		Log:          nop(),
	}

	job := services.SubmitJob{Subreddit: "pics", Title: "hello", URL: "https://example.com"}
	if err := queue.Put(ctx, "sub:pics:hello", job); err != nil {
		t.Fatalf("Put: %v", err)
	}

	if !s.submit(ctx, popEntry(t, queue)) {
		t.Fatal("submit should report the entry handled")
	}
	if client.submitCount() != 0 {
		t.Fatalf("submits posted = %d, want 0 (banned)", client.submitCount())
	}
	if n, _ := queue.Len(ctx); n != 0 {
		t.Fatalf("queue len = %d, want 0 (dropped)", n)
	}
}
