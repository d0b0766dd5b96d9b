package repository

import (
	"context"
	"sync"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"rentalhub/internal/domain/repository"
	"rentalhub/pkg/logger"
)

type firestoreMessageFeed struct {
	client *firestore.Client
}

// NewFirestoreMessageFeed follows message rows through Firestore snapshot
// listeners.
func NewFirestoreMessageFeed(client *firestore.Client) repository.MessageFeed {
	return &firestoreMessageFeed{client: client}
}

// changeMapper turns a document change into a feed event kind; false skips it.
type changeMapper func(firestore.DocumentChangeKind) (repository.FeedEventKind, bool)

// rowChanges maps the participant listener: new rows are inserts, edits are
// updates.
func rowChanges(kind firestore.DocumentChangeKind) (repository.FeedEventKind, bool) {
	switch kind {
	case firestore.DocumentAdded:
		return repository.FeedEventInsert, true
	case firestore.DocumentModified:
		return repository.FeedEventUpdate, true
	}
	return "", false
}

// readReceipts maps the read-receipt listener: a row entering or changing in
// it has just been marked read.
func readReceipts(kind firestore.DocumentChangeKind) (repository.FeedEventKind, bool) {
	switch kind {
	case firestore.DocumentAdded, firestore.DocumentModified:
		return repository.FeedEventUpdate, true
	}
	return "", false
}

// Subscribe runs two listeners. One follows the rows created since since. The
// other follows the user's own rows marked read since since, whatever their
// age, so read receipts survive a resubscribe.
func (f *firestoreMessageFeed) Subscribe(ctx context.Context, userID string, since time.Time, handler repository.FeedHandler) (repository.Subscription, error) {
	ctx, cancel := context.WithCancel(ctx)

	rows := f.client.Collection(messagesCollection).
		Where("participants", "array-contains", userID).
		Where("createdAt", ">=", since)
	receipts := f.client.Collection(messagesCollection).
		Where("senderId", "==", userID).
		Where("readAt", ">=", since)

	sub := &snapshotSubscription{
		cancel: cancel,
		done:   make(chan error, 1),
		userID: userID,
	}
	sub.start(rows.Snapshots(ctx), rowChanges, handler)
	sub.start(receipts.Snapshots(ctx), readReceipts, handler)
	return sub, nil
}

type snapshotSubscription struct {
	cancel context.CancelFunc
	done   chan error
	userID string

	mu      sync.Mutex
	its     []*firestore.QuerySnapshotIterator
	stopped bool
	once    sync.Once
}

func (s *snapshotSubscription) start(it *firestore.QuerySnapshotIterator, mapKind changeMapper, handler repository.FeedHandler) {
	s.mu.Lock()
	s.its = append(s.its, it)
	s.mu.Unlock()
	go s.run(it, mapKind, handler)
}

func (s *snapshotSubscription) run(it *firestore.QuerySnapshotIterator, mapKind changeMapper, handler repository.FeedHandler) {
	for {
		snap, err := it.Next()
		if err != nil {
			if s.isStopped() || err == iterator.Done || status.Code(err) == codes.Canceled {
				s.finish(nil)
				return
			}
			logger.Warn("Message feed for user %s dropped: %v", s.userID, err)
			s.finish(err)
			return
		}

		for _, change := range snap.Changes {
			kind, ok := mapKind(change.Kind)
			if !ok {
				continue
			}

			msg, err := decodeMessage(change.Doc)
			if err != nil {
				logger.Warn("Skipping unreadable feed message %s: %v", change.Doc.Ref.ID, err)
				continue
			}
			handler(repository.FeedEvent{Kind: kind, Message: msg})
		}
	}
}

// finish reports the first listener outcome and tears the other one down.
func (s *snapshotSubscription) finish(err error) {
	s.once.Do(func() {
		s.done <- err
		close(s.done)
		s.Stop()
	})
}

func (s *snapshotSubscription) isStopped() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stopped
}

func (s *snapshotSubscription) Stop() {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	s.stopped = true
	its := s.its
	s.mu.Unlock()

	for _, it := range its {
		it.Stop()
	}
	s.cancel()
}

func (s *snapshotSubscription) Done() <-chan error {
	return s.done
}
