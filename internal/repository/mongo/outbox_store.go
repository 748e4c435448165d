package mongo

import (
	"context"
	"time"

	"alcyxob/profile-sync/internal/domain"
	"alcyxob/profile-sync/internal/repository"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// Enqueue appends a pending item. Outside a MutationBatch this is only used
// by tooling; the services enqueue through ApplyMutation.
func (s *Store) Enqueue(ctx context.Context, item *domain.OutboxItem) error {
	if _, err := s.outbox.InsertOne(ctx, item); err != nil {
		return persistence("enqueue outbox item", err)
	}
	return nil
}

// Drain returns up to limit pending items, oldest first. UUIDv7 item IDs
// break createdAt ties in enqueue order.
func (s *Store) Drain(ctx context.Context, userID string, limit int) ([]domain.OutboxItem, error) {
	filter := bson.M{"userId": userID}
	opts := options.Find().SetSort(bson.D{{Key: "createdAt", Value: 1}, {Key: "_id", Value: 1}})
	if limit > 0 {
		opts.SetLimit(int64(limit))
	}

	cursor, err := s.outbox.Find(ctx, filter, opts)
	if err != nil {
		return nil, persistence("drain outbox", err)
	}
	defer cursor.Close(ctx)

	var items []domain.OutboxItem
	if err = cursor.All(ctx, &items); err != nil {
		return nil, persistence("decode outbox items", err)
	}
	return items, nil
}

// MarkSucceeded removes a delivered item.
func (s *Store) MarkSucceeded(ctx context.Context, itemID string) error {
	result, err := s.outbox.DeleteOne(ctx, bson.M{"_id": itemID})
	if err != nil {
		return persistence("remove outbox item", err)
	}
	if result.DeletedCount == 0 {
		return repository.ErrNotFound
	}
	return nil
}

// MarkFailed bumps the attempt counter and records the cause. The item keeps
// its queue position; nothing here reorders or drops.
func (s *Store) MarkFailed(ctx context.Context, itemID, cause string) error {
	update := bson.M{
		"$inc": bson.M{"attempt": 1},
		"$set": bson.M{"lastError": cause},
	}
	result, err := s.outbox.UpdateOne(ctx, bson.M{"_id": itemID}, update)
	if err != nil {
		return persistence("mark outbox item failed", err)
	}
	if result.MatchedCount == 0 {
		return repository.ErrNotFound
	}
	return nil
}

// DiscardProfileUpserts drops profile snapshots queued at or before cutoff.
func (s *Store) DiscardProfileUpserts(ctx context.Context, userID string, cutoff time.Time) (int64, error) {
	filter := bson.M{
		"userId":    userID,
		"operation": domain.OpUpsertProfile,
		"createdAt": bson.M{"$lte": cutoff},
	}
	result, err := s.outbox.DeleteMany(ctx, filter)
	if err != nil {
		return 0, persistence("discard superseded profile upserts", err)
	}
	return result.DeletedCount, nil
}

// PendingCount counts queued items for one user.
func (s *Store) PendingCount(ctx context.Context, userID string) (int64, error) {
	n, err := s.outbox.CountDocuments(ctx, bson.M{"userId": userID})
	if err != nil {
		return 0, persistence("count outbox items", err)
	}
	return n, nil
}

// PendingUserIDs lists users with queued items.
func (s *Store) PendingUserIDs(ctx context.Context, limit int) ([]string, error) {
	values, err := s.outbox.Distinct(ctx, "userId", bson.M{})
	if err != nil {
		return nil, persistence("list pending users", err)
	}

	var users []string
	for _, v := range values {
		uid, ok := v.(string)
		if !ok {
			continue
		}
		users = append(users, uid)
		if limit > 0 && len(users) == limit {
			break
		}
	}
	return users, nil
}
