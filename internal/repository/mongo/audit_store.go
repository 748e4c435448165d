package mongo

import (
	"context"
	"time"

	"alcyxob/profile-sync/internal/domain"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// AuditEntries returns history entries at or after since, oldest first.
// A zero since returns the full trail.
func (s *Store) AuditEntries(ctx context.Context, userID string, since time.Time) ([]domain.AuditLogEntry, error) {
	filter := bson.M{"userId": userID}
	if !since.IsZero() {
		filter["timestamp"] = bson.M{"$gte": since}
	}

	opts := options.Find().SetSort(bson.D{{Key: "timestamp", Value: 1}, {Key: "_id", Value: 1}})
	cursor, err := s.audit.Find(ctx, filter, opts)
	if err != nil {
		return nil, persistence("list audit entries", err)
	}
	defer cursor.Close(ctx)

	var entries []domain.AuditLogEntry
	if err = cursor.All(ctx, &entries); err != nil {
		return nil, persistence("decode audit entries", err)
	}
	return entries, nil
}
