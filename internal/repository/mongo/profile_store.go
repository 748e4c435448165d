package mongo

import (
	"context"
	"errors"

	"alcyxob/profile-sync/internal/domain"
	"alcyxob/profile-sync/internal/repository"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
)

// GetProfile loads the aggregate document. The user ID is the document _id,
// so a user has exactly one profile by construction.
func (s *Store) GetProfile(ctx context.Context, userID string) (*domain.ProfileAggregate, error) {
	var profile domain.ProfileAggregate
	filter := bson.M{"_id": userID}

	err := s.profiles.FindOne(ctx, filter).Decode(&profile)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, repository.ErrNotFound
		}
		return nil, persistence("load profile", err)
	}
	return &profile, nil
}

// DeleteProfile removes the aggregate together with the user's weight ledger
// and pending outbox items. Audit history stays. The operation is idempotent
// so it can be retried after a partial failure.
func (s *Store) DeleteProfile(ctx context.Context, userID string) error {
	if _, err := s.profiles.DeleteOne(ctx, bson.M{"_id": userID}); err != nil {
		return persistence("delete profile", err)
	}
	if _, err := s.weights.DeleteMany(ctx, bson.M{"userId": userID}); err != nil {
		return persistence("delete weight ledger", err)
	}
	if _, err := s.outbox.DeleteMany(ctx, bson.M{"userId": userID}); err != nil {
		return persistence("delete outbox items", err)
	}
	return nil
}
