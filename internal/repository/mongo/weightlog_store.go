package mongo

import (
	"context"
	"errors"

	"alcyxob/profile-sync/internal/domain"
	"alcyxob/profile-sync/internal/repository"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// GetWeightEntry loads one ledger row by calendar day.
func (s *Store) GetWeightEntry(ctx context.Context, userID, day string) (*domain.WeightLogEntry, error) {
	var entry domain.WeightLogEntry
	filter := bson.M{"userId": userID, "recordDate": day}

	err := s.weights.FindOne(ctx, filter).Decode(&entry)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, repository.ErrNotFound
		}
		return nil, persistence("load weight entry", err)
	}
	return &entry, nil
}

// ListWeightEntries returns the ledger ordered by day. Empty from/to bounds
// leave that side open. DayFormat strings sort correctly as plain strings.
func (s *Store) ListWeightEntries(ctx context.Context, userID, from, to string) ([]domain.WeightLogEntry, error) {
	filter := bson.M{"userId": userID}
	if from != "" || to != "" {
		dateRange := bson.M{}
		if from != "" {
			dateRange["$gte"] = from
		}
		if to != "" {
			dateRange["$lte"] = to
		}
		filter["recordDate"] = dateRange
	}

	opts := options.Find().SetSort(bson.D{{Key: "recordDate", Value: 1}})
	cursor, err := s.weights.Find(ctx, filter, opts)
	if err != nil {
		return nil, persistence("list weight entries", err)
	}
	defer cursor.Close(ctx)

	var entries []domain.WeightLogEntry
	if err = cursor.All(ctx, &entries); err != nil {
		return nil, persistence("decode weight entries", err)
	}
	return entries, nil
}
