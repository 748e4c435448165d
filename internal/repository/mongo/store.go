package mongo

import (
	"context"
	"errors"
	"fmt"

	"alcyxob/profile-sync/internal/domain"
	"alcyxob/profile-sync/internal/repository"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// Collection names.
const (
	profileCollectionName = "profiles"
	weightCollectionName  = "weight_log"
	outboxCollectionName  = "outbox"
	auditCollectionName   = "audit_log"
	accountCollectionName = "accounts"
)

// Store implements repository.Store and repository.AccountStore on MongoDB.
// All five collections live in one database so a MutationBatch can commit in
// a single session transaction.
type Store struct {
	client   *mongo.Client
	profiles *mongo.Collection
	weights  *mongo.Collection
	outbox   *mongo.Collection
	audit    *mongo.Collection
	accounts *mongo.Collection

	// transactions requires a replica set. When false, ApplyMutation falls
	// back to ordered writes with best-effort rollback.
	transactions bool
}

// NewStore creates a Store on the given database.
func NewStore(db *mongo.Database, transactions bool) *Store {
	return &Store{
		client:       db.Client(),
		profiles:     db.Collection(profileCollectionName),
		weights:      db.Collection(weightCollectionName),
		outbox:       db.Collection(outboxCollectionName),
		audit:        db.Collection(auditCollectionName),
		accounts:     db.Collection(accountCollectionName),
		transactions: transactions,
	}
}

// Ensure interfaces are met.
var _ repository.Store = (*Store)(nil)
var _ repository.AccountStore = (*Store)(nil)

// persistence wraps a driver error so callers can match repository.ErrPersistence.
func persistence(op string, err error) error {
	return fmt.Errorf("%w: %s: %v", repository.ErrPersistence, op, err)
}

// ApplyMutation commits the batch atomically.
func (s *Store) ApplyMutation(ctx context.Context, batch repository.MutationBatch) error {
	if !s.transactions {
		return s.applyOrdered(ctx, batch)
	}

	session, err := s.client.StartSession()
	if err != nil {
		return persistence("start session", err)
	}
	defer session.EndSession(ctx)

	_, err = session.WithTransaction(ctx, func(sc mongo.SessionContext) (interface{}, error) {
		return nil, s.applyBatch(sc, batch)
	})
	if err != nil {
		return persistence("apply mutation", err)
	}
	return nil
}

// applyBatch runs the batch writes on ctx, which carries the transaction
// session when one is active.
func (s *Store) applyBatch(ctx context.Context, batch repository.MutationBatch) error {
	upsert := options.Replace().SetUpsert(true)

	if batch.Profile != nil {
		filter := bson.M{"_id": batch.Profile.UserID}
		if _, err := s.profiles.ReplaceOne(ctx, filter, batch.Profile, upsert); err != nil {
			return err
		}
	}
	if batch.Weight != nil {
		filter := bson.M{"userId": batch.Weight.UserID, "recordDate": batch.Weight.RecordDate}
		if _, err := s.weights.ReplaceOne(ctx, filter, batch.Weight, upsert); err != nil {
			return err
		}
	}
	if batch.DeleteWeightDay != "" {
		filter := bson.M{"userId": batch.UserID, "recordDate": batch.DeleteWeightDay}
		if _, err := s.weights.DeleteOne(ctx, filter); err != nil {
			return err
		}
	}
	if batch.Outbox != nil {
		if _, err := s.outbox.InsertOne(ctx, batch.Outbox); err != nil {
			return err
		}
	}
	if batch.Audit != nil {
		if _, err := s.audit.InsertOne(ctx, batch.Audit); err != nil {
			return err
		}
	}
	return nil
}

// applyOrdered is the standalone-server fallback: each write is applied in
// order and already-applied writes are rolled back if a later one fails.
// Rollback is best effort; a crash between writes can leave a partial batch.
func (s *Store) applyOrdered(ctx context.Context, batch repository.MutationBatch) error {
	var undo []func()

	rollback := func() {
		for i := len(undo) - 1; i >= 0; i-- {
			undo[i]()
		}
	}
	upsert := options.Replace().SetUpsert(true)

	if batch.Profile != nil {
		filter := bson.M{"_id": batch.Profile.UserID}

		var prev domain.ProfileAggregate
		hadPrev := true
		if err := s.profiles.FindOne(ctx, filter).Decode(&prev); err != nil {
			if !errors.Is(err, mongo.ErrNoDocuments) {
				return persistence("load previous profile", err)
			}
			hadPrev = false
		}

		if _, err := s.profiles.ReplaceOne(ctx, filter, batch.Profile, upsert); err != nil {
			rollback()
			return persistence("upsert profile", err)
		}
		undo = append(undo, func() {
			if hadPrev {
				_, _ = s.profiles.ReplaceOne(ctx, filter, &prev, upsert)
			} else {
				_, _ = s.profiles.DeleteOne(ctx, filter)
			}
		})
	}

	if batch.Weight != nil {
		filter := bson.M{"userId": batch.Weight.UserID, "recordDate": batch.Weight.RecordDate}

		var prev domain.WeightLogEntry
		hadPrev := true
		if err := s.weights.FindOne(ctx, filter).Decode(&prev); err != nil {
			if !errors.Is(err, mongo.ErrNoDocuments) {
				return persistence("load previous weight entry", err)
			}
			hadPrev = false
		}

		if _, err := s.weights.ReplaceOne(ctx, filter, batch.Weight, upsert); err != nil {
			rollback()
			return persistence("upsert weight entry", err)
		}
		undo = append(undo, func() {
			if hadPrev {
				_, _ = s.weights.ReplaceOne(ctx, filter, &prev, upsert)
			} else {
				_, _ = s.weights.DeleteOne(ctx, filter)
			}
		})
	}

	if batch.DeleteWeightDay != "" {
		filter := bson.M{"userId": batch.UserID, "recordDate": batch.DeleteWeightDay}

		var prev domain.WeightLogEntry
		hadPrev := true
		if err := s.weights.FindOne(ctx, filter).Decode(&prev); err != nil {
			if !errors.Is(err, mongo.ErrNoDocuments) {
				return persistence("load weight entry for delete", err)
			}
			hadPrev = false
		}

		if hadPrev {
			if _, err := s.weights.DeleteOne(ctx, filter); err != nil {
				rollback()
				return persistence("delete weight entry", err)
			}
			undo = append(undo, func() {
				_, _ = s.weights.InsertOne(ctx, &prev)
			})
		}
	}

	if batch.Outbox != nil {
		if _, err := s.outbox.InsertOne(ctx, batch.Outbox); err != nil {
			rollback()
			return persistence("enqueue outbox item", err)
		}
		itemID := batch.Outbox.ID
		undo = append(undo, func() {
			_, _ = s.outbox.DeleteOne(ctx, bson.M{"_id": itemID})
		})
	}

	if batch.Audit != nil {
		if _, err := s.audit.InsertOne(ctx, batch.Audit); err != nil {
			rollback()
			return persistence("append audit entry", err)
		}
	}

	return nil
}

// EnsureIndexes creates the indexes every collection relies on. Call once
// during startup.
func (s *Store) EnsureIndexes(ctx context.Context) error {
	weightIndexes := []mongo.IndexModel{
		{
			// One ledger row per user per calendar day.
			Keys:    bson.D{{Key: "userId", Value: 1}, {Key: "recordDate", Value: 1}},
			Options: options.Index().SetUnique(true),
		},
	}
	if _, err := s.weights.Indexes().CreateMany(ctx, weightIndexes); err != nil {
		return persistence("create weight indexes", err)
	}

	outboxIndexes := []mongo.IndexModel{
		{
			// Drain order.
			Keys: bson.D{{Key: "userId", Value: 1}, {Key: "createdAt", Value: 1}},
		},
	}
	if _, err := s.outbox.Indexes().CreateMany(ctx, outboxIndexes); err != nil {
		return persistence("create outbox indexes", err)
	}

	auditIndexes := []mongo.IndexModel{
		{
			Keys: bson.D{{Key: "userId", Value: 1}, {Key: "timestamp", Value: 1}},
		},
	}
	if _, err := s.audit.Indexes().CreateMany(ctx, auditIndexes); err != nil {
		return persistence("create audit indexes", err)
	}

	accountIndexes := []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "email", Value: 1}},
			Options: options.Index().SetUnique(true),
		},
	}
	if _, err := s.accounts.Indexes().CreateMany(ctx, accountIndexes); err != nil {
		return persistence("create account indexes", err)
	}

	return nil
}
