package mongo

import (
	"context"
	"errors"
	"time"

	"alcyxob/profile-sync/internal/domain"
	"alcyxob/profile-sync/internal/repository"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
)

// CreateAccount inserts a new account. Email uniqueness is enforced by the
// index; a duplicate maps to repository.ErrConflict.
func (s *Store) CreateAccount(ctx context.Context, account *domain.Account) (primitive.ObjectID, error) {
	if account.Email == "" || account.PasswordHash == "" {
		return primitive.NilObjectID, errors.New("account email and password hash are required")
	}

	account.ID = primitive.NewObjectID()
	now := time.Now().UTC()
	account.CreatedAt = now
	account.UpdatedAt = now

	result, err := s.accounts.InsertOne(ctx, account)
	if err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return primitive.NilObjectID, repository.ErrConflict
		}
		return primitive.NilObjectID, persistence("create account", err)
	}

	insertedID, ok := result.InsertedID.(primitive.ObjectID)
	if !ok {
		return primitive.NilObjectID, errors.New("failed to convert inserted ID")
	}
	return insertedID, nil
}

// GetAccountByEmail retrieves an account by its email address.
func (s *Store) GetAccountByEmail(ctx context.Context, email string) (*domain.Account, error) {
	var account domain.Account
	filter := bson.M{"email": email}

	err := s.accounts.FindOne(ctx, filter).Decode(&account)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, repository.ErrNotFound
		}
		return nil, persistence("load account by email", err)
	}
	return &account, nil
}

// GetAccountByID retrieves an account by its ObjectID.
func (s *Store) GetAccountByID(ctx context.Context, id primitive.ObjectID) (*domain.Account, error) {
	var account domain.Account
	filter := bson.M{"_id": id}

	err := s.accounts.FindOne(ctx, filter).Decode(&account)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, repository.ErrNotFound
		}
		return nil, persistence("load account by id", err)
	}
	return &account, nil
}
