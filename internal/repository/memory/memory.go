// Package memory implements an in-memory store for development and testing.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"alcyxob/profile-sync/internal/domain"
	"alcyxob/profile-sync/internal/repository"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// Store keeps all state in process memory. The outbox slice stays in
// enqueue order; drains stable-sort it by CreatedAt so ties keep insertion
// order.
type Store struct {
	mu       sync.Mutex
	profiles map[string]*domain.ProfileAggregate
	weights  map[string]map[string]domain.WeightLogEntry // userID -> day -> row
	outbox   []domain.OutboxItem
	audit    []domain.AuditLogEntry
	accounts []*domain.Account
}

// New creates an empty in-memory store.
func New() *Store {
	return &Store{
		profiles: make(map[string]*domain.ProfileAggregate),
		weights:  make(map[string]map[string]domain.WeightLogEntry),
	}
}

// Ensure interfaces are met.
var _ repository.Store = (*Store)(nil)
var _ repository.AccountStore = (*Store)(nil)

// --- ProfileStore ---

func (s *Store) GetProfile(ctx context.Context, userID string) (*domain.ProfileAggregate, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.profiles[userID]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return p.Clone(), nil
}

// DeleteProfile is an idempotent local reset: aggregate, ledger and pending
// outbox items go, audit history stays.
func (s *Store) DeleteProfile(ctx context.Context, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.profiles, userID)
	delete(s.weights, userID)
	s.outbox = discard(s.outbox, func(item domain.OutboxItem) bool {
		return item.UserID == userID
	})
	return nil
}

// --- WeightLogStore ---

func (s *Store) GetWeightEntry(ctx context.Context, userID, day string) (*domain.WeightLogEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	row, ok := s.weights[userID][day]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return &row, nil
}

func (s *Store) ListWeightEntries(ctx context.Context, userID, from, to string) ([]domain.WeightLogEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var result []domain.WeightLogEntry
	for day, row := range s.weights[userID] {
		// DayFormat strings compare lexicographically in date order.
		if from != "" && day < from {
			continue
		}
		if to != "" && day > to {
			continue
		}
		result = append(result, row)
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].RecordDate < result[j].RecordDate
	})
	return result, nil
}

// --- OutboxQueue ---

func (s *Store) Enqueue(ctx context.Context, item *domain.OutboxItem) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.outbox = append(s.outbox, copyItem(*item))
	return nil
}

func (s *Store) Drain(ctx context.Context, userID string, limit int) ([]domain.OutboxItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var result []domain.OutboxItem
	for _, item := range s.outbox {
		if item.UserID == userID {
			result = append(result, copyItem(item))
		}
	}
	sort.SliceStable(result, func(i, j int) bool {
		return result[i].CreatedAt.Before(result[j].CreatedAt)
	})
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

func (s *Store) MarkSucceeded(ctx context.Context, itemID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i, item := range s.outbox {
		if item.ID == itemID {
			s.outbox = append(s.outbox[:i], s.outbox[i+1:]...)
			return nil
		}
	}
	return repository.ErrNotFound
}

func (s *Store) MarkFailed(ctx context.Context, itemID, cause string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i := range s.outbox {
		if s.outbox[i].ID == itemID {
			s.outbox[i].Attempt++
			s.outbox[i].LastError = &cause
			return nil
		}
	}
	return repository.ErrNotFound
}

func (s *Store) DiscardProfileUpserts(ctx context.Context, userID string, cutoff time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	before := len(s.outbox)
	s.outbox = discard(s.outbox, func(item domain.OutboxItem) bool {
		return item.UserID == userID &&
			item.Operation == domain.OpUpsertProfile &&
			!item.CreatedAt.After(cutoff)
	})
	return int64(before - len(s.outbox)), nil
}

func (s *Store) PendingCount(ctx context.Context, userID string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var n int64
	for _, item := range s.outbox {
		if item.UserID == userID {
			n++
		}
	}
	return n, nil
}

func (s *Store) PendingUserIDs(ctx context.Context, limit int) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	seen := make(map[string]bool)
	var users []string
	for _, item := range s.outbox {
		if seen[item.UserID] {
			continue
		}
		seen[item.UserID] = true
		users = append(users, item.UserID)
		if limit > 0 && len(users) == limit {
			break
		}
	}
	return users, nil
}

// --- AuditLog ---

func (s *Store) AuditEntries(ctx context.Context, userID string, since time.Time) ([]domain.AuditLogEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var result []domain.AuditLogEntry
	for _, e := range s.audit {
		if e.UserID == userID && !e.Timestamp.Before(since) {
			result = append(result, e)
		}
	}
	sort.SliceStable(result, func(i, j int) bool {
		return result[i].Timestamp.Before(result[j].Timestamp)
	})
	return result, nil
}

// --- Store ---

func (s *Store) ApplyMutation(ctx context.Context, batch repository.MutationBatch) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if batch.Profile != nil {
		s.profiles[batch.Profile.UserID] = batch.Profile.Clone()
	}
	if batch.Weight != nil {
		rows, ok := s.weights[batch.Weight.UserID]
		if !ok {
			rows = make(map[string]domain.WeightLogEntry)
			s.weights[batch.Weight.UserID] = rows
		}
		rows[batch.Weight.RecordDate] = *batch.Weight
	}
	if batch.DeleteWeightDay != "" {
		delete(s.weights[batch.UserID], batch.DeleteWeightDay)
	}
	if batch.Outbox != nil {
		s.outbox = append(s.outbox, copyItem(*batch.Outbox))
	}
	if batch.Audit != nil {
		s.audit = append(s.audit, *batch.Audit)
	}
	return nil
}

// --- AccountStore ---

func (s *Store) CreateAccount(ctx context.Context, account *domain.Account) (primitive.ObjectID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, a := range s.accounts {
		if a.Email == account.Email {
			return primitive.NilObjectID, repository.ErrConflict
		}
	}

	stored := *account
	if stored.ID.IsZero() {
		stored.ID = primitive.NewObjectID()
	}
	s.accounts = append(s.accounts, &stored)
	return stored.ID, nil
}

func (s *Store) GetAccountByEmail(ctx context.Context, email string) (*domain.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, a := range s.accounts {
		if a.Email == email {
			account := *a
			return &account, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (s *Store) GetAccountByID(ctx context.Context, id primitive.ObjectID) (*domain.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, a := range s.accounts {
		if a.ID == id {
			account := *a
			return &account, nil
		}
	}
	return nil, repository.ErrNotFound
}

// --- helpers ---

func copyItem(item domain.OutboxItem) domain.OutboxItem {
	out := item
	if item.Payload != nil {
		out.Payload = append([]byte(nil), item.Payload...)
	}
	if item.LastError != nil {
		cause := *item.LastError
		out.LastError = &cause
	}
	return out
}

func discard(items []domain.OutboxItem, drop func(domain.OutboxItem) bool) []domain.OutboxItem {
	kept := items[:0]
	for _, item := range items {
		if !drop(item) {
			kept = append(kept, item)
		}
	}
	return kept
}
