package store

import (
	"context"
	"errors"
	"fmt"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo/options"
)

type countCollection interface {
	CountDocuments(ctx context.Context, filter interface{}, opts ...*options.CountOptions) (int64, error)
}

// StatsProvider exposes helper methods to retrieve user counts for basic
// diagnostics without leaking MongoDB internals to callers. CountReferredBy
// doubles as the ground truth for the referral-count invariant: the number of
// users referred by R must equal R's stored referral_count.
type StatsProvider struct {
	users countCollection
}

// NewStatsProvider constructs a StatsProvider backed by the users collection.
func NewStatsProvider(users countCollection) *StatsProvider {
	return &StatsProvider{users: users}
}

// CountUsers returns the number of documents in the users collection.
func (p *StatsProvider) CountUsers(ctx context.Context) (int64, error) {
	if ctx == nil {
		return 0, errors.New("context is required")
	}
	if p == nil || p.users == nil {
		return 0, errors.New("stats provider is not initialized")
	}

	count, err := p.users.CountDocuments(ctx, bson.D{})
	if err != nil {
		return 0, fmt.Errorf("count users: %w", err)
	}

	return count, nil
}

// CountReferredBy returns the number of users whose referred_by points at the
// given referrer chat id.
func (p *StatsProvider) CountReferredBy(ctx context.Context, referrerChatID int64) (int64, error) {
	if ctx == nil {
		return 0, errors.New("context is required")
	}
	if p == nil || p.users == nil {
		return 0, errors.New("stats provider is not initialized")
	}
	if referrerChatID == 0 {
		return 0, errors.New("referrer chat id is required")
	}

	count, err := p.users.CountDocuments(ctx, bson.M{"referred_by": referrerChatID})
	if err != nil {
		return 0, fmt.Errorf("count referred users: %w", err)
	}

	return count, nil
}
