// Package user provides persistent upsert and lookup of user records keyed by
// chat identity.
package user

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"tg_referral_bot/internal/domain"
	"tg_referral_bot/internal/logging"
)

type userCollection interface {
	FindOneAndUpdate(ctx context.Context, filter interface{}, update interface{}, opts ...*options.FindOneAndUpdateOptions) *mongo.SingleResult
	FindOne(ctx context.Context, filter interface{}, opts ...*options.FindOneOptions) *mongo.SingleResult
	CountDocuments(ctx context.Context, filter interface{}, opts ...*options.CountOptions) (int64, error)
}

// Store creates and updates user records. An upsert writes only the profile
// fields that are present and non-empty, so repeated contacts can never erase
// previously stored data. Referral linkage and count are owned by the referral
// service and not reachable through this path.
type Store struct {
	users  userCollection
	logger *logrus.Entry
}

// NewStore constructs a Store over the provided users collection.
func NewStore(users userCollection, logger *logrus.Entry) *Store {
	if logger == nil {
		logger = logging.Logger()
	}

	return &Store{
		users:  users,
		logger: logger,
	}
}

// Upsert creates the record for chatID if missing, applies the supplied
// profile fields, and returns the post-write record. The whole operation is a
// single conditional write, so concurrent upserts for the same chat cannot
// interleave partial states.
func (s *Store) Upsert(ctx context.Context, chatID int64, profile domain.Profile) (domain.User, error) {
	if s == nil || s.users == nil {
		return domain.User{}, errors.New("user store is not initialized")
	}
	if ctx == nil {
		return domain.User{}, errors.New("context is required")
	}
	if chatID == 0 {
		return domain.User{}, errors.New("chat id is required")
	}

	now := time.Now().UTC().Truncate(time.Millisecond)

	set := bson.M{"updated_at": now}
	setIfPresent(set, "name", profile.Name)
	setIfPresent(set, "last_name", profile.LastName)
	setIfPresent(set, "username", profile.Username)
	setIfPresent(set, "referral_code", profile.ReferralCode)
	setIfPresent(set, "referral_link", profile.ReferralLink)
	setIfPresent(set, "preferred_language", profile.PreferredLanguage)

	update := bson.M{
		"$set": set,
		"$setOnInsert": bson.M{
			"chat_id":        chatID,
			"referral_count": int64(0),
			"created_at":     now,
		},
	}

	result := s.users.FindOneAndUpdate(ctx,
		bson.M{"chat_id": chatID},
		update,
		options.FindOneAndUpdate().
			SetUpsert(true).
			SetReturnDocument(options.After),
	)
	if result == nil {
		return domain.User{}, domain.NewStorageError("upsert user", errors.New("no result returned"))
	}
	if err := result.Err(); err != nil {
		return domain.User{}, domain.NewStorageError("upsert user", err)
	}

	var record domain.User
	if err := result.Decode(&record); err != nil {
		return domain.User{}, domain.NewStorageError("decode user", err)
	}

	if record.CreatedAt.Equal(record.UpdatedAt) {
		s.logger.WithFields(logging.Fields{
			"event":   "user_registered",
			"chat_id": chatID,
		}).Info("registered new user")
	} else {
		s.logger.WithFields(logging.Fields{
			"event":   "user_upserted",
			"chat_id": chatID,
		}).Debug("refreshed user record")
	}

	return record, nil
}

// Exists reports whether a record for chatID is stored. No side effects.
func (s *Store) Exists(ctx context.Context, chatID int64) (bool, error) {
	if s == nil || s.users == nil {
		return false, errors.New("user store is not initialized")
	}
	if ctx == nil {
		return false, errors.New("context is required")
	}
	if chatID == 0 {
		return false, errors.New("chat id is required")
	}

	count, err := s.users.CountDocuments(ctx, bson.M{"chat_id": chatID}, options.Count().SetLimit(1))
	if err != nil {
		return false, domain.NewStorageError("check user exists", err)
	}

	return count > 0, nil
}

// GetByChatID fetches a user by chat identity, returning ErrUserNotFound on a
// lookup miss.
func (s *Store) GetByChatID(ctx context.Context, chatID int64) (domain.User, error) {
	if s == nil || s.users == nil {
		return domain.User{}, errors.New("user store is not initialized")
	}
	if ctx == nil {
		return domain.User{}, errors.New("context is required")
	}
	if chatID == 0 {
		return domain.User{}, errors.New("chat id is required")
	}

	result := s.users.FindOne(ctx, bson.M{"chat_id": chatID})
	if result == nil {
		return domain.User{}, domain.NewStorageError("find user", errors.New("no result returned"))
	}
	if err := result.Err(); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return domain.User{}, fmt.Errorf("chat %d: %w", chatID, domain.ErrUserNotFound)
		}
		return domain.User{}, domain.NewStorageError("find user", err)
	}

	var record domain.User
	if err := result.Decode(&record); err != nil {
		return domain.User{}, domain.NewStorageError("decode user", err)
	}

	return record, nil
}

// setIfPresent applies a field only when it was supplied and non-empty,
// keeping "empty string" and "not provided" from nulling out stored values.
func setIfPresent(set bson.M, key string, value *string) {
	if value == nil {
		return
	}
	trimmed := strings.TrimSpace(*value)
	if trimmed == "" {
		return
	}
	set[key] = trimmed
}
