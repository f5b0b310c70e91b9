package referral

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"tg_referral_bot/internal/domain"
	"tg_referral_bot/internal/logging"
)

// errAlreadyLinked aborts the transaction when the target user has a
// referrer recorded. It never escapes Link.
var errAlreadyLinked = errors.New("user already has a referrer")

type referralCollection interface {
	FindOne(ctx context.Context, filter interface{}, opts ...*options.FindOneOptions) *mongo.SingleResult
	UpdateOne(ctx context.Context, filter interface{}, update interface{}, opts ...*options.UpdateOptions) (*mongo.UpdateResult, error)
}

type transactor interface {
	WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error
}

// Service records who invited whom. A referral is attributed at most once
// per user, and the invitee link plus the inviter counter move together.
type Service struct {
	tx     transactor
	users  referralCollection
	logger *logrus.Entry
}

// NewService constructs a referral service over the users collection.
func NewService(tx transactor, users referralCollection, logger *logrus.Entry) *Service {
	if logger == nil {
		logger = logging.Logger()
	}

	return &Service{
		tx:     tx,
		users:  users,
		logger: logger,
	}
}

// Link attributes targetChatID to referrerChatID. Self-referrals and users
// who already carry a referrer are silently ignored. An unknown referrer
// yields domain.ErrReferrerNotFound and leaves the target untouched; a target
// with no record yields domain.ErrUserNotFound.
func (s *Service) Link(ctx context.Context, referrerChatID, targetChatID int64) error {
	if ctx == nil {
		return errors.New("context is required")
	}
	if s == nil || s.tx == nil || s.users == nil {
		return errors.New("referral service is not initialized")
	}
	if referrerChatID <= 0 || targetChatID <= 0 {
		return errors.New("chat ids must be positive")
	}

	if referrerChatID == targetChatID {
		s.logger.WithFields(logging.Fields{
			"event":   "self_referral_ignored",
			"chat_id": targetChatID,
		}).Debug("self referral ignored")
		return nil
	}

	err := s.tx.WithTransaction(ctx, func(txCtx context.Context) error {
		return s.linkInTx(txCtx, referrerChatID, targetChatID)
	})
	if errors.Is(err, errAlreadyLinked) {
		s.logger.WithFields(logging.Fields{
			"event":       "referral_already_recorded",
			"chat_id":     targetChatID,
			"referrer_id": referrerChatID,
		}).Debug("referral already recorded")
		return nil
	}
	if err != nil {
		return err
	}

	s.logger.WithFields(logging.Fields{
		"event":       "referral_recorded",
		"chat_id":     targetChatID,
		"referrer_id": referrerChatID,
	}).Info("referral recorded")

	return nil
}

func (s *Service) linkInTx(ctx context.Context, referrerChatID, targetChatID int64) error {
	err := s.users.FindOne(ctx, bson.M{"chat_id": referrerChatID}).Err()
	if errors.Is(err, mongo.ErrNoDocuments) {
		return domain.ErrReferrerNotFound
	}
	if err != nil {
		return domain.NewStorageError("referral lookup referrer", err)
	}

	now := time.Now().UTC().Truncate(time.Millisecond)

	// The filter only matches users without a recorded referrer, so a
	// second link attempt is a clean miss rather than an overwrite.
	res, err := s.users.UpdateOne(ctx,
		bson.M{
			"chat_id":     targetChatID,
			"referred_by": bson.M{"$in": bson.A{nil, int64(0)}},
		},
		bson.M{"$set": bson.M{
			"referred_by": referrerChatID,
			"updated_at":  now,
		}},
	)
	if err != nil {
		return domain.NewStorageError("referral link target", err)
	}
	if res.ModifiedCount == 0 {
		// The conditional filter misses for two different reasons; a
		// target with no record at all is a real failure, not the
		// write-once no-op.
		err := s.users.FindOne(ctx, bson.M{"chat_id": targetChatID}).Err()
		if errors.Is(err, mongo.ErrNoDocuments) {
			return fmt.Errorf("referral target %d: %w", targetChatID, domain.ErrUserNotFound)
		}
		if err != nil {
			return domain.NewStorageError("referral lookup target", err)
		}
		return errAlreadyLinked
	}

	res, err = s.users.UpdateOne(ctx,
		bson.M{"chat_id": referrerChatID},
		bson.M{
			"$inc": bson.M{"referral_count": int64(1)},
			"$set": bson.M{"updated_at": now},
		},
	)
	if err != nil {
		return domain.NewStorageError("referral increment counter", err)
	}
	if res.MatchedCount == 0 {
		s.logger.WithFields(logging.Fields{
			"event":       "referrer_vanished",
			"chat_id":     targetChatID,
			"referrer_id": referrerChatID,
		}).Warn("referrer disappeared mid transaction")
		return domain.ErrReferrerNotFound
	}

	return nil
}
