// Package domain defines the shared user record and error taxonomy.
package domain

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// User is one record per distinct Telegram chat identity. ChatID is the
// business key and is immutable once set; ReferredBy is write-once and
// ReferralCount is owned exclusively by the referral service.
type User struct {
	ID                primitive.ObjectID `bson:"_id,omitempty" json:"-"`
	ChatID            int64              `bson:"chat_id" json:"chat_id"`
	Name              string             `bson:"name,omitempty" json:"name,omitempty"`
	LastName          string             `bson:"last_name,omitempty" json:"last_name,omitempty"`
	Username          string             `bson:"username,omitempty" json:"username,omitempty"`
	ReferralCode      string             `bson:"referral_code,omitempty" json:"referral_code,omitempty"`
	ReferredBy        int64              `bson:"referred_by,omitempty" json:"referred_by,omitempty"`
	ReferralCount     int64              `bson:"referral_count" json:"referral_count"`
	ReferralLink      string             `bson:"referral_link,omitempty" json:"referral_link,omitempty"`
	PreferredLanguage string             `bson:"preferred_language,omitempty" json:"preferred_language,omitempty"`
	CreatedAt         time.Time          `bson:"created_at" json:"created_at"`
	UpdatedAt         time.Time          `bson:"updated_at" json:"updated_at"`
}

// Profile carries the optional user fields for an upsert. A nil pointer means
// "not provided"; a pointer to an empty string is also treated as absent so an
// upsert can never null out previously stored data. Referral linkage and count
// are deliberately not representable here.
type Profile struct {
	Name              *string
	LastName          *string
	Username          *string
	ReferralCode      *string
	ReferralLink      *string
	PreferredLanguage *string
}

// StringPtr is a convenience helper for building Profile values.
func StringPtr(s string) *string {
	return &s
}
