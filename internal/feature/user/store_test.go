package user

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	logtest "github.com/sirupsen/logrus/hooks/test"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"tg_referral_bot/internal/domain"
)

func TestUpsertCreatesNewRecordWithDefaults(t *testing.T) {
	coll := newFakeUserCollection(t)
	store := newTestStore(coll)

	record, err := store.Upsert(context.Background(), 123, domain.Profile{
		Name:     domain.StringPtr("Alice"),
		Username: domain.StringPtr("alice"),
	})
	if err != nil {
		t.Fatalf("Upsert returned error: %v", err)
	}

	if record.ChatID != 123 {
		t.Fatalf("expected chat id 123, got %d", record.ChatID)
	}
	if record.Name != "Alice" || record.Username != "alice" {
		t.Fatalf("expected profile fields applied, got %+v", record)
	}
	if record.ReferralCount != 0 {
		t.Fatalf("expected referral count to default to 0, got %d", record.ReferralCount)
	}
	if record.ReferredBy != 0 {
		t.Fatalf("expected no referrer on a fresh record, got %d", record.ReferredBy)
	}
	if record.CreatedAt.IsZero() || !record.CreatedAt.Equal(record.UpdatedAt) {
		t.Fatalf("expected matching timestamps on insert, got created_at=%v updated_at=%v", record.CreatedAt, record.UpdatedAt)
	}
}

func TestUpsertIsIdempotentBesidesUpdatedAt(t *testing.T) {
	coll := newFakeUserCollection(t)
	store := newTestStore(coll)

	profile := domain.Profile{Name: domain.StringPtr("Alice"), Username: domain.StringPtr("alice")}

	first, err := store.Upsert(context.Background(), 55, profile)
	if err != nil {
		t.Fatalf("first Upsert returned error: %v", err)
	}

	second, err := store.Upsert(context.Background(), 55, profile)
	if err != nil {
		t.Fatalf("second Upsert returned error: %v", err)
	}

	if coll.docCount() != 1 {
		t.Fatalf("expected a single record after double upsert, got %d", coll.docCount())
	}
	if second.Name != first.Name || second.Username != first.Username {
		t.Fatalf("expected record unchanged besides updated_at, got %+v then %+v", first, second)
	}
	if !second.CreatedAt.Equal(first.CreatedAt) {
		t.Fatalf("expected created_at to stay %v, got %v", first.CreatedAt, second.CreatedAt)
	}
	if second.UpdatedAt.Before(first.UpdatedAt) {
		t.Fatalf("expected updated_at to move forward, got %v then %v", first.UpdatedAt, second.UpdatedAt)
	}
}

func TestUpsertNeverNullsOutStoredFields(t *testing.T) {
	coll := newFakeUserCollection(t)
	store := newTestStore(coll)

	ctx := context.Background()

	if _, err := store.Upsert(ctx, 77, domain.Profile{Username: domain.StringPtr("a")}); err != nil {
		t.Fatalf("first Upsert returned error: %v", err)
	}

	record, err := store.Upsert(ctx, 77, domain.Profile{Name: domain.StringPtr("b")})
	if err != nil {
		t.Fatalf("second Upsert returned error: %v", err)
	}

	if record.Username != "a" {
		t.Fatalf("expected username to survive partial update, got %q", record.Username)
	}
	if record.Name != "b" {
		t.Fatalf("expected name to be set, got %q", record.Name)
	}

	// Empty strings count as "not provided", same as nil.
	record, err = store.Upsert(ctx, 77, domain.Profile{Username: domain.StringPtr("")})
	if err != nil {
		t.Fatalf("third Upsert returned error: %v", err)
	}
	if record.Username != "a" {
		t.Fatalf("expected empty username to be ignored, got %q", record.Username)
	}
}

func TestUpsertCannotTouchReferralOwnership(t *testing.T) {
	coll := newFakeUserCollection(t)
	store := newTestStore(coll)

	ctx := context.Background()

	coll.seed(t, bson.M{
		"chat_id":        int64(88),
		"referred_by":    int64(42),
		"referral_count": int64(7),
		"created_at":     time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC),
		"updated_at":     time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC),
	})

	record, err := store.Upsert(ctx, 88, domain.Profile{Name: domain.StringPtr("Bob")})
	if err != nil {
		t.Fatalf("Upsert returned error: %v", err)
	}

	if record.ReferredBy != 42 {
		t.Fatalf("expected referred_by untouched, got %d", record.ReferredBy)
	}
	if record.ReferralCount != 7 {
		t.Fatalf("expected referral_count untouched, got %d", record.ReferralCount)
	}
}

func TestUpsertSurfacesStorageErrors(t *testing.T) {
	coll := newFakeUserCollection(t)
	coll.findOneAndUpdateErr = errors.New("connection reset")
	store := newTestStore(coll)

	_, err := store.Upsert(context.Background(), 1, domain.Profile{})
	if err == nil {
		t.Fatalf("expected storage error")
	}

	var storageErr *domain.StorageError
	if !errors.As(err, &storageErr) {
		t.Fatalf("expected *domain.StorageError, got %T: %v", err, err)
	}
}

func TestExistsChecksWithoutSideEffects(t *testing.T) {
	coll := newFakeUserCollection(t)
	store := newTestStore(coll)

	ctx := context.Background()

	exists, err := store.Exists(ctx, 404)
	if err != nil {
		t.Fatalf("Exists returned error: %v", err)
	}
	if exists {
		t.Fatalf("expected missing user to report false")
	}

	coll.seed(t, bson.M{"chat_id": int64(404)})

	exists, err = store.Exists(ctx, 404)
	if err != nil {
		t.Fatalf("Exists returned error: %v", err)
	}
	if !exists {
		t.Fatalf("expected seeded user to report true")
	}

	if coll.docCount() != 1 {
		t.Fatalf("expected Exists to leave storage untouched, got %d docs", coll.docCount())
	}
}

func TestGetByChatIDDistinguishesMissFromFailure(t *testing.T) {
	coll := newFakeUserCollection(t)
	store := newTestStore(coll)

	ctx := context.Background()

	_, err := store.GetByChatID(ctx, 5)
	if !errors.Is(err, domain.ErrUserNotFound) {
		t.Fatalf("expected ErrUserNotFound for a miss, got %v", err)
	}

	coll.seed(t, bson.M{"chat_id": int64(5), "username": "eve"})

	record, err := store.GetByChatID(ctx, 5)
	if err != nil {
		t.Fatalf("GetByChatID returned error: %v", err)
	}
	if record.Username != "eve" {
		t.Fatalf("expected stored record, got %+v", record)
	}

	coll.findOneErr = errors.New("socket closed")
	_, err = store.GetByChatID(ctx, 5)
	var storageErr *domain.StorageError
	if !errors.As(err, &storageErr) {
		t.Fatalf("expected *domain.StorageError on failure, got %v", err)
	}
}

func newTestStore(coll *fakeUserCollection) *Store {
	hookLogger, _ := logtest.NewNullLogger()
	return NewStore(coll, logrus.NewEntry(hookLogger))
}

type fakeUserCollection struct {
	t                   *testing.T
	docs                map[int64]bson.M
	findOneAndUpdateErr error
	findOneErr          error
}

func newFakeUserCollection(t *testing.T) *fakeUserCollection {
	t.Helper()
	return &fakeUserCollection{
		t:    t,
		docs: make(map[int64]bson.M),
	}
}

func (f *fakeUserCollection) FindOneAndUpdate(_ context.Context, filter interface{}, update interface{}, opts ...*options.FindOneAndUpdateOptions) *mongo.SingleResult {
	if f.findOneAndUpdateErr != nil {
		return mongo.NewSingleResultFromDocument(bson.M{}, f.findOneAndUpdateErr, nil)
	}

	chatID := f.filterChatID(filter)

	updateDoc, ok := update.(bson.M)
	if !ok {
		f.t.Fatalf("unexpected update type %T", update)
	}
	setDoc, _ := updateDoc["$set"].(bson.M)
	setOnInsertDoc, _ := updateDoc["$setOnInsert"].(bson.M)

	upsert := len(opts) > 0 && opts[0] != nil && opts[0].Upsert != nil && *opts[0].Upsert

	doc, found := f.docs[chatID]
	if !found {
		if !upsert {
			// The constructor needs a non-nil document for the error
			// to surface through Err().
			return mongo.NewSingleResultFromDocument(bson.D{}, mongo.ErrNoDocuments, nil)
		}
		doc = bson.M{}
		merge(doc, setOnInsertDoc)
	}

	merge(doc, setDoc)
	f.docs[chatID] = doc

	return mongo.NewSingleResultFromDocument(doc, nil, nil)
}

func (f *fakeUserCollection) FindOne(_ context.Context, filter interface{}, opts ...*options.FindOneOptions) *mongo.SingleResult {
	if f.findOneErr != nil {
		return mongo.NewSingleResultFromDocument(bson.M{}, f.findOneErr, nil)
	}

	doc, found := f.docs[f.filterChatID(filter)]
	if !found {
		return mongo.NewSingleResultFromDocument(bson.D{}, mongo.ErrNoDocuments, nil)
	}

	return mongo.NewSingleResultFromDocument(doc, nil, nil)
}

func (f *fakeUserCollection) CountDocuments(_ context.Context, filter interface{}, opts ...*options.CountOptions) (int64, error) {
	if _, found := f.docs[f.filterChatID(filter)]; found {
		return 1, nil
	}
	return 0, nil
}

func (f *fakeUserCollection) filterChatID(filter interface{}) int64 {
	f.t.Helper()

	filterDoc, ok := filter.(bson.M)
	if !ok {
		f.t.Fatalf("unexpected filter type %T", filter)
	}

	chatID, ok := filterDoc["chat_id"].(int64)
	if !ok {
		f.t.Fatalf("expected int64 chat_id filter, got %v", filterDoc["chat_id"])
	}

	return chatID
}

func (f *fakeUserCollection) seed(t *testing.T, doc bson.M) {
	t.Helper()

	chatID, ok := doc["chat_id"].(int64)
	if !ok {
		t.Fatalf("seed document missing chat_id: %v", doc)
	}

	f.docs[chatID] = doc
}

func (f *fakeUserCollection) docCount() int {
	return len(f.docs)
}

func merge(dst, updates bson.M) {
	for k, v := range updates {
		dst[k] = v
	}
}
