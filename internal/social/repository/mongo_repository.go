package repository

import (
	"context"
	"errors"
	"time"

	"famnet-backend/internal/social/domain"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const (
	usersCollection = "users"
	postsCollection = "posts"
)

// Documents mirror the collections written by the main social app.
type userDocument struct {
	ID                      primitive.ObjectID   `bson:"_id"`
	Username                string               `bson:"username"`
	Followers               []primitive.ObjectID `bson:"followers,omitempty"`
	Following               []primitive.ObjectID `bson:"following,omitempty"`
	NotificationPreferences preferencesDocument  `bson:"notificationPreferences"`
	CreatedAt               time.Time            `bson:"createdAt,omitempty"`
	UpdatedAt               time.Time            `bson:"updatedAt,omitempty"`
}

type preferencesDocument struct {
	PushEnabled    bool       `bson:"pushEnabled"`
	PostType       string     `bson:"postType"`
	Likes          bool       `bson:"likes"`
	Comments       bool       `bson:"comments"`
	Follow         bool       `bson:"follow"`
	Unfollow       bool       `bson:"unfollow"`
	FCMToken       *string    `bson:"fcmToken"`
	TokenTimestamp *time.Time `bson:"tokenTimestamp,omitempty"`
	TokenValid     bool       `bson:"tokenValid"`
	DeviceInfo     string     `bson:"deviceInfo,omitempty"`
	LastSyncAt     *time.Time `bson:"lastSyncAt,omitempty"`
	TokenCheckedAt *time.Time `bson:"tokenCheckedAt,omitempty"`
}

type postDocument struct {
	ID        primitive.ObjectID `bson:"_id"`
	User      primitive.ObjectID `bson:"user"`
	Caption   string             `bson:"caption"`
	CreatedAt time.Time          `bson:"createdAt,omitempty"`
}

func (d userDocument) toDomain() domain.User {
	p := d.NotificationPreferences
	following := make([]string, len(d.Following))
	for i, id := range d.Following {
		following[i] = id.Hex()
	}
	return domain.User{
		ID:       d.ID.Hex(),
		Username: d.Username,
		NotificationPreferences: domain.NotificationPreferences{
			PushEnabled:    p.PushEnabled,
			PostType:       domain.ParsePostType(p.PostType),
			Likes:          p.Likes,
			Comments:       p.Comments,
			Follow:         p.Follow,
			Unfollow:       p.Unfollow,
			FCMToken:       p.FCMToken,
			TokenTimestamp: p.TokenTimestamp,
			TokenValid:     p.TokenValid,
			DeviceInfo:     p.DeviceInfo,
			LastSyncAt:     p.LastSyncAt,
			TokenCheckedAt: p.TokenCheckedAt,
		},
		Following: following,
		CreatedAt: d.CreatedAt,
		UpdatedAt: d.UpdatedAt,
	}
}

func (d postDocument) toDomain() domain.Post {
	return domain.Post{
		ID:        d.ID.Hex(),
		UserID:    d.User.Hex(),
		Caption:   d.Caption,
		CreatedAt: d.CreatedAt,
	}
}

type mongoUserRepository struct {
	users *mongo.Collection
}

// NewMongoUserRepository creates a UserRepository over the "users" collection
func NewMongoUserRepository(db *mongo.Database) UserRepository {
	return &mongoUserRepository{users: db.Collection(usersCollection)}
}

func (r *mongoUserRepository) find(ctx context.Context, id string) (*userDocument, error) {
	oid, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		// Not an ObjectID, so it cannot match any document.
		return nil, nil
	}
	var doc userDocument
	err = r.users.FindOne(ctx, bson.M{"_id": oid}).Decode(&doc)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, nil
		}
		return nil, err
	}
	return &doc, nil
}

func (r *mongoUserRepository) FindByID(ctx context.Context, id string) (*domain.User, error) {
	doc, err := r.find(ctx, id)
	if err != nil || doc == nil {
		return nil, err
	}
	user := doc.toDomain()
	return &user, nil
}

func (r *mongoUserRepository) FindFollowers(ctx context.Context, userID string) ([]domain.User, error) {
	doc, err := r.find(ctx, userID)
	if err != nil {
		return nil, err
	}
	if doc == nil || len(doc.Followers) == 0 {
		return []domain.User{}, nil
	}

	cursor, err := r.users.Find(ctx, bson.M{"_id": bson.M{"$in": doc.Followers}})
	if err != nil {
		return nil, err
	}
	var docs []userDocument
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, err
	}

	followers := make([]domain.User, len(docs))
	for i, d := range docs {
		followers[i] = d.toDomain()
	}
	return followers, nil
}

func (r *mongoUserRepository) updateOne(ctx context.Context, userID string, set bson.M) error {
	oid, err := primitive.ObjectIDFromHex(userID)
	if err != nil {
		return ErrUserNotFound
	}
	set["updatedAt"] = time.Now()
	res, err := r.users.UpdateOne(ctx, bson.M{"_id": oid}, bson.M{"$set": set})
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return ErrUserNotFound
	}
	return nil
}

func (r *mongoUserRepository) UpdatePreferences(ctx context.Context, userID string, prefs domain.NotificationPreferences) error {
	return r.updateOne(ctx, userID, bson.M{
		"notificationPreferences.pushEnabled": prefs.PushEnabled,
		"notificationPreferences.postType":    string(prefs.PostType),
		"notificationPreferences.likes":       prefs.Likes,
		"notificationPreferences.comments":    prefs.Comments,
		"notificationPreferences.follow":      prefs.Follow,
		"notificationPreferences.unfollow":    prefs.Unfollow,
	})
}

func (r *mongoUserRepository) SaveToken(ctx context.Context, userID string, reg domain.TokenRegistration) error {
	oid, err := primitive.ObjectIDFromHex(userID)
	if err != nil {
		return ErrUserNotFound
	}
	_, err = r.users.UpdateMany(ctx,
		bson.M{"notificationPreferences.fcmToken": reg.Token, "_id": bson.M{"$ne": oid}},
		bson.M{"$set": bson.M{
			"notificationPreferences.fcmToken":   nil,
			"notificationPreferences.tokenValid": false,
		}},
	)
	if err != nil {
		return err
	}

	return r.updateOne(ctx, userID, bson.M{
		"notificationPreferences.fcmToken":       reg.Token,
		"notificationPreferences.tokenTimestamp": reg.At,
		"notificationPreferences.tokenValid":     true,
		"notificationPreferences.deviceInfo":     reg.DeviceInfo,
		"notificationPreferences.lastSyncAt":     reg.At,
		"notificationPreferences.tokenCheckedAt": reg.At,
	})
}

func (r *mongoUserRepository) ClearUserToken(ctx context.Context, userID string) error {
	return r.updateOne(ctx, userID, bson.M{
		"notificationPreferences.fcmToken":   nil,
		"notificationPreferences.tokenValid": false,
	})
}

func (r *mongoUserRepository) BulkClearTokens(ctx context.Context, tokens []string) (int64, error) {
	if len(tokens) == 0 {
		return 0, nil
	}
	res, err := r.users.UpdateMany(ctx,
		bson.M{"notificationPreferences.fcmToken": bson.M{"$in": tokens}},
		bson.M{"$set": bson.M{
			"notificationPreferences.fcmToken":   nil,
			"notificationPreferences.tokenValid": false,
		}},
	)
	if err != nil {
		return 0, err
	}
	return res.ModifiedCount, nil
}

func (r *mongoUserRepository) FindStaleTokens(ctx context.Context, before time.Time, limit int) ([]domain.User, error) {
	filter := bson.M{
		"notificationPreferences.fcmToken": bson.M{"$ne": nil},
		"$or": bson.A{
			bson.M{"notificationPreferences.tokenCheckedAt": bson.M{"$lt": before}},
			// matches both null and missing
			bson.M{"notificationPreferences.tokenCheckedAt": nil},
		},
	}
	// Ascending sort puts null and missing first, like NULLS FIRST in Postgres.
	opts := options.Find().
		SetSort(bson.D{
			{Key: "notificationPreferences.tokenCheckedAt", Value: 1},
			{Key: "_id", Value: 1},
		}).
		SetLimit(int64(limit))

	cursor, err := r.users.Find(ctx, filter, opts)
	if err != nil {
		return nil, err
	}
	var docs []userDocument
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, err
	}
	users := make([]domain.User, len(docs))
	for i, d := range docs {
		users[i] = d.toDomain()
	}
	return users, nil
}

func (r *mongoUserRepository) TouchToken(ctx context.Context, userID string, at time.Time) error {
	return r.updateToken(ctx, userID, bson.M{
		"notificationPreferences.tokenValid":     true,
		"notificationPreferences.lastSyncAt":     at,
		"notificationPreferences.tokenCheckedAt": at,
	})
}

func (r *mongoUserRepository) MarkTokenChecked(ctx context.Context, userID string, at time.Time) error {
	return r.updateToken(ctx, userID, bson.M{
		"notificationPreferences.tokenCheckedAt": at,
	})
}

// updateToken sets fields when the user holds a token. A user without one is left
// alone; a missing user is ErrUserNotFound.
func (r *mongoUserRepository) updateToken(ctx context.Context, userID string, set bson.M) error {
	oid, err := primitive.ObjectIDFromHex(userID)
	if err != nil {
		return ErrUserNotFound
	}
	res, err := r.users.UpdateOne(ctx,
		bson.M{"_id": oid, "notificationPreferences.fcmToken": bson.M{"$ne": nil}},
		bson.M{"$set": set},
	)
	if err != nil {
		return err
	}
	if res.MatchedCount > 0 {
		return nil
	}

	n, err := r.users.CountDocuments(ctx, bson.M{"_id": oid})
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrUserNotFound
	}
	return nil
}

type mongoPostRepository struct {
	posts *mongo.Collection
}

func NewMongoPostRepository(db *mongo.Database) PostRepository {
	return &mongoPostRepository{posts: db.Collection(postsCollection)}
}

func (r *mongoPostRepository) FindByID(ctx context.Context, id string) (*domain.Post, error) {
	oid, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return nil, nil
	}
	var doc postDocument
	err = r.posts.FindOne(ctx, bson.M{"_id": oid}).Decode(&doc)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, nil
		}
		return nil, err
	}
	post := doc.toDomain()
	return &post, nil
}
