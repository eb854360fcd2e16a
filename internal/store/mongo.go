package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/handsomefox/watchwise/internal/tracking"
)

const usersCollection = "users"

// MongoStore keeps one document per user in a MongoDB collection.
type MongoStore struct {
	client *mongo.Client
	users  *mongo.Collection
}

type userDocument struct {
	ID           bson.ObjectID           `bson:"_id"`
	Name         string                  `bson:"name"`
	Email        string                  `bson:"email"`
	PasswordHash string                  `bson:"password"`
	Movies       []tracking.TrackedTitle `bson:"movies"`
	TVShows      []tracking.TrackedTitle `bson:"tvShows"`
	Anime        []tracking.TrackedTitle `bson:"anime"`
	Stats        tracking.Stats          `bson:"stats"`
	Version      int64                   `bson:"version"`
	CreatedAt    time.Time               `bson:"createdAt"`
	UpdatedAt    time.Time               `bson:"updatedAt"`
}

func OpenMongo(ctx context.Context, uri, database string) (*MongoStore, error) {
	if uri == "" {
		return nil, errors.New("MONGO_URI is required")
	}
	client, err := mongo.Connect(options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("connect: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		if derr := client.Disconnect(ctx); derr != nil {
			return nil, fmt.Errorf("ping: %w; disconnect failed: %w", err, derr)
		}
		return nil, fmt.Errorf("ping: %w", err)
	}

	users := client.Database(database).Collection(usersCollection)
	_, err = users.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "email", Value: 1}},
		Options: options.Index().SetUnique(true),
	})
	if err != nil {
		if derr := client.Disconnect(ctx); derr != nil {
			return nil, fmt.Errorf("create email index: %w; disconnect failed: %w", err, derr)
		}
		return nil, fmt.Errorf("create email index: %w", err)
	}

	return &MongoStore{client: client, users: users}, nil
}

func (s *MongoStore) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.client.Disconnect(ctx)
}

func (s *MongoStore) Ping(ctx context.Context) error { return s.client.Ping(ctx, nil) }

func (s *MongoStore) CreateUser(ctx context.Context, user *tracking.User) error {
	now := time.Now().UTC()
	u := user.Clone()
	u.Email = NormalizeEmail(u.Email)
	u.Version = 1
	u.CreatedAt = now
	u.UpdatedAt = now

	doc := toDocument(u)
	doc.ID = bson.NewObjectID()
	if _, err := s.users.InsertOne(ctx, doc); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return ErrEmailTaken
		}
		return err
	}

	u.ID = doc.ID.Hex()
	*user = *u
	return nil
}

func (s *MongoStore) FindUser(ctx context.Context, id string) (*tracking.User, error) {
	oid, err := bson.ObjectIDFromHex(id)
	if err != nil {
		return nil, ErrNotFound
	}
	return s.findOne(ctx, bson.D{{Key: "_id", Value: oid}})
}

func (s *MongoStore) FindUserByEmail(ctx context.Context, email string) (*tracking.User, error) {
	return s.findOne(ctx, bson.D{{Key: "email", Value: NormalizeEmail(email)}})
}

func (s *MongoStore) findOne(ctx context.Context, filter bson.D) (*tracking.User, error) {
	var doc userDocument
	if err := s.users.FindOne(ctx, filter).Decode(&doc); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return fromDocument(&doc), nil
}

// SaveUser replaces the document only while its version matches.
// Documents without a version field never match and are left untouched.
func (s *MongoStore) SaveUser(ctx context.Context, user *tracking.User) error {
	oid, err := bson.ObjectIDFromHex(user.ID)
	if err != nil {
		return ErrNotFound
	}

	u := user.Clone()
	u.Email = NormalizeEmail(u.Email)
	u.Version = user.Version + 1
	if u.UpdatedAt.IsZero() {
		u.UpdatedAt = time.Now().UTC()
	}
	doc := toDocument(u)
	doc.ID = oid

	if user.Version < 1 {
		return tracking.ErrVersionConflict
	}
	filter := bson.D{{Key: "_id", Value: oid}, {Key: "version", Value: user.Version}}

	res, err := s.users.ReplaceOne(ctx, filter, doc)
	if err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return ErrEmailTaken
		}
		return err
	}
	if res.MatchedCount == 0 {
		n, err := s.users.CountDocuments(ctx, bson.D{{Key: "_id", Value: oid}})
		if err != nil {
			return err
		}
		if n > 0 {
			return tracking.ErrVersionConflict
		}
		return ErrNotFound
	}

	user.Email = u.Email
	user.Version = u.Version
	user.UpdatedAt = u.UpdatedAt
	return nil
}

func (s *MongoStore) DeleteUser(ctx context.Context, id string) error {
	oid, err := bson.ObjectIDFromHex(id)
	if err != nil {
		return ErrNotFound
	}
	res, err := s.users.DeleteOne(ctx, bson.D{{Key: "_id", Value: oid}})
	if err != nil {
		return err
	}
	if res.DeletedCount == 0 {
		return ErrNotFound
	}
	return nil
}

func toDocument(u *tracking.User) *userDocument {
	return &userDocument{
		Name:         u.Name,
		Email:        u.Email,
		PasswordHash: u.PasswordHash,
		Movies:       nonNil(u.Movies),
		TVShows:      nonNil(u.TVShows),
		Anime:        nonNil(u.Anime),
		Stats:        u.Stats,
		Version:      u.Version,
		CreatedAt:    u.CreatedAt,
		UpdatedAt:    u.UpdatedAt,
	}
}

func fromDocument(doc *userDocument) *tracking.User {
	return &tracking.User{
		ID:           doc.ID.Hex(),
		Name:         doc.Name,
		Email:        doc.Email,
		PasswordHash: doc.PasswordHash,
		Movies:       nonNil(doc.Movies),
		TVShows:      nonNil(doc.TVShows),
		Anime:        nonNil(doc.Anime),
		Stats:        doc.Stats,
		Version:      doc.Version,
		CreatedAt:    doc.CreatedAt.UTC(),
		UpdatedAt:    doc.UpdatedAt.UTC(),
	}
}

func nonNil(titles []tracking.TrackedTitle) []tracking.TrackedTitle {
	if titles == nil {
		return []tracking.TrackedTitle{}
	}
	return titles
}
