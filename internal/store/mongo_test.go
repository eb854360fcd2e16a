//go:build integration

package store

import (
	"context"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/v2/bson"

	"github.com/handsomefox/watchwise/internal/tracking"
)

func openTestMongo(t *testing.T, uri string) *MongoStore {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	database := "watchwise_test_" + strings.ReplaceAll(uuid.NewString(), "-", "")
	st, err := OpenMongo(ctx, uri, database)
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = st.client.Database(database).Drop(context.Background())
		_ = st.Close()
	})
	return st
}

// Run with: MONGO_URI=mongodb://localhost:27017 go test -tags integration ./internal/store/
func TestMongoStore(t *testing.T) {
	uri := os.Getenv("MONGO_URI")
	if uri == "" {
		t.Skip("MONGO_URI not set")
	}

	runStoreSuite(t, func(t *testing.T) userStore {
		t.Helper()
		return openTestMongo(t, uri)
	})
}

func TestMongoStore_UnversionedDocumentIsNotOverwritten(t *testing.T) {
	uri := os.Getenv("MONGO_URI")
	if uri == "" {
		t.Skip("MONGO_URI not set")
	}
	st := openTestMongo(t, uri)
	ctx := context.Background()

	oid := bson.NewObjectID()
	_, err := st.users.InsertOne(ctx, bson.D{
		{Key: "_id", Value: oid},
		{Key: "name", Value: "Old"},
		{Key: "email", Value: "old@example.com"},
		{Key: "movies", Value: bson.A{bson.D{{Key: "movieId", Value: "27205"}, {Key: "movieTitle", Value: "Inception"}}}},
	})
	require.NoError(t, err)

	u, err := st.FindUser(ctx, oid.Hex())
	require.NoError(t, err)
	assert.Zero(t, u.Version)

	u.Name = "New"
	require.ErrorIs(t, st.SaveUser(ctx, u), tracking.ErrVersionConflict)

	var raw bson.M
	require.NoError(t, st.users.FindOne(ctx, bson.D{{Key: "_id", Value: oid}}).Decode(&raw))
	assert.Equal(t, "Old", raw["name"])
	assert.Contains(t, raw, "movies")
}
