package storage

import (
	"context"
	"os"
	"testing"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/hmdp/seckill/internal/core/domain"
	"github.com/hmdp/seckill/internal/port"
)

func getMongoClient(t *testing.T) *mongo.Client {
	uri := os.Getenv("MONGO_URI")
	if uri == "" {
		uri = "mongodb://localhost:27017"
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		t.Skipf("MongoDB not available: %v", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		t.Skipf("MongoDB not available: %v", err)
	}
	return client
}

func TestArchive_WritesDocument(t *testing.T) {
	client := getMongoClient(t)
	ctx := context.Background()
	defer client.Disconnect(ctx)

	const dbName = "seckill_test"
	archive := NewMongoDeadLetterArchive(client, dbName)

	coll := client.Database(dbName).Collection("dead_letters")
	coll.DeleteMany(ctx, bson.M{"message_id": "test-msg-1"})

	msg := port.QueueMessage{
		ID:            "test-msg-1",
		Order:         domain.VoucherOrder{ID: 77, UserID: 5, VoucherID: 100},
		DeliveryCount: 4,
	}
	if err := archive.Archive(ctx, msg); err != nil {
		t.Fatalf("Archive failed: %v", err)
	}

	var doc deadLetterDoc
	err := coll.FindOne(ctx, bson.M{"message_id": "test-msg-1"}).Decode(&doc)
	if err != nil {
		t.Fatalf("archived document not found: %v", err)
	}
	if doc.OrderID != 77 || doc.UserID != 5 || doc.VoucherID != 100 {
		t.Errorf("unexpected document: %+v", doc)
	}
	if doc.Deliveries != 4 {
		t.Errorf("expected 4 deliveries, got %d", doc.Deliveries)
	}

	coll.DeleteMany(ctx, bson.M{"message_id": "test-msg-1"})
}
