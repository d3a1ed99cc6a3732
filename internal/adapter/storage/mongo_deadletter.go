package storage

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/mongo"

	"github.com/hmdp/seckill/internal/port"
)

// MongoDeadLetterArchive keeps a durable record of reservations that
// aged out of the primary queue, for alerting and manual reprocessing.
type MongoDeadLetterArchive struct {
	collection *mongo.Collection
}

func NewMongoDeadLetterArchive(client *mongo.Client, database string) *MongoDeadLetterArchive {
	return &MongoDeadLetterArchive{
		collection: client.Database(database).Collection("dead_letters"),
	}
}

type deadLetterDoc struct {
	MessageID  string    `bson:"message_id"`
	OrderID    int64     `bson:"order_id"`
	UserID     int64     `bson:"user_id"`
	VoucherID  int64     `bson:"voucher_id"`
	Deliveries int64     `bson:"deliveries"`
	ArchivedAt time.Time `bson:"archived_at"`
}

func (a *MongoDeadLetterArchive) Archive(ctx context.Context, msg port.QueueMessage) error {
	_, err := a.collection.InsertOne(ctx, deadLetterDoc{
		MessageID:  msg.ID,
		OrderID:    msg.Order.ID,
		UserID:     msg.Order.UserID,
		VoucherID:  msg.Order.VoucherID,
		Deliveries: msg.DeliveryCount,
		ArchivedAt: time.Now(),
	})
	if err != nil {
		return fmt.Errorf("archive dead letter %s: %w", msg.ID, err)
	}
	return nil
}
