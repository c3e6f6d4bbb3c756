package models

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// EmailLog records a swap notification handed to the mailer.
type EmailLog struct {
	ID      primitive.ObjectID `bson:"_id,omitempty" json:"id"`
	SwapID  primitive.ObjectID `bson:"swapId" json:"swapId"`
	Event   string             `bson:"event" json:"event"`
	UserID  primitive.ObjectID `bson:"userId" json:"userId"`
	ToEmail string             `bson:"toEmail" json:"toEmail"`
	Error   string             `bson:"error,omitempty" json:"error,omitempty"`
	SentAt  time.Time          `bson:"sentAt" json:"sentAt"`
}
