package mongo

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"

	"github.com/avelartours/capacity-engine/internal/domain"
	"github.com/avelartours/capacity-engine/internal/observability"
)

// AuditTrail keeps one document per hold transition. Holds themselves are
// never deleted from the store; this collection adds the who/when trail
// for ops without touching the transactional path.
type AuditTrail struct {
	coll   *mongo.Collection
	logger observability.Logger
}

func NewAuditTrail(db *mongo.Database, logger observability.Logger) *AuditTrail {
	return &AuditTrail{
		coll:   db.Collection("hold_audit"),
		logger: logger,
	}
}

type transitionDoc struct {
	ID        uuid.UUID `bson:"_id"`
	Action    string    `bson:"action"`
	HoldID    uuid.UUID `bson:"hold_id"`
	PoolID    uuid.UUID `bson:"pool_id"`
	OwnerRef  string    `bson:"owner_ref"`
	Quantity  int32     `bson:"quantity"`
	ExpiresAt time.Time `bson:"expires_at"`
	Timestamp time.Time `bson:"timestamp"`
}

func (a *AuditTrail) RecordTransition(ctx context.Context, action string, hold domain.Hold) error {
	doc := transitionDoc{
		ID:        uuid.New(),
		Action:    action,
		HoldID:    hold.ID,
		PoolID:    hold.PoolID,
		OwnerRef:  hold.OwnerRef,
		Quantity:  hold.Quantity,
		ExpiresAt: hold.ExpiresAt,
		Timestamp: time.Now().UTC(),
	}
	_, err := a.coll.InsertOne(ctx, doc)
	if err != nil {
		a.logger.WithField("hold_id", hold.ID).WithError(err).Error("failed to insert audit document")
		return err
	}
	return nil
}

// TransitionsForHold returns the recorded trail for one hold, oldest first.
func (a *AuditTrail) TransitionsForHold(ctx context.Context, holdID uuid.UUID) ([]bson.M, error) {
	cur, err := a.coll.Find(ctx, bson.M{"hold_id": holdID})
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)

	var docs []bson.M
	if err := cur.All(ctx, &docs); err != nil {
		return nil, err
	}
	return docs, nil
}
