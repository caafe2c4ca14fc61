package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"stock_alerts_backend/models"
)

// MongoDB names for the snapshot archive
const (
	MongoDBName              = "stock_alerts"
	MongoSnapshotsCollection = "market_snapshots"
)

// MongoArchive mirrors every collected MarketRecord into MongoDB as an
// append-only history. A nil *MongoArchive is valid and does nothing.
type MongoArchive struct {
	client *mongo.Client
	coll   *mongo.Collection
	log    logrus.FieldLogger
}

// NewMongoArchive connects when uri is set; an empty uri returns a nil archive
func NewMongoArchive(ctx context.Context, uri string, log logrus.FieldLogger) (*MongoArchive, error) {
	if uri == "" {
		log.Info("MONGODB_URI not set, snapshot archive disabled")
		return nil, nil
	}

	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	clientOptions := options.Client().
		ApplyURI(uri).
		SetMaxPoolSize(10).
		SetConnectTimeout(30 * time.Second).
		SetRetryWrites(true)

	client, err := mongo.Connect(ctx, clientOptions)
	if err != nil {
		return nil, fmt.Errorf("connect mongodb: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		client.Disconnect(ctx)
		return nil, fmt.Errorf("ping mongodb: %w", err)
	}

	log.Info("Connected to MongoDB snapshot archive")
	return &MongoArchive{
		client: client,
		coll:   client.Database(MongoDBName).Collection(MongoSnapshotsCollection),
		log:    log.WithField("component", "mongo_archive"),
	}, nil
}

// snapshotDocument converts a record into the stored document shape
func snapshotDocument(rec *models.MarketRecord) (bson.M, error) {
	var payload interface{}
	if err := json.Unmarshal(rec.Payload, &payload); err != nil {
		return nil, fmt.Errorf("decode payload: %w", err)
	}
	return bson.M{
		"symbol":       rec.Symbol,
		"facet":        string(rec.Facet),
		"payload":      payload,
		"collected_at": rec.CollectedAt,
	}, nil
}

// Archive inserts one snapshot document
func (a *MongoArchive) Archive(ctx context.Context, rec *models.MarketRecord) error {
	if a == nil {
		return nil
	}
	doc, err := snapshotDocument(rec)
	if err != nil {
		return err
	}
	if _, err := a.coll.InsertOne(ctx, doc); err != nil {
		return fmt.Errorf("archive %s/%s: %w", rec.Symbol, rec.Facet, err)
	}
	return nil
}

// Close disconnects the client
func (a *MongoArchive) Close(ctx context.Context) error {
	if a == nil {
		return nil
	}
	return a.client.Disconnect(ctx)
}
