package mongodb

import (
	"context"
	"fmt"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.uber.org/zap"

	"github.com/mamadbah2/labpulse/internal/config"
	"github.com/mamadbah2/labpulse/internal/domain/models"
)

const alertsCollection = "alerts"

// AlertArchive stores every alert raised by the monitor.
type AlertArchive struct {
	client     *mongo.Client
	collection *mongo.Collection
	logger     *zap.Logger
}

// Connect opens the archive described by cfg and makes sure its index exists.
func Connect(ctx context.Context, cfg config.MongoDBConfig, logger *zap.Logger) (*AlertArchive, error) {
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(cfg.URI))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to mongodb: %w", err)
	}

	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(ctx)
		return nil, fmt.Errorf("failed to ping mongodb: %w", err)
	}

	archive := NewAlertArchive(client.Database(cfg.DBName), logger)
	archive.client = client

	if err := archive.EnsureIndexes(ctx); err != nil {
		_ = client.Disconnect(ctx)
		return nil, err
	}
	return archive, nil
}

// NewAlertArchive wraps an existing database handle.
func NewAlertArchive(db *mongo.Database, logger *zap.Logger) *AlertArchive {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AlertArchive{
		collection: db.Collection(alertsCollection),
		logger:     logger,
	}
}

// EnsureIndexes creates the raised_at index used by RecentAlerts.
func (a *AlertArchive) EnsureIndexes(ctx context.Context) error {
	_, err := a.collection.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "raised_at", Value: -1}}},
		{Keys: bson.D{{Key: "severity", Value: 1}, {Key: "raised_at", Value: -1}}},
	})
	if err != nil {
		return fmt.Errorf("create alert indexes: %w", err)
	}
	return nil
}

// SaveAlerts inserts alerts. Documents already archived under the same id are
// left untouched.
func (a *AlertArchive) SaveAlerts(ctx context.Context, alerts []models.Alert) error {
	if len(alerts) == 0 {
		return nil
	}

	docs := make([]interface{}, len(alerts))
	for i, alert := range alerts {
		docs[i] = alert
	}

	_, err := a.collection.InsertMany(ctx, docs, options.InsertMany().SetOrdered(false))
	if err != nil && !mongo.IsDuplicateKeyError(err) {
		return fmt.Errorf("failed to insert alerts: %w", err)
	}

	a.logger.Debug("alerts archived", zap.Int("count", len(alerts)))
	return nil
}

// RecentAlerts returns up to limit alerts, newest first.
func (a *AlertArchive) RecentAlerts(ctx context.Context, limit int) ([]models.Alert, error) {
	if limit <= 0 {
		limit = 50
	}

	opts := options.Find().
		SetSort(bson.D{{Key: "raised_at", Value: -1}}).
		SetLimit(int64(limit))

	cursor, err := a.collection.Find(ctx, bson.D{}, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to query alerts: %w", err)
	}
	defer cursor.Close(ctx)

	alerts := make([]models.Alert, 0, limit)
	if err := cursor.All(ctx, &alerts); err != nil {
		return nil, fmt.Errorf("failed to decode alerts: %w", err)
	}
	return alerts, nil
}

// Close closes the MongoDB connection.
func (a *AlertArchive) Close(ctx context.Context) error {
	if a.client == nil {
		return nil
	}
	return a.client.Disconnect(ctx)
}
