package database

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
)

type Service interface {
	Health() map[string]string
	GetDatabase() *mongo.Database
	Close() error
}

type service struct {
	db     *mongo.Client
	dbName string
}

// New connects to MongoDB and pings it.
func New(ctx context.Context, uri, dbName string) (Service, error) {
	if uri == "" {
		return nil, errors.New("database uri is empty")
	}
	if dbName == "" {
		dbName = "camdesk"
	}

	// Use the SetServerAPIOptions() method to set the version of the Stable API on the client
	serverAPI := options.ServerAPI(options.ServerAPIVersion1)
	opts := options.Client().ApplyURI(uri).SetServerAPIOptions(serverAPI)

	client, err := mongo.Connect(ctx, opts)
	if err != nil {
		return nil, errors.Wrap(err, "failed to connect to MongoDB")
	}

	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	if err := client.Ping(pingCtx, readpref.Primary()); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, errors.Wrap(err, "failed to ping MongoDB")
	}

	return &service{
		db:     client,
		dbName: dbName,
	}, nil
}

func (s *service) Health() map[string]string {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	err := s.db.Ping(ctx, readpref.Primary())
	if err != nil {
		return map[string]string{
			"message": "Database is unhealthy",
			"error":   err.Error(),
		}
	}

	return map[string]string{
		"message": "Database is healthy",
		"status":  "connected",
	}
}

func (s *service) GetDatabase() *mongo.Database {
	return s.db.Database(s.dbName)
}

func (s *service) Close() error {
	if s.db != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.db.Disconnect(ctx)
	}
	return nil
}
