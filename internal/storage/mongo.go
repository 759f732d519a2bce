package storage

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/angeloszaimis/site-monitor/internal/outcome"
	"github.com/angeloszaimis/site-monitor/internal/site"
)

const (
	samplesCollection = "monitor_samples"
	sitesCollection   = "monitor_sites"
)

type sampleDocument struct {
	SampleID     string    `bson:"sample_id"`
	SiteName     string    `bson:"site_name"`
	SampleTime   time.Time `bson:"sample_time"`
	ResponseTime int64     `bson:"response_time_ms"`
	StatusCode   int       `bson:"status_code"`
	ErrorCode    string    `bson:"error_code"`
	ErrorMessage string    `bson:"error_message,omitempty"`
	Outcome      string    `bson:"outcome"`
}

type siteDocument struct {
	SiteName        string    `bson:"site_name"`
	SiteURL         string    `bson:"site_url"`
	SearchToken     string    `bson:"search_token"`
	MaxResponseTime float64   `bson:"max_response_time"`
	Active          bool      `bson:"active"`
	UpdatedAt       time.Time `bson:"updated_at"`
}

func newSampleDocument(s outcome.Sample) sampleDocument {
	return sampleDocument{
		SampleID:     s.ID,
		SiteName:     s.Site,
		SampleTime:   s.Timestamp.UTC(),
		ResponseTime: s.Elapsed.Milliseconds(),
		StatusCode:   s.StatusCode,
		ErrorCode:    s.Kind.ErrorCode(),
		ErrorMessage: truncate(s.Message, maxMessageLength),
		Outcome:      string(s.Kind),
	}
}

func (d sampleDocument) sample() outcome.Sample {
	return outcome.Sample{
		ID:         d.SampleID,
		Site:       d.SiteName,
		Timestamp:  d.SampleTime,
		Elapsed:    time.Duration(d.ResponseTime) * time.Millisecond,
		StatusCode: d.StatusCode,
		Kind:       outcome.Kind(d.Outcome),
		Message:    d.ErrorMessage,
	}
}

// MongoSink stores samples as documents.
type MongoSink struct {
	client  *mongo.Client
	samples *mongo.Collection
	sites   *mongo.Collection
}

// OpenMongo connects to uri, verifies the connection and ensures indexes.
func OpenMongo(ctx context.Context, uri, database string, timeout time.Duration) (*MongoSink, error) {
	client, err := mongo.Connect(options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("connect mongodb: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	if err := client.Ping(pingCtx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("ping mongodb: %w", err)
	}

	sink := NewMongoSink(client.Database(database))
	sink.client = client

	if err := sink.ensureIndexes(pingCtx); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, err
	}

	return sink, nil
}

// NewMongoSink uses collections of an existing database handle.
func NewMongoSink(db *mongo.Database) *MongoSink {
	return &MongoSink{
		samples: db.Collection(samplesCollection),
		sites:   db.Collection(sitesCollection),
	}
}

func (m *MongoSink) ensureIndexes(ctx context.Context) error {
	_, err := m.samples.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "sample_id", Value: 1}}, Options: options.Index().SetUnique(true)},
		{Keys: bson.D{{Key: "site_name", Value: 1}, {Key: "sample_time", Value: -1}}},
	})
	if err != nil {
		return fmt.Errorf("mongodb sample indexes: %w", err)
	}

	_, err = m.sites.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "site_name", Value: 1}},
		Options: options.Index().SetUnique(true),
	})
	if err != nil {
		return fmt.Errorf("mongodb site index: %w", err)
	}
	return nil
}

func (m *MongoSink) Name() string { return "mongodb" }

func (m *MongoSink) Append(ctx context.Context, sample outcome.Sample) error {
	_, err := m.samples.InsertOne(ctx, newSampleDocument(sample))
	return err
}

func (m *MongoSink) RecordSites(ctx context.Context, sites []site.Config) error {
	now := time.Now().UTC()
	for _, cfg := range sites {
		doc := siteDocument{
			SiteName:        cfg.Name,
			SiteURL:         cfg.URL,
			SearchToken:     cfg.ExpectedToken,
			MaxResponseTime: cfg.AlertLoadTime.Seconds(),
			Active:          cfg.Active,
			UpdatedAt:       now,
		}
		_, err := m.sites.UpdateOne(ctx,
			bson.M{"site_name": cfg.Name},
			bson.M{"$set": doc},
			options.UpdateOne().SetUpsert(true),
		)
		if err != nil {
			return fmt.Errorf("upsert site %s: %w", cfg.Name, err)
		}
	}
	return nil
}

func (m *MongoSink) Recent(ctx context.Context, siteName string, limit int) ([]outcome.Sample, error) {
	opts := options.Find().
		SetSort(bson.D{{Key: "sample_time", Value: -1}}).
		SetLimit(int64(limit))

	cursor, err := m.samples.Find(ctx, bson.M{"site_name": siteName}, opts)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var docs []sampleDocument
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("cursor error: %w", err)
	}

	samples := make([]outcome.Sample, 0, len(docs))
	for _, d := range docs {
		samples = append(samples, d.sample())
	}
	return samples, nil
}

func (m *MongoSink) Close() error {
	if m.client == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return m.client.Disconnect(ctx)
}
