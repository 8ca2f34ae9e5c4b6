package mongo

import (
	"context"
	"time"

	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// Provider owns the MongoDB client connection.
type Provider struct {
	client *mongo.Client
	dbName string
}

// NewProvider connects to MongoDB and verifies the connection with a ping.
func NewProvider(ctx context.Context, uri string, dbName string) (*Provider, error) {
	clientOpts := options.Client().ApplyURI(uri)

	// Set some reasonable defaults if not provided in URI
	if clientOpts.ConnectTimeout == nil {
		clientOpts.SetConnectTimeout(10 * time.Second)
	}
	if clientOpts.ServerSelectionTimeout == nil {
		clientOpts.SetServerSelectionTimeout(5 * time.Second)
	}

	client, err := mongo.Connect(ctx, clientOpts)
	if err != nil {
		return nil, err
	}

	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(ctx)
		return nil, err
	}

	return &Provider{
		client: client,
		dbName: dbName,
	}, nil
}

// NewProviderFromClient wraps an existing client; Close disconnects it.
func NewProviderFromClient(client *mongo.Client, dbName string) *Provider {
	return &Provider{client: client, dbName: dbName}
}

func (p *Provider) Client() *mongo.Client {
	return p.client
}

func (p *Provider) Database() *mongo.Database {
	return p.client.Database(p.dbName)
}

func (p *Provider) DatabaseName() string {
	return p.dbName
}

func (p *Provider) Ping(ctx context.Context) error {
	return p.client.Ping(ctx, nil)
}

func (p *Provider) Close(ctx context.Context) error {
	return p.client.Disconnect(ctx)
}
