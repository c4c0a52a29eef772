// Package mongodb implements ledger.Store on a MongoDB collection.
package mongodb

import (
	"context"
	"errors"
	"fmt"
	"time"

	"cloud.google.com/go/civil"
	"github.com/dvloznov/finance-backup/internal/apperr"
	"github.com/dvloznov/finance-backup/internal/domain"
	"github.com/dvloznov/finance-backup/internal/ledger"
	"github.com/shopspring/decimal"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const (
	// DefaultDatabase is used when Config.Database is empty.
	DefaultDatabase = "finance"

	transactionsCollection = "transactions"
)

// Config describes the MongoDB connection and the user whose ledger is
// exposed.
type Config struct {
	URI      string
	Database string
	UserID   string
}

// document is the stored shape of a transaction.
type document struct {
	ID          string               `bson:"_id"`
	UserID      string               `bson:"user_id"`
	Type        string               `bson:"type"`
	Amount      primitive.Decimal128 `bson:"amount"`
	Currency    string               `bson:"currency"`
	Category    string               `bson:"category"`
	Description string               `bson:"description"`
	Date        string               `bson:"date"`
	CreatedAt   time.Time            `bson:"created_at"`
	UpdatedAt   time.Time            `bson:"updated_at"`
}

func toDocument(userID string, tx domain.Transaction) (document, error) {
	amount, err := primitive.ParseDecimal128(tx.Amount.String())
	if err != nil {
		return document{}, fmt.Errorf("amount %s: %w", tx.Amount, err)
	}
	return document{
		ID:          tx.ID,
		UserID:      userID,
		Type:        string(tx.Type),
		Amount:      amount,
		Currency:    tx.Currency,
		Category:    tx.Category,
		Description: tx.Description,
		Date:        tx.Date.String(),
		CreatedAt:   tx.CreatedAt.UTC(),
		UpdatedAt:   tx.UpdatedAt.UTC(),
	}, nil
}

func (d document) toDomain() (domain.Transaction, error) {
	amount, err := decimal.NewFromString(d.Amount.String())
	if err != nil {
		return domain.Transaction{}, fmt.Errorf("document %s: amount: %w", d.ID, err)
	}
	// A malformed date becomes the zero date, which the integrity checker flags.
	date, _ := civil.ParseDate(d.Date)
	return domain.Transaction{
		ID:          d.ID,
		Type:        domain.TransactionType(d.Type),
		Amount:      amount,
		Currency:    d.Currency,
		Category:    d.Category,
		Description: d.Description,
		Date:        date,
		CreatedAt:   d.CreatedAt.UTC(),
		UpdatedAt:   d.UpdatedAt.UTC(),
	}, nil
}

// Store is the MongoDB implementation of ledger.Store.
type Store struct {
	client *mongo.Client
	coll   *mongo.Collection
	userID string
}

// Connect dials MongoDB, verifies the connection and ensures indexes.
func Connect(ctx context.Context, cfg Config) (*Store, error) {
	if cfg.URI == "" {
		return nil, errors.New("Connect: MongoDB URI is required")
	}

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(cfg.URI))
	if err != nil {
		return nil, fmt.Errorf("Connect: dial: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(ctx)
		return nil, fmt.Errorf("Connect: ping: %w", err)
	}

	s := NewStoreWithClient(client, cfg)
	if err := s.EnsureIndexes(ctx); err != nil {
		_ = client.Disconnect(ctx)
		return nil, err
	}
	return s, nil
}

// NewStoreWithClient creates a Store on an existing client.
func NewStoreWithClient(client *mongo.Client, cfg Config) *Store {
	if cfg.Database == "" {
		cfg.Database = DefaultDatabase
	}
	return &Store{
		client: client,
		coll:   client.Database(cfg.Database).Collection(transactionsCollection),
		userID: cfg.UserID,
	}
}

// Close disconnects the client.
func (s *Store) Close(ctx context.Context) error {
	return s.client.Disconnect(ctx)
}

// EnsureIndexes creates the ordering and content-lookup indexes.
func (s *Store) EnsureIndexes(ctx context.Context) error {
	_, err := s.coll.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "user_id", Value: 1}, {Key: "created_at", Value: 1}, {Key: "_id", Value: 1}}},
		{Keys: bson.D{{Key: "user_id", Value: 1}, {Key: "date", Value: 1}, {Key: "amount", Value: 1}, {Key: "description", Value: 1}}},
	})
	if err != nil {
		return fmt.Errorf("EnsureIndexes: %w", err)
	}
	return nil
}

// ListPage implements ledger.Store.
func (s *Store) ListPage(ctx context.Context, offset, limit int) ([]domain.Transaction, error) {
	opts := options.Find().
		SetSort(bson.D{{Key: "created_at", Value: 1}, {Key: "_id", Value: 1}}).
		SetSkip(int64(offset)).
		SetLimit(int64(limit))

	txs, err := s.find(ctx, bson.M{"user_id": s.userID}, opts)
	if err != nil {
		return nil, apperr.StorageFailure("ListPage", err)
	}
	return txs, nil
}

// Insert implements ledger.Store.
func (s *Store) Insert(ctx context.Context, tx domain.Transaction) (domain.Transaction, error) {
	tx = ledger.PrepareInsert(tx, time.Now().UTC())
	doc, err := toDocument(s.userID, tx)
	if err != nil {
		return domain.Transaction{}, apperr.ValidationFailure("Insert", err)
	}
	if _, err := s.coll.InsertOne(ctx, doc); err != nil {
		return domain.Transaction{}, apperr.StorageFailure("Insert", err)
	}
	return tx, nil
}

// InsertBatch implements ledger.Store. The insert is ordered, so on failure
// documents before the failing one stay written.
func (s *Store) InsertBatch(ctx context.Context, txs []domain.Transaction) error {
	if len(txs) == 0 {
		return nil
	}

	now := time.Now().UTC()
	docs := make([]interface{}, 0, len(txs))
	for _, tx := range txs {
		doc, err := toDocument(s.userID, ledger.PrepareInsert(tx, now))
		if err != nil {
			return apperr.ValidationFailure("InsertBatch", err)
		}
		docs = append(docs, doc)
	}

	if _, err := s.coll.InsertMany(ctx, docs); err != nil {
		return apperr.StorageFailure("InsertBatch", err)
	}
	return nil
}

// DeleteBatch implements ledger.Store.
func (s *Store) DeleteBatch(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	filter := bson.M{"user_id": s.userID, "_id": bson.M{"$in": ids}}
	if _, err := s.coll.DeleteMany(ctx, filter); err != nil {
		return apperr.StorageFailure("DeleteBatch", err)
	}
	return nil
}

// DeleteAll implements ledger.Store.
func (s *Store) DeleteAll(ctx context.Context) error {
	if _, err := s.coll.DeleteMany(ctx, bson.M{"user_id": s.userID}); err != nil {
		return apperr.StorageFailure("DeleteAll", err)
	}
	return nil
}

// FindByContent implements ledger.Store.
func (s *Store) FindByContent(ctx context.Context, key domain.ContentKey, since time.Time) ([]domain.Transaction, error) {
	filter, err := contentFilter(s.userID, key, since)
	if err != nil {
		return nil, apperr.ValidationFailure("FindByContent", err)
	}
	opts := options.Find().SetSort(bson.D{{Key: "created_at", Value: 1}, {Key: "_id", Value: 1}})

	txs, err := s.find(ctx, filter, opts)
	if err != nil {
		return nil, apperr.StorageFailure("FindByContent", err)
	}
	return txs, nil
}

func contentFilter(userID string, key domain.ContentKey, since time.Time) (bson.M, error) {
	amount, err := primitive.ParseDecimal128(key.Amount)
	if err != nil {
		return nil, fmt.Errorf("amount %q: %w", key.Amount, err)
	}
	return bson.M{
		"user_id":     userID,
		"type":        string(key.Type),
		"amount":      amount,
		"currency":    key.Currency,
		"category":    key.Category,
		"description": key.Description,
		"date":        key.Date,
		"created_at":  bson.M{"$gte": since.UTC()},
	}, nil
}

func (s *Store) find(ctx context.Context, filter bson.M, opts *options.FindOptions) ([]domain.Transaction, error) {
	cursor, err := s.coll.Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("find: %w", err)
	}
	defer cursor.Close(ctx)

	var txs []domain.Transaction
	for cursor.Next(ctx) {
		var doc document
		if err := cursor.Decode(&doc); err != nil {
			return nil, fmt.Errorf("decode: %w", err)
		}
		tx, err := doc.toDomain()
		if err != nil {
			return nil, err
		}
		txs = append(txs, tx)
	}
	if err := cursor.Err(); err != nil {
		return nil, fmt.Errorf("cursor: %w", err)
	}
	return txs, nil
}

// Ensure Store implements ledger.Store.
var _ ledger.Store = (*Store)(nil)
