package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"

	"live-bidding/internal/biddingerrors"
	model "live-bidding/internal/models"
)

const (
	collectionAuctions = "auctions"
	collectionBids     = "bids"

	mongoSocketTimeout = 10 * time.Second
)

// MongoRepo is an AuctionDB backed by MongoDB.
// CommitBid and DeleteAuction use multi-document transactions, so the server must run as a replica set.
type MongoRepo struct {
	client   *mongo.Client
	auctions *mongo.Collection
	bids     *mongo.Collection
}

var _ AuctionDB = (*MongoRepo)(nil)

// ConnectMongo dials uri, verifies the primary is reachable and returns a repo on database dbName
func ConnectMongo(ctx context.Context, uri, dbName string) (*MongoRepo, error) {
	opts := options.Client().ApplyURI(uri).SetSocketTimeout(mongoSocketTimeout)
	client, err := mongo.Connect(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("connect mongo: %w", err)
	}
	if err := client.Ping(ctx, readpref.Primary()); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("ping mongo: %w", err)
	}
	return NewMongoRepo(client, dbName), nil
}

// NewMongoRepo wraps a connected client
func NewMongoRepo(client *mongo.Client, dbName string) *MongoRepo {
	db := client.Database(dbName)
	return &MongoRepo{
		client:   client,
		auctions: db.Collection(collectionAuctions),
		bids:     db.Collection(collectionBids),
	}
}

func (r *MongoRepo) Close(ctx context.Context) error { return r.client.Disconnect(ctx) }

// EnsureIndexes creates the secondary indexes the queries rely on
func (r *MongoRepo) EnsureIndexes(ctx context.Context) error {
	if _, err := r.auctions.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "status", Value: 1}}},
		{Keys: bson.D{{Key: "end_time", Value: 1}}},
		{Keys: bson.D{{Key: "created_at", Value: -1}, {Key: "_id", Value: 1}}},
	}); err != nil {
		return fmt.Errorf("ensure auction indexes: %w", err)
	}
	if _, err := r.bids.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "auction_id", Value: 1}, {Key: "created_at", Value: -1}}},
		{Keys: bson.D{{Key: "bidder_id", Value: 1}, {Key: "created_at", Value: -1}}},
	}); err != nil {
		return fmt.Errorf("ensure bid indexes: %w", err)
	}
	return nil
}

// SaveAuction upserts the full auction document
func (r *MongoRepo) SaveAuction(ctx context.Context, a model.Auction) error {
	if a.AuctionID == "" {
		return fmt.Errorf("save auction: %w - empty auction ID", biddingerrors.ErrInvalidAuction)
	}
	_, err := r.auctions.ReplaceOne(ctx, bson.M{"_id": a.AuctionID}, a, options.Replace().SetUpsert(true))
	if err != nil {
		return fmt.Errorf("save auction %s: %w", a.AuctionID, err)
	}
	return nil
}

// errBidExists aborts a CommitBid transaction whose bid is already stored
var errBidExists = errors.New("bid already stored")

// CommitBid inserts the bid and moves the auction from version a.Version-1 to a.Version in one transaction.
// A bid that is already stored with the auction at a.Version is treated as committed.
func (r *MongoRepo) CommitBid(ctx context.Context, bid model.Bid, a model.Auction) error {
	err := r.withTransaction(ctx, func(sc mongo.SessionContext) error {
		if _, err := r.bids.InsertOne(sc, bid); err != nil {
			if mongo.IsDuplicateKeyError(err) {
				return errBidExists
			}
			return fmt.Errorf("commit bid %s: insert: %w", bid.BidID, err)
		}
		res, err := r.auctions.UpdateOne(sc, bson.M{"_id": a.AuctionID, "version": a.Version - 1}, bson.M{"$set": bson.M{
			"current_bid":    a.CurrentBid,
			"current_bidder": a.CurrentBidder,
			"bid_count":      a.BidCount,
			"end_time":       a.EndTime,
			"version":        a.Version,
			"updated_at":     a.UpdatedAt,
		}})
		if err != nil {
			return fmt.Errorf("commit bid %s: update auction: %w", bid.BidID, err)
		}
		if res.MatchedCount == 0 {
			return fmt.Errorf("commit bid for auction %s: expected version %d: %w", a.AuctionID, a.Version-1, r.versionMismatch(sc, a.AuctionID))
		}
		return nil
	})
	if !errors.Is(err, errBidExists) {
		return err
	}

	// the aborted transaction cannot be read from, so confirm the earlier commit outside it
	stored, err := r.FindAuction(ctx, a.AuctionID)
	if err != nil {
		return fmt.Errorf("commit bid %s: %w", bid.BidID, err)
	}
	if stored.Version != a.Version {
		return fmt.Errorf("commit bid %s: bid exists, auction at version %d not %d: %w",
			bid.BidID, stored.Version, a.Version, biddingerrors.ErrVersionConflict)
	}
	return nil
}

// versionMismatch tells a missing auction apart from one at another version
func (r *MongoRepo) versionMismatch(ctx context.Context, auctionID string) error {
	n, err := r.auctions.CountDocuments(ctx, bson.M{"_id": auctionID})
	if err != nil {
		return err
	}
	if n == 0 {
		return biddingerrors.ErrAuctionNotFound
	}
	return biddingerrors.ErrVersionConflict
}

// FindAuction loads one auction by id
func (r *MongoRepo) FindAuction(ctx context.Context, auctionID string) (model.Auction, error) {
	var a model.Auction
	err := r.auctions.FindOne(ctx, bson.M{"_id": auctionID}).Decode(&a)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return model.Auction{}, fmt.Errorf("find auction %s: %w", auctionID, biddingerrors.ErrAuctionNotFound)
	}
	if err != nil {
		return model.Auction{}, fmt.Errorf("find auction %s: %w", auctionID, err)
	}
	return a, nil
}

// ListAuctions returns auctions matching filter, newest first
func (r *MongoRepo) ListAuctions(ctx context.Context, filter AuctionFilter) ([]model.Auction, error) {
	opts := options.Find().SetSort(bson.D{{Key: "created_at", Value: -1}, {Key: "_id", Value: 1}})
	if filter.Offset > 0 {
		opts.SetSkip(int64(filter.Offset))
	}
	if filter.Limit > 0 {
		opts.SetLimit(int64(filter.Limit))
	}

	cur, err := r.auctions.Find(ctx, auctionQuery(filter), opts)
	if err != nil {
		return nil, fmt.Errorf("list auctions: %w", err)
	}
	out := []model.Auction{}
	if err := cur.All(ctx, &out); err != nil {
		return nil, fmt.Errorf("list auctions: %w", err)
	}
	return out, nil
}

// DeleteAuction removes the auction document and its bids
func (r *MongoRepo) DeleteAuction(ctx context.Context, auctionID string) error {
	return r.withTransaction(ctx, func(sc mongo.SessionContext) error {
		res, err := r.auctions.DeleteOne(sc, bson.M{"_id": auctionID})
		if err != nil {
			return fmt.Errorf("delete auction %s: %w", auctionID, err)
		}
		if res.DeletedCount == 0 {
			return fmt.Errorf("delete auction %s: %w", auctionID, biddingerrors.ErrAuctionNotFound)
		}
		if _, err := r.bids.DeleteMany(sc, bson.M{"auction_id": auctionID}); err != nil {
			return fmt.Errorf("delete bids of auction %s: %w", auctionID, err)
		}
		return nil
	})
}

// GetBidsByAuction returns one page of bids, newest first, plus the total count
func (r *MongoRepo) GetBidsByAuction(ctx context.Context, auctionID string, offset, limit int) ([]model.Bid, int, error) {
	n, err := r.auctions.CountDocuments(ctx, bson.M{"_id": auctionID})
	if err != nil {
		return nil, 0, fmt.Errorf("get bids for auction %s: %w", auctionID, err)
	}
	if n == 0 {
		return nil, 0, fmt.Errorf("get bids for auction %s: %w", auctionID, biddingerrors.ErrAuctionNotFound)
	}

	q := bson.M{"auction_id": auctionID}
	total, err := r.bids.CountDocuments(ctx, q)
	if err != nil {
		return nil, 0, fmt.Errorf("count bids for auction %s: %w", auctionID, err)
	}

	opts := options.Find().SetSort(bson.D{{Key: "created_at", Value: -1}, {Key: "_id", Value: -1}})
	if offset > 0 {
		opts.SetSkip(int64(offset))
	}
	if limit > 0 {
		opts.SetLimit(int64(limit))
	}
	bids, err := r.findBids(ctx, q, opts)
	if err != nil {
		return nil, 0, fmt.Errorf("get bids for auction %s: %w", auctionID, err)
	}
	return bids, int(total), nil
}

// GetBidsByUser returns every bid placed by userID, newest first
func (r *MongoRepo) GetBidsByUser(ctx context.Context, userID string) ([]model.Bid, error) {
	opts := options.Find().SetSort(bson.D{{Key: "created_at", Value: -1}, {Key: "_id", Value: -1}})
	bids, err := r.findBids(ctx, bson.M{"bidder_id": userID}, opts)
	if err != nil {
		return nil, fmt.Errorf("get bids for user %s: %w", userID, err)
	}
	if len(bids) == 0 {
		return nil, fmt.Errorf("get bids for user %s: %w", userID, biddingerrors.ErrUserNoBids)
	}
	return bids, nil
}

func (r *MongoRepo) findBids(ctx context.Context, q bson.M, opts *options.FindOptions) ([]model.Bid, error) {
	cur, err := r.bids.Find(ctx, q, opts)
	if err != nil {
		return nil, err
	}
	bids := []model.Bid{}
	if err := cur.All(ctx, &bids); err != nil {
		return nil, err
	}
	return bids, nil
}

func (r *MongoRepo) withTransaction(ctx context.Context, run func(mongo.SessionContext) error) error {
	session, err := r.client.StartSession()
	if err != nil {
		return err
	}
	defer session.EndSession(ctx)

	_, err = session.WithTransaction(ctx, func(sc mongo.SessionContext) (interface{}, error) {
		return nil, run(sc)
	})
	return err
}

func auctionQuery(filter AuctionFilter) bson.M {
	q := bson.M{}
	if len(filter.Statuses) > 0 {
		statuses := make([]string, 0, len(filter.Statuses))
		for _, s := range filter.Statuses {
			statuses = append(statuses, string(s))
		}
		q["status"] = bson.M{"$in": statuses}
	}
	if filter.CreatedBy != "" {
		q["created_by"] = filter.CreatedBy
	}
	return q
}
