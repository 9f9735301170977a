package repository

import (
	"context"
	"errors"
	"fmt"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/Cheertaboi/storefront-order-service/internal/models"
)

// MongoLedger keeps promo codes, redemptions and loyalty accounts in three
// collections and relies on multi-document transactions (replica set
// required). Concurrent writers on the same documents hit a write conflict
// and WithTransaction re-runs the callback against fresh data.
type MongoLedger struct {
	client      *mongo.Client
	promos      *mongo.Collection
	redemptions *mongo.Collection
	accounts    *mongo.Collection
}

func NewMongoLedger(client *mongo.Client, dbName string) *MongoLedger {
	db := client.Database(dbName)
	return &MongoLedger{
		client:      client,
		promos:      db.Collection("promo_codes"),
		redemptions: db.Collection("promo_redemptions"),
		accounts:    db.Collection("loyalty_accounts"),
	}
}

type redemptionDoc struct {
	ID                     string `bson:"_id"`
	models.PromoRedemption `bson:",inline"`
}

func mongoRedemptionID(customerID, code string) string {
	return customerID + "|" + code
}

func (l *MongoLedger) withTransaction(ctx context.Context, fn func(sc mongo.SessionContext) error) error {
	session, err := l.client.StartSession()
	if err != nil {
		return fmt.Errorf("start session: %w", err)
	}
	defer session.EndSession(ctx)

	_, err = session.WithTransaction(ctx, func(sc mongo.SessionContext) (interface{}, error) {
		return nil, fn(sc)
	})
	return err
}

func (l *MongoLedger) WithPromoTx(ctx context.Context, code, customerID string, fn func(tx PromoTx) error) error {
	return l.withTransaction(ctx, func(sc mongo.SessionContext) error {
		return fn(&mongoPromoTx{ledger: l, sc: sc, code: code, customerID: customerID})
	})
}

// mongoPromoTx runs every call on the session context so reads and writes
// join the transaction; the ctx arguments are not used.
type mongoPromoTx struct {
	ledger     *MongoLedger
	sc         mongo.SessionContext
	code       string
	customerID string
}

func (t *mongoPromoTx) Promo(_ context.Context) (models.PromoCode, bool, error) {
	var p models.PromoCode
	err := t.ledger.promos.FindOne(t.sc, bson.M{"_id": t.code}).Decode(&p)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return models.PromoCode{}, false, nil
		}
		return models.PromoCode{}, false, fmt.Errorf("read promo %s: %w", t.code, err)
	}
	return p, true, nil
}

func (t *mongoPromoTx) Redemption(_ context.Context) (models.PromoRedemption, bool, error) {
	var doc redemptionDoc
	err := t.ledger.redemptions.FindOne(t.sc, bson.M{"_id": mongoRedemptionID(t.customerID, t.code)}).Decode(&doc)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return models.PromoRedemption{}, false, nil
		}
		return models.PromoRedemption{}, false, fmt.Errorf("read redemption: %w", err)
	}
	return doc.PromoRedemption, true, nil
}

func (t *mongoPromoTx) ApplyRedemption(_ context.Context, red models.PromoRedemption) error {
	res, err := t.ledger.promos.UpdateOne(t.sc,
		bson.M{"_id": t.code, "remaining_uses": bson.M{"$gt": 0}},
		bson.M{"$inc": bson.M{"remaining_uses": -1}},
	)
	if err != nil {
		return fmt.Errorf("decrement promo: %w", err)
	}
	if res.MatchedCount != 1 {
		return fmt.Errorf("decrement promo %s: %w", t.code, ErrLedgerInvariant)
	}

	red.CustomerID = t.customerID
	red.Code = t.code
	_, err = t.ledger.redemptions.InsertOne(t.sc, redemptionDoc{
		ID:              mongoRedemptionID(t.customerID, t.code),
		PromoRedemption: red,
	})
	if err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return fmt.Errorf("insert redemption %s/%s: %w", t.customerID, t.code, ErrLedgerInvariant)
		}
		return fmt.Errorf("insert redemption: %w", err)
	}
	return nil
}

func (t *mongoPromoTx) RevertRedemption(_ context.Context) error {
	res, err := t.ledger.redemptions.DeleteOne(t.sc, bson.M{"_id": mongoRedemptionID(t.customerID, t.code)})
	if err != nil {
		return fmt.Errorf("delete redemption: %w", err)
	}
	if res.DeletedCount != 1 {
		return fmt.Errorf("delete redemption %s/%s: %w", t.customerID, t.code, ErrLedgerInvariant)
	}
	if _, err := t.ledger.promos.UpdateOne(t.sc,
		bson.M{"_id": t.code},
		bson.M{"$inc": bson.M{"remaining_uses": 1}},
	); err != nil {
		return fmt.Errorf("increment promo: %w", err)
	}
	return nil
}

func (l *MongoLedger) GetPromo(ctx context.Context, code string) (models.PromoCode, bool, error) {
	var p models.PromoCode
	err := l.promos.FindOne(ctx, bson.M{"_id": code}).Decode(&p)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return models.PromoCode{}, false, nil
		}
		return models.PromoCode{}, false, err
	}
	return p, true, nil
}

func (l *MongoLedger) HasRedemption(ctx context.Context, customerID, code string) (bool, error) {
	n, err := l.redemptions.CountDocuments(ctx,
		bson.M{"_id": mongoRedemptionID(customerID, code)},
		options.Count().SetLimit(1),
	)
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (l *MongoLedger) ListPromos(ctx context.Context) ([]models.PromoCode, error) {
	cursor, err := l.promos.Find(ctx, bson.M{}, options.Find().SetSort(bson.D{{Key: "_id", Value: 1}}))
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var promos []models.PromoCode
	if err := cursor.All(ctx, &promos); err != nil {
		return nil, err
	}
	return promos, nil
}

func (l *MongoLedger) UpsertPromo(ctx context.Context, p models.PromoCode) error {
	_, err := l.promos.ReplaceOne(ctx, bson.M{"_id": p.Code}, p, options.Replace().SetUpsert(true))
	return err
}

func (l *MongoLedger) WithLoyaltyTx(ctx context.Context, customerID string, fn func(tx LoyaltyTx) error) error {
	return l.withTransaction(ctx, func(sc mongo.SessionContext) error {
		return fn(&mongoLoyaltyTx{ledger: l, sc: sc, customerID: customerID})
	})
}

type mongoLoyaltyTx struct {
	ledger     *MongoLedger
	sc         mongo.SessionContext
	customerID string
}

func (t *mongoLoyaltyTx) Account(_ context.Context) (models.LoyaltyAccount, error) {
	var acc models.LoyaltyAccount
	err := t.ledger.accounts.FindOne(t.sc, bson.M{"_id": t.customerID}).Decode(&acc)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return models.LoyaltyAccount{CustomerID: t.customerID}, nil
		}
		return models.LoyaltyAccount{}, fmt.Errorf("read account %s: %w", t.customerID, err)
	}
	return acc, nil
}

func (t *mongoLoyaltyTx) SaveAccount(_ context.Context, a models.LoyaltyAccount) error {
	if a.Points < 0 {
		return fmt.Errorf("save account %s: negative points: %w", t.customerID, ErrLedgerInvariant)
	}
	_, err := t.ledger.accounts.UpdateOne(t.sc,
		bson.M{"_id": t.customerID},
		bson.M{"$set": bson.M{"points": a.Points, "awards_granted": a.AwardsGranted}},
		options.Update().SetUpsert(true),
	)
	if err != nil {
		return fmt.Errorf("save account: %w", err)
	}
	return nil
}

func (l *MongoLedger) GetAccount(ctx context.Context, customerID string) (models.LoyaltyAccount, error) {
	var acc models.LoyaltyAccount
	err := l.accounts.FindOne(ctx, bson.M{"_id": customerID}).Decode(&acc)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return models.LoyaltyAccount{CustomerID: customerID}, nil
		}
		return models.LoyaltyAccount{}, err
	}
	return acc, nil
}
