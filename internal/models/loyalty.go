package models

type LoyaltyAccount struct {
	CustomerID    string `json:"customer_id" bson:"_id"`
	Points        int    `json:"points" bson:"points"`
	AwardsGranted int    `json:"awards_granted" bson:"awards_granted"`
}
