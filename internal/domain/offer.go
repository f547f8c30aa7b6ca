package domain

// OfferSide is the direction of an offer relative to the base asset.
type OfferSide string

const (
	OfferSideBuy  OfferSide = "buy"
	OfferSideSell OfferSide = "sell"
)

// Offer is one open offer owned by the account.
type Offer struct {
	ID      int64  `json:"id"`
	Seller  string `json:"seller"`
	Selling Asset  `json:"selling"`
	Buying  Asset  `json:"buying"`
	Price   string `json:"price"`
	Amount  string `json:"amount"`
}
