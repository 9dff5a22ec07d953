package domain

// Entry is one confirmed number with its owner.
type Entry struct {
	Number    int
	BuyerName string
	BuyerKey  string
}

// BuyerTotal aggregates confirmed tickets for one buyer in a raffle.
type BuyerTotal struct {
	BuyerKey   string
	BuyerName  string
	Tickets    int
	SpentCents int64
}
