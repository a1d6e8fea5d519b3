package basket

import "time"

// Wholesaler is a counterparty identified on bills by a short mark
type Wholesaler struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	ContactInfo string `json:"contact_info"`
	Mark        string `json:"mark"`
}

// PanShop is a retail counterparty; bills are saved against a shop
// selected explicitly rather than matched by mark
type PanShop struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	ContactInfo string `json:"contact_info"`
}

// BasketEntry is one persisted basket transaction
type BasketEntry struct {
	ID             string    `json:"id"`
	PartyType      string    `json:"party_type"` // 'wholesaler' or 'panshop'
	PartyID        string    `json:"party_id"`
	Date           time.Time `json:"date"`
	BasketCount    int       `json:"basket_count"`
	PricePerBasket float64   `json:"price_per_basket"`
	TotalPrice     float64   `json:"total_price"`
	Mark           string    `json:"mark"`
	CreatedAt      time.Time `json:"created_at"`
}

// Payment is money received from or paid to a party
type Payment struct {
	ID          string    `json:"id"`
	PartyType   string    `json:"party_type"`
	PartyID     string    `json:"party_id"`
	Amount      float64   `json:"amount"`
	Date        time.Time `json:"date"`
	Note        string    `json:"note"`
	PaymentMode string    `json:"payment_mode"` // 'cash' or 'upi'
	UPIAccount  string    `json:"upi_account,omitempty"`
}
