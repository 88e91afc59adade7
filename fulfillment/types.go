package fulfillment

import "github.com/inboundr/art-framer-sub005/models"

// CreateOrderRequest is the provider's create-order payload.
type CreateOrderRequest struct {
	MerchantReference string      `json:"merchantReference"`
	ShippingMethod    string      `json:"shippingMethod"`
	Recipient         Recipient   `json:"recipient"`
	Items             []OrderItem `json:"items"`
}

type Recipient struct {
	Name    string        `json:"name"`
	Email   string        `json:"email,omitempty"`
	Address RecipientAddr `json:"address"`
}

type RecipientAddr struct {
	Line1           string `json:"line1"`
	Line2           string `json:"line2,omitempty"`
	TownOrCity      string `json:"townOrCity"`
	StateOrCounty   string `json:"stateOrCounty,omitempty"`
	PostalOrZipCode string `json:"postalOrZipCode"`
	CountryCode     string `json:"countryCode"`
}

type OrderItem struct {
	Sku    string  `json:"sku"`
	Copies int     `json:"copies"`
	Sizing string  `json:"sizing"`
	Assets []Asset `json:"assets"`
}

type Asset struct {
	PrintArea string `json:"printArea"`
	Url       string `json:"url"`
}

// MapProviderStage translates the provider's status vocabulary into the local
// dropship enum. Unknown stages map to submitted: the order exists remotely
// and a later refresh will learn more.
func MapProviderStage(stage string) models.DropshipStatus {
	switch stage {
	case "Draft", "AwaitingPayment":
		return models.DropshipStatusPending
	case "InProgress":
		return models.DropshipStatusInProduction
	case "Complete":
		return models.DropshipStatusShipped
	case "Cancelled":
		return models.DropshipStatusCancelled
	default:
		return models.DropshipStatusSubmitted
	}
}
