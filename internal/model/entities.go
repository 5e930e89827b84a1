package model

// Typed views of the four entity payloads, used by the batch validator
// for cross-field business rules. The store itself keeps the full JSON
// payload, so fields not listed here still round-trip.

// Product represents an item held in stock.
type Product struct {
	ProductCode   string  `json:"product_code"`
	Name          string  `json:"name"`
	StockQuantity float64 `json:"stock_quantity"`
	UnitPrice     float64 `json:"unit_price"`
	SellingPrice  float64 `json:"selling_price"`
}

// Customer represents a buyer on record.
type Customer struct {
	Name    string `json:"name"`
	Email   string `json:"email"`
	Phone   string `json:"phone"`
	Address string `json:"address"`
}

// Transaction types.
const (
	TransactionSale   = "sale"
	TransactionRental = "rental"
)

// Transaction represents a sale or rental line.
type Transaction struct {
	Type               string  `json:"type"`
	ProductUUID        string  `json:"product_uuid"`
	CustomerUUID       string  `json:"customer_uuid"`
	Quantity           float64 `json:"quantity"`
	UnitPrice          float64 `json:"unit_price"`
	TotalAmount        float64 `json:"total_amount"`
	TransactionDate    string  `json:"transaction_date"`
	ExpectedReturnDate string  `json:"expected_return_date"`
}

// Inventory adjustment directions.
const (
	AdjustmentAddition    = "addition"
	AdjustmentSubtraction = "subtraction"
)

// InventoryAdjustment represents a manual stock correction.
type InventoryAdjustment struct {
	ProductUUID      string  `json:"product_uuid"`
	AdjustmentType   string  `json:"adjustment_type"`
	Quantity         float64 `json:"quantity"`
	PreviousQuantity float64 `json:"previous_quantity"`
	NewQuantity      float64 `json:"new_quantity"`
	Reason           string  `json:"reason"`
	AdjustmentDate   string  `json:"adjustment_date"`
}
