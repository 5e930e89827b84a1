package service

import (
	"encoding/json"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/stocksync/stocksync-go/internal/model"
)

// amountTolerance absorbs float rounding when checking monetary sums.
const amountTolerance = 0.01

// ValidationError carries field-scoped messages for a rejected batch.
// Keys follow the request shape: data.<table index>.records.<record
// index>.<field>.
type ValidationError struct {
	Fields map[string][]string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("batch validation failed on %d field(s)", len(e.Fields))
}

func (e *ValidationError) add(key, msg string) {
	if e.Fields == nil {
		e.Fields = make(map[string][]string)
	}
	e.Fields[key] = append(e.Fields[key], msg)
}

// BatchValidator checks a push batch before anything is applied.
// Validation is all-or-nothing per request: one bad field rejects the
// whole batch, independent of the per-record conflict handling.
type BatchValidator struct {
	maxTables  int
	maxRecords int
}

// NewBatchValidator creates a validator with the given caps on tables
// per batch and records per table.
func NewBatchValidator(maxTables, maxRecords int) *BatchValidator {
	return &BatchValidator{maxTables: maxTables, maxRecords: maxRecords}
}

// Validate checks structure and per-entity business rules. A nil
// return means the batch may be applied.
func (v *BatchValidator) Validate(req model.PushRequest) error {
	verr := &ValidationError{}

	if len(req.Data) == 0 {
		verr.add("data", "at least one table of records is required")
		return verr
	}
	if len(req.Data) > v.maxTables {
		verr.add("data", fmt.Sprintf("batch exceeds the maximum of %d tables", v.maxTables))
		return verr
	}

	for i, tc := range req.Data {
		prefix := fmt.Sprintf("data.%d", i)

		if !model.IsSyncTable(tc.Table) {
			verr.add(prefix+".table", fmt.Sprintf("unknown table %q", tc.Table))
			continue
		}
		if len(tc.Records) > v.maxRecords {
			verr.add(prefix+".records", fmt.Sprintf("table exceeds the maximum of %d records", v.maxRecords))
			continue
		}

		for j, rec := range tc.Records {
			v.validateRecord(verr, fmt.Sprintf("%s.records.%d", prefix, j), tc.Table, rec)
		}
	}

	if len(verr.Fields) > 0 {
		return verr
	}
	return nil
}

func (v *BatchValidator) validateRecord(verr *ValidationError, prefix, table string, rec model.Record) {
	id := rec.UUID()
	if id == "" {
		verr.add(prefix+".uuid", "uuid is required")
	} else if len(id) > 36 {
		verr.add(prefix+".uuid", "uuid must be at most 36 characters")
	}

	checkDate(verr, prefix, rec, "created_at")
	checkDate(verr, prefix, rec, "updated_at")

	switch table {
	case model.TableProducts:
		var p model.Product
		if !decodeInto(verr, prefix, rec, &p) {
			return
		}
		if p.ProductCode == "" {
			verr.add(prefix+".product_code", "product_code is required")
		}
		if p.Name == "" {
			verr.add(prefix+".name", "name is required")
		}
		if p.StockQuantity < 0 {
			verr.add(prefix+".stock_quantity", "stock_quantity must not be negative")
		}
		if p.SellingPrice < p.UnitPrice {
			verr.add(prefix+".selling_price", "selling_price must be greater than or equal to unit_price")
		}

	case model.TableCustomers:
		var c model.Customer
		if !decodeInto(verr, prefix, rec, &c) {
			return
		}
		if c.Name == "" {
			verr.add(prefix+".name", "name is required")
		}
		if c.Email != "" && !strings.Contains(c.Email, "@") {
			verr.add(prefix+".email", "email is not a valid address")
		}

	case model.TableTransactions:
		var t model.Transaction
		if !decodeInto(verr, prefix, rec, &t) {
			return
		}
		if t.Quantity <= 0 {
			verr.add(prefix+".quantity", "quantity must be greater than zero")
		}
		if math.Abs(t.TotalAmount-t.Quantity*t.UnitPrice) > amountTolerance {
			verr.add(prefix+".total_amount", "total_amount must equal quantity × unit_price")
		}
		if t.Type == model.TransactionRental && t.ExpectedReturnDate == "" {
			verr.add(prefix+".expected_return_date", "expected_return_date is required for rental transactions")
		}
		checkDate(verr, prefix, rec, "transaction_date")
		checkDate(verr, prefix, rec, "expected_return_date")

	case model.TableInventoryAdjustments:
		var a model.InventoryAdjustment
		if !decodeInto(verr, prefix, rec, &a) {
			return
		}
		switch a.AdjustmentType {
		case model.AdjustmentAddition:
			if a.NewQuantity != a.PreviousQuantity+a.Quantity {
				verr.add(prefix+".new_quantity", "new_quantity must equal previous_quantity + quantity")
			}
		case model.AdjustmentSubtraction:
			if a.NewQuantity != a.PreviousQuantity-a.Quantity {
				verr.add(prefix+".new_quantity", "new_quantity must equal previous_quantity - quantity")
			}
		default:
			verr.add(prefix+".adjustment_type", `adjustment_type must be "addition" or "subtraction"`)
		}
		checkDate(verr, prefix, rec, "adjustment_date")
	}
}

// checkDate validates that an optional date field parses as RFC 3339
// or as a plain calendar date.
func checkDate(verr *ValidationError, prefix string, rec model.Record, field string) {
	raw, ok := rec[field]
	if !ok || raw == nil {
		return
	}

	s, ok := raw.(string)
	if !ok {
		verr.add(prefix+"."+field, field+" must be a date string")
		return
	}
	if s == "" {
		return
	}

	if _, err := time.Parse(time.RFC3339, s); err == nil {
		return
	}
	if _, err := time.Parse("2006-01-02", s); err == nil {
		return
	}
	verr.add(prefix+"."+field, field+" is not a valid date")
}

func decodeInto(verr *ValidationError, prefix string, rec model.Record, dst any) bool {
	raw, err := json.Marshal(rec)
	if err != nil {
		verr.add(prefix, "record is not encodable")
		return false
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		verr.add(prefix, "record has fields of the wrong type")
		return false
	}
	return true
}
