package models

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Reviewable transaction fields, in the order duplicates are compared.
const (
	FieldMerchant     = "merchant"
	FieldCategory     = "category"
	FieldTag          = "tag"
	FieldDescription  = "description"
	FieldTaxCode      = "taxCode"
	FieldBillable     = "billable"
	FieldReimbursable = "reimbursable"
)

// ReviewFields lists the fields compared across duplicates, in display order.
var ReviewFields = []string{
	FieldMerchant,
	FieldCategory,
	FieldTag,
	FieldDescription,
	FieldTaxCode,
	FieldBillable,
	FieldReimbursable,
}

// Transaction is a single expense record.
type Transaction struct {
	ID       string          `json:"id" yaml:"id"`
	ReportID string          `json:"report_id" yaml:"report_id"`
	Amount   decimal.Decimal `json:"amount" yaml:"amount"`
	Currency string          `json:"currency" yaml:"currency"`
	Created  time.Time       `json:"created" yaml:"created"`

	Merchant     string `json:"merchant" yaml:"merchant"`
	Category     string `json:"category" yaml:"category"`
	Tag          string `json:"tag" yaml:"tag"`
	Description  string `json:"description" yaml:"description"`
	TaxCode      string `json:"tax_code" yaml:"tax_code"`
	Billable     bool   `json:"billable" yaml:"billable"`
	Reimbursable bool   `json:"reimbursable" yaml:"reimbursable"`

	// DuplicateOf holds the IDs of transactions flagged as duplicates of this one.
	DuplicateOf []string `json:"duplicate_of,omitempty" yaml:"duplicate_of,omitempty"`
}

// Field returns the value of a reviewable field. ok is false for unknown names.
func (t *Transaction) Field(name string) (value any, ok bool) {
	switch name {
	case FieldMerchant:
		return t.Merchant, true
	case FieldCategory:
		return t.Category, true
	case FieldTag:
		return t.Tag, true
	case FieldDescription:
		return t.Description, true
	case FieldTaxCode:
		return t.TaxCode, true
	case FieldBillable:
		return t.Billable, true
	case FieldReimbursable:
		return t.Reimbursable, true
	}
	return nil, false
}

// SetField assigns a reviewable field, checking the value's type.
func (t *Transaction) SetField(name string, value any) error {
	switch name {
	case FieldMerchant, FieldCategory, FieldTag, FieldDescription, FieldTaxCode:
		s, ok := value.(string)
		if !ok {
			return fmt.Errorf("field %s expects a string, got %T", name, value)
		}
		switch name {
		case FieldMerchant:
			t.Merchant = s
		case FieldCategory:
			t.Category = s
		case FieldTag:
			t.Tag = s
		case FieldDescription:
			t.Description = s
		case FieldTaxCode:
			t.TaxCode = s
		}
		return nil
	case FieldBillable, FieldReimbursable:
		b, ok := value.(bool)
		if !ok {
			return fmt.Errorf("field %s expects a bool, got %T", name, value)
		}
		if name == FieldBillable {
			t.Billable = b
		} else {
			t.Reimbursable = b
		}
		return nil
	}
	return fmt.Errorf("unknown field %q", name)
}

// ReviewState is the persisted form of a duplicate review session.
type ReviewState struct {
	TransactionID string         `json:"transaction_id"`
	Steps         []string       `json:"steps"`
	Cursor        int            `json:"cursor"`
	Choices       map[string]any `json:"choices"`
	UpdatedAt     time.Time      `json:"updated_at"`
}
