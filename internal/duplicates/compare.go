// Package duplicates resolves conflicting fields across duplicate
// transactions. A review walks the conflicting fields in a fixed order and
// records one kept value per field, then merges the result into the
// transaction.
package duplicates

import (
	"context"
	"fmt"
	"slices"

	"github.com/nvandessel/tally/internal/models"
	"github.com/nvandessel/tally/internal/store"
)

// FieldConflict is one field whose value differs across duplicates.
type FieldConflict struct {
	Field      string `json:"field"`
	Candidates []any  `json:"candidates"`
}

// ComparisonResult records which fields differ across a set of duplicates and
// the agreed value of every field that does not. It is immutable once built.
type ComparisonResult struct {
	order  []string
	change map[string][]any
	keep   map[string]any
}

// NewComparisonResult builds a result from conflicts in the order given.
// Conflicts with fewer than two candidates, or repeating a field already
// seen, are dropped.
func NewComparisonResult(conflicts []FieldConflict, keep map[string]any) *ComparisonResult {
	r := &ComparisonResult{
		change: make(map[string][]any, len(conflicts)),
		keep:   make(map[string]any, len(keep)),
	}
	for _, c := range conflicts {
		if len(c.Candidates) < 2 {
			continue
		}
		if _, seen := r.change[c.Field]; seen {
			continue
		}
		r.order = append(r.order, c.Field)
		r.change[c.Field] = slices.Clone(c.Candidates)
	}
	for k, v := range keep {
		if _, conflicting := r.change[k]; !conflicting {
			r.keep[k] = v
		}
	}
	return r
}

// Fields returns the conflicting field names in resolution order.
func (r *ComparisonResult) Fields() []string {
	return slices.Clone(r.order)
}

// Conflicts returns every conflicting field with its candidates.
func (r *ComparisonResult) Conflicts() []FieldConflict {
	out := make([]FieldConflict, 0, len(r.order))
	for _, f := range r.order {
		out = append(out, FieldConflict{Field: f, Candidates: slices.Clone(r.change[f])})
	}
	return out
}

// Keep returns the agreed value for a non-conflicting field.
func (r *ComparisonResult) Keep(field string) (any, bool) {
	v, ok := r.keep[field]
	return v, ok
}

// KeepValues returns a copy of all agreed values.
func (r *ComparisonResult) KeepValues() map[string]any {
	out := make(map[string]any, len(r.keep))
	for k, v := range r.keep {
		out[k] = v
	}
	return out
}

// CandidatesForField returns the candidate values for field. A field with no
// conflict yields an empty, non-nil slice.
func CandidatesForField(r *ComparisonResult, field string) []any {
	if r == nil {
		return []any{}
	}
	c, ok := r.change[field]
	if !ok {
		return []any{}
	}
	return slices.Clone(c)
}

// Compare diffs tx against its duplicates over models.ReviewFields. Distinct
// values keep the order they first appear in, tx first.
func Compare(tx models.Transaction, duplicates []models.Transaction) *ComparisonResult {
	all := append([]models.Transaction{tx}, duplicates...)

	var conflicts []FieldConflict
	keep := make(map[string]any)
	for _, field := range models.ReviewFields {
		var distinct []any
		for i := range all {
			v, _ := all[i].Field(field)
			if !slices.Contains(distinct, v) {
				distinct = append(distinct, v)
			}
		}
		if len(distinct) > 1 {
			conflicts = append(conflicts, FieldConflict{Field: field, Candidates: distinct})
			continue
		}
		keep[field] = distinct[0]
	}
	return NewComparisonResult(conflicts, keep)
}

// Comparer produces the comparison for a transaction and its duplicates.
// Implementations must be deterministic for fixed data and return
// models.ErrNotFound when the transaction does not exist.
type Comparer interface {
	Compare(ctx context.Context, transactionID string) (*ComparisonResult, error)
}

// StoreComparer compares duplicates loaded from a store.
type StoreComparer struct {
	Store store.Store
}

// Compare implements Comparer.
func (c StoreComparer) Compare(ctx context.Context, transactionID string) (*ComparisonResult, error) {
	tx, err := c.Store.GetTransaction(ctx, transactionID)
	if err != nil {
		return nil, fmt.Errorf("loading transaction %s: %w", transactionID, err)
	}
	if tx == nil {
		return nil, fmt.Errorf("transaction %s: %w", transactionID, models.ErrNotFound)
	}
	dups, err := c.Store.ListDuplicates(ctx, transactionID)
	if err != nil {
		return nil, fmt.Errorf("loading duplicates of %s: %w", transactionID, err)
	}
	return Compare(*tx, dups), nil
}
