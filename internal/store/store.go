// Package store defines the Store interface for persisting transactions,
// review sessions, and tasks.
package store

import (
	"context"

	"github.com/nvandessel/tally/internal/models"
)

// ErrNotFound is returned by mutations that target a missing record.
var ErrNotFound = models.ErrNotFound

// FieldChoice is a single resolved field recorded during duplicate review.
type FieldChoice struct {
	Field string
	Value any
}

// Store is the persistence boundary for the review and task workflows.
//
// Lookups of records that do not exist return (nil, nil); callers decide
// whether absence is an error.
type Store interface {
	// Transactions
	PutTransaction(ctx context.Context, tx models.Transaction) error
	GetTransaction(ctx context.Context, id string) (*models.Transaction, error)

	// ListDuplicates returns the transactions flagged as duplicates of id,
	// in the order they were flagged. Flagged IDs with no record are skipped.
	ListDuplicates(ctx context.Context, id string) ([]models.Transaction, error)

	// ApplyResolution writes the resolved field values to the transaction,
	// clears its duplicate flags, and deletes its review session.
	ApplyResolution(ctx context.Context, id string, values map[string]any) error

	// Review sessions
	SaveSession(ctx context.Context, state models.ReviewState) error
	LoadSession(ctx context.Context, transactionID string) (*models.ReviewState, error)

	// RecordChoice stores a field choice and advances the session cursor to
	// nextCursor in one step.
	RecordChoice(ctx context.Context, transactionID string, choice FieldChoice, nextCursor int) error

	// Tasks
	PutTask(ctx context.Context, task models.Task) error
	GetTask(ctx context.Context, reportID string) (*models.Task, error)
	UpdateTaskDescription(ctx context.Context, reportID, description, descriptionHTML string) error

	Close() error
}
