// Package seed loads transaction and task fixtures into a store.
package seed

import (
	"context"
	"fmt"
	"os"
	"slices"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"github.com/nvandessel/tally/internal/models"
	"github.com/nvandessel/tally/internal/sanitize"
	"github.com/nvandessel/tally/internal/store"
)

// Fixture is the YAML document accepted by the seeder.
type Fixture struct {
	Transactions []TransactionFixture `yaml:"transactions"`
	Tasks        []models.Task        `yaml:"tasks"`
}

// TransactionFixture is a transaction as written in a fixture file. Amount
// and Created stay strings so they parse exactly.
type TransactionFixture struct {
	ID           string   `yaml:"id"`
	ReportID     string   `yaml:"report_id"`
	Amount       string   `yaml:"amount"`
	Currency     string   `yaml:"currency"`
	Created      string   `yaml:"created"`
	Merchant     string   `yaml:"merchant"`
	Category     string   `yaml:"category"`
	Tag          string   `yaml:"tag"`
	Description  string   `yaml:"description"`
	TaxCode      string   `yaml:"tax_code"`
	Billable     bool     `yaml:"billable"`
	Reimbursable bool     `yaml:"reimbursable"`
	DuplicateOf  []string `yaml:"duplicate_of"`
}

func (f TransactionFixture) toModel() (models.Transaction, error) {
	tx := models.Transaction{
		ID:           sanitize.ID(f.ID),
		ReportID:     sanitize.ID(f.ReportID),
		Currency:     f.Currency,
		Merchant:     sanitize.Text(f.Merchant),
		Category:     sanitize.Text(f.Category),
		Tag:          sanitize.Text(f.Tag),
		Description:  sanitize.Text(f.Description),
		TaxCode:      sanitize.Text(f.TaxCode),
		Billable:     f.Billable,
		Reimbursable: f.Reimbursable,
	}
	for _, id := range f.DuplicateOf {
		tx.DuplicateOf = append(tx.DuplicateOf, sanitize.ID(id))
	}
	if tx.ID == "" {
		tx.ID = uuid.NewString()
	}
	if f.Amount != "" {
		d, err := decimal.NewFromString(f.Amount)
		if err != nil {
			return tx, fmt.Errorf("transaction %s: invalid amount %q: %w", tx.ID, f.Amount, err)
		}
		tx.Amount = d
	}
	if f.Created != "" {
		t, err := parseTime(f.Created)
		if err != nil {
			return tx, fmt.Errorf("transaction %s: invalid created %q: %w", tx.ID, f.Created, err)
		}
		tx.Created = t
	}
	return tx, nil
}

func parseTime(s string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, nil
	}
	return time.Parse(time.DateOnly, s)
}

// Seeder handles injecting fixtures into a store.
type Seeder struct {
	store store.Store
}

// NewSeeder creates a new Seeder for the given store.
func NewSeeder(s store.Store) *Seeder {
	return &Seeder{store: s}
}

// SeedResult reports what the seeder did.
type SeedResult struct {
	Added   []string `json:"added"`   // IDs of new records
	Updated []string `json:"updated"` // IDs of records whose content changed
	Skipped []string `json:"skipped"` // IDs of records already up to date
	Total   int      `json:"total"`   // Total number of fixture records
}

// LoadFile parses a fixture file.
func LoadFile(path string) (*Fixture, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading fixture: %w", err)
	}
	var f Fixture
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parsing fixture %s: %w", path, err)
	}
	return &f, nil
}

// SeedFile loads and applies a fixture file.
func (s *Seeder) SeedFile(ctx context.Context, path string) (*SeedResult, error) {
	f, err := LoadFile(path)
	if err != nil {
		return nil, err
	}
	return s.Seed(ctx, f)
}

// Seed writes every fixture record. It is idempotent: records that already
// match are skipped and changed ones are overwritten.
func (s *Seeder) Seed(ctx context.Context, f *Fixture) (*SeedResult, error) {
	result := &SeedResult{Total: len(f.Transactions) + len(f.Tasks)}

	for _, tf := range f.Transactions {
		tx, err := tf.toModel()
		if err != nil {
			return nil, err
		}
		existing, err := s.store.GetTransaction(ctx, tx.ID)
		if err != nil {
			return nil, fmt.Errorf("checking transaction %s: %w", tx.ID, err)
		}
		if existing != nil && sameTransaction(*existing, tx) {
			result.Skipped = append(result.Skipped, tx.ID)
			continue
		}
		if err := s.store.PutTransaction(ctx, tx); err != nil {
			return nil, fmt.Errorf("seeding transaction %s: %w", tx.ID, err)
		}
		if existing == nil {
			result.Added = append(result.Added, tx.ID)
		} else {
			result.Updated = append(result.Updated, tx.ID)
		}
	}

	for _, task := range f.Tasks {
		task.ReportID = sanitize.ID(task.ReportID)
		task.ParentReportID = sanitize.ID(task.ParentReportID)
		task.Title = sanitize.Text(task.Title)
		task.Description = sanitize.Text(task.Description)
		if task.ReportID == "" {
			task.ReportID = uuid.NewString()
		}
		if task.Type == "" {
			task.Type = models.ReportTypeTask
		}
		if task.Status == "" {
			task.Status = models.TaskStatusOpen
		}
		existing, err := s.store.GetTask(ctx, task.ReportID)
		if err != nil {
			return nil, fmt.Errorf("checking task %s: %w", task.ReportID, err)
		}
		if existing != nil && *existing == task {
			result.Skipped = append(result.Skipped, task.ReportID)
			continue
		}
		if err := s.store.PutTask(ctx, task); err != nil {
			return nil, fmt.Errorf("seeding task %s: %w", task.ReportID, err)
		}
		if existing == nil {
			result.Added = append(result.Added, task.ReportID)
		} else {
			result.Updated = append(result.Updated, task.ReportID)
		}
	}

	return result, nil
}

func sameTransaction(a, b models.Transaction) bool {
	return a.ID == b.ID &&
		a.ReportID == b.ReportID &&
		a.Amount.Equal(b.Amount) &&
		a.Currency == b.Currency &&
		a.Created.Equal(b.Created) &&
		a.Merchant == b.Merchant &&
		a.Category == b.Category &&
		a.Tag == b.Tag &&
		a.Description == b.Description &&
		a.TaxCode == b.TaxCode &&
		a.Billable == b.Billable &&
		a.Reimbursable == b.Reimbursable &&
		slices.Equal(a.DuplicateOf, b.DuplicateOf)
}
