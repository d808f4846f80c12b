package duplicates

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"
	"strconv"

	"github.com/nvandessel/tally/internal/logger"
	"github.com/nvandessel/tally/internal/models"
	"github.com/nvandessel/tally/internal/store"
)

var (
	// ErrSessionComplete is returned when selecting after the last field.
	ErrSessionComplete = errors.New("review session is complete")

	// ErrSessionIncomplete is returned when merging before every field is resolved.
	ErrSessionIncomplete = errors.New("review session has unresolved fields")

	// ErrFieldOutOfOrder is returned when the selected field is not the current step.
	ErrFieldOutOfOrder = errors.New("field is not the current review step")

	// ErrUnknownCandidate is returned when the chosen value is not a candidate.
	ErrUnknownCandidate = errors.New("value is not a candidate for this field")
)

// Resolver runs duplicate review sessions against a store.
type Resolver struct {
	store    store.Store
	comparer Comparer
}

// NewResolver creates a resolver. A nil comparer compares duplicates loaded
// from s.
func NewResolver(s store.Store, comparer Comparer) *Resolver {
	if comparer == nil {
		comparer = StoreComparer{Store: s}
	}
	return &Resolver{store: s, comparer: comparer}
}

// Compare returns the comparison for transactionID.
func (r *Resolver) Compare(ctx context.Context, transactionID string) (*ComparisonResult, error) {
	return r.comparer.Compare(ctx, transactionID)
}

// ConflictingFields returns the fields needing resolution, in order. It fails
// with models.ErrNotFound when the transaction does not exist and returns an
// empty slice when the duplicates agree on every field.
func (r *Resolver) ConflictingFields(ctx context.Context, transactionID string) ([]string, error) {
	result, err := r.comparer.Compare(ctx, transactionID)
	if err != nil {
		return nil, err
	}
	fields := result.Fields()
	if fields == nil {
		fields = []string{}
	}
	return fields, nil
}

// Start opens the review session for transactionID at its first step, or
// resumes the persisted session when it still matches the current conflicts.
func (r *Resolver) Start(ctx context.Context, transactionID string) (*Session, error) {
	log := logger.FromContext(ctx).With("transaction", transactionID)

	result, err := r.comparer.Compare(ctx, transactionID)
	if err != nil {
		return nil, err
	}
	steps := result.Fields()

	saved, err := r.store.LoadSession(ctx, transactionID)
	if err != nil {
		return nil, fmt.Errorf("loading review session %s: %w", transactionID, err)
	}
	if saved != nil && slices.Equal(saved.Steps, steps) && saved.Cursor >= 0 && saved.Cursor <= len(steps) &&
		choicesStillValid(result, steps[:saved.Cursor], saved.Choices) {
		log.Debug("resuming review session", "cursor", saved.Cursor, "steps", len(steps))
		return r.newSession(transactionID, result, saved.Cursor, saved.Choices), nil
	}

	state := models.ReviewState{TransactionID: transactionID, Steps: steps, Choices: map[string]any{}}
	if err := r.store.SaveSession(ctx, state); err != nil {
		return nil, &models.MutationError{Op: "start review", ID: transactionID, Err: err}
	}
	log.Debug("started review session", "steps", len(steps))
	return r.newSession(transactionID, result, 0, nil), nil
}

// choicesStillValid reports whether every resolved step has a saved choice
// that is still one of the field's candidates. Duplicates edited since the
// session was saved can drop a chosen value.
func choicesStillValid(result *ComparisonResult, resolved []string, choices map[string]any) bool {
	for _, f := range resolved {
		v, ok := choices[f]
		if !ok || !slices.Contains(CandidatesForField(result, f), v) {
			return false
		}
	}
	return true
}

func (r *Resolver) newSession(id string, result *ComparisonResult, cursor int, choices map[string]any) *Session {
	s := &Session{
		store:         r.store,
		transactionID: id,
		result:        result,
		steps:         result.Fields(),
		cursor:        cursor,
		choices:       make(map[string]any),
	}
	for _, f := range s.steps[:cursor] {
		if v, ok := choices[f]; ok {
			s.choices[f] = v
		}
	}
	return s
}

// Merge writes the resolved values of a finished session to the transaction
// and clears its duplicate flags.
func (r *Resolver) Merge(ctx context.Context, s *Session) (map[string]any, error) {
	if !s.Done() {
		return nil, ErrSessionIncomplete
	}
	values := s.Resolved()
	if err := r.store.ApplyResolution(ctx, s.transactionID, values); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, fmt.Errorf("transaction %s: %w", s.transactionID, models.ErrNotFound)
		}
		return nil, &models.MutationError{Op: "merge duplicates", ID: s.transactionID, Err: err}
	}
	logger.FromContext(ctx).Info("merged duplicates", "transaction", s.transactionID, "fields", len(s.steps))
	return values, nil
}

// Session is one resolution pass over a transaction's conflicting fields.
// The cursor only moves forward, one step per selection. A Session is not
// safe for concurrent use.
type Session struct {
	store         store.Store
	transactionID string
	result        *ComparisonResult
	steps         []string
	cursor        int
	choices       map[string]any
}

// TransactionID returns the transaction under review.
func (s *Session) TransactionID() string { return s.transactionID }

// Result returns the comparison the session was built from.
func (s *Session) Result() *ComparisonResult { return s.result }

// Steps returns the conflicting field names in order.
func (s *Session) Steps() []string { return slices.Clone(s.steps) }

// StepNames returns the 1-based step labels shown in the review header.
func (s *Session) StepNames() []string {
	names := make([]string, len(s.steps))
	for i := range s.steps {
		names[i] = strconv.Itoa(i + 1)
	}
	return names
}

// Index returns the cursor position, equal to len(Steps()) once done.
func (s *Session) Index() int { return s.cursor }

// Done reports whether every field has been resolved.
func (s *Session) Done() bool { return s.cursor >= len(s.steps) }

// Current returns the field being resolved. ok is false once done.
func (s *Session) Current() (field string, ok bool) {
	if s.Done() {
		return "", false
	}
	return s.steps[s.cursor], true
}

// Candidates returns the candidates for the current field, or an empty slice
// once done.
func (s *Session) Candidates() []any {
	field, ok := s.Current()
	if !ok {
		return []any{}
	}
	return CandidatesForField(s.result, field)
}

// SelectCandidate keeps value for field, persists the choice, and advances
// to the next step. A persistence failure leaves the cursor where it was.
func (s *Session) SelectCandidate(ctx context.Context, field string, value any) error {
	if err := s.checkStep(field); err != nil {
		return err
	}
	if !slices.Contains(CandidatesForField(s.result, field), value) {
		return fmt.Errorf("%w: %v for %s", ErrUnknownCandidate, value, field)
	}

	next := s.cursor + 1
	choice := store.FieldChoice{Field: field, Value: value}
	if err := s.store.RecordChoice(ctx, s.transactionID, choice, next); err != nil {
		return &models.MutationError{Op: "record " + field, ID: s.transactionID, Err: err}
	}
	s.choices[field] = value
	s.cursor = next

	logger.FromContext(ctx).Debug("resolved field",
		"transaction", s.transactionID, "field", field, "step", next, "of", len(s.steps))
	return nil
}

// SelectCandidateText is SelectCandidate for a value typed by a user, matched
// against the printed form of the candidates. Completion and field order are
// checked before the value.
func (s *Session) SelectCandidateText(ctx context.Context, field, raw string) error {
	if err := s.checkStep(field); err != nil {
		return err
	}
	value, ok := ParseCandidate(CandidatesForField(s.result, field), raw)
	if !ok {
		return fmt.Errorf("%w: %q for %s", ErrUnknownCandidate, raw, field)
	}
	return s.SelectCandidate(ctx, field, value)
}

func (s *Session) checkStep(field string) error {
	current, ok := s.Current()
	if !ok {
		return ErrSessionComplete
	}
	if field != current {
		return fmt.Errorf("%w: got %q, current is %q", ErrFieldOutOfOrder, field, current)
	}
	return nil
}

// Choices returns the values selected so far.
func (s *Session) Choices() map[string]any { return maps.Clone(s.choices) }

// Resolved returns the agreed values merged with the selected ones.
func (s *Session) Resolved() map[string]any {
	out := s.result.KeepValues()
	maps.Copy(out, s.choices)
	return out
}

// ParseCandidate finds the candidate whose printed form equals raw, for
// callers that receive values as text.
func ParseCandidate(candidates []any, raw string) (any, bool) {
	for _, c := range candidates {
		if fmt.Sprint(c) == raw {
			return c, true
		}
	}
	return nil, false
}
