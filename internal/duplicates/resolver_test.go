package duplicates

import (
	"context"
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nvandessel/tally/internal/models"
	"github.com/nvandessel/tally/internal/store"
)

func base(id string) models.Transaction {
	return models.Transaction{
		ID:           id,
		Merchant:     "Blue Bottle",
		Category:     "Meals",
		Reimbursable: true,
	}
}

func TestCompare(t *testing.T) {
	t.Run("identical duplicates have no conflicts", func(t *testing.T) {
		r := Compare(base("t1"), []models.Transaction{base("t2"), base("t3")})
		assert.Empty(t, r.Fields())
		v, ok := r.Keep(models.FieldMerchant)
		assert.True(t, ok)
		assert.Equal(t, "Blue Bottle", v)
	})

	t.Run("no duplicates", func(t *testing.T) {
		r := Compare(base("t1"), nil)
		assert.Empty(t, r.Fields())
		assert.Len(t, r.KeepValues(), len(models.ReviewFields))
	})

	t.Run("conflicts follow field order and first appearance", func(t *testing.T) {
		a := base("t1")
		b := base("t2")
		b.Category = "Travel"
		b.Billable = true
		c := base("t3")
		c.Tag = "Client"
		c.Category = "Travel"

		r := Compare(a, []models.Transaction{b, c})

		want := []FieldConflict{
			{Field: models.FieldCategory, Candidates: []any{"Meals", "Travel"}},
			{Field: models.FieldTag, Candidates: []any{"", "Client"}},
			{Field: models.FieldBillable, Candidates: []any{false, true}},
		}
		if diff := cmp.Diff(want, r.Conflicts()); diff != "" {
			t.Errorf("Conflicts() mismatch (-want +got):\n%s", diff)
		}
		_, conflicting := r.Keep(models.FieldCategory)
		assert.False(t, conflicting)
	})
}

func TestNewComparisonResult(t *testing.T) {
	r := NewComparisonResult([]FieldConflict{
		{Field: "category", Candidates: []any{"A", "B"}},
		{Field: "tag", Candidates: []any{"only"}},
		{Field: "category", Candidates: []any{"C", "D"}},
		{Field: "merchant", Candidates: []any{"X", "Y"}},
	}, map[string]any{"category": "ignored", "billable": true})

	assert.Equal(t, []string{"category", "merchant"}, r.Fields())
	assert.Equal(t, []any{"A", "B"}, CandidatesForField(r, "category"))
	assert.Equal(t, map[string]any{"billable": true}, r.KeepValues())
}

func TestCandidatesForField_AbsentIsEmpty(t *testing.T) {
	r := NewComparisonResult([]FieldConflict{{Field: "category", Candidates: []any{"A", "B"}}}, nil)

	got := CandidatesForField(r, "tag")
	require.NotNil(t, got)
	assert.Empty(t, got)

	got = CandidatesForField(nil, "category")
	require.NotNil(t, got)
	assert.Empty(t, got)

	// callers cannot mutate the result
	c := CandidatesForField(r, "category")
	c[0] = "Z"
	assert.Equal(t, []any{"A", "B"}, CandidatesForField(r, "category"))
}

func newTestStore(t *testing.T, txs ...models.Transaction) *store.InMemoryStore {
	t.Helper()
	s := store.NewInMemoryStore()
	for _, tx := range txs {
		require.NoError(t, s.PutTransaction(context.Background(), tx))
	}
	return s
}

func conflictingSet() []models.Transaction {
	a := base("t1")
	a.DuplicateOf = []string{"t2"}
	b := base("t2")
	b.Merchant = "Blue Bottle Coffee"
	b.Category = "Travel"
	b.Reimbursable = false
	return []models.Transaction{a, b}
}

func TestResolver_ConflictingFields(t *testing.T) {
	ctx := context.Background()

	t.Run("not found", func(t *testing.T) {
		r := NewResolver(newTestStore(t), nil)
		_, err := r.ConflictingFields(ctx, "missing")
		assert.ErrorIs(t, err, models.ErrNotFound)
	})

	t.Run("identical duplicates", func(t *testing.T) {
		a := base("t1")
		a.DuplicateOf = []string{"t2"}
		r := NewResolver(newTestStore(t, a, base("t2")), nil)

		fields, err := r.ConflictingFields(ctx, "t1")
		require.NoError(t, err)
		require.NotNil(t, fields)
		assert.Empty(t, fields)

		s, err := r.Start(ctx, "t1")
		require.NoError(t, err)
		assert.True(t, s.Done())
		assert.Equal(t, 0, s.Index())
	})

	t.Run("conflicts in order", func(t *testing.T) {
		r := NewResolver(newTestStore(t, conflictingSet()...), nil)
		fields, err := r.ConflictingFields(ctx, "t1")
		require.NoError(t, err)
		assert.Equal(t, []string{models.FieldMerchant, models.FieldCategory, models.FieldReimbursable}, fields)
	})
}

func TestSession_WalksEveryField(t *testing.T) {
	ctx := context.Background()
	r := NewResolver(newTestStore(t, conflictingSet()...), nil)

	s, err := r.Start(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, []string{"1", "2", "3"}, s.StepNames())

	steps := s.Steps()
	seen := map[string]bool{}
	for i, field := range steps {
		assert.False(t, seen[field], "duplicate step %s", field)
		seen[field] = true

		assert.Equal(t, i, s.Index())
		current, ok := s.Current()
		require.True(t, ok)
		require.Equal(t, field, current)

		candidates := s.Candidates()
		require.Len(t, candidates, 2)
		// pick the last candidate regardless of which it is
		require.NoError(t, s.SelectCandidate(ctx, field, candidates[1]))
	}

	assert.True(t, s.Done())
	assert.Equal(t, len(steps), s.Index())
	_, ok := s.Current()
	assert.False(t, ok)
	assert.Empty(t, s.Candidates())

	err = s.SelectCandidate(ctx, models.FieldMerchant, "Blue Bottle")
	assert.ErrorIs(t, err, ErrSessionComplete)

	resolved := s.Resolved()
	assert.Equal(t, "Blue Bottle Coffee", resolved[models.FieldMerchant])
	assert.Equal(t, "Travel", resolved[models.FieldCategory])
	assert.Equal(t, false, resolved[models.FieldReimbursable])
	assert.Equal(t, "", resolved[models.FieldTag])
}

func TestSession_SelectValidation(t *testing.T) {
	ctx := context.Background()
	r := NewResolver(newTestStore(t, conflictingSet()...), nil)
	s, err := r.Start(ctx, "t1")
	require.NoError(t, err)

	err = s.SelectCandidate(ctx, models.FieldCategory, "Travel")
	assert.ErrorIs(t, err, ErrFieldOutOfOrder)

	err = s.SelectCandidate(ctx, models.FieldMerchant, "Starbucks")
	assert.ErrorIs(t, err, ErrUnknownCandidate)

	assert.Equal(t, 0, s.Index())
}

func TestSession_SelectCandidateText(t *testing.T) {
	ctx := context.Background()
	r := NewResolver(newTestStore(t, conflictingSet()...), nil)
	s, err := r.Start(ctx, "t1")
	require.NoError(t, err)

	// order is checked before the value
	err = s.SelectCandidateText(ctx, models.FieldCategory, "Starbucks")
	assert.ErrorIs(t, err, ErrFieldOutOfOrder)

	err = s.SelectCandidateText(ctx, models.FieldMerchant, "Starbucks")
	assert.ErrorIs(t, err, ErrUnknownCandidate)
	assert.Equal(t, 0, s.Index())

	require.NoError(t, s.SelectCandidateText(ctx, models.FieldMerchant, "Blue Bottle Coffee"))
	require.NoError(t, s.SelectCandidateText(ctx, models.FieldCategory, "Meals"))
	require.NoError(t, s.SelectCandidateText(ctx, models.FieldReimbursable, "false"))
	assert.Equal(t, false, s.Resolved()[models.FieldReimbursable])

	// completion is checked before the value
	err = s.SelectCandidateText(ctx, models.FieldReimbursable, "maybe")
	assert.ErrorIs(t, err, ErrSessionComplete)
}

func TestResolver_StartResumes(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t, conflictingSet()...)
	r := NewResolver(st, nil)

	s, err := r.Start(ctx, "t1")
	require.NoError(t, err)
	require.NoError(t, s.SelectCandidate(ctx, models.FieldMerchant, "Blue Bottle"))

	resumed, err := r.Start(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, 1, resumed.Index())
	assert.Equal(t, map[string]any{models.FieldMerchant: "Blue Bottle"}, resumed.Choices())

	// a changed conflict set restarts the session
	b, err := st.GetTransaction(ctx, "t2")
	require.NoError(t, err)
	b.Merchant = "Blue Bottle"
	require.NoError(t, st.PutTransaction(ctx, *b))

	restarted, err := r.Start(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, 0, restarted.Index())
	assert.Equal(t, []string{models.FieldCategory, models.FieldReimbursable}, restarted.Steps())
}

func TestResolver_StartDiscardsStaleChoices(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t, conflictingSet()...)
	r := NewResolver(st, nil)

	s, err := r.Start(ctx, "t1")
	require.NoError(t, err)
	require.NoError(t, s.SelectCandidate(ctx, models.FieldMerchant, "Blue Bottle Coffee"))

	// same fields still conflict, but the chosen merchant no longer exists
	b, err := st.GetTransaction(ctx, "t2")
	require.NoError(t, err)
	b.Merchant = "Blue Bottle Roasters"
	require.NoError(t, st.PutTransaction(ctx, *b))

	restarted, err := r.Start(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, 0, restarted.Index())
	assert.Empty(t, restarted.Choices())
	assert.Equal(t, []any{"Blue Bottle", "Blue Bottle Roasters"}, restarted.Candidates())

	for !restarted.Done() {
		field, _ := restarted.Current()
		require.NoError(t, restarted.SelectCandidate(ctx, field, restarted.Candidates()[1]))
	}
	values, err := r.Merge(ctx, restarted)
	require.NoError(t, err)
	assert.Equal(t, "Blue Bottle Roasters", values[models.FieldMerchant])
}

func TestResolver_Merge(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t, conflictingSet()...)
	r := NewResolver(st, nil)

	s, err := r.Start(ctx, "t1")
	require.NoError(t, err)

	_, err = r.Merge(ctx, s)
	assert.ErrorIs(t, err, ErrSessionIncomplete)

	for !s.Done() {
		field, _ := s.Current()
		require.NoError(t, s.SelectCandidate(ctx, field, s.Candidates()[0]))
	}

	values, err := r.Merge(ctx, s)
	require.NoError(t, err)
	assert.Equal(t, "Meals", values[models.FieldCategory])

	tx, err := st.GetTransaction(ctx, "t1")
	require.NoError(t, err)
	assert.Empty(t, tx.DuplicateOf)
	assert.Equal(t, "Blue Bottle", tx.Merchant)

	state, err := st.LoadSession(ctx, "t1")
	require.NoError(t, err)
	assert.Nil(t, state)
}

// failingStore fails choice recording after the first n calls.
type failingStore struct {
	*store.InMemoryStore
	allow int
	err   error
}

func (f *failingStore) RecordChoice(ctx context.Context, id string, c store.FieldChoice, next int) error {
	if f.allow <= 0 {
		return f.err
	}
	f.allow--
	return f.InMemoryStore.RecordChoice(ctx, id, c, next)
}

func TestSession_PersistenceFailureKeepsCursor(t *testing.T) {
	ctx := context.Background()
	cause := errors.New("disk full")
	fs := &failingStore{InMemoryStore: newTestStore(t, conflictingSet()...), allow: 1, err: cause}
	r := NewResolver(fs, nil)

	s, err := r.Start(ctx, "t1")
	require.NoError(t, err)
	require.NoError(t, s.SelectCandidate(ctx, models.FieldMerchant, "Blue Bottle"))

	err = s.SelectCandidate(ctx, models.FieldCategory, "Travel")
	require.Error(t, err)
	assert.ErrorIs(t, err, models.ErrMutationFailed)
	assert.ErrorIs(t, err, cause)

	var me *models.MutationError
	require.ErrorAs(t, err, &me)
	assert.Equal(t, "t1", me.ID)

	assert.Equal(t, 1, s.Index())
	current, _ := s.Current()
	assert.Equal(t, models.FieldCategory, current)
}

type staticComparer struct {
	result *ComparisonResult
}

func (c staticComparer) Compare(context.Context, string) (*ComparisonResult, error) {
	return c.result, nil
}

func TestResolver_ExternalComparer(t *testing.T) {
	ctx := context.Background()
	result := NewComparisonResult([]FieldConflict{
		{Field: "category", Candidates: []any{"Meals", "Travel"}},
	}, map[string]any{"merchant": "Blue Bottle"})
	r := NewResolver(store.NewInMemoryStore(), staticComparer{result: result})

	fields, err := r.ConflictingFields(ctx, "anything")
	require.NoError(t, err)
	assert.Equal(t, []string{"category"}, fields)

	s, err := r.Start(ctx, "anything")
	require.NoError(t, err)
	require.NoError(t, s.SelectCandidate(ctx, "category", "Travel"))
	assert.True(t, s.Done())
	assert.Equal(t, map[string]any{"merchant": "Blue Bottle", "category": "Travel"}, s.Resolved())
}

func TestParseCandidate(t *testing.T) {
	candidates := []any{false, true}
	v, ok := ParseCandidate(candidates, "true")
	assert.True(t, ok)
	assert.Equal(t, true, v)

	_, ok = ParseCandidate([]any{"Meals"}, "Travel")
	assert.False(t, ok)
}
