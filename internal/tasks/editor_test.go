package tasks

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nvandessel/tally/internal/models"
	"github.com/nvandessel/tally/internal/store"
)

type fakeUpdater struct {
	calls []string
	err   error
}

func (f *fakeUpdater) UpdateTaskDescription(_ context.Context, reportID, description, _ string) error {
	f.calls = append(f.calls, reportID+":"+description)
	return f.err
}

type recordingNav struct {
	dismissed []string
}

func (n *recordingNav) Dismiss(_ context.Context, reportID string) {
	n.dismissed = append(n.dismissed, reportID)
}

func openTask() *models.Task {
	return &models.Task{
		ReportID:       "task-1",
		Type:           models.ReportTypeTask,
		Title:          "Groceries",
		Description:    "Buy milk\r\n",
		Status:         models.TaskStatusOpen,
		OwnerAccountID: 7,
	}
}

func TestValidate(t *testing.T) {
	e := NewEditor(&fakeUpdater{}, nil, &EditorConfig{DescriptionLimit: 10})

	tests := []struct {
		name    string
		draft   string
		wantErr bool
	}{
		{"empty", "", false},
		{"under limit", "short", false},
		{"at limit", strings.Repeat("a", 10), false},
		{"limit plus one", strings.Repeat("a", 11), true},
		{"multibyte at limit", strings.Repeat("é", 10), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			errs := e.Validate(tt.draft)
			if !tt.wantErr {
				assert.Empty(t, errs)
				return
			}
			require.Len(t, errs, 1)
			assert.Equal(t, CodeLengthExceeded, errs[0].Code)
			assert.Equal(t, 11, errs[0].Length)
			assert.Equal(t, 10, errs[0].Limit)
			assert.Contains(t, errs[0].Error(), "11/10")
		})
	}
}

func TestValidate_DefaultLimit(t *testing.T) {
	e := NewEditor(&fakeUpdater{}, nil, nil)
	assert.Equal(t, 500, e.Limit())
	assert.Empty(t, e.Validate(strings.Repeat("x", 500)))

	errs := e.Validate(strings.Repeat("x", 501))
	require.Len(t, errs, 1)
	assert.Equal(t, 501, errs[0].Length)
}

func TestSubmit_NormalizedEqualIsNoop(t *testing.T) {
	up := &fakeUpdater{}
	nav := &recordingNav{}
	e := NewEditor(up, nav, nil)

	for i := 0; i < 3; i++ {
		outcome, err := e.Submit(context.Background(), openTask(), "Buy milk\n")
		require.NoError(t, err)
		assert.Equal(t, OutcomeUnchanged, outcome)
	}
	assert.Empty(t, up.calls)
	assert.Equal(t, []string{"task-1", "task-1", "task-1"}, nav.dismissed)
}

func TestSubmit_Changed(t *testing.T) {
	up := &fakeUpdater{}
	nav := &recordingNav{}
	e := NewEditor(up, nav, nil)

	outcome, err := e.Submit(context.Background(), openTask(), "Buy oat milk")
	require.NoError(t, err)
	assert.Equal(t, OutcomeUpdated, outcome)
	assert.Equal(t, []string{"task-1:Buy oat milk"}, up.calls)
	assert.Equal(t, []string{"task-1"}, nav.dismissed)
}

func TestSubmit_NilTaskIsSilent(t *testing.T) {
	up := &fakeUpdater{}
	nav := &recordingNav{}
	e := NewEditor(up, nav, nil)

	outcome, err := e.Submit(context.Background(), nil, "anything")
	require.NoError(t, err)
	assert.Equal(t, OutcomeSkipped, outcome)
	assert.Empty(t, up.calls)
	assert.Equal(t, []string{""}, nav.dismissed)
}

func TestSubmit_EmptyReportIDIsSilent(t *testing.T) {
	up := &fakeUpdater{}
	nav := &recordingNav{}
	e := NewEditor(up, nav, nil)

	outcome, err := e.Submit(context.Background(), &models.Task{}, "anything")
	require.NoError(t, err)
	assert.Equal(t, OutcomeSkipped, outcome)
	assert.Empty(t, up.calls)
	assert.Equal(t, []string{""}, nav.dismissed)
}

func TestSubmit_UntouchedDraftUpdates(t *testing.T) {
	up := &fakeUpdater{}
	e := NewEditor(up, nil, nil)
	task := openTask()

	draft, err := e.Draft(task)
	require.NoError(t, err)
	require.Equal(t, "Buy milk", draft)

	// trimmed trailing line break differs from the stored text
	outcome, err := e.Submit(context.Background(), task, draft)
	require.NoError(t, err)
	assert.Equal(t, OutcomeUpdated, outcome)
	assert.Equal(t, []string{"task-1:Buy milk"}, up.calls)
}

func TestSubmit_ValidationBlocks(t *testing.T) {
	up := &fakeUpdater{}
	nav := &recordingNav{}
	e := NewEditor(up, nav, &EditorConfig{DescriptionLimit: 3})

	_, err := e.Submit(context.Background(), openTask(), "too long")
	var verrs ValidationErrors
	require.ErrorAs(t, err, &verrs)
	assert.Equal(t, 8, verrs[0].Length)
	assert.Empty(t, up.calls)
	assert.Empty(t, nav.dismissed)
}

func TestSubmit_MutationFailure(t *testing.T) {
	cause := errors.New("network unreachable")
	up := &fakeUpdater{err: cause}
	nav := &recordingNav{}
	e := NewEditor(up, nav, nil)

	_, err := e.Submit(context.Background(), openTask(), "Buy bread")
	require.Error(t, err)
	assert.ErrorIs(t, err, models.ErrMutationFailed)
	assert.ErrorIs(t, err, cause)
	assert.Empty(t, nav.dismissed)

	// the caller resubmits once the service recovers
	up.err = nil
	outcome, err := e.Submit(context.Background(), openTask(), "Buy bread")
	require.NoError(t, err)
	assert.Equal(t, OutcomeUpdated, outcome)
	assert.Len(t, up.calls, 2)
}

func TestSubmit_PersistsThroughStore(t *testing.T) {
	ctx := context.Background()
	s := store.NewInMemoryStore()
	require.NoError(t, s.PutTask(ctx, *openTask()))
	e := NewEditor(s, nil, nil)

	_, err := e.Submit(ctx, openTask(), "Buy **oat** milk")
	require.NoError(t, err)

	got, err := s.GetTask(ctx, "task-1")
	require.NoError(t, err)
	assert.Equal(t, "Buy **oat** milk", got.Description)
	assert.Contains(t, got.DescriptionHTML, "<strong>oat</strong>")
}

type staticPerms bool

func (p staticPerms) CanModifyTask(context.Context, *models.Task, int64) bool { return bool(p) }

func TestCanEdit(t *testing.T) {
	ctx := context.Background()
	closed := openTask()
	closed.Status = models.TaskStatusClosed
	completed := openTask()
	completed.Status = models.TaskStatusCompleted
	expense := openTask()
	expense.Type = models.ReportTypeExpense

	tests := []struct {
		name  string
		task  *models.Task
		perms staticPerms
		want  bool
	}{
		{"open with rights", openTask(), true, true},
		{"open without rights", openTask(), false, false},
		{"closed with rights", closed, true, false},
		{"completed with rights", completed, true, false},
		{"not a task", expense, true, false},
		{"nil task", nil, true, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := NewEditor(&fakeUpdater{}, nil, &EditorConfig{Permissions: tt.perms})
			assert.Equal(t, tt.want, e.CanEdit(ctx, tt.task, 7))
		})
	}
}

func TestOwnerOrAssignee(t *testing.T) {
	ctx := context.Background()
	task := openTask()
	task.AssigneeAccountID = 9
	archived := openTask()
	archived.ParentArchived = true

	p := OwnerOrAssignee{}
	assert.True(t, p.CanModifyTask(ctx, task, 7))
	assert.True(t, p.CanModifyTask(ctx, task, 9))
	assert.False(t, p.CanModifyTask(ctx, task, 8))
	assert.False(t, p.CanModifyTask(ctx, task, 0))
	assert.False(t, p.CanModifyTask(ctx, archived, 7))
	assert.False(t, p.CanModifyTask(ctx, nil, 7))
}

func TestOpen(t *testing.T) {
	ctx := context.Background()

	t.Run("returns canonical draft", func(t *testing.T) {
		e := NewEditor(&fakeUpdater{}, nil, nil)
		draft, err := e.Open(ctx, openTask(), 7)
		require.NoError(t, err)
		assert.Equal(t, "Buy milk", draft)
	})

	t.Run("dismisses non-task reports", func(t *testing.T) {
		nav := &recordingNav{}
		e := NewEditor(&fakeUpdater{}, nav, nil)
		task := openTask()
		task.Type = models.ReportTypeChat

		_, err := e.Open(ctx, task, 7)
		assert.ErrorIs(t, err, ErrNotTaskReport)
		assert.Equal(t, []string{"task-1"}, nav.dismissed)
	})

	t.Run("blocks users without rights", func(t *testing.T) {
		e := NewEditor(&fakeUpdater{}, nil, nil)
		_, err := e.Open(ctx, openTask(), 99)
		assert.ErrorIs(t, err, ErrNotEditable)
	})

	t.Run("missing task", func(t *testing.T) {
		e := NewEditor(&fakeUpdater{}, nil, nil)
		_, err := e.Open(ctx, nil, 7)
		assert.ErrorIs(t, err, models.ErrNotFound)
	})
}
