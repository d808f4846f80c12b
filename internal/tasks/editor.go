// Package tasks implements editing of a task's description: validation,
// change detection, and the update request.
package tasks

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/go-playground/validator/v10"

	"github.com/nvandessel/tally/internal/config"
	"github.com/nvandessel/tally/internal/logger"
	"github.com/nvandessel/tally/internal/markup"
	"github.com/nvandessel/tally/internal/models"
)

var (
	// ErrNotTaskReport is returned when the report being edited is not a task.
	ErrNotTaskReport = errors.New("report is not a task")

	// ErrNotEditable is returned by Open when the user may not edit the task.
	ErrNotEditable = errors.New("task cannot be edited")
)

// CodeLengthExceeded identifies a description over the character limit.
const CodeLengthExceeded = "LengthExceeded"

// ValidationError describes one failed rule on the draft.
type ValidationError struct {
	Field  string `json:"field"`
	Code   string `json:"code"`
	Length int    `json:"length"`
	Limit  int    `json:"limit"`
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s exceeds the character limit (%d/%d)", e.Field, e.Length, e.Limit)
}

// ValidationErrors is returned by Submit when the draft fails validation.
type ValidationErrors []ValidationError

func (v ValidationErrors) Error() string {
	msgs := make([]string, len(v))
	for i, e := range v {
		msgs[i] = e.Error()
	}
	return strings.Join(msgs, "; ")
}

// Outcome reports what Submit did.
type Outcome string

const (
	// OutcomeUpdated means an update request was issued.
	OutcomeUpdated Outcome = "updated"
	// OutcomeUnchanged means the draft matched the stored description.
	OutcomeUnchanged Outcome = "unchanged"
	// OutcomeSkipped means there was no task to update.
	OutcomeSkipped Outcome = "skipped"
)

// Updater persists a new description.
type Updater interface {
	UpdateTaskDescription(ctx context.Context, reportID, description, descriptionHTML string) error
}

// Navigator ends the editing session.
type Navigator interface {
	Dismiss(ctx context.Context, reportID string)
}

// NavigatorFunc adapts a function to Navigator.
type NavigatorFunc func(ctx context.Context, reportID string)

// Dismiss implements Navigator.
func (f NavigatorFunc) Dismiss(ctx context.Context, reportID string) { f(ctx, reportID) }

// PermissionOracle answers whether a user may modify a task.
type PermissionOracle interface {
	CanModifyTask(ctx context.Context, task *models.Task, accountID int64) bool
}

// EditorConfig configures an Editor.
type EditorConfig struct {
	// DescriptionLimit is the maximum description length in characters.
	// Default: config.DefaultDescriptionLimit
	DescriptionLimit int

	// Permissions decides modification rights. Default: OwnerOrAssignee.
	Permissions PermissionOracle
}

// Editor validates and applies task description edits.
type Editor struct {
	updater  Updater
	nav      Navigator
	perms    PermissionOracle
	limit    int
	validate *validator.Validate
}

// NewEditor creates an editor. If cfg is nil, defaults are used.
func NewEditor(updater Updater, nav Navigator, cfg *EditorConfig) *Editor {
	e := &Editor{
		updater:  updater,
		nav:      nav,
		perms:    OwnerOrAssignee{},
		limit:    config.DefaultDescriptionLimit,
		validate: validator.New(),
	}
	if cfg != nil {
		if cfg.DescriptionLimit > 0 {
			e.limit = cfg.DescriptionLimit
		}
		if cfg.Permissions != nil {
			e.perms = cfg.Permissions
		}
	}
	if e.nav == nil {
		e.nav = NavigatorFunc(func(context.Context, string) {})
	}
	return e
}

// Limit returns the description character limit.
func (e *Editor) Limit() int { return e.limit }

// Validate checks the draft. A draft exactly at the limit passes.
func (e *Editor) Validate(draft string) []ValidationError {
	err := e.validate.Var(draft, fmt.Sprintf("max=%d", e.limit))
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return nil
	}
	out := make([]ValidationError, 0, len(verrs))
	for range verrs {
		out = append(out, ValidationError{
			Field:  "description",
			Code:   CodeLengthExceeded,
			Length: utf8.RuneCountInString(draft),
			Limit:  e.limit,
		})
	}
	return out
}

// CanEdit reports whether accountID may edit the task: it must be an open
// task report and the permission oracle must agree. Submit does not check
// this; callers gate the editing UI on it.
func (e *Editor) CanEdit(ctx context.Context, task *models.Task, accountID int64) bool {
	if !task.IsTaskReport() || !task.IsOpen() {
		return false
	}
	return e.perms.CanModifyTask(ctx, task, accountID)
}

// Draft returns the editable form of the task's stored description. The
// canonical form is not byte-identical to what is stored: surrounding
// whitespace is trimmed, so "Buy milk\r\n" drafts as "Buy milk", and
// submitting that untouched draft counts as a change and issues an update.
func (e *Editor) Draft(task *models.Task) (string, error) {
	if task == nil {
		return "", nil
	}
	return markup.Canonical(task.Description)
}

// Open prepares an editing session. Reports that are not tasks are dismissed
// straight away.
func (e *Editor) Open(ctx context.Context, task *models.Task, accountID int64) (string, error) {
	if task == nil {
		return "", models.ErrNotFound
	}
	if !task.IsTaskReport() {
		e.nav.Dismiss(ctx, task.ReportID)
		return "", ErrNotTaskReport
	}
	if !e.CanEdit(ctx, task, accountID) {
		return "", ErrNotEditable
	}
	return e.Draft(task)
}

// Submit applies draft to task when it differs from the stored description
// after line-ending normalisation, then dismisses the session. A nil task, or
// one without a report ID, is a silent no-op. The comparison is against the
// stored text, not the Draft rendering of it. When the update fails the session is not dismissed, so the
// caller can keep the draft and resubmit.
func (e *Editor) Submit(ctx context.Context, task *models.Task, draft string) (Outcome, error) {
	if verrs := e.Validate(draft); len(verrs) > 0 {
		return "", ValidationErrors(verrs)
	}

	var reportID, stored string
	if task != nil {
		reportID = task.ReportID
		stored = task.Description
	}
	log := logger.FromContext(ctx).With("report", reportID)

	outcome := OutcomeUnchanged
	switch {
	case markup.NormalizeCRLF(draft) == markup.NormalizeCRLF(stored):
		log.Debug("description unchanged")
	case task == nil || task.ReportID == "":
		outcome = OutcomeSkipped
		log.Debug("no task to update")
	default:
		html, err := markup.ToHTML(draft)
		if err != nil {
			return "", err
		}
		if err := e.updater.UpdateTaskDescription(ctx, reportID, draft, html); err != nil {
			log.Warn("task update failed", "err", err)
			return "", &models.MutationError{Op: "edit task", ID: reportID, Err: err}
		}
		outcome = OutcomeUpdated
		log.Info("task description updated", "length", utf8.RuneCountInString(draft))
	}

	e.nav.Dismiss(ctx, reportID)
	return outcome, nil
}

// OwnerOrAssignee lets a task's owner or assignee modify it while its parent
// report is not archived.
type OwnerOrAssignee struct{}

// CanModifyTask implements PermissionOracle.
func (OwnerOrAssignee) CanModifyTask(_ context.Context, task *models.Task, accountID int64) bool {
	if task == nil || task.ParentArchived || accountID == 0 {
		return false
	}
	return accountID == task.OwnerAccountID || accountID == task.AssigneeAccountID
}
