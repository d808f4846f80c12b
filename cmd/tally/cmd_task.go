package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/nvandessel/tally/internal/logger"
	"github.com/nvandessel/tally/internal/models"
	"github.com/nvandessel/tally/internal/store"
	"github.com/nvandessel/tally/internal/tasks"
)

func newTaskCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "task",
		Short: "Show and edit task descriptions",
	}
	cmd.AddCommand(
		newTaskShowCmd(),
		newTaskDescribeCmd(),
		newTaskCanEditCmd(),
	)
	return cmd
}

func loadTask(cmd *cobra.Command, s store.Store, reportID string) (*models.Task, error) {
	task, err := s.GetTask(cmd.Context(), reportID)
	if err != nil {
		return nil, err
	}
	if task == nil {
		return nil, fmt.Errorf("task %s: %w", reportID, models.ErrNotFound)
	}
	return task, nil
}

// withEditor opens the store and builds an editor honouring the configured
// description limit.
func withEditor(cmd *cobra.Command, fn func(store.Store, *tasks.Editor) error) error {
	s, cfg, err := openStore(cmd)
	if err != nil {
		return err
	}
	defer s.Close()

	nav := tasks.NavigatorFunc(func(ctx context.Context, reportID string) {
		logger.FromContext(ctx).Debug("editor dismissed", "report", reportID)
	})
	e := tasks.NewEditor(s, nav, &tasks.EditorConfig{DescriptionLimit: cfg.Tasks.DescriptionLimit})
	return fn(s, e)
}

func newTaskShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show <report-id>",
		Short: "Show a task and its editable description",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			account, _ := cmd.Flags().GetInt64("account")
			return withEditor(cmd, func(s store.Store, e *tasks.Editor) error {
				task, err := loadTask(cmd, s, args[0])
				if err != nil {
					return err
				}
				draft, canEdit, err := openForView(cmd.Context(), e, task, account)
				if err != nil {
					return err
				}

				jsonOut, _ := cmd.Flags().GetBool("json")
				if jsonOut {
					return writeJSON(cmd.OutOrStdout(), map[string]any{
						"report_id": task.ReportID,
						"title":     task.Title,
						"status":    task.Status,
						"draft":     draft,
						"can_edit":  canEdit,
						"limit":     e.Limit(),
					})
				}
				w := cmd.OutOrStdout()
				fmt.Fprintf(w, "%s [%s]\n\n%s\n\n", task.Title, task.Status, draft)
				fmt.Fprintf(w, "%d/%d characters", len([]rune(draft)), e.Limit())
				if !canEdit {
					fmt.Fprint(w, " (read-only)")
				}
				fmt.Fprintln(w)
				return nil
			})
		},
	}
	cmd.Flags().Int64("account", 0, "Account ID of the viewer")
	return cmd
}

// openForView opens task for editing, falling back to a read-only draft when
// the account may not edit it. Non-task reports are dismissed and rejected.
func openForView(ctx context.Context, e *tasks.Editor, task *models.Task, account int64) (string, bool, error) {
	draft, err := e.Open(ctx, task, account)
	switch {
	case err == nil:
		return draft, true, nil
	case errors.Is(err, tasks.ErrNotEditable):
		draft, err = e.Draft(task)
		return draft, false, err
	default:
		return "", false, fmt.Errorf("report %s: %w", task.ReportID, err)
	}
}

func newTaskDescribeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "describe <report-id> [description]",
		Short: "Replace a task's description",
		Long: `Replace a task's description.

The description is read from the argument, or from stdin when it is "-" or
omitted. Submitting text that only differs from the stored description in
line endings is a no-op.

Example:
  tally task describe task-groceries "Buy **oat** milk" --account 1`,
		Args: cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			account, _ := cmd.Flags().GetInt64("account")
			draft, err := readDraft(cmd.InOrStdin(), args)
			if err != nil {
				return err
			}
			return withEditor(cmd, func(s store.Store, e *tasks.Editor) error {
				task, err := loadTask(cmd, s, args[0])
				if err != nil {
					return err
				}
				if _, err := e.Open(cmd.Context(), task, account); err != nil {
					return fmt.Errorf("task %s: %w", task.ReportID, err)
				}

				outcome, err := e.Submit(cmd.Context(), task, draft)
				var verrs tasks.ValidationErrors
				if errors.As(err, &verrs) {
					jsonOut, _ := cmd.Flags().GetBool("json")
					if jsonOut {
						if werr := writeJSON(cmd.OutOrStdout(), map[string]any{"report_id": task.ReportID, "errors": verrs}); werr != nil {
							return werr
						}
					}
					return err
				}
				if err != nil {
					return err
				}

				jsonOut, _ := cmd.Flags().GetBool("json")
				if jsonOut {
					return writeJSON(cmd.OutOrStdout(), map[string]any{"report_id": task.ReportID, "outcome": outcome})
				}
				switch outcome {
				case tasks.OutcomeUnchanged:
					fmt.Fprintln(cmd.OutOrStdout(), "Description unchanged")
				default:
					fmt.Fprintf(cmd.OutOrStdout(), "Updated description of %s\n", task.ReportID)
				}
				return nil
			})
		},
	}
	cmd.Flags().Int64("account", 0, "Account ID of the editor")
	return cmd
}

func readDraft(in io.Reader, args []string) (string, error) {
	if len(args) == 2 && args[1] != "-" {
		return args[1], nil
	}
	if f, ok := in.(*os.File); ok {
		if info, err := f.Stat(); err == nil && info.Mode()&os.ModeCharDevice != 0 {
			return "", fmt.Errorf("no description given; pass it as an argument or on stdin")
		}
	}
	data, err := io.ReadAll(in)
	if err != nil {
		return "", fmt.Errorf("failed to read description: %w", err)
	}
	return strings.TrimSuffix(string(data), "\n"), nil
}

func newTaskCanEditCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "can-edit <report-id>",
		Short: "Report whether an account may edit a task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			account, _ := cmd.Flags().GetInt64("account")
			return withEditor(cmd, func(s store.Store, e *tasks.Editor) error {
				task, err := s.GetTask(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				canEdit := e.CanEdit(cmd.Context(), task, account)

				jsonOut, _ := cmd.Flags().GetBool("json")
				if jsonOut {
					return writeJSON(cmd.OutOrStdout(), map[string]any{"report_id": args[0], "can_edit": canEdit})
				}
				fmt.Fprintln(cmd.OutOrStdout(), canEdit)
				return nil
			})
		},
	}
	cmd.Flags().Int64("account", 0, "Account ID to check")
	return cmd
}
