// Package mcp exposes the review and task workflows as Model Context
// Protocol tools over stdio.
package mcp

import (
	"context"
	"errors"
	"fmt"
	"sync"

	sdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/nvandessel/tally/internal/duplicates"
	"github.com/nvandessel/tally/internal/logger"
	"github.com/nvandessel/tally/internal/models"
	"github.com/nvandessel/tally/internal/sanitize"
	"github.com/nvandessel/tally/internal/store"
	"github.com/nvandessel/tally/internal/tasks"
)

// Config configures the MCP server.
type Config struct {
	Name    string
	Version string
	Root    string

	// DescriptionLimit overrides the task description limit when positive.
	DescriptionLimit int
}

// Server wraps an MCP server bound to a project's store.
type Server struct {
	server   *sdk.Server
	store    store.Store
	root     string
	resolver *duplicates.Resolver
	limit    int

	closeOnce sync.Once
	closeErr  error
}

// NewServer opens the project store under cfg.Root and registers the tools.
func NewServer(cfg *Config) (*Server, error) {
	s, err := store.NewSQLiteStore(cfg.Root)
	if err != nil {
		return nil, fmt.Errorf("failed to open store: %w", err)
	}
	return newServer(cfg, s), nil
}

func newServer(cfg *Config, s store.Store) *Server {
	srv := &Server{
		server: sdk.NewServer(&sdk.Implementation{
			Name:    cfg.Name,
			Version: cfg.Version,
		}, nil),
		store:    s,
		root:     cfg.Root,
		resolver: duplicates.NewResolver(s, nil),
		limit:    cfg.DescriptionLimit,
	}
	srv.registerTools()
	return srv
}

// Run serves over stdio until the client disconnects or ctx is cancelled.
func (s *Server) Run(ctx context.Context) error {
	logger.FromContext(ctx).Info("mcp server starting", "root", s.root)
	return s.server.Run(ctx, &sdk.StdioTransport{})
}

// Close releases the store. It is safe to call more than once.
func (s *Server) Close() error {
	s.closeOnce.Do(func() {
		s.closeErr = s.store.Close()
	})
	return s.closeErr
}

func (s *Server) registerTools() {
	sdk.AddTool(s.server, &sdk.Tool{
		Name:        "tally_review_fields",
		Description: "Start or resume a duplicate review for a transaction and show the field being resolved",
	}, s.handleReviewFields)

	sdk.AddTool(s.server, &sdk.Tool{
		Name:        "tally_review_select",
		Description: "Keep one candidate value for the current field of a duplicate review and advance",
	}, s.handleReviewSelect)

	sdk.AddTool(s.server, &sdk.Tool{
		Name:        "tally_review_merge",
		Description: "Apply a finished duplicate review to the transaction",
	}, s.handleReviewMerge)

	sdk.AddTool(s.server, &sdk.Tool{
		Name:        "tally_task_show",
		Description: "Show a task's editable description and whether the user may edit it",
	}, s.handleTaskShow)

	sdk.AddTool(s.server, &sdk.Tool{
		Name:        "tally_task_describe",
		Description: "Replace a task's description",
	}, s.handleTaskDescribe)
}

// ReviewInput identifies a transaction under review.
type ReviewInput struct {
	TransactionID string `json:"transaction_id" jsonschema:"the transaction whose duplicates are reviewed"`
}

// SelectInput chooses a value for the current review field.
type SelectInput struct {
	TransactionID string `json:"transaction_id" jsonschema:"the transaction whose duplicates are reviewed"`
	Field         string `json:"field" jsonschema:"the field being resolved; must be the current step"`
	Value         string `json:"value" jsonschema:"the candidate to keep, as printed by tally_review_fields"`
}

// ReviewOutput describes a review session's position.
type ReviewOutput struct {
	TransactionID string         `json:"transaction_id"`
	Fields        []string       `json:"fields"`
	StepNames     []string       `json:"step_names"`
	Index         int            `json:"index"`
	Done          bool           `json:"done"`
	Current       string         `json:"current,omitempty"`
	Candidates    []any          `json:"candidates"`
	Resolved      map[string]any `json:"resolved,omitempty"`
}

// MergeOutput reports the values written by a merge.
type MergeOutput struct {
	TransactionID string         `json:"transaction_id"`
	Values        map[string]any `json:"values"`
}

func reviewOutput(sess *duplicates.Session) ReviewOutput {
	out := ReviewOutput{
		TransactionID: sess.TransactionID(),
		Fields:        sess.Steps(),
		StepNames:     sess.StepNames(),
		Index:         sess.Index(),
		Done:          sess.Done(),
		Candidates:    sess.Candidates(),
	}
	if out.Fields == nil {
		out.Fields = []string{}
	}
	if cur, ok := sess.Current(); ok {
		out.Current = cur
	}
	if out.Done {
		out.Resolved = sess.Resolved()
	}
	return out
}

func (s *Server) handleReviewFields(ctx context.Context, _ *sdk.CallToolRequest, in ReviewInput) (*sdk.CallToolResult, ReviewOutput, error) {
	sess, err := s.resolver.Start(ctx, sanitize.ID(in.TransactionID))
	if err != nil {
		return nil, ReviewOutput{}, err
	}
	return nil, reviewOutput(sess), nil
}

func (s *Server) handleReviewSelect(ctx context.Context, _ *sdk.CallToolRequest, in SelectInput) (*sdk.CallToolResult, ReviewOutput, error) {
	sess, err := s.resolver.Start(ctx, sanitize.ID(in.TransactionID))
	if err != nil {
		return nil, ReviewOutput{}, err
	}
	if err := sess.SelectCandidateText(ctx, in.Field, in.Value); err != nil {
		return nil, ReviewOutput{}, err
	}
	return nil, reviewOutput(sess), nil
}

func (s *Server) handleReviewMerge(ctx context.Context, _ *sdk.CallToolRequest, in ReviewInput) (*sdk.CallToolResult, MergeOutput, error) {
	in.TransactionID = sanitize.ID(in.TransactionID)
	sess, err := s.resolver.Start(ctx, in.TransactionID)
	if err != nil {
		return nil, MergeOutput{}, err
	}
	values, err := s.resolver.Merge(ctx, sess)
	if err != nil {
		return nil, MergeOutput{}, err
	}
	return nil, MergeOutput{TransactionID: in.TransactionID, Values: values}, nil
}

// TaskInput identifies a task and the acting user.
type TaskInput struct {
	ReportID  string `json:"report_id" jsonschema:"the task report"`
	AccountID int64  `json:"account_id" jsonschema:"the account performing the edit"`
}

// DescribeInput carries a new task description.
type DescribeInput struct {
	ReportID    string `json:"report_id" jsonschema:"the task report"`
	AccountID   int64  `json:"account_id" jsonschema:"the account performing the edit"`
	Description string `json:"description" jsonschema:"the new description in lightweight markup"`
}

// TaskOutput describes a task for editing.
type TaskOutput struct {
	ReportID string `json:"report_id"`
	Title    string `json:"title"`
	Status   string `json:"status"`
	Draft    string `json:"draft"`
	CanEdit  bool   `json:"can_edit"`
	Limit    int    `json:"limit"`
}

// DescribeOutput reports the result of a description edit.
type DescribeOutput struct {
	ReportID string                  `json:"report_id"`
	Outcome  string                  `json:"outcome,omitempty"`
	Errors   []tasks.ValidationError `json:"errors,omitempty"`
}

func (s *Server) editor() *tasks.Editor {
	nav := tasks.NavigatorFunc(func(ctx context.Context, reportID string) {
		logger.FromContext(ctx).Debug("editor dismissed", "report", reportID)
	})
	return tasks.NewEditor(s.store, nav, &tasks.EditorConfig{DescriptionLimit: s.limit})
}

func (s *Server) loadTask(ctx context.Context, reportID string) (*models.Task, error) {
	reportID = sanitize.ID(reportID)
	task, err := s.store.GetTask(ctx, reportID)
	if err != nil {
		return nil, err
	}
	if task == nil {
		return nil, fmt.Errorf("task %s: %w", reportID, models.ErrNotFound)
	}
	return task, nil
}

func (s *Server) handleTaskShow(ctx context.Context, _ *sdk.CallToolRequest, in TaskInput) (*sdk.CallToolResult, TaskOutput, error) {
	task, err := s.loadTask(ctx, in.ReportID)
	if err != nil {
		return nil, TaskOutput{}, err
	}
	e := s.editor()
	canEdit := true
	draft, err := e.Open(ctx, task, in.AccountID)
	if errors.Is(err, tasks.ErrNotEditable) {
		canEdit = false
		draft, err = e.Draft(task)
	}
	if err != nil {
		return nil, TaskOutput{}, fmt.Errorf("report %s: %w", task.ReportID, err)
	}
	return nil, TaskOutput{
		ReportID: task.ReportID,
		Title:    task.Title,
		Status:   string(task.Status),
		Draft:    draft,
		CanEdit:  canEdit,
		Limit:    e.Limit(),
	}, nil
}

func (s *Server) handleTaskDescribe(ctx context.Context, _ *sdk.CallToolRequest, in DescribeInput) (*sdk.CallToolResult, DescribeOutput, error) {
	task, err := s.loadTask(ctx, in.ReportID)
	if err != nil {
		return nil, DescribeOutput{}, err
	}
	e := s.editor()
	if _, err := e.Open(ctx, task, in.AccountID); err != nil {
		return nil, DescribeOutput{}, fmt.Errorf("task %s: %w", task.ReportID, err)
	}
	outcome, err := e.Submit(ctx, task, sanitize.Text(in.Description))
	var verrs tasks.ValidationErrors
	if errors.As(err, &verrs) {
		return nil, DescribeOutput{ReportID: task.ReportID, Errors: verrs}, nil
	}
	if err != nil {
		return nil, DescribeOutput{}, err
	}
	return nil, DescribeOutput{ReportID: task.ReportID, Outcome: string(outcome)}, nil
}
