package main

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/nvandessel/tally/internal/duplicates"
	"github.com/nvandessel/tally/internal/store"
)

func newReviewCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "review",
		Short: "Resolve transactions flagged as duplicates",
		Long: `Resolve a transaction flagged as a duplicate, one conflicting field at a time.

Only fields whose values differ across the duplicate set are reviewed, in a
fixed order. Progress is saved after every choice, so a review can be picked
up later.

Example:
  tally review fields tx-coffee-1
  tally review select tx-coffee-1 merchant "Blue Bottle"
  tally review merge tx-coffee-1`,
	}
	cmd.AddCommand(
		newReviewFieldsCmd(),
		newReviewSelectCmd(),
		newReviewMergeCmd(),
	)
	return cmd
}

// reviewView is the JSON form of a review session.
type reviewView struct {
	TransactionID string         `json:"transaction_id"`
	Fields        []string       `json:"fields"`
	StepNames     []string       `json:"step_names"`
	Index         int            `json:"index"`
	Done          bool           `json:"done"`
	Current       string         `json:"current,omitempty"`
	Candidates    []any          `json:"candidates,omitempty"`
	Resolved      map[string]any `json:"resolved,omitempty"`
}

func newReviewView(sess *duplicates.Session) reviewView {
	v := reviewView{
		TransactionID: sess.TransactionID(),
		Fields:        sess.Steps(),
		StepNames:     sess.StepNames(),
		Index:         sess.Index(),
		Done:          sess.Done(),
		Candidates:    sess.Candidates(),
	}
	if cur, ok := sess.Current(); ok {
		v.Current = cur
	}
	if v.Done {
		v.Resolved = sess.Resolved()
	}
	return v
}

func printReview(w io.Writer, sess *duplicates.Session) {
	steps := sess.Steps()
	if len(steps) == 0 {
		fmt.Fprintf(w, "%s: no conflicting fields\n", sess.TransactionID())
		return
	}
	names := sess.StepNames()
	for i, f := range steps {
		marker := " "
		switch {
		case i < sess.Index():
			marker = "x"
		case i == sess.Index():
			marker = ">"
		}
		fmt.Fprintf(w, "[%s] %s. %s\n", marker, names[i], f)
	}
	if cur, ok := sess.Current(); ok {
		fmt.Fprintf(w, "\nChoose a value for %s:\n", cur)
		for _, c := range sess.Candidates() {
			fmt.Fprintf(w, "  - %v\n", c)
		}
		return
	}
	fmt.Fprintln(w, "\nAll fields resolved. Run 'tally review merge' to apply:")
	for _, f := range steps {
		fmt.Fprintf(w, "  %s: %v\n", f, sess.Resolved()[f])
	}
}

func runReview(cmd *cobra.Command, fn func(*duplicates.Resolver) (*duplicates.Session, error)) error {
	s, _, err := openStore(cmd)
	if err != nil {
		return err
	}
	defer s.Close()

	sess, err := fn(duplicates.NewResolver(s, duplicates.StoreComparer{Store: s}))
	if err != nil {
		return err
	}

	jsonOut, _ := cmd.Flags().GetBool("json")
	if jsonOut {
		return writeJSON(cmd.OutOrStdout(), newReviewView(sess))
	}
	printReview(cmd.OutOrStdout(), sess)
	return nil
}

func newReviewFieldsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "fields <transaction-id>",
		Short: "Show the conflicting fields and the current review step",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runReview(cmd, func(r *duplicates.Resolver) (*duplicates.Session, error) {
				return r.Start(cmd.Context(), args[0])
			})
		},
	}
}

func newReviewSelectCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "select <transaction-id> <field> <value>",
		Short: "Keep a value for the current field and advance",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, field, raw := args[0], args[1], args[2]
			return runReview(cmd, func(r *duplicates.Resolver) (*duplicates.Session, error) {
				sess, err := r.Start(cmd.Context(), id)
				if err != nil {
					return nil, err
				}
				if err := sess.SelectCandidateText(cmd.Context(), field, raw); err != nil {
					return nil, err
				}
				return sess, nil
			})
		},
	}
}

func newReviewMergeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "merge <transaction-id>",
		Short: "Apply a finished review to the transaction",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, _, err := openStore(cmd)
			if err != nil {
				return err
			}
			defer s.Close()
			return mergeReview(cmd, s, args[0])
		},
	}
}

func mergeReview(cmd *cobra.Command, s store.Store, id string) error {
	r := duplicates.NewResolver(s, nil)
	sess, err := r.Start(cmd.Context(), id)
	if err != nil {
		return err
	}
	values, err := r.Merge(cmd.Context(), sess)
	if err != nil {
		return err
	}

	jsonOut, _ := cmd.Flags().GetBool("json")
	if jsonOut {
		return writeJSON(cmd.OutOrStdout(), map[string]any{
			"transaction_id": id,
			"values":         values,
		})
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Merged %d fields into %s\n", len(values), id)
	return nil
}
