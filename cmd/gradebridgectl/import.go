package main

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"

	"github.com/spf13/cobra"

	"gradebridge/internal/importer"
	"gradebridge/internal/model"
)

func newImportCmd(g *globalFlags) *cobra.Command {
	var (
		assignmentID int64
		actorID      int64
		asJSON       bool
	)

	cmd := &cobra.Command{
		Use:   "import <archive.zip>",
		Short: "Apply a graded archive: status rows, modified submissions and new feedback",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := g.openApp(cmd.Context())
			if err != nil {
				return err
			}
			defer app.Close()

			outcome := app.Importer.Run(cmd.Context(), importer.ImportOptions{
				AssignmentID: assignmentID,
				ActorID:      actorID,
				Source:       importer.Source{Path: args[0]},
			})

			if asJSON {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				if err := enc.Encode(outcome); err != nil {
					return err
				}
			} else {
				printOutcome(cmd.OutOrStdout(), outcome)
			}
			if !outcome.Success {
				return fmt.Errorf("import failed (%s): %s", outcome.ErrorKind, outcome.Error)
			}
			return nil
		},
	}

	cmd.Flags().Int64Var(&assignmentID, "assignment", 0, "assignment id")
	cmd.Flags().Int64Var(&actorID, "actor", 0, "id of the grader performing the import")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the outcome as JSON")
	_ = cmd.MarkFlagRequired("assignment")
	return cmd
}

func printOutcome(w io.Writer, o *model.ImportOutcome) {
	fmt.Fprintf(w, "run %s: success=%v\n", o.RunID, o.Success)
	if o.StatusFile != "" {
		fmt.Fprintf(w, "status file: %s (%d rows applied)\n", o.StatusFile, o.StatusRowsApplied)
	}
	fmt.Fprintf(w, "unchanged submissions: %d\n", o.Unchanged)
	for _, r := range o.Renamed {
		fmt.Fprintf(w, "renamed: %s/%s -> %s\n", r.Folder, r.From, r.To)
	}
	for _, uid := range o.AttachedUsers() {
		files := append([]string(nil), o.Attached[uid]...)
		sort.Strings(files)
		fmt.Fprintf(w, "attached to user %d: %v\n", uid, files)
	}
	for _, s := range o.Skipped {
		fmt.Fprintf(w, "skipped: %s (%s)\n", s.Path, s.Reason)
	}
	for _, msg := range o.Warnings {
		fmt.Fprintf(w, "warning: %s\n", msg)
	}
	if len(o.Notified) > 0 {
		fmt.Fprintf(w, "notified: %v\n", o.Notified)
	}
}
