package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"gradebridge/internal/exporter"
)

func newExportCmd(g *globalFlags) *cobra.Command {
	var (
		assignmentID int64
		participants []int64
		outputDir    string
	)

	cmd := &cobra.Command{
		Use:   "export",
		Short: "Build the feedback archive for an assignment",
		Long: `Build the feedback archive for an assignment.

The archive contains one folder per participant with their submitted files,
status.xlsx and status.csv for bulk grading, checksums.json and README.md.

Examples:
  gradebridgectl export --assignment 12 -o ./out
  gradebridgectl export --assignment 12 --participant 3 --participant 4`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			app, err := g.openApp(cmd.Context())
			if err != nil {
				return err
			}
			defer app.Close()

			res, err := app.Exporter.Export(cmd.Context(), exporter.ExportOptions{
				AssignmentID:   assignmentID,
				ParticipantIDs: participants,
				OutputDir:      outputDir,
				Progress: func(p exporter.ProgressEvent) {
					fmt.Fprintf(cmd.ErrOrStderr(), "[%3d%%] %s\n", p.Percent, p.Stage)
				},
			})
			if err != nil {
				return fmt.Errorf("export: %w", err)
			}

			out := cmd.OutOrStdout()
			for _, w := range res.Warnings {
				fmt.Fprintf(out, "warning: %s\n", w)
			}
			fmt.Fprintf(out, "wrote %s (%d participants, %d files, %d manifest records)\n",
				res.ArchivePath, res.Participants, res.Files, res.Manifest.Len())
			return nil
		},
	}

	cmd.Flags().Int64Var(&assignmentID, "assignment", 0, "assignment id")
	cmd.Flags().Int64SliceVar(&participants, "participant", nil, "participant id (user or team); repeatable, default all")
	cmd.Flags().StringVarP(&outputDir, "output", "o", ".", "output directory")
	_ = cmd.MarkFlagRequired("assignment")
	return cmd
}
