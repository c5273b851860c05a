package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"gradebridge/internal/importer"
)

func newVerifyCmd() *cobra.Command {
	var showUnchanged bool

	cmd := &cobra.Command{
		Use:   "verify <archive.zip>",
		Short: "Compare an archive against its embedded checksums without touching any data",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := os.Open(args[0])
			if err != nil {
				return err
			}
			defer f.Close()
			info, err := f.Stat()
			if err != nil {
				return err
			}

			report, err := importer.Verify(f, info.Size(), importer.ExtractOptions{})
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if !report.HasManifest {
				fmt.Fprintln(out, "no checksums.json: every file would be treated as new feedback")
			}
			tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
			for _, e := range report.Entries {
				if e.State == importer.VerifyUnchanged && !showUnchanged {
					continue
				}
				fmt.Fprintf(tw, "%s\t%s\n", e.State, e.Path)
			}
			if err := tw.Flush(); err != nil {
				return err
			}
			for _, s := range report.Skipped {
				fmt.Fprintf(out, "skipped\t%s (%s)\n", s.Path, s.Reason)
			}
			for _, w := range report.Warnings {
				fmt.Fprintf(out, "warning: %s\n", w)
			}
			if report.StatusFile != "" {
				fmt.Fprintf(out, "status file to apply: %s\n", report.StatusFile)
			}
			if report.Conflict != "" {
				fmt.Fprintf(out, "conflict: %s\n", report.Conflict)
			}
			fmt.Fprintf(out, "unchanged=%d modified=%d new=%d missing=%d\n",
				report.Count(importer.VerifyUnchanged), report.Count(importer.VerifyModified),
				report.Count(importer.VerifyNew), report.Count(importer.VerifyMissing))
			return nil
		},
	}

	cmd.Flags().BoolVar(&showUnchanged, "all", false, "also list unchanged files")
	return cmd
}
