package cli

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/clinforge/cohortd/internal/application/datasets"
	"github.com/clinforge/cohortd/internal/domain/filter"
)

// NewEvalCmd builds the eval command: it evaluates a filter tree against a
// local CSV file, entirely offline.  Useful for authoring filters before a
// dataset is uploaded.
func NewEvalCmd(opts *RootOptions) *cobra.Command {
	var (
		filterPath   string
		csvPath      string
		patientIDCol string
	)

	cmd := &cobra.Command{
		Use:   "eval",
		Short: "Evaluate a filter tree against a local CSV file",
		RunE: func(cmd *cobra.Command, _ []string) error {
			treeData, err := os.ReadFile(filterPath)
			if err != nil {
				return fmt.Errorf("read filter file: %w", err)
			}
			csvData, err := os.ReadFile(csvPath)
			if err != nil {
				return fmt.Errorf("read CSV file: %w", err)
			}

			root, err := filter.Decode(treeData)
			if err != nil {
				return err
			}
			rows, schema, err := datasets.InferRows(csvData)
			if err != nil {
				return err
			}
			if err := root.ValidateAgainstSchema(schema); err != nil {
				return err
			}
			if len(root.CohortRefs()) > 0 {
				return fmt.Errorf("belongs_to_cohort rules require a running server; eval is offline")
			}

			ec := filter.EvalContext{Schema: schema}
			var matched []string
			for _, row := range rows {
				if !root.Matches(row, ec) {
					continue
				}
				if id, ok := datasets.PatientID(row, patientIDCol); ok {
					matched = append(matched, id)
				}
			}

			out := cmd.OutOrStdout()
			if opts.OutputJSON {
				return json.NewEncoder(out).Encode(map[string]interface{}{
					"total_rows": len(rows),
					"matched":    len(matched),
					"patients":   matched,
				})
			}
			fmt.Fprintf(out, "%d of %d rows match\n", len(matched), len(rows))
			for _, id := range matched {
				fmt.Fprintln(out, id)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&filterPath, "filter", "", "path to a JSON filter tree (required)")
	cmd.Flags().StringVar(&csvPath, "csv", "", "path to the CSV dataset (required)")
	cmd.Flags().StringVar(&patientIDCol, "patient-col", "patient_id", "patient ID column name")
	_ = cmd.MarkFlagRequired("filter")
	_ = cmd.MarkFlagRequired("csv")
	return cmd
}
