package cli

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"github.com/clinforge/cohortd/internal/domain/comparison"
)

// NewCompareCmd builds the compare command: it asks a running server to
// compare cohorts and prints the result.
func NewCompareCmd(opts *RootOptions) *cobra.Command {
	var cohortIDs []string

	cmd := &cobra.Command{
		Use:   "compare",
		Short: "Compare cohorts on a running server",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := comparison.ValidateCount(len(cohortIDs)); err != nil {
				return err
			}
			if opts.TenantID == "" {
				return fmt.Errorf("--tenant is required")
			}

			body, err := json.Marshal(map[string][]string{"cohort_ids": cohortIDs})
			if err != nil {
				return err
			}
			req, err := http.NewRequestWithContext(cmd.Context(), http.MethodPost,
				opts.ServerAddr+"/api/v1/comparisons", bytes.NewReader(body))
			if err != nil {
				return err
			}
			req.Header.Set("Content-Type", "application/json")
			req.Header.Set("X-Tenant-ID", opts.TenantID)
			if opts.Token != "" {
				req.Header.Set("Authorization", "Bearer "+opts.Token)
			}

			client := &http.Client{Timeout: 30 * time.Second}
			resp, err := client.Do(req)
			if err != nil {
				return fmt.Errorf("request failed: %w", err)
			}
			defer resp.Body.Close()

			data, err := io.ReadAll(resp.Body)
			if err != nil {
				return err
			}
			if resp.StatusCode != http.StatusOK {
				return fmt.Errorf("server returned %s: %s", resp.Status, bytes.TrimSpace(data))
			}

			out := cmd.OutOrStdout()
			if opts.OutputJSON {
				_, err = out.Write(append(data, '\n'))
				return err
			}

			var res comparison.Result
			if err := json.Unmarshal(data, &res); err != nil {
				return err
			}
			fmt.Fprintf(out, "cohorts:      %v\n", res.CohortIDs)
			fmt.Fprintf(out, "union:        %d patients\n", res.UnionCount)
			fmt.Fprintf(out, "intersection: %d patients\n", res.IntersectionCount)
			for _, s := range res.Stats {
				fmt.Fprintf(out, "  %-24s total=%-6d unique=%d\n", s.Name, s.Total, s.Unique)
			}
			for _, p := range res.Pairs {
				fmt.Fprintf(out, "  overlap %s / %s = %d\n", p.A, p.B, p.Overlap)
			}
			return nil
		},
	}

	cmd.Flags().StringSliceVar(&cohortIDs, "cohort", nil, "cohort ID to compare (repeat 2-5 times)")
	return cmd
}
