package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/seedcheck/validator-cli/internal/model"
	"github.com/seedcheck/validator-cli/internal/store"
)

var runsCmd = &cobra.Command{
	Use:   "runs",
	Short: "Inspect validation run history",
	Long:  "Commands for listing validations and viewing their reports.",
}

// -- runs list --

var runsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List validation runs",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck
		if err := st.Migrate(ctx); err != nil {
			return err
		}

		status, _ := cmd.Flags().GetString("status")
		user, _ := cmd.Flags().GetString("user")
		limit, _ := cmd.Flags().GetInt("limit")

		records, err := st.ListValidations(ctx, store.ValidationFilter{
			UserID: user,
			Status: model.RecordStatus(status),
			Limit:  limit,
		})
		if err != nil {
			return eris.Wrap(err, "runs list")
		}

		if len(records) == 0 {
			fmt.Fprintln(os.Stderr, "No validations found.")
			return nil
		}

		formatRunsList(os.Stdout, records)
		return nil
	},
}

// -- runs show --

var runsShowCmd = &cobra.Command{
	Use:   "show <validation-id>",
	Short: "Show one validation's report",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck
		if err := st.Migrate(ctx); err != nil {
			return err
		}

		report, err := st.GetReport(ctx, args[0])
		if err != nil {
			return eris.Wrap(err, "load report")
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(report)
	},
}

// -- runs quota --

var runsQuotaCmd = &cobra.Command{
	Use:   "quota <user-id>",
	Short: "Show a user's free-tier quota usage",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck
		if err := st.Migrate(ctx); err != nil {
			return err
		}

		used, err := st.QuotaUsed(ctx, args[0])
		if err != nil {
			return eris.Wrap(err, "quota used")
		}
		fmt.Printf("user %s: %d of %d free crawls used\n", args[0], used, cfg.Quota.FreeLimit)
		return nil
	},
}

func formatRunsList(w io.Writer, records []model.ValidationRecord) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tUSER\tMODE\tSTATUS\tSCORE\tCREATED\tIDEA")
	for _, rec := range records {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%d\t%s\t%s\n",
			rec.ID, rec.UserID, rec.Mode, rec.Status, rec.OverallScore,
			rec.CreatedAt.Format(time.RFC3339), truncateIdea(rec.IdeaText))
	}
	_ = tw.Flush()
}

func truncateIdea(idea string) string {
	runes := []rune(idea)
	if len(runes) <= 40 {
		return idea
	}
	return string(runes[:40]) + "…"
}

func init() {
	runsListCmd.Flags().String("status", "", "filter by status (processing|completed|failed)")
	runsListCmd.Flags().String("user", "", "filter by user id")
	runsListCmd.Flags().Int("limit", 20, "maximum rows")

	runsCmd.AddCommand(runsListCmd)
	runsCmd.AddCommand(runsShowCmd)
	runsCmd.AddCommand(runsQuotaCmd)
	rootCmd.AddCommand(runsCmd)
}
