package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/seedcheck/validator-cli/internal/model"
)

var (
	validateIdea     string
	validateUser     string
	validateMode     string
	validateTags     []string
	validateJSON     bool
	validatePlatform []string
	validateToken    string
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate a single business idea",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		env, err := initPipeline(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		rc := cfg.DefaultRuntime()
		if validateToken != "" {
			rc.CrawlerToken = validateToken
		}
		for _, platform := range validatePlatform {
			rc.Platforms[strings.ToLower(platform)] = true
		}

		req := model.ValidationRequest{
			UserID:   validateUser,
			IdeaText: validateIdea,
			Tags:     validateTags,
			Mode:     model.Mode(validateMode),
			Runtime:  rc,
		}

		var validationID string
		for event := range env.Pipeline.Run(ctx, req) {
			validationID = event.ValidationID
			if event.Terminal {
				if event.Err != "" {
					return eris.Errorf("validation failed at %s: %s", event.Stage, event.Err)
				}
				break
			}
			fmt.Fprintf(os.Stderr, "[%3d%%] %-18s %s\n", event.Percent, event.Stage, event.Message)
		}

		report, err := env.Store.GetReport(ctx, validationID)
		if err != nil {
			return eris.Wrap(err, "load report")
		}

		if validateJSON {
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(report)
		}

		printReport(os.Stdout, report)
		zap.L().Info("validation complete",
			zap.String("validation_id", validationID),
			zap.Int("score", report.Analysis.OverallScore),
			zap.String("grade", string(report.Metrics.EvidenceGrade)),
		)
		return nil
	},
}

func printReport(w *os.File, report *model.Report) {
	fmt.Fprintf(w, "\nIdea:  %s\n", report.IdeaText)
	fmt.Fprintf(w, "Score: %d/100  Grade: %s  Quality: %d\n",
		report.Analysis.OverallScore, report.Metrics.EvidenceGrade, report.Metrics.DataQualityScore)
	if report.Degraded {
		fmt.Fprintf(w, "NOTE:  degraded report (%s)\n", report.CancelNote)
	}
	fmt.Fprintf(w, "\nVerdict: %s\n", report.Analysis.Verdict)
	if report.Analysis.MarketAssessment != "" {
		fmt.Fprintf(w, "\n%s\n", report.Analysis.MarketAssessment)
	}
	printList(w, "Risks", report.Analysis.Risks)
	printList(w, "Opportunities", report.Analysis.Opportunities)
	printList(w, "Next steps", report.Analysis.NextSteps)
	fmt.Fprintf(w, "\nEvidence: %d social items, %d competitors (%d cleaned, %d deep)\n",
		report.Social.TotalItems, len(report.Competitors),
		report.Competitors.CleanedCount(), report.Competitors.DeepCount())
	fmt.Fprintf(w, "Cost: $%.4f (crawler $%.4f, search $%.4f, cleaner $%.4f, llm $%.4f)\n",
		report.Metrics.Cost.TotalUSD, report.Metrics.Cost.CrawlerUSD,
		report.Metrics.Cost.SearchUSD, report.Metrics.Cost.CleanerUSD, report.Metrics.Cost.LLMUSD)
}

func printList(w *os.File, title string, items []string) {
	if len(items) == 0 {
		return
	}
	fmt.Fprintf(w, "\n%s:\n", title)
	for _, item := range items {
		fmt.Fprintf(w, "  - %s\n", item)
	}
}

func init() {
	validateCmd.Flags().StringVar(&validateIdea, "idea", "", "business idea text (required)")
	validateCmd.Flags().StringVar(&validateUser, "user", "cli", "user id for quota accounting")
	validateCmd.Flags().StringVar(&validateMode, "mode", "quick", "validation mode: quick or deep")
	validateCmd.Flags().StringSliceVar(&validateTags, "tag", nil, "idea tags")
	validateCmd.Flags().StringSliceVar(&validatePlatform, "platform", nil, "additional social platforms")
	validateCmd.Flags().StringVar(&validateToken, "crawler-token", "", "user-supplied third-party crawl credential")
	validateCmd.Flags().BoolVar(&validateJSON, "json", false, "print the full report as JSON")
	_ = validateCmd.MarkFlagRequired("idea")
	rootCmd.AddCommand(validateCmd)
}
