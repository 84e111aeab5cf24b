package pipeline

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/seedcheck/validator-cli/internal/model"
)

// Degraded scores stay inside a conservative band: cancellation must not
// read as a strong verdict in either direction.
const (
	degradedScoreFloor = 30
	degradedScoreCeil  = 70
)

// degradedScore maps evidence quality into the conservative band.
func degradedScore(dataQuality int) int {
	score := degradedScoreFloor + dataQuality*(degradedScoreCeil-degradedScoreFloor)/100
	if score < degradedScoreFloor {
		return degradedScoreFloor
	}
	if score > degradedScoreCeil {
		return degradedScoreCeil
	}
	return score
}

// buildDegradedReport assembles a report from whatever evidence a cancelled
// run had gathered. No provider is called; the analysis is a templated
// conservative verdict graded off the partial evidence.
func buildDegradedReport(rec *model.ValidationRecord, req model.ValidationRequest, social model.SocialEvidence, competitors model.CompetitorEvidence, insight model.AggregatedInsight, metrics model.RunMetrics, note string) *model.Report {
	if metrics.EvidenceGrade == "" {
		metrics.DataQualityScore = dataQualityScore(social, competitors)
		metrics.EvidenceGrade = evidenceGrade(social, competitors)
	}
	score := degradedScore(metrics.DataQualityScore)
	return &model.Report{
		ValidationID: rec.ID,
		IdeaText:     req.IdeaText,
		Tags:         req.Tags,
		Mode:         req.Mode,
		Social:       social,
		Competitors:  competitors,
		Insight:      insight,
		Analysis: model.AnalysisResult{
			OverallScore: score,
			Verdict:      "Inconclusive: validation was cancelled before the analysis finished.",
			MarketAssessment: fmt.Sprintf(
				"Partial evidence only (%d social samples, %d competitors, grade %s). The score is a conservative placeholder; rerun the validation for a full assessment.",
				social.TotalItems, len(competitors), metrics.EvidenceGrade),
		},
		Metrics:     metrics,
		Degraded:    true,
		CancelNote:  note,
		GeneratedAt: time.Now().UTC(),
	}
}

// completeDegraded finishes a cancelled run: degraded report, completed
// status, terminal event. Writes run on a fresh deadline since the run
// context is already dead.
func (p *Pipeline) completeDegraded(em *emitter, rec *model.ValidationRecord, req model.ValidationRequest, social model.SocialEvidence, competitors model.CompetitorEvidence, insight model.AggregatedInsight, counters *runCounters, note string) {
	wctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	metrics := counters.metrics(p.costCalc, social, competitors)
	report := buildDegradedReport(rec, req, social, competitors, insight, metrics, note)

	if err := p.store.UpsertReport(wctx, report); err != nil {
		zap.L().Error("pipeline: degraded report write failed", zap.String("validation_id", rec.ID), zap.Error(err))
	}
	if err := p.store.UpdateStatus(wctx, rec.ID, model.StatusCompleted, report.Analysis.OverallScore, rec.Version); err != nil {
		if model.IsKind(err, model.KindConflict) {
			zap.L().Warn("pipeline: degraded terminal write lost version race", zap.String("validation_id", rec.ID))
		} else {
			zap.L().Error("pipeline: degraded terminal write failed", zap.String("validation_id", rec.ID), zap.Error(err))
		}
	}
	em.Terminal(StageComplete, nil)
}

// Cancel stops a processing validation on behalf of its owner and completes
// it degraded off the last checkpoint. The terminal write carries the
// record version read here, so a run finishing concurrently wins the race
// and the cancellation reports a conflict.
func (p *Pipeline) Cancel(ctx context.Context, validationID, userID string) (*model.Report, error) {
	rec, err := p.store.GetValidation(ctx, validationID)
	if err != nil {
		return nil, err
	}
	if rec.UserID != userID {
		return nil, model.Ef(model.KindNotFound, "validation %s not found", validationID)
	}
	if rec.Status.Terminal() {
		return nil, model.Ef(model.KindConflict, "validation %s is already %s", validationID, rec.Status)
	}

	req := model.ValidationRequest{
		UserID:   rec.UserID,
		IdeaText: rec.IdeaText,
		Mode:     rec.Mode,
	}

	// Last checkpoint, if the run got far enough to write one.
	var social model.SocialEvidence
	var competitors model.CompetitorEvidence
	var insight model.AggregatedInsight
	var metrics model.RunMetrics
	if checkpoint, gerr := p.store.GetReport(ctx, validationID); gerr == nil {
		social = checkpoint.Social
		competitors = checkpoint.Competitors
		insight = checkpoint.Insight
		metrics = checkpoint.Metrics
		req.Tags = checkpoint.Tags
	} else if !model.IsKind(gerr, model.KindNotFound) {
		zap.L().Warn("pipeline: checkpoint read failed during cancel", zap.String("validation_id", validationID), zap.Error(gerr))
	}

	report := buildDegradedReport(rec, req, social, competitors, insight, metrics, "cancelled by user")
	if err := p.store.UpsertReport(ctx, report); err != nil {
		return nil, err
	}
	if err := p.store.UpdateStatus(ctx, validationID, model.StatusCompleted, report.Analysis.OverallScore, rec.Version); err != nil {
		return nil, err
	}

	zap.L().Info("pipeline: validation cancelled",
		zap.String("validation_id", validationID),
		zap.Int("score", report.Analysis.OverallScore),
	)
	return report, nil
}
