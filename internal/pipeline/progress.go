package pipeline

import (
	"go.uber.org/zap"

	"github.com/seedcheck/validator-cli/internal/model"
)

// Stage names, in execution order.
const (
	StageInit             = "init"
	StageKeywordExpand    = "keyword-expand"
	StageCacheCheck       = "cache-check"
	StageSourceRouting    = "source-routing"
	StageCompetitorSearch = "competitor-search"
	StageContentClean     = "content-clean"
	StageCompetitorExtr   = "competitor-extract"
	StageDeepSearch       = "deep-search"
	StageContextBudget    = "context-budget"
	StageSummarizeL1      = "summarize-l1"
	StageSummarizeL2      = "summarize-l2"
	StageAnalyze          = "analyze"
	StagePersist          = "persist"
	StageQuotaConsume     = "quota-consume"
	StageComplete         = "complete"
)

var stagePercent = map[string]int{
	StageInit:             2,
	StageKeywordExpand:    8,
	StageCacheCheck:       12,
	StageSourceRouting:    22,
	StageCompetitorSearch: 32,
	StageContentClean:     40,
	StageCompetitorExtr:   46,
	StageDeepSearch:       54,
	StageContextBudget:    58,
	StageSummarizeL1:      68,
	StageSummarizeL2:      76,
	StageAnalyze:          88,
	StagePersist:          94,
	StageQuotaConsume:     97,
	StageComplete:         100,
}

// emitter pushes progress events onto the run's channel. Sends never block
// the pipeline: a consumer that stops reading drops events rather than
// wedging the run.
type emitter struct {
	validationID string
	ch           chan<- model.ProgressEvent
	log          *zap.Logger
}

func newEmitter(validationID string, ch chan<- model.ProgressEvent) *emitter {
	return &emitter{
		validationID: validationID,
		ch:           ch,
		log:          zap.L().With(zap.String("validation_id", validationID)),
	}
}

// Stage emits a non-terminal stage-entry event.
func (e *emitter) Stage(stage, message string) {
	e.send(model.ProgressEvent{
		ValidationID: e.validationID,
		Stage:        stage,
		Percent:      stagePercent[stage],
		Message:      message,
	})
	e.log.Info("pipeline: stage", zap.String("stage", stage), zap.String("message", message))
}

// Terminal emits the single closing event of the stream.
func (e *emitter) Terminal(stage string, err error) {
	ev := model.ProgressEvent{
		ValidationID: e.validationID,
		Stage:        stage,
		Percent:      stagePercent[stage],
		Terminal:     true,
	}
	if err != nil {
		ev.Err = err.Error()
		ev.ErrKind = string(model.KindOf(err))
		e.log.Error("pipeline: run failed", zap.String("stage", stage), zap.Error(err))
	} else {
		ev.Message = "validation complete"
		e.log.Info("pipeline: run complete")
	}
	// The terminal event is part of the stream contract and is never
	// dropped. Callers drain the channel until it closes.
	e.ch <- ev
}

func (e *emitter) send(ev model.ProgressEvent) {
	select {
	case e.ch <- ev:
	default:
		e.log.Debug("pipeline: progress consumer behind, dropping event", zap.String("stage", ev.Stage))
	}
}
