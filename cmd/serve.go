package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/seedcheck/validator-cli/internal/model"
	"github.com/seedcheck/validator-cli/internal/monitoring"
	"github.com/seedcheck/validator-cli/internal/store"
)

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the validation API server",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		env, err := initPipeline(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		api := &apiServer{env: env, feeds: make(map[string]*runFeed)}

		if cfg.Monitoring.Enabled {
			checker := monitoring.NewChecker(
				monitoring.NewCollector(env.Store),
				monitoring.NewAlerter(cfg.Monitoring),
				cfg.Monitoring,
			)
			go checker.Run(ctx)
		}

		r := chi.NewRouter()
		r.Use(middleware.RequestID)
		r.Use(middleware.Recoverer)
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins: cfg.Server.AllowedOrigins,
			AllowedMethods: []string{"GET", "POST", "OPTIONS"},
			AllowedHeaders: []string{"Accept", "Content-Type", "Authorization"},
		}))

		r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
			writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
		})
		r.Route("/api/validations", func(r chi.Router) {
			r.Post("/", api.createValidation)
			r.Get("/", api.listValidations)
			r.Get("/{id}", api.getValidation)
			r.Get("/{id}/report", api.getReport)
			r.Get("/{id}/events", api.streamEvents)
			r.Post("/{id}/cancel", api.cancelValidation)
		})

		port := servePort
		if port == 0 {
			port = cfg.Server.Port
		}
		srv := &http.Server{
			Addr:              fmt.Sprintf(":%d", port),
			Handler:           r,
			ReadHeaderTimeout: 10 * time.Second,
		}

		go func() {
			<-ctx.Done()
			zap.L().Info("shutting down server")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()

		zap.L().Info("starting server", zap.Int("port", port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return eris.Wrap(err, "server listen")
		}
		return nil
	},
}

type apiServer struct {
	env *pipelineEnv

	mu    sync.Mutex
	feeds map[string]*runFeed
}

// runFeed buffers a run's progress events and replays them to late
// subscribers, then streams live until the terminal event.
type runFeed struct {
	mu     sync.Mutex
	events []model.ProgressEvent
	subs   []chan model.ProgressEvent
	closed bool
}

func (f *runFeed) publish(ev model.ProgressEvent) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, ev)
	for _, sub := range f.subs {
		select {
		case sub <- ev:
		default:
		}
	}
}

func (f *runFeed) close() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	for _, sub := range f.subs {
		close(sub)
	}
	f.subs = nil
}

// subscribe returns the replay backlog and a live channel; the channel is
// nil when the feed is already closed.
func (f *runFeed) subscribe() ([]model.ProgressEvent, chan model.ProgressEvent) {
	f.mu.Lock()
	defer f.mu.Unlock()
	backlog := make([]model.ProgressEvent, len(f.events))
	copy(backlog, f.events)
	if f.closed {
		return backlog, nil
	}
	sub := make(chan model.ProgressEvent, 64)
	f.subs = append(f.subs, sub)
	return backlog, sub
}

type createValidationRequest struct {
	UserID       string             `json:"user_id"`
	IdeaText     string             `json:"idea_text"`
	Tags         []string           `json:"tags,omitempty"`
	Mode         string             `json:"mode"`
	Runtime      *model.LLMRuntime  `json:"runtime,omitempty"`
	Fallbacks    []model.LLMRuntime `json:"fallbacks,omitempty"`
	CrawlerToken string             `json:"crawler_token,omitempty"`
	Platforms    map[string]bool    `json:"platforms,omitempty"`
	SearchKeys   map[string]string  `json:"search_keys,omitempty"`
}

func (s *apiServer) createValidation(w http.ResponseWriter, r *http.Request) {
	var req createValidationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, model.EWrap(model.KindValidationInput, "invalid request body", err))
		return
	}

	if err := s.env.RateGate.Allow(req.UserID, "validate"); err != nil {
		writeError(w, err)
		return
	}

	rc := cfg.DefaultRuntime()
	if req.Runtime != nil {
		rc.Primary = *req.Runtime
	}
	if len(req.Fallbacks) > 0 {
		rc.Fallbacks = req.Fallbacks
	}
	if req.CrawlerToken != "" {
		rc.CrawlerToken = req.CrawlerToken
	}
	for platform, on := range req.Platforms {
		rc.Platforms[platform] = on
	}
	for provider, key := range req.SearchKeys {
		rc.SearchKeys[provider] = key
	}

	vreq := model.ValidationRequest{
		UserID:   req.UserID,
		IdeaText: req.IdeaText,
		Tags:     req.Tags,
		Mode:     model.Mode(req.Mode),
		Runtime:  rc,
	}
	if err := vreq.Validate(); err != nil {
		writeError(w, err)
		return
	}

	// The run outlives the HTTP request; it stops via cancel or completion.
	runCtx, cancel := context.WithTimeout(context.Background(), 30*time.Minute)
	events := s.env.Pipeline.Run(runCtx, vreq)

	// The first event carries the validation id.
	first, ok := <-events
	if !ok {
		cancel()
		writeError(w, eris.New("pipeline produced no events"))
		return
	}
	if first.Terminal {
		cancel()
		if first.Err != "" {
			writeError(w, model.E(model.Kind(first.ErrKind), first.Err))
			return
		}
	}

	feed := &runFeed{}
	feed.publish(first)
	s.mu.Lock()
	s.feeds[first.ValidationID] = feed
	s.mu.Unlock()

	go func() {
		defer cancel()
		for ev := range events {
			feed.publish(ev)
		}
		feed.close()
	}()

	writeJSON(w, http.StatusAccepted, map[string]string{
		"validation_id": first.ValidationID,
		"status":        string(model.StatusProcessing),
	})
}

func (s *apiServer) listValidations(w http.ResponseWriter, r *http.Request) {
	filter := store.ValidationFilter{
		UserID: r.URL.Query().Get("user_id"),
		Status: model.RecordStatus(r.URL.Query().Get("status")),
		Limit:  50,
	}
	records, err := s.env.Store.ListValidations(r.Context(), filter)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"validations": records})
}

func (s *apiServer) getValidation(w http.ResponseWriter, r *http.Request) {
	rec, err := s.env.Store.GetValidation(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (s *apiServer) getReport(w http.ResponseWriter, r *http.Request) {
	report, err := s.env.Store.GetReport(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (s *apiServer) cancelValidation(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("user_id")
	report, err := s.env.Pipeline.Cancel(r.Context(), chi.URLParam(r, "id"), userID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

// streamEvents serves the run's progress as server-sent events, replaying
// the backlog first.
func (s *apiServer) streamEvents(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	s.mu.Lock()
	feed, ok := s.feeds[id]
	s.mu.Unlock()
	if !ok {
		writeError(w, model.Ef(model.KindNotFound, "no live event stream for validation %s", id))
		return
	}

	flusher, canFlush := w.(http.Flusher)
	if !canFlush {
		writeError(w, eris.New("streaming unsupported by connection"))
		return
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	backlog, live := feed.subscribe()
	for _, ev := range backlog {
		writeSSE(w, ev)
	}
	flusher.Flush()
	if live == nil {
		return
	}

	for {
		select {
		case <-r.Context().Done():
			return
		case ev, open := <-live:
			if !open {
				return
			}
			writeSSE(w, ev)
			flusher.Flush()
			if ev.Terminal {
				return
			}
		}
	}
}

func writeSSE(w http.ResponseWriter, ev model.ProgressEvent) {
	data, err := json.Marshal(ev)
	if err != nil {
		return
	}
	fmt.Fprintf(w, "event: progress\ndata: %s\n\n", data)
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

// writeError maps error kinds to HTTP statuses.
func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch model.KindOf(err) {
	case model.KindValidationInput:
		status = http.StatusBadRequest
	case model.KindRateLimited, model.KindFreeQuotaExceeded:
		status = http.StatusTooManyRequests
	case model.KindNotFound:
		status = http.StatusNotFound
	case model.KindConflict:
		status = http.StatusConflict
	case model.KindDataSourceDisabled, model.KindDataSourceUnavailable,
		model.KindSelfCrawlerEmpty, model.KindLLMUnavailable, model.KindLLMAllFailed:
		status = http.StatusUnprocessableEntity
	}
	writeJSON(w, status, map[string]string{
		"error": err.Error(),
		"kind":  string(model.KindOf(err)),
	})
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "server port (default from config)")
	rootCmd.AddCommand(serveCmd)
}
