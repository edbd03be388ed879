package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/school-intel/internal/compare"
	"github.com/sells-group/school-intel/internal/export"
	"github.com/sells-group/school-intel/internal/model"
	"github.com/sells-group/school-intel/internal/pipeline"
)

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API used by the comparison UI",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		env, err := initEnv(ctx, "serve")
		if err != nil {
			return err
		}
		defer env.Close()

		port := servePort
		if port == 0 {
			port = cfg.Server.Port
		}

		srv := &http.Server{
			Addr:              fmt.Sprintf(":%d", port),
			Handler:           buildRouter(env.Service),
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
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return eris.Wrap(err, "server listen")
		}
		return nil
	},
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "server port (default from config)")
	rootCmd.AddCommand(serveCmd)
}

type api struct {
	svc *pipeline.Service
}

// buildRouter mounts the API routes over svc.
func buildRouter(svc *pipeline.Service) http.Handler {
	a := &api{svc: svc}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		MaxAge:         300,
	}))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Route("/api", func(r chi.Router) {
		r.Get("/schools", a.listSchools)
		r.Get("/schools/{id}", a.getSchool)
		r.Post("/extractions", a.runExtraction)
		r.Post("/compare", a.compare)
		r.Post("/summaries/school/{id}", a.summarizeSchool)
		r.Post("/summaries/market", a.summarizeMarket)
		r.Get("/export/json", a.exportJSON)
		r.Post("/export/xlsx", a.exportXLSX)
	})
	return r
}

type selectionRequest struct {
	SchoolIDs []string `json:"school_ids"`
	Fields    []string `json:"fields,omitempty"`
	Sheets    string   `json:"sheets,omitempty"`
}

type schoolResponse struct {
	School model.School            `json:"school"`
	Latest *model.ExtractionResult `json:"latest,omitempty"`
	Note   string                  `json:"note,omitempty"`
}

func (a *api) listSchools(w http.ResponseWriter, r *http.Request) {
	schools, err := a.svc.ListSchools(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, schools)
}

func (a *api) getSchool(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	school, err := a.svc.Store.GetSchool(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	resp := schoolResponse{School: *school}
	res, err := a.svc.GetLatest(r.Context(), id)
	switch {
	case err == nil:
		resp.Latest = res
	case eris.Is(err, model.ErrNoSuccessfulExtraction):
		resp.Latest = res
		resp.Note = model.ErrNoSuccessfulExtraction.Error()
	case eris.Is(err, model.ErrSchoolNotFound):
		resp.Note = "not yet extracted"
	default:
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// runExtraction runs synchronously under the request context; a client
// disconnect stops schools that have not started yet.
func (a *api) runExtraction(w http.ResponseWriter, r *http.Request) {
	var req selectionRequest
	if !decode(w, r, &req) {
		return
	}
	report, err := a.svc.RunExtraction(r.Context(), req.SchoolIDs)
	writeRunReport(w, report, err)
}

// writeRunReport answers 200 with the report of a finished run. A cancelled
// run still carries its partial report, sent with 408.
func writeRunReport(w http.ResponseWriter, report *pipeline.RunReport, err error) {
	switch {
	case report == nil:
		writeError(w, err)
	case err != nil && errors.Is(err, context.Canceled):
		writeJSON(w, http.StatusRequestTimeout, report)
	case err != nil:
		writeError(w, err)
	default:
		writeJSON(w, http.StatusOK, report)
	}
}

func (a *api) compare(w http.ResponseWriter, r *http.Request) {
	var req selectionRequest
	if !decode(w, r, &req) || !a.checkFields(w, req.Fields) {
		return
	}
	m, err := a.svc.CompareSchools(r.Context(), req.SchoolIDs, req.Fields)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, m)
}

func (a *api) summarizeSchool(w http.ResponseWriter, r *http.Request) {
	report, err := a.svc.SummarizeSchool(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (a *api) summarizeMarket(w http.ResponseWriter, r *http.Request) {
	var req selectionRequest
	if !decode(w, r, &req) {
		return
	}
	report, err := a.svc.SummarizeMarket(r.Context(), req.SchoolIDs)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (a *api) exportJSON(w http.ResponseWriter, r *http.Request) {
	var ids []string
	for _, part := range strings.Split(r.URL.Query().Get("ids"), ",") {
		if p := strings.TrimSpace(part); p != "" {
			ids = append(ids, p)
		}
	}
	combined := r.URL.Query().Get("combined") == "1" || r.URL.Query().Get("combined") == "true"

	docs, err := a.svc.ExportJSON(r.Context(), ids, combined)
	if err != nil {
		writeError(w, err)
		return
	}
	if combined {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(docs[export.CombinedKey])
		return
	}
	out := make(map[string]json.RawMessage, len(docs))
	for id, doc := range docs {
		out[id] = doc
	}
	writeJSON(w, http.StatusOK, out)
}

func (a *api) exportXLSX(w http.ResponseWriter, r *http.Request) {
	var req selectionRequest
	if !decode(w, r, &req) || !a.checkFields(w, req.Fields) {
		return
	}
	svc := *a.svc
	if req.Sheets != "" {
		mode, err := export.ParseSheetMode(req.Sheets)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
			return
		}
		svc.SheetMode = mode
	}

	var buf bytes.Buffer
	if err := svc.ExportSpreadsheet(r.Context(), &buf, req.SchoolIDs, req.Fields); err != nil {
		writeError(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	w.Header().Set("Content-Disposition", `attachment; filename="comparison.xlsx"`)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(buf.Bytes())
}

// checkFields rejects an empty or unparseable selector list with 400.
func (a *api) checkFields(w http.ResponseWriter, fields []string) bool {
	if len(fields) == 0 {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "fields is required"})
		return false
	}
	if _, err := compare.ExpandSelectors(a.svc.Compare.Schema(), fields); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return false
	}
	return true
}

func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil && !errors.Is(err, io.EOF) {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		zap.L().Warn("api: encode response", zap.Error(err))
	}
}

func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case eris.Is(err, model.ErrSchoolNotFound):
		status = http.StatusNotFound
	case eris.Is(err, pipeline.ErrUnavailable):
		status = http.StatusServiceUnavailable
	case errors.Is(err, context.Canceled):
		status = http.StatusRequestTimeout
	}
	if status == http.StatusInternalServerError {
		zap.L().Error("api: request failed", zap.Error(err))
	}
	writeJSON(w, status, map[string]string{"error": err.Error()})
}
