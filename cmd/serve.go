package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/order-intake/internal/config"
	"github.com/sells-group/order-intake/internal/export"
	"github.com/sells-group/order-intake/internal/model"
	"github.com/sells-group/order-intake/internal/monitoring"
	"github.com/sells-group/order-intake/internal/store"
)

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the document intake HTTP API",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		env, err := initEnv(ctx, catalogPath)
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
			Handler:           newRouter(env, cfg.Server),
			ReadHeaderTimeout: 10 * time.Second,
		}

		if cfg.Monitoring.WebhookURL != "" {
			checker := monitoring.NewChecker(
				monitoring.NewCollector(env.Store, env.Pipeline.Resolver()),
				monitoring.NewAlerter(cfg.Monitoring),
				cfg.Monitoring,
			)
			go checker.Run(ctx)
		}

		// Graceful shutdown
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

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "server port (default from config)")
	rootCmd.AddCommand(serveCmd)
}

// api serves the intake endpoints over an appEnv.
type api struct {
	env       *appEnv
	maxUpload int64
}

// newRouter builds the chi router for the intake API.
// echoRequestID copies the request id into the response headers.
func echoRequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if id := middleware.GetReqID(r.Context()); id != "" {
			w.Header().Set(middleware.RequestIDHeader, id)
		}
		next.ServeHTTP(w, r)
	})
}

func newRouter(env *appEnv, sc config.ServerConfig) http.Handler {
	a := &api{env: env, maxUpload: int64(sc.MaxUploadMB) << 20}
	if a.maxUpload <= 0 {
		a.maxUpload = 32 << 20
	}
	origins := sc.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(echoRequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Content-Type", "X-Request-Id"},
		ExposedHeaders: []string{"X-Request-Id"},
		MaxAge:         300,
	}))

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Handle("/metrics", promhttp.HandlerFor(env.Registry, promhttp.HandlerOpts{}))
	r.Get("/v1/stats", a.stats)
	r.Post("/v1/xref/reload", a.reloadXRef)

	r.Route("/v1/documents", func(r chi.Router) {
		r.Get("/", a.listDocuments)
		r.Post("/", a.createDocument)
		r.Get("/{id}", a.getDocument)
		r.Get("/{id}/xlsx", a.getDocumentXLSX)
	})
	return r
}

// requestLogger logs one line per request through zap.
func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		zap.L().Info("http request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Int("bytes", ww.BytesWritten()),
			zap.Duration("duration", time.Since(start)),
			zap.String("request_id", middleware.GetReqID(r.Context())),
		)
	})
}

// createDocument runs the pipeline on the raw request body and stores the
// result. A Failed result is returned with 422.
func (a *api) createDocument(w http.ResponseWriter, r *http.Request) {
	hint, err := parseFormatHint(r.URL.Query().Get("format"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, a.maxUpload))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "document too large")
			return
		}
		writeError(w, http.StatusBadRequest, "read body")
		return
	}
	if len(body) == 0 {
		writeError(w, http.StatusBadRequest, "empty document")
		return
	}

	source := r.URL.Query().Get("source")
	if source == "" {
		source = "api"
	}
	res, procErr := a.env.processBytes(r.Context(), source, body, hint, true)
	if procErr != nil && !res.Failed() {
		zap.L().Error("api: save document", zap.String("id", res.ID), zap.Error(procErr))
		writeError(w, http.StatusInternalServerError, "save document")
		return
	}

	status := http.StatusCreated
	if res.Failed() {
		status = http.StatusUnprocessableEntity
	}
	w.Header().Set("Location", "/v1/documents/"+res.ID)
	writeJSON(w, status, res)
}

func (a *api) getDocument(w http.ResponseWriter, r *http.Request) {
	rec, ok := a.lookup(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, rec.Result)
}

func (a *api) getDocumentXLSX(w http.ResponseWriter, r *http.Request) {
	rec, ok := a.lookup(w, r)
	if !ok {
		return
	}
	w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="%s.xlsx"`, rec.ID))
	if err := export.WriteXLSX(w, rec.Result); err != nil {
		zap.L().Error("api: write xlsx", zap.String("id", rec.ID), zap.Error(err))
	}
}

func (a *api) listDocuments(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit, _ := strconv.Atoi(q.Get("limit"))
	offset, _ := strconv.Atoi(q.Get("offset"))

	recs, err := a.env.Store.ListDocuments(r.Context(), store.DocumentFilter{
		Status: model.ProcessState(q.Get("status")),
		Issuer: model.Issuer(q.Get("issuer")),
		Limit:  limit,
		Offset: offset,
	})
	if err != nil {
		zap.L().Error("api: list documents", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "list documents")
		return
	}
	if recs == nil {
		recs = []model.DocumentRecord{}
	}
	writeJSON(w, http.StatusOK, recs)
}

// stats reports document outcomes over ?hours (default 24) and resolver
// activity since the server started.
func (a *api) stats(w http.ResponseWriter, r *http.Request) {
	hours, err := strconv.Atoi(r.URL.Query().Get("hours"))
	if err != nil || hours <= 0 {
		hours = 24
	}
	snap, err := monitoring.NewCollector(a.env.Store, a.env.Pipeline.Resolver()).Collect(r.Context(), hours)
	if err != nil {
		zap.L().Error("api: collect stats", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "collect stats")
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

// reloadXRef forgets memoized cross-reference resolutions so catalog
// imports made while the server runs take effect.
func (a *api) reloadXRef(w http.ResponseWriter, _ *http.Request) {
	n := a.env.Pipeline.Resolver().Reset()
	writeJSON(w, http.StatusOK, map[string]int{"dropped": n})
}

// lookup loads the document named in the path, writing 404 or 500 itself.
func (a *api) lookup(w http.ResponseWriter, r *http.Request) (*model.DocumentRecord, bool) {
	id := chi.URLParam(r, "id")
	rec, err := a.env.Store.GetDocument(r.Context(), id)
	switch {
	case errors.Is(err, store.ErrNotFound):
		writeError(w, http.StatusNotFound, "document not found")
		return nil, false
	case err != nil:
		zap.L().Error("api: get document", zap.String("id", id), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "get document")
		return nil, false
	case rec.Result == nil:
		writeError(w, http.StatusNotFound, "document has no stored result")
		return nil, false
	}
	return rec, true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
