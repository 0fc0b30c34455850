package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/sitescope/internal/model"
	"github.com/sells-group/sitescope/internal/monitoring"
	"github.com/sells-group/sitescope/internal/store"
)

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the webhook server for screening requests",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		if err := cfg.Validate("serve"); err != nil {
			return err
		}

		env, err := initScreen(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		router := newRouter(env.Store, func(ctx context.Context, site model.Site) (*model.OpportunityRecord, error) {
			return env.Driver.Run(ctx, site)
		})

		// Background run-health alerting, when a webhook is configured.
		if cfg.Monitoring.WebhookURL != "" {
			checker := monitoring.NewChecker(
				monitoring.NewCollector(env.Store),
				monitoring.NewAlerter(cfg.Monitoring),
				cfg.Monitoring,
			)
			go checker.Run(ctx)
		}

		port := servePort
		if port == 0 {
			port = cfg.Server.Port
		}

		srv := &http.Server{
			Addr:              fmt.Sprintf(":%d", port),
			Handler:           router,
			ReadHeaderTimeout: 10 * time.Second,
		}

		// Graceful shutdown
		go func() {
			<-ctx.Done()
			zap.L().Info("shutting down server")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			srv.Shutdown(shutdownCtx) //nolint:errcheck
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

// newRouter builds the HTTP surface: a screening webhook plus read-only
// run inspection. Screening runs asynchronously; the webhook replies
// 202 with the run id once the run record exists.
func newRouter(st store.Store, screen screenFunc) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type"},
	}))

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Post("/webhook/screen", func(w http.ResponseWriter, req *http.Request) {
		var site model.Site
		if err := json.NewDecoder(req.Body).Decode(&site); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
			return
		}
		if site.Zip == "" {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "zip is required"})
			return
		}

		// Screen asynchronously; the webhook caller polls /runs for
		// the verdict. Detached from the request context so a closed
		// connection never aborts a paid run.
		go func() {
			rec, err := screen(context.Background(), site)
			if err != nil {
				zap.L().Error("webhook screening failed",
					zap.String("zip", site.Zip),
					zap.Error(err),
				)
				return
			}
			zap.L().Info("webhook screening complete",
				zap.String("run_id", rec.RunID),
				zap.String("zip", site.Zip),
				zap.String("decision", string(rec.Decision)),
			)
		}()

		writeJSON(w, http.StatusAccepted, map[string]string{
			"status": "accepted",
			"zip":    site.Zip,
		})
	})

	r.Get("/runs", func(w http.ResponseWriter, req *http.Request) {
		limit := 50
		if v := req.URL.Query().Get("limit"); v != "" {
			if n, err := strconv.Atoi(v); err == nil && n > 0 {
				limit = n
			}
		}
		filter := model.RunFilter{
			Status: model.RunStatus(req.URL.Query().Get("status")),
			Zip:    req.URL.Query().Get("zip"),
			Limit:  limit,
		}

		runs, err := st.ListRuns(req.Context(), filter)
		if err != nil {
			zap.L().Error("list runs failed", zap.Error(err))
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "list runs failed"})
			return
		}
		writeJSON(w, http.StatusOK, runs)
	})

	r.Get("/runs/{runID}", func(w http.ResponseWriter, req *http.Request) {
		rec, err := st.GetRun(req.Context(), chi.URLParam(req, "runID"))
		if err != nil {
			var nf *model.NotFoundError
			if errors.As(err, &nf) {
				writeJSON(w, http.StatusNotFound, map[string]string{"error": err.Error()})
				return
			}
			zap.L().Error("get run failed", zap.Error(err))
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "get run failed"})
			return
		}
		writeJSON(w, http.StatusOK, rec)
	})

	return r
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body) //nolint:errcheck
}
