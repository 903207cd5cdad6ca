package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/safeplate/scout-cli/internal/extract"
	"github.com/safeplate/scout-cli/internal/model"
	"github.com/safeplate/scout-cli/internal/scout"
	"github.com/safeplate/scout-cli/internal/store"
)

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the restaurant scout HTTP API",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := cfg.Validate("serve"); err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		s, st, err := initScout(ctx)
		if err != nil {
			return err
		}
		defer closeStore(st)

		api := &apiServer{scout: s, store: st}

		port := servePort
		if port == 0 {
			port = cfg.Server.Port
		}

		srv := &http.Server{
			Addr:    fmt.Sprintf(":%d", port),
			Handler: api.routes(),
		}

		// Graceful shutdown
		go func() {
			<-ctx.Done()
			zap.L().Info("shutting down server")
			srv.Shutdown(ctx)
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

type apiServer struct {
	scout *scout.Scout
	store store.Store
}

func (a *apiServer) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		MaxAge:         300,
	}))

	r.Get("/health", a.handleHealth)
	r.Route("/api", func(r chi.Router) {
		r.Post("/restaurant-scout", a.handleScout)
		r.Get("/restaurants/{id}", a.handleGetRestaurant)
		r.Get("/scores", a.handleScores)
		r.Post("/saved", a.handleSave)
		r.Delete("/saved/{id}", a.handleUnsave)
		r.Get("/saved", a.handleListSaved)
		r.Post("/requests", a.handleEnqueueRequest)
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusNotFound, "not found")
	})

	return r
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		zap.L().Warn("write response", zap.Error(err))
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func (a *apiServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	if a.store != nil {
		if err := a.store.Ping(r.Context()); err != nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "degraded", "error": "database unreachable"})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (a *apiServer) handleScout(w http.ResponseWriter, r *http.Request) {
	var req struct {
		RestaurantName string `json:"restaurant_name"`
		Location       string `json:"location"`
		MenuURL        string `json:"menu_url"`
		UserEmail      string `json:"user_email"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if strings.TrimSpace(req.RestaurantName) == "" {
		writeError(w, http.StatusBadRequest, "restaurant_name is required")
		return
	}

	ctx := r.Context()

	if req.UserEmail != "" && a.store != nil {
		if _, err := a.store.IncrementSearchCount(ctx, req.UserEmail); err != nil {
			zap.L().Warn("increment search count", zap.String("email", req.UserEmail), zap.Error(err))
		}
	}

	result, err := a.scout.Lookup(ctx, scout.LookupRequest{
		Name:     req.RestaurantName,
		Location: req.Location,
		MenuURL:  req.MenuURL,
	})
	if err != nil {
		var malformed *extract.MalformedResponseError
		var analysis *scout.AnalysisError
		switch {
		case errors.As(err, &malformed):
			zap.L().Error("model response could not be parsed", zap.String("preview", malformed.Preview))
			writeError(w, http.StatusBadGateway, "analysis produced an unreadable result, please try again")
		case errors.As(err, &analysis):
			zap.L().Error("analysis failed", zap.String("name", req.RestaurantName), zap.Error(err))
			writeError(w, http.StatusBadGateway, "analysis failed, please try again")
		default:
			zap.L().Error("lookup failed", zap.String("name", req.RestaurantName), zap.Error(err))
			writeError(w, http.StatusInternalServerError, "internal error")
		}
		return
	}

	writeJSON(w, http.StatusOK, result)
}

func (a *apiServer) handleGetRestaurant(w http.ResponseWriter, r *http.Request) {
	if a.store == nil {
		writeError(w, http.StatusServiceUnavailable, "no database configured")
		return
	}
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid restaurant id")
		return
	}

	restaurant, err := a.store.GetRestaurant(r.Context(), id)
	if err != nil {
		if eris.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "restaurant not found")
			return
		}
		zap.L().Error("get restaurant", zap.Int64("id", id), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, restaurant)
}

func (a *apiServer) handleScores(w http.ResponseWriter, r *http.Request) {
	if a.store == nil {
		writeError(w, http.StatusServiceUnavailable, "no database configured")
		return
	}
	names := strings.Split(r.URL.Query().Get("names"), ",")
	var trimmed []string
	for _, n := range names {
		if n = strings.TrimSpace(n); n != "" {
			trimmed = append(trimmed, n)
		}
	}
	if len(trimmed) == 0 {
		writeError(w, http.StatusBadRequest, "names query parameter is required")
		return
	}

	scores, err := a.store.BulkScores(r.Context(), trimmed, r.URL.Query().Get("location"))
	if err != nil {
		zap.L().Error("bulk scores", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"scores": scores})
}

func (a *apiServer) handleSave(w http.ResponseWriter, r *http.Request) {
	if a.store == nil {
		writeError(w, http.StatusServiceUnavailable, "no database configured")
		return
	}
	var req struct {
		UserEmail    string `json:"user_email"`
		RestaurantID int64  `json:"restaurant_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.UserEmail == "" || req.RestaurantID == 0 {
		writeError(w, http.StatusBadRequest, "user_email and restaurant_id are required")
		return
	}

	ctx := r.Context()
	exists, err := a.store.RestaurantExists(ctx, req.RestaurantID)
	if err != nil {
		zap.L().Error("restaurant exists", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if !exists {
		writeError(w, http.StatusNotFound, "restaurant not found")
		return
	}

	userID, err := a.store.EnsureUser(ctx, req.UserEmail)
	if err != nil {
		zap.L().Error("ensure user", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	already, err := a.store.SaveRestaurant(ctx, userID, req.RestaurantID)
	if err != nil {
		zap.L().Error("save restaurant", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"saved": true, "already_saved": already})
}

func (a *apiServer) handleUnsave(w http.ResponseWriter, r *http.Request) {
	if a.store == nil {
		writeError(w, http.StatusServiceUnavailable, "no database configured")
		return
	}
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid restaurant id")
		return
	}
	email := r.URL.Query().Get("user_email")
	if email == "" {
		writeError(w, http.StatusBadRequest, "user_email query parameter is required")
		return
	}

	ctx := r.Context()
	userID, err := a.store.EnsureUser(ctx, email)
	if err != nil {
		zap.L().Error("ensure user", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if err := a.store.UnsaveRestaurant(ctx, userID, id); err != nil {
		zap.L().Error("unsave restaurant", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *apiServer) handleListSaved(w http.ResponseWriter, r *http.Request) {
	if a.store == nil {
		writeError(w, http.StatusServiceUnavailable, "no database configured")
		return
	}
	email := r.URL.Query().Get("user_email")
	if email == "" {
		writeError(w, http.StatusBadRequest, "user_email query parameter is required")
		return
	}

	ctx := r.Context()
	userID, err := a.store.EnsureUser(ctx, email)
	if err != nil {
		zap.L().Error("ensure user", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	saved, err := a.store.ListSaved(ctx, userID)
	if err != nil {
		zap.L().Error("list saved", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if saved == nil {
		saved = []model.SavedRestaurant{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"saved": saved})
}

func (a *apiServer) handleEnqueueRequest(w http.ResponseWriter, r *http.Request) {
	if a.store == nil {
		writeError(w, http.StatusServiceUnavailable, "no database configured")
		return
	}
	var req struct {
		RestaurantName string `json:"restaurant_name"`
		Location       string `json:"location"`
		UserEmail      string `json:"user_email"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if strings.TrimSpace(req.RestaurantName) == "" {
		writeError(w, http.StatusBadRequest, "restaurant_name is required")
		return
	}

	ip, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		ip = r.RemoteAddr
	}

	if err := a.store.EnqueueRequest(r.Context(), req.RestaurantName, req.Location, req.UserEmail, ip); err != nil {
		zap.L().Error("enqueue request", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "queued"})
}
