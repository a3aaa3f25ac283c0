package webhook

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/go-github/v57/github"

	"github.com/mattjoyce/pushdeploy/internal/config"
	"github.com/mattjoyce/pushdeploy/internal/deploy"
	"github.com/mattjoyce/pushdeploy/internal/events"
)

// Server is the webhook receiver and its small status API.
type Server struct {
	listen          string
	path            string
	secret          string
	signatureHeader string
	eventHeader     string
	branch          string
	maxBodySize     int64
	apiToken        string
	shutdownTimeout time.Duration

	deployer Deployer
	history  HistoryReader
	hub      EventHub
	logger   *slog.Logger

	startedAt time.Time
	handler   http.Handler
}

// Option attaches optional collaborators.
type Option func(*Server)

// WithHistory serves /deployments from h when an API token is configured.
func WithHistory(h HistoryReader) Option { return func(s *Server) { s.history = h } }

// WithEventHub publishes webhook decisions to hub and serves /events.
func WithEventHub(hub EventHub) Option { return func(s *Server) { s.hub = hub } }

func New(cfg *config.Config, deployer Deployer, logger *slog.Logger, opts ...Option) *Server {
	s := &Server{
		listen:          cfg.Listen,
		path:            cfg.Webhook.Path,
		secret:          cfg.Webhook.Secret,
		signatureHeader: cfg.Webhook.SignatureHeader,
		eventHeader:     cfg.Webhook.EventHeader,
		branch:          cfg.Webhook.Branch,
		maxBodySize:     cfg.MaxBodyBytes(),
		apiToken:        cfg.API.Token,
		shutdownTimeout: cfg.Service.ShutdownTimeout,
		deployer:        deployer,
		logger:          logger,
		startedAt:       time.Now(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.maxBodySize <= 0 {
		s.maxBodySize = config.DefaultMaxBodySize
	}
	s.handler = s.setupRoutes()
	return s
}

// Handler returns the routed handler, for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Start listens on the configured address and serves until ctx is cancelled.
func (s *Server) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.listen)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", s.listen, err)
	}
	return s.Serve(ctx, ln)
}

// Serve serves on ln until ctx is cancelled, then shuts down gracefully and
// lets in-flight deployments finish within the shutdown timeout.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.handler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       30 * time.Second,
		// No WriteTimeout: the webhook response waits for the deployment.
		IdleTimeout: 60 * time.Second,
	}

	s.logger.Info("Server listening", "addr", ln.Addr().String(), "path", s.path, "branch", s.branch)

	errCh := make(chan error, 1)
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		s.logger.Info("Server shutting down", "timeout", s.shutdownTimeout)
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("webhook server shutdown failed: %w", err)
		}
		s.logger.Info("Server stopped")
		return nil
	case err := <-errCh:
		if err == nil {
			return nil
		}
		return fmt.Errorf("webhook server error: %w", err)
	}
}

func (s *Server) setupRoutes() *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.loggingMiddleware)
	r.Use(middleware.Recoverer)

	r.NotFound(s.handleNotFound)
	r.MethodNotAllowed(s.handleNotFound)

	r.Get("/health", s.handleHealth)
	r.Post(s.path, s.handleWebhook)

	if s.apiToken != "" {
		r.Group(func(r chi.Router) {
			r.Use(s.authMiddleware)
			if s.history != nil {
				r.Get("/deployments", s.handleListDeployments)
				r.Get("/deployments/{id}", s.handleGetDeployment)
			}
			if s.hub != nil {
				r.Get("/events", s.handleEvents)
			}
		})
	}

	return r
}

// loggingMiddleware logs HTTP requests (never bodies).
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		level := slog.LevelDebug
		if r.URL.Path == s.path {
			level = slog.LevelInfo
		}
		s.logger.Log(r.Context(), level, "http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration_ms", time.Since(start).Milliseconds(),
			"request_id", middleware.GetReqID(r.Context()),
			"remote_addr", r.RemoteAddr,
		)
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, HealthResponse{
		Status: "ok",
		Uptime: time.Since(s.startedAt).Seconds(),
	})
}

func (s *Server) handleNotFound(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusNotFound, ErrorResponse{Error: "not found"})
}

func (s *Server) handleWebhook(w http.ResponseWriter, r *http.Request) {
	deliveryID := github.DeliveryID(r)
	event := r.Header.Get(s.eventHeader)
	logger := s.logger.With("delivery_id", deliveryID, "event", event)

	body, err := io.ReadAll(io.LimitReader(r.Body, s.maxBodySize+1))
	if err != nil {
		logger.Error("failed to read webhook body", "error", err)
		respondJSON(w, http.StatusBadRequest, Response{Status: StatusError, Message: "failed to read request body"})
		return
	}
	if int64(len(body)) > s.maxBodySize {
		logger.Warn("Payload too large", "limit", s.maxBodySize, "remote_addr", r.RemoteAddr)
		respondJSON(w, http.StatusRequestEntityTooLarge, Response{Status: StatusError, Message: "payload too large"})
		return
	}

	if err := VerifySignature(body, r.Header.Get(s.signatureHeader), s.secret); err != nil {
		logger.Warn("Invalid signature", "path", r.URL.Path, "remote_addr", r.RemoteAddr, "error", err)
		s.publish(events.WebhookRejected, map[string]any{
			"delivery_id": deliveryID,
			"event":       event,
			"remote_addr": r.RemoteAddr,
		})
		respondJSON(w, http.StatusUnauthorized, Response{Status: StatusError, Message: "invalid signature"})
		return
	}

	logger.Info("Event received")

	decision, err := Route(event, body, s.branch)
	if err != nil {
		logger.Warn("Rejected payload", "error", err)
		respondJSON(w, http.StatusBadRequest, Response{Status: StatusError, Message: "invalid JSON payload"})
		return
	}

	if decision.Action == ActionIgnore {
		logger.Info("Event ignored", "ref", decision.Ref, "reason", decision.Reason)
		s.publish(events.WebhookIgnored, map[string]any{
			"delivery_id": deliveryID,
			"event":       event,
			"ref":         decision.Ref,
			"reason":      decision.Reason,
		})
		respondJSON(w, http.StatusOK, Response{Status: StatusIgnored, Message: decision.Reason})
		return
	}

	push := decision.Push
	logger.Info("Push to deploy branch, starting deployment",
		"ref", push.Ref,
		"commit", push.HeadCommit.ID,
		"message", push.HeadCommit.Message,
		"pusher", push.Pusher.Name,
	)

	report, err := s.deployer.Deploy(r.Context(), deploy.Trigger{
		DeliveryID:    deliveryID,
		Ref:           push.Ref,
		CommitID:      push.HeadCommit.ID,
		CommitMessage: push.HeadCommit.Message,
		Pusher:        push.Pusher.Name,
	})
	switch {
	case errors.Is(err, deploy.ErrBusy):
		respondJSON(w, http.StatusConflict, Response{Status: StatusError, Message: "a deployment is already running"})
	case err != nil:
		logger.Error("deployment could not run", "error", err)
		respondJSON(w, http.StatusInternalServerError, Response{Status: StatusError, Message: "deployment failed"})
	case !report.Succeeded():
		respondJSON(w, http.StatusInternalServerError, Response{
			Status:       StatusError,
			Message:      "Deployment failed: " + report.Result.Reason(),
			DeploymentID: report.DeploymentID,
		})
	default:
		respondJSON(w, http.StatusOK, Response{
			Status:       StatusSuccess,
			Message:      "Deployment successful",
			DeploymentID: report.DeploymentID,
		})
	}
}

func (s *Server) publish(eventType string, data any) {
	if s.hub != nil {
		s.hub.Publish(eventType, data)
	}
}

func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func (s *Server) writeError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, ErrorResponse{Error: message})
}
