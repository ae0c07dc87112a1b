package http

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/adwski/blinddate/backend/calls"
	"github.com/adwski/blinddate/backend/match"
	"github.com/adwski/blinddate/backend/model"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"
	"github.com/rs/zerolog"
)

const (
	defaultShutdownDeadline = 10 * time.Second
	defaultHealthTimeout    = 3 * time.Second
	defaultMaxBodySize      = 1 << 16

	statusConnected = "connected"
	statusError     = "error"
)

var (
	ErrUnexpected = errors.New("unexpected server error")
	ErrBadRequest = errors.New("malformed request body")
)

type (
	MatchService interface {
		RecordInterest(ctx context.Context, likerID, targetID, room string) (match.Result, error)
		GetMatch(ctx context.Context, a, b string) (model.Match, error)
	}

	CallService interface {
		Request(ctx context.Context, req calls.Request) (model.Call, model.MediaCredentials, error)
		Answer(ctx context.Context, callID, userID string) (model.Call, error)
		Reject(ctx context.Context, callID, userID string) (model.Call, error)
	}

	Pinger interface {
		Ping(ctx context.Context) error
	}
)

type (
	AcceptMatchRequest struct {
		MyID     string `json:"myId"`
		TargetID string `json:"targetId"`
		Room     string `json:"room,omitempty"`
	}

	AcceptMatchResponse struct {
		Success  bool `json:"success"`
		IsMutual bool `json:"isMutual"`
	}

	MatchResponse struct {
		Success bool        `json:"success"`
		Match   model.Match `json:"match"`
	}

	CallRequest struct {
		CallerID string         `json:"callerId"`
		CalleeID string         `json:"calleeId"`
		Kind     model.CallKind `json:"kind"`
	}

	CallResponse struct {
		Success     bool                    `json:"success"`
		Call        model.Call              `json:"call"`
		Credentials *model.MediaCredentials `json:"credentials,omitempty"`
	}

	ResolveCallRequest struct {
		UserID string `json:"userId"`
	}

	HealthResponse struct {
		Status string `json:"status"`
		Store  string `json:"store"`
		Media  string `json:"media"`
	}

	GenericResponse struct {
		Success bool   `json:"success"`
		Message string `json:"message,omitempty"`
		Error   string `json:"error,omitempty"`
	}
)

type Server struct {
	logger   zerolog.Logger
	matches  MatchService
	calls    CallService
	store    Pinger
	media    Pinger
	shutdown time.Duration
	*http.Server
}

type Config struct {
	Logger          *zerolog.Logger
	Matches         MatchService
	Calls           CallService
	Store           Pinger
	Media           Pinger
	ListenAddr      string
	CORSOrigins     []string
	ShutdownTimeout time.Duration
}

func NewServer(cfg Config) *Server {
	srv := &Server{
		logger:   cfg.Logger.With().Str("component", "api-server").Logger(),
		matches:  cfg.Matches,
		calls:    cfg.Calls,
		store:    cfg.Store,
		media:    cfg.Media,
		shutdown: cfg.ShutdownTimeout,
	}
	if srv.shutdown == 0 {
		srv.shutdown = defaultShutdownDeadline
	}

	origins := cfg.CORSOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	handler := cors.New(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders:   []string{"Origin", "Content-Type", "Accept"},
		AllowCredentials: true,
		MaxAge:           86400,
	}).Handler(srv.Router())

	srv.Server = &http.Server{
		Addr:    cfg.ListenAddr,
		Handler: handler,
	}
	return srv
}

// Router returns the API routes without CORS handling.
func (srv *Server) Router() *mux.Router {
	r := mux.NewRouter()
	api := r.PathPrefix("/api").Subrouter()
	api.HandleFunc("/accept-match", srv.acceptMatch).Methods(http.MethodPost)
	api.HandleFunc("/matches/{userA}/{userB}", srv.getMatch).Methods(http.MethodGet)
	api.HandleFunc("/calls", srv.requestCall).Methods(http.MethodPost)
	api.HandleFunc("/calls/{callID}/answer", srv.answerCall).Methods(http.MethodPost)
	api.HandleFunc("/calls/{callID}/reject", srv.rejectCall).Methods(http.MethodPost)
	api.HandleFunc("/health", srv.health).Methods(http.MethodGet)
	r.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)
	return r
}

func (srv *Server) acceptMatch(w http.ResponseWriter, r *http.Request) {
	var req AcceptMatchRequest
	if err := readJSON(r, &req); err != nil {
		srv.writeError(w, err)
		return
	}
	srv.logger.Trace().Any("request", req).Msg("got accept-match request")

	res, err := srv.matches.RecordInterest(r.Context(), req.MyID, req.TargetID, req.Room)
	if err != nil {
		srv.writeError(w, err)
		return
	}
	srv.writeJSON(w, http.StatusOK, &AcceptMatchResponse{Success: true, IsMutual: res.IsMutual})
}

func (srv *Server) getMatch(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	m, err := srv.matches.GetMatch(r.Context(), vars["userA"], vars["userB"])
	if err != nil {
		srv.writeError(w, err)
		return
	}
	srv.writeJSON(w, http.StatusOK, &MatchResponse{Success: true, Match: m})
}

func (srv *Server) requestCall(w http.ResponseWriter, r *http.Request) {
	var req CallRequest
	if err := readJSON(r, &req); err != nil {
		srv.writeError(w, err)
		return
	}
	call, creds, err := srv.calls.Request(r.Context(), calls.Request{
		CallerID: req.CallerID,
		CalleeID: req.CalleeID,
		Kind:     req.Kind,
	})
	if err != nil {
		srv.writeError(w, err)
		return
	}
	srv.writeJSON(w, http.StatusCreated, &CallResponse{Success: true, Call: call, Credentials: &creds})
}

func (srv *Server) answerCall(w http.ResponseWriter, r *http.Request) {
	srv.resolveCall(w, r, srv.calls.Answer)
}

func (srv *Server) rejectCall(w http.ResponseWriter, r *http.Request) {
	srv.resolveCall(w, r, srv.calls.Reject)
}

func (srv *Server) resolveCall(
	w http.ResponseWriter,
	r *http.Request,
	resolve func(ctx context.Context, callID, userID string) (model.Call, error),
) {
	var req ResolveCallRequest
	if err := readJSON(r, &req); err != nil {
		srv.writeError(w, err)
		return
	}
	call, err := resolve(r.Context(), mux.Vars(r)["callID"], req.UserID)
	if err != nil {
		srv.writeError(w, err)
		return
	}
	srv.writeJSON(w, http.StatusOK, &CallResponse{Success: true, Call: call})
}

func (srv *Server) health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), defaultHealthTimeout)
	defer cancel()

	resp := HealthResponse{
		Status: "ok",
		Store:  srv.probe(ctx, "store", srv.store),
		Media:  srv.probe(ctx, "media", srv.media),
	}
	code := http.StatusOK
	if resp.Store != statusConnected || resp.Media != statusConnected {
		resp.Status = "degraded"
		code = http.StatusServiceUnavailable
	}
	srv.writeJSON(w, code, &resp)
}

func (srv *Server) probe(ctx context.Context, name string, p Pinger) string {
	if p == nil {
		return statusError
	}
	if err := p.Ping(ctx); err != nil {
		srv.logger.Warn().Err(err).Str("dependency", name).Msg("health check failed")
		return statusError
	}
	return statusConnected
}

func readJSON(r *http.Request, v any) error {
	body, err := io.ReadAll(io.LimitReader(r.Body, defaultMaxBodySize))
	defer func() {
		_ = r.Body.Close()
	}()
	if err != nil {
		return errors.Join(ErrBadRequest, err)
	}
	if err = json.Unmarshal(body, v); err != nil {
		return errors.Join(ErrBadRequest, err)
	}
	return nil
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, ErrBadRequest),
		errors.Is(err, match.ErrInvalidPair),
		errors.Is(err, calls.ErrInvalidRequest):
		return http.StatusBadRequest
	case errors.Is(err, match.ErrNotFound),
		errors.Is(err, calls.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, calls.ErrCallResolved),
		errors.Is(err, calls.ErrNotCallee):
		return http.StatusConflict
	case errors.Is(err, match.ErrStoreUnavailable),
		errors.Is(err, calls.ErrStoreUnavailable):
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

func (srv *Server) writeError(w http.ResponseWriter, err error) {
	code := statusFor(err)
	if code >= http.StatusInternalServerError {
		srv.logger.Error().Err(err).Int("code", code).Msg("request failed")
	}
	srv.writeJSON(w, code, &GenericResponse{Error: err.Error()})
}

func (srv *Server) writeJSON(w http.ResponseWriter, code int, v any) {
	b, err := json.Marshal(v)
	if err != nil {
		srv.logger.Error().Err(err).Msg("failed to marshal response")
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	writeBytes(w, code, b, &srv.logger)
}

func writeBytes(w http.ResponseWriter, code int, b []byte, logger *zerolog.Logger) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Content-Length", strconv.Itoa(len(b)))
	w.WriteHeader(code)
	if _, err := w.Write(b); err != nil {
		logger.Error().Err(err).Msg("failed to write response")
	}
}

func (srv *Server) Run(ctx context.Context, wg *sync.WaitGroup, errc chan<- error) {
	defer func() {
		srv.logger.Debug().Msg("server stopped")
		wg.Done()
	}()

	hErr := make(chan error)
	go func() {
		hErr <- srv.ListenAndServe()
	}()

	srv.logger.Info().Str("addr", srv.Addr).Msg("server started")

	select {
	case err := <-hErr:
		if !errors.Is(err, http.ErrServerClosed) {
			errc <- errors.Join(ErrUnexpected, err)
		}
	case <-ctx.Done():
		shCtx, shCancel := context.WithTimeout(context.Background(), srv.shutdown)
		defer shCancel()
		if err := srv.Shutdown(shCtx); err != nil {
			srv.logger.Error().Err(err).Msg("server shutdown failed")
		}
	}
}
