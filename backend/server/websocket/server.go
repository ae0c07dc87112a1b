package websocket

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/adwski/blinddate/backend/model"
	"github.com/davecgh/go-spew/spew"
	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

const (
	defaultShutdownDeadline = 10 * time.Second

	defaultWebsocketReadBufferSize     = 10000
	defaultWebsocketWriteBufferSize    = 10000
	defaultWebSocketMaxMessageSize     = 9000
	defaultWebSocketHandshakeTimeout   = 3 * time.Second
	defaultWebSocketCloseWriteDeadline = 2 * time.Second
	defaultWebSocketWriteDeadline      = 5 * time.Second

	// defaultPongWait - defaultPingInterval == is how long we give client to respond
	defaultPingInterval = 5 * time.Second
	defaultPongWait     = 7 * time.Second
)

var (
	ErrUnexpected = errors.New("unexpected server error")
)

type (
	SignalingService interface {
		Connect(ctx context.Context, p model.Participant, wire model.Wire) error
		Disconnect(connID string)
	}

	Config struct {
		Logger           *zerolog.Logger
		SignalingService SignalingService
		ListenAddr       string
	}

	Server struct {
		svc SignalingService
		ws  *websocket.Upgrader
		*http.Server

		logger zerolog.Logger
	}
)

func NewServer(cfg Config) *Server {
	srv := &Server{
		logger: cfg.Logger.With().Str("component", "websocket-server").Logger(),
		svc:    cfg.SignalingService,
		ws: &websocket.Upgrader{
			HandshakeTimeout: defaultWebSocketHandshakeTimeout,
			ReadBufferSize:   defaultWebsocketReadBufferSize,
			WriteBufferSize:  defaultWebsocketWriteBufferSize,
			CheckOrigin:      func(r *http.Request) bool { return true },
		},
	}

	r := mux.NewRouter()
	r.HandleFunc("/signal", srv.signal).Methods(http.MethodGet)
	r.HandleFunc("/signal/user/{userID}", srv.signal).Methods(http.MethodGet)

	srv.Server = &http.Server{
		Addr:    cfg.ListenAddr,
		Handler: r,
	}
	return srv
}

func (srv *Server) Run(ctx context.Context, wg *sync.WaitGroup, errc chan<- error) {
	defer func() {
		srv.logger.Debug().Msg("server stopped")
		wg.Done()
	}()

	errSrv := make(chan error)
	go func() {
		errSrv <- srv.ListenAndServe()
	}()

	srv.logger.Info().Str("addr", srv.Addr).Msg("server started")

	select {
	case err := <-errSrv:
		if !errors.Is(err, http.ErrServerClosed) {
			errc <- errors.Join(ErrUnexpected, err)
		}
	case <-ctx.Done():
		shCtx, shCancel := context.WithTimeout(context.Background(), defaultShutdownDeadline)
		defer shCancel()
		if err := srv.Shutdown(shCtx); err != nil {
			srv.logger.Error().Err(err).Msg("server shutdown failed")
		}
	}
}

func (srv *Server) signal(w http.ResponseWriter, r *http.Request) {
	p := model.Participant{
		ConnID: uuid.NewString(),
		UserID: mux.Vars(r)["userID"],
	}

	conn, err := srv.ws.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already replied to the client.
		srv.logger.Error().Err(err).Msg("websocket upgrade failed")
		return
	}
	pr := &peer{
		conn:   conn,
		connID: p.ConnID,
		wire:   model.NewWire(),
		logger: srv.logger.With().Str("connID", p.ConnID).Logger(),
	}

	ctx, cancel := context.WithCancel(context.TODO()) // long-living wire context

	if err = srv.svc.Connect(ctx, p, pr.wire); err != nil {
		srv.logger.Error().Err(err).Msg("failed to create signaling session")
		cancel()
		pr.close()
		return
	}
	pr.logger.Debug().Str("userID", p.UserID).Msg("signaling session created")

	go srv.serve(ctx, cancel, pr)
}

// serve pumps frames both ways until either direction stops,
// then releases the connection.
func (srv *Server) serve(ctx context.Context, cancel context.CancelFunc, pr *peer) {
	wg := &sync.WaitGroup{}
	for _, pump := range []func(context.Context) error{pr.receive, pr.send} {
		pump := pump
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer cancel()
			if err := pump(ctx); err != nil {
				pr.logger.Error().Err(err).Msg("websocket session failed")
			}
		}()
	}
	wg.Wait()

	pr.close()
	srv.svc.Disconnect(pr.connID)
	pr.logger.Debug().Msg("signaling session ended")
}

// peer is one upgraded websocket bound to a signaling wire.
type peer struct {
	conn   *websocket.Conn
	connID string
	wire   model.Wire
	logger zerolog.Logger
}

func (pr *peer) send(ctx context.Context) error {
	ping := time.NewTicker(defaultPingInterval)
	defer ping.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ping.C:
			if err := pr.write(websocket.PingMessage, nil, defaultWebSocketWriteDeadline); err != nil {
				return fmt.Errorf("ping: %w", err)
			}
			pr.logger.Trace().Msg("ping sent")
		case ev, ok := <-pr.wire.TX:
			if !ok {
				return nil
			}
			b, err := json.Marshal(&ev)
			if err != nil {
				return errors.Join(ErrUnexpected, err)
			}
			if err = pr.write(websocket.TextMessage, b, defaultWebSocketWriteDeadline); err != nil {
				return fmt.Errorf("write %s: %w", ev.Type, err)
			}
		}
	}
}

func (pr *peer) receive(ctx context.Context) error {
	pr.conn.SetReadLimit(defaultWebSocketMaxMessageSize)
	pr.conn.SetPongHandler(func(string) error {
		pr.logger.Trace().Msg("got pong")
		return pr.extendRead()
	})

	for ctx.Err() == nil {
		// Any frame from the client proves it is alive.
		if err := pr.extendRead(); err != nil {
			return err
		}
		_, msg, err := pr.conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				pr.logger.Debug().Err(err).Msg("connection closed")
				return nil
			}
			return err
		}

		var ev model.Event
		if err = json.Unmarshal(msg, &ev); err != nil || ev.Type == "" {
			pr.logger.Warn().Err(err).Msg("failed to unmarshall incoming event")
			pr.logger.Trace().Func(func(e *zerolog.Event) {
				e.Str("dump", spew.Sdump(msg))
			}).Msg("malformed event")
			if ev, err = model.NewEvent(model.EventError, model.ErrorPayload{Message: "malformed event"}); err != nil {
				return errors.Join(ErrUnexpected, err)
			}
			if !deliver(ctx, pr.wire.TX, ev) {
				return nil
			}
			continue
		}
		ev.From = pr.connID
		if !deliver(ctx, pr.wire.RX, ev) {
			return nil
		}
	}
	return nil
}

func (pr *peer) extendRead() error {
	return pr.conn.SetReadDeadline(time.Now().Add(defaultPongWait))
}

func (pr *peer) write(messageType int, data []byte, deadline time.Duration) error {
	if err := pr.conn.SetWriteDeadline(time.Now().Add(deadline)); err != nil {
		return err
	}
	return pr.conn.WriteMessage(messageType, data)
}

func (pr *peer) close() {
	if err := pr.write(websocket.CloseMessage, nil, defaultWebSocketCloseWriteDeadline); err != nil {
		pr.logger.Debug().Err(err).Msg("failed to send close message")
	}
	if err := pr.conn.Close(); err != nil {
		pr.logger.Error().Err(err).Msg("failed to close websocket connection")
	}
}

func deliver(ctx context.Context, ch chan<- model.Event, ev model.Event) bool {
	select {
	case ch <- ev:
		return true
	case <-ctx.Done():
		return false
	}
}
