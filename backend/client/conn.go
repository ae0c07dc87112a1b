package client

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/adwski/blinddate/backend/model"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

const (
	defaultWriteDeadline = 5 * time.Second
	defaultEventsBuffer  = 64
)

var ErrClosed = errors.New("connection is closed")

// Conn is a realtime connection. Inbound events are delivered on Events
// until the connection ends.
type Conn struct {
	ws     *websocket.Conn
	events chan model.Event
	wmx    sync.Mutex
	done   chan struct{}
	once   sync.Once
	logger zerolog.Logger
}

// Dial connects to url, e.g. ws://host:8888/signal/user/alice.
func Dial(ctx context.Context, url string, logger *zerolog.Logger) (*Conn, error) {
	ws, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, err
	}
	c := &Conn{
		ws:     ws,
		events: make(chan model.Event, defaultEventsBuffer),
		done:   make(chan struct{}),
		logger: logger.With().Str("component", "client-conn").Logger(),
	}
	go c.readLoop()
	return c, nil
}

func (c *Conn) Events() <-chan model.Event {
	return c.events
}

func (c *Conn) Send(typ string, payload any) error {
	ev, err := model.NewEvent(typ, payload)
	if err != nil {
		return err
	}
	select {
	case <-c.done:
		return ErrClosed
	default:
	}
	c.wmx.Lock()
	defer c.wmx.Unlock()
	if err = c.ws.SetWriteDeadline(time.Now().Add(defaultWriteDeadline)); err != nil {
		return err
	}
	return c.ws.WriteJSON(ev)
}

func (c *Conn) JoinLobby(scope, mode, sessionID, userID string) error {
	return c.Send(model.EventJoinLobby, model.JoinLobbyPayload{
		Scope: scope, Mode: mode, SessionID: sessionID, UserID: userID,
	})
}

func (c *Conn) JoinRoom(room string) error {
	return c.Send(model.EventJoinRoom, model.JoinRoomPayload{Room: room})
}

func (c *Conn) SendMessage(room, text, sender string) error {
	return c.Send(model.EventSendMessage, model.SendMessagePayload{Room: room, Text: text, Sender: sender})
}

func (c *Conn) Signal(room string, signal any) error {
	return c.Send(model.EventWebRTCSignal, model.SignalPayload{Room: room, Signal: signal})
}

func (c *Conn) Close() error {
	var err error
	c.once.Do(func() {
		close(c.done)
		c.wmx.Lock()
		_ = c.ws.SetWriteDeadline(time.Now().Add(defaultWriteDeadline))
		_ = c.ws.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		c.wmx.Unlock()
		err = c.ws.Close()
	})
	return err
}

func (c *Conn) readLoop() {
	defer close(c.events)
	for {
		var ev model.Event
		if err := c.ws.ReadJSON(&ev); err != nil {
			select {
			case <-c.done:
			default:
				c.logger.Debug().Err(err).Msg("realtime connection ended")
			}
			return
		}
		select {
		case c.events <- ev:
		case <-c.done:
			return
		}
	}
}
