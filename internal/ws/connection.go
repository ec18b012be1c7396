package ws

import (
	"context"
	"errors"
	"sync"

	"tradepost/internal/models"
)

type wsConnection interface {
	Close() error
	WriteJSON(v interface{}) error
	ReadJSON(v interface{}) error
}

type connectionHub interface {
	Register(connID, authUserID string) chan models.ServerEvent
}

type eventRouter interface {
	Dispatch(connID string, ev models.ClientEvent)
	HandleDisconnect(connID string)
}

// Connection bridges one websocket session to the chat hub and event router:
// a read pump feeds inbound events to the router, and the main loop writes
// hub events back to the socket.
type Connection struct {
	ws         wsConnection
	router     eventRouter
	connID     string
	fromClient chan models.ClientEvent
	fromServer chan models.ServerEvent
	errorCh    chan error
}

func NewConnection(
	hub connectionHub,
	router eventRouter,
	ws wsConnection,
	connID string,
	authUserID string,
) *Connection {
	return &Connection{
		ws:         ws,
		router:     router,
		connID:     connID,
		fromClient: make(chan models.ClientEvent),
		fromServer: hub.Register(connID, authUserID),
		errorCh:    make(chan error, 2),
	}
}

func (c *Connection) Handle(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer func() {
		close(c.fromClient)
		close(c.errorCh)
		c.router.HandleDisconnect(c.connID)
	}()

	var wg sync.WaitGroup
	wg.Go(func() {
		c.errorCh <- c.pumpEvents(ctx)
		cancel()
	})

	wg.Go(func() {
		c.errorCh <- c.mainLoop(ctx)
		cancel()
	})

	var err error
	select {
	case err = <-c.errorCh:
	case <-ctx.Done():
	}
	c.ws.Close()
	wg.Wait()

	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}

	return nil
}

func (c *Connection) pumpEvents(ctx context.Context) error {
	for {
		var ev models.ClientEvent
		if err := c.ws.ReadJSON(&ev); err != nil {
			return err
		}
		select {
		case c.fromClient <- ev:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (c *Connection) mainLoop(ctx context.Context) error {
	for {
		select {
		case ev := <-c.fromClient:
			c.router.Dispatch(c.connID, ev)
		case ev, ok := <-c.fromServer:
			if !ok {
				return nil
			}
			if err := c.ws.WriteJSON(ev); err != nil {
				return err
			}
		case <-ctx.Done():
			return nil
		}
	}
}
