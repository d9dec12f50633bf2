/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

package main

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/julienschmidt/httprouter"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
)

// Session is the server side of one browser's channel. The relay loop owns
// open and send; the pumps only read from send.
type Session struct {
	id          string
	conn        *websocket.Conn
	send        chan []byte
	remoteAddr  string
	connectedAt time.Time
	open        bool
}

func newSession(conn *websocket.Conn, buffer int, remoteAddr string) *Session {
	return &Session{
		id:          uuid.NewString(),
		conn:        conn,
		send:        make(chan []byte, buffer),
		remoteAddr:  remoteAddr,
		connectedAt: time.Now(),
	}
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

func serveChannel(cfg *Config, relay *Relay) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			logf(cfg, "SESSION: Upgrade from %s failed: %v", realIP(r), err)

			return
		}

		s := newSession(conn, cfg.sendBuffer, realIP(r))

		if err := relay.join(r.Context(), s); err != nil {
			_ = conn.Close()

			return
		}

		go s.writePump()
		s.readPump(r.Context(), cfg, relay)
	}
}

func (s *Session) readPump(ctx context.Context, cfg *Config, relay *Relay) {
	defer func() {
		relay.leave(s)
		_ = s.conn.Close()
	}()

	s.conn.SetReadLimit(cfg.maxMessageSize)
	_ = s.conn.SetReadDeadline(time.Now().Add(pongWait))
	s.conn.SetPongHandler(func(string) error {
		return s.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		messageType, data, err := s.conn.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseNoStatusReceived) {
				logf(cfg, "SESSION: %s read failed: %v", s.id, err)
			}

			return
		}

		if messageType != websocket.TextMessage {
			continue
		}

		var env Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			logf(cfg, "SESSION: %s sent a frame that is not an envelope: %v", s.id, err)

			continue
		}

		if err := relay.submit(ctx, s, env); err != nil {
			return
		}
	}
}

func (s *Session) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = s.conn.Close()
	}()

	for {
		select {
		case frame, ok := <-s.send:
			_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = s.conn.WriteMessage(websocket.CloseMessage, []byte{})

				return
			}

			if err := s.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				return
			}

		case <-ticker.C:
			_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
