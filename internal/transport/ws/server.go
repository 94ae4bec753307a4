package ws

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"riftclaw.ai/internal/protocol"
	"riftclaw.ai/internal/relay"
)

type Server struct {
	hub *relay.Hub
	log *log.Logger

	readTimeout time.Duration
	upgrader    websocket.Upgrader
}

func NewServer(h *relay.Hub, logger *log.Logger) *Server {
	s := &Server{
		hub:         h,
		log:         logger,
		readTimeout: 90 * time.Second,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  64 * 1024,
			WriteBufferSize: 64 * 1024,
			CheckOrigin:     func(r *http.Request) bool { return true }, // dev default
		},
	}
	return s
}

// SetReadTimeout sets how long a connection may stay silent before it is dropped.
func (s *Server) SetReadTimeout(d time.Duration) {
	if d > 0 {
		s.readTimeout = d
	}
}

func (s *Server) Handler() http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		conn, err := s.upgrader.Upgrade(rw, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		out := make(chan []byte, s.hub.QueueSize())
		respCh := make(chan relay.JoinResponse, 1)
		s.hub.Join() <- relay.JoinRequest{Remote: r.RemoteAddr, Out: out, Resp: respCh}
		resp := <-respCh
		connID := resp.ConnID

		// Welcome goes out before the writer starts so it is always the first frame.
		if err := writeJSON(conn, resp.Welcome); err != nil {
			s.hub.Leave() <- connID
			return
		}

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		// Writer goroutine.
		go func() {
			for {
				select {
				case <-ctx.Done():
					return
				case b := <-out:
					_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
					if err := conn.WriteMessage(websocket.TextMessage, b); err != nil {
						cancel()
						_ = conn.Close()
						return
					}
				}
			}
		}()

		// Reader loop.
		for {
			_ = conn.SetReadDeadline(time.Now().Add(s.readTimeout))
			_, msg, err := conn.ReadMessage()
			if err != nil {
				cancel()
				break
			}
			m, err := protocol.Decode(msg)
			if err != nil {
				var ute *protocol.UnknownTypeError
				if errors.As(err, &ute) {
					s.hub.Inbox() <- relay.Envelope{ConnID: connID, UnknownType: ute.Type}
					continue
				}
				if s.log != nil {
					s.log.Printf("conn %s: dropping frame: %v", connID, err)
				}
				continue
			}
			s.hub.Inbox() <- relay.Envelope{ConnID: connID, Msg: m}
		}

		// Cleanup.
		s.hub.Leave() <- connID
	}
}

func writeJSON(conn *websocket.Conn, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	return conn.WriteMessage(websocket.TextMessage, b)
}
