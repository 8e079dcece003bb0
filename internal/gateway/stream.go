package gateway

import (
	"context"
	"errors"
	"net/http"

	"github.com/gorilla/websocket"
)

// Frame types sent on /v1/stream.
const (
	FrameChunk = "chunk"
	FrameDone  = "done"
	FrameError = "error"
)

// StreamRequest is one client message on /v1/stream.
type StreamRequest struct {
	Prompt string `json:"prompt"`
}

// StreamFrame is one server message on /v1/stream.
type StreamFrame struct {
	Type    string `json:"type"`
	Content string `json:"content,omitempty"`
	Kind    string `json:"kind,omitempty"`
	Error   string `json:"error,omitempty"`
}

// handleStream upgrades to a WebSocket and answers each prompt the client
// sends with chunk frames followed by a done or error frame.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn("websocket upgrade failed", "err", err)
		return
	}
	defer conn.Close()

	ctx := r.Context()
	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()

	for {
		var req StreamRequest
		if err := conn.ReadJSON(&req); err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) && ctx.Err() == nil {
				s.log.Debug("websocket read ended", "err", err)
			}
			return
		}
		if req.Prompt == "" {
			if err := conn.WriteJSON(StreamFrame{Type: FrameError, Kind: "bad_request", Error: "prompt is required"}); err != nil {
				return
			}
			continue
		}
		if err := s.stream(ctx, conn, req.Prompt); err != nil {
			s.log.Debug("websocket write failed", "err", err)
			return
		}
	}
}

// stream relays one turn. It returns an error only when the connection broke.
func (s *Server) stream(ctx context.Context, conn *websocket.Conn, prompt string) error {
	seq, err := s.engine.ProcessStream(ctx, prompt)
	if err != nil {
		return s.writeStreamError(conn, err)
	}
	for chunk, err := range seq {
		if err != nil {
			return s.writeStreamError(conn, err)
		}
		if err := conn.WriteJSON(StreamFrame{Type: FrameChunk, Content: chunk}); err != nil {
			return err
		}
	}
	return conn.WriteJSON(StreamFrame{Type: FrameDone})
}

func (s *Server) writeStreamError(conn *websocket.Conn, err error) error {
	_, kind := classify(err)
	s.log.Warn("stream failed", "kind", kind, "err", err)
	if werr := conn.WriteJSON(StreamFrame{Type: FrameError, Kind: kind, Error: err.Error()}); werr != nil {
		return errors.Join(err, werr)
	}
	return nil
}
