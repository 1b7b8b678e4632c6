package nodeshell

import (
	"encoding/json"

	"github.com/creack/pty"
	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// Close codes consumers can render distinctly.
const (
	CloseNormal        = websocket.CloseNormalClosure
	ClosePodNotReady   = 4000
	CloseSessionFailed = 4001
)

// CloseCodeForError maps a session error to the close code sent to the
// socket peer.
func CloseCodeForError(err error) int {
	switch {
	case err == nil:
		return CloseNormal
	case errors.Is(err, ErrPodNotReady):
		return ClosePodNotReady
	default:
		return CloseSessionFailed
	}
}

// resizeMessage is the one control frame peers send as text; terminal
// input always travels in binary frames.
type resizeMessage struct {
	Width  uint16 `json:"width"`
	Height uint16 `json:"height"`
}

// Attach bridges the session pty and the socket until either side
// closes, then tears the session down. A nil return means the peer or
// the shell ended the session normally.
func (s *Session) Attach(conn *websocket.Conn) error {
	defer s.Close()

	done := make(chan error, 2)
	go func() { done <- s.pumpOutput(conn) }()
	go func() { done <- s.pumpInput(conn) }()

	// The first pump to finish ends the session; closing the pty and
	// process unblocks the other one.
	err := <-done
	s.Close()
	return err
}

// pumpOutput copies pty output into binary frames. A pty read error is
// the shell exiting, which is a normal end.
func (s *Session) pumpOutput(conn *websocket.Conn) error {
	buf := make([]byte, 4096)
	for {
		n, readErr := s.pty.Read(buf)
		if n > 0 {
			if err := conn.WriteMessage(websocket.BinaryMessage, buf[:n]); err != nil {
				return errors.Wrap(err, "could not forward session output")
			}
		}
		if readErr != nil {
			return nil
		}
	}
}

// pumpInput copies binary frames into the pty and applies text frames
// as resize controls.
func (s *Session) pumpInput(conn *websocket.Conn) error {
	for {
		messageType, payload, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return nil
			}
			return errors.Wrap(err, "session socket closed")
		}
		switch messageType {
		case websocket.BinaryMessage:
			if _, err := s.pty.Write(payload); err != nil {
				return errors.Wrap(err, "could not forward session input")
			}
		case websocket.TextMessage:
			s.resize(payload)
		}
	}
}

func (s *Session) resize(payload []byte) {
	var msg resizeMessage
	if err := json.Unmarshal(payload, &msg); err != nil {
		logrus.WithError(err).Debug("ignoring unparseable terminal control frame")
		return
	}
	if msg.Width == 0 || msg.Height == 0 {
		return
	}
	if err := pty.Setsize(s.pty, &pty.Winsize{Cols: msg.Width, Rows: msg.Height}); err != nil {
		logrus.WithError(err).Debug("could not resize session terminal")
	}
}
