package server

import (
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	log "github.com/sirupsen/logrus"

	"github.com/quarry-ai/quarry/progress"
)

// Maximum time we'll wait for a write we initiate to complete.
// We don't use websocket's ping-pong mechanism, instead relying on TCP keep-alive.
const wsWriteTimeout = 10 * time.Second

// closeUnknownUpload is sent when the upload id was never tracked or has
// already been evicted.
const closeUnknownUpload = 4404

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
}

// serveProgressWS streams progress events for one upload until a
// terminal event, the client asks to close, or the client goes away.
func (s *Server) serveProgressWS(w http.ResponseWriter, r *http.Request) {
	var uploadID = r.PathValue("id")

	var conn, err = upgrader.Upgrade(w, r, nil)
	if err != nil {
		// A response has already been sent to the client by |upgrader|.
		log.WithFields(log.Fields{"err": err, "client": r.RemoteAddr}).
			Warn("failed to upgrade progress request to websocket")
		return
	}
	defer conn.Close()

	sub, err := s.args.Tracker.Subscribe(uploadID)
	if errors.Is(err, progress.ErrUnknown) {
		writeClose(conn, closeUnknownUpload, "unknown upload id")
		return
	} else if err != nil {
		writeClose(conn, websocket.CloseInternalServerErr, err.Error())
		return
	}
	defer sub.Close()

	var clientGone = newWSReadPump(conn)

	for {
		select {
		case ev, ok := <-sub.C:
			if !ok {
				if sub.Reason() == progress.ReasonSlow {
					writeClose(conn, websocket.ClosePolicyViolation, "client too slow")
				} else {
					writeClose(conn, websocket.CloseNormalClosure, "done")
				}
				return
			}

			conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
			if err := conn.WriteJSON(ev); err != nil {
				log.WithFields(log.Fields{
					"err":      err,
					"uploadId": uploadID,
					"client":   r.RemoteAddr,
				}).Warn("failed to send progress event")
				return
			}

		case <-clientGone:
			writeClose(conn, websocket.CloseNormalClosure, "client requested close")
			return

		case <-r.Context().Done():
			return
		}
	}
}

func writeClose(conn *websocket.Conn, code int, reason string) {
	var deadline = time.Now().Add(wsWriteTimeout)
	var message = websocket.FormatCloseMessage(code, reason)
	if err := conn.WriteControl(websocket.CloseMessage, message, deadline); err != nil {
		log.WithField("err", err).Debug("failed to write websocket close")
	}
}

// newWSReadPump consumes client frames. The channel closes when the
// client sends a "close" text frame or the connection drops; all other
// frames are ignored.
func newWSReadPump(conn *websocket.Conn) <-chan struct{} {
	var gone = make(chan struct{})

	go func() {
		defer close(gone)
		for {
			var mt, data, err = conn.ReadMessage()
			if err != nil {
				return
			}
			if mt == websocket.TextMessage && string(data) == "close" {
				return
			}
		}
	}()
	return gone
}
