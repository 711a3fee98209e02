package server

import (
	"encoding/json"
	"net/http"

	cws "github.com/coder/websocket"

	"github.com/novincode/dlman-sub000/pkg/dlcore"
)

// wsFrame is the tagged JSON envelope pushed to every connected client,
// one per dlcore.Event.
type wsFrame struct {
	Kind       dlcore.EventKind `json:"kind"`
	DownloadID string           `json:"download_id,omitempty"`
	Download   *dlcore.Download `json:"download,omitempty"`
	Downloaded int64            `json:"downloaded,omitempty"`
	Total      int64            `json:"total,omitempty"`
	Error      string           `json:"error,omitempty"`
	Queue      *dlcore.Queue    `json:"queue,omitempty"`
}

// handleWS upgrades the connection and streams every bus event as a JSON
// text frame until the client disconnects.
func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := cws.Accept(w, r, nil)
	if err != nil {
		return
	}
	defer conn.CloseNow()

	ctx := r.Context()
	events, unsubscribe := s.mgr.Bus.Subscribe()
	defer unsubscribe()

	for {
		select {
		case <-ctx.Done():
			conn.Close(cws.StatusNormalClosure, "")
			return
		case ev, ok := <-events:
			if !ok {
				conn.Close(cws.StatusNormalClosure, "")
				return
			}
			frame := wsFrame{
				Kind:       ev.Kind,
				DownloadID: ev.DownloadID,
				Download:   ev.Download,
				Downloaded: ev.Downloaded,
				Error:      ev.Error,
				Queue:      ev.Queue,
			}
			if ev.Total.Known {
				frame.Total = ev.Total.Bytes
			}
			data, err := json.Marshal(frame)
			if err != nil {
				continue
			}
			if err := conn.Write(ctx, cws.MessageText, data); err != nil {
				return
			}
		}
	}
}
