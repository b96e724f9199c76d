package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"repoanalyzer/internal/gateway/service/analysis"
	"repoanalyzer/internal/stream"
)

const (
	analyzeWSWriteWait = 10 * time.Second
	analyzeWSPongWait  = 60 * time.Second
	analyzeWSPingEvery = (analyzeWSPongWait * 9) / 10
)

var analyzeWSUpgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(_ *http.Request) bool {
		return true
	},
}

// HandleAnalyzeWS serves the websocket variant: the first client message is
// the analyze request, each event is one text frame, and the server closes
// the connection after the terminal event.
func (h *AnalyzeHandler) HandleAnalyzeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := analyzeWSUpgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()
	conn.SetReadLimit(h.maxUpload*2 + 1<<20)

	if err := conn.SetReadDeadline(time.Now().Add(analyzeWSPongWait)); err != nil {
		return
	}
	var req analysis.Request
	if err := conn.ReadJSON(&req); err != nil {
		writeWS(conn, stream.Error("invalid request: "+err.Error()))
		closeWS(conn, websocket.CloseUnsupportedData)
		return
	}
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(analyzeWSPongWait))
	})

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()
	readerDone := make(chan struct{})
	go func() {
		defer close(readerDone)
		defer cancel()
		for {
			if _, _, err := conn.NextReader(); err != nil {
				return
			}
		}
	}()

	st, sid := h.svc.Start(ctx, req)
	log := h.logger.With(zap.String("session_id", sid))
	ticker := time.NewTicker(analyzeWSPingEvery)
	defer ticker.Stop()

	for done := false; !done; {
		select {
		case <-ctx.Done():
			st.Abandon()
			log.Info("analyze websocket closed by client")
			done = true
		case <-ticker.C:
			if err := conn.SetWriteDeadline(time.Now().Add(analyzeWSWriteWait)); err != nil {
				st.Abandon()
				done = true
				continue
			}
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				st.Abandon()
				done = true
			}
		case ev, ok := <-st.Events():
			if !ok {
				closeWS(conn, websocket.CloseNormalClosure)
				done = true
				continue
			}
			if err := writeWS(conn, ev); err != nil {
				st.Abandon()
				log.Info("analyze websocket write failed", zap.Error(err))
				done = true
			}
		}
	}
	_ = conn.Close()
	<-readerDone
}

func writeWS(conn *websocket.Conn, ev stream.Event) error {
	if err := conn.SetWriteDeadline(time.Now().Add(analyzeWSWriteWait)); err != nil {
		return err
	}
	return conn.WriteJSON(ev)
}

func closeWS(conn *websocket.Conn, code int) {
	_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, ""), time.Now().Add(analyzeWSWriteWait))
}
