package httpserver

import (
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	authdomain "github.com/bryanwahyu/qr-biometric/internal/domain/auth"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
)

type upgrader struct {
	websocket.Upgrader
}

// newUpgrader accepts same-origin requests plus the configured origins; "*"
// accepts any origin. Requests without an Origin header come from
// non-browser clients and are accepted.
func newUpgrader(origins []string) upgrader {
	allowed := make(map[string]struct{}, len(origins))
	for _, o := range origins {
		allowed[strings.ToLower(strings.TrimRight(o, "/"))] = struct{}{}
	}
	return upgrader{websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			if origin == "" {
				return true
			}
			if _, ok := allowed["*"]; ok {
				return true
			}
			if _, ok := allowed[strings.ToLower(origin)]; ok {
				return true
			}
			u, err := url.Parse(origin)
			return err == nil && strings.EqualFold(u.Host, r.Host)
		},
	}}
}

// eventMessage is one frame on /v1/events.
type eventMessage struct {
	Type string    `json:"type"` // scan | auth
	At   time.Time `json:"at"`
	Data any       `json:"data"`
}

// GET /v1/events
// Streams scan and auth transitions over a websocket. The first two frames
// are the current snapshots.
func (r *Router) handleEvents(w http.ResponseWriter, req *http.Request) {
	conn, err := r.upgrader.Upgrade(w, req, nil)
	if err != nil {
		r.log.Debug("websocket upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()

	scanCh, unsubScan := r.scans.Subscribe()
	defer unsubScan()
	authCh, unsubAuth := r.auth.Subscribe()
	defer unsubAuth()

	// reader: only to notice close frames and keep pongs flowing
	done := make(chan struct{})
	conn.SetReadLimit(512)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	send := func(m eventMessage) bool {
		_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := conn.WriteJSON(m); err != nil {
			r.log.Debug("websocket write failed", zap.Error(err))
			return false
		}
		return true
	}

	if !send(eventMessage{Type: "scan", At: time.Now().UTC(), Data: scanView(r.scans.Session())}) ||
		!send(eventMessage{Type: "auth", At: time.Now().UTC(), Data: authdomain.EventOf(r.auth.Session())}) {
		return
	}

	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case <-req.Context().Done():
			return
		case e, ok := <-scanCh:
			if !ok || !send(eventMessage{Type: "scan", At: time.Now().UTC(), Data: scanEventView(e)}) {
				return
			}
		case e, ok := <-authCh:
			if !ok || !send(eventMessage{Type: "auth", At: time.Now().UTC(), Data: e}) {
				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
