package dashboard

import (
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/websocket"
)

const wsWriteTimeout = 5 * time.Second

var dashboardUpgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		u, err := url.Parse(origin)
		if err != nil {
			return false
		}
		host := strings.ToLower(strings.TrimSpace(r.Host))
		originHost := strings.ToLower(strings.TrimSpace(u.Host))
		return host == originHost
	},
}

// handleDashboardWS streams full dashboard snapshots: one immediately on
// connect, then one per age-refresh tick so relative event ages stay current
// without client polling.
func (s *Server) handleDashboardWS(w http.ResponseWriter, r *http.Request) {
	conn, err := dashboardUpgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	s.serveDashboardConnection(conn)
}

func (s *Server) serveDashboardConnection(conn *websocket.Conn) {
	defer conn.Close()

	if err := writeSnapshot(conn, s.buildSnapshot(time.Now().UTC())); err != nil {
		return
	}

	ticker := time.NewTicker(s.config.AgeRefreshInterval)
	defer ticker.Stop()

	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-ticker.C:
			if err := writeSnapshot(conn, s.buildSnapshot(time.Now().UTC())); err != nil {
				return
			}
		case <-done:
			return
		case <-s.baseCtx.Done():
			return
		}
	}
}

func writeSnapshot(conn *websocket.Conn, snap Snapshot) error {
	_ = conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
	return conn.WriteJSON(snap)
}
