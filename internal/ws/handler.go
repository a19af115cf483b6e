package ws

import (
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"mining_keeper/internal/logbus"
)

type Handler struct {
	bus          *logbus.Bus
	allowOrigins []string
	upgrader     websocket.Upgrader
}

func NewHandler(bus *logbus.Bus, allowOrigins []string) *Handler {
	h := &Handler{
		bus:          bus,
		allowOrigins: allowOrigins,
	}
	h.upgrader = websocket.Upgrader{
		CheckOrigin: h.checkOrigin,
	}
	return h
}

var levelRank = map[string]int{
	"debug":   0,
	"info":    1,
	"success": 1,
	"warn":    2,
	"error":   3,
}

// minLevelFromQuery 支持 /ws?level=warn 之类的过滤，默认全量推送。
func minLevelFromQuery(r *http.Request) int {
	v := strings.ToLower(strings.TrimSpace(r.URL.Query().Get("level")))
	if rank, ok := levelRank[v]; ok {
		return rank
	}
	return 0
}

func passesFilter(msg logbus.Message, minLevel int) bool {
	if minLevel <= 0 {
		return true
	}
	data, ok := msg.Data.(logbus.LogData)
	if !ok {
		return true
	}
	rank, ok := levelRank[data.Level]
	if !ok {
		return true
	}
	return rank >= minLevel
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	minLevel := minLevelFromQuery(r)

	_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	for _, msg := range h.bus.Snapshot() {
		if !passesFilter(msg, minLevel) {
			continue
		}
		if err := conn.WriteJSON(msg); err != nil {
			return
		}
	}

	ch, cancel := h.bus.Subscribe(256)
	defer cancel()

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
		case <-done:
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			if !passesFilter(msg, minLevel) {
				continue
			}
			_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
			if err := conn.WriteJSON(msg); err != nil {
				return
			}
		}
	}
}

func (h *Handler) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	if len(h.allowOrigins) == 0 {
		return false
	}
	for _, o := range h.allowOrigins {
		if o == "*" {
			return true
		}
		if strings.EqualFold(o, origin) {
			return true
		}
	}
	return false
}
