package ws

import (
	"encoding/json"
	"sync"

	"fairwager/internal/domain"
	"fairwager/internal/logger"
	"fairwager/internal/metrics"
)

// Hub fans round events out to the connections of their player
type Hub struct {
	mu      sync.RWMutex
	players map[string]map[*Client]struct{}
}

func NewHub() *Hub {
	return &Hub{players: make(map[string]map[*Client]struct{})}
}

func (h *Hub) Register(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	conns, ok := h.players[c.Player]
	if !ok {
		conns = make(map[*Client]struct{})
		h.players[c.Player] = conns
	}
	conns[c] = struct{}{}
	metrics.Connections.Inc()
	logger.Debug("ws client registered", "player", c.Player, "conn", c.ID, "conns", len(conns))
}

func (h *Hub) Unregister(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	conns, ok := h.players[c.Player]
	if !ok {
		return
	}
	if _, ok := conns[c]; !ok {
		return
	}
	delete(conns, c)
	if len(conns) == 0 {
		delete(h.players, c.Player)
	}
	metrics.Connections.Dec()
	logger.Debug("ws client unregistered", "player", c.Player, "conn", c.ID)
}

// Connected returns how many connections player has open
func (h *Hub) Connected(player string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.players[player])
}

// Publish delivers e to every connection of its player. It never blocks:
// a connection whose buffer is full misses the event and can resync with "state".
func (h *Hub) Publish(e domain.Event) {
	data, err := json.Marshal(e)
	if err != nil {
		logger.Error("ws event marshal failed", "type", e.Type, "nonce", e.Nonce, "error", err)
		return
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.players[e.Player] {
		if !c.trySend(data) {
			metrics.EventsDropped.Inc()
			logger.Warn("ws event dropped", "player", e.Player, "conn", c.ID, "type", e.Type, "nonce", e.Nonce)
		}
	}
}
