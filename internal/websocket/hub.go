package websocket

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/chessarcade/leaderboard/internal/domain"
)

// Message types
const (
	MessageTypeScoreSubmitted    = "score_submitted"
	MessageTypeLeaderboardUpdate = "leaderboard_update"
	MessageTypeSubscribe         = "subscribe"
	MessageTypeUnsubscribe       = "unsubscribe"
	MessageTypeSubscribed        = "subscribed"
	MessageTypeUnsubscribed      = "unsubscribed"
	MessageTypePing              = "ping"
	MessageTypePong              = "pong"
	MessageTypeError             = "error"
)

// Message represents a WebSocket message
type Message struct {
	Type      string    `json:"type"`
	Game      string    `json:"game,omitempty"`
	Data      any       `json:"data,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// ScoreSubmitted announces a newly accepted score
type ScoreSubmitted struct {
	Entry        domain.RankedEntry `json:"entry"`
	TotalPlayers int64              `json:"totalPlayers"`
}

// LeaderboardUpdate carries a top-N snapshot of a game's leaderboard
type LeaderboardUpdate struct {
	Game         string               `json:"game"`
	Scores       []domain.RankedEntry `json:"scores"`
	TotalPlayers int64                `json:"totalPlayers"`
}

// Hub maintains the set of active clients and broadcasts messages
type Hub struct {
	// Subscribed clients by game id
	clients map[string]map[*Client]bool

	// All connected clients
	allClients map[*Client]bool

	// Games clients may subscribe to
	games map[string]bool

	register    chan *Client
	unregister  chan *Client
	broadcast   chan *Message
	subscribe   chan *subscriptionRequest
	unsubscribe chan *subscriptionRequest

	mu sync.RWMutex

	logger *slog.Logger

	// Context for shutdown
	ctx    context.Context
	cancel context.CancelFunc
}

type subscriptionRequest struct {
	client *Client
	game   string
}

// NewHub creates a hub that accepts subscriptions to the given games
func NewHub(games []string, logger *slog.Logger) *Hub {
	ctx, cancel := context.WithCancel(context.Background())
	known := make(map[string]bool, len(games))
	for _, g := range games {
		known[g] = true
	}
	return &Hub{
		clients:     make(map[string]map[*Client]bool),
		allClients:  make(map[*Client]bool),
		games:       known,
		register:    make(chan *Client),
		unregister:  make(chan *Client),
		broadcast:   make(chan *Message, 256),
		subscribe:   make(chan *subscriptionRequest, 64),
		unsubscribe: make(chan *subscriptionRequest, 64),
		logger:      logger,
		ctx:         ctx,
		cancel:      cancel,
	}
}

// Run starts the hub's main loop
func (h *Hub) Run() {
	h.logger.Info("websocket hub started")
	for {
		select {
		case <-h.ctx.Done():
			h.logger.Info("websocket hub stopping")
			return

		case client := <-h.register:
			h.mu.Lock()
			h.allClients[client] = true
			h.mu.Unlock()
			h.logger.Debug("client registered", "client_id", client.id)

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.allClients[client]; ok {
				delete(h.allClients, client)
				for game, clients := range h.clients {
					if _, ok := clients[client]; ok {
						delete(clients, client)
						if len(clients) == 0 {
							delete(h.clients, game)
						}
					}
				}
				close(client.send)
			}
			h.mu.Unlock()
			h.logger.Debug("client unregistered", "client_id", client.id)

		case req := <-h.subscribe:
			h.mu.Lock()
			if _, ok := h.allClients[req.client]; ok {
				if _, ok := h.clients[req.game]; !ok {
					h.clients[req.game] = make(map[*Client]bool)
				}
				h.clients[req.game][req.client] = true
			}
			h.mu.Unlock()
			h.logger.Debug("client subscribed", "client_id", req.client.id, "game", req.game)

		case req := <-h.unsubscribe:
			h.mu.Lock()
			if clients, ok := h.clients[req.game]; ok {
				delete(clients, req.client)
				if len(clients) == 0 {
					delete(h.clients, req.game)
				}
			}
			h.mu.Unlock()
			h.logger.Debug("client unsubscribed", "client_id", req.client.id, "game", req.game)

		case message := <-h.broadcast:
			h.broadcastMessage(message)
		}
	}
}

// Stop stops the hub
func (h *Hub) Stop() {
	h.cancel()
}

// broadcastMessage sends a message to the clients subscribed to its game
func (h *Hub) broadcastMessage(message *Message) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	data, err := json.Marshal(message)
	if err != nil {
		h.logger.Error("failed to marshal message", "error", err)
		return
	}

	for client := range h.clients[message.Game] {
		select {
		case client.send <- data:
		default:
			h.logger.Warn("client buffer full, skipping", "client_id", client.id)
		}
	}
}

func (h *Hub) enqueue(message *Message) {
	select {
	case h.broadcast <- message:
	default:
		h.logger.Warn("broadcast channel full, dropping message", "type", message.Type, "game", message.Game)
	}
}

// BroadcastScore tells a game's subscribers about an accepted score
func (h *Hub) BroadcastScore(game string, entry domain.RankedEntry, totalPlayers int64) {
	if h.GetSubscriberCount(game) == 0 {
		return
	}
	h.enqueue(&Message{
		Type: MessageTypeScoreSubmitted,
		Game: game,
		Data: ScoreSubmitted{
			Entry:        entry,
			TotalPlayers: totalPlayers,
		},
		Timestamp: time.Now().UTC(),
	})
}

// BroadcastLeaderboardUpdate sends a top-N snapshot to a game's subscribers
func (h *Hub) BroadcastLeaderboardUpdate(game string, entries []domain.RankedEntry, totalPlayers int64) {
	if entries == nil {
		entries = []domain.RankedEntry{}
	}
	h.enqueue(&Message{
		Type: MessageTypeLeaderboardUpdate,
		Game: game,
		Data: LeaderboardUpdate{
			Game:         game,
			Scores:       entries,
			TotalPlayers: totalPlayers,
		},
		Timestamp: time.Now().UTC(),
	})
}

// Register adds a client to the hub
func (h *Hub) Register(client *Client) {
	select {
	case h.register <- client:
	case <-h.ctx.Done():
	}
}

// Unregister removes a client from the hub
func (h *Hub) Unregister(client *Client) {
	select {
	case h.unregister <- client:
	case <-h.ctx.Done():
	}
}

// IsKnownGame reports whether clients may subscribe to game
func (h *Hub) IsKnownGame(game string) bool {
	return h.games[game]
}

// Subscribe adds a client to a game subscription
func (h *Hub) Subscribe(client *Client, game string) {
	select {
	case h.subscribe <- &subscriptionRequest{client: client, game: game}:
	case <-h.ctx.Done():
	}
}

// Unsubscribe removes a client from a game subscription
func (h *Hub) Unsubscribe(client *Client, game string) {
	select {
	case h.unsubscribe <- &subscriptionRequest{client: client, game: game}:
	case <-h.ctx.Done():
	}
}

// SubscribedGames returns the games that currently have subscribers
func (h *Hub) SubscribedGames() []string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	games := make([]string, 0, len(h.clients))
	for game := range h.clients {
		games = append(games, game)
	}
	return games
}

// GetSubscriberCount returns the number of subscribers for a game
func (h *Hub) GetSubscriberCount(game string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients[game])
}

// GetTotalConnections returns the total number of connected clients
func (h *Hub) GetTotalConnections() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.allClients)
}
