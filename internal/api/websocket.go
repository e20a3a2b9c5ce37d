package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// Client represents a WebSocket client.
type Client struct {
	ID   string
	Conn *websocket.Conn
	Send chan []byte
}

// handleWebSocket upgrades the connection and starts the pumps.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error("WebSocket upgrade failed", zap.Error(err))
		return
	}

	client := &Client{
		ID:   uuid.New().String(),
		Conn: conn,
		Send: make(chan []byte, 256),
	}

	s.mu.Lock()
	s.clients[client.ID] = client
	s.mu.Unlock()

	s.logger.Info("WebSocket client connected", zap.String("id", client.ID))

	go s.readPump(client)
	go s.writePump(client)
}

// closeAllClients drops every connected client. Used on shutdown and on
// universe transitions so no client keeps a feed from the old universe.
func (s *Server) closeAllClients() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, client := range s.clients {
		client.Conn.Close()
		delete(s.clients, id)
	}
}

func (s *Server) readPump(client *Client) {
	defer func() {
		s.mu.Lock()
		delete(s.clients, client.ID)
		s.mu.Unlock()
		client.Conn.Close()
		s.logger.Info("WebSocket client disconnected", zap.String("id", client.ID))
	}()

	client.Conn.SetReadLimit(64 * 1024)
	client.Conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	client.Conn.SetPongHandler(func(string) error {
		client.Conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		return nil
	})

	for {
		_, raw, err := client.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				s.logger.Error("WebSocket read error", zap.Error(err))
			}
			break
		}

		var msg map[string]any
		if err := json.Unmarshal(raw, &msg); err != nil {
			s.logger.Warn("Invalid WebSocket message", zap.Error(err))
			continue
		}
		s.handleClientMessage(client, msg)
	}
}

func (s *Server) writePump(client *Client) {
	ticker := time.NewTicker(30 * time.Second)
	defer func() {
		ticker.Stop()
		client.Conn.Close()
	}()

	for {
		select {
		case message, ok := <-client.Send:
			client.Conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if !ok {
				client.Conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := client.Conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			client.Conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := client.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// handleClientMessage answers the small client-to-server vocabulary: ping
// and a status request. Everything else is server push.
func (s *Server) handleClientMessage(client *Client, msg map[string]any) {
	method, _ := msg["method"].(string)

	var payload any
	switch method {
	case "ping":
		payload = map[string]string{"pong": "ok"}
	case "status":
		coord := s.app.Coordinator()
		market := coord.MarketSnapshot()
		payload = map[string]any{
			"account":        market.Account,
			"positions":      market.Positions,
			"bot":            coord.Status(context.Background()),
			"top_gainers":    market.TopGainers,
			"market_indices": market.Indices,
		}
	default:
		payload = map[string]string{"error": "unknown method"}
	}

	raw, err := json.Marshal(map[string]any{
		"method":    method,
		"payload":   payload,
		"timestamp": time.Now().UnixMilli(),
	})
	if err != nil {
		return
	}
	select {
	case client.Send <- raw:
	default:
	}
}
