package server

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// Console is one open practice-console connection.
type Console struct {
	ID     string
	UserID int64
	conn   *websocket.Conn
	ctx    context.Context
	cancel context.CancelFunc // cancels the in-flight execution wait
}

// ConsoleManager tracks open practice consoles so shutdown can close them.
type ConsoleManager struct {
	mu       sync.RWMutex
	consoles map[string]*Console
}

// NewConsoleManager creates a new ConsoleManager.
func NewConsoleManager() *ConsoleManager {
	return &ConsoleManager{
		consoles: make(map[string]*Console),
	}
}

// Open registers a console for conn and returns it.
func (cm *ConsoleManager) Open(userID int64, conn *websocket.Conn) *Console {
	ctx, cancel := context.WithCancel(context.Background())
	c := &Console{
		ID:     uuid.NewString(),
		UserID: userID,
		conn:   conn,
		ctx:    ctx,
		cancel: cancel,
	}

	cm.mu.Lock()
	defer cm.mu.Unlock()
	cm.consoles[c.ID] = c
	return c
}

// Len reports how many consoles are open.
func (cm *ConsoleManager) Len() int {
	cm.mu.RLock()
	defer cm.mu.RUnlock()
	return len(cm.consoles)
}

// Remove forgets a console and cancels any in-flight work.
func (cm *ConsoleManager) Remove(id string) {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	if c, ok := cm.consoles[id]; ok {
		c.cancel()
		delete(cm.consoles, id)
	}
}

// CloseAll cancels every console and asks its client to go away.
func (cm *ConsoleManager) CloseAll() {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	for id, c := range cm.consoles {
		c.cancel()
		if c.conn != nil {
			msg := websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down")
			c.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
			c.conn.Close()
		}
		delete(cm.consoles, id)
	}
}
