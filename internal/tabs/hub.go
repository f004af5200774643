// Package tabs talks to browser companions that report open tabs and
// navigate them away from sites as they relock.
package tabs

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/dori/taskgate/internal/registry"
)

const writeTimeout = 5 * time.Second

// Message types
const (
	TypeTabs     = "tabs"
	TypeRedirect = "redirect"
)

// Tab is one open browser tab
type Tab struct {
	ID  int    `json:"id"`
	URL string `json:"url"`
}

// Message is exchanged with companions as one JSON text frame
type Message struct {
	Type  string `json:"type"`
	Tabs  []Tab  `json:"tabs,omitempty"`
	TabID int    `json:"tabId,omitempty"`
	URL   string `json:"url,omitempty"`
}

var upgrader = websocket.Upgrader{
	// Companions are browser extensions with their own origins
	CheckOrigin: func(r *http.Request) bool { return true },
}

type client struct {
	conn *websocket.Conn

	wmu  sync.Mutex
	mu   sync.Mutex
	tabs []Tab
}

func (c *client) send(msg Message) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	c.wmu.Lock()
	defer c.wmu.Unlock()
	c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return c.conn.WriteMessage(websocket.TextMessage, data)
}

// Hub tracks connected companions and their tabs
type Hub struct {
	blockPage string
	log       *slog.Logger

	mu      sync.Mutex
	clients map[*client]struct{}
}

// NewHub creates a hub that sends relocked tabs to blockPage
func NewHub(blockPage string, log *slog.Logger) *Hub {
	return &Hub{blockPage: blockPage, log: log, clients: make(map[*client]struct{})}
}

// ServeHTTP upgrades a companion connection and reads its tab reports
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Debug("Websocket upgrade failed", "error", err)
		return
	}
	c := &client{conn: conn}

	h.mu.Lock()
	h.clients[c] = struct{}{}
	h.mu.Unlock()
	h.log.Debug("Tab companion connected", "remote", r.RemoteAddr)

	defer func() {
		h.mu.Lock()
		delete(h.clients, c)
		h.mu.Unlock()
		conn.Close()
	}()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		var msg Message
		if err := json.Unmarshal(data, &msg); err != nil {
			continue
		}
		if msg.Type == TypeTabs {
			c.mu.Lock()
			c.tabs = msg.Tabs
			c.mu.Unlock()
		}
	}
}

// Clients returns the number of connected companions
func (h *Hub) Clients() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// RedirectMatching navigates every tab on one of sites, or a subdomain of
// one, to the block page. It returns the number of redirects sent.
func (h *Hub) RedirectMatching(sites []string) int {
	h.mu.Lock()
	clients := make([]*client, 0, len(h.clients))
	for c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.Unlock()

	sent := 0
	for _, c := range clients {
		c.mu.Lock()
		tabs := append([]Tab(nil), c.tabs...)
		c.mu.Unlock()

		for _, tab := range tabs {
			u, err := url.Parse(tab.URL)
			if err != nil {
				continue
			}
			site, ok := registry.MatchHost(u.Hostname(), sites)
			if !ok {
				continue
			}
			err = c.send(Message{Type: TypeRedirect, TabID: tab.ID, URL: h.blockPage + "?site=" + url.QueryEscape(site)})
			if err != nil {
				h.log.Warn("Failed to redirect tab", "tab", tab.ID, "error", err)
				continue
			}
			sent++
		}
	}
	return sent
}
