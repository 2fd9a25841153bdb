// Transport layer for the party platform.
//
// Each room gets two websocket surfaces: /party/:room/ws for per-player
// controller views, and /party/:room/host/ws for the shared spectator
// display. Players are identified by cookie so a reconnecting phone
// keeps its seat; the host surface is anonymous and read-mostly.

package main

import (
	"crypto/rand"
	"encoding/hex"
	"log"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/julienschmidt/httprouter"
	"github.com/skip2/go-qrcode"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

const playerCookieName = "parlor_id"

func getOrSetPlayerID(w http.ResponseWriter, r *http.Request) string {
	if c, err := r.Cookie(playerCookieName); err == nil && c.Value != "" {
		return c.Value
	}

	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		log.Println("rand.Read error:", err)
		return ""
	}
	id := hex.EncodeToString(buf)

	http.SetCookie(w, &http.Cookie{
		Name:     playerCookieName,
		Value:    id,
		Path:     "/",
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})

	return id
}

// Client is one websocket connection, either a controller or the
// shared display.
type Client struct {
	conn     *websocket.Conn
	send     chan any
	playerID string // empty for spectator connections
	host     bool
}

type inboundMessage struct {
	client *Client
	msg    clientMessage
}

// RoomManager holds a set of rooms keyed by room code.
type RoomManager struct {
	mu          sync.Mutex
	rooms       map[string]*Room
	idleTimeout time.Duration
}

func newRoomManager(idleTimeout time.Duration) *RoomManager {
	rm := &RoomManager{
		rooms:       make(map[string]*Room),
		idleTimeout: idleTimeout,
	}
	if idleTimeout > 0 {
		go rm.reaperLoop()
	}
	return rm
}

func (rm *RoomManager) getRoom(cfg *Config, code string) *Room {
	rm.mu.Lock()
	defer rm.mu.Unlock()

	if room, ok := rm.rooms[code]; ok {
		return room
	}

	room := newRoom(cfg, code)
	rm.rooms[code] = room
	go room.run(cfg)
	return room
}

// newRoomCode generates a crypto-random 4-letter code and ensures it
// doesn't collide with an existing room.
func (rm *RoomManager) newRoomCode() string {
	const letters = "ABCDEFGHIJKLMNOPQRSTUVWXYZ"
	for {
		buf := make([]byte, 4)
		if _, err := rand.Read(buf); err != nil {
			panic("crypto/rand failure: " + err.Error())
		}
		out := make([]byte, 4)
		for i := range out {
			out[i] = letters[int(buf[i])%len(letters)]
		}
		code := string(out)

		rm.mu.Lock()
		_, exists := rm.rooms[code]
		rm.mu.Unlock()

		if !exists {
			return code
		}
	}
}

// reaperLoop periodically removes rooms that have been idle longer
// than idleTimeout.
func (rm *RoomManager) reaperLoop() {
	ticker := time.NewTicker(rm.idleTimeout / 2)
	for range ticker.C {
		cutoff := time.Now().Add(-rm.idleTimeout)

		rm.mu.Lock()
		for code, room := range rm.rooms {
			room.mu.RLock()
			last := room.lastActive
			room.mu.RUnlock()

			if last.Before(cutoff) {
				delete(rm.rooms, code)
				go room.closeAll()
			}
		}
		rm.mu.Unlock()
	}
}

func serveControllerWS(cfg *Config, rm *RoomManager) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
		code := strings.ToUpper(ps.ByName("room"))
		if code == "" {
			http.Error(w, "missing room code", http.StatusBadRequest)
			return
		}

		playerID := getOrSetPlayerID(w, r)
		if playerID == "" {
			http.Error(w, "unable to assign player id", http.StatusInternalServerError)
			return
		}

		room := rm.getRoom(cfg, code)

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			log.Println("upgrade error:", err)
			return
		}

		client := &Client{
			conn:     conn,
			send:     make(chan any, 16),
			playerID: playerID,
		}

		room.register <- client

		go client.writePump()
		client.readPump(room)
	}
}

func serveHostWS(cfg *Config, rm *RoomManager) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
		code := strings.ToUpper(ps.ByName("room"))
		if code == "" {
			http.Error(w, "missing room code", http.StatusBadRequest)
			return
		}

		room := rm.getRoom(cfg, code)

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			log.Println("upgrade error:", err)
			return
		}

		client := &Client{
			conn: conn,
			send: make(chan any, 16),
			host: true,
		}

		room.register <- client

		go client.writePump()
		client.readPump(room)
	}
}

func (c *Client) readPump(room *Room) {
	defer func() {
		room.unreg <- c
		_ = c.conn.Close()
	}()

	for {
		var msg clientMessage
		if err := c.conn.ReadJSON(&msg); err != nil {
			return
		}

		if msg.Type == "" {
			continue
		}

		room.inbound <- inboundMessage{
			client: c,
			msg:    msg,
		}
	}
}

func (c *Client) writePump() {
	defer c.conn.Close()

	for msg := range c.send {
		if err := c.conn.WriteJSON(msg); err != nil {
			return
		}
	}
}

// QR handler: generates a PNG QR code for the controller join URL.
func qrHandler(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	code := ps.ByName("room")
	if code == "" {
		http.Error(w, "missing room code", http.StatusBadRequest)
		return
	}

	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	if proto := r.Header.Get("X-Forwarded-Proto"); proto != "" {
		scheme = proto
	}

	// We are at /.../:room/qr; strip trailing "/qr" to get the join URL.
	path := strings.TrimSuffix(r.URL.Path, "/qr")

	url := scheme + "://" + r.Host + path

	const qrSize = 320 // mobile-friendly size
	png, err := qrcode.Encode(url, qrcode.Medium, qrSize)
	if err != nil {
		http.Error(w, "qr generation failed", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "image/png")
	_, _ = w.Write(png)
}

func getControllerPage(cfg *Config) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		securityHeaders(cfg, w)

		_ = getOrSetPlayerID(w, r)

		_, _ = w.Write([]byte(newPage("parlor", "Controller client connects here via /ws")))
	}
}

func getHostPage(cfg *Config) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		securityHeaders(cfg, w)

		_, _ = w.Write([]byte(newPage("parlor host", "Shared display connects here via /host/ws")))
	}
}

// redirectNewRoom handles GET /party by generating a new room code and
// redirecting the shared display to /party/:room/host.
func redirectNewRoom(cfg *Config, path string, rm *RoomManager) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
		code := rm.newRoomCode()
		logf(cfg, "ROOMS: Created room %s", code)
		http.Redirect(w, r, path+"/"+code+"/host", http.StatusTemporaryRedirect)
	}
}

// registerParty sets up routes so that:
//   - $path                    → redirects to a new room's host view
//   - $path/:room              → controller view
//   - $path/:room/ws           → controller websocket
//   - $path/:room/host         → shared display view
//   - $path/:room/host/ws      → shared display websocket
//   - $path/:room/qr           → PNG QR code for the controller URL
func registerParty(cfg *Config, path string, mux *httprouter.Router) {
	rm := newRoomManager(cfg.sessionTimeout)

	mux.GET(cfg.prefix+path, redirectNewRoom(cfg, cfg.prefix+path, rm))

	mux.GET(cfg.prefix+path+"/:room", getControllerPage(cfg))

	mux.GET(cfg.prefix+path+"/:room/ws", serveControllerWS(cfg, rm))

	mux.GET(cfg.prefix+path+"/:room/host", getHostPage(cfg))

	mux.GET(cfg.prefix+path+"/:room/host/ws", serveHostWS(cfg, rm))

	mux.GET(cfg.prefix+path+"/:room/qr", qrHandler)
}
