// Room hub: one shared virtual room per code.
//
// The room owns the roster, the per-game launch queues, and every
// running minigame session. All inbound actions and timer fires are
// applied on the room's single run loop, so no two actions for the
// same session are ever applied concurrently. The room is the only
// component that touches sockets: engines return broadcast
// instructions and the room routes them to the matching surfaces.

package main

import (
	"strings"
	"sync"
	"time"
)

// RoomPlayer is a roster entry. Disconnection never removes a player;
// it only marks them unavailable for quorum counting.
type RoomPlayer struct {
	ID        string
	Name      string
	Connected bool
}

type timerFire struct {
	sessionID string
	epoch     int
}

type Room struct {
	code string

	clients map[*Client]bool // controller connections
	hosts   map[*Client]bool // shared display connections
	players []*RoomPlayer

	register chan *Client
	unreg    chan *Client
	inbound  chan inboundMessage
	fires    chan timerFire

	mu sync.RWMutex

	createdAt  time.Time
	lastActive time.Time

	queues   map[string][]string    // gameType -> queued player ids, join order
	sessions map[string]gameSession // session id -> running game
	inGame   map[string]string      // player id -> session id
	timers   map[string]*time.Timer // session id -> pending phase timer
}

func newRoom(cfg *Config, code string) *Room {
	now := time.Now()
	return &Room{
		code:     code,
		clients:  make(map[*Client]bool),
		hosts:    make(map[*Client]bool),
		register: make(chan *Client),
		unreg:    make(chan *Client),
		inbound:  make(chan inboundMessage, 16),
		fires:    make(chan timerFire, 16),

		createdAt:  now,
		lastActive: now,

		queues:   make(map[string][]string),
		sessions: make(map[string]gameSession),
		inGame:   make(map[string]string),
		timers:   make(map[string]*time.Timer),
	}
}

func (rm *Room) run(cfg *Config) {
	for {
		select {
		case c := <-rm.register:
			rm.handleRegister(cfg, c)

		case c := <-rm.unreg:
			rm.handleUnregister(cfg, c)

		case in := <-rm.inbound:
			rm.handleInbound(cfg, in)

		case fire := <-rm.fires:
			rm.handleTimerFire(cfg, fire)
		}
	}
}

// sendLocked queues one message for a client, evicting it if the send
// buffer is full. Assumes rm.mu is held.
func (rm *Room) sendLocked(c *Client, payload any) {
	select {
	case c.send <- payload:
	default:
		if c.host {
			delete(rm.hosts, c)
		} else {
			delete(rm.clients, c)
		}
		close(c.send)
	}
}

func (rm *Room) playerLocked(playerID string) *RoomPlayer {
	for _, p := range rm.players {
		if p.ID == playerID {
			return p
		}
	}
	return nil
}

func (rm *Room) roomStateLocked() roomStateMessage {
	players := make([]roomPlayerInfo, 0, len(rm.players))
	for _, p := range rm.players {
		players = append(players, roomPlayerInfo{
			ID:        p.ID,
			Name:      p.Name,
			Connected: p.Connected,
			InGame:    rm.inGame[p.ID],
		})
	}
	return roomStateMessage{
		RoomCode: rm.code,
		Players:  players,
		Games:    gameCatalog,
	}
}

func (rm *Room) broadcastRoomStateLocked() {
	msg := envelope{Type: "room-state", Data: rm.roomStateLocked()}
	for c := range rm.clients {
		rm.sendLocked(c, msg)
	}
	for c := range rm.hosts {
		rm.sendLocked(c, msg)
	}
}

// dispatchLocked routes broadcast instructions to the matching
// surfaces. Public broadcasts reach every controller and the shared
// display; spectator broadcasts reach the shared display only; private
// reveals reach exactly the owning player's connections.
func (rm *Room) dispatchLocked(effects []outbound) {
	for _, eff := range effects {
		msg := envelope{Type: eff.event, Data: eff.payload}

		switch eff.audience {
		case audiencePlayer:
			for c := range rm.clients {
				if c.playerID == eff.playerID {
					rm.sendLocked(c, msg)
				}
			}
		case audienceAll:
			for c := range rm.clients {
				rm.sendLocked(c, msg)
			}
			for c := range rm.hosts {
				rm.sendLocked(c, msg)
			}
		case audienceSpectator:
			for c := range rm.hosts {
				rm.sendLocked(c, msg)
			}
		}
	}
}

func (rm *Room) handleRegister(cfg *Config, c *Client) {
	rm.mu.Lock()
	defer rm.mu.Unlock()

	rm.lastActive = time.Now()

	if c.host {
		rm.hosts[c] = true
		rm.sendLocked(c, envelope{Type: "room-state", Data: rm.roomStateLocked()})
		// Snapshot only the registering display; peers already mirror
		// the live stream.
		for _, g := range rm.sessions {
			state := g.spectatorState()
			rm.sendLocked(c, envelope{Type: state.event, Data: state.payload})
		}
		return
	}

	rm.clients[c] = true

	if p := rm.playerLocked(c.playerID); p != nil {
		p.Connected = true
		logf(cfg, "ROOMS: Player %q reconnected to %s", p.Name, rm.code)

		if sid, ok := rm.inGame[p.ID]; ok {
			if g, ok := rm.sessions[sid]; ok {
				rm.dispatchLocked(g.setConnected(p.ID, true))
				rm.dispatchLocked([]outbound{g.stateFor(p.ID)})
				rm.armTimerLocked(cfg, g)
			}
		}
		rm.broadcastRoomStateLocked()
		return
	}

	// New cookie: roster entry is created on the first join message.
	rm.sendLocked(c, envelope{Type: "room-state", Data: rm.roomStateLocked()})
}

func (rm *Room) handleUnregister(cfg *Config, c *Client) {
	rm.mu.Lock()
	defer rm.mu.Unlock()

	rm.lastActive = time.Now()

	if c.host {
		if _, ok := rm.hosts[c]; ok {
			delete(rm.hosts, c)
			close(c.send)
		}
		return
	}

	if _, ok := rm.clients[c]; ok {
		delete(rm.clients, c)
		close(c.send)
	}

	if c.playerID == "" {
		return
	}

	// Another tab may still be connected for the same cookie.
	for other := range rm.clients {
		if other.playerID == c.playerID {
			return
		}
	}

	if p := rm.playerLocked(c.playerID); p != nil {
		p.Connected = false
		logf(cfg, "ROOMS: Player %q disconnected from %s", p.Name, rm.code)

		rm.dropFromQueuesLocked(p.ID)
		if sid, ok := rm.inGame[p.ID]; ok {
			if g, ok := rm.sessions[sid]; ok {
				rm.applyEffectsLocked(cfg, g, g.setConnected(p.ID, false))
			}
		}
		rm.broadcastRoomStateLocked()

		go rm.scheduleRemoval(cfg, c.playerID, cfg.playerTimeout)
	}
}

// scheduleRemoval waits for d, and if no client with this playerID has
// reconnected and the player is not mid-game, removes the roster entry.
func (rm *Room) scheduleRemoval(cfg *Config, playerID string, d time.Duration) {
	time.Sleep(d)

	rm.mu.Lock()
	defer rm.mu.Unlock()

	for client := range rm.clients {
		if client.playerID == playerID {
			return
		}
	}

	if _, busy := rm.inGame[playerID]; busy {
		return
	}

	dst := rm.players[:0]
	changed := false
	for _, p := range rm.players {
		if p.ID == playerID {
			changed = true
			continue
		}
		dst = append(dst, p)
	}
	rm.players = dst

	if !changed {
		return
	}

	rm.lastActive = time.Now()
	rm.dropFromQueuesLocked(playerID)
	rm.broadcastRoomStateLocked()
}

func (rm *Room) handleInbound(cfg *Config, in inboundMessage) {
	rm.mu.Lock()
	defer rm.mu.Unlock()

	rm.lastActive = time.Now()

	c := in.client
	msg := in.msg

	switch {
	case msg.Type == "join":
		rm.handleJoinLocked(cfg, c, msg)

	case msg.Type == "game:join-queue":
		rm.handleJoinQueueLocked(cfg, c, msg.GameType)

	case msg.Type == "game:leave-queue":
		rm.dropFromQueuesLocked(c.playerID)
		rm.broadcastQueuesLocked()

	case msg.Type == "game:start-queued":
		rm.handleStartQueuedLocked(cfg, c, msg.GameType)

	case msg.Type == "game:request-state":
		rm.handleResyncLocked(c)

	case msg.Type == "game:leave":
		rm.handleLeaveGameLocked(cfg, c)

	case strings.Contains(msg.Type, ":"):
		rm.forwardToGameLocked(cfg, c, msg)
	}
}

func (rm *Room) handleJoinLocked(cfg *Config, c *Client, msg clientMessage) {
	name := strings.TrimSpace(msg.Name)
	if name == "" || c.playerID == "" || c.host {
		return
	}

	for _, p := range rm.players {
		if p.ID != c.playerID && p.Name == name {
			rm.sendLocked(c, envelope{Type: "error", Data: errorMessage{Message: errNameTaken.Error()}})
			return
		}
	}

	if p := rm.playerLocked(c.playerID); p != nil {
		p.Name = name
		p.Connected = true
	} else {
		rm.players = append(rm.players, &RoomPlayer{
			ID:        c.playerID,
			Name:      name,
			Connected: true,
		})
		logf(cfg, "ROOMS: Player %q joined %s", name, rm.code)
	}

	rm.broadcastRoomStateLocked()
}

func (rm *Room) handleJoinQueueLocked(cfg *Config, c *Client, gameType string) {
	p := rm.playerLocked(c.playerID)
	if p == nil {
		return
	}

	info, ok := lookupGame(gameType)
	if !ok {
		rm.sendLocked(c, envelope{Type: "error", Data: errorMessage{Message: "unknown game type"}})
		return
	}

	if _, busy := rm.inGame[p.ID]; busy {
		rm.sendLocked(c, envelope{Type: "error", Data: errorMessage{Message: "already in a game"}})
		return
	}

	rm.dropFromQueuesLocked(p.ID)
	rm.queues[gameType] = append(rm.queues[gameType], p.ID)
	logf(cfg, "QUEUE: Player %q queued for %s in %s", p.Name, gameType, rm.code)

	rm.broadcastQueuesLocked()

	// A full queue hands off without waiting for an explicit start.
	if len(rm.queues[gameType]) >= info.MaxPlayers {
		rm.launchLocked(cfg, info)
	}
}

func (rm *Room) handleStartQueuedLocked(cfg *Config, c *Client, gameType string) {
	info, ok := lookupGame(gameType)
	if !ok {
		return
	}

	queue := rm.queues[gameType]

	// Only the shared display or the first-queued player may launch.
	if !c.host && (len(queue) == 0 || queue[0] != c.playerID) {
		rm.sendLocked(c, envelope{Type: "error", Data: errorMessage{Message: errUnauthorized.Error()}})
		return
	}

	if len(queue) < info.MinPlayers || len(queue) > info.MaxPlayers {
		rm.sendLocked(c, envelope{Type: "error", Data: errorMessage{Message: errRosterSize.Error()}})
		return
	}

	rm.launchLocked(cfg, info)
}

// launchLocked performs the queue hand-off: snapshot the ordered queue
// into a session roster, create the engine, and announce the start.
func (rm *Room) launchLocked(cfg *Config, info GameInfo) {
	queue := rm.queues[info.ID]
	if len(queue) < info.MinPlayers {
		return
	}
	if len(queue) > info.MaxPlayers {
		queue = queue[:info.MaxPlayers]
	}

	roster := make([]gamePlayer, 0, len(queue))
	for _, pid := range queue {
		if p := rm.playerLocked(pid); p != nil {
			roster = append(roster, gamePlayer{ID: p.ID, Name: p.Name})
		}
	}
	if len(roster) < info.MinPlayers {
		return
	}

	g := newGameSession(cfg, info, roster)
	if g == nil {
		return
	}

	rm.sessions[g.id()] = g
	remaining := rm.queues[info.ID][len(queue):]
	if len(remaining) == 0 {
		delete(rm.queues, info.ID)
	} else {
		rm.queues[info.ID] = remaining
	}
	for _, p := range roster {
		rm.inGame[p.ID] = g.id()
	}

	logf(cfg, "GAMES: Started %s session %s with %d players in %s", info.ID, g.id(), len(roster), rm.code)

	rm.dispatchLocked([]outbound{toAll("game:started", gameStartedMessage{
		SessionID: g.id(),
		GameType:  info.ID,
		GameName:  info.Name,
		Players:   roster,
	})})
	rm.broadcastQueuesLocked()
	rm.broadcastRoomStateLocked()

	rm.applyEffectsLocked(cfg, g, g.begin())
}

func (rm *Room) handleResyncLocked(c *Client) {
	if c.host {
		rm.sendLocked(c, envelope{Type: "room-state", Data: rm.roomStateLocked()})
		for _, g := range rm.sessions {
			state := g.spectatorState()
			rm.sendLocked(c, envelope{Type: state.event, Data: state.payload})
		}
		return
	}

	rm.sendLocked(c, envelope{Type: "room-state", Data: rm.roomStateLocked()})

	if sid, ok := rm.inGame[c.playerID]; ok {
		if g, ok := rm.sessions[sid]; ok {
			state := g.stateFor(c.playerID)
			rm.sendLocked(c, envelope{Type: state.event, Data: state.payload})
		}
	}
}

func (rm *Room) handleLeaveGameLocked(cfg *Config, c *Client) {
	sid, ok := rm.inGame[c.playerID]
	if !ok {
		return
	}
	g, ok := rm.sessions[sid]
	if !ok {
		return
	}

	// Leaving mid-game is a permanent disconnect from that session's
	// point of view; the role and seat stay assigned.
	delete(rm.inGame, c.playerID)
	rm.applyEffectsLocked(cfg, g, g.setConnected(c.playerID, false))
	rm.dispatchLocked([]outbound{toPlayer(c.playerID, "game:left", nil)})

	// The session is torn down when its last player walks away.
	anyLeft := false
	for _, p := range g.players() {
		if rm.inGame[p.ID] == sid {
			anyLeft = true
			break
		}
	}
	if !anyLeft {
		rm.endSessionLocked(cfg, g, gameResult{Reason: "all players left"})
	}

	rm.broadcastRoomStateLocked()
}

func (rm *Room) forwardToGameLocked(cfg *Config, c *Client, msg clientMessage) {
	sid, ok := rm.inGame[c.playerID]
	if !ok {
		// Action for a session the player is no longer part of:
		// stale, logged, dropped.
		logf(cfg, "GAMES: Dropped stale %q from %s in %s", msg.Type, c.playerID, rm.code)
		return
	}
	g, ok := rm.sessions[sid]
	if !ok {
		return
	}

	rm.applyEffectsLocked(cfg, g, g.handle(c.playerID, msg))
}

func (rm *Room) handleTimerFire(cfg *Config, fire timerFire) {
	rm.mu.Lock()
	defer rm.mu.Unlock()

	g, ok := rm.sessions[fire.sessionID]
	if !ok {
		return
	}

	rm.lastActive = time.Now()
	rm.applyEffectsLocked(cfg, g, g.timerFired(fire.epoch))
}

// applyEffectsLocked dispatches a transition's broadcasts, re-arms the
// session's phase timer if the engine requested one, and tears the
// session down once the engine reports it finished.
func (rm *Room) applyEffectsLocked(cfg *Config, g gameSession, effects []outbound) {
	rm.dispatchLocked(effects)
	rm.armTimerLocked(cfg, g)

	if result, done := g.finished(); done {
		rm.endSessionLocked(cfg, g, result)
	}
}

func (rm *Room) armTimerLocked(cfg *Config, g gameSession) {
	arm, ok := g.takeTimer()
	if !ok {
		return
	}

	if t, exists := rm.timers[g.id()]; exists {
		t.Stop()
	}

	sid := g.id()
	rm.timers[sid] = time.AfterFunc(arm.after, func() {
		rm.fires <- timerFire{sessionID: sid, epoch: arm.epoch}
	})
}

func (rm *Room) endSessionLocked(cfg *Config, g gameSession, result gameResult) {
	sid := g.id()

	if t, ok := rm.timers[sid]; ok {
		t.Stop()
		delete(rm.timers, sid)
	}

	for _, p := range g.players() {
		if rm.inGame[p.ID] == sid {
			delete(rm.inGame, p.ID)
		}
	}
	delete(rm.sessions, sid)

	logf(cfg, "GAMES: Ended %s session %s in %s (%s)", g.gameType(), sid, rm.code, result.Reason)

	rm.dispatchLocked([]outbound{toAll("game:ended", gameEndedMessage{
		SessionID: sid,
		GameType:  g.gameType(),
		Result:    result,
	})})
	rm.broadcastRoomStateLocked()
}

func (rm *Room) dropFromQueuesLocked(playerID string) {
	for gameType, queue := range rm.queues {
		dst := queue[:0]
		for _, pid := range queue {
			if pid == playerID {
				continue
			}
			dst = append(dst, pid)
		}
		if len(dst) == 0 {
			delete(rm.queues, gameType)
		} else {
			rm.queues[gameType] = dst
		}
	}
}

func (rm *Room) broadcastQueuesLocked() {
	for _, info := range gameCatalog {
		queue := rm.queues[info.ID]

		names := make([]string, 0, len(queue))
		for _, pid := range queue {
			if p := rm.playerLocked(pid); p != nil {
				names = append(names, p.Name)
			}
		}

		needed := info.MinPlayers - len(queue)
		if needed < 0 {
			needed = 0
		}

		rm.dispatchLocked([]outbound{toAll("game:queue-update", queueUpdateMessage{
			GameType: info.ID,
			Count:    len(queue),
			Needed:   needed,
			Queued:   names,
		})})
	}
}

// closeAll disconnects all clients of this room (used by reaper).
func (rm *Room) closeAll() {
	rm.mu.Lock()
	defer rm.mu.Unlock()

	for _, t := range rm.timers {
		t.Stop()
	}

	for c := range rm.clients {
		close(c.send)
		_ = c.conn.Close()
		delete(rm.clients, c)
	}
	for c := range rm.hosts {
		close(c.send)
		_ = c.conn.Close()
		delete(rm.hosts, c)
	}
}
