// The minigame contract shared by every game on the platform.
//
// A game session owns one authoritative state machine. Inbound player
// actions and timer fires are applied one at a time by the owning room,
// and every transition is expressed as a list of outbound messages
// tagged with an audience, never as a direct socket write. Rendering
// clients hold no authoritative state; they rebuild their view from
// broadcasts plus an explicit resync (game:request-state) at any time.

package main

import (
	"time"
)

type audience int

const (
	// audiencePlayer delivers to one player's private channel.
	audiencePlayer audience = iota
	// audienceAll delivers the same payload to every controller view
	// and to the shared display.
	audienceAll
	// audienceSpectator delivers to the shared display only, for
	// aggregate-only progress the controllers already know privately.
	audienceSpectator
)

// outbound is one broadcast instruction produced by a state transition.
type outbound struct {
	audience audience
	playerID string // set when audience == audiencePlayer
	event    string
	payload  any
}

func toPlayer(playerID, event string, payload any) outbound {
	return outbound{audience: audiencePlayer, playerID: playerID, event: event, payload: payload}
}

func toAll(event string, payload any) outbound {
	return outbound{audience: audienceAll, event: event, payload: payload}
}

func toSpectator(event string, payload any) outbound {
	return outbound{audience: audienceSpectator, event: event, payload: payload}
}

// envelope is the wire shape for every server-to-client message.
type envelope struct {
	Type string `json:"type"`
	Data any    `json:"data,omitempty"`
}

// timerArm asks the room to schedule a phase timer. The epoch pins the
// timer to the phase that armed it: a fire whose epoch no longer
// matches the session's current phase epoch is ignored, so a timer can
// never double-apply after its phase resolved early.
type timerArm struct {
	epoch int
	after time.Duration
}

// gameResult is reported to the room when a session finishes so queued
// players can be returned to the shared room.
type gameResult struct {
	Winner string `json:"winner,omitempty"`
	Reason string `json:"reason,omitempty"`
}

// gamePlayer is the roster entry handed over from the room queue.
type gamePlayer struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// gameSession is implemented by each minigame engine. Implementations
// are not safe for concurrent use; the owning room serializes all
// calls.
type gameSession interface {
	id() string
	gameType() string

	// begin produces the initial broadcasts (and arms the first timer,
	// if any). Called exactly once, after the queue hand-off.
	begin() []outbound

	// handle validates a player action against the current phase and
	// applies it. Rejections surface as error messages to the sender
	// only; stale actions are dropped.
	handle(playerID string, msg clientMessage) []outbound

	// timerFired applies a scheduled transition. Fires carrying a
	// stale epoch are no-ops.
	timerFired(epoch int) []outbound

	// setConnected marks a player (un)available for quorum counting.
	// Disconnection never removes a player or their role.
	setConnected(playerID string, connected bool) []outbound

	// stateFor derives the full current view for one player without
	// mutating state. Used for both reconnect resync and scene mounts;
	// calling it any number of times yields identical payloads.
	stateFor(playerID string) outbound

	// spectatorState derives the shared-display view. Never contains
	// hidden role information before game over.
	spectatorState() outbound

	// players returns the session roster in seat order.
	players() []gamePlayer

	// finished reports whether the session is over and, if so, how.
	finished() (gameResult, bool)

	// takeTimer returns and clears the pending timer request, if any.
	takeTimer() (timerArm, bool)
}

// GameInfo describes a launchable minigame for the queue layer.
type GameInfo struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
	MinPlayers  int    `json:"minPlayers"`
	MaxPlayers  int    `json:"maxPlayers"`
}

var gameCatalog = []GameInfo{
	{
		ID:          "avalon",
		Name:        "Avalon",
		Description: "Hidden roles, secret teams, and one chance to find Merlin.",
		MinPlayers:  5,
		MaxPlayers:  10,
	},
	{
		ID:          "caption-contest",
		Name:        "Caption Contest",
		Description: "Caption the picture, vote for the best line.",
		MinPlayers:  3,
		MaxPlayers:  12,
	},
}

func lookupGame(gameType string) (GameInfo, bool) {
	for _, info := range gameCatalog {
		if info.ID == gameType {
			return info, true
		}
	}
	return GameInfo{}, false
}

func newGameSession(cfg *Config, info GameInfo, roster []gamePlayer) gameSession {
	switch info.ID {
	case "avalon":
		return newAvalonSession(cfg, roster)
	case "caption-contest":
		return newCaptionSession(cfg, roster)
	default:
		return nil
	}
}
