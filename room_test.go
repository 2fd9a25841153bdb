package main

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeClient builds a controller connection without a socket; the room
// only ever touches the send channel until a write pump drains it.
func fakeClient(playerID string) *Client {
	return &Client{
		send:     make(chan any, 64),
		playerID: playerID,
	}
}

func fakeHost() *Client {
	return &Client{
		send: make(chan any, 64),
		host: true,
	}
}

// drain empties a client's send buffer into typed envelopes.
func drain(c *Client) []envelope {
	var out []envelope
	for {
		select {
		case msg := <-c.send:
			out = append(out, msg.(envelope))
		default:
			return out
		}
	}
}

func lastNamed(msgs []envelope, event string) (envelope, bool) {
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].Type == event {
			return msgs[i], true
		}
	}
	return envelope{}, false
}

// joinedRoom registers n controller clients and joins them by name.
func joinedRoom(t *testing.T, cfg *Config, n int) (*Room, []*Client) {
	t.Helper()

	room := newRoom(cfg, "TEST")

	clients := make([]*Client, 0, n)
	for i := 1; i <= n; i++ {
		c := fakeClient(fmt.Sprintf("p%d", i))
		room.handleRegister(cfg, c)
		room.handleInbound(cfg, inboundMessage{
			client: c,
			msg:    clientMessage{Type: "join", Name: fmt.Sprintf("Player %d", i)},
		})
		clients = append(clients, c)
	}

	require.Len(t, room.players, n)
	return room, clients
}

func queueAll(cfg *Config, room *Room, clients []*Client, gameType string) {
	for _, c := range clients {
		room.handleInbound(cfg, inboundMessage{
			client: c,
			msg:    clientMessage{Type: "game:join-queue", GameType: gameType},
		})
	}
}

func TestRoomJoinAndNameCollision(t *testing.T) {
	cfg := testConfig()
	room, clients := joinedRoom(t, cfg, 2)

	impostor := fakeClient("p3")
	room.handleRegister(cfg, impostor)
	drain(impostor)

	room.handleInbound(cfg, inboundMessage{
		client: impostor,
		msg:    clientMessage{Type: "join", Name: "Player 1"},
	})

	msgs := drain(impostor)
	errMsg, ok := lastNamed(msgs, "error")
	require.True(t, ok)
	assert.Equal(t, errNameTaken.Error(), errMsg.Data.(errorMessage).Message)
	assert.Len(t, room.players, 2)

	// Rejoining under the same cookie renames instead of duplicating.
	room.handleInbound(cfg, inboundMessage{
		client: clients[0],
		msg:    clientMessage{Type: "join", Name: "Alice"},
	})
	assert.Len(t, room.players, 2)
	assert.Equal(t, "Alice", room.players[0].Name)
}

func TestRoomQueueUpdatesBroadcast(t *testing.T) {
	cfg := testConfig()
	room, clients := joinedRoom(t, cfg, 3)
	for _, c := range clients {
		drain(c)
	}

	room.handleInbound(cfg, inboundMessage{
		client: clients[0],
		msg:    clientMessage{Type: "game:join-queue", GameType: "avalon"},
	})

	msgs := drain(clients[1])

	var avalonUpdate queueUpdateMessage
	found := false
	for _, m := range msgs {
		if m.Type != "game:queue-update" {
			continue
		}
		if u := m.Data.(queueUpdateMessage); u.GameType == "avalon" {
			avalonUpdate = u
			found = true
		}
	}
	require.True(t, found)
	assert.Equal(t, 1, avalonUpdate.Count)
	assert.Equal(t, 4, avalonUpdate.Needed)
	assert.Equal(t, []string{"Player 1"}, avalonUpdate.Queued)

	// Leaving the queue empties it again.
	room.handleInbound(cfg, inboundMessage{
		client: clients[0],
		msg:    clientMessage{Type: "game:leave-queue"},
	})
	assert.Empty(t, room.queues["avalon"])
}

func TestRoomQueueRejectsUnknownAndBusy(t *testing.T) {
	cfg := testConfig()
	room, clients := joinedRoom(t, cfg, 5)
	drain(clients[0])

	room.handleInbound(cfg, inboundMessage{
		client: clients[0],
		msg:    clientMessage{Type: "game:join-queue", GameType: "charades"},
	})
	msgs := drain(clients[0])
	_, ok := lastNamed(msgs, "error")
	assert.True(t, ok)

	queueAll(cfg, room, clients, "avalon")
	room.handleInbound(cfg, inboundMessage{
		client: clients[0],
		msg:    clientMessage{Type: "game:start-queued", GameType: "avalon"},
	})
	require.Len(t, room.sessions, 1)
	drain(clients[0])

	// Mid-game players cannot queue again.
	room.handleInbound(cfg, inboundMessage{
		client: clients[0],
		msg:    clientMessage{Type: "game:join-queue", GameType: "caption-contest"},
	})
	msgs = drain(clients[0])
	_, ok = lastNamed(msgs, "error")
	assert.True(t, ok)
}

func TestRoomStartQueuedMinimumEnforced(t *testing.T) {
	cfg := testConfig()
	room, clients := joinedRoom(t, cfg, 4)

	queueAll(cfg, room, clients, "avalon")
	drain(clients[0])

	room.handleInbound(cfg, inboundMessage{
		client: clients[0],
		msg:    clientMessage{Type: "game:start-queued", GameType: "avalon"},
	})

	msgs := drain(clients[0])
	errMsg, ok := lastNamed(msgs, "error")
	require.True(t, ok)
	assert.Equal(t, errRosterSize.Error(), errMsg.Data.(errorMessage).Message)
	assert.Empty(t, room.sessions)
}

func TestRoomStartQueuedAuthorization(t *testing.T) {
	cfg := testConfig()
	room, clients := joinedRoom(t, cfg, 6)

	queueAll(cfg, room, clients, "avalon")
	drain(clients[5])

	// Only the first-queued player or the shared display may launch.
	room.handleInbound(cfg, inboundMessage{
		client: clients[5],
		msg:    clientMessage{Type: "game:start-queued", GameType: "avalon"},
	})
	msgs := drain(clients[5])
	_, ok := lastNamed(msgs, "error")
	assert.True(t, ok)
	assert.Empty(t, room.sessions)

	host := fakeHost()
	room.handleRegister(cfg, host)
	room.handleInbound(cfg, inboundMessage{
		client: host,
		msg:    clientMessage{Type: "game:start-queued", GameType: "avalon"},
	})
	assert.Len(t, room.sessions, 1)
}

func TestRoomQueueHandOff(t *testing.T) {
	cfg := testConfig()
	room, clients := joinedRoom(t, cfg, 5)
	for _, c := range clients {
		drain(c)
	}

	queueAll(cfg, room, clients, "avalon")
	room.handleInbound(cfg, inboundMessage{
		client: clients[0],
		msg:    clientMessage{Type: "game:start-queued", GameType: "avalon"},
	})

	require.Len(t, room.sessions, 1)
	for _, c := range clients {
		assert.NotEmpty(t, room.inGame[c.playerID])
	}
	assert.Empty(t, room.queues["avalon"])

	// Every controller hears the hand-off and the opening lobby.
	for _, c := range clients {
		msgs := drain(c)
		started, ok := lastNamed(msgs, "game:started")
		require.True(t, ok)
		payload := started.Data.(gameStartedMessage)
		assert.Equal(t, "avalon", payload.GameType)
		assert.Len(t, payload.Players, 5)

		// The roster preserves queue order.
		assert.Equal(t, "p1", payload.Players[0].ID)

		_, ok = lastNamed(msgs, "av:phase-changed")
		assert.True(t, ok)
	}
}

func TestRoomAutoLaunchAtCapacity(t *testing.T) {
	cfg := testConfig()
	room, clients := joinedRoom(t, cfg, 10)

	// The tenth queue entry fills Avalon and launches without an
	// explicit start.
	queueAll(cfg, room, clients, "avalon")
	assert.Len(t, room.sessions, 1)
}

func TestRoomForwardsGameActions(t *testing.T) {
	cfg := testConfig()
	room, clients := joinedRoom(t, cfg, 5)

	queueAll(cfg, room, clients, "avalon")
	room.handleInbound(cfg, inboundMessage{
		client: clients[0],
		msg:    clientMessage{Type: "game:start-queued", GameType: "avalon"},
	})
	require.Len(t, room.sessions, 1)
	drain(clients[0])

	room.handleInbound(cfg, inboundMessage{
		client: clients[0],
		msg:    clientMessage{Type: "av:start-game"},
	})

	msgs := drain(clients[0])
	reveal, ok := lastNamed(msgs, "av:your-role")
	require.True(t, ok)
	role := reveal.Data.(avYourRoleMessage)
	assert.NotEmpty(t, role.Role.ID)
}

func TestRoomPrivateRevealRouting(t *testing.T) {
	cfg := testConfig()
	room, clients := joinedRoom(t, cfg, 5)
	host := fakeHost()
	room.handleRegister(cfg, host)

	queueAll(cfg, room, clients, "avalon")
	room.handleInbound(cfg, inboundMessage{
		client: clients[0],
		msg:    clientMessage{Type: "game:start-queued", GameType: "avalon"},
	})
	for _, c := range clients {
		drain(c)
	}
	drain(host)

	room.handleInbound(cfg, inboundMessage{
		client: clients[0],
		msg:    clientMessage{Type: "av:start-game"},
	})

	// Each controller gets exactly one private reveal.
	for _, c := range clients {
		reveals := 0
		for _, m := range drain(c) {
			if m.Type == "av:your-role" {
				reveals++
			}
		}
		assert.Equal(t, 1, reveals, "client %s", c.playerID)
	}

	// The shared display gets none.
	for _, m := range drain(host) {
		assert.NotEqual(t, "av:your-role", m.Type)
	}
}

func TestRoomResync(t *testing.T) {
	cfg := testConfig()
	room, clients := joinedRoom(t, cfg, 5)

	queueAll(cfg, room, clients, "avalon")
	room.handleInbound(cfg, inboundMessage{
		client: clients[0],
		msg:    clientMessage{Type: "game:start-queued", GameType: "avalon"},
	})
	drain(clients[1])

	room.handleInbound(cfg, inboundMessage{
		client: clients[1],
		msg:    clientMessage{Type: "game:request-state"},
	})

	msgs := drain(clients[1])
	_, ok := lastNamed(msgs, "room-state")
	assert.True(t, ok)
	state, ok := lastNamed(msgs, "game:state")
	require.True(t, ok)
	assert.Equal(t, "avalon", state.Data.(avStateMessage).GameType)

	// A fresh host resyncs to the spectator view.
	host := fakeHost()
	room.handleRegister(cfg, host)
	msgs = drain(host)
	_, ok = lastNamed(msgs, "room-state")
	assert.True(t, ok)
	hostState, ok := lastNamed(msgs, "game:state")
	require.True(t, ok)
	assert.Nil(t, hostState.Data.(avStateMessage).MyRole)
}

func TestRoomReconnectRestoresGameState(t *testing.T) {
	cfg := testConfig()
	room, clients := joinedRoom(t, cfg, 5)

	queueAll(cfg, room, clients, "avalon")
	room.handleInbound(cfg, inboundMessage{
		client: clients[0],
		msg:    clientMessage{Type: "game:start-queued", GameType: "avalon"},
	})
	require.Len(t, room.sessions, 1)

	room.handleUnregister(cfg, clients[2])
	assert.False(t, room.players[2].Connected)

	// Mid-game players keep their seat through a disconnect.
	assert.NotEmpty(t, room.inGame["p3"])

	replacement := fakeClient("p3")
	room.handleRegister(cfg, replacement)

	msgs := drain(replacement)
	state, ok := lastNamed(msgs, "game:state")
	require.True(t, ok)
	assert.Equal(t, "avalon", state.Data.(avStateMessage).GameType)
	assert.True(t, room.players[2].Connected)
}

func TestRoomLeaveGameTeardown(t *testing.T) {
	cfg := testConfig()
	room, clients := joinedRoom(t, cfg, 5)

	queueAll(cfg, room, clients, "avalon")
	room.handleInbound(cfg, inboundMessage{
		client: clients[0],
		msg:    clientMessage{Type: "game:start-queued", GameType: "avalon"},
	})
	require.Len(t, room.sessions, 1)

	for i, c := range clients {
		room.handleInbound(cfg, inboundMessage{
			client: c,
			msg:    clientMessage{Type: "game:leave"},
		})
		if i < len(clients)-1 {
			assert.Len(t, room.sessions, 1)
		}
	}

	// The last player walking away tears the session down.
	assert.Empty(t, room.sessions)
	assert.Empty(t, room.inGame)

	msgs := drain(clients[0])
	ended, ok := lastNamed(msgs, "game:ended")
	require.True(t, ok)
	assert.Equal(t, "avalon", ended.Data.(gameEndedMessage).GameType)
}

func TestRoomStaleGameActionDropped(t *testing.T) {
	cfg := testConfig()
	room, clients := joinedRoom(t, cfg, 5)
	drain(clients[0])

	// An action for a session the player is not in is dropped without
	// an error reply.
	room.handleInbound(cfg, inboundMessage{
		client: clients[0],
		msg:    clientMessage{Type: "av:vote", Approve: ptr(true)},
	})

	msgs := drain(clients[0])
	_, ok := lastNamed(msgs, "error")
	assert.False(t, ok)
}

func TestRoomDisconnectDropsFromQueue(t *testing.T) {
	cfg := testConfig()
	room, clients := joinedRoom(t, cfg, 3)

	room.handleInbound(cfg, inboundMessage{
		client: clients[0],
		msg:    clientMessage{Type: "game:join-queue", GameType: "avalon"},
	})
	require.Len(t, room.queues["avalon"], 1)

	room.handleUnregister(cfg, clients[0])
	assert.Empty(t, room.queues["avalon"])
}

func TestRoomCodeGeneration(t *testing.T) {
	rm := newRoomManager(0)

	seen := make(map[string]bool)
	for i := 0; i < 32; i++ {
		code := rm.newRoomCode()
		require.Len(t, code, 4)
		for _, r := range code {
			assert.True(t, r >= 'A' && r <= 'Z')
		}
		seen[code] = true
	}
	assert.Greater(t, len(seen), 1)
}

func TestRoomSecondHostSnapshotsOnlyItself(t *testing.T) {
	cfg := testConfig()
	room, clients := joinedRoom(t, cfg, 5)

	queueAll(cfg, room, clients, "avalon")
	room.handleInbound(cfg, inboundMessage{
		client: clients[0],
		msg:    clientMessage{Type: "game:start-queued", GameType: "avalon"},
	})

	first := fakeHost()
	room.handleRegister(cfg, first)
	drain(first)

	second := fakeHost()
	room.handleRegister(cfg, second)

	// The established display keeps mirroring the live stream only;
	// it is not re-sent the newcomer's snapshot.
	assert.Empty(t, drain(first))

	msgs := drain(second)
	state, ok := lastNamed(msgs, "game:state")
	require.True(t, ok)
	assert.Equal(t, "avalon", state.Data.(avStateMessage).GameType)
}
