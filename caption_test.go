package main

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func startedCaption(t *testing.T, cfg *Config, n int) *captionSession {
	t.Helper()

	g := newCaptionSession(cfg, testRoster(n))
	effects := g.begin()

	started := eventsNamed(effects, "cap:round-started")
	require.Len(t, started, 1)
	msg := started[0].payload.(capRoundStartedMessage)
	require.Equal(t, 1, msg.Round)
	require.NotEmpty(t, msg.ImageURL)
	require.Equal(t, capPhaseSubmitting, g.phase)

	return g
}

// submitAll has every contestant caption the round, returning the
// transition that opened voting.
func submitAll(t *testing.T, g *captionSession) []outbound {
	t.Helper()

	var effects []outbound
	for _, c := range g.contestants {
		effects = append(effects, g.handle(c.ID, clientMessage{
			Type:    "cap:submit-caption",
			Caption: fmt.Sprintf("caption from %s", c.ID),
		})...)
	}
	require.Equal(t, capPhaseVoting, g.phase)
	return effects
}

// entryBy finds the ballot entry authored by the given contestant.
func entryBy(g *captionSession, playerID string) *capEntry {
	for i := range g.entries {
		if g.entries[i].authorID == playerID {
			return &g.entries[i]
		}
	}
	return nil
}

func TestCaptionRoundFlow(t *testing.T) {
	g := startedCaption(t, testConfig(), 3)

	effects := submitAll(t, g)

	voting := eventsNamed(effects, "cap:voting-started")
	require.Len(t, voting, 1)
	ballot := voting[0].payload.(capVotingStartedMessage)
	require.Len(t, ballot.Entries, 3)

	// The ballot is anonymized: entry ids are not player ids.
	for _, e := range ballot.Entries {
		for _, c := range g.contestants {
			assert.NotEqual(t, c.ID, e.EntryID)
		}
	}

	// Everyone votes for p1's caption.
	target := entryBy(g, "p1")
	require.NotNil(t, target)
	for _, c := range g.contestants {
		if c.ID == "p1" {
			continue
		}
		effects = g.handle(c.ID, clientMessage{Type: "cap:vote", VotedFor: target.entryID})
	}

	// p1 still owes a vote; the round is open.
	require.Equal(t, capPhaseVoting, g.phase)

	other := entryBy(g, "p2")
	effects = g.handle("p1", clientMessage{Type: "cap:vote", VotedFor: other.entryID})
	require.Equal(t, capPhaseResults, g.phase)

	results := eventsNamed(effects, "cap:round-results")
	require.Len(t, results, 1)
	msg := results[0].payload.(capRoundResultsMessage)
	require.Len(t, msg.Results, 3)

	byPlayer := make(map[string]capRoundResult, 3)
	for _, r := range msg.Results {
		byPlayer[r.PlayerID] = r
	}
	assert.Equal(t, 2, byPlayer["p1"].Votes)
	assert.Equal(t, 1, byPlayer["p2"].Votes)
	assert.Equal(t, 0, byPlayer["p3"].Votes)
	assert.Equal(t, 2, byPlayer["p1"].Score)
}

func TestCaptionSelfVoteRejected(t *testing.T) {
	g := startedCaption(t, testConfig(), 3)
	submitAll(t, g)

	own := entryBy(g, "p1")
	require.NotNil(t, own)

	effects := g.handle("p1", clientMessage{Type: "cap:vote", VotedFor: own.entryID})
	require.NotNil(t, firstError(effects))
	assert.NotContains(t, g.votes, "p1")

	// Unknown entries are rejected too.
	effects = g.handle("p1", clientMessage{Type: "cap:vote", VotedFor: "bogus"})
	require.NotNil(t, firstError(effects))
}

func TestCaptionResubmitReplaces(t *testing.T) {
	g := startedCaption(t, testConfig(), 3)

	g.handle("p1", clientMessage{Type: "cap:submit-caption", Caption: "first try"})
	g.handle("p1", clientMessage{Type: "cap:submit-caption", Caption: "better one"})

	assert.Equal(t, "better one", g.submissions["p1"])

	effects := g.handle("p1", clientMessage{Type: "cap:submit-caption", Caption: ""})
	require.NotNil(t, firstError(effects))
}

func TestCaptionSubmitDeadline(t *testing.T) {
	g := startedCaption(t, testConfig(), 3)

	g.handle("p1", clientMessage{Type: "cap:submit-caption", Caption: "only one"})

	arm, ok := g.takeTimer()
	require.True(t, ok)
	effects := g.timerFired(arm.epoch)

	// The deadline closes the round with whatever came in.
	require.Equal(t, capPhaseVoting, g.phase)
	voting := eventsNamed(effects, "cap:voting-started")
	require.Len(t, voting, 1)
	assert.Len(t, voting[0].payload.(capVotingStartedMessage).Entries, 1)

	// A straggler caption after the close is an error.
	late := g.handle("p2", clientMessage{Type: "cap:submit-caption", Caption: "too late"})
	require.NotNil(t, firstError(late))
}

func TestCaptionFullGame(t *testing.T) {
	g := startedCaption(t, testConfig(), 3)

	for round := 1; round <= captionRounds; round++ {
		require.Equal(t, round, g.round)
		submitAll(t, g)

		// p1 and p3 vote for p2; p2 votes for p1.
		p2entry := entryBy(g, "p2")
		p1entry := entryBy(g, "p1")
		g.handle("p1", clientMessage{Type: "cap:vote", VotedFor: p2entry.entryID})
		g.handle("p3", clientMessage{Type: "cap:vote", VotedFor: p2entry.entryID})
		g.handle("p2", clientMessage{Type: "cap:vote", VotedFor: p1entry.entryID})
		require.Equal(t, capPhaseResults, g.phase)

		arm, ok := g.takeTimer()
		require.True(t, ok)
		g.timerFired(arm.epoch)
	}

	require.Equal(t, capPhaseGameOver, g.phase)
	assert.Equal(t, "Player 2", g.result.Winner)

	// A reconnect during the final screen still shows the outcome.
	state := g.stateFor("p1").payload.(capStateMessage)
	assert.Equal(t, "Player 2", state.Winner)
	assert.NotEmpty(t, state.Reason)

	_, done := g.finished()
	assert.False(t, done)

	arm, ok := g.takeTimer()
	require.True(t, ok)
	g.timerFired(arm.epoch)

	result, done := g.finished()
	require.True(t, done)
	assert.Equal(t, "Player 2", result.Winner)
}

func TestCaptionHostSkipsResults(t *testing.T) {
	g := startedCaption(t, testConfig(), 3)
	submitAll(t, g)

	for _, voter := range []string{"p1", "p3"} {
		g.handle(voter, clientMessage{Type: "cap:vote", VotedFor: entryBy(g, "p2").entryID})
	}
	g.handle("p2", clientMessage{Type: "cap:vote", VotedFor: entryBy(g, "p1").entryID})
	require.Equal(t, capPhaseResults, g.phase)

	// Only the first-seated player may advance early.
	effects := g.handle("p2", clientMessage{Type: "cap:next-round"})
	require.NotNil(t, firstError(effects))

	effects = g.handle("p1", clientMessage{Type: "cap:next-round"})
	require.Equal(t, capPhaseSubmitting, g.phase)
	assert.Equal(t, 2, g.round)
	require.Len(t, eventsNamed(effects, "cap:round-started"), 1)

	// The abandoned results timer is stale.
	assert.Empty(t, g.timerFired(g.epoch-1))
}

func TestCaptionDisconnectCompletesQuorum(t *testing.T) {
	g := startedCaption(t, testConfig(), 3)

	g.handle("p1", clientMessage{Type: "cap:submit-caption", Caption: "one"})
	g.handle("p2", clientMessage{Type: "cap:submit-caption", Caption: "two"})
	require.Equal(t, capPhaseSubmitting, g.phase)

	effects := g.setConnected("p3", false)
	require.Equal(t, capPhaseVoting, g.phase)
	require.Len(t, eventsNamed(effects, "cap:voting-started"), 1)
}

func TestCaptionStateViews(t *testing.T) {
	g := startedCaption(t, testConfig(), 3)
	g.handle("p1", clientMessage{Type: "cap:submit-caption", Caption: "mine"})

	state := g.stateFor("p1").payload.(capStateMessage)
	assert.True(t, state.HasSubmitted)
	assert.Equal(t, string(capPhaseSubmitting), state.Phase)
	assert.NotEmpty(t, state.ImageURL)

	state = g.stateFor("p2").payload.(capStateMessage)
	assert.False(t, state.HasSubmitted)
	assert.Equal(t, 1, state.SubmittedCount)

	shared := g.spectatorState().payload.(capStateMessage)
	assert.Equal(t, 1, shared.SubmittedCount)
	assert.False(t, shared.HasSubmitted)
}
