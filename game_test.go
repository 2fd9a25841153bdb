package main

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig() *Config {
	return &Config{
		bind:           "0.0.0.0",
		gameOverLinger: time.Minute,
		maxRejections:  5,
		nightTimeout:   15 * time.Second,
		playerTimeout:  10 * time.Minute,
		port:           8080,
		questTimeout:   90 * time.Second,
		roundTimeout:   90 * time.Second,
		sessionTimeout: time.Hour,
		voteTimeout:    60 * time.Second,
	}
}

func testRoster(n int) []gamePlayer {
	roster := make([]gamePlayer, 0, n)
	for i := 1; i <= n; i++ {
		roster = append(roster, gamePlayer{
			ID:   fmt.Sprintf("p%d", i),
			Name: fmt.Sprintf("Player %d", i),
		})
	}
	return roster
}

func ptr(b bool) *bool {
	return &b
}

// eventsNamed filters a transition's broadcasts by event type.
func eventsNamed(effects []outbound, event string) []outbound {
	var out []outbound
	for _, eff := range effects {
		if eff.event == event {
			out = append(out, eff)
		}
	}
	return out
}

// firstError returns the first error payload in a transition, if any.
func firstError(effects []outbound) *errorMessage {
	for _, eff := range effects {
		if eff.event == "error" {
			msg := eff.payload.(errorMessage)
			return &msg
		}
	}
	return nil
}

func TestLookupGame(t *testing.T) {
	info, ok := lookupGame("avalon")
	require.True(t, ok)
	assert.Equal(t, 5, info.MinPlayers)
	assert.Equal(t, 10, info.MaxPlayers)

	info, ok = lookupGame("caption-contest")
	require.True(t, ok)
	assert.Equal(t, 3, info.MinPlayers)

	_, ok = lookupGame("charades")
	assert.False(t, ok)
}

func TestNewGameSession(t *testing.T) {
	cfg := testConfig()

	for _, info := range gameCatalog {
		g := newGameSession(cfg, info, testRoster(info.MinPlayers))
		require.NotNil(t, g, info.ID)
		assert.Equal(t, info.ID, g.gameType())
		assert.NotEmpty(t, g.id())
		assert.Len(t, g.players(), info.MinPlayers)

		_, done := g.finished()
		assert.False(t, done)
	}

	assert.Nil(t, newGameSession(cfg, GameInfo{ID: "charades"}, testRoster(5)))
}

func TestConfigValidate(t *testing.T) {
	cfg := testConfig()
	require.NoError(t, cfg.validate())

	cfg = testConfig()
	cfg.tlsCert = "/tmp/cert.pem"
	assert.Error(t, cfg.validate())

	cfg = testConfig()
	cfg.port = 0
	assert.Error(t, cfg.validate())

	cfg = testConfig()
	cfg.maxRejections = 0
	assert.Error(t, cfg.validate())

	cfg = testConfig()
	cfg.voteTimeout = 0
	assert.Error(t, cfg.validate())
}
