// Caption contest: a lightweight round-based minigame. Everyone
// captions the same image, then votes on the anonymized entries.
//
// Unlike Avalon there is no hidden state beyond authorship, so the
// controller and spectator views differ only in the personal
// has-submitted and has-voted flags.

package main

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

type captionPhase string

const (
	capPhaseSubmitting captionPhase = "submitting"
	capPhaseVoting     captionPhase = "voting"
	capPhaseResults    captionPhase = "results"
	capPhaseGameOver   captionPhase = "game-over"
)

const (
	captionRounds        = 3
	captionResultsLinger = 8 * time.Second
)

type captionContestant struct {
	gamePlayer
	connected bool
	score     int
}

// capEntry is one anonymized caption on the ballot. The entry id is
// opaque so voters cannot map captions back to authors.
type capEntry struct {
	entryID  string
	authorID string
	caption  string
}

type capEntryInfo struct {
	EntryID string `json:"entryId"`
	Caption string `json:"caption"`
}

type capRoundStartedMessage struct {
	Round       int    `json:"round"`
	TotalRounds int    `json:"totalRounds"`
	ImageURL    string `json:"imageUrl"`
	Timer       int    `json:"timer"`
}

type capProgressMessage struct {
	Count int `json:"count"`
	Total int `json:"total"`
}

type capVotingStartedMessage struct {
	Entries []capEntryInfo `json:"entries"`
	Timer   int            `json:"timer"`
}

type capRoundResult struct {
	PlayerID string `json:"playerId"`
	Name     string `json:"name"`
	Caption  string `json:"caption"`
	Votes    int    `json:"votes"`
	Score    int    `json:"score"`
}

type capRoundResultsMessage struct {
	Round   int              `json:"round"`
	Results []capRoundResult `json:"results"`
	Final   bool             `json:"final"`
}

type capStateMessage struct {
	GameType  string `json:"gameType"`
	SessionID string `json:"sessionId"`
	Phase     string `json:"phase"`

	Round       int    `json:"round"`
	TotalRounds int    `json:"totalRounds"`
	ImageURL    string `json:"imageUrl,omitempty"`

	Entries []capEntryInfo   `json:"entries,omitempty"`
	Results []capRoundResult `json:"results,omitempty"`

	HasSubmitted bool `json:"hasSubmitted"`
	HasVoted     bool `json:"hasVoted"`

	SubmittedCount int `json:"submittedCount,omitempty"`
	VotesIn        int `json:"votesIn,omitempty"`

	Winner string `json:"winner,omitempty"`
	Reason string `json:"reason,omitempty"`

	Timer int `json:"timer,omitempty"`
}

type captionSession struct {
	sessionID string
	cfg       *Config

	contestants []*captionContestant
	hostID      string // first-seated player; may skip the results screen

	phase   captionPhase
	epoch   int
	round   int
	imgURL  string
	entries []capEntry

	submissions map[string]string // author id -> caption
	votes       map[string]string // voter id -> entry id

	lastResults []capRoundResult

	result    gameResult
	over      bool
	pending   *timerArm
	timerSecs int
}

func newCaptionSession(cfg *Config, roster []gamePlayer) *captionSession {
	contestants := make([]*captionContestant, 0, len(roster))
	for _, p := range roster {
		contestants = append(contestants, &captionContestant{gamePlayer: p, connected: true})
	}

	return &captionSession{
		sessionID:   uuid.New().String(),
		cfg:         cfg,
		contestants: contestants,
		hostID:      roster[0].ID,
	}
}

func (g *captionSession) id() string       { return g.sessionID }
func (g *captionSession) gameType() string { return "caption-contest" }

func (g *captionSession) players() []gamePlayer {
	out := make([]gamePlayer, 0, len(g.contestants))
	for _, c := range g.contestants {
		out = append(out, c.gamePlayer)
	}
	return out
}

func (g *captionSession) finished() (gameResult, bool) {
	return g.result, g.over
}

func (g *captionSession) takeTimer() (timerArm, bool) {
	if g.pending == nil {
		return timerArm{}, false
	}
	arm := *g.pending
	g.pending = nil
	return arm, true
}

func (g *captionSession) contestant(playerID string) *captionContestant {
	for _, c := range g.contestants {
		if c.ID == playerID {
			return c
		}
	}
	return nil
}

func (g *captionSession) enter(phase captionPhase, after time.Duration) {
	g.phase = phase
	g.epoch++
	g.timerSecs = 0
	g.pending = nil
	if after > 0 {
		g.timerSecs = int(after / time.Second)
		g.pending = &timerArm{epoch: g.epoch, after: after}
	}
}

func (g *captionSession) errTo(playerID string, err error) []outbound {
	return []outbound{toPlayer(playerID, "error", errorMessage{Message: err.Error()})}
}

func (g *captionSession) begin() []outbound {
	g.round = 1
	return g.enterSubmitting()
}

func (g *captionSession) enterSubmitting() []outbound {
	g.submissions = make(map[string]string, len(g.contestants))
	g.entries = nil
	g.votes = nil
	g.imgURL = fmt.Sprintf("https://picsum.photos/seed/%s/800/600", uuid.New().String()[:8])
	g.enter(capPhaseSubmitting, g.cfg.roundTimeout)

	return []outbound{toAll("cap:round-started", capRoundStartedMessage{
		Round:       g.round,
		TotalRounds: captionRounds,
		ImageURL:    g.imgURL,
		Timer:       g.timerSecs,
	})}
}

func (g *captionSession) handle(playerID string, msg clientMessage) []outbound {
	if g.contestant(playerID) == nil {
		return nil
	}

	switch msg.Type {
	case "cap:submit-caption":
		if g.phase != capPhaseSubmitting {
			return g.errTo(playerID, errInvalidAction)
		}
		return g.submitCaption(playerID, msg.Caption)

	case "cap:vote":
		if g.phase != capPhaseVoting {
			return g.errTo(playerID, errInvalidAction)
		}
		return g.castVote(playerID, msg.VotedFor)

	case "cap:next-round":
		if g.phase != capPhaseResults {
			return g.errTo(playerID, errInvalidAction)
		}
		if playerID != g.hostID {
			return g.errTo(playerID, errUnauthorized)
		}
		return g.advanceRound()
	}

	return g.errTo(playerID, errInvalidAction)
}

// submitCaption records one caption per contestant; re-submitting
// replaces the earlier one until the round closes.
func (g *captionSession) submitCaption(playerID, caption string) []outbound {
	if caption == "" {
		return g.errTo(playerID, errInvalidAction)
	}

	g.submissions[playerID] = caption

	effects := []outbound{toAll("cap:submission-progress", capProgressMessage{
		Count: len(g.submissions),
		Total: len(g.contestants),
	})}

	for _, c := range g.contestants {
		if c.connected {
			if _, ok := g.submissions[c.ID]; !ok {
				return effects
			}
		}
	}
	return append(effects, g.enterVoting()...)
}

// enterVoting builds the anonymized ballot in a shuffled order so the
// listing gives no hint of submission time or seat order.
func (g *captionSession) enterVoting() []outbound {
	if len(g.submissions) == 0 {
		// Nobody captioned; skip straight to the next round.
		return g.advanceRound()
	}

	g.entries = make([]capEntry, 0, len(g.submissions))
	for _, c := range g.contestants {
		if caption, ok := g.submissions[c.ID]; ok {
			g.entries = append(g.entries, capEntry{
				entryID:  uuid.New().String()[:8],
				authorID: c.ID,
				caption:  caption,
			})
		}
	}
	cryptoShuffle(len(g.entries), func(i, j int) {
		g.entries[i], g.entries[j] = g.entries[j], g.entries[i]
	})

	g.votes = make(map[string]string, len(g.contestants))
	g.enter(capPhaseVoting, g.cfg.voteTimeout)

	return []outbound{toAll("cap:voting-started", capVotingStartedMessage{
		Entries: g.entryInfos(),
		Timer:   g.timerSecs,
	})}
}

func (g *captionSession) entryInfos() []capEntryInfo {
	out := make([]capEntryInfo, 0, len(g.entries))
	for _, e := range g.entries {
		out = append(out, capEntryInfo{EntryID: e.entryID, Caption: e.caption})
	}
	return out
}

func (g *captionSession) entry(entryID string) *capEntry {
	for i := range g.entries {
		if g.entries[i].entryID == entryID {
			return &g.entries[i]
		}
	}
	return nil
}

// castVote accepts one vote per contestant; voting for your own entry
// is rejected.
func (g *captionSession) castVote(playerID, entryID string) []outbound {
	e := g.entry(entryID)
	if e == nil {
		return g.errTo(playerID, errInvalidAction)
	}
	if e.authorID == playerID {
		return g.errTo(playerID, errUnauthorized)
	}

	g.votes[playerID] = entryID

	effects := []outbound{toAll("cap:vote-progress", capProgressMessage{
		Count: len(g.votes),
		Total: len(g.contestants),
	})}

	for _, c := range g.contestants {
		if c.connected {
			if _, ok := g.votes[c.ID]; !ok {
				return effects
			}
		}
	}
	return append(effects, g.enterResults()...)
}

// enterResults tallies the ballot. Each vote is worth one point to the
// entry's author.
func (g *captionSession) enterResults() []outbound {
	tally := make(map[string]int, len(g.entries))
	for _, entryID := range g.votes {
		if e := g.entry(entryID); e != nil {
			tally[e.authorID]++
		}
	}

	results := make([]capRoundResult, 0, len(g.entries))
	for _, e := range g.entries {
		author := g.contestant(e.authorID)
		author.score += tally[e.authorID]
		results = append(results, capRoundResult{
			PlayerID: author.ID,
			Name:     author.Name,
			Caption:  e.caption,
			Votes:    tally[e.authorID],
			Score:    author.score,
		})
	}
	g.lastResults = results

	final := g.round >= captionRounds
	g.enter(capPhaseResults, captionResultsLinger)

	return []outbound{toAll("cap:round-results", capRoundResultsMessage{
		Round:   g.round,
		Results: results,
		Final:   final,
	})}
}

func (g *captionSession) advanceRound() []outbound {
	if g.round >= captionRounds {
		return g.endGame()
	}
	g.round++
	return g.enterSubmitting()
}

func (g *captionSession) endGame() []outbound {
	var winner *captionContestant
	for _, c := range g.contestants {
		if winner == nil || c.score > winner.score {
			winner = c
		}
	}

	g.result = gameResult{
		Winner: winner.Name,
		Reason: fmt.Sprintf("%d points over %d rounds", winner.score, captionRounds),
	}
	g.enter(capPhaseGameOver, g.cfg.gameOverLinger)

	return []outbound{toAll("cap:game-result", g.result)}
}

func (g *captionSession) timerFired(epoch int) []outbound {
	if epoch != g.epoch {
		return nil
	}

	switch g.phase {
	case capPhaseSubmitting:
		return g.enterVoting()
	case capPhaseVoting:
		return g.enterResults()
	case capPhaseResults:
		return g.advanceRound()
	case capPhaseGameOver:
		g.over = true
	}
	return nil
}

func (g *captionSession) setConnected(playerID string, connected bool) []outbound {
	c := g.contestant(playerID)
	if c == nil || c.connected == connected {
		return nil
	}
	c.connected = connected

	if connected {
		return nil
	}

	switch g.phase {
	case capPhaseSubmitting:
		for _, other := range g.contestants {
			if other.connected {
				if _, ok := g.submissions[other.ID]; !ok {
					return nil
				}
			}
		}
		return g.enterVoting()

	case capPhaseVoting:
		for _, other := range g.contestants {
			if other.connected {
				if _, ok := g.votes[other.ID]; !ok {
					return nil
				}
			}
		}
		return g.enterResults()
	}

	return nil
}

func (g *captionSession) baseState() capStateMessage {
	state := capStateMessage{
		GameType:    "caption-contest",
		SessionID:   g.sessionID,
		Phase:       string(g.phase),
		Round:       g.round,
		TotalRounds: captionRounds,
		Timer:       g.timerSecs,
	}

	switch g.phase {
	case capPhaseSubmitting:
		state.ImageURL = g.imgURL
		state.SubmittedCount = len(g.submissions)
	case capPhaseVoting:
		state.ImageURL = g.imgURL
		state.Entries = g.entryInfos()
		state.VotesIn = len(g.votes)
	case capPhaseResults:
		state.Results = g.lastResults
	case capPhaseGameOver:
		state.Results = g.lastResults
		state.Winner = g.result.Winner
		state.Reason = g.result.Reason
	}

	return state
}

func (g *captionSession) stateFor(playerID string) outbound {
	state := g.baseState()

	if g.phase == capPhaseSubmitting {
		_, state.HasSubmitted = g.submissions[playerID]
	}
	if g.phase == capPhaseVoting {
		_, state.HasVoted = g.votes[playerID]
	}

	return toPlayer(playerID, "game:state", state)
}

func (g *captionSession) spectatorState() outbound {
	return toSpectator("game:state", g.baseState())
}
