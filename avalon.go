// Avalon: the hidden-role social-deduction minigame.
//
// One avalonSession is the authoritative record for one game. Every
// entry point validates the action against the current phase, applies
// it, and returns broadcast instructions; nothing here touches a
// socket or a clock directly. Scheduled transitions (vote deadline,
// quest ceiling, night reveal) arrive back through timerFired with the
// epoch of the phase that armed them, so a timer that lost its race
// with an early resolution is a no-op.

package main

import (
	"time"

	"github.com/google/uuid"
)

type avalonPhase string

const (
	avPhaseLobby         avalonPhase = "lobby"
	avPhaseNight         avalonPhase = "night"
	avPhaseTeamBuilding  avalonPhase = "team-building"
	avPhaseVoting        avalonPhase = "voting"
	avPhaseQuest         avalonPhase = "quest"
	avPhaseAssassination avalonPhase = "assassination"
	avPhaseGameOver      avalonPhase = "game-over"
)

// avActionPhase maps each inbound action to the only phase it belongs to.
var avActionPhase = map[string]avalonPhase{
	"av:configure-roles": avPhaseLobby,
	"av:start-game":      avPhaseLobby,
	"av:night-ready":     avPhaseNight,
	"av:update-team":     avPhaseTeamBuilding,
	"av:propose-team":    avPhaseTeamBuilding,
	"av:vote":            avPhaseVoting,
	"av:quest-card":      avPhaseQuest,
	"av:assassinate":     avPhaseAssassination,
}

type avalonSeat struct {
	gamePlayer
	connected bool

	// assigned once at the night transition, immutable thereafter
	role      *avalonRole
	sees      []string
	seesLabel string
}

type avalonSession struct {
	sessionID string
	cfg       *Config

	seats  []*avalonSeat // seat order, fixed once seating is generated
	hostID string        // first-seated player; configures the role set

	phase   avalonPhase
	epoch   int
	visited map[avalonPhase]bool

	selectedRoles []string
	questIndex    int // 1..5
	questResults  []bool
	rejections    int
	leaderIdx     int

	proposal []string        // in-progress team, mutable until frozen
	team     []string        // frozen proposal being voted on / executed
	votes    map[string]bool // player id -> approve
	acks     map[string]bool // night acknowledgements
	cards    map[string]bool // player id -> success

	assassinID    string
	assassination *avAssassinationResultMessage

	result    gameResult
	over      bool
	pending   *timerArm
	timerSecs int
}

func newAvalonSession(cfg *Config, roster []gamePlayer) *avalonSession {
	seats := make([]*avalonSeat, 0, len(roster))
	for _, p := range roster {
		seats = append(seats, &avalonSeat{gamePlayer: p, connected: true})
	}

	return &avalonSession{
		sessionID:     uuid.New().String(),
		cfg:           cfg,
		seats:         seats,
		hostID:        roster[0].ID,
		phase:         avPhaseLobby,
		visited:       map[avalonPhase]bool{avPhaseLobby: true},
		selectedRoles: append([]string(nil), avalonDefaultRoles...),
		questIndex:    1,
	}
}

func (g *avalonSession) id() string       { return g.sessionID }
func (g *avalonSession) gameType() string { return "avalon" }

func (g *avalonSession) players() []gamePlayer {
	out := make([]gamePlayer, 0, len(g.seats))
	for _, s := range g.seats {
		out = append(out, s.gamePlayer)
	}
	return out
}

func (g *avalonSession) finished() (gameResult, bool) {
	return g.result, g.over
}

func (g *avalonSession) takeTimer() (timerArm, bool) {
	if g.pending == nil {
		return timerArm{}, false
	}
	arm := *g.pending
	g.pending = nil
	return arm, true
}

func (g *avalonSession) seat(playerID string) *avalonSeat {
	for _, s := range g.seats {
		if s.ID == playerID {
			return s
		}
	}
	return nil
}

func (g *avalonSession) leader() *avalonSeat {
	return g.seats[g.leaderIdx]
}

// enter moves to a new phase, invalidating any timer armed by the
// previous one. A non-zero after schedules the phase's transition.
func (g *avalonSession) enter(phase avalonPhase, after time.Duration) {
	g.phase = phase
	g.epoch++
	g.visited[phase] = true
	g.timerSecs = 0
	g.pending = nil
	if after > 0 {
		g.timerSecs = int(after / time.Second)
		g.pending = &timerArm{epoch: g.epoch, after: after}
	}
}

func (g *avalonSession) onTeam(playerID string, team []string) bool {
	for _, id := range team {
		if id == playerID {
			return true
		}
	}
	return false
}

func (g *avalonSession) seatInfos() []avPlayerInfo {
	out := make([]avPlayerInfo, 0, len(g.seats))
	for i, s := range g.seats {
		out = append(out, avPlayerInfo{
			ID:        s.ID,
			Name:      s.Name,
			Connected: s.connected,
			IsLeader:  g.phase != avPhaseLobby && i == g.leaderIdx,
			IsOnTeam:  g.onTeam(s.ID, g.currentTeam()),
		})
	}
	return out
}

// currentTeam is the frozen team during voting and quests, and the
// leader's in-progress selection during team building.
func (g *avalonSession) currentTeam() []string {
	if len(g.team) > 0 {
		return g.team
	}
	return g.proposal
}

func (g *avalonSession) teamInfos(team []string) []avPlayerInfo {
	out := make([]avPlayerInfo, 0, len(team))
	for _, id := range team {
		if s := g.seat(id); s != nil {
			out = append(out, avPlayerInfo{ID: s.ID, Name: s.Name, Connected: s.connected, IsOnTeam: true})
		}
	}
	return out
}

func (g *avalonSession) requiredTeamSize() int {
	size, _ := avalonTeamSize(len(g.seats), g.questIndex)
	return size
}

func (g *avalonSession) errTo(playerID string, err error) []outbound {
	return []outbound{toPlayer(playerID, "error", errorMessage{Message: err.Error()})}
}

// begin opens the in-game lobby where the first-seated player picks
// the role set.
func (g *avalonSession) begin() []outbound {
	return []outbound{toAll("av:phase-changed", g.lobbyPhaseMessage())}
}

func (g *avalonSession) lobbyPhaseMessage() avPhaseMessage {
	return avPhaseMessage{
		Phase:         string(avPhaseLobby),
		HostID:        g.hostID,
		Players:       g.seatInfos(),
		SelectedRoles: g.selectedRoles,
		MinPlayers:    5,
		CanStart:      true,
	}
}

func (g *avalonSession) handle(playerID string, msg clientMessage) []outbound {
	if g.seat(playerID) == nil {
		return nil
	}

	home, known := avActionPhase[msg.Type]
	if !known {
		return g.errTo(playerID, errInvalidAction)
	}

	// A late action can be told apart from a premature one: if its home
	// phase has already been visited it is stale and dropped silently,
	// otherwise it is rejected back to the sender.
	if home != g.phase {
		if g.visited[home] {
			logf(g.cfg, "AVALON: Dropped stale %q from %s in session %s", msg.Type, playerID, g.sessionID)
			return nil
		}
		return g.errTo(playerID, errInvalidAction)
	}

	switch msg.Type {
	case "av:configure-roles":
		return g.configureRoles(playerID, msg.RoleIDs)
	case "av:start-game":
		return g.startGame(playerID)
	case "av:night-ready":
		return g.nightReady(playerID)
	case "av:update-team":
		return g.updateTeam(playerID, msg.PlayerIDs)
	case "av:propose-team":
		return g.proposeTeam(playerID, msg.PlayerIDs)
	case "av:vote":
		return g.castVote(playerID, msg.Approve)
	case "av:quest-card":
		return g.submitQuestCard(playerID, msg.Success)
	case "av:assassinate":
		return g.attemptAssassination(playerID, msg.TargetID)
	}

	return nil
}

func (g *avalonSession) configureRoles(playerID string, roleIDs []string) []outbound {
	if playerID != g.hostID {
		return g.errTo(playerID, errUnauthorized)
	}
	if len(roleIDs) == 0 {
		return g.errTo(playerID, errRoleConfig)
	}

	if _, err := buildAvalonDeck(roleIDs, len(g.seats)); err != nil {
		return g.errTo(playerID, err)
	}

	g.selectedRoles = append([]string(nil), roleIDs...)
	return []outbound{toAll("av:phase-changed", g.lobbyPhaseMessage())}
}

// startGame generates the seating, assigns roles, and opens the night
// phase. Role assignment happens exactly once per session.
func (g *avalonSession) startGame(playerID string) []outbound {
	if playerID != g.hostID {
		return g.errTo(playerID, errUnauthorized)
	}

	deck, err := buildAvalonDeck(g.selectedRoles, len(g.seats))
	if err != nil {
		return g.errTo(playerID, err)
	}

	cryptoShuffle(len(g.seats), func(i, j int) {
		g.seats[i], g.seats[j] = g.seats[j], g.seats[i]
	})
	cryptoShuffle(len(deck), func(i, j int) {
		deck[i], deck[j] = deck[j], deck[i]
	})

	for i, s := range g.seats {
		role := deck[i]
		s.role = &role
		if role.CanAssassinate {
			g.assassinID = s.ID
		}
	}
	computeVisibility(g.seats)

	g.leaderIdx = 0
	g.acks = make(map[string]bool, len(g.seats))
	g.enter(avPhaseNight, g.cfg.nightTimeout)

	logf(g.cfg, "AVALON: Session %s started with roles %v", g.sessionID, g.selectedRoles)

	effects := []outbound{toAll("av:phase-changed", avPhaseMessage{
		Phase:        string(avPhaseNight),
		Seating:      g.seatInfos(),
		CurrentQuest: g.questIndex,
		Timer:        g.timerSecs,
	})}

	for _, s := range g.seats {
		effects = append(effects, toPlayer(s.ID, "av:your-role", g.roleRevealFor(s)))
	}

	return effects
}

// roleRevealFor builds one player's private night reveal. It must
// never reach any other channel.
func (g *avalonSession) roleRevealFor(s *avalonSeat) avYourRoleMessage {
	sees := make([]avPlayerInfo, 0, len(s.sees))
	for _, id := range s.sees {
		if other := g.seat(id); other != nil {
			sees = append(sees, avPlayerInfo{ID: other.ID, Name: other.Name, Connected: other.connected})
		}
	}
	return avYourRoleMessage{
		Role:      *s.role,
		Sees:      sees,
		SeesLabel: s.seesLabel,
	}
}

func (g *avalonSession) nightReady(playerID string) []outbound {
	g.acks[playerID] = true

	for _, s := range g.seats {
		if s.connected && !g.acks[s.ID] {
			return nil
		}
	}
	return g.enterTeamBuilding()
}

func (g *avalonSession) enterTeamBuilding() []outbound {
	g.proposal = nil
	g.team = nil
	g.votes = nil
	g.enter(avPhaseTeamBuilding, 0)

	return []outbound{toAll("av:phase-changed", avPhaseMessage{
		Phase:                 string(avPhaseTeamBuilding),
		Seating:               g.seatInfos(),
		CurrentQuest:          g.questIndex,
		QuestResults:          g.questResults,
		LeaderID:              g.leader().ID,
		LeaderName:            g.leader().Name,
		TeamSize:              g.requiredTeamSize(),
		ConsecutiveRejections: g.rejections,
		MaxRejections:         g.cfg.maxRejections,
	})}
}

// updateTeam replaces the leader's in-progress selection. Re-sending
// the same set is a no-op.
func (g *avalonSession) updateTeam(playerID string, playerIDs []string) []outbound {
	if playerID != g.leader().ID {
		return g.errTo(playerID, errNotLeader)
	}

	selection := make([]string, 0, len(playerIDs))
	seen := make(map[string]bool, len(playerIDs))
	for _, id := range playerIDs {
		if seen[id] {
			continue
		}
		seen[id] = true
		if g.seat(id) == nil {
			return g.errTo(playerID, errInvalidAction)
		}
		selection = append(selection, id)
	}

	if len(selection) == len(g.proposal) {
		same := true
		for i := range selection {
			if selection[i] != g.proposal[i] {
				same = false
				break
			}
		}
		if same {
			return nil
		}
	}

	g.proposal = selection

	return []outbound{toAll("av:team-update", avTeamUpdateMessage{
		ProposedTeam: g.teamInfos(g.proposal),
		TeamSize:     g.requiredTeamSize(),
	})}
}

// proposeTeam freezes the proposal and opens the vote. The size must
// exactly match the lookup table for the current quest.
func (g *avalonSession) proposeTeam(playerID string, playerIDs []string) []outbound {
	if playerID != g.leader().ID {
		return g.errTo(playerID, errNotLeader)
	}

	var effects []outbound
	if len(playerIDs) > 0 {
		effects = g.updateTeam(playerID, playerIDs)
		for _, eff := range effects {
			if eff.event == "error" {
				return effects
			}
		}
	}

	if len(g.proposal) != g.requiredTeamSize() {
		return append(effects, g.errTo(playerID, errInvalidSize)...)
	}

	g.team = append([]string(nil), g.proposal...)
	g.votes = make(map[string]bool, len(g.seats))
	g.enter(avPhaseVoting, g.cfg.voteTimeout)

	return append(effects, toAll("av:phase-changed", avPhaseMessage{
		Phase:                 string(avPhaseVoting),
		Seating:               g.seatInfos(),
		CurrentQuest:          g.questIndex,
		QuestResults:          g.questResults,
		LeaderID:              g.leader().ID,
		LeaderName:            g.leader().Name,
		ProposedTeam:          g.teamInfos(g.team),
		ConsecutiveRejections: g.rejections,
		MaxRejections:         g.cfg.maxRejections,
		Timer:                 g.timerSecs,
	}))
}

// castVote records one vote per player per proposal; a re-vote
// overwrites the prior one until the round resolves.
func (g *avalonSession) castVote(playerID string, approve *bool) []outbound {
	if approve == nil {
		return g.errTo(playerID, errInvalidAction)
	}

	g.votes[playerID] = *approve

	effects := []outbound{toAll("av:vote-progress", avVoteProgressMessage{
		VotesIn:      len(g.votes),
		TotalPlayers: len(g.seats),
	})}

	// The round resolves the instant every connected player has voted.
	for _, s := range g.seats {
		if s.connected {
			if _, ok := g.votes[s.ID]; !ok {
				return effects
			}
		}
	}
	return append(effects, g.resolveVotes()...)
}

// resolveVotes tallies the round. Players without an explicit vote
// (disconnected, or silent past the deadline) default to rejection.
// Approval takes a strict majority; a tie is a rejection.
func (g *avalonSession) resolveVotes() []outbound {
	approves, rejects := 0, 0
	records := make([]avVoteRecord, 0, len(g.seats))

	for _, s := range g.seats {
		rec := avVoteRecord{ID: s.ID, Name: s.Name}
		if v, ok := g.votes[s.ID]; ok {
			vote := v
			rec.Vote = &vote
			if v {
				approves++
			} else {
				rejects++
			}
		} else {
			rejects++
		}
		records = append(records, rec)
	}

	approved := approves > rejects

	effects := []outbound{toAll("av:vote-result", avVoteResultMessage{
		Approved:    approved,
		Approves:    approves,
		Rejects:     rejects,
		VoteResults: records,
	})}

	if approved {
		g.rejections = 0
		return append(effects, g.enterQuest()...)
	}

	g.rejections++
	if g.rejections >= g.cfg.maxRejections {
		return append(effects, g.endGame(teamEvil, "Five consecutive team proposals rejected")...)
	}

	g.leaderIdx = (g.leaderIdx + 1) % len(g.seats)
	return append(effects, g.enterTeamBuilding()...)
}

func (g *avalonSession) enterQuest() []outbound {
	g.cards = make(map[string]bool, len(g.team))
	g.enter(avPhaseQuest, g.cfg.questTimeout)

	return []outbound{toAll("av:phase-changed", avPhaseMessage{
		Phase:            string(avPhaseQuest),
		Seating:          g.seatInfos(),
		CurrentQuest:     g.questIndex,
		QuestResults:     g.questResults,
		QuestTeam:        g.teamInfos(g.team),
		RequiresTwoFails: avalonRequiredFails(len(g.seats), g.questIndex) == 2,
		Timer:            g.timerSecs,
	})}
}

// submitQuestCard accepts one hidden card per team member. The server
// never trusts client-side gating: a good-aligned fail is rejected
// here regardless of what the UI offered.
func (g *avalonSession) submitQuestCard(playerID string, success *bool) []outbound {
	if success == nil {
		return g.errTo(playerID, errInvalidAction)
	}
	if !g.onTeam(playerID, g.team) {
		return g.errTo(playerID, errUnauthorized)
	}
	if _, dup := g.cards[playerID]; dup {
		return g.errTo(playerID, errInvalidAction)
	}
	if !*success && g.seat(playerID).role.Team == teamGood {
		return g.errTo(playerID, errUnauthorized)
	}

	g.cards[playerID] = *success

	effects := []outbound{toAll("av:quest-progress", avQuestProgressMessage{
		CardsIn:  len(g.cards),
		TeamSize: len(g.team),
	})}

	if len(g.cards) == len(g.team) {
		effects = append(effects, g.resolveQuest()...)
	}
	return effects
}

func (g *avalonSession) resolveQuest() []outbound {
	fails := 0
	for _, success := range g.cards {
		if !success {
			fails++
		}
	}

	required := avalonRequiredFails(len(g.seats), g.questIndex)
	success := fails < required
	g.questResults = append(g.questResults, success)

	effects := []outbound{toAll("av:quest-complete", avQuestCompleteMessage{
		QuestNumber:  g.questIndex,
		Success:      success,
		FailCount:    fails,
		QuestResults: g.questResults,
	})}

	successes, failures := 0, 0
	for _, r := range g.questResults {
		if r {
			successes++
		} else {
			failures++
		}
	}

	switch {
	case successes >= 3:
		return append(effects, g.enterAssassination()...)
	case failures >= 3:
		return append(effects, g.endGame(teamEvil, "Three quests failed")...)
	}

	g.questIndex++
	g.leaderIdx = (g.leaderIdx + 1) % len(g.seats)
	return append(effects, g.enterTeamBuilding()...)
}

// enterAssassination gives evil its last word. The assassin's identity
// goes to evil-aligned players only; the public and spectator copies
// carry no role information.
func (g *avalonSession) enterAssassination() []outbound {
	g.enter(avPhaseAssassination, 0)

	public := avPhaseMessage{
		Phase:        string(avPhaseAssassination),
		Seating:      g.seatInfos(),
		CurrentQuest: g.questIndex,
		QuestResults: g.questResults,
	}

	effects := make([]outbound, 0, len(g.seats)+1)
	for _, s := range g.seats {
		msg := public
		if s.role.Team == teamEvil {
			assassin := g.seat(g.assassinID)
			msg.AssassinID = assassin.ID
			msg.AssassinName = assassin.Name
		}
		effects = append(effects, toPlayer(s.ID, "av:phase-changed", msg))
	}
	return append(effects, toSpectator("av:phase-changed", public))
}

// attemptAssassination is the single highest-leverage action in the
// game: it is accepted exactly once, from the one capable role.
func (g *avalonSession) attemptAssassination(playerID, targetID string) []outbound {
	if playerID != g.assassinID {
		return g.errTo(playerID, errUnauthorized)
	}

	target := g.seat(targetID)
	if target == nil {
		return g.errTo(playerID, errInvalidAction)
	}

	wasMerlin := target.role.informedGood

	g.assassination = &avAssassinationResultMessage{
		TargetID:   target.ID,
		TargetName: target.Name,
		WasMerlin:  wasMerlin,
	}

	effects := []outbound{toAll("av:assassination-result", *g.assassination)}

	if wasMerlin {
		return append(effects, g.endGame(teamEvil, "Merlin assassinated")...)
	}
	return append(effects, g.endGame(teamGood, "Merlin survived the assassination")...)
}

// endGame records the outcome and broadcasts the full role reveal.
// The session lingers on the reveal screen before the room reclaims
// the players.
func (g *avalonSession) endGame(winner avalonTeam, reason string) []outbound {
	g.result = gameResult{Winner: string(winner), Reason: reason}
	g.enter(avPhaseGameOver, g.cfg.gameOverLinger)

	logf(g.cfg, "AVALON: Session %s over: %s (%s)", g.sessionID, winner, reason)

	return []outbound{
		toAll("av:game-result", avGameResultMessage{Winner: string(winner), Reason: reason}),
		toAll("av:phase-changed", avPhaseMessage{
			Phase:        string(avPhaseGameOver),
			Seating:      g.seatInfos(),
			CurrentQuest: g.questIndex,
			QuestResults: g.questResults,
			RoleReveal:   g.roleRevealAll(),
			Timer:        g.timerSecs,
		}),
	}
}

// roleRevealAll is public information at game over only.
func (g *avalonSession) roleRevealAll() []avRoleReveal {
	out := make([]avRoleReveal, 0, len(g.seats))
	for _, s := range g.seats {
		out = append(out, avRoleReveal{ID: s.ID, Name: s.Name, Role: s.role})
	}
	return out
}

// timerFired applies the scheduled transition for the phase that armed
// it. Stale epochs are dropped without effect.
func (g *avalonSession) timerFired(epoch int) []outbound {
	if epoch != g.epoch {
		return nil
	}

	switch g.phase {
	case avPhaseNight:
		return g.enterTeamBuilding()

	case avPhaseVoting:
		return g.resolveVotes()

	case avPhaseQuest:
		return g.questCeiling()

	case avPhaseGameOver:
		g.over = true
		return nil
	}

	return nil
}

// questCeiling handles the hard ceiling on card collection. A quest
// stalls on a disconnected team member; only with the absentee-fail
// option does the ceiling force defaults, and then only for
// disconnected members (fail for evil, success for good, who could
// play nothing else).
func (g *avalonSession) questCeiling() []outbound {
	if g.cfg.questAbsenteeFail {
		for _, id := range g.team {
			if _, ok := g.cards[id]; ok {
				continue
			}
			s := g.seat(id)
			if s != nil && !s.connected {
				g.cards[id] = s.role.Team == teamGood
			}
		}
		if len(g.cards) == len(g.team) {
			return g.resolveQuest()
		}
	}

	// Still waiting on someone: keep the ceiling armed.
	g.pending = &timerArm{epoch: g.epoch, after: g.cfg.questTimeout}
	return nil
}

// setConnected tracks availability for quorum counting. A disconnect
// can itself complete a quorum (everyone still connected has already
// acted), so resolution checks run here too.
func (g *avalonSession) setConnected(playerID string, connected bool) []outbound {
	s := g.seat(playerID)
	if s == nil || s.connected == connected {
		return nil
	}
	s.connected = connected

	if connected {
		return nil
	}

	switch g.phase {
	case avPhaseNight:
		for _, other := range g.seats {
			if other.connected && !g.acks[other.ID] {
				return nil
			}
		}
		return g.enterTeamBuilding()

	case avPhaseVoting:
		for _, other := range g.seats {
			if other.connected {
				if _, ok := g.votes[other.ID]; !ok {
					return nil
				}
			}
		}
		return g.resolveVotes()
	}

	return nil
}
