// Per-observer view derivation for Avalon.
//
// The session never stores rendered views. Both resync paths derive a
// fresh snapshot from canonical state, so a reconnecting player and a
// freshly mounted spectator always see exactly what the live audience
// sees, filtered to what that observer is allowed to know.

package main

func (g *avalonSession) baseState() avStateMessage {
	state := avStateMessage{
		GameType:              "avalon",
		SessionID:             g.sessionID,
		Phase:                 string(g.phase),
		HostID:                g.hostID,
		CurrentQuest:          g.questIndex,
		QuestResults:          g.questResults,
		ConsecutiveRejections: g.rejections,
		Timer:                 g.timerSecs,
	}

	switch g.phase {
	case avPhaseLobby:
		state.Players = g.seatInfos()
		state.SelectedRoles = g.selectedRoles
		state.MinPlayers = 5
		state.CanStart = true
		state.CurrentQuest = 0

	case avPhaseNight:
		state.Seating = g.seatInfos()

	case avPhaseTeamBuilding, avPhaseVoting:
		state.Seating = g.seatInfos()
		state.LeaderID = g.leader().ID
		state.TeamSize = g.requiredTeamSize()
		state.ProposedTeam = g.teamInfos(g.currentTeam())
		state.MaxRejections = g.cfg.maxRejections
		if g.phase == avPhaseVoting {
			state.VotesIn = len(g.votes)
		}

	case avPhaseQuest:
		state.Seating = g.seatInfos()
		state.LeaderID = g.leader().ID
		state.TeamSize = len(g.team)
		state.ProposedTeam = g.teamInfos(g.team)
		state.MaxRejections = g.cfg.maxRejections
		state.RequiresTwoFails = avalonRequiredFails(len(g.seats), g.questIndex) == 2
		state.CardsIn = len(g.cards)

	case avPhaseAssassination:
		state.Seating = g.seatInfos()

	case avPhaseGameOver:
		state.Seating = g.seatInfos()
		state.RoleReveal = g.roleRevealAll()
		state.Winner = g.result.Winner
		state.Reason = g.result.Reason
		state.Assassination = g.assassination
	}

	return state
}

// stateFor builds one player's full resync snapshot, layering their
// private knowledge over the shared view.
func (g *avalonSession) stateFor(playerID string) outbound {
	state := g.baseState()

	s := g.seat(playerID)
	if s == nil {
		return toPlayer(playerID, "game:state", state)
	}

	state.IsHost = playerID == g.hostID

	if g.phase != avPhaseLobby {
		state.IsLeader = playerID == g.leader().ID
		state.IsOnTeam = g.onTeam(playerID, g.currentTeam())
	}

	if s.role != nil {
		state.MyRole = s.role
		state.SeesLabel = s.seesLabel
		for _, id := range s.sees {
			if other := g.seat(id); other != nil {
				state.VisiblePlayers = append(state.VisiblePlayers, avPlayerInfo{
					ID:        other.ID,
					Name:      other.Name,
					Connected: other.connected,
				})
			}
		}

		if g.phase == avPhaseAssassination && s.role.Team == teamEvil {
			assassin := g.seat(g.assassinID)
			state.AssassinID = assassin.ID
			state.AssassinName = assassin.Name
		}
	}

	if g.phase == avPhaseVoting {
		_, state.HasVoted = g.votes[playerID]
	}
	if g.phase == avPhaseQuest {
		_, state.HasSubmittedCard = g.cards[playerID]
	}

	return toPlayer(playerID, "game:state", state)
}

// spectatorState is the shared-screen snapshot: no roles, no per-player
// votes or cards, aggregate progress only.
func (g *avalonSession) spectatorState() outbound {
	return toSpectator("game:state", g.baseState())
}
