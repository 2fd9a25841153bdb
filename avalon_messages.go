// Wire payloads for the Avalon minigame, using the av: event prefix.

package main

// avPlayerInfo is the public view of one seat.
type avPlayerInfo struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Connected bool   `json:"connected"`
	IsLeader  bool   `json:"isLeader,omitempty"`
	IsOnTeam  bool   `json:"isOnTeam,omitempty"`
}

// avPhaseMessage announces a phase transition. Fields are populated
// per phase; it never carries hidden role identities before game over.
type avPhaseMessage struct {
	Phase string `json:"phase"`

	// lobby
	HostID        string         `json:"hostId,omitempty"`
	Players       []avPlayerInfo `json:"players,omitempty"`
	SelectedRoles []string       `json:"selectedRoles,omitempty"`
	MinPlayers    int            `json:"minPlayers,omitempty"`
	CanStart      bool           `json:"canStart,omitempty"`

	// night onward
	Seating      []avPlayerInfo `json:"seating,omitempty"`
	CurrentQuest int            `json:"currentQuest,omitempty"`
	QuestResults []bool         `json:"questResults,omitempty"`

	// team-building / voting
	LeaderID              string         `json:"leaderId,omitempty"`
	LeaderName            string         `json:"leaderName,omitempty"`
	TeamSize              int            `json:"teamSize,omitempty"`
	ProposedTeam          []avPlayerInfo `json:"proposedTeam,omitempty"`
	ConsecutiveRejections int            `json:"consecutiveRejections"`
	MaxRejections         int            `json:"maxRejections,omitempty"`

	// quest
	QuestTeam        []avPlayerInfo `json:"questTeam,omitempty"`
	RequiresTwoFails bool           `json:"requiresTwoFails,omitempty"`

	// assassination; populated only in evil-aligned players' copies
	AssassinID   string `json:"assassinId,omitempty"`
	AssassinName string `json:"assassinName,omitempty"`

	// game-over
	RoleReveal []avRoleReveal `json:"roleReveal,omitempty"`

	// seconds until the phase's scheduled transition, zero if none
	Timer int `json:"timer,omitempty"`
}

// avYourRoleMessage is the private night reveal; it only ever goes to
// the owning player's channel.
type avYourRoleMessage struct {
	Role      avalonRole     `json:"role"`
	Sees      []avPlayerInfo `json:"sees"`
	SeesLabel string         `json:"seesLabel"`
}

type avTeamUpdateMessage struct {
	ProposedTeam []avPlayerInfo `json:"proposedTeam"`
	TeamSize     int            `json:"teamSize"`
}

type avVoteProgressMessage struct {
	VotesIn      int `json:"votesIn"`
	TotalPlayers int `json:"totalPlayers"`
}

// avVoteRecord is one player's vote, revealed once the round resolves.
// Vote is nil when the player never voted and was defaulted to reject.
type avVoteRecord struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	Vote *bool  `json:"vote"`
}

type avVoteResultMessage struct {
	Approved    bool           `json:"approved"`
	Approves    int            `json:"approves"`
	Rejects     int            `json:"rejects"`
	VoteResults []avVoteRecord `json:"voteResults"`
}

type avQuestProgressMessage struct {
	CardsIn  int `json:"cardsIn"`
	TeamSize int `json:"teamSize"`
}

type avQuestCompleteMessage struct {
	QuestNumber  int    `json:"questNumber"`
	Success      bool   `json:"success"`
	FailCount    int    `json:"failCount"`
	QuestResults []bool `json:"questResults"`
}

type avAssassinationResultMessage struct {
	TargetID   string `json:"targetId"`
	TargetName string `json:"targetName"`
	WasMerlin  bool   `json:"wasMerlin"`
}

type avGameResultMessage struct {
	Winner string `json:"winner"` // "good" | "evil"
	Reason string `json:"reason"`
}

// avRoleReveal is one line of the final reveal, including the
// assassination outcome for the assassin's target.
type avRoleReveal struct {
	ID   string      `json:"id"`
	Name string      `json:"name"`
	Role *avalonRole `json:"role"`
}

// avStateMessage is the canonical full view for one observer, used for
// both reconnect resync and scene mounts. The spectator variant omits
// every personal field; aggregate progress counts go to everyone.
type avStateMessage struct {
	GameType  string `json:"gameType"`
	SessionID string `json:"sessionId"`
	Phase     string `json:"phase"`

	IsHost   bool   `json:"isHost"`
	HostID   string `json:"hostId,omitempty"`
	IsLeader bool   `json:"isLeader"`
	LeaderID string `json:"leaderId,omitempty"`
	IsOnTeam bool   `json:"isOnTeam"`

	MyRole         *avalonRole    `json:"myRole,omitempty"`
	VisiblePlayers []avPlayerInfo `json:"visiblePlayers,omitempty"`
	SeesLabel      string         `json:"seesLabel,omitempty"`

	Players       []avPlayerInfo `json:"players,omitempty"`
	SelectedRoles []string       `json:"selectedRoles,omitempty"`
	MinPlayers    int            `json:"minPlayers,omitempty"`
	CanStart      bool           `json:"canStart,omitempty"`
	Seating       []avPlayerInfo `json:"seating,omitempty"`
	CurrentQuest  int            `json:"currentQuest,omitempty"`
	QuestResults  []bool         `json:"questResults,omitempty"`
	TeamSize      int            `json:"teamSize,omitempty"`
	ProposedTeam  []avPlayerInfo `json:"proposedTeam,omitempty"`

	HasVoted              bool `json:"hasVoted"`
	HasSubmittedCard      bool `json:"hasSubmittedCard"`
	ConsecutiveRejections int  `json:"consecutiveRejections"`
	MaxRejections         int  `json:"maxRejections,omitempty"`

	RequiresTwoFails bool `json:"requiresTwoFails,omitempty"`

	// populated only for evil-aligned observers
	AssassinID   string `json:"assassinId,omitempty"`
	AssassinName string `json:"assassinName,omitempty"`

	// aggregate-only progress; safe for every observer
	VotesIn int `json:"votesIn,omitempty"`
	CardsIn int `json:"cardsIn,omitempty"`

	RoleReveal    []avRoleReveal                `json:"roleReveal,omitempty"`
	Winner        string                        `json:"winner,omitempty"`
	Reason        string                        `json:"reason,omitempty"`
	Assassination *avAssassinationResultMessage `json:"assassination,omitempty"`

	Timer int `json:"timer,omitempty"`
}
