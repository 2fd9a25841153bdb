package main

// clientMessage is the single inbound shape; fields are a union across
// the room layer and every minigame, discriminated by Type.
type clientMessage struct {
	Type      string   `json:"type"`
	Name      string   `json:"name,omitempty"`       // join
	GameType  string   `json:"gameType,omitempty"`   // game:join-queue, game:start-queued
	RoleIDs   []string `json:"roleIds,omitempty"`    // av:configure-roles
	PlayerIDs []string `json:"playerIds,omitempty"`  // av:update-team, av:propose-team
	Approve   *bool    `json:"approve,omitempty"`    // av:vote
	Success   *bool    `json:"success,omitempty"`    // av:quest-card
	TargetID  string   `json:"targetId,omitempty"`   // av:assassinate
	Caption   string   `json:"caption,omitempty"`    // cap:submit-caption
	VotedFor  string   `json:"votedForId,omitempty"` // cap:vote
}

// roomPlayerInfo is the public roster entry; no hidden information.
type roomPlayerInfo struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Connected bool   `json:"connected"`
	InGame    string `json:"inGame,omitempty"` // session id, if busy
}

type roomStateMessage struct {
	RoomCode string           `json:"roomCode"`
	Players  []roomPlayerInfo `json:"players"`
	Games    []GameInfo       `json:"games"`
}

type queueUpdateMessage struct {
	GameType string   `json:"gameType"`
	Count    int      `json:"count"`
	Needed   int      `json:"needed"` // players still required to reach the minimum
	Queued   []string `json:"queued"` // display names, join order
}

type gameStartedMessage struct {
	SessionID string       `json:"sessionId"`
	GameType  string       `json:"gameType"`
	GameName  string       `json:"gameName"`
	Players   []gamePlayer `json:"players"`
}

type gameEndedMessage struct {
	SessionID string     `json:"sessionId"`
	GameType  string     `json:"gameType"`
	Result    gameResult `json:"result"`
}

type errorMessage struct {
	Message string `json:"message"`
}
