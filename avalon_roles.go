// Role catalog, team composition tables, and the night-phase
// visibility engine for Avalon.
//
// Visibility is deliberately relational: each rule pairs an observer
// predicate with a subject predicate and is evaluated against the full
// seated roster. Adding a role means adding traits and, at most, a
// rule; no existing role's logic is touched.

package main

import (
	"crypto/rand"
	"fmt"
)

type avalonTeam string

const (
	teamGood avalonTeam = "good"
	teamEvil avalonTeam = "evil"
)

type avalonRole struct {
	ID             string     `json:"id"`
	Name           string     `json:"name"`
	Team           avalonTeam `json:"team"`
	Description    string     `json:"description"`
	CanAssassinate bool       `json:"canAssassinate,omitempty"`

	// Relational traits consumed by the visibility rules; never sent
	// over the wire.
	informedGood       bool // sees the evil channel
	seesMerlinChannel  bool // sees who might be Merlin
	appearsAsMerlin    bool // shows up in the Merlin channel despite alignment
	hiddenFromMerlin   bool // excluded from the informed-good reveal
	outsideEvilChannel bool // neither sees nor is seen by evil allies
}

var roleCatalog = map[string]avalonRole{
	"merlin": {
		ID: "merlin", Name: "Merlin", Team: teamGood,
		Description:  "Knows the servants of evil, but must stay hidden.",
		informedGood: true,
	},
	"percival": {
		ID: "percival", Name: "Percival", Team: teamGood,
		Description:       "Sees Merlin, but an impostor may muddy the water.",
		seesMerlinChannel: true,
	},
	"servant": {
		ID: "servant", Name: "Loyal Servant", Team: teamGood,
		Description: "A faithful knight with no special knowledge.",
	},
	"assassin": {
		ID: "assassin", Name: "Assassin", Team: teamEvil,
		Description:    "May strike down Merlin if good completes three quests.",
		CanAssassinate: true,
	},
	"morgana": {
		ID: "morgana", Name: "Morgana", Team: teamEvil,
		Description:     "Appears as Merlin to Percival.",
		appearsAsMerlin: true,
	},
	"mordred": {
		ID: "mordred", Name: "Mordred", Team: teamEvil,
		Description:      "Unknown to Merlin.",
		hiddenFromMerlin: true,
	},
	"oberon": {
		ID: "oberon", Name: "Oberon", Team: teamEvil,
		Description:        "Works alone; evil does not know him, nor he them.",
		outsideEvilChannel: true,
	},
	"minion": {
		ID: "minion", Name: "Minion of Mordred", Team: teamEvil,
		Description: "An ordinary servant of evil.",
	},
}

// avalonDefaultRoles is the role set used when the first-seated player
// never configures one.
var avalonDefaultRoles = []string{"merlin", "assassin"}

// avalonEvilCount is the fixed number of evil seats per roster size.
var avalonEvilCount = map[int]int{
	5: 2, 6: 2, 7: 3, 8: 3, 9: 3, 10: 4,
}

// avalonTeamSizes maps roster size to the required team size for
// quests 1 through 5. This table is the single source of truth;
// clients are rendering mirrors.
var avalonTeamSizes = map[int][5]int{
	5:  {2, 3, 2, 3, 3},
	6:  {2, 3, 4, 3, 4},
	7:  {2, 3, 3, 4, 4},
	8:  {3, 4, 4, 5, 5},
	9:  {3, 4, 4, 5, 5},
	10: {3, 4, 4, 5, 5},
}

func avalonTeamSize(rosterSize, questIndex int) (int, bool) {
	sizes, ok := avalonTeamSizes[rosterSize]
	if !ok || questIndex < 1 || questIndex > 5 {
		return 0, false
	}
	return sizes[questIndex-1], true
}

// avalonRequiredFails is 2 on the fourth quest in larger games, 1
// everywhere else.
func avalonRequiredFails(rosterSize, questIndex int) int {
	if questIndex == 4 && rosterSize >= 7 {
		return 2
	}
	return 1
}

// buildAvalonDeck expands a selected special-role set into a full deck
// for the roster size, padding with vanilla servants and minions.
func buildAvalonDeck(selected []string, rosterSize int) ([]avalonRole, error) {
	evilSeats, ok := avalonEvilCount[rosterSize]
	if !ok {
		return nil, fmt.Errorf("%w: %d players", errRosterSize, rosterSize)
	}
	goodSeats := rosterSize - evilSeats

	var good, evil []avalonRole
	seen := make(map[string]bool, len(selected))
	assassins := 0
	hasMerlin := false
	hasPercival := false

	for _, id := range selected {
		role, ok := roleCatalog[id]
		if !ok {
			return nil, fmt.Errorf("%w: unknown role %q", errRoleConfig, id)
		}
		if seen[id] {
			return nil, fmt.Errorf("%w: duplicate role %q", errRoleConfig, id)
		}
		seen[id] = true

		switch role.Team {
		case teamGood:
			good = append(good, role)
		case teamEvil:
			evil = append(evil, role)
		}
		if role.CanAssassinate {
			assassins++
		}
		if role.informedGood {
			hasMerlin = true
		}
		if role.seesMerlinChannel {
			hasPercival = true
		}
	}

	if assassins != 1 {
		return nil, fmt.Errorf("%w: exactly one role must carry the assassination", errRoleConfig)
	}
	if hasPercival && !hasMerlin {
		return nil, fmt.Errorf("%w: percival requires merlin", errRoleConfig)
	}
	if len(good) > goodSeats {
		return nil, fmt.Errorf("%w: %d good roles for %d good seats", errRoleConfig, len(good), goodSeats)
	}
	if len(evil) > evilSeats {
		return nil, fmt.Errorf("%w: %d evil roles for %d evil seats", errRoleConfig, len(evil), evilSeats)
	}

	for len(good) < goodSeats {
		good = append(good, roleCatalog["servant"])
	}
	for len(evil) < evilSeats {
		evil = append(evil, roleCatalog["minion"])
	}

	return append(good, evil...), nil
}

// cryptoShuffle is a Fisher-Yates shuffle driven by crypto/rand.
func cryptoShuffle(n int, swap func(i, j int)) {
	for i := n - 1; i > 0; i-- {
		swap(i, cryptoIndex(i+1))
	}
}

// cryptoIndex returns a uniform value in [0, n). A raw byte reduced
// with modulo would skew low indexes, so bytes at or above the largest
// multiple of n are rejected and redrawn.
func cryptoIndex(n int) int {
	limit := 256 - 256%n
	for {
		var b [1]byte
		if _, err := rand.Read(b[:]); err != nil {
			continue
		}
		if v := int(b[0]); v < limit {
			return v % n
		}
	}
}

type visibilityRule struct {
	label    string
	observes func(r avalonRole) bool
	reveals  func(r avalonRole) bool
}

var visibilityRules = []visibilityRule{
	{
		label:    "These players also serve evil",
		observes: func(r avalonRole) bool { return r.Team == teamEvil && !r.outsideEvilChannel },
		reveals:  func(r avalonRole) bool { return r.Team == teamEvil && !r.outsideEvilChannel },
	},
	{
		label:    "These players serve evil",
		observes: func(r avalonRole) bool { return r.informedGood },
		reveals:  func(r avalonRole) bool { return r.Team == teamEvil && !r.hiddenFromMerlin },
	},
	{
		label:    "One of these players is Merlin",
		observes: func(r avalonRole) bool { return r.seesMerlinChannel },
		reveals:  func(r avalonRole) bool { return r.informedGood || r.appearsAsMerlin },
	},
}

// computeVisibility fills each seat's sees/seesLabel from the rule set.
// The relation is asymmetric: who a player sees depends on every other
// seat's traits, not just their own role's static rule.
func computeVisibility(seats []*avalonSeat) {
	for _, observer := range seats {
		observer.sees = nil
		observer.seesLabel = ""

		for _, rule := range visibilityRules {
			if !rule.observes(*observer.role) {
				continue
			}

			for _, subject := range seats {
				if subject.ID == observer.ID {
					continue
				}
				if rule.reveals(*subject.role) {
					observer.sees = append(observer.sees, subject.ID)
				}
			}
			observer.seesLabel = rule.label
			break
		}
	}
}
