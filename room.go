/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

package main

import (
	"sync"
	"time"
)

// Phase is the room's position in the round lifecycle. Transitions only
// happen through the guard table below, never by ad hoc assignment checks.
type Phase string

const (
	PhaseLobby   Phase = "lobby"
	PhasePlaying Phase = "playing"
	PhaseVoting  Phase = "voting"
	PhaseResults Phase = "results"
)

// imposterWord is the sentinel dealt to the imposter in place of a real word.
const imposterWord = "IMPOSTER"

// phaseGuards maps each inbound event type to the phases it is legal in.
// Events absent from the table carry no phase requirement.
var phaseGuards = map[string][]Phase{
	msgJoin:         {PhaseLobby, PhaseResults},
	msgStartRound:   {PhaseLobby, PhaseResults},
	msgNextRound:    {PhaseResults},
	msgReveal:       {PhasePlaying},
	msgStartVote:    {PhasePlaying},
	msgVote:         {PhaseVoting},
	msgForceResults: {PhaseVoting},
	msgKick:         {PhaseLobby},
	msgEndGame:      {PhaseLobby, PhasePlaying, PhaseVoting, PhaseResults},
}

func phaseAllows(event string, phase Phase) bool {
	allowed, ok := phaseGuards[event]
	if !ok {
		return true
	}
	for _, p := range allowed {
		if p == phase {
			return true
		}
	}
	return false
}

// Player is a room member. The durable ID survives reconnects; the
// connection ID is rewritten each time the transport reattaches. Vote
// targets and the room's host/imposter pointers are stored as durable IDs
// so a reconnect only has to touch this one struct and the room's
// connection index.
type Player struct {
	DurableID   string
	ConnID      string
	Name        string
	IsHost      bool
	IsImposter  bool
	HasRevealed bool
	Connected   bool
	Word        string
	Vote        string // durable ID of the vote target, empty until cast
	Score       int

	client     *Client
	graceTimer *time.Timer
}

type Room struct {
	mu sync.Mutex

	code    string
	phase   Phase
	players map[string]*Player // durable ID -> player
	conns   map[string]string  // connection ID -> durable ID
	order   []string           // durable IDs in join order

	hostID     string // durable ID of the host
	imposterID string // durable ID of this round's imposter, empty outside rounds

	roundNumber     int
	currentWord     string
	currentCategory string
	usedWords       map[string]struct{}
	resolved        bool // results already computed for the active vote

	createdAt  time.Time
	lastActive time.Time
}

func newRoom(code string) *Room {
	now := time.Now()
	return &Room{
		code:       code,
		phase:      PhaseLobby,
		players:    make(map[string]*Player),
		conns:      make(map[string]string),
		usedWords:  make(map[string]struct{}),
		createdAt:  now,
		lastActive: now,
	}
}

// addPlayerLocked seats a new player and indexes their connection.
func (r *Room) addPlayerLocked(c *Client, name string, isHost bool) *Player {
	p := &Player{
		DurableID: newPlayerID(),
		ConnID:    c.connID,
		Name:      name,
		IsHost:    isHost,
		Connected: true,
		client:    c,
	}
	r.players[p.DurableID] = p
	r.conns[c.connID] = p.DurableID
	r.order = append(r.order, p.DurableID)
	if isHost {
		r.hostID = p.DurableID
	}
	r.lastActive = time.Now()
	return p
}

func (r *Room) ownsConn(connID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.conns[connID]
	return ok
}

func (r *Room) playerByConnLocked(connID string) *Player {
	id, ok := r.conns[connID]
	if !ok {
		return nil
	}
	return r.players[id]
}

// removePlayerLocked permanently drops a player and every index entry that
// refers to them. Votes pointing at the removed player are left in place;
// the tally treats targets it cannot resolve as absent.
func (r *Room) removePlayerLocked(p *Player) {
	if p.graceTimer != nil {
		p.graceTimer.Stop()
		p.graceTimer = nil
	}
	delete(r.players, p.DurableID)
	delete(r.conns, p.ConnID)
	for i, id := range r.order {
		if id == p.DurableID {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
	r.lastActive = time.Now()
}

// connectedLocked returns connected players in join order, so anything that
// picks "the first" player is deterministic.
func (r *Room) connectedLocked() []*Player {
	out := make([]*Player, 0, len(r.players))
	for _, id := range r.order {
		if p := r.players[id]; p != nil && p.Connected {
			out = append(out, p)
		}
	}
	return out
}

func (r *Room) isHostLocked(p *Player) bool {
	return p != nil && p.DurableID == r.hostID
}

// migrateHostLocked hands host authority to the first connected player in
// join order. Returns nil if nobody is connected.
func (r *Room) migrateHostLocked() *Player {
	connected := r.connectedLocked()
	if len(connected) == 0 {
		r.hostID = ""
		return nil
	}
	newHost := connected[0]
	newHost.IsHost = true
	r.hostID = newHost.DurableID
	return newHost
}

// PlayerInfo is the roster entry clients see. IDs on the wire are always
// connection IDs; durable IDs never leave the owning client.
type PlayerInfo struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	IsHost    bool   `json:"is_host"`
	Score     int    `json:"score"`
	Connected bool   `json:"connected"`
}

func (r *Room) rosterLocked() []PlayerInfo {
	roster := make([]PlayerInfo, 0, len(r.players))
	for _, id := range r.order {
		p := r.players[id]
		if p == nil {
			continue
		}
		roster = append(roster, PlayerInfo{
			ID:        p.ConnID,
			Name:      p.Name,
			IsHost:    p.IsHost,
			Score:     p.Score,
			Connected: p.Connected,
		})
	}
	return roster
}

// broadcastLocked fans a message out to every connected client in the room.
// Slow consumers are dropped rather than allowed to block the room.
func (r *Room) broadcastLocked(msg any) {
	for _, id := range r.order {
		p := r.players[id]
		if p == nil || p.client == nil {
			continue
		}
		select {
		case p.client.send <- msg:
		default:
			p.client.closeSend()
			p.client = nil
		}
	}
}

func sendTo(c *Client, msg any) {
	if c == nil {
		return
	}
	select {
	case c.send <- msg:
	default:
	}
}
