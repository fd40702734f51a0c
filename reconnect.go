/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

package main

import (
	"time"
)

// handleDisconnect runs when a client's read pump exits for any reason.
// The player keeps their seat, marked disconnected, until the grace timer
// fires or they rejoin with their durable ID.
func (rm *RoomManager) handleDisconnect(cfg *Config, c *Client) {
	defer c.closeSend()

	room := c.room
	if room == nil {
		return
	}

	room.mu.Lock()
	defer room.mu.Unlock()

	p := room.playerByConnLocked(c.connID)
	if p == nil || !p.Connected || (p.client != nil && p.client != c) {
		// Already kicked, expired, or superseded by a rejoin. A seat whose
		// client is nil but whose connection ID still matches belongs to a
		// slow consumer dropped mid-broadcast; its read pump lands here and
		// must still run the normal disconnect path below.
		return
	}

	p.Connected = false
	p.client = nil
	room.lastActive = time.Now()

	room.broadcastLocked(PlayerLeftMessage{
		Type:        msgPlayerLeft,
		PlayerName:  p.Name,
		PlayerCount: len(room.connectedLocked()),
		Players:     room.rosterLocked(),
	})

	// A departing non-voter must not leave a vote hanging.
	if room.phase == PhaseVoting {
		connected := room.connectedLocked()
		if len(connected) > 0 && votesAmong(connected) >= len(connected) {
			room.resolveVotesLocked()
		}
	}

	durableID := p.DurableID
	p.graceTimer = time.AfterFunc(cfg.gracePeriod, func() {
		rm.expireSeat(cfg, room, durableID)
	})

	logf(cfg, "ROOMS: Player %q disconnected from room %s", p.Name, room.code)
}

// expireSeat fires when a grace period lapses. It serializes through the
// room lock, so a rejoin that won the race has already flipped Connected
// back on and this becomes a no-op; conversely, once removal happens here
// a late rejoin finds no seat and fails with not-found.
func (rm *RoomManager) expireSeat(cfg *Config, room *Room, durableID string) {
	room.mu.Lock()

	p := room.players[durableID]
	if p == nil || p.Connected {
		room.mu.Unlock()
		return
	}

	wasHost := p.IsHost
	room.removePlayerLocked(p)
	logf(cfg, "ROOMS: Player %q removed from room %s after grace period", p.Name, room.code)

	empty := len(room.players) == 0
	if !empty {
		if wasHost {
			if newHost := room.migrateHostLocked(); newHost != nil {
				room.broadcastLocked(HostChangedMessage{
					Type:        msgHostChanged,
					NewHostName: newHost.Name,
					NewHostID:   newHost.ConnID,
					Players:     room.rosterLocked(),
				})
				logf(cfg, "ROOMS: Host migrated to %q in room %s", newHost.Name, room.code)
			}
		}
		room.broadcastLocked(PlayerLeftMessage{
			Type:        msgPlayerLeft,
			PlayerName:  p.Name,
			PlayerCount: len(room.connectedLocked()),
			Players:     room.rosterLocked(),
		})
	}

	room.mu.Unlock()

	if empty {
		rm.reclaim(cfg, room)
	}
}

// handleRejoin reconciles a durable player identity with a fresh
// connection. The connection index entry and the player's own connection ID
// are the only references that change; host, imposter, and vote pointers
// are durable and survive untouched.
func (rm *RoomManager) handleRejoin(cfg *Config, c *Client, msg ClientMessage) {
	if c.inRoom() {
		return
	}

	room := rm.findRoom(normalizeCode(msg.RoomCode))
	if room == nil {
		sendTo(c, errorMessage(failNotFound("Room no longer exists.")))
		return
	}

	room.mu.Lock()
	defer room.mu.Unlock()

	p := room.players[msg.PlayerID]
	if p == nil {
		sendTo(c, errorMessage(failNotFound("Session expired. Please rejoin.")))
		return
	}

	if p.graceTimer != nil {
		p.graceTimer.Stop()
		p.graceTimer = nil
	}

	// A duplicate tab rejoining supersedes the old connection.
	if p.client != nil && p.client != c {
		p.client.closeSend()
	}

	delete(room.conns, p.ConnID)
	p.ConnID = c.connID
	room.conns[c.connID] = p.DurableID
	p.Connected = true
	p.client = c
	room.lastActive = time.Now()
	c.room = room

	myVote := ""
	if target := room.players[p.Vote]; target != nil {
		myVote = target.ConnID
	}

	sendTo(c, ReconnectedMessage{
		Type:        msgReconnected,
		RoomCode:    room.code,
		PlayerID:    p.DurableID,
		Phase:       room.phase,
		IsHost:      p.IsHost,
		Players:     room.rosterLocked(),
		RoundNumber: room.roundNumber,
		Category:    room.currentCategory,
		HasWord:     p.Word != "",
		MyVote:      myVote,
	})
	room.broadcastOthersLocked(p, PlayerRejoinedMessage{
		Type:       msgPlayerRejoined,
		PlayerName: p.Name,
		Players:    room.rosterLocked(),
	})

	logf(cfg, "ROOMS: Player %q rejoined room %s", p.Name, room.code)
}

// reclaim drops a room from the registry if it is still reclaimable by the
// time both locks are held: either nobody is left, or everyone remaining is
// disconnected and past grace (a leaked timer would otherwise strand them).
func (rm *RoomManager) reclaim(cfg *Config, room *Room) {
	rm.mu.Lock()
	defer rm.mu.Unlock()

	room.mu.Lock()
	defer room.mu.Unlock()

	if !room.reclaimableLocked(cfg) {
		return
	}

	for _, p := range room.players {
		if p.graceTimer != nil {
			p.graceTimer.Stop()
			p.graceTimer = nil
		}
		if p.client != nil {
			p.client.closeSend()
			p.client = nil
		}
	}

	delete(rm.rooms, room.code)
	logf(cfg, "ROOMS: Reclaimed room %s", room.code)
}

func (room *Room) reclaimableLocked(cfg *Config) bool {
	if len(room.players) == 0 {
		return true
	}
	if len(room.connectedLocked()) > 0 {
		return false
	}
	return time.Since(room.lastActive) > cfg.gracePeriod
}

// sweepLoop is the coarse background pass over all rooms. The per-player
// grace timers normally get there first; this is cleanup for rooms whose
// timers never fired.
func (rm *RoomManager) sweepLoop(cfg *Config) {
	ticker := time.NewTicker(cfg.sweepInterval)
	for range ticker.C {
		rm.mu.Lock()
		candidates := make([]*Room, 0, len(rm.rooms))
		for _, room := range rm.rooms {
			candidates = append(candidates, room)
		}
		rm.mu.Unlock()

		for _, room := range candidates {
			room.mu.Lock()
			reapable := room.reclaimableLocked(cfg)
			room.mu.Unlock()

			if reapable {
				rm.reclaim(cfg, room)
			}
		}
	}
}
