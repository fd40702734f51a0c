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
		codeLength:    4,
		gracePeriod:   40 * time.Millisecond,
		maxPlayers:    15,
		minPlayers:    3,
		sweepInterval: 0,
	}
}

func newTestClient() *Client {
	return &Client{
		send:   make(chan any, 64),
		connID: newConnID(),
	}
}

// recvOfType pops queued messages until one of the wanted type appears.
// Dispatch is synchronous, so anything expected is already buffered.
func recvOfType[T any](t *testing.T, c *Client) T {
	t.Helper()
	for {
		select {
		case msg, ok := <-c.send:
			if !ok {
				var zero T
				t.Fatalf("send queue closed while waiting for %T", zero)
				return zero
			}
			if m, ok := msg.(T); ok {
				return m
			}
		default:
			var zero T
			t.Fatalf("no %T in send queue", zero)
			return zero
		}
	}
}

func drainClient(c *Client) {
	for {
		select {
		case _, ok := <-c.send:
			if !ok {
				return
			}
		default:
			return
		}
	}
}

func drainAll(clients ...*Client) {
	for _, c := range clients {
		drainClient(c)
	}
}

// setupRoom creates a room with the first name as host and joins the rest.
func setupRoom(t *testing.T, rm *RoomManager, cfg *Config, names ...string) ([]*Client, *Room) {
	t.Helper()

	host := newTestClient()
	rm.dispatch(cfg, host, ClientMessage{Type: msgCreate, PlayerName: names[0]})
	created := recvOfType[RoomCreatedMessage](t, host)

	clients := []*Client{host}
	for _, name := range names[1:] {
		c := newTestClient()
		rm.dispatch(cfg, c, ClientMessage{Type: msgJoin, PlayerName: name, RoomCode: created.RoomCode})
		recvOfType[RoomJoinedMessage](t, c)
		clients = append(clients, c)
	}

	room := rm.findRoom(created.RoomCode)
	require.NotNil(t, room)
	drainAll(clients...)
	return clients, room
}

// forceImposter reassigns the round's imposter so vote outcomes are
// deterministic under test.
func forceImposter(room *Room, c *Client) {
	room.mu.Lock()
	defer room.mu.Unlock()

	for _, p := range room.players {
		p.IsImposter = false
		if p.Word != "" {
			p.Word = room.currentWord
		}
	}
	p := room.playerByConnLocked(c.connID)
	p.IsImposter = true
	p.Word = imposterWord
	room.imposterID = p.DurableID
}

func connIDOf(c *Client) string {
	return c.connID
}

func TestCreateRoom(t *testing.T) {
	cfg := testConfig()
	rm := newRoomManager(cfg, defaultCatalog)

	tests := []struct {
		name       string
		playerName string
		wantError  bool
	}{
		{name: "valid name creates room", playerName: "alice"},
		{name: "empty name rejected", playerName: "   ", wantError: true},
		{name: "oversized name rejected", playerName: "abcdefghijklmnopqrstu", wantError: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newTestClient()
			rm.dispatch(cfg, c, ClientMessage{Type: msgCreate, PlayerName: tt.playerName})

			if tt.wantError {
				msg := recvOfType[ErrorMessage](t, c)
				assert.NotEmpty(t, msg.Message)
				assert.Equal(t, "validation", msg.Kind)
				assert.Nil(t, c.room)
				return
			}

			msg := recvOfType[RoomCreatedMessage](t, c)
			assert.Len(t, msg.RoomCode, cfg.codeLength)
			assert.NotEmpty(t, msg.PlayerID)
			require.Len(t, msg.Players, 1)
			assert.True(t, msg.Players[0].IsHost)
			assert.NotNil(t, rm.findRoom(msg.RoomCode))
		})
	}
}

func TestJoinRoom(t *testing.T) {
	cfg := testConfig()
	rm := newRoomManager(cfg, defaultCatalog)

	clients, room := setupRoom(t, rm, cfg, "alice", "bob")

	t.Run("unknown code", func(t *testing.T) {
		c := newTestClient()
		rm.dispatch(cfg, c, ClientMessage{Type: msgJoin, PlayerName: "carol", RoomCode: "ZZZZ"})
		msg := recvOfType[ErrorMessage](t, c)
		assert.Equal(t, "Room not found.", msg.Message)
		assert.Equal(t, "not_found", msg.Kind)
	})

	t.Run("code is case-insensitive", func(t *testing.T) {
		c := newTestClient()
		rm.dispatch(cfg, c, ClientMessage{Type: msgJoin, PlayerName: "carol", RoomCode: " " + lower(room.code) + " "})
		msg := recvOfType[RoomJoinedMessage](t, c)
		assert.Equal(t, room.code, msg.RoomCode)
		assert.False(t, msg.IsHost)
		clients = append(clients, c)
	})

	t.Run("join broadcasts roster to others", func(t *testing.T) {
		drainAll(clients...)
		c := newTestClient()
		rm.dispatch(cfg, c, ClientMessage{Type: msgJoin, PlayerName: "dave", RoomCode: room.code})
		recvOfType[RoomJoinedMessage](t, c)
		msg := recvOfType[PlayerJoinedMessage](t, clients[0])
		assert.Equal(t, "dave", msg.PlayerName)
		assert.Equal(t, 4, msg.PlayerCount)
		clients = append(clients, c)
	})

	t.Run("join rejected mid-round", func(t *testing.T) {
		drainAll(clients...)
		rm.dispatch(cfg, clients[0], ClientMessage{Type: msgStartRound})
		recvOfType[RoundStartedMessage](t, clients[0])

		c := newTestClient()
		rm.dispatch(cfg, c, ClientMessage{Type: msgJoin, PlayerName: "eve", RoomCode: room.code})
		msg := recvOfType[ErrorMessage](t, c)
		assert.Contains(t, msg.Message, "in progress")
	})

	t.Run("room full", func(t *testing.T) {
		small := testConfig()
		small.maxPlayers = 3
		rmSmall := newRoomManager(small, defaultCatalog)
		members, _ := setupRoom(t, rmSmall, small, "a", "b", "c")
		require.Len(t, members, 3)

		c := newTestClient()
		rmSmall.dispatch(small, c, ClientMessage{Type: msgJoin, PlayerName: "d", RoomCode: members[0].room.code})
		msg := recvOfType[ErrorMessage](t, c)
		assert.Contains(t, msg.Message, "full")
	})
}

func lower(s string) string {
	out := []rune(s)
	for i, r := range out {
		if r >= 'A' && r <= 'Z' {
			out[i] = r + ('a' - 'A')
		}
	}
	return string(out)
}

func TestStartRoundGuards(t *testing.T) {
	cfg := testConfig()
	rm := newRoomManager(cfg, defaultCatalog)
	clients, room := setupRoom(t, rm, cfg, "alice", "bob", "carol")

	t.Run("non-host rejected", func(t *testing.T) {
		rm.dispatch(cfg, clients[1], ClientMessage{Type: msgStartRound})
		msg := recvOfType[ErrorMessage](t, clients[1])
		assert.Equal(t, "Only the host can do that.", msg.Message)
		assert.Equal(t, "precondition", msg.Kind)
		assert.Equal(t, PhaseLobby, phaseOf(room))
	})

	t.Run("too few connected players", func(t *testing.T) {
		rm.handleDisconnect(cfg, clients[2])
		drainAll(clients...)

		rm.dispatch(cfg, clients[0], ClientMessage{Type: msgStartRound})
		msg := recvOfType[ErrorMessage](t, clients[0])
		assert.Contains(t, msg.Message, "at least 3")
		assert.Equal(t, PhaseLobby, phaseOf(room))
	})
}

func phaseOf(room *Room) Phase {
	room.mu.Lock()
	defer room.mu.Unlock()
	return room.phase
}

func TestRoundAssignment(t *testing.T) {
	cfg := testConfig()
	rm := newRoomManager(cfg, defaultCatalog)
	clients, room := setupRoom(t, rm, cfg, "alice", "bob", "carol", "dave")

	// dave is a member but disconnected at round start
	rm.handleDisconnect(cfg, clients[3])
	drainAll(clients...)

	rm.dispatch(cfg, clients[0], ClientMessage{Type: msgStartRound})
	started := recvOfType[RoundStartedMessage](t, clients[0])
	assert.Equal(t, 1, started.RoundNumber)
	assert.NotEmpty(t, started.Category)
	assert.Len(t, started.Players, 4)

	room.mu.Lock()
	imposters := 0
	words := make(map[string]int)
	for _, p := range room.players {
		if p.IsImposter {
			imposters++
			assert.Equal(t, imposterWord, p.Word)
			assert.True(t, p.Connected, "imposter must be drawn from connected players")
		} else if p.Connected {
			words[p.Word]++
		} else {
			assert.Empty(t, p.Word, "disconnected players get no word")
		}
	}
	currentWord := room.currentWord
	room.mu.Unlock()

	assert.Equal(t, 1, imposters)
	assert.Equal(t, map[string]int{currentWord: 2}, words)
	assert.Equal(t, PhasePlaying, phaseOf(room))
}

func TestRevealWord(t *testing.T) {
	cfg := testConfig()
	rm := newRoomManager(cfg, defaultCatalog)
	clients, room := setupRoom(t, rm, cfg, "alice", "bob", "carol")

	rm.dispatch(cfg, clients[0], ClientMessage{Type: msgStartRound})
	drainAll(clients...)
	forceImposter(room, clients[2])

	rm.dispatch(cfg, clients[0], ClientMessage{Type: msgReveal})
	revealed := recvOfType[WordRevealedMessage](t, clients[0])
	room.mu.Lock()
	assert.Equal(t, room.currentWord, revealed.Word)
	room.mu.Unlock()

	// idempotent: a second reveal re-sends the same word
	rm.dispatch(cfg, clients[0], ClientMessage{Type: msgReveal})
	again := recvOfType[WordRevealedMessage](t, clients[0])
	assert.Equal(t, revealed.Word, again.Word)

	rm.dispatch(cfg, clients[2], ClientMessage{Type: msgReveal})
	imposter := recvOfType[WordRevealedMessage](t, clients[2])
	assert.Equal(t, imposterWord, imposter.Word)
}

// The §8-style scenario: A(host), B, C; votes A→B, B→C, C→B. B is accused
// with 2 votes; with B the imposter, the crew each score a point.
func TestVoteScenarioImposterCaught(t *testing.T) {
	cfg := testConfig()
	rm := newRoomManager(cfg, defaultCatalog)
	clients, room := setupRoom(t, rm, cfg, "alice", "bob", "carol")
	a, b, c := clients[0], clients[1], clients[2]

	rm.dispatch(cfg, a, ClientMessage{Type: msgStartRound})
	forceImposter(room, b)
	rm.dispatch(cfg, a, ClientMessage{Type: msgStartVote})
	drainAll(clients...)

	rm.dispatch(cfg, a, ClientMessage{Type: msgVote, Target: connIDOf(b)})
	cast := recvOfType[VoteCastMessage](t, a)
	assert.Equal(t, "alice", cast.VoterName)
	assert.Equal(t, 1, cast.VoteCount)
	assert.Equal(t, 3, cast.TotalExpected)

	rm.dispatch(cfg, b, ClientMessage{Type: msgVote, Target: connIDOf(c)})
	rm.dispatch(cfg, c, ClientMessage{Type: msgVote, Target: connIDOf(b)})

	results := recvOfType[ResultsMessage](t, a)
	assert.True(t, results.ImposterCaught)
	assert.False(t, results.IsTie)
	assert.Equal(t, "bob", results.AccusedName)
	assert.Equal(t, "bob", results.ImposterName)
	require.Len(t, results.Scores, 3)
	for _, s := range results.Scores {
		if s.IsImposter {
			assert.Equal(t, 0, s.Delta)
			assert.Equal(t, 0, s.Score)
		} else {
			assert.Equal(t, 1, s.Delta)
			assert.Equal(t, 1, s.Score)
		}
	}
	assert.Equal(t, PhaseResults, phaseOf(room))
}

// Three-way tie: nobody is accused and the imposter banks 3 points.
func TestVoteScenarioThreeWayTie(t *testing.T) {
	cfg := testConfig()
	rm := newRoomManager(cfg, defaultCatalog)
	clients, room := setupRoom(t, rm, cfg, "alice", "bob", "carol")
	a, b, c := clients[0], clients[1], clients[2]

	rm.dispatch(cfg, a, ClientMessage{Type: msgStartRound})
	forceImposter(room, c)
	rm.dispatch(cfg, a, ClientMessage{Type: msgStartVote})
	drainAll(clients...)

	rm.dispatch(cfg, a, ClientMessage{Type: msgVote, Target: connIDOf(b)})
	rm.dispatch(cfg, b, ClientMessage{Type: msgVote, Target: connIDOf(c)})
	rm.dispatch(cfg, c, ClientMessage{Type: msgVote, Target: connIDOf(a)})

	results := recvOfType[ResultsMessage](t, b)
	assert.True(t, results.IsTie)
	assert.False(t, results.ImposterCaught)
	assert.Empty(t, results.AccusedName)
	for _, s := range results.Scores {
		if s.IsImposter {
			assert.Equal(t, 3, s.Delta)
		} else {
			assert.Equal(t, 0, s.Delta)
		}
	}
	assert.Equal(t, "carol", results.Scores[0].Name, "imposter tops the standings")
}

func TestDuplicateVoteIgnored(t *testing.T) {
	cfg := testConfig()
	rm := newRoomManager(cfg, defaultCatalog)
	clients, room := setupRoom(t, rm, cfg, "alice", "bob", "carol")
	a, b, c := clients[0], clients[1], clients[2]

	rm.dispatch(cfg, a, ClientMessage{Type: msgStartRound})
	forceImposter(room, c)
	rm.dispatch(cfg, a, ClientMessage{Type: msgStartVote})
	drainAll(clients...)

	rm.dispatch(cfg, a, ClientMessage{Type: msgVote, Target: connIDOf(b)})
	drainAll(clients...)

	// second vote from alice is dropped without an error
	rm.dispatch(cfg, a, ClientMessage{Type: msgVote, Target: connIDOf(c)})
	select {
	case msg := <-a.send:
		t.Fatalf("expected silence, got %#v", msg)
	default:
	}

	room.mu.Lock()
	p := room.playerByConnLocked(a.connID)
	target := room.players[p.Vote]
	room.mu.Unlock()
	assert.Equal(t, "bob", target.Name, "first vote wins")
}

func TestForceResultsAfterAutoResolveIsNoop(t *testing.T) {
	cfg := testConfig()
	rm := newRoomManager(cfg, defaultCatalog)
	clients, room := setupRoom(t, rm, cfg, "alice", "bob", "carol")
	a, b, c := clients[0], clients[1], clients[2]

	rm.dispatch(cfg, a, ClientMessage{Type: msgStartRound})
	forceImposter(room, c)
	rm.dispatch(cfg, a, ClientMessage{Type: msgStartVote})
	drainAll(clients...)

	rm.dispatch(cfg, a, ClientMessage{Type: msgVote, Target: connIDOf(b)})
	rm.dispatch(cfg, b, ClientMessage{Type: msgVote, Target: connIDOf(b)})
	rm.dispatch(cfg, c, ClientMessage{Type: msgVote, Target: connIDOf(b)})

	recvOfType[ResultsMessage](t, a)
	drainAll(clients...)

	// the vote already resolved; a forced resolve must not double-score.
	// Results moved the room out of Voting, so the guard rejects it.
	rm.dispatch(cfg, a, ClientMessage{Type: msgForceResults})
	recvOfType[ErrorMessage](t, a)

	room.mu.Lock()
	score := room.players[room.imposterID].Score
	room.mu.Unlock()
	assert.Equal(t, 0, score, "imposter was caught; no double application")
}

// Two connected players remain of five during voting; once both have voted,
// results resolve without waiting on the three disconnected members.
func TestAutoResolveIgnoresDisconnected(t *testing.T) {
	cfg := testConfig()
	rm := newRoomManager(cfg, defaultCatalog)
	clients, room := setupRoom(t, rm, cfg, "a", "b", "c", "d", "e")

	rm.dispatch(cfg, clients[0], ClientMessage{Type: msgStartRound})
	forceImposter(room, clients[1])
	rm.dispatch(cfg, clients[0], ClientMessage{Type: msgStartVote})

	for _, c := range clients[2:] {
		rm.handleDisconnect(cfg, c)
	}
	drainAll(clients...)

	rm.dispatch(cfg, clients[0], ClientMessage{Type: msgVote, Target: connIDOf(clients[1])})
	rm.dispatch(cfg, clients[1], ClientMessage{Type: msgVote, Target: connIDOf(clients[0])})

	results := recvOfType[ResultsMessage](t, clients[0])
	assert.True(t, results.IsTie, "one vote each is a top tie")
	assert.False(t, results.ImposterCaught)
}

func TestNextRoundSharesSetupPath(t *testing.T) {
	cfg := testConfig()
	rm := newRoomManager(cfg, defaultCatalog)
	clients, room := setupRoom(t, rm, cfg, "alice", "bob", "carol")
	a, b, c := clients[0], clients[1], clients[2]

	rm.dispatch(cfg, a, ClientMessage{Type: msgStartRound})
	forceImposter(room, c)
	rm.dispatch(cfg, a, ClientMessage{Type: msgStartVote})
	rm.dispatch(cfg, a, ClientMessage{Type: msgVote, Target: connIDOf(c)})
	rm.dispatch(cfg, b, ClientMessage{Type: msgVote, Target: connIDOf(c)})
	rm.dispatch(cfg, c, ClientMessage{Type: msgVote, Target: connIDOf(a)})
	drainAll(clients...)
	require.Equal(t, PhaseResults, phaseOf(room))

	// next_round is only legal from Results
	rm.dispatch(cfg, a, ClientMessage{Type: msgNextRound})
	started := recvOfType[RoundStartedMessage](t, a)
	assert.Equal(t, 2, started.RoundNumber)
	assert.Equal(t, PhasePlaying, phaseOf(room))

	room.mu.Lock()
	for _, p := range room.players {
		assert.Empty(t, p.Vote, "votes reset for the new round")
		assert.False(t, p.HasRevealed)
	}
	room.mu.Unlock()
}

func TestEndGameResets(t *testing.T) {
	cfg := testConfig()
	rm := newRoomManager(cfg, defaultCatalog)
	clients, room := setupRoom(t, rm, cfg, "alice", "bob", "carol")
	a, b, c := clients[0], clients[1], clients[2]

	rm.dispatch(cfg, a, ClientMessage{Type: msgStartRound})
	forceImposter(room, c)
	rm.dispatch(cfg, a, ClientMessage{Type: msgStartVote})
	rm.dispatch(cfg, a, ClientMessage{Type: msgVote, Target: connIDOf(c)})
	rm.dispatch(cfg, b, ClientMessage{Type: msgVote, Target: connIDOf(c)})
	rm.dispatch(cfg, c, ClientMessage{Type: msgVote, Target: connIDOf(b)})
	drainAll(clients...)

	rm.dispatch(cfg, a, ClientMessage{Type: msgEndGame})
	ended := recvOfType[GameEndedMessage](t, b)
	require.Len(t, ended.FinalScores, 3)
	assert.Equal(t, 1, ended.FinalScores[0].Score, "standings captured before the reset")

	room.mu.Lock()
	defer room.mu.Unlock()
	assert.Equal(t, PhaseLobby, room.phase)
	assert.Zero(t, room.roundNumber)
	assert.Empty(t, room.currentWord)
	assert.Empty(t, room.imposterID)
	assert.Empty(t, room.usedWords)
	for _, p := range room.players {
		assert.Zero(t, p.Score)
		assert.Empty(t, p.Vote)
	}
}

func TestKickPlayer(t *testing.T) {
	cfg := testConfig()
	rm := newRoomManager(cfg, defaultCatalog)
	clients, room := setupRoom(t, rm, cfg, "alice", "bob", "carol")
	a, b := clients[0], clients[1]

	t.Run("host cannot be kicked", func(t *testing.T) {
		rm.dispatch(cfg, a, ClientMessage{Type: msgKick, Target: connIDOf(a)})
		room.mu.Lock()
		n := len(room.players)
		room.mu.Unlock()
		assert.Equal(t, 3, n)
	})

	t.Run("kicked player is removed and told", func(t *testing.T) {
		drainAll(clients...)
		rm.dispatch(cfg, a, ClientMessage{Type: msgKick, Target: connIDOf(b)})

		msg := recvOfType[ErrorMessage](t, b)
		assert.Contains(t, msg.Message, "kicked")

		left := recvOfType[PlayerLeftMessage](t, a)
		assert.Equal(t, "bob", left.PlayerName)
		assert.Equal(t, 2, left.PlayerCount)

		room.mu.Lock()
		assert.Nil(t, room.playerByConnLocked(b.connID))
		room.mu.Unlock()

		// stale events from the kicked client are dropped silently
		rm.dispatch(cfg, b, ClientMessage{Type: msgStartRound})
		select {
		case msg := <-b.send:
			t.Fatalf("expected silence, got %#v", msg)
		default:
		}
	})

	t.Run("kicked connection can start over", func(t *testing.T) {
		drainClient(b)
		rm.dispatch(cfg, b, ClientMessage{Type: msgCreate, PlayerName: "bob"})
		created := recvOfType[RoomCreatedMessage](t, b)
		assert.NotEqual(t, room.code, created.RoomCode)
		assert.Equal(t, rm.findRoom(created.RoomCode), b.room)
	})
}

func TestRoomCodeCollisionRetry(t *testing.T) {
	cfg := testConfig()
	cfg.codeLength = 1
	rm := newRoomManager(cfg, defaultCatalog)

	// With single-character codes, 32 rooms exhaust most of the space;
	// every generated code must still be unique.
	seen := make(map[string]bool)
	for i := 0; i < 20; i++ {
		c := newTestClient()
		rm.dispatch(cfg, c, ClientMessage{Type: msgCreate, PlayerName: fmt.Sprintf("p%d", i)})
		created := recvOfType[RoomCreatedMessage](t, c)
		assert.False(t, seen[created.RoomCode], "duplicate room code %s", created.RoomCode)
		seen[created.RoomCode] = true
	}
	assert.Equal(t, 20, rm.roomCount())
}
