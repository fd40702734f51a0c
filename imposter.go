// Imposter
//
// A round-based social deduction game for 3-15 players per room. Everyone
// but one player is shown the same secret word; the imposter gets a
// sentinel instead and has to blend in. After discussion the room votes on
// who the imposter is, scores are awarded, and the host rolls the next
// round.
//
// Features:
// - One websocket endpoint: /imposter/ws; rooms addressed by 4-char codes
// - The creating player is host; host authority migrates if they vanish
// - Players keep their seat for a grace period across disconnects and can
//   rejoin with a durable player ID
// - Votes auto-resolve the moment every connected player has voted
// - Ties always protect the imposter
// - Abandoned rooms reaped by a background sweep
// - In-browser QR button to share a room's join link, backed by go-qrcode

package main

import (
	"log"
	"net/http"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/gorilla/websocket"
	"github.com/julienschmidt/httprouter"
	"github.com/skip2/go-qrcode"
)

// Inbound message types.
const (
	msgCreate       = "create"
	msgJoin         = "join"
	msgRejoin       = "rejoin"
	msgStartRound   = "start_round"
	msgReveal       = "reveal"
	msgStartVote    = "start_vote"
	msgVote         = "vote"
	msgForceResults = "force_results"
	msgNextRound    = "next_round"
	msgEndGame      = "end_game"
	msgKick         = "kick"
)

// Outbound message types.
const (
	msgError          = "error"
	msgRoomCreated    = "room_created"
	msgRoomJoined     = "room_joined"
	msgPlayerJoined   = "player_joined"
	msgPlayerLeft     = "player_left"
	msgPlayerRejoined = "player_rejoined"
	msgRoundStarted   = "round_started"
	msgWordRevealed   = "word_revealed"
	msgVotingStarted  = "voting_started"
	msgVoteCast       = "vote_cast"
	msgResults        = "results"
	msgGameEnded      = "game_ended"
	msgHostChanged    = "host_changed"
	msgReconnected    = "reconnected"
)

// ClientMessage is every message a client can send, discriminated by Type.
type ClientMessage struct {
	Type       string `json:"type"`
	PlayerName string `json:"player_name,omitempty"` // create / join
	RoomCode   string `json:"room_code,omitempty"`   // join / rejoin
	PlayerID   string `json:"player_id,omitempty"`   // rejoin (durable ID)
	Target     string `json:"target,omitempty"`      // vote / kick (connection ID)
}

type ErrorMessage struct {
	Type    string `json:"type"`
	Kind    string `json:"kind,omitempty"`
	Message string `json:"message"`
}

func errorMessage(err *gameError) ErrorMessage {
	return ErrorMessage{Type: msgError, Kind: err.kind.String(), Message: err.Error()}
}

type RoomCreatedMessage struct {
	Type     string       `json:"type"`
	RoomCode string       `json:"room_code"`
	PlayerID string       `json:"player_id"`
	Players  []PlayerInfo `json:"players"`
}

type RoomJoinedMessage struct {
	Type     string       `json:"type"`
	RoomCode string       `json:"room_code"`
	PlayerID string       `json:"player_id"`
	IsHost   bool         `json:"is_host"`
	Players  []PlayerInfo `json:"players"`
}

type PlayerJoinedMessage struct {
	Type        string       `json:"type"`
	PlayerName  string       `json:"player_name"`
	PlayerCount int          `json:"player_count"`
	Players     []PlayerInfo `json:"players"`
}

type PlayerLeftMessage struct {
	Type        string       `json:"type"`
	PlayerName  string       `json:"player_name"`
	PlayerCount int          `json:"player_count"`
	Players     []PlayerInfo `json:"players"`
}

type PlayerRejoinedMessage struct {
	Type       string       `json:"type"`
	PlayerName string       `json:"player_name"`
	Players    []PlayerInfo `json:"players"`
}

type RoundStartedMessage struct {
	Type        string       `json:"type"`
	RoundNumber int          `json:"round_number"`
	Category    string       `json:"category"`
	Players     []PlayerInfo `json:"players"`
}

type WordRevealedMessage struct {
	Type string `json:"type"`
	Word string `json:"word"`
}

type VotablePlayer struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

type VotingStartedMessage struct {
	Type    string          `json:"type"`
	Players []VotablePlayer `json:"players"`
}

type VoteCastMessage struct {
	Type          string `json:"type"`
	VoterName     string `json:"voter_name"`
	VoteCount     int    `json:"vote_count"`
	TotalExpected int    `json:"total_expected"`
}

type VoteRecord struct {
	Voter    string `json:"voter"`
	VotedFor string `json:"voted_for"`
}

type ScoreEntry struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	Score      int    `json:"score"`
	Delta      int    `json:"delta"`
	IsImposter bool   `json:"is_imposter"`
}

type ResultsMessage struct {
	Type           string       `json:"type"`
	ImposterName   string       `json:"imposter_name"`
	ImposterCaught bool         `json:"imposter_caught"`
	IsTie          bool         `json:"is_tie"`
	AccusedName    string       `json:"accused_name,omitempty"`
	Word           string       `json:"word"`
	Category       string       `json:"category"`
	Votes          []VoteRecord `json:"votes"`
	Scores         []ScoreEntry `json:"scores"`
}

type FinalScore struct {
	Name  string `json:"name"`
	Score int    `json:"score"`
}

type GameEndedMessage struct {
	Type        string       `json:"type"`
	FinalScores []FinalScore `json:"final_scores"`
	Players     []PlayerInfo `json:"players"`
}

type HostChangedMessage struct {
	Type        string       `json:"type"`
	NewHostName string       `json:"new_host_name"`
	NewHostID   string       `json:"new_host_id"`
	Players     []PlayerInfo `json:"players"`
}

type ReconnectedMessage struct {
	Type        string       `json:"type"`
	RoomCode    string       `json:"room_code"`
	PlayerID    string       `json:"player_id"`
	Phase       Phase        `json:"phase"`
	IsHost      bool         `json:"is_host"`
	Players     []PlayerInfo `json:"players"`
	RoundNumber int          `json:"round_number"`
	Category    string       `json:"category,omitempty"`
	HasWord     bool         `json:"has_word"`
	MyVote      string       `json:"my_vote,omitempty"`
}

type Client struct {
	conn   *websocket.Conn
	send   chan any
	connID string

	// room is owned by this client's read pump: set on create/join/rejoin,
	// read on dispatch. Other goroutines never touch it.
	room *Room

	closeOnce sync.Once
}

func (c *Client) closeSend() {
	c.closeOnce.Do(func() {
		close(c.send)
	})
}

// inRoom reports whether this connection is still a member of its last room,
// clearing the association when the room no longer indexes it. A kicked
// player keeps the socket and may create or join another room on it.
func (c *Client) inRoom() bool {
	if c.room == nil {
		return false
	}
	if c.room.ownsConn(c.connID) {
		return true
	}
	c.room = nil
	return false
}

// RoomManager is the process-wide registry of live rooms. Individual rooms
// serialize their own events behind their own mutex; the manager lock only
// covers the code map. Lock order is always manager before room.
type RoomManager struct {
	mu      sync.Mutex
	rooms   map[string]*Room
	catalog Catalog
}

func newRoomManager(cfg *Config, catalog Catalog) *RoomManager {
	rm := &RoomManager{
		rooms:   make(map[string]*Room),
		catalog: catalog,
	}
	if cfg.sweepInterval > 0 {
		go rm.sweepLoop(cfg)
	}
	return rm
}

// newRoomLocked generates a collision-free room code and registers the
// room under it. Assumes rm.mu is held.
func (rm *RoomManager) newRoomLocked(cfg *Config) *Room {
	var code string
	for {
		code = randomCode(cfg.codeLength)
		if _, exists := rm.rooms[code]; !exists {
			break
		}
	}
	room := newRoom(code)
	rm.rooms[code] = room
	return room
}

func (rm *RoomManager) findRoom(code string) *Room {
	rm.mu.Lock()
	defer rm.mu.Unlock()
	return rm.rooms[code]
}

func (rm *RoomManager) roomCount() int {
	rm.mu.Lock()
	defer rm.mu.Unlock()
	return len(rm.rooms)
}

func cleanName(name string) (string, *gameError) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", failValidation("Please enter a name.")
	}
	if utf8.RuneCountInString(name) > 20 {
		return "", failValidation("Names are limited to 20 characters.")
	}
	return name, nil
}

// dispatch routes one inbound message. Room creation and (re)joining go
// through the manager; everything else is an in-room event serialized by
// the room's own lock.
func (rm *RoomManager) dispatch(cfg *Config, c *Client, msg ClientMessage) {
	switch msg.Type {
	case msgCreate:
		rm.handleCreate(cfg, c, msg)
	case msgJoin:
		rm.handleJoin(cfg, c, msg)
	case msgRejoin:
		rm.handleRejoin(cfg, c, msg)
	case msgStartRound, msgNextRound, msgReveal, msgStartVote, msgVote,
		msgForceResults, msgEndGame, msgKick:
		if c.room == nil {
			return
		}
		c.room.handleEvent(cfg, rm, c, msg)
	default:
		// ignore unknown types
	}
}

func (rm *RoomManager) handleCreate(cfg *Config, c *Client, msg ClientMessage) {
	if c.inRoom() {
		return
	}

	name, gerr := cleanName(msg.PlayerName)
	if gerr != nil {
		sendTo(c, errorMessage(gerr))
		return
	}

	rm.mu.Lock()
	room := rm.newRoomLocked(cfg)
	rm.mu.Unlock()

	room.mu.Lock()
	p := room.addPlayerLocked(c, name, true)
	c.room = room
	sendTo(c, RoomCreatedMessage{
		Type:     msgRoomCreated,
		RoomCode: room.code,
		PlayerID: p.DurableID,
		Players:  room.rosterLocked(),
	})
	room.mu.Unlock()

	logf(cfg, "ROOMS: Player %q created room %s", name, room.code)
}

func (rm *RoomManager) handleJoin(cfg *Config, c *Client, msg ClientMessage) {
	if c.inRoom() {
		return
	}

	name, gerr := cleanName(msg.PlayerName)
	if gerr != nil {
		sendTo(c, errorMessage(gerr))
		return
	}

	room := rm.findRoom(normalizeCode(msg.RoomCode))
	if room == nil {
		sendTo(c, errorMessage(failNotFound("Room not found.")))
		return
	}

	room.mu.Lock()
	defer room.mu.Unlock()

	if !phaseAllows(msgJoin, room.phase) {
		sendTo(c, errorMessage(failPrecondition("Game in progress. Wait for the next round.")))
		return
	}
	if len(room.players) >= cfg.maxPlayers {
		sendTo(c, errorMessage(failPrecondition("Room is full (max %d players).", cfg.maxPlayers)))
		return
	}

	p := room.addPlayerLocked(c, name, false)
	c.room = room

	sendTo(c, RoomJoinedMessage{
		Type:     msgRoomJoined,
		RoomCode: room.code,
		PlayerID: p.DurableID,
		IsHost:   false,
		Players:  room.rosterLocked(),
	})
	room.broadcastOthersLocked(p, PlayerJoinedMessage{
		Type:        msgPlayerJoined,
		PlayerName:  name,
		PlayerCount: len(room.players),
		Players:     room.rosterLocked(),
	})

	logf(cfg, "ROOMS: Player %q joined room %s", name, room.code)
}

// handleEvent applies one in-room event under the room lock. The phase
// guard and host guard run here once, centrally; handlers below assume
// both already passed.
func (r *Room) handleEvent(cfg *Config, rm *RoomManager, c *Client, msg ClientMessage) {
	r.mu.Lock()
	defer r.mu.Unlock()

	p := r.playerByConnLocked(c.connID)
	if p == nil {
		// Kicked or already expired; a race, not a client error.
		return
	}
	r.lastActive = time.Now()

	if !phaseAllows(msg.Type, r.phase) {
		// A vote or reveal landing after the phase moved on is a race
		// with resolution and stays silent.
		if msg.Type != msgVote && msg.Type != msgReveal {
			sendTo(c, errorMessage(failPrecondition("Cannot do that in the current phase.")))
		}
		return
	}

	switch msg.Type {
	case msgStartRound, msgNextRound, msgStartVote, msgForceResults, msgEndGame, msgKick:
		if !r.isHostLocked(p) {
			sendTo(c, errorMessage(failPrecondition("Only the host can do that.")))
			return
		}
	}

	switch msg.Type {
	case msgStartRound, msgNextRound:
		r.handleStartRoundLocked(cfg, rm, c)
	case msgReveal:
		r.handleRevealLocked(p)
	case msgStartVote:
		r.handleStartVoteLocked()
	case msgVote:
		r.handleVoteLocked(p, msg.Target)
	case msgForceResults:
		r.resolveVotesLocked()
	case msgEndGame:
		r.handleEndGameLocked(cfg)
	case msgKick:
		r.handleKickLocked(cfg, msg.Target)
	}
}

func (r *Room) handleStartRoundLocked(cfg *Config, rm *RoomManager, c *Client) {
	if gerr := r.startRoundLocked(rm.catalog, cfg.minPlayers); gerr != nil {
		sendTo(c, errorMessage(gerr))
		return
	}

	r.broadcastLocked(RoundStartedMessage{
		Type:        msgRoundStarted,
		RoundNumber: r.roundNumber,
		Category:    r.currentCategory,
		Players:     r.rosterLocked(),
	})

	logf(cfg, "ROOMS: Round %d started in room %s (category %q)", r.roundNumber, r.code, r.currentCategory)
}

// handleRevealLocked is idempotent: revealing twice re-sends the same word.
func (r *Room) handleRevealLocked(p *Player) {
	if p.Word == "" {
		// Joined or disconnected after round start; no word this round.
		return
	}
	p.HasRevealed = true
	sendTo(p.client, WordRevealedMessage{Type: msgWordRevealed, Word: p.Word})
}

func (r *Room) handleStartVoteLocked() {
	r.phase = PhaseVoting
	r.resolved = false

	for _, p := range r.players {
		p.Vote = ""
	}

	connected := r.connectedLocked()
	votable := make([]VotablePlayer, 0, len(connected))
	for _, p := range connected {
		votable = append(votable, VotablePlayer{ID: p.ConnID, Name: p.Name})
	}

	r.broadcastLocked(VotingStartedMessage{Type: msgVotingStarted, Players: votable})
}

func (r *Room) handleVoteLocked(p *Player, targetConnID string) {
	if p.Vote != "" {
		// First vote wins; later attempts are dropped without comment.
		return
	}
	target := r.playerByConnLocked(targetConnID)
	if target == nil {
		return
	}

	p.Vote = target.DurableID

	connected := r.connectedLocked()
	votesCast := votesAmong(connected)

	r.broadcastLocked(VoteCastMessage{
		Type:          msgVoteCast,
		VoterName:     p.Name,
		VoteCount:     votesCast,
		TotalExpected: len(connected),
	})

	if votesCast >= len(connected) {
		r.resolveVotesLocked()
	}
}

// resolveVotesLocked computes and broadcasts results at most once per vote,
// no matter how many triggers race (all votes in, host override, voter
// disconnect).
func (r *Room) resolveVotesLocked() {
	results := r.buildResultsLocked()
	if results == nil {
		return
	}
	r.broadcastLocked(*results)
}

func (r *Room) handleEndGameLocked(cfg *Config) {
	final := r.resetGameLocked()
	r.broadcastLocked(GameEndedMessage{
		Type:        msgGameEnded,
		FinalScores: final,
		Players:     r.rosterLocked(),
	})
	logf(cfg, "ROOMS: Game ended in room %s", r.code)
}

func (r *Room) handleKickLocked(cfg *Config, targetConnID string) {
	target := r.playerByConnLocked(targetConnID)
	if target == nil || target.IsHost {
		return
	}

	client := target.client
	r.removePlayerLocked(target)

	if client != nil {
		sendTo(client, ErrorMessage{Type: msgError, Message: "You were kicked from the room."})
	}

	r.broadcastLocked(PlayerLeftMessage{
		Type:        msgPlayerLeft,
		PlayerName:  target.Name,
		PlayerCount: len(r.players),
		Players:     r.rosterLocked(),
	})

	logf(cfg, "ROOMS: Player %q kicked from room %s", target.Name, r.code)
}

func votesAmong(players []*Player) int {
	votes := 0
	for _, p := range players {
		if p.Vote != "" {
			votes++
		}
	}
	return votes
}

// broadcastOthersLocked is broadcastLocked minus one recipient, for events
// where the actor already got a richer unicast reply.
func (r *Room) broadcastOthersLocked(except *Player, msg any) {
	for _, id := range r.order {
		p := r.players[id]
		if p == nil || p.client == nil || p == except {
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

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

func serveImposterWS(cfg *Config, rm *RoomManager) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			log.Println("upgrade error:", err)
			return
		}

		client := &Client{
			conn:   conn,
			send:   make(chan any, 8),
			connID: newConnID(),
		}

		go client.writePump()
		client.readPump(cfg, rm)
	}
}

func (c *Client) readPump(cfg *Config, rm *RoomManager) {
	defer func() {
		rm.handleDisconnect(cfg, c)
		_ = c.conn.Close()
	}()

	for {
		var msg ClientMessage
		if err := c.conn.ReadJSON(&msg); err != nil {
			return
		}
		rm.dispatch(cfg, c, msg)
	}
}

func (c *Client) writePump() {
	defer c.conn.Close()

	for msg := range c.send {
		if err := c.conn.WriteJSON(msg); err != nil {
			return
		}
	}
}

// QR handler: generates a PNG QR code linking straight into a room.
func qrHandler(cfg *Config, path string) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
		code := normalizeCode(ps.ByName("code"))
		if code == "" {
			http.Error(w, "missing room code", http.StatusBadRequest)
			return
		}

		// Derive scheme (respecting TLS and X-Forwarded-Proto if present).
		scheme := "http"
		if r.TLS != nil {
			scheme = "https"
		}
		if proto := r.Header.Get("X-Forwarded-Proto"); proto != "" {
			scheme = proto
		}

		url := scheme + "://" + r.Host + cfg.prefix + path + "?room=" + code

		const qrSize = 320 // mobile-friendly size
		png, err := qrcode.Encode(url, qrcode.Medium, qrSize)
		if err != nil {
			http.Error(w, "qr generation failed", http.StatusInternalServerError)
			return
		}

		w.Header().Set("Content-Type", "image/png")
		_, _ = w.Write(png)
	}
}

// registerImposterGame sets up routes so that:
//   - $path           → HTML client
//   - $path/ws        → WebSocket; rooms addressed inside the protocol
//   - $path/qr/:code  → PNG QR code deep-linking into a room
func registerImposterGame(cfg *Config, path string, mux *httprouter.Router) *RoomManager {
	rm := newRoomManager(cfg, defaultCatalog)

	mux.GET(cfg.prefix+path, serveGamePage(cfg))
	mux.GET(cfg.prefix+path+"/ws", serveImposterWS(cfg, rm))
	mux.GET(cfg.prefix+path+"/qr/:code", qrHandler(cfg, path))

	return rm
}
