/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

package main

import (
	"math/rand"
	"sort"
)

// pickWordLocked draws a category and word, retrying draws that repeat a
// word already used in this room. After 100 rejected draws the used set is
// cleared and the next draw stands, which bounds the cost once most of the
// catalog has been played.
func (r *Room) pickWordLocked(catalog Catalog) (category, word string) {
	for attempts := 0; ; attempts++ {
		category, word = catalog.randomWord()
		if _, used := r.usedWords[word]; !used {
			break
		}
		if attempts >= 100 {
			r.usedWords = make(map[string]struct{})
			break
		}
	}
	r.usedWords[word] = struct{}{}
	return category, word
}

// startRoundLocked runs the shared round setup used by both the first
// start-round and every next-round: one word for the crew, the sentinel for
// a uniformly drawn imposter. Disconnected players keep their seat but sit
// the round out.
func (r *Room) startRoundLocked(catalog Catalog, minPlayers int) *gameError {
	connected := r.connectedLocked()
	if len(connected) < minPlayers {
		return failPrecondition("Need at least %d players to start.", minPlayers)
	}

	r.roundNumber++
	r.phase = PhasePlaying
	r.resolved = false

	category, word := r.pickWordLocked(catalog)
	r.currentWord = word
	r.currentCategory = category

	for _, p := range r.players {
		p.Word = ""
		p.IsImposter = false
		p.HasRevealed = false
		p.Vote = ""
	}

	imposter := connected[rand.Intn(len(connected))]
	for _, p := range connected {
		if p == imposter {
			p.Word = imposterWord
			p.IsImposter = true
		} else {
			p.Word = word
		}
	}
	r.imposterID = imposter.DurableID

	return nil
}

type tallyResult struct {
	accusedID      string // durable ID, empty on a tie or when no votes exist
	imposterCaught bool
	isTie          bool
	voteCounts     map[string]int
}

// tallyVotesLocked counts every known vote, including those cast by players
// who have since disconnected. The accused must hold a strictly greatest
// count; any tie at the top favors the imposter.
func (r *Room) tallyVotesLocked() tallyResult {
	counts := make(map[string]int)
	for _, p := range r.players {
		if p.Vote != "" {
			counts[p.Vote]++
		}
	}

	maxVotes := 0
	atMax := 0
	accused := ""
	for target, count := range counts {
		switch {
		case count > maxVotes:
			maxVotes = count
			atMax = 1
			accused = target
		case count == maxVotes:
			atMax++
		}
	}

	isTie := atMax > 1
	if isTie || maxVotes == 0 {
		accused = ""
	}

	return tallyResult{
		accusedID:      accused,
		imposterCaught: accused != "" && accused == r.imposterID,
		isTie:          isTie,
		voteCounts:     counts,
	}
}

// applyScoresLocked credits the round: every crew member gains a point when
// the imposter is caught, the imposter gains three when they escape. The
// returned entries are sorted by score for display; the order carries no
// other meaning.
func (r *Room) applyScoresLocked(imposterCaught bool) []ScoreEntry {
	entries := make([]ScoreEntry, 0, len(r.players))
	for _, id := range r.order {
		p := r.players[id]
		if p == nil {
			continue
		}
		delta := 0
		if imposterCaught && !p.IsImposter {
			delta = 1
		} else if !imposterCaught && p.IsImposter {
			delta = 3
		}
		p.Score += delta
		entries = append(entries, ScoreEntry{
			ID:         p.ConnID,
			Name:       p.Name,
			Score:      p.Score,
			Delta:      delta,
			IsImposter: p.IsImposter,
		})
	}
	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].Score > entries[j].Score
	})
	return entries
}

// buildResultsLocked resolves the active vote exactly once, moving the room
// to Results. A second caller (auto-resolve racing a forced resolve, or a
// disconnect re-check) gets nil and must not broadcast.
func (r *Room) buildResultsLocked() *ResultsMessage {
	if r.resolved {
		return nil
	}
	r.resolved = true

	tally := r.tallyVotesLocked()
	scores := r.applyScoresLocked(tally.imposterCaught)

	imposterName := "Unknown"
	if imposter := r.players[r.imposterID]; imposter != nil {
		imposterName = imposter.Name
	}
	accusedName := ""
	if accused := r.players[tally.accusedID]; accused != nil {
		accusedName = accused.Name
	}

	votes := make([]VoteRecord, 0, len(r.players))
	for _, id := range r.order {
		p := r.players[id]
		if p == nil || p.Vote == "" {
			continue
		}
		votedFor := "Unknown"
		if target := r.players[p.Vote]; target != nil {
			votedFor = target.Name
		}
		votes = append(votes, VoteRecord{Voter: p.Name, VotedFor: votedFor})
	}

	r.phase = PhaseResults

	return &ResultsMessage{
		Type:           msgResults,
		ImposterName:   imposterName,
		ImposterCaught: tally.imposterCaught,
		IsTie:          tally.isTie,
		AccusedName:    accusedName,
		Word:           r.currentWord,
		Category:       r.currentCategory,
		Votes:          votes,
		Scores:         scores,
	}
}

// resetGameLocked returns the room to a fresh lobby, wiping scores, the
// round counter, and the used-word history.
func (r *Room) resetGameLocked() []FinalScore {
	final := make([]FinalScore, 0, len(r.players))
	for _, id := range r.order {
		p := r.players[id]
		if p == nil {
			continue
		}
		final = append(final, FinalScore{Name: p.Name, Score: p.Score})
	}
	sort.SliceStable(final, func(i, j int) bool {
		return final[i].Score > final[j].Score
	})

	for _, p := range r.players {
		p.Score = 0
		p.Word = ""
		p.IsImposter = false
		p.HasRevealed = false
		p.Vote = ""
	}

	r.phase = PhaseLobby
	r.roundNumber = 0
	r.currentWord = ""
	r.currentCategory = ""
	r.imposterID = ""
	r.usedWords = make(map[string]struct{})
	r.resolved = false

	return final
}
