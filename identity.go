/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

package main

import (
	"crypto/rand"
	"encoding/hex"
	"strings"

	"github.com/google/uuid"
)

// Room codes avoid visually ambiguous characters (0/O, 1/I) so they can be
// read off a screen.
const codeAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"

// randomCode generates a crypto-random room code. Collision checking against
// live rooms happens in the registry, which holds the room map lock.
func randomCode(length int) string {
	buf := make([]byte, length)
	if _, err := rand.Read(buf); err != nil {
		panic("crypto/rand failure: " + err.Error())
	}
	out := make([]byte, length)
	for i := range out {
		out[i] = codeAlphabet[int(buf[i])%len(codeAlphabet)]
	}
	return string(out)
}

func normalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// newPlayerID mints a durable player identifier. It outlives any single
// websocket connection and is unique for the process lifetime, not just
// within one room.
func newPlayerID() string {
	return uuid.NewString()
}

// newConnID mints a transport-level connection identifier. A reconnecting
// player gets a fresh one; the durable ID is what ties the two together.
func newConnID() string {
	buf := make([]byte, 8)
	if _, err := rand.Read(buf); err != nil {
		panic("crypto/rand failure: " + err.Error())
	}
	return hex.EncodeToString(buf)
}
