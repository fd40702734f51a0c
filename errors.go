/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

package main

import (
	"fmt"
	"log"
	"strings"
	"time"
)

func logf(cfg *Config, format string, args ...any) {
	if !cfg.verbose {
		return
	}

	log.Printf("%s | "+format, append([]any{time.Now().Format(logDate)}, args...)...)
}

func newPage(title, body string) string {
	var htmlBody strings.Builder

	htmlBody.WriteString(`<!DOCTYPE html><html lang="en"><head>`)
	htmlBody.WriteString(getFavicon())
	htmlBody.WriteString(`<style>`)
	htmlBody.WriteString(`html,body,a{display:block;height:100%;width:100%;text-decoration:none;color:inherit;cursor:auto;}</style>`)
	htmlBody.WriteString(fmt.Sprintf("<title>%s</title></head>", title))
	htmlBody.WriteString(fmt.Sprintf("<body><a href=\"/\">%s</a></body></html>", body))

	return htmlBody.String()
}

// Game failures are delivered to the requesting connection only, never
// surfaced as process errors. The kind decides whether a client can retry.
type errKind int

const (
	errValidation errKind = iota // bad input, no state change
	errPrecondition              // wrong phase / not host / too few players, retryable
	errNotFound                  // unknown room or expired session, terminal
)

// String is the wire name of the kind; clients branch on it (a not_found
// rejoin means the session is gone for good).
func (k errKind) String() string {
	switch k {
	case errValidation:
		return "validation"
	case errPrecondition:
		return "precondition"
	default:
		return "not_found"
	}
}

type gameError struct {
	kind    errKind
	message string
}

func (e *gameError) Error() string {
	return e.message
}

func failValidation(format string, args ...any) *gameError {
	return &gameError{kind: errValidation, message: fmt.Sprintf(format, args...)}
}

func failPrecondition(format string, args ...any) *gameError {
	return &gameError{kind: errPrecondition, message: fmt.Sprintf(format, args...)}
}

func failNotFound(format string, args ...any) *gameError {
	return &gameError{kind: errNotFound, message: fmt.Sprintf(format, args...)}
}
