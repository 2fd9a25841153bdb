/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

package main

import (
	"errors"
	"fmt"
	"log"
	"strings"
	"time"
)

// The action taxonomy: each of these goes back to the offending client
// only, never as a broadcast. Stale actions are logged and dropped
// without a reply.
var (
	errInvalidAction = errors.New("action does not belong to the current phase")
	errInvalidSize   = errors.New("proposed team size does not match the quest")
	errUnauthorized  = errors.New("your role may not perform this action")
	errNotLeader     = errors.New("only the current leader may do that")
	errRosterSize    = errors.New("player count is outside this game's limits")
	errRoleConfig    = errors.New("invalid role configuration")
	errNameTaken     = errors.New("name already taken")
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
	htmlBody.WriteString(`<style>`)
	htmlBody.WriteString(`html,body,a{display:block;height:100%;width:100%;text-decoration:none;color:inherit;cursor:auto;}</style>`)
	htmlBody.WriteString(fmt.Sprintf("<title>%s</title></head>", title))
	htmlBody.WriteString(fmt.Sprintf("<body><a href=\"/\">%s</a></body></html>", body))

	return htmlBody.String()
}
