// Package mq exposes the dispatch protocol over a message broker. Requests
// arrive on one shared core subject; every reply goes to the requester's
// private stage subject, tagged with the request's correlation id.
package mq

import (
	"strings"

	"github.com/syntrixbase/stagehand/pkg/model"
)

// QueueGroup is the queue group dispatchers join on the core subject.
const QueueGroup = "dispatchers"

// Request types.
const (
	TypeClaim      = "claim"
	TypeFetch      = "fetch"
	TypeMarkPrefix = "mark."
)

// Reply statuses. A claim or fetch without a match is not answered; the
// requester observes it as its receive timeout.
const (
	StatusMatched    = "matched"
	StatusOK         = "ok"
	StatusNotFound   = "not_found"
	StatusBadRequest = "bad_request"
	StatusError      = "error"
)

// CoreSubject returns the shared inbound subject.
func CoreSubject(prefix string) string {
	return prefix + ".core"
}

// StageSubject returns the private reply subject of one worker instance.
func StageSubject(prefix, stage, instance string) string {
	return prefix + ".stage." + stage + "." + instance
}

// StageFromReplyTo extracts the stage name from a private reply subject.
func StageFromReplyTo(prefix, replyTo string) (string, bool) {
	rest, ok := strings.CutPrefix(replyTo, prefix+".stage.")
	if !ok {
		return "", false
	}
	stage, instance, ok := strings.Cut(rest, ".")
	if !ok || instance == "" || !model.CheckStageName(stage) {
		return "", false
	}
	return stage, true
}

// MarkType returns the request type for a mark outcome.
func MarkType(status model.Status) string {
	return TypeMarkPrefix + strings.ToLower(string(status))
}
