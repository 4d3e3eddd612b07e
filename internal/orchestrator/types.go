// Package orchestrator runs the per-message conversation state machine.
//
// One inbound message drives one pass through LOAD_CONTEXT, RETRIEVE,
// ROUTE, GENERATE, SUPERVISE, REFLECT and HANDOFF_CHECK. The only cycle is
// SUPERVISE back to GENERATE on rejection, and that cycle is bounded by
// the retry budget, so a turn always terminates with a response and a
// handoff decision.
package orchestrator

import (
	"errors"

	"github.com/brisaai/sicc/internal/behavior"
	"github.com/brisaai/sicc/internal/conversation"
	"github.com/brisaai/sicc/internal/memory"
	"github.com/brisaai/sicc/internal/supervisor"
)

// State names one step of the turn state machine.
type State string

const (
	StateLoadContext  State = "LOAD_CONTEXT"
	StateRetrieve     State = "RETRIEVE"
	StateRoute        State = "ROUTE"
	StateGenerate     State = "GENERATE"
	StateSupervise    State = "SUPERVISE"
	StateReflect      State = "REFLECT"
	StateHandoffCheck State = "HANDOFF_CHECK"
	StateDone         State = "DONE"
)

// ErrRetryBudgetExceeded marks a turn whose regeneration budget ran out.
// It never reaches the caller raw: the turn still produces the fallback
// response with handoff requested.
var ErrRetryBudgetExceeded = errors.New("supervise retry budget exceeded")

// TurnResult is what a completed turn hands back to the gateway.
type TurnResult struct {
	// FinalResponse is the outbound message.
	FinalResponse string `json:"final_response"`
	// HandoffRequested flags the conversation for human takeover.
	HandoffRequested bool `json:"handoff_requested"`
	// Degraded is true when the turn ran without semantic retrieval.
	Degraded bool `json:"degraded"`
	// Skill is the slug that produced the response context.
	Skill string `json:"skill"`
	// Retries is how many regenerations the supervisor forced.
	Retries int `json:"retries"`
}

// turnState is the mutable state of one in-flight turn.
type turnState struct {
	conversationID string
	inbound        string

	history []conversation.Turn
	hits    []memory.Hit
	match   behavior.Match
	skill   string
	context string

	draft      string
	verdict    supervisor.Verdict
	retryCount int

	degraded bool
	handoff  bool
	fallback bool
}
