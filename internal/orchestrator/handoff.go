package orchestrator

import "strings"

// Explicit requests for a human agent.
var handoffRequests = []string{
	"falar com atendente",
	"falar com humano",
	"falar com uma pessoa",
	"atendente humano",
	"quero um humano",
	"chamar atendente",
}

// Frustration vocabulary that should pull a human in.
var negativeSentiment = []string{
	"péssimo",
	"pessimo",
	"horrível",
	"horrivel",
	"ridículo",
	"ridiculo",
	"absurdo",
	"inaceitável",
	"inaceitavel",
	"reclamação",
	"reclamacao",
	"procon",
	"cancelar tudo",
}

// wantsHandoff checks the inbound message for explicit takeover requests
// or strong negative sentiment. Retry exhaustion and generation failure
// set handoff elsewhere; this only covers the message itself.
func wantsHandoff(message string) bool {
	lower := strings.ToLower(message)
	for _, phrase := range handoffRequests {
		if strings.Contains(lower, phrase) {
			return true
		}
	}
	for _, word := range negativeSentiment {
		if strings.Contains(lower, word) {
			return true
		}
	}
	return false
}
