package chat

import (
	"fmt"
	"strings"

	"alfred-chat/internal/llm"
	"alfred-chat/internal/profile"
	"alfred-chat/internal/store"
)

// AgentName is the fixed assistant name announced in every system instruction.
const AgentName = "Alfred"

// SystemInstruction builds the out-of-band steering text for one turn:
// persona, assistant name, goal, optional special instructions, and a
// sentence naming the human participant. Non-empty parts joined with
// single spaces.
func SystemInstruction(p store.Profile, username string) string {
	persona := p.AgentPersona
	if persona == "" {
		persona = profile.DefaultPersona
	}
	goal := p.AgentGoal
	if goal == "" {
		goal = profile.DefaultGoal
	}
	displayName := p.UserDisplayName
	if displayName == "" {
		displayName = username
	}

	parts := []string{
		persona,
		fmt.Sprintf("Your name is %s.", AgentName),
		goal,
	}
	if p.SpecialInstructions != "" {
		parts = append(parts, p.SpecialInstructions)
	}
	parts = append(parts, fmt.Sprintf("The user you are interacting with is named %s.", displayName))

	nonEmpty := parts[:0]
	for _, part := range parts {
		if part != "" {
			nonEmpty = append(nonEmpty, part)
		}
	}
	return strings.TrimSpace(strings.Join(nonEmpty, " "))
}

// buildTurns flattens persisted turns (given newest first) into an ordered
// conversation, reversed to chronological order, ending with the incoming
// user message. Empty sides of a stored turn are skipped.
func buildTurns(history []*store.Message, incoming string) []llm.Message {
	msgs := make([]llm.Message, 0, len(history)*2+1)
	for i := len(history) - 1; i >= 0; i-- {
		m := history[i]
		if m.UserMessage != "" {
			msgs = append(msgs, llm.Message{Role: llm.RoleUser, Content: m.UserMessage})
		}
		if m.AIResponse != "" {
			msgs = append(msgs, llm.Message{Role: llm.RoleAssistant, Content: m.AIResponse})
		}
	}
	msgs = append(msgs, llm.Message{Role: llm.RoleUser, Content: incoming})
	return msgs
}
