package llm

import "context"

const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

type Message struct {
	Role    string
	Content string
}

type Response struct {
	Content          string
	Model            string
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}

// Client generates a reply for an ordered conversation. The system
// instruction steers the model out-of-band and is not a conversational turn.
type Client interface {
	Generate(ctx context.Context, systemInstruction string, turns []Message) (Response, error)
}
