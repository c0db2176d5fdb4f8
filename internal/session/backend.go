package session

import (
	"context"

	"github.com/1broseidon/webgreeter/internal/bridge"
)

// Prompt is a prompt or notice emitted by a backend conversation.
type Prompt struct {
	Text string
	Kind bridge.PromptKind
}

// Result ends a conversation. Err reports a backend failure (the account
// database is unreadable, su could not run) as opposed to rejected
// credentials, which set OK false with a Reason.
type Result struct {
	OK     bool
	User   string
	Reason string
	Err    error
}

// Sink receives the callbacks of one conversation. Backends may call it
// from any goroutine.
type Sink interface {
	Prompt(Prompt)
	Complete(Result)
}

// Conversation is one running authentication in a backend.
type Conversation interface {
	Respond(text string) error
	Cancel()
}

// Backend is the privileged authentication service. Start must not block
// waiting for user input; prompts are delivered through the sink.
type Backend interface {
	Start(username string, sink Sink) (Conversation, error)
	StartSession(ctx context.Context, user, session string) error
}
