package session

// State is the state of the authentication session.
type State uint8

const (
	Idle State = iota
	PromptPending
	Authenticating
	Authenticated
	Failed
	Cancelled
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case PromptPending:
		return "prompt-pending"
	case Authenticating:
		return "authenticating"
	case Authenticated:
		return "authenticated"
	case Failed:
		return "failed"
	case Cancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// Active reports whether a conversation is running.
func (s State) Active() bool {
	return s == PromptPending || s == Authenticating
}

// Terminal reports whether s ends a conversation.
func (s State) Terminal() bool {
	return s == Authenticated || s == Failed || s == Cancelled
}
