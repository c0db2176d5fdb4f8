package ipc

import (
	"fmt"

	"github.com/1broseidon/webgreeter/internal/bridge"
)

// Role is what a connecting process intends to do with the bridge.
type Role uint8

const (
	// RoleContent is the content process of one greeter window.
	RoleContent Role = iota + 1
	// RoleInspector is a debug client; it is refused unless debug mode is on.
	RoleInspector
)

func (r Role) String() string {
	switch r {
	case RoleContent:
		return "content"
	case RoleInspector:
		return "inspector"
	default:
		return fmt.Sprintf("role(%d)", uint8(r))
	}
}

// ParseRole maps a command-line role name to a Role.
func ParseRole(s string) (Role, error) {
	switch s {
	case "content":
		return RoleContent, nil
	case "inspector":
		return RoleInspector, nil
	default:
		return 0, fmt.Errorf("unknown role %q (want content or inspector)", s)
	}
}

// Hello is the first frame a client sends after connecting.
type Hello struct {
	_          struct{} `cbor:",toarray"`
	Window     bridge.WindowID
	Role       Role
	APIVersion string
}

// Welcome carries the initialization data of a content process.
type Welcome struct {
	_                 struct{} `cbor:",toarray"`
	Window            bridge.WindowID
	SecureMode        bool
	DetectThemeErrors bool
	DebugMode         bool
}

// handshakeReply is the server's first frame: a welcome or a refusal.
type handshakeReply struct {
	_       struct{} `cbor:",toarray"`
	Welcome *Welcome
	Error   *bridge.Error
}
