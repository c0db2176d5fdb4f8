package bridge

import (
	"fmt"
	"reflect"
	"sort"
)

// Side names the process that sends a message.
type Side uint8

const (
	SideContent Side = iota + 1
	SideControl
)

func (s Side) String() string {
	switch s {
	case SideContent:
		return "content"
	case SideControl:
		return "control"
	default:
		return "unknown"
	}
}

// Op is the closed set of bridge operations.
type Op uint8

const (
	OpInvalid Op = iota

	OpReadyToShow
	OpConsole

	OpStartAuthentication
	OpRespond
	OpCancelAuthentication
	OpStartSession
	OpSessionStatus
	OpHostname

	OpConfigGet
	OpConfigSetFlag

	OpThemeCurrent
	OpThemeList
	OpThemeSwitch
	OpThemeDirlist
	OpThemeReload

	OpCommBroadcast
	OpCommWindowMetadata
	OpCommPowerCapabilities
	OpCommPowerAction

	OpReload
	OpConfigChanged
	OpCommMessage
	OpShowPrompt
	OpShowMessage
	OpAuthenticationComplete
	OpSessionCancelled

	opCount
)

type opSpec struct {
	name  string
	kind  Kind // KindRequest or KindEvent
	from  Side
	args  reflect.Type
	reply reflect.Type // nil for events

	argFields   int
	replyFields int
}

func typeOf[T any]() reflect.Type {
	return reflect.TypeOf((*T)(nil)).Elem()
}

func request[A, R any](name string) opSpec {
	return opSpec{name: name, kind: KindRequest, from: SideContent, args: typeOf[A](), reply: typeOf[R]()}
}

func event[A any](name string, from Side) opSpec {
	return opSpec{name: name, kind: KindEvent, from: from, args: typeOf[A]()}
}

var catalogue = [opCount]opSpec{
	OpReadyToShow: event[Empty]("ready-to-show", SideContent),
	OpConsole:     request[ConsoleReport, ConsoleResult]("console"),

	OpStartAuthentication:  request[Username, AuthStep]("lightdm.start-authentication"),
	OpRespond:              request[Response, AuthStep]("lightdm.respond"),
	OpCancelAuthentication: request[Empty, AuthStep]("lightdm.cancel-authentication"),
	OpStartSession:         request[SessionKey, Ack]("lightdm.start-session"),
	OpSessionStatus:        request[Empty, SessionStatus]("lightdm.status"),
	OpHostname:             request[Empty, Text]("lightdm.hostname"),

	OpConfigGet:     request[Empty, ConfigSnapshot]("greeter-config.get"),
	OpConfigSetFlag: request[ConfigFlag, ConfigSnapshot]("greeter-config.set-flag"),

	OpThemeCurrent: request[Empty, ThemeInfo]("theme-utils.current"),
	OpThemeList:    request[Empty, ThemeList]("theme-utils.list"),
	OpThemeSwitch:  request[ThemeName, ThemeInfo]("theme-utils.switch"),
	OpThemeDirlist: request[DirQuery, DirList]("theme-utils.dirlist"),
	OpThemeReload:  event[Empty]("theme-utils.reload", SideContent),

	OpCommBroadcast:         request[BroadcastData, Ack]("greeter-comm.broadcast"),
	OpCommWindowMetadata:    request[Empty, WindowMetadata]("greeter-comm.window-metadata"),
	OpCommPowerCapabilities: request[Empty, PowerCapabilities]("greeter-comm.power-capabilities"),
	OpCommPowerAction:       request[PowerAction, Ack]("greeter-comm.power-action"),

	OpReload:                 event[Reload]("reload", SideControl),
	OpConfigChanged:          event[ConfigSnapshot]("greeter-config.changed", SideControl),
	OpCommMessage:            event[CommMessage]("greeter-comm.message", SideControl),
	OpShowPrompt:             event[AuthStep]("lightdm.show-prompt", SideControl),
	OpShowMessage:            event[Notice]("lightdm.show-message", SideControl),
	OpAuthenticationComplete: event[AuthStep]("lightdm.authentication-complete", SideControl),
	OpSessionCancelled:       event[SessionCancelled]("lightdm.session-cancelled", SideControl),
}

var opsByName map[string]Op

func init() {
	opsByName = make(map[string]Op, opCount)
	for op := OpInvalid + 1; op < opCount; op++ {
		spec := &catalogue[op]
		if spec.name == "" {
			panic(fmt.Sprintf("bridge: catalogue entry missing for op %d", op))
		}
		if _, dup := opsByName[spec.name]; dup {
			panic("bridge: duplicate operation name " + spec.name)
		}
		spec.argFields = tupleArity(spec.args)
		if spec.reply != nil {
			spec.replyFields = tupleArity(spec.reply)
		}
		opsByName[spec.name] = op
	}
}

// tupleArity counts the wire fields of a toarray struct.
func tupleArity(t reflect.Type) int {
	n := 0
	for i := 0; i < t.NumField(); i++ {
		f := t.Field(i)
		if f.Name == "_" || !f.IsExported() {
			continue
		}
		n++
	}
	return n
}

// ParseOp looks an operation up by wire name.
func ParseOp(name string) (Op, bool) {
	op, ok := opsByName[name]
	return op, ok
}

// Valid reports whether op is a catalogue entry.
func (o Op) Valid() bool { return o > OpInvalid && o < opCount }

func (o Op) String() string {
	if !o.Valid() {
		return "invalid"
	}
	return catalogue[o].name
}

// IsRequest reports whether op expects a reply.
func (o Op) IsRequest() bool { return o.Valid() && catalogue[o].kind == KindRequest }

// IsEvent reports whether op is a one-way event.
func (o Op) IsEvent() bool { return o.Valid() && catalogue[o].kind == KindEvent }

// From is the side that originates op.
func (o Op) From() Side {
	if !o.Valid() {
		return 0
	}
	return catalogue[o].from
}

// ArgsType is the Go type of op's argument tuple.
func (o Op) ArgsType() reflect.Type {
	if !o.Valid() {
		return nil
	}
	return catalogue[o].args
}

// ReplyType is the Go type of op's reply tuple, nil for events.
func (o Op) ReplyType() reflect.Type {
	if !o.Valid() {
		return nil
	}
	return catalogue[o].reply
}

// Ops lists every operation, sorted by name.
func Ops() []Op {
	ops := make([]Op, 0, opCount-1)
	for op := OpInvalid + 1; op < opCount; op++ {
		ops = append(ops, op)
	}
	sort.Slice(ops, func(i, j int) bool { return ops[i].String() < ops[j].String() })
	return ops
}

// Requests lists the request operations sent by the content process.
func Requests() []Op {
	var ops []Op
	for _, op := range Ops() {
		if op.IsRequest() {
			ops = append(ops, op)
		}
	}
	return ops
}
