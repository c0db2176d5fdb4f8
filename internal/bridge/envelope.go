package bridge

import (
	"bytes"
	"fmt"
	"reflect"

	"github.com/fxamacker/cbor/v2"
)

// Kind tags an envelope as a request, a reply or a one-way event.
type Kind uint8

const (
	KindRequest Kind = 1
	KindReply   Kind = 2
	KindEvent   Kind = 3
)

func (k Kind) String() string {
	switch k {
	case KindRequest:
		return "request"
	case KindReply:
		return "reply"
	case KindEvent:
		return "event"
	default:
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
}

// envelopeArity is the number of elements of the envelope array.
const envelopeArity = 5

// Envelope is the wire shape of every bridge message.
type Envelope struct {
	_       struct{} `cbor:",toarray"`
	Kind    Kind
	ID      uint64
	Name    string
	Payload cbor.RawMessage
	Error   *Error
}

// Message is a decoded, validated envelope. Payload holds a value (not a
// pointer) of the op's declared argument or reply type; it is nil for
// error replies.
type Message struct {
	Kind    Kind
	ID      uint64
	Op      Op
	Payload any
	Err     *Error
}

var (
	encMode cbor.EncMode
	decMode cbor.DecMode
)

func init() {
	var err error
	encMode, err = cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic("bridge: CBOR encoder initialization failed: " + err.Error())
	}
	decMode, err = cbor.DecOptions{
		DupMapKey:        cbor.DupMapKeyEnforcedAPF,
		IndefLength:      cbor.IndefLengthForbidden,
		MaxNestedLevels:  16,
		MaxArrayElements: 4096,
		MaxMapPairs:      1024,
		UTF8:             cbor.UTF8RejectInvalid,
	}.DecMode()
	if err != nil {
		panic("bridge: CBOR decoder initialization failed: " + err.Error())
	}
}

// EncodeRequest encodes a request from the content process.
func EncodeRequest(id uint64, op Op, args any) ([]byte, error) {
	if !op.IsRequest() {
		return nil, fmt.Errorf("bridge: %s is not a request", op)
	}
	if id == 0 {
		return nil, fmt.Errorf("bridge: request %s needs a non-zero id", op)
	}
	return encode(KindRequest, id, op, catalogue[op].args, args)
}

// EncodeReply encodes the successful reply to request id.
func EncodeReply(id uint64, op Op, result any) ([]byte, error) {
	if !op.IsRequest() {
		return nil, fmt.Errorf("bridge: %s has no reply", op)
	}
	return encode(KindReply, id, op, catalogue[op].reply, result)
}

// EncodeEvent encodes a one-way event.
func EncodeEvent(op Op, args any) ([]byte, error) {
	if !op.IsEvent() {
		return nil, fmt.Errorf("bridge: %s is not an event", op)
	}
	return encode(KindEvent, 0, op, catalogue[op].args, args)
}

// EncodeError encodes an error reply. name is the raw operation name from
// the request, which may not be a known operation.
func EncodeError(id uint64, name string, replyErr *Error) ([]byte, error) {
	if replyErr == nil {
		return nil, fmt.Errorf("bridge: error reply without an error")
	}
	return encMode.Marshal(Envelope{Kind: KindReply, ID: id, Name: name, Error: replyErr})
}

func encode(kind Kind, id uint64, op Op, want reflect.Type, payload any) ([]byte, error) {
	if payload == nil || reflect.TypeOf(payload) != want {
		return nil, fmt.Errorf("bridge: %s %s payload must be %s, got %T", op, kind, want, payload)
	}
	raw, err := encMode.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("bridge: failed to encode %s payload: %w", op, err)
	}
	return encMode.Marshal(Envelope{Kind: kind, ID: id, Name: op.String(), Payload: raw})
}

// Decode validates blob as an envelope sent by sender and decodes its
// payload into the op's declared tuple type. Every failure is a
// *DecodeError whose Err code is malformed-message or unknown-operation.
func Decode(blob []byte, sender Side) (*Message, error) {
	msg, name, de := decode(blob, sender)
	if de != nil {
		de.Name = name
		return nil, de
	}
	return msg, nil
}

func decode(blob []byte, sender Side) (*Message, string, *DecodeError) {
	var name string
	var elems []cbor.RawMessage
	if err := decMode.Unmarshal(blob, &elems); err != nil {
		return nil, name, malformed(0, 0, "envelope is not a CBOR array: %v", err)
	}
	if len(elems) != envelopeArity {
		return nil, name, malformed(0, 0, "envelope has %d elements, want %d", len(elems), envelopeArity)
	}

	var kind Kind
	if err := decMode.Unmarshal(elems[0], &kind); err != nil {
		return nil, name, malformed(0, 0, "envelope kind: %v", err)
	}
	var id uint64
	if err := decMode.Unmarshal(elems[1], &id); err != nil {
		return nil, name, malformed(0, kind, "envelope id: %v", err)
	}
	if err := decMode.Unmarshal(elems[2], &name); err != nil {
		return nil, "", malformed(id, kind, "envelope name: %v", err)
	}

	if de := checkKind(kind, id, sender); de != nil {
		return nil, name, de
	}

	op, ok := ParseOp(name)
	if !ok {
		return nil, name, &DecodeError{ID: id, Kind: kind, Err: Errorf(CodeUnknownOperation, "unknown operation %q", name)}
	}
	spec := &catalogue[op]

	msg := &Message{Kind: kind, ID: id, Op: op}
	switch kind {
	case KindRequest:
		if spec.kind != KindRequest {
			return nil, name, malformed(id, kind, "%s is an event, not a request", op)
		}
		payload, err := decodeTuple(elems[3], spec.args, spec.argFields)
		if err != nil {
			return nil, name, malformed(id, kind, "%s arguments: %v", op, err)
		}
		msg.Payload = payload
	case KindEvent:
		if spec.kind != KindEvent || spec.from != sender {
			return nil, name, malformed(0, kind, "%s is not an event sent by the %s process", op, sender)
		}
		payload, err := decodeTuple(elems[3], spec.args, spec.argFields)
		if err != nil {
			return nil, name, malformed(0, kind, "%s arguments: %v", op, err)
		}
		msg.Payload = payload
	case KindReply:
		if spec.kind != KindRequest {
			return nil, name, malformed(id, kind, "%s has no reply", op)
		}
		var replyErr *Error
		if err := decMode.Unmarshal(elems[4], &replyErr); err != nil {
			return nil, name, malformed(id, kind, "%s reply error: %v", op, err)
		}
		if replyErr != nil {
			if !isNull(elems[3]) {
				return nil, name, malformed(id, kind, "%s error reply carries a payload", op)
			}
			msg.Err = replyErr
			return msg, name, nil
		}
		payload, err := decodeTuple(elems[3], spec.reply, spec.replyFields)
		if err != nil {
			return nil, name, malformed(id, kind, "%s reply: %v", op, err)
		}
		msg.Payload = payload
	}

	if kind != KindReply && !isNull(elems[4]) {
		return nil, name, malformed(id, kind, "%s carries an error field", kind)
	}
	return msg, name, nil
}

// DecodeErrorReply extracts id, name and error from an error reply whose
// name may not be a known operation (for example a reply to a request the
// router could not parse).
func DecodeErrorReply(blob []byte) (uint64, string, *Error, bool) {
	var env Envelope
	if err := decMode.Unmarshal(blob, &env); err != nil {
		return 0, "", nil, false
	}
	if env.Kind != KindReply || env.Error == nil {
		return 0, "", nil, false
	}
	return env.ID, env.Name, env.Error, true
}

func checkKind(kind Kind, id uint64, sender Side) *DecodeError {
	switch kind {
	case KindRequest:
		if sender != SideContent {
			return malformed(id, kind, "requests are only sent by the content process")
		}
		if id == 0 {
			return malformed(0, kind, "request without an id")
		}
	case KindReply:
		if sender != SideControl {
			return malformed(0, kind, "replies are only sent by the control process")
		}
	case KindEvent:
		if id != 0 {
			return malformed(0, kind, "event with a non-zero id")
		}
	default:
		return malformed(0, kind, "unknown envelope kind %d", uint8(kind))
	}
	return nil
}

// decodeTuple decodes raw into a new value of type t after checking the
// tuple arity and that no top-level field is null.
func decodeTuple(raw cbor.RawMessage, t reflect.Type, arity int) (any, error) {
	var fields []cbor.RawMessage
	if err := decMode.Unmarshal(raw, &fields); err != nil {
		return nil, fmt.Errorf("not a tuple: %w", err)
	}
	if len(fields) != arity {
		return nil, fmt.Errorf("tuple has %d fields, want %d", len(fields), arity)
	}
	wire := 0
	for i := 0; i < t.NumField(); i++ {
		f := t.Field(i)
		if f.Name == "_" || !f.IsExported() {
			continue
		}
		if isNull(fields[wire]) && !nullable(f.Type) {
			return nil, fmt.Errorf("field %s is null", f.Name)
		}
		wire++
	}

	ptr := reflect.New(t)
	if err := decMode.Unmarshal(raw, ptr.Interface()); err != nil {
		return nil, err
	}
	return ptr.Elem().Interface(), nil
}

func nullable(t reflect.Type) bool {
	switch t.Kind() {
	case reflect.Pointer, reflect.Slice, reflect.Map, reflect.Interface:
		return true
	default:
		return false
	}
}

var (
	cborNull      = []byte{0xf6}
	cborUndefined = []byte{0xf7}
)

func isNull(raw cbor.RawMessage) bool {
	return bytes.Equal(raw, cborNull) || bytes.Equal(raw, cborUndefined)
}

func malformed(id uint64, kind Kind, format string, args ...any) *DecodeError {
	return &DecodeError{ID: id, Kind: kind, Err: Errorf(CodeMalformedMessage, format, args...)}
}
