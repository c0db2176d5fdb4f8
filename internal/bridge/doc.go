// Package bridge defines the wire protocol spoken between a greeter
// window's content process and the control process.
//
// Every message is a CBOR array envelope:
//
//	[kind, id, name, payload, error]
//
// kind is request, reply or event. id correlates a reply with the request
// that caused it and is zero for events. name selects one operation from
// the closed catalogue in catalogue.go, and payload is that operation's
// argument (or reply) tuple, itself a CBOR array. Decode is the only
// place untrusted bytes are validated: it rejects unknown kinds and
// names, wrong arities and wrong field types before any handler runs.
package bridge
