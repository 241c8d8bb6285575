/*
Package packet holds the declarative description of every request and
response this relay speaks: header layouts, field orderings, and the
code tables the connection handler dispatches on. It describes shape
only — wire/codec drives a field.Reader/[]byte over these descriptions
to produce or consume actual bytes; wire/packet never touches a socket.

This mirrors the teacher's separation of "what a message looks like"
(protocol.Message, the CmdType constants) from "how bytes become a
message" (protocol.Pack/Unpack), generalized from a single flat struct
to a field-driven schema per the design notes: a static schema value per
packet type, shared and immutable, rather than field objects carrying
both type and value.
*/
package packet

import "github.com/lymdgit/relay/wire/field"

// Version is the one protocol version this relay speaks. A request
// whose header carries any other value is rejected with Error(9000)
// before any payload is read.
const Version = 2

// Request codes.
const (
	CodeRegister     uint16 = 100
	CodeListClients  uint16 = 101
	CodePublicKey    uint16 = 102
	CodePushMessage  uint16 = 103
	CodePopMessages  uint16 = 104
)

// Response codes.
const (
	CodeRegisterResp    uint16 = 1000
	CodeListClientsResp uint16 = 1001
	CodePublicKeyResp   uint16 = 1002
	CodePushMessageResp uint16 = 1003
	CodePopMessagesResp uint16 = 1004
	CodeError           uint16 = 9000
)

// RequestHeaderSize is the fixed byte width of a request header:
// version(1) + code(2) + payload_size(4) + sender_client_id(16).
const RequestHeaderSize = 1 + 2 + 4 + field.U128Width

// ResponseHeaderSize is the fixed byte width of a response header:
// version(1) + code(2) + payload_size(4).
const ResponseHeaderSize = 1 + 2 + 4

// Spec describes one payload field. A zero value for SizeOf/SizedBy
// means the field is neither a size field nor sized by one.
//
//   - SizeOf names the sibling field whose packed byte length this field
//     carries (e.g. the content_size field of PushMessage has
//     SizeOf == "content"). The packer computes its value automatically;
//     the unpacker reads it and remembers it for the sibling below.
//   - SizedBy names the field that carries this field's byte count (e.g.
//     PushMessage's content field has SizedBy == "content_size"). Used
//     only with KindBytesVar.
type Spec struct {
	Name    string
	Kind    field.Kind
	Width   int // KindString / KindBytesFixed
	SizeOf  string
	SizedBy string
	Inner   []Spec // KindCompound
}

// Schema is an ordered list of payload field specs: a request or
// response's full payload layout, walked in order by both Pack and
// Unpack.
type Schema []Spec

// Requests maps each request code to its payload schema.
var Requests = map[uint16]Schema{
	CodeRegister: {
		{Name: "client_name", Kind: field.KindString, Width: 255},
		{Name: "public_key", Kind: field.KindBytesFixed, Width: 160},
	},
	CodeListClients: {},
	CodePublicKey: {
		{Name: "requested_client_id", Kind: field.KindU128},
	},
	CodePushMessage: {
		{Name: "receiver_client_id", Kind: field.KindU128},
		{Name: "message_type", Kind: field.KindU8},
		{Name: "content_size", Kind: field.KindU32, SizeOf: "content"},
		{Name: "content", Kind: field.KindBytesVar, SizedBy: "content_size"},
	},
	CodePopMessages: {},
}

// messageTuple is the inner repeated layout of the PopMessages
// response's compound field.
var messageTuple = []Spec{
	{Name: "from_client_id", Kind: field.KindU128},
	{Name: "message_id", Kind: field.KindU32},
	{Name: "message_type", Kind: field.KindU8},
	{Name: "content_size", Kind: field.KindU32, SizeOf: "content"},
	{Name: "content", Kind: field.KindBytesVar, SizedBy: "content_size"},
}

// clientTuple is the inner repeated layout of the ListClients response's
// compound field.
var clientTuple = []Spec{
	{Name: "client_id", Kind: field.KindU128},
	{Name: "client_name", Kind: field.KindString, Width: 255},
}

// Responses maps each response code to its payload schema.
var Responses = map[uint16]Schema{
	CodeRegisterResp: {
		{Name: "new_client_id", Kind: field.KindU128},
	},
	CodeListClientsResp: {
		{Name: "clients", Kind: field.KindCompound, Inner: clientTuple},
	},
	CodePublicKeyResp: {
		{Name: "requested_client_id", Kind: field.KindU128},
		{Name: "public_key", Kind: field.KindBytesFixed, Width: 160},
	},
	CodePushMessageResp: {
		{Name: "receiver_client_id", Kind: field.KindU128},
		{Name: "message_id", Kind: field.KindU32},
	},
	CodePopMessagesResp: {
		{Name: "messages", Kind: field.KindCompound, Inner: messageTuple},
	},
	CodeError: {},
}

// ResponseFor is the single response code each request code may produce
// on success. Every request has exactly one matching response kind, per
// spec; Error(9000) is the universal failure response and is never
// looked up here.
var ResponseFor = map[uint16]uint16{
	CodeRegister:    CodeRegisterResp,
	CodeListClients: CodeListClientsResp,
	CodePublicKey:   CodePublicKeyResp,
	CodePushMessage: CodePushMessageResp,
	CodePopMessages: CodePopMessagesResp,
}
