// Package signaling implements the WebSocket client for the call relay.
//
// The relay is message-oriented and addressed by user id: each connection
// registers under the local user's id at connect time, and the relay forwards
// each message to the connection registered under the id named in the
// message's routing field (recipient_id, caller_id, or peer_id).
package signaling

import "github.com/pion/webrtc/v4"

// MessageType identifies the kind of signaling message.
type MessageType string

const (
	MsgTypeOffer     MessageType = "call-offer"
	MsgTypeAnswer    MessageType = "call-answer"
	MsgTypeCandidate MessageType = "ice-candidate"
	MsgTypeEnd       MessageType = "call-end"
)

// Message is the JSON structure exchanged with the relay. Exactly one routing
// field is set per message:
//
//	call-offer    → RecipientID (the relay stamps CallerID on delivery)
//	call-answer   → CallerID
//	ice-candidate → PeerID
//	call-end      → PeerID
type Message struct {
	Type       MessageType                `json:"type"`
	Offer      *webrtc.SessionDescription `json:"offer,omitempty"`
	Answer     *webrtc.SessionDescription `json:"answer,omitempty"`
	Candidate  *webrtc.ICECandidateInit   `json:"candidate,omitempty"`
	CallerName string                     `json:"caller_name,omitempty"`

	RecipientID int `json:"recipient_id,omitempty"`
	CallerID    int `json:"caller_id,omitempty"`
	PeerID      int `json:"peer_id,omitempty"`
}
