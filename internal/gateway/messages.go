package gateway

import "encoding/json"

// ClientMessage is a command sent by a connected client.
type ClientMessage struct {
	Type    string          `json:"type"`
	RoundID string          `json:"roundId,omitempty"`
	Data    json.RawMessage `json:"data,omitempty"`
}

// Client command types.
const (
	CmdListRounds  = "rounds:get"
	CmdGetRound    = "round:get"
	CmdTap         = "round:tap"
	CmdCreateRound = "round:create"
	CmdSubscribe   = "round:subscribe"
	CmdUnsubscribe = "round:unsubscribe"
)

// ServerMessage is a frame pushed to a connected client, either a reply to a
// command or a broadcast.
type ServerMessage struct {
	Type    string `json:"type"`
	RoundID string `json:"roundId,omitempty"`
	Data    any    `json:"data,omitempty"`
	Error   string `json:"error,omitempty"`
}

// Server reply types. Broadcast frames reuse the event types from the bus.
const (
	ReplyRoundsList = "rounds:list"
	ReplyRound      = "round:details"
	ReplyTapResult  = "round:tap:result"
	ReplySubscribed   = "round:subscribed"
	ReplyUnsubscribed = "round:unsubscribed"
	ReplyError        = "error"
)
