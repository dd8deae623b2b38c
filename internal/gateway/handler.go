package gateway

import (
	"encoding/json"
	"errors"

	"github.com/google/uuid"
	"github.com/lastofguss/guss/internal/models"
	"github.com/lastofguss/guss/internal/rounds"
	"github.com/rs/zerolog/log"
)

// handleClientMessage dispatches one client command. Every command gets a
// reply frame; failures come back as a typed error frame instead of closing
// the session.
func (c *Connection) handleClientMessage(message []byte) {
	var msg ClientMessage
	if err := json.Unmarshal(message, &msg); err != nil {
		c.reply(ServerMessage{Type: ReplyError, Error: "malformed message"})
		return
	}

	switch msg.Type {
	case CmdListRounds:
		c.handleListRounds(msg)
	case CmdGetRound:
		c.handleGetRound(msg)
	case CmdTap:
		c.handleTap(msg)
	case CmdCreateRound:
		c.handleCreateRound()
	case CmdSubscribe:
		c.handleSubscribe(msg)
	case CmdUnsubscribe:
		c.handleUnsubscribe(msg)
	default:
		c.reply(ServerMessage{Type: ReplyError, Error: "unknown command: " + msg.Type})
	}
}

func (c *Connection) handleListRounds(msg ClientMessage) {
	var params struct {
		Page  int `json:"page"`
		Limit int `json:"limit"`
	}
	if len(msg.Data) > 0 {
		if err := json.Unmarshal(msg.Data, &params); err != nil {
			c.reply(ServerMessage{Type: ReplyError, Error: "malformed parameters"})
			return
		}
	}

	page, err := c.Hub.app.ListRounds(c.Hub.commandCtx(), params.Page, params.Limit)
	if err != nil {
		c.replyError(msg.Type, "", err)
		return
	}
	c.reply(ServerMessage{Type: ReplyRoundsList, Data: page})
}

func (c *Connection) handleGetRound(msg ClientMessage) {
	roundID, err := uuid.Parse(msg.RoundID)
	if err != nil {
		c.reply(ServerMessage{Type: ReplyError, Error: "invalid round id"})
		return
	}

	details, err := c.Hub.app.GetRound(c.Hub.commandCtx(), roundID, c.Principal.ID)
	if err != nil {
		c.replyError(msg.Type, msg.RoundID, err)
		return
	}
	// The exempt role never sees its own score, only its tap count.
	if c.Principal.Role == models.UserRoleNikita {
		details.MyScore = 0
	}
	c.reply(ServerMessage{Type: ReplyRound, RoundID: msg.RoundID, Data: details})
}

func (c *Connection) handleTap(msg ClientMessage) {
	roundID, err := uuid.Parse(msg.RoundID)
	if err != nil {
		c.reply(ServerMessage{Type: ReplyError, Error: "invalid round id"})
		return
	}

	result, err := c.Hub.app.Tap(c.Hub.commandCtx(), roundID, c.Principal)
	if err != nil {
		c.replyError(msg.Type, msg.RoundID, err)
		return
	}
	c.reply(ServerMessage{Type: ReplyTapResult, RoundID: msg.RoundID, Data: result})
}

func (c *Connection) handleCreateRound() {
	round, err := c.Hub.app.CreateRound(c.Hub.commandCtx(), c.Principal)
	if err != nil {
		c.replyError(CmdCreateRound, "", err)
		return
	}
	c.reply(ServerMessage{Type: ReplyRound, RoundID: round.ID.String(), Data: round})
}

func (c *Connection) handleSubscribe(msg ClientMessage) {
	roundID, err := uuid.Parse(msg.RoundID)
	if err != nil {
		c.reply(ServerMessage{Type: ReplyError, Error: "invalid round id"})
		return
	}
	c.subscribe(roundID)
	c.reply(ServerMessage{Type: ReplySubscribed, RoundID: msg.RoundID})
}

func (c *Connection) handleUnsubscribe(msg ClientMessage) {
	roundID, err := uuid.Parse(msg.RoundID)
	if err != nil {
		c.reply(ServerMessage{Type: ReplyError, Error: "invalid round id"})
		return
	}
	c.unsubscribe(roundID)
	c.reply(ServerMessage{Type: ReplyUnsubscribed, RoundID: msg.RoundID})
}

func (c *Connection) replyError(command, roundID string, err error) {
	msg := "internal error"
	switch {
	case errors.Is(err, rounds.ErrRoundNotFound),
		errors.Is(err, rounds.ErrRoundNotStarted),
		errors.Is(err, rounds.ErrRoundFinished),
		errors.Is(err, rounds.ErrUnauthorized):
		msg = err.Error()
	case rounds.IsTransient(err):
		msg = "temporarily unavailable, retry"
	default:
		log.Error().
			Err(err).
			Str("connection_id", c.ID).
			Str("command", command).
			Msg("client command failed")
	}
	c.reply(ServerMessage{Type: ReplyError, RoundID: roundID, Error: msg})
}

func (c *Connection) reply(msg ServerMessage) {
	frame, err := json.Marshal(msg)
	if err != nil {
		log.Error().Err(err).Str("connection_id", c.ID).Msg("failed to marshal reply")
		return
	}
	c.trySend(frame)
}
