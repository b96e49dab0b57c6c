package game

import (
	"log/slog"

	"example.com/wepoker/internal/protocol"
	"example.com/wepoker/internal/session"
)

// Engine owns the game rules. The server calls it from connection
// goroutines, so implementations must be safe for concurrent use and should
// hand work to their own goroutine rather than block.
type Engine interface {
	OnIdentityConnected(id session.Identity, reconnected bool)
	// OnIdentityExpired is the cue to auto-fold the player for the round.
	OnIdentityExpired(id session.Identity)
	// OnMessage receives every inbound variant that is neither a future
	// response nor an identity message.
	OnMessage(from int, msg protocol.Message)
}

// LogEngine only logs. It stands in until a rules engine is plugged in.
type LogEngine struct {
	Log *slog.Logger
}

func (e LogEngine) logger() *slog.Logger {
	if e.Log == nil {
		return slog.Default()
	}
	return e.Log
}

func (e LogEngine) OnIdentityConnected(id session.Identity, reconnected bool) {
	e.logger().Info("player joined", "id", id.ID, "nickname", id.Nickname, "reconnected", reconnected)
}

func (e LogEngine) OnIdentityExpired(id session.Identity) {
	e.logger().Info("player left", "id", id.ID, "nickname", id.Nickname)
}

func (e LogEngine) OnMessage(from int, msg protocol.Message) {
	e.logger().Info("message", "from", from, "msg", msg.String())
}
