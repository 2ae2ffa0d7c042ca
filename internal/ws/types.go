package ws

const (
	// client - server
	MsgPlace   = "place"
	MsgOpen    = "open_cell"
	MsgDrop    = "drop"
	MsgCashOut = "cash_out"
	MsgResolve = "resolve"
	MsgState   = "state"
	MsgPing    = "ping"

	// server - client; round events use their domain.EventType as type
	MsgReady = "ready"
	MsgRound = "round"
	MsgPong  = "pong"
	MsgError = "error"
)
