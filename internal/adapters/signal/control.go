package signal

import "github.com/dkeye/voicechan/internal/domain"

func (ctl *SignalWSController) handlePing(conn *WsSignalConn) {
	ctl.sendJSON(conn, pong{Type: "pong"})
}

func (ctl *SignalWSController) handleWhoAmI(user domain.UserID) whoAmI {
	ch, _ := ctl.Sessions.Locate(user)
	return whoAmI{UserID: user, ChannelID: ch}
}
