package signal

import (
	"context"

	"github.com/dkeye/Huddle/internal/core"
	"github.com/dkeye/Huddle/internal/domain"
	"github.com/dkeye/Huddle/internal/proto"
)

type handlerFunc func(ctx context.Context, cc *client, env proto.Envelope, data []byte) error

// client is the per-connection state of the read pump. Its handler
// table lives and dies with the connection.
type client struct {
	sid      core.SessionID
	id       domain.Identity
	conn     *WsSignalConn
	room     domain.RoomID
	handlers map[string]handlerFunc
}

func (ctl *SignalWSController) newClient(sess core.MemberSession, conn *WsSignalConn, room domain.RoomID) *client {
	cc := &client{sid: sess.SID(), id: sess.Identity(), conn: conn, room: room}
	cc.handlers = map[string]handlerFunc{
		proto.TypeJoin:  ctl.handleJoin,
		proto.TypeReady: ctl.handleJoin,
		proto.TypeLeave: ctl.handleLeave,
		proto.TypePing:  ctl.handlePing,

		proto.TypeOffer:        ctl.handleRelay,
		proto.TypeAnswer:       ctl.handleRelay,
		proto.TypeICECandidate: ctl.handleRelay,

		proto.TypeDeviceState:      ctl.handleDeviceState,
		proto.TypeScreenShareStart: ctl.handleScreenShareStart,
		proto.TypeScreenShareStop:  ctl.handleScreenShareStop,

		proto.TypeCollabMode:       ctl.handleCollabMode,
		proto.TypeWorkflowOp:       ctl.handleWorkflowOp,
		proto.TypeWhiteboardUpdate: ctl.handleWhiteboard,

		proto.TypeChatSend:    ctl.handleChatSend,
		proto.TypeTypingStart: ctl.handleTypingStart,
		proto.TypeTypingStop:  ctl.handleTypingStop,

		proto.TypeGetRTPCapabilities: ctl.handleGetRTPCapabilities,
		proto.TypeCreateTransport:    ctl.handleCreateTransport,
		proto.TypeConnectTransport:   ctl.handleConnectTransport,
		proto.TypeProduce:            ctl.handleProduce,
		proto.TypeConsume:            ctl.handleConsume,
		proto.TypeSetBitrate:         ctl.handleSetBitrate,
		proto.TypeCloseProducer:      ctl.handleCloseProducer,
	}
	return cc
}

func (ctl *SignalWSController) handlePing(_ context.Context, cc *client, env proto.Envelope, _ []byte) error {
	ctl.sendJSON(cc, proto.Ack{Type: proto.TypePong, RequestID: env.RequestID})
	return nil
}
