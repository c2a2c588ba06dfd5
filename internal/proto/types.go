// Package proto defines the JSON frames exchanged over the signaling
// socket. Every frame is an object with a "type" field; requests may
// carry a "requestId" that is echoed on the direct response.
package proto

// Client → server.
const (
	TypeJoin             = "join"
	TypeReady            = "ready"
	TypeLeave            = "leave"
	TypePing             = "ping"
	TypeOffer            = "offer"
	TypeAnswer           = "answer"
	TypeICECandidate     = "ice-candidate"
	TypeDeviceState      = "device-state"
	TypeScreenShareStart = "screen-share-start"
	TypeScreenShareStop  = "screen-share-stop"
	TypeCollabMode       = "collab-mode"
	TypeWorkflowOp       = "workflow-operation"
	TypeWhiteboardUpdate = "whiteboard-update"
	TypeChatSend         = "chat-send"
	TypeTypingStart      = "typing-start"
	TypeTypingStop       = "typing-stop"

	TypeGetRTPCapabilities = "get-rtp-capabilities"
	TypeCreateTransport    = "create-transport"
	TypeConnectTransport   = "connect-transport"
	TypeProduce            = "produce"
	TypeConsume            = "consume"
	TypeSetBitrate         = "set-bitrate"
	TypeCloseProducer      = "close-producer"
)

// Server → client. Signaling, device-state, collab-mode,
// workflow-operation and whiteboard-update reuse the request names.
const (
	TypePong              = "pong"
	TypeLeft              = "left"
	TypeRoomData          = "room-data"
	TypeRoomState         = "room-state"
	TypeScreenShare       = "screen-share"
	TypeScreenShareDenied = "screen-share-denied"
	TypeChatMessage       = "chat-message"
	TypeTyping            = "typing"
	TypeError             = "error"

	TypeRTPCapabilities    = "rtp-capabilities"
	TypeTransportCreated   = "transport-created"
	TypeTransportConnected = "transport-connected"
	TypeProduced           = "produced"
	TypeConsumed           = "consumed"
	TypeBitrateSet         = "bitrate-set"
	TypeProducerNew        = "producer-new"
	TypeProducerClosed     = "producer-closed"
	TypeConsumerClosed     = "consumer-closed"
	TypeTransportClosed    = "transport-closed"
)

const (
	ShareStarted = "started"
	ShareStopped = "stopped"
)
