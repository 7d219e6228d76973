package domain

// MessageType identifies an inbound frame kind
type MessageType string

const (
	MessageTypeAIChat        MessageType = "ai-chat"
	MessageTypeChat          MessageType = "chat"
	MessageTypeTyping        MessageType = "typing"
	MessageTypeJoinRoom      MessageType = "join-room"
	MessageTypeLeaveRoom     MessageType = "leave-room"
	MessageTypeVoiceNote     MessageType = "voice-note"
	MessageTypeFileShare     MessageType = "file-share"
	MessageTypeProductView   MessageType = "product-view"
	MessageTypeCartUpdate    MessageType = "cart-update"
	MessageTypeOrderTracking MessageType = "order-tracking"
	MessageTypePresence      MessageType = "presence"
	MessageTypeHeartbeat     MessageType = "heartbeat"
)

// MessageTypes lists every inbound kind the hub accepts.
var MessageTypes = []MessageType{
	MessageTypeAIChat,
	MessageTypeChat,
	MessageTypeTyping,
	MessageTypeJoinRoom,
	MessageTypeLeaveRoom,
	MessageTypeVoiceNote,
	MessageTypeFileShare,
	MessageTypeProductView,
	MessageTypeCartUpdate,
	MessageTypeOrderTracking,
	MessageTypePresence,
	MessageTypeHeartbeat,
}

// Message is a decoded inbound frame. Payload holds the pointer variant that
// matches Type, e.g. *ChatPayload for MessageTypeChat.
type Message struct {
	ID      string
	Type    MessageType
	Data    map[string]any
	Payload any
}

// PresenceStatus is a user's availability
type PresenceStatus string

const (
	PresenceOnline  PresenceStatus = "online"
	PresenceAway    PresenceStatus = "away"
	PresenceOffline PresenceStatus = "offline"
)

// AIChatPayload is sent with ai-chat
type AIChatPayload struct {
	Message string `json:"message" validate:"required"`
}

// Room fields chosen by clients carry the chatroom tag, which rejects the
// synthetic order:/product: scopes.

// ChatPayload is sent with chat
type ChatPayload struct {
	Message string `json:"message" validate:"required"`
	Room    string `json:"room" validate:"omitempty,chatroom"`
}

// TypingPayload is sent with typing
type TypingPayload struct {
	Room   string `json:"room" validate:"omitempty,chatroom"`
	Typing bool   `json:"typing"`
}

// JoinRoomPayload is sent with join-room
type JoinRoomPayload struct {
	Room string `json:"room" validate:"required,chatroom"`
}

// RoomPayload is sent with leave-room. Leaving a synthetic room is allowed.
type RoomPayload struct {
	Room string `json:"room" validate:"required"`
}

// VoiceNotePayload is sent with voice-note
type VoiceNotePayload struct {
	Room      string  `json:"room" validate:"omitempty,chatroom"`
	AudioData string  `json:"audioData" validate:"required"`
	Duration  float64 `json:"duration" validate:"gte=0"`
}

// FileSharePayload is sent with file-share
type FileSharePayload struct {
	Room     string `json:"room" validate:"omitempty,chatroom"`
	FileName string `json:"fileName" validate:"required"`
	FileURL  string `json:"fileUrl" validate:"required"`
	FileSize int64  `json:"fileSize" validate:"gte=0"`
}

// ProductViewPayload is sent with product-view
type ProductViewPayload struct {
	ProductID string `json:"productId" validate:"required"`
}

// CartUpdatePayload is sent with cart-update
type CartUpdatePayload struct {
	Cart any `json:"cart" validate:"required"`
}

// OrderTrackingPayload is sent with order-tracking
type OrderTrackingPayload struct {
	OrderID string `json:"orderId" validate:"required"`
}

// PresencePayload is sent with presence
type PresencePayload struct {
	Status PresenceStatus `json:"status" validate:"required,oneof=online away offline"`
}

// HeartbeatPayload is sent with heartbeat
type HeartbeatPayload struct{}

// NewPayload returns an empty payload variant for t, or false when t is not
// an inbound kind.
func NewPayload(t MessageType) (any, bool) {
	switch t {
	case MessageTypeAIChat:
		return &AIChatPayload{}, true
	case MessageTypeChat:
		return &ChatPayload{}, true
	case MessageTypeTyping:
		return &TypingPayload{}, true
	case MessageTypeJoinRoom:
		return &JoinRoomPayload{}, true
	case MessageTypeLeaveRoom:
		return &RoomPayload{}, true
	case MessageTypeVoiceNote:
		return &VoiceNotePayload{}, true
	case MessageTypeFileShare:
		return &FileSharePayload{}, true
	case MessageTypeProductView:
		return &ProductViewPayload{}, true
	case MessageTypeCartUpdate:
		return &CartUpdatePayload{}, true
	case MessageTypeOrderTracking:
		return &OrderTrackingPayload{}, true
	case MessageTypePresence:
		return &PresencePayload{}, true
	case MessageTypeHeartbeat:
		return &HeartbeatPayload{}, true
	default:
		return nil, false
	}
}
