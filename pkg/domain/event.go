package domain

import "time"

// EventType identifies an outbound frame kind
type EventType string

const (
	EventTypeConnectionAck     EventType = "connection-ack"
	EventTypeAIResponse        EventType = "ai-response"
	EventTypeChat              EventType = "chat"
	EventTypeTyping            EventType = "typing"
	EventTypeRoomJoined        EventType = "room-joined"
	EventTypeRoomLeft          EventType = "room-left"
	EventTypeVoiceNote         EventType = "voice-note"
	EventTypeFileShare         EventType = "file-share"
	EventTypeProductViews      EventType = "product-views"
	EventTypeCartSync          EventType = "cart-sync"
	EventTypeOrderStatus       EventType = "order-status"
	EventTypeAIRecommendations EventType = "ai-recommendations"
	EventTypePresenceUpdate    EventType = "presence-update"
	EventTypePing              EventType = "ping"
	EventTypePong              EventType = "pong"
	EventTypeError             EventType = "error"
	EventTypeOrderUpdate       EventType = "order-update"
	EventTypePriceUpdate       EventType = "price-update"
	EventTypeInventoryUpdate   EventType = "inventory-update"
	EventTypeNotification      EventType = "notification"
)

// Features advertised in the connection ack.
var Features = []string{"ai-chat", "real-time-updates", "voice-notes", "file-sharing", "presence"}

// Event is anything the hub can fan out to clients
type Event interface {
	EventType() EventType
}

// Envelope carries the fields every outbound frame has
type Envelope struct {
	Type      EventType `json:"type"`
	Timestamp int64     `json:"timestamp"`
}

// EventType implements Event
func (e Envelope) EventType() EventType {
	return e.Type
}

// NewEnvelope stamps t with the current time in milliseconds
func NewEnvelope(t EventType) Envelope {
	return Envelope{Type: t, Timestamp: time.Now().UnixMilli()}
}

// ConnectionAckEvent is the first frame of every session
type ConnectionAckEvent struct {
	Envelope
	Status    string   `json:"status"`
	SessionID string   `json:"sessionId"`
	UserID    string   `json:"userId"`
	Features  []string `json:"features"`
}

// AIResponseEvent answers one ai-chat, with the fallback text on failure
type AIResponseEvent struct {
	Envelope
	Message     string `json:"message"`
	Suggestions []any  `json:"suggestions"`
	Products    []any  `json:"products"`
}

// ChatEvent is a chat message fanned out to a room
type ChatEvent struct {
	Envelope
	Message string `json:"message"`
	UserID  string `json:"userId"`
	Room    string `json:"room"`
}

// TypingEvent tells the other room members a user is typing
type TypingEvent struct {
	Envelope
	UserID string `json:"userId"`
	Room   string `json:"room"`
	Typing bool   `json:"typing"`
}

// RoomEvent is sent for room-joined and room-left
type RoomEvent struct {
	Envelope
	Room string `json:"room"`
}

// VoiceNoteEvent carries base64 audio to a room
type VoiceNoteEvent struct {
	Envelope
	UserID    string  `json:"userId"`
	Room      string  `json:"room"`
	AudioData string  `json:"audioData"`
	Duration  float64 `json:"duration"`
}

// FileShareEvent announces a shared file link to a room
type FileShareEvent struct {
	Envelope
	UserID   string `json:"userId"`
	Room     string `json:"room"`
	FileName string `json:"fileName"`
	FileURL  string `json:"fileUrl"`
	FileSize int64  `json:"fileSize"`
}

// ProductViewsEvent carries the all-time view count of a product
type ProductViewsEvent struct {
	Envelope
	ProductID string `json:"productId"`
	ViewCount int64  `json:"viewCount"`
}

// CartSyncEvent mirrors a cart to every session of its user
type CartSyncEvent struct {
	Envelope
	Cart any `json:"cart"`
}

// OrderStatusEvent passes the order service reply through untouched
type OrderStatusEvent struct {
	Envelope
	OrderID string `json:"orderId"`
	Status  any    `json:"status"`
}

// AIRecommendationsEvent goes back to the session that viewed a product
type AIRecommendationsEvent struct {
	Envelope
	Products []any `json:"products"`
	Reason   any   `json:"reason"`
}

// PresenceUpdateEvent is broadcast when a user changes status
type PresenceUpdateEvent struct {
	Envelope
	UserID string         `json:"userId"`
	Status PresenceStatus `json:"status"`
}

// ErrorEvent reports a rejected frame. Message never carries internal detail.
type ErrorEvent struct {
	Envelope
	Code    string `json:"code"`
	Message string `json:"message"`
}

// OrderUpdateEvent is published by backend services for order:<id> rooms
type OrderUpdateEvent struct {
	Envelope
	OrderID string `json:"orderId"`
	Status  string `json:"status"`
	UserID  string `json:"userId"`
}

// PriceUpdateEvent is published for product:<id> rooms; Discount is a percentage
type PriceUpdateEvent struct {
	Envelope
	ProductID     string  `json:"productId"`
	Price         float64 `json:"price"`
	OriginalPrice float64 `json:"originalPrice"`
	Discount      float64 `json:"discount"`
}

// InventoryUpdateEvent is published for product:<id> rooms
type InventoryUpdateEvent struct {
	Envelope
	ProductID string `json:"productId"`
	Stock     int    `json:"stock"`
	Status    string `json:"status"`
}

// NotificationEvent goes to one user, or to everyone when UserID is empty
type NotificationEvent struct {
	Envelope
	UserID           string `json:"userId,omitempty"`
	Title            string `json:"title"`
	Message          string `json:"message"`
	NotificationType string `json:"notificationType"`
}

// RawEvent is an already encoded frame relayed from the bus
type RawEvent struct {
	Type EventType
	Data []byte
}

// EventType implements Event
func (e RawEvent) EventType() EventType {
	return e.Type
}

// NewPing returns a heartbeat ping
func NewPing() Envelope {
	return NewEnvelope(EventTypePing)
}

// NewPong returns a heartbeat reply
func NewPong() Envelope {
	return NewEnvelope(EventTypePong)
}

// NewError returns an error event with a short client-safe message
func NewError(code, message string) *ErrorEvent {
	return &ErrorEvent{Envelope: NewEnvelope(EventTypeError), Code: code, Message: message}
}
