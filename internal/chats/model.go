package chats

import "time"

// Message kinds stored in the tipo column.
const (
	KindText     = "texto"
	KindImage    = "imagen"
	KindVideo    = "video"
	KindVoice    = "voz"
	KindDocument = "document"
)

// TimestampLayout formats message times in payloads.
const TimestampLayout = "2006-01-02 15:04:05"

// Chat is a conversation between two users.
type Chat struct {
	ID            int64     `gorm:"column:id;primaryKey;autoIncrement"`
	FirstUserID   int64     `gorm:"column:usuario1_id;not null;index"`
	SecondUserID  int64     `gorm:"column:usuario2_id;not null;index"`
	LastMessageID *int64    `gorm:"column:ultimo_mensaje_id"`
	CreatedAt     time.Time `gorm:"column:creado_en;not null"`
}

// TableName exposes the table backing chats.
func (Chat) TableName() string {
	return "chats"
}

// Includes reports whether the user takes part in the chat.
func (c Chat) Includes(userID int64) bool {
	return c.FirstUserID == userID || c.SecondUserID == userID
}

// Other returns the participant that is not userID.
func (c Chat) Other(userID int64) int64 {
	if c.FirstUserID == userID {
		return c.SecondUserID
	}
	return c.FirstUserID
}

// Message is one chat message. Media bytes live in the media store under MediaKey.
type Message struct {
	ID          int64     `gorm:"column:id;primaryKey;autoIncrement"`
	ChatID      int64     `gorm:"column:chat_id;not null;index"`
	SenderID    int64     `gorm:"column:emisor_id;not null"`
	RecipientID int64     `gorm:"column:receptor_id;not null"`
	Content     string    `gorm:"column:contenido;type:text"`
	Kind        string    `gorm:"column:tipo;size:16;not null;default:texto"`
	MediaKey    string    `gorm:"column:media_key;size:255"`
	MediaName   string    `gorm:"column:media_name;size:255"`
	MediaType   string    `gorm:"column:media_type;size:128"`
	MediaSize   int64     `gorm:"column:media_size"`
	Read        bool      `gorm:"column:leido;not null;default:false"`
	SentAt      time.Time `gorm:"column:fecha_envio;not null"`
}

// TableName exposes the table backing chat messages.
func (Message) TableName() string {
	return "mensajes_chat"
}

// HasMedia reports whether the message carries a media attachment.
func (m Message) HasMedia() bool {
	return m.Kind != KindText && m.MediaKey != ""
}

// MessagePayload is the wire form of a message, pushed live and returned over HTTP.
type MessagePayload struct {
	Type        string `json:"type"`
	ID          int64  `json:"id"`
	ChatID      int64  `json:"chat_id"`
	SenderID    int64  `json:"emisor_id"`
	RecipientID int64  `json:"receptor_id"`
	Content     string `json:"contenido"`
	Kind        string `json:"tipo"`
	MediaURL    string `json:"media_url"`
	SentAt      string `json:"fecha_envio"`
	Read        bool   `json:"leido"`
	Mine        bool   `json:"es_mio"`
}

// ChatEvent announces a chat created or deleted by the other participant.
type ChatEvent struct {
	Type        string `json:"type"`
	ChatID      int64  `json:"chat_id"`
	OtherUserID int64  `json:"otro_usuario_id"`
	CreatedAt   string `json:"fecha_creacion,omitempty"`
	DeletedAt   string `json:"fecha_eliminacion,omitempty"`
}

// Summary is one row of the chat list.
type Summary struct {
	ChatID          int64  `json:"chat_id"`
	OtherUserID     int64  `json:"otro_usuario_id"`
	DisplayName     string `json:"display_name"`
	UserKind        string `json:"tipo_usuario"`
	LastMessage     string `json:"ultimo_mensaje"`
	LastSentAt      string `json:"fecha_envio"`
	LastMessageKind string `json:"tipo_ultimo_mensaje"`
	UnreadCount     int64  `json:"unread_count"`
	Mine            bool   `json:"es_mio"`

	activity time.Time
}

// Participant describes the other user of a conversation.
type Participant struct {
	ID          int64  `json:"id"`
	DisplayName string `json:"display_name"`
	UserKind    string `json:"tipo_usuario"`
}

// Conversation is a page of messages with the other participant.
type Conversation struct {
	ChatID   int64            `json:"chat_id"`
	Other    Participant      `json:"otro_usuario"`
	Messages []MessagePayload `json:"mensajes"`
}

// StartResult identifies the chat returned by StartChat.
type StartResult struct {
	ChatID  int64 `json:"chat_id"`
	Created bool  `json:"-"`
}

func mediaURL(message Message) string {
	if message.Kind == KindText {
		return ""
	}
	return "/chats/media/" + formatID(message.ID)
}
