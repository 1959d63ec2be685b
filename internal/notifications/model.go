package notifications

import "time"

// Notification types.
const (
	TypeInterest = "interest"
	TypeComment  = "comentario"
	TypeReply    = "respuesta"
	TypeMention  = "mencion"
)

// TimestampLayout formats timestamps in payloads.
const TimestampLayout = "2006-01-02 15:04:05"

const unknownActorName = "Usuario desconocido"

// Notification is a persisted social notification addressed to UserID.
type Notification struct {
	ID        int64     `gorm:"column:id;primaryKey;autoIncrement"`
	UserID    int64     `gorm:"column:user_id;not null;index:idx_notificaciones_user_leida,priority:1"`
	PostID    int64     `gorm:"column:publicacion_id;not null"`
	Type      string    `gorm:"column:tipo;size:32;not null"`
	Read      bool      `gorm:"column:leida;not null;default:false;index:idx_notificaciones_user_leida,priority:2"`
	CreatedAt time.Time `gorm:"column:fecha_creacion;not null"`
	ActorID   int64     `gorm:"column:actor_id;not null"`
	CommentID *int64    `gorm:"column:comment_id"`
	Message   *string   `gorm:"column:mensaje;type:text"`
}

// TableName exposes the table backing notifications.
func (Notification) TableName() string {
	return "notificaciones"
}

// Payload is the outbound notification event, pushed live and returned by listings.
type Payload struct {
	Type      string  `json:"type"`
	ID        int64   `json:"id"`
	UserID    int64   `json:"user_id"`
	PostID    int64   `json:"publicacion_id"`
	ActorID   int64   `json:"actor_id"`
	ActorName string  `json:"nombre_usuario"`
	Message   *string `json:"mensaje"`
	CommentID *int64  `json:"comment_id,omitempty"`
	Read      bool    `json:"leida"`
	CreatedAt string  `json:"fecha_creacion"`
}

// Page is one page of a user's notifications.
type Page struct {
	Notifications []Payload `json:"notificaciones"`
	Total         int64     `json:"total"`
	Unread        int64     `json:"no_leidas"`
}

func newPayload(record Notification, actorName string) Payload {
	return Payload{
		Type:      record.Type,
		ID:        record.ID,
		UserID:    record.UserID,
		PostID:    record.PostID,
		ActorID:   record.ActorID,
		ActorName: actorName,
		Message:   record.Message,
		CommentID: record.CommentID,
		Read:      record.Read,
		CreatedAt: record.CreatedAt.Format(TimestampLayout),
	}
}
