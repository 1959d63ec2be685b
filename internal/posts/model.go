package posts

import (
	"encoding/json"
	"time"
)

// TimestampLayout formats timestamps in payloads, matching chat and notification payloads.
const TimestampLayout = "2006-01-02 15:04:05"

const anonymousAuthor = "Anónimo"

// Post is a feed publication.
type Post struct {
	ID        int64     `gorm:"column:id;primaryKey;autoIncrement" json:"id"`
	UserID    int64     `gorm:"column:user_id;not null;index" json:"user_id"`
	Content   string    `gorm:"column:contenido;type:text;not null" json:"contenido"`
	CreatedAt time.Time `gorm:"column:fecha_creacion;not null" json:"fecha_creacion"`
}

// TableName exposes the table backing posts.
func (Post) TableName() string {
	return "publicaciones"
}

// MarshalJSON renders fecha_creacion with TimestampLayout.
func (p Post) MarshalJSON() ([]byte, error) {
	type plain Post
	return json.Marshal(struct {
		plain
		CreatedAt string `json:"fecha_creacion"`
	}{plain: plain(p), CreatedAt: p.CreatedAt.Format(TimestampLayout)})
}

// Comment is a comment on a post, optionally replying to another comment.
type Comment struct {
	ID        int64     `gorm:"column:id;primaryKey;autoIncrement" json:"id"`
	PostID    int64     `gorm:"column:publicacion_id;not null;index" json:"publicacion_id"`
	UserID    int64     `gorm:"column:user_id;not null" json:"user_id"`
	Content   string    `gorm:"column:contenido;type:text;not null" json:"contenido"`
	ParentID  *int64    `gorm:"column:parent_id" json:"parent_id"`
	CreatedAt time.Time `gorm:"column:fecha_creacion;not null" json:"fecha_creacion"`
}

// TableName exposes the table backing comments.
func (Comment) TableName() string {
	return "comentarios"
}

// MarshalJSON renders fecha_creacion with TimestampLayout.
func (c Comment) MarshalJSON() ([]byte, error) {
	type plain Comment
	return json.Marshal(struct {
		plain
		CreatedAt string `json:"fecha_creacion"`
	}{plain: plain(c), CreatedAt: c.CreatedAt.Format(TimestampLayout)})
}

// CommentView is a comment as listed under its post, with the author's display name.
type CommentView struct {
	Comment
	AuthorName string `json:"nombre_usuario"`
}

// MarshalJSON adds nombre_usuario to the comment fields.
func (v CommentView) MarshalJSON() ([]byte, error) {
	type plain Comment
	return json.Marshal(struct {
		plain
		CreatedAt  string `json:"fecha_creacion"`
		AuthorName string `json:"nombre_usuario"`
	}{plain: plain(v.Comment), CreatedAt: v.Comment.CreatedAt.Format(TimestampLayout), AuthorName: v.AuthorName})
}

// CommentPage is one page of a post's comments, newest first.
type CommentPage struct {
	Comments []CommentView `json:"comentarios"`
	Total    int64         `json:"total"`
}

// Interest marks that a user is interested in a post. One per post and user.
type Interest struct {
	PostID    int64     `gorm:"column:publicacion_id;primaryKey"`
	UserID    int64     `gorm:"column:user_id;primaryKey"`
	CreatedAt time.Time `gorm:"column:fecha_creacion;not null"`
}

// TableName exposes the table backing interests.
func (Interest) TableName() string {
	return "intereses"
}

// InterestState is the outcome of toggling an interest.
type InterestState struct {
	Count      int64 `json:"interesados_count"`
	Interested bool  `json:"interesado"`
}
