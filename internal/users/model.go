package users

import (
	"strings"
	"time"
)

// User kinds stored in the tipo column.
const (
	KindEntrepreneur = "emprendedor"
	KindExplorer     = "explorador"
)

// User is a PrendiaX account. Provider subjects link Google and Apple sign-ins.
type User struct {
	ID            int64     `gorm:"column:id;primaryKey;autoIncrement"`
	Name          string    `gorm:"column:nombre;size:190;not null"`
	Email         string    `gorm:"column:email;size:320;uniqueIndex;not null"`
	PasswordHash  string    `gorm:"column:password_hash;size:255"`
	GoogleSubject *string   `gorm:"column:google_sub;size:190;uniqueIndex"`
	AppleSubject  *string   `gorm:"column:apple_sub;size:190;uniqueIndex"`
	BusinessName  string    `gorm:"column:nombre_empresa;size:190"`
	Category      string    `gorm:"column:categoria;size:120"`
	Kind          string    `gorm:"column:tipo;size:32;not null;default:explorador"`
	CreatedAt     time.Time `gorm:"column:creado_en;autoCreateTime"`
	UpdatedAt     time.Time `gorm:"column:actualizado_en;autoUpdateTime"`
}

// TableName exposes the table backing user accounts.
func (User) TableName() string {
	return "usuarios"
}

// DisplayName prefers the business name entrepreneurs publish under.
func (u User) DisplayName() string {
	if business := normalize(u.BusinessName); business != "" {
		return business
	}
	return normalize(u.Name)
}

// DeviceToken is a push registration for one of the user's devices.
type DeviceToken struct {
	ID        int64     `gorm:"column:id;primaryKey;autoIncrement"`
	UserID    int64     `gorm:"column:user_id;not null;index"`
	Token     string    `gorm:"column:token;size:512;uniqueIndex;not null"`
	Platform  string    `gorm:"column:platform;size:16"`
	CreatedAt time.Time `gorm:"column:creado_en;autoCreateTime"`
	UpdatedAt time.Time `gorm:"column:actualizado_en;autoUpdateTime"`
}

// TableName exposes the table backing device tokens.
func (DeviceToken) TableName() string {
	return "device_tokens"
}

// Block records that BlockerID no longer wants contact with BlockedID.
type Block struct {
	BlockerID int64     `gorm:"column:bloqueador_id;primaryKey"`
	BlockedID int64     `gorm:"column:bloqueado_id;primaryKey"`
	CreatedAt time.Time `gorm:"column:creado_en;autoCreateTime"`
}

// TableName exposes the table backing block relationships.
func (Block) TableName() string {
	return "bloqueos"
}

// Profile is the public view of a user.
type Profile struct {
	ID           int64  `json:"id"`
	Name         string `json:"nombre"`
	Email        string `json:"email,omitempty"`
	BusinessName string `json:"nombre_empresa,omitempty"`
	Category     string `json:"categoria,omitempty"`
	Kind         string `json:"tipo"`
	DisplayName  string `json:"display_name"`
}

func normalize(value string) string {
	return strings.TrimSpace(value)
}

func normalizeEmail(value string) string {
	return strings.ToLower(strings.TrimSpace(value))
}
