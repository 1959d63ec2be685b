package database

import (
	"errors"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	migrationUnreadMessagesIndex = "2024-05-01_unread_messages_index"
	migrationBackfillLastMessage = "2024-05-02_backfill_last_message"
)

type migrationRecord struct {
	Name             string `gorm:"column:name;primaryKey;size:190;not null"`
	AppliedAtSeconds int64  `gorm:"column:applied_at_s;not null"`
}

func (migrationRecord) TableName() string {
	return "db_migrations"
}

type migrationDefinition struct {
	name  string
	apply func(*gorm.DB) error
}

func applyMigrations(db *gorm.DB, logger *zap.Logger) error {
	migrations := []migrationDefinition{
		{name: migrationUnreadMessagesIndex, apply: createUnreadMessagesIndex},
		{name: migrationBackfillLastMessage, apply: backfillLastMessage},
	}

	for _, migration := range migrations {
		var record migrationRecord
		err := db.Where("name = ?", migration.name).Take(&record).Error
		if err == nil {
			continue
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}
		err = db.Transaction(func(tx *gorm.DB) error {
			if err := migration.apply(tx); err != nil {
				return err
			}
			return tx.Create(&migrationRecord{Name: migration.name, AppliedAtSeconds: time.Now().UTC().Unix()}).Error
		})
		if err != nil {
			return err
		}
		if logger != nil {
			logger.Info("database migration applied", zap.String("migration", migration.name))
		}
	}
	return nil
}

// createUnreadMessagesIndex serves the per-recipient unread counters.
func createUnreadMessagesIndex(db *gorm.DB) error {
	return db.Exec("CREATE INDEX IF NOT EXISTS idx_mensajes_receptor_leido ON mensajes_chat (receptor_id, leido)").Error
}

// backfillLastMessage points chats written before ultimo_mensaje_id existed at their newest message.
func backfillLastMessage(db *gorm.DB) error {
	return db.Exec(`UPDATE chats SET ultimo_mensaje_id = (
		SELECT MAX(m.id) FROM mensajes_chat m WHERE m.chat_id = chats.id
	) WHERE ultimo_mensaje_id IS NULL`).Error
}
