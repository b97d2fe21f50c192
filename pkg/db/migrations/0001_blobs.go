package migrations

import (
	"context"
	"database/sql"
	"time"

	"github.com/pressly/goose/v3"
	"gorm.io/datatypes"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
	"gorm.io/gorm/schema"
)

// Blob is a JSON document addressed by an object-store style key.
type Blob struct {
	Key       string         `gorm:"type:text;primaryKey"`
	Value     datatypes.JSON `gorm:"type:jsonb;not null"`
	CreatedAt time.Time      `gorm:"type:timestamptz;not null;default:now();autoCreateTime"`
	UpdatedAt time.Time      `gorm:"type:timestamptz;not null;default:now();autoUpdateTime"`
}

func (Blob) TableName() string { return "blobs" }

// All returns the schema migrations in version order.
func All() []*goose.Migration {
	return []*goose.Migration{
		goose.NewGoMigration(1,
			&goose.GoFunc{RunTx: upBlobs},
			&goose.GoFunc{RunTx: downBlobs},
		),
	}
}

func openGorm(tx *sql.Tx) (*gorm.DB, error) {
	return gorm.Open(postgres.New(postgres.Config{Conn: tx, PreferSimpleProtocol: true}), &gorm.Config{
		NamingStrategy: schema.NamingStrategy{SingularTable: false},
		Logger:         logger.Default.LogMode(logger.Silent),
	})
}

func upBlobs(ctx context.Context, tx *sql.Tx) error {
	gormDB, err := openGorm(tx)
	if err != nil {
		return err
	}

	if err := gormDB.WithContext(ctx).AutoMigrate(&Blob{}); err != nil {
		return err
	}

	// Prefix scans drive the artifact duplicate check.
	return gormDB.WithContext(ctx).Exec(
		`CREATE INDEX IF NOT EXISTS blobs_key_prefix_idx ON blobs (key text_pattern_ops)`,
	).Error
}

func downBlobs(ctx context.Context, tx *sql.Tx) error {
	gormDB, err := openGorm(tx)
	if err != nil {
		return err
	}

	return gormDB.WithContext(ctx).Migrator().DropTable(&Blob{})
}
