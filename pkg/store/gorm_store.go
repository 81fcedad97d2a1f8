package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/google/uuid"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"aluastro/pkg/domain"
)

const migrateLockID int64 = 25860417

// GormStore implements Store using GORM + Postgres.
type GormStore struct {
	db  *gorm.DB
	now func() time.Time
}

// NewGormStore opens the DB and runs auto-migrations.
func NewGormStore(dsn string) (*GormStore, error) {
	gormLog := gormlogger.New(
		log.New(os.Stdout, "\r\n", log.LstdFlags),
		gormlogger.Config{
			SlowThreshold:             time.Second,
			LogLevel:                  gormlogger.Warn,
			IgnoreRecordNotFoundError: true,
			Colorful:                  false,
		},
	)
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{Logger: gormLog})
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if err := withMigrationLock(db, func(tx *gorm.DB) error {
		if err := tx.AutoMigrate(&ApplicationModel{}); err != nil {
			return fmt.Errorf("auto migrate: %w", err)
		}
		return nil
	}); err != nil {
		return nil, err
	}
	return newGormStore(db), nil
}

func newGormStore(db *gorm.DB) *GormStore {
	return &GormStore{db: db, now: time.Now}
}

// Close releases the underlying connection pool.
func (s *GormStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func withMigrationLock(db *gorm.DB, fn func(*gorm.DB) error) error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	sqlDB, err := db.DB()
	if err != nil {
		return fmt.Errorf("get sql db: %w", err)
	}
	conn, err := sqlDB.Conn(ctx)
	if err != nil {
		return fmt.Errorf("open sql conn: %w", err)
	}
	defer conn.Close()
	if err := execAdvisory(ctx, conn, "SELECT pg_advisory_lock($1)", migrateLockID); err != nil {
		return fmt.Errorf("acquire migrate lock: %w", err)
	}
	defer func() {
		_ = execAdvisory(ctx, conn, "SELECT pg_advisory_unlock($1)", migrateLockID)
	}()
	return fn(db)
}

func execAdvisory(ctx context.Context, conn *sql.Conn, query string, lockID int64) error {
	_, err := conn.ExecContext(ctx, query, lockID)
	return err
}

// AddApplication inserts a new application row.
func (s *GormStore) AddApplication(ctx context.Context, app domain.Application) (domain.Application, error) {
	app.ID = uuid.NewString()
	// Postgres keeps microseconds; truncate so the returned value matches a re-read.
	app.CreatedAt = s.now().UTC().Truncate(time.Microsecond)
	model, err := applicationToModel(app)
	if err != nil {
		return domain.Application{}, err
	}
	if err := s.db.WithContext(ctx).Create(&model).Error; err != nil {
		return domain.Application{}, fmt.Errorf("insert application: %w", err)
	}
	return app, nil
}

// GetApplication retrieves an application by ID.
func (s *GormStore) GetApplication(ctx context.Context, id string) (domain.Application, bool, error) {
	var model ApplicationModel
	if err := s.db.WithContext(ctx).First(&model, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.Application{}, false, nil
		}
		return domain.Application{}, false, err
	}
	app, err := applicationFromModel(model)
	if err != nil {
		return domain.Application{}, false, err
	}
	return app, true, nil
}

func applicationToModel(app domain.Application) (ApplicationModel, error) {
	var attachment []byte
	if app.Attachment != nil {
		raw, err := json.Marshal(app.Attachment)
		if err != nil {
			return ApplicationModel{}, fmt.Errorf("encode attachment: %w", err)
		}
		attachment = raw
	}
	return ApplicationModel{
		ID:         app.ID,
		FullName:   app.FullName,
		Email:      app.Email,
		Phone:      app.Phone,
		Department: app.Department,
		Reason:     app.Reason,
		Skills:     app.Skills,
		Consent:    app.Consent,
		CVPath:     app.CVPath,
		Attachment: attachment,
		CreatedAt:  app.CreatedAt,
	}, nil
}

func applicationFromModel(m ApplicationModel) (domain.Application, error) {
	var attachment *domain.AttachmentMeta
	if len(m.Attachment) > 0 {
		attachment = &domain.AttachmentMeta{}
		if err := json.Unmarshal(m.Attachment, attachment); err != nil {
			return domain.Application{}, fmt.Errorf("decode attachment: %w", err)
		}
	}
	return domain.Application{
		ID:         m.ID,
		FullName:   m.FullName,
		Email:      m.Email,
		Phone:      m.Phone,
		Department: m.Department,
		Reason:     m.Reason,
		Skills:     m.Skills,
		Consent:    m.Consent,
		CVPath:     m.CVPath,
		Attachment: attachment,
		CreatedAt:  m.CreatedAt.UTC(),
	}, nil
}
