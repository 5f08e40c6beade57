package models

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/sirupsen/logrus"
	_ "github.com/go-sql-driver/mysql"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"

	"github.com/wlu03/story-to-scene-magic-08/config"
)

var ErrStoryNotFound = errors.New("story not found")

// StoryStore is the durable record of every story. Save overwrites the whole
// record; the orchestrator is its only writer.
type StoryStore interface {
	Create(ctx context.Context, story *Story) error
	Load(ctx context.Context, id string) (*Story, error)
	Save(ctx context.Context, story *Story) error
	List(ctx context.Context) ([]Story, error)
	ListByStages(ctx context.Context, stages ...Stage) ([]Story, error)
	Delete(ctx context.Context, id string) error
}

// gormWriter routes gorm's log lines into logrus.
type gormWriter struct {
	log logrus.FieldLogger
}

func (w gormWriter) Printf(format string, args ...interface{}) {
	w.log.Warnf(format, args...)
}

func newGormLogger(log logrus.FieldLogger) gormlogger.Interface {
	return gormlogger.New(gormWriter{log: log.WithField("module", "gorm")}, gormlogger.Config{
		SlowThreshold:             500 * time.Millisecond,
		LogLevel:                  gormlogger.Warn,
		IgnoreRecordNotFoundError: true,
		Colorful:                  false,
	})
}

// OpenDB connects to MySQL or SQLite and migrates the schema. Slow queries
// and errors are logged through log.
func OpenDB(cfg config.DatabaseConfig, log logrus.FieldLogger) (*gorm.DB, error) {
	if log == nil {
		log = logrus.StandardLogger()
	}
	gormCfg := &gorm.Config{Logger: newGormLogger(log)}

	var (
		db  *gorm.DB
		err error
	)
	switch cfg.Driver {
	case "mysql":
		sqlDB, openErr := sql.Open("mysql", cfg.DSN)
		if openErr != nil {
			return nil, fmt.Errorf("open mysql: %w", openErr)
		}
		sqlDB.SetMaxOpenConns(25)
		sqlDB.SetMaxIdleConns(5)
		sqlDB.SetConnMaxLifetime(time.Hour)
		if pingErr := sqlDB.Ping(); pingErr != nil {
			sqlDB.Close()
			return nil, fmt.Errorf("ping mysql: %w", pingErr)
		}
		db, err = gorm.Open(mysql.New(mysql.Config{Conn: sqlDB}), gormCfg)
	case "sqlite":
		db, err = gorm.Open(sqlite.Open(sqliteDSN(cfg.DSN)), gormCfg)
		if err == nil {
			// One connection serialises writers; SQLite allows a single writer anyway.
			var sqlDB *sql.DB
			if sqlDB, err = db.DB(); err == nil {
				sqlDB.SetMaxOpenConns(1)
			}
		}
	default:
		return nil, fmt.Errorf("unsupported database driver %q", cfg.Driver)
	}
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", cfg.Driver, err)
	}

	if err := db.AutoMigrate(&Story{}, &Segment{}); err != nil {
		return nil, fmt.Errorf("migrate schema: %w", err)
	}
	return db, nil
}

func sqliteDSN(dsn string) string {
	if strings.Contains(dsn, "_pragma=") {
		return dsn
	}
	sep := "?"
	if strings.Contains(dsn, "?") {
		sep = "&"
	}
	return dsn + sep + "_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)"
}

type GormStore struct {
	db *gorm.DB
}

func NewGormStore(db *gorm.DB) *GormStore {
	return &GormStore{db: db}
}

func (s *GormStore) Create(ctx context.Context, story *Story) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Omit(clause.Associations).Create(story).Error; err != nil {
			return fmt.Errorf("create story %s: %w", story.ID, err)
		}
		return saveSegments(tx, story)
	})
}

func (s *GormStore) Load(ctx context.Context, id string) (*Story, error) {
	var story Story
	err := s.db.WithContext(ctx).
		Preload("Segments", orderSegments).
		First(&story, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrStoryNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("load story %s: %w", id, err)
	}
	return &story, nil
}

// Save writes the story row and upserts every segment row in one transaction.
func (s *GormStore) Save(ctx context.Context, story *Story) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Omit(clause.Associations).Select("*").Where("id = ?", story.ID).Updates(story)
		if res.Error != nil {
			return fmt.Errorf("save story %s: %w", story.ID, res.Error)
		}
		if res.RowsAffected == 0 {
			var n int64
			if err := tx.Model(&Story{}).Where("id = ?", story.ID).Count(&n).Error; err != nil {
				return fmt.Errorf("save story %s: %w", story.ID, err)
			}
			if n == 0 {
				return fmt.Errorf("%w: %s", ErrStoryNotFound, story.ID)
			}
		}
		return saveSegments(tx, story)
	})
}

func (s *GormStore) List(ctx context.Context) ([]Story, error) {
	var stories []Story
	err := s.db.WithContext(ctx).
		Preload("Segments", orderSegments).
		Order("created_at DESC").
		Find(&stories).Error
	if err != nil {
		return nil, fmt.Errorf("list stories: %w", err)
	}
	return stories, nil
}

func (s *GormStore) ListByStages(ctx context.Context, stages ...Stage) ([]Story, error) {
	if len(stages) == 0 {
		return nil, nil
	}
	var stories []Story
	err := s.db.WithContext(ctx).
		Preload("Segments", orderSegments).
		Where("stage IN ?", stages).
		Order("created_at ASC").
		Find(&stories).Error
	if err != nil {
		return nil, fmt.Errorf("list stories by stage: %w", err)
	}
	return stories, nil
}

func (s *GormStore) Delete(ctx context.Context, id string) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("story_id = ?", id).Delete(&Segment{}).Error; err != nil {
			return fmt.Errorf("delete segments of %s: %w", id, err)
		}
		res := tx.Where("id = ?", id).Delete(&Story{})
		if res.Error != nil {
			return fmt.Errorf("delete story %s: %w", id, res.Error)
		}
		if res.RowsAffected == 0 {
			return fmt.Errorf("%w: %s", ErrStoryNotFound, id)
		}
		return nil
	})
}

func saveSegments(tx *gorm.DB, story *Story) error {
	if len(story.Segments) == 0 {
		return nil
	}
	for i := range story.Segments {
		story.Segments[i].StoryID = story.ID
	}
	err := tx.Clauses(clause.OnConflict{UpdateAll: true}).Create(&story.Segments).Error
	if err != nil {
		return fmt.Errorf("save segments of %s: %w", story.ID, err)
	}
	return nil
}

func orderSegments(db *gorm.DB) *gorm.DB {
	return db.Order("id ASC")
}
