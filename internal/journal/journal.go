// Package journal records completed and failed transfers in a SQLite
// database so the command line tools can show a transfer history.
package journal

import (
	"database/sql"
	"fmt"
	"log"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
	_ "modernc.org/sqlite"
)

// Transfer is one journal row.
type Transfer struct {
	ID        uint   `gorm:"primarykey"`
	Direction string `gorm:"index;size:8"`
	Protocol  string `gorm:"size:8"`
	Variant   string `gorm:"size:16"`
	Filename  string `gorm:"index;size:255"`
	Bytes     int64
	Blocks    int
	Duration  time.Duration
	Outcome   string `gorm:"size:16"`
	Error     string `gorm:"size:512"`
	CreatedAt time.Time
}

// TableName specifies the table name for GORM
func (Transfer) TableName() string {
	return "transfers"
}

// Outcomes
const (
	OutcomeDone     = "done"
	OutcomeAborted  = "aborted"
	OutcomeTimedOut = "timed_out"
	OutcomeFailed   = "failed"
)

func (t Transfer) String() string {
	name := t.Filename
	if name == "" {
		name = "-"
	}
	s := fmt.Sprintf("%s %-7s %-6s %-8s %s %d bytes, %d blocks, %v: %s",
		t.CreatedAt.Format("2006-01-02 15:04:05"), t.Direction, t.Protocol, t.Variant,
		name, t.Bytes, t.Blocks, t.Duration.Round(time.Millisecond), t.Outcome)
	if t.Error != "" {
		s += " (" + t.Error + ")"
	}
	return s
}

// Config holds database configuration
type Config struct {
	Path string // Path to SQLite database file
}

// Journal wraps the GORM database instance
type Journal struct {
	db *gorm.DB
}

// Open creates or opens the journal with the pure Go SQLite driver.
func Open(config Config, log *log.Logger) (*Journal, error) {
	var gormLog logger.Interface
	if log != nil {
		gormLog = logger.New(
			log,
			logger.Config{
				LogLevel:                  logger.Warn,
				IgnoreRecordNotFoundError: true,
				Colorful:                  false,
			},
		)
	} else {
		gormLog = logger.Default.LogMode(logger.Silent)
	}

	dialector := sqlite.Dialector{
		DriverName: "sqlite",
		DSN:        config.Path,
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: gormLog,
	})
	if err != nil {
		return nil, fmt.Errorf("open journal %s: %w", config.Path, err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	if err := configureSQLite(sqlDB); err != nil {
		sqlDB.Close()
		return nil, err
	}

	if err := db.AutoMigrate(&Transfer{}); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("migrate journal: %w", err)
	}

	return &Journal{db: db}, nil
}

func configureSQLite(sqlDB *sql.DB) error {
	pragmaSettings := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA busy_timeout=5000",
	}

	for _, pragma := range pragmaSettings {
		if _, err := sqlDB.Exec(pragma); err != nil {
			return err
		}
	}

	return nil
}

// Record stores t. CreatedAt defaults to now.
func (j *Journal) Record(t *Transfer) error {
	if t == nil {
		return fmt.Errorf("transfer cannot be nil")
	}
	if t.Outcome == "" {
		return fmt.Errorf("transfer outcome is required")
	}
	return j.db.Create(t).Error
}

// Recent returns up to limit transfers, newest first.
func (j *Journal) Recent(limit int) ([]Transfer, error) {
	var out []Transfer
	q := j.db.Order("created_at desc, id desc")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

// Count returns the number of transfers with the given outcome, or of all
// transfers when outcome is empty.
func (j *Journal) Count(outcome string) (int64, error) {
	var n int64
	q := j.db.Model(&Transfer{})
	if outcome != "" {
		q = q.Where("outcome = ?", outcome)
	}
	err := q.Count(&n).Error
	return n, err
}

// Close closes the database connection
func (j *Journal) Close() error {
	sqlDB, err := j.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
