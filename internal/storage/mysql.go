package storage

import (
	"context"
	"fmt"
	"time"
	"unicode/utf8"

	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"

	"github.com/angeloszaimis/site-monitor/internal/outcome"
	"github.com/angeloszaimis/site-monitor/internal/site"
)

const maxMessageLength = 1024

// MySQLConfig locates the MySQL database. DSN wins over the discrete fields.
type MySQLConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	Database string
	DSN      string
}

func (c MySQLConfig) dsn() string {
	if c.DSN != "" {
		return c.DSN
	}
	return fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?charset=utf8mb4&parseTime=True&loc=UTC",
		c.User, c.Password, c.Host, c.Port, c.Database)
}

type siteRow struct {
	ID              uint      `gorm:"primaryKey"`
	SiteName        string    `gorm:"column:site_name;size:64;uniqueIndex"`
	SiteURL         string    `gorm:"column:site_url;size:255"`
	SearchToken     string    `gorm:"column:search_token;size:255"`
	MaxResponseTime float64   `gorm:"column:max_response_time"`
	Active          bool      `gorm:"column:active"`
	UpdatedAt       time.Time `gorm:"column:updated_at"`
}

func (siteRow) TableName() string { return "monitor_sites" }

type sampleRow struct {
	ID           uint      `gorm:"primaryKey"`
	SampleID     string    `gorm:"column:sample_id;size:36;uniqueIndex"`
	SiteName     string    `gorm:"column:site_name;size:64;index:site_time_ndx,priority:1"`
	SampleType   string    `gorm:"column:sample_type;size:16;default:sample"`
	SampleTime   time.Time `gorm:"column:sample_time;index:site_time_ndx,priority:2"`
	ResponseTime int64     `gorm:"column:response_time"`
	StatusCode   int       `gorm:"column:status_code"`
	ErrorCode    string    `gorm:"column:error_code;size:16;default:OK"`
	ErrorMessage string    `gorm:"column:error_message;size:1024"`
	Outcome      string    `gorm:"column:outcome;size:32"`
}

func (sampleRow) TableName() string { return "monitor_samples" }

func newSiteRow(cfg site.Config, now time.Time) siteRow {
	return siteRow{
		SiteName:        cfg.Name,
		SiteURL:         cfg.URL,
		SearchToken:     cfg.ExpectedToken,
		MaxResponseTime: cfg.AlertLoadTime.Seconds(),
		Active:          cfg.Active,
		UpdatedAt:       now,
	}
}

func newSampleRow(s outcome.Sample) sampleRow {
	return sampleRow{
		SampleID:     s.ID,
		SiteName:     s.Site,
		SampleType:   "sample",
		SampleTime:   s.Timestamp.UTC(),
		ResponseTime: s.Elapsed.Milliseconds(),
		StatusCode:   s.StatusCode,
		ErrorCode:    s.Kind.ErrorCode(),
		ErrorMessage: truncate(s.Message, maxMessageLength),
		Outcome:      string(s.Kind),
	}
}

func (r sampleRow) sample() outcome.Sample {
	return outcome.Sample{
		ID:         r.SampleID,
		Site:       r.SiteName,
		Timestamp:  r.SampleTime,
		Elapsed:    time.Duration(r.ResponseTime) * time.Millisecond,
		StatusCode: r.StatusCode,
		Kind:       outcome.Kind(r.Outcome),
		Message:    r.ErrorMessage,
	}
}

// MySQLSink stores samples in the monitor_samples table.
type MySQLSink struct {
	db *gorm.DB
}

// OpenMySQL connects, tunes the pool and migrates both tables.
func OpenMySQL(ctx context.Context, cfg MySQLConfig) (*MySQLSink, error) {
	db, err := gorm.Open(mysql.Open(cfg.dsn()), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("open mysql: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("mysql pool: %w", err)
	}
	sqlDB.SetConnMaxLifetime(time.Hour)
	sqlDB.SetMaxIdleConns(2)
	sqlDB.SetMaxOpenConns(5)

	if err := db.WithContext(ctx).AutoMigrate(&siteRow{}, &sampleRow{}); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("migrate mysql: %w", err)
	}

	return NewMySQLSink(db), nil
}

// NewMySQLSink wraps an already migrated connection.
func NewMySQLSink(db *gorm.DB) *MySQLSink {
	return &MySQLSink{db: db}
}

func (m *MySQLSink) Name() string { return "mysql" }

func (m *MySQLSink) Append(ctx context.Context, sample outcome.Sample) error {
	row := newSampleRow(sample)
	return m.db.WithContext(ctx).Create(&row).Error
}

func (m *MySQLSink) RecordSites(ctx context.Context, sites []site.Config) error {
	if len(sites) == 0 {
		return nil
	}

	now := time.Now().UTC()
	rows := make([]siteRow, 0, len(sites))
	for _, cfg := range sites {
		rows = append(rows, newSiteRow(cfg, now))
	}

	return m.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "site_name"}},
		DoUpdates: clause.AssignmentColumns([]string{"site_url", "search_token", "max_response_time", "active", "updated_at"}),
	}).Create(&rows).Error
}

func (m *MySQLSink) Recent(ctx context.Context, siteName string, limit int) ([]outcome.Sample, error) {
	var rows []sampleRow
	err := m.db.WithContext(ctx).
		Where("site_name = ?", siteName).
		Order("sample_time DESC").
		Limit(limit).
		Find(&rows).Error
	if err != nil {
		return nil, err
	}

	samples := make([]outcome.Sample, 0, len(rows))
	for _, r := range rows {
		samples = append(samples, r.sample())
	}
	return samples, nil
}

func (m *MySQLSink) Close() error {
	sqlDB, err := m.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// truncate cuts s to at most n bytes without splitting a UTF-8 sequence.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}
