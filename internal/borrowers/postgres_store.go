package borrowers

import (
	"context"
	"fmt"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// BorrowerRecord is the durable row for one (reserve, address) membership.
type BorrowerRecord struct {
	ID      uint   `gorm:"primaryKey;autoIncrement"`
	Reserve string `gorm:"index:idx_reserve_address,unique;not null"`
	Address string `gorm:"index:idx_reserve_address,unique;not null"`
}

func (BorrowerRecord) TableName() string { return "borrowers" }

// PostgresStore implements Store on top of GORM + Postgres, the durable
// tier analogous to the teacher's MySQLRecorder.
type PostgresStore struct {
	db *gorm.DB
}

// NewPostgresStore opens dsn and auto-migrates the borrowers table.
func NewPostgresStore(dsn string) (*PostgresStore, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("postgres: connect failed: %w", err)
	}

	if err := db.AutoMigrate(&BorrowerRecord{}); err != nil {
		return nil, fmt.Errorf("postgres: migrate failed: %w", err)
	}

	return &PostgresStore{db: db}, nil
}

// NewPostgresStoreWithDB wraps an already-open *gorm.DB (used by tests with
// go-sqlmock, mirroring the teacher's NewMySQLRecorderWithDB).
func NewPostgresStoreWithDB(db *gorm.DB) (*PostgresStore, error) {
	if err := db.AutoMigrate(&BorrowerRecord{}); err != nil {
		return nil, fmt.Errorf("postgres: migrate failed: %w", err)
	}
	return &PostgresStore{db: db}, nil
}

func (s *PostgresStore) AddBorrower(ctx context.Context, reserve, address string) error {
	record := BorrowerRecord{Reserve: reserve, Address: address}
	result := s.db.WithContext(ctx).
		Where(BorrowerRecord{Reserve: reserve, Address: address}).
		FirstOrCreate(&record)
	if result.Error != nil {
		return fmt.Errorf("postgres: add borrower failed: %w", result.Error)
	}
	return nil
}

func (s *PostgresStore) Borrowers(ctx context.Context, reserve string) ([]string, error) {
	var records []BorrowerRecord
	result := s.db.WithContext(ctx).Where("reserve = ?", reserve).Find(&records)
	if result.Error != nil {
		return nil, fmt.Errorf("postgres: query borrowers failed: %w", result.Error)
	}

	out := make([]string, 0, len(records))
	for _, r := range records {
		out = append(out, r.Address)
	}
	return out, nil
}

func (s *PostgresStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return fmt.Errorf("postgres: get underlying db failed: %w", err)
	}
	return sqlDB.Close()
}
