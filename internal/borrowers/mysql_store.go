package borrowers

import (
	"context"
	"fmt"

	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// MySQLStore implements Store on top of GORM + MySQL, a second supported
// durable dialect alongside PostgresStore — the teacher's MySQLRecorder
// itself targeted MySQL, and its dsn-string constructor shape carries over
// unchanged to a different driver.
type MySQLStore struct {
	db *gorm.DB
}

// NewMySQLStore opens dsn and auto-migrates the borrowers table.
func NewMySQLStore(dsn string) (*MySQLStore, error) {
	db, err := gorm.Open(mysql.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("mysql: connect failed: %w", err)
	}

	if err := db.AutoMigrate(&BorrowerRecord{}); err != nil {
		return nil, fmt.Errorf("mysql: migrate failed: %w", err)
	}

	return &MySQLStore{db: db}, nil
}

// NewMySQLStoreWithDB wraps an already-open *gorm.DB, mirroring
// NewPostgresStoreWithDB for go-sqlmock-backed tests.
func NewMySQLStoreWithDB(db *gorm.DB) (*MySQLStore, error) {
	if err := db.AutoMigrate(&BorrowerRecord{}); err != nil {
		return nil, fmt.Errorf("mysql: migrate failed: %w", err)
	}
	return &MySQLStore{db: db}, nil
}

func (s *MySQLStore) AddBorrower(ctx context.Context, reserve, address string) error {
	record := BorrowerRecord{Reserve: reserve, Address: address}
	result := s.db.WithContext(ctx).
		Where(BorrowerRecord{Reserve: reserve, Address: address}).
		FirstOrCreate(&record)
	if result.Error != nil {
		return fmt.Errorf("mysql: add borrower failed: %w", result.Error)
	}
	return nil
}

func (s *MySQLStore) Borrowers(ctx context.Context, reserve string) ([]string, error) {
	var records []BorrowerRecord
	result := s.db.WithContext(ctx).Where("reserve = ?", reserve).Find(&records)
	if result.Error != nil {
		return nil, fmt.Errorf("mysql: query borrowers failed: %w", result.Error)
	}

	out := make([]string, 0, len(records))
	for _, r := range records {
		out = append(out, r.Address)
	}
	return out, nil
}

func (s *MySQLStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return fmt.Errorf("mysql: get underlying db failed: %w", err)
	}
	return sqlDB.Close()
}
