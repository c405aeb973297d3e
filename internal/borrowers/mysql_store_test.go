package borrowers

import (
	"context"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
)

func TestMySQLStoreAddBorrower(t *testing.T) {
	sqlDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer sqlDB.Close()

	gormDB, err := gorm.Open(mysql.New(mysql.Config{
		Conn:                      sqlDB,
		SkipInitializeWithVersion: true,
	}), &gorm.Config{})
	require.NoError(t, err)

	mock.ExpectQuery(`SELECT \* FROM .borrowers.`).
		WillReturnError(gorm.ErrRecordNotFound)
	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO .borrowers.`).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	store := &MySQLStore{db: gormDB}
	err = store.AddBorrower(context.Background(), "0xusdc", "0xalice")
	require.NoError(t, err)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestMySQLStoreBorrowers(t *testing.T) {
	sqlDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer sqlDB.Close()

	gormDB, err := gorm.Open(mysql.New(mysql.Config{
		Conn:                      sqlDB,
		SkipInitializeWithVersion: true,
	}), &gorm.Config{})
	require.NoError(t, err)

	rows := sqlmock.NewRows([]string{"id", "reserve", "address"}).
		AddRow(1, "0xusdc", "0xalice").
		AddRow(2, "0xusdc", "0xbob")
	mock.ExpectQuery(`SELECT \* FROM .borrowers. WHERE reserve`).WillReturnRows(rows)

	store := &MySQLStore{db: gormDB}
	addrs, err := store.Borrowers(context.Background(), "0xusdc")
	require.NoError(t, err)
	require.ElementsMatch(t, []string{"0xalice", "0xbob"}, addrs)

	require.NoError(t, mock.ExpectationsWereMet())
}
