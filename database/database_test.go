package database

import (
	"database/sql"
	"testing"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/jknair0/beforeeach"
)

var (
	db   *sql.DB
	mock sqlmock.Sqlmock
	d    *Database
)

func setUp() {
	db, mock, _ = sqlmock.New()
	d = &Database{db: db}
}

func tearDown() {
	db.Close()
}

var it = beforeeach.Create(setUp, tearDown)

func TestPlaceholders(t *testing.T) {
	testCases := []struct {
		n    int
		want string
	}{
		{1, "?"},
		{2, "?, ?"},
		{4, "?, ?, ?, ?"},
	}
	for _, testCase := range testCases {
		if got := placeholders(testCase.n); got != testCase.want {
			t.Errorf("placeholders(%d): expected %q, got %q", testCase.n, testCase.want, got)
		}
	}
}
