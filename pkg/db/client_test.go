package db

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/learnloop/coursemarket-backend/pkg/config"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

type testModel struct {
	ID   int
	Name string `gorm:"uniqueIndex"`
}

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	conn, err := gorm.Open(sqlite.Open("file::memory:"), &gorm.Config{Logger: newQueryLogger(nil)})
	if err != nil {
		t.Fatalf("failed to open sqlite: %v", err)
	}
	sqlDB, err := conn.DB()
	if err != nil {
		t.Fatalf("sql handle: %v", err)
	}
	// every pooled connection to :memory: is a separate database
	sqlDB.SetMaxOpenConns(1)
	if err := conn.AutoMigrate(&testModel{}); err != nil {
		t.Fatalf("failed to migrate sqlite: %v", err)
	}
	return conn
}

func TestWithTx_CommitsAndRollbacks(t *testing.T) {
	db := newTestDB(t)
	client := FromConn(db)

	ctx := context.Background()
	if err := client.WithTx(ctx, func(tx *gorm.DB) error {
		return tx.Create(&testModel{Name: "committed"}).Error
	}); err != nil {
		t.Fatalf("WithTx commit failed: %v", err)
	}

	var count int64
	if err := db.Model(&testModel{}).Count(&count).Error; err != nil {
		t.Fatalf("count failed: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected 1 record, got %d", count)
	}

	err := client.WithTx(ctx, func(tx *gorm.DB) error {
		if err := tx.Create(&testModel{Name: "rolled"}).Error; err != nil {
			return err
		}
		return errors.New("boom")
	})
	if err == nil {
		t.Fatal("expected WithTx to return an error")
	}
	if err := db.Model(&testModel{}).Count(&count).Error; err != nil {
		t.Fatalf("count failed after rollback: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected rollback to leave 1 record, got %d", count)
	}
}

func TestWithTxRerunsSerializationFailures(t *testing.T) {
	db := newTestDB(t)
	client := FromConn(db)

	attempts := 0
	err := client.WithTx(context.Background(), func(tx *gorm.DB) error {
		attempts++
		if err := tx.Create(&testModel{Name: fmt.Sprintf("try-%d", attempts)}).Error; err != nil {
			return err
		}
		if attempts == 1 {
			return &pgconn.PgError{Code: "40001"}
		}
		return nil
	})
	if err != nil {
		t.Fatalf("expected retried transaction to commit: %v", err)
	}
	if attempts != 2 {
		t.Fatalf("expected 2 attempts, got %d", attempts)
	}
	var names []string
	if err := db.Model(&testModel{}).Pluck("name", &names).Error; err != nil {
		t.Fatalf("pluck: %v", err)
	}
	if len(names) != 1 || names[0] != "try-2" {
		t.Fatalf("expected only the committed attempt to persist, got %v", names)
	}

	attempts = 0
	domainErr := errors.New("purchase not found")
	err = client.WithTx(context.Background(), func(*gorm.DB) error {
		attempts++
		return domainErr
	})
	if !errors.Is(err, domainErr) || attempts != 1 {
		t.Fatalf("domain errors must not be retried: err=%v attempts=%d", err, attempts)
	}
}

func TestIsRetryableTx(t *testing.T) {
	cases := map[string]bool{"40001": true, "40P01": true, "23505": false}
	for code, want := range cases {
		if got := IsRetryableTx(fmt.Errorf("wrapped: %w", &pgconn.PgError{Code: code})); got != want {
			t.Fatalf("IsRetryableTx(%s) = %v, want %v", code, got, want)
		}
	}
	if IsRetryableTx(errors.New("plain")) {
		t.Fatal("non-postgres errors are not retryable")
	}
}

func TestPing(t *testing.T) {
	client := FromConn(newTestDB(t))
	if err := client.Ping(context.Background()); err != nil {
		t.Fatalf("unexpected ping error: %v", err)
	}
}

func TestNewRejectsUnknownDriver(t *testing.T) {
	_, err := New(context.Background(), config.DBConfig{DSN: "x", Driver: "mysql"}, nil)
	if err == nil {
		t.Fatal("expected unsupported driver error")
	}
}

func TestIsUniqueViolation(t *testing.T) {
	db := newTestDB(t)
	if err := db.Create(&testModel{Name: "dup"}).Error; err != nil {
		t.Fatalf("seed failed: %v", err)
	}
	dupErr := db.Create(&testModel{Name: "dup"}).Error
	if !IsUniqueViolation(dupErr, "") {
		t.Fatalf("expected sqlite duplicate to be detected: %v", dupErr)
	}

	pgErr := &pgconn.PgError{Code: "23505", ConstraintName: "ux_purchases_open_pair"}
	if !IsUniqueViolation(pgErr, "ux_purchases_open_pair") {
		t.Fatal("expected matching constraint to be detected")
	}
	if IsUniqueViolation(pgErr, "other_constraint") {
		t.Fatal("expected mismatched constraint to be ignored")
	}
	if IsUniqueViolation(&pgconn.PgError{Code: "23503"}, "") {
		t.Fatal("foreign key violations are not unique violations")
	}
	if IsUniqueViolation(nil, "") {
		t.Fatal("nil is not a violation")
	}
}
