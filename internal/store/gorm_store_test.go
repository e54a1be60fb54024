package store

import (
	"os"
	"testing"

	"github.com/stretchr/testify/require"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/alexsmy/bot-29-sub000/internal/model"
)

// TEST_DATABASE_DSN points at a disposable PostgreSQL database, e.g.
// "host=localhost user=postgres password=postgres dbname=signaling_test sslmode=disable".
func TestGormStore(t *testing.T) {
	dsn := os.Getenv("TEST_DATABASE_DSN")
	if dsn == "" {
		t.Skip("TEST_DATABASE_DSN not set")
	}
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Silent),
		TranslateError: true,
	})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&model.CallSession{}, &model.CallHistory{}, &model.Connection{}, &model.AdminTokenEntity{}))
	t.Cleanup(func() {
		db.Exec("TRUNCATE call_history, connections, admin_tokens, call_sessions CASCADE")
	})

	storeSuite(t, func(t *testing.T) Store { return NewGormStore(db) })
}
