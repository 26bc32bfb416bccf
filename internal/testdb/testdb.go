// Package testdb opens throwaway in-process databases for tests.
package testdb

import (
	"testing"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"github.com/torxytonnickertrux/ticketchecker/models"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Open returns a migrated in-memory SQLite database private to the test.
// The pool holds a single connection, so concurrent transactions run one at a
// time. SQLite has no FOR UPDATE; the locking SQL is asserted against
// sqlmock in the repository and services packages.
func Open(t *testing.T) *gorm.DB {
	t.Helper()

	dsn := "file:" + uuid.NewString() + "?mode=memory&cache=shared"
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)

	require.NoError(t, db.AutoMigrate(models.AllModels()...))

	t.Cleanup(func() { _ = sqlDB.Close() })
	return db
}

// SeedTicket inserts an active ticket with the given capacity.
func SeedTicket(t *testing.T, db *gorm.DB, capacity int) *models.Ticket {
	t.Helper()
	ticket := &models.Ticket{
		Name:              "General admission",
		EventName:         "Test event",
		Price:             5000,
		Currency:          "BRL",
		Capacity:          capacity,
		CapacityRemaining: capacity,
		MaxPerBuyer:       models.DefaultMaxPerBuyer,
		IsActive:          true,
	}
	require.NoError(t, db.Create(ticket).Error)
	return ticket
}

// SeedPurchase inserts a pending purchase that does not hold any stock.
func SeedPurchase(t *testing.T, db *gorm.DB, ticket *models.Ticket, quantity int) *models.Purchase {
	t.Helper()
	purchase := &models.Purchase{
		TicketID:   ticket.ID,
		BuyerID:    "buyer-1",
		Quantity:   quantity,
		TotalPrice: ticket.Price * int64(quantity),
		Currency:   ticket.Currency,
		Status:     models.PurchaseStatusPending,
	}
	require.NoError(t, db.Create(purchase).Error)
	return purchase
}

// ReloadTicket reads the ticket's current row.
func ReloadTicket(t *testing.T, db *gorm.DB, id uuid.UUID) *models.Ticket {
	t.Helper()
	var ticket models.Ticket
	require.NoError(t, db.First(&ticket, "id = ?", id).Error)
	return &ticket
}

// ReloadPurchase reads the purchase's current row.
func ReloadPurchase(t *testing.T, db *gorm.DB, id uuid.UUID) *models.Purchase {
	t.Helper()
	var purchase models.Purchase
	require.NoError(t, db.First(&purchase, "id = ?", id).Error)
	return &purchase
}
