package services_test

import (
	"context"
	"net/http"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/torxytonnickertrux/ticketchecker/internal/testdb"
	"github.com/torxytonnickertrux/ticketchecker/models"
	"github.com/torxytonnickertrux/ticketchecker/repository"
	"github.com/torxytonnickertrux/ticketchecker/services"
	"go.uber.org/zap"
)

func TestTicketService_CreateAndGet(t *testing.T) {
	db := testdb.Open(t)
	svc := services.NewTicketService(repository.NewGormTicketRepository(db), zap.NewNop())
	inactive := false

	ticket, svcErr := svc.CreateTicket(context.Background(), &models.CreateTicketRequest{
		Name:      " VIP ",
		EventName: "Festival",
		Price:     15000,
		Currency:  "usd",
		Capacity:  50,
		IsActive:  &inactive,
	})
	require.Nil(t, svcErr)
	assert.Equal(t, "VIP", ticket.Name)
	assert.Equal(t, "USD", ticket.Currency)
	assert.Equal(t, 50, ticket.CapacityRemaining)
	assert.Equal(t, models.DefaultMaxPerBuyer, ticket.MaxPerBuyer)
	assert.False(t, ticket.IsActive)

	got, svcErr := svc.GetTicket(context.Background(), ticket.ID)
	require.Nil(t, svcErr)
	assert.Equal(t, ticket.ID, got.ID)
	assert.False(t, got.IsActive)

	_, svcErr = svc.GetTicket(context.Background(), uuid.New())
	require.NotNil(t, svcErr)
	assert.Equal(t, http.StatusNotFound, svcErr.StatusCode)
}

func TestTicketService_DefaultsToActiveBRL(t *testing.T) {
	db := testdb.Open(t)
	svc := services.NewTicketService(repository.NewGormTicketRepository(db), zap.NewNop())

	ticket, svcErr := svc.CreateTicket(context.Background(), &models.CreateTicketRequest{
		Name: "Pista", EventName: "Show", Price: 8000, Capacity: 10, MaxPerBuyer: 2,
	})
	require.Nil(t, svcErr)
	assert.Equal(t, "BRL", ticket.Currency)
	assert.True(t, ticket.IsActive)
	assert.Equal(t, 2, ticket.MaxPerBuyer)
}
