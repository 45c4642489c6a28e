package data

import (
	"context"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/orderguard/orderguard/internal/domain/model"
)

var customerColumnNames = []string{
	"id", "tenant_id", "email_normalized", "phone_normalized", "address_key", "name_key", "created_at",
}

func TestCustomerRepo_FindCandidates(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	repo := NewCustomerRepo(db, NewFixedTimeProvider(testNow))
	ctx := context.Background()

	keys := model.MatchKeys{Email: "jane@example.com", Phone: "+14155550100"}
	mock.ExpectQuery("FROM customers").
		WithArgs("tenant-a", "jane@example.com", "+14155550100", "", "", 25).
		WillReturnRows(sqlmock.NewRows(customerColumnNames).
			AddRow("c-1", "tenant-a", "jane@example.com", "", "", "", testNow).
			AddRow("c-2", "tenant-a", "", "+14155550100", "", "doe jane", testNow))

	got, err := repo.FindCandidates(ctx, "tenant-a", keys, 25)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "c-1", got[0].ID)
	assert.Equal(t, "doe jane", got[1].NameKey)

	empty, err := repo.FindCandidates(ctx, "tenant-a", model.MatchKeys{}, 25)
	require.NoError(t, err)
	assert.Nil(t, empty, "no keys, no query")

	_, err = repo.FindCandidates(ctx, "", keys, 25)
	require.ErrorIs(t, err, ErrTenantIDRequired)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCustomerRepo_Upsert(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	repo := NewCustomerRepo(db, NewFixedTimeProvider(testNow))

	mock.ExpectQuery("INSERT INTO customers").
		WithArgs("c-9", "tenant-a", "x@example.com", "", "1 main st|94105|US", "", testNow).
		WillReturnRows(sqlmock.NewRows(customerColumnNames).
			AddRow("c-9", "tenant-a", "x@example.com", "", "1 main st|94105|US", "", testNow))

	out, err := repo.Upsert(context.Background(), &model.CustomerRecord{
		ID: "c-9", TenantID: "tenant-a", Email: "x@example.com", AddressKey: "1 main st|94105|US",
	})
	require.NoError(t, err)
	assert.Equal(t, "c-9", out.ID)
	require.NoError(t, mock.ExpectationsWereMet())

	_, err = repo.Upsert(context.Background(), &model.CustomerRecord{TenantID: "tenant-a"})
	require.ErrorIs(t, err, ErrCustomerIDRequired)
}
