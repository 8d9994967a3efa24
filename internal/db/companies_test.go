package db

import (
	"context"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUpsertCompanyKeepsStoredIDOnDomainConflict(t *testing.T) {
	db, mock := newMockDB(t)

	company := &Company{
		ID:     "co-fresh-uuid",
		Name:   "Acme",
		Domain: "acme.com",
		Status: string(CompanyStatusNew),
	}

	// The domain already exists: Postgres resolves the conflict and returns
	// the stored row's ID, not the one we generated.
	mock.ExpectQuery(`INSERT INTO companies`).
		WithArgs(company.ID, company.Name, company.Domain, company.Status).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow("co-existing"))

	err := db.UpsertCompany(context.Background(), company)
	require.NoError(t, err)
	assert.Equal(t, "co-existing", company.ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUpsertCompanyInsertsNewRow(t *testing.T) {
	db, mock := newMockDB(t)

	company := &Company{
		ID:     "co-1",
		Name:   "Initech",
		Domain: "initech.example",
		Status: string(CompanyStatusNew),
	}

	mock.ExpectQuery(`INSERT INTO companies`).
		WithArgs(company.ID, company.Name, company.Domain, company.Status).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow("co-1"))

	err := db.UpsertCompany(context.Background(), company)
	require.NoError(t, err)
	assert.Equal(t, "co-1", company.ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdateCompanyStatusMissingCompany(t *testing.T) {
	db, mock := newMockDB(t)

	mock.ExpectExec(`UPDATE companies`).
		WithArgs("qualified", "missing").
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := db.UpdateCompanyStatus(context.Background(), "missing", "qualified")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "company not found")
}
