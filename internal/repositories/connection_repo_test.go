package repositories

import (
	"context"
	"testing"
	"time"

	"shulpad/internal/models"

	"github.com/google/uuid"
	pgxmock "github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/suite"
)

type ConnectionRepoTestSuite struct {
	suite.Suite
	mock       pgxmock.PgxPoolIface
	repo       ConnectionRepository
	merchantID string
	context    context.Context
}

func (suite *ConnectionRepoTestSuite) SetupTest() {
	mock, err := pgxmock.NewPool()
	assert.NoError(suite.T(), err)
	suite.mock = mock

	suite.repo = NewConnectionRepository(mock)
	suite.merchantID = "MERCHANT_1"
	suite.context = context.Background()
}

func (suite *ConnectionRepoTestSuite) TearDownTest() {
	suite.mock.Close()
}

func TestConnectionRepoTestSuite(t *testing.T) {
	suite.Run(t, new(ConnectionRepoTestSuite))
}

func (suite *ConnectionRepoTestSuite) TestGetByMerchantID_Success() {
	id := uuid.New()
	locationID := "LOC1"
	expiresAt := time.Now().Add(24 * time.Hour)
	createdAt := time.Now().Add(-48 * time.Hour)

	rows := pgxmock.NewRows([]string{"id", "merchant_id", "location_id", "access_token", "refresh_token", "expires_at", "is_active", "created_at", "updated_at"}).
		AddRow(id, suite.merchantID, &locationID, "access-token", "refresh-token", &expiresAt, true, createdAt, createdAt)

	suite.mock.ExpectQuery(`(?s)SELECT .*\s+FROM square_connections\s+WHERE merchant_id = \$1 AND is_active = true`).
		WithArgs(suite.merchantID).
		WillReturnRows(rows)

	conn, err := suite.repo.GetByMerchantID(suite.context, suite.merchantID)
	assert.NoError(suite.T(), err)
	assert.Equal(suite.T(), id, conn.ID)
	assert.Equal(suite.T(), "access-token", conn.AccessToken)
	assert.Equal(suite.T(), "LOC1", *conn.LocationID)
}

func (suite *ConnectionRepoTestSuite) TestGetByMerchantID_NotFound() {
	suite.mock.ExpectQuery(`(?s)SELECT .*\s+FROM square_connections\s+WHERE merchant_id = \$1 AND is_active = true`).
		WithArgs("UNKNOWN").
		WillReturnRows(pgxmock.NewRows([]string{"id", "merchant_id", "location_id", "access_token", "refresh_token", "expires_at", "is_active", "created_at", "updated_at"}))

	conn, err := suite.repo.GetByMerchantID(suite.context, "UNKNOWN")
	assert.ErrorIs(suite.T(), err, ErrNotFound)
	assert.Nil(suite.T(), conn)
}

func (suite *ConnectionRepoTestSuite) TestUpsert_Success() {
	locationID := "LOC1"
	expiresAt := time.Now().Add(30 * 24 * time.Hour)
	conn := &models.SquareConnection{
		ID:           uuid.New(),
		MerchantID:   suite.merchantID,
		LocationID:   &locationID,
		AccessToken:  "access-token",
		RefreshToken: "refresh-token",
		ExpiresAt:    &expiresAt,
	}

	suite.mock.ExpectExec(`(?s)INSERT INTO square_connections .*ON CONFLICT \(merchant_id\) DO UPDATE SET`).
		WithArgs(conn.ID, conn.MerchantID, conn.LocationID, conn.AccessToken, conn.RefreshToken, conn.ExpiresAt).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	err := suite.repo.Upsert(suite.context, conn)
	assert.NoError(suite.T(), err)
}

func (suite *ConnectionRepoTestSuite) TestUpdateTokens_NotFound() {
	suite.mock.ExpectExec(`(?s)UPDATE square_connections\s+SET access_token = \$1, refresh_token = \$2, expires_at = \$3, updated_at = NOW\(\)\s+WHERE merchant_id = \$4`).
		WithArgs("new-access", "new-refresh", pgxmock.AnyArg(), "UNKNOWN").
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	err := suite.repo.UpdateTokens(suite.context, "UNKNOWN", "new-access", "new-refresh", time.Now())
	assert.ErrorIs(suite.T(), err, ErrNotFound)
}

func (suite *ConnectionRepoTestSuite) TestDeactivate_Success() {
	suite.mock.ExpectExec(`(?s)UPDATE square_connections\s+SET is_active = false, updated_at = NOW\(\)\s+WHERE merchant_id = \$1`).
		WithArgs(suite.merchantID).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	err := suite.repo.Deactivate(suite.context, suite.merchantID)
	assert.NoError(suite.T(), err)
}

func (suite *ConnectionRepoTestSuite) TestListExpiringBefore_Success() {
	cutoff := time.Now().Add(24 * time.Hour)
	expiresAt := time.Now().Add(12 * time.Hour)
	createdAt := time.Now().Add(-10 * 24 * time.Hour)

	rows := pgxmock.NewRows([]string{"id", "merchant_id", "location_id", "access_token", "refresh_token", "expires_at", "is_active", "created_at", "updated_at"}).
		AddRow(uuid.New(), "M1", (*string)(nil), "a1", "r1", &expiresAt, true, createdAt, createdAt).
		AddRow(uuid.New(), "M2", (*string)(nil), "a2", "r2", &expiresAt, true, createdAt, createdAt)

	suite.mock.ExpectQuery(`(?s)SELECT .*\s+FROM square_connections\s+WHERE is_active = true AND expires_at IS NOT NULL AND expires_at < \$1`).
		WithArgs(cutoff).
		WillReturnRows(rows)

	conns, err := suite.repo.ListExpiringBefore(suite.context, cutoff)
	assert.NoError(suite.T(), err)
	assert.Len(suite.T(), conns, 2)
	assert.Equal(suite.T(), "M2", conns[1].MerchantID)
}
