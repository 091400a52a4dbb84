package testutil

import (
	"context"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
	"go.uber.org/zap"

	"github.com/humangenomedb/hgd/pkg/config"
	"github.com/humangenomedb/hgd/pkg/sink"
	"github.com/humangenomedb/hgd/pkg/storage"
)

// IntegrationTestSuite wires a memory staging gateway and a sqlite sink
// for end-to-end refresh tests. Embedding suites set BaseURL in their own
// SetupSuite before calling this one when they serve fake sources.
type IntegrationTestSuite struct {
	suite.Suite

	BaseURL string
	Config  *config.Config
	Gateway *storage.Gateway
	DB      *sink.DB
	Logger  *zap.Logger

	ctx       context.Context
	cancel    context.CancelFunc
	startTime time.Time
}

// SetupSuite builds the configuration, gateway and sink.
func (s *IntegrationTestSuite) SetupSuite() {
	s.ctx, s.cancel = context.WithTimeout(context.Background(), 5*time.Minute)
	s.startTime = time.Now()

	s.Logger = TestLogger(s.T())
	s.Config = TestConfig(s.T(), s.BaseURL)
	s.Gateway = MemoryGateway(s.T(), s.Config.Storage)

	db, err := sink.Open(s.ctx, s.Config.Database, s.Logger)
	require.NoError(s.T(), err)
	s.DB = db
}

// TearDownSuite closes the sink.
func (s *IntegrationTestSuite) TearDownSuite() {
	if s.DB != nil {
		_ = s.DB.Close()
	}
	s.cancel()
	s.T().Logf("integration suite completed in %v", time.Since(s.startTime))
}

// Context returns the suite context.
func (s *IntegrationTestSuite) Context() context.Context {
	return s.ctx
}

// Count returns the number of rows in a sink table.
func (s *IntegrationTestSuite) Count(table string) int {
	session, err := s.DB.Session(s.ctx)
	require.NoError(s.T(), err)
	defer session.Close()

	n, err := session.Count(s.ctx, table)
	require.NoError(s.T(), err)
	return n
}
