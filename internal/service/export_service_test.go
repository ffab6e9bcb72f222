package service

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/noah-isme/lesson-plan-api/internal/dto"
	appErrors "github.com/noah-isme/lesson-plan-api/pkg/errors"
)

func newExportFixture() *ExportService {
	counter := &planCounterStub{counts: sampleCounts()}
	dashboard := NewDashboardService(counter, nil, time.Minute, nil)
	return NewExportService(dashboard, nil)
}

func TestExportDashboardCSV(t *testing.T) {
	svc := newExportFixture()

	file, err := svc.Dashboard(context.Background(), dto.DashboardQuery{}, "csv", coordinatorClaims())
	require.NoError(t, err)
	require.Equal(t, "text/csv", file.MimeType)
	require.True(t, strings.HasSuffix(file.Filename, ".csv"))

	body := string(file.Content)
	require.Contains(t, body, "status,count,share")
	require.Contains(t, body, "APPROVED,5")
	require.Contains(t, body, "TOTAL,15,100%")
}

func TestExportDashboardPDF(t *testing.T) {
	svc := newExportFixture()

	file, err := svc.Dashboard(context.Background(), dto.DashboardQuery{}, "pdf", coordinatorClaims())
	require.NoError(t, err)
	require.Equal(t, "application/pdf", file.MimeType)
	require.True(t, strings.HasPrefix(string(file.Content), "%PDF"))
}

func TestExportDashboardDefaultsToCSV(t *testing.T) {
	svc := newExportFixture()

	file, err := svc.Dashboard(context.Background(), dto.DashboardQuery{}, "", coordinatorClaims())
	require.NoError(t, err)
	require.Equal(t, "text/csv", file.MimeType)
}

func TestExportDashboardUnknownFormat(t *testing.T) {
	svc := newExportFixture()

	_, err := svc.Dashboard(context.Background(), dto.DashboardQuery{}, "xlsx", coordinatorClaims())
	require.Error(t, err)
	require.Equal(t, appErrors.ErrValidation.Code, appErrors.FromError(err).Code)
}
