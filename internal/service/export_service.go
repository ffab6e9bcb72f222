package service

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/noah-isme/lesson-plan-api/internal/dto"
	"github.com/noah-isme/lesson-plan-api/internal/models"
	appErrors "github.com/noah-isme/lesson-plan-api/pkg/errors"
	"github.com/noah-isme/lesson-plan-api/pkg/export"
)

type dashboardOverviewer interface {
	Overview(ctx context.Context, query dto.DashboardQuery, actor *models.JWTClaims) (*dto.PlanDashboardResponse, bool, error)
}

// ExportFile is a rendered dashboard export ready for streaming.
type ExportFile struct {
	Filename string
	MimeType string
	Content  []byte
}

// ExportService renders dashboard projections as downloadable CSV or
// PDF files for coordinators reporting outside the system.
type ExportService struct {
	dashboard dashboardOverviewer
	csv       *export.CSVExporter
	pdf       *export.PDFExporter
	logger    *zap.Logger
}

// NewExportService constructs the service.
func NewExportService(dashboard dashboardOverviewer, logger *zap.Logger) *ExportService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ExportService{
		dashboard: dashboard,
		csv:       export.NewCSVExporter(),
		pdf:       export.NewPDFExporter(),
		logger:    logger,
	}
}

// Dashboard renders the scoped status distribution in the requested
// format, "csv" or "pdf".
func (s *ExportService) Dashboard(ctx context.Context, query dto.DashboardQuery, format string, actor *models.JWTClaims) (*ExportFile, error) {
	overview, _, err := s.dashboard.Overview(ctx, query, actor)
	if err != nil {
		return nil, err
	}

	dataset := buildDataset(overview)
	stamp := overview.GeneratedAt.Format("20060102_150405")

	switch strings.ToLower(format) {
	case "csv", "":
		content, err := s.csv.Render(dataset)
		if err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to render csv")
		}
		return &ExportFile{
			Filename: fmt.Sprintf("plan_dashboard_%s.csv", stamp),
			MimeType: "text/csv",
			Content:  content,
		}, nil
	case "pdf":
		content, err := s.pdf.Render(dataset, "Lesson Plan Review Dashboard")
		if err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to render pdf")
		}
		return &ExportFile{
			Filename: fmt.Sprintf("plan_dashboard_%s.pdf", stamp),
			MimeType: "application/pdf",
			Content:  content,
		}, nil
	default:
		return nil, appErrors.Clone(appErrors.ErrValidation, "unsupported export format, use csv or pdf")
	}
}

func buildDataset(overview *dto.PlanDashboardResponse) export.Dataset {
	rows := make([]map[string]string, 0, len(overview.ByStatus)+1)
	for _, bucket := range overview.ByStatus {
		rows = append(rows, map[string]string{
			"status": string(bucket.Status),
			"count":  strconv.Itoa(bucket.Count),
			"share":  share(bucket.Count, overview.Total),
		})
	}
	rows = append(rows, map[string]string{
		"status": "TOTAL",
		"count":  strconv.Itoa(overview.Total),
		"share":  "100%",
	})
	return export.Dataset{
		Headers: []string{"status", "count", "share"},
		Rows:    rows,
	}
}

func share(count, total int) string {
	if total == 0 {
		return "0%"
	}
	return fmt.Sprintf("%.1f%%", float64(count)*100/float64(total))
}
