// Package report writes every metric table to timestamped JSON files.
package report

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/schollz/progressbar/v3"

	"github.com/angelmondragon/engagement-metrics/internal/engagement"
	"github.com/angelmondragon/engagement-metrics/internal/engagement/query"
	"github.com/angelmondragon/engagement-metrics/internal/engagement/types"
	"github.com/angelmondragon/engagement-metrics/pkg/logger"
)

const (
	FamilyInteractions = "interactions"
	FamilySurveys      = "surveys"

	timestampLayout = "20060102_150405"
	manifestName    = "manifest.json"
	jsonContentType = "application/json"
)

// Uploader copies exported files to remote storage.
type Uploader interface {
	ObjectName(parts ...string) string
	Upload(ctx context.Context, object, contentType string, data []byte) error
}

// Table is one exported metric table.
type Table struct {
	Family string
	Name   string
	Rows   any
}

// Manifest describes one export run.
type Manifest struct {
	GeneratedAt time.Time                       `json:"generated_at"`
	Requests    map[string]types.MetricsRequest `json:"requests"`
	Advisories  map[string]types.Advisory       `json:"advisories"`
	Files       []string                        `json:"files"`
	Uploaded    []string                        `json:"uploaded,omitempty"`
}

// Params configure the exporter.
type Params struct {
	Service   engagement.Service
	OutputDir string
	Logger    *logger.Logger
	Progress  io.Writer
	Now       func() time.Time
	// Uploader is optional; when set every file is also uploaded.
	Uploader Uploader
}

// Exporter pulls each metric family through the engagement service and
// writes its tables to disk.
type Exporter struct {
	service   engagement.Service
	outputDir string
	logg      *logger.Logger
	progress  io.Writer
	now       func() time.Time
	uploader  Uploader
}

func NewExporter(params Params) (*Exporter, error) {
	if params.Service == nil {
		return nil, errors.New("engagement service is required")
	}
	if params.OutputDir == "" {
		return nil, errors.New("output directory is required")
	}
	if params.Logger == nil {
		return nil, errors.New("logger is required")
	}
	progress := params.Progress
	if progress == nil {
		progress = os.Stderr
	}
	now := params.Now
	if now == nil {
		now = time.Now
	}
	return &Exporter{
		service:   params.Service,
		outputDir: params.OutputDir,
		logg:      params.Logger,
		progress:  progress,
		now:       now,
		uploader:  params.Uploader,
	}, nil
}

// Run exports the requested families into a new timestamped directory and
// returns the manifest written alongside the tables.
func (e *Exporter) Run(ctx context.Context, req types.MetricsRequest, families ...string) (*Manifest, error) {
	if len(families) == 0 {
		families = []string{FamilyInteractions, FamilySurveys}
	}

	generatedAt := e.now().UTC()
	manifest := &Manifest{
		GeneratedAt: generatedAt,
		Requests:    map[string]types.MetricsRequest{},
		Advisories:  map[string]types.Advisory{},
	}

	var tables []Table
	for _, family := range families {
		familyTables, resolved, advisory, err := e.collect(ctx, family, req)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", family, err)
		}
		manifest.Requests[family] = resolved
		manifest.Advisories[family] = advisory
		tables = append(tables, familyTables...)
	}

	stamp := generatedAt.Format(timestampLayout)
	dir := filepath.Join(e.outputDir, stamp)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create report dir: %w", err)
	}

	bar := progressbar.NewOptions(len(tables),
		progressbar.OptionSetWriter(e.progress),
		progressbar.OptionSetDescription("exporting metric tables"),
		progressbar.OptionShowCount(),
		progressbar.OptionClearOnFinish(),
	)
	payloads := make(map[string][]byte, len(tables))
	for _, table := range tables {
		name := fmt.Sprintf("%s_%s.json", table.Family, table.Name)
		payload, err := writeJSON(filepath.Join(dir, name), table.Rows)
		if err != nil {
			return nil, err
		}
		payloads[name] = payload
		manifest.Files = append(manifest.Files, name)
		_ = bar.Add(1)
	}
	_ = bar.Finish()

	if e.uploader != nil {
		for _, name := range manifest.Files {
			object := e.uploader.ObjectName(stamp, name)
			if err := e.uploader.Upload(ctx, object, jsonContentType, payloads[name]); err != nil {
				return nil, fmt.Errorf("upload %s: %w", name, err)
			}
			manifest.Uploaded = append(manifest.Uploaded, object)
		}
	}

	manifestPayload, err := writeJSON(filepath.Join(dir, manifestName), manifest)
	if err != nil {
		return nil, err
	}
	if e.uploader != nil {
		object := e.uploader.ObjectName(stamp, manifestName)
		if err := e.uploader.Upload(ctx, object, jsonContentType, manifestPayload); err != nil {
			return nil, fmt.Errorf("upload %s: %w", manifestName, err)
		}
	}

	e.logg.Info(e.logg.WithFields(ctx, map[string]any{
		"dir":      dir,
		"tables":   len(tables),
		"uploaded": len(manifest.Uploaded),
	}), "metrics report exported")
	return manifest, nil
}

func (e *Exporter) collect(ctx context.Context, family string, req types.MetricsRequest) ([]Table, types.MetricsRequest, types.Advisory, error) {
	switch family {
	case FamilyInteractions:
		out, err := e.service.InteractionMetrics(ctx, req)
		if err != nil {
			return nil, req, types.Advisory{}, err
		}
		return InteractionTables(out), e.effectiveRange(query.DatasetInteractions, req, out.Advisory), out.Advisory, nil
	case FamilySurveys:
		out, err := e.service.SurveyMetrics(ctx, req)
		if err != nil {
			return nil, req, types.Advisory{}, err
		}
		return SurveyTables(out), e.effectiveRange(query.DatasetSurveys, req, out.Advisory), out.Advisory, nil
	}
	return nil, req, types.Advisory{}, fmt.Errorf("unknown metric family %q", family)
}

// effectiveRange mirrors the service's defaulting so the manifest records the
// months that were actually aggregated.
func (e *Exporter) effectiveRange(ds query.Dataset, req types.MetricsRequest, advisory types.Advisory) types.MetricsRequest {
	defaults := e.service.DefaultRange(ds)
	defaults.AccountID = strings.TrimSpace(req.AccountID)
	if advisory.RangeReset {
		return defaults
	}
	if start := strings.TrimSpace(req.StartMonth); start != "" {
		defaults.StartMonth = start
	}
	if end := strings.TrimSpace(req.EndMonth); end != "" {
		defaults.EndMonth = end
	}
	return defaults
}

// InteractionTables flattens the interaction family into named tables.
func InteractionTables(m *types.InteractionMetrics) []Table {
	return []Table{
		{Family: FamilyInteractions, Name: "active_makers", Rows: m.ActiveMakers},
		{Family: FamilyInteractions, Name: "engaged_time", Rows: m.EngagedTime},
		{Family: FamilyInteractions, Name: "engaged_time_by_arr", Rows: m.EngagedTimeByARR},
		{Family: FamilyInteractions, Name: "days_engaged", Rows: m.DaysEngaged},
		{Family: FamilyInteractions, Name: "days_engaged_by_arr", Rows: m.DaysEngagedByARR},
		{Family: FamilyInteractions, Name: "maker_share_by_arr", Rows: m.MakerShareByARR},
		{Family: FamilyInteractions, Name: "summary", Rows: m.Summary},
	}
}

// SurveyTables flattens the survey family into named tables.
func SurveyTables(m *types.SurveyMetrics) []Table {
	return []Table{
		{Family: FamilySurveys, Name: "surveys_per_month", Rows: m.SurveysPerMonth},
		{Family: FamilySurveys, Name: "surveys_by_arr", Rows: m.SurveysByARR},
		{Family: FamilySurveys, Name: "account_share_by_arr", Rows: m.AccountShareByARR},
		{Family: FamilySurveys, Name: "purchasers", Rows: m.Purchasers},
		{Family: FamilySurveys, Name: "days_between_by_arr", Rows: m.DaysBetweenByARR},
		{Family: FamilySurveys, Name: "maker_share_by_year", Rows: m.MakerShareByYear},
		{Family: FamilySurveys, Name: "account_share_by_year", Rows: m.AccountShareByYear},
		{Family: FamilySurveys, Name: "summary", Rows: m.Summary},
	}
}

func writeJSON(path string, data any) ([]byte, error) {
	payload, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", filepath.Base(path), err)
	}
	payload = append(payload, '\n')
	if err := os.WriteFile(path, payload, 0o644); err != nil {
		return nil, fmt.Errorf("write %s: %w", filepath.Base(path), err)
	}
	return payload, nil
}
