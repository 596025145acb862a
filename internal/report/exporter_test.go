package report

import (
	"context"
	"errors"
	"io"
	"os"
	"path"
	"path/filepath"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/engagement-metrics/internal/engagement/arr"
	"github.com/angelmondragon/engagement-metrics/internal/engagement/query"
	"github.com/angelmondragon/engagement-metrics/internal/engagement/types"
	"github.com/angelmondragon/engagement-metrics/pkg/logger"
)

type stubService struct {
	surveyErr error
	requests  []types.MetricsRequest
}

func (s *stubService) InteractionMetrics(_ context.Context, req types.MetricsRequest) (*types.InteractionMetrics, error) {
	s.requests = append(s.requests, req)
	return &types.InteractionMetrics{
		ActiveMakers: []types.MonthlyActiveMakers{{Month: "2023-01", TotalMakers: 3, GenericActive: 2}},
		MakerShareByARR: []types.ARRShare{
			{Bucket: arr.BucketUnder50k, Count: 2, Percent: 66.67},
			{Bucket: arr.Bucket100kPlus, Count: 1, Percent: 33.33},
		},
		Summary: types.InteractionSummary{ActiveMakers: 2},
	}, nil
}

func (s *stubService) SurveyMetrics(_ context.Context, req types.MetricsRequest) (*types.SurveyMetrics, error) {
	s.requests = append(s.requests, req)
	if s.surveyErr != nil {
		return nil, s.surveyErr
	}
	return &types.SurveyMetrics{
		SurveysPerMonth: []types.MonthlyValue{{Month: "2023-01", Value: 4, Observations: 2}},
		Advisory:        types.Advisory{RangeReset: true},
	}, nil
}

func (s *stubService) DefaultRange(ds query.Dataset) types.MetricsRequest {
	if ds == query.DatasetSurveys {
		return types.MetricsRequest{StartMonth: "2022-01", EndMonth: "2024-02"}
	}
	return types.MetricsRequest{StartMonth: "2022-10", EndMonth: "2024-02"}
}

func (s *stubService) InvalidateSnapshots(context.Context, ...query.Dataset) error {
	return nil
}

type stubUploader struct {
	objects map[string][]byte
	failOn  string
}

func (u *stubUploader) ObjectName(parts ...string) string {
	return path.Join(append([]string{"reports"}, parts...)...)
}

func (u *stubUploader) Upload(_ context.Context, object, contentType string, data []byte) error {
	if contentType != "application/json" {
		return errors.New("unexpected content type " + contentType)
	}
	if u.failOn != "" && path.Base(object) == u.failOn {
		return errors.New("bucket unavailable")
	}
	if u.objects == nil {
		u.objects = map[string][]byte{}
	}
	u.objects[object] = data
	return nil
}

func newTestExporter(t *testing.T, svc *stubService) (*Exporter, string) {
	t.Helper()
	return newUploadingExporter(t, svc, nil)
}

func newUploadingExporter(t *testing.T, svc *stubService, uploader Uploader) (*Exporter, string) {
	t.Helper()
	dir := t.TempDir()
	exporter, err := NewExporter(Params{
		Service:   svc,
		OutputDir: dir,
		Logger:    logger.New(logger.Options{ServiceName: "report-test", Output: io.Discard}),
		Progress:  io.Discard,
		Now:       func() time.Time { return time.Date(2024, 3, 14, 9, 30, 0, 0, time.UTC) },
		Uploader:  uploader,
	})
	require.NoError(t, err)
	return exporter, dir
}

func TestRunWritesEveryTableAndManifest(t *testing.T) {
	svc := &stubService{}
	exporter, dir := newTestExporter(t, svc)

	manifest, err := exporter.Run(context.Background(), types.MetricsRequest{StartMonth: "2023-01"})
	require.NoError(t, err)

	runDir := filepath.Join(dir, "20240314_093000")
	assert.Len(t, manifest.Files, len(InteractionTables(&types.InteractionMetrics{}))+len(SurveyTables(&types.SurveyMetrics{})))
	for _, name := range manifest.Files {
		_, err := os.Stat(filepath.Join(runDir, name))
		require.NoError(t, err, name)
	}

	raw, err := os.ReadFile(filepath.Join(runDir, "interactions_maker_share_by_arr.json"))
	require.NoError(t, err)
	var shares []types.ARRShare
	require.NoError(t, json.Unmarshal(raw, &shares))
	require.Len(t, shares, 2)
	assert.Equal(t, arr.BucketUnder50k, shares[0].Bucket)

	raw, err = os.ReadFile(filepath.Join(runDir, manifestName))
	require.NoError(t, err)
	var onDisk Manifest
	require.NoError(t, json.Unmarshal(raw, &onDisk))
	assert.Equal(t, manifest.Files, onDisk.Files)
	assert.Equal(t, types.MetricsRequest{StartMonth: "2023-01", EndMonth: "2024-02"}, onDisk.Requests[FamilyInteractions])
	assert.Equal(t, types.MetricsRequest{StartMonth: "2022-01", EndMonth: "2024-02"}, onDisk.Requests[FamilySurveys])
	assert.True(t, onDisk.Advisories[FamilySurveys].RangeReset)
}

func TestRunSingleFamily(t *testing.T) {
	svc := &stubService{}
	exporter, _ := newTestExporter(t, svc)

	manifest, err := exporter.Run(context.Background(), types.MetricsRequest{}, FamilySurveys)
	require.NoError(t, err)
	assert.Len(t, svc.requests, 1)
	assert.Contains(t, manifest.Files, "surveys_surveys_per_month.json")
	assert.NotContains(t, manifest.Requests, FamilyInteractions)
}

func TestRunFailsWithoutWritingOnServiceError(t *testing.T) {
	svc := &stubService{surveyErr: errors.New("warehouse down")}
	exporter, dir := newTestExporter(t, svc)

	_, err := exporter.Run(context.Background(), types.MetricsRequest{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "surveys")

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestRunUploadsFilesAndManifest(t *testing.T) {
	uploader := &stubUploader{}
	exporter, dir := newUploadingExporter(t, &stubService{}, uploader)

	manifest, err := exporter.Run(context.Background(), types.MetricsRequest{}, FamilyInteractions)
	require.NoError(t, err)
	require.Len(t, manifest.Uploaded, len(manifest.Files))
	assert.Equal(t, "reports/20240314_093000/interactions_active_makers.json", manifest.Uploaded[0])

	local, err := os.ReadFile(filepath.Join(dir, "20240314_093000", "interactions_summary.json"))
	require.NoError(t, err)
	assert.Equal(t, local, uploader.objects["reports/20240314_093000/interactions_summary.json"])

	var remote Manifest
	require.NoError(t, json.Unmarshal(uploader.objects["reports/20240314_093000/manifest.json"], &remote))
	assert.Equal(t, manifest.Uploaded, remote.Uploaded)
}

func TestRunStopsOnUploadFailure(t *testing.T) {
	uploader := &stubUploader{failOn: "interactions_summary.json"}
	exporter, _ := newUploadingExporter(t, &stubService{}, uploader)

	_, err := exporter.Run(context.Background(), types.MetricsRequest{}, FamilyInteractions)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "interactions_summary.json")
	assert.NotContains(t, uploader.objects, "reports/20240314_093000/manifest.json")
}

func TestRunRejectsUnknownFamily(t *testing.T) {
	exporter, _ := newTestExporter(t, &stubService{})
	_, err := exporter.Run(context.Background(), types.MetricsRequest{}, "orders")
	require.Error(t, err)
}

func TestNewExporterValidates(t *testing.T) {
	_, err := NewExporter(Params{OutputDir: "x", Logger: logger.New(logger.Options{Output: io.Discard})})
	assert.Error(t, err)
	_, err = NewExporter(Params{Service: &stubService{}, Logger: logger.New(logger.Options{Output: io.Discard})})
	assert.Error(t, err)
}
