package shapefile

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/uuid"
	shp "github.com/jonas-p/go-shp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/landhub-tz/backend/internal/config"
	"github.com/landhub-tz/backend/internal/jobs"
	"github.com/landhub-tz/backend/internal/logger"
	"github.com/landhub-tz/backend/internal/models"
	"github.com/landhub-tz/backend/internal/repository"
)

// fakeRepo records batch writes. Only CreateBatch is implemented; the
// pipeline touches nothing else on the repository.
type fakeRepo struct {
	repository.PlotRepository
	batches  [][]*models.Plot
	batchErr error
}

func (f *fakeRepo) CreateBatch(_ context.Context, plots []*models.Plot) error {
	if f.batchErr != nil {
		return f.batchErr
	}
	f.batches = append(f.batches, plots)
	return nil
}

// feature is one test shapefile record.
type feature struct {
	ring  [][2]float64
	attrs map[string]string
}

// writeDataset builds a real shapefile pair in dir using the go-shp
// writer and returns the staged file set.
func writeDataset(t *testing.T, dir string, features []feature) FileSet {
	t.Helper()

	shpPath := filepath.Join(dir, "upload.shp")
	w, err := shp.Create(shpPath, shp.POLYGON)
	require.NoError(t, err)

	fields := []shp.Field{
		shp.StringField("NAME", 64),
		shp.StringField("PLOT_NUM", 32),
		shp.StringField("AREA", 32),
		shp.StringField("PRICE", 32),
		shp.StringField("USAGE_TYPE", 32),
	}
	w.SetFields(fields)

	fieldOrder := []string{"NAME", "PLOT_NUM", "AREA", "PRICE", "USAGE_TYPE"}
	for _, f := range features {
		points := make([]shp.Point, 0, len(f.ring))
		for _, pt := range f.ring {
			points = append(points, shp.Point{X: pt[0], Y: pt[1]})
		}
		poly := &shp.Polygon{
			Box:       shp.BBoxFromPoints(points),
			NumParts:  1,
			NumPoints: int32(len(points)),
			Parts:     []int32{0},
			Points:    points,
		}
		row := int(w.Write(poly))
		for col, name := range fieldOrder {
			require.NoError(t, w.WriteAttribute(row, col, f.attrs[name]))
		}
	}
	w.Close()

	return FileSet{
		SHP: shpPath,
		DBF: filepath.Join(dir, "upload.dbf"),
	}
}

func squareRing(origin float64) [][2]float64 {
	return [][2]float64{
		{origin, origin},
		{origin + 0.001, origin},
		{origin + 0.001, origin + 0.001},
		{origin, origin + 0.001},
		{origin, origin},
	}
}

// passthroughRepair accepts every polygon unchanged.
func passthroughRepair(p *models.Polygon) (*models.Polygon, error) {
	return p, nil
}

func fixedArea(v float64) AreaFunc {
	return func(*models.Polygon) (float64, error) { return v, nil }
}

func testDefaults() config.GeoConfig {
	return config.GeoConfig{
		DefaultPrice:     100000,
		DefaultAreaSqm:   1000,
		DefaultUsageType: "Residential",
	}
}

func testPipeline(repo repository.PlotRepository) *Pipeline {
	return &Pipeline{
		repo:     repo,
		defaults: testDefaults(),
		repair:   passthroughRepair,
		area:     fixedArea(500),
		log:      logger.NewNop(),
	}
}

func noProgress(int, string) {}

func TestValidateSet_MissingFiles(t *testing.T) {
	_, err := ValidateSet(FileSet{})
	assert.ErrorIs(t, err, ErrInvalidDataset)

	_, err = ValidateSet(FileSet{SHP: "only.shp"})
	assert.ErrorIs(t, err, ErrInvalidDataset)

	_, err = ValidateSet(FileSet{SHP: "/nonexistent/upload.shp", DBF: "/nonexistent/upload.dbf"})
	assert.ErrorIs(t, err, ErrInvalidDataset)
}

func TestValidateSet_ReportsMetadata(t *testing.T) {
	dir := t.TempDir()
	files := writeDataset(t, dir, []feature{
		{ring: squareRing(0), attrs: map[string]string{"NAME": "A"}},
		{ring: squareRing(1), attrs: map[string]string{"NAME": "B"}},
	})

	info, err := ValidateSet(files)
	require.NoError(t, err)
	assert.Equal(t, 2, info.FeatureCount)
	assert.Contains(t, info.AttributeNames, "NAME")
	assert.Contains(t, info.AttributeNames, "PLOT_NUM")
}

func TestRun_CreatesPlotsWithAttributeValues(t *testing.T) {
	dir := t.TempDir()
	files := writeDataset(t, dir, []feature{
		{
			ring: squareRing(0),
			attrs: map[string]string{
				"NAME":       "Mbezi Beach Plot",
				"PLOT_NUM":   "MBZ-017",
				"AREA":       "2500",
				"PRICE":      "750000",
				"USAGE_TYPE": "Commercial",
			},
		},
	})

	repo := &fakeRepo{}
	userID := uuid.New()
	result, err := testPipeline(repo).Run(context.Background(), Args{Files: files, UserID: userID}, noProgress)
	require.NoError(t, err)

	require.Len(t, repo.batches, 1)
	require.Len(t, repo.batches[0], 1)
	plot := repo.batches[0][0]

	assert.Equal(t, "Mbezi Beach Plot", plot.Title)
	assert.Equal(t, "MBZ-017", plot.PlotNumber)
	assert.Equal(t, 2500.0, plot.AreaSqm)
	assert.Equal(t, 750000.0, plot.Price)
	assert.Equal(t, "Commercial", plot.UsageType)
	assert.Equal(t, models.StatusAvailable, plot.Status)
	assert.Equal(t, userID, plot.UploadedByID)
	require.NotNil(t, plot.Geom)

	assert.Equal(t, 1, result.TotalProcessed)
	assert.Len(t, result.CreatedPlots, 1)
	assert.Empty(t, result.Skipped)
	assert.Contains(t, result.Message, "1 plots")
}

func TestRun_AppliesDefaultsForMissingAttributes(t *testing.T) {
	dir := t.TempDir()
	files := writeDataset(t, dir, []feature{
		{ring: squareRing(0), attrs: map[string]string{}},
	})

	repo := &fakeRepo{}
	p := testPipeline(repo)
	p.area = fixedArea(0) // force the configured fallback

	_, err := p.Run(context.Background(), Args{Files: files, UserID: uuid.New()}, noProgress)
	require.NoError(t, err)

	require.Len(t, repo.batches, 1)
	plot := repo.batches[0][0]
	assert.Equal(t, "Plot 1", plot.Title)
	assert.Equal(t, "SHP_1", plot.PlotNumber)
	assert.Equal(t, 1000.0, plot.AreaSqm)
	assert.Equal(t, 100000.0, plot.Price)
	assert.Equal(t, "Residential", plot.UsageType)
}

func TestRun_ComputedAreaWhenAttributeAbsent(t *testing.T) {
	dir := t.TempDir()
	files := writeDataset(t, dir, []feature{
		{ring: squareRing(0), attrs: map[string]string{"NAME": "computed"}},
	})

	repo := &fakeRepo{}
	_, err := testPipeline(repo).Run(context.Background(), Args{Files: files, UserID: uuid.New()}, noProgress)
	require.NoError(t, err)

	require.Len(t, repo.batches, 1)
	assert.Equal(t, 500.0, repo.batches[0][0].AreaSqm)
}

func TestRun_SkipsIrreparableFeatures(t *testing.T) {
	dir := t.TempDir()
	files := writeDataset(t, dir, []feature{
		{ring: squareRing(0), attrs: map[string]string{"NAME": "good one"}},
		{ring: squareRing(10), attrs: map[string]string{"NAME": "bad"}},
		{ring: squareRing(20), attrs: map[string]string{"NAME": "good two"}},
	})

	repo := &fakeRepo{}
	p := testPipeline(repo)
	p.repair = func(poly *models.Polygon) (*models.Polygon, error) {
		// Reject the middle feature: its ring starts at x=10.
		if poly.Ring()[0][0] == 10 {
			return nil, errors.New("self-intersecting ring")
		}
		return poly, nil
	}

	result, err := p.Run(context.Background(), Args{Files: files, UserID: uuid.New()}, noProgress)
	require.NoError(t, err)

	assert.Equal(t, 2, result.TotalProcessed)
	require.Len(t, result.Skipped, 1)
	assert.Equal(t, 1, result.Skipped[0].Index)
	assert.Contains(t, result.Skipped[0].Reason, "self-intersecting")

	require.Len(t, repo.batches, 1)
	assert.Len(t, repo.batches[0], 2)
}

func TestRun_StoreFailureFailsWholeJob(t *testing.T) {
	dir := t.TempDir()
	files := writeDataset(t, dir, []feature{
		{ring: squareRing(0), attrs: map[string]string{}},
	})

	repo := &fakeRepo{batchErr: errors.New("connection reset")}
	_, err := testPipeline(repo).Run(context.Background(), Args{Files: files, UserID: uuid.New()}, noProgress)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "connection reset")
	assert.Empty(t, repo.batches)
}

func TestRun_ReportsMonotonicProgress(t *testing.T) {
	dir := t.TempDir()
	features := make([]feature, 4)
	for i := range features {
		features[i] = feature{ring: squareRing(float64(i)), attrs: map[string]string{}}
	}
	files := writeDataset(t, dir, features)

	var percents []int
	report := func(percent int, _ string) {
		percents = append(percents, percent)
	}

	repo := &fakeRepo{}
	_, err := testPipeline(repo).Run(context.Background(), Args{Files: files, UserID: uuid.New()}, report)
	require.NoError(t, err)

	require.NotEmpty(t, percents)
	for i := 1; i < len(percents); i++ {
		assert.GreaterOrEqual(t, percents[i], percents[i-1])
	}
	assert.Equal(t, 100, percents[len(percents)-1])
}

func TestRun_CleansUpStagedFiles(t *testing.T) {
	staging := filepath.Join(t.TempDir(), "job-staging")
	require.NoError(t, os.MkdirAll(staging, 0o755))
	files := writeDataset(t, staging, []feature{
		{ring: squareRing(0), attrs: map[string]string{}},
	})

	repo := &fakeRepo{}
	_, err := testPipeline(repo).Run(context.Background(), Args{Files: files, UserID: uuid.New()}, noProgress)
	require.NoError(t, err)

	_, statErr := os.Stat(files.SHP)
	assert.True(t, os.IsNotExist(statErr))
	_, statErr = os.Stat(files.DBF)
	assert.True(t, os.IsNotExist(statErr))
	_, statErr = os.Stat(staging)
	assert.True(t, os.IsNotExist(statErr), "staging directory should be removed")
}

func TestRun_CleansUpOnFailureToo(t *testing.T) {
	staging := filepath.Join(t.TempDir(), "job-staging")
	require.NoError(t, os.MkdirAll(staging, 0o755))
	files := writeDataset(t, staging, []feature{
		{ring: squareRing(0), attrs: map[string]string{}},
	})

	repo := &fakeRepo{batchErr: errors.New("down")}
	_, err := testPipeline(repo).Run(context.Background(), Args{Files: files, UserID: uuid.New()}, noProgress)
	require.Error(t, err)

	_, statErr := os.Stat(files.SHP)
	assert.True(t, os.IsNotExist(statErr))
}

func TestHandler_DecodesArgs(t *testing.T) {
	dir := t.TempDir()
	files := writeDataset(t, dir, []feature{
		{ring: squareRing(0), attrs: map[string]string{}},
	})

	repo := &fakeRepo{}
	handler := testPipeline(repo).Handler()

	raw := fmt.Sprintf(`{"files":{"shp":%q,"dbf":%q},"userId":%q}`,
		files.SHP, files.DBF, uuid.New())

	result, err := handler(context.Background(), []byte(raw), jobs.ProgressFunc(noProgress))
	require.NoError(t, err)

	res, ok := result.(*Result)
	require.True(t, ok)
	assert.Equal(t, 1, res.TotalProcessed)
}

func TestHandler_RejectsGarbageArgs(t *testing.T) {
	handler := testPipeline(&fakeRepo{}).Handler()
	_, err := handler(context.Background(), []byte(`{not json`), jobs.ProgressFunc(noProgress))
	assert.Error(t, err)
}
