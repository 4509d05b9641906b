package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/metaextract/internal/effectsize"
	"github.com/sells-group/metaextract/internal/model"
	"github.com/sells-group/metaextract/internal/qa"
	"github.com/sells-group/metaextract/internal/store"
)

type mockReader struct {
	mock.Mock
}

func (m *mockReader) GetConsensus(ctx context.Context, studyID string) (*model.ConsensusRecord, error) {
	args := m.Called(ctx, studyID)
	rec, _ := args.Get(0).(*model.ConsensusRecord)
	return rec, args.Error(1)
}

func (m *mockReader) ListConsensus(ctx context.Context, filter store.ListFilter) ([]*model.ConsensusRecord, error) {
	args := m.Called(ctx, filter)
	recs, _ := args.Get(0).([]*model.ConsensusRecord)
	return recs, args.Error(1)
}

func (m *mockReader) LoadDataset(ctx context.Context) ([]model.FinalDatasetRow, error) {
	args := m.Called(ctx)
	rows, _ := args.Get(0).([]model.FinalDatasetRow)
	return rows, args.Error(1)
}

func (m *mockReader) LatestQAReport(ctx context.Context) (*qa.Report, error) {
	args := m.Called(ctx)
	report, _ := args.Get(0).(*qa.Report)
	return report, args.Error(1)
}

func do(t *testing.T, h http.Handler, method, path, body string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	var out map[string]any
	if rec.Body.Len() > 0 {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	}
	return rec, out
}

func TestHealth(t *testing.T) {
	t.Parallel()

	rec, body := do(t, New(nil).Handler(), http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", body["status"])
	assert.Contains(t, rec.Header().Get("Content-Type"), "application/json")
}

func TestEffectSize(t *testing.T) {
	t.Parallel()
	h := New(nil).Handler()

	rec, body := do(t, h, http.MethodPost, "/v1/effect-size",
		`{"m1": 80, "m2": 75, "sd1": 10, "sd2": 10, "n1": 30, "n2": 30}`)
	require.Equal(t, http.StatusOK, rec.Code)

	g, se := effectsize.MeansToHedgesG(80, 75, 10, 10, 30, 30)
	assert.InDelta(t, g, body["g"].(float64), 1e-12)
	assert.InDelta(t, se, body["se"].(float64), 1e-12)
	assert.Equal(t, true, body["valid"])

	rec, _ = do(t, h, http.MethodPost, "/v1/effect-size", `not json`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestEffectSize_NoShapeIsNotAnError(t *testing.T) {
	t.Parallel()

	rec, body := do(t, New(nil).Handler(), http.MethodPost, "/v1/effect-size", `{"foo": 1}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, false, body["valid"])
	assert.NotEmpty(t, body["issues"])
}

func TestValidateRow(t *testing.T) {
	t.Parallel()
	h := New(nil).Handler()

	rec, body := do(t, h, http.MethodPost, "/v1/effect-size/validate",
		`{"study_id": "S1", "hedges_g": 0.4, "se_g": 0.2, "n_treatment": 30, "n_control": 30, "m_treatment": 12, "m_control": 10}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "S1", body["study_id"])
	assert.Equal(t, true, body["overall_valid"])

	rec, body = do(t, h, http.MethodPost, "/v1/effect-size/validate", `{"hedges_g": 0.4, "p_value": 2}`)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	fields := body["fields"].(map[string]any)
	assert.Equal(t, "required", fields["validateRowRequest.study_id"])
	assert.Equal(t, "lte", fields["validateRowRequest.p_value"])
}

func TestMetaAnalysis(t *testing.T) {
	t.Parallel()
	h := New(nil).Handler()

	rec, body := do(t, h, http.MethodPost, "/v1/meta-analysis",
		`{"studies": [{"g": 0.2, "se": 0.1}, {"g": 0.6, "se": 0.1}]}`)
	require.Equal(t, http.StatusOK, rec.Code)

	est := body["estimate"].(map[string]any)
	assert.InDelta(t, 0.4, est["pooled_g"].(float64), 1e-12)
	assert.InDelta(t, 0.07, est["tau2"].(float64), 1e-9)
	assert.InDelta(t, 87.5, est["I2"].(float64), 1e-9)
	assert.Equal(t, false, body["egger"].(map[string]any)["sufficient"])
	assert.Equal(t, "left", body["trim_and_fill"].(map[string]any)["side"])
}

func TestMetaAnalysis_Validation(t *testing.T) {
	t.Parallel()
	h := New(nil).Handler()

	tests := []struct {
		name  string
		body  string
		field string
	}{
		{"no studies", `{"studies": []}`, "metaAnalysisRequest.studies"},
		{"zero se", `{"studies": [{"g": 0.2, "se": 0}]}`, "metaAnalysisRequest.studies[0].se"},
		{"missing g", `{"studies": [{"se": 0.1}]}`, "metaAnalysisRequest.studies[0].g"},
		{"bad side", `{"studies": [{"g": 0.2, "se": 0.1}], "side": "up"}`, "metaAnalysisRequest.side"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec, body := do(t, h, http.MethodPost, "/v1/meta-analysis", tt.body)
			assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
			assert.Contains(t, body["fields"], tt.field)
		})
	}
}

func TestKappa(t *testing.T) {
	t.Parallel()
	h := New(nil).Handler()

	rec, body := do(t, h, http.MethodPost, "/v1/reliability/kappa",
		`{"rater1": ["a", "a", "b", "b"], "rater2": ["a", "a", "b", "b"]}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.InDelta(t, 1.0, body["kappa"].(float64), 1e-12)
	assert.Equal(t, 4.0, body["n"])

	rec, body = do(t, h, http.MethodPost, "/v1/reliability/kappa", `{"rater1": ["a"], "rater2": ["a", "b"]}`)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Contains(t, body["error"], "differ in length")
}

func TestICC(t *testing.T) {
	t.Parallel()

	rec, body := do(t, New(nil).Handler(), http.MethodPost, "/v1/reliability/icc",
		`{"ratings": [[1, 2, 3, 4], [1, 2, 3, 4]]}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.InDelta(t, 1.0, body["icc"].(float64), 1e-9)
}

func TestGetConsensus(t *testing.T) {
	t.Parallel()
	reader := &mockReader{}
	reader.On("GetConsensus", mock.Anything, "S1").Return(&model.ConsensusRecord{StudyID: "S1"}, nil)
	reader.On("GetConsensus", mock.Anything, "S2").Return(nil, nil)
	reader.On("GetConsensus", mock.Anything, "S3").Return(nil, errors.New("db down"))
	h := New(reader).Handler()

	rec, body := do(t, h, http.MethodGet, "/v1/consensus/S1", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "S1", body["study_id"])

	rec, _ = do(t, h, http.MethodGet, "/v1/consensus/S2", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec, body = do(t, h, http.MethodGet, "/v1/consensus/S3", "")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, "lookup failed", body["error"])

	reader.AssertExpectations(t)
}

func TestGetConsensus_NoStore(t *testing.T) {
	t.Parallel()

	rec, _ := do(t, New(nil).Handler(), http.MethodGet, "/v1/consensus/S1", "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestCORSPreflight(t *testing.T) {
	t.Parallel()
	h := New(nil, WithAllowedOrigins("https://example.org")).Handler()

	req := httptest.NewRequest(http.MethodOptions, "/v1/meta-analysis", nil)
	req.Header.Set("Origin", "https://example.org")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, "https://example.org", rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestWithLimits(t *testing.T) {
	t.Parallel()
	h := New(nil, WithLimits(effectsize.Limits{MaxG: 0.1, MinN: 10})).Handler()

	_, body := do(t, h, http.MethodPost, "/v1/effect-size", `{"hedges_g": 0.5, "se_g": 0.2, "n1": 25, "n2": 25}`)
	assert.Equal(t, false, body["valid"])
	assert.InDelta(t, 0.5, body["g"].(float64), 1e-12)
	assert.Contains(t, body["issues"].([]any)[0], "exceeds maximum 0.1")
}

func TestListConsensus(t *testing.T) {
	t.Parallel()
	reader := &mockReader{}
	reader.On("ListConsensus", mock.Anything, store.ListFilter{Limit: 2, Offset: 1}).
		Return([]*model.ConsensusRecord{{StudyID: "S2"}, {StudyID: "S3"}}, nil)
	reader.On("ListConsensus", mock.Anything, store.ListFilter{}).Return(nil, nil)
	h := New(reader).Handler()

	rec, body := do(t, h, http.MethodGet, "/v1/consensus?limit=2&offset=1", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 2.0, body["count"])
	records := body["records"].([]any)
	assert.Equal(t, "S3", records[1].(map[string]any)["study_id"])

	rec, body = do(t, h, http.MethodGet, "/v1/consensus", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 0.0, body["count"])
	assert.Empty(t, body["records"])

	rec, body = do(t, h, http.MethodGet, "/v1/consensus?limit=ten", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "invalid limit", body["error"])

	reader.AssertExpectations(t)
}

func TestGetDataset(t *testing.T) {
	t.Parallel()
	reader := &mockReader{}
	reader.On("LoadDataset", mock.Anything).
		Return([]model.FinalDatasetRow{{StudyID: "S1", OutcomeLabel: "achievement", HedgesG: model.Ptr(0.4)}}, nil)
	h := New(reader).Handler()

	rec, body := do(t, h, http.MethodGet, "/v1/dataset", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 1.0, body["count"])
	row := body["rows"].([]any)[0].(map[string]any)
	assert.Equal(t, "S1", row["study_id"])
	assert.Equal(t, 0.4, row["hedges_g"])
}

func TestLatestQAReport(t *testing.T) {
	t.Parallel()

	found := &mockReader{}
	found.On("LatestQAReport", mock.Anything).Return(&qa.Report{AllGatesPassed: true}, nil)
	rec, body := do(t, New(found).Handler(), http.MethodGet, "/v1/qa/latest", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, true, body["all_gates_passed"])

	missing := &mockReader{}
	missing.On("LatestQAReport", mock.Anything).Return(nil, nil)
	rec, _ = do(t, New(missing).Handler(), http.MethodGet, "/v1/qa/latest", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	failing := &mockReader{}
	failing.On("LatestQAReport", mock.Anything).Return(nil, errors.New("db down"))
	rec, _ = do(t, New(failing).Handler(), http.MethodGet, "/v1/qa/latest", "")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)

	rec, _ = do(t, New(nil).Handler(), http.MethodGet, "/v1/dataset", "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}
