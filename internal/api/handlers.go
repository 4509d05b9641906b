package api

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"
	"go.uber.org/zap"

	"github.com/sells-group/metaextract/internal/effectsize"
	"github.com/sells-group/metaextract/internal/metaanalysis"
	"github.com/sells-group/metaextract/internal/model"
	"github.com/sells-group/metaextract/internal/reliability"
	"github.com/sells-group/metaextract/internal/store"
)

func (s *Server) handleEffectSize(w http.ResponseWriter, r *http.Request) {
	var fields map[string]any
	if err := render.DecodeJSON(r.Body, &fields); err != nil || fields == nil {
		writeError(w, r, http.StatusBadRequest, "invalid request body")
		return
	}
	render.JSON(w, r, s.calc.Calculate(fields))
}

// validateRowRequest is a dataset row submitted for post-hoc checks.
type validateRowRequest struct {
	StudyID    string   `json:"study_id" validate:"required"`
	G          *float64 `json:"hedges_g"`
	SE         *float64 `json:"se_g"`
	N1         *int     `json:"n_treatment" validate:"omitempty,gte=0"`
	N2         *int     `json:"n_control" validate:"omitempty,gte=0"`
	MTreatment *float64 `json:"m_treatment"`
	MControl   *float64 `json:"m_control"`
	PValue     *float64 `json:"p_value" validate:"omitempty,gte=0,lte=1"`
}

func (s *Server) handleValidateRow(w http.ResponseWriter, r *http.Request) {
	var req validateRowRequest
	if !s.decode(w, r, &req) {
		return
	}
	render.JSON(w, r, effectsize.ValidateRow(effectsize.RowInput{
		StudyID:    req.StudyID,
		G:          req.G,
		SE:         req.SE,
		N1:         req.N1,
		N2:         req.N2,
		MTreatment: req.MTreatment,
		MControl:   req.MControl,
		PValue:     req.PValue,
	}, s.limits))
}

// studyEffect is one (g, se) pair to pool.
type studyEffect struct {
	G  *float64 `json:"g" validate:"required"`
	SE *float64 `json:"se" validate:"required,gt=0"`
}

type metaAnalysisRequest struct {
	Studies []studyEffect `json:"studies" validate:"required,min=1,dive"`
	Side    string        `json:"side" validate:"omitempty,oneof=left right"`
}

type metaAnalysisResponse struct {
	Estimate *metaanalysis.Estimate       `json:"estimate"`
	Egger    *metaanalysis.EggerResult    `json:"egger"`
	TrimFill *metaanalysis.TrimFillResult `json:"trim_and_fill"`
}

func (s *Server) handleMetaAnalysis(w http.ResponseWriter, r *http.Request) {
	var req metaAnalysisRequest
	if !s.decode(w, r, &req) {
		return
	}
	side := metaanalysis.SideLeft
	if req.Side != "" {
		side = metaanalysis.Side(req.Side)
	}
	g := make([]float64, len(req.Studies))
	se := make([]float64, len(req.Studies))
	for i, st := range req.Studies {
		g[i], se[i] = *st.G, *st.SE
	}

	est, err := metaanalysis.Pool(g, se)
	if err != nil {
		writeError(w, r, http.StatusUnprocessableEntity, err.Error())
		return
	}
	egger, err := metaanalysis.Egger(g, se)
	if err != nil {
		writeError(w, r, http.StatusUnprocessableEntity, err.Error())
		return
	}
	tf, err := metaanalysis.TrimAndFill(g, se, side, metaanalysis.DefaultTrimFillIterations)
	if err != nil {
		writeError(w, r, http.StatusUnprocessableEntity, err.Error())
		return
	}
	render.JSON(w, r, metaAnalysisResponse{
		Estimate: est,
		Egger:    egger,
		TrimFill: tf,
	})
}

type kappaRequest struct {
	Rater1 []string `json:"rater1" validate:"required,min=1"`
	Rater2 []string `json:"rater2" validate:"required,min=1"`
}

type kappaResponse struct {
	Kappa float64 `json:"kappa"`
	N     int     `json:"n"`
}

func (s *Server) handleKappa(w http.ResponseWriter, r *http.Request) {
	var req kappaRequest
	if !s.decode(w, r, &req) {
		return
	}
	k, err := reliability.CohensKappa(req.Rater1, req.Rater2)
	if err != nil {
		writeError(w, r, http.StatusUnprocessableEntity, err.Error())
		return
	}
	render.JSON(w, r, kappaResponse{Kappa: k, N: len(req.Rater1)})
}

type iccRequest struct {
	Ratings [][]float64 `json:"ratings" validate:"required,min=2"`
}

type iccResponse struct {
	ICC float64 `json:"icc"`
}

func (s *Server) handleICC(w http.ResponseWriter, r *http.Request) {
	var req iccRequest
	if !s.decode(w, r, &req) {
		return
	}
	icc, err := reliability.ICC21(req.Ratings)
	if err != nil {
		writeError(w, r, http.StatusUnprocessableEntity, err.Error())
		return
	}
	render.JSON(w, r, iccResponse{ICC: icc})
}

func (s *Server) handleGetConsensus(w http.ResponseWriter, r *http.Request) {
	if s.records == nil {
		writeError(w, r, http.StatusServiceUnavailable, "no store configured")
		return
	}
	id := chi.URLParam(r, "studyID")
	rec, err := s.records.GetConsensus(r.Context(), id)
	if err != nil {
		zap.L().Error("get consensus", zap.String("study_id", id), zap.Error(err))
		writeError(w, r, http.StatusInternalServerError, "lookup failed")
		return
	}
	if rec == nil {
		writeError(w, r, http.StatusNotFound, "consensus record not found")
		return
	}
	render.JSON(w, r, rec)
}

type consensusList struct {
	Records []*model.ConsensusRecord `json:"records"`
	Count   int                      `json:"count"`
}

func (s *Server) handleListConsensus(w http.ResponseWriter, r *http.Request) {
	if s.records == nil {
		writeError(w, r, http.StatusServiceUnavailable, "no store configured")
		return
	}
	var filter store.ListFilter
	for name, dst := range map[string]*int{"limit": &filter.Limit, "offset": &filter.Offset} {
		v := r.URL.Query().Get(name)
		if v == "" {
			continue
		}
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeError(w, r, http.StatusBadRequest, "invalid "+name)
			return
		}
		*dst = n
	}
	recs, err := s.records.ListConsensus(r.Context(), filter)
	if err != nil {
		zap.L().Error("list consensus", zap.Error(err))
		writeError(w, r, http.StatusInternalServerError, "lookup failed")
		return
	}
	if recs == nil {
		recs = []*model.ConsensusRecord{}
	}
	render.JSON(w, r, consensusList{Records: recs, Count: len(recs)})
}

type datasetResponse struct {
	Rows  []model.FinalDatasetRow `json:"rows"`
	Count int                     `json:"count"`
}

func (s *Server) handleGetDataset(w http.ResponseWriter, r *http.Request) {
	if s.records == nil {
		writeError(w, r, http.StatusServiceUnavailable, "no store configured")
		return
	}
	rows, err := s.records.LoadDataset(r.Context())
	if err != nil {
		zap.L().Error("load dataset", zap.Error(err))
		writeError(w, r, http.StatusInternalServerError, "lookup failed")
		return
	}
	if rows == nil {
		rows = []model.FinalDatasetRow{}
	}
	render.JSON(w, r, datasetResponse{Rows: rows, Count: len(rows)})
}

func (s *Server) handleLatestQAReport(w http.ResponseWriter, r *http.Request) {
	if s.records == nil {
		writeError(w, r, http.StatusServiceUnavailable, "no store configured")
		return
	}
	report, err := s.records.LatestQAReport(r.Context())
	if err != nil {
		zap.L().Error("latest qa report", zap.Error(err))
		writeError(w, r, http.StatusInternalServerError, "lookup failed")
		return
	}
	if report == nil {
		writeError(w, r, http.StatusNotFound, "no qa report stored")
		return
	}
	render.JSON(w, r, report)
}
