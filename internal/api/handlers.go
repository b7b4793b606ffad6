package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog"
	"github.com/trogers1052/nepse-sentiment/internal/models"
	"github.com/trogers1052/nepse-sentiment/internal/retry"
	"github.com/trogers1052/nepse-sentiment/internal/sentiment"
)

// MarketCache is the read cache for market observations
type MarketCache interface {
	Get(ctx context.Context, date time.Time) (*models.MarketObservation, bool, error)
	Generation(ctx context.Context, date time.Time) (int64, error)
	Set(ctx context.Context, m *models.MarketObservation, gen int64) error
	GetList(ctx context.Context) ([]*models.MarketObservation, bool, error)
	ListGeneration(ctx context.Context) (int64, error)
	SetList(ctx context.Context, ms []*models.MarketObservation, gen int64) error
}

// Pinger reports backing store health
type Pinger interface {
	Ping(ctx context.Context) error
}

// Handler holds dependencies for HTTP handlers
type Handler struct {
	engine *sentiment.Engine
	cache  MarketCache
	pinger Pinger
	policy retry.Policy
	log    zerolog.Logger
}

// NewHandler creates a new Handler. cache and pinger may be nil.
func NewHandler(engine *sentiment.Engine, cache MarketCache, pinger Pinger, policy retry.Policy, log zerolog.Logger) *Handler {
	return &Handler{
		engine: engine,
		cache:  cache,
		pinger: pinger,
		policy: policy,
		log:    log.With().Str("component", "api").Logger(),
	}
}

type observationRequest struct {
	PositiveCount  int `json:"positive_count"`
	NegativeCount  int `json:"negative_count"`
	UnchangedCount int `json:"unchanged_count"`
	TotalCount     int `json:"total_count"`
}

type totalStockRequest struct {
	TotalStock int `json:"total_stock"`
}

type writeResponse struct {
	Observation    *models.SectorObservation `json:"observation,omitempty"`
	Market         *models.MarketObservation `json:"market"`
	MissingSectors []models.Sector           `json:"missing_sectors"`
	Withdrawn      bool                      `json:"market_withdrawn"`
	Warning        string                    `json:"warning,omitempty"`
}

func newWriteResponse(obs *models.SectorObservation, rec sentiment.Recomputation) writeResponse {
	resp := writeResponse{
		Observation:    obs,
		Market:         rec.Market,
		MissingSectors: rec.Missing,
		Withdrawn:      rec.Withdrawn,
	}
	if resp.MissingSectors == nil {
		resp.MissingSectors = []models.Sector{}
	}
	if w := rec.Warning(); w != nil {
		resp.Warning = w.Error()
	}
	return resp
}

// ListSectors handles GET /sectors
func (h *Handler) ListSectors(w http.ResponseWriter, r *http.Request) {
	sectors := h.engine.Sectors()
	infos := make([]models.SectorInfo, len(sectors))
	for i, s := range sectors {
		infos[i] = s.Info()
	}
	respondJSON(w, http.StatusOK, infos)
}

// ListObservations handles GET /sectors/{sector}/observations
func (h *Handler) ListObservations(w http.ResponseWriter, r *http.Request) {
	sector, err := h.engine.ParseSector(mux.Vars(r)["sector"])
	if err != nil {
		h.respondError(w, r, err)
		return
	}

	obs, err := h.engine.Ledger.ListBySector(r.Context(), sector)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	if obs == nil {
		obs = []*models.SectorObservation{}
	}
	respondJSON(w, http.StatusOK, obs)
}

// GetObservation handles GET /sectors/{sector}/observations/{date}
func (h *Handler) GetObservation(w http.ResponseWriter, r *http.Request) {
	sector, date, err := h.sectorAndDate(r)
	if err != nil {
		h.respondError(w, r, err)
		return
	}

	obs, ok, err := h.engine.Ledger.GetOnDate(r.Context(), sector, date)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	if !ok {
		h.respondError(w, r, &sentiment.NotFoundError{Kind: "sector observation", Key: string(sector) + "@" + models.DateKey(date)})
		return
	}
	respondJSON(w, http.StatusOK, obs)
}

// PutObservation handles PUT /sectors/{sector}/observations/{date}
func (h *Handler) PutObservation(w http.ResponseWriter, r *http.Request) {
	sector, date, err := h.sectorAndDate(r)
	if err != nil {
		h.respondError(w, r, err)
		return
	}

	var req observationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondError(w, r, &sentiment.ValidationError{Message: "invalid request body"})
		return
	}

	in := models.SectorInput{
		Sector:         sector,
		Date:           date,
		PositiveCount:  req.PositiveCount,
		NegativeCount:  req.NegativeCount,
		UnchangedCount: req.UnchangedCount,
		TotalCount:     req.TotalCount,
	}

	var (
		obs *models.SectorObservation
		rec sentiment.Recomputation
	)
	err = h.withRetry(r.Context(), func() error {
		var err error
		obs, rec, err = h.engine.Ledger.Upsert(r.Context(), in)
		return err
	})
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, newWriteResponse(obs, rec))
}

// DeleteObservation handles DELETE /sectors/{sector}/observations/{date}
func (h *Handler) DeleteObservation(w http.ResponseWriter, r *http.Request) {
	sector, date, err := h.sectorAndDate(r)
	if err != nil {
		h.respondError(w, r, err)
		return
	}

	var (
		removed bool
		rec     sentiment.Recomputation
	)
	err = h.withRetry(r.Context(), func() error {
		var err error
		removed, rec, err = h.engine.Ledger.Delete(r.Context(), sector, date)
		return err
	})
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	if !removed {
		h.respondError(w, r, &sentiment.NotFoundError{Kind: "sector observation", Key: string(sector) + "@" + models.DateKey(date)})
		return
	}
	respondJSON(w, http.StatusOK, newWriteResponse(nil, rec))
}

// GetSnapshot handles GET /snapshot/{date}
func (h *Handler) GetSnapshot(w http.ResponseWriter, r *http.Request) {
	date, err := dateVar(r)
	if err != nil {
		h.respondError(w, r, err)
		return
	}

	snap, err := h.engine.Ledger.Snapshot(r.Context(), date)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, snap)
}

// ListMarket handles GET /market
func (h *Handler) ListMarket(w http.ResponseWriter, r *http.Request) {
	var (
		gen      int64
		fillable bool
	)
	if h.cache != nil {
		ms, ok, err := h.cache.GetList(r.Context())
		if err != nil {
			h.log.Warn().Err(err).Msg("market cache read failed")
		} else if ok {
			respondJSON(w, http.StatusOK, ms)
			return
		}
		if gen, err = h.cache.ListGeneration(r.Context()); err != nil {
			h.log.Warn().Err(err).Msg("market cache read failed")
		} else {
			fillable = true
		}
	}

	ms, err := h.engine.Aggregator.ListMarket(r.Context())
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	if ms == nil {
		ms = []*models.MarketObservation{}
	}
	if fillable {
		if err := h.cache.SetList(r.Context(), ms, gen); err != nil {
			h.log.Warn().Err(err).Msg("market cache write failed")
		}
	}
	respondJSON(w, http.StatusOK, ms)
}

// GetMarket handles GET /market/{date}. An absent aggregate reports the
// sectors still missing for the date.
func (h *Handler) GetMarket(w http.ResponseWriter, r *http.Request) {
	date, err := dateVar(r)
	if err != nil {
		h.respondError(w, r, err)
		return
	}

	var (
		gen      int64
		fillable bool
	)
	if h.cache != nil {
		m, ok, err := h.cache.Get(r.Context(), date)
		if err != nil {
			h.log.Warn().Err(err).Str("date", models.DateKey(date)).Msg("market cache read failed")
		} else if ok {
			respondJSON(w, http.StatusOK, m)
			return
		}
		// read before loading so a concurrent invalidation voids the fill
		if gen, err = h.cache.Generation(r.Context(), date); err != nil {
			h.log.Warn().Err(err).Str("date", models.DateKey(date)).Msg("market cache read failed")
		} else {
			fillable = true
		}
	}

	m, ok, err := h.engine.Aggregator.GetMarket(r.Context(), date)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	if !ok {
		snap, err := h.engine.Ledger.Snapshot(r.Context(), date)
		if err != nil {
			h.respondError(w, r, err)
			return
		}
		respondJSON(w, http.StatusNotFound, errorResponse{
			Error:          "market observation not found: " + models.DateKey(date),
			MissingSectors: snap.Missing,
		})
		return
	}

	if fillable {
		if err := h.cache.Set(r.Context(), m, gen); err != nil {
			h.log.Warn().Err(err).Str("date", models.DateKey(date)).Msg("market cache write failed")
		}
	}
	respondJSON(w, http.StatusOK, m)
}

// DeleteMarket handles DELETE /market/{date}
func (h *Handler) DeleteMarket(w http.ResponseWriter, r *http.Request) {
	date, err := dateVar(r)
	if err != nil {
		h.respondError(w, r, err)
		return
	}

	var removed bool
	err = h.withRetry(r.Context(), func() error {
		var err error
		removed, err = h.engine.Aggregator.DeleteMarket(r.Context(), date)
		return err
	})
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	if !removed {
		h.respondError(w, r, &sentiment.NotFoundError{Kind: "market observation", Key: models.DateKey(date)})
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// SupplyTotalStock handles PUT /market/{date}/total-stock
func (h *Handler) SupplyTotalStock(w http.ResponseWriter, r *http.Request) {
	date, err := dateVar(r)
	if err != nil {
		h.respondError(w, r, err)
		return
	}

	var req totalStockRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondError(w, r, &sentiment.ValidationError{Message: "invalid request body"})
		return
	}

	var m *models.MarketObservation
	err = h.withRetry(r.Context(), func() error {
		var err error
		m, err = h.engine.Aggregator.SupplyTotalStock(r.Context(), date, req.TotalStock)
		return err
	})
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, m)
}

// RecomputeDate handles POST /market/{date}/recompute
func (h *Handler) RecomputeDate(w http.ResponseWriter, r *http.Request) {
	date, err := dateVar(r)
	if err != nil {
		h.respondError(w, r, err)
		return
	}

	var rec sentiment.Recomputation
	err = h.withRetry(r.Context(), func() error {
		var err error
		rec, err = h.engine.Aggregator.Recompute(r.Context(), date)
		return err
	})
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, newWriteResponse(nil, rec))
}

// RecomputeAll handles POST /market/recompute
func (h *Handler) RecomputeAll(w http.ResponseWriter, r *http.Request) {
	n, err := h.engine.Aggregator.RecomputeAll(r.Context())
	if err != nil {
		h.log.Error().Err(err).Int("dates", n).Msg("recompute all finished with failures")
		respondJSON(w, http.StatusInternalServerError, map[string]any{
			"dates": n,
			"error": err.Error(),
		})
		return
	}
	respondJSON(w, http.StatusOK, map[string]int{"dates": n})
}

// HealthCheck handles GET /health
func (h *Handler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	if h.pinger != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := h.pinger.Ping(ctx); err != nil {
			respondJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unhealthy", "error": err.Error()})
			return
		}
	}
	respondJSON(w, http.StatusOK, map[string]string{
		"status": "healthy",
		"policy": string(h.engine.Policy()),
	})
}

func (h *Handler) withRetry(ctx context.Context, op func() error) error {
	return retry.Do(ctx, h.policy, sentiment.IsTransient, op)
}

func (h *Handler) sectorAndDate(r *http.Request) (models.Sector, time.Time, error) {
	sector, err := h.engine.ParseSector(mux.Vars(r)["sector"])
	if err != nil {
		return "", time.Time{}, err
	}
	date, err := dateVar(r)
	if err != nil {
		return "", time.Time{}, err
	}
	return sector, date, nil
}

func dateVar(r *http.Request) (time.Time, error) {
	date, err := models.ParseDate(mux.Vars(r)["date"])
	if err != nil {
		return time.Time{}, &sentiment.ValidationError{Field: "date", Message: err.Error()}
	}
	return date, nil
}

func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}
