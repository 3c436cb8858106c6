package http

import (
	"errors"
	"io"
	"net/http"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/pcrsearch/internal/chat"
	"github.com/fyrsmithlabs/pcrsearch/internal/line"
	"github.com/fyrsmithlabs/pcrsearch/internal/pcr"
	"github.com/fyrsmithlabs/pcrsearch/internal/records"
	"github.com/fyrsmithlabs/pcrsearch/internal/search"
	"github.com/fyrsmithlabs/pcrsearch/internal/vectorstore"
)

const (
	defaultLimit = 100
	maxLimit     = records.MaxLimit

	sourceVector = "vector"
	sourceDB     = "db"

	maxWebhookBody = 1 << 20

	msgIndexUnavailable = "index unavailable, try later"
	msgInternal         = "internal server error"
)

// SearchResponse is the response body for GET /api/v1/search.
type SearchResponse struct {
	Query   string       `json:"query"`
	Results []pcr.Record `json:"results"`
}

// HealthResponse is the response body for GET /health.
type HealthResponse struct {
	Status  string              `json:"status"`
	Version string              `json:"version,omitempty"`
	Index   *vectorstore.Health `json:"index,omitempty"`
	Records string              `json:"records,omitempty"`
}

// handleHealth reports 200 when the index holds passages and the record
// store answers, 503 otherwise.
func (s *Server) handleHealth(c echo.Context) error {
	ctx := c.Request().Context()
	resp := HealthResponse{Status: "ok", Version: s.deps.Version}

	if s.deps.Index != nil {
		h := vectorstore.CheckHealth(ctx, s.deps.Index)
		resp.Index = &h
		if !h.Healthy() {
			resp.Status = "degraded"
		}
	}
	if s.deps.Records != nil {
		resp.Records = "ok"
		if err := s.deps.Records.Ping(ctx); err != nil {
			resp.Records = err.Error()
			resp.Status = "degraded"
		}
	}

	code := http.StatusOK
	if resp.Status != "ok" {
		code = http.StatusServiceUnavailable
	}
	return c.JSON(code, resp)
}

// handleRecords serves GET /pcr_records.
func (s *Server) handleRecords(c echo.Context) error {
	skip, limit := 0, defaultLimit
	source := sourceVector
	var term string
	if err := echo.QueryParamsBinder(c).
		Int("skip", &skip).
		Int("limit", &limit).
		String("search", &term).
		String("source", &source).
		BindError(); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "skip and limit must be integers")
	}
	if skip < 0 {
		return echo.NewHTTPError(http.StatusBadRequest, "skip must be >= 0")
	}
	if limit < 1 || limit > maxLimit {
		return echo.NewHTTPError(http.StatusBadRequest, "limit must be between 1 and 1000")
	}

	ctx := c.Request().Context()
	switch source {
	case sourceVector:
		if s.deps.Search == nil {
			return echo.NewHTTPError(http.StatusServiceUnavailable, msgIndexUnavailable)
		}
		// Rank enough documents to fill the requested page.
		topN := search.DefaultMaxK
		if skip < topN-limit {
			topN = skip + limit
		}
		recs, err := s.deps.Search.SearchRecords(ctx, term, search.Options{TopN: topN})
		if err != nil {
			return s.searchError(c, err)
		}
		return c.JSON(http.StatusOK, page(recs, skip, limit))

	case sourceDB:
		if s.deps.Records == nil {
			return echo.NewHTTPError(http.StatusServiceUnavailable, "record store unavailable")
		}
		recs, err := s.deps.Records.List(ctx, records.ListOptions{Skip: skip, Limit: limit, Search: term})
		if err != nil {
			if errors.Is(err, records.ErrInvalidQuery) {
				return echo.NewHTTPError(http.StatusBadRequest, err.Error())
			}
			s.logger.Error(ctx, "record lookup failed", zap.Error(err))
			return echo.NewHTTPError(http.StatusInternalServerError, msgInternal)
		}
		return c.JSON(http.StatusOK, nonNil(recs))

	default:
		return echo.NewHTTPError(http.StatusBadRequest, "source must be vector or db")
	}
}

// handleSearch serves GET /api/v1/search.
func (s *Server) handleSearch(c echo.Context) error {
	var (
		q    string
		opts search.Options
	)
	if err := echo.QueryParamsBinder(c).
		String("q", &q).
		Int("top_n", &opts.TopN).
		Int("k", &opts.InitialK).
		BindError(); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "top_n and k must be integers")
	}
	if s.deps.Search == nil {
		return echo.NewHTTPError(http.StatusServiceUnavailable, msgIndexUnavailable)
	}

	recs, err := s.deps.Search.SearchRecords(c.Request().Context(), q, opts)
	if err != nil {
		return s.searchError(c, err)
	}
	return c.JSON(http.StatusOK, SearchResponse{Query: q, Results: nonNil(recs)})
}

func (s *Server) searchError(c echo.Context, err error) error {
	ctx := c.Request().Context()
	switch {
	case errors.Is(err, search.ErrIndexUnavailable):
		s.logger.Warn(ctx, "search index unavailable", zap.Error(err))
		return echo.NewHTTPError(http.StatusServiceUnavailable, msgIndexUnavailable)
	case errors.Is(err, search.ErrInvalidOptions):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	default:
		s.logger.Error(ctx, "search failed", zap.Error(err))
		return echo.NewHTTPError(http.StatusInternalServerError, msgInternal)
	}
}

// handleChat serves POST /api/chat. Generation errors are returned to the
// client verbatim.
func (s *Server) handleChat(c echo.Context) error {
	if s.deps.Chat == nil {
		return echo.NewHTTPError(http.StatusServiceUnavailable, "chat unavailable")
	}
	var req chat.Request
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	resp, err := s.deps.Chat.Chat(c.Request().Context(), req)
	if err != nil {
		if errors.Is(err, chat.ErrNoMessages) {
			return echo.NewHTTPError(http.StatusBadRequest, err.Error())
		}
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, resp)
}

// handleWebhook serves POST /webhook.
func (s *Server) handleWebhook(c echo.Context) error {
	if s.deps.Webhook == nil {
		return echo.NewHTTPError(http.StatusServiceUnavailable, "line bot unavailable")
	}
	body, err := io.ReadAll(io.LimitReader(c.Request().Body, maxWebhookBody))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "failed to read body")
	}

	err = s.deps.Webhook.HandleWebhook(c.Request().Context(), body, c.Request().Header.Get(line.SignatureHeader))
	switch {
	case err == nil:
		return c.String(http.StatusOK, "OK")
	case errors.Is(err, line.ErrInvalidSignature):
		return echo.NewHTTPError(http.StatusUnauthorized, "invalid signature")
	case errors.Is(err, line.ErrInvalidBody):
		return echo.NewHTTPError(http.StatusBadRequest, "invalid JSON body")
	default:
		s.logger.Error(c.Request().Context(), "webhook failed", zap.Error(err))
		return echo.NewHTTPError(http.StatusInternalServerError, msgInternal)
	}
}

// page applies skip and limit to ranked results.
func page(recs []pcr.Record, skip, limit int) []pcr.Record {
	if skip >= len(recs) {
		return []pcr.Record{}
	}
	end := skip + limit
	if end > len(recs) {
		end = len(recs)
	}
	return recs[skip:end]
}

func nonNil(recs []pcr.Record) []pcr.Record {
	if recs == nil {
		return []pcr.Record{}
	}
	return recs
}
