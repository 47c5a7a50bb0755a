package httpapi

import (
	"encoding/json"
	"errors"
	"io"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/radieske/prediction-rounds/internal/domain"
	"github.com/radieske/prediction-rounds/internal/ledger"
	"github.com/radieske/prediction-rounds/internal/pricefeed"
	"github.com/radieske/prediction-rounds/internal/repo"
	"github.com/radieske/prediction-rounds/internal/round-service/dto"
	"github.com/radieske/prediction-rounds/internal/rounds"
	"github.com/radieske/prediction-rounds/internal/settlement"
	"github.com/radieske/prediction-rounds/internal/stats"
)

// Server expõe a API REST de rodadas, previsões, usuários e ranking.
type Server struct {
	log    *zap.Logger
	rounds *rounds.Manager
	ledger *ledger.Ledger
	engine *settlement.Engine
	stats  *stats.Aggregator
	feed   pricefeed.Feed

	// opcionais
	WS              http.HandlerFunc
	Limiter         *RateLimiter
	DefaultDuration time.Duration
}

func NewServer(log *zap.Logger, rm *rounds.Manager, l *ledger.Ledger, e *settlement.Engine, agg *stats.Aggregator, feed pricefeed.Feed) *Server {
	return &Server{
		log:             log,
		rounds:          rm,
		ledger:          l,
		engine:          e,
		stats:           agg,
		feed:            feed,
		DefaultDuration: 5 * time.Minute,
	}
}

// Router retorna o roteador HTTP com os endpoints REST
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID, middleware.Recoverer)

	r.Route("/v1/rounds", func(r chi.Router) {
		r.Get("/active", s.activeRounds)
		r.Get("/history", s.roundHistory)
		r.Post("/", s.createRound)
		r.Get("/{id}", s.getRound)
		r.Get("/{id}/predictions", s.roundPredictions)
		r.Post("/{id}/lock", s.lockRound)
		r.Post("/{id}/resolve", s.resolveRound)
		r.Post("/{id}/cancel", s.cancelRound)
	})
	r.Post("/v1/predictions", s.placePrediction)
	r.Get("/v1/predictions/{id}", s.getPrediction)

	r.Route("/v1/users/{id}", func(r chi.Router) {
		r.Get("/", s.getUser)
		r.Get("/predictions", s.userPredictions)
		r.Get("/stats", s.userStats)
		r.Post("/deposit", s.deposit)
	})
	r.Get("/v1/leaderboard", s.leaderboard)

	if s.WS != nil {
		r.Get("/ws", s.WS)
	}
	return r
}

func (s *Server) activeRounds(w http.ResponseWriter, r *http.Request) {
	list, err := s.rounds.ListActive(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, dto.RoundsResponse{Rounds: nonNil(list)})
}

func (s *Server) roundHistory(w http.ResponseWriter, r *http.Request) {
	limit, offset, err := page(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	f := repo.HistoryFilter{Limit: limit, Offset: offset}
	if m := r.URL.Query().Get("mode"); m != "" {
		if f.Mode, err = domain.ParseMode(m); err != nil {
			s.writeError(w, r, err)
			return
		}
	}

	list, err := s.rounds.ListHistory(r.Context(), f)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	limit, offset = repo.ClampPage(limit, offset, s.rounds.HistoryMaxPage)
	writeJSON(w, http.StatusOK, dto.RoundsResponse{Rounds: nonNil(list), Limit: limit, Offset: offset})
}

func (s *Server) getRound(w http.ResponseWriter, r *http.Request) {
	rd, err := s.rounds.GetRound(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rd)
}

func (s *Server) roundPredictions(w http.ResponseWriter, r *http.Request) {
	list, err := s.ledger.ListByRound(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, dto.PredictionsResponse{Predictions: nonNil(list)})
}

func (s *Server) createRound(w http.ResponseWriter, r *http.Request) {
	var req dto.CreateRoundRequest
	if err := decode(r, &req, false); err != nil {
		s.writeError(w, r, err)
		return
	}
	mode, err := domain.ParseMode(req.Mode)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	// acima disso a conversão para time.Duration estoura int64
	if req.DurationSeconds < 0 || req.DurationSeconds > math.MaxInt64/int64(time.Second) {
		s.writeError(w, r, domain.Validationf("durationSeconds out of range: %d", req.DurationSeconds))
		return
	}
	duration := time.Duration(req.DurationSeconds) * time.Second
	if req.DurationSeconds == 0 {
		duration = s.DefaultDuration
	}
	price, err := s.priceOr(r, req.StartPrice)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	rd, err := s.rounds.CreateRound(r.Context(), mode, price, duration)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, rd)
}

func (s *Server) lockRound(w http.ResponseWriter, r *http.Request) {
	rd, err := s.rounds.Lock(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rd)
}

func (s *Server) resolveRound(w http.ResponseWriter, r *http.Request) {
	var req dto.ResolveRoundRequest
	if err := decode(r, &req, true); err != nil {
		s.writeError(w, r, err)
		return
	}
	price, err := s.priceOr(r, req.FinalPrice)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	rep, err := s.engine.Resolve(r.Context(), chi.URLParam(r, "id"), price)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, settlementResponse(rep, rep.Plan.Outcome.String()))
}

func (s *Server) cancelRound(w http.ResponseWriter, r *http.Request) {
	rep, err := s.engine.Cancel(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, settlementResponse(rep, "CANCELLED"))
}

func (s *Server) placePrediction(w http.ResponseWriter, r *http.Request) {
	var req dto.PlacePredictionRequest
	if err := decode(r, &req, false); err != nil {
		s.writeError(w, r, err)
		return
	}
	if s.Limiter != nil && req.UserID != "" && !s.Limiter.Allow(req.UserID) {
		writeJSON(w, http.StatusTooManyRequests, dto.ErrorResponse{Error: "rate limit exceeded"})
		return
	}
	choice, err := choiceOf(req)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	p, err := s.ledger.Submit(r.Context(), ledger.SubmitInput{
		UserID:      req.UserID,
		RoundID:     req.RoundID,
		AmountCents: req.AmountCents,
		Choice:      choice,
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, p)
}

func (s *Server) getPrediction(w http.ResponseWriter, r *http.Request) {
	p, err := s.ledger.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (s *Server) getUser(w http.ResponseWriter, r *http.Request) {
	u, err := s.ledger.User(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, dto.NewUser(u))
}

func (s *Server) userPredictions(w http.ResponseWriter, r *http.Request) {
	limit, offset, err := page(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	list, err := s.ledger.ListByUser(r.Context(), chi.URLParam(r, "id"), limit, offset)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, dto.PredictionsResponse{Predictions: nonNil(list)})
}

func (s *Server) userStats(w http.ResponseWriter, r *http.Request) {
	e, err := s.stats.UserStats(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, dto.NewUserStats(*e))
}

func (s *Server) deposit(w http.ResponseWriter, r *http.Request) {
	var req dto.DepositRequest
	if err := decode(r, &req, false); err != nil {
		s.writeError(w, r, err)
		return
	}
	u, err := s.ledger.Deposit(r.Context(), chi.URLParam(r, "id"), req.AmountCents)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, dto.NewUser(u))
}

func (s *Server) leaderboard(w http.ResponseWriter, r *http.Request) {
	limit, offset, err := page(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	board, err := s.stats.Leaderboard(r.Context(), limit, offset)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	limit, offset = repo.ClampPage(limit, offset, repo.MaxPageSize)
	out := dto.LeaderboardResponse{Entries: make([]dto.UserStatsResponse, 0, len(board)), Limit: limit, Offset: offset}
	for _, e := range board {
		out.Entries = append(out.Entries, dto.NewUserStats(e))
	}
	writeJSON(w, http.StatusOK, out)
}

// priceOr usa o preço informado ou, na falta dele, o do feed.
func (s *Server) priceOr(r *http.Request, p *decimal.Decimal) (decimal.Decimal, error) {
	if p != nil {
		return *p, nil
	}
	if s.feed == nil {
		return decimal.Zero, domain.ErrFeedUnavailable
	}
	return s.feed.CurrentPrice(r.Context())
}

func choiceOf(req dto.PlacePredictionRequest) (domain.Choice, error) {
	switch {
	case req.Side != "" && req.Range != nil:
		return domain.Choice{}, domain.Validationf("side and range are mutually exclusive")
	case req.Side != "":
		side, err := domain.ParseSide(req.Side)
		if err != nil {
			return domain.Choice{}, err
		}
		return domain.SideChoice(side), nil
	case req.Range != nil:
		return domain.RangeChoice(domain.PriceRange{Min: req.Range.Min, Max: req.Range.Max}), nil
	}
	return domain.Choice{}, domain.Validationf("side or range is required")
}

func settlementResponse(rep *settlement.Report, outcome string) dto.SettlementResponse {
	return dto.SettlementResponse{
		Round:        rep.Round,
		Outcome:      outcome,
		WinnerCount:  rep.Plan.Winners,
		LoserCount:   rep.Plan.Losers,
		RefundCount:  rep.Plan.Refunds,
		WinningCents: rep.Plan.WinningCents,
		LosingCents:  rep.Plan.LosingCents,
		PayoutCents:  rep.Plan.PayoutCents(),
	}
}

// decode lê o corpo JSON; optional aceita corpo vazio.
func decode(r *http.Request, v any, optional bool) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, 1<<20))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		if optional && errors.Is(err, io.EOF) {
			return nil
		}
		return domain.Validationf("bad json: %v", err)
	}
	return nil
}

func page(r *http.Request) (limit, offset int, err error) {
	q := r.URL.Query()
	if v := q.Get("limit"); v != "" {
		if limit, err = strconv.Atoi(v); err != nil || limit < 0 {
			return 0, 0, domain.Validationf("invalid limit %q", v)
		}
	}
	if v := q.Get("offset"); v != "" {
		if offset, err = strconv.Atoi(v); err != nil || offset < 0 {
			return 0, 0, domain.Validationf("invalid offset %q", v)
		}
	}
	return limit, offset, nil
}

// listas vazias saem como [] e não null
func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
