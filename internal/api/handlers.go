package api

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/hfacundo/crypto-listener-rest-sub000/internal/fleet"
	"github.com/hfacundo/crypto-listener-rest-sub000/internal/guard"
	"github.com/hfacundo/crypto-listener-rest-sub000/internal/guardian"
	"github.com/hfacundo/crypto-listener-rest-sub000/internal/signal"
)

// TradeUserResult is one user's outcome for a signal.
type TradeUserResult struct {
	UserID string `json:"user_id"`
	guard.Result
}

// TradeResponse is the aggregate answer to a signal.
type TradeResponse struct {
	Status     string            `json:"status"`
	Symbol     string            `json:"symbol"`
	Direction  string            `json:"direction"`
	TotalUsers int               `json:"total_users"`
	Successful int               `json:"successful"`
	Failed     int               `json:"failed"`
	Results    []TradeUserResult `json:"results"`
}

// handleTrade validates an incoming signal and fans it out to every
// user in parallel. Each user runs their own rule validation and, when
// approved, the full entry protocol. One user's failure never blocks
// another's fill.
func (s *Server) handleTrade(c *gin.Context) {
	log := s.requestLogger(c)

	var sig signal.Signal
	if err := c.ShouldBindJSON(&sig); err != nil {
		errorResponse(c, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	sig.Normalize()
	if err := sig.Validate(); err != nil {
		errorResponse(c, http.StatusBadRequest, err.Error())
		return
	}

	log.Info("signal received",
		"symbol", sig.Symbol, "direction", string(sig.Direction),
		"entry", sig.Entry, "stop", sig.Stop, "target", sig.Target,
		"strategy", sig.Strategy)

	ctx := c.Request.Context()
	now := time.Now().UTC()
	results := make([]TradeUserResult, s.fleet.Size())

	var wg sync.WaitGroup
	for i, user := range s.fleet.Users {
		wg.Add(1)
		go func(i int, user fleet.User) {
			defer wg.Done()
			results[i] = TradeUserResult{UserID: user.ID, Result: s.tradeForUser(ctx, user, &sig, now)}
		}(i, user)
	}
	wg.Wait()

	resp := TradeResponse{
		Status:     "completed",
		Symbol:     sig.Symbol,
		Direction:  string(sig.Direction),
		TotalUsers: len(results),
		Results:    results,
	}
	for _, r := range results {
		if r.Success {
			resp.Successful++
		} else {
			resp.Failed++
		}
	}

	log.Info("signal fan-out done",
		"symbol", sig.Symbol, "successful", resp.Successful, "failed", resp.Failed)
	c.JSON(http.StatusOK, resp)
}

func (s *Server) tradeForUser(ctx context.Context, user fleet.User, sig *signal.Signal, now time.Time) guard.Result {
	r, err := s.rules.Get(ctx, user.ID, sig.Strategy)
	if err != nil {
		s.logger.Error("rules load failed", "user", user.ID, "error", err)
		return guard.Result{Reason: "rules_unavailable"}
	}

	decision := s.engine.Validate(ctx, user.ID, r, sig, user.Client, now)
	if !decision.Approved {
		return guard.Result{Reason: decision.Reason}
	}

	return *s.guard.OpenTrade(ctx, user.ID, user.Client, sig, r)
}

// handleGuardian accepts one monitor decision and dispatches it over
// the fleet.
func (s *Server) handleGuardian(c *gin.Context) {
	log := s.requestLogger(c)

	var env guardian.Envelope
	if err := c.ShouldBindJSON(&env); err != nil {
		errorResponse(c, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	log.Info("guardian envelope received", "action", env.Action, "symbol", env.Symbol)

	summary, err := s.dispatcher.Dispatch(c.Request.Context(), &env)
	if err != nil {
		errorResponse(c, http.StatusBadRequest, err.Error())
		return
	}
	c.JSON(http.StatusOK, summary)
}
