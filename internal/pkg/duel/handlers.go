package duel

import (
	"crypto/subtle"
	"errors"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/vreid/duel/internal/pkg/battle"
	"github.com/vreid/duel/internal/pkg/compute"
	"github.com/vreid/duel/internal/pkg/escrow"
)

type CreateRequest struct {
	DuelID    uint64           `json:"duel_id"`
	Algorithm battle.Algorithm `json:"algorithm,omitempty"`
	Entry
}

type JoinRequest struct {
	Entry
}

type StakeRequest struct {
	Algorithm battle.Algorithm `json:"algorithm,omitempty"`
	Entry
}

type ClaimRequest struct {
	Player string `json:"player"`
}

type ClaimResponse struct {
	DuelID uint64        `json:"duel_id"`
	Payout escrow.Payout `json:"payout"`
}

var errorStatus = []struct {
	err    error
	status int
}{
	{ErrDuelNotFound, http.StatusNotFound},
	{ErrNotAParticipant, http.StatusForbidden},
	{ErrNotTheWinner, http.StatusForbidden},
	{ErrDuelExists, http.StatusConflict},
	{ErrDuelNotOpen, http.StatusConflict},
	{ErrCannotDuelYourself, http.StatusConflict},
	{ErrBattleNotReady, http.StatusConflict},
	{ErrBattleNotCompleted, http.StatusConflict},
	{ErrWinningsAlreadyClaimed, http.StatusConflict},
	{ErrBattleNotInProgress, http.StatusConflict},
	{ErrBattleNotTimedOut, http.StatusConflict},
	{compute.ErrRequestInFlight, http.StatusConflict},
	{escrow.ErrInsufficientFunds, http.StatusPaymentRequired},
	{compute.ErrClusterNotSet, http.StatusServiceUnavailable},
	{compute.ErrClusterRejected, http.StatusServiceUnavailable},
	{ErrAbortDisabled, http.StatusServiceUnavailable},
	{ErrMissingPlayer, http.StatusBadRequest},
	{ErrMissingAsset, http.StatusBadRequest},
	{ErrInvalidStake, http.StatusBadRequest},
	{escrow.ErrAssetMismatch, http.StatusBadRequest},
	{escrow.ErrInvalidAmount, http.StatusBadRequest},
	{escrow.ErrBalanceOverflow, http.StatusBadRequest},
	{battle.ErrUnknownAlgorithm, http.StatusBadRequest},
	{compute.ErrMalformedArguments, http.StatusBadRequest},
}

func httpError(err error) *echo.HTTPError {
	for _, candidate := range errorStatus {
		if errors.Is(err, candidate.err) {
			return echo.NewHTTPError(candidate.status, err.Error())
		}
	}

	return echo.NewHTTPError(http.StatusInternalServerError, "internal error")
}

func duelID(c echo.Context) (uint64, error) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil {
		return 0, echo.NewHTTPError(http.StatusBadRequest, "invalid duel id")
	}

	return id, nil
}

func (s *DuelService) register(e *echo.Echo) {
	apiGroup := e.Group("/api")

	duelsGroup := apiGroup.Group("/duels")
	duelsGroup.POST("", s.PostDuel)
	duelsGroup.GET("/:id", s.GetDuel)
	duelsGroup.GET("/:id/events", s.GetEvents)
	duelsGroup.POST("/:id/join", s.PostJoin)
	duelsGroup.POST("/:id/stake", s.PostStake)
	duelsGroup.POST("/:id/battle", s.PostBattle)
	duelsGroup.POST("/:id/claim", s.PostClaim)

	if s.AdminToken != "" {
		adminGroup := apiGroup.Group("/admin", middleware.KeyAuth(func(key string, _ echo.Context) (bool, error) {
			return subtle.ConstantTimeCompare([]byte(key), []byte(s.AdminToken)) == 1, nil
		}))
		adminGroup.POST("/duels/:id/abort", s.PostAbort)
	}
}

func (s *DuelService) PostDuel(c echo.Context) error {
	var request CreateRequest

	err := c.Bind(&request)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	d, err := s.Create(c.Request().Context(), request.DuelID, request.Algorithm, request.Entry)
	if err != nil {
		return httpError(err)
	}

	//nolint:wrapcheck
	return c.JSON(http.StatusCreated, d.View())
}

func (s *DuelService) GetDuel(c echo.Context) error {
	id, err := duelID(c)
	if err != nil {
		return err
	}

	d, err := s.Get(id)
	if err != nil {
		return httpError(err)
	}

	//nolint:wrapcheck
	return c.JSON(http.StatusOK, d.View())
}

func (s *DuelService) GetEvents(c echo.Context) error {
	id, err := duelID(c)
	if err != nil {
		return err
	}

	events, err := s.Events(id)
	if err != nil {
		return httpError(err)
	}

	//nolint:wrapcheck
	return c.JSON(http.StatusOK, events)
}

func (s *DuelService) PostJoin(c echo.Context) error {
	id, err := duelID(c)
	if err != nil {
		return err
	}

	var request JoinRequest

	err = c.Bind(&request)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	d, err := s.Join(c.Request().Context(), id, request.Entry)
	if err != nil {
		return httpError(err)
	}

	//nolint:wrapcheck
	return c.JSON(http.StatusOK, d.View())
}

func (s *DuelService) PostStake(c echo.Context) error {
	id, err := duelID(c)
	if err != nil {
		return err
	}

	var request StakeRequest

	err = c.Bind(&request)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	d, err := s.Stake(c.Request().Context(), id, request.Algorithm, request.Entry)
	if err != nil {
		return httpError(err)
	}

	//nolint:wrapcheck
	return c.JSON(http.StatusOK, d.View())
}

func (s *DuelService) PostBattle(c echo.Context) error {
	id, err := duelID(c)
	if err != nil {
		return err
	}

	d, err := s.StartBattle(c.Request().Context(), id, "")
	if err != nil {
		return httpError(err)
	}

	//nolint:wrapcheck
	return c.JSON(http.StatusAccepted, d.View())
}

func (s *DuelService) PostClaim(c echo.Context) error {
	id, err := duelID(c)
	if err != nil {
		return err
	}

	var request ClaimRequest

	err = c.Bind(&request)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	payout, err := s.Claim(c.Request().Context(), id, request.Player)
	if err != nil {
		return httpError(err)
	}

	//nolint:wrapcheck
	return c.JSON(http.StatusOK, ClaimResponse{
		DuelID: id,
		Payout: payout,
	})
}

func (s *DuelService) PostAbort(c echo.Context) error {
	id, err := duelID(c)
	if err != nil {
		return err
	}

	d, err := s.Abort(c.Request().Context(), id)
	if err != nil {
		return httpError(err)
	}

	//nolint:wrapcheck
	return c.JSON(http.StatusOK, d.View())
}
