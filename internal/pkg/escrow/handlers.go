package escrow

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"
)

type FundRequest struct {
	Asset  string `json:"asset"`
	Amount uint64 `json:"amount"`
}

type BalanceResponse struct {
	Account string `json:"account"`
	Asset   string `json:"asset"`
	Balance uint64 `json:"balance"`
}

func (l *Ledger) register(e *echo.Echo) {
	apiGroup := e.Group("/api")

	accountsGroup := apiGroup.Group("/accounts")
	accountsGroup.GET("/:account/balances/:asset", l.GetBalance)

	if l.Faucet {
		accountsGroup.POST("/:account/fund", l.PostFund)
	}

	apiGroup.GET("/vaults/:id", l.GetVault)
}

func (l *Ledger) GetBalance(c echo.Context) error {
	account := c.Param("account")
	asset := c.Param("asset")

	balance, err := l.Balance(account, asset)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to read balance")
	}

	//nolint:wrapcheck
	return c.JSON(http.StatusOK, BalanceResponse{
		Account: account,
		Asset:   asset,
		Balance: balance,
	})
}

func (l *Ledger) PostFund(c echo.Context) error {
	var request FundRequest

	err := c.Bind(&request)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	account := c.Param("account")

	err = l.Fund(account, request.Asset, request.Amount)
	if errors.Is(err, ErrInvalidAmount) || errors.Is(err, ErrBalanceOverflow) {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to fund account")
	}

	balance, err := l.Balance(account, request.Asset)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to read balance")
	}

	//nolint:wrapcheck
	return c.JSON(http.StatusOK, BalanceResponse{
		Account: account,
		Asset:   request.Asset,
		Balance: balance,
	})
}

func (l *Ledger) GetVault(c echo.Context) error {
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid duel id")
	}

	vault, err := l.Vault(id)
	if errors.Is(err, ErrVaultNotFound) {
		return echo.NewHTTPError(http.StatusNotFound, "vault not found")
	}

	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to read vault")
	}

	//nolint:wrapcheck
	return c.JSON(http.StatusOK, vault)
}
