package compute

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/labstack/echo/v4"
)

const SignatureHeader = "X-Duel-Signature"

func (o *Orchestrator) register(e *echo.Echo) {
	apiGroup := e.Group("/api")

	computeGroup := apiGroup.Group("/compute")

	computeGroup.GET("/requests/:correlation", o.GetRequest)
}

// registerCallback exposes the result endpoint for a remote cluster.
func (o *Orchestrator) registerCallback(e *echo.Echo) {
	e.POST("/api/compute/callback", o.PostCallback)
}

func Sign(secret string, body []byte) string {
	h := hmac.New(sha256.New, []byte(secret))
	h.Write(body)

	return hex.EncodeToString(h.Sum(nil))
}

func (o *Orchestrator) PostCallback(c echo.Context) error {
	body, err := io.ReadAll(c.Request().Body)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "failed to read request body")
	}

	signature := c.Request().Header.Get(SignatureHeader)
	if o.CallbackSecret == "" || !hmac.Equal([]byte(signature), []byte(Sign(o.CallbackSecret, body))) {
		return echo.NewHTTPError(http.StatusUnauthorized, ErrInvalidSignature.Error())
	}

	var outcome Outcome

	err = json.Unmarshal(body, &outcome)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	if outcome.CorrelationID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, ErrMissingCorrelation.Error())
	}

	err = o.Deliver(c.Request().Context(), outcome)
	if err != nil {
		return echo.NewHTTPError(http.StatusServiceUnavailable, "failed to deliver outcome")
	}

	return c.NoContent(http.StatusAccepted)
}

func (o *Orchestrator) GetRequest(c echo.Context) error {
	req, err := o.Lookup(c.Param("correlation"))
	if errors.Is(err, ErrUnknownCorrelation) {
		return echo.NewHTTPError(http.StatusNotFound, "no live request")
	}

	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to look up request")
	}

	//nolint:wrapcheck
	return c.JSON(http.StatusOK, req)
}
