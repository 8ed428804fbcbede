package duel_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/samber/do/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vreid/duel/internal/pkg/battle"
	"github.com/vreid/duel/internal/pkg/common"
	"github.com/vreid/duel/internal/pkg/compute"
	duel "github.com/vreid/duel/internal/pkg/duel"
)

func (f *fixture) request(t *testing.T, method, target string, body any, header ...string) *httptest.ResponseRecorder {
	t.Helper()

	var payload string

	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)

		payload = string(data)
	}

	req := httptest.NewRequest(method, target, strings.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")

	for n := 0; n+1 < len(header); n += 2 {
		req.Header.Set(header[n], header[n+1])
	}

	rec := httptest.NewRecorder()
	do.MustInvoke[*common.EchoService](f.injector).ServeHTTP(rec, req)

	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()

	var result T

	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))

	return result
}

func TestDuelHandlers(t *testing.T) {
	t.Parallel()

	f := newFixture(t, options{}) //nolint:exhaustruct

	rec := f.request(t, http.MethodPost, "/api/duels", duel.CreateRequest{
		DuelID:    3,
		Algorithm: battle.AlgorithmBasic,
		Entry:     entry("alice", strong()),
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.Equal(t, duel.StatusOpen, decode[duel.View](t, rec).Status)

	rec = f.request(t, http.MethodPost, "/api/duels/3/join", duel.JoinRequest{Entry: entry("alice", weak())})
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = f.request(t, http.MethodPost, "/api/duels/3/join", duel.JoinRequest{Entry: entry("bob", weak())})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, duel.StatusMatched, decode[duel.View](t, rec).Status)

	rec = f.request(t, http.MethodPost, "/api/duels/3/claim", duel.ClaimRequest{Player: "carol"})
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = f.request(t, http.MethodPost, "/api/duels/3/battle", nil)
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())
	assert.Equal(t, duel.StatusInBattle, decode[duel.View](t, rec).Status)

	stored, err := f.service.Get(3)
	require.NoError(t, err)
	require.NotEmpty(t, stored.CorrelationID)

	require.NoError(t, f.service.ResolveCallback(t.Context(), compute.Succeeded(stored.CorrelationID, battle.OutcomePlayer2Wins)))

	rec = f.request(t, http.MethodPost, "/api/duels/3/claim", duel.ClaimRequest{Player: "bob"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, 2*stake, decode[duel.ClaimResponse](t, rec).Payout.Amount)

	rec = f.request(t, http.MethodPost, "/api/duels/3/claim", duel.ClaimRequest{Player: "bob"})
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = f.request(t, http.MethodGet, "/api/duels/3/events", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[[]duel.Event](t, rec), 5)

	rec = f.request(t, http.MethodGet, "/api/duels/4", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = f.request(t, http.MethodGet, "/api/duels/x", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.request(t, http.MethodPost, "/api/duels/5/stake", duel.StakeRequest{Entry: entry("alice", strong())}) //nolint:exhaustruct
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rich := entry("bob", weak())
	rich.StakeAmount = 5000
	rec = f.request(t, http.MethodPost, "/api/duels", duel.CreateRequest{DuelID: 6, Entry: rich}) //nolint:exhaustruct
	assert.Equal(t, http.StatusPaymentRequired, rec.Code)

	rec = f.request(t, http.MethodPost, "/api/admin/duels/3/abort", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestAdminAbortHandler(t *testing.T) {
	t.Parallel()

	f := newFixture(t, options{battleTimeout: time.Minute, adminToken: "hunter2"}) //nolint:exhaustruct
	f.matched(t, 1)

	_, err := f.service.StartBattle(t.Context(), 1, "c-1")
	require.NoError(t, err)

	rec := f.request(t, http.MethodPost, "/api/admin/duels/1/abort", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.request(t, http.MethodPost, "/api/admin/duels/1/abort", nil, "Authorization", "Bearer wrong")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = f.request(t, http.MethodPost, "/api/admin/duels/1/abort", nil, "Authorization", "Bearer hunter2")
	assert.Equal(t, http.StatusConflict, rec.Code)

	f.clock = f.clock.Add(2 * time.Minute)

	rec = f.request(t, http.MethodPost, "/api/admin/duels/1/abort", nil, "Authorization", "Bearer hunter2")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	d := decode[duel.View](t, rec)
	assert.Equal(t, duel.StatusDraw, d.Status)
	assert.Equal(t, duel.OutcomeAborted, d.Outcome)
}

func TestDuelViewHidesSealedState(t *testing.T) {
	t.Parallel()

	f := newFixture(t, options{}) //nolint:exhaustruct
	f.matched(t, 1)

	_, err := f.service.StartBattle(t.Context(), 1, "c-1")
	require.NoError(t, err)

	for _, target := range []string{"/api/duels/1", "/api/duels/1/events"} {
		rec := f.request(t, http.MethodGet, target, nil)
		require.Equal(t, http.StatusOK, rec.Code)

		body := rec.Body.String()
		assert.NotContains(t, body, "c-1", target)
		assert.NotContains(t, body, "input", target)
		assert.NotContains(t, body, "correlation", target)
	}
}

func TestCallbackRequiresSignature(t *testing.T) {
	t.Parallel()

	//nolint:exhaustruct
	f := newFixture(t, options{cluster: "https://cluster.example", callbackSecret: "s3cret"})
	f.matched(t, 1)

	_, err := f.service.StartBattle(t.Context(), 1, "c-1")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(t.Context())
	done := make(chan error, 1)

	go func() {
		done <- f.orchestrator.Start(ctx)
	}()

	forged := compute.Succeeded("c-1", battle.OutcomePlayer2Wins)

	rec := f.request(t, http.MethodPost, "/api/compute/callback", forged)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = f.request(t, http.MethodPost, "/api/compute/callback", forged, compute.SignatureHeader, compute.Sign("guess", []byte("{}")))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	assert.Equal(t, duel.StatusInBattle, f.status(t, 1))

	genuine := compute.Succeeded("c-1", battle.OutcomePlayer1Wins)

	data, err := json.Marshal(genuine)
	require.NoError(t, err)

	rec = f.request(t, http.MethodPost, "/api/compute/callback", genuine, compute.SignatureHeader, compute.Sign("s3cret", data))
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())

	require.Eventually(t, func() bool {
		return f.status(t, 1) == duel.StatusCompleted
	}, time.Second, 10*time.Millisecond)

	cancel()
	require.NoError(t, <-done)

	d, err := f.service.Get(1)
	require.NoError(t, err)
	assert.Equal(t, "alice", d.Winner)
}

func TestLocalClusterHasNoCallbackRoute(t *testing.T) {
	t.Parallel()

	f := newFixture(t, options{}) //nolint:exhaustruct
	f.matched(t, 1)

	_, err := f.service.StartBattle(t.Context(), 1, "c-1")
	require.NoError(t, err)

	rec := f.request(t, http.MethodPost, "/api/compute/callback", compute.Succeeded("c-1", battle.OutcomePlayer2Wins))
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, duel.StatusInBattle, f.status(t, 1))
}
