package compute_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/samber/do/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vreid/duel/internal/pkg/battle"
	"github.com/vreid/duel/internal/pkg/common"
	compute "github.com/vreid/duel/internal/pkg/compute"
	"go.etcd.io/bbolt"
)

type recordingCluster struct {
	mu       sync.Mutex
	requests []compute.Request
	reject   error
}

func (c *recordingCluster) Queue(_ context.Context, req compute.Request) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.reject != nil {
		return c.reject
	}

	c.requests = append(c.requests, req)

	return nil
}

type recordingResolver struct {
	orchestrator *compute.Orchestrator
	db           *bbolt.DB
	resolved     []compute.Outcome
}

func (r *recordingResolver) ResolveCallback(_ context.Context, outcome compute.Outcome) error {
	err := r.db.Update(func(tx *bbolt.Tx) error {
		_, err := r.orchestrator.Consume(tx, outcome.CorrelationID)

		return err
	})
	if err != nil {
		return err
	}

	r.resolved = append(r.resolved, outcome)

	return nil
}

type fixture struct {
	injector     do.Injector
	orchestrator *compute.Orchestrator
	cluster      *recordingCluster
	db           *bbolt.DB
	outcomes     chan compute.Outcome
}

func newFixture(t *testing.T, target, secret string) *fixture {
	t.Helper()

	i := do.New()

	outcomes := make(chan compute.Outcome, 10)

	var outcomeSource <-chan compute.Outcome = outcomes

	var outcomeSink chan<- compute.Outcome = outcomes

	do.ProvideNamedValue(i, "data-dir", t.TempDir())
	do.ProvideNamedValue(i, "port", 0)
	do.ProvideNamedValue(i, "cluster", target)
	do.ProvideNamedValue(i, "callback-url", "")
	do.ProvideNamedValue(i, "callback-secret", secret)
	do.ProvideNamedValue(i, "outcome-source", outcomeSource)
	do.ProvideNamedValue(i, "outcome-sink", outcomeSink)

	do.Provide(i, common.NewDatabaseService)
	do.Provide(i, common.NewEchoService)
	do.Provide(i, compute.NewOrchestrator)

	databaseService := do.MustInvoke[*common.DatabaseService](i)

	t.Cleanup(func() {
		_ = databaseService.Shutdown()
	})

	orchestrator := do.MustInvoke[*compute.Orchestrator](i)

	cluster := &recordingCluster{}
	orchestrator.Cluster = cluster

	return &fixture{
		injector:     i,
		orchestrator: orchestrator,
		cluster:      cluster,
		db:           databaseService.DB,
		outcomes:     outcomes,
	}
}

func (f *fixture) submit(duelID uint64, correlationID string) error {
	//nolint:exhaustruct
	req := compute.Request{
		CorrelationID: correlationID,
		DuelID:        duelID,
		Algorithm:     battle.AlgorithmBasic,
	}

	err := f.db.Update(func(tx *bbolt.Tx) error {
		return f.orchestrator.Submit(tx, req)
	})
	if err != nil {
		return err
	}

	return f.orchestrator.Dispatch(context.Background(), req)
}

func TestSubmitRejectsSecondLiveRequest(t *testing.T) {
	t.Parallel()

	f := newFixture(t, "", "")

	require.NoError(t, f.submit(1, "c-1"))
	require.ErrorIs(t, f.submit(1, "c-2"), compute.ErrRequestInFlight)
	require.ErrorIs(t, f.submit(2, "c-1"), compute.ErrRequestInFlight)
	require.NoError(t, f.submit(2, "c-2"))

	assert.Len(t, f.cluster.requests, 2)

	req, err := f.orchestrator.Lookup("c-1")
	require.NoError(t, err)
	assert.Equal(t, uint64(1), req.DuelID)
	assert.False(t, req.SubmittedAt.IsZero())
}

func TestSubmitWithoutCluster(t *testing.T) {
	t.Parallel()

	f := newFixture(t, "", "")
	f.orchestrator.Cluster = nil

	require.ErrorIs(t, f.submit(1, "c-1"), compute.ErrClusterNotSet)

	_, err := f.orchestrator.Lookup("c-1")
	require.ErrorIs(t, err, compute.ErrUnknownCorrelation)
}

func TestSubmitRequiresCorrelation(t *testing.T) {
	t.Parallel()

	f := newFixture(t, "", "")

	require.ErrorIs(t, f.submit(1, ""), compute.ErrMissingCorrelation)
}

func TestConsumeFreesDuel(t *testing.T) {
	t.Parallel()

	f := newFixture(t, "", "")

	require.NoError(t, f.submit(1, "c-1"))

	err := f.db.Update(func(tx *bbolt.Tx) error {
		req, err := f.orchestrator.Consume(tx, "c-1")
		require.NoError(t, err)
		assert.Equal(t, uint64(1), req.DuelID)

		_, err = f.orchestrator.Consume(tx, "c-1")
		require.ErrorIs(t, err, compute.ErrUnknownCorrelation)

		_, err = f.orchestrator.ConsumeDuel(tx, 1)
		require.ErrorIs(t, err, compute.ErrUnknownCorrelation)

		return nil
	})
	require.NoError(t, err)

	require.NoError(t, f.submit(1, "c-2"))
}

func TestOnResultDropsUnknownAndDuplicates(t *testing.T) {
	t.Parallel()

	f := newFixture(t, "", "")
	resolver := &recordingResolver{orchestrator: f.orchestrator, db: f.db}
	f.orchestrator.Handle(resolver)

	require.NoError(t, f.submit(1, "c-1"))

	outcome := compute.Succeeded("c-1", battle.OutcomePlayer1Wins)

	require.NoError(t, f.orchestrator.OnResult(context.Background(), outcome))
	require.ErrorIs(t, f.orchestrator.OnResult(context.Background(), outcome), compute.ErrUnknownCorrelation)
	require.ErrorIs(t, f.orchestrator.OnResult(context.Background(), compute.Failed("nope", "x")), compute.ErrUnknownCorrelation)

	assert.Equal(t, []compute.Outcome{outcome}, resolver.resolved)
}

func TestStartDrainsInbox(t *testing.T) {
	t.Parallel()

	f := newFixture(t, "", "")
	resolver := &recordingResolver{orchestrator: f.orchestrator, db: f.db}
	f.orchestrator.Handle(resolver)

	require.NoError(t, f.submit(1, "c-1"))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)

	go func() {
		done <- f.orchestrator.Start(ctx)
	}()

	require.NoError(t, f.orchestrator.Deliver(ctx, compute.Succeeded("c-1", battle.OutcomeDraw)))

	require.Eventually(t, func() bool {
		_, err := f.orchestrator.Lookup("c-1")

		return err != nil
	}, time.Second, 10*time.Millisecond)

	cancel()
	require.NoError(t, <-done)

	assert.Len(t, resolver.resolved, 1)
}

func TestCallbackHandlerVerifiesSignature(t *testing.T) {
	t.Parallel()

	f := newFixture(t, "https://cluster.example", "secret")
	echoService := do.MustInvoke[*common.EchoService](f.injector)

	body := `{"correlation_id":"c-9","success":true,"result":2}`

	req := httptest.NewRequest(http.MethodPost, "/api/compute/callback", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")

	rec := httptest.NewRecorder()
	echoService.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	req = httptest.NewRequest(http.MethodPost, "/api/compute/callback", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(compute.SignatureHeader, "bogus")

	rec = httptest.NewRecorder()
	echoService.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Empty(t, f.outcomes)

	req = httptest.NewRequest(http.MethodPost, "/api/compute/callback", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(compute.SignatureHeader, compute.Sign("secret", []byte(body)))

	rec = httptest.NewRecorder()
	echoService.ServeHTTP(rec, req)

	require.Equal(t, http.StatusAccepted, rec.Code)

	outcome := <-f.outcomes
	assert.Equal(t, compute.Succeeded("c-9", battle.OutcomePlayer2Wins), outcome)
}

func TestCallbackRouteOnlyForRemoteCluster(t *testing.T) {
	t.Parallel()

	for _, target := range []string{"", "local"} {
		f := newFixture(t, target, "secret")
		echoService := do.MustInvoke[*common.EchoService](f.injector)

		body := `{"correlation_id":"c-9","success":true,"result":2}`

		req := httptest.NewRequest(http.MethodPost, "/api/compute/callback", strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set(compute.SignatureHeader, compute.Sign("secret", []byte(body)))

		rec := httptest.NewRecorder()
		echoService.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusNotFound, rec.Code, target)
		assert.Empty(t, f.outcomes)
	}
}

func TestRemoteClusterRequiresCallbackSecret(t *testing.T) {
	t.Parallel()

	i := do.New()

	outcomes := make(chan compute.Outcome, 1)

	var outcomeSource <-chan compute.Outcome = outcomes

	var outcomeSink chan<- compute.Outcome = outcomes

	do.ProvideNamedValue(i, "data-dir", t.TempDir())
	do.ProvideNamedValue(i, "port", 0)
	do.ProvideNamedValue(i, "cluster", "https://cluster.example")
	do.ProvideNamedValue(i, "callback-url", "")
	do.ProvideNamedValue(i, "callback-secret", "")
	do.ProvideNamedValue(i, "outcome-source", outcomeSource)
	do.ProvideNamedValue(i, "outcome-sink", outcomeSink)

	do.Provide(i, common.NewDatabaseService)
	do.Provide(i, common.NewEchoService)
	do.Provide(i, compute.NewOrchestrator)

	databaseService := do.MustInvoke[*common.DatabaseService](i)

	t.Cleanup(func() {
		_ = databaseService.Shutdown()
	})

	_, err := do.Invoke[*compute.Orchestrator](i)
	require.ErrorIs(t, err, compute.ErrMissingCallbackSecret)
}

func TestDispatchRejectionResolvesAsFailure(t *testing.T) {
	t.Parallel()

	f := newFixture(t, "", "")
	resolver := &recordingResolver{orchestrator: f.orchestrator, db: f.db}
	f.orchestrator.Handle(resolver)

	f.cluster.reject = compute.ErrClusterRejected

	require.ErrorIs(t, f.submit(1, "c-1"), compute.ErrClusterRejected)

	require.Len(t, resolver.resolved, 1)
	assert.False(t, resolver.resolved[0].Success)
	assert.Equal(t, "c-1", resolver.resolved[0].CorrelationID)

	_, err := f.orchestrator.Lookup("c-1")
	require.ErrorIs(t, err, compute.ErrUnknownCorrelation)

	f.cluster.reject = nil
	require.NoError(t, f.submit(1, "c-2"))
}

func TestNewCluster(t *testing.T) {
	t.Parallel()

	sink := make(chan compute.Outcome)
	done := make(chan struct{})

	cluster, err := compute.NewCluster("", "", sink, done)
	require.NoError(t, err)
	assert.Nil(t, cluster)

	cluster, err = compute.NewCluster("local", "", sink, done)
	require.NoError(t, err)
	assert.IsType(t, &compute.LocalCluster{}, cluster)

	cluster, err = compute.NewCluster("https://cluster.example", "https://duel.example/api/compute/callback", sink, done)
	require.NoError(t, err)
	assert.IsType(t, &compute.HTTPCluster{}, cluster)

	_, err = compute.NewCluster("carrier-pigeon", "", sink, done)
	require.ErrorIs(t, err, compute.ErrUnknownCluster)
}
