package compute

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/labstack/gommon/log"
	"github.com/samber/do/v2"
	"github.com/vreid/duel/internal/pkg/common"
	"go.etcd.io/bbolt"
)

// Resolver receives routed outcomes. It must consume the request with
// Consume inside the same transaction that applies the result.
type Resolver interface {
	ResolveCallback(ctx context.Context, outcome Outcome) error
}

type Orchestrator struct {
	DatabaseService *common.DatabaseService

	Cluster        Cluster
	CallbackSecret string

	OutcomeSource <-chan Outcome
	OutcomeSink   chan<- Outcome

	resolver Resolver
	done     chan struct{}
	stopOnce sync.Once
	logger   *log.Logger
}

func NewOrchestrator(i do.Injector) (*Orchestrator, error) {
	databaseService := do.MustInvoke[*common.DatabaseService](i)

	outcomeSource := do.MustInvokeNamed[<-chan Outcome](i, "outcome-source")
	outcomeSink := do.MustInvokeNamed[chan<- Outcome](i, "outcome-sink")

	clusterTarget := do.MustInvokeNamed[string](i, "cluster")
	callbackURL := do.MustInvokeNamed[string](i, "callback-url")
	callbackSecret := do.MustInvokeNamed[string](i, "callback-secret")

	done := make(chan struct{})

	cluster, err := NewCluster(clusterTarget, callbackURL, outcomeSink, done)
	if err != nil {
		return nil, err
	}

	_, remote := cluster.(*HTTPCluster)
	if remote && callbackSecret == "" {
		return nil, fmt.Errorf("%w: remote cluster %s", ErrMissingCallbackSecret, clusterTarget)
	}

	//nolint:exhaustruct
	result := &Orchestrator{
		DatabaseService: databaseService,

		Cluster:        cluster,
		CallbackSecret: callbackSecret,

		OutcomeSource: outcomeSource,
		OutcomeSink:   outcomeSink,

		done:   done,
		logger: log.New("orchestrator"),
	}

	echoService, err := do.Invoke[*common.EchoService](i)
	if err != nil {
		return nil, fmt.Errorf("failed to create echo service: %w", err)
	}

	echoService.Register(result.register)

	if remote {
		echoService.Register(result.registerCallback)
	}

	return result, nil
}

func (o *Orchestrator) Handle(resolver Resolver) {
	o.resolver = resolver
}

func buckets(tx *bbolt.Tx) (*bbolt.Bucket, *bbolt.Bucket, error) {
	requests := tx.Bucket([]byte(common.RequestsBucket))
	if requests == nil {
		return nil, nil, ErrRequestsBucketNotFound
	}

	inflight := tx.Bucket([]byte(common.InflightBucket))
	if inflight == nil {
		return nil, nil, ErrInflightBucketNotFound
	}

	return requests, inflight, nil
}

func getRequest(requests *bbolt.Bucket, correlationID string) (*Request, error) {
	data := requests.Get([]byte(correlationID))
	if data == nil {
		return nil, fmt.Errorf("%w: %s", ErrUnknownCorrelation, correlationID)
	}

	var req Request

	err := json.Unmarshal(data, &req)
	if err != nil {
		return nil, fmt.Errorf("failed to unmarshal request: %w", err)
	}

	return &req, nil
}

// Submit registers req inside tx. A duel may have at most one live
// request. The request reaches the cluster through Dispatch once tx has
// committed.
func (o *Orchestrator) Submit(tx *bbolt.Tx, req Request) error {
	if o.Cluster == nil {
		return ErrClusterNotSet
	}

	if req.CorrelationID == "" {
		return ErrMissingCorrelation
	}

	requests, inflight, err := buckets(tx)
	if err != nil {
		return err
	}

	if live := inflight.Get(common.IDKey(req.DuelID)); live != nil {
		return fmt.Errorf("%w: duel %d awaits %s", ErrRequestInFlight, req.DuelID, live)
	}

	if requests.Get([]byte(req.CorrelationID)) != nil {
		return fmt.Errorf("%w: correlation %s already registered", ErrRequestInFlight, req.CorrelationID)
	}

	if req.SubmittedAt.IsZero() {
		req.SubmittedAt = time.Now().UTC()
	}

	data, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	err = requests.Put([]byte(req.CorrelationID), data)
	if err != nil {
		return fmt.Errorf("failed to put request: %w", err)
	}

	err = inflight.Put(common.IDKey(req.DuelID), []byte(req.CorrelationID))
	if err != nil {
		return fmt.Errorf("failed to put inflight marker: %w", err)
	}

	return nil
}

// Dispatch hands a committed request to the cluster. A rejected request is
// resolved as a failed computation so the duel can be resubmitted.
func (o *Orchestrator) Dispatch(ctx context.Context, req Request) error {
	if o.Cluster == nil {
		return ErrClusterNotSet
	}

	err := o.Cluster.Queue(ctx, req)
	if err != nil {
		o.logger.Errorj(log.JSON{
			"msg":            "computation rejected",
			"duel_id":        req.DuelID,
			"correlation_id": req.CorrelationID,
			"error":          err.Error(),
		})

		_ = o.OnResult(ctx, Failed(req.CorrelationID, err.Error()))

		return fmt.Errorf("failed to submit computation: %w", err)
	}

	o.logger.Infoj(log.JSON{
		"msg":            "computation submitted",
		"duel_id":        req.DuelID,
		"correlation_id": req.CorrelationID,
		"algorithm":      req.Algorithm,
		"args":           len(req.Args),
	})

	return nil
}

// Consume removes the live request for correlationID and returns it.
func (o *Orchestrator) Consume(tx *bbolt.Tx, correlationID string) (*Request, error) {
	requests, inflight, err := buckets(tx)
	if err != nil {
		return nil, err
	}

	req, err := getRequest(requests, correlationID)
	if err != nil {
		return nil, err
	}

	err = requests.Delete([]byte(correlationID))
	if err != nil {
		return nil, fmt.Errorf("failed to delete request: %w", err)
	}

	if string(inflight.Get(common.IDKey(req.DuelID))) == correlationID {
		err = inflight.Delete(common.IDKey(req.DuelID))
		if err != nil {
			return nil, fmt.Errorf("failed to delete inflight marker: %w", err)
		}
	}

	return req, nil
}

// ConsumeDuel removes whatever request is live for duelID.
func (o *Orchestrator) ConsumeDuel(tx *bbolt.Tx, duelID uint64) (*Request, error) {
	_, inflight, err := buckets(tx)
	if err != nil {
		return nil, err
	}

	live := inflight.Get(common.IDKey(duelID))
	if live == nil {
		return nil, fmt.Errorf("%w: duel %d", ErrUnknownCorrelation, duelID)
	}

	return o.Consume(tx, string(live))
}

func (o *Orchestrator) Lookup(correlationID string) (*Request, error) {
	var result *Request

	err := o.DatabaseService.DB.View(func(tx *bbolt.Tx) error {
		requests, _, err := buckets(tx)
		if err != nil {
			return err
		}

		result, err = getRequest(requests, correlationID)

		return err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to look up request: %w", err)
	}

	return result, nil
}

// OnResult routes an outcome to the resolver. Outcomes without a live
// request are dropped.
func (o *Orchestrator) OnResult(ctx context.Context, outcome Outcome) error {
	if o.resolver == nil {
		return ErrNoResolver
	}

	err := o.resolver.ResolveCallback(ctx, outcome)
	if errors.Is(err, ErrUnknownCorrelation) {
		o.logger.Warnj(log.JSON{
			"msg":            "dropping outcome without live request",
			"correlation_id": outcome.CorrelationID,
		})
	}

	//nolint:wrapcheck
	return err
}

func (o *Orchestrator) Deliver(ctx context.Context, outcome Outcome) error {
	select {
	case o.OutcomeSink <- outcome:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("failed to deliver outcome: %w", ctx.Err())
	}
}

// Start drains the outcome inbox until ctx is done. Pending local
// evaluations give up once it returns.
func (o *Orchestrator) Start(ctx context.Context) error {
	defer o.stopOnce.Do(func() {
		close(o.done)
	})

	for {
		select {
		case <-ctx.Done():
			return nil
		case outcome, ok := <-o.OutcomeSource:
			if !ok {
				return nil
			}

			err := o.OnResult(ctx, outcome)
			if err != nil && !errors.Is(err, ErrUnknownCorrelation) {
				o.logger.Errorj(log.JSON{
					"msg":            "failed to resolve outcome",
					"correlation_id": outcome.CorrelationID,
					"error":          err.Error(),
				})
			}
		}
	}
}
