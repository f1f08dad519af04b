package client

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"

	retry "github.com/appleboy/go-httpretry"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/oauth2"

	"github.com/go-authgate/meetgate/apierr"
	"github.com/go-authgate/meetgate/obs"
	"github.com/go-authgate/meetgate/tokenstore"
)

// state is one step of a single Execute call.
type state int

const (
	stateAttach   state = iota // load the stored token
	stateSend                  // perform the HTTP call
	stateEvaluate              // classify the response
	stateRefresh               // renew the token after a 401
	stateParse                 // decode a 2xx body
	stateFail                  // build the rejection error
)

// attempt is the per-call bookkeeping. It never outlives Execute.
type attempt struct {
	token      string
	canRefresh bool
	retried    bool
	requestID  string
	resp       *response
}

// Executor performs calls with bearer-token attachment and at most one
// refresh-and-retry per call. It holds no per-call state and is safe for
// concurrent use; concurrent calls do not coordinate their refreshes.
type Executor struct {
	http      Doer
	store     tokenstore.Store
	refresher Refresher
	observer  Observer
	log       *zap.Logger
}

// ExecutorOption customizes an Executor.
type ExecutorOption func(*Executor)

// WithObserver reports authentication events to o.
func WithObserver(o Observer) ExecutorOption {
	return func(e *Executor) {
		if o != nil {
			e.observer = o
		}
	}
}

// WithLogger sets the logger. A nil logger disables logging.
func WithLogger(log *zap.Logger) ExecutorOption {
	return func(e *Executor) {
		if log != nil {
			e.log = log
		}
	}
}

// NewExecutor returns an Executor sending through doer. store and refresher
// may be nil for an executor that only serves SkipAuth requests.
func NewExecutor(doer Doer, store tokenstore.Store, refresher Refresher, opts ...ExecutorOption) *Executor {
	e := &Executor{
		http:      doer,
		store:     store,
		refresher: refresher,
		observer:  NopObserver{},
		log:       zap.NewNop(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Execute performs the call and returns the decoded JSON body for JSON
// responses or the body text otherwise.
func (e *Executor) Execute(ctx context.Context, rawURL string, req Request) (any, error) {
	a, err := e.run(ctx, rawURL, req)
	if err != nil {
		return nil, err
	}
	v, err := a.resp.parse(req.op())
	e.finish(ctx, rawURL, req, a, err)
	if err != nil {
		return nil, err
	}
	return v, nil
}

// ExecuteJSON performs the call and decodes a successful body into dst.
// A nil dst discards the body.
func (e *Executor) ExecuteJSON(ctx context.Context, rawURL string, req Request, dst any) error {
	a, err := e.run(ctx, rawURL, req)
	if err != nil {
		return err
	}
	err = a.resp.decode(req.op(), dst)
	e.finish(ctx, rawURL, req, a, err)
	return err
}

// run drives Attach → Send → Evaluate → (Refresh → Send → Evaluate) and
// stops at Parse with the successful response, leaving decoding to the
// caller.
func (e *Executor) run(ctx context.Context, rawURL string, req Request) (*attempt, error) {
	op := req.op()
	endpoint := endpointOf(rawURL)
	a := &attempt{requestID: req.Header.Get(headerRequestID)}
	if a.requestID == "" {
		a.requestID = uuid.NewString()
	}
	log := obs.WithTrace(ctx, e.log).With(
		zap.String("op", op),
		zap.String("endpoint", endpoint),
		zap.String("request_id", a.requestID),
	)

	st := stateAttach
	if req.SkipAuth {
		st = stateSend
	}

	for {
		switch st {
		case stateAttach:
			if rec, ok := e.loadToken(ctx); ok {
				a.token = rec.AccessToken
				a.canRefresh = rec.RefreshToken != "" && e.refresher != nil
			}
			st = stateSend

		case stateSend:
			resp, err := e.send(ctx, rawURL, req, a)
			if err != nil {
				var ae *apierr.Error
				if errors.As(err, &ae) {
					log.Error("request not sent", zap.Error(err))
					return nil, err
				}
				if ctxErr := ctx.Err(); ctxErr != nil && !errors.Is(err, ctxErr) {
					err = fmt.Errorf("%w: %v", ctxErr, err)
				}
				requestsTotal.WithLabelValues(outcomeTransport).Inc()
				log.Error("request failed", zap.Bool("retried", a.retried), zap.Error(err))
				return nil, apierr.New(apierr.CodeTransport, op, err)
			}
			a.resp = resp
			st = stateEvaluate

		case stateEvaluate:
			switch {
			case a.resp.ok():
				st = stateParse
			case a.resp.status == http.StatusUnauthorized && a.canRefresh && !a.retried:
				st = stateRefresh
			default:
				st = stateFail
			}

		case stateRefresh:
			// Set before refreshing so no path can reach stateRefresh twice.
			a.retried = true
			e.observer.AccessTokenRejected(endpoint)
			log.Info("access token rejected, refreshing")

			token, err := e.refresher.Refresh(ctx)
			if err != nil {
				requestsTotal.WithLabelValues(outcomeRefreshFailed).Inc()
				e.observer.RefreshFailed(err)
				log.Error("token refresh failed", zap.Int("status", apierr.StatusOf(err)), zap.Error(err))
				return nil, apierr.RefreshFailed(op, err)
			}
			e.observer.TokenRefreshed()
			a.token = token
			st = stateSend

		case stateParse:
			return a, nil

		case stateFail:
			requestsTotal.WithLabelValues(outcomeRejected).Inc()
			err := a.resp.rejection(op)
			log.Error("request rejected",
				zap.Int("status", a.resp.status),
				zap.Bool("retried", a.retried),
				zap.String("message", err.Message),
			)
			return nil, err
		}
	}
}

// loadToken returns the stored record when it carries an access token.
func (e *Executor) loadToken(ctx context.Context) (*tokenstore.Record, bool) {
	if e.store == nil {
		return nil, false
	}
	rec, ok := e.store.Load(ctx)
	if !ok || rec.AccessToken == "" {
		return nil, false
	}
	return rec, true
}

func (e *Executor) send(ctx context.Context, rawURL string, req Request, a *attempt) (*response, error) {
	var body io.Reader
	if req.Body != nil {
		body = bytes.NewReader(req.Body)
	}
	httpReq, err := http.NewRequestWithContext(ctx, req.method(), rawURL, body)
	if err != nil {
		return nil, apierr.Configuration(req.op(), "invalid request: %v", err)
	}
	if req.Header != nil {
		httpReq.Header = req.Header.Clone()
	}
	httpReq.Header.Set(headerRequestID, a.requestID)
	if a.token != "" {
		// Replaces any Authorization header, including the caller's.
		(&oauth2.Token{AccessToken: a.token, TokenType: "Bearer"}).SetAuthHeader(httpReq)
	}

	resp, err := e.http.DoWithContext(ctx, httpReq)
	if resp != nil {
		defer resp.Body.Close()
	}
	if err != nil {
		// Retries exhausted on a retryable status (5xx, 429): the last
		// response is still the upstream's answer.
		var re *retry.RetryError
		if !errors.As(err, &re) || re.LastErr != nil || resp == nil {
			return nil, err
		}
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	return &response{status: resp.StatusCode, header: resp.Header, body: data}, nil
}

// finish records the outcome of Parse.
func (e *Executor) finish(ctx context.Context, rawURL string, req Request, a *attempt, err error) {
	log := obs.WithTrace(ctx, e.log).With(
		zap.String("op", req.op()),
		zap.String("endpoint", endpointOf(rawURL)),
		zap.String("request_id", a.requestID),
		zap.Int("status", a.resp.status),
		zap.Bool("retried", a.retried),
	)
	switch {
	case err != nil:
		requestsTotal.WithLabelValues(outcomeMalformed).Inc()
		log.Error("response body could not be decoded", zap.Error(err))
	case a.retried:
		requestsTotal.WithLabelValues(outcomeRetrySuccess).Inc()
		log.Debug("request succeeded after refresh")
	default:
		requestsTotal.WithLabelValues(outcomeSuccess).Inc()
		log.Debug("request succeeded")
	}
}
