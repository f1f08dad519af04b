package client

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Outcome label values for requestsTotal.
const (
	outcomeSuccess       = "success"
	outcomeRetrySuccess  = "retry_success"
	outcomeRejected      = "rejected"
	outcomeTransport     = "transport_failure"
	outcomeMalformed     = "malformed_response"
	outcomeRefreshFailed = "refresh_failed"
)

var (
	requestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "meetgate_client_requests_total",
		Help: "Logical calls made through the executor, by final outcome.",
	}, []string{"outcome"})

	refreshTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "meetgate_client_token_refresh_total",
		Help: "Access token refresh attempts, by result.",
	}, []string{"result"})

	issueTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "meetgate_client_token_issue_total",
		Help: "Credential exchanges, by result.",
	}, []string{"result"})
)

func resultLabel(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}
