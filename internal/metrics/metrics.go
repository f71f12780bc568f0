// Package metrics holds the Prometheus collectors shared across dispatcher
// scopes.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// ActionsDispatched counts handled actions by dispatcher scope
// ("notebook" or "server").
var ActionsDispatched = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "nbclient_actions_dispatched_total",
	Help: "Total number of actions handled, by dispatcher scope",
}, []string{"scope"})
