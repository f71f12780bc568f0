package notebook

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var pendingEdits = promauto.NewGaugeVec(prometheus.GaugeOpts{
	Name: "nbclient_pending_edits",
	Help: "Unacknowledged buffered edits per open notebook",
}, []string{"path"})
