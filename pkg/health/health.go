// Package health aggregates the health probes of every enabled external
// integration into one overall status.
package health

import (
	"context"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/CSCfi/sd-submit/pkg/service"
)

// checkTimeout bounds the whole fan-out, not each individual probe.
const checkTimeout = 2 * time.Second

// Prober is one health-checkable integration. *service.Client satisfies it.
type Prober interface {
	Name() string
	Enabled() bool
	Health(ctx context.Context) service.Status
}

// Report is the aggregate health document served on /health.
type Report struct {
	Status   service.Status            `json:"status"`
	Services map[string]service.Status `json:"services"`
}

// Aggregator fans out to the enabled probers and reduces their statuses.
type Aggregator struct {
	probers []Prober
}

// New creates an aggregator over the given probers. Disabled probers are
// skipped at check time.
func New(probers ...Prober) *Aggregator {
	return &Aggregator{probers: probers}
}

// Check probes every enabled integration concurrently and reduces the
// statuses to one overall state.
func (a *Aggregator) Check(ctx context.Context) Report {
	ctx, cancel := context.WithTimeout(ctx, checkTimeout)
	defer cancel()

	enabled := make([]Prober, 0, len(a.probers))
	for _, prober := range a.probers {
		if prober.Enabled() {
			enabled = append(enabled, prober)
		}
	}

	statuses := make([]service.Status, len(enabled))
	group, groupCtx := errgroup.WithContext(ctx)
	for i, prober := range enabled {
		group.Go(func() error {
			statuses[i] = prober.Health(groupCtx)
			return nil
		})
	}
	// Probes never return errors; failures surface as ERROR statuses.
	_ = group.Wait()

	report := Report{
		Status:   StatusUp,
		Services: make(map[string]service.Status, len(enabled)),
	}
	for i, prober := range enabled {
		report.Services[prober.Name()] = statuses[i]
		report.Status = Reduce(report.Status, statuses[i])
	}
	return report
}

// StatusUp is the aggregate state of a deployment with no enabled probes.
const StatusUp = service.StatusUp

// severity orders health states: DOWN dominates ERROR dominates DEGRADED
// dominates UP.
var severity = map[service.Status]int{
	service.StatusUp:       0,
	service.StatusDegraded: 1,
	service.StatusError:    2,
	service.StatusDown:     3,
}

// Reduce combines two health states into the more severe one.
func Reduce(a, b service.Status) service.Status {
	if severity[b] > severity[a] {
		return b
	}
	return a
}
