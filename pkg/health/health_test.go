package health

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/CSCfi/sd-submit/pkg/service"
)

type fakeProber struct {
	name    string
	enabled bool
	status  service.Status
}

func (f fakeProber) Name() string                          { return f.name }
func (f fakeProber) Enabled() bool                         { return f.enabled }
func (f fakeProber) Health(context.Context) service.Status { return f.status }

func TestReduce(t *testing.T) {
	t.Parallel()

	assert.Equal(t, service.StatusUp, Reduce(service.StatusUp, service.StatusUp))
	assert.Equal(t, service.StatusDegraded, Reduce(service.StatusUp, service.StatusDegraded))
	assert.Equal(t, service.StatusError, Reduce(service.StatusDegraded, service.StatusError))
	assert.Equal(t, service.StatusDown, Reduce(service.StatusError, service.StatusDown))
	assert.Equal(t, service.StatusDown, Reduce(service.StatusDown, service.StatusUp))
}

func TestCheckAggregation(t *testing.T) {
	t.Parallel()

	t.Run("error dominates degraded", func(t *testing.T) {
		t.Parallel()
		agg := New(
			fakeProber{name: "pid", enabled: true, status: service.StatusUp},
			fakeProber{name: "metax", enabled: true, status: service.StatusUp},
			fakeProber{name: "rems", enabled: true, status: service.StatusDegraded},
			fakeProber{name: "ror", enabled: true, status: service.StatusError},
		)
		report := agg.Check(context.Background())
		assert.Equal(t, service.StatusError, report.Status)
		assert.Len(t, report.Services, 4)
	})

	t.Run("down dominates everything", func(t *testing.T) {
		t.Parallel()
		agg := New(
			fakeProber{name: "pid", enabled: true, status: service.StatusUp},
			fakeProber{name: "metax", enabled: true, status: service.StatusDown},
			fakeProber{name: "rems", enabled: true, status: service.StatusError},
		)
		report := agg.Check(context.Background())
		assert.Equal(t, service.StatusDown, report.Status)
	})

	t.Run("disabled probers are skipped", func(t *testing.T) {
		t.Parallel()
		agg := New(
			fakeProber{name: "pid", enabled: true, status: service.StatusUp},
			fakeProber{name: "datacite", enabled: false, status: service.StatusDown},
		)
		report := agg.Check(context.Background())
		assert.Equal(t, service.StatusUp, report.Status)
		assert.NotContains(t, report.Services, "datacite")
	})
}
