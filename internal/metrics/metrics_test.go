package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestGetReturnsSingleton(t *testing.T) {
	a := Get()
	b := Get()
	assert.Same(t, a, b)
}

func TestRecordBuildIncrementsCachedLabel(t *testing.T) {
	m := Get()
	before := testutil.ToFloat64(m.BuildsTotal.WithLabelValues("true"))

	m.RecordBuild("python", true, 10*time.Millisecond)

	after := testutil.ToFloat64(m.BuildsTotal.WithLabelValues("true"))
	assert.Equal(t, before+1, after)
}

func TestRecordRunIncrementsStatusBucket(t *testing.T) {
	m := Get()
	before := testutil.ToFloat64(m.RunsTotal.WithLabelValues("ok"))

	m.RecordRun("python", "ok", 5*time.Millisecond)

	after := testutil.ToFloat64(m.RunsTotal.WithLabelValues("ok"))
	assert.Equal(t, before+1, after)
}

func TestRecordEvictionIncrementsCounter(t *testing.T) {
	m := Get()
	before := testutil.ToFloat64(m.EvictionsTotal)

	m.RecordEviction()

	after := testutil.ToFloat64(m.EvictionsTotal)
	assert.Equal(t, before+1, after)
}

func TestRecordBenchmarkRunIncrementsEnvironmentLabel(t *testing.T) {
	m := Get()
	before := testutil.ToFloat64(m.BenchmarkRunsTotal.WithLabelValues("go"))

	m.RecordBenchmarkRun("go")

	after := testutil.ToFloat64(m.BenchmarkRunsTotal.WithLabelValues("go"))
	assert.Equal(t, before+1, after)
}
