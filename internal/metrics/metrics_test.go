package metrics

import (
	"errors"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"

	"asxreport/pkg/model"
)

func TestRunCounters(t *testing.T) {
	m := New()
	m.Run(&model.PipelineResult{
		Status:      model.StatusFailed,
		FailedStage: model.StageConvert,
		EngineAttempts: []model.EngineAttempt{
			{Engine: "libreoffice", Absent: true, Err: "missing"},
			{Engine: "word", TimedOut: true, Err: "deadline"},
		},
	})
	m.Run(&model.PipelineResult{Status: model.StatusSucceeded, EngineAttempts: []model.EngineAttempt{{Engine: "libreoffice"}}})
	m.Run(nil)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.Runs.WithLabelValues("failed", "convert")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Runs.WithLabelValues("succeeded", "")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ConversionAttempts.WithLabelValues("libreoffice", "absent")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ConversionAttempts.WithLabelValues("word", "timeout")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ConversionAttempts.WithLabelValues("libreoffice", "ok")))
}

func TestGateAndStages(t *testing.T) {
	m := New()
	m.Gate("admitted")
	m.Gate("admitted")
	m.Gate("in-flight")
	m.StageDone(model.StageCapture, 2*time.Second, nil)
	m.StageDone(model.StageCapture, time.Second, errors.New("x"))

	assert.Equal(t, 2.0, testutil.ToFloat64(m.GateDecisions.WithLabelValues("admitted")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.GateDecisions.WithLabelValues("in-flight")))
	assert.Equal(t, 2, testutil.CollectAndCount(m.StageDuration))
}

func TestHandlerExposesMetrics(t *testing.T) {
	m := New()
	m.Gate("admitted")

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	assert.Equal(t, 200, rec.Code)
	assert.Contains(t, rec.Body.String(), `asxreport_gate_decisions_total{decision="admitted"} 1`)
}
