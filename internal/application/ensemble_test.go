package application

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ahrav/go-cefr/internal/domain"
	"github.com/ahrav/go-cefr/internal/ports"
	"github.com/ahrav/go-cefr/internal/testutils"
)

func sourcesWithLabels(labels ...domain.Level) []ports.PredictionSource {
	names := []string{"Naive Bayes", "Doc2Vec", "BERT", "LLM", "Extra"}
	out := make([]ports.PredictionSource, len(labels))
	for i, l := range labels {
		out[i] = testutils.NewMockSource(names[i], l, 0.6)
	}
	return out
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil))
}

// TestNewEnsemble_Validation verifies that construction rejects empty,
// nil and duplicate source lists.
func TestNewEnsemble_Validation(t *testing.T) {
	tests := []struct {
		name    string
		sources []ports.PredictionSource
		wantErr error
		errMsg  string
	}{
		{
			name:    "no sources",
			sources: nil,
			wantErr: domain.ErrNoSources,
		},
		{
			name: "duplicate names",
			sources: []ports.PredictionSource{
				testutils.NewMockSource("BERT", domain.LevelA1, 0.9),
				testutils.NewMockSource("BERT", domain.LevelA2, 0.9),
			},
			wantErr: domain.ErrDuplicateSource,
		},
		{
			name:    "nil source",
			sources: []ports.PredictionSource{testutils.NewMockSource("a", domain.LevelA1, 0.9), nil},
			errMsg:  "source 1 is nil",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e, err := NewEnsemble(tt.sources)
			require.Error(t, err)
			assert.Nil(t, e)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
			}
			if tt.errMsg != "" {
				assert.Contains(t, err.Error(), tt.errMsg)
			}
		})
	}
}

// TestEnsemble_Predict_Votes checks majority, agreement, quorum and
// unanimity for the vote patterns the aggregator must handle.
func TestEnsemble_Predict_Votes(t *testing.T) {
	tests := []struct {
		name          string
		labels        []domain.Level
		wantMajority  domain.Level
		wantAgreement int
		wantQuorum    bool
		wantAllAgree  bool
	}{
		{
			name:          "two of three agree",
			labels:        []domain.Level{domain.LevelA1, domain.LevelA1, domain.LevelA2},
			wantMajority:  domain.LevelA1,
			wantAgreement: 2,
			wantQuorum:    true,
		},
		{
			name:          "all different",
			labels:        []domain.Level{domain.LevelA1, domain.LevelA2, domain.LevelB1},
			wantMajority:  domain.LevelA1,
			wantAgreement: 1,
		},
		{
			name:          "unanimous",
			labels:        []domain.Level{domain.LevelB1, domain.LevelB1, domain.LevelB1},
			wantMajority:  domain.LevelB1,
			wantAgreement: 3,
			wantQuorum:    true,
			wantAllAgree:  true,
		},
		{
			name:          "even tie resolves to lower level",
			labels:        []domain.Level{domain.LevelA1, domain.LevelA2, domain.LevelA1, domain.LevelA2},
			wantMajority:  domain.LevelA1,
			wantAgreement: 2,
		},
		{
			name:          "near unanimous is not all agree",
			labels:        []domain.Level{domain.LevelB1, domain.LevelB1, domain.LevelB2},
			wantMajority:  domain.LevelB1,
			wantAgreement: 2,
			wantQuorum:    true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e, err := NewEnsemble(sourcesWithLabels(tt.labels...), WithLogger(quietLogger()))
			require.NoError(t, err)

			res, err := e.Predict(context.Background(), "The cat sat on the mat.")
			require.NoError(t, err)

			assert.Equal(t, tt.wantMajority, res.MajorityLabel)
			assert.Equal(t, tt.wantAgreement, res.AgreementCount)
			assert.Equal(t, tt.wantQuorum, res.QuorumMet)
			assert.Equal(t, tt.wantAllAgree, res.AllAgree)
			assert.Equal(t, len(tt.labels), res.NumSources)
			assert.InDelta(t, float64(tt.wantAgreement)/float64(len(tt.labels)), res.MajorityConfidence, 1e-12)
			assert.InDelta(t, 1.0, res.MeanDistribution.Sum(), 1e-6)
			assert.Equal(t, res.MeanDistribution.ArgMax(), res.MeanLabel)
		})
	}
}

// TestEnsemble_Predict_RegistrationOrder verifies that per-source results
// follow registration order even when later sources answer first.
func TestEnsemble_Predict_RegistrationOrder(t *testing.T) {
	slow := testutils.NewMockSource("Naive Bayes", domain.LevelA2, 0.7)
	slow.Delay = 40 * time.Millisecond
	mid := testutils.NewMockSource("Doc2Vec", domain.LevelB1, 0.7)
	mid.Delay = 20 * time.Millisecond
	fast := testutils.NewMockSource("BERT", domain.LevelB2, 0.7)

	e, err := NewEnsemble([]ports.PredictionSource{slow, mid, fast}, WithLogger(quietLogger()))
	require.NoError(t, err)

	res, err := e.Predict(context.Background(), "text")
	require.NoError(t, err)

	assert.Equal(t, []string{"Naive Bayes", "Doc2Vec", "BERT"}, res.PerSourcePredictions().Keys())
	assert.Equal(t, []string{"Naive Bayes", "Doc2Vec", "BERT"}, e.SourceNames())
	labels, _ := res.PerSourcePredictions().Get("Doc2Vec")
	assert.Equal(t, domain.LevelB1, labels)
}

// TestEnsemble_Predict_MeanTieBreak verifies that a tie in the mean
// distribution resolves to the lower class.
func TestEnsemble_Predict_MeanTieBreak(t *testing.T) {
	a := &testutils.MockSource{SourceName: "a", Distribution: domain.Distribution{0.5, 0.5, 0, 0, 0}}
	b := &testutils.MockSource{SourceName: "b", Distribution: domain.Distribution{0.5, 0.5, 0, 0, 0}}

	e, err := NewEnsemble([]ports.PredictionSource{a, b}, WithLogger(quietLogger()))
	require.NoError(t, err)

	res, err := e.Predict(context.Background(), "tie")
	require.NoError(t, err)
	assert.Equal(t, domain.LevelA1, res.MeanLabel)
	assert.InDelta(t, 0.5, res.MeanConfidence, 1e-12)
}

// TestEnsemble_Predict_EmptyText verifies that blank text is rejected
// before any source is consulted.
func TestEnsemble_Predict_EmptyText(t *testing.T) {
	for _, text := range []string{"", "   ", "\n\t  \r\n"} {
		t.Run("text="+text, func(t *testing.T) {
			src := testutils.NewMockSource("a", domain.LevelA1, 0.9)
			e, err := NewEnsemble([]ports.PredictionSource{src}, WithLogger(quietLogger()))
			require.NoError(t, err)

			res, err := e.Predict(context.Background(), text)
			assert.Nil(t, res)
			assert.ErrorIs(t, err, domain.ErrInvalidInput)

			var inputErr *domain.InvalidInputError
			assert.ErrorAs(t, err, &inputErr)
			assert.Zero(t, src.Calls(), "no source may be called for blank text")
		})
	}
}

// TestEnsemble_Predict_SourceFailure verifies the all-or-nothing contract:
// one failing source fails the prediction and names the culprit.
func TestEnsemble_Predict_SourceFailure(t *testing.T) {
	boom := errors.New("model runtime fault")
	nb := testutils.NewMockSource("Naive Bayes", domain.LevelA1, 0.9)
	d2v := testutils.NewFailingSource("Doc2Vec", boom)
	bert := testutils.NewMockSource("BERT", domain.LevelA1, 0.9)

	e, err := NewEnsemble([]ports.PredictionSource{nb, d2v, bert}, WithLogger(quietLogger()))
	require.NoError(t, err)

	res, err := e.Predict(context.Background(), "text")
	require.Error(t, err)
	assert.Nil(t, res, "no partial result may be returned")

	var partial *domain.PartialEnsembleError
	require.ErrorAs(t, err, &partial)
	assert.Equal(t, []string{"Doc2Vec"}, partial.FailedSources())
	assert.Equal(t, 3, partial.Total)
	assert.ErrorIs(t, err, boom)
	assert.ErrorIs(t, err, domain.ErrInference)

	// The ensemble stays usable after a failed call.
	d2v.Err = nil
	d2v.Distribution = testutils.Peaked(domain.LevelA1, 0.9)
	res, err = e.Predict(context.Background(), "text")
	require.NoError(t, err)
	assert.True(t, res.AllAgree)
}

// TestEnsemble_Predict_AllFailuresReported verifies that every failing
// source is listed in registration order.
func TestEnsemble_Predict_AllFailuresReported(t *testing.T) {
	e, err := NewEnsemble([]ports.PredictionSource{
		testutils.NewFailingSource("first", errors.New("x")),
		testutils.NewMockSource("ok", domain.LevelB1, 0.9),
		testutils.NewFailingSource("third", errors.New("y")),
	}, WithLogger(quietLogger()))
	require.NoError(t, err)

	_, err = e.Predict(context.Background(), "text")
	var partial *domain.PartialEnsembleError
	require.ErrorAs(t, err, &partial)
	assert.Equal(t, []string{"first", "third"}, partial.FailedSources())
}

// TestEnsemble_Predict_Timeout verifies that a hung source is abandoned
// after the per-source timeout and reported as a timeout failure.
func TestEnsemble_Predict_Timeout(t *testing.T) {
	hung := testutils.NewMockSource("BERT", domain.LevelA1, 0.9)
	hung.Delay = 2 * time.Second
	hung.IgnoreContext = true

	e, err := NewEnsemble([]ports.PredictionSource{
		testutils.NewMockSource("Naive Bayes", domain.LevelA1, 0.9),
		hung,
	}, WithSourceTimeout(50*time.Millisecond), WithLogger(quietLogger()))
	require.NoError(t, err)

	start := time.Now()
	res, err := e.Predict(context.Background(), "text")
	elapsed := time.Since(start)

	assert.Nil(t, res)
	assert.Less(t, elapsed, time.Second, "hung source must not stall the ensemble")
	assert.ErrorIs(t, err, domain.ErrPartialEnsemble)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.ErrorIs(t, err, ports.ErrTimeout)

	var ie *domain.InferenceError
	require.ErrorAs(t, err, &ie)
	assert.Equal(t, "BERT", ie.Source)
}

// TestEnsemble_Predict_Canceled verifies that caller cancellation never
// surfaces a partial result.
func TestEnsemble_Predict_Canceled(t *testing.T) {
	slow := testutils.NewMockSource("slow", domain.LevelA1, 0.9)
	slow.Delay = time.Second

	e, err := NewEnsemble([]ports.PredictionSource{
		testutils.NewMockSource("fast", domain.LevelA1, 0.9),
		slow,
	}, WithLogger(quietLogger()))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(20*time.Millisecond, cancel)

	res, err := e.Predict(ctx, "text")
	assert.Nil(t, res)
	assert.ErrorIs(t, err, domain.ErrPartialEnsemble)
	assert.ErrorIs(t, err, context.Canceled)
}

// TestEnsemble_Predict_ShapeMismatch verifies that a source producing the
// wrong number of classes is a shape error, not a result.
func TestEnsemble_Predict_ShapeMismatch(t *testing.T) {
	short := &testutils.MockSource{SourceName: "short", Distribution: domain.Distribution{0.25, 0.25, 0.25, 0.25}}

	e, err := NewEnsemble([]ports.PredictionSource{
		testutils.NewMockSource("ok", domain.LevelA1, 0.9),
		short,
	}, WithLogger(quietLogger()))
	require.NoError(t, err)

	res, err := e.Predict(context.Background(), "text")
	assert.Nil(t, res)
	assert.ErrorIs(t, err, domain.ErrDistributionShape)

	var shapeErr *domain.DistributionShapeError
	require.ErrorAs(t, err, &shapeErr)
	assert.Equal(t, "short", shapeErr.Source)
}

// TestEnsemble_Predict_Idempotent verifies that repeated calls with the same
// text produce identical results.
func TestEnsemble_Predict_Idempotent(t *testing.T) {
	e, err := NewEnsemble(sourcesWithLabels(domain.LevelA2, domain.LevelB1, domain.LevelA2), WithLogger(quietLogger()))
	require.NoError(t, err)

	first, err := e.Predict(context.Background(), "same text")
	require.NoError(t, err)
	second, err := e.Predict(context.Background(), "same text")
	require.NoError(t, err)

	assert.Equal(t, first, second)
}

// concurrencyTracker wraps a source and tracks overlapping calls across every
// tracker sharing the same counter.
type concurrencyTracker struct {
	ports.PredictionSource
	inFlight *atomic.Int32
	peak     *atomic.Int32
}

func (p concurrencyTracker) Predict(ctx context.Context, text string) (domain.ModelPrediction, error) {
	n := p.inFlight.Add(1)
	defer p.inFlight.Add(-1)
	for {
		old := p.peak.Load()
		if n <= old || p.peak.CompareAndSwap(old, n) {
			break
		}
	}
	time.Sleep(15 * time.Millisecond)
	return p.PredictionSource.Predict(ctx, text)
}

// TestEnsemble_Predict_MaxConcurrency verifies that the fan-out respects
// the configured concurrency limit.
func TestEnsemble_Predict_MaxConcurrency(t *testing.T) {
	tests := []struct {
		name     string
		limit    int
		wantPeak int32
	}{
		{name: "sequential", limit: 1, wantPeak: 1},
		{name: "two at a time", limit: 2, wantPeak: 2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var inFlight, peak atomic.Int32
			var sources []ports.PredictionSource
			for _, src := range sourcesWithLabels(domain.LevelA1, domain.LevelA1, domain.LevelA1, domain.LevelA1) {
				sources = append(sources, concurrencyTracker{PredictionSource: src, inFlight: &inFlight, peak: &peak})
			}

			e, err := NewEnsemble(sources, WithMaxConcurrency(tt.limit), WithLogger(quietLogger()))
			require.NoError(t, err)

			_, err = e.Predict(context.Background(), "text")
			require.NoError(t, err)
			assert.LessOrEqual(t, peak.Load(), tt.wantPeak)
		})
	}
}

// TestEnsemble_Predict_Concurrent verifies that one ensemble serves many
// callers at once.
func TestEnsemble_Predict_Concurrent(t *testing.T) {
	e, err := NewEnsemble(sourcesWithLabels(domain.LevelA1, domain.LevelB2, domain.LevelB2), WithLogger(quietLogger()))
	require.NoError(t, err)

	var wg sync.WaitGroup
	errs := make(chan error, 32)
	for range 32 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := e.Predict(context.Background(), "concurrent text")
			if err != nil {
				errs <- err
				return
			}
			if res.MajorityLabel != domain.LevelB2 {
				errs <- errors.New("unexpected majority " + res.MajorityLabel.String())
			}
		}()
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		t.Error(err)
	}
}

// TestEnsemble_Predict_Metrics verifies outcome counters and source failure
// counters.
func TestEnsemble_Predict_Metrics(t *testing.T) {
	collector := testutils.NewMockMetricsCollector()
	failing := testutils.NewFailingSource("BERT", errors.New("down"))

	e, err := NewEnsemble([]ports.PredictionSource{
		testutils.NewMockSource("Naive Bayes", domain.LevelA1, 0.9),
		failing,
	}, WithMetrics(collector), WithLogger(quietLogger()))
	require.NoError(t, err)

	_, err = e.Predict(context.Background(), "text")
	require.Error(t, err)
	_, err = e.Predict(context.Background(), " ")
	require.Error(t, err)

	failing.Err = nil
	failing.Distribution = testutils.Peaked(domain.LevelA1, 0.9)
	_, err = e.Predict(context.Background(), "text")
	require.NoError(t, err)

	assert.Equal(t, 1.0, collector.CounterTotal(MetricPredictions, map[string]string{"status": "partial"}))
	assert.Equal(t, 1.0, collector.CounterTotal(MetricPredictions, map[string]string{"status": "invalid_input"}))
	assert.Equal(t, 1.0, collector.CounterTotal(MetricPredictions, map[string]string{"status": "success"}))
	assert.Equal(t, 1.0, collector.CounterTotal(MetricSourceFailures, map[string]string{"source": "BERT"}))
	assert.Len(t, collector.Records(MetricPredictLatency), 3)
	require.Len(t, collector.Records(MetricMeanConfidence), 1)
	assert.InDelta(t, 0.9, collector.Records(MetricMeanConfidence)[0].Value, 1e-9)
}

// TestEnsemble_Predict_Logging verifies per-source debug lines and the final
// info line.
func TestEnsemble_Predict_Logging(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))

	e, err := NewEnsemble(sourcesWithLabels(domain.LevelB2, domain.LevelB2, domain.LevelC), WithLogger(logger))
	require.NoError(t, err)

	_, err = e.Predict(context.Background(), "text")
	require.NoError(t, err)

	out := buf.String()
	assert.Contains(t, out, `msg="source prediction" source="Naive Bayes" label=B2`)
	assert.Contains(t, out, `source=BERT label=C`)
	assert.Contains(t, out, `msg="ensemble prediction" majority_label=B2`)
	assert.Contains(t, out, "agreement=2/3")
}
