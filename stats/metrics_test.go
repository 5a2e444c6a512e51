package stats

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var classes = []string{"bpsk", "qam16", "qpsk"}

func TestConfusionMatrix(t *testing.T) {
	yTrue := []int32{0, 0, 0, 1, 1, 2, 2, 2, 2, 2}
	yPred := []int32{0, 0, 1, 1, 1, 2, 2, 2, 0, 1}
	m, err := NewConfusionMatrix(classes, yTrue, yPred)
	require.NoError(t, err)

	assert.Equal(t, 10, m.Total)
	assert.Equal(t, []int{3, 2, 5}, m.RowSums())
	sum := 0
	for _, row := range m.Counts {
		for _, c := range row {
			assert.GreaterOrEqual(t, c, 0)
			sum += c
		}
	}
	assert.Equal(t, m.Total, sum)
	assert.InDelta(t, 0.7, m.Accuracy(), 1e-9)

	acc, err := m.ClassAccuracy(0)
	require.NoError(t, err)
	assert.InDelta(t, 2.0/3, acc, 1e-9)
	acc, err = m.ClassAccuracy(2)
	require.NoError(t, err)
	assert.InDelta(t, 3.0/5, acc, 1e-9)
}

func TestClassAccuracyNoSamples(t *testing.T) {
	m, err := NewConfusionMatrix(classes, []int32{0, 1}, []int32{0, 1})
	require.NoError(t, err)
	_, err = m.ClassAccuracy(2)
	assert.Error(t, err)
}

func TestConfusionMatrixBadLabels(t *testing.T) {
	_, err := NewConfusionMatrix(classes, []int32{0, 3}, []int32{0, 0})
	assert.Error(t, err)
	_, err = NewConfusionMatrix(classes, []int32{0}, []int32{})
	assert.Error(t, err)
}

func TestOneVsRest(t *testing.T) {
	yTrue := []int32{0, 0, 1, 1, 2, 2}
	yPred := []int32{0, 1, 1, 1, 2, 0}
	m, err := NewConfusionMatrix(classes, yTrue, yPred)
	require.NoError(t, err)

	b := m.OneVsRest(0)
	assert.Equal(t, [2][2]int{{1, 1}, {1, 3}}, b)
	// binary counts always sum to the total
	assert.Equal(t, m.Total, b[0][0]+b[0][1]+b[1][0]+b[1][1])
}

func TestROCCurve(t *testing.T) {
	// perfectly separable scores give AUC 1
	yTrue := []int32{1, 1, 0, 0}
	scores := []float32{0.9, 0.8, 0.3, 0.1}
	curve, err := ROCCurve(yTrue, scores, 1)
	require.NoError(t, err)
	assert.InDelta(t, 1.0, AUC(curve), 1e-9)
	first, last := curve[0], curve[len(curve)-1]
	assert.Equal(t, 0.0, first.FPR)
	assert.Equal(t, 0.0, first.TPR)
	assert.Equal(t, 1.0, last.FPR)
	assert.Equal(t, 1.0, last.TPR)

	// random ordering of shared scores collapses to the diagonal
	curve, err = ROCCurve([]int32{1, 0, 1, 0}, []float32{0.5, 0.5, 0.5, 0.5}, 1)
	require.NoError(t, err)
	assert.InDelta(t, 0.5, AUC(curve), 1e-9)
}

func TestROCCurveDegenerate(t *testing.T) {
	_, err := ROCCurve([]int32{1, 1}, []float32{0.5, 0.6}, 1)
	assert.Error(t, err)
}

func TestReport(t *testing.T) {
	yTrue := []int32{0, 0, 1, 1, 2, 2}
	yPred := []int32{0, 1, 1, 1, 2, 0}
	m, err := NewConfusionMatrix(classes, yTrue, yPred)
	require.NoError(t, err)

	rep := m.Report()
	require.Len(t, rep, 3)
	assert.InDelta(t, 0.5, rep[0].Precision, 1e-9)
	assert.InDelta(t, 0.5, rep[0].Recall, 1e-9)
	assert.Equal(t, 2, rep[0].Support)
	assert.InDelta(t, 2.0/3, rep[1].Precision, 1e-9)
	assert.InDelta(t, 1.0, rep[1].Recall, 1e-9)
	assert.InDelta(t, 1.0, rep[2].Precision, 1e-9)
	assert.InDelta(t, 0.5, rep[2].Recall, 1e-9)

	text := m.ReportString()
	assert.Contains(t, text, "qam16")
	assert.Contains(t, text, "precision")
}

func TestAverage(t *testing.T) {
	var a Average
	for _, x := range []float64{2, 4, 4, 4, 5, 5, 7, 9} {
		a.Add(x)
	}
	assert.InDelta(t, 5.0, a.Mean, 1e-9)
	assert.InDelta(t, 2.138, a.StdDev, 1e-3)
}
