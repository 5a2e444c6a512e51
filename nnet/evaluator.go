package nnet

import (
	"github.com/rfml/modnet/num"
	"github.com/rfml/modnet/stats"
)

// TestResult holds everything the evaluator derives from a single forward
// pass over the held-out test split.
type TestResult struct {
	Loss      float64
	Accuracy  float64
	Probs     *num.Array // predicted probabilities, samples x classes
	Pred      []int32
	Labels    []int32
	Confusion *stats.ConfusionMatrix
	ClassAcc  []float64
	ROC       [][]stats.ROCPoint
	AUC       []float64
}

// EvaluateTest runs the trained model once over the test batches and derives
// the aggregate and per class metrics. The test dataset must be unshuffled
// so that predictions align positionally with the ground truth labels.
func EvaluateTest(net *Network, test *Dataset) (*TestResult, error) {
	classes := net.Classes
	loss, acc, probData := net.Evaluate(test, make([]float32, 0, test.Samples*len(classes)))
	r := &TestResult{
		Loss:     loss,
		Accuracy: acc,
		Probs:    num.NewArrayData(probData, test.Samples, len(classes)),
		Labels:   test.Labels(),
	}
	r.Pred = num.Argmax(r.Probs)

	var err error
	if r.Confusion, err = stats.NewConfusionMatrix(classes, r.Labels, r.Pred); err != nil {
		return nil, err
	}
	r.ClassAcc = make([]float64, len(classes))
	r.ROC = make([][]stats.ROCPoint, len(classes))
	r.AUC = make([]float64, len(classes))
	scores := make([]float32, test.Samples)
	for c := range classes {
		if r.ClassAcc[c], err = r.Confusion.ClassAccuracy(c); err != nil {
			return nil, err
		}
		for i := 0; i < test.Samples; i++ {
			scores[i] = r.Probs.Data[i*len(classes)+c]
		}
		if r.ROC[c], err = stats.ROCCurve(r.Labels, scores, int32(c)); err != nil {
			return nil, err
		}
		r.AUC[c] = stats.AUC(r.ROC[c])
	}
	return r, nil
}
