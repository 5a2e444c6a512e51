package stats

import (
	"fmt"
	"sort"
	"strings"

	"github.com/pkg/errors"
)

// ConfusionMatrix counts (true class, predicted class) pairs.
type ConfusionMatrix struct {
	Classes []string
	Counts  [][]int
	Total   int
}

// NewConfusionMatrix builds the matrix from aligned label vectors.
func NewConfusionMatrix(classes []string, yTrue, yPred []int32) (*ConfusionMatrix, error) {
	if len(yTrue) != len(yPred) {
		return nil, errors.Errorf("label vectors differ in length: %d vs %d", len(yTrue), len(yPred))
	}
	n := len(classes)
	m := &ConfusionMatrix{Classes: classes, Counts: make([][]int, n)}
	for i := range m.Counts {
		m.Counts[i] = make([]int, n)
	}
	for i, t := range yTrue {
		p := yPred[i]
		if t < 0 || int(t) >= n || p < 0 || int(p) >= n {
			return nil, errors.Errorf("label out of range at sample %d: true=%d pred=%d classes=%d", i, t, p, n)
		}
		m.Counts[t][p]++
		m.Total++
	}
	return m, nil
}

// RowSums returns the number of test samples per true class.
func (m *ConfusionMatrix) RowSums() []int {
	sums := make([]int, len(m.Classes))
	for i, row := range m.Counts {
		for _, c := range row {
			sums[i] += c
		}
	}
	return sums
}

// Accuracy returns the fraction of diagonal entries.
func (m *ConfusionMatrix) Accuracy() float64 {
	if m.Total == 0 {
		return 0
	}
	correct := 0
	for i := range m.Counts {
		correct += m.Counts[i][i]
	}
	return float64(correct) / float64(m.Total)
}

// ClassAccuracy returns correct predictions for samples of the given class
// divided by the number of such samples. A class with no samples is an
// error, not zero or NaN.
func (m *ConfusionMatrix) ClassAccuracy(class int) (float64, error) {
	row := m.Counts[class]
	total := 0
	for _, c := range row {
		total += c
	}
	if total == 0 {
		return 0, errors.Errorf("class %q has no test samples", m.Classes[class])
	}
	return float64(row[class]) / float64(total), nil
}

// OneVsRest reduces the matrix to binary counts for one class:
// [[TP, FN], [FP, TN]].
func (m *ConfusionMatrix) OneVsRest(class int) [2][2]int {
	var b [2][2]int
	for t, row := range m.Counts {
		for p, c := range row {
			switch {
			case t == class && p == class:
				b[0][0] += c
			case t == class:
				b[0][1] += c
			case p == class:
				b[1][0] += c
			default:
				b[1][1] += c
			}
		}
	}
	return b
}

func (m *ConfusionMatrix) String() string {
	var sb strings.Builder
	width := 8
	for _, name := range m.Classes {
		if len(name)+1 > width {
			width = len(name) + 1
		}
	}
	sb.WriteString(strings.Repeat(" ", width))
	for _, name := range m.Classes {
		fmt.Fprintf(&sb, "%*s", width, name)
	}
	sb.WriteByte('\n')
	for i, row := range m.Counts {
		fmt.Fprintf(&sb, "%*s", width, m.Classes[i])
		for _, c := range row {
			fmt.Fprintf(&sb, "%*d", width, c)
		}
		sb.WriteByte('\n')
	}
	return sb.String()
}

// ROCPoint is one point on a one-vs-rest ROC curve.
type ROCPoint struct {
	FPR, TPR  float64
	Threshold float64
}

// ROCCurve sweeps the decision threshold over the predicted probabilities
// for one class against the rest, from most to least confident. scores[i]
// is the predicted probability that sample i belongs to class.
func ROCCurve(yTrue []int32, scores []float32, class int32) ([]ROCPoint, error) {
	if len(yTrue) != len(scores) {
		return nil, errors.Errorf("labels and scores differ in length: %d vs %d", len(yTrue), len(scores))
	}
	pos, neg := 0, 0
	order := make([]int, len(scores))
	for i := range order {
		order[i] = i
		if yTrue[i] == class {
			pos++
		} else {
			neg++
		}
	}
	if pos == 0 || neg == 0 {
		return nil, errors.Errorf("class %d needs both positive and negative samples for a ROC curve", class)
	}
	sort.Slice(order, func(i, j int) bool { return scores[order[i]] > scores[order[j]] })

	curve := []ROCPoint{{FPR: 0, TPR: 0, Threshold: float64(scores[order[0]]) + 1}}
	tp, fp := 0, 0
	for k, ix := range order {
		if yTrue[ix] == class {
			tp++
		} else {
			fp++
		}
		// emit a point only where the score changes so ties share one point
		if k+1 < len(order) && scores[order[k+1]] == scores[ix] {
			continue
		}
		curve = append(curve, ROCPoint{
			FPR:       float64(fp) / float64(neg),
			TPR:       float64(tp) / float64(pos),
			Threshold: float64(scores[ix]),
		})
	}
	return curve, nil
}

// AUC integrates a ROC curve with the trapezium rule.
func AUC(curve []ROCPoint) float64 {
	area := 0.0
	for i := 1; i < len(curve); i++ {
		area += (curve[i].FPR - curve[i-1].FPR) * (curve[i].TPR + curve[i-1].TPR) / 2
	}
	return area
}

// ClassMetrics holds the per class entries of a classification report.
type ClassMetrics struct {
	Precision float64
	Recall    float64
	F1        float64
	Support   int
}

// Report derives precision, recall and F1 per class from the confusion
// matrix. A class with no predicted or true samples scores zero for the
// affected metric.
func (m *ConfusionMatrix) Report() []ClassMetrics {
	n := len(m.Classes)
	out := make([]ClassMetrics, n)
	for i := 0; i < n; i++ {
		b := m.OneVsRest(i)
		tp, fn, fp := b[0][0], b[0][1], b[1][0]
		r := &out[i]
		r.Support = tp + fn
		if tp+fp > 0 {
			r.Precision = float64(tp) / float64(tp+fp)
		}
		if tp+fn > 0 {
			r.Recall = float64(tp) / float64(tp+fn)
		}
		if r.Precision+r.Recall > 0 {
			r.F1 = 2 * r.Precision * r.Recall / (r.Precision + r.Recall)
		}
	}
	return out
}

// ReportString formats the classification report as a text table.
func (m *ConfusionMatrix) ReportString() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "%-20s %9s %9s %9s %9s\n", "", "precision", "recall", "f1-score", "support")
	for i, r := range m.Report() {
		fmt.Fprintf(&sb, "%-20s %9.3f %9.3f %9.3f %9d\n", m.Classes[i], r.Precision, r.Recall, r.F1, r.Support)
	}
	fmt.Fprintf(&sb, "\n%-20s %29.3f %9d\n", "accuracy", m.Accuracy(), m.Total)
	return sb.String()
}
