// Package report renders the evaluation results as static plots and text
// files in an output directory.
package report

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/palette"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/plotutil"
	"gonum.org/v1/plot/vg"

	"github.com/rfml/modnet/nnet"
	"github.com/rfml/modnet/stats"
)

const (
	plotWidth  = 6 * vg.Inch
	plotHeight = 5 * vg.Inch
)

// Reporter writes all artifacts for one run under OutDir.
type Reporter struct {
	OutDir string
}

// New creates the output directory if needed.
func New(outDir string) (*Reporter, error) {
	if err := os.MkdirAll(outDir, 0755); err != nil {
		return nil, errors.Wrap(err, "create output dir")
	}
	return &Reporter{OutDir: outDir}, nil
}

// WriteAll renders every artifact for the test results and training history.
func (r *Reporter) WriteAll(res *nnet.TestResult, history []nnet.Stats) error {
	steps := []func() error{
		func() error { return r.ConfusionHeatmap(res.Confusion, "confusion_matrix.svg") },
		func() error { return r.ClassHeatmaps(res.Confusion) },
		func() error { return r.ROCPlot(res.Confusion.Classes, res.ROC, res.AUC) },
		func() error { return r.TrainingCurves(history) },
		func() error { return r.WriteText("classification_report.txt", r.summary(res)) },
	}
	for _, step := range steps {
		if err := step(); err != nil {
			return err
		}
	}
	log.Info().Str("dir", r.OutDir).Msg("report written")
	return nil
}

func (r *Reporter) summary(res *nnet.TestResult) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "test loss: %.4f\ntest accuracy: %.4f\n\n", res.Loss, res.Accuracy)
	sb.WriteString(res.Confusion.ReportString())
	sb.WriteString("\nper class accuracy and AUC:\n")
	avg := new(stats.Average)
	for i, name := range res.Confusion.Classes {
		fmt.Fprintf(&sb, "%-20s %8.4f %8.4f\n", name, res.ClassAcc[i], res.AUC[i])
		avg.Add(res.ClassAcc[i])
	}
	fmt.Fprintf(&sb, "%-20s %8s\n", "mean class accuracy", avg.String())
	return sb.String()
}

// WriteText writes a text artifact under the output directory.
func (r *Reporter) WriteText(name, text string) error {
	return errors.Wrapf(os.WriteFile(filepath.Join(r.OutDir, name), []byte(text), 0644), "write %s", name)
}

// ConfusionHeatmap renders the full label x label count matrix.
func (r *Reporter) ConfusionHeatmap(m *stats.ConfusionMatrix, name string) error {
	p := plot.New()
	p.Title.Text = "Confusion matrix"
	p.X.Label.Text = "predicted"
	p.Y.Label.Text = "true"
	grid := confusionGrid{m}
	hm := plotter.NewHeatMap(grid, palette.Heat(16, 1))
	p.Add(hm)
	p.X.Tick.Marker = classTicks{m.Classes}
	p.Y.Tick.Marker = classTicks{reverse(m.Classes)}
	return r.save(p, name)
}

// ClassHeatmaps renders one binarized 2x2 heatmap per class.
func (r *Reporter) ClassHeatmaps(m *stats.ConfusionMatrix) error {
	for i, class := range m.Classes {
		b := m.OneVsRest(i)
		p := plot.New()
		p.Title.Text = fmt.Sprintf("%s vs rest", class)
		p.X.Label.Text = "predicted"
		p.Y.Label.Text = "true"
		p.Add(plotter.NewHeatMap(binaryGrid{b}, palette.Heat(16, 1)))
		p.X.Tick.Marker = classTicks{[]string{class, "rest"}}
		p.Y.Tick.Marker = classTicks{[]string{"rest", class}}
		if err := r.save(p, fmt.Sprintf("confusion_%s.svg", safeName(class))); err != nil {
			return err
		}
	}
	return nil
}

// ROCPlot overlays the per class one-vs-rest ROC curves with a diagonal
// reference line.
func (r *Reporter) ROCPlot(classes []string, curves [][]stats.ROCPoint, aucs []float64) error {
	p := plot.New()
	p.Title.Text = "ROC curves"
	p.X.Label.Text = "false positive rate"
	p.Y.Label.Text = "true positive rate"
	p.X.Min, p.X.Max = 0, 1
	p.Y.Min, p.Y.Max = 0, 1
	p.Legend.Top = false
	for i, curve := range curves {
		pts := make(plotter.XYs, len(curve))
		for j, pt := range curve {
			pts[j].X, pts[j].Y = pt.FPR, pt.TPR
		}
		line, err := plotter.NewLine(pts)
		if err != nil {
			return errors.Wrap(err, "roc line")
		}
		line.Width = 2
		line.Color = plotutil.Color(i)
		p.Add(line)
		p.Legend.Add(fmt.Sprintf("%s (auc %.3f)", classes[i], aucs[i]), line)
	}
	diag, err := plotter.NewLine(plotter.XYs{{X: 0, Y: 0}, {X: 1, Y: 1}})
	if err != nil {
		return errors.Wrap(err, "roc diagonal")
	}
	diag.Dashes = []vg.Length{vg.Points(4), vg.Points(4)}
	p.Add(diag)
	return r.save(p, "roc_curves.svg")
}

// TrainingCurves renders accuracy and loss across epochs for the training
// and validation splits.
func (r *Reporter) TrainingCurves(history []nnet.Stats) error {
	curves := []struct {
		file, title string
		train, val  func(nnet.Stats) float64
	}{
		{"accuracy.svg", "Model accuracy",
			func(s nnet.Stats) float64 { return s.Acc },
			func(s nnet.Stats) float64 { return s.ValAcc }},
		{"loss.svg", "Model loss",
			func(s nnet.Stats) float64 { return s.Loss },
			func(s nnet.Stats) float64 { return s.ValLoss }},
	}
	for _, c := range curves {
		p := plot.New()
		p.Title.Text = c.title
		p.X.Label.Text = "epoch"
		p.Add(plotter.NewGrid())
		for i, series := range []struct {
			name string
			get  func(nnet.Stats) float64
		}{{"train", c.train}, {"validation", c.val}} {
			pts := make(plotter.XYs, len(history))
			for j, s := range history {
				pts[j].X, pts[j].Y = float64(s.Epoch), series.get(s)
			}
			line, err := plotter.NewLine(pts)
			if err != nil {
				return errors.Wrapf(err, "%s line", series.name)
			}
			line.Width = 2
			line.Color = plotutil.Color(i)
			p.Add(line)
			p.Legend.Add(series.name, line)
		}
		if err := r.save(p, c.file); err != nil {
			return err
		}
	}
	return nil
}

func (r *Reporter) save(p *plot.Plot, name string) error {
	return errors.Wrapf(p.Save(plotWidth, plotHeight, filepath.Join(r.OutDir, name)), "save plot %s", name)
}

// confusionGrid adapts a confusion matrix to the heatmap interface with the
// first class in the top row.
type confusionGrid struct {
	m *stats.ConfusionMatrix
}

func (g confusionGrid) Dims() (c, r int) { n := len(g.m.Classes); return n, n }
func (g confusionGrid) X(c int) float64  { return float64(c) }
func (g confusionGrid) Y(r int) float64  { return float64(r) }
func (g confusionGrid) Z(c, r int) float64 {
	return float64(g.m.Counts[len(g.m.Classes)-1-r][c])
}

// binaryGrid adapts a 2x2 one-vs-rest matrix, [[TP, FN], [FP, TN]].
type binaryGrid struct {
	b [2][2]int
}

func (g binaryGrid) Dims() (c, r int) { return 2, 2 }
func (g binaryGrid) X(c int) float64  { return float64(c) }
func (g binaryGrid) Y(r int) float64  { return float64(r) }
func (g binaryGrid) Z(c, r int) float64 {
	// row 0 of the matrix is drawn as the top row of the plot
	return float64(g.b[1-r][c])
}

// classTicks places one labelled tick per class.
type classTicks struct {
	names []string
}

func (t classTicks) Ticks(min, max float64) []plot.Tick {
	var ticks []plot.Tick
	for i, name := range t.names {
		if float64(i) < min || float64(i) > max {
			continue
		}
		ticks = append(ticks, plot.Tick{Value: float64(i), Label: name})
	}
	return ticks
}

func reverse(s []string) []string {
	out := make([]string, len(s))
	for i, v := range s {
		out[len(s)-1-i] = v
	}
	return out
}

func safeName(s string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			return r
		default:
			return '_'
		}
	}, s)
}
