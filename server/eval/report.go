package eval

import (
	"fmt"
	"image/color"
	"io"
	"path/filepath"
	"strings"

	"github.com/cyclopcam/rtvd/pkg/nn"
	"github.com/cyclopcam/rtvd/pkg/stats"
	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/components"
	"github.com/go-echarts/go-echarts/v2/opts"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
)

func formatLabels(labels []nn.Label) string {
	s := make([]string, len(labels))
	for i, l := range labels {
		s[i] = fmt.Sprintf("%d", int(l))
	}
	return "[" + strings.Join(s, " ") + "]"
}

// Print writes a plain text summary
func (r *Report) Print(w io.Writer) {
	for _, v := range r.Videos {
		switch {
		case v.Error != "":
			fmt.Fprintf(w, "%-40v  truth %-11v  FAILED: %v\n", filepath.Base(v.Video), v.Truth, v.Error)
		case v.Decision == nil:
			fmt.Fprintf(w, "%-40v  truth %-11v  not enough frames for prediction\n", filepath.Base(v.Video), v.Truth)
		default:
			fmt.Fprintf(w, "%-40v  truth %-11v  predicted %-11v  probability %.4f\n", filepath.Base(v.Video), v.Truth, v.Decision.Label, v.Decision.Probability)
		}
	}
	fmt.Fprintf(w, "\n")
	fmt.Fprintf(w, "Threshold:           %.2f\n", r.Threshold)
	fmt.Fprintf(w, "Videos:              %v (%v excluded, %v failed)\n", len(r.Videos), r.NumExcluded, r.NumFailed)
	fmt.Fprintf(w, "Ground truth labels: %v\n", formatLabels(r.Truth))
	fmt.Fprintf(w, "Predicted labels:    %v\n", formatLabels(r.Predicted))
	if r.Metrics != nil {
		fmt.Fprintf(w, "Accuracy:  %.4f\n", r.Metrics.Accuracy)
		fmt.Fprintf(w, "Precision: %.4f\n", r.Metrics.Precision)
		fmt.Fprintf(w, "Recall:    %.4f\n", r.Metrics.Recall)
		fmt.Fprintf(w, "F1 Score:  %.4f\n", r.Metrics.F1)
		fmt.Fprintf(w, "Confusion Matrix:\n%v\n", r.Metrics.Confusion)
	}
	for _, s := range []struct {
		name string
		sum  stats.Summary
	}{{"Violent", r.ViolentScores}, {"Non-Violent", r.NonViolentScores}} {
		if s.sum.N != 0 {
			fmt.Fprintf(w, "%-11v probability: mean %.4f, std %.4f, range [%.4f, %.4f] over %v videos\n", s.name, s.sum.Mean, s.sum.Std, s.sum.Min, s.sum.Max, s.sum.N)
		}
	}
}

// WritePlot renders the probability of every decided video against the threshold, as a PNG
func (r *Report) WritePlot(filename string) error {
	p := plot.New()
	p.Title.Text = "Violence probability per video"
	p.X.Label.Text = "Video"
	p.Y.Label.Text = "Probability"
	p.Y.Min = 0
	p.Y.Max = 1

	violent := plotter.XYs{}
	nonViolent := plotter.XYs{}
	for i, v := range r.Videos {
		if v.Decision == nil {
			continue
		}
		pt := plotter.XY{X: float64(i), Y: float64(v.Decision.Probability)}
		if v.Truth == nn.LabelViolent {
			violent = append(violent, pt)
		} else {
			nonViolent = append(nonViolent, pt)
		}
	}

	for _, series := range []struct {
		name  string
		pts   plotter.XYs
		color color.Color
	}{
		{"Violent (truth)", violent, color.RGBA{R: 220, A: 255}},
		{"Non-Violent (truth)", nonViolent, color.RGBA{G: 160, A: 255}},
	} {
		if len(series.pts) == 0 {
			continue
		}
		scatter, err := plotter.NewScatter(series.pts)
		if err != nil {
			return err
		}
		scatter.GlyphStyle.Color = series.color
		scatter.GlyphStyle.Radius = vg.Points(3)
		p.Add(scatter)
		p.Legend.Add(series.name, scatter)
	}

	threshold := plotter.NewFunction(func(x float64) float64 { return float64(r.Threshold) })
	threshold.Width = vg.Points(1)
	threshold.Dashes = []vg.Length{vg.Points(4), vg.Points(4)}
	p.Add(threshold)
	p.Legend.Add(fmt.Sprintf("threshold %.2f", r.Threshold), threshold)
	p.Legend.Top = true
	p.Legend.Left = false
	p.Legend.XOffs = -10
	p.Legend.YOffs = -10

	return p.Save(14*vg.Inch, 6*vg.Inch, filename)
}

// WriteHTML renders an interactive page with per-video probabilities and the confusion matrix
func (r *Report) WriteHTML(w io.Writer) error {
	names := []string{}
	probs := []opts.BarData{}
	for _, v := range r.Videos {
		if v.Decision == nil {
			continue
		}
		names = append(names, filepath.Base(v.Video))
		probs = append(probs, opts.BarData{Value: v.Decision.Probability})
	}

	subtitle := fmt.Sprintf("threshold=%.2f videos=%d excluded=%d failed=%d", r.Threshold, len(r.Videos), r.NumExcluded, r.NumFailed)
	probBar := charts.NewBar()
	probBar.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{PageTitle: "Violence detection evaluation", Width: "100%", Height: "480px"}),
		charts.WithTitleOpts(opts.Title{Title: "Violence probability", Subtitle: subtitle}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
	)
	probBar.SetXAxis(names).
		AddSeries("probability", probs,
			charts.WithLabelOpts(opts.Label{Show: opts.Bool(true), Position: "top"}),
		)

	page := components.NewPage()
	page.AddCharts(probBar)

	if r.Metrics != nil {
		c := r.Metrics.Confusion
		cmBar := charts.NewBar()
		cmBar.SetGlobalOptions(
			charts.WithInitializationOpts(opts.Initialization{Width: "100%", Height: "360px"}),
			charts.WithTitleOpts(opts.Title{
				Title:    "Confusion matrix",
				Subtitle: fmt.Sprintf("accuracy=%.3f precision=%.3f recall=%.3f f1=%.3f", r.Metrics.Accuracy, r.Metrics.Precision, r.Metrics.Recall, r.Metrics.F1),
			}),
			charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
		)
		cmBar.SetXAxis([]string{"TN", "FP", "FN", "TP"}).
			AddSeries("count", []opts.BarData{
				{Value: c.TN()},
				{Value: c.FP()},
				{Value: c.FN()},
				{Value: c.TP()},
			}, charts.WithLabelOpts(opts.Label{Show: opts.Bool(true), Position: "top"}))
		page.AddCharts(cmBar)
	}

	return page.Render(w)
}
