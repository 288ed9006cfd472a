package eval

import (
	"fmt"

	"github.com/cyclopcam/rtvd/pkg/nn"
)

// ConfusionMatrix is indexed [truth][predicted], with Non-Violent at 0 and Violent at 1:
//
//	[[TN, FP],
//	 [FN, TP]]
type ConfusionMatrix [2][2]int

func (c ConfusionMatrix) TN() int { return c[0][0] }
func (c ConfusionMatrix) FP() int { return c[0][1] }
func (c ConfusionMatrix) FN() int { return c[1][0] }
func (c ConfusionMatrix) TP() int { return c[1][1] }

func (c ConfusionMatrix) String() string {
	return fmt.Sprintf("[[%v %v]\n [%v %v]]", c[0][0], c[0][1], c[1][0], c[1][1])
}

// Binary classification metrics, with Violent as the positive class.
// Any ratio whose denominator is zero is defined as 0.
type Metrics struct {
	Accuracy  float64         `json:"accuracy"`
	Precision float64         `json:"precision"`
	Recall    float64         `json:"recall"`
	F1        float64         `json:"f1"`
	Confusion ConfusionMatrix `json:"confusion"`
	Support   int             `json:"support"` // Number of (truth, predicted) pairs
}

// ComputeMetrics compares predicted labels against ground truth.
// The two sequences must be the same length, otherwise nn.ErrPrecondition is returned.
func ComputeMetrics(truth, predicted []nn.Label) (*Metrics, error) {
	if len(truth) != len(predicted) {
		return nil, fmt.Errorf("%w: %v ground truth labels but %v predictions", nn.ErrPrecondition, len(truth), len(predicted))
	}
	m := &Metrics{
		Support: len(truth),
	}
	for i := range truth {
		m.Confusion[labelIndex(truth[i])][labelIndex(predicted[i])]++
	}
	c := m.Confusion
	m.Accuracy = ratio(c.TP()+c.TN(), len(truth))
	m.Precision = ratio(c.TP(), c.TP()+c.FP())
	m.Recall = ratio(c.TP(), c.TP()+c.FN())
	if m.Precision+m.Recall > 0 {
		m.F1 = 2 * m.Precision * m.Recall / (m.Precision + m.Recall)
	}
	return m, nil
}

func labelIndex(l nn.Label) int {
	if l == nn.LabelViolent {
		return 1
	}
	return 0
}

func ratio(a, b int) float64 {
	if b == 0 {
		return 0
	}
	return float64(a) / float64(b)
}
