package lstm

// Package lstm is a native Go implementation of the window classifier:
// a stack of LSTM layers, of which only the final time step is used,
// followed by a single linear output unit and a logistic function.
// Weight names and gate order follow PyTorch's nn.LSTM and nn.Linear, so a
// state_dict saved with safetensors can be loaded directly.

import (
	"context"
	"fmt"
	"math"

	"github.com/chewxy/math32"
	"github.com/cyclopcam/rtvd/pkg/nn"
	"gonum.org/v1/gonum/mat"
)

type layer struct {
	inputDim int
	wih      *mat.Dense    // 4H x inputDim, gates in order i,f,g,o
	whh      *mat.Dense    // 4H x H
	bias     *mat.VecDense // bias_ih + bias_hh
}

// Classifier implements nn.SequenceClassifier
type Classifier struct {
	config nn.ModelConfig
	layers []layer
	fcW    *mat.VecDense // H
	fcB    float64
}

// Load a classifier from a JSON model config and a safetensors weight file
func Load(configFile, weightsFile string) (*Classifier, error) {
	config, err := nn.LoadModelConfig(configFile)
	if err != nil {
		return nil, fmt.Errorf("Failed to load classifier config '%v': %w", configFile, err)
	}
	tensors, err := LoadSafetensors(weightsFile)
	if err != nil {
		return nil, fmt.Errorf("Failed to load classifier weights '%v': %w", weightsFile, err)
	}
	return New(config, tensors)
}

// New creates a classifier from a config and a PyTorch-style state dict
func New(config *nn.ModelConfig, tensors map[string]Tensor) (*Classifier, error) {
	if config.HiddenSize <= 0 || config.NumLayers <= 0 || config.InputDim <= 0 {
		return nil, fmt.Errorf("Invalid classifier config (inputDim %v, hiddenSize %v, numLayers %v)", config.InputDim, config.HiddenSize, config.NumLayers)
	}
	H := config.HiddenSize
	c := &Classifier{
		config: *config,
	}
	for k := 0; k < config.NumLayers; k++ {
		inputDim := config.InputDim
		if k > 0 {
			inputDim = H
		}
		wih, err := matrix(tensors, fmt.Sprintf("lstm.weight_ih_l%v", k), 4*H, inputDim)
		if err != nil {
			return nil, err
		}
		whh, err := matrix(tensors, fmt.Sprintf("lstm.weight_hh_l%v", k), 4*H, H)
		if err != nil {
			return nil, err
		}
		bih, err := vector(tensors, fmt.Sprintf("lstm.bias_ih_l%v", k), 4*H)
		if err != nil {
			return nil, err
		}
		bhh, err := vector(tensors, fmt.Sprintf("lstm.bias_hh_l%v", k), 4*H)
		if err != nil {
			return nil, err
		}
		bias := mat.NewVecDense(4*H, nil)
		bias.AddVec(bih, bhh)
		c.layers = append(c.layers, layer{
			inputDim: inputDim,
			wih:      wih,
			whh:      whh,
			bias:     bias,
		})
	}
	fcW, err := matrix(tensors, "fc.weight", 1, H)
	if err != nil {
		return nil, err
	}
	c.fcW = mat.NewVecDense(H, fcW.RawRowView(0))
	fcB, err := vector(tensors, "fc.bias", 1)
	if err != nil {
		return nil, err
	}
	c.fcB = fcB.AtVec(0)
	return c, nil
}

func (c *Classifier) Close() {
}

func (c *Classifier) Config() *nn.ModelConfig {
	return &c.config
}

func (c *Classifier) Predict(ctx context.Context, w nn.Window) (float32, error) {
	if c.config.SequenceLength != 0 && w.Len() != c.config.SequenceLength {
		return 0, nn.NewShapeError("classifier window", c.config.SequenceLength, w.Len())
	}
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	return c.Forward(w.Matrix())
}

// Forward runs the network over a [time][feature] sequence and returns the probability
// of the positive class. Dropout between layers is the identity at inference time.
func (c *Classifier) Forward(seq [][]float32) (float32, error) {
	if len(seq) == 0 {
		return 0, nn.NewShapeError("sequence", max(c.config.SequenceLength, 1), 0)
	}
	H := c.config.HiddenSize

	// Layer input sequence
	xs := make([]*mat.VecDense, len(seq))
	for t, step := range seq {
		if len(step) != c.config.InputDim {
			return 0, nn.NewShapeError("sequence step", c.config.InputDim, len(step))
		}
		x := mat.NewVecDense(len(step), nil)
		for i, v := range step {
			x.SetVec(i, float64(v))
		}
		xs[t] = x
	}

	gates := mat.NewVecDense(4*H, nil)
	recurrent := mat.NewVecDense(4*H, nil)
	for _, l := range c.layers {
		h := mat.NewVecDense(H, nil)
		cell := mat.NewVecDense(H, nil)
		out := make([]*mat.VecDense, len(xs))
		for t, x := range xs {
			gates.MulVec(l.wih, x)
			recurrent.MulVec(l.whh, h)
			gates.AddVec(gates, recurrent)
			gates.AddVec(gates, l.bias)
			g := gates.RawVector().Data
			hNext := mat.NewVecDense(H, nil)
			for j := 0; j < H; j++ {
				in := sigmoid(g[j])
				forget := sigmoid(g[H+j])
				candidate := math.Tanh(g[2*H+j])
				output := sigmoid(g[3*H+j])
				cj := forget*cell.AtVec(j) + in*candidate
				cell.SetVec(j, cj)
				hNext.SetVec(j, output*math.Tanh(cj))
			}
			h = hNext
			out[t] = h
		}
		xs = out
	}

	last := xs[len(xs)-1]
	logit := mat.Dot(c.fcW, last) + c.fcB
	return 1 / (1 + math32.Exp(-float32(logit))), nil
}

func sigmoid(x float64) float64 {
	return 1 / (1 + math.Exp(-x))
}

func matrix(tensors map[string]Tensor, name string, rows, cols int) (*mat.Dense, error) {
	t, ok := tensors[name]
	if !ok {
		return nil, fmt.Errorf("Missing tensor '%v'", name)
	}
	if len(t.Shape) != 2 || t.Shape[0] != rows || t.Shape[1] != cols {
		return nil, fmt.Errorf("Tensor '%v' has shape %v, expected [%v %v]: %w", name, t.Shape, rows, cols, nn.ErrShape)
	}
	data := make([]float64, len(t.Data))
	for i, v := range t.Data {
		data[i] = float64(v)
	}
	return mat.NewDense(rows, cols, data), nil
}

func vector(tensors map[string]Tensor, name string, n int) (*mat.VecDense, error) {
	t, ok := tensors[name]
	if !ok {
		return nil, fmt.Errorf("Missing tensor '%v'", name)
	}
	if len(t.Shape) != 1 || t.Shape[0] != n {
		return nil, fmt.Errorf("Tensor '%v' has shape %v, expected [%v]: %w", name, t.Shape, n, nn.ErrShape)
	}
	data := make([]float64, n)
	for i, v := range t.Data {
		data[i] = float64(v)
	}
	return mat.NewVecDense(n, data), nil
}
