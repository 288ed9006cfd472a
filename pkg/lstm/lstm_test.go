package lstm

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"math/rand"
	"os"
	"path/filepath"
	"testing"

	"github.com/cyclopcam/rtvd/pkg/nn"
	"github.com/stretchr/testify/require"
)

func randomTensor(rng *rand.Rand, scale float32, shape ...int) Tensor {
	t := Tensor{Shape: shape}
	t.Data = make([]float32, t.NumElements())
	for i := range t.Data {
		t.Data[i] = (rng.Float32()*2 - 1) * scale
	}
	return t
}

func randomStateDict(rng *rand.Rand, config *nn.ModelConfig) map[string]Tensor {
	H := config.HiddenSize
	tensors := map[string]Tensor{}
	for k := 0; k < config.NumLayers; k++ {
		in := config.InputDim
		if k > 0 {
			in = H
		}
		tensors[fmt.Sprintf("lstm.weight_ih_l%v", k)] = randomTensor(rng, 0.05, 4*H, in)
		tensors[fmt.Sprintf("lstm.weight_hh_l%v", k)] = randomTensor(rng, 0.1, 4*H, H)
		tensors[fmt.Sprintf("lstm.bias_ih_l%v", k)] = randomTensor(rng, 0.1, 4*H)
		tensors[fmt.Sprintf("lstm.bias_hh_l%v", k)] = randomTensor(rng, 0.1, 4*H)
	}
	tensors["fc.weight"] = randomTensor(rng, 0.3, 1, H)
	tensors["fc.bias"] = randomTensor(rng, 0.3, 1)
	return tensors
}

func randomWindow(t *testing.T, rng *rand.Rand) nn.Window {
	steps := make([]nn.Embedding, nn.WindowLength)
	for i := range steps {
		steps[i] = make(nn.Embedding, nn.EmbeddingDim)
		for j := range steps[i] {
			steps[i][j] = rng.Float32() * 3
		}
	}
	w, err := nn.NewWindow(steps)
	require.NoError(t, err)
	return w
}

// Straightforward scalar implementation of the same network, to check the matrix version against
func referenceForward(config *nn.ModelConfig, tensors map[string]Tensor, seq [][]float32) float64 {
	H := config.HiddenSize
	sig := func(x float64) float64 { return 1 / (1 + math.Exp(-x)) }
	xs := make([][]float64, len(seq))
	for t := range seq {
		xs[t] = make([]float64, len(seq[t]))
		for i, v := range seq[t] {
			xs[t][i] = float64(v)
		}
	}
	for k := 0; k < config.NumLayers; k++ {
		wih := tensors[fmt.Sprintf("lstm.weight_ih_l%v", k)]
		whh := tensors[fmt.Sprintf("lstm.weight_hh_l%v", k)]
		bih := tensors[fmt.Sprintf("lstm.bias_ih_l%v", k)]
		bhh := tensors[fmt.Sprintf("lstm.bias_hh_l%v", k)]
		in := wih.Shape[1]
		h := make([]float64, H)
		c := make([]float64, H)
		out := make([][]float64, len(xs))
		for t, x := range xs {
			g := make([]float64, 4*H)
			for r := 0; r < 4*H; r++ {
				s := float64(bih.Data[r]) + float64(bhh.Data[r])
				for i := 0; i < in; i++ {
					s += float64(wih.Data[r*in+i]) * x[i]
				}
				for i := 0; i < H; i++ {
					s += float64(whh.Data[r*H+i]) * h[i]
				}
				g[r] = s
			}
			hn := make([]float64, H)
			for j := 0; j < H; j++ {
				c[j] = sig(g[H+j])*c[j] + sig(g[j])*math.Tanh(g[2*H+j])
				hn[j] = sig(g[3*H+j]) * math.Tanh(c[j])
			}
			h = hn
			out[t] = h
		}
		xs = out
	}
	last := xs[len(xs)-1]
	logit := float64(tensors["fc.bias"].Data[0])
	for j := 0; j < H; j++ {
		logit += float64(tensors["fc.weight"].Data[j]) * last[j]
	}
	return sig(logit)
}

func TestZeroWeights(t *testing.T) {
	config := nn.DefaultClassifierConfig()
	tensors := randomStateDict(rand.New(rand.NewSource(1)), config)
	for name, tensor := range tensors {
		for i := range tensor.Data {
			tensor.Data[i] = 0
		}
		tensors[name] = tensor
	}
	// With all weights zero, the hidden state stays zero, so only the output bias matters
	tensors["fc.bias"].Data[0] = 1.5
	c, err := New(config, tensors)
	require.NoError(t, err)
	p, err := c.Predict(context.Background(), randomWindow(t, rand.New(rand.NewSource(2))))
	require.NoError(t, err)
	require.InDelta(t, 1/(1+math.Exp(-1.5)), p, 1e-6)
}

func TestMatchesReference(t *testing.T) {
	rng := rand.New(rand.NewSource(123))
	config := nn.DefaultClassifierConfig()
	tensors := randomStateDict(rng, config)
	c, err := New(config, tensors)
	require.NoError(t, err)
	for i := 0; i < 3; i++ {
		w := randomWindow(t, rng)
		p, err := c.Predict(context.Background(), w)
		require.NoError(t, err)
		require.GreaterOrEqual(t, p, float32(0))
		require.LessOrEqual(t, p, float32(1))
		require.InDelta(t, referenceForward(config, tensors, w.Matrix()), p, 1e-5)

		// Deterministic
		p2, err := c.Predict(context.Background(), w)
		require.NoError(t, err)
		require.Equal(t, p, p2)
	}
}

func TestLoadFromFiles(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	config := nn.DefaultClassifierConfig()
	tensors := randomStateDict(rng, config)
	tensors["extra.unused"] = randomTensor(rng, 1, 3)

	dir := t.TempDir()
	configFile := filepath.Join(dir, "classifier.json")
	weightsFile := filepath.Join(dir, "classifier.safetensors")
	b, err := json.Marshal(config)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(configFile, b, 0644))
	require.NoError(t, SaveSafetensors(weightsFile, tensors))

	fromMemory, err := New(config, tensors)
	require.NoError(t, err)
	fromDisk, err := Load(configFile, weightsFile)
	require.NoError(t, err)
	require.Equal(t, *config, *fromDisk.Config())

	w := randomWindow(t, rng)
	p1, err := fromMemory.Predict(context.Background(), w)
	require.NoError(t, err)
	p2, err := fromDisk.Predict(context.Background(), w)
	require.NoError(t, err)
	require.Equal(t, p1, p2)
}

func TestShapeErrors(t *testing.T) {
	rng := rand.New(rand.NewSource(9))
	config := nn.DefaultClassifierConfig()
	tensors := randomStateDict(rng, config)
	tensors["lstm.weight_ih_l0"] = randomTensor(rng, 1, 4*config.HiddenSize, 1000)
	_, err := New(config, tensors)
	require.ErrorIs(t, err, nn.ErrShape)

	delete(tensors, "lstm.weight_ih_l0")
	_, err = New(config, tensors)
	require.Error(t, err)

	c, err := New(config, randomStateDict(rng, config))
	require.NoError(t, err)
	_, err = c.Forward([][]float32{make([]float32, 5)})
	require.ErrorIs(t, err, nn.ErrShape)
	_, err = c.Forward(nil)
	require.ErrorIs(t, err, nn.ErrShape)
}

func TestCorruptSafetensors(t *testing.T) {
	dir := t.TempDir()
	fn := filepath.Join(dir, "bad.safetensors")
	require.NoError(t, os.WriteFile(fn, []byte{1, 2, 3}, 0644))
	_, err := LoadSafetensors(fn)
	require.Error(t, err)

	// Header claims more data than the file holds
	tensors := map[string]Tensor{"a": {Shape: []int{4}, Data: []float32{1, 2, 3, 4}}}
	require.NoError(t, SaveSafetensors(fn, tensors))
	b, err := os.ReadFile(fn)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(fn, b[:len(b)-4], 0644))
	_, err = LoadSafetensors(fn)
	require.Error(t, err)
}
