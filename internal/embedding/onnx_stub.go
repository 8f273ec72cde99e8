//go:build !onnx || !cgo

package embedding

import (
	"context"
	"errors"
)

var errONNXDisabled = errors.New("ONNX embedder not compiled in; build with CGO_ENABLED=1 -tags onnx and install onnxruntime")

// ONNXEmbedder stub type when built without the onnx tag (see onnx.go for the real implementation).
type ONNXEmbedder struct{}

// NewONNXEmbedder returns an error when ONNX support is not compiled in.
func NewONNXEmbedder(_ string, _, _ int) (*ONNXEmbedder, error) {
	return nil, errONNXDisabled
}

func (e *ONNXEmbedder) Embed(context.Context, string) ([]float32, error) { return nil, errONNXDisabled }

func (e *ONNXEmbedder) EmbedBatch(context.Context, []string) ([][]float32, error) {
	return nil, errONNXDisabled
}

func (e *ONNXEmbedder) Dimensions() int { return 0 }

func (e *ONNXEmbedder) Close() error { return nil }
