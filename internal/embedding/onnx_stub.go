//go:build !cgo

package embedding

import "errors"

// ONNXEmbedder is unavailable without cgo; see onnx.go.
type ONNXEmbedder struct{ Embedder }

// NewONNXEmbedder returns an error when built without cgo.
func NewONNXEmbedder(_ ONNXOptions) (*ONNXEmbedder, error) {
	return nil, errors.New("ONNX embedder requires CGO; build with CGO_ENABLED=1 and onnxruntime")
}
