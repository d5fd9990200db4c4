package unbg

import "context"

// Tensor is a dense float32 tensor in row major order.
type Tensor struct {
	Shape []int64
	Data  []float32
}

// Session runs a loaded model. A session is used by one caller at a time.
type Session interface {
	Run(ctx context.Context, input Tensor) (Tensor, error)
	Close() error
}

// Engine loads a model file for an execution path. Load fails when the
// execution path can't be initialized on this machine.
type Engine interface {
	Load(modelFile string, p Provider) (Session, error)
}
