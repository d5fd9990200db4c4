package unbg_test

import (
	"context"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ardanlabs/unbg/sdk/unbg"
)

type countingEngine struct {
	loads  atomic.Int32
	closed atomic.Int32
}

func (e *countingEngine) Load(modelFile string, p unbg.Provider) (unbg.Session, error) {
	e.loads.Add(1)
	return &countingSession{engine: e}, nil
}

type countingSession struct {
	engine *countingEngine
}

func (s *countingSession) Run(ctx context.Context, input unbg.Tensor) (unbg.Tensor, error) {
	return input, nil
}

func (s *countingSession) Close() error {
	s.engine.closed.Add(1)
	return nil
}

func Test_Sessions(t *testing.T) {
	file := filepath.Join(t.TempDir(), "model.onnx")
	if err := os.WriteFile(file, nil, 0644); err != nil {
		t.Fatalf("write: %v", err)
	}

	tt := []struct {
		name        string
		maxSessions int
		providers   []unbg.Provider
		loads       int32
		live        int
		closed      int32
	}{
		{"unbounded", 0, []unbg.Provider{unbg.CPU, unbg.CPU, unbg.CUDA, unbg.CPU}, 2, 2, 0},
		{"bounded", 1, []unbg.Provider{unbg.CPU, unbg.CUDA, unbg.DirectML}, 3, 1, 2},
	}

	in := unbg.Tensor{Shape: []int64{1}, Data: []float32{0.5}}

	for _, tst := range tt {
		t.Run(tst.name, func(t *testing.T) {
			var engine countingEngine

			sessions, err := unbg.NewSessions(unbg.DiscardLogger, &engine, tst.maxSessions)
			if err != nil {
				t.Fatalf("new sessions: %v", err)
			}

			for _, p := range tst.providers {
				key := unbg.SessionKey(file, p, "")

				out, err := sessions.Run(context.Background(), key, file, p, in)
				if err != nil {
					t.Fatalf("run: %v", err)
				}

				if len(out.Data) != 1 || out.Data[0] != 0.5 {
					t.Fatalf("unexpected output: %+v", out)
				}
			}

			if got := engine.loads.Load(); got != tst.loads {
				t.Fatalf("expected %d loads, got: %d", tst.loads, got)
			}

			// Evictions are delivered by the cache in the background.
			waitFor(t, func() bool {
				return sessions.Len() == tst.live && engine.closed.Load() == tst.closed
			})

			if err := sessions.Shutdown(context.Background()); err != nil {
				t.Fatalf("shutdown: %v", err)
			}

			if got := engine.closed.Load(); got != tst.loads {
				t.Fatalf("expected every session to be closed, got: %d", got)
			}

			if got := sessions.Len(); got != 0 {
				t.Fatalf("expected no live sessions, got: %d", got)
			}
		})
	}

	t.Run("key", func(t *testing.T) {
		if got := unbg.SessionKey("/m/model.onnx", unbg.DirectML, "/lib/ort.dll"); got != "/m/model.onnx|directml|/lib/ort.dll" {
			t.Fatalf("unexpected key: %s", got)
		}
	})
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()

	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not met before the deadline")
		}

		time.Sleep(5 * time.Millisecond)
	}
}
