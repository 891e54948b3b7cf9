package indexer

import "fmt"

// Window is an inclusive span of block heights.
type Window struct {
	From uint64
	To   uint64
}

// Len is the number of blocks in the window.
func (w Window) Len() uint64 {
	if w.To < w.From {
		return 0
	}
	return w.To - w.From + 1
}

// Batches cuts the window into fetch batches of at most size blocks. The
// last batch may be shorter.
func (w Window) Batches(size uint64) ([]Window, error) {
	if size == 0 {
		return nil, fmt.Errorf("batch size must be greater than zero")
	}
	if w.To < w.From {
		return nil, fmt.Errorf("window end %d is below start %d", w.To, w.From)
	}

	batches := make([]Window, 0, (w.Len()+size-1)/size)
	for start := w.From; ; {
		end := w.To
		if w.To-start >= size {
			end = start + size - 1
		}
		batches = append(batches, Window{From: start, To: end})
		if end == w.To {
			return batches, nil
		}
		start = end + 1
	}
}

// StartHeight is the first block to process. A checkpoint at or above the
// configured start moves it to the block after the checkpoint.
func StartHeight(configured, checkpoint uint64, resumed bool) uint64 {
	if resumed && checkpoint >= configured {
		return checkpoint + 1
	}
	return configured
}
