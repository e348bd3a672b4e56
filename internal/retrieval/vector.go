package retrieval

import (
	"container/heap"
	"encoding/binary"
	"fmt"
	"math"
	"sort"
)

// encodeFloat32s serializes a float32 slice to little-endian bytes.
func encodeFloat32s(v []float32) []byte {
	buf := make([]byte, len(v)*4)
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return buf
}

// decodeFloat32sInto decodes little-endian bytes into buf, reusing its
// backing array when large enough.
func decodeFloat32sInto(buf []float32, b []byte) ([]float32, error) {
	if len(b)%4 != 0 {
		return nil, fmt.Errorf("byte slice length %d is not a multiple of 4", len(b))
	}
	n := len(b) / 4
	if cap(buf) < n {
		buf = make([]float32, n)
	} else {
		buf = buf[:n]
	}
	for i := range buf {
		buf[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*4:]))
	}
	return buf, nil
}

// norm returns the L2 norm of a vector.
func norm(v []float32) float32 {
	var sum float64
	for _, f := range v {
		sum += float64(f) * float64(f)
	}
	return float32(math.Sqrt(sum))
}

// similarity returns the cosine similarity of a and b clamped to [0,1].
// aNorm is the precomputed L2 norm of a. Vectors of different length score 0.
func similarity(a, b []float32, aNorm float32) float32 {
	if len(a) != len(b) || aNorm == 0 {
		return 0
	}
	var dot, bNormSq float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		bNormSq += float64(b[i]) * float64(b[i])
	}
	if bNormSq == 0 {
		return 0
	}
	s := dot / (float64(aNorm) * math.Sqrt(bNormSq))
	return float32(min(max(s, 0), 1))
}

// candidate is a scan-phase hit: the insertion position and score only.
type candidate struct {
	pos   int64
	score float32
}

// topK keeps the k best candidates seen so far. Candidates must be offered
// in insertion order so that equal scores keep the earlier one.
type topK struct {
	k int
	h candidateHeap
}

func (t *topK) offer(c candidate) {
	if t.h.Len() < t.k {
		heap.Push(&t.h, c)
		return
	}
	if c.score > t.h[0].score {
		t.h[0] = c
		heap.Fix(&t.h, 0)
	}
}

// sorted returns the kept candidates by descending score, ties by position.
func (t *topK) sorted() []candidate {
	out := append([]candidate(nil), t.h...)
	sort.Slice(out, func(i, j int) bool {
		if out[i].score != out[j].score {
			return out[i].score > out[j].score
		}
		return out[i].pos < out[j].pos
	})
	return out
}

// candidateHeap is a min-heap whose root is the worst kept candidate: the
// lowest score, and among equal scores the latest position.
type candidateHeap []candidate

func (h candidateHeap) Len() int { return len(h) }
func (h candidateHeap) Less(i, j int) bool {
	if h[i].score != h[j].score {
		return h[i].score < h[j].score
	}
	return h[i].pos > h[j].pos
}
func (h candidateHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }
func (h *candidateHeap) Push(x any)   { *h = append(*h, x.(candidate)) }
func (h *candidateHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}
