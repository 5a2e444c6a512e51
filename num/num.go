// Package num contains the dense float32 arrays and numeric kernels used by
// the network layers.
package num

import (
	"fmt"
	"math"
	"runtime"
	"strings"
	"sync"

	"gonum.org/v1/gonum/blas"
	"gonum.org/v1/gonum/blas/blas32"
)

// Array is a dense float32 tensor stored in row major order with the batch
// dimension first.
type Array struct {
	Dims []int
	Data []float32
}

// NewArray allocates a zeroed array with the given dimensions.
func NewArray(dims ...int) *Array {
	return &Array{Dims: dims, Data: make([]float32, Prod(dims))}
}

// NewArrayData wraps an existing slice, which must match the product of dims.
func NewArrayData(data []float32, dims ...int) *Array {
	if len(data) != Prod(dims) {
		panic(fmt.Sprintf("num: data length %d does not match dims %v", len(data), dims))
	}
	return &Array{Dims: dims, Data: data}
}

// Prod returns the product of the dimensions.
func Prod(dims []int) int {
	n := 1
	for _, d := range dims {
		n *= d
	}
	return n
}

// Size returns the total number of elements.
func (a *Array) Size() int { return len(a.Data) }

// Reshape returns a view on the same data with new dimensions. One dimension
// may be -1 in which case it is inferred from the size.
func (a *Array) Reshape(dims ...int) *Array {
	size, infer := 1, -1
	for i, d := range dims {
		if d == -1 {
			infer = i
		} else {
			size *= d
		}
	}
	out := make([]int, len(dims))
	copy(out, dims)
	if infer >= 0 {
		out[infer] = len(a.Data) / size
		size *= out[infer]
	}
	if size != len(a.Data) {
		panic(fmt.Sprintf("num: cannot reshape %v to %v", a.Dims, dims))
	}
	return &Array{Dims: out, Data: a.Data}
}

// Slice returns a view on rows [start,end) of the leading dimension.
func (a *Array) Slice(start, end int) *Array {
	stride := Prod(a.Dims[1:])
	dims := append([]int{end - start}, a.Dims[1:]...)
	return &Array{Dims: dims, Data: a.Data[start*stride : end*stride]}
}

// Clone returns a deep copy.
func (a *Array) Clone() *Array {
	b := NewArray(a.Dims...)
	copy(b.Data, a.Data)
	return b
}

// Fill sets every element to val.
func (a *Array) Fill(val float32) {
	for i := range a.Data {
		a.Data[i] = val
	}
}

func (a *Array) String() string {
	vals := make([]string, 0, len(a.Data))
	for _, v := range a.Data {
		vals = append(vals, fmt.Sprintf("%.4g", v))
	}
	return fmt.Sprintf("%v[%s]", a.Dims, strings.Join(vals, " "))
}

// Axpy computes y += alpha * x over the raw data.
func Axpy(alpha float32, x, y *Array) {
	if len(x.Data) != len(y.Data) {
		panic("num: axpy size mismatch")
	}
	blas32.Axpy(alpha, vec(x.Data), vec(y.Data))
}

// Scale multiplies every element of x by alpha.
func Scale(alpha float32, x *Array) {
	blas32.Scal(alpha, vec(x.Data))
}

// Sum returns the sum of all elements.
func Sum(x *Array) float32 {
	var s float32
	for _, v := range x.Data {
		s += v
	}
	return s
}

// Gemm computes c = alpha*op(a)*op(b) + beta*c where a, b and c are 2
// dimensional arrays and op is the optional transpose.
func Gemm(alpha, beta float32, a, b, c *Array, transA, transB bool) {
	if len(a.Dims) != 2 || len(b.Dims) != 2 || len(c.Dims) != 2 {
		panic("num: gemm expects 2 dimensional arrays")
	}
	tA, tB := blas.NoTrans, blas.NoTrans
	if transA {
		tA = blas.Trans
	}
	if transB {
		tB = blas.Trans
	}
	blas32.Gemm(tA, tB, alpha, gen(a), gen(b), beta, gen(c))
}

func gen(a *Array) blas32.General {
	return blas32.General{Rows: a.Dims[0], Cols: a.Dims[1], Stride: a.Dims[1], Data: a.Data}
}

func vec(data []float32) blas32.Vector {
	return blas32.Vector{N: len(data), Inc: 1, Data: data}
}

// Softmax applies the softmax function to each row of src, writing the
// normalised probabilities to dst. Shapes must be [batch, n].
func Softmax(src, dst *Array) {
	n := src.Dims[1]
	for r := 0; r < src.Dims[0]; r++ {
		row := src.Data[r*n : (r+1)*n]
		out := dst.Data[r*n : (r+1)*n]
		max := row[0]
		for _, v := range row[1:] {
			if v > max {
				max = v
			}
		}
		var sum float32
		for i, v := range row {
			e := float32(math.Exp(float64(v - max)))
			out[i] = e
			sum += e
		}
		for i := range out {
			out[i] /= sum
		}
	}
}

// Onehot expands labels into a [batch, classes] indicator array.
func Onehot(labels []int32, dst *Array, classes int) {
	dst.Fill(0)
	for i, l := range labels {
		dst.Data[i*classes+int(l)] = 1
	}
}

// Argmax returns the index of the largest value in each row of a
// [batch, n] array. Ties resolve to the lowest index.
func Argmax(a *Array) []int32 {
	n := a.Dims[1]
	out := make([]int32, a.Dims[0])
	for r := range out {
		row := a.Data[r*n : (r+1)*n]
		best := 0
		for i, v := range row {
			if v > row[best] {
				best = i
			}
		}
		out[r] = int32(best)
	}
	return out
}

// Parallel calls fn for each index in [0,n) spread across worker goroutines,
// one per available CPU. fn receives the worker number and the index.
func Parallel(n int, fn func(worker, i int)) {
	workers := runtime.GOMAXPROCS(0)
	if workers > n {
		workers = n
	}
	if workers <= 1 {
		for i := 0; i < n; i++ {
			fn(0, i)
		}
		return
	}
	var wg sync.WaitGroup
	queue := make(chan int, n)
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func(worker int) {
			for i := range queue {
				fn(worker, i)
			}
			wg.Done()
		}(w)
	}
	for i := 0; i < n; i++ {
		queue <- i
	}
	close(queue)
	wg.Wait()
}

// Workers returns the number of workers Parallel will use for n items.
func Workers(n int) int {
	w := runtime.GOMAXPROCS(0)
	if w > n {
		w = n
	}
	if w < 1 {
		w = 1
	}
	return w
}
