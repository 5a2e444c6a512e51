package num

// ConvOutSize returns the output extent of a convolution or pooling window.
func ConvOutSize(in, size, stride, pad int) int {
	return (in+2*pad-size)/stride + 1
}

// Im2col expands a [channels, h, w] input plane into a column matrix of shape
// [channels*size*size, outH*outW] so that convolution reduces to a single
// matrix multiply. Out of range taps read as zero.
func Im2col(src []float32, channels, h, w, size, stride, pad int, dst []float32) {
	outH := ConvOutSize(h, size, stride, pad)
	outW := ConvOutSize(w, size, stride, pad)
	cols := outH * outW
	for c := 0; c < channels; c++ {
		plane := src[c*h*w : (c+1)*h*w]
		for ky := 0; ky < size; ky++ {
			for kx := 0; kx < size; kx++ {
				row := dst[((c*size+ky)*size+kx)*cols:]
				for oy := 0; oy < outH; oy++ {
					iy := oy*stride + ky - pad
					for ox := 0; ox < outW; ox++ {
						ix := ox*stride + kx - pad
						if iy < 0 || iy >= h || ix < 0 || ix >= w {
							row[oy*outW+ox] = 0
						} else {
							row[oy*outW+ox] = plane[iy*w+ix]
						}
					}
				}
			}
		}
	}
}

// Col2im scatters a column matrix produced by Im2col back onto an input
// plane, accumulating where windows overlap. dst must be zeroed by the
// caller.
func Col2im(src []float32, channels, h, w, size, stride, pad int, dst []float32) {
	outH := ConvOutSize(h, size, stride, pad)
	outW := ConvOutSize(w, size, stride, pad)
	cols := outH * outW
	for c := 0; c < channels; c++ {
		plane := dst[c*h*w : (c+1)*h*w]
		for ky := 0; ky < size; ky++ {
			for kx := 0; kx < size; kx++ {
				row := src[((c*size+ky)*size+kx)*cols:]
				for oy := 0; oy < outH; oy++ {
					iy := oy*stride + ky - pad
					if iy < 0 || iy >= h {
						continue
					}
					for ox := 0; ox < outW; ox++ {
						ix := ox*stride + kx - pad
						if ix < 0 || ix >= w {
							continue
						}
						plane[iy*w+ix] += row[oy*outW+ox]
					}
				}
			}
		}
	}
}
