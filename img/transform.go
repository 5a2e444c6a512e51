package img

import (
	"math"
	"math/rand"

	"github.com/rfml/modnet/num"
)

// Augment holds the randomised geometric augmentation policy applied to
// training images. Each field is the maximum magnitude of the uniform random
// draw, so zero disables that transform.
type Augment struct {
	Rotate    float64 `yaml:"rotate"`    // max rotation either way in degrees
	Shift     float64 `yaml:"shift"`     // max horizontal/vertical shift as a fraction of the extent
	Shear     float64 `yaml:"shear"`     // max shear factor
	Zoom      float64 `yaml:"zoom"`      // max zoom in or out as a fraction
	HorizFlip bool    `yaml:"horizFlip"` // random horizontal flip
}

// DefaultAugment is the augmentation policy used for training spectrograms.
var DefaultAugment = Augment{Rotate: 15, Shift: 0.1, Shear: 0.1, Zoom: 0.1, HorizFlip: true}

// Enabled reports whether any transform is active.
func (a Augment) Enabled() bool {
	return a.Rotate != 0 || a.Shift != 0 || a.Shear != 0 || a.Zoom != 0 || a.HorizFlip
}

// Transformer applies a fresh random affine transform per image. Newly
// exposed regions are filled with the nearest edge pixel.
type Transformer struct {
	Aug  Augment
	data *Data
	w, h int
	rng  []*rand.Rand
}

// NewTransformer creates a transformer for the given image set with one
// random source per worker thread.
func NewTransformer(data *Data, aug Augment, rng *rand.Rand) *Transformer {
	t := &Transformer{Aug: aug, data: data, w: data.Dims[2], h: data.Dims[1]}
	for i := 0; i < num.Workers(data.Len()); i++ {
		t.rng = append(t.rng, rand.New(rand.NewSource(rng.Int63())))
	}
	return t
}

// TransformBatch transforms a batch of images in parallel.
func (t *Transformer) TransformBatch(index []int, dst []*Image) []*Image {
	if dst == nil {
		dst = make([]*Image, len(index))
	}
	num.Parallel(len(index), func(worker, i int) {
		dst[i] = t.Transform(t.data.Images[index[i]], worker)
	})
	return dst
}

// Transform applies one random draw of the augmentation policy.
func (t *Transformer) Transform(src *Image, thread int) *Image {
	rng := t.rng[thread]
	a := t.Aug
	angle := a.Rotate * (math.Pi / 180) * (2*rng.Float64() - 1)
	shear := a.Shear * (2*rng.Float64() - 1)
	zx := 1 + a.Zoom*(2*rng.Float64()-1)
	zy := 1 + a.Zoom*(2*rng.Float64()-1)
	tx := a.Shift * float64(t.w) * (2*rng.Float64() - 1)
	ty := a.Shift * float64(t.h) * (2*rng.Float64() - 1)
	flip := a.HorizFlip && rng.Float64() > 0.5

	// forward map is rotate . shear . zoom about the image centre plus a
	// translation; sampling needs the inverse
	sin, cos := math.Sincos(angle)
	m00 := cos*zx - sin*shear*zx
	m01 := -sin * zy
	m10 := sin*zx + cos*shear*zx
	m11 := cos * zy
	det := m00*m11 - m01*m10
	if det == 0 {
		det = epsilon
	}
	i00, i01 := m11/det, -m01/det
	i10, i11 := -m10/det, m00/det

	cx, cy := float64(t.w-1)/2, float64(t.h-1)/2
	dst := NewImageLike(src)
	for y := 0; y < t.h; y++ {
		for x := 0; x < t.w; x++ {
			fx := float64(x)
			if flip {
				fx = float64(t.w - 1 - x)
			}
			dx, dy := fx-cx-tx, float64(y)-cy-ty
			sx := i00*dx + i01*dy + cx
			sy := i10*dx + i11*dy + cy
			dst.Set(x, y, t.sample(src, sx, sy))
		}
	}
	return dst
}

// sample reads a bilinear interpolated pixel, clamping to the image edge.
func (t *Transformer) sample(src *Image, x, y float64) RGB {
	ix, iy := int(math.Floor(x)), int(math.Floor(y))
	xf, yf := float32(x-float64(ix)), float32(y-float64(iy))
	p00 := src.RGBAt(ix, iy)
	p10 := src.RGBAt(ix+1, iy)
	p01 := src.RGBAt(ix, iy+1)
	p11 := src.RGBAt(ix+1, iy+1)
	return RGB{
		R: (p00.R*(1-xf)+p10.R*xf)*(1-yf) + (p01.R*(1-xf)+p11.R*xf)*yf,
		G: (p00.G*(1-xf)+p10.G*xf)*(1-yf) + (p01.G*(1-xf)+p11.G*xf)*yf,
		B: (p00.B*(1-xf)+p10.B*xf)*(1-yf) + (p01.B*(1-xf)+p11.B*xf)*yf,
	}
}

const epsilon = 1e-5
