package img

import (
	"github.com/rfml/modnet/stats"
)

// Data is an image data set which implements the nnet.Data interface.
type Data struct {
	Class  []string
	Dims   []int
	Labels []int32
	Images []*Image
	trans  *Transformer
}

// NewData creates a new image set. The class list is supplied by the caller
// so that every split shares the same label ordering.
func NewData(classes []string, labels []int32, images []*Image) *Data {
	src := images[0]
	dims := []int{src.Channels, src.Height, src.Width}
	return &Data{Class: classes, Dims: dims, Labels: labels, Images: images}
}

// Len returns the number of images.
func (d *Data) Len() int { return len(d.Labels) }

// Classes returns the shared class name list.
func (d *Data) Classes() []string { return d.Class }

// Shape returns channels, height, width.
func (d *Data) Shape() []int { return d.Dims }

// Label copies the classification for the given images into label.
func (d *Data) Label(index []int, label []int32) {
	for i, ix := range index {
		label[i] = d.Labels[ix]
	}
}

// SetTrans attaches a random augmentation applied on every call to Input.
func (d *Data) SetTrans(t *Transformer) { d.trans = t }

// Input copies scaled input data for the given images into buf, applying the
// attached augmentation if any. A fresh random transform is drawn per image
// per call.
func (d *Data) Input(index []int, buf []float32) {
	nfeat := d.nfeat()
	if d.trans == nil {
		for i, ix := range index {
			copy(buf[i*nfeat:], d.Images[ix].Pix)
		}
		return
	}
	temp := d.trans.TransformBatch(index, nil)
	for i := range index {
		copy(buf[i*nfeat:], temp[i].Pix)
	}
}

func (d *Data) nfeat() int {
	n := 1
	for _, dim := range d.Dims {
		n *= dim
	}
	return n
}

// GetStats calculates the per channel mean and stddev over sets of images.
func GetStats(imgList ...[]*Image) (mean, std []float32) {
	channels := imgList[0][0].Channels
	stat := make([]*stats.Average, channels)
	for i := range stat {
		stat[i] = new(stats.Average)
	}
	for _, images := range imgList {
		for _, img := range images {
			for ch, s := range stat {
				for _, val := range img.Pixels(ch) {
					s.Add(float64(val))
				}
			}
		}
	}
	mean = make([]float32, channels)
	std = make([]float32, channels)
	for i, s := range stat {
		mean[i] = float32(s.Mean)
		std[i] = float32(s.StdDev)
	}
	return mean, std
}
