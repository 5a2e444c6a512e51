package img

import (
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"os"
	"path/filepath"
	"sort"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"golang.org/x/image/draw"
)

// Extensions recognised when scanning class directories.
var Extensions = map[string]bool{".png": true, ".jpg": true, ".jpeg": true, ".gif": true, ".bmp": false}

// ListClasses returns the sorted subdirectory names of dir, one per class.
func ListClasses(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, errors.Wrapf(err, "scan classes in %s", dir)
	}
	var classes []string
	for _, e := range entries {
		if e.IsDir() {
			classes = append(classes, e.Name())
		}
	}
	if len(classes) == 0 {
		return nil, errors.Errorf("no class directories found in %s", dir)
	}
	sort.Strings(classes)
	return classes, nil
}

// LoadDir reads all images under dir/<class>/ for each of the given classes,
// resizing each to size x size pixels with 3 channels and scaling intensities
// to the 0-1 range. The class list fixes the label ordering so it must be
// discovered once and shared across splits. A subdirectory of dir which is
// not in classes is an error since it would silently skew the label mapping.
func LoadDir(dir string, classes []string, size int) (*Data, error) {
	found, err := ListClasses(dir)
	if err != nil {
		return nil, err
	}
	index := make(map[string]int32, len(classes))
	for i, name := range classes {
		index[name] = int32(i)
	}
	for _, name := range found {
		if _, ok := index[name]; !ok {
			return nil, errors.Errorf("class %q in %s is not in the training class set %v", name, dir, classes)
		}
	}
	var labels []int32
	var images []*Image
	for _, name := range found {
		files, err := os.ReadDir(filepath.Join(dir, name))
		if err != nil {
			return nil, errors.Wrapf(err, "read class dir %s", name)
		}
		count := 0
		for _, f := range files {
			if f.IsDir() || !Extensions[filepath.Ext(f.Name())] {
				continue
			}
			m, err := loadImage(filepath.Join(dir, name, f.Name()), size)
			if err != nil {
				return nil, err
			}
			images = append(images, m)
			labels = append(labels, index[name])
			count++
		}
		if count == 0 {
			return nil, errors.Errorf("class %q in %s has no images", name, dir)
		}
	}
	log.Info().Str("dir", dir).Int("images", len(images)).Int("classes", len(found)).Msg("loaded image set")
	return NewData(classes, labels, images), nil
}

// loadImage decodes one file and resizes it to size x size. Pixel values are
// scaled from 0-255 to 0-1 by the float conversion in Set.
func loadImage(path string, size int) (*Image, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrap(err, "open image")
	}
	defer f.Close()
	src, _, err := image.Decode(f)
	if err != nil {
		return nil, errors.Wrapf(err, "decode image %s", path)
	}
	dst := NewImage(size, size, 3)
	draw.CatmullRom.Scale(dst, dst.Bounds(), src, src.Bounds(), draw.Src, nil)
	return dst, nil
}

// CheckDataDir verifies the precondition that the dataset root and its three
// split directories exist and are readable.
func CheckDataDir(root string) error {
	for _, split := range []string{"train", "validation", "test"} {
		dir := filepath.Join(root, split)
		f, err := os.Open(dir)
		if err != nil {
			return errors.Wrapf(err, "dataset split %s is not readable", split)
		}
		info, err := f.Stat()
		f.Close()
		if err != nil {
			return errors.Wrapf(err, "stat %s", dir)
		}
		if !info.IsDir() {
			return errors.Errorf("%s is not a directory", dir)
		}
	}
	return nil
}
