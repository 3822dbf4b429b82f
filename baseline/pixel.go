package baseline

import (
	"bytes"
	"fmt"
	"image"
	"image/png"

	"github.com/BaSui01/driftguard/types"
)

// pixelDiff 逐像素对比两张 PNG。任一通道差超过 tolerance（0-255）即视为不同；
// 尺寸不一致时，只在一张图里出现的区域全部计为不同。
type pixelDiff struct {
	Similarity float64
	Differing  int
	Total      int
	SizeChange string
}

func comparePixels(baseline, current []byte, tolerance int) (*pixelDiff, error) {
	a, err := png.Decode(bytes.NewReader(baseline))
	if err != nil {
		return nil, types.NewError(types.ErrInvalidRequest, "baseline image is not a PNG").WithCause(err)
	}
	b, err := png.Decode(bytes.NewReader(current))
	if err != nil {
		return nil, types.NewError(types.ErrInvalidRequest, "current image is not a PNG").WithCause(err)
	}
	tolerance = min(max(tolerance, 0), 255)

	ab, bb := a.Bounds(), b.Bounds()
	w := max(ab.Dx(), bb.Dx())
	h := max(ab.Dy(), bb.Dy())
	total := w * h
	if total == 0 {
		return &pixelDiff{Similarity: 1}, nil
	}

	diff := &pixelDiff{Total: total}
	if ab.Dx() != bb.Dx() || ab.Dy() != bb.Dy() {
		diff.SizeChange = fmt.Sprintf("viewport size changed from %dx%d to %dx%d", ab.Dx(), ab.Dy(), bb.Dx(), bb.Dy())
	}
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			pa := image.Pt(ab.Min.X+x, ab.Min.Y+y)
			pb := image.Pt(bb.Min.X+x, bb.Min.Y+y)
			if !pa.In(ab) || !pb.In(bb) {
				diff.Differing++
				continue
			}
			if !samePixel(a, b, pa, pb, tolerance) {
				diff.Differing++
			}
		}
	}
	diff.Similarity = float64(total-diff.Differing) / float64(total)
	return diff, nil
}

func samePixel(a, b image.Image, pa, pb image.Point, tolerance int) bool {
	r1, g1, b1, a1 := a.At(pa.X, pa.Y).RGBA()
	r2, g2, b2, a2 := b.At(pb.X, pb.Y).RGBA()
	return channelClose(r1, r2, tolerance) &&
		channelClose(g1, g2, tolerance) &&
		channelClose(b1, b2, tolerance) &&
		channelClose(a1, a2, tolerance)
}

func channelClose(c1, c2 uint32, tolerance int) bool {
	d := int(c1>>8) - int(c2>>8)
	if d < 0 {
		d = -d
	}
	return d <= tolerance
}

// changes 把像素差异描述成变化列表
func (d *pixelDiff) changes() []string {
	var out []string
	if d.SizeChange != "" {
		out = append(out, d.SizeChange)
	}
	if d.Differing > 0 {
		out = append(out, fmt.Sprintf("%.2f%% of pixels differ", 100*float64(d.Differing)/float64(d.Total)))
	}
	return out
}
