package fixtures

import (
	"bytes"
	"image"
	"image/color"
	"image/draw"
	"image/png"
)

// SolidPNG 返回 w×h 的纯色 PNG
func SolidPNG(w, h int, c color.Color) []byte {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.Draw(img, img.Bounds(), &image.Uniform{C: c}, image.Point{}, draw.Src)
	return encode(img)
}

// BlockPNG 返回背景为 bg、在 block 区域填充 fg 的 PNG
func BlockPNG(w, h int, bg, fg color.Color, block image.Rectangle) []byte {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.Draw(img, img.Bounds(), &image.Uniform{C: bg}, image.Point{}, draw.Src)
	draw.Draw(img, block.Intersect(img.Bounds()), &image.Uniform{C: fg}, image.Point{}, draw.Src)
	return encode(img)
}

func encode(img image.Image) []byte {
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		panic(err)
	}
	return buf.Bytes()
}
