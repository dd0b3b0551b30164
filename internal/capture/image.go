package capture

import (
	"bytes"
	"fmt"
	"image"
	"image/png"

	"golang.org/x/image/draw"

	"asxreport/pkg/model"
)

// MinImageBytes 小于该大小的截图通常是空白或加载占位
const MinImageBytes = 8_000

// 采样网格边长，dominantRatio 以上同色判定为空白
const (
	sampleGrid    = 48
	dominantRatio = 0.985
)

// Inspect 判断截图是否是真正渲染完成的图表
func Inspect(data []byte) (model.Readiness, image.Point, error) {
	if len(data) == 0 {
		return model.Suspect, image.Point{}, nil
	}
	img, err := png.Decode(bytes.NewReader(data))
	if err != nil {
		return model.NotReady, image.Point{}, fmt.Errorf("decode screenshot: %w", err)
	}
	size := img.Bounds().Size()
	if len(data) < MinImageBytes || size.X == 0 || size.Y == 0 {
		return model.Suspect, size, nil
	}
	if nearlyUniform(img) {
		return model.Suspect, size, nil
	}
	return model.Ready, size, nil
}

// nearlyUniform 在网格上采样，按 4 bit 量化颜色统计占比最高的颜色
func nearlyUniform(img image.Image) bool {
	b := img.Bounds()
	counts := make(map[uint16]int)
	total := 0
	for gy := 0; gy < sampleGrid; gy++ {
		y := b.Min.Y + gy*b.Dy()/sampleGrid
		for gx := 0; gx < sampleGrid; gx++ {
			x := b.Min.X + gx*b.Dx()/sampleGrid
			r, g, bl, _ := img.At(x, y).RGBA()
			key := uint16(r>>12)<<8 | uint16(g>>12)<<4 | uint16(bl>>12)
			counts[key]++
			total++
		}
	}
	top := 0
	for _, c := range counts {
		top = max(top, c)
	}
	return float64(top)/float64(total) >= dominantRatio
}

// Fit 宽度超过 maxWidth 时按比例缩小，返回新的 PNG 与尺寸
func Fit(data []byte, maxWidth int) ([]byte, image.Point, error) {
	src, err := png.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, image.Point{}, fmt.Errorf("decode screenshot: %w", err)
	}
	size := src.Bounds().Size()
	if maxWidth <= 0 || size.X <= maxWidth {
		return data, size, nil
	}

	h := size.Y * maxWidth / size.X
	dst := image.NewRGBA(image.Rect(0, 0, maxWidth, max(h, 1)))
	draw.CatmullRom.Scale(dst, dst.Bounds(), src, src.Bounds(), draw.Over, nil)

	var buf bytes.Buffer
	if err := png.Encode(&buf, dst); err != nil {
		return nil, image.Point{}, fmt.Errorf("encode screenshot: %w", err)
	}
	return buf.Bytes(), dst.Bounds().Size(), nil
}
