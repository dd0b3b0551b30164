package report

import (
	"fmt"
	"strings"
	"time"
)

// PictureWidthInches 图表在页面中的宽度
const PictureWidthInches = 6.5

// Input 报告内容
type Input struct {
	Title     string
	Ticker    string
	SourceURL string
	Generated time.Time
	Image     []byte
}

// Title 确保标题包含代码
func Title(title, ticker string) string {
	title = strings.TrimSpace(title)
	ticker = strings.ToUpper(strings.TrimSpace(ticker))
	switch {
	case ticker == "":
		return title
	case title == "":
		return ticker + ".AX"
	case strings.Contains(strings.ToUpper(title), ticker):
		return title
	default:
		return ticker + ".AX: " + title
	}
}

// Build 组装报告并写入 path
func Build(in Input, path string) error {
	if len(in.Image) == 0 {
		return fmt.Errorf("report image is empty")
	}
	if in.Generated.IsZero() {
		in.Generated = time.Now()
	}
	doc := NewDocument()
	doc.AddHeading(Title(in.Title, in.Ticker), 1)
	doc.AddParagraph("Generated: " + in.Generated.Format(time.RFC3339))
	doc.AddParagraph("Source: " + in.SourceURL)
	if err := doc.AddPicture(in.Image, PictureWidthInches); err != nil {
		return err
	}
	return doc.Save(path)
}

// Builder 适配流水线的文档构建接口
type Builder struct{}

// Build 调用包级 Build
func (Builder) Build(in Input, path string) error { return Build(in, path) }
