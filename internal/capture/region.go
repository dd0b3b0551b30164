package capture

// Region 页面中图表容器的位置，坐标为文档坐标
type Region struct {
	Selector string
	X        float64
	Y        float64
	Width    float64
	Height   float64
	Loading  bool
}

// Empty 是否未找到容器
func (r Region) Empty() bool { return r.Selector == "" || r.Width <= 0 || r.Height <= 0 }
