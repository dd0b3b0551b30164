package convert

import (
	"fmt"
	"os"

	"github.com/pdfcpu/pdfcpu/pkg/api"
)

// ValidatePDF 要求文件非空且至少有一页
func ValidatePDF(path string) error {
	st, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("engine produced no output: %w", err)
	}
	if st.Size() == 0 {
		return fmt.Errorf("engine produced an empty file: %s", path)
	}
	pages, err := api.PageCountFile(path)
	if err != nil {
		return fmt.Errorf("invalid pdf %s: %w", path, err)
	}
	if pages < 1 {
		return fmt.Errorf("pdf %s has no pages", path)
	}
	return nil
}
