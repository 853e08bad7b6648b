package analysis

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/sbinet/npyio"
	"github.com/zeu5/highway-rl/util"
)

// SaveReturns writes the returns as a one dimensional float64 .npy array
func SaveReturns(path string, returns []float64) error {
	if err := util.EnsureDir(filepath.Dir(path)); err != nil {
		return err
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := npyio.Write(f, returns); err != nil {
		f.Close()
		return fmt.Errorf("writing %s: %w", path, err)
	}
	return f.Close()
}

func LoadReturns(path string) ([]float64, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	var returns []float64
	if err := npyio.Read(f, &returns); err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	return returns, nil
}
