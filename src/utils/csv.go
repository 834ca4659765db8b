package utils

import (
	"fmt"
	"os"
	"path"
	"time"

	"github.com/gocarina/gocsv"

	"github.com/jiaming2012/terminal-sync/src/eventmodels"
)

// ExportDealsToCsv writes the deal history to a timestamped CSV file under
// outDir and returns the file path.
func ExportDealsToCsv(outDir string, deals []*eventmodels.Deal, fname string) (string, error) {
	if err := os.MkdirAll(outDir, 0755); err != nil {
		return "", fmt.Errorf("ExportDealsToCsv: failed to create directory %s: %w", outDir, err)
	}

	outPath := path.Join(outDir, fmt.Sprintf("%s-%s.csv", fname, time.Now().Format("20060102_150405")))

	f, err := os.Create(outPath)
	if err != nil {
		return "", fmt.Errorf("ExportDealsToCsv: failed to create %s: %w", outPath, err)
	}
	defer f.Close()

	if err := gocsv.MarshalFile(&deals, f); err != nil {
		return "", fmt.Errorf("ExportDealsToCsv: failed to marshal deals: %w", err)
	}

	return outPath, nil
}
