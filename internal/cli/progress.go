package cli

import (
	"fmt"
	"sync"
	"time"

	"github.com/schollz/progressbar/v3"

	"github.com/draagon/codemesh/internal/mesh"
)

// CLIProgressReporter renders a progress bar for extraction runs. It is
// safe for concurrent callbacks from worker goroutines.
type CLIProgressReporter struct {
	quiet   bool
	mu      sync.Mutex
	fileBar *progressbar.ProgressBar
}

// NewCLIProgressReporter creates a new CLI progress reporter.
func NewCLIProgressReporter(quiet bool) *CLIProgressReporter {
	return &CLIProgressReporter{quiet: quiet}
}

func (c *CLIProgressReporter) OnFileProcessingStart(totalFiles int) {
	if c.quiet {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	c.fileBar = progressbar.NewOptions(totalFiles,
		progressbar.OptionSetDescription("Extracting files"),
		progressbar.OptionSetWidth(40),
		progressbar.OptionShowCount(),
		progressbar.OptionShowIts(),
		progressbar.OptionSetItsString("files/s"),
		progressbar.OptionThrottle(65*time.Millisecond),
		progressbar.OptionShowElapsedTimeOnFinish(),
		progressbar.OptionOnCompletion(func() {
			fmt.Println()
		}),
	)
}

func (c *CLIProgressReporter) OnFileProcessed(fileName string) {
	if c.quiet {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.fileBar != nil {
		c.fileBar.Add(1)
	}
}

// printRunSummary prints the post-run statistics block.
func printRunSummary(stats mesh.Stats) {
	fmt.Printf("✓ Extraction complete: %s nodes, %s edges in %.1fs\n",
		formatNumber(stats.TotalNodes), formatNumber(stats.TotalEdges),
		stats.ExtractionTime.Seconds())
	fmt.Printf("  Files:   %s processed, %s skipped\n",
		formatNumber(stats.FilesProcessed), formatNumber(stats.FilesSkipped))
	fmt.Printf("  Tiers:   %s pattern, %s verified, %s discovered\n",
		formatNumber(stats.Tier1Extractions), formatNumber(stats.Tier2Extractions),
		formatNumber(stats.Tier3Extractions))
	if stats.AICalls > 0 {
		fmt.Printf("  AI:      %s calls, %s tokens\n",
			formatNumber(stats.AICalls), formatNumber(stats.AITokensUsed))
	}
}

// formatNumber renders n with thousands separators.
func formatNumber(n int) string {
	if n < 1000 {
		return fmt.Sprintf("%d", n)
	}
	s := fmt.Sprintf("%d", n)
	var out []byte
	for i, ch := range []byte(s) {
		if i > 0 && (len(s)-i)%3 == 0 {
			out = append(out, ',')
		}
		out = append(out, ch)
	}
	return string(out)
}
