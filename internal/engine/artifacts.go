package engine

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"momentum-go/internal/paper"
)

// Artifact file names under {out}/{run_id}/.
const (
	SummaryFile = "summary.json"
	TradesFile  = "trades.jsonl"
)

// RunInfo describes the run a Result belongs to.
type RunInfo struct {
	ID         string    `json:"run_id"`
	Mode       string    `json:"mode"`
	Feed       string    `json:"feed"`
	From       string    `json:"from,omitempty"`
	To         string    `json:"to,omitempty"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
}

// RunReport is the persisted summary.json document.
type RunReport struct {
	RunInfo
	Result
}

// RunDir creates and returns {out}/{run_id}.
func RunDir(out, runID string) (string, error) {
	dir := filepath.Join(out, runID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create run dir: %w", err)
	}
	return dir, nil
}

// OpenTrades opens the streaming trades.jsonl sink inside dir.
func OpenTrades(dir string) (*paper.JSONLRecorder, error) {
	return paper.NewJSONLRecorder(filepath.Join(dir, TradesFile))
}

// WriteSummary writes summary.json inside dir.
func WriteSummary(dir string, info RunInfo, res Result) error {
	return paper.WriteJSON(filepath.Join(dir, SummaryFile), RunReport{RunInfo: info, Result: res})
}
