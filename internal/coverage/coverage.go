// Package coverage merges per-leg coverage artifacts into one profile and
// enforces the aggregate threshold. It is the pipeline's join point: it runs
// after every leg has reached a terminal state and tolerates missing
// artifacts from failed legs.
package coverage

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"golang.org/x/tools/cover"

	"github.com/schmitthub/plexup/internal/logger"
)

// ErrThresholdUnmet means aggregate coverage fell below the floor. It fails
// the pipeline independently of individual leg pass/fail status.
var ErrThresholdUnmet = errors.New("aggregate coverage below threshold")

// ErrNoArtifacts means no coverage artifacts matched the glob.
var ErrNoArtifacts = errors.New("no coverage artifacts found")

// ArtifactGlob matches per-leg artifacts, coverage-<claim-state>-<tool-version>.out.
// The two-segment form keeps a merged profile written into the same
// directory (e.g. coverage-merged.out) out of the next aggregation.
const ArtifactGlob = "coverage-*-*.out"

// blockKey identifies a profile block within a file.
type blockKey struct {
	startLine, startCol int
	endLine, endCol     int
	numStmt             int
}

// Merge combines cover profiles from the given files into one profile set.
// Blocks are keyed by position; "set" mode ORs counts, counting modes sum.
func Merge(files []string) ([]*cover.Profile, error) {
	if len(files) == 0 {
		return nil, ErrNoArtifacts
	}

	mode := ""
	merged := map[string]map[blockKey]*cover.ProfileBlock{}

	for _, file := range files {
		profiles, err := cover.ParseProfiles(file)
		if err != nil {
			return nil, fmt.Errorf("failed to parse %s: %w", file, err)
		}

		for _, p := range profiles {
			if mode == "" {
				mode = p.Mode
			} else if p.Mode != mode {
				return nil, fmt.Errorf("mixed coverage modes: %q vs %q", mode, p.Mode)
			}

			blocks, ok := merged[p.FileName]
			if !ok {
				blocks = map[blockKey]*cover.ProfileBlock{}
				merged[p.FileName] = blocks
			}

			for _, b := range p.Blocks {
				key := blockKey{b.StartLine, b.StartCol, b.EndLine, b.EndCol, b.NumStmt}
				if existing, ok := blocks[key]; ok {
					if mode == "set" {
						if b.Count > 0 {
							existing.Count = 1
						}
					} else {
						existing.Count += b.Count
					}
				} else {
					nb := b
					blocks[key] = &nb
				}
			}
		}
	}

	names := make([]string, 0, len(merged))
	for name := range merged {
		names = append(names, name)
	}
	sort.Strings(names)

	result := make([]*cover.Profile, 0, len(names))
	for _, name := range names {
		p := &cover.Profile{FileName: name, Mode: mode}
		for _, b := range merged[name] {
			p.Blocks = append(p.Blocks, *b)
		}
		sort.Slice(p.Blocks, func(i, j int) bool {
			a, b := p.Blocks[i], p.Blocks[j]
			if a.StartLine != b.StartLine {
				return a.StartLine < b.StartLine
			}
			return a.StartCol < b.StartCol
		})
		result = append(result, p)
	}
	return result, nil
}

// FileCoverage is the per-file slice of the report.
type FileCoverage struct {
	Name    string  `json:"name"`
	Percent float64 `json:"percent"`
}

// Report summarizes merged coverage.
type Report struct {
	Files     []FileCoverage `json:"files"`
	Total     float64        `json:"total"`
	Threshold float64        `json:"threshold"`
	Artifacts []string       `json:"artifacts"`
}

// Summarize computes per-file and total statement coverage.
func Summarize(profiles []*cover.Profile) *Report {
	report := &Report{}
	var totalStmt, coveredStmt int

	for _, p := range profiles {
		var fileStmt, fileCovered int
		for _, b := range p.Blocks {
			fileStmt += b.NumStmt
			if b.Count > 0 {
				fileCovered += b.NumStmt
			}
		}
		totalStmt += fileStmt
		coveredStmt += fileCovered
		report.Files = append(report.Files, FileCoverage{
			Name:    p.FileName,
			Percent: percent(fileCovered, fileStmt),
		})
	}

	report.Total = percent(coveredStmt, totalStmt)
	return report
}

func percent(covered, total int) float64 {
	if total == 0 {
		return 0
	}
	return float64(covered) / float64(total) * 100
}

// WriteProfile writes merged profiles back out in go cover format, for
// consumption by external coverage dashboards.
func WriteProfile(path string, profiles []*cover.Profile) error {
	if len(profiles) == 0 {
		return ErrNoArtifacts
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "mode: %s\n", profiles[0].Mode)
	for _, p := range profiles {
		for _, b := range p.Blocks {
			fmt.Fprintf(&sb, "%s:%d.%d,%d.%d %d %d\n",
				p.FileName, b.StartLine, b.StartCol, b.EndLine, b.EndCol, b.NumStmt, b.Count)
		}
	}
	return os.WriteFile(path, []byte(sb.String()), 0644)
}

// Aggregate globs artifacts under dir, merges them, and enforces the
// threshold. The report is returned even when the threshold fails, so
// callers can still publish it.
func Aggregate(dir string, threshold float64) (*Report, error) {
	files, err := filepath.Glob(filepath.Join(dir, ArtifactGlob))
	if err != nil {
		return nil, err
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("%w under %s", ErrNoArtifacts, dir)
	}
	sort.Strings(files)

	profiles, err := Merge(files)
	if err != nil {
		return nil, err
	}

	report := Summarize(profiles)
	report.Threshold = threshold
	report.Artifacts = files

	logger.Info().
		Int("artifacts", len(files)).
		Float64("total", report.Total).
		Float64("threshold", threshold).
		Msg("aggregated coverage")

	if report.Total < threshold {
		return report, fmt.Errorf("%w: %.1f%% < %.1f%%", ErrThresholdUnmet, report.Total, threshold)
	}
	return report, nil
}
