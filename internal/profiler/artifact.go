package profiler

import (
	"fmt"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/cespare/xxhash/v2"

	"github.com/hugo-lorenzo-mato/benchdiag/internal/core"
)

const stampLayout = "20060102-150405"

// ArtifactPath returns the deterministic artifact path of c for a collector
// writing files with extension ext. The toolchain is part of the name only
// when the session runs more than one toolchain. Names that exceed the path
// limit are shortened with a hash of the full stem; a path that is still too
// long is an error.
func ArtifactPath(cfg *core.RunConfig, c *core.BenchmarkCase, toolchain, ext string) (string, error) {
	stem := sanitizeSegment(c.FullName())
	if params := c.ParameterString(); params != "" {
		stem += "(" + sanitizeSegment(params) + ")"
	}
	if c.Job.ID != "" {
		stem += "-" + sanitizeSegment(c.Job.ID)
	}
	if cfg.MultiToolchain() && toolchain != "" {
		stem += "-" + sanitizeSegment(toolchain)
	}
	suffix := "-" + cfg.SessionStart.Format(stampLayout) + ext

	full := filepath.Join(cfg.ArtifactsDir, stem+suffix)
	limit := cfg.MaxPathLength
	if limit <= 0 {
		limit = hostPathLimit()
	}
	if len(full) <= limit {
		return full, nil
	}

	hash := fmt.Sprintf("-%016x", xxhash.Sum64String(stem))
	keep := limit - len(filepath.Join(cfg.ArtifactsDir, "x")) + 1 - len(hash) - len(suffix)
	if keep < 0 {
		keep = 0
	}
	if keep > len(stem) {
		keep = len(stem)
	}
	short := filepath.Join(cfg.ArtifactsDir, stem[:keep]+hash+suffix)
	if len(short) > limit {
		return "", core.ErrValidation(core.CodePathTooLong,
			fmt.Sprintf("artifact path exceeds %d characters even when shortened", limit)).
			WithDetail("path", short)
	}
	return short, nil
}

// LogPath is where a collector's own output is drained.
func LogPath(artifact string) string {
	return artifact + ".log"
}

// InterchangePath is where the converted stack-sample file is written.
func InterchangePath(artifact string) string {
	return artifact + ".json"
}

func hostPathLimit() int {
	switch runtime.GOOS {
	case "windows":
		return 260
	case "darwin":
		return 1024
	default:
		return 4096
	}
}

// sanitizeSegment keeps names portable across file systems.
func sanitizeSegment(s string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			return r
		case r == '.', r == '-', r == '_', r == '=':
			return r
		default:
			return '_'
		}
	}, s)
}
