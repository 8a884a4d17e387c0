package profiler

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/hugo-lorenzo-mato/benchdiag/internal/core"
	"github.com/hugo-lorenzo-mato/benchdiag/internal/fsutil"
	"github.com/hugo-lorenzo-mato/benchdiag/internal/logging"
)

// ConverterCollapsed names the collapsed-stack converter.
const ConverterCollapsed = "collapsed"

// ErrTruncatedTrace matches, via errors.Is, traces whose records are cut off
// or corrupt.
var ErrTruncatedTrace = truncated()

func truncated() *core.DomainError {
	return core.ErrCollection(core.CodeTruncatedTrace, "trace is truncated or corrupt")
}

// Frame is one entry of the shared frame table.
type Frame struct {
	Name string `json:"name"`
}

// Profile is the portable stack-sample interchange document: a flat frame
// table, samples as root-first frame index lists, and one weight per sample.
type Profile struct {
	Version int     `json:"version"`
	Name    string  `json:"name"`
	Unit    string  `json:"unit"`
	Frames  []Frame `json:"frames"`
	Samples [][]int `json:"samples"`
	Weights []int64 `json:"weights"`
}

// TotalWeight sums the sample weights.
func (p *Profile) TotalWeight() int64 {
	var total int64
	for _, w := range p.Weights {
		total += w
	}
	return total
}

// ParseCollapsed reads "frame;frame;frame count" lines. A malformed line is
// ErrTruncatedTrace unless continueOnError is set, in which case it is
// skipped. Blank lines are ignored.
func ParseCollapsed(r io.Reader, name string, continueOnError bool) (*Profile, error) {
	p := &Profile{Version: 1, Name: name, Unit: "samples"}
	index := make(map[string]int)

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	line := 0
	for scanner.Scan() {
		line++
		text := strings.TrimSpace(scanner.Text())
		if text == "" {
			continue
		}
		stack, weight, ok := splitCollapsed(text)
		if !ok {
			if continueOnError {
				continue
			}
			return nil, truncated().WithDetail("line", line)
		}

		frames := strings.Split(stack, ";")
		sample := make([]int, 0, len(frames))
		for _, f := range frames {
			idx, seen := index[f]
			if !seen {
				idx = len(p.Frames)
				index[f] = idx
				p.Frames = append(p.Frames, Frame{Name: f})
			}
			sample = append(sample, idx)
		}
		p.Samples = append(p.Samples, sample)
		p.Weights = append(p.Weights, weight)
	}
	if err := scanner.Err(); err != nil {
		if continueOnError {
			return p, nil
		}
		return nil, truncated().WithCause(err)
	}
	return p, nil
}

func splitCollapsed(text string) (string, int64, bool) {
	cut := strings.LastIndexByte(text, ' ')
	if cut <= 0 {
		return "", 0, false
	}
	weight, err := strconv.ParseInt(text[cut+1:], 10, 64)
	if err != nil || weight < 0 {
		return "", 0, false
	}
	stack := strings.TrimSpace(text[:cut])
	if stack == "" {
		return "", 0, false
	}
	return stack, weight, true
}

// ConvertFile converts the collapsed trace at src into an interchange document
// at dst. A truncated trace is retried once, skipping bad records, because
// partial data still has value.
func ConvertFile(src, dst, name string, logger *logging.Logger) (*Profile, error) {
	p, err := convertOnce(src, name, false)
	if errors.Is(err, ErrTruncatedTrace) {
		logger.Warn("trace truncated, retrying conversion past errors", "path", src, "error", err)
		p, err = convertOnce(src, name, true)
	}
	if err != nil {
		return nil, err
	}
	if err := fsutil.WriteJSONAtomic(dst, p); err != nil {
		return nil, fmt.Errorf("writing interchange file: %w", err)
	}
	return p, nil
}

func convertOnce(src, name string, continueOnError bool) (*Profile, error) {
	f, closeFn, err := fsutil.OpenScoped(src)
	if err != nil {
		return nil, fmt.Errorf("opening trace: %w", err)
	}
	defer closeFn()
	return ParseCollapsed(f, name, continueOnError)
}
