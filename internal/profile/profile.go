// Package profile implements the D_PROF device: a process can request
// a CPU profile of the kernel's own execution, which is captured with
// runtime/pprof and then parsed with google/pprof's profile package so
// the kernel can report aggregate sample counts back over the console
// without shipping the raw pprof.proto bytes to a user process.
package profile

import (
	"bytes"
	"fmt"
	"runtime/pprof"
	"time"

	"github.com/google/pprof/profile"

	"github.com/Conless/remire/internal/klog"
)

// Capture records a CPU profile for duration and returns a summary of
// the functions it found samples in, ordered by sample count.
func Capture(duration time.Duration) ([]FunctionSamples, error) {
	var buf bytes.Buffer
	if err := pprof.StartCPUProfile(&buf); err != nil {
		return nil, fmt.Errorf("profile: start cpu profile: %w", err)
	}
	time.Sleep(duration)
	pprof.StopCPUProfile()

	prof, err := profile.Parse(&buf)
	if err != nil {
		return nil, fmt.Errorf("profile: parse: %w", err)
	}
	return summarize(prof), nil
}

// FunctionSamples is one function's aggregate sample count across a
// captured profile.
type FunctionSamples struct {
	Name    string
	Samples int64
}

func summarize(prof *profile.Profile) []FunctionSamples {
	counts := map[string]int64{}
	for _, sample := range prof.Sample {
		if len(sample.Value) == 0 {
			continue
		}
		for _, loc := range sample.Location {
			for _, line := range loc.Line {
				if line.Function == nil {
					continue
				}
				counts[line.Function.Name] += sample.Value[0]
			}
		}
	}

	out := make([]FunctionSamples, 0, len(counts))
	for name, n := range counts {
		out = append(out, FunctionSamples{Name: name, Samples: n})
	}
	for i := 1; i < len(out); i++ {
		for j := i; j > 0 && out[j].Samples > out[j-1].Samples; j-- {
			out[j], out[j-1] = out[j-1], out[j]
		}
	}
	klog.Tagf("prof", "captured profile with %d distinct functions", len(out))
	return out
}
