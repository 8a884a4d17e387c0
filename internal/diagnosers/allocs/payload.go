package allocs

import (
	"fmt"
	"strconv"
	"strings"
)

const payloadVersion = "v1"

// Payload is what the in-process handler measured across the extra
// iteration. Its wire form is
//
//	v1;ops=<n>;mallocs=<n>;frees=<n>;bytes=<n>;gc=<n>;pause_ns=<n>
//
// Fields are written in this order and separated by semicolons.
type Payload struct {
	Operations int64
	Mallocs    uint64
	Frees      uint64
	Bytes      uint64
	GC         uint32
	PauseNs    uint64
}

// String encodes p.
func (p Payload) String() string {
	return fmt.Sprintf("%s;ops=%d;mallocs=%d;frees=%d;bytes=%d;gc=%d;pause_ns=%d",
		payloadVersion, p.Operations, p.Mallocs, p.Frees, p.Bytes, p.GC, p.PauseNs)
}

// ParsePayload decodes s. Unknown keys are ignored; missing keys are zero.
func ParsePayload(s string) (Payload, error) {
	fields := strings.Split(strings.TrimSpace(s), ";")
	if len(fields) == 0 || fields[0] != payloadVersion {
		return Payload{}, fmt.Errorf("unsupported allocs payload version %q", fields[0])
	}
	var p Payload
	for _, f := range fields[1:] {
		key, value, ok := strings.Cut(f, "=")
		if !ok {
			return Payload{}, fmt.Errorf("malformed allocs payload field %q", f)
		}
		var err error
		switch key {
		case "ops":
			p.Operations, err = strconv.ParseInt(value, 10, 64)
		case "mallocs":
			p.Mallocs, err = strconv.ParseUint(value, 10, 64)
		case "frees":
			p.Frees, err = strconv.ParseUint(value, 10, 64)
		case "bytes":
			p.Bytes, err = strconv.ParseUint(value, 10, 64)
		case "gc":
			var gc uint64
			gc, err = strconv.ParseUint(value, 10, 32)
			p.GC = uint32(gc)
		case "pause_ns":
			p.PauseNs, err = strconv.ParseUint(value, 10, 64)
		}
		if err != nil {
			return Payload{}, fmt.Errorf("allocs payload field %s: %w", key, err)
		}
	}
	return p, nil
}
