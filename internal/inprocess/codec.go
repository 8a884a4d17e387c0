package inprocess

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"
)

// EnvelopeVersion is the version of the handler envelope and result lines.
const EnvelopeVersion = 1

// EnvVar carries the encoded envelope into the worker.
const EnvVar = "BENCHDIAG_INPROCESS"

// ResultPrefix starts every result line a worker writes on stdout.
// The full line is "#benchdiag inprocess v1 <kind> <base64 payload>"; field
// order and single spaces are part of the contract.
const ResultPrefix = "#benchdiag inprocess"

// HandlerSpec names one handler and its serialized configuration.
type HandlerSpec struct {
	Kind   string `json:"kind"`
	Config string `json:"config"`
}

// Envelope is the versioned handler list handed to the worker.
type Envelope struct {
	V        int           `json:"v"`
	Handlers []HandlerSpec `json:"handlers"`
}

// EncodeEnvelope serializes specs.
func EncodeEnvelope(specs []HandlerSpec) (string, error) {
	data, err := json.Marshal(Envelope{V: EnvelopeVersion, Handlers: specs})
	if err != nil {
		return "", fmt.Errorf("encoding handler envelope: %w", err)
	}
	return string(data), nil
}

// DecodeEnvelope parses an encoded envelope. An empty string is an empty
// envelope; an unknown version is an error.
func DecodeEnvelope(s string) (Envelope, error) {
	if strings.TrimSpace(s) == "" {
		return Envelope{V: EnvelopeVersion}, nil
	}
	var env Envelope
	if err := json.Unmarshal([]byte(s), &env); err != nil {
		return Envelope{}, fmt.Errorf("decoding handler envelope: %w", err)
	}
	if env.V != EnvelopeVersion {
		return Envelope{}, fmt.Errorf("unsupported handler envelope version %d", env.V)
	}
	return env, nil
}

// FormatResult renders one result line, without the trailing newline.
func FormatResult(kind, payload string) string {
	return fmt.Sprintf("%s v%d %s %s", ResultPrefix, EnvelopeVersion, kind,
		base64.StdEncoding.EncodeToString([]byte(payload)))
}

// IsResult reports whether line looks like a result line of any version.
func IsResult(line string) bool {
	return strings.HasPrefix(line, ResultPrefix+" ")
}

// ParseResult decodes a result line.
func ParseResult(line string) (kind, payload string, err error) {
	if !IsResult(line) {
		return "", "", fmt.Errorf("not a result line")
	}
	fields := strings.Split(strings.TrimPrefix(line, ResultPrefix+" "), " ")
	if len(fields) != 3 {
		return "", "", fmt.Errorf("result line has %d fields, want 3", len(fields))
	}
	if fields[0] != fmt.Sprintf("v%d", EnvelopeVersion) {
		return "", "", fmt.Errorf("unsupported result version %q", fields[0])
	}
	if fields[1] == "" {
		return "", "", fmt.Errorf("result line has no handler kind")
	}
	data, err := base64.StdEncoding.DecodeString(fields[2])
	if err != nil {
		return "", "", fmt.Errorf("decoding result payload: %w", err)
	}
	return fields[1], string(data), nil
}
