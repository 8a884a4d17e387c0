package inprocess

import (
	"bufio"
	"bytes"
	"errors"
	"io"
	"strconv"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hugo-lorenzo-mato/benchdiag/internal/core"
	"github.com/hugo-lorenzo-mato/benchdiag/internal/testutil"
)

type countingHandler struct {
	config  string
	before  int
	after   int
	ops     int64
	initErr error
	panicOn Signal
}

func (h *countingHandler) Init(config string) error {
	h.config = config
	return h.initErr
}

func (h *countingHandler) Handle(ev Event) {
	if h.panicOn == ev.Signal && h.config == "panic" {
		panic("handler blew up")
	}
	switch ev.Signal {
	case SignalBeforeExtraIteration:
		h.before++
	case SignalAfterExtraIteration:
		h.after++
		h.ops += ev.Operations
	}
}

func (h *countingHandler) Results() string {
	return strings.Join([]string{
		h.config, strconv.Itoa(h.before), strconv.Itoa(h.after), strconv.FormatInt(h.ops, 10),
	}, ";")
}

type owningDiagnoser struct {
	*testutil.MockDiagnoser
	kind     string
	config   string
	received []string
}

func (d *owningDiagnoser) HandlerFor(*core.BenchmarkCase) (string, string, bool) {
	return d.kind, d.config, d.kind != ""
}

func (d *owningDiagnoser) AcceptResults(_ *core.BenchmarkCase, caseID, payload string) error {
	d.received = append(d.received, caseID+"="+payload)
	return nil
}

func newOwner(id, kind, config string) *owningDiagnoser {
	return &owningDiagnoser{
		MockDiagnoser: testutil.NewMockDiagnoser(id, core.ModeExtraIteration),
		kind:          kind,
		config:        config,
	}
}

func TestRegistry(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register("b", func() Handler { return &countingHandler{} }))
	require.NoError(t, r.Register("a", func() Handler { return nil }))

	assert.Error(t, r.Register("b", func() Handler { return &countingHandler{} }))
	assert.Error(t, r.Register("", func() Handler { return &countingHandler{} }))
	for _, kind := range []string{"my kind", "tab\tkind", "line\n"} {
		assert.Error(t, r.Register(kind, func() Handler { return &countingHandler{} }), "kind %q", kind)
	}
	assert.Equal(t, []string{"a", "b"}, r.Kinds())

	_, ok := r.New("a")
	assert.False(t, ok, "nil constructor result")
	_, ok = r.New("missing")
	assert.False(t, ok)
	h, ok := r.New("b")
	assert.True(t, ok)
	assert.NotNil(t, h)
}

func TestEnvelope(t *testing.T) {
	encoded, err := EncodeEnvelope([]HandlerSpec{{Kind: "allocs", Config: "x"}})
	require.NoError(t, err)
	assert.Contains(t, encoded, `"v":1`)

	env, err := DecodeEnvelope(encoded)
	require.NoError(t, err)
	assert.Equal(t, []HandlerSpec{{Kind: "allocs", Config: "x"}}, env.Handlers)

	env, err = DecodeEnvelope("")
	require.NoError(t, err)
	assert.Empty(t, env.Handlers)

	_, err = DecodeEnvelope(`{"v":2,"handlers":[]}`)
	assert.ErrorContains(t, err, "version 2")

	_, err = DecodeEnvelope(`{`)
	assert.Error(t, err)
}

func TestResultLine(t *testing.T) {
	line := FormatResult("allocs", "v1;ops=10 with spaces\nand newline")
	assert.True(t, strings.HasPrefix(line, "#benchdiag inprocess v1 allocs "))
	assert.NotContains(t, line, "\n")
	assert.True(t, IsResult(line))

	kind, payload, err := ParseResult(line)
	require.NoError(t, err)
	assert.Equal(t, "allocs", kind)
	assert.Equal(t, "v1;ops=10 with spaces\nand newline", payload)

	tests := []struct {
		name string
		line string
	}{
		{"not a result", "hello"},
		{"wrong version", "#benchdiag inprocess v9 allocs YQ=="},
		{"missing field", "#benchdiag inprocess v1 allocs"},
		{"extra field", "#benchdiag inprocess v1 allocs YQ== more"},
		{"empty kind", "#benchdiag inprocess v1  YQ=="},
		{"bad base64", "#benchdiag inprocess v1 allocs !!!"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := ParseResult(tt.line)
			assert.Error(t, err)
		})
	}
}

func TestRouter_RoundTrip(t *testing.T) {
	a := newOwner("alpha", "alpha", "cfg-a")
	b := newOwner("beta", "beta", "cfg-b")
	plain := testutil.NewMockDiagnoser("plain", core.ModeNoOverhead)
	c := testutil.NewTestCase("Sum")

	host := NewHost([]core.Diagnoser{a, plain, b}, c)
	require.False(t, host.Empty())
	encoded, err := host.Envelope()
	require.NoError(t, err)

	registry := NewRegistry()
	for _, kind := range []string{"alpha", "beta"} {
		require.NoError(t, registry.Register(kind, func() Handler { return &countingHandler{} }))
	}
	env, err := DecodeEnvelope(encoded)
	require.NoError(t, err)
	router := NewRouter(registry, env, nil)
	require.Equal(t, 2, router.Len())

	router.Handle(Event{Signal: SignalBeforeExtraIteration})
	router.Handle(Event{Signal: SignalAfterExtraIteration, Operations: 64})

	var out bytes.Buffer
	require.NoError(t, router.Flush(&out))

	scanner := bufio.NewScanner(&out)
	for scanner.Scan() {
		require.NoError(t, host.Deliver("case-1", scanner.Text()))
	}
	assert.Equal(t, []string{"case-1=cfg-a;1;1;64"}, a.received)
	assert.Equal(t, []string{"case-1=cfg-b;1;1;64"}, b.received)
}

func TestRouter_MissingHandlerIsSkipped(t *testing.T) {
	registry := NewRegistry()
	require.NoError(t, registry.Register("known", func() Handler { return &countingHandler{} }))

	env := Envelope{V: EnvelopeVersion, Handlers: []HandlerSpec{{Kind: "unknown"}, {Kind: "known"}}}
	router := NewRouter(registry, env, nil)
	assert.Equal(t, 1, router.Len())

	var out bytes.Buffer
	require.NoError(t, router.Flush(&out))
	assert.Equal(t, 1, strings.Count(out.String(), "\n"))
	assert.Contains(t, out.String(), " known ")
}

func TestRouter_FaultyHandlersAreIsolated(t *testing.T) {
	registry := NewRegistry()
	require.NoError(t, registry.Register("broken-init", func() Handler {
		return &countingHandler{initErr: errors.New("bad config")}
	}))
	require.NoError(t, registry.Register("panicky", func() Handler {
		return &countingHandler{panicOn: SignalAfterExtraIteration}
	}))
	require.NoError(t, registry.Register("good", func() Handler { return &countingHandler{} }))

	env := Envelope{V: EnvelopeVersion, Handlers: []HandlerSpec{
		{Kind: "broken-init"}, {Kind: "panicky", Config: "panic"}, {Kind: "good", Config: "ok"},
	}}
	router := NewRouter(registry, env, nil)
	require.Equal(t, 2, router.Len())

	assert.NotPanics(t, func() {
		router.Handle(Event{Signal: SignalAfterExtraIteration, Operations: 3})
	})

	var out bytes.Buffer
	require.NoError(t, router.Flush(&out))
	assert.Contains(t, out.String(), FormatResult("good", "ok;0;1;3"))
}

type failingWriter struct{}

func (failingWriter) Write([]byte) (int, error) { return 0, io.ErrClosedPipe }

func TestRouter_FlushWriteError(t *testing.T) {
	registry := NewRegistry()
	require.NoError(t, registry.Register("good", func() Handler { return &countingHandler{} }))
	router := NewRouter(registry, Envelope{Handlers: []HandlerSpec{{Kind: "good"}}}, nil)
	assert.ErrorIs(t, router.Flush(failingWriter{}), io.ErrClosedPipe)
}

func TestHost_Deliver(t *testing.T) {
	a := newOwner("alpha", "alpha", "")
	dup := newOwner("alpha-again", "alpha", "other")
	none := newOwner("none", "", "")
	c := testutil.NewTestCase("Sum")
	host := NewHost([]core.Diagnoser{a, dup, none}, c)
	assert.Equal(t, []HandlerSpec{{Kind: "alpha"}}, host.Specs())

	err := host.Deliver("id", "garbage")
	assert.True(t, core.IsCategory(err, core.ErrCatContract), "got %v", err)

	err = host.Deliver("id", FormatResult("stranger", "x"))
	assert.True(t, core.IsCategory(err, core.ErrCatNotFound), "got %v", err)

	empty := NewHost([]core.Diagnoser{none}, c)
	assert.True(t, empty.Empty())
	encoded, err := empty.Envelope()
	require.NoError(t, err)
	assert.Empty(t, encoded)
}
