package diagnosers

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hugo-lorenzo-mato/benchdiag/internal/config"
	"github.com/hugo-lorenzo-mato/benchdiag/internal/core"
	"github.com/hugo-lorenzo-mato/benchdiag/internal/diagnoser"
	"github.com/hugo-lorenzo-mato/benchdiag/internal/profiler"
	"github.com/hugo-lorenzo-mato/benchdiag/internal/testutil"
)

func newDeps(t *testing.T) diagnoser.Deps {
	t.Helper()
	catalog, err := profiler.LoadCatalog(nil)
	require.NoError(t, err)
	return diagnoser.Deps{
		Config:    &config.Config{},
		Installer: profiler.NewInstaller(t.TempDir(), catalog, nil),
	}
}

func TestBuiltinsAreRegistered(t *testing.T) {
	r := NewRegistry(newDeps(t))
	assert.Equal(t, []string{"allocs", "eventtrace", "heapdump", "hostload", "memory", "perf", "threading"}, r.List())

	composite, err := r.Build(r.List())
	require.NoError(t, err)
	assert.Equal(t, 7, composite.Len())
	assert.Len(t, composite.Analysers(), 1)
}

// Every built-in must keep RunMode and Validate in agreement on every case.
func TestBuiltins_ModeAgreesWithValidation(t *testing.T) {
	r := NewRegistry(newDeps(t))
	cases := []*core.BenchmarkCase{
		testutil.NewTestCase("Go"),
		testutil.NewTestCase("Native", func(c *core.BenchmarkCase) { c.Job.Runtime = core.RuntimeNative }),
		testutil.NewTestCase("Local", func(c *core.BenchmarkCase) { c.Job.InProcess = true }),
		testutil.NewTestCase("Plan9", func(c *core.BenchmarkCase) { c.Job.Platform = "plan9" }),
	}
	for _, name := range r.List() {
		d, err := r.Get(name)
		require.NoError(t, err)
		fatal := map[*core.BenchmarkCase]bool{}
		for _, v := range d.Validate(context.Background(), cases) {
			if v.Fatal && v.Case != nil {
				fatal[v.Case] = true
			}
		}
		for _, c := range cases {
			none := d.RunMode(c) == core.ModeNone
			assert.Equal(t, fatal[c], none, "%s on %s", name, c.Method)
		}
	}
}

func TestToolDiagnosersNeedInstaller(t *testing.T) {
	r := NewRegistry(diagnoser.Deps{})
	_, err := r.Get("eventtrace")
	assert.ErrorContains(t, err, "collector installer")
}

func TestHandlerRegistry(t *testing.T) {
	r := HandlerRegistry()
	assert.Equal(t, []string{"allocs"}, r.Kinds())
	assert.Error(t, RegisterHandlers(r), "second registration must fail")
}
