package config

// DefaultConfigYAML contains the configuration written by `benchdiag init`.
const DefaultConfigYAML = `# benchdiag configuration
#
# Values not specified here use built-in defaults.

log:
  level: info
  format: auto

artifacts:
  dir: .benchdiag/artifacts
  index:
    backend: sqlite   # sqlite | json
    path: .benchdiag/index.db

# Active diagnosers. Available: memory, threading, hostload, allocs,
# eventtrace, perf, heapdump
diagnosers:
  - memory
  - threading
  - allocs

# Columns to show even when every value is the uninteresting default.
show_columns: []

profiler:
  ready_timeout: 30s
  stop_timeout: 30s
  tools_dir: .benchdiag/tools
  convert: true

# Override or add collector tools. Built-ins: eventtrace, perf.
# tools:
#   perf:
#     executable: /usr/bin/perf

worker:
  # Empty command runs the built-in synthetic worker.
  command: []
  timeout: 5m
  # Operations per measured iteration of the built-in worker.
  operations: 10000

cases:
  - type: Synthetic
    method: Allocate
    parameters:
      - name: size
        value: "1024"
    job:
      id: default
      runtime: go
  - type: Synthetic
    method: Contend
    parameters:
      - name: goroutines
        value: "4"
    job:
      id: default
      runtime: go
`
