package config

import "runtime"

// defaultParallelism is min(cpu_count, 8), the default chunk concurrency for large-file writes.
func defaultParallelism() int {
	n := runtime.NumCPU()
	if n > 8 {
		return 8
	}
	if n < 1 {
		return 1
	}
	return n
}
