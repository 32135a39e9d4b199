// Package plugin assembles the module for an embedding workflow
// runtime. It is the only public wiring surface: Open builds the
// session pool, the stage filesystem and its provider, the job-service
// executor, the trace writer, and the run cache, all sharing one pool
// and one metrics collector.
//
//	cfg := config.NewDefault()
//	if err := cfg.LoadFromFile("nf-snowflake.yaml"); err != nil { ... }
//
//	p, err := plugin.Open(ctx, cfg)
//	if err != nil { ... }
//	defer p.Close(ctx)
//
//	fs := p.FileSystem()
//	out, err := fs.NewOutputStream(ctx, path)
//	...
//	err = p.Executor().Submit(ctx, job)
//
// Open fails fast: configuration problems and bad credentials surface
// from Open itself (one session is warmed), not from the first task of
// a run. Close flushes the trace snapshot while the pool is still
// alive, then closes the pool; both are safe to call exactly once from
// any goroutine, and repeat calls return the first result.
package plugin
