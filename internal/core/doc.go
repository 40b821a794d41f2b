// Package core runs geospatial loads on top of the source, schema, geometry
// and store packages. It is used by the CLI, the directory watcher and the
// HTTP API alike.
//
// # Loads
//
// A [Loader] takes a file path or a decoded collection through the whole
// pipeline and returns a [LoadReport]. Loads never panic on bad input and
// never return a bare error: the report carries the counts reached so far,
// the technical error and its user-facing [UserMessage].
//
//	loader := core.NewLoader(store.New(pool), engine, core.NewLoadLimiter(1, 0))
//	rep := loader.LoadFile(ctx, "parcelles.shp", opts)
//	if !rep.Success {
//	    fmt.Println(rep.User.Code, rep.Error)
//	}
//
// # Concurrency
//
// Every load runs inside a [LoadLimiter] slot. The default capacity is 1, so
// loads from different triggers are serialized.
//
// # Directory Watching
//
// A [Watcher] loads supported files dropped in a directory and moves them
// to the processed sub-directory once loaded.
//
// # Error Handling
//
// Technical errors are mapped to user-facing messages using [MapError].
// Each error category has a unique code for support reference:
//
//   - DB001-DB006: Store errors (connectivity, credentials, schema)
//   - GEO001-GEO003: Geometry errors (reprojection, CRS, decoding)
//   - SRC001-SRC007: Source errors (format, components, layers)
//   - LOAD001-LOAD005: Load errors (busy, cancelled, timeout)
package core
