// Package preflight validates that finrag can run against a project: the
// data directory is writable with enough free space, the process may open
// enough files, the entity mapping file parses and the stores open and
// agree on their sizes.
//
//	checker := preflight.New(preflight.WithOutput(os.Stdout))
//	results := checker.RunAll(ctx, cfg)
//	checker.PrintResults(results)
//	if checker.HasCriticalFailures(results) {
//	    // Handle failures
//	}
package preflight
