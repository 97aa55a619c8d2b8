// Package process supervises helper subprocesses.
//
// The exec backing provider starts one helper per device and stops it when
// the device is torn down. The manager:
//   - starts the helper in its own process group
//   - restarts it with exponential backoff if it exits unexpectedly
//   - stops it with SIGTERM, escalating to SIGKILL
//   - forwards its stdout/stderr lines to the logger
//
// Example usage:
//
//	mgr := process.NewManager(process.Config{
//	    Name:             "cdp-helper[cdp0]",
//	    Binary:           "/usr/libexec/cdp-helper",
//	    Args:             []string{"--minor", "0"},
//	    RestartOnFailure: true,
//	})
//	if err := mgr.Start(ctx); err != nil {
//	    return err
//	}
//	defer mgr.Stop(ctx)
package process
