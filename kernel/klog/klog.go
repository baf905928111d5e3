// Package klog provides the kernel core's diagnostic logging, replacing the
// allocation-free kfmt/early printer the teacher needs only because it runs
// before a Go heap exists. Call sites mirror the info!/debug!/log_enabled!
// macros sprinkled through the original kernel's process, port and session
// modules.
package klog

import "github.com/sirupsen/logrus"

// Log is the shared kernel logger. Subsystems fetch a field-scoped entry via
// For rather than logging through the package-level logger directly.
var Log = logrus.New()

func init() {
	Log.SetLevel(logrus.InfoLevel)
}

// For returns a log entry scoped to the named subsystem, e.g.
// klog.For("port").WithField("pid", pid).Debug("accept")
func For(subsystem string) *logrus.Entry {
	return Log.WithField("subsystem", subsystem)
}
