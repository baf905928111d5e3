package proc

import kernelerror "nucleus/kernel/error"
import "nucleus/kernel/handle"

// AsThread type-asserts a handle object as a *Thread, returning
// InvalidHandle on mismatch — the Go analogue of the original's
// Handle::as_thread_handle cast.
func AsThread(obj handle.Object) (*Thread, *kernelerror.Error) {
	t, ok := obj.(*Thread)
	if !ok {
		return nil, kernelerror.New(kernelerror.InvalidHandle, "handle does not refer to a thread")
	}
	return t, nil
}

// AsProcess type-asserts a handle object as a *Process.
func AsProcess(obj handle.Object) (*Process, *kernelerror.Error) {
	p, ok := obj.(*Process)
	if !ok {
		return nil, kernelerror.New(kernelerror.InvalidHandle, "handle does not refer to a process")
	}
	return p, nil
}
