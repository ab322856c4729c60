package testing

import "time"

// WaitOrTimeout runs f in a goroutine and reports whether it finished
// before timeout.
func WaitOrTimeout(f func(), timeout time.Duration) bool {
	done := make(chan struct{})
	go func() {
		f()
		close(done)
	}()
	select {
	case <-done:
		return true
	case <-time.After(timeout):
		return false
	}
}

// Eventually polls cond until it returns true or timeout elapses.
func Eventually(cond func() bool, timeout, interval time.Duration) bool {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return true
		}
		time.Sleep(interval)
	}
	return cond()
}
