package cmd

import (
	"fmt"

	"github.com/gofrs/flock"
)

var instanceLock *flock.Flock

// AcquireLock takes the single-instance lock for the daemon. It reports
// false when another process already holds it.
func AcquireLock() (bool, error) {
	lock := flock.New(env.RuntimeFile(lockFileName))
	locked, err := lock.TryLock()
	if err != nil {
		return false, fmt.Errorf("lock %s: %w", lock.Path(), err)
	}
	if !locked {
		return false, nil
	}
	instanceLock = lock
	return true, nil
}

// ReleaseLock drops the lock taken by AcquireLock.
func ReleaseLock() error {
	if instanceLock == nil {
		return nil
	}
	err := instanceLock.Unlock()
	instanceLock = nil
	return err
}
