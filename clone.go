package hellofs

import (
	"fmt"

	"golang.org/x/sys/unix"
)

// fuseDevIocClone is FUSE_DEV_IOC_CLONE, _IOR(229, 0, uint32).
const fuseDevIocClone = 0x8004e500

// cloneFd attaches a fresh /dev/fuse descriptor to the session behind
// sessionFd. Each clone has its own request queue position, so several
// goroutines can block in read at once without contending on one fd.
func cloneFd(sessionFd int) (int, error) {
	fd, err := unix.Open("/dev/fuse", unix.O_RDWR|unix.O_CLOEXEC, 0)
	if err != nil {
		return -1, fmt.Errorf("open /dev/fuse: %w", err)
	}
	if err := unix.IoctlSetPointerInt(fd, fuseDevIocClone, sessionFd); err != nil {
		unix.Close(fd)
		return -1, fmt.Errorf("ioctl FUSE_DEV_IOC_CLONE: %w", err)
	}
	return fd, nil
}

// cloneSession returns count clones of sessionFd. On failure it returns
// the clones made so far together with the error.
func cloneSession(sessionFd, count int) ([]int, error) {
	fds := make([]int, 0, count)
	for i := 0; i < count; i++ {
		fd, err := cloneFd(sessionFd)
		if err != nil {
			return fds, fmt.Errorf("clone %d: %w", i, err)
		}
		fds = append(fds, fd)
	}
	return fds, nil
}
