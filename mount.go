package hellofs

import (
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"strings"

	"golang.org/x/sys/unix"

	"github.com/KarpelesLab/hellofs/proto"
)

// DefaultFSName is the filesystem name shown in /proc/mounts.
const DefaultFSName = "hello_fs_ll"

// MountOptions configures the FUSE mount.
type MountOptions struct {
	// Debug logs every request and reply at debug level.
	Debug bool

	// MaxReadahead is the maximum readahead size in bytes.
	// Default is 128KB.
	MaxReadahead uint32

	// MaxWrite sizes the request buffers. Default is 128KB.
	MaxWrite uint32

	// MaxBackground is the max number of background requests.
	// Default is 12.
	MaxBackground uint16

	// DirectMount bypasses fusermount and mounts directly.
	// Requires CAP_SYS_ADMIN or root privileges.
	DirectMount bool

	// AllowOther allows other users to access the mount.
	// Requires user_allow_other in /etc/fuse.conf.
	AllowOther bool

	// FSName is the filesystem name shown in /proc/mounts.
	// Default is DefaultFSName.
	FSName string

	// Subtype is the filesystem subtype (e.g., "hellofs").
	Subtype string

	// Readers is the number of descriptors read concurrently. Values
	// above one clone the session descriptor. Default is 1.
	Readers int

	// Logger receives diagnostic messages. If nil, errors are logged
	// to stderr.
	Logger *slog.Logger
}

func (o *MountOptions) setDefaults() {
	if o.MaxReadahead == 0 {
		o.MaxReadahead = proto.DefaultMaxReadahead
	}
	if o.MaxWrite == 0 {
		o.MaxWrite = proto.DefaultMaxWrite
	}
	if o.MaxBackground == 0 {
		o.MaxBackground = proto.DefaultMaxBackground
	}
	if o.FSName == "" {
		o.FSName = DefaultFSName
	}
	if o.Readers < 1 {
		o.Readers = 1
	}
	if o.Logger == nil {
		o.Logger = defaultLogger()
	}
}

// mountOptionString returns the comma separated -o list shared by both
// mount paths. The mount is always read-only.
func (o *MountOptions) mountOptionString() string {
	opts := []string{"ro", "nosuid", "nodev"}
	if o.AllowOther {
		opts = append(opts, "allow_other")
	}
	if o.FSName != "" {
		opts = append(opts, "fsname="+o.FSName)
	}
	if o.Subtype != "" {
		opts = append(opts, "subtype="+o.Subtype)
	}
	return strings.Join(opts, ",")
}

// mount opens /dev/fuse and mounts the filesystem.
func mount(mountPoint string, opts *MountOptions) (int, error) {
	fi, err := os.Stat(mountPoint)
	if err != nil {
		return -1, fmt.Errorf("mount point: %w", err)
	}
	if !fi.IsDir() {
		return -1, fmt.Errorf("mount point is not a directory: %s", mountPoint)
	}

	if opts.DirectMount {
		return mountDirect(mountPoint, opts)
	}
	return mountFusermount(mountPoint, opts)
}

// mountDirect mounts without fusermount helper.
// Requires CAP_SYS_ADMIN or root privileges.
func mountDirect(mountPoint string, opts *MountOptions) (int, error) {
	fd, err := unix.Open("/dev/fuse", unix.O_RDWR|unix.O_CLOEXEC, 0)
	if err != nil {
		return -1, fmt.Errorf("open /dev/fuse: %w", err)
	}

	data := fmt.Sprintf("fd=%d,rootmode=%o,user_id=%d,group_id=%d",
		fd,
		proto.ModeDir|0o755,
		os.Getuid(),
		os.Getgid(),
	)
	if opts.AllowOther {
		data += ",allow_other"
	}

	fstype := "fuse"
	if opts.Subtype != "" {
		fstype += "." + opts.Subtype
	}

	flags := uintptr(unix.MS_NOSUID | unix.MS_NODEV | unix.MS_RDONLY)
	if err := unix.Mount(opts.FSName, mountPoint, fstype, flags, data); err != nil {
		unix.Close(fd)
		return -1, fmt.Errorf("mount: %w", err)
	}

	return fd, nil
}

// mountFusermount mounts using the fusermount3/fusermount helper,
// which hands the session descriptor back over a socketpair.
func mountFusermount(mountPoint string, opts *MountOptions) (int, error) {
	fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_STREAM|unix.SOCK_CLOEXEC, 0)
	if err != nil {
		return -1, fmt.Errorf("socketpair: %w", err)
	}

	cmd := exec.Command(fusermountPath(), "-o", opts.mountOptionString(), "--", mountPoint)
	// ExtraFiles[0] becomes fd 3 in the child.
	cmd.Env = append(os.Environ(), "_FUSE_COMMFD=3")
	comm := os.NewFile(uintptr(fds[0]), "fusermount-comm")
	defer comm.Close()
	cmd.ExtraFiles = []*os.File{comm}
	cmd.Stderr = os.Stderr

	if err := cmd.Run(); err != nil {
		unix.Close(fds[1])
		return -1, fmt.Errorf("fusermount: %w", err)
	}

	fd, err := receiveFd(fds[1])
	unix.Close(fds[1])
	if err != nil {
		return -1, fmt.Errorf("fusermount: %w", err)
	}
	return fd, nil
}

// receiveFd reads one descriptor passed with SCM_RIGHTS.
func receiveFd(sock int) (int, error) {
	buf := make([]byte, 1)
	oob := make([]byte, unix.CmsgSpace(4))

	_, oobn, _, _, err := unix.Recvmsg(sock, buf, oob, 0)
	if err != nil {
		return -1, fmt.Errorf("recvmsg: %w", err)
	}

	msgs, err := unix.ParseSocketControlMessage(oob[:oobn])
	if err != nil {
		return -1, fmt.Errorf("parse control message: %w", err)
	}
	for _, msg := range msgs {
		fds, err := unix.ParseUnixRights(&msg)
		if err != nil {
			continue
		}
		if len(fds) > 0 {
			return fds[0], nil
		}
	}
	return -1, fmt.Errorf("did not receive file descriptor")
}

// unmount unmounts the filesystem.
func unmount(mountPoint string) error {
	if mountPoint == "" {
		return nil
	}
	// Lazy unmount first, then a plain one, then the setuid helper.
	if err := unix.Unmount(mountPoint, unix.MNT_DETACH); err == nil {
		return nil
	}
	if err := unix.Unmount(mountPoint, 0); err == nil {
		return nil
	}
	return exec.Command(fusermountPath(), "-u", mountPoint).Run()
}

// fusermountPath prefers fusermount3 when it is installed.
func fusermountPath() string {
	if _, err := exec.LookPath("fusermount3"); err == nil {
		return "fusermount3"
	}
	return "fusermount"
}
