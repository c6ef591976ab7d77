package gofuse

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/hanwen/go-fuse/v2/fuse"

	"github.com/KarpelesLab/hellofs"
)

// Options configures a go-fuse backed mount.
type Options struct {
	// FSName is the filesystem name shown in /proc/mounts. Default is
	// hellofs.DefaultFSName.
	FSName string

	// Subtype is the filesystem subtype (e.g., "hellofs").
	Subtype string

	// AllowOther permits other users to access the mount. Requires
	// user_allow_other in /etc/fuse.conf.
	AllowOther bool

	// DirectMount tries mount(2) before falling back to fusermount.
	DirectMount bool

	// Debug makes go-fuse log every request and reply.
	Debug bool

	// Logger receives diagnostic messages. If nil, errors are logged
	// to stderr.
	Logger *slog.Logger
}

// Mount mounts fs at mountPoint through go-fuse and starts serving it
// in the background. The caller must call Unmount on the returned
// Server when done.
func Mount(mountPoint string, fs hellofs.Filesystem, options Options) (*fuse.Server, error) {
	if mountPoint == "" {
		return nil, fmt.Errorf("mountpoint is required")
	}
	if options.FSName == "" {
		options.FSName = hellofs.DefaultFSName
	}
	if options.Logger == nil {
		options.Logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
			Level: slog.LevelError,
		}))
	}

	raw := NewRawFileSystem(fs, options.Logger)
	server, err := fuse.NewServer(raw, mountPoint, &fuse.MountOptions{
		FsName:             options.FSName,
		Name:               options.Subtype,
		AllowOther:         options.AllowOther,
		DirectMount:        options.DirectMount,
		Debug:              options.Debug,
		Options:            []string{"ro"},
		DisableReadDirPlus: true,
		Logger:             slog.NewLogLogger(options.Logger.Handler(), slog.LevelDebug),
	})
	if err != nil {
		return nil, fmt.Errorf("mounting FUSE filesystem at %s: %w", mountPoint, err)
	}

	go server.Serve()
	if err := server.WaitMount(); err != nil {
		server.Unmount()
		return nil, fmt.Errorf("waiting for mount at %s: %w", mountPoint, err)
	}

	options.Logger.Info("filesystem mounted",
		"mountpoint", mountPoint,
		"fsname", options.FSName,
		"backend", "gofuse",
	)
	return server, nil
}
