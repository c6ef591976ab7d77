package proto

// Protocol version constants
const (
	KernelVersion      = 7
	KernelMinorVersion = 31

	// Oldest minor version whose INIT reply layout we produce.
	MinSupportedMinor = 26
)

// Capability flags negotiated in FUSE_INIT.
const (
	CapAsyncRead      uint32 = 1 << 0
	CapExportSupport  uint32 = 1 << 4
	CapAutoInvalData  uint32 = 1 << 12
	CapReaddirplus    uint32 = 1 << 13
	CapParallelDirops uint32 = 1 << 18
	CapMaxPages       uint32 = 1 << 22
)

// Open reply flags (FOPEN_*).
const (
	FopenDirectIO  uint32 = 1 << 0
	FopenKeepCache uint32 = 1 << 1
	FopenCacheDir  uint32 = 1 << 3
)

// Directory entry types (DT_* from dirent.h).
const (
	DtUnknown uint32 = 0
	DtDir     uint32 = 4
	DtReg     uint32 = 8
)

// File mode type bits for Attr.Mode.
const (
	ModeTypeMask uint32 = 0170000
	ModeRegular  uint32 = 0100000
	ModeDir      uint32 = 0040000
	ModePermMask uint32 = 0777
)

// Access mask bits for FUSE_ACCESS.
const (
	AccessExec  uint32 = 1 // X_OK
	AccessWrite uint32 = 2 // W_OK
	AccessRead  uint32 = 4 // R_OK
)

// Defaults advertised during initialization.
const (
	DefaultMaxReadahead  = 128 * 1024
	DefaultMaxWrite      = 128 * 1024
	DefaultMaxBackground = 12
	DefaultTimeGran      = 1
	DefaultMaxPages      = 32
)

// MinBufferSize is the smallest request buffer the kernel accepts
// (FUSE_MIN_READ_BUFFER).
const MinBufferSize = 8192
