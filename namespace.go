package hellofs

import (
	"fmt"
	"strings"
)

// Defaults for the served namespace.
const (
	DefaultFileName = "hello.txt"
	DefaultContent  = "Hello world!\n"
)

// Namespace is the fixed tree served by the filesystem: the inode
// table, the file's basename and its content. It is immutable after
// NewNamespace returns and safe to share between goroutines.
type Namespace struct {
	table   *InodeTable
	name    string
	content []byte
}

// NewNamespace builds a namespace holding one file called name with the
// given content. The content is copied.
func NewNamespace(name string, content []byte) (*Namespace, error) {
	if err := ValidateFileName(name); err != nil {
		return nil, err
	}
	data := make([]byte, len(content))
	copy(data, content)
	return &Namespace{
		table:   NewInodeTable(uint64(len(data))),
		name:    name,
		content: data,
	}, nil
}

// DefaultNamespace returns the namespace serving hello.txt.
func DefaultNamespace() *Namespace {
	ns, err := NewNamespace(DefaultFileName, []byte(DefaultContent))
	if err != nil {
		panic(err)
	}
	return ns
}

// ValidateFileName checks that name can be a single directory entry.
func ValidateFileName(name string) error {
	switch {
	case name == "":
		return fmt.Errorf("file name is empty")
	case name == "." || name == "..":
		return fmt.Errorf("file name %q is reserved", name)
	case strings.ContainsAny(name, "/\x00"):
		return fmt.Errorf("file name %q contains '/' or NUL", name)
	case len(name) > maxNameLen:
		return fmt.Errorf("file name is longer than %d bytes", maxNameLen)
	}
	return nil
}

// Table returns the inode table.
func (ns *Namespace) Table() *InodeTable {
	return ns.table
}

// FileName returns the basename of the file.
func (ns *Namespace) FileName() string {
	return ns.name
}

// Size returns the length of the file content in bytes.
func (ns *Namespace) Size() int {
	return len(ns.content)
}
