package pipeline

import (
	"path"
	"time"
)

// File is one unit flowing through a pipeline
type File struct {
	// Source is the absolute path the file was read from, empty for
	// synthesized files such as concatenated bundles
	Source string
	// Base is the directory Path is relative to on the source side
	Base string
	// Path is slash separated and relative; destinations write it under
	// their own directory
	Path     string
	Contents []byte
	ModTime  time.Time
}

// Clone returns a copy that shares no mutable state with f
func (f *File) Clone() *File {
	c := *f
	c.Contents = append([]byte(nil), f.Contents...)
	return &c
}

// Ext returns the extension of Path including the dot
func (f *File) Ext() string {
	return path.Ext(f.Path)
}

// key identifies the origin of a file across stages
func (f *File) key() string {
	if f.Source != "" {
		return f.Source
	}
	return f.Path
}
