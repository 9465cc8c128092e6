package es

import "log/slog"

// Version is the number of events appended to a stream so far.
// A stream that has never been written to is at version 0; the n-th event
// of a stream carries version n. Append compares the caller's expected
// version with the stream's current version to detect concurrent writers.
type Version uint64

func (v Version) Uint64() uint64                         { return uint64(v) }
func (v Version) Add(n int) Version                      { return v + Version(n) }
func (v Version) SlogAttr() slog.Attr                    { return newSlogVersionAttr("version", v) }
func (v Version) SlogAttrWithKey(key string) slog.Attr   { return newSlogVersionAttr(key, v) }
func newSlogVersionAttr(key string, v Version) slog.Attr { return slog.Uint64(key, uint64(v)) }
