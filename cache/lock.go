// Copyright (c) 2023 The KBase Project and its Contributors
// Copyright (c) 2023 Cohere Consulting, LLC
//
// Permission is hereby granted, free of charge, to any person obtaining a copy of
// this software and associated documentation files (the "Software"), to deal in
// the Software without restriction, including without limitation the rights to
// use, copy, modify, merge, publish, distribute, sublicense, and/or sell copies
// of the Software, and to permit persons to whom the Software is furnished to do
// so, subject to the following conditions:
//
// The above copyright notice and this permission notice shall be included in all
// copies or substantial portions of the Software.
//
// THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
// IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
// FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
// AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
// LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
// OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN THE
// SOFTWARE.

package cache

import (
	"os"

	"golang.org/x/sys/unix"
)

// fileLock is a process-exclusive advisory lock on a sibling file next to
// an index's SQLite database (index.lock). All writes to the index are
// serialized by acquiring this lock first; reads take no lock, relying on
// WAL mode for cross-process read concurrency.
type fileLock struct {
	file *os.File
}

func newFileLock(path string) (*fileLock, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0644)
	if err != nil {
		return nil, err
	}
	return &fileLock{file: f}, nil
}

// lock blocks until an exclusive lock on the lock file is obtained.
func (l *fileLock) lock() error {
	return unix.Flock(int(l.file.Fd()), unix.LOCK_EX)
}

// unlock releases the lock, allowing another writer to proceed.
func (l *fileLock) unlock() error {
	return unix.Flock(int(l.file.Fd()), unix.LOCK_UN)
}

func (l *fileLock) close() error {
	return l.file.Close()
}

// withLock acquires the lock, runs fn, and releases the lock regardless of
// whether fn returns an error.
func (l *fileLock) withLock(fn func() error) error {
	if err := l.lock(); err != nil {
		return err
	}
	defer l.unlock()
	return fn()
}
