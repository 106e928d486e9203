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

// Package download implements the download stage: per-source
// backend dispatch through the fallback scheduler, with deterministic
// artifact persistence and MD5 recording.
package download

import (
	"time"

	"github.com/kbase/neurostore-ingest/identifier"
)

// FileType enumerates the kinds of article artifact a backend can produce.
type FileType string

const (
	FilePDF    FileType = "PDF"
	FileXML    FileType = "XML"
	FileHTML   FileType = "HTML"
	FileTEXT   FileType = "TEXT"
	FileCSV    FileType = "CSV"
	FileJSON   FileType = "JSON"
	FileBINARY FileType = "BINARY"
)

// DownloadedFile records one artifact written to disk by a backend.
type DownloadedFile struct {
	Path        string    `json:"path"`
	FileType    FileType  `json:"file_type"`
	ContentType string    `json:"content_type"`
	Source      string    `json:"source"`
	DownloadedAt time.Time `json:"downloaded_at"`
	MD5         string    `json:"md5"`
}

// DownloadResult is the per-identifier outcome of one backend's Run call.
// A backend returns one of these for every input, even on failure.
type DownloadResult struct {
	Identifier   identifier.Identifier `json:"identifier"`
	Source       string                `json:"source"`
	Success      bool                  `json:"success"`
	Files        []DownloadedFile      `json:"files"`
	ErrorMessage string                `json:"error_message,omitempty"`
}

func (r DownloadResult) Slug() string { return r.Identifier.Slug() }

// Satisfied implements the download-stage satisfaction rule: an
// identifier is satisfied once any source returns success=true.
func Satisfied(r DownloadResult) bool { return r.Success }
