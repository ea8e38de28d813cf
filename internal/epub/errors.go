// Package epub implements the EPUB ingestion pipeline: container reading,
// package (OPF) parsing, TOC resolution, and chapter text extraction.
package epub

import "errors"

// Fatal ingestion errors. Any of these aborts ingestion with no partial
// book produced.
var (
	// ErrInvalidArchive indicates the uploaded bytes are not a readable
	// ZIP container.
	ErrInvalidArchive = errors.New("epub: invalid or corrupted archive")

	// ErrMissingContainerDescriptor indicates META-INF/container.xml is
	// absent or unreadable.
	ErrMissingContainerDescriptor = errors.New("epub: missing container descriptor")

	// ErrMissingRootFile indicates the package document declared by the
	// container descriptor does not exist inside the archive.
	ErrMissingRootFile = errors.New("epub: package document not found in archive")
)

// Warning codes for recoverable issues. The offending entity is dropped or
// substituted and ingestion continues.
const (
	WarnDuplicateManifestID    = "DuplicateManifestID"
	WarnDanglingSpineReference = "DanglingSpineReference"
	WarnUnresolvableTocTarget  = "UnresolvableTocTarget"
	WarnChapterDecodeFailure   = "ChapterDecodeFailure"
)
