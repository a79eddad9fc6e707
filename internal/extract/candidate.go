package extract

import (
	"io"
	"path/filepath"
	"strings"
)

// minCandidateSize filters out files too small to hold an image header.
const minCandidateSize = 64

// dicomExtensions are extensions that identify DICOM objects outright.
var dicomExtensions = map[string]bool{
	".dcm":   true,
	".dicom": true,
	".ima":   true,
	".img":   true,
}

// imageExtensions are non-DICOM image formats found on direct-file
// devices (compressed exports sit next to raw DICOM on some NAS trees).
var imageExtensions = map[string]string{
	".jp2":  "JP2",
	".j2k":  "JP2",
	".jpg":  "JPEG",
	".jpeg": "JPEG",
	".png":  "PNG",
	".tif":  "TIFF",
	".tiff": "TIFF",
	".bmp":  "BMP",
}

// skipExtensions are clearly not image payloads. Everything else is a
// candidate: a borderline file is opened and probed rather than
// excluded.
var skipExtensions = map[string]bool{
	".txt":  true,
	".log":  true,
	".json": true,
	".xml":  true,
	".ini":  true,
	".csv":  true,
	".html": true,
	".htm":  true,
	".md":   true,
	".db":   true,
	".bak":  true,
	".tmp":  true,
}

// IsCandidate reports whether a file should be probed for extraction.
func IsCandidate(name string, size int64) bool {
	if size < minCandidateSize {
		return false
	}
	ext := strings.ToLower(filepath.Ext(name))
	if skipExtensions[ext] {
		return false
	}
	return true
}

// ImageFormatForExt returns the recorded format tag for a non-DICOM
// image extension, or "" if the extension is not a known image format.
func ImageFormatForExt(name string) string {
	return imageExtensions[strings.ToLower(filepath.Ext(name))]
}

// HasDICOMMagic reports whether the file carries the "DICM" marker at
// offset 128. DICOM files on modality NAS trees frequently have no
// extension at all, so the probe is the authoritative check.
func HasDICOMMagic(path, device string) bool {
	f, err := openFile(path, device)
	if err != nil {
		return false
	}
	defer f.Close()

	var header [132]byte
	if _, err := io.ReadFull(f, header[:]); err != nil {
		return false
	}
	return string(header[128:132]) == "DICM"
}

// LooksLikeDICOM combines the extension shortcut with the magic probe.
func LooksLikeDICOM(path, device string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	if dicomExtensions[ext] {
		return true
	}
	// Extensionless or unknown extension: probe the header.
	if ext == "" || (!skipExtensions[ext] && imageExtensions[ext] == "") {
		return HasDICOMMagic(path, device)
	}
	return false
}
