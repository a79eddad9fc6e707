package extract

import (
	"fmt"
	"image"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/suyashkumar/dicom"
	"github.com/suyashkumar/dicom/pkg/tag"

	// Register header decoders for non-DICOM image formats found on
	// direct-file devices.
	_ "image/jpeg"
	_ "image/png"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
)

// FileExtractor reads metadata from files on a direct-file device. It
// reads headers only, never pixel payloads.
type FileExtractor struct{}

// NewFileExtractor returns a header-only metadata extractor for
// direct-file devices.
func NewFileExtractor() *FileExtractor {
	return &FileExtractor{}
}

// Extract produces the normalized metadata tuple for one file.
// rootPath is the device's mount root; identifiers for non-DICOM files
// are synthesized deterministically from the path relative to it.
func (e *FileExtractor) Extract(deviceID, rootPath, path string, info os.FileInfo) (*Metadata, error) {
	if info == nil {
		var err error
		info, err = os.Stat(path)
		if err != nil {
			return nil, &ExtractError{Path: path, Err: err}
		}
	}

	fingerprint, err := FileFingerprint(path, deviceID)
	if err != nil {
		return nil, &ExtractError{Path: path, Err: err}
	}

	if LooksLikeDICOM(path, deviceID) {
		return e.extractDICOM(deviceID, path, info, fingerprint)
	}
	if format := ImageFormatForExt(path); format != "" {
		return e.extractPlainImage(deviceID, rootPath, path, info, format, fingerprint)
	}
	return nil, &ExtractError{Path: path, Err: fmt.Errorf("not a recognized image file")}
}

// extractDICOM reads the DICOM header, stopping before pixel data. A
// missing optional attribute yields an empty value, not a failure.
func (e *FileExtractor) extractDICOM(deviceID, path string, info os.FileInfo, fingerprint string) (*Metadata, error) {
	ds, err := dicom.ParseFile(path, nil, dicom.SkipPixelData())
	if err != nil {
		return nil, &ExtractError{Path: path, Err: err}
	}

	name := strings.ReplaceAll(dsString(&ds, tag.PatientName), "^", " ")
	if name == "" {
		name = "Unknown"
	}

	affiliation := dsString(&ds, tag.InstitutionName)
	referring := dsString(&ds, tag.ReferringPhysicianName)
	if affiliation == "" {
		affiliation = referring
	}

	m := &Metadata{
		DeviceID: deviceID,
		Patient: PatientInfo{
			PatientID:       dsString(&ds, tag.PatientID),
			Name:            name,
			BirthDate:       dsString(&ds, tag.PatientBirthDate),
			Sex:             dsString(&ds, tag.PatientSex),
			Affiliation:     affiliation,
			ReferringDoctor: referring,
			SourcePath:      path,
		},
		Study: StudyInfo{
			StudyUID:        dsString(&ds, tag.StudyInstanceUID),
			StudyDate:       dsString(&ds, tag.StudyDate),
			StudyTime:       dsString(&ds, tag.StudyTime),
			Description:     dsString(&ds, tag.StudyDescription),
			Modality:        dsString(&ds, tag.Modality),
			AccessionNumber: dsString(&ds, tag.AccessionNumber),
			StudyID:         dsString(&ds, tag.StudyID),
			SourcePath:      path,
			ImageFormat:     "DICOM",
			Compression:     "DICOM",
		},
		Series: SeriesInfo{
			SeriesUID:    dsString(&ds, tag.SeriesInstanceUID),
			SeriesNumber: dsInt(&ds, tag.SeriesNumber),
			Description:  dsString(&ds, tag.SeriesDescription),
			Modality:     dsString(&ds, tag.Modality),
			BodyPart:     dsString(&ds, tag.BodyPartExamined),
			SourcePath:   filepath.Dir(path),
			ImageFormat:  "DICOM",
		},
		Instance: InstanceInfo{
			SOPUID:          dsString(&ds, tag.SOPInstanceUID),
			InstanceNumber:  dsInt(&ds, tag.InstanceNumber),
			FilePath:        path,
			FileSize:        info.Size(),
			FileFormat:      "DCM",
			Compression:     "DICOM",
			Width:           dsInt(&ds, tag.Columns),
			Height:          dsInt(&ds, tag.Rows),
			BitsPerPixel:    dsInt(&ds, tag.BitsAllocated),
			SliceLocation:   dsFloat(&ds, tag.SliceLocation),
			AcquisitionDate: dsString(&ds, tag.AcquisitionDate),
			AcquisitionTime: dsString(&ds, tag.AcquisitionTime),
			Fingerprint:     fingerprint,
		},
	}

	// Files missing the instance UID still need a stable identity so
	// reruns converge on the same row.
	if m.Instance.SOPUID == "" {
		m.Instance.SOPUID = SynthesizeSOPUID(m.Series.SeriesUID, path)
	}
	return m, nil
}

// extractPlainImage handles non-DICOM image files. The source records
// no patient or study identity, so identifiers are derived from the
// directory layout relative to the device root: the top-level folder
// stands in for the patient, the file's folder for the study/series.
func (e *FileExtractor) extractPlainImage(deviceID, rootPath, path string, info os.FileInfo, format, fingerprint string) (*Metadata, error) {
	rel, err := filepath.Rel(rootPath, path)
	if err != nil {
		rel = path
	}
	rel = filepath.ToSlash(rel)

	patientID := "UNKNOWN"
	if i := strings.Index(rel, "/"); i > 0 {
		patientID = rel[:i]
	}

	groupDir := filepath.ToSlash(filepath.Dir(path))
	studyUID := "path." + RowFingerprint(deviceID, groupDir)[:24]
	seriesUID := studyUID + ".1"

	width, height := imageDimensions(path, deviceID)

	return &Metadata{
		DeviceID: deviceID,
		Patient: PatientInfo{
			PatientID:  patientID,
			Name:       patientID,
			SourcePath: path,
		},
		Study: StudyInfo{
			StudyUID:    studyUID,
			Description: filepath.Base(groupDir),
			SourcePath:  groupDir,
			ImageFormat: format,
			Compression: compressionForFormat(format),
		},
		Series: SeriesInfo{
			SeriesUID:    seriesUID,
			SeriesNumber: 1,
			SourcePath:   groupDir,
			ImageFormat:  format,
		},
		Instance: InstanceInfo{
			SOPUID:      SynthesizeSOPUID(seriesUID, rel),
			FilePath:    path,
			FileSize:    info.Size(),
			FileFormat:  format,
			Compression: compressionForFormat(format),
			Width:       width,
			Height:      height,
			Fingerprint: fingerprint,
		},
	}, nil
}

// imageDimensions reads width/height from the image header. Dimension
// probing is best effort: JPEG2000 has no registered decoder, and a
// corrupt header just leaves the dimensions at zero.
func imageDimensions(path, device string) (int, int) {
	f, err := openFile(path, device)
	if err != nil {
		return 0, 0
	}
	defer f.Close()

	cfg, _, err := image.DecodeConfig(f)
	if err != nil {
		return 0, 0
	}
	return cfg.Width, cfg.Height
}

func compressionForFormat(format string) string {
	switch format {
	case "JP2":
		return "JPEG2000"
	case "JPEG":
		return "JPEG"
	default:
		return "NONE"
	}
}

// dsString returns the first string value of a tag, or "".
func dsString(ds *dicom.Dataset, t tag.Tag) string {
	el, err := ds.FindElementByTag(t)
	if err != nil || el == nil {
		return ""
	}
	if vals, ok := el.Value.GetValue().([]string); ok && len(vals) > 0 {
		return strings.TrimSpace(vals[0])
	}
	return ""
}

// dsInt returns the first integer value of a tag, accepting both binary
// and integer-string representations, or 0.
func dsInt(ds *dicom.Dataset, t tag.Tag) int {
	el, err := ds.FindElementByTag(t)
	if err != nil || el == nil {
		return 0
	}
	switch vals := el.Value.GetValue().(type) {
	case []int:
		if len(vals) > 0 {
			return vals[0]
		}
	case []string:
		if len(vals) > 0 {
			if n, err := strconv.Atoi(strings.TrimSpace(vals[0])); err == nil {
				return n
			}
		}
	}
	return 0
}

// dsFloat returns the first decimal value of a tag, or 0.
func dsFloat(ds *dicom.Dataset, t tag.Tag) float64 {
	el, err := ds.FindElementByTag(t)
	if err != nil || el == nil {
		return 0
	}
	switch vals := el.Value.GetValue().(type) {
	case []float64:
		if len(vals) > 0 {
			return vals[0]
		}
	case []string:
		if len(vals) > 0 {
			if f, err := strconv.ParseFloat(strings.TrimSpace(vals[0]), 64); err == nil {
				return f
			}
		}
	}
	return 0
}
