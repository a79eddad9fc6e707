package extract

import "fmt"

// Metadata is the normalized four-level tuple produced for one image
// unit, regardless of which kind of device it came from. Missing
// optional attributes are empty values, never a failed extraction.
type Metadata struct {
	DeviceID string
	Patient  PatientInfo
	Study    StudyInfo
	Series   SeriesInfo
	Instance InstanceInfo
}

// PatientInfo holds patient-level attributes as recorded by the source.
type PatientInfo struct {
	PatientID       string
	Name            string
	BirthDate       string
	Sex             string
	Affiliation     string
	ReferringDoctor string
	SourcePath      string
}

// StudyInfo holds study-level attributes.
type StudyInfo struct {
	StudyUID        string
	StudyDate       string
	StudyTime       string
	Description     string
	Modality        string
	AccessionNumber string
	StudyID         string
	SourcePath      string
	ImageFormat     string
	Compression     string
}

// SeriesInfo holds series-level attributes.
type SeriesInfo struct {
	SeriesUID        string
	SeriesNumber     int
	Description      string
	Modality         string
	BodyPart         string
	SourcePath       string
	ImageFormat      string
	CompressionRatio float64
}

// InstanceInfo holds the atomic image unit: one file or one record.
type InstanceInfo struct {
	SOPUID          string
	InstanceNumber  int
	FilePath        string
	FileSize        int64
	FileFormat      string
	Compression     string
	Width           int
	Height          int
	BitsPerPixel    int
	SliceLocation   float64
	AcquisitionDate string
	AcquisitionTime string
	Fingerprint     string
}

// ExtractError marks a single unit that could not be read or parsed.
// The run skips the unit, counts the error, and continues.
type ExtractError struct {
	Path string
	Err  error
}

func (e *ExtractError) Error() string {
	return fmt.Sprintf("extract %s: %v", e.Path, e.Err)
}

func (e *ExtractError) Unwrap() error {
	return e.Err
}
