package extract

import (
	"strconv"

	"pacs-index/internal/extdb"
)

// FromExternalRow maps one source-database row onto the normalized
// four-level tuple. The source records no instance identifier, so one
// is synthesized deterministically from the series identifier and the
// file path; the fingerprint is derived from the row's own columns
// since hashing the compressed payload is out of scope.
func FromExternalRow(deviceID string, rec extdb.ImageRecord) *Metadata {
	format := rec.FileFormat
	if format == "" {
		format = "JP2"
	}

	return &Metadata{
		DeviceID: deviceID,
		Patient: PatientInfo{
			PatientID:   rec.PatientID,
			Name:        rec.PatientName,
			BirthDate:   rec.BirthDate,
			Sex:         rec.Sex,
			Affiliation: "Medical Aid",
			SourcePath:  rec.FilePath,
		},
		Study: StudyInfo{
			StudyUID:        rec.StudyUID,
			StudyDate:       rec.StudyDate,
			Description:     rec.StudyDescription,
			Modality:        rec.Modality,
			AccessionNumber: rec.AccessionNumber,
			SourcePath:      rec.FilePath,
			ImageFormat:     format,
			Compression:     "JPEG2000",
		},
		Series: SeriesInfo{
			SeriesUID:        rec.SeriesUID,
			SeriesNumber:     rec.SeriesNumber,
			Description:      rec.SeriesDesc,
			Modality:         rec.Modality,
			SourcePath:       rec.FilePath,
			ImageFormat:      format,
			CompressionRatio: rec.CompressionRatio,
		},
		Instance: InstanceInfo{
			SOPUID:      SynthesizeSOPUID(rec.SeriesUID, rec.FilePath),
			FilePath:    rec.FilePath,
			FileSize:    rec.FileSize,
			FileFormat:  format,
			Compression: "JPEG2000",
			Fingerprint: RowFingerprint(rec.FilePath, format, strconv.FormatFloat(rec.CompressionRatio, 'f', -1, 64)),
		},
	}
}
