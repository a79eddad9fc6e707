package store

import "time"

// DeviceKind mirrors config.DeviceKind in the persisted registry.
type DeviceKind string

const (
	DeviceDirectFile DeviceKind = "direct-file"
	DeviceExternalDB DeviceKind = "external-db"
)

// RunMode is the indexing mode of a run.
type RunMode string

const (
	RunFull        RunMode = "full"
	RunIncremental RunMode = "incremental"
)

// RunStatus is the lifecycle state of an indexing run.
type RunStatus string

const (
	RunRunning   RunStatus = "running"
	RunCompleted RunStatus = "completed"
	RunFailed    RunStatus = "failed"
	RunCancelled RunStatus = "cancelled"
)

// Device is one registered NAS device and its aggregate counts.
type Device struct {
	ID             string     `json:"id"`
	Kind           DeviceKind `json:"kind"`
	RootPath       string     `json:"rootPath,omitempty"`
	Description    string     `json:"description"`
	Status         string     `json:"status"`
	LastIndexed    time.Time  `json:"lastIndexed,omitempty"`
	TotalPatients  int64      `json:"totalPatients"`
	TotalStudies   int64      `json:"totalStudies"`
	TotalInstances int64      `json:"totalInstances"`
	CreatedAt      time.Time  `json:"createdAt"`
}

// IndexRun is one row of the indexing-run log.
type IndexRun struct {
	RunID          string    `json:"runId"`
	DeviceID       string    `json:"deviceId"`
	Mode           RunMode   `json:"mode"`
	StartedAt      time.Time `json:"startedAt"`
	FinishedAt     time.Time `json:"finishedAt,omitempty"`
	FilesProcessed int64     `json:"filesProcessed"`
	Errors         int64     `json:"errors"`
	Status         RunStatus `json:"status"`
}

// PatientSummary is one search result row: a patient on one device,
// with aggregate counts across their studies.
type PatientSummary struct {
	PatientID         string `json:"patientId"`
	DeviceID          string `json:"deviceId"`
	DeviceDescription string `json:"deviceDescription,omitempty"`
	Name              string `json:"name"`
	BirthDate         string `json:"birthDate,omitempty"`
	Sex               string `json:"sex,omitempty"`
	Affiliation       string `json:"affiliation,omitempty"`
	ReferringDoctor   string `json:"referringDoctor,omitempty"`
	SourcePath        string `json:"sourcePath,omitempty"`
	StudyCount        int64  `json:"studyCount"`
	ImageCount        int64  `json:"imageCount"`
	Modalities        string `json:"modalities,omitempty"`
	Formats           string `json:"formats,omitempty"`
}

// ImageLocation answers "where is this image": the device and file path
// holding one instance, with enough context to present it.
type ImageLocation struct {
	FilePath          string  `json:"filePath"`
	FileFormat        string  `json:"fileFormat,omitempty"`
	Compression       string  `json:"compression,omitempty"`
	Width             int     `json:"width,omitempty"`
	Height            int     `json:"height,omitempty"`
	FileSize          int64   `json:"fileSize"`
	StudyDescription  string  `json:"studyDescription,omitempty"`
	Modality          string  `json:"modality,omitempty"`
	StudyDate         string  `json:"studyDate,omitempty"`
	SeriesDescription string  `json:"seriesDescription,omitempty"`
	SeriesNumber      int     `json:"seriesNumber,omitempty"`
	InstanceNumber    int     `json:"instanceNumber,omitempty"`
	DeviceID          string  `json:"deviceId"`
	DeviceDescription string  `json:"deviceDescription,omitempty"`
}

// SearchOptions filters a patient search. Empty fields match anything.
type SearchOptions struct {
	Query     string // matches patient name or identifier, substring
	Modality  string
	StudyDate string // yyyymmdd or yyyy-mm-dd
	DeviceID  string
	Limit     int
}

// DeviceStats aggregates per-device and overall counts.
type DeviceStats struct {
	Devices []Device    `json:"devices"`
	Totals  StatsTotals `json:"totals"`
}

// StatsTotals are index-wide counts across all devices.
type StatsTotals struct {
	Patients  int64 `json:"patients"`
	Studies   int64 `json:"studies"`
	Series    int64 `json:"series"`
	Instances int64 `json:"instances"`
}
