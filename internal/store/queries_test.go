package store

import (
	"context"
	"testing"
)

// seedSearchFixture loads two patients over two devices:
//
//	nas1: P001 (DOE JOHN) with two studies, three instances total
//	nas1: P002 (ROE RICHARD) with one MR study, one instance
//	nas2: P001 (DOE JOHN) with one study, one instance
func seedSearchFixture(t *testing.T, st *Store) {
	t.Helper()

	m := testMetadata("nas1", "P001", "1.2.3", "1.2.3.1", "1.2.3.1.1", "/mnt/nas1/P001/s1/a.dcm")
	upsertOne(t, st, m)

	m = testMetadata("nas1", "P001", "1.2.3", "1.2.3.1", "1.2.3.1.2", "/mnt/nas1/P001/s1/b.dcm")
	m.Instance.InstanceNumber = 2
	upsertOne(t, st, m)

	m = testMetadata("nas1", "P001", "1.2.4", "1.2.4.1", "1.2.4.1.1", "/mnt/nas1/P001/s2/a.dcm")
	m.Study.StudyDate = "20250301"
	m.Study.Description = "HEAD ROUTINE"
	m.Study.Modality = "CR"
	m.Series.Modality = "CR"
	upsertOne(t, st, m)

	m = testMetadata("nas1", "P002", "2.2.3", "2.2.3.1", "2.2.3.1.1", "/mnt/nas1/P002/s1/a.dcm")
	m.Patient.Name = "ROE RICHARD"
	m.Study.Modality = "MR"
	m.Series.Modality = "MR"
	upsertOne(t, st, m)

	m = testMetadata("nas2", "P001", "9.2.3", "9.2.3.1", "9.2.3.1.1", "/mnt/nas2/P001/s1/a.dcm")
	upsertOne(t, st, m)
}

func TestSearchPatientsCounts(t *testing.T) {
	st := setupTestStore(t)
	seedSearchFixture(t, st)

	results, err := st.SearchPatients(context.Background(), SearchOptions{Query: "DOE", DeviceID: "nas1"})
	if err != nil {
		t.Fatalf("SearchPatients failed: %v", err)
	}
	if len(results) != 1 {
		t.Fatalf("Expected 1 result, got %d", len(results))
	}

	p := results[0]
	if p.PatientID != "P001" || p.DeviceID != "nas1" {
		t.Fatalf("Unexpected result row: %+v", p)
	}
	if p.StudyCount != 2 {
		t.Errorf("Expected 2 studies, got %d", p.StudyCount)
	}
	if p.ImageCount != 3 {
		t.Errorf("Expected 3 images, got %d", p.ImageCount)
	}
}

func TestSearchPatientsByName(t *testing.T) {
	st := setupTestStore(t)
	seedSearchFixture(t, st)

	results, err := st.SearchPatients(context.Background(), SearchOptions{Query: "ROE RICH"})
	if err != nil {
		t.Fatalf("SearchPatients failed: %v", err)
	}
	if len(results) != 1 {
		t.Fatalf("Expected 1 result for name query, got %d", len(results))
	}
	if results[0].PatientID != "P002" {
		t.Errorf("Expected P002, got %s", results[0].PatientID)
	}
}

func TestSearchPatientsModalityFilter(t *testing.T) {
	st := setupTestStore(t)
	seedSearchFixture(t, st)

	results, err := st.SearchPatients(context.Background(), SearchOptions{Modality: "MR"})
	if err != nil {
		t.Fatalf("SearchPatients failed: %v", err)
	}
	if len(results) != 1 {
		t.Fatalf("Expected 1 MR patient, got %d", len(results))
	}
	if results[0].PatientID != "P002" {
		t.Errorf("Expected P002 for MR filter, got %s", results[0].PatientID)
	}
}

func TestSearchPatientsDateFilterNormalizesDashes(t *testing.T) {
	st := setupTestStore(t)
	seedSearchFixture(t, st)

	results, err := st.SearchPatients(context.Background(), SearchOptions{StudyDate: "2025-03-01"})
	if err != nil {
		t.Fatalf("SearchPatients failed: %v", err)
	}
	if len(results) != 1 {
		t.Fatalf("Expected 1 patient with 2025-03-01 study, got %d", len(results))
	}
	if results[0].PatientID != "P001" || results[0].DeviceID != "nas1" {
		t.Errorf("Unexpected result: %+v", results[0])
	}
}

func TestSearchPatientsAcrossDevices(t *testing.T) {
	st := setupTestStore(t)
	seedSearchFixture(t, st)

	results, err := st.SearchPatients(context.Background(), SearchOptions{Query: "P001"})
	if err != nil {
		t.Fatalf("SearchPatients failed: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("Expected P001 on 2 devices, got %d rows", len(results))
	}
}

func TestImageLocationsOrdering(t *testing.T) {
	st := setupTestStore(t)
	seedSearchFixture(t, st)

	locations, err := st.ImageLocations(context.Background(), "P001", "nas1")
	if err != nil {
		t.Fatalf("ImageLocations failed: %v", err)
	}
	if len(locations) != 3 {
		t.Fatalf("Expected 3 locations for P001 on nas1, got %d", len(locations))
	}

	// Newest study first, then instance order within the series.
	if locations[0].StudyDate != "20250301" {
		t.Errorf("Expected newest study first, got date %s", locations[0].StudyDate)
	}
	if locations[1].InstanceNumber != 1 || locations[2].InstanceNumber != 2 {
		t.Errorf("Expected instance order 1,2 within series, got %d,%d",
			locations[1].InstanceNumber, locations[2].InstanceNumber)
	}
}

func TestImageLocationsAllDevices(t *testing.T) {
	st := setupTestStore(t)
	seedSearchFixture(t, st)

	locations, err := st.ImageLocations(context.Background(), "P001", "")
	if err != nil {
		t.Fatalf("ImageLocations failed: %v", err)
	}
	if len(locations) != 4 {
		t.Fatalf("Expected 4 locations across devices, got %d", len(locations))
	}
}

func TestImageLocationsUnknownPatient(t *testing.T) {
	st := setupTestStore(t)
	seedSearchFixture(t, st)

	locations, err := st.ImageLocations(context.Background(), "NOPE", "")
	if err != nil {
		t.Fatalf("ImageLocations failed: %v", err)
	}
	if len(locations) != 0 {
		t.Errorf("Expected no locations for unknown patient, got %d", len(locations))
	}
}

func TestStatsTotals(t *testing.T) {
	st := setupTestStore(t)
	seedSearchFixture(t, st)

	stats, err := st.Stats(context.Background())
	if err != nil {
		t.Fatalf("Stats failed: %v", err)
	}
	if stats.Totals.Patients != 3 {
		t.Errorf("Expected 3 patient rows, got %d", stats.Totals.Patients)
	}
	if stats.Totals.Studies != 4 {
		t.Errorf("Expected 4 studies, got %d", stats.Totals.Studies)
	}
	if stats.Totals.Instances != 5 {
		t.Errorf("Expected 5 instances, got %d", stats.Totals.Instances)
	}
}

func TestSearchPatientsNonDICOMFormats(t *testing.T) {
	st := setupTestStore(t)

	m := testMetadata("nas1", "P010", "path.abc", "path.abc.1", "path.abc.1.f1", "/mnt/nas1/P010/scan.jp2")
	m.Instance.FileFormat = "JP2"
	m.Study.Modality = ""
	m.Series.Modality = ""
	upsertOne(t, st, m)

	results, err := st.SearchPatients(context.Background(), SearchOptions{Query: "P010"})
	if err != nil {
		t.Fatalf("SearchPatients failed: %v", err)
	}
	if len(results) != 1 {
		t.Fatalf("Expected 1 result, got %d", len(results))
	}
	if results[0].Formats != "JP2" {
		t.Errorf("Expected formats JP2, got %q", results[0].Formats)
	}
}
