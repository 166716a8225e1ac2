// Package storetest builds throwaway climate databases for tests. The schema
// mirrors the externally owned hawaii.sqlite layout; the service itself never
// creates it.
package storetest

import (
	"database/sql"
	"path/filepath"
	"testing"

	"github.com/lox/climateapi/internal/models"

	_ "modernc.org/sqlite"
)

const Schema = `
CREATE TABLE measurement (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    station TEXT,
    date TEXT,
    prcp FLOAT,
    tobs FLOAT
);

CREATE TABLE station (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    station TEXT,
    name TEXT,
    latitude FLOAT,
    longitude FLOAT,
    elevation FLOAT
);
`

// Fixture is the content written into a test database.
type Fixture struct {
	Stations     []models.Station
	Measurements []models.Measurement
}

// NewDB writes f into a fresh SQLite file under t.TempDir and returns its
// path. The file is closed before returning so callers can reopen it
// read-only.
func NewDB(t testing.TB, f Fixture) string {
	t.Helper()
	return NewDBWithSchema(t, Schema, f)
}

// NewDBWithSchema is NewDB with a caller supplied schema, for exercising
// schema verification.
func NewDBWithSchema(t testing.TB, schema string, f Fixture) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "climate.sqlite")

	db, err := sql.Open("sqlite", path)
	if err != nil {
		t.Fatalf("open fixture db: %v", err)
	}
	defer db.Close()

	if _, err := db.Exec(schema); err != nil {
		t.Fatalf("create fixture schema: %v", err)
	}
	for _, st := range f.Stations {
		if _, err := db.Exec(
			`INSERT INTO station (station, name, latitude, longitude, elevation) VALUES (?, ?, ?, ?, ?)`,
			st.Station, st.Name, st.Latitude, st.Longitude, st.Elevation,
		); err != nil {
			t.Fatalf("insert station %s: %v", st.Station, err)
		}
	}
	for _, m := range f.Measurements {
		if _, err := db.Exec(
			`INSERT INTO measurement (station, date, prcp, tobs) VALUES (?, ?, ?, ?)`,
			m.Station, m.Date, m.Prcp, m.Tobs,
		); err != nil {
			t.Fatalf("insert measurement %s/%s: %v", m.Station, m.Date, err)
		}
	}
	return path
}

// Prcp is shorthand for a present precipitation reading.
func Prcp(v float64) sql.NullFloat64 {
	return sql.NullFloat64{Float64: v, Valid: true}
}

// Hawaii returns a small fixture shaped like the real dataset: three stations
// and readings that end on 2017-08-23.
func Hawaii() Fixture {
	return Fixture{
		Stations: []models.Station{
			{Station: "USC00519397", Name: "WAIKIKI 717.2, HI US", Latitude: 21.2716, Longitude: -157.8168, Elevation: 3},
			{Station: "USC00513117", Name: "KANEOHE 838.1, HI US", Latitude: 21.4234, Longitude: -157.8015, Elevation: 14.6},
			{Station: "USC00519281", Name: "WAIHEE 837.5, HI US", Latitude: 21.45167, Longitude: -157.84889, Elevation: 32.9},
		},
		Measurements: []models.Measurement{
			{Station: "USC00519397", Date: "2016-08-22", Prcp: Prcp(0.4), Tobs: 80},
			{Station: "USC00519397", Date: "2016-08-23", Prcp: Prcp(0), Tobs: 81},
			{Station: "USC00513117", Date: "2016-08-23", Prcp: Prcp(0.15), Tobs: 76},
			{Station: "USC00519281", Date: "2017-01-02", Prcp: sql.NullFloat64{}, Tobs: 70},
			{Station: "USC00519397", Date: "2017-01-02", Prcp: Prcp(0.02), Tobs: 60},
			{Station: "USC00513117", Date: "2017-06-30", Prcp: Prcp(0.07), Tobs: 75},
			{Station: "USC00519397", Date: "2017-08-23", Prcp: Prcp(0), Tobs: 77},
			{Station: "USC00519281", Date: "2017-08-23", Prcp: Prcp(0.45), Tobs: 82},
		},
	}
}
