package models

import (
	"database/sql"
	"encoding/json"
)

// Measurement is one row of the measurement table: a reading for one station
// on one date.
type Measurement struct {
	ID      int64
	Station string
	Date    string // YYYY-MM-DD
	Prcp    sql.NullFloat64
	Tobs    float64
}

type Station struct {
	ID        int64
	Station   string
	Name      string
	Latitude  float64
	Longitude float64
	Elevation float64
}

// DatePrecipitation encodes as a single-key object {"<date>": prcp}. A missing
// reading encodes as null.
type DatePrecipitation struct {
	Date string
	Prcp sql.NullFloat64
}

func (d DatePrecipitation) MarshalJSON() ([]byte, error) {
	var v *float64
	if d.Prcp.Valid {
		v = &d.Prcp.Float64
	}
	return json.Marshal(map[string]*float64{d.Date: v})
}

// DateTemperature encodes as a single-key object {"<date>": tobs}.
type DateTemperature struct {
	Date string
	Tobs float64
}

func (d DateTemperature) MarshalJSON() ([]byte, error) {
	return json.Marshal(map[string]float64{d.Date: d.Tobs})
}

// DailyTemps holds the temperature aggregates for a single date.
type DailyTemps struct {
	Date string  `json:"Date"`
	TMin float64 `json:"TMIN"`
	TAvg float64 `json:"TAVG"`
	TMax float64 `json:"TMAX"`
}

// RangeTemps holds the temperature aggregates across an inclusive date range.
type RangeTemps struct {
	StartDate string  `json:"StartDate"`
	EndDate   string  `json:"EndDate"`
	TMin      float64 `json:"TMIN"`
	TAvg      float64 `json:"TAVG"`
	TMax      float64 `json:"TMAX"`
}
