package types

import (
	"errors"
	"math"

	"dhtnode/x/strconvx"
)

// ---- Common service state (retained) ----

type State struct {
	Level  string `json:"level"`  // e.g. "idle", "ready", "stopped"
	Status string `json:"status"` // freeform short code
	Error  string `json:"error,omitempty"`
	TSms   int64  `json:"ts_ms"`
}

// TimerID identifies a timer armed on the event loop. Zero is never issued.
type TimerID uint32

// ---- Sensor readings ----

// Fixed2 is a reading rendered with exactly two fractional digits on the
// wire, so 55.2 goes out as 55.20.
type Fixed2 float64

var errNotFinite = errors.New("types: value is not finite")

func (f Fixed2) MarshalJSON() ([]byte, error) {
	v := float64(f)
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return nil, errNotFinite
	}
	return []byte(strconvx.FormatFloat(v, 'f', 2, 64)), nil
}

func (f *Fixed2) UnmarshalJSON(b []byte) error {
	v, err := strconvx.ParseFloat(string(b), 64)
	if err != nil {
		return err
	}
	*f = Fixed2(v)
	return nil
}

// ValueReply answers Temp.Read and Humidity.Read.
type ValueReply struct {
	Value Fixed2 `json:"value"`
}

// StatsReply answers Stats.Read.
type StatsReply struct {
	Temp     Fixed2 `json:"temp"`
	Humidity Fixed2 `json:"humidity"`
}

// ---- System info ----

type SysInfo struct {
	ID        string `json:"id"`
	App       string `json:"app"`
	FWVersion string `json:"fw_version"`
	Arch      string `json:"arch"`
	Uptime    int64  `json:"uptime"` // seconds
}
