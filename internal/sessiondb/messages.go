package sessiondb

import (
	"context"
	"time"
)

// The composite types recorded in the ClickHouse database.

const timeFormat = "2006-01-02 15:04:05.000000"

// SessionMessage is the information for the sessions table: one row per
// daemon run, written at start and again with its end time.
type SessionMessage struct {
	ID        string
	Hostname  string
	Version   string
	GoVersion string
	CPUs      int
	Start     time.Time
	End       time.Time
}

func (m *SessionMessage) insert(ctx context.Context, db inserter) error {
	return db.AsyncInsert(ctx, `INSERT INTO sessions VALUES (?, ?, ?, ?, ?, ?, ?)`, false,
		m.ID, m.Hostname, m.Version, m.GoVersion, m.CPUs,
		m.Start.Format(timeFormat), m.End.Format(timeFormat))
}

// AcquisitionMessage is the information for the acquisitions table: one row
// per Start, rewritten when the acquisition stops.
type AcquisitionMessage struct {
	ID         string
	SessionID  string
	Converters int
	Stride     int
	Capacity   int
	Mode       string
	Inputs     []uint8
	Regions    uint64 // regions reported
	Lost       uint64 // regions lost to overruns
	Start      time.Time
	End        time.Time
}

func (m *AcquisitionMessage) insert(ctx context.Context, db inserter) error {
	inputs := make([]uint16, len(m.Inputs))
	for i, in := range m.Inputs {
		inputs[i] = uint16(in)
	}
	return db.AsyncInsert(ctx, `INSERT INTO acquisitions VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`, false,
		m.ID, m.SessionID, m.Converters, m.Stride, m.Capacity, m.Mode, inputs,
		m.Regions, m.Lost, m.Start.Format(timeFormat), m.End.Format(timeFormat))
}

// FaultMessage is the information for the faults table.
type FaultMessage struct {
	AcquisitionID string
	Kind          string
	Generation    uint64
	Lost          uint64
	Time          time.Time
}

func (m *FaultMessage) insert(ctx context.Context, db inserter) error {
	return db.AsyncInsert(ctx, `INSERT INTO faults VALUES (?, ?, ?, ?, ?)`, false,
		m.AcquisitionID, m.Kind, m.Generation, m.Lost, m.Time.Format(timeFormat))
}
