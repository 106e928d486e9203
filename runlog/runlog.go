// Copyright (c) 2023 The KBase Project and its Contributors
// Copyright (c) 2023 Cohere Consulting, LLC
//
// Permission is hereby granted, free of charge, to any person obtaining a copy of
// this software and associated documentation files (the "Software"), to deal in
// the Software without restriction, including without limitation the rights to
// use, copy, modify, merge, publish, distribute, sublicense, and/or sell copies
// of the Software, and to permit persons to whom the Software is furnished to do
// so, subject to the following conditions:
//
// The above copyright notice and this permission notice shall be included in all
// copies or substantial portions of the Software.
//
// THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
// IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
// FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
// AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
// LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
// OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN THE
// SOFTWARE.

// Package runlog is the pipeline's run history: a table of Records, one
// per pipeline invocation, recording which stages ran and how many items
// went in and came out of each: a bbolt-backed, append-only log owned by
// a single goroutine, queried over channels.
package runlog

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	bolt "go.etcd.io/bbolt"

	"github.com/kbase/neurostore-ingest/config"
)

// StageCount records how many items entered and left one stage of a run.
type StageCount struct {
	In  int `json:"in"`
	Out int `json:"out"`
}

// Record stores everything relevant to one pipeline run.
type Record struct {
	Id                  uuid.UUID
	Stages              []string
	StartTime, StopTime time.Time
	// status of the run ("succeeded", "failed", or "canceled")
	Status string
	// per-stage in/out item counts, keyed by canonical stage name
	Counts map[string]StageCount
}

// Init opens the run log, creating its backing file and bucket schema if
// necessary.
func Init() error {
	if !IsOpen() {
		go runLogProcess()
		time.Sleep(100 * time.Millisecond)
	}
	return nil
}

// Finalize saves and closes the run log (if it's been opened).
func Finalize() error {
	if IsOpen() {
		channels_.Input.Shutdown <- struct{}{}
		closeChannels()
	}
	return nil
}

// IsOpen reports whether the run log is open for writing.
func IsOpen() bool {
	if channels_.Open {
		channels_.Input.CheckIfOpen <- struct{}{}
		select {
		case isOpen := <-channels_.Output.IsOpen:
			return isOpen
		case <-time.After(1 * time.Second):
			closeChannels()
			return false
		}
	}
	return false
}

// RecordRun records a completed (or failed/canceled) pipeline run.
func RecordRun(record Record) error {
	switch record.Status {
	case "succeeded", "failed", "canceled":
	default:
		return &NewRecordError{Id: record.Id, Message: fmt.Sprintf("invalid status: %s", record.Status)}
	}
	if !IsOpen() {
		return &NotOpenError{}
	}
	channels_.Input.CreateRecord <- record
	return <-channels_.Output.Error
}

// Runs retrieves every run that started within [start, stop].
func Runs(start, stop time.Time) ([]Record, error) {
	if !IsOpen() {
		return nil, &NotOpenError{}
	}
	channels_.Input.FetchRecords <- TimeRange{Start: start, Stop: stop}
	select {
	case records := <-channels_.Output.Records:
		return records, nil
	case err := <-channels_.Output.Error:
		return nil, err
	}
}

//-----------
// Internals
//-----------

type TimeRange struct {
	Start, Stop time.Time
}

var channels_ struct {
	Open  bool
	Input struct {
		CreateRecord chan Record
		CheckIfOpen  chan struct{}
		FetchRecords chan TimeRange
		Shutdown     chan struct{}
	}
	Output struct {
		Records chan []Record
		Error   chan error
		IsOpen  chan bool
	}
}

func runLogProcess() {
	dbPath := filepath.Join(config.Pipeline.DataRoot, "pipeline-runlog.db")
	db, err := bolt.Open(dbPath, 0600, &bolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		channels_.Output.Error <- &CantOpenError{Message: err.Error()}
		return
	}

	db.Update(func(tx *bolt.Tx) error {
		for _, bucketName := range []string{"runs", "counts"} {
			if _, err := tx.CreateBucketIfNotExists([]byte(bucketName)); err != nil {
				return err
			}
		}
		return nil
	})

	openChannels()

	running := true
	for running {
		select {
		case <-channels_.Input.CheckIfOpen:
			channels_.Output.IsOpen <- true

		case record := <-channels_.Input.CreateRecord:
			channels_.Output.Error <- createRecord(db, record)

		case timeRange := <-channels_.Input.FetchRecords:
			records, err := fetchRecords(db, timeRange.Start, timeRange.Stop)
			if err != nil {
				channels_.Output.Error <- err
			} else {
				channels_.Output.Records <- records
			}

		case <-channels_.Input.Shutdown:
			if err := db.Close(); err != nil {
				channels_.Output.Error <- &CantCloseError{Message: err.Error()}
			}
			running = false
		}
	}
}

func openChannels() {
	channels_.Open = true
	channels_.Input.CreateRecord = make(chan Record)
	channels_.Input.CheckIfOpen = make(chan struct{})
	channels_.Input.FetchRecords = make(chan TimeRange)
	channels_.Input.Shutdown = make(chan struct{})
	channels_.Output.Records = make(chan []Record)
	channels_.Output.Error = make(chan error)
	channels_.Output.IsOpen = make(chan bool)
}

func closeChannels() {
	channels_.Open = false
	close(channels_.Input.CreateRecord)
	close(channels_.Input.CheckIfOpen)
	close(channels_.Input.FetchRecords)
	close(channels_.Input.Shutdown)
	close(channels_.Output.Records)
	close(channels_.Output.Error)
	close(channels_.Output.IsOpen)
}

func createRecord(db *bolt.DB, record Record) error {
	startTime := record.StartTime.Format(time.RFC3339)
	stopTime := record.StopTime.Format(time.RFC3339)

	tx, err := db.Begin(true)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	bucket := tx.Bucket([]byte("runs"))

	var buffer bytes.Buffer
	w := csv.NewWriter(&buffer)
	csvRecord := []string{record.Id.String(), strings.Join(record.Stages, ";"), stopTime, record.Status}
	if err := w.Write(csvRecord); err != nil {
		return err
	}
	w.Flush()

	if err := bucket.Put([]byte(startTime), buffer.Bytes()); err != nil {
		return err
	}

	if record.Counts != nil {
		jsonCounts, err := json.Marshal(record.Counts)
		if err != nil {
			return &NewRecordError{Id: record.Id, Message: err.Error()}
		}
		countsBucket := tx.Bucket([]byte("counts"))
		if err := countsBucket.Put([]byte(record.Id.String()), jsonCounts); err != nil {
			return err
		}
	}

	return tx.Commit()
}

func fetchRecords(db *bolt.DB, start, stop time.Time) ([]Record, error) {
	records := make([]Record, 0)
	err := db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket([]byte("runs")).Cursor()

		startKey := []byte(start.Format(time.RFC3339))
		stopKey := []byte(stop.Format(time.RFC3339))

		for k, v := c.Seek(startKey); k != nil && bytes.Compare(k, stopKey) <= 0; k, v = c.Next() {
			r := csv.NewReader(bytes.NewBuffer(v))
			csvRecord, err := r.Read()
			if err != nil {
				return err
			}
			id, _ := uuid.Parse(csvRecord[0])
			var stages []string
			if csvRecord[1] != "" {
				stages = strings.Split(csvRecord[1], ";")
			}
			t1, _ := time.Parse(time.RFC3339, string(k))
			t2, _ := time.Parse(time.RFC3339, csvRecord[2])
			records = append(records, Record{
				Id:        id,
				Stages:    stages,
				StartTime: t1,
				StopTime:  t2,
				Status:    csvRecord[3],
			})
		}

		countsBucket := tx.Bucket([]byte("counts"))
		for i := range records {
			raw := countsBucket.Get([]byte(records[i].Id.String()))
			if raw == nil {
				continue
			}
			var counts map[string]StageCount
			if err := json.Unmarshal(raw, &counts); err != nil {
				return &InvalidRecordError{Id: records[i].Id, Message: err.Error()}
			}
			records[i].Counts = counts
		}
		return nil
	})

	return records, err
}
