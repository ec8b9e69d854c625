package main

import (
	"time"

	"github.com/getsentry/heapview/internal/analysis"
)

type (
	// SummaryKafkaMessage is representing the struct we send to Kafka once a
	// heap trace was analyzed
	SummaryKafkaMessage struct {
		Debuggee         string `json:"debuggee"`
		Environment      string `json:"environment,omitempty"`
		ID               string `json:"analysis_id"`
		Leaked           uint64 `json:"leaked"`
		Peak             uint64 `json:"peak"`
		PprofPath        string `json:"pprof_path"`
		Received         int64  `json:"received"`
		Release          string `json:"release,omitempty"`
		ResultPath       string `json:"result_path"`
		SnapshotPath     string `json:"snapshot_path"`
		SpeedscopePath   string `json:"speedscope_path"`
		TotalAllocated   uint64 `json:"total_allocated"`
		TotalAllocations uint64 `json:"total_allocations"`
		TotalTime        uint64 `json:"total_time"`
	}
)

func resultPath(id string) string {
	return id + "/result.json.lz4"
}

func speedscopePath(id string) string {
	return id + "/speedscope.json"
}

func pprofPath(id string) string {
	return id + "/profile.pb.gz"
}

func buildSummaryKafkaMessage(id, snapshotPath, environment string, s analysis.Summary, received time.Time) SummaryKafkaMessage {
	return SummaryKafkaMessage{
		Debuggee:         s.Debuggee,
		Environment:      environment,
		ID:               id,
		Leaked:           s.Leaked,
		Peak:             s.Peak,
		PprofPath:        pprofPath(id),
		Received:         received.Unix(),
		Release:          release,
		ResultPath:       resultPath(id),
		SnapshotPath:     snapshotPath,
		SpeedscopePath:   speedscopePath(id),
		TotalAllocated:   s.TotalAllocated,
		TotalAllocations: s.TotalAllocations,
		TotalTime:        s.TotalTime,
	}
}
