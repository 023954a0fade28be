package agent

import "fmt"

// Stage is a step in the processing of a single inbound event
type Stage int

const (
	StageReceived Stage = iota
	StageConfigResolved
	StagePayloadNormalized
	StageClientAcquired
	StagePublished
	StageClientReleased
	StageResultEmitted
	StageFailed
)

var stageNames = map[Stage]string{
	StageReceived:          "received",
	StageConfigResolved:    "config_resolved",
	StagePayloadNormalized: "payload_normalized",
	StageClientAcquired:    "client_acquired",
	StagePublished:         "published",
	StageClientReleased:    "client_released",
	StageResultEmitted:     "result_emitted",
	StageFailed:            "failed",
}

func (s Stage) String() string {
	if name, ok := stageNames[s]; ok {
		return name
	}
	return fmt.Sprintf("stage(%d)", int(s))
}
