package trace

import (
	"io"
	"time"
)

// Replay re-emits every record from r to onRecord, sleeping a fixed
// interval after each one: one tick of the header's declared frequency
// divided by speed (one second divided by speed when the frequency is
// zero). The records' own timestamps (StartedAt/EndedAt on Process*
// records) are not consulted, so the gaps between the original events
// are not reproduced, and there is no record-level seeking.
func Replay(r *Reader, speed float64, onRecord func(Record), stop <-chan struct{}) error {
	if speed <= 0 {
		speed = 1
	}
	tickDuration := time.Second
	if r.Header.Frequency > 0 {
		tickDuration = time.Duration(float64(time.Second) / float64(r.Header.Frequency) / speed)
	}
	for {
		select {
		case <-stop:
			return nil
		default:
		}
		rec, err := r.ReadRecord()
		if err != nil {
			if err == io.EOF {
				return nil
			}
			return err
		}
		onRecord(rec)
		if tickDuration > 0 {
			time.Sleep(tickDuration)
		}
	}
}
