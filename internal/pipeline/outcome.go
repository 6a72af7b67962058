// Package pipeline implements the batch extraction-and-reconciliation
// flow: bounded fan-out over card images, per-item failure isolation,
// the duplicate gate in front of the store write, and the deferred
// write confirmed later through a round-tripped action token.
package pipeline

import "github.com/meishi-bot/meishi/internal/card"

// CardResult is a successfully extracted record annotated with the
// duplicate screening verdict.
type CardResult struct {
	card.Record
	// MayBeDuplicate is true when a same-named record already exists;
	// in that case no write happened and creation waits for an
	// explicit confirmation.
	MayBeDuplicate bool `json:"mayBeDuplicate"`
	// RecordID is the store id when a write did happen.
	RecordID string `json:"recordId,omitempty"`
}

// Outcome is the per-image result. Exactly one of Data and Err is
// populated, never both.
type Outcome struct {
	FileName string      `json:"fileName"`
	Success  bool        `json:"success"`
	Data     *CardResult `json:"data,omitempty"`
	Err      string      `json:"error,omitempty"`
}

func successOutcome(fileName string, res CardResult) Outcome {
	return Outcome{FileName: fileName, Success: true, Data: &res}
}

func failureOutcome(fileName, reason string) Outcome {
	return Outcome{FileName: fileName, Success: false, Err: reason}
}

// Classified is the partition of a batch's outcomes.
type Classified struct {
	Successes []Outcome
	Failures  []Outcome
	Total     int
}

// Classify partitions outcomes by their success tag. Order within
// each partition follows the input; nothing is deduplicated.
func Classify(outcomes []Outcome) Classified {
	c := Classified{Total: len(outcomes)}
	for _, o := range outcomes {
		if o.Success {
			c.Successes = append(c.Successes, o)
		} else {
			c.Failures = append(c.Failures, o)
		}
	}
	return c
}

// Summary aggregates a batch for reporting, including the routing
// context needed to post follow-up messages.
type Summary struct {
	Total        int       `json:"total"`
	SuccessCount int       `json:"successCount"`
	FailureCount int       `json:"failureCount"`
	Created      []Outcome `json:"created"`
	Deferred     []Outcome `json:"deferred"`
	ChannelID    string    `json:"channelId"`
	ThreadTS     string    `json:"threadTs"`
}

// BuildSummary splits successes into written and withheld subsets.
func BuildSummary(c Classified, channelID, threadTS string) Summary {
	s := Summary{
		Total:        c.Total,
		SuccessCount: len(c.Successes),
		FailureCount: len(c.Failures),
		ChannelID:    channelID,
		ThreadTS:     threadTS,
	}
	for _, o := range c.Successes {
		if o.Data != nil && o.Data.MayBeDuplicate {
			s.Deferred = append(s.Deferred, o)
		} else {
			s.Created = append(s.Created, o)
		}
	}
	return s
}
