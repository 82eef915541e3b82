package turnrun

import "github.com/delegate-run/delegate/internal/mailbox"

// MaxBatchSize bounds how many inbox messages one turn processes.
const MaxBatchSize = 5

// selectBatch picks up to MaxBatchSize messages from inbox (assumed
// sorted oldest-first) that share one grouping target, following spec
// §4.8's batching algorithm:
//
//   - The anchor is the earliest message from humanName if any is
//     present in inbox, else the oldest message overall.
//   - The target is the anchor's task_id; if the anchor has no task_id,
//     the target additionally restricts to the anchor's sender (so
//     unrelated non-task chatter from different senders never mixes).
//   - Per-sender eligibility invariant: a sender is only eligible if
//     their own earliest inbox message matches the target — this
//     guarantees a sender's message order is never skipped over.
func selectBatch(inbox []mailbox.Message, humanName string) []mailbox.Message {
	if len(inbox) == 0 {
		return nil
	}

	anchor := inbox[0]
	if humanName != "" {
		for _, m := range inbox {
			if m.Sender == humanName {
				anchor = m
				break
			}
		}
	}

	targetTaskID := anchor.TaskID
	var targetSender string
	restrictSender := targetTaskID == nil
	if restrictSender {
		targetSender = anchor.Sender
	}

	earliestBySender := make(map[string]mailbox.Message)
	for _, m := range inbox {
		if _, ok := earliestBySender[m.Sender]; !ok {
			earliestBySender[m.Sender] = m
		}
	}

	eligible := make(map[string]bool)
	for sender, first := range earliestBySender {
		if !sameTaskID(first.TaskID, targetTaskID) {
			continue
		}
		if restrictSender && first.Sender != targetSender {
			continue
		}
		eligible[sender] = true
	}

	var batch []mailbox.Message
	for _, m := range inbox {
		if !eligible[m.Sender] {
			continue
		}
		if !sameTaskID(m.TaskID, targetTaskID) {
			continue
		}
		if restrictSender && m.Sender != targetSender {
			continue
		}
		batch = append(batch, m)
		if len(batch) >= MaxBatchSize {
			break
		}
	}
	return batch
}

func sameTaskID(a, b *int64) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}
