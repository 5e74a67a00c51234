package queue_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"runwarden/internal/queue"
)

func TestRunMessage_Validate(t *testing.T) {
	tests := []struct {
		name        string
		message     queue.RunMessage
		expectError bool
	}{
		{"launch", queue.RunMessage{RunID: "r1", Reason: queue.ReasonLaunch}, false},
		{"resume", queue.RunMessage{RunID: "r1", Reason: queue.ReasonResume}, false},
		{"missing run id", queue.RunMessage{Reason: queue.ReasonLaunch}, true},
		{"unknown reason", queue.RunMessage{RunID: "r1", Reason: "retry"}, true},
		{"empty", queue.RunMessage{}, true},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			err := test.message.Validate()
			if test.expectError {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}
