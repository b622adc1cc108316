package tasks

import (
	"encoding/json"
	"testing"
)

func TestQueueForPriority(t *testing.T) {
	tests := []struct {
		priority int
		want     string
	}{
		{priority: 5, want: QueueCritical},
		{priority: 1, want: QueueCritical},
		{priority: 0, want: QueueDefault},
		{priority: -1, want: QueueLow},
	}
	for _, tc := range tests {
		if got := QueueForPriority(tc.priority); got != tc.want {
			t.Errorf("QueueForPriority(%d) = %q, want %q", tc.priority, got, tc.want)
		}
	}
}

func TestNewCardRenderTask(t *testing.T) {
	task, err := NewCardRenderTask(CardRenderPayload{
		JobID:      "job-1",
		TemplateID: 7,
		Record:     map[string]any{"person": map[string]any{"name": "Ada"}},
	})
	if err != nil {
		t.Fatalf("build task: %v", err)
	}
	if task.Type() != TypeCardRender {
		t.Fatalf("task type = %q", task.Type())
	}

	var decoded CardRenderPayload
	if err := json.Unmarshal(task.Payload(), &decoded); err != nil {
		t.Fatalf("decode payload: %v", err)
	}
	if decoded.JobID != "job-1" || decoded.TemplateID != 7 {
		t.Fatalf("payload roundtrip lost fields: %+v", decoded)
	}
}

func TestSignalKeys(t *testing.T) {
	if CancelKey("abc") != "render:cancel:abc" {
		t.Fatalf("cancel key = %q", CancelKey("abc"))
	}
	if NotifyChannel("abc") != "render_notify:abc" {
		t.Fatalf("notify channel = %q", NotifyChannel("abc"))
	}
}
