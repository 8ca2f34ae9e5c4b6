package mq

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/syntrixbase/stagehand/pkg/model"
)

func TestSubjects(t *testing.T) {
	assert.Equal(t, "sh.core", CoreSubject("sh"))
	assert.Equal(t, "sh.stage.tika.abc", StageSubject("sh", "tika", "abc"))
}

func TestStageFromReplyTo(t *testing.T) {
	tests := []struct {
		replyTo string
		stage   string
		ok      bool
	}{
		{"sh.stage.tika.abc", "tika", true},
		{"sh.stage.tika.abc.def", "tika", true},
		{"sh.stage.tika", "", false},
		{"sh.stage.tika.", "", false},
		{"other.stage.tika.abc", "", false},
		{"sh.core", "", false},
		{"", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.replyTo, func(t *testing.T) {
			stage, ok := StageFromReplyTo("sh", tt.replyTo)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.stage, stage)
		})
	}
}

func TestMarkType(t *testing.T) {
	assert.Equal(t, "mark.processed", MarkType(model.StatusProcessed))
	assert.Equal(t, "mark.pending", MarkType(model.StatusPending))
	assert.Equal(t, "mark.failed", typeLabel("mark.FAILED"))
	assert.Equal(t, "unknown", typeLabel("mark.done"))
	assert.Equal(t, "claim", typeLabel(TypeClaim))
}
