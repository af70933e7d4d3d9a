package alert

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNew_FallsBackToNoopWhenUnconfigured(t *testing.T) {
	a := New("", 0)

	_, ok := a.(NoopAlerter)
	assert.True(t, ok)
}

func TestNew_FallsBackToNoopWhenChatIDMissing(t *testing.T) {
	a := New("some-token", 0)

	_, ok := a.(NoopAlerter)
	assert.True(t, ok)
}

func TestNoopAlerter_DoesNotPanic(t *testing.T) {
	var a Alerter = NoopAlerter{}

	assert.NotPanics(t, func() {
		a.Critical(context.Background(), "test critical")
		a.Notice(context.Background(), "test notice")
	})
}
