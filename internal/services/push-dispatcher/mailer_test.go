package dispatcher

import (
	"bytes"
	"context"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/gomail.v2"
)

func TestMailerBuildsMessage(t *testing.T) {
	var from string
	var to []string
	var raw bytes.Buffer
	m := NewMailerWithSender(SMTPConfig{From: "noreply@campusbell.dev", SubjPrefix: "[Campusbell]"},
		gomail.SendFunc(func(f string, t []string, msg io.WriterTo) error {
			from, to = f, t
			_, err := msg.WriteTo(&raw)
			return err
		}))

	require.NoError(t, m.Send(context.Background(), "ada@college.edu", "Hackathon moved", "Now in room 5"))

	assert.Equal(t, "noreply@campusbell.dev", from)
	assert.Equal(t, []string{"ada@college.edu"}, to)
	assert.Contains(t, raw.String(), "Subject: [Campusbell] Hackathon moved")
	assert.Contains(t, raw.String(), "Now in room 5")
}

func TestMailerHonoursCanceledContext(t *testing.T) {
	m := NewMailerWithSender(SMTPConfig{From: "a@b.c"}, gomail.SendFunc(func(string, []string, io.WriterTo) error {
		t.Fatal("must not send")
		return nil
	}))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.ErrorIs(t, m.Send(ctx, "x@y.z", "s", "b"), context.Canceled)
}
