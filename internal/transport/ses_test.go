package transport

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	sesv2 "github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// mockSESClient implements SendEmailAPI for testing.
type mockSESClient struct {
	err       error
	callCount int
	lastInput *sesv2.SendEmailInput
}

func (m *mockSESClient) SendEmail(_ context.Context, params *sesv2.SendEmailInput, _ ...func(*sesv2.Options)) (*sesv2.SendEmailOutput, error) {
	m.callCount++
	m.lastInput = params
	if m.err != nil {
		return nil, m.err
	}
	return &sesv2.SendEmailOutput{MessageId: aws.String("test-message-id")}, nil
}

func TestSES_Send(t *testing.T) {
	mock := &mockSESClient{}
	s := NewSESWithClient(mock)
	s.now = func() time.Time { return testDate }

	err := s.Send(context.Background(), &Message{
		From:    "me@example.com",
		To:      "alice@x.com",
		Subject: "Hello",
		Body:    "Hi Alice",
	})
	require.NoError(t, err)

	require.Equal(t, 1, mock.callCount)
	in := mock.lastInput
	assert.Equal(t, "me@example.com", aws.ToString(in.FromEmailAddress))
	assert.Equal(t, []string{"alice@x.com"}, in.Destination.ToAddresses)
	require.NotNil(t, in.Content.Raw)
	assert.Contains(t, string(in.Content.Raw.Data), "Subject: Hello")
}

func TestSES_SendError(t *testing.T) {
	mock := &mockSESClient{err: errors.New("throttled")}
	s := NewSESWithClient(mock)

	err := s.Send(context.Background(), &Message{From: "me@example.com", To: "a@x.com"})
	assert.ErrorContains(t, err, "throttled")
	assert.Equal(t, 1, mock.callCount, "retries belong to the caller")
	assert.Equal(t, "ses", s.Name())
}
