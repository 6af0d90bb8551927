package telegram

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/mvollmer/nasmirror/internal/models"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mockHTTPClient struct {
	doFunc func(req *http.Request) (*http.Response, error)
}

func (m *mockHTTPClient) Do(req *http.Request) (*http.Response, error) {
	if m.doFunc != nil {
		return m.doFunc(req)
	}
	return &http.Response{
		StatusCode: http.StatusOK,
		Body:       io.NopCloser(strings.NewReader("{}")),
	}, nil
}

func testLogger() zerolog.Logger {
	return zerolog.New(io.Discard)
}

func testConfig() models.TelegramConfig {
	return models.TelegramConfig{
		BotToken: "123456:ABC-DEF",
		ChatID:   "-100123456789",
	}
}

func TestSendNotification_Success(t *testing.T) {
	var capturedRequest *http.Request
	var capturedBody sendMessageRequest

	httpClient := &mockHTTPClient{
		doFunc: func(req *http.Request) (*http.Response, error) {
			capturedRequest = req
			body, _ := io.ReadAll(req.Body)
			_ = json.Unmarshal(body, &capturedBody)
			return &http.Response{
				StatusCode: http.StatusOK,
				Body:       io.NopCloser(strings.NewReader("{\"ok\":true}")),
			}, nil
		},
	}

	svc := NewWithClient(testLogger(), httpClient, "https://api.telegram.org")

	msg := models.TelegramMessage{
		Success:          true,
		NAS:              "192.168.1.10",
		StartTime:        time.Now().Add(-5 * time.Minute),
		Duration:         5 * time.Minute,
		SharesDiscovered: 3,
		SharesMounted:    3,
		ArchivesCreated:  3,
	}

	result, err := svc.SendNotification(context.Background(), testConfig(), msg)

	require.NoError(t, err)
	assert.True(t, result.MessageSent)
	assert.Nil(t, result.Error)

	// Verify request
	assert.Equal(t, http.MethodPost, capturedRequest.Method)
	assert.Contains(t, capturedRequest.URL.String(), "/bot123456:ABC-DEF/sendMessage")
	assert.Equal(t, "application/json", capturedRequest.Header.Get("Content-Type"))

	// Verify body
	assert.Equal(t, "-100123456789", capturedBody.ChatID)
	assert.Equal(t, "HTML", capturedBody.ParseMode)
	assert.Contains(t, capturedBody.Text, "NAS Mirror Successful")
	assert.Contains(t, capturedBody.Text, "Shares discovered: 3")
	assert.Contains(t, capturedBody.Text, "Archives created: 3")
}

func TestSendNotification_FailureMessage(t *testing.T) {
	var capturedBody sendMessageRequest

	httpClient := &mockHTTPClient{
		doFunc: func(req *http.Request) (*http.Response, error) {
			body, _ := io.ReadAll(req.Body)
			_ = json.Unmarshal(body, &capturedBody)
			return &http.Response{
				StatusCode: http.StatusOK,
				Body:       io.NopCloser(strings.NewReader("{}")),
			}, nil
		},
	}

	svc := NewWithClient(testLogger(), httpClient, "https://api.telegram.org")

	msg := models.TelegramMessage{
		Success:      false,
		NAS:          "192.168.1.10",
		StartTime:    time.Now(),
		FailedStep:   "sync",
		ErrorMessage: "rsync exit status 23 <partial>",
	}

	result, err := svc.SendNotification(context.Background(), testConfig(), msg)

	require.NoError(t, err)
	assert.True(t, result.MessageSent)
	assert.Contains(t, capturedBody.Text, "NAS Mirror Failed")
	assert.Contains(t, capturedBody.Text, "Failed step: sync")
	// HTML special characters are escaped
	assert.Contains(t, capturedBody.Text, "&lt;partial&gt;")
}

func TestSendNotification_APIError(t *testing.T) {
	httpClient := &mockHTTPClient{
		doFunc: func(req *http.Request) (*http.Response, error) {
			return &http.Response{
				StatusCode: http.StatusUnauthorized,
				Body:       io.NopCloser(strings.NewReader("{\"ok\":false}")),
			}, nil
		},
	}

	svc := NewWithClient(testLogger(), httpClient, "https://api.telegram.org")

	result, err := svc.SendNotification(context.Background(), testConfig(), models.TelegramMessage{})

	require.NoError(t, err)
	assert.False(t, result.MessageSent)
	require.Error(t, result.Error)
	assert.Contains(t, result.Error.Error(), "401")
}

func TestSendNotification_NetworkError(t *testing.T) {
	httpClient := &mockHTTPClient{
		doFunc: func(req *http.Request) (*http.Response, error) {
			return nil, errors.New("connection refused")
		},
	}

	svc := NewWithClient(testLogger(), httpClient, "https://api.telegram.org")

	result, err := svc.SendNotification(context.Background(), testConfig(), models.TelegramMessage{})

	require.NoError(t, err)
	assert.False(t, result.MessageSent)
	require.Error(t, result.Error)
}

func TestEscapeHTML(t *testing.T) {
	assert.Equal(t, "a &lt;b&gt; &amp;c", escapeHTML("a <b> &c"))
	assert.Equal(t, "plain", escapeHTML("plain"))
}
