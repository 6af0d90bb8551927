package wol

import (
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/mvollmer/nasmirror/internal/models"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mockWOLClient struct {
	wakeFunc func(broadcastIP string, mac net.HardwareAddr) error
}

func (m *mockWOLClient) Wake(broadcastIP string, mac net.HardwareAddr) error {
	if m.wakeFunc != nil {
		return m.wakeFunc(broadcastIP, mac)
	}
	return nil
}

type mockHTTPClient struct {
	doFunc func(req *http.Request) (*http.Response, error)
}

func (m *mockHTTPClient) Do(req *http.Request) (*http.Response, error) {
	if m.doFunc != nil {
		return m.doFunc(req)
	}
	return &http.Response{
		StatusCode: http.StatusOK,
		Body:       io.NopCloser(strings.NewReader("")),
	}, nil
}

func testLogger() zerolog.Logger {
	return zerolog.New(io.Discard)
}

func TestWake_PacketOnly(t *testing.T) {
	var capturedBroadcast string
	var capturedMAC net.HardwareAddr

	wolClient := &mockWOLClient{
		wakeFunc: func(broadcastIP string, mac net.HardwareAddr) error {
			capturedBroadcast = broadcastIP
			capturedMAC = mac
			return nil
		},
	}

	svc := NewWithClients(testLogger(), wolClient, &mockHTTPClient{})
	cfg := models.WOLConfig{
		MACAddress:  "AA:BB:CC:DD:EE:FF",
		BroadcastIP: "192.168.1.255",
	}

	result, err := svc.Wake(context.Background(), cfg)

	require.NoError(t, err)
	assert.Nil(t, result.Error)
	assert.True(t, result.PacketSent)
	assert.True(t, result.TargetReady)
	assert.Equal(t, "192.168.1.255", capturedBroadcast)
	assert.Equal(t, "aa:bb:cc:dd:ee:ff", capturedMAC.String())
}

func TestWake_InvalidMAC(t *testing.T) {
	svc := NewWithClients(testLogger(), &mockWOLClient{}, &mockHTTPClient{})
	cfg := models.WOLConfig{
		MACAddress:  "not-a-mac",
		BroadcastIP: "192.168.1.255",
	}

	result, err := svc.Wake(context.Background(), cfg)

	require.NoError(t, err)
	require.Error(t, result.Error)
	assert.False(t, result.PacketSent)
}

func TestWake_SendFails(t *testing.T) {
	wolClient := &mockWOLClient{
		wakeFunc: func(broadcastIP string, mac net.HardwareAddr) error {
			return errors.New("network unreachable")
		},
	}

	svc := NewWithClients(testLogger(), wolClient, &mockHTTPClient{})
	cfg := models.WOLConfig{
		MACAddress:  "AA:BB:CC:DD:EE:FF",
		BroadcastIP: "192.168.1.255",
	}

	result, err := svc.Wake(context.Background(), cfg)

	require.NoError(t, err)
	require.Error(t, result.Error)
	assert.False(t, result.PacketSent)
}

func TestWake_PollsUntilReady(t *testing.T) {
	attempts := 0
	httpClient := &mockHTTPClient{
		doFunc: func(req *http.Request) (*http.Response, error) {
			attempts++
			if attempts < 3 {
				return nil, errors.New("connection refused")
			}
			return &http.Response{
				StatusCode: http.StatusOK,
				Body:       io.NopCloser(strings.NewReader("")),
			}, nil
		},
	}

	svc := NewWithClients(testLogger(), &mockWOLClient{}, httpClient)
	cfg := models.WOLConfig{
		MACAddress:   "AA:BB:CC:DD:EE:FF",
		BroadcastIP:  "192.168.1.255",
		PollURL:      "http://192.168.1.10:5000",
		Timeout:      5 * time.Second,
		PollInterval: 10 * time.Millisecond,
	}

	result, err := svc.Wake(context.Background(), cfg)

	require.NoError(t, err)
	assert.Nil(t, result.Error)
	assert.True(t, result.TargetReady)
	assert.Equal(t, 3, attempts)
}

func TestWake_PollTimeout(t *testing.T) {
	httpClient := &mockHTTPClient{
		doFunc: func(req *http.Request) (*http.Response, error) {
			return nil, errors.New("connection refused")
		},
	}

	svc := NewWithClients(testLogger(), &mockWOLClient{}, httpClient)
	cfg := models.WOLConfig{
		MACAddress:   "AA:BB:CC:DD:EE:FF",
		BroadcastIP:  "192.168.1.255",
		PollURL:      "http://192.168.1.10:5000",
		Timeout:      50 * time.Millisecond,
		PollInterval: 10 * time.Millisecond,
	}

	result, err := svc.Wake(context.Background(), cfg)

	require.NoError(t, err)
	require.Error(t, result.Error)
	assert.False(t, result.TargetReady)
	assert.Contains(t, result.Error.Error(), "timeout")
}

func TestWake_ContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	httpClient := &mockHTTPClient{
		doFunc: func(req *http.Request) (*http.Response, error) {
			return nil, errors.New("connection refused")
		},
	}

	svc := NewWithClients(testLogger(), &mockWOLClient{}, httpClient)
	cfg := models.WOLConfig{
		MACAddress:   "AA:BB:CC:DD:EE:FF",
		BroadcastIP:  "192.168.1.255",
		PollURL:      "http://192.168.1.10:5000",
		Timeout:      5 * time.Second,
		PollInterval: 10 * time.Millisecond,
	}

	result, err := svc.Wake(ctx, cfg)

	require.NoError(t, err)
	require.Error(t, result.Error)
	assert.False(t, result.TargetReady)
}
