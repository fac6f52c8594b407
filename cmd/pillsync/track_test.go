package main

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/brewtap/pillsync/internal/session"
)

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)
	return logger
}

func TestPrintStatusTableEmpty(t *testing.T) {
	var buf bytes.Buffer
	printStatusTable(&buf, session.NewRegistry(testLogger(), nil))
	assert.Contains(t, buf.String(), "No sessions")
}

func TestPrintStatusTable(t *testing.T) {
	registry := session.NewRegistry(testLogger(), nil)
	handle, err := registry.Add(session.Config{
		BrewName:     "Cyser",
		PillName:     "Cellar Pill",
		MacAddress:   "AA:BB:CC:DD:EE:FF",
		PollInterval: 30 * time.Second,
		Celsius:      true,
	}, nil)
	require.NoError(t, err)

	var buf bytes.Buffer
	printStatusTable(&buf, registry)
	out := buf.String()
	assert.Contains(t, out, "BREW")
	assert.Contains(t, out, "Cyser")
	assert.Contains(t, out, "Cellar Pill")
	assert.Contains(t, out, "local")
	// no telemetry yet, readings show as placeholders
	assert.Contains(t, out, "-")

	require.NoError(t, registry.Start(context.Background(), handle))
	require.NoError(t, registry.Stop(handle))
}
