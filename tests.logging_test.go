package main

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/julienschmidt/httprouter"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func TestLogFilePath(t *testing.T) {
	config := &Config{IsProduction: true}
	config.Registry.Backend = BackendBolt
	assert.Equal(t, "registry.bolt.prod", LogFilePrefix(config))
	path := LogFilePath("logs", LogFilePrefix(config), NewMockClocker().Now())
	assert.Equal(t, filepath.Join("logs", "registry.bolt.prod.20230702.000000.log"), path)
}

func TestLogFileWriter_Rotation(t *testing.T) {
	config := &Config{LogFolder: t.TempDir(), LogMaxSize: 1}
	config.Registry.Backend = BackendFile
	clock := NewMockClocker()
	writer := NewLogFileWriter(config, clock)
	defer writer.Close()

	_, err := writer.Write(make([]byte, megabyte+1))
	assert.Error(t, err)

	n, err := writer.Write(bytes.Repeat([]byte("a"), megabyte-10))
	require.NoError(t, err)
	assert.Equal(t, megabyte-10, n)

	clock.MockNow = clock.MockNow.Add(time.Second)
	_, err = writer.Write(bytes.Repeat([]byte("b"), 20))
	require.NoError(t, err)
	require.NoError(t, writer.Sync())

	entries, err := os.ReadDir(config.LogFolder)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "registry.file.dev.20230702.000000.log", entries[0].Name())
	assert.Equal(t, "registry.file.dev.20230702.000001.log", entries[1].Name())
}

func TestSetupLogging_BaseFields(t *testing.T) {
	config := &Config{IsProduction: true, LogLevel: zapcore.InfoLevel, GitTag: "v1.0.0"}
	config.Registry.Backend = BackendRedis
	config.Registry.DefaultAccount = "main"
	var buf bytes.Buffer
	logger, flush := SetupLogging(config, zapcore.AddSync(&buf), NewTickClock(NewMockClocker()))
	logger.Debug("hidden")
	logger.Info("loaded", zap.Int("books", 2))
	require.NoError(t, flush())

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 1)
	entry := map[string]interface{}{}
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &entry))
	assert.Equal(t, "loaded", entry["msg"])
	assert.Equal(t, "registry", entry["name"])
	assert.Equal(t, "v1.0.0", entry["app.tag"])
	assert.Equal(t, "redis", entry["registry.backend"])
	assert.Equal(t, "main", entry["registry.default_account"])
	assert.Equal(t, float64(2), entry["books"])
}

func TestCoreMiddleware_RequestLogger(t *testing.T) {
	registry, _, _ := newTestRegistry(t, nil, nil)
	api := NewAPIHandler(zap.NewNop(), nil, &Statistics{started: NewMockClocker().Now()}, NewMockClocker(), NewMockUIDHandler("abc", true), registry, nil, nil)

	var logger *zap.Logger
	api.CoreMiddleware(func(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
		logger = api.GetLoggerFromContext(r.Context())
	})(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/v1/books", nil), nil)
	require.NotNil(t, logger)
	assert.NotSame(t, api.logger, logger)

	req := httptest.NewRequest(http.MethodGet, "/v1/books", nil)
	assert.Same(t, api.logger, api.GetLoggerFromContext(req.Context()))
}

func TestStatusRecorder(t *testing.T) {
	w := httptest.NewRecorder()
	sr := newStatusRecorder(w, nil)
	_, err := sr.Write([]byte("ok"))
	require.NoError(t, err)
	sr.WriteHeader(http.StatusTeapot)
	assert.Equal(t, http.StatusOK, sr.Status())
	assert.Equal(t, http.StatusOK, w.Code)
	assert.ErrorIs(t, http.NewResponseController(sr).SetWriteDeadline(NewMockClocker().Now()), http.ErrNotSupported)
}
