// Package ingest turns reverse-proxy access log lines into typed indicator
// inputs: the interpreter normalizes one JSON line, the dispatcher routes
// it to the generator matching the package serving the request.
package ingest

import (
	"encoding/json"
	"strconv"
	"strings"
	"time"
)

const (
	accessLogLevel   = "info"
	accessLogMessage = "handled request"
)

// LogData is one normalized access log entry.
type LogData struct {
	Host        string
	URI         string
	Method      string
	Status      int
	ContentType string // first response Content-Type value, "" if absent
	Ts          time.Time

	// File-manager packages report mutation counts in request headers.
	FilesAdded   *int64
	FilesDeleted *int64
}

type logLine struct {
	Level   string  `json:"level"`
	Msg     string  `json:"msg"`
	Ts      float64 `json:"ts"`
	Status  int     `json:"status"`
	Request struct {
		Host    string              `json:"host"`
		URI     string              `json:"uri"`
		Method  string              `json:"method"`
		Headers map[string][]string `json:"headers"`
	} `json:"request"`
	RespHeaders map[string][]string `json:"resp_headers"`
}

// Interpret parses one proxy log line. It succeeds only for access entries
// (level info, message "handled request") carrying the request fields and a
// timestamp; everything else returns ok=false without error, matching the
// engine's ignore-and-continue parse policy.
func Interpret(line []byte) (LogData, bool) {
	var parsed logLine
	if err := json.Unmarshal(line, &parsed); err != nil {
		return LogData{}, false
	}

	if parsed.Level != accessLogLevel || parsed.Msg != accessLogMessage {
		return LogData{}, false
	}
	if parsed.Request.Host == "" || parsed.Request.URI == "" || parsed.Request.Method == "" || parsed.Ts <= 0 {
		return LogData{}, false
	}

	sec := int64(parsed.Ts)
	nsec := int64((parsed.Ts - float64(sec)) * float64(time.Second))

	return LogData{
		Host:         stripPort(parsed.Request.Host),
		URI:          parsed.Request.URI,
		Method:       parsed.Request.Method,
		Status:       parsed.Status,
		ContentType:  firstHeader(parsed.RespHeaders, "Content-Type"),
		Ts:           time.Unix(sec, nsec).UTC(),
		FilesAdded:   countHeader(parsed.Request.Headers, "X-TFM-Files-Added"),
		FilesDeleted: countHeader(parsed.Request.Headers, "X-TFM-Files-Deleted"),
	}, true
}

func stripPort(host string) string {
	if idx := strings.IndexByte(host, ':'); idx != -1 {
		return host[:idx]
	}
	return host
}

// firstHeader returns the first value of a header, matching names
// case-insensitively since proxies differ in canonicalization.
func firstHeader(headers map[string][]string, name string) string {
	for key, values := range headers {
		if strings.EqualFold(key, name) && len(values) > 0 {
			return values[0]
		}
	}
	return ""
}

// countHeader parses a header as a non-negative integer; nil when absent
// or malformed.
func countHeader(headers map[string][]string, name string) *int64 {
	raw := firstHeader(headers, name)
	if raw == "" {
		return nil
	}
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || n < 0 {
		return nil
	}
	return &n
}
