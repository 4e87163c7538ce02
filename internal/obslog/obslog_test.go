package obslog

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/sirupsen/logrus"
)

func TestNewDefaultsToInfoOnBadLevel(t *testing.T) {
	l := New("daemon", "not-a-level", "json")
	if l.Logger.GetLevel() != logrus.InfoLevel {
		t.Errorf("level = %v, want InfoLevel", l.Logger.GetLevel())
	}
}

func TestNewParsesLevel(t *testing.T) {
	l := New("daemon", "debug", "json")
	if l.Logger.GetLevel() != logrus.DebugLevel {
		t.Errorf("level = %v, want DebugLevel", l.Logger.GetLevel())
	}
}

func TestNewTextFormatterSelected(t *testing.T) {
	l := New("daemon", "info", "text")
	if _, ok := l.Logger.Formatter.(*logrus.TextFormatter); !ok {
		t.Errorf("formatter = %T, want *logrus.TextFormatter", l.Logger.Formatter)
	}
}

func TestNewJSONFormatterIsDefault(t *testing.T) {
	l := New("daemon", "info", "")
	if _, ok := l.Logger.Formatter.(*logrus.JSONFormatter); !ok {
		t.Errorf("formatter = %T, want *logrus.JSONFormatter", l.Logger.Formatter)
	}
}

func TestNewFromEnvDefaults(t *testing.T) {
	t.Setenv("LWM2MD_LOG_LEVEL", "")
	t.Setenv("LWM2MD_LOG_FORMAT", "")
	l := NewFromEnv("daemon")
	if l.Logger.GetLevel() != logrus.InfoLevel {
		t.Errorf("level = %v, want InfoLevel", l.Logger.GetLevel())
	}
	if _, ok := l.Logger.Formatter.(*logrus.JSONFormatter); !ok {
		t.Errorf("formatter = %T, want *logrus.JSONFormatter", l.Logger.Formatter)
	}
}

func TestNewFromEnvHonorsOverrides(t *testing.T) {
	t.Setenv("LWM2MD_LOG_LEVEL", "warn")
	t.Setenv("LWM2MD_LOG_FORMAT", "text")
	l := NewFromEnv("daemon")
	if l.Logger.GetLevel() != logrus.WarnLevel {
		t.Errorf("level = %v, want WarnLevel", l.Logger.GetLevel())
	}
	if _, ok := l.Logger.Formatter.(*logrus.TextFormatter); !ok {
		t.Errorf("formatter = %T, want *logrus.TextFormatter", l.Logger.Formatter)
	}
}

func TestWithContextAttachesPresentFields(t *testing.T) {
	var buf bytes.Buffer
	l := New("router", "info", "json")
	l.Logger.SetOutput(&buf)

	ctx := context.WithValue(context.Background(), PeerAddressKey, "10.0.0.1:5683")
	ctx = context.WithValue(ctx, LocationKey, "/rd/1a")
	l.WithContext(ctx).Info("registered")

	var fields map[string]any
	if err := json.Unmarshal(buf.Bytes(), &fields); err != nil {
		t.Fatalf("json.Unmarshal: %v", err)
	}
	if fields["component"] != "router" {
		t.Errorf("component = %v, want router", fields["component"])
	}
	if fields["peer_address"] != "10.0.0.1:5683" {
		t.Errorf("peer_address = %v", fields["peer_address"])
	}
	if fields["location"] != "/rd/1a" {
		t.Errorf("location = %v", fields["location"])
	}
	if _, ok := fields["session_id"]; ok {
		t.Error("expected no session_id field when absent from context")
	}
}

func TestWithContextOmitsAbsentFields(t *testing.T) {
	var buf bytes.Buffer
	l := New("router", "info", "json")
	l.Logger.SetOutput(&buf)

	l.WithContext(context.Background()).Info("no fields")

	var fields map[string]any
	if err := json.Unmarshal(buf.Bytes(), &fields); err != nil {
		t.Fatalf("json.Unmarshal: %v", err)
	}
	for _, k := range []string{"peer_address", "location", "session_id"} {
		if _, ok := fields[k]; ok {
			t.Errorf("unexpected field %q in %v", k, fields)
		}
	}
}

func TestWithPathTagsPath(t *testing.T) {
	var buf bytes.Buffer
	l := New("router", "info", "json")
	l.Logger.SetOutput(&buf)

	l.WithPath("/3/0/1").Info("read")

	var fields map[string]any
	if err := json.Unmarshal(buf.Bytes(), &fields); err != nil {
		t.Fatalf("json.Unmarshal: %v", err)
	}
	if fields["path"] != "/3/0/1" {
		t.Errorf("path = %v, want /3/0/1", fields["path"])
	}
}

func TestWithErrorTagsError(t *testing.T) {
	var buf bytes.Buffer
	l := New("router", "info", "json")
	l.Logger.SetOutput(&buf)

	l.WithError(errors.New("boom")).Error("write failed")

	var fields map[string]any
	if err := json.Unmarshal(buf.Bytes(), &fields); err != nil {
		t.Fatalf("json.Unmarshal: %v", err)
	}
	if fields["error"] != "boom" {
		t.Errorf("error = %v, want boom", fields["error"])
	}
}
