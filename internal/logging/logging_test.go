package logging

import (
	"testing"

	"go.uber.org/zap/zapcore"
)

func TestNew_Levels(t *testing.T) {
	testCases := []struct {
		level string
		want  zapcore.Level
	}{
		{"debug", zapcore.DebugLevel},
		{"INFO", zapcore.InfoLevel},
		{"warn", zapcore.WarnLevel},
		{"error", zapcore.ErrorLevel},
		{"bogus", zapcore.InfoLevel},
	}
	for _, tc := range testCases {
		logger := New(tc.level, "development")
		if !logger.Core().Enabled(tc.want) {
			t.Errorf("%s: level %v should be enabled", tc.level, tc.want)
		}
		if tc.want > zapcore.DebugLevel && logger.Core().Enabled(tc.want-1) {
			t.Errorf("%s: level %v should be disabled", tc.level, tc.want-1)
		}
	}
}

func TestOrNop(t *testing.T) {
	if OrNop(nil) == nil {
		t.Fatal("OrNop(nil) returned nil")
	}
	l := New("info", "production")
	if OrNop(l) != l {
		t.Error("OrNop should return the given logger")
	}
	if WithComponent(nil, "threat") == nil {
		t.Error("WithComponent(nil) returned nil")
	}
}
