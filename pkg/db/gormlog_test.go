package db

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/angelmondragon/catalog-media/pkg/logger"
)

func TestQueryLogTrace(t *testing.T) {
	stmt := func() (string, int64) { return `SELECT * FROM "image_blobs"`, 2 }
	cases := []struct {
		name    string
		level   gormlogger.LogLevel
		elapsed time.Duration
		err     error
		want    string
	}{
		{"fast query is quiet", gormlogger.Warn, time.Millisecond, nil, ""},
		{"slow query warns", gormlogger.Warn, time.Second, nil, `"message":"slow query"`},
		{"failure at debug", gormlogger.Warn, time.Millisecond, errors.New("deadlock"), `"message":"query failed"`},
		{"not found is quiet", gormlogger.Warn, time.Millisecond, gorm.ErrRecordNotFound, ""},
		{"silent drops slow queries", gormlogger.Silent, time.Second, nil, ""},
		{"info traces everything", gormlogger.Info, time.Millisecond, nil, `"message":"query"`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			buf := &bytes.Buffer{}
			logg := logger.New(logger.Options{ServiceName: "test", Level: zerolog.DebugLevel, Output: buf})
			q := newQueryLog(logg, 100*time.Millisecond).LogMode(tc.level)

			q.Trace(context.Background(), time.Now().Add(-tc.elapsed), stmt, tc.err)
			got := buf.String()
			if tc.want == "" {
				if got != "" {
					t.Fatalf("expected no entry, got %s", got)
				}
				return
			}
			if !strings.Contains(got, tc.want) || !strings.Contains(got, `"rows":2`) {
				t.Fatalf("expected %s with rows, got %s", tc.want, got)
			}
		})
	}
}

func TestQueryLogWithoutLogger(t *testing.T) {
	if newQueryLog(nil, time.Second) != gormlogger.Discard {
		t.Fatal("nil logger should discard gorm output")
	}
}
