package logging

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Logger is the process-wide logger. It is usable before Init with logrus
// defaults.
var Logger = logrus.New()

var once sync.Once

// LineFormatter writes one line per entry with a generated event id.
type LineFormatter struct {
	SystemName string
}

// Format implements logrus.Formatter.
func (f *LineFormatter) Format(entry *logrus.Entry) ([]byte, error) {
	b := entry.Buffer
	if b == nil {
		b = &bytes.Buffer{}
	}

	fmt.Fprintf(b, "%s source=%s level=%s event=%s msg=%q",
		entry.Time.Format("2006-01-02T15:04:05.000Z07:00"),
		f.SystemName,
		strings.ToUpper(entry.Level.String()),
		uuid.NewString(),
		entry.Message,
	)
	keys := make([]string, 0, len(entry.Data))
	for key := range entry.Data {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	for _, key := range keys {
		fmt.Fprintf(b, " %s=%v", key, entry.Data[key])
	}
	if entry.HasCaller() {
		fmt.Fprintf(b, " caller=%s:%d", filepath.Base(entry.Caller.File), entry.Caller.Line)
	}
	b.WriteByte('\n')
	return b.Bytes(), nil
}

// Init configures Logger once. An empty file logs to stdout; otherwise output
// goes to a rotating file.
func Init(file, level string) {
	once.Do(func() {
		var out io.Writer = os.Stdout
		if file != "" {
			if dir := filepath.Dir(file); dir != "." {
				if err := os.MkdirAll(dir, 0o700); err != nil {
					logrus.Fatalf("create log dir %q: %v", dir, err)
				}
			}
			out = &lumberjack.Logger{
				Filename:   file,
				MaxSize:    10, // megabytes
				MaxBackups: 3,
				MaxAge:     28, // days
				Compress:   true,
			}
		}

		Logger.SetOutput(out)
		Logger.SetFormatter(&LineFormatter{SystemName: "tasklist"})
		Logger.SetReportCaller(true)

		lvl, err := logrus.ParseLevel(level)
		if err != nil {
			lvl = logrus.InfoLevel
			Logger.Warnf("unknown log level %q, using info", level)
		}
		Logger.SetLevel(lvl)
		Logger.Infof("logger initialized level=%s file=%q", lvl, file)
	})
}
