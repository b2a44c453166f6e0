package logutil

import (
    "encoding/json"
    "fmt"
    "log"
    "os"
    "sync/atomic"
    "time"
)

var jsonMode atomic.Bool

func init() {
    if os.Getenv("READINESS_LOG_JSON") == "1" || os.Getenv("READINESS_LOG_FORMAT") == "json" {
        jsonMode.Store(true)
    }
}

func SetJSON(enabled bool) { jsonMode.Store(enabled) }

func Infof(l *log.Logger, f string, args ...any)  { logf(l, "info", f, args...) }
func Warnf(l *log.Logger, f string, args ...any)  { logf(l, "warn", f, args...) }
func Errorf(l *log.Logger, f string, args ...any) { logf(l, "error", f, args...) }

func logf(l *log.Logger, level, f string, args ...any) {
    if l == nil { l = log.Default() }
    msg := fmt.Sprintf(f, args...)
    if jsonMode.Load() {
        b, _ := json.Marshal(map[string]any{
            "ts":    time.Now().UTC().Format(time.RFC3339Nano),
            "level": level,
            "msg":   msg,
        })
        l.Println(string(b))
        return
    }
    switch level {
    case "info":
        l.Print("INFO ", msg)
    case "warn":
        l.Print("WARN ", msg)
    default:
        l.Print("ERROR ", msg)
    }
}
