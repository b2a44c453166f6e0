package discovery

import (
    "bufio"
    "context"
    "os"
    "path/filepath"
    "strings"
    "sync"
    "time"
)

// File reads seeds from a file (one per line or comma-separated, # comments)
// or from every file matching a glob. A non-empty environment variable Env
// takes precedence over the file.
type File struct {
    path    string
    env     string
    refresh time.Duration

    mu       sync.Mutex
    loadedAt time.Time
    modTime  time.Time
    cache    []string
}

func NewFile(path, env string, refresh time.Duration) *File {
    if refresh <= 0 { refresh = 5 * time.Second }
    return &File{path: path, env: env, refresh: refresh}
}

func (f *File) Seeds(context.Context) ([]string, error) {
    if f.env != "" {
        if v := strings.TrimSpace(os.Getenv(f.env)); v != "" { return dedupSorted(ParseList(v)), nil }
    }
    if f.path == "" { return nil, nil }
    f.mu.Lock()
    defer f.mu.Unlock()

    now := time.Now()
    if st, err := os.Stat(f.path); err == nil {
        if st.ModTime().After(f.modTime) || now.Sub(f.loadedAt) >= f.refresh {
            seeds, err := readSeedFile(f.path)
            if err != nil { return nil, err }
            f.cache, f.loadedAt, f.modTime = seeds, now, st.ModTime()
        }
        return append([]string(nil), f.cache...), nil
    }

    if now.Sub(f.loadedAt) < f.refresh && f.cache != nil { return append([]string(nil), f.cache...), nil }
    matches, err := filepath.Glob(f.path)
    if err != nil { return nil, err }
    var all []string
    for _, m := range matches {
        seeds, err := readSeedFile(m)
        if err != nil { return nil, err }
        all = append(all, seeds...)
    }
    f.cache, f.loadedAt = dedupSorted(all), now
    return append([]string(nil), f.cache...), nil
}

func readSeedFile(path string) ([]string, error) {
    fh, err := os.Open(path)
    if err != nil { return nil, err }
    defer fh.Close()
    var seeds []string
    sc := bufio.NewScanner(fh)
    for sc.Scan() {
        line := strings.TrimSpace(sc.Text())
        if line == "" || strings.HasPrefix(line, "#") { continue }
        seeds = append(seeds, ParseList(line)...)
    }
    if err := sc.Err(); err != nil { return nil, err }
    return dedupSorted(seeds), nil
}
