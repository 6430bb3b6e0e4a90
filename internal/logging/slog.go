// Package logging provides a colorized, human-readable slog.Handler used
// in place of the default text/JSON handlers for interactive terminal use.
package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"time"

	"github.com/fatih/color"
)

var lineBufPool = sync.Pool{
	New: func() interface{} { return new(bytes.Buffer) },
}

// PrettyHandlerOptions configures a PrettyHandler's rendering.
type PrettyHandlerOptions struct {
	SlogOpts         slog.HandlerOptions
	UseColor         bool
	ShowSource       bool
	FullSource       bool
	TimeFormat       string
	LevelWidth       int
	DisableTimestamp bool
	FieldSeparator   string
	MaxFieldLength   int
}

func DefaultOptions() PrettyHandlerOptions {
	return PrettyHandlerOptions{
		SlogOpts:         slog.HandlerOptions{Level: slog.LevelInfo},
		UseColor:         true,
		ShowSource:       false,
		FullSource:       false,
		TimeFormat:       time.RFC3339,
		LevelWidth:       7,
		DisableTimestamp: false,
		FieldSeparator:   " | ",
		MaxFieldLength:   0,
	}
}

// palette holds the Sprint-style color functions a PrettyHandler paints a
// line with. Constructing one with UseColor false yields the identity
// function everywhere, so Handle never needs to branch on color itself.
type palette struct {
	time    func(...any) string
	message func(...any) string
	source  func(...any) string
	fields  func(...any) string
	errTag  func(...any) string
	byLevel map[slog.Level]func(...any) string
}

func newPalette(useColor bool) palette {
	if !useColor {
		plain := func(a ...any) string { return fmt.Sprint(a...) }
		return palette{
			time: plain, message: plain, source: plain, fields: plain, errTag: plain,
			byLevel: map[slog.Level]func(...any) string{
				slog.LevelDebug: plain, slog.LevelInfo: plain, slog.LevelWarn: plain, slog.LevelError: plain,
			},
		}
	}

	return palette{
		time:    color.New(color.FgHiBlack).SprintFunc(),
		message: color.New(color.FgCyan).SprintFunc(),
		source:  color.New(color.FgHiBlack).SprintFunc(),
		fields:  color.New(color.FgWhite).SprintFunc(),
		errTag:  color.New(color.FgRed, color.Bold).SprintFunc(),
		byLevel: map[slog.Level]func(...any) string{
			slog.LevelDebug: color.New(color.FgMagenta).SprintFunc(),
			slog.LevelInfo:  color.New(color.FgBlue).SprintFunc(),
			slog.LevelWarn:  color.New(color.FgYellow).SprintFunc(),
			slog.LevelError: color.New(color.FgRed).SprintFunc(),
		},
	}
}

func (p palette) level(l slog.Level) func(...any) string {
	if f, ok := p.byLevel[l]; ok {
		return f
	}
	if l > slog.LevelError {
		return p.errTag
	}
	return func(a ...any) string { return fmt.Sprint(a...) }
}

// field is one resolved attribute, keyed by its dotted group path (e.g.
// "peer.addr"), in the order it was logged.
type field struct {
	key   string
	value any
}

// PrettyHandler is an slog.Handler that renders one colorized, human-
// readable line per record, with any attributes appended as a JSON object.
type PrettyHandler struct {
	opts    PrettyHandlerOptions
	writer  io.Writer
	mu      *sync.Mutex
	pal     palette
	prefix  string // dotted group path inherited via WithGroup
	carried []field
}

func NewPrettyHandler(w io.Writer, opts *PrettyHandlerOptions) *PrettyHandler {
	if opts == nil {
		defaultOpts := DefaultOptions()
		opts = &defaultOpts
	}
	if opts.TimeFormat == "" {
		opts.TimeFormat = time.RFC3339
	}
	if opts.LevelWidth < 5 {
		opts.LevelWidth = 7
	}
	if opts.FieldSeparator == "" {
		opts.FieldSeparator = " | "
	}

	return &PrettyHandler{
		opts:   *opts,
		writer: w,
		mu:     &sync.Mutex{},
		pal:    newPalette(opts.UseColor),
	}
}

func (h *PrettyHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.opts.SlogOpts.Level.Level()
}

func (h *PrettyHandler) Handle(_ context.Context, r slog.Record) error {
	buf := lineBufPool.Get().(*bytes.Buffer)
	defer func() {
		buf.Reset()
		lineBufPool.Put(buf)
	}()

	sep := h.opts.FieldSeparator

	if !h.opts.DisableTimestamp {
		buf.WriteString(h.pal.time(r.Time.Format(h.opts.TimeFormat)))
		buf.WriteString(sep)
	}

	buf.WriteString(h.formatLevel(r.Level))
	buf.WriteString(sep)

	if h.opts.ShowSource {
		if source := h.extractSource(r.PC); source != "" {
			buf.WriteString(h.pal.source(source))
			buf.WriteString(sep)
		}
	}

	buf.WriteString(h.pal.message(r.Message))

	fields := h.collectFields(r)
	if len(fields) > 0 {
		buf.WriteString(sep)
		if err := h.writeFields(buf, fields); err != nil {
			fmt.Fprintf(buf, "(error formatting attributes: %v)", err)
		}
	}

	buf.WriteByte('\n')

	h.mu.Lock()
	defer h.mu.Unlock()
	_, err := h.writer.Write(buf.Bytes())
	return err
}

func (h *PrettyHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	if len(attrs) == 0 {
		return h
	}

	added := make([]field, 0, len(attrs))
	for _, a := range attrs {
		added = appendField(added, h.prefix, a, h.opts)
	}

	nh := *h
	nh.carried = append(append([]field(nil), h.carried...), added...)
	return &nh
}

func (h *PrettyHandler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}

	nh := *h
	if h.prefix == "" {
		nh.prefix = name
	} else {
		nh.prefix = h.prefix + "." + name
	}
	return &nh
}

func (h *PrettyHandler) formatLevel(level slog.Level) string {
	levelStr := strings.ToUpper(level.String())
	if h.opts.LevelWidth > 0 {
		levelStr = fmt.Sprintf("%-*s", h.opts.LevelWidth, levelStr)
	}
	return h.pal.level(level)(levelStr)
}

func (h *PrettyHandler) extractSource(pc uintptr) string {
	if pc == 0 {
		return ""
	}

	frames := runtime.CallersFrames([]uintptr{pc})
	frame, _ := frames.Next()
	if frame.Function == "" {
		return ""
	}

	file := frame.File
	if !h.opts.FullSource {
		file = filepath.Base(file)
	}
	return fmt.Sprintf("%s:%d", file, frame.Line)
}

// collectFields flattens carried and record attributes into field order,
// expanding nested slog groups into dotted keys instead of nested maps.
func (h *PrettyHandler) collectFields(r slog.Record) []field {
	fields := append([]field(nil), h.carried...)

	r.Attrs(func(a slog.Attr) bool {
		fields = appendField(fields, h.prefix, a, h.opts)
		return true
	})

	return fields
}

// appendField resolves attr (expanding groups recursively under prefix)
// and appends the result to fields, which it returns.
func appendField(fields []field, prefix string, attr slog.Attr, opts PrettyHandlerOptions) []field {
	value := attr.Value.Resolve()
	key := attr.Key
	if prefix != "" {
		key = prefix + "." + key
	}

	if value.Kind() == slog.KindGroup {
		for _, ga := range value.Group() {
			fields = appendField(fields, key, ga, opts)
		}
		return fields
	}

	var v any
	switch value.Kind() {
	case slog.KindTime:
		v = value.Time().Format(opts.TimeFormat)
	case slog.KindDuration:
		v = value.Duration().String()
	default:
		v = value.Any()
		if opts.MaxFieldLength > 0 {
			if s, ok := v.(string); ok && len(s) > opts.MaxFieldLength {
				v = s[:opts.MaxFieldLength] + "..."
			}
		}
	}

	return append(fields, field{key: key, value: v})
}

func (h *PrettyHandler) writeFields(buf *bytes.Buffer, fields []field) error {
	m := make(map[string]any, len(fields))
	for _, f := range fields {
		m[f.key] = f.value
	}

	var jsonBuf bytes.Buffer
	encoder := json.NewEncoder(&jsonBuf)
	encoder.SetEscapeHTML(false)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(m); err != nil {
		return err
	}

	result := bytes.TrimRight(jsonBuf.Bytes(), "\n")
	buf.WriteString(h.pal.fields(string(result)))
	return nil
}
