// Package dump writes point-in-time copies of the bus tables to files, in
// YAML for people or msgpack for tools.
package dump

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/billm/baaaht/softbus/internal/config"
	"github.com/billm/baaaht/softbus/pkg/pipes"
	"github.com/billm/baaaht/softbus/pkg/routing"
	"github.com/billm/baaaht/softbus/pkg/softbus"
	"github.com/billm/baaaht/softbus/pkg/types"
	"github.com/google/uuid"
	"github.com/vmihailenco/msgpack/v5"
	"gopkg.in/yaml.v3"
)

// Formats
const (
	FormatYAML    = "yaml"
	FormatMsgpack = "msgpack"
)

// Kind selects which tables a dump carries
type Kind string

const (
	KindAll     Kind = "all"
	KindRouting Kind = "routing"
	KindPipes   Kind = "pipes"
	KindMsgMap  Kind = "msgmap"
	KindStats   Kind = "stats"
)

// Source is what a snapshot is taken from. *softbus.Bus satisfies it.
type Source interface {
	RoutingSnapshot() []routing.RouteInfo
	PipeSnapshot() []pipes.Info
	MsgMapSnapshot() []routing.MapEntry
	Stats() softbus.Stats
}

// Snapshot is one dump
type Snapshot struct {
	ID      string              `json:"id" yaml:"id" msgpack:"id"`
	Kind    Kind                `json:"kind" yaml:"kind" msgpack:"kind"`
	TakenAt time.Time           `json:"taken_at" yaml:"taken_at" msgpack:"taken_at"`
	Routes  []routing.RouteInfo `json:"routes,omitempty" yaml:"routes,omitempty" msgpack:"routes,omitempty"`
	Pipes   []pipes.Info        `json:"pipes,omitempty" yaml:"pipes,omitempty" msgpack:"pipes,omitempty"`
	MsgMap  []routing.MapEntry  `json:"msg_map,omitempty" yaml:"msg_map,omitempty" msgpack:"msg_map,omitempty"`
	Stats   *softbus.Stats      `json:"stats,omitempty" yaml:"stats,omitempty" msgpack:"stats,omitempty"`
}

// Take copies the tables named by kind from src
func Take(src Source, kind Kind) (*Snapshot, error) {
	s := &Snapshot{
		ID:      uuid.NewString(),
		Kind:    kind,
		TakenAt: time.Now().UTC(),
	}
	switch kind {
	case KindAll:
		s.Routes = src.RoutingSnapshot()
		s.Pipes = src.PipeSnapshot()
		s.MsgMap = src.MsgMapSnapshot()
		st := src.Stats()
		s.Stats = &st
	case KindRouting:
		s.Routes = src.RoutingSnapshot()
	case KindPipes:
		s.Pipes = src.PipeSnapshot()
	case KindMsgMap:
		s.MsgMap = src.MsgMapSnapshot()
	case KindStats:
		st := src.Stats()
		s.Stats = &st
	default:
		return nil, types.NewError(types.ErrCodeInvalidArgument, fmt.Sprintf("unknown dump kind %q", kind))
	}
	return s, nil
}

// Encode writes s to w in format
func Encode(w io.Writer, format string, s *Snapshot) error {
	switch format {
	case FormatYAML:
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(s); err != nil {
			return types.WrapError(types.ErrCodeInternal, "failed to encode yaml dump", err)
		}
		return enc.Close()
	case FormatMsgpack:
		enc := msgpack.NewEncoder(w)
		enc.UseCompactInts(true)
		if err := enc.Encode(s); err != nil {
			return types.WrapError(types.ErrCodeInternal, "failed to encode msgpack dump", err)
		}
		return nil
	default:
		return types.NewError(types.ErrCodeInvalidArgument, fmt.Sprintf("unknown dump format %q", format))
	}
}

// Decode reads a snapshot written by Encode
func Decode(r io.Reader, format string) (*Snapshot, error) {
	s := &Snapshot{}
	switch format {
	case FormatYAML:
		if err := yaml.NewDecoder(r).Decode(s); err != nil {
			return nil, types.WrapError(types.ErrCodeInvalid, "failed to decode yaml dump", err)
		}
	case FormatMsgpack:
		if err := msgpack.NewDecoder(r).Decode(s); err != nil {
			return nil, types.WrapError(types.ErrCodeInvalid, "failed to decode msgpack dump", err)
		}
	default:
		return nil, types.NewError(types.ErrCodeInvalidArgument, fmt.Sprintf("unknown dump format %q", format))
	}
	return s, nil
}

// FormatFor returns the format implied by a file extension
func FormatFor(path string) (string, error) {
	switch filepath.Ext(path) {
	case ".yaml", ".yml":
		return FormatYAML, nil
	case ".msgpack", ".mp":
		return FormatMsgpack, nil
	default:
		return "", types.NewError(types.ErrCodeInvalidArgument, "cannot infer dump format from "+path)
	}
}

func extension(format string) string {
	if format == FormatMsgpack {
		return ".msgpack"
	}
	return ".yaml"
}

// WriteFile writes s into cfg.Directory and returns the file path. The file
// appears atomically.
func WriteFile(cfg config.DumpConfig, s *Snapshot) (string, error) {
	var buf bytes.Buffer
	if err := Encode(&buf, cfg.Format, s); err != nil {
		return "", err
	}

	if err := os.MkdirAll(cfg.Directory, 0o755); err != nil {
		return "", types.WrapError(types.ErrCodeInternal, "failed to create dump directory", err)
	}
	name := fmt.Sprintf("softbus-%s-%s%s", s.Kind, s.TakenAt.Format("20060102T150405Z"), extension(cfg.Format))
	path := filepath.Join(cfg.Directory, name)

	tmp, err := os.CreateTemp(cfg.Directory, ".dump-*")
	if err != nil {
		return "", types.WrapError(types.ErrCodeInternal, "failed to create dump file", err)
	}
	if _, err := tmp.Write(buf.Bytes()); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return "", types.WrapError(types.ErrCodeInternal, "failed to write dump file", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return "", types.WrapError(types.ErrCodeInternal, "failed to close dump file", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		os.Remove(tmp.Name())
		return "", types.WrapError(types.ErrCodeInternal, "failed to move dump file into place", err)
	}
	return path, nil
}

// ReadFile loads a dump, choosing the format from the extension
func ReadFile(path string) (*Snapshot, error) {
	format, err := FormatFor(path)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, types.WrapError(types.ErrCodeNotFound, "dump file not found: "+path, err)
		}
		return nil, types.WrapError(types.ErrCodeInternal, "failed to open dump file", err)
	}
	defer f.Close()
	return Decode(f, format)
}
