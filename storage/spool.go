package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/tinylib/msgp/msgp"

	"github.com/synqronlabs/xray/utils"
)

const spoolExt = ".msgpack"

// Spool writes each report to its own MessagePack file, named after the
// report ID. The file holds a map with the keys id, recipient, general,
// spamassassin, authentication and rbl.
type Spool struct {
	dir string
}

// NewSpool creates dir when needed.
func NewSpool(dir string) (*Spool, error) {
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("storage: %w", err)
	}
	return &Spool{dir: dir}, nil
}

// Path returns the file name of report id.
func (s *Spool) Path(id string) string {
	return filepath.Join(s.dir, id+spoolExt)
}

func (s *Spool) Save(ctx context.Context, recipient string, docs Documents) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	id := utils.NewID()
	b, err := encode(id, recipient, docs)
	if err != nil {
		return "", err
	}

	tmp, err := os.CreateTemp(s.dir, ".tmp-"+id+"-*")
	if err != nil {
		return "", fmt.Errorf("storage: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(b); err != nil {
		_ = tmp.Close()
		return "", fmt.Errorf("storage: writing %s: %w", id, err)
	}
	if err := tmp.Close(); err != nil {
		return "", fmt.Errorf("storage: writing %s: %w", id, err)
	}
	if err := os.Rename(tmp.Name(), s.Path(id)); err != nil {
		return "", fmt.Errorf("storage: %w", err)
	}
	return id, nil
}

func encode(id, recipient string, docs Documents) ([]byte, error) {
	named := docs.named()

	b := msgp.AppendMapHeader(nil, uint32(2+len(named)))
	b = msgp.AppendString(b, "id")
	b = msgp.AppendString(b, id)
	b = msgp.AppendString(b, "recipient")
	b = msgp.AppendString(b, recipient)

	for _, d := range named {
		var v any
		if len(d.doc) > 0 {
			if err := json.Unmarshal(d.doc, &v); err != nil {
				return nil, fmt.Errorf("storage: %s document: %w", d.name, err)
			}
		}

		var err error
		b = msgp.AppendString(b, d.name)
		if b, err = msgp.AppendIntf(b, v); err != nil {
			return nil, fmt.Errorf("storage: encoding %s document: %w", d.name, err)
		}
	}
	return b, nil
}

// Dump writes report id to w as JSON.
func (s *Spool) Dump(id string, w io.Writer) error {
	b, err := os.ReadFile(s.Path(id))
	if err != nil {
		return fmt.Errorf("storage: %w", err)
	}
	if _, err := msgp.UnmarshalAsJSON(w, b); err != nil {
		return fmt.Errorf("storage: decoding %s: %w", id, err)
	}
	return nil
}

func (s *Spool) Close() error { return nil }
