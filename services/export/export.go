// Package export writes dashboard snapshots as portable archives: a tar
// stream carrying a YAML manifest plus the snapshot JSON, zstd-compressed and
// optionally age-encrypted for handoff across an air gap.
package export

import (
	"archive/tar"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"filippo.io/age"
	"github.com/klauspost/compress/zstd"
	"gopkg.in/yaml.v3"
)

const (
	manifestFileName = "manifest.yaml"
	snapshotFileName = "snapshot.json"
)

// Manifest describes the archived snapshot.
type Manifest struct {
	Version        string    `yaml:"version"`
	CreatedAt      time.Time `yaml:"created_at"`
	Server         string    `yaml:"server,omitempty"`
	Machines       int       `yaml:"machines"`
	Events         int       `yaml:"events"`
	Notifications  int       `yaml:"notifications"`
	SnapshotSHA256 string    `yaml:"snapshot_sha256"`
}

// Options controls archive creation.
type Options struct {
	// Server records where the snapshot came from.
	Server string
	// Recipient, when set, is an age X25519 recipient the archive is
	// encrypted to.
	Recipient string
	// Now overrides the clock in tests.
	Now func() time.Time
}

// Write archives the snapshot JSON to w. The manifest is derived from the
// snapshot contents.
func Write(w io.Writer, snapshot []byte, opts Options) (*Manifest, error) {
	if w == nil {
		return nil, errors.New("writer is required")
	}
	if len(snapshot) == 0 {
		return nil, errors.New("snapshot is empty")
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	manifest, err := buildManifest(snapshot, opts)
	if err != nil {
		return nil, err
	}
	manifestBytes, err := yaml.Marshal(manifest)
	if err != nil {
		return nil, fmt.Errorf("marshal manifest: %w", err)
	}

	out := w
	var closeEncrypt io.WriteCloser
	if opts.Recipient != "" {
		recipient, err := age.ParseX25519Recipient(strings.TrimSpace(opts.Recipient))
		if err != nil {
			return nil, fmt.Errorf("parse recipient: %w", err)
		}
		enc, err := age.Encrypt(w, recipient)
		if err != nil {
			return nil, fmt.Errorf("start encryption: %w", err)
		}
		out = enc
		closeEncrypt = enc
	}

	encoder, err := zstd.NewWriter(out)
	if err != nil {
		return nil, fmt.Errorf("zstd writer: %w", err)
	}

	tw := tar.NewWriter(encoder)
	if err := writeEntry(tw, manifestFileName, manifestBytes, manifest.CreatedAt); err != nil {
		return nil, err
	}
	if err := writeEntry(tw, snapshotFileName, snapshot, manifest.CreatedAt); err != nil {
		return nil, err
	}

	if err := tw.Close(); err != nil {
		return nil, fmt.Errorf("close tar: %w", err)
	}
	if err := encoder.Close(); err != nil {
		return nil, fmt.Errorf("close zstd: %w", err)
	}
	if closeEncrypt != nil {
		if err := closeEncrypt.Close(); err != nil {
			return nil, fmt.Errorf("close encryption: %w", err)
		}
	}
	return manifest, nil
}

func buildManifest(snapshot []byte, opts Options) (*Manifest, error) {
	var counts struct {
		Machines []struct {
			Events []json.RawMessage `json:"events"`
		} `json:"machines"`
		Notifications []json.RawMessage `json:"notifications"`
	}
	if err := json.Unmarshal(snapshot, &counts); err != nil {
		return nil, fmt.Errorf("parse snapshot: %w", err)
	}

	events := 0
	for _, m := range counts.Machines {
		events += len(m.Events)
	}

	sum := sha256.Sum256(snapshot)
	return &Manifest{
		Version:        "1",
		CreatedAt:      opts.Now().UTC().Truncate(time.Second),
		Server:         opts.Server,
		Machines:       len(counts.Machines),
		Events:         events,
		Notifications:  len(counts.Notifications),
		SnapshotSHA256: hex.EncodeToString(sum[:]),
	}, nil
}

func writeEntry(tw *tar.Writer, name string, data []byte, modTime time.Time) error {
	header := &tar.Header{
		Name:     name,
		Mode:     0o644,
		Size:     int64(len(data)),
		ModTime:  modTime,
		Typeflag: tar.TypeReg,
	}
	if err := tw.WriteHeader(header); err != nil {
		return fmt.Errorf("write header for %q: %w", name, err)
	}
	if _, err := tw.Write(data); err != nil {
		return fmt.Errorf("write body for %q: %w", name, err)
	}
	return nil
}

// Read opens an archive, verifies the snapshot digest against the manifest
// and returns both. Identities are required for encrypted archives and
// ignored otherwise.
func Read(r io.Reader, identities ...age.Identity) (*Manifest, []byte, error) {
	if r == nil {
		return nil, nil, errors.New("reader is required")
	}

	src := r
	if len(identities) > 0 {
		dec, err := age.Decrypt(r, identities...)
		if err != nil {
			return nil, nil, fmt.Errorf("decrypt archive: %w", err)
		}
		src = dec
	}

	decoder, err := zstd.NewReader(src)
	if err != nil {
		return nil, nil, fmt.Errorf("zstd reader: %w", err)
	}
	defer decoder.Close()

	tr := tar.NewReader(decoder)

	var (
		manifestBytes []byte
		snapshot      []byte
	)
	for {
		header, err := tr.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, nil, fmt.Errorf("read tar entry: %w", err)
		}
		if header.Typeflag != tar.TypeReg {
			continue
		}

		switch header.Name {
		case manifestFileName:
			manifestBytes, err = io.ReadAll(tr)
		case snapshotFileName:
			snapshot, err = io.ReadAll(tr)
		default:
			continue
		}
		if err != nil {
			return nil, nil, fmt.Errorf("read %q: %w", header.Name, err)
		}
	}

	if len(manifestBytes) == 0 {
		return nil, nil, errors.New("archive missing manifest.yaml")
	}
	if len(snapshot) == 0 {
		return nil, nil, errors.New("archive missing snapshot.json")
	}

	var manifest Manifest
	if err := yaml.Unmarshal(manifestBytes, &manifest); err != nil {
		return nil, nil, fmt.Errorf("unmarshal manifest: %w", err)
	}
	if manifest.Version != "1" {
		return nil, nil, fmt.Errorf("unsupported manifest version %q", manifest.Version)
	}

	sum := sha256.Sum256(snapshot)
	if computed := hex.EncodeToString(sum[:]); !strings.EqualFold(computed, manifest.SnapshotSHA256) {
		return nil, nil, errors.New("snapshot digest mismatch")
	}

	return &manifest, snapshot, nil
}
