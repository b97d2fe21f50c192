package admin

import (
	"archive/tar"
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/klauspost/compress/zstd"
	"github.com/zeebo/blake3"
	"gopkg.in/yaml.v3"

	"mlreg/internal/artifacts"
)

const (
	manifestFileName  = "manifest.yaml"
	snapshotTarPrefix = "artifacts"
	snapshotVersion   = "1"
)

// SnapshotManifest lists the artifacts in a snapshot archive.
type SnapshotManifest struct {
	Version   string          `json:"version" yaml:"version"`
	CreatedAt time.Time       `json:"created_at" yaml:"created_at"`
	Artifacts []SnapshotEntry `json:"artifacts" yaml:"artifacts"`
}

// SnapshotEntry describes one archived artifact record.
type SnapshotEntry struct {
	Path   string `json:"path" yaml:"path"`
	Type   string `json:"type" yaml:"type"`
	ID     string `json:"id" yaml:"id"`
	URL    string `json:"url" yaml:"url"`
	Size   int64  `json:"size" yaml:"size"`
	BLAKE3 string `json:"blake3" yaml:"blake3"`
}

// SnapshotConfig configures Snapshot.
type SnapshotConfig struct {
	Store  ArtifactStore
	Output string
	Now    func() time.Time
	Stdout io.Writer
}

// Snapshot writes every stored artifact to a tar.zst archive with a manifest.
func Snapshot(ctx context.Context, cfg SnapshotConfig) (*SnapshotManifest, error) {
	if cfg.Store == nil {
		return nil, errors.New("artifact store is required")
	}
	if cfg.Output == "" {
		return nil, errors.New("output path is required")
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Stdout == nil {
		cfg.Stdout = os.Stdout
	}

	all, err := cfg.Store.All(ctx)
	if err != nil {
		return nil, fmt.Errorf("list artifacts: %w", err)
	}

	type record struct {
		entry SnapshotEntry
		body  []byte
	}
	records := make([]record, 0, len(all))
	for _, art := range all {
		body, err := json.MarshalIndent(art, "", "  ")
		if err != nil {
			return nil, fmt.Errorf("encode %s/%s: %w", art.Metadata.Type, art.Metadata.ID, err)
		}
		sum := blake3.Sum256(body)
		records = append(records, record{
			entry: SnapshotEntry{
				Path:   string(art.Metadata.Type) + "/" + art.Metadata.ID + ".json",
				Type:   string(art.Metadata.Type),
				ID:     art.Metadata.ID,
				URL:    art.Data.URL,
				Size:   int64(len(body)),
				BLAKE3: hex.EncodeToString(sum[:]),
			},
			body: body,
		})
	}
	sort.Slice(records, func(i, j int) bool {
		return records[i].entry.Path < records[j].entry.Path
	})

	manifest := &SnapshotManifest{
		Version:   snapshotVersion,
		CreatedAt: cfg.Now().UTC().Truncate(time.Second),
		Artifacts: make([]SnapshotEntry, 0, len(records)),
	}
	for _, rec := range records {
		manifest.Artifacts = append(manifest.Artifacts, rec.entry)
	}

	manifestBytes, err := yaml.Marshal(manifest)
	if err != nil {
		return nil, fmt.Errorf("marshal manifest: %w", err)
	}

	if dir := filepath.Dir(cfg.Output); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create output dir: %w", err)
		}
	}
	file, err := os.Create(cfg.Output)
	if err != nil {
		return nil, fmt.Errorf("create output file: %w", err)
	}
	defer file.Close()

	encoder, err := zstd.NewWriter(file)
	if err != nil {
		return nil, fmt.Errorf("zstd writer: %w", err)
	}
	tw := tar.NewWriter(encoder)

	if err := writeTarFile(tw, manifestFileName, manifestBytes, manifest.CreatedAt); err != nil {
		return nil, err
	}
	for _, rec := range records {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		name := snapshotTarPrefix + "/" + rec.entry.Path
		if err := writeTarFile(tw, name, rec.body, manifest.CreatedAt); err != nil {
			return nil, err
		}
	}

	if err := tw.Close(); err != nil {
		return nil, fmt.Errorf("close tar: %w", err)
	}
	if err := encoder.Close(); err != nil {
		return nil, fmt.Errorf("close zstd: %w", err)
	}

	fmt.Fprintf(cfg.Stdout, "wrote snapshot %s (%d artifacts)\n", cfg.Output, len(records))
	return manifest, nil
}

func writeTarFile(tw *tar.Writer, name string, body []byte, modTime time.Time) error {
	header := &tar.Header{
		Name:     name,
		Mode:     0o644,
		Size:     int64(len(body)),
		ModTime:  modTime,
		Typeflag: tar.TypeReg,
	}
	if err := tw.WriteHeader(header); err != nil {
		return fmt.Errorf("write header for %q: %w", name, err)
	}
	if _, err := tw.Write(body); err != nil {
		return fmt.Errorf("write %q: %w", name, err)
	}
	return nil
}

// ReadSnapshot opens a snapshot archive, checks every record against the
// manifest and returns both.
func ReadSnapshot(path string) (*SnapshotManifest, []artifacts.Artifact, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, nil, fmt.Errorf("open snapshot: %w", err)
	}
	defer file.Close()

	decoder, err := zstd.NewReader(file)
	if err != nil {
		return nil, nil, fmt.Errorf("zstd reader: %w", err)
	}
	defer decoder.Close()

	var (
		manifestBytes []byte
		bodies        = map[string][]byte{}
	)
	tr := tar.NewReader(decoder)
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
		data, err := io.ReadAll(tr)
		if err != nil {
			return nil, nil, fmt.Errorf("read %q: %w", header.Name, err)
		}
		if header.Name == manifestFileName {
			manifestBytes = data
			continue
		}
		bodies[strings.TrimPrefix(header.Name, snapshotTarPrefix+"/")] = data
	}

	if len(manifestBytes) == 0 {
		return nil, nil, errors.New("snapshot missing manifest.yaml")
	}
	var manifest SnapshotManifest
	if err := yaml.Unmarshal(manifestBytes, &manifest); err != nil {
		return nil, nil, fmt.Errorf("unmarshal manifest: %w", err)
	}
	if manifest.Version != snapshotVersion {
		return nil, nil, fmt.Errorf("unsupported snapshot version %q", manifest.Version)
	}

	out := make([]artifacts.Artifact, 0, len(manifest.Artifacts))
	for _, entry := range manifest.Artifacts {
		body, ok := bodies[entry.Path]
		if !ok {
			return nil, nil, fmt.Errorf("snapshot missing %s", entry.Path)
		}
		sum := blake3.Sum256(body)
		if hex.EncodeToString(sum[:]) != entry.BLAKE3 {
			return nil, nil, fmt.Errorf("checksum mismatch for %s", entry.Path)
		}
		var art artifacts.Artifact
		if err := json.Unmarshal(body, &art); err != nil {
			return nil, nil, fmt.Errorf("decode %s: %w", entry.Path, err)
		}
		out = append(out, art)
	}
	return &manifest, out, nil
}
