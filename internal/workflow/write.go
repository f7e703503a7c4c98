package workflow

import (
	"crypto/sha256"
	"encoding/hex"
	"os"
	"path/filepath"
)

// Domain prefixes for artifact digests. The version suffix allows the
// rendering format to change without colliding with older digests.
const (
	DomainDAG    = "scanbatch/dag/v1"
	DomainSubmit = "scanbatch/submit/v1"
)

// Artifacts describes the files written for one workflow.
type Artifacts struct {
	Tag          string  `json:"tag"`
	DAGPath      string  `json:"dag_path"`
	SubmitPath   string  `json:"submit_path"`
	LogPath      string  `json:"log_path"`
	DAGDigest    string  `json:"dag_digest"`
	SubmitDigest string  `json:"submit_digest"`
	Nodes        int     `json:"nodes"`
	MaxGPS       float64 `json:"max_gps"`
}

// Write creates the output and log directories and writes the submit and
// DAG descriptors, replacing any previous files of the same tag. Each file
// is written to a temporary sibling and renamed into place, so a reader
// never sees a partially written descriptor.
func (w *Workflow) Write() (*Artifacts, error) {
	for _, dir := range []string{w.OutputDir, w.LogDir()} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, &WriteError{Path: dir, Err: err}
		}
	}

	sub := w.RenderSubmit()
	dag := w.RenderDAG()

	// The DAG references the submit file, so it goes second.
	if err := writeFileAtomic(w.SubmitPath(), sub); err != nil {
		return nil, err
	}
	if err := writeFileAtomic(w.DAGPath(), dag); err != nil {
		return nil, err
	}

	return &Artifacts{
		Tag:          w.Tag,
		DAGPath:      w.DAGPath(),
		SubmitPath:   w.SubmitPath(),
		LogPath:      w.LogPath(),
		DAGDigest:    hashWithDomain(DomainDAG, dag),
		SubmitDigest: hashWithDomain(DomainSubmit, sub),
		Nodes:        len(w.Nodes),
		MaxGPS:       w.MaxGPS(),
	}, nil
}

func writeFileAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*")
	if err != nil {
		return &WriteError{Path: path, Err: err}
	}
	tmpName := tmp.Name()

	_, err = tmp.Write(data)
	if closeErr := tmp.Close(); err == nil {
		err = closeErr
	}
	if err == nil {
		err = os.Chmod(tmpName, 0644)
	}
	if err == nil {
		err = os.Rename(tmpName, path)
	}
	if err != nil {
		os.Remove(tmpName)
		return &WriteError{Path: path, Err: err}
	}
	return nil
}

// hashWithDomain computes SHA-256 hash with domain separation.
// Format: SHA256(domain + 0x00 + data)
func hashWithDomain(domain string, data []byte) string {
	h := sha256.New()
	h.Write([]byte(domain))
	h.Write([]byte{0x00})
	h.Write(data)
	return hex.EncodeToString(h.Sum(nil))
}
