// Package datamodel implements the Kiln project tree.
//
// A Kiln project is a folder of JSON documents, one file per record, so that
// version control diffs and merges stay readable. Records never reference
// each other by path; parentage is expressed by directory nesting and IDs
// are random so concurrent edits on different machines don't collide.
package datamodel

import (
	"crypto/rand"
	"encoding/json"
	"fmt"
	"math/big"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/renameio/v2"

	"github.com/kiln-ai/kiln-go/internal/log"
)

// Canonical filenames for each document type.
const (
	ProjectFilename  = "project.kiln"
	TaskFilename     = "task.kiln"
	RunFilename      = "task_run.kiln"
	SplitFilename    = "dataset_split.kiln"
	FinetuneFilename = "finetune.kiln"
)

const currentSchemaVersion = 1

// BaseModel carries the fields shared by every persisted document.
type BaseModel struct {
	V         int       `json:"v"`
	ID        string    `json:"id"`
	ModelType string    `json:"model_type"`
	CreatedAt time.Time `json:"created_at"`
	CreatedBy string    `json:"created_by,omitempty"`

	// Path is the absolute location of this document on disk. Empty for
	// documents that have not been saved yet.
	Path string `json:"-"`
}

// NewBaseModel initialises the shared fields for a new document.
func NewBaseModel(modelType, createdBy string) BaseModel {
	return BaseModel{
		V:         currentSchemaVersion,
		ID:        NewID(),
		ModelType: modelType,
		CreatedAt: time.Now().UTC(),
		CreatedBy: createdBy,
	}
}

// NewID returns a random 12-digit numeric ID. Numeric IDs keep diffs short
// and random generation avoids merge conflicts between collaborators.
func NewID() string {
	max := big.NewInt(1_000_000_000_000)
	n, err := rand.Int(rand.Reader, max)
	if err != nil {
		// crypto/rand only fails when the platform's entropy source is broken
		panic(fmt.Sprintf("datamodel: id generation failed: %v", err))
	}
	return fmt.Sprintf("%012d", n)
}

// saveJSON atomically writes v as indented JSON to path. The two-space
// indent matches what the desktop app writes, keeping diffs stable.
func saveJSON(path string, v any) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create document dir: %w", err)
	}

	pending, err := renameio.NewPendingFile(path)
	if err != nil {
		return fmt.Errorf("create pending file: %w", err)
	}
	defer func() {
		if err := pending.Cleanup(); err != nil {
			logger := log.WithComponent("datamodel")
			logger.Debug().Err(err).Msg("cleanup pending file")
		}
	}()

	enc := json.NewEncoder(pending)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("encode document: %w", err)
	}
	if err := pending.CloseAtomicallyReplace(); err != nil {
		return fmt.Errorf("atomically replace document: %w", err)
	}
	return nil
}

func loadJSON(path string, v any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read document: %w", err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("parse document %s: %w", path, err)
	}
	return nil
}

// folderName builds the directory name for a child document. The readable
// prefix is for humans browsing the project; the ID suffix guarantees
// uniqueness.
func folderName(name, id string) string {
	slug := sanitizeName(name)
	if slug == "" {
		return id
	}
	return slug + " - " + id
}

var nameSanitizer = strings.NewReplacer("/", "_", "\\", "_", ":", "_", "*", "_", "?", "_", "\"", "_", "<", "_", ">", "_", "|", "_")

func sanitizeName(name string) string {
	s := nameSanitizer.Replace(strings.TrimSpace(name))
	if runes := []rune(s); len(runes) > 32 {
		// Cut on a rune boundary so multi-byte names stay valid UTF-8.
		s = strings.TrimSpace(string(runes[:32]))
	}
	return s
}

func logSkippedChild(path string, err error) {
	logger := log.WithComponent("datamodel")
	logger.Warn().
		Err(err).
		Str("path", path).
		Msg("skipping unreadable document")
}

// childDocs lists the document files named basename one level below dir,
// sorted by folder name for deterministic iteration.
func childDocs(dir, basename string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read children dir: %w", err)
	}

	var paths []string
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		p := filepath.Join(dir, e.Name(), basename)
		if _, err := os.Stat(p); err == nil {
			paths = append(paths, p)
		}
	}
	sort.Strings(paths)
	return paths, nil
}
