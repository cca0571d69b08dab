package ledger

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/parapet-labs/parapet/pkg/contracts"
)

// FileStore lays receipts out as one JSON file per receipt under
// per-episode directories, fsynced before Put returns. The layout is
// what the conformance verifier consumes offline.
type FileStore struct {
	root string
	mu   sync.Mutex
}

// OpenFileStore creates the root directory if needed.
func OpenFileStore(root string) (*FileStore, error) {
	if root == "" {
		return nil, fmt.Errorf("file store root is required")
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("create receipt root: %w", err)
	}
	return &FileStore{root: root}, nil
}

func (s *FileStore) episodeDir(episodeID string) string {
	return filepath.Join(s.root, sanitize(episodeID))
}

// receiptFile names files by ordinal plus hash suffix so directory
// listing order matches append order.
func (s *FileStore) receiptFile(dir string, seq int, hash string) string {
	return filepath.Join(dir, fmt.Sprintf("%06d-%s.json", seq, strings.TrimPrefix(hash, "sha256:")[:16]))
}

func (s *FileStore) Put(_ context.Context, r *contracts.Receipt) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	dir := s.episodeDir(r.EpisodeID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create episode dir: %w", err)
	}
	existing, err := listReceiptFiles(dir)
	if err != nil {
		return err
	}

	body, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal receipt: %w", err)
	}

	path := s.receiptFile(dir, len(existing)+1, r.ReceiptHash)
	tmp := path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return fmt.Errorf("create receipt file: %w", err)
	}
	if _, err := f.Write(body); err != nil {
		f.Close()
		return fmt.Errorf("write receipt: %w", err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return fmt.Errorf("sync receipt: %w", err)
	}
	if err := f.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("finalize receipt: %w", err)
	}
	return nil
}

func (s *FileStore) Get(ctx context.Context, receiptHash string) (*contracts.Receipt, error) {
	suffix := strings.TrimPrefix(receiptHash, "sha256:")
	if len(suffix) < 16 {
		return nil, ErrNotFound
	}
	episodes, err := os.ReadDir(s.root)
	if err != nil {
		return nil, fmt.Errorf("read receipt root: %w", err)
	}
	for _, ep := range episodes {
		if !ep.IsDir() {
			continue
		}
		dir := filepath.Join(s.root, ep.Name())
		files, err := listReceiptFiles(dir)
		if err != nil {
			return nil, err
		}
		for _, name := range files {
			if !strings.Contains(name, suffix[:16]) {
				continue
			}
			r, err := readReceipt(filepath.Join(dir, name))
			if err != nil {
				return nil, err
			}
			if r.ReceiptHash == receiptHash {
				return r, nil
			}
		}
	}
	return nil, ErrNotFound
}

func (s *FileStore) ListEpisode(_ context.Context, episodeID string) ([]*contracts.Receipt, error) {
	dir := s.episodeDir(episodeID)
	files, err := listReceiptFiles(dir)
	if err != nil {
		return nil, err
	}
	out := make([]*contracts.Receipt, 0, len(files))
	for _, name := range files {
		r, err := readReceipt(filepath.Join(dir, name))
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, nil
}

func (s *FileStore) Head(ctx context.Context, episodeID string) (string, error) {
	receipts, err := s.ListEpisode(ctx, episodeID)
	if err != nil {
		return "", err
	}
	if len(receipts) == 0 {
		return "", nil
	}
	return receipts[len(receipts)-1].ReceiptHash, nil
}

func (s *FileStore) Close() error { return nil }

// LoadDir reads every receipt under root, across all episodes. Used by
// the offline verifier.
func LoadDir(root string) ([]*contracts.Receipt, error) {
	var out []*contracts.Receipt
	err := filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !strings.HasSuffix(path, ".json") {
			return nil
		}
		r, rerr := readReceipt(path)
		if rerr != nil {
			return rerr
		}
		out = append(out, r)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walk receipt dir: %w", err)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].TS.Before(out[j].TS) })
	return out, nil
}

func listReceiptFiles(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read episode dir: %w", err)
	}
	var names []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), ".json") {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)
	return names, nil
}

func readReceipt(path string) (*contracts.Receipt, error) {
	body, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read receipt file: %w", err)
	}
	return decodeReceipt(string(body))
}

func sanitize(s string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			return r
		}
		return '_'
	}, s)
}
