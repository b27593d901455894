package blobstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/gofrs/flock"
	"github.com/google/uuid"
	"github.com/hashicorp/go-hclog"
	"github.com/tcriess/adda/config"
	"github.com/tcriess/adda/globals"
	"github.com/tcriess/adda/types"
	"github.com/tidwall/buntdb"
)

const (
	NamespaceAvatars    = "avatars"
	NamespaceChatImages = "chat-images"

	createdIndex = "blobs_created"
	keyPrefix    = "blob:"
	sniffLen     = 512
)

var namespaces = map[string]struct{}{
	NamespaceAvatars:    {},
	NamespaceChatImages: {},
}

var imageExtensions = map[string]string{
	"image/png":  ".png",
	"image/jpeg": ".jpg",
	"image/gif":  ".gif",
	"image/webp": ".webp",
}

// Blob is the metadata of one stored file. URL is the public reference handed to clients.
type Blob struct {
	Namespace   string    `json:"namespace"`
	Name        string    `json:"name"`
	ContentType string    `json:"content_type"`
	Size        int64     `json:"size"`
	Created     time.Time `json:"created"`
	URL         string    `json:"url"`
}

// Store keeps blobs as files below a directory and their metadata in a buntdb index. The directory is locked
// while the store is open, so only one process writes to it.
type Store struct {
	dir            string
	baseURL        string
	maxAvatarBytes int64
	maxImageBytes  int64

	index  *buntdb.DB
	lock   *flock.Flock
	now    func() time.Time
	logger hclog.Logger
}

func New(cfg config.BlobConfig) (*Store, error) {
	if cfg.Dir == "" {
		return nil, fmt.Errorf("no blob directory configured")
	}
	err := os.MkdirAll(cfg.Dir, 0o755)
	if err != nil {
		return nil, err
	}
	lock := flock.New(filepath.Join(cfg.Dir, ".lock"))
	locked, err := lock.TryLock()
	if err != nil {
		return nil, err
	}
	if !locked {
		return nil, fmt.Errorf("blob directory %s is in use by another process", cfg.Dir)
	}
	indexPath := cfg.Index
	if indexPath == "" {
		indexPath = filepath.Join(cfg.Dir, "index.db")
	}
	db, err := buntdb.Open(indexPath)
	if err != nil {
		_ = lock.Unlock()
		return nil, err
	}
	err = db.CreateIndex(createdIndex, keyPrefix+"*", buntdb.IndexJSON("created"))
	if err != nil {
		db.Close()
		_ = lock.Unlock()
		return nil, err
	}
	s := Store{
		dir:            cfg.Dir,
		baseURL:        strings.TrimSuffix(cfg.BaseURL, "/"),
		maxAvatarBytes: cfg.MaxAvatarBytes,
		maxImageBytes:  cfg.MaxImageBytes,
		index:          db,
		lock:           lock,
		now:            time.Now,
		logger:         globals.AppLogger.Named("blobstore"),
	}
	return &s, nil
}

func (s *Store) Close() error {
	err := s.index.Close()
	if uerr := s.lock.Unlock(); err == nil {
		err = uerr
	}
	return err
}

// PublicURL is the reference under which a blob is served.
func (s *Store) PublicURL(namespace, name string) string {
	return s.baseURL + "/" + namespace + "/" + name
}

// UploadAvatar stores a profile picture of the user and drops the pictures it replaces. Only images up to the avatar
// limit are accepted.
func (s *Store) UploadAvatar(ctx context.Context, userId, contentType string, r io.Reader) (*Blob, error) {
	blob, err := s.putImage(ctx, NamespaceAvatars, userId, contentType, r, s.maxAvatarBytes)
	if err != nil {
		return nil, err
	}
	previous, err := s.List(NamespaceAvatars, userId+"/")
	if err != nil {
		s.logger.Warn("could not list previous avatars", "user", userId, "error", err)
		return blob, nil
	}
	for _, old := range previous {
		if old.Name == blob.Name {
			continue
		}
		if err := s.Delete(NamespaceAvatars, old.Name); err != nil {
			s.logger.Warn("could not delete previous avatar", "name", old.Name, "error", err)
		}
	}
	return blob, nil
}

// UploadChatImage stores an image posted to the chat of a hangout.
func (s *Store) UploadChatImage(ctx context.Context, hangoutId, contentType string, r io.Reader) (*Blob, error) {
	return s.putImage(ctx, NamespaceChatImages, hangoutId, contentType, r, s.maxImageBytes)
}

// DeleteChatImages removes every image posted to the chat of the hangout and returns how many were removed.
func (s *Store) DeleteChatImages(ctx context.Context, hangoutId string) (int, error) {
	if hangoutId == "" || strings.ContainsAny(hangoutId, `/\`) {
		return 0, types.NewValidationError("hangout_id", "invalid")
	}
	blobs, err := s.List(NamespaceChatImages, hangoutId+"/")
	if err != nil {
		return 0, err
	}
	removed := 0
	for _, blob := range blobs {
		if err := ctx.Err(); err != nil {
			return removed, err
		}
		err = s.Delete(NamespaceChatImages, blob.Name)
		if err != nil {
			return removed, err
		}
		removed++
	}
	if removed > 0 {
		s.logger.Debug("deleted chat images", "hangout", hangoutId, "count", removed)
	}
	return removed, nil
}

func (s *Store) putImage(ctx context.Context, namespace, owner, contentType string, r io.Reader, maxBytes int64) (*Blob, error) {
	if owner == "" || strings.ContainsAny(owner, `/\`) || owner == "." || owner == ".." {
		return nil, types.NewValidationError("owner", "invalid")
	}
	data, err := readLimited(r, maxBytes)
	if err != nil {
		return nil, err
	}
	sniffed := http.DetectContentType(data[:min(len(data), sniffLen)])
	ext, ok := imageExtensions[sniffed]
	if !ok {
		return nil, types.NewValidationError("file", "must be a PNG, JPEG, GIF or WebP image")
	}
	if contentType != "" && !strings.HasPrefix(contentType, "image/") {
		return nil, types.NewValidationError("content_type", "must be an image type")
	}
	name := owner + "/" + uuid.NewString() + ext
	return s.write(ctx, namespace, name, sniffed, data)
}

func readLimited(r io.Reader, maxBytes int64) ([]byte, error) {
	if maxBytes > 0 {
		r = io.LimitReader(r, maxBytes+1)
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	if maxBytes > 0 && int64(len(data)) > maxBytes {
		return nil, types.NewValidationError("file", fmt.Sprintf("must be at most %s", formatBytes(maxBytes)))
	}
	if len(data) == 0 {
		return nil, types.NewValidationError("file", "is empty")
	}
	return data, nil
}

func formatBytes(n int64) string {
	if n >= 1024*1024 && n%(1024*1024) == 0 {
		return fmt.Sprintf("%dMB", n/(1024*1024))
	}
	return fmt.Sprintf("%d bytes", n)
}

func (s *Store) write(ctx context.Context, namespace, name, contentType string, data []byte) (*Blob, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	filePath, err := s.filePath(namespace, name)
	if err != nil {
		return nil, err
	}
	err = os.MkdirAll(filepath.Dir(filePath), 0o755)
	if err != nil {
		return nil, err
	}
	tmp, err := os.CreateTemp(filepath.Dir(filePath), ".upload-*")
	if err != nil {
		return nil, err
	}
	_, err = tmp.Write(data)
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		_ = os.Remove(tmp.Name())
		return nil, err
	}
	err = os.Rename(tmp.Name(), filePath)
	if err != nil {
		_ = os.Remove(tmp.Name())
		return nil, err
	}

	blob := &Blob{
		Namespace:   namespace,
		Name:        name,
		ContentType: contentType,
		Size:        int64(len(data)),
		Created:     s.now().UTC(),
		URL:         s.PublicURL(namespace, name),
	}
	meta, err := json.Marshal(blob)
	if err != nil {
		return nil, err
	}
	err = s.index.Update(func(tx *buntdb.Tx) error {
		_, _, err := tx.Set(keyPrefix+namespace+"/"+name, string(meta), nil)
		return err
	})
	if err != nil {
		return nil, err
	}
	s.logger.Debug("stored blob", "namespace", namespace, "name", name, "size", blob.Size)
	return blob, nil
}

// filePath maps namespace/name into the blob directory, rejecting names that would escape it.
func (s *Store) filePath(namespace, name string) (string, error) {
	if _, ok := namespaces[namespace]; !ok {
		return "", types.NewValidationError("namespace", fmt.Sprintf("unknown namespace %q", namespace))
	}
	clean := path.Clean("/" + name)
	if name == "" || clean == "/" || clean[1:] != name || strings.HasPrefix(path.Base(name), ".") {
		return "", types.NewValidationError("name", fmt.Sprintf("invalid blob name %q", name))
	}
	return filepath.Join(s.dir, namespace, filepath.FromSlash(name)), nil
}

// Get returns the metadata of a blob.
func (s *Store) Get(namespace, name string) (*Blob, error) {
	blob := &Blob{}
	err := s.index.View(func(tx *buntdb.Tx) error {
		val, err := tx.Get(keyPrefix + namespace + "/" + name)
		if err != nil {
			return err
		}
		return json.Unmarshal([]byte(val), blob)
	})
	if err != nil {
		if errors.Is(err, buntdb.ErrNotFound) {
			return nil, fmt.Errorf("blob %s/%s: %w", namespace, name, types.ErrNotFound)
		}
		return nil, err
	}
	return blob, nil
}

// Open returns the metadata and content of a blob. The caller closes the reader.
func (s *Store) Open(namespace, name string) (*Blob, io.ReadCloser, error) {
	blob, err := s.Get(namespace, name)
	if err != nil {
		return nil, nil, err
	}
	filePath, err := s.filePath(namespace, name)
	if err != nil {
		return nil, nil, err
	}
	f, err := os.Open(filePath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil, fmt.Errorf("blob %s/%s: %w", namespace, name, types.ErrNotFound)
		}
		return nil, nil, err
	}
	return blob, f, nil
}

// Delete removes a blob. Deleting a missing blob is not an error.
func (s *Store) Delete(namespace, name string) error {
	filePath, err := s.filePath(namespace, name)
	if err != nil {
		return err
	}
	err = s.index.Update(func(tx *buntdb.Tx) error {
		_, err := tx.Delete(keyPrefix + namespace + "/" + name)
		if errors.Is(err, buntdb.ErrNotFound) {
			return nil
		}
		return err
	})
	if err != nil {
		return err
	}
	err = os.Remove(filePath)
	if err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

// List returns the blobs of a namespace whose name starts with prefix, oldest first.
func (s *Store) List(namespace, prefix string) ([]*Blob, error) {
	blobs := make([]*Blob, 0)
	keyStart := keyPrefix + namespace + "/" + prefix
	err := s.index.View(func(tx *buntdb.Tx) error {
		var innerErr error
		err := tx.Ascend(createdIndex, func(key, value string) bool {
			if !strings.HasPrefix(key, keyStart) {
				return true
			}
			blob := &Blob{}
			innerErr = json.Unmarshal([]byte(value), blob)
			if innerErr != nil {
				return false
			}
			blobs = append(blobs, blob)
			return true
		})
		if err != nil {
			return err
		}
		return innerErr
	})
	if err != nil {
		return nil, err
	}
	return blobs, nil
}
