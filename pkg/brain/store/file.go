package store

import (
	"encoding/json"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/go-go-golems/pocketbrain/pkg/brain/securecodec"
	"github.com/go-go-golems/pocketbrain/pkg/brain/tree"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"golang.org/x/exp/mmap"
)

// Save encodes the whole tree as JSON, encrypts it as a single blob and
// replaces path atomically.
func Save(t *tree.Tree, path string, codec securecodec.Codec) error {
	plaintext, err := json.Marshal(t)
	if err != nil {
		return errors.Wrap(err, "could not encode brain tree")
	}
	blob, err := codec.Encrypt(plaintext)
	if err != nil {
		return errors.Wrap(err, "could not encrypt brain tree")
	}
	return writeAtomic(path, blob)
}

func writeAtomic(path string, data []byte) (err error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return errors.Wrap(err, "could not create brain directory")
	}

	f, err := os.CreateTemp(dir, filepath.Base(path)+".tmp-*")
	if err != nil {
		return errors.Wrap(err, "could not create temp file")
	}
	tmp := f.Name()
	defer func() {
		if err != nil {
			_ = f.Close()
			_ = os.Remove(tmp)
		}
	}()

	if _, err = f.Write(data); err != nil {
		return errors.Wrap(err, "could not write temp file")
	}
	if err = f.Sync(); err != nil {
		return errors.Wrap(err, "could not sync temp file")
	}
	if err = f.Close(); err != nil {
		return errors.Wrap(err, "could not close temp file")
	}
	if err = os.Chmod(tmp, 0o600); err != nil {
		return errors.Wrap(err, "could not chmod temp file")
	}
	if err = os.Rename(tmp, path); err != nil {
		return errors.Wrap(err, "could not replace brain file")
	}
	return nil
}

// Load maps path read-only, decrypts and decodes it. A missing file yields
// (nil, nil). A file that fails authentication yields a
// *securecodec.AuthenticationError, one that cannot be decoded a
// *MalformedDataError. Decodable trees with structural defects are repaired.
func Load(path string, codec securecodec.Codec) (*tree.Tree, error) {
	blob, err := readMapped(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, errors.Wrapf(err, "could not read %s", path)
	}

	plaintext, err := codec.Decrypt(blob)
	if err != nil {
		log.Error().Err(err).Str("path", path).Msg("Brain file failed authentication")
		return nil, err
	}

	var t tree.Tree
	if err := json.Unmarshal(plaintext, &t); err != nil {
		log.Error().Err(err).Str("path", path).Msg("Brain file could not be decoded")
		return nil, &MalformedDataError{Path: path, Err: err}
	}

	if fixes := Repair(&t); len(fixes) > 0 {
		log.Warn().Str("path", path).Strs("fixes", fixes).Msg("Repaired brain tree structure")
	}
	return &t, nil
}

func readMapped(path string) ([]byte, error) {
	r, err := mmap.Open(path)
	if err != nil {
		return nil, err
	}
	defer func() {
		_ = r.Close()
	}()

	buf := make([]byte, r.Len())
	if len(buf) == 0 {
		return buf, nil
	}
	if _, err := r.ReadAt(buf, 0); err != nil {
		return nil, err
	}
	return buf, nil
}
