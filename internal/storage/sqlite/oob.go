package sqlite

import (
	"context"
	"database/sql"
	"math"
	"strings"

	"github.com/klauspost/compress/zstd"

	"github.com/steveyegge/contactsdb/internal/engineerr"
	"github.com/steveyegge/contactsdb/internal/types"
)

// entropyThreshold is the Shannon entropy (bits/byte) above which a value
// is assumed already-compressed/high-entropy and not worth spending CPU on
// zstd (spec.md §4.H: "entropy-gated opportunistic compression"). English
// text and most structured data sit well below this; already-compressed
// blobs, images and random keys sit at or above it.
const entropyThreshold = 7.5

// minCompressSize is the smallest value size worth compressing at all; the
// zstd frame header overhead dominates below this.
const minCompressSize = 64

func shannonEntropy(b []byte) float64 {
	if len(b) == 0 {
		return 0
	}
	var counts [256]int
	for _, c := range b {
		counts[c]++
	}
	entropy := 0.0
	n := float64(len(b))
	for _, c := range counts {
		if c == 0 {
			continue
		}
		p := float64(c) / n
		entropy -= p * math.Log2(p)
	}
	return entropy
}

func maybeCompress(value []byte, isText bool) ([]byte, types.CompressionCode) {
	if len(value) < minCompressSize || shannonEntropy(value) >= entropyThreshold {
		return value, types.CompressionNone
	}
	enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return value, types.CompressionNone
	}
	defer enc.Close()
	compressed := enc.EncodeAll(value, nil)
	if len(compressed) >= len(value) {
		return value, types.CompressionNone
	}
	if isText {
		return compressed, types.CompressionUTF8Zstd
	}
	return compressed, types.CompressionBinaryZstd
}

func decompress(value []byte, code types.CompressionCode) ([]byte, error) {
	if code == types.CompressionNone {
		return value, nil
	}
	dec, err := zstd.NewReader(nil)
	if err != nil {
		return nil, err
	}
	defer dec.Close()
	return dec.DecodeAll(value, nil)
}

// StoreOOB implements storage.OOBStore, component H: an opaque (scope, key)
// -> value map with opportunistic compression gated on measured entropy
// rather than a fixed content-type allowlist.
func (s *Store) StoreOOB(ctx context.Context, scope string, kv map[string][]byte, isText map[string]bool) error {
	if len(kv) == 0 {
		return nil
	}
	err := s.withImmediateTx(ctx, "sqlite.StoreOOB", func(conn *sql.Conn) error {
		for k, v := range kv {
			text := isText != nil && isText[k]
			stored, code := maybeCompress(v, text)
			if _, err := conn.ExecContext(ctx, `
				INSERT INTO oob (scope, key, value, is_text, compression_code) VALUES (?, ?, ?, ?, ?)
				ON CONFLICT(scope, key) DO UPDATE SET value = excluded.value, is_text = excluded.is_text, compression_code = excluded.compression_code`,
				scope, k, stored, text, int(code)); err != nil {
				return err
			}
		}
		return nil
	})
	return engineerr.Wrap("sqlite.StoreOOB", err)
}

// FetchOOB implements storage.OOBStore.
func (s *Store) FetchOOB(ctx context.Context, scope string, keys []string) (map[string][]byte, error) {
	var rows *sql.Rows
	var err error
	if len(keys) == 0 {
		rows, err = s.db.QueryContext(ctx, `SELECT key, value, compression_code FROM oob WHERE scope = ?`, scope)
	} else {
		placeholders := strings.Repeat("?,", len(keys))
		placeholders = placeholders[:len(placeholders)-1]
		args := make([]any, 0, len(keys)+1)
		args = append(args, scope)
		for _, k := range keys {
			args = append(args, k)
		}
		rows, err = s.db.QueryContext(ctx, "SELECT key, value, compression_code FROM oob WHERE scope = ? AND key IN ("+placeholders+")", args...)
	}
	if err != nil {
		return nil, engineerr.Wrap("sqlite.FetchOOB", err)
	}
	defer rows.Close()

	out := make(map[string][]byte)
	for rows.Next() {
		var key string
		var value []byte
		var code int
		if err := rows.Scan(&key, &value, &code); err != nil {
			return nil, engineerr.Wrap("sqlite.FetchOOB", err)
		}
		plain, err := decompress(value, types.CompressionCode(code))
		if err != nil {
			return nil, engineerr.Wrap("sqlite.FetchOOB", err)
		}
		out[key] = plain
	}
	return out, rows.Err()
}

// RemoveOOB implements storage.OOBStore. A nil keys slice removes every key
// in scope (a wildcard remove).
func (s *Store) RemoveOOB(ctx context.Context, scope string, keys []string) error {
	err := s.withImmediateTx(ctx, "sqlite.RemoveOOB", func(conn *sql.Conn) error {
		if keys == nil {
			_, err := conn.ExecContext(ctx, `DELETE FROM oob WHERE scope = ?`, scope)
			return err
		}
		placeholders := strings.Repeat("?,", len(keys))
		placeholders = placeholders[:len(placeholders)-1]
		args := make([]any, 0, len(keys)+1)
		args = append(args, scope)
		for _, k := range keys {
			args = append(args, k)
		}
		_, err := conn.ExecContext(ctx, "DELETE FROM oob WHERE scope = ? AND key IN ("+placeholders+")", args...)
		return err
	})
	return engineerr.Wrap("sqlite.RemoveOOB", err)
}

// HasOOB implements the supplemented HasOOB operation (original_source).
func (s *Store) HasOOB(ctx context.Context, scope, key string) (bool, error) {
	var x int
	err := s.db.QueryRowContext(ctx, `SELECT 1 FROM oob WHERE scope = ? AND key = ?`, scope, key).Scan(&x)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, engineerr.Wrap("sqlite.HasOOB", err)
	}
	return true, nil
}
