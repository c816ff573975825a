package pagination

import (
	"encoding/base64"
	"encoding/binary"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

const (
	DefaultLimit = 25
	MaxLimit     = 100
)

var errCursorFormat = errors.New("invalid cursor format")

// Params carries a page request from the HTTP layer. Status optionally narrows the listing.
type Params struct {
	Limit  int
	Cursor string
	Status string
}

// Cursor is the (created_at, id) position of the last row on a page, newest first.
type Cursor struct {
	CreatedAt time.Time
	ID        uuid.UUID
}

func NormalizeLimit(limit int) int {
	if limit <= 0 {
		return DefaultLimit
	}
	return min(limit, MaxLimit)
}

// LimitWithBuffer fetches one extra row so callers can tell whether another page exists.
func LimitWithBuffer(limit int) int {
	return NormalizeLimit(limit) + 1
}

// cursorLen is 8 bytes of big-endian unix nanoseconds followed by the 16-byte id.
const cursorLen = 8 + 16

// EncodeCursor returns an opaque URL-safe token.
func EncodeCursor(cursor Cursor) string {
	buf := make([]byte, 0, cursorLen)
	buf = binary.BigEndian.AppendUint64(buf, uint64(cursor.CreatedAt.UnixNano()))
	buf = append(buf, cursor.ID[:]...)
	return base64.RawURLEncoding.EncodeToString(buf)
}

// ParseCursor decodes a token from EncodeCursor. An empty token means the first page.
func ParseCursor(value string) (*Cursor, error) {
	value = strings.TrimRight(strings.TrimSpace(value), "=")
	if value == "" {
		return nil, nil
	}
	raw, err := base64.RawURLEncoding.DecodeString(value)
	if err != nil {
		return nil, fmt.Errorf("decode cursor: %w", err)
	}
	if len(raw) != cursorLen {
		return nil, errCursorFormat
	}
	id, err := uuid.FromBytes(raw[8:])
	if err != nil || id == uuid.Nil {
		return nil, errCursorFormat
	}
	nanos := int64(binary.BigEndian.Uint64(raw[:8]))
	if nanos <= 0 {
		return nil, errCursorFormat
	}
	return &Cursor{CreatedAt: time.Unix(0, nanos).UTC(), ID: id}, nil
}

// Keyset returns the WHERE fragment selecting rows strictly after c in
// (created_at DESC, id DESC) order. A nil cursor selects everything.
func (c *Cursor) Keyset() (string, []any) {
	if c == nil {
		return "", nil
	}
	return "(created_at < ?) OR (created_at = ? AND id < ?)", []any{c.CreatedAt, c.CreatedAt, c.ID}
}

// Trim cuts a LimitWithBuffer result down to one page and reports the cursor for the next one.
func Trim[T any](rows []T, limit int, position func(T) Cursor) ([]T, *Cursor) {
	normalized := NormalizeLimit(limit)
	if len(rows) <= normalized {
		return rows, nil
	}
	rows = rows[:normalized]
	next := position(rows[len(rows)-1])
	return rows, &next
}
