package session

import (
	"bytes"
	"encoding/binary"
	"errors"
	"io"
)

// Record layout, version 1. The header fields sit at fixed offsets so the
// rotation and revocation Lua scripts can patch them in place without
// understanding the variable-length tail.
//
//	offset 0      version (1 byte)
//	offset 1..32  refresh hash (32 bytes)
//	offset 33..40 revoked-at unix (be64, 0 = active)
//	offset 41..48 created-at unix (be64)
//	offset 49..56 expires-at unix (be64)
//	offset 57..   length-prefixed strings: user ID, parent ID, child ID,
//	              IP, user agent (1-byte length each)
const (
	formatVersion = 1
	headerSize    = 57
)

// MaxFieldLen is the codec's limit for each variable-length string field
// (one-byte length prefix). Callers storing request metadata must clamp
// to it.
const MaxFieldLen = 255

func Encode(s *Session) ([]byte, error) {
	var buf bytes.Buffer

	buf.WriteByte(formatVersion)
	buf.Write(s.RefreshHash[:])

	if err := binary.Write(&buf, binary.BigEndian, s.RevokedAt); err != nil {
		return nil, err
	}
	if err := binary.Write(&buf, binary.BigEndian, s.CreatedAt); err != nil {
		return nil, err
	}
	if err := binary.Write(&buf, binary.BigEndian, s.ExpiresAt); err != nil {
		return nil, err
	}

	for _, field := range []struct {
		name  string
		value string
	}{
		{"user id", s.UserID},
		{"parent id", s.ParentID},
		{"child id", s.ChildID},
		{"ip", s.IP},
		{"user agent", s.UserAgent},
	} {
		if len(field.value) > MaxFieldLen {
			return nil, errors.New("session " + field.name + " too long")
		}
		buf.WriteByte(byte(len(field.value)))
		buf.WriteString(field.value)
	}

	return buf.Bytes(), nil
}

func Decode(data []byte) (*Session, error) {
	if len(data) < headerSize {
		return nil, errors.New("session record truncated")
	}

	reader := bytes.NewReader(data)

	version, err := reader.ReadByte()
	if err != nil {
		return nil, err
	}
	if version != formatVersion {
		return nil, errors.New("invalid session record version")
	}

	s := &Session{}
	if _, err := io.ReadFull(reader, s.RefreshHash[:]); err != nil {
		return nil, err
	}
	if err := binary.Read(reader, binary.BigEndian, &s.RevokedAt); err != nil {
		return nil, err
	}
	if err := binary.Read(reader, binary.BigEndian, &s.CreatedAt); err != nil {
		return nil, err
	}
	if err := binary.Read(reader, binary.BigEndian, &s.ExpiresAt); err != nil {
		return nil, err
	}

	for _, target := range []*string{&s.UserID, &s.ParentID, &s.ChildID, &s.IP, &s.UserAgent} {
		length, err := reader.ReadByte()
		if err != nil {
			return nil, err
		}
		raw := make([]byte, length)
		if _, err := io.ReadFull(reader, raw); err != nil {
			return nil, err
		}
		*target = string(raw)
	}

	return s, nil
}
