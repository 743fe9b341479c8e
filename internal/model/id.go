package model

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

type IDType string

const (
	IDTypeSequence IDType = "seq"
	IDTypeImage    IDType = "img"
)

var validIDTypes = map[IDType]bool{
	IDTypeSequence: true,
	IDTypeImage:    true,
}

// GenerateID returns a sortable identifier: <type>_<UTC timestamp>_<uuid prefix>.
func GenerateID(idType IDType, t time.Time) (string, error) {
	if !validIDTypes[idType] {
		return "", fmt.Errorf("invalid ID type: %s", idType)
	}
	u, err := uuid.NewRandom()
	if err != nil {
		return "", fmt.Errorf("generate uuid: %w", err)
	}
	short := strings.ReplaceAll(u.String(), "-", "")[:8]
	return fmt.Sprintf("%s_%s_%s", idType, FlattenTime(t), short), nil
}

// FlattenTime formats t as the timestamp part of an ID.
func FlattenTime(t time.Time) string {
	return t.UTC().Format("20060102T150405")
}
