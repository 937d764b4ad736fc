// Package execattr reads the attributes of an executable that crash
// tracking depends on: its stable file identity, its set-id bits and any
// tracking request embedded in the image.
package execattr

import (
	"bytes"
	"debug/elf"
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/ppiankov/segvguard/internal/model"
)

// ErrUnsupported is returned on platforms without a stable file identity.
var ErrUnsupported = errors.New("execattr: file identity not supported on this platform")

// Note layout for the embedded tracking request.
const (
	NoteName = "SegvGuard"
	NoteType = 1

	NoteFlagTrack   = 1 << 0
	NoteFlagNoTrack = 1 << 1
)

// Attributes describe one executable.
type Attributes struct {
	ID    model.FileID
	Mode  uint32 // permission and set-id bits
	SetID bool
	Opt   model.OptFlag
}

// Resolver looks up executable attributes by path. Identify returns only
// the file identity and is used on the crash and exec paths where the
// note and mode are not needed.
type Resolver interface {
	Resolve(path string) (Attributes, error)
	Identify(path string) (model.FileID, error)
}

// Inspector is the filesystem-backed Resolver.
type Inspector struct{}

// Resolve stats path and reads its tracking note. A file that is not ELF
// simply has no note.
func (Inspector) Resolve(path string) (Attributes, error) {
	attrs, err := stat(path)
	if err != nil {
		return Attributes{}, err
	}
	opt, err := ReadOptFlag(path)
	if err != nil {
		return Attributes{}, err
	}
	attrs.Opt = opt
	return attrs, nil
}

// Identify stats path and returns its file identity.
func (Inspector) Identify(path string) (model.FileID, error) {
	attrs, err := stat(path)
	if err != nil {
		return model.FileID{}, err
	}
	return attrs.ID, nil
}

// ReadOptFlag returns the tracking request recorded in the ELF note
// section of path. Non-ELF files and images without the note yield
// OptNone. Setting both flags cancels the request.
func ReadOptFlag(path string) (model.OptFlag, error) {
	f, err := elf.Open(path)
	if err != nil {
		var fe *elf.FormatError
		if errors.As(err, &fe) || errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return model.OptNone, nil
		}
		return model.OptNone, fmt.Errorf("execattr: open image: %w", err)
	}
	defer f.Close()

	for _, sec := range f.Sections {
		if sec.Type != elf.SHT_NOTE {
			continue
		}
		data, err := sec.Data()
		if err != nil {
			continue
		}
		if flags, ok := findNote(data, f.ByteOrder); ok {
			return flagsToOpt(flags), nil
		}
	}
	return model.OptNone, nil
}

func flagsToOpt(flags uint32) model.OptFlag {
	track := flags&NoteFlagTrack != 0
	notrack := flags&NoteFlagNoTrack != 0
	switch {
	case track && !notrack:
		return model.OptTrack
	case notrack && !track:
		return model.OptNoTrack
	default:
		return model.OptNone
	}
}

// findNote walks a note section looking for the tracking note and returns
// its 4-byte flags word.
func findNote(data []byte, order binary.ByteOrder) (uint32, bool) {
	for len(data) >= 12 {
		namesz := order.Uint32(data[0:4])
		descsz := order.Uint32(data[4:8])
		typ := order.Uint32(data[8:12])
		data = data[12:]

		nameLen := align4(namesz)
		descLen := align4(descsz)
		if uint64(len(data)) < nameLen+descLen {
			return 0, false
		}
		name := bytes.TrimRight(data[:namesz], "\x00")
		desc := data[nameLen : nameLen+uint64(descsz)]
		data = data[nameLen+descLen:]

		if typ == NoteType && string(name) == NoteName && len(desc) >= 4 {
			return order.Uint32(desc[:4]), true
		}
	}
	return 0, false
}

func align4(n uint32) uint64 {
	return (uint64(n) + 3) &^ 3
}
