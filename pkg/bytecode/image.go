package bytecode

import (
	"errors"
	"fmt"
	"os"

	"github.com/fxamacker/cbor/v2"
)

// A program image is a compiled Program persisted to disk: a fixed header
// (magic + format version) followed by the canonical-CBOR encoding of the
// Program. Canonical encoding keeps images byte-for-byte reproducible for
// identical programs.

const (
	imageMagic   = "TVMI"
	imageVersion = 1
)

// ---------------------------------------------------------------------------
// Image Error Types
// ---------------------------------------------------------------------------

var (
	ErrInvalidMagic    = errors.New("invalid image magic: expected TVMI")
	ErrVersionMismatch = errors.New("unsupported image version")
	ErrTruncatedImage  = errors.New("truncated image")
)

var cborEncMode cbor.EncMode

func init() {
	em, err := cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		panic(fmt.Sprintf("bytecode: failed to create CBOR enc mode: %v", err))
	}
	cborEncMode = em
}

// EncodeImage serializes a program to image bytes.
func EncodeImage(p *Program) ([]byte, error) {
	payload, err := cborEncMode.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("bytecode: encode program: %w", err)
	}
	out := make([]byte, 0, len(imageMagic)+1+len(payload))
	out = append(out, imageMagic...)
	out = append(out, imageVersion)
	out = append(out, payload...)
	return out, nil
}

// DecodeImage deserializes image bytes back into a program.
func DecodeImage(data []byte) (*Program, error) {
	if len(data) < len(imageMagic)+1 {
		return nil, ErrTruncatedImage
	}
	if string(data[:len(imageMagic)]) != imageMagic {
		return nil, ErrInvalidMagic
	}
	if data[len(imageMagic)] != imageVersion {
		return nil, fmt.Errorf("%w: got %d, want %d", ErrVersionMismatch, data[len(imageMagic)], imageVersion)
	}
	var p Program
	if err := cbor.Unmarshal(data[len(imageMagic)+1:], &p); err != nil {
		return nil, fmt.Errorf("bytecode: decode program: %w", err)
	}
	return &p, nil
}

// WriteImageFile encodes a program and writes it to path.
func WriteImageFile(path string, p *Program) error {
	data, err := EncodeImage(p)
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("bytecode: write image: %w", err)
	}
	return nil
}

// ReadImageFile reads and decodes a program image from path.
func ReadImageFile(path string) (*Program, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("bytecode: read image: %w", err)
	}
	return DecodeImage(data)
}
