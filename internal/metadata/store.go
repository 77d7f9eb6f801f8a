package metadata

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/afero"

	parser "github.com/deploymenttheory/go-dynpart/internal/parsers/metadata"
	"github.com/deploymenttheory/go-dynpart/internal/types"
)

// FileStore reads and writes metadata on super devices or image files.
type FileStore struct {
	fs   afero.Fs
	opts UpdateOptions
	log  logrus.FieldLogger
}

// NewFileStore creates a store. opts.KeepSource is ignored; it is chosen per call.
func NewFileStore(fs afero.Fs, opts UpdateOptions, log logrus.FieldLogger) *FileStore {
	if fs == nil {
		fs = afero.NewOsFs()
	}
	if log == nil {
		log = discardLogger()
	}
	return &FileStore{fs: fs, opts: opts, log: log}
}

func readAt(f afero.File, size int, off int64) ([]byte, error) {
	buf := make([]byte, size)
	// short devices read as zeroes and fail magic checks
	_, err := f.ReadAt(buf, off)
	if err != nil && !errors.Is(err, io.EOF) && !errors.Is(err, io.ErrUnexpectedEOF) {
		return nil, err
	}
	return buf, nil
}

// ReadGeometry reads the primary geometry, falling back to the backup copy.
func (s *FileStore) ReadGeometry(device string) (types.Geometry, error) {
	f, err := s.fs.Open(device)
	if err != nil {
		return types.Geometry{}, fmt.Errorf("open %s: %w", device, err)
	}
	defer f.Close()
	return readGeometry(f)
}

func readGeometry(f afero.File) (types.Geometry, error) {
	var firstErr error
	for _, off := range []int64{types.ReservedBytes, types.ReservedBytes + types.GeometrySize} {
		data, err := readAt(f, types.GeometrySize, off)
		if err != nil {
			return types.Geometry{}, err
		}
		g, err := parser.ParseGeometry(data)
		if err == nil {
			return g, nil
		}
		if firstErr == nil {
			firstErr = err
		}
	}
	if errors.Is(firstErr, parser.ErrBadMagic) {
		return types.Geometry{}, fmt.Errorf("%w: %v", ErrNoMetadata, firstErr)
	}
	return types.Geometry{}, firstErr
}

// ReadMetadata reads the metadata for slot, trying the primary then the backup copy.
func (s *FileStore) ReadMetadata(device string, slot types.Slot) (*types.Metadata, error) {
	f, err := s.fs.Open(device)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", device, err)
	}
	defer f.Close()

	g, err := readGeometry(f)
	if err != nil {
		return nil, err
	}
	if uint32(slot) >= g.MetadataSlotCount {
		return nil, fmt.Errorf("slot %s out of range for %d metadata slots", slot, g.MetadataSlotCount)
	}

	var errs []error
	for _, off := range []int64{g.PrimaryMetadataOffset(slot), g.BackupMetadataOffset(slot)} {
		data, err := readAt(f, int(g.MetadataMaxSize), off)
		if err != nil {
			return nil, err
		}
		m, err := parser.ParseMetadata(data, g)
		if err == nil {
			return m, nil
		}
		errs = append(errs, err)
	}
	if errors.Is(errs[0], parser.ErrBadMagic) && errors.Is(errs[1], parser.ErrBadMagic) {
		return nil, fmt.Errorf("%w in slot %s of %s", ErrNoMetadata, slot, device)
	}
	s.log.WithFields(logrus.Fields{"device": device, "slot": slot.String()}).Error("metadata copies are corrupted")
	return nil, errors.Join(errs...)
}

// Load returns a builder for the metadata stored at slot.
func (s *FileStore) Load(device string, slot types.Slot) (*Builder, error) {
	m, err := s.ReadMetadata(device, slot)
	if err != nil {
		return nil, err
	}
	b, err := NewFromMetadata(m)
	if err != nil {
		return nil, err
	}
	b.SetLogger(s.log)
	return b, nil
}

// LoadForUpdate returns a builder spanning source and target slots.
func (s *FileStore) LoadForUpdate(device string, source, target types.Slot, keepSource bool) (*Builder, error) {
	m, err := s.ReadMetadata(device, source)
	if err != nil {
		return nil, err
	}
	opts := s.opts
	opts.KeepSource = keepSource
	b, err := NewForUpdate(m, source, target, opts)
	if err != nil {
		return nil, err
	}
	b.SetLogger(s.log)
	return b, nil
}

func (s *FileStore) openForWrite(device string) (afero.File, error) {
	f, err := s.fs.OpenFile(device, os.O_RDWR, 0)
	if err != nil {
		return nil, fmt.Errorf("open %s for writing: %w", device, err)
	}
	return f, nil
}

func encode(b *Builder) ([]byte, types.Geometry, error) {
	m, err := b.Export()
	if err != nil {
		return nil, types.Geometry{}, fmt.Errorf("export metadata: %w", err)
	}
	data, err := parser.EncodeMetadata(m)
	if err != nil {
		return nil, types.Geometry{}, fmt.Errorf("encode metadata: %w", err)
	}
	return data, m.Geometry, nil
}

func writeSlot(f afero.File, g types.Geometry, slot types.Slot, data []byte) error {
	padded := make([]byte, g.MetadataMaxSize)
	copy(padded, data)
	if _, err := f.WriteAt(padded, g.PrimaryMetadataOffset(slot)); err != nil {
		return fmt.Errorf("write primary metadata for slot %s: %w", slot, err)
	}
	if _, err := f.WriteAt(padded, g.BackupMetadataOffset(slot)); err != nil {
		return fmt.Errorf("write backup metadata for slot %s: %w", slot, err)
	}
	return nil
}

// Flash writes the geometry and the table to every metadata slot.
func (s *FileStore) Flash(device string, b *Builder) error {
	data, g, err := encode(b)
	if err != nil {
		return err
	}
	f, err := s.openForWrite(device)
	if err != nil {
		return err
	}
	defer f.Close()

	geometry := parser.EncodeGeometry(g)
	if _, err := f.WriteAt(make([]byte, types.ReservedBytes), 0); err != nil {
		return fmt.Errorf("write reserved area: %w", err)
	}
	if _, err := f.WriteAt(geometry, types.ReservedBytes); err != nil {
		return fmt.Errorf("write primary geometry: %w", err)
	}
	if _, err := f.WriteAt(geometry, types.ReservedBytes+types.GeometrySize); err != nil {
		return fmt.Errorf("write backup geometry: %w", err)
	}
	for slot := types.Slot(0); uint32(slot) < g.MetadataSlotCount; slot++ {
		if err := writeSlot(f, g, slot, data); err != nil {
			return err
		}
	}
	s.log.WithFields(logrus.Fields{"device": device, "size": len(data)}).Info("flashed partition table")
	return f.Sync()
}

// Update writes the table into one metadata slot of an already formatted device.
func (s *FileStore) Update(device string, b *Builder, slot types.Slot) error {
	data, g, err := encode(b)
	if err != nil {
		return err
	}
	f, err := s.openForWrite(device)
	if err != nil {
		return err
	}
	defer f.Close()

	current, err := readGeometry(f)
	if err != nil {
		return fmt.Errorf("read geometry of %s: %w", device, err)
	}
	if current != g {
		return fmt.Errorf("%w: device has %+v, table has %+v", ErrGeometryMismatch, current, g)
	}
	if uint32(slot) >= g.MetadataSlotCount {
		return fmt.Errorf("slot %s out of range for %d metadata slots", slot, g.MetadataSlotCount)
	}
	if err := writeSlot(f, g, slot, data); err != nil {
		return err
	}
	s.log.WithFields(logrus.Fields{"device": device, "slot": slot.String(), "size": len(data)}).Info("updated partition table")
	return f.Sync()
}
