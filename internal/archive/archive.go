// Package archive implements the single-file snapshot container.
//
// The container is a POSIX tar stream whose members are each one zstd frame.
// Appending truncates the end-of-archive trailer and writes the new member
// after the last one, so existing members are never rewritten. A container
// with a torn tail (a crash mid-append) is repaired by Rebuild, which copies
// every intact member into a fresh file.
package archive

import (
	"archive/tar"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/bamsammich/strata/internal/codec"
	"github.com/bamsammich/strata/internal/domain"
)

const blockSize = 512

// Member is one named payload, uncompressed.
type Member struct {
	Name string
	Data []byte
}

// Create writes an empty container at path, replacing any existing file.
func Create(path string) error {
	return writeFresh(path, nil)
}

// Append adds a member to the container at path, creating the container if
// it does not exist. A member with the same name already present yields
// domain.ErrAlreadyExists.
func Append(path, name string, data []byte) error {
	payload, err := codec.Compress(data)
	if err != nil {
		return err
	}

	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return fmt.Errorf("open archive: %w", err)
	}
	defer f.Close()

	names, end, scanErr := scan(f)
	for _, n := range names {
		if n == name {
			return fmt.Errorf("archive member %s: %w", name, domain.ErrAlreadyExists)
		}
	}
	if scanErr != nil {
		f.Close()
		return Rebuild(path, Member{Name: name, Data: data})
	}

	if err := f.Truncate(end); err != nil {
		return fmt.Errorf("truncate archive trailer: %w", err)
	}
	if _, err := f.Seek(end, io.SeekStart); err != nil {
		return fmt.Errorf("seek archive end: %w", err)
	}

	tw := tar.NewWriter(f)
	if err := writeMember(tw, name, payload); err != nil {
		return err
	}
	if err := tw.Close(); err != nil {
		return fmt.Errorf("close archive: %w", err)
	}
	return f.Sync()
}

// Read returns the decompressed content of the named member.
func Read(path, name string) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("archive member %s: %w", name, domain.ErrNotFound)
		}
		return nil, fmt.Errorf("open archive: %w", err)
	}
	defer f.Close()

	tr := tar.NewReader(f)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			return nil, fmt.Errorf("archive member %s: %w", name, domain.ErrNotFound)
		}
		if err != nil {
			return nil, fmt.Errorf("%w: read archive: %w", domain.ErrCorruptData, err)
		}
		if hdr.Name != name {
			continue
		}
		payload, err := io.ReadAll(tr)
		if err != nil {
			return nil, fmt.Errorf("%w: read member %s: %w", domain.ErrCorruptData, name, err)
		}
		data, err := codec.Decompress(payload)
		if err != nil {
			return nil, fmt.Errorf("%w: member %s: %w", domain.ErrCorruptData, name, err)
		}
		return data, nil
	}
}

// List returns member names in container order. A missing container has no
// members.
func List(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("open archive: %w", err)
	}
	defer f.Close()

	names, _, err := scan(f)
	if err != nil {
		return names, fmt.Errorf("%w: scan archive: %w", domain.ErrCorruptData, err)
	}
	return names, nil
}

// Rebuild rewrites the container with every intact member followed by
// extra, then atomically replaces the original. Intact members are copied
// byte for byte.
func Rebuild(path string, extra ...Member) error {
	members, err := readIntact(path)
	if err != nil {
		return err
	}
	seen := make(map[string]bool, len(members))
	for _, m := range members {
		seen[m.name] = true
	}
	for _, m := range extra {
		if seen[m.Name] {
			return fmt.Errorf("archive member %s: %w", m.Name, domain.ErrAlreadyExists)
		}
		payload, err := codec.Compress(m.Data)
		if err != nil {
			return err
		}
		members = append(members, rawMember{name: m.Name, payload: payload})
	}
	return writeFresh(path, members)
}

// rawMember is a member whose payload is still compressed.
type rawMember struct {
	name    string
	payload []byte
}

// scan walks member headers and returns their names plus the offset just
// past the last member's data, which is where the next member belongs.
func scan(f *os.File) (names []string, end int64, err error) {
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return nil, 0, err
	}
	info, err := f.Stat()
	if err != nil {
		return nil, 0, err
	}

	cr := &countingReader{r: f}
	tr := tar.NewReader(cr)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			return names, end, nil
		}
		if err != nil {
			return names, end, err
		}
		memberEnd := cr.n + padded(hdr.Size)
		if memberEnd > info.Size() {
			return names, end, io.ErrUnexpectedEOF
		}
		names = append(names, hdr.Name)
		end = memberEnd
	}
}

// readIntact returns every member whose header and data are complete,
// stopping at the first torn one.
func readIntact(path string) ([]rawMember, error) {
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("open archive: %w", err)
	}
	defer f.Close()

	var members []rawMember
	tr := tar.NewReader(f)
	for {
		hdr, err := tr.Next()
		if err != nil {
			return members, nil //nolint:nilerr // io.EOF or a torn header ends the intact prefix
		}
		payload, err := io.ReadAll(tr)
		if err != nil {
			return members, nil //nolint:nilerr // torn member data
		}
		members = append(members, rawMember{name: hdr.Name, payload: payload})
	}
}

func writeFresh(path string, members []rawMember) error {
	dir := filepath.Dir(path)
	tmpPath := filepath.Join(dir, fmt.Sprintf(".%s.%s.strata-tmp", filepath.Base(path), uuid.New().String()[:8]))

	f, err := os.OpenFile(tmpPath, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return fmt.Errorf("create temp archive: %w", err)
	}
	cleanup := func() {
		f.Close()
		os.Remove(tmpPath)
	}

	tw := tar.NewWriter(f)
	for _, m := range members {
		if err := writeMember(tw, m.name, m.payload); err != nil {
			cleanup()
			return err
		}
	}
	if err := tw.Close(); err != nil {
		cleanup()
		return fmt.Errorf("close archive: %w", err)
	}
	if err := f.Sync(); err != nil {
		cleanup()
		return fmt.Errorf("sync archive: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("close archive: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("replace archive: %w", err)
	}
	return nil
}

func writeMember(tw *tar.Writer, name string, payload []byte) error {
	hdr := &tar.Header{
		Typeflag: tar.TypeReg,
		Name:     name,
		Mode:     0o644,
		Size:     int64(len(payload)),
		ModTime:  time.Now().Truncate(time.Second),
	}
	if err := tw.WriteHeader(hdr); err != nil {
		return fmt.Errorf("write member header %s: %w", name, err)
	}
	if _, err := tw.Write(payload); err != nil {
		return fmt.Errorf("write member %s: %w", name, err)
	}
	return nil
}

func padded(n int64) int64 {
	return (n + blockSize - 1) / blockSize * blockSize
}

type countingReader struct {
	r io.Reader
	n int64
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.n += int64(n)
	return n, err
}
